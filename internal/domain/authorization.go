package domain

import "time"

// AuthorizationType distinguishes explicit consents from the ad hoc records
// created implicitly to anchor codes and refresh tokens.
type AuthorizationType string

const (
	AuthorizationPermanent AuthorizationType = "permanent"
	AuthorizationAdHoc     AuthorizationType = "ad_hoc"
)

// AuthorizationStatus is the persisted state of an authorization.
type AuthorizationStatus string

const (
	AuthorizationValid   AuthorizationStatus = "valid"
	AuthorizationRevoked AuthorizationStatus = "revoked"
)

// Authorization is the standing consent linking a subject, a client and a
// scope set across possibly many tokens. Ad hoc authorizations exist only to
// anchor tokens and are pruned once no live token references them.
type Authorization struct {
	ID         int64
	Subject    string
	ClientID   string
	Type       AuthorizationType
	Status     AuthorizationStatus
	Scopes     []string
	Properties map[string]string
	CreatedAt  time.Time
}
