package domain

import "time"

// TokenKind identifies the artifact a token record represents.
type TokenKind string

const (
	KindAuthorizationCode TokenKind = "authorization_code"
	KindAccessToken       TokenKind = "access_token"
	KindRefreshToken      TokenKind = "refresh_token"
)

// TokenStatus is the persisted lifecycle state of a token. Transitions are
// monotone: once a token leaves Valid it never returns.
type TokenStatus string

const (
	TokenValid    TokenStatus = "valid"
	TokenRedeemed TokenStatus = "redeemed"
	TokenRevoked  TokenStatus = "revoked"
	TokenExpired  TokenStatus = "expired"
)

// Token persists one issued artifact: an authorization code, an access token
// or a refresh token. The Payload column is opaque to the lifecycle engine
// and owned by the jwt package.
type Token struct {
	ID              int64
	Kind            TokenKind
	Status          TokenStatus
	Subject         string
	ClientID        string
	AuthorizationID int64
	Reference       string
	Payload         string
	Scopes          []string
	ExpiresAt       time.Time
	CreatedAt       time.Time
}

// IsExpired reports whether the token's expiration timestamp has passed.
func (t Token) IsExpired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && now.After(t.ExpiresAt)
}
