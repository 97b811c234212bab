package domain

import (
	"strings"
	"time"
)

// PublicPropertyPrefix marks ticket properties that must be copied onto the
// response instead of being persisted inside the issued tokens.
const PublicPropertyPrefix = "public."

// Ticket carries the authenticated principal and grant context for a single
// request. It lives only for the duration of one orchestration; its durable
// projection is the Token/Authorization pair.
type Ticket struct {
	Subject       string
	Authenticated bool
	ClientID      string
	Scopes        []string
	// RequestedScopes are the raw scopes the client asked for, kept separate
	// so scope defaulting never widens what was actually granted.
	RequestedScopes []string
	Nonce           string
	RedirectURI     string
	Properties      map[string]string

	// ExpiresAt is the deadline carried inside an encoded ticket. For stored
	// tokens the record's expiry supersedes it; for self-contained tokens it
	// is the only deadline there is. Zero means unknown.
	ExpiresAt time.Time

	// InternalTokenID and InternalAuthorizationID thread a code or refresh
	// exchange back to the records it originated from. Zero means unlinked.
	InternalTokenID         int64
	InternalAuthorizationID int64
}

// HasScope reports whether the granted scope set contains scope.
func (t *Ticket) HasScope(scope string) bool {
	for _, s := range t.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// HasRequestedScope reports whether the client asked for scope.
func (t *Ticket) HasRequestedScope(scope string) bool {
	for _, s := range t.RequestedScopes {
		if s == scope {
			return true
		}
	}
	return false
}

// SetProperty stores an arbitrary property on the ticket.
func (t *Ticket) SetProperty(key, value string) {
	if t.Properties == nil {
		t.Properties = make(map[string]string)
	}
	t.Properties[key] = value
}

// ExtractPublicProperties removes every property carrying the public prefix
// and returns them keyed by their bare parameter name, so they can be added
// to the response without being persisted inside the issued tokens.
func (t *Ticket) ExtractPublicProperties() map[string]string {
	var params map[string]string
	for key, value := range t.Properties {
		if !strings.HasPrefix(key, PublicPropertyPrefix) {
			continue
		}
		if params == nil {
			params = make(map[string]string)
		}
		params[strings.TrimPrefix(key, PublicPropertyPrefix)] = value
		delete(t.Properties, key)
	}
	return params
}
