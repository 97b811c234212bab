package domain

import (
	"strings"
	"time"
)

// Client describes a registered OAuth client application.
type Client struct {
	ID           int64
	ClientID     string
	ClientSecret string
	RedirectURIs []string
	GrantTypes   []string
	Scopes       []string
	CreatedAt    time.Time
}

// AllowsRedirectURI reports whether uri matches one of the registered
// redirect URIs. Comparison is case-insensitive, matching how issuers treat
// host names.
func (c Client) AllowsRedirectURI(uri string) bool {
	cleaned := strings.TrimSpace(uri)
	if cleaned == "" {
		return false
	}
	for _, allowed := range c.RedirectURIs {
		if strings.EqualFold(strings.TrimSpace(allowed), cleaned) {
			return true
		}
	}
	return false
}
