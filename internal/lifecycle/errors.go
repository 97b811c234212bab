package lifecycle

import (
	"fmt"
	"net/http"
)

// OAuth2 error codes surfaced to clients.
const (
	ErrorInvalidGrant   = "invalid_grant"
	ErrorInvalidRequest = "invalid_request"
	ErrorServerError    = "server_error"
)

// Rejection wording, kept verbatim across grant kinds so replayed codes and
// refresh tokens are indistinguishable from expired ones.
const (
	descriptionInvalidCode    = "The specified authorization code is no longer valid."
	descriptionInvalidRefresh = "The specified refresh token is no longer valid."
)

// OAuthError is an expected, user-facing rejection that maps onto an OAuth2
// error response.
type OAuthError struct {
	Code        string
	Description string
	Status      int
}

func (e *OAuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func newOAuthError(code, description string) *OAuthError {
	return &OAuthError{Code: code, Description: description, Status: http.StatusBadRequest}
}

// ConfigurationError is a fatal caller or configuration bug: an
// unauthenticated principal reaching sign-in, or an option combination the
// engine cannot honor. It is never converted into an OAuth response.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "keystone: " + e.Reason
}
