package service

// TokenResponse matches the OAuth2 token endpoint response shape. Parameters
// carries the ticket's public properties; the handler merges them into the
// rendered JSON body.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope,omitempty"`

	Parameters map[string]string `json:"-"`
}

// IntrospectionResponse matches RFC 7662.
type IntrospectionResponse struct {
	Active    bool   `json:"active"`
	Scope     string `json:"scope,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	Subject   string `json:"sub,omitempty"`
	TokenType string `json:"token_type,omitempty"`
	ExpiresAt int64  `json:"exp,omitempty"`
	IssuedAt  int64  `json:"iat,omitempty"`
}

// AuthorizeRequest carries the validated query parameters of an
// authorization request.
type AuthorizeRequest struct {
	ClientID     string
	RedirectURI  string
	ResponseType string
	Scope        string
	State        string
	Nonce        string
}

// AuthorizeResult is the code issuance outcome the handler turns into a
// redirect.
type AuthorizeResult struct {
	Code        string
	State       string
	RedirectURI string

	Parameters map[string]string
}
