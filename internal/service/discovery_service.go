package service

import "fmt"

// DiscoveryService builds responses for discovery endpoints.
type DiscoveryService struct{}

// OpenIDConfiguration matches the OIDC discovery document.
type OpenIDConfiguration struct {
	Issuer                           string   `json:"issuer"`
	AuthorizationEndpoint            string   `json:"authorization_endpoint"`
	TokenEndpoint                    string   `json:"token_endpoint"`
	RevocationEndpoint               string   `json:"revocation_endpoint"`
	IntrospectionEndpoint            string   `json:"introspection_endpoint"`
	EndSessionEndpoint               string   `json:"end_session_endpoint"`
	JWKSURI                          string   `json:"jwks_uri"`
	GrantTypesSupported              []string `json:"grant_types_supported"`
	ResponseTypesSupported           []string `json:"response_types_supported"`
	SubjectTypesSupported            []string `json:"subject_types_supported"`
	IDTokenSigningAlgValuesSupported []string `json:"id_token_signing_alg_values_supported"`
	ScopesSupported                  []string `json:"scopes_supported"`
	TokenEndpointAuthMethods         []string `json:"token_endpoint_auth_methods_supported"`
	ClaimsSupported                  []string `json:"claims_supported"`
}

// OpenIDConfigurationResponse builds the OIDC document using the request host.
func (s *DiscoveryService) OpenIDConfigurationResponse(scheme, host string) OpenIDConfiguration {
	issuer := fmt.Sprintf("%s://%s", scheme, host)
	return OpenIDConfiguration{
		Issuer:                           issuer,
		AuthorizationEndpoint:            issuer + "/oauth/authorize",
		TokenEndpoint:                    issuer + "/oauth/token",
		RevocationEndpoint:               issuer + "/oauth/revoke",
		IntrospectionEndpoint:            issuer + "/oauth/introspect",
		EndSessionEndpoint:               issuer + "/oauth/logout",
		JWKSURI:                          issuer + "/.well-known/jwks.json",
		GrantTypesSupported:              []string{"authorization_code", "refresh_token", "password"},
		ResponseTypesSupported:           []string{"code"},
		SubjectTypesSupported:            []string{"public"},
		IDTokenSigningAlgValuesSupported: []string{"HS256"},
		ScopesSupported:                  []string{"openid", "profile", "email", "offline_access"},
		TokenEndpointAuthMethods:         []string{"client_secret_post"},
		ClaimsSupported:                  []string{"sub", "email", "email_verified", "name", "nonce"},
	}
}
