package handler

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/trentmillar/keystone-net/internal/http/middleware"
	"github.com/trentmillar/keystone-net/internal/lifecycle"
	"github.com/trentmillar/keystone-net/internal/service"
)

// OAuthHandler serves the OAuth2/OIDC endpoints.
type OAuthHandler struct {
	Grants    *service.GrantService
	Discovery *service.DiscoveryService
}

// NewOAuthHandler creates the handler set.
func NewOAuthHandler(grants *service.GrantService, discovery *service.DiscoveryService) *OAuthHandler {
	return &OAuthHandler{Grants: grants, Discovery: discovery}
}

// Token handles OAuth token grant exchanges.
func (h *OAuthHandler) Token(c *gin.Context) {
	var req struct {
		GrantType    string `form:"grant_type" binding:"required"`
		ClientID     string `form:"client_id"`
		ClientSecret string `form:"client_secret"`
		Username     string `form:"username"`
		Password     string `form:"password"`
		Scope        string `form:"scope"`
		RefreshToken string `form:"refresh_token"`
		Code         string `form:"code"`
		RedirectURI  string `form:"redirect_uri"`
	}
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid token request."})
		return
	}

	var (
		resp *service.TokenResponse
		err  error
	)

	switch strings.ToLower(req.GrantType) {
	case "password":
		resp, err = h.Grants.PasswordGrant(c.Request.Context(), req.ClientID, req.ClientSecret, req.Username, req.Password, req.Scope)
	case "authorization_code":
		resp, err = h.Grants.AuthorizationCodeGrant(c.Request.Context(), req.ClientID, req.ClientSecret, req.Code, req.RedirectURI)
	case "refresh_token":
		resp, err = h.Grants.RefreshGrant(c.Request.Context(), req.ClientID, req.ClientSecret, req.RefreshToken)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported_grant_type", "error_description": "Unsupported grant type."})
		return
	}

	if err != nil {
		respondError(c, err)
		return
	}
	renderTokenResponse(c, resp)
}

// Authorize issues an authorization code and redirects back to the client.
func (h *OAuthHandler) Authorize(c *gin.Context) {
	subject, ok := middleware.GetSubject(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Authentication required."})
		return
	}
	userID, err := strconv.ParseInt(subject, 10, 64)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Invalid subject."})
		return
	}

	req := service.AuthorizeRequest{
		ClientID:     c.Query("client_id"),
		RedirectURI:  c.Query("redirect_uri"),
		ResponseType: c.DefaultQuery("response_type", "code"),
		Scope:        c.Query("scope"),
		State:        c.Query("state"),
		Nonce:        c.Query("nonce"),
	}

	result, err := h.Grants.Authorize(c.Request.Context(), req, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	redirect, err := url.Parse(result.RedirectURI)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid redirect_uri."})
		return
	}
	query := redirect.Query()
	query.Set("code", result.Code)
	if result.State != "" {
		query.Set("state", result.State)
	}
	for key, value := range result.Parameters {
		query.Set(key, value)
	}
	redirect.RawQuery = query.Encode()
	c.Redirect(http.StatusFound, redirect.String())
}

// Revoke handles RFC 7009 token revocation.
func (h *OAuthHandler) Revoke(c *gin.Context) {
	var req struct {
		Token         string `form:"token" binding:"required"`
		TokenTypeHint string `form:"token_type_hint"`
		ClientID      string `form:"client_id"`
		ClientSecret  string `form:"client_secret"`
	}
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "token is required."})
		return
	}

	if err := h.Grants.Revoke(c.Request.Context(), req.ClientID, req.ClientSecret, req.Token, req.TokenTypeHint); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

// Introspect handles RFC 7662 token introspection.
func (h *OAuthHandler) Introspect(c *gin.Context) {
	var req struct {
		Token string `form:"token" binding:"required"`
	}
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "token is required."})
		return
	}

	resp, err := h.Grants.Introspect(c.Request.Context(), req.Token)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Logout records the sign-out for the authenticated subject.
func (h *OAuthHandler) Logout(c *gin.Context) {
	subject, _ := middleware.GetSubject(c)
	clientID := c.PostForm("client_id")

	params := h.Grants.SignOut(c.Request.Context(), subject, clientID, nil)
	body := gin.H{}
	for key, value := range params {
		body[key] = value
	}
	c.JSON(http.StatusOK, body)
}

// OpenIDConfig returns the OpenID discovery document.
func (h *OAuthHandler) OpenIDConfig(c *gin.Context) {
	c.JSON(http.StatusOK, h.Discovery.OpenIDConfigurationResponse(schemeOnly(c), c.Request.Host))
}

// JWKS exposes the issuer public key set.
func (h *OAuthHandler) JWKS(c *gin.Context) {
	jwks, err := h.Grants.JWKS(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": err.Error()})
		return
	}
	c.JSON(http.StatusOK, jwks)
}

// renderTokenResponse merges the lifted public parameters into the response
// body alongside the standard token fields.
func renderTokenResponse(c *gin.Context, resp *service.TokenResponse) {
	body := gin.H{
		"access_token": resp.AccessToken,
		"token_type":   resp.TokenType,
		"expires_in":   resp.ExpiresIn,
	}
	if resp.RefreshToken != "" {
		body["refresh_token"] = resp.RefreshToken
	}
	if resp.IDToken != "" {
		body["id_token"] = resp.IDToken
	}
	if resp.Scope != "" {
		body["scope"] = resp.Scope
	}
	for key, value := range resp.Parameters {
		if _, exists := body[key]; !exists {
			body[key] = value
		}
	}
	c.JSON(http.StatusOK, body)
}

func respondError(c *gin.Context, err error) {
	if oauthErr, ok := err.(*lifecycle.OAuthError); ok {
		status := oauthErr.Status
		if status == 0 {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": oauthErr.Code, "error_description": oauthErr.Description})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "An internal error occurred."})
}

func schemeOnly(c *gin.Context) string {
	if proto := c.GetHeader("X-Forwarded-Proto"); proto != "" {
		return proto
	}
	if c.Request.TLS != nil {
		return "https"
	}
	return "http"
}
