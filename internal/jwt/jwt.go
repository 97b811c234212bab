package jwt

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	gojose "github.com/go-jose/go-jose/v4"
	gojwt "github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"

	"github.com/trentmillar/keystone-net/internal/domain"
)

// Generator is responsible for signing and validating JWTs.
type Generator struct {
	keys      *KeyManager
	issuer    string
	accessTTL time.Duration
}

// NewGenerator constructs a JWT generator.
func NewGenerator(manager *KeyManager, issuer string, accessTTL time.Duration) *Generator {
	return &Generator{keys: manager, issuer: issuer, accessTTL: accessTTL}
}

// AccessTokenClaims represent the JWT payload for access tokens.
type AccessTokenClaims struct {
	ClientID string `json:"client_id"`
	Scope    string `json:"scope"`
}

// IdentityTokenClaims represent the JWT payload for identity tokens.
type IdentityTokenClaims struct {
	Nonce         string `json:"nonce,omitempty"`
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"email_verified,omitempty"`
	Name          string `json:"name,omitempty"`
}

func (g *Generator) signer(ctx context.Context) (gojose.Signer, domain.SigningKey, error) {
	key, err := g.keys.EnsureSigningKey(ctx)
	if err != nil {
		return nil, domain.SigningKey{}, fmt.Errorf("ensure signing key: %w", err)
	}
	signer, err := gojose.NewSigner(
		gojose.SigningKey{Algorithm: gojose.SignatureAlgorithm(key.Algorithm), Key: key.Secret},
		(&gojose.SignerOptions{}).WithType("JWT").WithHeader("kid", key.KID))
	if err != nil {
		return nil, domain.SigningKey{}, fmt.Errorf("new signer: %w", err)
	}
	return signer, key, nil
}

// GenerateAccessToken produces a signed access token for the ticket. The jti
// claim carries the token record id so introspection can find the record.
func (g *Generator) GenerateAccessToken(ctx context.Context, ticket *domain.Ticket, tokenID int64) (string, error) {
	signer, _, err := g.signer(ctx)
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	stdClaims := gojwt.Claims{
		ID:        strconv.FormatInt(tokenID, 10),
		Subject:   ticket.Subject,
		Audience:  gojwt.Audience{ticket.ClientID},
		Issuer:    g.issuer,
		IssuedAt:  gojwt.NewNumericDate(now),
		Expiry:    gojwt.NewNumericDate(now.Add(g.accessTTL)),
		NotBefore: gojwt.NewNumericDate(now),
	}

	custom := AccessTokenClaims{
		ClientID: ticket.ClientID,
		Scope:    strings.Join(ticket.Scopes, " "),
	}

	token, err := gojwt.Signed(signer).Claims(stdClaims).Claims(custom).Serialize()
	if err != nil {
		return "", fmt.Errorf("serialize jwt: %w", err)
	}
	return token, nil
}

// GenerateIdentityToken produces a signed id_token echoing the request nonce.
func (g *Generator) GenerateIdentityToken(ctx context.Context, ticket *domain.Ticket, user domain.User) (string, error) {
	signer, _, err := g.signer(ctx)
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	stdClaims := gojwt.Claims{
		ID:        uuid.NewString(),
		Subject:   ticket.Subject,
		Audience:  gojwt.Audience{ticket.ClientID},
		Issuer:    g.issuer,
		IssuedAt:  gojwt.NewNumericDate(now),
		Expiry:    gojwt.NewNumericDate(now.Add(g.accessTTL)),
		NotBefore: gojwt.NewNumericDate(now),
	}

	custom := IdentityTokenClaims{
		Nonce:         ticket.Nonce,
		Email:         user.Email,
		EmailVerified: user.EmailVerified,
		Name:          user.Name,
	}

	token, err := gojwt.Signed(signer).Claims(stdClaims).Claims(custom).Serialize()
	if err != nil {
		return "", fmt.Errorf("serialize id token: %w", err)
	}
	return token, nil
}

// ValidateAccessToken ensures the token is valid and returns its claims.
func (g *Generator) ValidateAccessToken(ctx context.Context, token string) (*gojwt.Claims, *AccessTokenClaims, error) {
	key, err := g.keys.ActiveKey(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load key: %w", err)
	}

	allowed := []gojose.SignatureAlgorithm{gojose.SignatureAlgorithm(key.Algorithm)}
	parsed, err := gojwt.ParseSigned(token, allowed)
	if err != nil {
		return nil, nil, fmt.Errorf("parse token: %w", err)
	}

	var std gojwt.Claims
	var custom AccessTokenClaims
	if err := parsed.Claims(key.Secret, &std, &custom); err != nil {
		return nil, nil, fmt.Errorf("verify token: %w", err)
	}

	if err := std.Validate(gojwt.Expected{Issuer: g.issuer}); err != nil {
		return nil, nil, fmt.Errorf("validate claims: %w", err)
	}
	return &std, &custom, nil
}

// ticketClaims is the persisted projection of a ticket inside a code or
// refresh token payload.
type ticketClaims struct {
	ClientID        string            `json:"client_id"`
	Scopes          []string          `json:"scopes,omitempty"`
	RequestedScopes []string          `json:"requested_scopes,omitempty"`
	Nonce           string            `json:"nonce,omitempty"`
	RedirectURI     string            `json:"redirect_uri,omitempty"`
	Properties      map[string]string `json:"properties,omitempty"`
	TokenID         int64             `json:"token_id,string"`
	AuthorizationID int64             `json:"authorization_id,string,omitempty"`
}

// EncodeTicket serializes the ticket into the opaque payload stored behind a
// code or refresh token reference.
func (g *Generator) EncodeTicket(ctx context.Context, ticket *domain.Ticket, expiry time.Time) (string, error) {
	signer, _, err := g.signer(ctx)
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	stdClaims := gojwt.Claims{
		ID:        uuid.NewString(),
		Subject:   ticket.Subject,
		Issuer:    g.issuer,
		IssuedAt:  gojwt.NewNumericDate(now),
		Expiry:    gojwt.NewNumericDate(expiry),
		NotBefore: gojwt.NewNumericDate(now),
	}

	custom := ticketClaims{
		ClientID:        ticket.ClientID,
		Scopes:          ticket.Scopes,
		RequestedScopes: ticket.RequestedScopes,
		Nonce:           ticket.Nonce,
		RedirectURI:     ticket.RedirectURI,
		Properties:      ticket.Properties,
		TokenID:         ticket.InternalTokenID,
		AuthorizationID: ticket.InternalAuthorizationID,
	}

	payload, err := gojwt.Signed(signer).Claims(stdClaims).Claims(custom).Serialize()
	if err != nil {
		return "", fmt.Errorf("serialize ticket: %w", err)
	}
	return payload, nil
}

// DecodeTicket verifies a stored payload and rebuilds the ticket it carries.
// The embedded expiry is surfaced on the ticket but not enforced here: for
// stored tokens the record's lifecycle state is authoritative, and sliding
// expiration legitimately moves a record's deadline past the encoded one.
// Callers holding a self-contained token must check ExpiresAt themselves.
func (g *Generator) DecodeTicket(ctx context.Context, payload string) (*domain.Ticket, error) {
	key, err := g.keys.ActiveKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("load key: %w", err)
	}

	allowed := []gojose.SignatureAlgorithm{gojose.SignatureAlgorithm(key.Algorithm)}
	parsed, err := gojwt.ParseSigned(payload, allowed)
	if err != nil {
		return nil, fmt.Errorf("parse ticket: %w", err)
	}

	var std gojwt.Claims
	var custom ticketClaims
	if err := parsed.Claims(key.Secret, &std, &custom); err != nil {
		return nil, fmt.Errorf("verify ticket: %w", err)
	}

	ticket := &domain.Ticket{
		Subject:                 std.Subject,
		Authenticated:           true,
		ClientID:                custom.ClientID,
		Scopes:                  custom.Scopes,
		RequestedScopes:         custom.RequestedScopes,
		Nonce:                   custom.Nonce,
		RedirectURI:             custom.RedirectURI,
		Properties:              custom.Properties,
		InternalTokenID:         custom.TokenID,
		InternalAuthorizationID: custom.AuthorizationID,
	}
	if std.Expiry != nil {
		ticket.ExpiresAt = std.Expiry.Time().UTC()
	}
	return ticket, nil
}
