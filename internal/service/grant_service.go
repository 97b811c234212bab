package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	gojose "github.com/go-jose/go-jose/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/trentmillar/keystone-net/internal/config"
	"github.com/trentmillar/keystone-net/internal/domain"
	"github.com/trentmillar/keystone-net/internal/jwt"
	"github.com/trentmillar/keystone-net/internal/lifecycle"
	pw "github.com/trentmillar/keystone-net/internal/password"
	"github.com/trentmillar/keystone-net/internal/repository"
)

// GrantService fronts the token, authorization, revocation and introspection
// endpoints. Grant validation and token state transitions are delegated to
// the lifecycle engine; this layer owns client authentication, token
// signing and persistence of the issued records.
type GrantService struct {
	users          repository.UserRepository
	tokens         repository.TokenRepository
	authorizations repository.AuthorizationRepository
	clients        repository.ClientRepository
	node           *snowflake.Node
	jwt            *jwt.Generator
	keys           *jwt.KeyManager
	engine         *lifecycle.Orchestrator
	opts           lifecycle.Options
	cfg            config.Config
	logger         *zap.Logger
	tracer         trace.Tracer
}

// NewGrantService wires dependencies.
func NewGrantService(users repository.UserRepository, tokens repository.TokenRepository, authorizations repository.AuthorizationRepository, clients repository.ClientRepository, node *snowflake.Node, generator *jwt.Generator, keys *jwt.KeyManager, engine *lifecycle.Orchestrator, cfg config.Config, logger *zap.Logger) *GrantService {
	return &GrantService{
		users:          users,
		tokens:         tokens,
		authorizations: authorizations,
		clients:        clients,
		node:           node,
		jwt:            generator,
		keys:           keys,
		engine:         engine,
		opts:           cfg.LifecycleOptions(),
		cfg:            cfg,
		logger:         logger,
		tracer:         otel.Tracer("github.com/trentmillar/keystone-net/internal/service"),
	}
}

// PasswordGrant authenticates the user with email/password and issues tokens.
func (s *GrantService) PasswordGrant(ctx context.Context, clientID, clientSecret, email, password, scope string) (*TokenResponse, error) {
	ctx, span := s.startSpan(ctx, "GrantService.PasswordGrant")
	defer span.End()

	client, oauthErr := s.authenticateClient(ctx, clientID, clientSecret)
	if oauthErr != nil {
		return nil, oauthErr
	}

	normalized := strings.ToLower(strings.TrimSpace(email))
	user, err := s.users.GetByEmail(ctx, normalized)
	if err != nil {
		span.RecordError(err)
		return nil, newOAuthError(lifecycle.ErrorInvalidGrant, "Wrong email or password.")
	}

	valid, err := pw.Verify(password, user.PasswordHash)
	if err != nil || !valid {
		span.RecordError(errors.New("invalid password"))
		return nil, newOAuthError(lifecycle.ErrorInvalidGrant, "Wrong email or password.")
	}

	requested := strings.Fields(scope)
	ticket := &domain.Ticket{
		Subject:         strconv.FormatInt(user.ID, 10),
		Authenticated:   true,
		ClientID:        client.ClientID,
		Scopes:          requested,
		RequestedScopes: requested,
	}

	outcome, err := s.engine.ProcessSignIn(ctx, ticket, lifecycle.RequestPassword, s.opts)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("process password sign-in: %w", err)
	}
	if outcome.Rejected() {
		return nil, outcome.Error
	}

	resp, err := s.issueTokens(ctx, ticket, user, outcome)
	if err == nil {
		s.audit("password.login.success", "user_id", user.ID, "client_id", client.ClientID)
	} else {
		span.RecordError(err)
	}
	return resp, err
}

// AuthorizationCodeGrant exchanges an authorization code for tokens. The code
// is consumed exactly once; any replay is rejected with invalid_grant.
func (s *GrantService) AuthorizationCodeGrant(ctx context.Context, clientID, clientSecret, code, redirectURI string) (*TokenResponse, error) {
	ctx, span := s.startSpan(ctx, "GrantService.AuthorizationCodeGrant")
	defer span.End()

	client, oauthErr := s.authenticateClient(ctx, clientID, clientSecret)
	if oauthErr != nil {
		return nil, oauthErr
	}
	if code == "" {
		return nil, newOAuthError(lifecycle.ErrorInvalidGrant, "Authorization code missing.")
	}

	ticket, err := s.resolvePresented(ctx, domain.KindAuthorizationCode, code)
	if err != nil {
		span.RecordError(err)
		return nil, newOAuthError(lifecycle.ErrorInvalidGrant, "The specified authorization code is no longer valid.")
	}
	if ticket.ClientID != client.ClientID {
		return nil, newOAuthError(lifecycle.ErrorInvalidGrant, "The specified authorization code is no longer valid.")
	}
	if ticket.RedirectURI != "" && !strings.EqualFold(ticket.RedirectURI, strings.TrimSpace(redirectURI)) {
		return nil, newOAuthError(lifecycle.ErrorInvalidGrant, "Mismatched redirect_uri.")
	}

	user, err := s.loadSubject(ctx, ticket.Subject)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("authorization code load user: %w", err)
	}

	outcome, err := s.engine.ProcessSignIn(ctx, ticket, lifecycle.RequestAuthorizationCode, s.opts)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("process code exchange: %w", err)
	}
	if outcome.Rejected() {
		return nil, outcome.Error
	}

	resp, err := s.issueTokens(ctx, ticket, user, outcome)
	if err == nil {
		s.audit("authorization_code.redeemed", "user_id", user.ID, "client_id", client.ClientID)
	}
	return resp, err
}

// RefreshGrant exchanges a refresh token for a new access token. Depending on
// configuration the presented refresh token is rotated, extended in place, or
// returned unchanged.
func (s *GrantService) RefreshGrant(ctx context.Context, clientID, clientSecret, refreshToken string) (*TokenResponse, error) {
	ctx, span := s.startSpan(ctx, "GrantService.RefreshGrant")
	defer span.End()

	client, oauthErr := s.authenticateClient(ctx, clientID, clientSecret)
	if oauthErr != nil {
		return nil, oauthErr
	}
	if refreshToken == "" {
		return nil, newOAuthError(lifecycle.ErrorInvalidGrant, "Refresh token missing.")
	}

	ticket, err := s.resolvePresented(ctx, domain.KindRefreshToken, refreshToken)
	if err != nil {
		span.RecordError(err)
		return nil, newOAuthError(lifecycle.ErrorInvalidGrant, "The specified refresh token is no longer valid.")
	}
	if ticket.ClientID != client.ClientID {
		return nil, newOAuthError(lifecycle.ErrorInvalidGrant, "The specified refresh token is no longer valid.")
	}

	user, err := s.loadSubject(ctx, ticket.Subject)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("refresh load user: %w", err)
	}

	outcome, err := s.engine.ProcessSignIn(ctx, ticket, lifecycle.RequestRefreshToken, s.opts)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("process refresh exchange: %w", err)
	}
	if outcome.Rejected() {
		return nil, outcome.Error
	}

	resp, err := s.issueTokens(ctx, ticket, user, outcome)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	// Without rotation the client keeps using the token it presented.
	if outcome.Rollover != lifecycle.DecisionRotate {
		resp.RefreshToken = refreshToken
	}

	s.audit("refresh_token.success", "user_id", user.ID, "client_id", client.ClientID, "rollover", outcome.Rollover.String())
	return resp, nil
}

// Authorize issues an authorization code bound to the authenticated subject.
func (s *GrantService) Authorize(ctx context.Context, req AuthorizeRequest, userID int64) (*AuthorizeResult, error) {
	ctx, span := s.startSpan(ctx, "GrantService.Authorize")
	defer span.End()

	clientID := strings.TrimSpace(req.ClientID)
	if clientID == "" {
		return nil, newOAuthError(lifecycle.ErrorInvalidRequest, "client_id is required.")
	}
	client, err := s.clients.GetByClientID(ctx, clientID)
	if err != nil {
		span.RecordError(err)
		return nil, newOAuthError(lifecycle.ErrorInvalidRequest, "Unknown client.")
	}
	if req.ResponseType != "code" {
		return nil, &lifecycle.OAuthError{Code: "unsupported_response_type", Description: "Only the code response type is supported.", Status: http.StatusBadRequest}
	}
	redirect := strings.TrimSpace(req.RedirectURI)
	if !client.AllowsRedirectURI(redirect) {
		return nil, newOAuthError(lifecycle.ErrorInvalidRequest, "redirect_uri is not registered for this client.")
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("authorize load user: %w", err)
	}

	requested := strings.Fields(req.Scope)
	ticket := &domain.Ticket{
		Subject:         strconv.FormatInt(user.ID, 10),
		Authenticated:   true,
		ClientID:        client.ClientID,
		Scopes:          requested,
		RequestedScopes: requested,
		Nonce:           req.Nonce,
		RedirectURI:     redirect,
	}

	outcome, err := s.engine.ProcessSignIn(ctx, ticket, lifecycle.RequestAuthorize, s.opts)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("process authorize: %w", err)
	}
	if outcome.Rejected() {
		return nil, outcome.Error
	}

	code, err := s.mintStoredToken(ctx, ticket, domain.KindAuthorizationCode, s.cfg.AuthorizationCodeTTL)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("mint authorization code: %w", err)
	}

	s.audit("authorization_code.issued", "user_id", user.ID, "client_id", client.ClientID)
	return &AuthorizeResult{Code: code, State: req.State, RedirectURI: redirect, Parameters: outcome.Parameters}, nil
}

// Revoke handles RFC 7009 revocation. Unknown or already dead tokens yield
// success so callers cannot probe the token store.
func (s *GrantService) Revoke(ctx context.Context, clientID, clientSecret, token, hint string) error {
	ctx, span := s.startSpan(ctx, "GrantService.Revoke")
	defer span.End()

	client, oauthErr := s.authenticateClient(ctx, clientID, clientSecret)
	if oauthErr != nil {
		return oauthErr
	}
	if token == "" || s.opts.DisableTokenStorage {
		return nil
	}

	for _, kind := range revocationKinds(hint) {
		record, err := s.tokens.FindByReference(ctx, kind, token)
		if err != nil {
			continue
		}
		if record.ClientID != client.ClientID {
			return nil
		}
		if _, err := s.tokens.UpdateStatus(ctx, record.ID, domain.TokenValid, domain.TokenRevoked); err != nil {
			span.RecordError(err)
			return fmt.Errorf("revoke token: %w", err)
		}
		// Killing a refresh token retires its backing consent so siblings
		// stop being refreshable too.
		if record.Kind == domain.KindRefreshToken && record.AuthorizationID != 0 {
			s.revokeAuthorization(ctx, record.AuthorizationID)
		}
		s.audit("token.revoked", "token_id", record.ID, "kind", string(record.Kind), "client_id", client.ClientID)
		return nil
	}
	return nil
}

// Introspect implements RFC 7662 for access and refresh tokens.
func (s *GrantService) Introspect(ctx context.Context, token string) (*IntrospectionResponse, error) {
	ctx, span := s.startSpan(ctx, "GrantService.Introspect")
	defer span.End()

	if std, custom, err := s.jwt.ValidateAccessToken(ctx, token); err == nil {
		resp := &IntrospectionResponse{
			Active:    true,
			Scope:     custom.Scope,
			ClientID:  custom.ClientID,
			Subject:   std.Subject,
			TokenType: "access_token",
		}
		if std.Expiry != nil {
			resp.ExpiresAt = std.Expiry.Time().Unix()
		}
		if std.IssuedAt != nil {
			resp.IssuedAt = std.IssuedAt.Time().Unix()
		}
		if !s.opts.DisableTokenStorage {
			id, parseErr := strconv.ParseInt(std.ID, 10, 64)
			if parseErr != nil {
				return &IntrospectionResponse{Active: false}, nil
			}
			record, findErr := s.tokens.FindByID(ctx, id)
			if findErr != nil || record.Status != domain.TokenValid || record.IsExpired(time.Now()) {
				return &IntrospectionResponse{Active: false}, nil
			}
		}
		return resp, nil
	}

	if !s.opts.DisableTokenStorage {
		record, err := s.tokens.FindByReference(ctx, domain.KindRefreshToken, token)
		if err == nil && record.Status == domain.TokenValid && !record.IsExpired(time.Now()) {
			return &IntrospectionResponse{
				Active:    true,
				Scope:     strings.Join(record.Scopes, " "),
				ClientID:  record.ClientID,
				Subject:   record.Subject,
				TokenType: "refresh_token",
				ExpiresAt: record.ExpiresAt.Unix(),
				IssuedAt:  record.CreatedAt.Unix(),
			}, nil
		}
	}

	return &IntrospectionResponse{Active: false}, nil
}

// SignOut records the sign-out and returns the response parameters to attach.
func (s *GrantService) SignOut(ctx context.Context, subject, clientID string, properties map[string]string) map[string]string {
	ticket := &domain.Ticket{Subject: subject, Authenticated: true, ClientID: clientID, Properties: properties}
	outcome := s.engine.ProcessSignOut(ctx, ticket)
	s.audit("sign_out", "subject", subject, "client_id", clientID)
	return outcome.Parameters
}

// JWKS returns the issuer key set.
func (s *GrantService) JWKS(ctx context.Context) (gojose.JSONWebKeySet, error) {
	return s.keys.JWKS(ctx)
}

// ValidateToken proxies to the JWT generator.
func (s *GrantService) ValidateToken(ctx context.Context, token string) (string, error) {
	std, _, err := s.jwt.ValidateAccessToken(ctx, token)
	if err != nil {
		return "", err
	}
	return std.Subject, nil
}

// resolvePresented turns the wire value of a code or refresh token back into
// its ticket. With storage enabled the value is an opaque reference and the
// payload lives in the store; without storage the value is the payload
// itself.
func (s *GrantService) resolvePresented(ctx context.Context, kind domain.TokenKind, value string) (*domain.Ticket, error) {
	if s.opts.DisableTokenStorage {
		ticket, err := s.jwt.DecodeTicket(ctx, value)
		if err != nil {
			return nil, err
		}
		// There is no record to consult, so the deadline encoded into the
		// token is the only expiry check this value will ever get.
		if ticket.ExpiresAt.IsZero() || !time.Now().Before(ticket.ExpiresAt) {
			return nil, domain.ErrTicketExpired
		}
		return ticket, nil
	}

	record, err := s.tokens.FindByReference(ctx, kind, value)
	if err != nil {
		return nil, err
	}
	ticket, err := s.jwt.DecodeTicket(ctx, record.Payload)
	if err != nil {
		return nil, err
	}
	ticket.ExpiresAt = record.ExpiresAt
	ticket.InternalTokenID = record.ID
	if ticket.InternalAuthorizationID == 0 {
		ticket.InternalAuthorizationID = record.AuthorizationID
	}
	return ticket, nil
}

func (s *GrantService) issueTokens(ctx context.Context, ticket *domain.Ticket, user domain.User, outcome lifecycle.Outcome) (*TokenResponse, error) {
	ctx, span := s.startSpan(ctx, "GrantService.issueTokens")
	defer span.End()

	accessID := s.node.Generate().Int64()
	access, err := s.jwt.GenerateAccessToken(ctx, ticket, accessID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("generate access token: %w", err)
	}
	if !s.opts.DisableTokenStorage {
		record := domain.Token{
			ID:              accessID,
			Kind:            domain.KindAccessToken,
			Status:          domain.TokenValid,
			Subject:         ticket.Subject,
			ClientID:        ticket.ClientID,
			AuthorizationID: ticket.InternalAuthorizationID,
			Reference:       strconv.FormatInt(accessID, 10),
			Payload:         access,
			Scopes:          append([]string(nil), ticket.Scopes...),
			ExpiresAt:       time.Now().Add(s.cfg.AccessTokenTTL).UTC(),
		}
		if _, err := s.tokens.Create(ctx, record); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("persist access token: %w", err)
		}
	}

	resp := &TokenResponse{
		AccessToken: access,
		TokenType:   "Bearer",
		ExpiresIn:   int(s.cfg.AccessTokenTTL.Seconds()),
		Scope:       strings.Join(ticket.Scopes, " "),
		Parameters:  outcome.Parameters,
	}

	if outcome.IncludeRefreshToken {
		refresh, err := s.mintStoredToken(ctx, ticket, domain.KindRefreshToken, s.cfg.RefreshTokenTTL)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("mint refresh token: %w", err)
		}
		resp.RefreshToken = refresh
	}

	if outcome.IncludeIdentityToken {
		idToken, err := s.jwt.GenerateIdentityToken(ctx, ticket, user)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("generate id token: %w", err)
		}
		resp.IDToken = idToken
	}

	return resp, nil
}

// mintStoredToken creates a code or refresh token: a fresh record id, the
// ticket encoded as payload, and an opaque reference handed to the client.
// Without token storage the payload itself travels to the client.
func (s *GrantService) mintStoredToken(ctx context.Context, ticket *domain.Ticket, kind domain.TokenKind, ttl time.Duration) (string, error) {
	id := s.node.Generate().Int64()
	expiry := time.Now().Add(ttl).UTC()

	encoded := *ticket
	encoded.InternalTokenID = id
	payload, err := s.jwt.EncodeTicket(ctx, &encoded, expiry)
	if err != nil {
		return "", fmt.Errorf("encode ticket: %w", err)
	}

	if s.opts.DisableTokenStorage {
		return payload, nil
	}

	reference := randomString(32)
	record := domain.Token{
		ID:              id,
		Kind:            kind,
		Status:          domain.TokenValid,
		Subject:         ticket.Subject,
		ClientID:        ticket.ClientID,
		AuthorizationID: ticket.InternalAuthorizationID,
		Reference:       reference,
		Payload:         payload,
		Scopes:          append([]string(nil), ticket.Scopes...),
		ExpiresAt:       expiry,
	}
	if _, err := s.tokens.Create(ctx, record); err != nil {
		return "", fmt.Errorf("persist %s: %w", kind, err)
	}
	return reference, nil
}

func (s *GrantService) authenticateClient(ctx context.Context, clientID, clientSecret string) (domain.Client, *lifecycle.OAuthError) {
	cleaned := strings.TrimSpace(clientID)
	if cleaned == "" {
		return domain.Client{}, &lifecycle.OAuthError{Code: "invalid_client", Description: "client_id is required.", Status: http.StatusUnauthorized}
	}
	client, err := s.clients.GetByClientID(ctx, cleaned)
	if err != nil {
		return domain.Client{}, &lifecycle.OAuthError{Code: "invalid_client", Description: "Client authentication failed.", Status: http.StatusUnauthorized}
	}
	if client.ClientSecret != "" {
		if subtle.ConstantTimeCompare([]byte(client.ClientSecret), []byte(clientSecret)) != 1 {
			return domain.Client{}, &lifecycle.OAuthError{Code: "invalid_client", Description: "Client authentication failed.", Status: http.StatusUnauthorized}
		}
	}
	return client, nil
}

func (s *GrantService) loadSubject(ctx context.Context, subject string) (domain.User, error) {
	id, err := strconv.ParseInt(subject, 10, 64)
	if err != nil {
		return domain.User{}, fmt.Errorf("parse subject %q: %w", subject, err)
	}
	return s.users.GetByID(ctx, id)
}

func (s *GrantService) revokeAuthorization(ctx context.Context, authorizationID int64) {
	if _, err := s.authorizations.UpdateStatus(ctx, authorizationID, domain.AuthorizationValid, domain.AuthorizationRevoked); err != nil {
		s.log().Warn("revoking authorization failed", zap.Int64("authorization_id", authorizationID), zap.Error(err))
	}
	siblings, err := s.tokens.ListByAuthorization(ctx, authorizationID)
	if err != nil {
		s.log().Warn("listing authorization tokens failed", zap.Int64("authorization_id", authorizationID), zap.Error(err))
		return
	}
	for _, sibling := range siblings {
		if sibling.Status != domain.TokenValid {
			continue
		}
		if _, err := s.tokens.UpdateStatus(ctx, sibling.ID, domain.TokenValid, domain.TokenRevoked); err != nil {
			s.log().Warn("revoking linked token failed", zap.Int64("token_id", sibling.ID), zap.Error(err))
		}
	}
}

func revocationKinds(hint string) []domain.TokenKind {
	switch hint {
	case "refresh_token":
		return []domain.TokenKind{domain.KindRefreshToken, domain.KindAccessToken}
	case "access_token":
		return []domain.TokenKind{domain.KindAccessToken, domain.KindRefreshToken}
	default:
		return []domain.TokenKind{domain.KindRefreshToken, domain.KindAccessToken, domain.KindAuthorizationCode}
	}
}

func newOAuthError(code, desc string) *lifecycle.OAuthError {
	return &lifecycle.OAuthError{Code: code, Description: desc, Status: http.StatusBadRequest}
}

func (s *GrantService) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if s == nil || s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.tracer.Start(ctx, name)
}

func (s *GrantService) audit(event string, attrs ...any) {
	logger := s.log()
	if logger == nil {
		return
	}
	fields := make([]zap.Field, 0, len(attrs)/2+2)
	fields = append(fields, zap.String("event", event), zap.Time("timestamp", time.Now().UTC()))
	for i := 0; i+1 < len(attrs); i += 2 {
		key, ok := attrs[i].(string)
		if !ok {
			continue
		}
		fields = append(fields, zap.Any(key, attrs[i+1]))
	}
	logger.Info("audit", fields...)
}

func (s *GrantService) log() *zap.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return zap.L()
}

func randomString(n int) string {
	if n <= 0 {
		n = 32
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}
