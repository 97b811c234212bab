package lifecycle_test

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/trentmillar/keystone-net/internal/domain"
	"github.com/trentmillar/keystone-net/internal/lifecycle"
	"github.com/trentmillar/keystone-net/internal/repository"
)

type engineFixture struct {
	orchestrator   *lifecycle.Orchestrator
	tokens         *repository.MemoryTokenRepo
	authorizations *repository.MemoryAuthorizationRepo
	notifier       *recordingNotifier
}

func newEngine(t *testing.T) *engineFixture {
	t.Helper()
	tokens := repository.NewMemoryTokenRepo()
	authorizations := repository.NewMemoryAuthorizationRepo(tokens)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	notifier := &recordingNotifier{handled: true}

	logger := zap.NewNop()
	orchestrator := lifecycle.NewOrchestrator(
		lifecycle.NewGuard(tokens, logger),
		lifecycle.NewPolicy(tokens, logger),
		lifecycle.NewMaterializer(authorizations, node, logger),
		lifecycle.NewDispatcher([]lifecycle.Notifier{notifier}, logger),
		tokens,
		logger,
	)
	return &engineFixture{orchestrator: orchestrator, tokens: tokens, authorizations: authorizations, notifier: notifier}
}

func defaultOptions() lifecycle.Options {
	return lifecycle.Options{RefreshTokenLifetime: time.Hour}
}

func codeTicket(tokenID int64) *domain.Ticket {
	return &domain.Ticket{
		Subject:         "42",
		Authenticated:   true,
		ClientID:        "client",
		Scopes:          []string{"openid", "offline_access"},
		RequestedScopes: []string{"openid", "offline_access"},
		InternalTokenID: tokenID,
	}
}

func TestProcessSignInRequiresAuthenticatedTicket(t *testing.T) {
	fix := newEngine(t)
	_, err := fix.orchestrator.ProcessSignIn(context.Background(), &domain.Ticket{Subject: "42"}, lifecycle.RequestPassword, defaultOptions())
	require.Error(t, err)
	var cfgErr *lifecycle.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}

func TestProcessSignInScopeDefaulting(t *testing.T) {
	fix := newEngine(t)
	ticket := &domain.Ticket{
		Subject:         "42",
		Authenticated:   true,
		ClientID:        "client",
		RequestedScopes: []string{"openid", "profile"},
	}

	outcome, err := fix.orchestrator.ProcessSignIn(context.Background(), ticket, lifecycle.RequestPassword, defaultOptions())
	require.NoError(t, err)
	require.False(t, outcome.Rejected())
	require.Equal(t, []string{"openid"}, ticket.Scopes)
	require.True(t, outcome.IncludeIdentityToken)
	require.False(t, outcome.IncludeRefreshToken)
}

func TestProcessSignInResponseShape(t *testing.T) {
	fix := newEngine(t)
	ticket := &domain.Ticket{
		Subject:         "42",
		Authenticated:   true,
		ClientID:        "client",
		Scopes:          []string{"openid", "offline_access"},
		RequestedScopes: []string{"openid", "offline_access"},
	}

	outcome, err := fix.orchestrator.ProcessSignIn(context.Background(), ticket, lifecycle.RequestPassword, defaultOptions())
	require.NoError(t, err)
	require.True(t, outcome.IncludeIdentityToken)
	require.True(t, outcome.IncludeRefreshToken)
	require.False(t, outcome.IncludeAuthorizationCode)
	require.NotZero(t, ticket.InternalAuthorizationID)
}

func TestProcessSignInLiftsPublicProperties(t *testing.T) {
	fix := newEngine(t)
	ticket := &domain.Ticket{
		Subject:       "42",
		Authenticated: true,
		ClientID:      "client",
		Scopes:        []string{"openid"},
	}
	ticket.SetProperty("public.tier", "gold")
	ticket.SetProperty("internal_flag", "kept")

	outcome, err := fix.orchestrator.ProcessSignIn(context.Background(), ticket, lifecycle.RequestPassword, defaultOptions())
	require.NoError(t, err)
	require.Equal(t, map[string]string{"tier": "gold"}, outcome.Parameters)
	require.NotContains(t, ticket.Properties, "public.tier")
	require.Contains(t, ticket.Properties, "internal_flag")
}

func TestCodeExchangeConsumesAndRejectsReplay(t *testing.T) {
	ctx := context.Background()
	fix := newEngine(t)

	seedToken(t, fix.tokens, domain.Token{
		ID:        100,
		Kind:      domain.KindAuthorizationCode,
		Status:    domain.TokenValid,
		ExpiresAt: time.Now().Add(5 * time.Minute),
	})

	outcome, err := fix.orchestrator.ProcessSignIn(ctx, codeTicket(100), lifecycle.RequestAuthorizationCode, defaultOptions())
	require.NoError(t, err)
	require.False(t, outcome.Rejected())

	stored, err := fix.tokens.FindByID(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, domain.TokenRedeemed, stored.Status)

	replay, err := fix.orchestrator.ProcessSignIn(ctx, codeTicket(100), lifecycle.RequestAuthorizationCode, defaultOptions())
	require.NoError(t, err)
	require.True(t, replay.Rejected())
	require.Equal(t, "invalid_grant", replay.Error.Code)
	require.Contains(t, replay.Error.Description, "authorization code")
}

func TestRefreshRollingRotatesAndRevokesSiblings(t *testing.T) {
	ctx := context.Background()
	fix := newEngine(t)
	opts := defaultOptions()
	opts.RollingTokens = true

	expires := time.Now().Add(time.Hour)
	seedToken(t, fix.tokens, domain.Token{ID: 200, Kind: domain.KindRefreshToken, Status: domain.TokenValid, AuthorizationID: 9, ExpiresAt: expires})
	seedToken(t, fix.tokens, domain.Token{ID: 201, Kind: domain.KindAccessToken, Status: domain.TokenValid, AuthorizationID: 9, ExpiresAt: expires})

	ticket := codeTicket(200)
	outcome, err := fix.orchestrator.ProcessSignIn(ctx, ticket, lifecycle.RequestRefreshToken, opts)
	require.NoError(t, err)
	require.False(t, outcome.Rejected())
	require.Equal(t, lifecycle.DecisionRotate, outcome.Rollover)
	require.True(t, outcome.IncludeRefreshToken)
	require.Equal(t, int64(9), ticket.InternalAuthorizationID)

	presented, err := fix.tokens.FindByID(ctx, 200)
	require.NoError(t, err)
	require.Equal(t, domain.TokenRedeemed, presented.Status)

	sibling, err := fix.tokens.FindByID(ctx, 201)
	require.NoError(t, err)
	require.Equal(t, domain.TokenRevoked, sibling.Status)
}

func TestRefreshRollingRejectsReplay(t *testing.T) {
	ctx := context.Background()
	fix := newEngine(t)
	opts := defaultOptions()
	opts.RollingTokens = true

	seedToken(t, fix.tokens, domain.Token{ID: 300, Kind: domain.KindRefreshToken, Status: domain.TokenValid, ExpiresAt: time.Now().Add(time.Hour)})

	first, err := fix.orchestrator.ProcessSignIn(ctx, codeTicket(300), lifecycle.RequestRefreshToken, opts)
	require.NoError(t, err)
	require.False(t, first.Rejected())

	replay, err := fix.orchestrator.ProcessSignIn(ctx, codeTicket(300), lifecycle.RequestRefreshToken, opts)
	require.NoError(t, err)
	require.True(t, replay.Rejected())
	require.Equal(t, "invalid_grant", replay.Error.Code)
	require.Contains(t, replay.Error.Description, "refresh token")
}

func TestRefreshSlidingExtendsWithoutConsuming(t *testing.T) {
	ctx := context.Background()
	fix := newEngine(t)
	opts := defaultOptions()
	opts.SlidingExpiration = true

	near := time.Now().Add(time.Minute).UTC()
	seedToken(t, fix.tokens, domain.Token{ID: 400, Kind: domain.KindRefreshToken, Status: domain.TokenValid, ExpiresAt: near})

	outcome, err := fix.orchestrator.ProcessSignIn(ctx, codeTicket(400), lifecycle.RequestRefreshToken, opts)
	require.NoError(t, err)
	require.False(t, outcome.Rejected())
	require.Equal(t, lifecycle.DecisionExtend, outcome.Rollover)
	require.False(t, outcome.IncludeRefreshToken)

	stored, err := fix.tokens.FindByID(ctx, 400)
	require.NoError(t, err)
	require.Equal(t, domain.TokenValid, stored.Status)
	require.True(t, stored.ExpiresAt.After(near))

	// Sliding never consumes, so the same token keeps working.
	again, err := fix.orchestrator.ProcessSignIn(ctx, codeTicket(400), lifecycle.RequestRefreshToken, opts)
	require.NoError(t, err)
	require.False(t, again.Rejected())
}

func TestRefreshReuseChecksValidityExplicitly(t *testing.T) {
	ctx := context.Background()
	fix := newEngine(t)
	opts := defaultOptions()

	seedToken(t, fix.tokens, domain.Token{ID: 500, Kind: domain.KindRefreshToken, Status: domain.TokenRedeemed, ExpiresAt: time.Now().Add(time.Hour)})

	outcome, err := fix.orchestrator.ProcessSignIn(ctx, codeTicket(500), lifecycle.RequestRefreshToken, opts)
	require.NoError(t, err)
	require.True(t, outcome.Rejected())
	require.Contains(t, outcome.Error.Description, "refresh token")
}

func TestRefreshRejectsExpiredToken(t *testing.T) {
	ctx := context.Background()
	fix := newEngine(t)

	seedToken(t, fix.tokens, domain.Token{ID: 600, Kind: domain.KindRefreshToken, Status: domain.TokenValid, ExpiresAt: time.Now().Add(-time.Minute)})

	outcome, err := fix.orchestrator.ProcessSignIn(ctx, codeTicket(600), lifecycle.RequestRefreshToken, defaultOptions())
	require.NoError(t, err)
	require.True(t, outcome.Rejected())
}

func TestRefreshRejectsUnlinkedTicket(t *testing.T) {
	fix := newEngine(t)
	outcome, err := fix.orchestrator.ProcessSignIn(context.Background(), codeTicket(0), lifecycle.RequestRefreshToken, defaultOptions())
	require.NoError(t, err)
	require.True(t, outcome.Rejected())
}

func TestAuthorizeIncludesCode(t *testing.T) {
	fix := newEngine(t)
	ticket := &domain.Ticket{
		Subject:       "42",
		Authenticated: true,
		ClientID:      "client",
		Scopes:        []string{"openid"},
	}

	outcome, err := fix.orchestrator.ProcessSignIn(context.Background(), ticket, lifecycle.RequestAuthorize, defaultOptions())
	require.NoError(t, err)
	require.True(t, outcome.IncludeAuthorizationCode)
	require.NotZero(t, ticket.InternalAuthorizationID)
}

func TestProcessSignInEmitsEvents(t *testing.T) {
	fix := newEngine(t)
	ticket := &domain.Ticket{Subject: "42", Authenticated: true, ClientID: "client", Scopes: []string{"openid"}}

	_, err := fix.orchestrator.ProcessSignIn(context.Background(), ticket, lifecycle.RequestPassword, defaultOptions())
	require.NoError(t, err)
	require.Len(t, fix.notifier.events, 1)
	require.Equal(t, lifecycle.EventSignIn, fix.notifier.events[0].Type)
	require.Equal(t, "42", fix.notifier.events[0].Subject)
}

func TestProcessSignOutAttachesParameters(t *testing.T) {
	fix := newEngine(t)
	ticket := &domain.Ticket{Subject: "42", Authenticated: true, ClientID: "client"}
	ticket.SetProperty("public.post_logout", "https://example.com")

	outcome := fix.orchestrator.ProcessSignOut(context.Background(), ticket)
	require.Equal(t, map[string]string{"post_logout": "https://example.com"}, outcome.Parameters)
	require.Len(t, fix.notifier.events, 1)
	require.Equal(t, lifecycle.EventSignOut, fix.notifier.events[0].Type)
}

func TestStorageDisabledSkipsTokenChecks(t *testing.T) {
	fix := newEngine(t)
	opts := defaultOptions()
	opts.DisableTokenStorage = true

	// No record exists; with storage disabled the exchange still succeeds
	// because validity lives in the payload itself.
	outcome, err := fix.orchestrator.ProcessSignIn(context.Background(), codeTicket(999), lifecycle.RequestAuthorizationCode, opts)
	require.NoError(t, err)
	require.False(t, outcome.Rejected())
}
