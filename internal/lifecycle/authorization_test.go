package lifecycle_test

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/trentmillar/keystone-net/internal/domain"
	"github.com/trentmillar/keystone-net/internal/lifecycle"
	"github.com/trentmillar/keystone-net/internal/repository"
)

func newMaterializer(t *testing.T) (*lifecycle.Materializer, *repository.MemoryAuthorizationRepo) {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	repo := repository.NewMemoryAuthorizationRepo(repository.NewMemoryTokenRepo())
	return lifecycle.NewMaterializer(repo, node, zap.NewNop()), repo
}

func TestEnsureAuthorizationCreatesAdHoc(t *testing.T) {
	ctx := context.Background()
	materializer, repo := newMaterializer(t)

	ticket := &domain.Ticket{
		Subject:       "42",
		Authenticated: true,
		ClientID:      "client",
		Scopes:        []string{"openid", "offline_access"},
	}

	require.NoError(t, materializer.EnsureAuthorization(ctx, ticket, false, true, lifecycle.Options{}))
	require.NotZero(t, ticket.InternalAuthorizationID)

	created, err := repo.FindByID(ctx, ticket.InternalAuthorizationID)
	require.NoError(t, err)
	require.Equal(t, domain.AuthorizationAdHoc, created.Type)
	require.Equal(t, domain.AuthorizationValid, created.Status)
	require.Equal(t, "42", created.Subject)
	require.Equal(t, []string{"openid", "offline_access"}, created.Scopes)
}

func TestEnsureAuthorizationIdempotent(t *testing.T) {
	ctx := context.Background()
	materializer, _ := newMaterializer(t)

	ticket := &domain.Ticket{Subject: "42", Authenticated: true, ClientID: "client"}
	require.NoError(t, materializer.EnsureAuthorization(ctx, ticket, true, false, lifecycle.Options{}))
	first := ticket.InternalAuthorizationID
	require.NotZero(t, first)

	require.NoError(t, materializer.EnsureAuthorization(ctx, ticket, true, false, lifecycle.Options{}))
	require.Equal(t, first, ticket.InternalAuthorizationID)
}

func TestEnsureAuthorizationSkipsWhenNotNeeded(t *testing.T) {
	ctx := context.Background()
	materializer, _ := newMaterializer(t)

	// Access-token-only responses need no standing authorization.
	ticket := &domain.Ticket{Subject: "42", Authenticated: true, ClientID: "client"}
	require.NoError(t, materializer.EnsureAuthorization(ctx, ticket, false, false, lifecycle.Options{}))
	require.Zero(t, ticket.InternalAuthorizationID)
}

func TestEnsureAuthorizationRespectsDisabledStorage(t *testing.T) {
	ctx := context.Background()
	materializer, _ := newMaterializer(t)

	ticket := &domain.Ticket{Subject: "42", Authenticated: true, ClientID: "client"}
	opts := lifecycle.Options{DisableAuthorizationStorage: true}
	require.NoError(t, materializer.EnsureAuthorization(ctx, ticket, true, true, opts))
	require.Zero(t, ticket.InternalAuthorizationID)
}
