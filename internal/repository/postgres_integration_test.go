//go:build integration

package repository_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/trentmillar/keystone-net/internal/domain"
	"github.com/trentmillar/keystone-net/internal/repository"
)

func setupDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Fatal("DATABASE_URL must be set for integration tests")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, repository.EnsureSchema(ctx, pool))
	_, err = pool.Exec(ctx, `TRUNCATE tokens, authorizations`)
	require.NoError(t, err)

	return pool
}

func TestPostgresTokenCAS(t *testing.T) {
	ctx := context.Background()
	pool := setupDB(t)
	repo := repository.NewPostgresTokenRepo(pool)

	_, err := repo.Create(ctx, domain.Token{
		ID:        1,
		Kind:      domain.KindRefreshToken,
		Status:    domain.TokenValid,
		Reference: "ref-1",
		ExpiresAt: time.Now().Add(time.Hour).UTC(),
	})
	require.NoError(t, err)

	ok, err := repo.UpdateStatus(ctx, 1, domain.TokenValid, domain.TokenRedeemed)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.UpdateStatus(ctx, 1, domain.TokenValid, domain.TokenRevoked)
	require.NoError(t, err)
	require.False(t, ok)

	stored, err := repo.FindByID(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, domain.TokenRedeemed, stored.Status)
}

func TestPostgresAuthorizationPrune(t *testing.T) {
	ctx := context.Background()
	pool := setupDB(t)
	tokens := repository.NewPostgresTokenRepo(pool)
	authorizations := repository.NewPostgresAuthorizationRepo(pool)
	now := time.Now().UTC()

	_, err := authorizations.Create(ctx, domain.Authorization{ID: 1, Type: domain.AuthorizationAdHoc, Status: domain.AuthorizationValid})
	require.NoError(t, err)
	_, err = tokens.Create(ctx, domain.Token{ID: 10, Kind: domain.KindRefreshToken, Status: domain.TokenValid, AuthorizationID: 1, ExpiresAt: now.Add(time.Hour)})
	require.NoError(t, err)

	_, err = authorizations.Create(ctx, domain.Authorization{ID: 2, Type: domain.AuthorizationAdHoc, Status: domain.AuthorizationValid})
	require.NoError(t, err)

	removed, err := authorizations.PruneOrphaned(ctx, now)
	require.NoError(t, err)
	require.Equal(t, int64(1), removed)

	_, err = authorizations.FindByID(ctx, 1)
	require.NoError(t, err)
	_, err = authorizations.FindByID(ctx, 2)
	require.ErrorIs(t, err, domain.ErrAuthorizationNotFound)
}
