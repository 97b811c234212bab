package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/trentmillar/keystone-net/internal/domain"
	"github.com/trentmillar/keystone-net/internal/repository"
)

func TestTokenUpdateStatusIsConditional(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryTokenRepo()

	_, err := repo.Create(ctx, domain.Token{ID: 1, Kind: domain.KindRefreshToken, Status: domain.TokenValid, ExpiresAt: time.Now().Add(time.Hour)})
	require.NoError(t, err)

	ok, err := repo.UpdateStatus(ctx, 1, domain.TokenValid, domain.TokenRedeemed)
	require.NoError(t, err)
	require.True(t, ok)

	// Second transition from the same expected state loses.
	ok, err = repo.UpdateStatus(ctx, 1, domain.TokenValid, domain.TokenRevoked)
	require.NoError(t, err)
	require.False(t, ok)

	stored, err := repo.FindByID(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, domain.TokenRedeemed, stored.Status)
}

func TestTokenExtendExpiryIsConditional(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryTokenRepo()

	initial := time.Now().Add(time.Minute).UTC()
	_, err := repo.Create(ctx, domain.Token{ID: 1, Kind: domain.KindRefreshToken, Status: domain.TokenValid, ExpiresAt: initial})
	require.NoError(t, err)

	next := initial.Add(time.Hour)
	ok, err := repo.ExtendExpiry(ctx, 1, initial, next)
	require.NoError(t, err)
	require.True(t, ok)

	// Keyed on the old expiration, the stale extension fails.
	ok, err = repo.ExtendExpiry(ctx, 1, initial, initial.Add(2*time.Hour))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFindByReferenceMatchesKind(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryTokenRepo()

	_, err := repo.Create(ctx, domain.Token{ID: 1, Kind: domain.KindRefreshToken, Reference: "shared", Status: domain.TokenValid})
	require.NoError(t, err)

	_, err = repo.FindByReference(ctx, domain.KindRefreshToken, "shared")
	require.NoError(t, err)

	_, err = repo.FindByReference(ctx, domain.KindAuthorizationCode, "shared")
	require.ErrorIs(t, err, domain.ErrTokenNotFound)
}

func TestDeleteExpiredRemovesDeadTokens(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryTokenRepo()
	now := time.Now().UTC()

	_, err := repo.Create(ctx, domain.Token{ID: 1, Status: domain.TokenValid, ExpiresAt: now.Add(-time.Minute)})
	require.NoError(t, err)
	_, err = repo.Create(ctx, domain.Token{ID: 2, Status: domain.TokenRedeemed, ExpiresAt: now.Add(time.Hour)})
	require.NoError(t, err)
	_, err = repo.Create(ctx, domain.Token{ID: 3, Status: domain.TokenValid, ExpiresAt: now.Add(time.Hour)})
	require.NoError(t, err)

	removed, err := repo.DeleteExpired(ctx, now)
	require.NoError(t, err)
	require.Equal(t, int64(2), removed)

	_, err = repo.FindByID(ctx, 3)
	require.NoError(t, err)
}

func TestPruneOrphanedAuthorizations(t *testing.T) {
	ctx := context.Background()
	tokens := repository.NewMemoryTokenRepo()
	repo := repository.NewMemoryAuthorizationRepo(tokens)
	now := time.Now().UTC()

	// Ad hoc with a live token stays.
	_, err := repo.Create(ctx, domain.Authorization{ID: 1, Type: domain.AuthorizationAdHoc, Status: domain.AuthorizationValid})
	require.NoError(t, err)
	_, err = tokens.Create(ctx, domain.Token{ID: 10, AuthorizationID: 1, Status: domain.TokenValid, ExpiresAt: now.Add(time.Hour)})
	require.NoError(t, err)

	// Ad hoc whose only token expired goes away.
	_, err = repo.Create(ctx, domain.Authorization{ID: 2, Type: domain.AuthorizationAdHoc, Status: domain.AuthorizationValid})
	require.NoError(t, err)
	_, err = tokens.Create(ctx, domain.Token{ID: 20, AuthorizationID: 2, Status: domain.TokenValid, ExpiresAt: now.Add(-time.Hour)})
	require.NoError(t, err)

	// Permanent authorizations survive without tokens.
	_, err = repo.Create(ctx, domain.Authorization{ID: 3, Type: domain.AuthorizationPermanent, Status: domain.AuthorizationValid})
	require.NoError(t, err)

	// Revoked authorizations are always removed.
	_, err = repo.Create(ctx, domain.Authorization{ID: 4, Type: domain.AuthorizationPermanent, Status: domain.AuthorizationRevoked})
	require.NoError(t, err)

	removed, err := repo.PruneOrphaned(ctx, now)
	require.NoError(t, err)
	require.Equal(t, int64(2), removed)

	_, err = repo.FindByID(ctx, 1)
	require.NoError(t, err)
	_, err = repo.FindByID(ctx, 2)
	require.ErrorIs(t, err, domain.ErrAuthorizationNotFound)
	_, err = repo.FindByID(ctx, 3)
	require.NoError(t, err)
}

func TestAuthorizationUpdateStatusIsConditional(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryAuthorizationRepo(repository.NewMemoryTokenRepo())

	_, err := repo.Create(ctx, domain.Authorization{ID: 1, Type: domain.AuthorizationAdHoc, Status: domain.AuthorizationValid})
	require.NoError(t, err)

	ok, err := repo.UpdateStatus(ctx, 1, domain.AuthorizationValid, domain.AuthorizationRevoked)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.UpdateStatus(ctx, 1, domain.AuthorizationValid, domain.AuthorizationRevoked)
	require.NoError(t, err)
	require.False(t, ok)
}
