package lifecycle_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/trentmillar/keystone-net/internal/domain"
	"github.com/trentmillar/keystone-net/internal/lifecycle"
	"github.com/trentmillar/keystone-net/internal/repository"
)

func seedToken(t *testing.T, repo *repository.MemoryTokenRepo, token domain.Token) domain.Token {
	t.Helper()
	created, err := repo.Create(context.Background(), token)
	require.NoError(t, err)
	return created
}

func TestTryRedeemConsumesExactlyOnce(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryTokenRepo()
	guard := lifecycle.NewGuard(repo, zap.NewNop())

	seedToken(t, repo, domain.Token{
		ID:        1,
		Kind:      domain.KindAuthorizationCode,
		Status:    domain.TokenValid,
		ExpiresAt: time.Now().Add(time.Minute),
	})

	require.True(t, guard.TryRedeem(ctx, 1))
	require.False(t, guard.TryRedeem(ctx, 1))

	stored, err := repo.FindByID(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, domain.TokenRedeemed, stored.Status)
}

func TestTryRedeemConcurrentSingleWinner(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryTokenRepo()
	guard := lifecycle.NewGuard(repo, zap.NewNop())

	seedToken(t, repo, domain.Token{
		ID:        7,
		Kind:      domain.KindRefreshToken,
		Status:    domain.TokenValid,
		ExpiresAt: time.Now().Add(time.Hour),
	})

	const callers = 32
	var wg sync.WaitGroup
	results := make([]bool, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			results[slot] = guard.TryRedeem(ctx, 7)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, won := range results {
		if won {
			winners++
		}
	}
	require.Equal(t, 1, winners)
}

func TestTryRedeemRejectsExpired(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryTokenRepo()
	guard := lifecycle.NewGuard(repo, zap.NewNop())

	seedToken(t, repo, domain.Token{
		ID:        3,
		Kind:      domain.KindAuthorizationCode,
		Status:    domain.TokenValid,
		ExpiresAt: time.Now().Add(-time.Minute),
	})

	require.False(t, guard.TryRedeem(ctx, 3))

	stored, err := repo.FindByID(ctx, 3)
	require.NoError(t, err)
	require.Equal(t, domain.TokenExpired, stored.Status)
}

func TestTryRedeemUnknownToken(t *testing.T) {
	repo := repository.NewMemoryTokenRepo()
	guard := lifecycle.NewGuard(repo, zap.NewNop())
	require.False(t, guard.TryRedeem(context.Background(), 404))
}

func TestTryRedeemRevokedToken(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryTokenRepo()
	guard := lifecycle.NewGuard(repo, zap.NewNop())

	seedToken(t, repo, domain.Token{
		ID:        5,
		Kind:      domain.KindRefreshToken,
		Status:    domain.TokenRevoked,
		ExpiresAt: time.Now().Add(time.Hour),
	})

	require.False(t, guard.TryRedeem(ctx, 5))
}
