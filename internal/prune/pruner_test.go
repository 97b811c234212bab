package prune_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/trentmillar/keystone-net/internal/domain"
	"github.com/trentmillar/keystone-net/internal/prune"
	"github.com/trentmillar/keystone-net/internal/repository"
)

func TestSweepRemovesExpiredState(t *testing.T) {
	ctx := context.Background()
	tokens := repository.NewMemoryTokenRepo()
	authorizations := repository.NewMemoryAuthorizationRepo(tokens)
	now := time.Now().UTC()

	_, err := authorizations.Create(ctx, domain.Authorization{ID: 1, Type: domain.AuthorizationAdHoc, Status: domain.AuthorizationValid})
	require.NoError(t, err)
	_, err = tokens.Create(ctx, domain.Token{ID: 10, AuthorizationID: 1, Status: domain.TokenValid, ExpiresAt: now.Add(-time.Minute)})
	require.NoError(t, err)
	_, err = tokens.Create(ctx, domain.Token{ID: 11, Status: domain.TokenValid, ExpiresAt: now.Add(time.Hour)})
	require.NoError(t, err)

	p := prune.New(tokens, authorizations, time.Hour, zap.NewNop())
	p.Sweep(ctx)

	_, err = tokens.FindByID(ctx, 10)
	require.ErrorIs(t, err, domain.ErrTokenNotFound)
	_, err = tokens.FindByID(ctx, 11)
	require.NoError(t, err)
	_, err = authorizations.FindByID(ctx, 1)
	require.ErrorIs(t, err, domain.ErrAuthorizationNotFound)
}

func TestStopWaitsForLoop(t *testing.T) {
	tokens := repository.NewMemoryTokenRepo()
	authorizations := repository.NewMemoryAuthorizationRepo(tokens)

	p := prune.New(tokens, authorizations, time.Hour, zap.NewNop())
	p.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, p.Stop(ctx))
}
