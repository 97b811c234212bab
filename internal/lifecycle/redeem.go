package lifecycle

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/trentmillar/keystone-net/internal/domain"
	"github.com/trentmillar/keystone-net/internal/repository"
)

// Guard enforces at-most-once consumption of a code or token. All the
// coordination lives in the store's conditional update: across any number of
// concurrent callers, exactly one TryRedeem call wins the Valid→Redeemed
// transition.
type Guard struct {
	tokens repository.TokenRepository
	logger *zap.Logger
}

// NewGuard wires the redemption guard.
func NewGuard(tokens repository.TokenRepository, logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.L()
	}
	return &Guard{tokens: tokens, logger: logger}
}

// TryRedeem transitions the token to Redeemed and reports whether this call
// performed the transition. False means the token is no longer valid: it was
// never issued, already consumed, revoked or expired, or a concurrent caller
// redeemed it first. A false result is final; reuse is a security event,
// never retried. Store failures on the redemption write are also reported as
// false: an indeterminate write must be treated as "assume redeemed".
func (g *Guard) TryRedeem(ctx context.Context, tokenID int64) bool {
	token, err := g.tokens.FindByID(ctx, tokenID)
	if err != nil {
		g.logger.Warn("redemption lookup failed", zap.Int64("token_id", tokenID), zap.Error(err))
		return false
	}

	if token.Status != domain.TokenValid {
		return false
	}

	if token.IsExpired(time.Now()) {
		// Best-effort bookkeeping; the token is unusable either way.
		if _, err := g.tokens.UpdateStatus(ctx, tokenID, domain.TokenValid, domain.TokenExpired); err != nil {
			g.logger.Warn("marking token expired failed", zap.Int64("token_id", tokenID), zap.Error(err))
		}
		return false
	}

	redeemed, err := g.tokens.UpdateStatus(ctx, tokenID, domain.TokenValid, domain.TokenRedeemed)
	if err != nil {
		g.logger.Error("redemption write failed", zap.Int64("token_id", tokenID), zap.Error(err))
		return false
	}
	return redeemed
}
