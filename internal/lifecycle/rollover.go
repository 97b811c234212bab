package lifecycle

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/trentmillar/keystone-net/internal/domain"
	"github.com/trentmillar/keystone-net/internal/repository"
)

// Decision is the refresh token strategy chosen for one request.
type Decision int

const (
	// DecisionReuse leaves the presented token untouched.
	DecisionReuse Decision = iota
	// DecisionRotate redeems the presented token and mints a replacement.
	DecisionRotate
	// DecisionExtend keeps the presented token and slides its expiration.
	DecisionExtend
)

func (d Decision) String() string {
	switch d {
	case DecisionRotate:
		return "rotate"
	case DecisionExtend:
		return "extend"
	default:
		return "reuse"
	}
}

// Policy decides, per refresh exchange, whether to rotate the refresh token,
// extend its lifetime, or reuse it, and carries out the follow-up writes.
// Rolling and sliding are mutually exclusive strategies: rolling trades
// replay-safety for store churn, sliding trades a narrower reuse window for
// fewer writes.
type Policy struct {
	tokens repository.TokenRepository
	logger *zap.Logger
}

// NewPolicy wires the rollover policy.
func NewPolicy(tokens repository.TokenRepository, logger *zap.Logger) *Policy {
	if logger == nil {
		logger = zap.L()
	}
	return &Policy{tokens: tokens, logger: logger}
}

// Decide classifies the request. Rollover only applies to refresh token
// grants; every other grant mints fresh tokens downstream.
func (p *Policy) Decide(kind RequestKind, opts Options) Decision {
	if kind != RequestRefreshToken {
		return DecisionReuse
	}
	if opts.RollingTokens {
		return DecisionRotate
	}
	if opts.SlidingExpiration {
		return DecisionExtend
	}
	return DecisionReuse
}

// RevokeSiblings revokes every other valid token anchored to the same
// authorization after a rotation. The whole routine is best-effort: a
// concurrent request may have already revoked the same siblings, so failures
// are logged and swallowed, never surfaced to the caller.
func (p *Policy) RevokeSiblings(ctx context.Context, authorizationID, keepTokenID int64) {
	if authorizationID == 0 {
		return
	}

	siblings, err := p.tokens.ListByAuthorization(ctx, authorizationID)
	if err != nil {
		p.logger.Warn("listing sibling tokens failed",
			zap.Int64("authorization_id", authorizationID), zap.Error(err))
		return
	}

	for _, sibling := range siblings {
		if sibling.ID == keepTokenID || sibling.Status != domain.TokenValid {
			continue
		}
		revoked, err := p.tokens.UpdateStatus(ctx, sibling.ID, domain.TokenValid, domain.TokenRevoked)
		if err != nil {
			p.logger.Warn("revoking sibling token failed",
				zap.Int64("token_id", sibling.ID), zap.Error(err))
			continue
		}
		if !revoked {
			// Lost the race to a concurrent request; state already advanced.
			p.logger.Debug("sibling token already transitioned", zap.Int64("token_id", sibling.ID))
		}
	}
}

// Extend slides the token's expiration to now + the configured lifetime. The
// update is keyed on the token's current expiration so a concurrent
// extension is never clobbered; losing that race is absorbed silently
// because the winner already advanced the expiration correctly.
func (p *Policy) Extend(ctx context.Context, token domain.Token, opts Options) {
	next := time.Now().Add(opts.RefreshTokenLifetime).UTC()
	if !next.After(token.ExpiresAt) {
		return
	}
	extended, err := p.tokens.ExtendExpiry(ctx, token.ID, token.ExpiresAt, next)
	if err != nil {
		p.logger.Warn("extending refresh token failed", zap.Int64("token_id", token.ID), zap.Error(err))
		return
	}
	if !extended {
		p.logger.Debug("refresh token expiration already updated", zap.Int64("token_id", token.ID))
	}
}
