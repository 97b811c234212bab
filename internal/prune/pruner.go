package prune

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/trentmillar/keystone-net/internal/repository"
)

// Pruner periodically deletes expired tokens and the ad hoc authorizations
// left without a live token. Pruning is housekeeping only: correctness never
// depends on it because lookups check status and expiry themselves.
type Pruner struct {
	tokens         repository.TokenRepository
	authorizations repository.AuthorizationRepository
	interval       time.Duration
	logger         *zap.Logger
	stop           chan struct{}
	done           chan struct{}
}

// New constructs a pruner sweeping at the given interval.
func New(tokens repository.TokenRepository, authorizations repository.AuthorizationRepository, interval time.Duration, logger *zap.Logger) *Pruner {
	if logger == nil {
		logger = zap.L()
	}
	return &Pruner{
		tokens:         tokens,
		authorizations: authorizations,
		interval:       interval,
		logger:         logger,
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (p *Pruner) Start() {
	go p.run()
}

// Stop terminates the loop and waits for the in-flight sweep to finish.
func (p *Pruner) Stop(ctx context.Context) error {
	close(p.stop)
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pruner) run() {
	defer close(p.done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.Sweep(context.Background())
		case <-p.stop:
			return
		}
	}
}

// Sweep runs one pruning pass. Failures are logged and retried on the next
// tick.
func (p *Pruner) Sweep(ctx context.Context) {
	now := time.Now().UTC()

	tokens, err := p.tokens.DeleteExpired(ctx, now)
	if err != nil {
		p.logger.Warn("pruning expired tokens failed", zap.Error(err))
	}

	authorizations, err := p.authorizations.PruneOrphaned(ctx, now)
	if err != nil {
		p.logger.Warn("pruning orphaned authorizations failed", zap.Error(err))
	}

	if tokens > 0 || authorizations > 0 {
		p.logger.Info("prune sweep completed",
			zap.Int64("tokens_removed", tokens),
			zap.Int64("authorizations_removed", authorizations))
	}
}
