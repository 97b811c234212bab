package repository

import (
	"context"
	"time"

	"github.com/trentmillar/keystone-net/internal/domain"
)

// TokenRepository persists issued tokens. UpdateStatus and ExtendExpiry are
// compare-and-swap operations: they report whether this call performed the
// transition, and a false result with a nil error means a concurrent caller
// (or an earlier state change) got there first.
type TokenRepository interface {
	Create(ctx context.Context, token domain.Token) (domain.Token, error)
	FindByID(ctx context.Context, id int64) (domain.Token, error)
	FindByReference(ctx context.Context, kind domain.TokenKind, reference string) (domain.Token, error)
	ListByAuthorization(ctx context.Context, authorizationID int64) ([]domain.Token, error)
	UpdateStatus(ctx context.Context, id int64, expected, next domain.TokenStatus) (bool, error)
	ExtendExpiry(ctx context.Context, id int64, expected, next time.Time) (bool, error)
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// AuthorizationRepository persists standing consents.
type AuthorizationRepository interface {
	Create(ctx context.Context, authorization domain.Authorization) (domain.Authorization, error)
	FindByID(ctx context.Context, id int64) (domain.Authorization, error)
	ListBySubjectClient(ctx context.Context, subject, clientID string) ([]domain.Authorization, error)
	UpdateStatus(ctx context.Context, id int64, expected, next domain.AuthorizationStatus) (bool, error)
	// PruneOrphaned removes revoked authorizations and the ad hoc ones with
	// no valid, non-expired token attached. Returns the number removed.
	PruneOrphaned(ctx context.Context, now time.Time) (int64, error)
}

// UserRepository exposes persistence for end users.
type UserRepository interface {
	GetByEmail(ctx context.Context, email string) (domain.User, error)
	GetByID(ctx context.Context, id int64) (domain.User, error)
	Create(ctx context.Context, user domain.User) (domain.User, error)
}

// ClientRepository exposes registered client metadata.
type ClientRepository interface {
	GetByClientID(ctx context.Context, clientID string) (domain.Client, error)
	Create(ctx context.Context, client domain.Client) (domain.Client, error)
}

// KeyRepository stores issuer signing keys.
type KeyRepository interface {
	GetActiveKey(ctx context.Context) (domain.SigningKey, error)
	CreateKey(ctx context.Context, key domain.SigningKey) (domain.SigningKey, error)
}
