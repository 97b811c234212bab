package repository

import (
	"context"
	"sync"
	"time"

	"github.com/trentmillar/keystone-net/internal/domain"
)

// Compile-time interface assertions.
var (
	_ TokenRepository         = (*MemoryTokenRepo)(nil)
	_ AuthorizationRepository = (*MemoryAuthorizationRepo)(nil)
	_ UserRepository          = (*MemoryUserRepo)(nil)
	_ ClientRepository        = (*MemoryClientRepo)(nil)
	_ KeyRepository           = (*MemoryKeyRepo)(nil)
)

// MemoryTokenRepo is an in-memory TokenRepository. It backs tests and the
// storage-less development mode; the mutex gives the same conditional-update
// semantics the Postgres repo gets from its WHERE clauses.
type MemoryTokenRepo struct {
	mu     sync.RWMutex
	tokens map[int64]domain.Token
}

func NewMemoryTokenRepo() *MemoryTokenRepo {
	return &MemoryTokenRepo{tokens: make(map[int64]domain.Token)}
}

func (r *MemoryTokenRepo) Create(_ context.Context, token domain.Token) (domain.Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
	r.tokens[token.ID] = token
	return cloneToken(token), nil
}

func (r *MemoryTokenRepo) FindByID(_ context.Context, id int64) (domain.Token, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	token, ok := r.tokens[id]
	if !ok {
		return domain.Token{}, domain.ErrTokenNotFound
	}
	return cloneToken(token), nil
}

func (r *MemoryTokenRepo) FindByReference(_ context.Context, kind domain.TokenKind, reference string) (domain.Token, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, token := range r.tokens {
		if token.Kind == kind && token.Reference == reference {
			return cloneToken(token), nil
		}
	}
	return domain.Token{}, domain.ErrTokenNotFound
}

func (r *MemoryTokenRepo) ListByAuthorization(_ context.Context, authorizationID int64) ([]domain.Token, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var tokens []domain.Token
	for _, token := range r.tokens {
		if token.AuthorizationID == authorizationID {
			tokens = append(tokens, cloneToken(token))
		}
	}
	return tokens, nil
}

func (r *MemoryTokenRepo) UpdateStatus(_ context.Context, id int64, expected, next domain.TokenStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	token, ok := r.tokens[id]
	if !ok || token.Status != expected {
		return false, nil
	}
	token.Status = next
	r.tokens[id] = token
	return true, nil
}

func (r *MemoryTokenRepo) ExtendExpiry(_ context.Context, id int64, expected, next time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	token, ok := r.tokens[id]
	if !ok || !token.ExpiresAt.Equal(expected) {
		return false, nil
	}
	token.ExpiresAt = next
	r.tokens[id] = token
	return true, nil
}

func (r *MemoryTokenRepo) DeleteExpired(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed int64
	for id, token := range r.tokens {
		if token.ExpiresAt.Before(cutoff) || token.Status != domain.TokenValid {
			delete(r.tokens, id)
			removed++
		}
	}
	return removed, nil
}

// MemoryAuthorizationRepo is an in-memory AuthorizationRepository.
type MemoryAuthorizationRepo struct {
	mu             sync.RWMutex
	authorizations map[int64]domain.Authorization
	tokens         *MemoryTokenRepo
}

// NewMemoryAuthorizationRepo creates the repo. The token repo is consulted
// during pruning to decide whether an ad hoc authorization is orphaned; nil
// is accepted and treats every ad hoc authorization as orphaned.
func NewMemoryAuthorizationRepo(tokens *MemoryTokenRepo) *MemoryAuthorizationRepo {
	return &MemoryAuthorizationRepo{
		authorizations: make(map[int64]domain.Authorization),
		tokens:         tokens,
	}
}

func (r *MemoryAuthorizationRepo) Create(_ context.Context, authorization domain.Authorization) (domain.Authorization, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if authorization.CreatedAt.IsZero() {
		authorization.CreatedAt = time.Now().UTC()
	}
	r.authorizations[authorization.ID] = authorization
	return cloneAuthorization(authorization), nil
}

func (r *MemoryAuthorizationRepo) FindByID(_ context.Context, id int64) (domain.Authorization, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	authorization, ok := r.authorizations[id]
	if !ok {
		return domain.Authorization{}, domain.ErrAuthorizationNotFound
	}
	return cloneAuthorization(authorization), nil
}

func (r *MemoryAuthorizationRepo) ListBySubjectClient(_ context.Context, subject, clientID string) ([]domain.Authorization, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []domain.Authorization
	for _, authorization := range r.authorizations {
		if authorization.Subject == subject && authorization.ClientID == clientID {
			result = append(result, cloneAuthorization(authorization))
		}
	}
	return result, nil
}

func (r *MemoryAuthorizationRepo) UpdateStatus(_ context.Context, id int64, expected, next domain.AuthorizationStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	authorization, ok := r.authorizations[id]
	if !ok || authorization.Status != expected {
		return false, nil
	}
	authorization.Status = next
	r.authorizations[id] = authorization
	return true, nil
}

func (r *MemoryAuthorizationRepo) PruneOrphaned(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed int64
	for id, authorization := range r.authorizations {
		if authorization.Status != domain.AuthorizationValid {
			delete(r.authorizations, id)
			removed++
			continue
		}
		if authorization.Type != domain.AuthorizationAdHoc {
			continue
		}
		if r.tokens != nil && r.hasLiveToken(ctx, id, now) {
			continue
		}
		delete(r.authorizations, id)
		removed++
	}
	return removed, nil
}

func (r *MemoryAuthorizationRepo) hasLiveToken(ctx context.Context, authorizationID int64, now time.Time) bool {
	tokens, err := r.tokens.ListByAuthorization(ctx, authorizationID)
	if err != nil {
		return false
	}
	for _, token := range tokens {
		if token.Status == domain.TokenValid && !token.IsExpired(now) {
			return true
		}
	}
	return false
}

// MemoryUserRepo is an in-memory UserRepository.
type MemoryUserRepo struct {
	mu    sync.RWMutex
	users map[int64]domain.User
}

func NewMemoryUserRepo() *MemoryUserRepo {
	return &MemoryUserRepo{users: make(map[int64]domain.User)}
}

func (r *MemoryUserRepo) GetByEmail(_ context.Context, email string) (domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, user := range r.users {
		if user.Email == email {
			return user, nil
		}
	}
	return domain.User{}, domain.ErrUserNotFound
}

func (r *MemoryUserRepo) GetByID(_ context.Context, id int64) (domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.users[id]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return user, nil
}

func (r *MemoryUserRepo) Create(_ context.Context, user domain.User) (domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	r.users[user.ID] = user
	return user, nil
}

// MemoryClientRepo is an in-memory ClientRepository.
type MemoryClientRepo struct {
	mu      sync.RWMutex
	clients map[string]domain.Client
}

func NewMemoryClientRepo() *MemoryClientRepo {
	return &MemoryClientRepo{clients: make(map[string]domain.Client)}
}

func (r *MemoryClientRepo) GetByClientID(_ context.Context, clientID string) (domain.Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.clients[clientID]
	if !ok {
		return domain.Client{}, domain.ErrClientNotFound
	}
	return client, nil
}

func (r *MemoryClientRepo) Create(_ context.Context, client domain.Client) (domain.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if client.CreatedAt.IsZero() {
		client.CreatedAt = time.Now().UTC()
	}
	r.clients[client.ClientID] = client
	return client, nil
}

// MemoryKeyRepo is an in-memory KeyRepository.
type MemoryKeyRepo struct {
	mu  sync.RWMutex
	key *domain.SigningKey
}

func NewMemoryKeyRepo() *MemoryKeyRepo {
	return &MemoryKeyRepo{}
}

func (r *MemoryKeyRepo) GetActiveKey(_ context.Context) (domain.SigningKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.key == nil {
		return domain.SigningKey{}, domain.ErrKeyNotFound
	}
	return *r.key, nil
}

func (r *MemoryKeyRepo) CreateKey(_ context.Context, key domain.SigningKey) (domain.SigningKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key.ID = 1
	key.IsActive = true
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}
	r.key = &key
	return key, nil
}

func cloneToken(token domain.Token) domain.Token {
	token.Scopes = append([]string(nil), token.Scopes...)
	return token
}

func cloneAuthorization(authorization domain.Authorization) domain.Authorization {
	authorization.Scopes = append([]string(nil), authorization.Scopes...)
	if authorization.Properties != nil {
		props := make(map[string]string, len(authorization.Properties))
		for k, v := range authorization.Properties {
			props[k] = v
		}
		authorization.Properties = props
	}
	return authorization
}
