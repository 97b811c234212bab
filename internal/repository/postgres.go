package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/trentmillar/keystone-net/internal/domain"
)

// Compile-time interface assertions.
var (
	_ TokenRepository         = (*PostgresTokenRepo)(nil)
	_ AuthorizationRepository = (*PostgresAuthorizationRepo)(nil)
	_ UserRepository          = (*PostgresUserRepo)(nil)
	_ ClientRepository        = (*PostgresClientRepo)(nil)
	_ KeyRepository           = (*PostgresKeyRepo)(nil)
)

// PostgresTokenRepo implements TokenRepository on pgx. All cross-request
// coordination happens through the conditional UPDATE statements below; the
// repo holds no state of its own.
type PostgresTokenRepo struct {
	db *pgxpool.Pool
}

func NewPostgresTokenRepo(pool *pgxpool.Pool) *PostgresTokenRepo {
	return &PostgresTokenRepo{db: pool}
}

const insertTokenSQL = `INSERT INTO tokens (id, kind, status, subject, client_id, authorization_id, reference, payload, scopes, expires_at)
VALUES ($1, $2, $3, $4, $5, NULLIF($6, 0), $7, $8, $9, $10)
RETURNING id, kind, status, subject, client_id, COALESCE(authorization_id, 0), reference, payload, scopes, expires_at, created_at`

const selectTokenSQL = `SELECT id, kind, status, subject, client_id, COALESCE(authorization_id, 0), reference, payload, scopes, expires_at, created_at
FROM tokens`

func (r *PostgresTokenRepo) Create(ctx context.Context, token domain.Token) (domain.Token, error) {
	row := r.db.QueryRow(ctx, insertTokenSQL,
		token.ID,
		token.Kind,
		token.Status,
		token.Subject,
		token.ClientID,
		token.AuthorizationID,
		token.Reference,
		token.Payload,
		token.Scopes,
		token.ExpiresAt,
	)
	created, err := scanToken(row)
	if err != nil {
		return domain.Token{}, fmt.Errorf("insert token: %w", err)
	}
	return created, nil
}

func (r *PostgresTokenRepo) FindByID(ctx context.Context, id int64) (domain.Token, error) {
	row := r.db.QueryRow(ctx, selectTokenSQL+` WHERE id = $1`, id)
	token, err := scanToken(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Token{}, domain.ErrTokenNotFound
	}
	if err != nil {
		return domain.Token{}, fmt.Errorf("get token: %w", err)
	}
	return token, nil
}

func (r *PostgresTokenRepo) FindByReference(ctx context.Context, kind domain.TokenKind, reference string) (domain.Token, error) {
	row := r.db.QueryRow(ctx, selectTokenSQL+` WHERE kind = $1 AND reference = $2`, kind, reference)
	token, err := scanToken(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Token{}, domain.ErrTokenNotFound
	}
	if err != nil {
		return domain.Token{}, fmt.Errorf("get token by reference: %w", err)
	}
	return token, nil
}

func (r *PostgresTokenRepo) ListByAuthorization(ctx context.Context, authorizationID int64) ([]domain.Token, error) {
	rows, err := r.db.Query(ctx, selectTokenSQL+` WHERE authorization_id = $1`, authorizationID)
	if err != nil {
		return nil, fmt.Errorf("list tokens by authorization: %w", err)
	}
	defer rows.Close()

	var tokens []domain.Token
	for rows.Next() {
		token, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tokens by authorization: %w", err)
	}
	return tokens, nil
}

func (r *PostgresTokenRepo) UpdateStatus(ctx context.Context, id int64, expected, next domain.TokenStatus) (bool, error) {
	ct, err := r.db.Exec(ctx, `UPDATE tokens SET status = $3 WHERE id = $1 AND status = $2`, id, expected, next)
	if err != nil {
		return false, fmt.Errorf("update token status: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

func (r *PostgresTokenRepo) ExtendExpiry(ctx context.Context, id int64, expected, next time.Time) (bool, error) {
	ct, err := r.db.Exec(ctx, `UPDATE tokens SET expires_at = $3 WHERE id = $1 AND expires_at = $2`, id, expected, next)
	if err != nil {
		return false, fmt.Errorf("extend token expiry: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

func (r *PostgresTokenRepo) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	ct, err := r.db.Exec(ctx, `DELETE FROM tokens WHERE expires_at < $1 OR status <> $2`, cutoff, domain.TokenValid)
	if err != nil {
		return 0, fmt.Errorf("delete expired tokens: %w", err)
	}
	return ct.RowsAffected(), nil
}

// PostgresAuthorizationRepo implements AuthorizationRepository on pgx.
type PostgresAuthorizationRepo struct {
	db *pgxpool.Pool
}

func NewPostgresAuthorizationRepo(pool *pgxpool.Pool) *PostgresAuthorizationRepo {
	return &PostgresAuthorizationRepo{db: pool}
}

const insertAuthorizationSQL = `INSERT INTO authorizations (id, subject, client_id, type, status, scopes, properties)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id, subject, client_id, type, status, scopes, properties, created_at`

const selectAuthorizationSQL = `SELECT id, subject, client_id, type, status, scopes, properties, created_at
FROM authorizations`

func (r *PostgresAuthorizationRepo) Create(ctx context.Context, authorization domain.Authorization) (domain.Authorization, error) {
	properties, err := json.Marshal(authorization.Properties)
	if err != nil {
		return domain.Authorization{}, fmt.Errorf("marshal authorization properties: %w", err)
	}
	row := r.db.QueryRow(ctx, insertAuthorizationSQL,
		authorization.ID,
		authorization.Subject,
		authorization.ClientID,
		authorization.Type,
		authorization.Status,
		authorization.Scopes,
		properties,
	)
	created, err := scanAuthorization(row)
	if err != nil {
		return domain.Authorization{}, fmt.Errorf("insert authorization: %w", err)
	}
	return created, nil
}

func (r *PostgresAuthorizationRepo) FindByID(ctx context.Context, id int64) (domain.Authorization, error) {
	row := r.db.QueryRow(ctx, selectAuthorizationSQL+` WHERE id = $1`, id)
	authorization, err := scanAuthorization(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Authorization{}, domain.ErrAuthorizationNotFound
	}
	if err != nil {
		return domain.Authorization{}, fmt.Errorf("get authorization: %w", err)
	}
	return authorization, nil
}

func (r *PostgresAuthorizationRepo) ListBySubjectClient(ctx context.Context, subject, clientID string) ([]domain.Authorization, error) {
	rows, err := r.db.Query(ctx, selectAuthorizationSQL+` WHERE subject = $1 AND client_id = $2`, subject, clientID)
	if err != nil {
		return nil, fmt.Errorf("list authorizations: %w", err)
	}
	defer rows.Close()

	var authorizations []domain.Authorization
	for rows.Next() {
		authorization, err := scanAuthorization(rows)
		if err != nil {
			return nil, fmt.Errorf("scan authorization: %w", err)
		}
		authorizations = append(authorizations, authorization)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list authorizations: %w", err)
	}
	return authorizations, nil
}

func (r *PostgresAuthorizationRepo) UpdateStatus(ctx context.Context, id int64, expected, next domain.AuthorizationStatus) (bool, error) {
	ct, err := r.db.Exec(ctx, `UPDATE authorizations SET status = $3 WHERE id = $1 AND status = $2`, id, expected, next)
	if err != nil {
		return false, fmt.Errorf("update authorization status: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

const pruneAuthorizationsSQL = `DELETE FROM authorizations a
WHERE a.status <> $1
   OR (a.type = $2 AND NOT EXISTS (
        SELECT 1 FROM tokens t
        WHERE t.authorization_id = a.id AND t.status = $3 AND t.expires_at > $4))`

func (r *PostgresAuthorizationRepo) PruneOrphaned(ctx context.Context, now time.Time) (int64, error) {
	ct, err := r.db.Exec(ctx, pruneAuthorizationsSQL,
		domain.AuthorizationValid, domain.AuthorizationAdHoc, domain.TokenValid, now)
	if err != nil {
		return 0, fmt.Errorf("prune authorizations: %w", err)
	}
	return ct.RowsAffected(), nil
}

// PostgresUserRepo implements UserRepository.
type PostgresUserRepo struct {
	db *pgxpool.Pool
}

func NewPostgresUserRepo(pool *pgxpool.Pool) *PostgresUserRepo {
	return &PostgresUserRepo{db: pool}
}

const selectUserSQL = `SELECT id, email, email_verified, password_hash, name, status, created_at, updated_at
FROM users`

const insertUserSQL = `INSERT INTO users (id, email, email_verified, password_hash, name, status)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, email, email_verified, password_hash, name, status, created_at, updated_at`

func (r *PostgresUserRepo) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	row := r.db.QueryRow(ctx, selectUserSQL+` WHERE email = $1`, email)
	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, domain.ErrUserNotFound
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

func (r *PostgresUserRepo) GetByID(ctx context.Context, id int64) (domain.User, error) {
	row := r.db.QueryRow(ctx, selectUserSQL+` WHERE id = $1`, id)
	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, domain.ErrUserNotFound
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("get user by id: %w", err)
	}
	return user, nil
}

func (r *PostgresUserRepo) Create(ctx context.Context, user domain.User) (domain.User, error) {
	row := r.db.QueryRow(ctx, insertUserSQL,
		user.ID,
		user.Email,
		user.EmailVerified,
		user.PasswordHash,
		user.Name,
		user.Status,
	)
	created, err := scanUser(row)
	if err != nil {
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}
	return created, nil
}

// PostgresClientRepo implements ClientRepository.
type PostgresClientRepo struct {
	db *pgxpool.Pool
}

func NewPostgresClientRepo(pool *pgxpool.Pool) *PostgresClientRepo {
	return &PostgresClientRepo{db: pool}
}

const selectClientSQL = `SELECT id, client_id, client_secret, redirect_uris, grant_types, scopes, created_at
FROM clients`

const insertClientSQL = `INSERT INTO clients (id, client_id, client_secret, redirect_uris, grant_types, scopes)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, client_id, client_secret, redirect_uris, grant_types, scopes, created_at`

func (r *PostgresClientRepo) GetByClientID(ctx context.Context, clientID string) (domain.Client, error) {
	row := r.db.QueryRow(ctx, selectClientSQL+` WHERE client_id = $1`, clientID)
	client, err := scanClient(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Client{}, domain.ErrClientNotFound
	}
	if err != nil {
		return domain.Client{}, fmt.Errorf("get client: %w", err)
	}
	return client, nil
}

func (r *PostgresClientRepo) Create(ctx context.Context, client domain.Client) (domain.Client, error) {
	row := r.db.QueryRow(ctx, insertClientSQL,
		client.ID,
		client.ClientID,
		client.ClientSecret,
		client.RedirectURIs,
		client.GrantTypes,
		client.Scopes,
	)
	created, err := scanClient(row)
	if err != nil {
		return domain.Client{}, fmt.Errorf("create client: %w", err)
	}
	return created, nil
}

// PostgresKeyRepo implements KeyRepository.
type PostgresKeyRepo struct {
	db *pgxpool.Pool
}

func NewPostgresKeyRepo(pool *pgxpool.Pool) *PostgresKeyRepo {
	return &PostgresKeyRepo{db: pool}
}

func (r *PostgresKeyRepo) GetActiveKey(ctx context.Context) (domain.SigningKey, error) {
	row := r.db.QueryRow(ctx, `SELECT id, kid, secret, algorithm, is_active, created_at, rotated_at
FROM signing_keys WHERE is_active LIMIT 1`)

	var (
		key       domain.SigningKey
		rotatedAt *time.Time
	)
	err := row.Scan(&key.ID, &key.KID, &key.Secret, &key.Algorithm, &key.IsActive, &key.CreatedAt, &rotatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.SigningKey{}, domain.ErrKeyNotFound
	}
	if err != nil {
		return domain.SigningKey{}, fmt.Errorf("get signing key: %w", err)
	}
	key.RotatedAt = rotatedAt
	return key, nil
}

func (r *PostgresKeyRepo) CreateKey(ctx context.Context, key domain.SigningKey) (domain.SigningKey, error) {
	row := r.db.QueryRow(ctx, `INSERT INTO signing_keys (kid, secret, algorithm, is_active)
VALUES ($1, $2, $3, TRUE)
RETURNING id, kid, secret, algorithm, is_active, created_at`, key.KID, key.Secret, key.Algorithm)

	var created domain.SigningKey
	if err := row.Scan(&created.ID, &created.KID, &created.Secret, &created.Algorithm, &created.IsActive, &created.CreatedAt); err != nil {
		return domain.SigningKey{}, fmt.Errorf("insert signing key: %w", err)
	}
	return created, nil
}

func scanToken(row pgx.Row) (domain.Token, error) {
	var token domain.Token
	err := row.Scan(
		&token.ID,
		&token.Kind,
		&token.Status,
		&token.Subject,
		&token.ClientID,
		&token.AuthorizationID,
		&token.Reference,
		&token.Payload,
		&token.Scopes,
		&token.ExpiresAt,
		&token.CreatedAt,
	)
	if err != nil {
		return domain.Token{}, err
	}
	return token, nil
}

func scanAuthorization(row pgx.Row) (domain.Authorization, error) {
	var (
		authorization domain.Authorization
		properties    []byte
	)
	err := row.Scan(
		&authorization.ID,
		&authorization.Subject,
		&authorization.ClientID,
		&authorization.Type,
		&authorization.Status,
		&authorization.Scopes,
		&properties,
		&authorization.CreatedAt,
	)
	if err != nil {
		return domain.Authorization{}, err
	}
	if len(properties) > 0 {
		props := make(map[string]string)
		if err := json.Unmarshal(properties, &props); err == nil {
			authorization.Properties = props
		}
	}
	return authorization, nil
}

func scanUser(row pgx.Row) (domain.User, error) {
	var user domain.User
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.EmailVerified,
		&user.PasswordHash,
		&user.Name,
		&user.Status,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return domain.User{}, err
	}
	return user, nil
}

func scanClient(row pgx.Row) (domain.Client, error) {
	var client domain.Client
	err := row.Scan(
		&client.ID,
		&client.ClientID,
		&client.ClientSecret,
		&client.RedirectURIs,
		&client.GrantTypes,
		&client.Scopes,
		&client.CreatedAt,
	)
	if err != nil {
		return domain.Client{}, err
	}
	return client, nil
}
