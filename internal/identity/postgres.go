package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolConfig carries the pgx pool settings. DSN is required; zero values
// elsewhere fall back to the defaults below.
type PoolConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	ConnectTimeout  time.Duration
	QueryTimeout    time.Duration
}

const (
	defaultMaxConns        = 8
	defaultMinConns        = 2
	defaultMaxConnLifetime = 30 * time.Minute
	defaultMaxConnIdleTime = 5 * time.Minute
	defaultConnectTimeout  = 5 * time.Second
	defaultQueryTimeout    = 3 * time.Second
)

// NewPool builds a pgx pool from cfg and verifies connectivity before
// returning it.
func NewPool(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	pc.MaxConns = cfg.MaxConns
	if pc.MaxConns <= 0 {
		pc.MaxConns = defaultMaxConns
	}
	pc.MinConns = cfg.MinConns
	if pc.MinConns <= 0 {
		pc.MinConns = defaultMinConns
	}
	pc.MaxConnLifetime = cfg.MaxConnLifetime
	if pc.MaxConnLifetime <= 0 {
		pc.MaxConnLifetime = defaultMaxConnLifetime
	}
	pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	if pc.MaxConnIdleTime <= 0 {
		pc.MaxConnIdleTime = defaultMaxConnIdleTime
	}

	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = defaultConnectTimeout
	}
	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(pingCtx, pc)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

const selectUserColumns = `
SELECT id, email, name,
       COALESCE(password_hash, ''),
       COALESCE(google_sub, ''),
       COALESCE(microsoft_sub, ''),
       role, created_at, updated_at
FROM users`

const (
	queryUserByID           = selectUserColumns + ` WHERE id = $1`
	queryUserByEmail        = selectUserColumns + ` WHERE email = $1`
	queryUserByGoogleSub    = selectUserColumns + ` WHERE google_sub = $1`
	queryUserByMicrosoftSub = selectUserColumns + ` WHERE microsoft_sub = $1`

	queryInsertUser = `
INSERT INTO users (email, name, password_hash, google_sub, microsoft_sub, role)
VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), $6)
RETURNING id, created_at, updated_at`

	queryUpdatePasswordHash = `
UPDATE users SET password_hash = NULLIF($2, ''), updated_at = now()
WHERE id = $1`

	queryLinkGoogle = `
UPDATE users SET google_sub = $2, updated_at = now()
WHERE id = $1 AND (google_sub IS NULL OR google_sub = $2)`

	queryLinkMicrosoft = `
UPDATE users SET microsoft_sub = $2, updated_at = now()
WHERE id = $1 AND (microsoft_sub IS NULL OR microsoft_sub = $2)`

	// Clearing a subject only when another credential remains makes the
	// last-credential check atomic with the removal.
	queryUnlinkGoogle = `
UPDATE users SET google_sub = NULL, updated_at = now()
WHERE id = $1
  AND google_sub IS NOT NULL
  AND (password_hash IS NOT NULL OR microsoft_sub IS NOT NULL)`

	queryUnlinkMicrosoft = `
UPDATE users SET microsoft_sub = NULL, updated_at = now()
WHERE id = $1
  AND microsoft_sub IS NOT NULL
  AND (password_hash IS NOT NULL OR google_sub IS NOT NULL)`
)

// PostgresStore implements Store over a pgx pool.
type PostgresStore struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

func NewPostgresStore(pool *pgxpool.Pool, queryTimeout time.Duration) *PostgresStore {
	if queryTimeout <= 0 {
		queryTimeout = defaultQueryTimeout
	}
	return &PostgresStore{pool: pool, timeout: queryTimeout}
}

func (s *PostgresStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func (s *PostgresStore) GetByID(ctx context.Context, id int64) (*User, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	u, err := scanUser(s.pool.QueryRow(ctx, queryUserByID, id))
	if err != nil {
		return nil, fmt.Errorf("get user by id: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	u, err := scanUser(s.pool.QueryRow(ctx, queryUserByEmail, NormalizeEmail(email)))
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) GetByProviderSubject(ctx context.Context, provider Provider, subject string) (*User, error) {
	query, err := subjectQuery(provider)
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	u, err := scanUser(s.pool.QueryRow(ctx, query, subject))
	if err != nil {
		return nil, fmt.Errorf("get user by %s subject: %w", provider, err)
	}
	return u, nil
}

func (s *PostgresStore) Create(ctx context.Context, u *User) (*User, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	created := *u
	created.Email = NormalizeEmail(u.Email)
	if created.Role == "" {
		created.Role = RoleMember
	}

	err := s.pool.QueryRow(ctx, queryInsertUser,
		created.Email, created.Name, created.PasswordHash,
		created.GoogleSub, created.MicrosoftSub, string(created.Role),
	).Scan(&created.ID, &created.CreatedAt, &created.UpdatedAt)
	if err != nil {
		if sentinel := uniqueViolation(err); sentinel != nil {
			return nil, sentinel
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return &created, nil
}

func (s *PostgresStore) UpdatePasswordHash(ctx context.Context, id int64, hash string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tag, err := s.pool.Exec(ctx, queryUpdatePasswordHash, id, hash)
	if err != nil {
		return fmt.Errorf("update password hash: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) LinkProvider(ctx context.Context, id int64, provider Provider, subject string) error {
	query, err := linkQuery(provider)
	if err != nil {
		return err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tag, err := s.pool.Exec(ctx, query, id, subject)
	if err != nil {
		if sentinel := uniqueViolation(err); sentinel != nil {
			return sentinel
		}
		return fmt.Errorf("link %s: %w", provider, err)
	}
	if tag.RowsAffected() == 0 {
		return s.classifyLinkFailure(ctx, id)
	}
	return nil
}

func (s *PostgresStore) UnlinkProvider(ctx context.Context, id int64, provider Provider) error {
	query, err := unlinkQuery(provider)
	if err != nil {
		return err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("unlink %s: %w", provider, err)
	}
	if tag.RowsAffected() == 0 {
		return s.classifyUnlinkFailure(ctx, id, provider)
	}
	return nil
}

// classifyLinkFailure explains a zero-row link update: either the user is
// gone or the provider already carries a different subject.
func (s *PostgresStore) classifyLinkFailure(ctx context.Context, id int64) error {
	if _, err := scanUser(s.pool.QueryRow(ctx, queryUserByID, id)); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("classify link failure: %w", err)
	}
	return ErrAlreadyLinked
}

func (s *PostgresStore) classifyUnlinkFailure(ctx context.Context, id int64, provider Provider) error {
	u, err := scanUser(s.pool.QueryRow(ctx, queryUserByID, id))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("classify unlink failure: %w", err)
	}
	if u.SubjectFor(provider) == "" {
		return ErrNotLinked
	}
	return ErrLastCredential
}

func subjectQuery(provider Provider) (string, error) {
	switch provider {
	case ProviderGoogle:
		return queryUserByGoogleSub, nil
	case ProviderMicrosoft:
		return queryUserByMicrosoftSub, nil
	default:
		return "", fmt.Errorf("unknown oauth provider %q", provider)
	}
}

func linkQuery(provider Provider) (string, error) {
	switch provider {
	case ProviderGoogle:
		return queryLinkGoogle, nil
	case ProviderMicrosoft:
		return queryLinkMicrosoft, nil
	default:
		return "", fmt.Errorf("unknown oauth provider %q", provider)
	}
}

func unlinkQuery(provider Provider) (string, error) {
	switch provider {
	case ProviderGoogle:
		return queryUnlinkGoogle, nil
	case ProviderMicrosoft:
		return queryUnlinkMicrosoft, nil
	default:
		return "", fmt.Errorf("unknown oauth provider %q", provider)
	}
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	var role string
	err := row.Scan(
		&u.ID, &u.Email, &u.Name,
		&u.PasswordHash, &u.GoogleSub, &u.MicrosoftSub,
		&role, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	u.Role = Role(role)
	return &u, nil
}

// uniqueViolation maps a 23505 to the sentinel matching the violated
// constraint, or nil when err is something else.
func uniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return nil
	}
	switch pgErr.ConstraintName {
	case "users_email_idx":
		return ErrEmailTaken
	case "users_google_sub_idx", "users_microsoft_sub_idx":
		return ErrSubjectTaken
	}
	return ErrEmailTaken
}
