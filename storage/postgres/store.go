// Package postgres stores authorization codes and refresh tokens in
// PostgreSQL via pgx. Single-use transitions are conditional UPDATEs, so the
// row lock decides concurrent exchanges.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pilab-dev/shadow-auth/domain"
)

const uniqueViolation = "23505"

// DB is the subset of pgxpool.Pool the store needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const schema = `
CREATE TABLE IF NOT EXISTS authorization_codes (
	code                  TEXT PRIMARY KEY,
	client_id             TEXT NOT NULL,
	username              TEXT NOT NULL,
	scope                 TEXT[] NOT NULL,
	redirect_uri          TEXT NOT NULL,
	redirect_uri_provided BOOLEAN NOT NULL DEFAULT FALSE,
	issued_at             TIMESTAMPTZ NOT NULL,
	expires_at            TIMESTAMPTZ NOT NULL,
	consumed              BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS authorization_codes_expires_at_idx ON authorization_codes (expires_at);

CREATE TABLE IF NOT EXISTS refresh_tokens (
	token_hash TEXT PRIMARY KEY,
	client_id  TEXT NOT NULL,
	username   TEXT NOT NULL,
	scope      TEXT[] NOT NULL,
	chain_id   TEXT NOT NULL,
	issued_at  TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	redeemed   BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS refresh_tokens_expires_at_idx ON refresh_tokens (expires_at);
`

const (
	insertCodeQuery = `
		INSERT INTO authorization_codes (code, client_id, username, scope, redirect_uri, redirect_uri_provided, issued_at, expires_at, consumed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	consumeCodeQuery = `
		UPDATE authorization_codes SET consumed = TRUE
		WHERE code = $1 AND client_id = $2 AND consumed = FALSE AND expires_at > $3
		AND (CASE WHEN $4::text = '' THEN NOT redirect_uri_provided ELSE redirect_uri = $4::text END)
		RETURNING username, scope, redirect_uri, redirect_uri_provided, issued_at, expires_at`

	codeStateQuery = `
		SELECT client_id, consumed, expires_at, redirect_uri, redirect_uri_provided
		FROM authorization_codes WHERE code = $1`

	deleteExpiredCodesQuery = `
		DELETE FROM authorization_codes WHERE expires_at <= $1`

	insertRefreshQuery = `
		INSERT INTO refresh_tokens (token_hash, client_id, username, scope, chain_id, issued_at, expires_at, redeemed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	findRefreshQuery = `
		SELECT client_id, username, scope, chain_id, issued_at, expires_at, redeemed
		FROM refresh_tokens WHERE token_hash = $1`

	redeemRefreshQuery = `
		UPDATE refresh_tokens SET redeemed = TRUE
		WHERE token_hash = $1 AND client_id = $2 AND redeemed = FALSE AND expires_at > $3
		RETURNING username, scope, chain_id, issued_at, expires_at`

	refreshStateQuery = `
		SELECT client_id, redeemed FROM refresh_tokens WHERE token_hash = $1`

	deleteExpiredRefreshQuery = `
		DELETE FROM refresh_tokens WHERE expires_at <= $1`
)

// Store implements domain.AuthCodeRepository and
// domain.RefreshTokenRepository.
type Store struct {
	db DB
}

func NewStore(db DB) *Store {
	return &Store{db: db}
}

// Connect opens a pool for dsn and pings it.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return pool, nil
}

// Migrate creates the tables and indexes if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	return nil
}

func (s *Store) SaveAuthCode(ctx context.Context, code *domain.AuthorizationCode) error {
	_, err := s.db.Exec(ctx, insertCodeQuery,
		code.Code, code.ClientID, code.Username, code.Scope, code.RedirectURI,
		code.RedirectURIProvided, code.IssuedAt, code.ExpiresAt, code.Consumed)
	if isUniqueViolation(err) {
		return domain.ErrAuthCodeDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to insert authorization code: %w", err)
	}

	return nil
}

func (s *Store) ConsumeAuthCode(ctx context.Context, code, clientID, redirectURI string, now time.Time) (*domain.AuthorizationCode, error) {
	ac := &domain.AuthorizationCode{Code: code, ClientID: clientID, Consumed: true}

	err := s.db.QueryRow(ctx, consumeCodeQuery, code, clientID, now, redirectURI).Scan(
		&ac.Username, &ac.Scope, &ac.RedirectURI, &ac.RedirectURIProvided, &ac.IssuedAt, &ac.ExpiresAt)
	if err == nil {
		return ac, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to consume authorization code: %w", err)
	}

	var state domain.AuthorizationCode
	err = s.db.QueryRow(ctx, codeStateQuery, code).Scan(
		&state.ClientID, &state.Consumed, &state.ExpiresAt, &state.RedirectURI, &state.RedirectURIProvided)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, domain.ErrAuthCodeNotFound
	case err != nil:
		return nil, fmt.Errorf("failed to read authorization code: %w", err)
	case state.ClientID != clientID:
		return nil, domain.ErrClientMismatch
	case state.Consumed:
		return nil, domain.ErrAuthCodeConsumed
	case state.IsExpired(now):
		return nil, domain.ErrAuthCodeExpired
	case !state.RedirectMatches(redirectURI):
		return nil, domain.ErrRedirectMismatch
	default:
		// Another exchange won between the UPDATE and this read.
		return nil, domain.ErrAuthCodeConsumed
	}
}

func (s *Store) DeleteExpiredAuthCodes(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, deleteExpiredCodesQuery, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired authorization codes: %w", err)
	}

	return tag.RowsAffected(), nil
}

func (s *Store) SaveRefreshToken(ctx context.Context, token *domain.RefreshToken) error {
	_, err := s.db.Exec(ctx, insertRefreshQuery,
		token.TokenHash, token.ClientID, token.Username, token.Scope, token.ChainID,
		token.IssuedAt, token.ExpiresAt, token.Redeemed)
	if isUniqueViolation(err) {
		return domain.ErrRefreshTokenDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to insert refresh token: %w", err)
	}

	return nil
}

func (s *Store) FindRefreshToken(ctx context.Context, tokenHash string) (*domain.RefreshToken, error) {
	t := &domain.RefreshToken{TokenHash: tokenHash}

	err := s.db.QueryRow(ctx, findRefreshQuery, tokenHash).Scan(
		&t.ClientID, &t.Username, &t.Scope, &t.ChainID, &t.IssuedAt, &t.ExpiresAt, &t.Redeemed)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrRefreshTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read refresh token: %w", err)
	}

	return t, nil
}

func (s *Store) RedeemRefreshToken(ctx context.Context, tokenHash, clientID string, now time.Time) (*domain.RefreshToken, error) {
	t := &domain.RefreshToken{TokenHash: tokenHash, ClientID: clientID, Redeemed: true}

	err := s.db.QueryRow(ctx, redeemRefreshQuery, tokenHash, clientID, now).Scan(
		&t.Username, &t.Scope, &t.ChainID, &t.IssuedAt, &t.ExpiresAt)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to redeem refresh token: %w", err)
	}

	var (
		owner    string
		redeemed bool
	)
	err = s.db.QueryRow(ctx, refreshStateQuery, tokenHash).Scan(&owner, &redeemed)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, domain.ErrRefreshTokenNotFound
	case err != nil:
		return nil, fmt.Errorf("failed to read refresh token: %w", err)
	case owner != clientID:
		return nil, domain.ErrClientMismatch
	case redeemed:
		return nil, domain.ErrRefreshTokenRedeemed
	default:
		return nil, domain.ErrRefreshTokenExpired
	}
}

func (s *Store) DeleteExpiredRefreshTokens(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, deleteExpiredRefreshQuery, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired refresh tokens: %w", err)
	}

	return tag.RowsAffected(), nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError

	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
