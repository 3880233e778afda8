// Package bolt persists authorization codes and refresh tokens in a single
// bbolt file. bbolt serializes writers, so every check-and-set runs inside
// one Update transaction.
package bolt

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pilab-dev/shadow-auth/domain"
	"github.com/rs/zerolog/log"
	"go.etcd.io/bbolt"
)

var (
	codesBucket  = []byte("authorization_codes")
	tokensBucket = []byte("refresh_tokens")
)

// Store implements domain.AuthCodeRepository and
// domain.RefreshTokenRepository.
type Store struct {
	db *bbolt.DB
}

// Open opens (or creates) the database at path and makes sure the buckets
// exist.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db at %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{codesBucket, tokensBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", name, err)
			}
		}

		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	log.Debug().Str("path", path).Msg("bbolt store opened")

	return &Store{db: db}, nil
}

// Close releases the database file lock.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) SaveAuthCode(ctx context.Context, code *domain.AuthorizationCode) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	value, err := json.Marshal(code)
	if err != nil {
		return fmt.Errorf("failed to encode authorization code: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(codesBucket)
		if b.Get([]byte(code.Code)) != nil {
			return domain.ErrAuthCodeDuplicate
		}

		return b.Put([]byte(code.Code), value)
	})
}

func (s *Store) ConsumeAuthCode(ctx context.Context, code, clientID, redirectURI string, now time.Time) (*domain.AuthorizationCode, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var consumed domain.AuthorizationCode
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(codesBucket)
		raw := b.Get([]byte(code))
		if raw == nil {
			return domain.ErrAuthCodeNotFound
		}
		if err := json.Unmarshal(raw, &consumed); err != nil {
			return fmt.Errorf("failed to decode authorization code: %w", err)
		}

		switch {
		case consumed.ClientID != clientID:
			return domain.ErrClientMismatch
		case consumed.Consumed:
			return domain.ErrAuthCodeConsumed
		case consumed.IsExpired(now):
			return domain.ErrAuthCodeExpired
		case !consumed.RedirectMatches(redirectURI):
			return domain.ErrRedirectMismatch
		}

		consumed.Consumed = true
		value, err := json.Marshal(&consumed)
		if err != nil {
			return fmt.Errorf("failed to encode authorization code: %w", err)
		}

		return b.Put([]byte(code), value)
	})
	if err != nil {
		return nil, err
	}

	return &consumed, nil
}

func (s *Store) DeleteExpiredAuthCodes(ctx context.Context, before time.Time) (int64, error) {
	return s.deleteExpired(ctx, codesBucket, func(raw []byte) (bool, error) {
		var c domain.AuthorizationCode
		if err := json.Unmarshal(raw, &c); err != nil {
			return false, err
		}

		return c.IsExpired(before), nil
	})
}

// refreshRecord is the stored form of a refresh token. The raw value is
// never written.
type refreshRecord struct {
	ClientID  string    `json:"client_id"`
	Username  string    `json:"username"`
	Scope     []string  `json:"scope"`
	ChainID   string    `json:"chain_id"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Redeemed  bool      `json:"redeemed"`
}

func (r *refreshRecord) token(hash string) *domain.RefreshToken {
	return &domain.RefreshToken{
		TokenHash: hash,
		ClientID:  r.ClientID,
		Username:  r.Username,
		Scope:     r.Scope,
		ChainID:   r.ChainID,
		IssuedAt:  r.IssuedAt,
		ExpiresAt: r.ExpiresAt,
		Redeemed:  r.Redeemed,
	}
}

func (s *Store) SaveRefreshToken(ctx context.Context, token *domain.RefreshToken) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	value, err := json.Marshal(&refreshRecord{
		ClientID:  token.ClientID,
		Username:  token.Username,
		Scope:     token.Scope,
		ChainID:   token.ChainID,
		IssuedAt:  token.IssuedAt,
		ExpiresAt: token.ExpiresAt,
		Redeemed:  token.Redeemed,
	})
	if err != nil {
		return fmt.Errorf("failed to encode refresh token: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(tokensBucket)
		if b.Get([]byte(token.TokenHash)) != nil {
			return domain.ErrRefreshTokenDuplicate
		}

		return b.Put([]byte(token.TokenHash), value)
	})
}

func (s *Store) FindRefreshToken(ctx context.Context, tokenHash string) (*domain.RefreshToken, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rec refreshRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(tokensBucket).Get([]byte(tokenHash))
		if raw == nil {
			return domain.ErrRefreshTokenNotFound
		}

		return json.Unmarshal(raw, &rec)
	})
	if err != nil {
		return nil, err
	}

	return rec.token(tokenHash), nil
}

func (s *Store) RedeemRefreshToken(ctx context.Context, tokenHash, clientID string, now time.Time) (*domain.RefreshToken, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rec refreshRecord
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(tokensBucket)
		raw := b.Get([]byte(tokenHash))
		if raw == nil {
			return domain.ErrRefreshTokenNotFound
		}
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("failed to decode refresh token: %w", err)
		}

		switch {
		case rec.ClientID != clientID:
			return domain.ErrClientMismatch
		case rec.Redeemed:
			return domain.ErrRefreshTokenRedeemed
		case !now.Before(rec.ExpiresAt):
			return domain.ErrRefreshTokenExpired
		}

		rec.Redeemed = true
		value, err := json.Marshal(&rec)
		if err != nil {
			return fmt.Errorf("failed to encode refresh token: %w", err)
		}

		return b.Put([]byte(tokenHash), value)
	})
	if err != nil {
		return nil, err
	}

	return rec.token(tokenHash), nil
}

func (s *Store) DeleteExpiredRefreshTokens(ctx context.Context, before time.Time) (int64, error) {
	return s.deleteExpired(ctx, tokensBucket, func(raw []byte) (bool, error) {
		var rec refreshRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return false, err
		}

		return !before.Before(rec.ExpiresAt), nil
	})
}

// deleteExpired collects matching keys first; bbolt cursors must not be
// mutated while iterating with ForEach.
func (s *Store) deleteExpired(ctx context.Context, bucket []byte, expired func([]byte) (bool, error)) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var deleted int64
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucket)

		var keys [][]byte
		err := b.ForEach(func(k, v []byte) error {
			ok, err := expired(v)
			if err != nil {
				log.Warn().Err(err).Bytes("key", k).Msg("skipping undecodable record")
				return nil
			}
			if ok {
				keys = append(keys, append([]byte(nil), k...))
			}

			return nil
		})
		if err != nil {
			return err
		}

		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return fmt.Errorf("failed to delete %s: %w", k, err)
			}
			deleted++
		}

		return nil
	})

	return deleted, err
}
