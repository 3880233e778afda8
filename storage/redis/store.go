// Package redis stores authorization codes and refresh tokens as Redis
// hashes. Single-use transitions run as Lua scripts so they are atomic
// across server replicas.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pilab-dev/shadow-auth/domain"
	"github.com/redis/go-redis/v9"
)

// expiryGrace keeps records around briefly after they expire so a late
// exchange reports "expired" rather than "not found".
const expiryGrace = time.Minute

const (
	statusOK             = "OK"
	statusNotFound       = "NOT_FOUND"
	statusClientMismatch = "CLIENT_MISMATCH"
	statusUsed           = "USED"
	statusExpired        = "EXPIRED"
	statusRedirect       = "REDIRECT_MISMATCH"
)

var saveScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], 'data', ARGV[1], 'client_id', ARGV[2], 'used', ARGV[3], 'expires_at', ARGV[4],
  'redirect_uri', ARGV[6], 'redirect_provided', ARGV[7])
redis.call('PEXPIREAT', KEYS[1], ARGV[5])
return 1
`)

var useScript = redis.NewScript(`
local v = redis.call('HMGET', KEYS[1], 'data', 'client_id', 'used', 'expires_at', 'redirect_uri', 'redirect_provided')
if not v[1] then
  return {'NOT_FOUND', ''}
end
if v[2] ~= ARGV[1] then
  return {'CLIENT_MISMATCH', ''}
end
if v[3] == '1' then
  return {'USED', ''}
end
if tonumber(ARGV[2]) >= tonumber(v[4]) then
  return {'EXPIRED', ''}
end
if ARGV[3] == '1' then
  if ARGV[4] == '' then
    if v[6] == '1' then
      return {'REDIRECT_MISMATCH', ''}
    end
  elseif v[5] ~= ARGV[4] then
    return {'REDIRECT_MISMATCH', ''}
  end
end
redis.call('HSET', KEYS[1], 'used', '1')
return {'OK', v[1]}
`)

var deleteIfExpiredScript = redis.NewScript(`
local e = redis.call('HGET', KEYS[1], 'expires_at')
if e and tonumber(e) <= tonumber(ARGV[1]) then
  redis.call('DEL', KEYS[1])
  return 1
end
return 0
`)

// Store implements domain.AuthCodeRepository and
// domain.RefreshTokenRepository.
type Store struct {
	client redis.UniversalClient
	prefix string
}

// NewStore creates a store using keys under prefix.
func NewStore(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "sauth"
	}

	return &Store{
		client: client,
		prefix: prefix,
	}
}

// Connect opens a client for addr and pings it.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", addr, err)
	}

	return client, nil
}

func (s *Store) codeKey(code string) string {
	return fmt.Sprintf("%s:code:%s", s.prefix, code)
}

func (s *Store) refreshKey(hash string) string {
	return fmt.Sprintf("%s:refresh:%s", s.prefix, hash)
}

// redirectBinding is the redirect URI a code was issued for. Refresh tokens
// carry none.
type redirectBinding struct {
	uri      string
	provided bool
}

func flag(b bool) string {
	if b {
		return "1"
	}

	return "0"
}

func (s *Store) save(ctx context.Context, key string, record any, clientID string, used bool, expiresAt time.Time,
	redirect redirectBinding,
) (bool, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return false, fmt.Errorf("failed to marshal record: %w", err)
	}

	created, err := saveScript.Run(ctx, s.client, []string{key},
		string(data),
		clientID,
		flag(used),
		expiresAt.UnixMilli(),
		expiresAt.Add(expiryGrace).UnixMilli(),
		redirect.uri,
		flag(redirect.provided),
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to save %s: %w", key, err)
	}

	return created == 1, nil
}

// use runs the single-use transition and returns the stored JSON on success.
// When checkRedirect is set the presented redirect URI is matched against the
// stored binding before the record is marked used.
func (s *Store) use(ctx context.Context, key, clientID string, now time.Time,
	checkRedirect bool, redirectURI string,
) (string, string, error) {
	res, err := useScript.Run(ctx, s.client, []string{key},
		clientID, now.UnixMilli(), flag(checkRedirect), redirectURI).StringSlice()
	if err != nil {
		return "", "", fmt.Errorf("failed to use %s: %w", key, err)
	}
	if len(res) != 2 {
		return "", "", fmt.Errorf("unexpected script reply for %s: %v", key, res)
	}

	return res[0], res[1], nil
}

func (s *Store) SaveAuthCode(ctx context.Context, code *domain.AuthorizationCode) error {
	created, err := s.save(ctx, s.codeKey(code.Code), code, code.ClientID, code.Consumed, code.ExpiresAt,
		redirectBinding{uri: code.RedirectURI, provided: code.RedirectURIProvided})
	if err != nil {
		return err
	}
	if !created {
		return domain.ErrAuthCodeDuplicate
	}

	return nil
}

func (s *Store) ConsumeAuthCode(ctx context.Context, code, clientID, redirectURI string, now time.Time) (*domain.AuthorizationCode, error) {
	status, data, err := s.use(ctx, s.codeKey(code), clientID, now, true, redirectURI)
	if err != nil {
		return nil, err
	}

	switch status {
	case statusOK:
	case statusNotFound:
		return nil, domain.ErrAuthCodeNotFound
	case statusClientMismatch:
		return nil, domain.ErrClientMismatch
	case statusUsed:
		return nil, domain.ErrAuthCodeConsumed
	case statusExpired:
		return nil, domain.ErrAuthCodeExpired
	case statusRedirect:
		return nil, domain.ErrRedirectMismatch
	default:
		return nil, fmt.Errorf("unexpected consume status %q", status)
	}

	var ac domain.AuthorizationCode
	if err := json.Unmarshal([]byte(data), &ac); err != nil {
		return nil, fmt.Errorf("failed to unmarshal authorization code: %w", err)
	}
	ac.Consumed = true

	return &ac, nil
}

func (s *Store) DeleteExpiredAuthCodes(ctx context.Context, before time.Time) (int64, error) {
	return s.deleteExpired(ctx, s.codeKey("*"), before)
}

func (s *Store) SaveRefreshToken(ctx context.Context, token *domain.RefreshToken) error {
	created, err := s.save(ctx, s.refreshKey(token.TokenHash), token, token.ClientID, token.Redeemed, token.ExpiresAt,
		redirectBinding{})
	if err != nil {
		return err
	}
	if !created {
		return domain.ErrRefreshTokenDuplicate
	}

	return nil
}

func (s *Store) FindRefreshToken(ctx context.Context, tokenHash string) (*domain.RefreshToken, error) {
	vals, err := s.client.HMGet(ctx, s.refreshKey(tokenHash), "data", "used").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read refresh token: %w", err)
	}

	data, ok := vals[0].(string)
	if !ok {
		return nil, domain.ErrRefreshTokenNotFound
	}

	token, err := decodeRefreshToken(data, tokenHash)
	if err != nil {
		return nil, err
	}
	token.Redeemed = vals[1] == "1"

	return token, nil
}

func (s *Store) RedeemRefreshToken(ctx context.Context, tokenHash, clientID string, now time.Time) (*domain.RefreshToken, error) {
	status, data, err := s.use(ctx, s.refreshKey(tokenHash), clientID, now, false, "")
	if err != nil {
		return nil, err
	}

	switch status {
	case statusOK:
	case statusNotFound:
		return nil, domain.ErrRefreshTokenNotFound
	case statusClientMismatch:
		return nil, domain.ErrClientMismatch
	case statusUsed:
		return nil, domain.ErrRefreshTokenRedeemed
	case statusExpired:
		return nil, domain.ErrRefreshTokenExpired
	default:
		return nil, fmt.Errorf("unexpected redeem status %q", status)
	}

	token, err := decodeRefreshToken(data, tokenHash)
	if err != nil {
		return nil, err
	}
	token.Redeemed = true

	return token, nil
}

func (s *Store) DeleteExpiredRefreshTokens(ctx context.Context, before time.Time) (int64, error) {
	return s.deleteExpired(ctx, s.refreshKey("*"), before)
}

// deleteExpired sweeps keys matching pattern. Redis drops records on its own
// after the grace period; this only brings that forward.
func (s *Store) deleteExpired(ctx context.Context, pattern string, before time.Time) (int64, error) {
	var deleted int64

	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		n, err := deleteIfExpiredScript.Run(ctx, s.client, []string{iter.Val()}, before.UnixMilli()).Int64()
		if err != nil {
			return deleted, fmt.Errorf("failed to delete %s: %w", iter.Val(), err)
		}
		deleted += n
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("failed to scan %s: %w", pattern, err)
	}

	return deleted, nil
}

func decodeRefreshToken(data, tokenHash string) (*domain.RefreshToken, error) {
	var token domain.RefreshToken
	if err := json.Unmarshal([]byte(data), &token); err != nil {
		return nil, fmt.Errorf("failed to unmarshal refresh token: %w", err)
	}
	token.TokenHash = tokenHash

	return &token, nil
}
