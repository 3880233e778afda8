// Package memory keeps codes, refresh tokens, clients and users in process
// memory. Codes and tokens are held in ttlcache so expired records are
// evicted automatically.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/pilab-dev/shadow-auth/domain"
)

// AuthCodeStore implements domain.AuthCodeRepository.
type AuthCodeStore struct {
	// mu serializes the check-and-set in ConsumeAuthCode.
	mu    sync.Mutex
	cache *ttlcache.Cache[string, *domain.AuthorizationCode]
}

// NewAuthCodeStore creates a store and starts its eviction loop. Call Close
// to stop it.
func NewAuthCodeStore() *AuthCodeStore {
	cache := ttlcache.New(
		ttlcache.WithDisableTouchOnHit[string, *domain.AuthorizationCode](),
	)
	go cache.Start()

	return &AuthCodeStore{cache: cache}
}

func (s *AuthCodeStore) SaveAuthCode(_ context.Context, code *domain.AuthorizationCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cache.Has(code.Code) {
		return domain.ErrAuthCodeDuplicate
	}

	cp := *code
	s.cache.Set(code.Code, &cp, ttlUntil(code.ExpiresAt))

	return nil
}

func (s *AuthCodeStore) ConsumeAuthCode(_ context.Context, code, clientID, redirectURI string, now time.Time) (*domain.AuthorizationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.cache.Get(code)
	if item == nil {
		return nil, domain.ErrAuthCodeNotFound
	}

	stored := item.Value()
	switch {
	case stored.ClientID != clientID:
		return nil, domain.ErrClientMismatch
	case stored.Consumed:
		return nil, domain.ErrAuthCodeConsumed
	case stored.IsExpired(now):
		return nil, domain.ErrAuthCodeExpired
	case !stored.RedirectMatches(redirectURI):
		return nil, domain.ErrRedirectMismatch
	}

	stored.Consumed = true
	cp := *stored

	return &cp, nil
}

func (s *AuthCodeStore) DeleteExpiredAuthCodes(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for key, item := range s.cache.Items() {
		if item.Value().IsExpired(before) {
			s.cache.Delete(key)
			deleted++
		}
	}

	return deleted, nil
}

// Len returns the number of codes held, expired or not.
func (s *AuthCodeStore) Len() int {
	return s.cache.Len()
}

// Close stops the eviction loop.
func (s *AuthCodeStore) Close() error {
	s.cache.Stop()
	return nil
}

// ttlUntil converts an absolute expiry into a cache TTL. Already expired
// records still get a short TTL so a late consume reports them as expired.
func ttlUntil(expiresAt time.Time) time.Duration {
	ttl := time.Until(expiresAt)
	if ttl < time.Second {
		ttl = time.Second
	}

	return ttl
}
