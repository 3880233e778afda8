package memory

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/pilab-dev/shadow-auth/domain"
)

// RefreshTokenStore implements domain.RefreshTokenRepository.
type RefreshTokenStore struct {
	mu    sync.Mutex
	cache *ttlcache.Cache[string, *domain.RefreshToken]
}

func NewRefreshTokenStore() *RefreshTokenStore {
	cache := ttlcache.New(
		ttlcache.WithDisableTouchOnHit[string, *domain.RefreshToken](),
	)
	go cache.Start()

	return &RefreshTokenStore{cache: cache}
}

func (s *RefreshTokenStore) SaveRefreshToken(_ context.Context, token *domain.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cache.Has(token.TokenHash) {
		return domain.ErrRefreshTokenDuplicate
	}

	cp := *token
	cp.Value = ""
	s.cache.Set(token.TokenHash, &cp, ttlUntil(token.ExpiresAt))

	return nil
}

func (s *RefreshTokenStore) FindRefreshToken(_ context.Context, tokenHash string) (*domain.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.cache.Get(tokenHash)
	if item == nil {
		return nil, domain.ErrRefreshTokenNotFound
	}

	cp := *item.Value()

	return &cp, nil
}

func (s *RefreshTokenStore) RedeemRefreshToken(_ context.Context, tokenHash, clientID string, now time.Time) (*domain.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.cache.Get(tokenHash)
	if item == nil {
		return nil, domain.ErrRefreshTokenNotFound
	}

	stored := item.Value()
	switch {
	case stored.ClientID != clientID:
		return nil, domain.ErrClientMismatch
	case stored.Redeemed:
		return nil, domain.ErrRefreshTokenRedeemed
	case stored.IsExpired(now):
		return nil, domain.ErrRefreshTokenExpired
	}

	stored.Redeemed = true
	cp := *stored

	return &cp, nil
}

func (s *RefreshTokenStore) DeleteExpiredRefreshTokens(_ context.Context, before time.Time) (int64, error) {
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

func (s *RefreshTokenStore) Close() error {
	s.cache.Stop()
	return nil
}
