package memory

import (
	"context"
	"sync"

	"github.com/pilab-dev/shadow-auth/domain"
)

// ClientRegistry is a read-mostly map of registered clients.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]*domain.Client
}

func NewClientRegistry(clients ...*domain.Client) *ClientRegistry {
	r := &ClientRegistry{clients: make(map[string]*domain.Client, len(clients))}
	for _, c := range clients {
		r.clients[c.ID] = c
	}

	return r
}

func (r *ClientRegistry) LookupClient(_ context.Context, clientID string) (*domain.Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.clients[clientID]
	if !ok {
		return nil, domain.ErrClientNotFound
	}

	return c, nil
}

// Register adds or replaces a client.
func (r *ClientRegistry) Register(c *domain.Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.clients[c.ID] = c
}

// UserStore is an in-memory user store.
type UserStore struct {
	mu     sync.RWMutex
	users  map[string]*domain.User
	hasher domain.SecretHasher
}

func NewUserStore(hasher domain.SecretHasher, users ...*domain.User) *UserStore {
	s := &UserStore{
		users:  make(map[string]*domain.User, len(users)),
		hasher: hasher,
	}
	for _, u := range users {
		s.users[u.Username] = u
	}

	return s
}

func (s *UserStore) LookupUser(_ context.Context, username string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[username]
	if !ok {
		return nil, domain.ErrUserNotFound
	}

	return u, nil
}

func (s *UserStore) VerifyPassword(user *domain.User, candidate string) bool {
	return s.hasher.Verify(user.PasswordHash, candidate) == nil
}

// Add adds or replaces a user.
func (s *UserStore) Add(u *domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.users[u.Username] = u
}

// Delete removes a user.
func (s *UserStore) Delete(username string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.users, username)
}
