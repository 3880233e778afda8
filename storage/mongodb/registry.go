package mongodb

import (
	"context"
	"errors"
	"fmt"

	"github.com/pilab-dev/shadow-auth/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ClientRegistry implements domain.ClientRegistry.
type ClientRegistry struct {
	coll *mongo.Collection
}

func NewClientRegistry(db *mongo.Database) *ClientRegistry {
	return &ClientRegistry{
		coll: db.Collection(ClientsCollection),
	}
}

func (r *ClientRegistry) LookupClient(ctx context.Context, clientID string) (*domain.Client, error) {
	var c domain.Client
	err := r.coll.FindOne(ctx, bson.M{"_id": clientID}).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrClientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve client: %w", err)
	}

	return &c, nil
}

// Upsert inserts or replaces c.
func (r *ClientRegistry) Upsert(ctx context.Context, c *domain.Client) error {
	_, err := r.coll.ReplaceOne(ctx, bson.M{"_id": c.ID}, c, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to upsert client %s: %w", c.ID, err)
	}

	return nil
}

// UserStore implements domain.UserStore.
type UserStore struct {
	coll   *mongo.Collection
	hasher domain.SecretHasher
}

func NewUserStore(db *mongo.Database, hasher domain.SecretHasher) *UserStore {
	return &UserStore{
		coll:   db.Collection(UsersCollection),
		hasher: hasher,
	}
}

func (s *UserStore) LookupUser(ctx context.Context, username string) (*domain.User, error) {
	var u domain.User
	err := s.coll.FindOne(ctx, bson.M{"_id": username}).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve user: %w", err)
	}

	return &u, nil
}

func (s *UserStore) VerifyPassword(user *domain.User, candidate string) bool {
	return s.hasher.Verify(user.PasswordHash, candidate) == nil
}

// Upsert inserts or replaces u.
func (s *UserStore) Upsert(ctx context.Context, u *domain.User) error {
	_, err := s.coll.ReplaceOne(ctx, bson.M{"_id": u.Username}, u, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to upsert user %s: %w", u.Username, err)
	}

	return nil
}

// DeleteUser removes a user. Refresh tokens already issued to them stop
// working at the next refresh.
func (s *UserStore) DeleteUser(ctx context.Context, username string) error {
	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": username})
	if err != nil {
		return fmt.Errorf("failed to delete user %s: %w", username, err)
	}
	if res.DeletedCount == 0 {
		return domain.ErrUserNotFound
	}

	return nil
}
