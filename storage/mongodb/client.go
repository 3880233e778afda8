// Package mongodb implements the code, refresh token, client and user
// stores on MongoDB. The client is instrumented with otelmongo so every
// command shows up in traces.
package mongodb

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"
)

const (
	ClientsCollection       = "oauth_clients"
	UsersCollection         = "oauth_users"
	CodesCollection         = "oauth_auth_codes"
	RefreshTokensCollection = "oauth_refresh_tokens"
)

// expiryGrace is how long MongoDB's TTL monitor keeps a record after it
// expired, so late exchanges still report "expired".
const expiryGrace = time.Minute

// Connect opens an instrumented client, pings the primary and returns the
// named database.
func Connect(ctx context.Context, uri, dbName string) (*mongo.Client, *mongo.Database, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(10 * time.Second).
		SetMonitor(otelmongo.NewMonitor())

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("failed to ping mongodb primary: %w", err)
	}

	log.Info().Str("database", dbName).Msg("MongoDB client initialized")

	return client, client.Database(dbName), nil
}

// EnsureIndexes creates the TTL indexes that let MongoDB drop expired codes
// and refresh tokens on its own.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	ttl := options.Index().SetExpireAfterSeconds(int32(expiryGrace / time.Second))

	for _, name := range []string{CodesCollection, RefreshTokensCollection} {
		_, err := db.Collection(name).Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: ttl,
		})
		if err != nil {
			return fmt.Errorf("failed to create ttl index on %s: %w", name, err)
		}
	}

	return nil
}
