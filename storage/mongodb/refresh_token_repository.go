package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pilab-dev/shadow-auth/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// RefreshTokenRepository keys documents by the token hash; raw values never
// reach the database.
type RefreshTokenRepository struct {
	tokens *mongo.Collection
}

func NewRefreshTokenRepository(db *mongo.Database) *RefreshTokenRepository {
	return &RefreshTokenRepository{
		tokens: db.Collection(RefreshTokensCollection),
	}
}

func (r *RefreshTokenRepository) SaveRefreshToken(ctx context.Context, token *domain.RefreshToken) error {
	_, err := r.tokens.InsertOne(ctx, token)
	if mongo.IsDuplicateKeyError(err) {
		return domain.ErrRefreshTokenDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to save refresh token: %w", err)
	}

	return nil
}

func (r *RefreshTokenRepository) FindRefreshToken(ctx context.Context, tokenHash string) (*domain.RefreshToken, error) {
	var t domain.RefreshToken
	err := r.tokens.FindOne(ctx, bson.M{"_id": tokenHash}).Decode(&t)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrRefreshTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve refresh token: %w", err)
	}

	return &t, nil
}

func (r *RefreshTokenRepository) RedeemRefreshToken(ctx context.Context, tokenHash, clientID string, now time.Time) (*domain.RefreshToken, error) {
	filter := bson.M{
		"_id":        tokenHash,
		"client_id":  clientID,
		"redeemed":   false,
		"expires_at": bson.M{"$gt": now},
	}
	update := bson.M{"$set": bson.M{"redeemed": true}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var t domain.RefreshToken
	err := r.tokens.FindOneAndUpdate(ctx, filter, update, opts).Decode(&t)
	if err == nil {
		return &t, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("failed to redeem refresh token: %w", err)
	}

	stored, err := r.FindRefreshToken(ctx, tokenHash)
	switch {
	case err != nil:
		return nil, err
	case stored.ClientID != clientID:
		return nil, domain.ErrClientMismatch
	case stored.Redeemed:
		return nil, domain.ErrRefreshTokenRedeemed
	default:
		return nil, domain.ErrRefreshTokenExpired
	}
}

func (r *RefreshTokenRepository) DeleteExpiredRefreshTokens(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.tokens.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lte": before}})
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired refresh tokens: %w", err)
	}

	return res.DeletedCount, nil
}
