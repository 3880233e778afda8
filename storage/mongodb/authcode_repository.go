package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pilab-dev/shadow-auth/domain"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type AuthCodeRepository struct {
	codes *mongo.Collection
}

func NewAuthCodeRepository(db *mongo.Database) *AuthCodeRepository {
	return &AuthCodeRepository{
		codes: db.Collection(CodesCollection),
	}
}

func (r *AuthCodeRepository) SaveAuthCode(ctx context.Context, code *domain.AuthorizationCode) error {
	if code.Code == "" {
		return errors.New("auth code value cannot be empty")
	}

	_, err := r.codes.InsertOne(ctx, code)
	if mongo.IsDuplicateKeyError(err) {
		return domain.ErrAuthCodeDuplicate
	}
	if err != nil {
		log.Error().Err(err).Str("client_id", code.ClientID).Msg("Error saving authorization code")
		return fmt.Errorf("failed to save authorization code: %w", err)
	}

	return nil
}

func (r *AuthCodeRepository) ConsumeAuthCode(ctx context.Context, code, clientID, redirectURI string, now time.Time) (*domain.AuthorizationCode, error) {
	filter := bson.M{
		"_id":        code,
		"client_id":  clientID,
		"consumed":   false,
		"expires_at": bson.M{"$gt": now},
	}
	if redirectURI == "" {
		filter["redirect_uri_provided"] = false
	} else {
		filter["redirect_uri"] = redirectURI
	}
	update := bson.M{"$set": bson.M{"consumed": true}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var ac domain.AuthorizationCode
	err := r.codes.FindOneAndUpdate(ctx, filter, update, opts).Decode(&ac)
	if err == nil {
		return &ac, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("failed to consume authorization code: %w", err)
	}

	// The conditional update missed; find out why.
	var stored domain.AuthorizationCode
	err = r.codes.FindOne(ctx, bson.M{"_id": code}).Decode(&stored)
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return nil, domain.ErrAuthCodeNotFound
	case err != nil:
		return nil, fmt.Errorf("failed to retrieve authorization code: %w", err)
	case stored.ClientID != clientID:
		return nil, domain.ErrClientMismatch
	case stored.Consumed:
		return nil, domain.ErrAuthCodeConsumed
	case stored.IsExpired(now):
		return nil, domain.ErrAuthCodeExpired
	case !stored.RedirectMatches(redirectURI):
		return nil, domain.ErrRedirectMismatch
	default:
		// Another exchange won between the update and this read.
		return nil, domain.ErrAuthCodeConsumed
	}
}

func (r *AuthCodeRepository) DeleteExpiredAuthCodes(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.codes.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lte": before}})
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired authorization codes: %w", err)
	}

	return res.DeletedCount, nil
}
