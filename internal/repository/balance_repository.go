package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"mining-api/internal/models"
)

// BalanceRepository is the Balance Store of the engine
type BalanceRepository interface {
	// GetByUserID returns ErrNotFound when the user has no balance yet
	GetByUserID(ctx context.Context, userID string) (*models.BalanceRecord, error)
	// CreateIfAbsent inserts floor unless a record exists and returns the stored record
	CreateIfAbsent(ctx context.Context, floor *models.BalanceRecord) (*models.BalanceRecord, error)
	// UpdateConditional writes update only if the stored version still equals
	// expectedVersion; otherwise it returns ErrConflict
	UpdateConditional(ctx context.Context, userID string, expectedVersion int64, update models.BalanceUpdate) (*models.BalanceRecord, error)
}

type balanceDocument struct {
	ID              primitive.ObjectID   `bson:"_id,omitempty"`
	UserID          string               `bson:"user_id"`
	MiningBalance   primitive.Decimal128 `bson:"mining_balance"`
	ReferralBalance primitive.Decimal128 `bson:"referral_balance"`
	Version         int64                `bson:"version"`
	CreatedAt       time.Time            `bson:"created_at"`
	LastUpdated     time.Time            `bson:"last_updated"`
}

func (d *balanceDocument) toModel() *models.BalanceRecord {
	return &models.BalanceRecord{
		UserID:          d.UserID,
		MiningBalance:   fromDecimal128(d.MiningBalance),
		ReferralBalance: fromDecimal128(d.ReferralBalance),
		Version:         d.Version,
		CreatedAt:       d.CreatedAt,
		LastUpdated:     d.LastUpdated,
	}
}

type balanceRepository struct {
	collection *mongo.Collection
}

func NewBalanceRepository(db *mongo.Database) BalanceRepository {
	return &balanceRepository{
		collection: db.Collection("user_balances"),
	}
}

func (r *balanceRepository) GetByUserID(ctx context.Context, userID string) (*models.BalanceRecord, error) {
	var doc balanceDocument
	err := r.collection.FindOne(ctx, bson.M{"user_id": userID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get balance for user %s: %w", userID, err)
	}
	return doc.toModel(), nil
}

func (r *balanceRepository) CreateIfAbsent(ctx context.Context, floor *models.BalanceRecord) (*models.BalanceRecord, error) {
	mining, err := toDecimal128(floor.MiningBalance)
	if err != nil {
		return nil, err
	}
	referral, err := toDecimal128(floor.ReferralBalance)
	if err != nil {
		return nil, err
	}

	filter := bson.M{"user_id": floor.UserID}
	update := bson.M{
		"$setOnInsert": bson.M{
			"mining_balance":   mining,
			"referral_balance": referral,
			"version":          floor.Version,
			"created_at":       floor.CreatedAt,
			"last_updated":     floor.LastUpdated,
		},
	}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var doc balanceDocument
	err = r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if err != nil {
		// Two concurrent upserts on a unique key: the loser reads the winner
		if mongo.IsDuplicateKeyError(err) {
			return r.GetByUserID(ctx, floor.UserID)
		}
		return nil, fmt.Errorf("failed to create balance for user %s: %w", floor.UserID, err)
	}

	return doc.toModel(), nil
}

func (r *balanceRepository) UpdateConditional(ctx context.Context, userID string, expectedVersion int64, update models.BalanceUpdate) (*models.BalanceRecord, error) {
	mining, err := toDecimal128(update.MiningBalance)
	if err != nil {
		return nil, err
	}
	referral, err := toDecimal128(update.ReferralBalance)
	if err != nil {
		return nil, err
	}

	filter := bson.M{
		"user_id": userID,
		"version": expectedVersion,
	}
	change := bson.M{
		"$set": bson.M{
			"mining_balance":   mining,
			"referral_balance": referral,
			"last_updated":     update.LastUpdated,
		},
		"$inc": bson.M{"version": 1},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc balanceDocument
	err = r.collection.FindOneAndUpdate(ctx, filter, change, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("failed to update balance for user %s: %w", userID, err)
	}

	return doc.toModel(), nil
}

// EnsureIndexes creates the indexes of the balance collection
func (r *balanceRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create balance indexes: %w", err)
	}
	return nil
}
