package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"mining-api/internal/models"
)

// DailyEarningsRepository is the Daily Aggregate Store
type DailyEarningsRepository interface {
	// UpsertAdd atomically adds amount to the (userID, dateKey) entry,
	// creating it when it does not exist
	UpsertAdd(ctx context.Context, userID string, dateKey string, amount decimal.Decimal, now time.Time) (*models.DailyEarningsEntry, error)
	GetByDate(ctx context.Context, userID string, dateKey string) (*models.DailyEarningsEntry, error)
}

type dailyEarningsDocument struct {
	ID          primitive.ObjectID   `bson:"_id,omitempty"`
	UserID      string               `bson:"user_id"`
	Date        string               `bson:"date"`
	Amount      primitive.Decimal128 `bson:"amount"`
	LastUpdated time.Time            `bson:"last_updated"`
}

func (d *dailyEarningsDocument) toModel() *models.DailyEarningsEntry {
	return &models.DailyEarningsEntry{
		UserID:      d.UserID,
		Date:        d.Date,
		Amount:      fromDecimal128(d.Amount),
		LastUpdated: d.LastUpdated,
	}
}

type dailyEarningsRepository struct {
	collection *mongo.Collection
}

func NewDailyEarningsRepository(db *mongo.Database) DailyEarningsRepository {
	return &dailyEarningsRepository{
		collection: db.Collection("daily_earnings"),
	}
}

func (r *dailyEarningsRepository) UpsertAdd(ctx context.Context, userID string, dateKey string, amount decimal.Decimal, now time.Time) (*models.DailyEarningsEntry, error) {
	inc, err := toDecimal128(amount)
	if err != nil {
		return nil, err
	}

	filter := bson.M{"user_id": userID, "date": dateKey}
	update := bson.M{
		"$inc": bson.M{"amount": inc},
		"$set": bson.M{"last_updated": now},
	}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var doc dailyEarningsDocument
	err = r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if err != nil && mongo.IsDuplicateKeyError(err) {
		// Lost an insert race; the entry exists now so the retry is a plain $inc
		err = r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to add daily earnings for user %s on %s: %w", userID, dateKey, err)
	}

	return doc.toModel(), nil
}

func (r *dailyEarningsRepository) GetByDate(ctx context.Context, userID string, dateKey string) (*models.DailyEarningsEntry, error) {
	var doc dailyEarningsDocument
	err := r.collection.FindOne(ctx, bson.M{"user_id": userID, "date": dateKey}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get daily earnings for user %s on %s: %w", userID, dateKey, err)
	}
	return doc.toModel(), nil
}

// EnsureIndexes creates the indexes of the daily earnings collection
func (r *dailyEarningsRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "date", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create daily earnings indexes: %w", err)
	}
	return nil
}
