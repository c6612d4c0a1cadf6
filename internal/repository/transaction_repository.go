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

// TransactionRepository is the append-only Transaction Log
type TransactionRepository interface {
	// Append stores tx and returns its id. Appending a transaction whose
	// idempotency key already exists returns the existing id.
	Append(ctx context.Context, tx *models.TransactionRecord) (string, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*models.TransactionRecord, error)
	GetByUserID(ctx context.Context, userID string, limit int, offset int) ([]*models.TransactionRecord, error)
}

type transactionDocument struct {
	ID             primitive.ObjectID   `bson:"_id,omitempty"`
	TransactionID  string               `bson:"transaction_id"`
	UserID         string               `bson:"user_id"`
	Amount         primitive.Decimal128 `bson:"amount"`
	Currency       string               `bson:"currency"`
	Status         string               `bson:"status"`
	Type           string               `bson:"type"`
	ExternalRef    string               `bson:"external_ref,omitempty"`
	IdempotencyKey string               `bson:"idempotency_key"`
	Metadata       map[string]string    `bson:"metadata,omitempty"`
	Timestamp      time.Time            `bson:"timestamp"`
}

func (d *transactionDocument) toModel() *models.TransactionRecord {
	return &models.TransactionRecord{
		TransactionID:  d.TransactionID,
		UserID:         d.UserID,
		Amount:         fromDecimal128(d.Amount),
		Currency:       d.Currency,
		Status:         d.Status,
		Type:           d.Type,
		ExternalRef:    d.ExternalRef,
		IdempotencyKey: d.IdempotencyKey,
		Metadata:       d.Metadata,
		Timestamp:      d.Timestamp,
	}
}

type transactionRepository struct {
	collection *mongo.Collection
}

func NewTransactionRepository(db *mongo.Database) TransactionRepository {
	return &transactionRepository{
		collection: db.Collection("transactions"),
	}
}

func (r *transactionRepository) Append(ctx context.Context, tx *models.TransactionRecord) (string, error) {
	amount, err := toDecimal128(tx.Amount)
	if err != nil {
		return "", err
	}

	doc := transactionDocument{
		TransactionID:  tx.TransactionID,
		UserID:         tx.UserID,
		Amount:         amount,
		Currency:       tx.Currency,
		Status:         tx.Status,
		Type:           tx.Type,
		ExternalRef:    tx.ExternalRef,
		IdempotencyKey: tx.IdempotencyKey,
		Metadata:       tx.Metadata,
		Timestamp:      tx.Timestamp,
	}

	if _, err := r.collection.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			existing, getErr := r.GetByIdempotencyKey(ctx, tx.IdempotencyKey)
			if getErr != nil {
				return "", fmt.Errorf("transaction with idempotency key already exists: %w", getErr)
			}
			return existing.TransactionID, nil
		}
		return "", fmt.Errorf("failed to append transaction: %w", err)
	}

	return tx.TransactionID, nil
}

func (r *transactionRepository) GetByIdempotencyKey(ctx context.Context, key string) (*models.TransactionRecord, error) {
	var doc transactionDocument
	err := r.collection.FindOne(ctx, bson.M{"idempotency_key": key}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get transaction by idempotency key: %w", err)
	}
	return doc.toModel(), nil
}

func (r *transactionRepository) GetByUserID(ctx context.Context, userID string, limit int, offset int) ([]*models.TransactionRecord, error) {
	opts := options.Find().
		SetLimit(int64(limit)).
		SetSkip(int64(offset)).
		SetSort(bson.D{{Key: "timestamp", Value: -1}})

	cursor, err := r.collection.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to get transactions for user %s: %w", userID, err)
	}
	defer cursor.Close(ctx)

	transactions := make([]*models.TransactionRecord, 0)
	for cursor.Next(ctx) {
		var doc transactionDocument
		if err := cursor.Decode(&doc); err != nil {
			continue
		}
		transactions = append(transactions, doc.toModel())
	}

	return transactions, cursor.Err()
}

// EnsureIndexes creates the indexes of the transaction collection
func (r *transactionRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "idempotency_key", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "timestamp", Value: -1}},
		},
	}

	if _, err := r.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create transaction indexes: %w", err)
	}
	return nil
}
