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

// ReferralRepository is the Referral Service collaborator
type ReferralRepository interface {
	// Record stores a referral and returns its id, or ErrDuplicate when the
	// referred user already has one
	Record(ctx context.Context, referral *models.ReferralRecord) (string, error)
	FindByReferredUser(ctx context.Context, userID string) (*models.ReferralRecord, error)
	GetByReferrer(ctx context.Context, referrerID string) ([]*models.ReferralRecord, error)
	// Activate marks a pending referral as active once its bonus is credited
	Activate(ctx context.Context, id string) error
	// Delete removes a referral whose bonus could not be credited
	Delete(ctx context.Context, id string) error
}

type referralDocument struct {
	ID             primitive.ObjectID   `bson:"_id,omitempty"`
	ReferrerID     string               `bson:"referrer_id"`
	ReferredUserID string               `bson:"referred_user_id"`
	Status         string               `bson:"status"`
	BonusAmount    primitive.Decimal128 `bson:"bonus_amount"`
	CreatedAt      time.Time            `bson:"created_at"`
}

func (d *referralDocument) toModel() *models.ReferralRecord {
	return &models.ReferralRecord{
		ID:             d.ID.Hex(),
		ReferrerID:     d.ReferrerID,
		ReferredUserID: d.ReferredUserID,
		Status:         d.Status,
		BonusAmount:    fromDecimal128(d.BonusAmount),
		CreatedAt:      d.CreatedAt,
	}
}

type referralRepository struct {
	collection *mongo.Collection
}

func NewReferralRepository(db *mongo.Database) ReferralRepository {
	return &referralRepository{
		collection: db.Collection("referrals"),
	}
}

func (r *referralRepository) Record(ctx context.Context, referral *models.ReferralRecord) (string, error) {
	bonus, err := toDecimal128(referral.BonusAmount)
	if err != nil {
		return "", err
	}

	doc := referralDocument{
		ReferrerID:     referral.ReferrerID,
		ReferredUserID: referral.ReferredUserID,
		Status:         referral.Status,
		BonusAmount:    bonus,
		CreatedAt:      referral.CreatedAt,
	}

	result, err := r.collection.InsertOne(ctx, doc)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return "", ErrDuplicate
		}
		return "", fmt.Errorf("failed to record referral: %w", err)
	}

	id := result.InsertedID.(primitive.ObjectID).Hex()
	referral.ID = id
	return id, nil
}

func (r *referralRepository) FindByReferredUser(ctx context.Context, userID string) (*models.ReferralRecord, error) {
	var doc referralDocument
	err := r.collection.FindOne(ctx, bson.M{"referred_user_id": userID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find referral for user %s: %w", userID, err)
	}
	return doc.toModel(), nil
}

func (r *referralRepository) GetByReferrer(ctx context.Context, referrerID string) ([]*models.ReferralRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})

	cursor, err := r.collection.Find(ctx, bson.M{"referrer_id": referrerID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to get referrals of %s: %w", referrerID, err)
	}
	defer cursor.Close(ctx)

	referrals := make([]*models.ReferralRecord, 0)
	for cursor.Next(ctx) {
		var doc referralDocument
		if err := cursor.Decode(&doc); err != nil {
			continue
		}
		referrals = append(referrals, doc.toModel())
	}

	return referrals, cursor.Err()
}

func (r *referralRepository) Delete(ctx context.Context, id string) error {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("invalid referral id %s: %w", id, err)
	}

	if _, err := r.collection.DeleteOne(ctx, bson.M{"_id": objectID}); err != nil {
		return fmt.Errorf("failed to delete referral %s: %w", id, err)
	}
	return nil
}

func (r *referralRepository) Activate(ctx context.Context, id string) error {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("invalid referral id %s: %w", id, err)
	}

	update := bson.M{"$set": bson.M{"status": models.ReferralStatusActive}}
	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": objectID}, update)
	if err != nil {
		return fmt.Errorf("failed to activate referral %s: %w", id, err)
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// EnsureIndexes creates the indexes of the referral collection
func (r *referralRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "referred_user_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "referrer_id", Value: 1}, {Key: "created_at", Value: -1}},
		},
	}

	if _, err := r.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create referral indexes: %w", err)
	}
	return nil
}
