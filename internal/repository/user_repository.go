package repository

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// UserRepository answers whether a user id is known to the system
type UserRepository interface {
	Exists(ctx context.Context, userID string) (bool, error)
}

type userRepository struct {
	users    *mongo.Collection
	balances *mongo.Collection
}

// NewUserRepository looks users up in the users directory and falls back to
// the balance collection, so a user who has mined but was never synced into
// the directory still counts as existing
func NewUserRepository(db *mongo.Database) UserRepository {
	return &userRepository{
		users:    db.Collection("users"),
		balances: db.Collection("user_balances"),
	}
}

func (r *userRepository) Exists(ctx context.Context, userID string) (bool, error) {
	if userID == "" {
		return false, nil
	}

	for _, collection := range []*mongo.Collection{r.users, r.balances} {
		count, err := collection.CountDocuments(ctx, bson.M{"user_id": userID}, options.Count().SetLimit(1))
		if err != nil {
			return false, fmt.Errorf("failed to check user %s: %w", userID, err)
		}
		if count > 0 {
			return true, nil
		}
	}

	return false, nil
}
