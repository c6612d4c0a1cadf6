package repository

import (
	"context"

	"go.mongodb.org/mongo-driver/mongo"
)

type indexer interface {
	EnsureIndexes(ctx context.Context) error
}

// EnsureIndexes creates the unique keys the stores rely on for idempotency
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	indexers := []indexer{
		&balanceRepository{collection: db.Collection("user_balances")},
		&transactionRepository{collection: db.Collection("transactions")},
		&dailyEarningsRepository{collection: db.Collection("daily_earnings")},
		&referralRepository{collection: db.Collection("referrals")},
	}

	for _, idx := range indexers {
		if err := idx.EnsureIndexes(ctx); err != nil {
			return err
		}
	}
	return nil
}
