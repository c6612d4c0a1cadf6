package database

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"mining-api/internal/cache"
	"mining-api/internal/config"
	"mining-api/internal/repository"
)

type Database struct {
	MongoDB      *mongo.Database
	RedisDB      *redis.Client
	Repositories *Repositories
	State        cache.StateStore
}

type Repositories struct {
	Balance       repository.BalanceRepository
	Transaction   repository.TransactionRepository
	DailyEarnings repository.DailyEarningsRepository
	Referral      repository.ReferralRepository
	User          repository.UserRepository
	Lock          repository.LockRepository
	// LockManager is nil unless distributed locks are enabled
	LockManager *repository.UserLockManager
}

func Initialize(ctx context.Context, cfg *config.Config) (*Database, error) {
	mongoDB, err := initializeMongoDB(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MongoDB: %w", err)
	}

	redisDB, err := initializeRedis(ctx, cfg.Redis)
	if err != nil {
		_ = mongoDB.Client().Disconnect(ctx)
		return nil, fmt.Errorf("failed to initialize Redis: %w", err)
	}

	repos := &Repositories{
		Balance:       repository.NewBalanceRepository(mongoDB),
		Transaction:   repository.NewTransactionRepository(mongoDB),
		DailyEarnings: repository.NewDailyEarningsRepository(mongoDB),
		Referral:      repository.NewReferralRepository(mongoDB),
		User:          repository.NewUserRepository(mongoDB),
		Lock:          repository.NewLockRepository(redisDB, cfg.Redis.KeyPrefix),
	}

	if cfg.Mining.DistributedLocks {
		repos.LockManager = repository.NewUserLockManager(repos.Lock, cfg.Redis.LockTTL)
		logrus.WithField("ttl", cfg.Redis.LockTTL).Info("Distributed per-user locks enabled")
	}

	indexCtx, cancel := context.WithTimeout(ctx, cfg.Database.ConnectTimeout)
	defer cancel()
	if err := repository.EnsureIndexes(indexCtx, mongoDB); err != nil {
		db := &Database{MongoDB: mongoDB, RedisDB: redisDB}
		_ = db.Close(ctx)
		return nil, fmt.Errorf("failed to create database indexes: %w", err)
	}

	return &Database{
		MongoDB:      mongoDB,
		RedisDB:      redisDB,
		Repositories: repos,
		State:        cache.NewRedisStateStore(redisDB, cfg.Redis.KeyPrefix),
	}, nil
}

func initializeMongoDB(ctx context.Context, cfg config.DatabaseConfig) (*mongo.Database, error) {
	clientOptions := options.Client().
		ApplyURI(cfg.URI).
		SetMaxPoolSize(uint64(cfg.MaxPoolSize)).
		SetMinPoolSize(uint64(cfg.MinPoolSize)).
		SetMaxConnIdleTime(cfg.MaxIdleTime).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetSocketTimeout(cfg.SocketTimeout).
		SetServerSelectionTimeout(cfg.SelectionTimeout).
		SetTimeout(cfg.OperationTimeout)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return client.Database(cfg.Database), nil
}

func initializeRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

func (db *Database) Close(ctx context.Context) error {
	var errs []error

	if db.MongoDB != nil {
		if err := db.MongoDB.Client().Disconnect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to close MongoDB: %w", err))
		}
	}

	if db.RedisDB != nil {
		if err := db.RedisDB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close Redis: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing database connections: %v", errs)
	}

	return nil
}

func (db *Database) PingMongo(ctx context.Context) error {
	return db.MongoDB.Client().Ping(ctx, readpref.Primary())
}

func (db *Database) PingRedis(ctx context.Context) error {
	return db.RedisDB.Ping(ctx).Err()
}
