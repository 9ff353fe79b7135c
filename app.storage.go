package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// storageSetup is the outcome of the backend selection.
type storageSetup struct {
	storage  BookStorage
	redis    *redis.Client
	cleanups []func()
}

func (s *storageSetup) onClose(logger *zap.Logger, name string, closer func() error) {
	s.cleanups = append(s.cleanups, func() {
		if err := closer(); err != nil {
			logger.Error("failed to close storage client", zap.String("storage", name), zap.Error(err))
		}
	})
}

// redisClient returns the shared redis client, connecting on first use.
func (s *storageSetup) redisClient(logger *zap.Logger, config *RedisConfig) (*redis.Client, error) {
	if s.redis != nil {
		return s.redis, nil
	}
	client, err := GetRedisClient(config)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis server: %w", err)
	}
	s.redis = client
	s.onClose(logger, DriverRedis, client.Close)
	return client, nil
}

// SetupStorage builds the catalog storage selected by the configured driver.
func SetupStorage(ctx context.Context, logger *zap.Logger, config *Config) (*storageSetup, error) {
	setup := &storageSetup{}
	switch config.Storage.Driver {
	case DriverMemory:
		setup.storage = NewMemoryBookStorage(logger)

	case DriverFile:
		storage, err := NewFileBookStorage(logger, config.File.Path)
		if err != nil {
			return setup, fmt.Errorf("failed to load books file: %w", err)
		}
		setup.storage = storage

	case DriverRedis:
		client, err := setup.redisClient(logger, &config.Redis)
		if err != nil {
			return setup, err
		}
		setup.storage = NewRedisBookStorage(logger, client)

	case DriverBolt:
		db, err := GetBoltDBClient(&config.BoltDB)
		if err != nil {
			return setup, fmt.Errorf("failed to open boltdb file: %w", err)
		}
		setup.onClose(logger, DriverBolt, db.Close)
		setup.storage = NewBoltBookStorage(logger, &config.BoltDB, db)

	case DriverPostgres:
		db, err := GetPostgresClient(&config.Postgres)
		if err != nil {
			return setup, fmt.Errorf("failed to connect to postgres server: %w", err)
		}
		setup.onClose(logger, DriverPostgres, db.Close)
		storage, err := NewPostgresBookStorage(ctx, logger, db, config.Catalog.AutoCreateGenres)
		if err != nil {
			return setup, fmt.Errorf("failed to setup postgres schema: %w", err)
		}
		setup.storage = storage

	case DriverMySQL:
		db, err := GetMySQLClient(&config.MySQL)
		if err != nil {
			return setup, fmt.Errorf("failed to connect to mysql server: %w", err)
		}
		if sqlDB, err := db.DB(); err == nil {
			setup.onClose(logger, DriverMySQL, sqlDB.Close)
		}
		setup.storage = NewGormBookStorage(logger, db, config.Catalog.AutoCreateGenres)

	default:
		return setup, fmt.Errorf("unsupported storage driver %q", config.Storage.Driver)
	}
	return setup, nil
}

// Close runs the registered cleanups in reverse order.
func (s *storageSetup) Close() {
	for i := len(s.cleanups) - 1; i >= 0; i-- {
		s.cleanups[i]()
	}
}
