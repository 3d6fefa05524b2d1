package repositories

import (
	"context"
	"errors"
	"fmt"

	"greenearth/internal/core/ports"
	"greenearth/internal/infrastructure/repositories/memory"
	"greenearth/internal/infrastructure/repositories/postgres"
	redisrepo "greenearth/internal/infrastructure/repositories/redis"
	"greenearth/pkg/config"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RepositoryFactory builds the call repository and recording catalog from
// config. An unreachable Redis falls back to memory; an unreachable
// PostgreSQL is an error.
type RepositoryFactory struct {
	cfg         *config.Config
	redisClient *redis.Client
	pgPool      *pgxpool.Pool
	cached      *CachedRecordingCatalog
	logger      *zap.SugaredLogger
}

func NewRepositoryFactory(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) (*RepositoryFactory, error) {
	factory := &RepositoryFactory{cfg: cfg, logger: logger}

	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(ctx, redisrepo.ClientConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		}, logger)
		if err != nil {
			logger.Warnw("Failed to connect to Redis, falling back to memory call repository", "error", err)
		} else {
			factory.redisClient = client
		}
	}

	if cfg.Catalog.Backend == "postgres" {
		pool, err := postgres.NewPool(ctx, cfg.Catalog.Postgres.DSN, cfg.Catalog.Postgres.MaxConns)
		if err != nil {
			factory.Close()
			return nil, fmt.Errorf("recording catalog: %w", err)
		}
		factory.pgPool = pool
	}

	return factory, nil
}

func (f *RepositoryFactory) CreateCallRepository() ports.CallRepository {
	if f.redisClient != nil {
		f.logger.Info("Using Redis call repository")
		return redisrepo.NewRedisCallRepository(f.redisClient, f.cfg.Redis.CallTTL)
	}
	f.logger.Info("Using memory call repository")
	return memory.NewMemoryCallRepository()
}

// CreateCallLocker returns nil without Redis: a single instance serializes
// call updates in memory.
func (f *RepositoryFactory) CreateCallLocker() ports.CallLocker {
	if f.redisClient != nil {
		return redisrepo.NewRedisCallLocker(f.redisClient, f.logger)
	}
	return nil
}

func (f *RepositoryFactory) CreateRecordingCatalog(ctx context.Context) (ports.RecordingCatalog, error) {
	if f.pgPool != nil {
		catalog, err := postgres.NewRecordingCatalog(ctx, f.pgPool)
		if err != nil {
			return nil, err
		}
		if ttl := f.cfg.Catalog.CacheTTL; ttl > 0 {
			f.logger.Infow("Using cached PostgreSQL recording catalog", "cache_ttl", ttl)
			f.cached = NewCachedRecordingCatalog(catalog, ttl)
			return f.cached, nil
		}
		f.logger.Info("Using PostgreSQL recording catalog")
		return catalog, nil
	}
	f.logger.Info("Using memory recording catalog")
	return memory.NewMemoryRecordingCatalog(), nil
}

func (f *RepositoryFactory) Close() error {
	if f.cached != nil {
		f.cached.Close()
		f.cached = nil
	}
	var err error
	if f.redisClient != nil {
		err = f.redisClient.Close()
		f.redisClient = nil
	}
	if f.pgPool != nil {
		f.pgPool.Close()
		f.pgPool = nil
	}
	return err
}

// HealthCheck pings every connected backend.
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	var errs []error
	if f.redisClient != nil {
		if err := f.redisClient.Ping(ctx).Err(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if f.pgPool != nil {
		if err := f.pgPool.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("postgres: %w", err))
		}
	}
	return errors.Join(errs...)
}
