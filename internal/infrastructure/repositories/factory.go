package repositories

import (
	"context"

	"roomrec/internal/core/ports"
	"roomrec/internal/infrastructure/repositories/memory"
	redisrepo "roomrec/internal/infrastructure/repositories/redis"
	"roomrec/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RepositoryFactory creates repositories with fallback support
type RepositoryFactory struct {
	useRedis    bool
	keyPrefix   string
	redisClient redis.UniversalClient
	logger      *zap.SugaredLogger
}

// NewRepositoryFactory connects to Redis when enabled and falls back to
// memory repositories if it is unreachable.
func NewRepositoryFactory(cfg *config.Config, logger *zap.SugaredLogger) *RepositoryFactory {
	factory := &RepositoryFactory{
		useRedis:  cfg.Redis.Enabled,
		keyPrefix: cfg.Redis.KeyPrefix,
		logger:    logger,
	}

	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
			cfg.Redis.KeyPrefix,
			logger,
		)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory repositories",
				"error", err,
			)
			factory.useRedis = false
		} else {
			factory.redisClient = client
			logger.Info("using Redis repositories")
		}
	}

	if !factory.useRedis {
		logger.Info("using memory repositories")
	}

	return factory
}

// NewRepositoryFactoryWithClient wraps an already connected client.
func NewRepositoryFactoryWithClient(client redis.UniversalClient, keyPrefix string, logger *zap.SugaredLogger) *RepositoryFactory {
	return &RepositoryFactory{
		useRedis:    client != nil,
		keyPrefix:   keyPrefix,
		redisClient: client,
		logger:      logger,
	}
}

func (f *RepositoryFactory) CreateSessionRepository() ports.SessionRepository {
	if f.UsingRedis() {
		return redisrepo.NewRedisSessionRepository(f.redisClient, f.keyPrefix)
	}
	return memory.NewMemorySessionRepository()
}

func (f *RepositoryFactory) UsingRedis() bool {
	return f.useRedis && f.redisClient != nil
}

// Client returns the shared Redis client, or nil when running on memory.
func (f *RepositoryFactory) Client() redis.UniversalClient {
	if !f.UsingRedis() {
		return nil
	}
	return f.redisClient
}

func (f *RepositoryFactory) Close() error {
	return redisrepo.CloseRedisClient(f.redisClient)
}

func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.UsingRedis() {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}
