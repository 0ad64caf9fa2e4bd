package distributed

import (
	"context"
	"time"

	"roomrec/internal/core/domain"
	"roomrec/pkg/distributed"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// StartGuard holds a redis lock per room while a start request is in flight,
// so two replicas never start egress for the same room at once.
type StartGuard struct {
	locks  *distributed.LockManager
	ttl    time.Duration
	logger *zap.SugaredLogger
}

func NewStartGuard(client redis.UniversalClient, keyPrefix string, ttl time.Duration, logger *zap.SugaredLogger) *StartGuard {
	return &StartGuard{
		locks:  distributed.NewLockManager(client, keyPrefix+":lock:start:"),
		ttl:    ttl,
		logger: logger,
	}
}

// Acquire implements ports.StartGuard.
func (g *StartGuard) Acquire(ctx context.Context, key domain.SessionKey) (func(), bool, error) {
	lock := g.locks.NewLock(key.RoomName, g.ttl)
	ok, err := lock.TryLock(ctx)
	if err != nil || !ok {
		return nil, false, err
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := lock.Unlock(ctx); err != nil {
			g.logger.Warnw("failed to release start lock", "lock", lock.Key(), "error", err)
		}
	}, true, nil
}
