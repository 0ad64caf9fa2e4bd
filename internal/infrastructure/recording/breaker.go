package recording

import (
	"context"
	"errors"

	"roomrec/internal/core/domain"
	"roomrec/internal/core/ports"
	"roomrec/pkg/circuitbreaker"

	"go.uber.org/zap"
)

// BreakerBackend fails fast with ErrBackendUnreachable while the wrapped
// backend keeps being unreachable. Rejections do not trip the circuit.
type BreakerBackend struct {
	next    ports.RecordingBackend
	breaker *circuitbreaker.CircuitBreaker
}

var _ ports.RecordingBackend = (*BreakerBackend)(nil)

// NewBreakerConfig overrides cfg.IsFailure so only unreachable errors count.
func NewBreakerConfig(cfg circuitbreaker.Config) circuitbreaker.Config {
	cfg.IsFailure = func(err error) bool {
		return errors.Is(err, domain.ErrBackendUnreachable)
	}
	return cfg
}

// StateObserver is notified after every circuit transition.
type StateObserver func(name string, from, to circuitbreaker.State)

func NewBreakerBackend(next ports.RecordingBackend, cb *circuitbreaker.CircuitBreaker, logger *zap.SugaredLogger, observers ...StateObserver) *BreakerBackend {
	cb.OnStateChange(func(name string, from, to circuitbreaker.State) {
		logger.Warnw("Recording backend circuit changed",
			"breaker", name,
			"from", from.String(),
			"to", to.String(),
		)
		for _, observe := range observers {
			observe(name, from, to)
		}
	})
	return &BreakerBackend{next: next, breaker: cb}
}

func (b *BreakerBackend) Breaker() *circuitbreaker.CircuitBreaker { return b.breaker }

func (b *BreakerBackend) RequestStart(ctx context.Context, key domain.SessionKey) (domain.JobID, error) {
	job, err := circuitbreaker.Execute(ctx, b.breaker, func(ctx context.Context) (domain.JobID, error) {
		return b.next.RequestStart(ctx, key)
	})
	return job, b.mapOpen(opStart, err)
}

func (b *BreakerBackend) RequestStop(ctx context.Context, jobID domain.JobID) error {
	err := b.breaker.Execute(ctx, func(ctx context.Context) error {
		return b.next.RequestStop(ctx, jobID)
	})
	return b.mapOpen(opStop, err)
}

func (b *BreakerBackend) mapOpen(op string, err error) error {
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return domain.Unreachable(op, err)
	}
	return err
}
