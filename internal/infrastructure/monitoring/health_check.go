package monitoring

import (
	"context"
	"fmt"
	"sync"
	"time"

	"roomrec/internal/core/ports"
	"roomrec/pkg/circuitbreaker"

	"github.com/redis/go-redis/v9"
)

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

type HealthChecker struct {
	checks []HealthCheck
	mu     sync.RWMutex

	resultsMu sync.RWMutex
	results   map[string]string
}

type HealthCheck struct {
	Name     string
	Check    func(ctx context.Context) error
	Interval time.Duration
	Timeout  time.Duration
}

type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		results: make(map[string]string),
	}
}

func (h *HealthChecker) AddCheck(name string, check func(ctx context.Context) error, interval, timeout time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.checks = append(h.checks, HealthCheck{
		Name:     name,
		Check:    check,
		Interval: interval,
		Timeout:  timeout,
	})
}

func (h *HealthChecker) AddRedisCheck(client redis.UniversalClient, interval, timeout time.Duration) {
	h.AddCheck("redis", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}, interval, timeout)
}

func (h *HealthChecker) AddRepositoryCheck(repo ports.SessionRepository, interval, timeout time.Duration) {
	h.AddCheck("repository", func(ctx context.Context) error {
		_, err := repo.ListRecording(ctx)
		return err
	}, interval, timeout)
}

// AddBreakerCheck fails while the backend circuit is open.
func (h *HealthChecker) AddBreakerCheck(cb *circuitbreaker.CircuitBreaker, interval time.Duration) {
	h.AddCheck("backend_circuit", func(ctx context.Context) error {
		if state := cb.State(); state == circuitbreaker.StateOpen {
			return fmt.Errorf("circuit %s is %s", cb.Name(), state)
		}
		return nil
	}, interval, time.Second)
}

func (h *HealthChecker) run(ctx context.Context, check HealthCheck) string {
	checkCtx, cancel := context.WithTimeout(ctx, check.Timeout)
	defer cancel()

	if err := check.Check(checkCtx); err != nil {
		return err.Error()
	}
	return StatusHealthy
}

// CheckAll runs every check now.
func (h *HealthChecker) CheckAll(ctx context.Context) HealthStatus {
	h.mu.RLock()
	checks := append([]HealthCheck(nil), h.checks...)
	h.mu.RUnlock()

	results := make(map[string]string, len(checks))
	for _, check := range checks {
		results[check.Name] = h.run(ctx, check)
	}
	return newHealthStatus(results)
}

// Cached reports the latest background results. Checks that have not run
// yet are absent.
func (h *HealthChecker) Cached() HealthStatus {
	h.resultsMu.RLock()
	defer h.resultsMu.RUnlock()

	results := make(map[string]string, len(h.results))
	for k, v := range h.results {
		results[k] = v
	}
	return newHealthStatus(results)
}

func newHealthStatus(results map[string]string) HealthStatus {
	status := HealthStatus{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Checks:    results,
	}
	for _, r := range results {
		if r != StatusHealthy {
			status.Status = StatusUnhealthy
		}
	}
	return status
}

func (h *HealthChecker) IsReady(ctx context.Context) bool {
	return h.CheckAll(ctx).Status == StatusHealthy
}

// Run executes checks on their intervals until ctx is done.
func (h *HealthChecker) Run(ctx context.Context) {
	h.mu.RLock()
	checks := append([]HealthCheck(nil), h.checks...)
	h.mu.RUnlock()

	var wg sync.WaitGroup
	for _, check := range checks {
		wg.Add(1)
		go func(check HealthCheck) {
			defer wg.Done()
			h.runCheckPeriodically(ctx, check)
		}(check)
	}
	wg.Wait()
}

func (h *HealthChecker) runCheckPeriodically(ctx context.Context, check HealthCheck) {
	ticker := time.NewTicker(check.Interval)
	defer ticker.Stop()

	for {
		result := h.run(ctx, check)
		h.resultsMu.Lock()
		h.results[check.Name] = result
		h.resultsMu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
