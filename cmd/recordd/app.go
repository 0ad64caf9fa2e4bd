package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"roomrec/internal/core/ports"
	"roomrec/internal/core/services"
	httphandlers "roomrec/internal/handlers/http"
	"roomrec/internal/infrastructure/conferencing"
	"roomrec/internal/infrastructure/distributed"
	"roomrec/internal/infrastructure/middleware"
	"roomrec/internal/infrastructure/monitoring"
	"roomrec/internal/infrastructure/recording"
	"roomrec/internal/infrastructure/repositories"
	"roomrec/internal/infrastructure/signal"
	"roomrec/pkg/circuitbreaker"
	"roomrec/pkg/config"
	"roomrec/pkg/logger"
	"roomrec/pkg/retry"
	"roomrec/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// app is a wired recordd process.
type app struct {
	cfg    *config.Config
	log    *zap.SugaredLogger
	server *http.Server

	tracer   *tracing.TracerProvider
	repos    *repositories.RepositoryFactory
	sessions services.SessionService
	health   *monitoring.HealthChecker
	events   *distributed.EventBus
	metrics  *monitoring.PrometheusCollector
}

func newApp(cfg *config.Config, zapLogger *zap.Logger) (*app, error) {
	log := zapLogger.Sugar()
	a := &app{cfg: cfg, log: log, health: monitoring.NewHealthChecker()}

	tracer, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "recordd",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
		Version:     version,
	})
	if err != nil {
		return nil, err
	}
	a.tracer = tracer

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = monitoring.NewPrometheusCollector(registry)

	a.repos = repositories.NewRepositoryFactory(cfg, log)
	repo := a.repos.CreateSessionRepository()
	a.health.AddRepositoryCheck(repo, cfg.Monitoring.HealthCheckInterval, 2*time.Second)

	opts := []services.SessionServiceOption{services.WithControllerMetrics(a.metrics)}
	if client := a.repos.Client(); client != nil {
		a.health.AddRedisCheck(client, cfg.Monitoring.HealthCheckInterval, 2*time.Second)
		a.events = distributed.NewEventBus(client, cfg.Redis.KeyPrefix, cfg.Instance, log)
		opts = append(opts,
			services.WithEventPublisher(a.events),
			services.WithSessionStartGuard(distributed.NewStartGuard(client, cfg.Redis.KeyPrefix, cfg.Redis.LockTTL, log)),
		)
	}

	backend, err := a.newBackend()
	if err != nil {
		return nil, err
	}

	a.sessions = services.NewSessionService(
		a.newConnector(),
		backend,
		repo,
		services.SessionServiceConfig{
			RequestTimeout: cfg.Recording.RequestTimeout,
			AutoStart:      cfg.Recording.AutoStart,
			Instance:       cfg.Instance,
		},
		log,
		opts...,
	)
	monitoring.RegisterSessionGauge(registry, a.sessions.Count)

	var gatherer prometheus.Gatherer
	if cfg.Monitoring.PrometheusEnabled {
		gatherer = registry
	}
	a.server = &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      a.router(zapLogger, gatherer),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return a, nil
}

func (a *app) newBackend() (ports.RecordingBackend, error) {
	cfg := a.cfg
	var backend ports.RecordingBackend
	switch cfg.Backend.Kind {
	case config.BackendHTTP:
		backend = recording.NewHTTPBackend(recording.HTTPBackendConfig{
			EndpointURL: cfg.Backend.EndpointURL,
			AuthToken:   cfg.Backend.AuthToken,
			StartPath:   cfg.Backend.StartPath,
			StopPath:    cfg.Backend.StopPath,
			Timeout:     cfg.Backend.Timeout,
		}, nil, a.log)
	case config.BackendEgress:
		api := recording.NewEgressClient(cfg.LiveKit.URL, cfg.LiveKit.APIKey, cfg.LiveKit.APISecret)
		backend = recording.NewEgressBackend(api, recording.EgressBackendConfig{
			FilePrefix: cfg.Recording.FilePrefix,
		}, a.log)
	default:
		return nil, fmt.Errorf("unknown backend kind %q", cfg.Backend.Kind)
	}
	a.log.Infow("Recording backend configured", "kind", cfg.Backend.Kind)

	if !cfg.Breaker.Enabled {
		return backend, nil
	}
	breakerCfg := circuitbreaker.DefaultConfig()
	breakerCfg.FailureThreshold = cfg.Breaker.FailureThreshold
	breakerCfg.SuccessThreshold = cfg.Breaker.SuccessThreshold
	breakerCfg.OpenTimeout = cfg.Breaker.OpenTimeout
	cb := circuitbreaker.New("recording-backend", recording.NewBreakerConfig(breakerCfg))
	a.health.AddBreakerCheck(cb, cfg.Monitoring.HealthCheckInterval)
	a.metrics.ObserveCircuit(cb.Name(), cb.State(), cb.State())
	return recording.NewBreakerBackend(backend, cb, a.log, a.metrics.ObserveCircuit), nil
}

func (a *app) newConnector() ports.SessionConnector {
	cfg := a.cfg
	if !cfg.LiveKit.Enabled {
		a.log.Warn("LiveKit disabled, sessions are detached and never disconnect on their own")
		return conferencing.DetachedConnector{}
	}

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = cfg.LiveKit.ConnectRetry.MaxAttempts
	retryCfg.InitialDelay = cfg.LiveKit.ConnectRetry.InitialDelay
	retryCfg.MaxDelay = cfg.LiveKit.ConnectRetry.MaxDelay
	return conferencing.NewLiveKitConnector(conferencing.LiveKitConfig{
		URL:            cfg.LiveKit.URL,
		APIKey:         cfg.LiveKit.APIKey,
		APISecret:      cfg.LiveKit.APISecret,
		IdentityPrefix: cfg.LiveKit.IdentityPrefix,
		Retry:          retryCfg,
	}, a.log)
}

func (a *app) router(zapLogger *zap.Logger, gatherer prometheus.Gatherer) *gin.Engine {
	cfg := a.cfg
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(a.log),
		middleware.RequestIDMiddleware(),
		middleware.AccessLogMiddleware(logger.NewContextLogger(zapLogger)),
		middleware.TracingMiddleware(),
		middleware.ErrorHandlerMiddleware(a.log),
		middleware.NewHTTPRateLimitMiddleware(cfg),
	)

	httphandlers.NewHealthHandler(a.health, gatherer, version).SetupRoutes(router)

	stream := signal.NewStatusStreamServer(a.sessions, signal.StreamConfig{
		PingInterval:   cfg.Stream.PingInterval,
		PongTimeout:    cfg.Stream.PongTimeout,
		WriteTimeout:   cfg.Stream.WriteTimeout,
		AllowedOrigins: cfg.Auth.AllowedOrigins,
	}, a.log)

	guards := httphandlers.RouteGuards{
		Stream: middleware.NewWebSocketRateLimitMiddleware(cfg),
	}
	api := router.Group("/api/v1")
	if cfg.Auth.Enabled {
		api.Use(middleware.AuthMiddleware(services.NewAuthService(cfg.Auth.JWTSecret, tokenIssuer)))
		guards.Write = middleware.RequireRole(services.RoleOperator)
	}
	httphandlers.NewSessionHandler(a.sessions, stream).SetupRoutes(api, guards)

	return router
}

// run serves until ctx is done, then shuts down in order: stop taking
// requests, close sessions, release infrastructure.
func (a *app) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.log.Infow("Starting recordd", "address", a.cfg.Server.Address, "instance", a.cfg.Instance, "version", version)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		a.health.Run(gctx)
		return nil
	})

	if a.events != nil {
		g.Go(func() error {
			a.followPeers(gctx)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		a.shutdown()
		return nil
	})

	return g.Wait()
}

// followPeers counts recording events from other replicas, resubscribing with
// backoff when the redis subscription drops.
func (a *app) followPeers(ctx context.Context) {
	cfg := retry.DefaultConfig()
	cfg.MaxAttempts = math.MaxInt32
	cfg.MaxDelay = 30 * time.Second
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		a.log.Warnw("Event bus subscription lost, resubscribing", "attempt", attempt, "delay", delay, "error", err)
	}

	err := retry.Do(ctx, cfg, func(ctx context.Context) error {
		err := a.events.Subscribe(ctx, nil, func(event *distributed.Event) error {
			a.metrics.RecordPeerEvent()
			a.log.Debugw("Recording changed on peer",
				"instance", event.InstanceID,
				"session_id", event.SessionID,
				"from", event.Previous,
				"to", event.Recording.Status,
			)
			return nil
		})
		if ctx.Err() != nil {
			return retry.Permanent(ctx.Err())
		}
		if err == nil {
			err = errors.New("subscription closed")
		}
		return err
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		a.log.Warnw("Event bus subscription ended", "error", err)
	}
}

func (a *app) shutdown() {
	a.log.Info("Shutting down recordd...")

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := a.server.Shutdown(ctx); err != nil {
		a.log.Errorw("Error during server shutdown", "error", err)
		if closeErr := a.server.Close(); closeErr != nil {
			a.log.Errorw("Error force closing server", "error", closeErr)
		}
	}

	if err := a.sessions.Shutdown(ctx); err != nil {
		a.log.Errorw("Sessions did not close in time", "error", err)
	}

	if err := a.repos.Close(); err != nil {
		a.log.Errorw("Error closing repository factory", "error", err)
	}
	if err := a.tracer.Shutdown(ctx); err != nil {
		a.log.Errorw("Error flushing traces", "error", err)
	}
	a.log.Info("recordd stopped")
}
