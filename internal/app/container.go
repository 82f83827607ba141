package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/ncecere/speech_relay/internal/audioinput"
	"github.com/ncecere/speech_relay/internal/cache"
	"github.com/ncecere/speech_relay/internal/config"
	"github.com/ncecere/speech_relay/internal/health"
	"github.com/ncecere/speech_relay/internal/limits"
	"github.com/ncecere/speech_relay/internal/observability"
	"github.com/ncecere/speech_relay/internal/providers"
	"github.com/ncecere/speech_relay/internal/redisclient"
	"github.com/ncecere/speech_relay/internal/session"
	"github.com/ncecere/speech_relay/internal/storage/blob"
	"github.com/ncecere/speech_relay/internal/transcription"
)

// Container aggregates runtime dependencies for the CLI and the HTTP daemon.
type Container struct {
	Config        *config.Config
	Logger        *slog.Logger
	Redis         *redis.Client
	Observability *observability.Provider
	Session       *session.Session
	Inputs        blob.Store
	Archive       blob.Store
	Normalizer    *audioinput.Normalizer
	Service       *transcription.Service
	HealthMon     *health.Monitor
	Limiter       *limits.RateLimiter
}

// Options carry optional overrides for NewContainer.
type Options struct {
	Logger *slog.Logger
	// Factory replaces the default backend registry (tests).
	Factory *providers.Factory
}

// NewContainer builds a dependency container from configuration. A model
// session failure is returned wrapping session.ErrModelInitialization.
func NewContainer(ctx context.Context, cfg *config.Config, opts Options) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	obsProvider, err := observability.Setup(ctx, cfg.Observability)
	if err != nil {
		return nil, fmt.Errorf("setup observability: %w", err)
	}

	container := &Container{
		Config:        cfg,
		Logger:        logger,
		Observability: obsProvider,
	}

	sess, err := session.New(ctx, cfg, session.Options{
		Logger:       logger,
		Metrics:      obsProvider,
		Factory:      opts.Factory,
		ProbeTimeout: cfg.Health.Timeout,
	})
	if err != nil {
		_ = container.Close(ctx)
		return nil, fmt.Errorf("init model session: %w", err)
	}
	container.Session = sess

	svcOpts := transcription.Options{
		ArchivePrefix: cfg.Archive.Prefix,
		Metrics:       obsProvider,
		Logger:        logger,
	}

	if cfg.Cache.Enabled || cfg.Server.Limits.Enabled() {
		client := redisclient.New(cfg.Cache)
		if err := redisclient.Ping(ctx, client); err != nil {
			logger.Warn("redis unreachable; cache and limits degrade until it recovers", slog.String("error", err.Error()))
		}
		container.Redis = client
		if cfg.Cache.Enabled {
			svcOpts.Cache = cache.NewResultCache(client, cfg.Cache.TTL)
		}
		if cfg.Server.Limits.Enabled() {
			container.Limiter = limits.NewRateLimiter(client, limits.Config{
				RequestsPerMinute:    cfg.Server.Limits.RequestsPerMinute,
				ParallelRequests:     cfg.Server.Limits.ParallelRequests,
				UploadBytesPerMinute: int64(cfg.Server.Limits.UploadMBPerMinute) * 1024 * 1024,
			})
		}
	}

	inputs, err := blob.New(ctx, cfg.Inputs)
	if err != nil {
		_ = container.Close(ctx)
		return nil, fmt.Errorf("init input store: %w", err)
	}
	container.Inputs = inputs

	if cfg.Archive.Enabled {
		archive, err := blob.New(ctx, cfg.Archive.Store)
		if err != nil {
			_ = container.Close(ctx)
			return nil, fmt.Errorf("init archive store: %w", err)
		}
		container.Archive = archive
		svcOpts.Archive = archive
	}

	container.Normalizer = audioinput.FromConfig(cfg.Audio, inputs, logger)
	container.Service = transcription.NewService(sess, container.Normalizer, svcOpts)

	monitor := health.NewMonitor(cfg.Health)
	monitor.Register("model", sess.Ready)
	if container.Redis != nil {
		client := container.Redis
		monitor.Register("redis", func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
	}
	container.HealthMon = monitor

	return container, nil
}

// StartBackground launches the health monitor until ctx is canceled.
func (c *Container) StartBackground(ctx context.Context) {
	if c.HealthMon != nil {
		c.HealthMon.Start(ctx)
	}
}

// Close releases the model session, the Redis client and telemetry exporters.
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	if c.Session != nil {
		if err := c.Session.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close session: %w", err))
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if err := c.Observability.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown observability: %w", err))
	}
	return errors.Join(errs...)
}
