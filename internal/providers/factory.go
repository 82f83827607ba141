package providers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ncecere/speech_relay/internal/config"
)

// Builder constructs a Backend from configuration.
type Builder func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Backend, error)

// Factory builds the configured backend using a registry of builders.
type Factory struct {
	cfg      *config.Config
	logger   *slog.Logger
	builders map[string]Builder
}

// NewFactory creates a factory with the default backend registry.
func NewFactory(cfg *config.Config, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{cfg: cfg, logger: logger, builders: cloneDefaultBuilders()}
}

// Register allows tests or callers to override backend builders.
func (f *Factory) Register(name string, builder Builder) {
	if f.builders == nil {
		f.builders = make(map[string]Builder)
	}
	f.builders[name] = builder
}

// Build instantiates the backend named by model.backend.
func (f *Factory) Build(ctx context.Context) (Backend, error) {
	cfg := EnsureConfig(f.cfg)
	name := cfg.Model.Backend
	builder, ok := f.builders[name]
	if !ok {
		return Backend{}, fmt.Errorf("backend %q unsupported", name)
	}
	backend, err := builder(ctx, cfg, f.logger)
	if err != nil {
		return Backend{}, fmt.Errorf("backend %q: %w", name, err)
	}
	if backend.Recognizer == nil {
		return Backend{}, fmt.Errorf("backend %q: builder returned no recognizer", name)
	}
	if backend.Name == "" {
		backend.Name = name
	}
	if backend.Model == "" {
		backend.Model = cfg.Model.Model
	}
	return backend, nil
}
