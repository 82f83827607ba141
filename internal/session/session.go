// Package session owns the prepared speech model and exposes the two
// recognition modes the orchestrator needs.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ncecere/speech_relay/internal/config"
	"github.com/ncecere/speech_relay/internal/models"
	"github.com/ncecere/speech_relay/internal/observability"
	"github.com/ncecere/speech_relay/internal/providers"
)

var (
	// ErrModelInitialization is fatal for the process and never retried.
	ErrModelInitialization = errors.New("model initialization failed")
	// ErrInferenceFailure wraps any error returned by the speech model.
	ErrInferenceFailure = errors.New("inference failed")
)

const tracerName = "github.com/ncecere/speech_relay/internal/session"

// Options carry optional collaborators for New.
type Options struct {
	Logger  *slog.Logger
	Metrics *observability.Provider
	// Factory overrides the default backend registry.
	Factory *providers.Factory
	// ProbeTimeout bounds the readiness probe run at construction.
	ProbeTimeout time.Duration
}

// Session is the long-lived model handle shared by every request.
type Session struct {
	// slot holds one token; taking it admits one pass at a time.
	slot      chan struct{}
	backend   providers.Backend
	model     config.ModelConfig
	logger    *slog.Logger
	metrics   *observability.Provider
	tracer    trace.Tracer
	closeOnce sync.Once
	closeErr  error
}

// New builds the configured backend and, when model.probe is set, checks it is reachable.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Session, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config required", ErrModelInitialization)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	factory := opts.Factory
	if factory == nil {
		factory = providers.NewFactory(cfg, logger)
	}

	started := time.Now()
	backend, err := factory.Build(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelInitialization, err)
	}
	if cfg.Model.Probe {
		timeout := opts.ProbeTimeout
		if timeout <= 0 {
			timeout = cfg.Health.Timeout
		}
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		probeCtx, cancel := context.WithTimeout(ctx, timeout)
		err := backend.Probe(probeCtx)
		cancel()
		if err != nil {
			_ = backend.Shutdown()
			return nil, fmt.Errorf("%w: probe %s: %w", ErrModelInitialization, backend.Name, err)
		}
	}

	logger.Info("model session ready",
		slog.String("backend", backend.Name),
		slog.String("model", backend.Model),
		slog.String("native_language", languageLabel(cfg.Model.NativeLanguage)),
		slog.Duration("elapsed", time.Since(started)),
	)
	return FromBackend(backend, cfg.Model, opts), nil
}

// FromBackend wraps an already prepared backend.
func FromBackend(backend providers.Backend, model config.ModelConfig, opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(model.TranslateModel) == "" {
		model.TranslateModel = model.Model
	}
	return &Session{
		slot:    make(chan struct{}, 1),
		backend: backend,
		model:   model,
		logger:  logger,
		metrics: opts.Metrics,
		tracer:  otel.Tracer(tracerName),
	}
}

// RunNativeTranscription transcribes the audio in its spoken language. The
// language hint comes from model.native_language; empty means auto-detect.
func (s *Session) RunNativeTranscription(ctx context.Context, path string) (models.RecognitionPass, error) {
	return s.run(ctx, models.RecognitionRequest{
		Task:        models.AudioTaskTranscribe,
		Path:        path,
		Model:       s.model.Model,
		Language:    s.model.NativeLanguage,
		Prompt:      s.model.Prompt,
		Temperature: s.model.Temperature,
	})
}

// RunTranslationToEnglish translates the audio to English text.
func (s *Session) RunTranslationToEnglish(ctx context.Context, path string) (models.RecognitionPass, error) {
	return s.run(ctx, models.RecognitionRequest{
		Task:        models.AudioTaskTranslate,
		Path:        path,
		Model:       s.model.TranslateModel,
		Prompt:      s.model.Prompt,
		Temperature: s.model.Temperature,
	})
}

func (s *Session) run(ctx context.Context, req models.RecognitionRequest) (models.RecognitionPass, error) {
	select {
	case s.slot <- struct{}{}:
	case <-ctx.Done():
		return models.RecognitionPass{}, fmt.Errorf("wait for model session: %w", ctx.Err())
	}
	defer func() { <-s.slot }()

	if s.model.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.model.Timeout)
		defer cancel()
	}
	ctx, span := s.tracer.Start(ctx, "session."+string(req.Task), trace.WithAttributes(
		attribute.String("speech.backend", s.backend.Name),
		attribute.String("speech.model", req.Model),
		attribute.String("speech.language", languageLabel(req.Language)),
	))
	defer span.End()

	started := time.Now()
	pass, err := s.backend.Recognizer.Recognize(ctx, req)
	elapsed := time.Since(started)
	if err != nil {
		s.metrics.RecordPass(string(req.Task), s.backend.Name, "error", elapsed)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error("recognition pass failed",
			slog.String("task", string(req.Task)),
			slog.String("backend", s.backend.Name),
			slog.Duration("elapsed", elapsed),
			slog.String("error", err.Error()),
		)
		return models.RecognitionPass{}, fmt.Errorf("%w: %s pass: %w", ErrInferenceFailure, req.Task, err)
	}
	s.metrics.RecordPass(string(req.Task), s.backend.Name, "ok", elapsed)

	pass.Task = req.Task
	models.SortSegments(pass.Segments)
	span.SetAttributes(
		attribute.Int("speech.segments", len(pass.Segments)),
		attribute.String("speech.detected_language", pass.Language),
	)
	s.logger.Debug("recognition pass complete",
		slog.String("task", string(req.Task)),
		slog.String("backend", s.backend.Name),
		slog.Int("segments", len(pass.Segments)),
		slog.Duration("elapsed", elapsed),
	)
	return pass, nil
}

// Ready runs the backend health check.
func (s *Session) Ready(ctx context.Context) error {
	return s.backend.Probe(ctx)
}

// Backend returns the backend name.
func (s *Session) Backend() string {
	return s.backend.Name
}

// Fingerprint identifies every setting that can change a pass result. Cache
// keys include it so a model or language change never serves stale output.
func (s *Session) Fingerprint() string {
	temp := ""
	if s.model.Temperature != nil {
		temp = strconv.FormatFloat(float64(*s.model.Temperature), 'f', -1, 32)
	}
	return strings.Join([]string{
		s.backend.Name,
		s.backend.ResolveDeployment(),
		s.model.Model,
		s.model.TranslateModel,
		s.model.NativeLanguage,
		s.model.Prompt,
		temp,
	}, "|")
}

// Close releases backend resources. Later calls return the first result.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.backend.Shutdown()
	})
	return s.closeErr
}

func languageLabel(lang string) string {
	if lang == "" {
		return "auto"
	}
	return lang
}
