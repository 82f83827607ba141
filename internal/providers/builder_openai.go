package providers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	native "github.com/ncecere/speech_relay/internal/adapters/openai"
	"github.com/ncecere/speech_relay/internal/config"
)

func init() {
	RegisterDefinition(Definition{
		Name:         "openai",
		Description:  "OpenAI native audio API (whisper transcriptions and translations)",
		Capabilities: []string{"transcribe", "translate"},
		Builder:      buildOpenAIBackend,
	})
	RegisterDefinition(Definition{
		Name:         "openai-compatible",
		Description:  "OpenAI API-compatible speech endpoint (custom base URL)",
		Capabilities: []string{"transcribe", "translate"},
		Builder:      buildOpenAICompatibleBackend,
	})
}

func buildOpenAIBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Backend, error) {
	cfg = EnsureConfig(cfg)
	oc := cfg.Model.OpenAI
	apiKey := strings.TrimSpace(oc.APIKey)
	if apiKey == "" {
		return Backend{}, fmt.Errorf("openai backend requires api key (model.openai.api_key or OPENAI_API_KEY)")
	}
	opts := native.Options{
		APIKey:       apiKey,
		BaseURL:      strings.TrimSpace(oc.BaseURL),
		Organization: strings.TrimSpace(oc.Organization),
		MaxRetries:   oc.MaxRetries,
	}
	adapter, err := native.New(opts)
	if err != nil {
		return Backend{}, err
	}

	md := make(map[string]string)
	if opts.BaseURL != "" {
		md["base_url"] = opts.BaseURL
	}
	if opts.Organization != "" {
		md["openai_organization"] = opts.Organization
	}
	return Backend{
		Name:       "openai",
		Model:      cfg.Model.Model,
		Metadata:   md,
		Recognizer: adapter,
		Health:     adapter.HealthCheck,
	}, nil
}

func buildOpenAICompatibleBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Backend, error) {
	cfg = EnsureConfig(cfg)
	oc := cfg.Model.OpenAI
	baseURL := strings.TrimSpace(oc.BaseURL)
	if baseURL == "" {
		return Backend{}, fmt.Errorf("openai-compatible backend requires model.openai.base_url")
	}
	apiKey := strings.TrimSpace(oc.APIKey)
	if apiKey == "" {
		return Backend{}, fmt.Errorf("openai-compatible backend requires api key")
	}
	adapter, err := native.New(native.Options{
		APIKey:       apiKey,
		BaseURL:      baseURL,
		Organization: strings.TrimSpace(oc.Organization),
		MaxRetries:   oc.MaxRetries,
	})
	if err != nil {
		return Backend{}, err
	}

	// Self-hosted whisper servers rarely implement /models, so the probe is skipped.
	return Backend{
		Name:       "openai-compatible",
		Model:      cfg.Model.Model,
		Metadata:   map[string]string{"base_url": baseURL},
		Recognizer: adapter,
	}, nil
}
