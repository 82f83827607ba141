package providers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ncecere/speech_relay/internal/adapters/azureopenai"
	"github.com/ncecere/speech_relay/internal/config"
)

func init() {
	RegisterDefinition(Definition{
		Name:         "azure",
		Description:  "Azure OpenAI whisper deployment",
		Capabilities: []string{"transcribe", "translate"},
		Builder:      buildAzureBackend,
	})
}

func buildAzureBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Backend, error) {
	cfg = EnsureConfig(cfg)
	az := cfg.Model.Azure

	deployment := strings.TrimSpace(az.Deployment)
	if deployment == "" {
		deployment = cfg.Model.Model
	}
	if strings.TrimSpace(az.Endpoint) == "" || strings.TrimSpace(az.APIKey) == "" {
		return Backend{}, fmt.Errorf("azure endpoint/api key must be provided")
	}

	adapter, err := azureopenai.New(azureopenai.Options{
		Endpoint:   az.Endpoint,
		APIKey:     az.APIKey,
		APIVersion: az.APIVersion,
		Deployment: deployment,
		MaxRetries: cfg.Model.OpenAI.MaxRetries,
	})
	if err != nil {
		return Backend{}, err
	}

	metadata := map[string]string{
		"deployment": deployment,
		"endpoint":   adapter.Endpoint(),
	}
	if az.APIVersion != "" {
		metadata["api_version"] = az.APIVersion
	}
	return Backend{
		Name:       "azure",
		Model:      cfg.Model.Model,
		Metadata:   metadata,
		Recognizer: adapter,
		Health:     adapter.HealthCheck,
	}, nil
}
