package providers

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ncecere/speech_relay/internal/config"
	"github.com/ncecere/speech_relay/internal/models"
)

type stubRecognizer struct{}

func (stubRecognizer) Recognize(ctx context.Context, req models.RecognitionRequest) (models.RecognitionPass, error) {
	return models.RecognitionPass{Task: req.Task}, nil
}

func testConfig(backend string) *config.Config {
	cfg := &config.Config{}
	cfg.Model.Backend = backend
	cfg.Model.Model = "whisper-1"
	return cfg
}

func TestDefaultDefinitionsRegistered(t *testing.T) {
	var names []string
	for _, def := range DefaultDefinitions() {
		names = append(names, def.Name)
		require.Equal(t, []string{"transcribe", "translate"}, def.Capabilities)
	}
	require.Equal(t, []string{"azure", "local", "openai", "openai-compatible"}, names)
}

func TestFactoryBuildUsesRegisteredBuilder(t *testing.T) {
	f := NewFactory(testConfig("fake"), nil)
	f.Register("fake", func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Backend, error) {
		return Backend{Recognizer: stubRecognizer{}}, nil
	})

	backend, err := f.Build(context.Background())
	require.NoError(t, err)
	require.Equal(t, "fake", backend.Name)
	require.Equal(t, "whisper-1", backend.Model)
	require.NoError(t, backend.Probe(context.Background()))
	require.NoError(t, backend.Shutdown())
}

func TestFactoryBuildRejectsUnknownBackend(t *testing.T) {
	_, err := NewFactory(testConfig("nope"), nil).Build(context.Background())
	require.ErrorContains(t, err, `backend "nope" unsupported`)
}

func TestFactoryBuildRejectsMissingRecognizer(t *testing.T) {
	f := NewFactory(testConfig("empty"), nil)
	f.Register("empty", func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Backend, error) {
		return Backend{}, nil
	})
	_, err := f.Build(context.Background())
	require.ErrorContains(t, err, "no recognizer")
}

func TestOpenAIBuilderRequiresKey(t *testing.T) {
	_, err := NewFactory(testConfig("openai"), nil).Build(context.Background())
	require.ErrorContains(t, err, "requires api key")

	cfg := testConfig("openai")
	cfg.Model.OpenAI.APIKey = "sk-test"
	cfg.Model.OpenAI.Organization = "org-1"
	backend, err := NewFactory(cfg, nil).Build(context.Background())
	require.NoError(t, err)
	require.Equal(t, "org-1", backend.Metadata["openai_organization"])
	require.NotNil(t, backend.Health)
}

func TestOpenAICompatibleBuilderRequiresBaseURL(t *testing.T) {
	cfg := testConfig("openai-compatible")
	cfg.Model.OpenAI.APIKey = "sk-test"
	_, err := NewFactory(cfg, nil).Build(context.Background())
	require.ErrorContains(t, err, "base_url")

	cfg.Model.OpenAI.BaseURL = "http://whisper.internal:9000/v1"
	backend, err := NewFactory(cfg, nil).Build(context.Background())
	require.NoError(t, err)
	require.Equal(t, "http://whisper.internal:9000/v1", backend.Metadata["base_url"])
	require.Nil(t, backend.Health)
}

func TestAzureBuilderDefaultsDeploymentToModel(t *testing.T) {
	cfg := testConfig("azure")
	_, err := NewFactory(cfg, nil).Build(context.Background())
	require.Error(t, err)

	cfg.Model.Azure.Endpoint = "https://speech.openai.azure.com/"
	cfg.Model.Azure.APIKey = "az-key"
	backend, err := NewFactory(cfg, nil).Build(context.Background())
	require.NoError(t, err)
	require.Equal(t, "whisper-1", backend.ResolveDeployment())
	require.Equal(t, "https://speech.openai.azure.com", backend.Metadata["endpoint"])
}
