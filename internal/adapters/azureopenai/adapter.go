package azureopenai

import (
	"context"
	"errors"
	"strings"

	"github.com/openai/openai-go/v3/azure"
	"github.com/openai/openai-go/v3/option"

	native "github.com/ncecere/speech_relay/internal/adapters/openai"
	"github.com/ncecere/speech_relay/internal/models"
)

const defaultAPIVersion = "2024-06-01"

// Adapter routes speech requests to an Azure OpenAI whisper deployment.
type Adapter struct {
	inner      *native.Adapter
	endpoint   string
	deployment string
	apiVersion string
}

type Options struct {
	Endpoint   string
	APIKey     string
	APIVersion string
	Deployment string
	MaxRetries int
	Extra      []option.RequestOption
}

// New creates a new Azure adapter using the provided endpoint, api key, and api version.
func New(opts Options) (*Adapter, error) {
	if strings.TrimSpace(opts.Endpoint) == "" {
		return nil, errors.New("azure openai endpoint required")
	}
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("azure openai api key required")
	}
	if strings.TrimSpace(opts.APIVersion) == "" {
		opts.APIVersion = defaultAPIVersion
	}

	endpoint := strings.TrimSuffix(strings.TrimSpace(opts.Endpoint), "/")
	requestOpts := []option.RequestOption{
		azure.WithEndpoint(endpoint, opts.APIVersion),
		azure.WithAPIKey(opts.APIKey),
	}
	if opts.MaxRetries >= 0 {
		requestOpts = append(requestOpts, option.WithMaxRetries(opts.MaxRetries))
	}
	requestOpts = append(requestOpts, opts.Extra...)

	return &Adapter{
		inner:      native.FromRequestOptions(requestOpts...),
		endpoint:   endpoint,
		deployment: strings.TrimSpace(opts.Deployment),
		apiVersion: opts.APIVersion,
	}, nil
}

// Recognize sends the request to the configured deployment. Azure routes by
// deployment name, which travels in the model field.
func (a *Adapter) Recognize(ctx context.Context, req models.RecognitionRequest) (models.RecognitionPass, error) {
	if a.deployment != "" {
		req.Model = a.deployment
	}
	if strings.TrimSpace(req.Model) == "" {
		return models.RecognitionPass{}, errors.New("azure openai deployment required")
	}
	return a.inner.Recognize(ctx, req)
}

// HealthCheck lists models on the resource as a readiness probe.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	return a.inner.HealthCheck(ctx)
}

// Endpoint returns the normalized resource endpoint.
func (a *Adapter) Endpoint() string {
	return a.endpoint
}
