package openai

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/ncecere/speech_relay/internal/models"
)

// Options configure the native OpenAI adapter.
type Options struct {
	APIKey       string
	BaseURL      string
	Organization string
	MaxRetries   int
	Extra        []option.RequestOption
}

// Adapter wraps the official OpenAI SDK for native + compatible speech deployments.
type Adapter struct {
	client *openai.Client
}

// New creates an OpenAI adapter using the provided API key and optional base URL/organization.
func New(opts Options) (*Adapter, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("openai: api key required")
	}

	requestOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if strings.TrimSpace(opts.BaseURL) != "" {
		requestOpts = append(requestOpts, option.WithBaseURL(strings.TrimRight(opts.BaseURL, "/")))
	}
	if strings.TrimSpace(opts.Organization) != "" {
		requestOpts = append(requestOpts, option.WithOrganization(strings.TrimSpace(opts.Organization)))
	}
	if opts.MaxRetries >= 0 {
		requestOpts = append(requestOpts, option.WithMaxRetries(opts.MaxRetries))
	}
	requestOpts = append(requestOpts, opts.Extra...)
	return FromRequestOptions(requestOpts...), nil
}

// FromRequestOptions builds an adapter from raw SDK options (used for Azure endpoints).
func FromRequestOptions(opts ...option.RequestOption) *Adapter {
	client := openai.NewClient(opts...)
	return &Adapter{client: &client}
}

// Recognize dispatches the request to the transcription or translation endpoint.
func (a *Adapter) Recognize(ctx context.Context, req models.RecognitionRequest) (models.RecognitionPass, error) {
	switch req.Task {
	case models.AudioTaskTranscribe:
		return a.Transcribe(ctx, req)
	case models.AudioTaskTranslate:
		return a.Translate(ctx, req)
	default:
		return models.RecognitionPass{}, fmt.Errorf("openai: unsupported audio task %q", req.Task)
	}
}

// HealthCheck uses the Models API as a lightweight readiness probe.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	_, err := a.client.Models.List(ctx)
	return err
}

// Transcribe performs speech-to-text via the OpenAI Audio Transcriptions API.
func (a *Adapter) Transcribe(ctx context.Context, req models.RecognitionRequest) (models.RecognitionPass, error) {
	file, err := openAudio(req.Path)
	if err != nil {
		return models.RecognitionPass{}, err
	}
	defer file.Close()

	params := openai.AudioTranscriptionNewParams{
		File:           file,
		Model:          openai.AudioModel(req.Model),
		ResponseFormat: openai.AudioResponseFormatVerboseJSON,
	}
	if lang := strings.TrimSpace(req.Language); lang != "" {
		params.Language = openai.String(lang)
	}
	if prompt := strings.TrimSpace(req.Prompt); prompt != "" {
		params.Prompt = openai.String(prompt)
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(float64(*req.Temperature))
	}

	var body verboseResponse
	if _, err := a.client.Audio.Transcriptions.New(ctx, params, option.WithResponseBodyInto(&body)); err != nil {
		return models.RecognitionPass{}, err
	}
	return convertVerbose(models.AudioTaskTranscribe, body), nil
}

// Translate performs speech translation to English using the OpenAI Audio Translations API.
func (a *Adapter) Translate(ctx context.Context, req models.RecognitionRequest) (models.RecognitionPass, error) {
	file, err := openAudio(req.Path)
	if err != nil {
		return models.RecognitionPass{}, err
	}
	defer file.Close()

	params := openai.AudioTranslationNewParams{
		File:           file,
		Model:          openai.AudioModel(req.Model),
		ResponseFormat: openai.AudioTranslationNewParamsResponseFormatVerboseJSON,
	}
	if prompt := strings.TrimSpace(req.Prompt); prompt != "" {
		params.Prompt = openai.String(prompt)
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(float64(*req.Temperature))
	}

	var body verboseResponse
	if _, err := a.client.Audio.Translations.New(ctx, params, option.WithResponseBodyInto(&body)); err != nil {
		return models.RecognitionPass{}, err
	}
	return convertVerbose(models.AudioTaskTranslate, body), nil
}

// The SDK derives the multipart filename from *os.File, which keeps the
// container extension visible to the server.
func openAudio(path string) (*os.File, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("openai: audio path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("openai: open audio: %w", err)
	}
	return file, nil
}

type verboseResponse struct {
	Text     string           `json:"text"`
	Language string           `json:"language"`
	Duration float64          `json:"duration"`
	Segments []verboseSegment `json:"segments"`
}

type verboseSegment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

func convertVerbose(task models.AudioTask, resp verboseResponse) models.RecognitionPass {
	segments := make([]models.Segment, 0, len(resp.Segments))
	for _, seg := range resp.Segments {
		segments = append(segments, models.Segment{
			Start: seg.Start,
			End:   seg.End,
			Text:  seg.Text,
		})
	}
	models.SortSegments(segments)
	return models.RecognitionPass{
		Task:     task,
		Text:     resp.Text,
		Language: resp.Language,
		Duration: resp.Duration,
		Segments: segments,
	}
}
