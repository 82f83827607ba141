// Package transcription runs the two-pass transcribe-and-translate pipeline.
package transcription

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ncecere/speech_relay/internal/audioinput"
	"github.com/ncecere/speech_relay/internal/models"
	"github.com/ncecere/speech_relay/internal/observability"
	"github.com/ncecere/speech_relay/internal/storage/blob"
)

// Passes is the model session as the orchestrator sees it.
type Passes interface {
	RunNativeTranscription(ctx context.Context, path string) (models.RecognitionPass, error)
	RunTranslationToEnglish(ctx context.Context, path string) (models.RecognitionPass, error)
}

// Fingerprinter is implemented by sessions whose settings affect cached results.
type Fingerprinter interface {
	Fingerprint() string
}

// Normalizer resolves caller input to a canonical handle.
type Normalizer interface {
	Normalize(ctx context.Context, input audioinput.Input) (*audioinput.Handle, error)
}

// ResultCache is satisfied by cache.ResultCache.
type ResultCache interface {
	Get(ctx context.Context, key string) (models.TranscriptionResult, bool, error)
	Set(ctx context.Context, key string, result models.TranscriptionResult) error
}

// Options wire optional collaborators into the Service.
type Options struct {
	Cache         ResultCache
	Archive       blob.Store
	ArchivePrefix string
	Metrics       *observability.Provider
	Logger        *slog.Logger
}

type Service struct {
	passes     Passes
	normalizer Normalizer
	cache      ResultCache
	archive    blob.Store
	prefix     string
	metrics    *observability.Provider
	logger     *slog.Logger
}

func NewService(passes Passes, normalizer Normalizer, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	prefix := strings.Trim(opts.ArchivePrefix, "/")
	if prefix == "" {
		prefix = "results"
	}
	return &Service{
		passes:     passes,
		normalizer: normalizer,
		cache:      opts.Cache,
		archive:    opts.Archive,
		prefix:     prefix,
		metrics:    opts.Metrics,
		logger:     logger,
	}
}

// Merge assembles the result from both passes. Translation is set only when
// the trimmed texts differ ignoring case.
func Merge(native, translated models.RecognitionPass) models.TranscriptionResult {
	result := models.TranscriptionResult{Transcription: models.NewTranscript(native)}
	english := models.NewTranscript(translated)
	if !strings.EqualFold(result.Transcription.Text, english.Text) {
		result.Translation = &english
	}
	return result
}

// TranscribeAndTranslate runs the native pass then the translation pass against
// the same handle. No retry; the first failure is returned.
func (s *Service) TranscribeAndTranslate(ctx context.Context, handle *audioinput.Handle) (models.TranscriptionResult, error) {
	native, err := s.passes.RunNativeTranscription(ctx, handle.Path)
	if err != nil {
		return models.TranscriptionResult{}, err
	}
	translated, err := s.passes.RunTranslationToEnglish(ctx, handle.Path)
	if err != nil {
		return models.TranscriptionResult{}, err
	}
	return Merge(native, translated), nil
}

// Process normalizes input, runs both passes and releases any transient file
// on every return path. A release failure is returned only when the passes succeeded.
func (s *Service) Process(ctx context.Context, input audioinput.Input) (result models.TranscriptionResult, err error) {
	started := time.Now()
	handle, err := s.normalizer.Normalize(ctx, input)
	if err != nil {
		s.metrics.RecordOutcome(observability.OutcomeFailed)
		return models.TranscriptionResult{}, err
	}
	defer func() {
		if releaseErr := handle.Release(); releaseErr != nil {
			s.logger.Warn("release audio handle", slog.String("path", handle.Path), slog.String("error", releaseErr.Error()))
			if err == nil {
				result, err = models.TranscriptionResult{}, releaseErr
			}
		}
	}()

	key := s.cacheKey(handle.Path)
	if cached, ok := s.lookup(ctx, key); ok {
		s.metrics.RecordOutcome(observability.OutcomeCached)
		return cached, nil
	}

	result, err = s.TranscribeAndTranslate(ctx, handle)
	if err != nil {
		s.metrics.RecordOutcome(observability.OutcomeFailed)
		return models.TranscriptionResult{}, err
	}
	if result.Translation != nil {
		s.metrics.RecordOutcome(observability.OutcomeTranslated)
	} else {
		s.metrics.RecordOutcome(observability.OutcomeTranscribed)
	}
	s.store(ctx, key, result)
	s.logger.Info("transcription complete",
		slog.Bool("translated", result.Translation != nil),
		slog.Int("chunks", len(result.Transcription.Chunks)),
		slog.Duration("elapsed", time.Since(started)),
	)
	return result, nil
}

// cacheKey hashes the audio bytes together with the session fingerprint. It
// returns "" when neither the cache nor the archive is configured.
func (s *Service) cacheKey(path string) string {
	if s.cache == nil && s.archive == nil {
		return ""
	}
	digest, err := Digest(path)
	if err != nil {
		s.logger.Warn("hash audio", slog.String("path", path), slog.String("error", err.Error()))
		return ""
	}
	if fp, ok := s.passes.(Fingerprinter); ok && fp.Fingerprint() != "" {
		sum := sha256.Sum256([]byte(digest + "|" + fp.Fingerprint()))
		return hex.EncodeToString(sum[:])
	}
	return digest
}

func (s *Service) lookup(ctx context.Context, key string) (models.TranscriptionResult, bool) {
	if s.cache == nil || key == "" {
		return models.TranscriptionResult{}, false
	}
	result, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn("result cache lookup failed", slog.String("error", err.Error()))
		return models.TranscriptionResult{}, false
	}
	return result, ok
}

func (s *Service) store(ctx context.Context, key string, result models.TranscriptionResult) {
	if key == "" {
		return
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, result); err != nil {
			s.logger.Warn("result cache store failed", slog.String("error", err.Error()))
		}
	}
	if s.archive != nil {
		if err := s.archiveResult(ctx, key, result); err != nil {
			s.logger.Warn("archive result failed", slog.String("key", key), slog.String("error", err.Error()))
		}
	}
}

func (s *Service) archiveResult(ctx context.Context, key string, result models.TranscriptionResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	_, err = s.archive.Put(ctx, ArchiveKey(s.prefix, key), bytes.NewReader(data), blob.PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"translated": fmt.Sprintf("%t", result.Translation != nil)},
	})
	return err
}

// ArchiveKey is the blob key a result is archived under.
func ArchiveKey(prefix, digest string) string {
	return strings.Trim(prefix, "/") + "/" + digest + ".json"
}

// Digest returns the hex sha256 of the file at path.
func Digest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
