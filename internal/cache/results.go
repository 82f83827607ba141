package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ncecere/speech_relay/internal/models"
)

// ResultCache stores serialized transcription results keyed by audio digest.
type ResultCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewResultCache(client *redis.Client, ttl time.Duration) *ResultCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &ResultCache{client: client, ttl: ttl}
}

// Get returns the cached result for key. A miss is (zero, false, nil).
func (c *ResultCache) Get(ctx context.Context, key string) (models.TranscriptionResult, bool, error) {
	if c == nil || c.client == nil || key == "" {
		return models.TranscriptionResult{}, false, nil
	}
	data, err := c.client.Get(ctx, c.prefixed(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.TranscriptionResult{}, false, nil
		}
		return models.TranscriptionResult{}, false, fmt.Errorf("cache get: %w", err)
	}
	var result models.TranscriptionResult
	if err := json.Unmarshal(data, &result); err != nil {
		return models.TranscriptionResult{}, false, fmt.Errorf("cache decode: %w", err)
	}
	return result, true, nil
}

func (c *ResultCache) Set(ctx context.Context, key string, result models.TranscriptionResult) error {
	if c == nil || c.client == nil || key == "" {
		return nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}
	if err := c.client.Set(ctx, c.prefixed(key), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

func (c *ResultCache) prefixed(key string) string {
	return "transcript:" + key
}
