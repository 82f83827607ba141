// Package blob stores opaque objects on local disk or S3, optionally sealed
// with AES-GCM. It backs object audio inputs and the result archive.
package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ncecere/speech_relay/internal/config"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("blob: object not found")

type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

type ObjectInfo struct {
	Key         string
	Size        int64
	ContentType string
	Metadata    map[string]string
	Encrypted   bool
}

type Store interface {
	Put(ctx context.Context, key string, body io.Reader, opts PutOptions) (ObjectInfo, error)
	Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error)
	Delete(ctx context.Context, key string) error
}

type store struct {
	backend Store
	sealer  *sealer
}

// New builds the store described by cfg. It returns nil, nil when storage is "none".
func New(ctx context.Context, cfg config.BlobConfig) (Store, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	backend, err := buildBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	sealer, err := newSealer(cfg.EncryptionKey)
	if err != nil {
		return nil, err
	}
	return &store{backend: backend, sealer: sealer}, nil
}

func buildBackend(ctx context.Context, cfg config.BlobConfig) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Storage)) {
	case "s3":
		awsCfg, err := loadS3Config(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		return newS3Store(cfg.S3, awsCfg)
	case "local":
		return newLocalStore(cfg.Local)
	default:
		return nil, fmt.Errorf("blob: unsupported storage %q", cfg.Storage)
	}
}

func (s *store) Put(ctx context.Context, key string, body io.Reader, opts PutOptions) (ObjectInfo, error) {
	if s.sealer == nil {
		return s.backend.Put(ctx, key, body, opts)
	}
	payload, metadata, err := s.sealer.seal(key, body)
	if err != nil {
		return ObjectInfo{}, err
	}
	merged := mergeMetadata(opts.Metadata, metadata)
	info, err := s.backend.Put(ctx, key, bytes.NewReader(payload), PutOptions{
		ContentType: opts.ContentType,
		Metadata:    merged,
	})
	if err != nil {
		return ObjectInfo{}, err
	}
	info.Size = int64(len(payload))
	info.Metadata = mergeMetadata(info.Metadata, metadata)
	info.Encrypted = true
	return info, nil
}

func (s *store) Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error) {
	reader, info, err := s.backend.Get(ctx, key)
	if err != nil {
		return nil, ObjectInfo{}, err
	}
	if !isSealed(info.Metadata) {
		return reader, info, nil
	}
	defer reader.Close()
	if s.sealer == nil {
		return nil, ObjectInfo{}, fmt.Errorf("blob: %s is sealed but no encryption_key is configured", key)
	}
	plain, err := s.sealer.open(key, reader)
	if err != nil {
		return nil, ObjectInfo{}, err
	}
	info.Size = int64(len(plain))
	info.Encrypted = true
	return readCloser(plain), info, nil
}

func (s *store) Delete(ctx context.Context, key string) error {
	return s.backend.Delete(ctx, key)
}

func mergeMetadata(a, b map[string]string) map[string]string {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	merged := make(map[string]string, len(a)+len(b))
	for k, v := range a {
		merged[k] = v
	}
	for k, v := range b {
		merged[k] = v
	}
	return merged
}
