package audioinput

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ncecere/speech_relay/internal/config"
	"github.com/ncecere/speech_relay/internal/storage/blob"
)

// DefaultExt matches what browser MediaRecorder produces.
const DefaultExt = ".webm"

// Options configure a Normalizer.
type Options struct {
	TempDir    string
	DefaultExt string
	// MaxBytes caps buffered and streamed input. Zero means unlimited.
	MaxBytes int64
	// Store resolves Object inputs. Nil disables them.
	Store  blob.Store
	Logger *slog.Logger
}

// Normalizer produces canonical handles from any Input.
type Normalizer struct {
	tempDir    string
	defaultExt string
	maxBytes   int64
	store      blob.Store
	logger     *slog.Logger
}

func New(opts Options) *Normalizer {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	def := sanitizeExt(opts.DefaultExt)
	if def == "" {
		def = DefaultExt
	}
	return &Normalizer{
		tempDir:    opts.TempDir,
		defaultExt: def,
		maxBytes:   opts.MaxBytes,
		store:      opts.Store,
		logger:     logger,
	}
}

// FromConfig builds a Normalizer from the audio section.
func FromConfig(cfg config.AudioConfig, store blob.Store, logger *slog.Logger) *Normalizer {
	return New(Options{
		TempDir:    cfg.TempDir,
		DefaultExt: cfg.DefaultExt,
		MaxBytes:   cfg.MaxUploadBytes(),
		Store:      store,
		Logger:     logger,
	})
}

// Normalize resolves input to a readable path. The caller must Release the handle.
func (n *Normalizer) Normalize(ctx context.Context, input Input) (*Handle, error) {
	switch in := deref(input).(type) {
	case FilePath:
		return n.fromPath(in.Path)
	case ByteBuffer:
		return n.materialize(ctx, bytes.NewReader(in.Data), in.Ext)
	case ByteStream:
		if in.Reader == nil {
			return nil, errors.New("audio stream reader required")
		}
		return n.materialize(ctx, in.Reader, in.Ext)
	case Object:
		return n.fromObject(ctx, in)
	case nil:
		return nil, errors.New("audio input required")
	default:
		return nil, fmt.Errorf("unsupported audio input %T", input)
	}
}

// deref maps pointer variants to their values; a nil pointer becomes nil.
func deref(input Input) Input {
	switch in := input.(type) {
	case *FilePath:
		if in != nil {
			return *in
		}
	case *ByteBuffer:
		if in != nil {
			return *in
		}
	case *ByteStream:
		if in != nil {
			return *in
		}
	case *Object:
		if in != nil {
			return *in
		}
	default:
		return input
	}
	return nil
}

func (n *Normalizer) fromPath(path string) (*Handle, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: empty path", ErrInputNotFound)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInputNotFound, path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrInputNotFound, path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInputNotFound, path, err)
	}
	f.Close()
	return &Handle{Path: path}, nil
}

func (n *Normalizer) fromObject(ctx context.Context, obj Object) (*Handle, error) {
	if n.store == nil {
		return nil, errors.New("object inputs require inputs.storage to be configured")
	}
	key := strings.TrimSpace(obj.Key)
	if key == "" {
		return nil, fmt.Errorf("%w: empty object key", ErrInputNotFound)
	}
	rc, _, err := n.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return nil, fmt.Errorf("%w: object %s", ErrInputNotFound, key)
		}
		return nil, fmt.Errorf("fetch object %s: %w", key, err)
	}
	defer rc.Close()
	ext := obj.Ext
	if strings.TrimSpace(ext) == "" {
		ext = filepath.Ext(key)
	}
	return n.materialize(ctx, rc, ext)
}

// materialize copies r into a uniquely named temp file carrying the extension hint.
func (n *Normalizer) materialize(ctx context.Context, r io.Reader, ext string) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	suffix := sanitizeExt(ext)
	if suffix == "" {
		suffix = n.defaultExt
	}
	f, err := os.CreateTemp(n.tempDir, "audio-*"+suffix)
	if err != nil {
		return nil, fmt.Errorf("%w: create: %w", ErrTemporaryResource, err)
	}
	handle := &Handle{Path: f.Name(), Transient: true}

	src := io.Reader(ctxReader{ctx: ctx, r: r})
	if n.maxBytes > 0 {
		src = io.LimitReader(src, n.maxBytes+1)
	}
	written, err := io.Copy(f, src)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err == nil && n.maxBytes > 0 && written > n.maxBytes {
		n.discard(handle)
		return nil, fmt.Errorf("%w: exceeds %d bytes", ErrInputTooLarge, n.maxBytes)
	}
	if err != nil {
		n.discard(handle)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: write: %w", ErrTemporaryResource, err)
	}
	n.logger.Debug("audio materialized",
		slog.String("path", handle.Path),
		slog.Int64("bytes", written),
	)
	return handle, nil
}

func (n *Normalizer) discard(h *Handle) {
	if err := h.Release(); err != nil {
		n.logger.Warn("remove partial audio file", slog.String("path", h.Path), slog.String("error", err.Error()))
	}
}

// sanitizeExt returns ext with a leading dot, lowercased, or "" when it is not a
// plain alphanumeric extension.
func sanitizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
	if ext == "" || len(ext) > 16 {
		return ""
	}
	for _, r := range ext {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return "." + ext
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
