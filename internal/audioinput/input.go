// Package audioinput turns file paths, byte buffers, streams and stored objects
// into a single on-disk handle the speech model can read.
package audioinput

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

var (
	// ErrInputNotFound means the named file or object does not exist or cannot be read.
	ErrInputNotFound = errors.New("audio input not found")
	// ErrTemporaryResource covers creating, writing or deleting a transient audio file.
	ErrTemporaryResource = errors.New("temporary audio resource failure")
	// ErrInputTooLarge is returned when buffered input exceeds the configured ceiling.
	ErrInputTooLarge = errors.New("audio input too large")
)

// Input is one of FilePath, ByteBuffer, ByteStream or Object.
type Input interface {
	isInput()
}

// FilePath is a caller-owned file. It is never deleted.
type FilePath struct {
	Path string
}

// ByteBuffer is in-memory audio. Ext is the container hint, e.g. ".mp3".
type ByteBuffer struct {
	Data []byte
	Ext  string
}

// ByteStream is drained fully before recognition starts.
type ByteStream struct {
	Reader io.Reader
	Ext    string
}

// Object is audio held in the configured blob store.
type Object struct {
	Key string
	Ext string
}

func (FilePath) isInput()   {}
func (ByteBuffer) isInput() {}
func (ByteStream) isInput() {}
func (Object) isInput()     {}

// Handle is a readable audio path. Transient handles are owned by the
// normalizer and removed by Release.
type Handle struct {
	Path      string
	Transient bool

	once sync.Once
	err  error
}

// Release deletes a transient handle exactly once and is a no-op for caller-owned files.
func (h *Handle) Release() error {
	if h == nil || !h.Transient {
		return nil
	}
	h.once.Do(func() {
		if err := os.Remove(h.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			h.err = fmt.Errorf("%w: remove %s: %w", ErrTemporaryResource, h.Path, err)
		}
	})
	return h.err
}
