package blob

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Sealed objects carry this metadata entry so plaintext written before a key
// was configured stays readable.
const (
	sealMetadataKey = "speech-relay-seal"
	sealMethod      = "aes-gcm-keyed"
)

// ErrSealMismatch means a sealed object failed authentication: wrong key, a
// corrupted payload, or a payload copied from another object key.
var ErrSealMismatch = errors.New("blob: sealed object failed authentication")

// sealer encrypts archived transcripts and stored audio with AES-GCM. The object
// key is bound as additional data, so a sealed payload only opens under the key
// it was written to.
type sealer struct {
	aead cipher.AEAD
}

func newSealer(raw string) (*sealer, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("blob: encryption_key must be base64: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("blob: encryption_key must decode to 16, 24 or 32 bytes, got %d", len(key))
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("blob: init aes-gcm: %w", err)
	}
	return &sealer{aead: aead}, nil
}

// seal returns nonce||ciphertext and the metadata marking the object sealed.
func (s *sealer) seal(objectKey string, r io.Reader) ([]byte, map[string]string, error) {
	plain, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, fmt.Errorf("blob: read %s: %w", objectKey, err)
	}
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plain)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("blob: nonce: %w", err)
	}
	payload := s.aead.Seal(nonce, nonce, plain, []byte(objectKey))
	return payload, map[string]string{sealMetadataKey: sealMethod}, nil
}

func (s *sealer) open(objectKey string, r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("blob: read %s: %w", objectKey, err)
	}
	n := s.aead.NonceSize()
	if len(data) < n+s.aead.Overhead() {
		return nil, fmt.Errorf("%w: %s is truncated", ErrSealMismatch, objectKey)
	}
	plain, err := s.aead.Open(nil, data[:n], data[n:], []byte(objectKey))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrSealMismatch, objectKey)
	}
	return plain, nil
}

func isSealed(meta map[string]string) bool {
	return meta[sealMetadataKey] != ""
}

type nopCloser struct {
	io.Reader
}

func (nopCloser) Close() error { return nil }

func readCloser(b []byte) io.ReadCloser {
	return nopCloser{bytes.NewReader(b)}
}
