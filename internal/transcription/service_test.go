package transcription

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/ncecere/speech_relay/internal/audioinput"
	"github.com/ncecere/speech_relay/internal/cache"
	"github.com/ncecere/speech_relay/internal/config"
	"github.com/ncecere/speech_relay/internal/models"
	"github.com/ncecere/speech_relay/internal/storage/blob"
)

type fakePasses struct {
	native      string
	translation string
	nativeErr   error
	translErr   error
	fingerprint string

	calls atomic.Int32
	paths []string
	seen  func(path string)
}

func (f *fakePasses) pass(path, text string, err error) (models.RecognitionPass, error) {
	f.calls.Add(1)
	f.paths = append(f.paths, path)
	if f.seen != nil {
		f.seen(path)
	}
	if err != nil {
		return models.RecognitionPass{}, err
	}
	return models.RecognitionPass{
		Text: text,
		Segments: []models.Segment{
			{Start: 2.5, End: 4, Text: "second"},
			{Start: 0, End: 2.5, Text: "first"},
			{Start: 2.5, End: 3, Text: "tie"},
		},
	}, nil
}

func (f *fakePasses) RunNativeTranscription(ctx context.Context, path string) (models.RecognitionPass, error) {
	return f.pass(path, f.native, f.nativeErr)
}

func (f *fakePasses) RunTranslationToEnglish(ctx context.Context, path string) (models.RecognitionPass, error) {
	return f.pass(path, f.translation, f.translErr)
}

func (f *fakePasses) Fingerprint() string { return f.fingerprint }

func newService(t *testing.T, passes Passes, opts Options) (*Service, string) {
	t.Helper()
	dir := t.TempDir()
	return NewService(passes, audioinput.New(audioinput.Options{TempDir: dir}), opts), dir
}

func requireEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestMergeOmitsRedundantTranslation(t *testing.T) {
	result := Merge(
		models.RecognitionPass{Text: "Hello world"},
		models.RecognitionPass{Text: "hello world"},
	)
	require.Equal(t, "Hello world", result.Transcription.Text)
	require.Nil(t, result.Translation)

	data, err := json.Marshal(result)
	require.NoError(t, err)
	require.NotContains(t, string(data), "translation")
}

func TestMergeKeepsDistinctTranslation(t *testing.T) {
	result := Merge(
		models.RecognitionPass{Text: "Bonjour le monde"},
		models.RecognitionPass{Text: "Hello world"},
	)
	require.Equal(t, "Bonjour le monde", result.Transcription.Text)
	require.NotNil(t, result.Translation)
	require.Equal(t, "Hello world", result.Translation.Text)
}

func TestMergeTrimsBeforeComparing(t *testing.T) {
	result := Merge(
		models.RecognitionPass{Text: "  Hello world\n"},
		models.RecognitionPass{Text: " HELLO WORLD "},
	)
	require.Equal(t, "Hello world", result.Transcription.Text)
	require.Nil(t, result.Translation)
	require.NotNil(t, result.Transcription.Chunks)
}

func TestProcessByteBufferRemovesTemporaryFile(t *testing.T) {
	passes := &fakePasses{native: " Bonjour le monde ", translation: " Hello world"}
	passes.seen = func(path string) {
		require.True(t, strings.HasSuffix(path, ".mp3"))
		require.FileExists(t, path)
	}
	svc, dir := newService(t, passes, Options{})

	result, err := svc.Process(context.Background(), audioinput.ByteBuffer{Data: []byte("ID3"), Ext: ".mp3"})
	require.NoError(t, err)
	require.Equal(t, "Bonjour le monde", result.Transcription.Text)
	require.Equal(t, "Hello world", result.Translation.Text)

	require.Len(t, passes.paths, 2)
	require.Equal(t, passes.paths[0], passes.paths[1])
	require.NoFileExists(t, passes.paths[0])
	requireEmptyDir(t, dir)
}

func TestProcessRemovesTemporaryFileOnFailure(t *testing.T) {
	cause := errors.New("corrupt audio")
	for name, passes := range map[string]*fakePasses{
		"native":    {nativeErr: cause},
		"translate": {native: "hi", translErr: cause},
	} {
		t.Run(name, func(t *testing.T) {
			svc, dir := newService(t, passes, Options{})
			_, err := svc.Process(context.Background(), audioinput.ByteStream{Reader: strings.NewReader("RIFF"), Ext: "mp3"})
			require.ErrorIs(t, err, cause)
			require.NotEmpty(t, passes.paths)
			require.True(t, strings.HasSuffix(passes.paths[0], ".mp3"))
			require.NoFileExists(t, passes.paths[0])
			requireEmptyDir(t, dir)
		})
	}
}

func TestProcessNativeFailureSkipsTranslation(t *testing.T) {
	passes := &fakePasses{nativeErr: errors.New("out of memory")}
	svc, _ := newService(t, passes, Options{})
	_, err := svc.Process(context.Background(), audioinput.ByteBuffer{Data: []byte("x")})
	require.Error(t, err)
	require.Equal(t, int32(1), passes.calls.Load())
}

func TestProcessNeverDeletesCallerFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "interview.wav")
	require.NoError(t, os.WriteFile(path, []byte("RIFF"), 0o600))

	ok := &fakePasses{native: "hello", translation: "hello"}
	svc, _ := newService(t, ok, Options{})
	result, err := svc.Process(context.Background(), audioinput.FilePath{Path: path})
	require.NoError(t, err)
	require.Nil(t, result.Translation)
	require.Equal(t, []string{path, path}, ok.paths)
	require.FileExists(t, path)

	failing := &fakePasses{nativeErr: errors.New("boom")}
	svc, _ = newService(t, failing, Options{})
	_, err = svc.Process(context.Background(), audioinput.FilePath{Path: path})
	require.Error(t, err)
	require.FileExists(t, path)
}

func TestProcessMissingFileNeverInvokesModel(t *testing.T) {
	passes := &fakePasses{native: "x", translation: "x"}
	svc, _ := newService(t, passes, Options{})

	_, err := svc.Process(context.Background(), audioinput.FilePath{Path: filepath.Join(t.TempDir(), "absent.ogg")})
	require.ErrorIs(t, err, audioinput.ErrInputNotFound)
	require.Zero(t, passes.calls.Load())
}

func TestTranscribeAndTranslateIsIdempotent(t *testing.T) {
	passes := &fakePasses{native: "Bonjour le monde", translation: "Hello world"}
	svc, _ := newService(t, passes, Options{})
	handle, err := audioinput.New(audioinput.Options{TempDir: t.TempDir()}).Normalize(
		context.Background(), audioinput.ByteBuffer{Data: []byte("x"), Ext: ".wav"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = handle.Release() })

	first, err := svc.TranscribeAndTranslate(context.Background(), handle)
	require.NoError(t, err)
	second, err := svc.TranscribeAndTranslate(context.Background(), handle)
	require.NoError(t, err)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.FileExists(t, handle.Path)
}

func TestChunksOrderedByStart(t *testing.T) {
	passes := &fakePasses{native: "Bonjour", translation: "Hello"}
	svc, _ := newService(t, passes, Options{})
	result, err := svc.Process(context.Background(), audioinput.ByteBuffer{Data: []byte("x")})
	require.NoError(t, err)

	for _, chunks := range [][]models.Segment{result.Transcription.Chunks, result.Translation.Chunks} {
		require.Len(t, chunks, 3)
		for i := 1; i < len(chunks); i++ {
			require.LessOrEqual(t, chunks[i-1].Start, chunks[i].Start)
		}
		// Stable for equal start times.
		require.Equal(t, "second", chunks[1].Text)
		require.Equal(t, "tie", chunks[2].Text)
	}
}

func TestResultWireShape(t *testing.T) {
	result := Merge(
		models.RecognitionPass{Text: "Bonjour", Segments: []models.Segment{{Start: 0, End: 1.5, Text: "Bonjour"}}},
		models.RecognitionPass{Text: "Hello", Segments: []models.Segment{{Start: 0, End: 1.5, Text: "Hello"}}},
	)
	data, err := json.Marshal(result)
	require.NoError(t, err)
	require.JSONEq(t, `{
		"transcription": {"text": "Bonjour", "chunks": [{"timestamp": [0, 1.5], "text": "Bonjour"}]},
		"translation": {"text": "Hello", "chunks": [{"timestamp": [0, 1.5], "text": "Hello"}]}
	}`, string(data))
}

func newRedisCache(t *testing.T) (*cache.ResultCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return cache.NewResultCache(client, 0), mr
}

func TestProcessServesRepeatAudioFromCache(t *testing.T) {
	rc, _ := newRedisCache(t)
	passes := &fakePasses{native: "Bonjour", translation: "Hello", fingerprint: "openai|whisper-1"}
	svc, dir := newService(t, passes, Options{Cache: rc})
	input := audioinput.ByteBuffer{Data: []byte("same-bytes"), Ext: ".ogg"}

	first, err := svc.Process(context.Background(), input)
	require.NoError(t, err)
	require.Equal(t, int32(2), passes.calls.Load())

	second, err := svc.Process(context.Background(), input)
	require.NoError(t, err)
	require.Equal(t, int32(2), passes.calls.Load())
	require.Equal(t, first, second)
	requireEmptyDir(t, dir)

	passes.fingerprint = "openai|whisper-1|en"
	_, err = svc.Process(context.Background(), input)
	require.NoError(t, err)
	require.Equal(t, int32(4), passes.calls.Load())
}

func TestProcessIgnoresCacheFailures(t *testing.T) {
	rc, mr := newRedisCache(t)
	mr.SetError("READONLY")
	passes := &fakePasses{native: "hi", translation: "hi"}
	svc, _ := newService(t, passes, Options{Cache: rc})

	result, err := svc.Process(context.Background(), audioinput.ByteBuffer{Data: []byte("x")})
	require.NoError(t, err)
	require.Equal(t, "hi", result.Transcription.Text)
}

func TestProcessArchivesResult(t *testing.T) {
	ctx := context.Background()
	store, err := blob.New(ctx, config.BlobConfig{Storage: "local", Local: config.BlobLocalConfig{Directory: t.TempDir()}})
	require.NoError(t, err)
	passes := &fakePasses{native: "Bonjour", translation: "Hello"}
	svc, _ := newService(t, passes, Options{Archive: store, ArchivePrefix: "/archive/"})

	audio := []byte("archived-audio")
	result, err := svc.Process(ctx, audioinput.ByteBuffer{Data: audio, Ext: ".wav"})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "a.wav")
	require.NoError(t, os.WriteFile(path, audio, 0o600))
	digest, err := Digest(path)
	require.NoError(t, err)

	rc, info, err := store.Get(ctx, ArchiveKey("archive", digest))
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "application/json", info.ContentType)
	require.Equal(t, "true", info.Metadata["translated"])

	want, err := json.Marshal(result)
	require.NoError(t, err)
	require.JSONEq(t, string(want), string(data))
}

// blockRemoval swaps the temp file for a non-empty directory so os.Remove fails.
func blockRemoval(t *testing.T) func(path string) {
	return func(path string) {
		require.NoError(t, os.Remove(path))
		require.NoError(t, os.Mkdir(path, 0o700))
		require.NoError(t, os.WriteFile(filepath.Join(path, "pinned"), nil, 0o600))
		t.Cleanup(func() { _ = os.RemoveAll(path) })
	}
}

func TestProcessSurfacesReleaseFailureAfterSuccessfulPasses(t *testing.T) {
	passes := &fakePasses{native: "Bonjour", translation: "Hello"}
	passes.seen = func(path string) {
		if passes.calls.Load() == 2 {
			blockRemoval(t)(path)
		}
	}
	svc, _ := newService(t, passes, Options{})

	result, err := svc.Process(context.Background(), audioinput.ByteBuffer{Data: []byte("ID3"), Ext: "mp3"})
	require.ErrorIs(t, err, audioinput.ErrTemporaryResource)
	require.Empty(t, result.Transcription.Text)
	require.Equal(t, int32(2), passes.calls.Load())
}

func TestProcessPassErrorWinsOverReleaseFailure(t *testing.T) {
	cause := errors.New("decoder crashed")
	passes := &fakePasses{nativeErr: cause}
	passes.seen = blockRemoval(t)
	svc, _ := newService(t, passes, Options{})

	_, err := svc.Process(context.Background(), audioinput.ByteBuffer{Data: []byte("ID3"), Ext: "mp3"})
	require.ErrorIs(t, err, cause)
	require.NotErrorIs(t, err, audioinput.ErrTemporaryResource)
}
