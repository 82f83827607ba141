package openai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ncecere/speech_relay/internal/models"
	"github.com/ncecere/speech_relay/internal/providers/fixtures"
)

type capturedForm struct {
	path           string
	model          string
	responseFormat string
	language       string
	filename       string
}

func newWhisperServer(t *testing.T) (*httptest.Server, *[]capturedForm) {
	t.Helper()
	var (
		mu       sync.Mutex
		captured []capturedForm
	)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		form := capturedForm{
			path:           r.URL.Path,
			model:          r.FormValue("model"),
			responseFormat: r.FormValue("response_format"),
			language:       r.FormValue("language"),
		}
		if _, header, err := r.FormFile("file"); err == nil {
			form.filename = header.Filename
		}
		mu.Lock()
		captured = append(captured, form)
		mu.Unlock()

		task := "transcribe"
		if strings.HasSuffix(r.URL.Path, "/audio/translations") {
			task = "translate"
		}
		body, err := fixtures.Verbose(task)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	t.Cleanup(ts.Close)
	return ts, &captured
}

func writeAudio(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.mp3")
	require.NoError(t, os.WriteFile(path, []byte("ID3-fake-audio"), 0o600))
	return path
}

func TestRecognizeTranscribeSendsVerboseRequest(t *testing.T) {
	ts, captured := newWhisperServer(t)
	adapter, err := New(Options{APIKey: "sk-test", BaseURL: ts.URL})
	require.NoError(t, err)

	pass, err := adapter.Recognize(context.Background(), models.RecognitionRequest{
		Task:     models.AudioTaskTranscribe,
		Path:     writeAudio(t),
		Model:    "whisper-1",
		Language: "fr",
	})
	require.NoError(t, err)

	require.Len(t, *captured, 1)
	form := (*captured)[0]
	require.True(t, strings.HasSuffix(form.path, "/audio/transcriptions"))
	require.Equal(t, "whisper-1", form.model)
	require.Equal(t, "verbose_json", form.responseFormat)
	require.Equal(t, "fr", form.language)
	require.Equal(t, "clip.mp3", form.filename)

	require.Equal(t, models.AudioTaskTranscribe, pass.Task)
	require.Equal(t, " Bonjour le monde. Comment allez-vous ?", pass.Text)
	require.Equal(t, "french", pass.Language)
	require.Len(t, pass.Segments, 2)
	require.Equal(t, 0.0, pass.Segments[0].Start)
	require.Equal(t, " Bonjour le monde.", pass.Segments[0].Text)
}

func TestRecognizeTranslateUsesTranslationsEndpoint(t *testing.T) {
	ts, captured := newWhisperServer(t)
	adapter, err := New(Options{APIKey: "sk-test", BaseURL: ts.URL})
	require.NoError(t, err)

	pass, err := adapter.Recognize(context.Background(), models.RecognitionRequest{
		Task:  models.AudioTaskTranslate,
		Path:  writeAudio(t),
		Model: "whisper-1",
	})
	require.NoError(t, err)
	require.Len(t, *captured, 1)
	require.True(t, strings.HasSuffix((*captured)[0].path, "/audio/translations"))
	require.Equal(t, " Hello world. How are you?", pass.Text)
	require.Len(t, pass.Segments, 2)
}

func TestRecognizePropagatesServerErrors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"Invalid file format.","type":"invalid_request_error"}}`))
	}))
	defer ts.Close()

	adapter, err := New(Options{APIKey: "sk-test", BaseURL: ts.URL})
	require.NoError(t, err)
	_, err = adapter.Recognize(context.Background(), models.RecognitionRequest{
		Task:  models.AudioTaskTranscribe,
		Path:  writeAudio(t),
		Model: "whisper-1",
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "Invalid file format.")
}

func TestRecognizeRejectsMissingFile(t *testing.T) {
	adapter, err := New(Options{APIKey: "sk-test", BaseURL: "http://127.0.0.1:1"})
	require.NoError(t, err)
	_, err = adapter.Recognize(context.Background(), models.RecognitionRequest{
		Task: models.AudioTaskTranscribe,
		Path: filepath.Join(t.TempDir(), "missing.wav"),
	})
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestNewRequiresAPIKey(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
}

func TestConvertVerboseSortsSegments(t *testing.T) {
	var resp verboseResponse
	require.NoError(t, fixtures.Load("whisper_verbose_transcription.json", &resp))

	pass := convertVerbose(models.AudioTaskTranscribe, resp)
	require.Equal(t, 4.2, pass.Duration)
	require.Len(t, pass.Segments, 2)
	require.LessOrEqual(t, pass.Segments[0].Start, pass.Segments[1].Start)
	require.Equal(t, " Comment allez-vous ?", pass.Segments[1].Text)
}
