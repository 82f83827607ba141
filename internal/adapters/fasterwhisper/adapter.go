// Package fasterwhisper runs a local faster-whisper model in a long-lived helper
// process. The model is loaded once at Start; each recognition is one JSON line
// written to the helper's stdin and one JSON line read back from its stdout.
package fasterwhisper

import (
	"bufio"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ncecere/speech_relay/internal/models"
)

//go:embed assets/helper.py
var helperScript []byte

// ErrHelperStopped is returned once the helper process has exited or been killed.
var ErrHelperStopped = errors.New("fasterwhisper: helper process not running")

// Options configure the helper process.
type Options struct {
	Python         string
	Script         string
	Model          string
	Device         string
	ComputeType    string
	ModelDir       string
	StartupTimeout time.Duration
	Stderr         io.Writer
	Logger         *slog.Logger
	// Launch builds the helper command. Defaults to exec.Command.
	Launch func(name string, args ...string) *exec.Cmd
}

// ReadyInfo is what the helper reported after loading the model.
type ReadyInfo struct {
	Device      string `json:"device"`
	ComputeType string `json:"compute_type"`
}

// Adapter owns one helper process at a time. Calls are serialized. After a
// timeout or crash the process is relaunched on the next call.
type Adapter struct {
	mu         sync.Mutex
	proc       *helperProc
	info       ReadyInfo
	python     string
	args       []string
	launch     func(name string, args ...string) *exec.Cmd
	stderr     io.Writer
	timeout    time.Duration
	scriptPath string
	ownsScript bool
	nextID     int64
	broken     error
	closed     bool
	restarting atomic.Bool
	logger     *slog.Logger
	closeOnce  sync.Once
	closeErr   error
}

type helperProc struct {
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	stdout   *bufio.Reader
	stopOnce sync.Once
	stopErr  error
}

type readyLine struct {
	Ready bool   `json:"ready"`
	Error string `json:"error"`
	ReadyInfo
}

type request struct {
	ID          int64    `json:"id"`
	Audio       string   `json:"audio"`
	Task        string   `json:"task"`
	Language    string   `json:"language,omitempty"`
	Prompt      string   `json:"prompt,omitempty"`
	Temperature *float32 `json:"temperature,omitempty"`
}

type response struct {
	ID       int64     `json:"id"`
	Text     string    `json:"text"`
	Language string    `json:"language"`
	Duration float64   `json:"duration"`
	Error    string    `json:"error"`
	Segments []segment `json:"segments"`
}

type segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type lineResult struct {
	line []byte
	err  error
}

// Start launches the helper and blocks until it reports the model is loaded.
func Start(ctx context.Context, opts Options) (*Adapter, error) {
	if strings.TrimSpace(opts.Model) == "" {
		return nil, errors.New("fasterwhisper: model required")
	}
	a := &Adapter{
		python:     orDefault(opts.Python, "python3"),
		launch:     opts.Launch,
		stderr:     opts.Stderr,
		timeout:    opts.StartupTimeout,
		logger:     opts.Logger,
		scriptPath: strings.TrimSpace(opts.Script),
	}
	if a.launch == nil {
		a.launch = exec.Command
	}
	if a.stderr == nil {
		a.stderr = os.Stderr
	}
	if a.timeout <= 0 {
		a.timeout = 10 * time.Minute
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.scriptPath == "" {
		path, err := writeHelperScript()
		if err != nil {
			return nil, err
		}
		a.scriptPath = path
		a.ownsScript = true
	}

	a.args = []string{a.scriptPath, "--model", opts.Model, "--device", orDefault(opts.Device, "auto"), "--compute-type", orDefault(opts.ComputeType, "auto")}
	if dir := strings.TrimSpace(opts.ModelDir); dir != "" {
		a.args = append(a.args, "--model-dir", dir)
	}

	proc, info, err := a.spawn(ctx)
	if err != nil {
		a.removeScript()
		return nil, err
	}
	a.proc, a.info = proc, info
	a.logger.Info("faster-whisper model loaded",
		slog.String("model", opts.Model),
		slog.String("device", info.Device),
		slog.String("compute_type", info.ComputeType),
	)
	return a, nil
}

// spawn starts one helper process and waits for its readiness line.
func (a *Adapter) spawn(ctx context.Context) (*helperProc, ReadyInfo, error) {
	cmd := a.launch(a.python, a.args...)
	cmd.Stderr = a.stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, ReadyInfo{}, fmt.Errorf("fasterwhisper: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, ReadyInfo{}, fmt.Errorf("fasterwhisper: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, ReadyInfo{}, fmt.Errorf("fasterwhisper: start helper: %w", err)
	}
	proc := &helperProc{cmd: cmd, stdin: stdin, stdout: bufio.NewReader(stdout)}

	startCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	line, err := proc.readLine(startCtx)
	if err != nil {
		_ = proc.stop(0)
		return nil, ReadyInfo{}, fmt.Errorf("fasterwhisper: waiting for model load: %w", err)
	}
	var ready readyLine
	if err := json.Unmarshal(line, &ready); err != nil {
		_ = proc.stop(0)
		return nil, ReadyInfo{}, fmt.Errorf("fasterwhisper: decode readiness: %w", err)
	}
	if !ready.Ready {
		_ = proc.stop(0)
		return nil, ReadyInfo{}, fmt.Errorf("fasterwhisper: model load failed: %s", ready.Error)
	}
	return proc, ready.ReadyInfo, nil
}

// ensureRunning relaunches a broken helper. Callers hold a.mu.
func (a *Adapter) ensureRunning(ctx context.Context) error {
	if a.closed {
		return ErrHelperStopped
	}
	if a.broken == nil {
		return nil
	}
	a.logger.Warn("restarting faster-whisper helper", slog.String("cause", a.broken.Error()))
	proc, info, err := a.spawn(ctx)
	if err != nil {
		return fmt.Errorf("%w: restart: %w", ErrHelperStopped, err)
	}
	a.proc, a.info, a.broken = proc, info, nil
	a.logger.Info("faster-whisper helper restarted",
		slog.String("device", info.Device),
		slog.String("compute_type", info.ComputeType),
	)
	return nil
}

// Info reports the device and precision the helper selected.
func (a *Adapter) Info() ReadyInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.info
}

// Recognize runs one pass through the helper, relaunching it first if an
// earlier pass left it stopped.
func (a *Adapter) Recognize(ctx context.Context, req models.RecognitionRequest) (models.RecognitionPass, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.ensureRunning(ctx); err != nil {
		return models.RecognitionPass{}, err
	}
	a.nextID++
	payload, err := json.Marshal(request{
		ID:          a.nextID,
		Audio:       req.Path,
		Task:        string(req.Task),
		Language:    req.Language,
		Prompt:      req.Prompt,
		Temperature: req.Temperature,
	})
	if err != nil {
		return models.RecognitionPass{}, err
	}
	if _, err := a.proc.stdin.Write(append(payload, '\n')); err != nil {
		a.fail(err)
		return models.RecognitionPass{}, fmt.Errorf("fasterwhisper: write request: %w", err)
	}

	line, err := a.proc.readLine(ctx)
	if err != nil {
		a.fail(err)
		return models.RecognitionPass{}, err
	}
	var resp response
	if err := json.Unmarshal(line, &resp); err != nil {
		return models.RecognitionPass{}, fmt.Errorf("fasterwhisper: decode response: %w", err)
	}
	if resp.ID != a.nextID {
		a.fail(fmt.Errorf("response id %d does not match request %d", resp.ID, a.nextID))
		return models.RecognitionPass{}, a.broken
	}
	if resp.Error != "" {
		return models.RecognitionPass{}, fmt.Errorf("fasterwhisper: %s", resp.Error)
	}
	return convertResponse(req.Task, resp), nil
}

// HealthCheck reports whether the helper is usable. A stopped helper is
// relaunched in the background so the next check can pass without traffic.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	a.mu.Lock()
	broken, closed := a.broken, a.closed
	a.mu.Unlock()
	if closed {
		return ErrHelperStopped
	}
	if broken != nil && a.restarting.CompareAndSwap(false, true) {
		go func() {
			defer a.restarting.Store(false)
			a.mu.Lock()
			defer a.mu.Unlock()
			if err := a.ensureRunning(context.Background()); err != nil {
				a.logger.Error("faster-whisper helper restart failed", slog.String("error", err.Error()))
			}
		}()
	}
	return broken
}

// Close stops the helper and removes the extracted script.
func (a *Adapter) Close() error {
	a.closeOnce.Do(func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		a.closed = true
		if a.proc != nil {
			a.closeErr = a.proc.stop(5 * time.Second)
		}
		a.removeScript()
	})
	return a.closeErr
}

func (p *helperProc) readLine(ctx context.Context) ([]byte, error) {
	r := p.stdout
	ch := make(chan lineResult, 1)
	go func() {
		line, err := r.ReadBytes('\n')
		ch <- lineResult{line: line, err: err}
	}()
	select {
	case <-ctx.Done():
		_ = p.cmd.Process.Kill()
		return nil, ctx.Err()
	case res := <-ch:
		if res.err != nil {
			if errors.Is(res.err, io.EOF) {
				return nil, ErrHelperStopped
			}
			return nil, res.err
		}
		return res.line, nil
	}
}

// stop closes stdin and waits up to grace for the helper to exit before
// killing it. A zero grace kills immediately.
func (p *helperProc) stop(grace time.Duration) error {
	p.stopOnce.Do(func() {
		_ = p.stdin.Close()
		done := make(chan error, 1)
		go func() { done <- p.cmd.Wait() }()
		var err error
		if grace <= 0 {
			_ = p.cmd.Process.Kill()
			err = <-done
		} else {
			select {
			case err = <-done:
			case <-time.After(grace):
				_ = p.cmd.Process.Kill()
				err = <-done
			}
		}
		var exitErr *exec.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			p.stopErr = err
		}
	})
	return p.stopErr
}

// fail marks the helper stopped; request/response framing can no longer be
// trusted, so the process is killed and relaunched by the next call.
func (a *Adapter) fail(cause error) {
	if a.broken != nil {
		return
	}
	a.broken = fmt.Errorf("%w: %v", ErrHelperStopped, cause)
	if a.proc != nil {
		_ = a.proc.stop(0)
	}
	a.logger.Error("faster-whisper helper stopped", slog.String("error", cause.Error()))
}

func (a *Adapter) removeScript() {
	if a.ownsScript && a.scriptPath != "" {
		_ = os.Remove(a.scriptPath)
	}
}

func writeHelperScript() (string, error) {
	f, err := os.CreateTemp("", "speech-relay-fw-*.py")
	if err != nil {
		return "", fmt.Errorf("fasterwhisper: write helper script: %w", err)
	}
	if _, err := f.Write(helperScript); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("fasterwhisper: write helper script: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("fasterwhisper: write helper script: %w", err)
	}
	return f.Name(), nil
}

func convertResponse(task models.AudioTask, resp response) models.RecognitionPass {
	segments := make([]models.Segment, 0, len(resp.Segments))
	for _, seg := range resp.Segments {
		segments = append(segments, models.Segment{Start: seg.Start, End: seg.End, Text: seg.Text})
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

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
