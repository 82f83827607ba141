// Command transcribe prints the transcription (and English translation when it
// differs) of one audio file, stdin stream or stored object as JSON on stdout.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/ncecere/speech_relay/internal/app"
	"github.com/ncecere/speech_relay/internal/audioinput"
	"github.com/ncecere/speech_relay/internal/config"
	"github.com/ncecere/speech_relay/internal/logging"
	"github.com/ncecere/speech_relay/internal/session"
)

const (
	exitOK = iota
	exitFailure
	exitUsage
	exitInputNotFound
	exitModelInit
)

var newContainer = app.NewContainer

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	flags := pflag.NewFlagSet("transcribe", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	var (
		configFile = flags.String("config", "", "path to speech_relay.yaml")
		envFile    = flags.String("env-file", "", "dotenv file to load before reading config")
		useStdin   = flags.Bool("stdin", false, "read audio from stdin (same as passing -)")
		ext        = flags.String("ext", "", "container extension hint for stdin or object input, e.g. mp3")
		object     = flags.String("object", "", "transcribe an object from the configured input store")
		backend    = flags.String("backend", "", "override model.backend (openai, openai-compatible, azure, local)")
		model      = flags.String("model", "", "override model.model")
		language   = flags.String("language", "", "native language hint; empty auto-detects")
		logLevel   = flags.String("log-level", "", "override logging.level")
		pretty     = flags.Bool("pretty", false, "indent JSON output")
	)
	flags.Usage = func() {
		fmt.Fprintln(stderr, "usage: transcribe [flags] <audio-file | ->")
		flags.PrintDefaults()
	}
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}

	input, err := selectInput(flags.Args(), *useStdin, *object, *ext, stdin)
	if err != nil {
		fmt.Fprintln(stderr, err)
		flags.Usage()
		return exitUsage
	}

	overrides := map[string]any{}
	if flags.Changed("backend") {
		overrides["model.backend"] = *backend
	}
	if flags.Changed("model") {
		overrides["model.model"] = *model
	}
	if flags.Changed("language") {
		overrides["model.native_language"] = *language
	}
	if flags.Changed("log-level") {
		overrides["logging.level"] = *logLevel
	}
	cfg, err := config.Load(config.Options{ConfigFile: *configFile, EnvFile: *envFile, Overrides: overrides})
	if err != nil {
		fmt.Fprintf(stderr, "load config: %v\n", err)
		return exitUsage
	}
	logger := logging.New(cfg.Logging, stderr)

	// Fail on a missing file before paying for model startup.
	if path, ok := input.(audioinput.FilePath); ok {
		if _, err := audioinput.FromConfig(cfg.Audio, nil, logger).Normalize(ctx, path); err != nil {
			logger.Error("input not found", slog.String("path", path.Path), slog.String("error", err.Error()))
			return exitInputNotFound
		}
	}

	container, err := newContainer(ctx, cfg, app.Options{Logger: logger})
	if err != nil {
		logger.Error("startup failed", slog.String("error", err.Error()))
		if errors.Is(err, session.ErrModelInitialization) {
			return exitModelInit
		}
		return exitFailure
	}
	defer container.Close(context.Background())

	result, err := container.Service.Process(ctx, input)
	if err != nil {
		logger.Error("transcription failed", slog.String("error", err.Error()))
		if errors.Is(err, audioinput.ErrInputNotFound) {
			return exitInputNotFound
		}
		return exitFailure
	}

	enc := json.NewEncoder(stdout)
	enc.SetEscapeHTML(false)
	if *pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(result); err != nil {
		logger.Error("write result", slog.String("error", err.Error()))
		return exitFailure
	}
	return exitOK
}

func selectInput(positional []string, useStdin bool, object, ext string, stdin io.Reader) (audioinput.Input, error) {
	if len(positional) > 1 {
		return nil, errors.New("exactly one audio input expected")
	}
	sources := 0
	if len(positional) == 1 {
		sources++
	}
	if useStdin {
		sources++
	}
	if object != "" {
		sources++
	}
	switch {
	case sources == 0:
		return nil, errors.New("no audio input given")
	case sources > 1 && !(useStdin && len(positional) == 1 && positional[0] == "-"):
		return nil, errors.New("give one of <audio-file>, - / --stdin, or --object")
	}

	switch {
	case object != "":
		return audioinput.Object{Key: object, Ext: ext}, nil
	case useStdin || positional[0] == "-":
		return audioinput.ByteStream{Reader: stdin, Ext: ext}, nil
	default:
		return audioinput.FilePath{Path: positional[0]}, nil
	}
}
