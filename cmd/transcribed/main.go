// Command transcribed serves the transcription pipeline over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/ncecere/speech_relay/internal/app"
	"github.com/ncecere/speech_relay/internal/config"
	"github.com/ncecere/speech_relay/internal/httpserver"
	"github.com/ncecere/speech_relay/internal/logging"
	"github.com/ncecere/speech_relay/internal/session"
)

func main() {
	var (
		configFile = pflag.String("config", "", "path to speech_relay.yaml")
		envFile    = pflag.String("env-file", "", "dotenv file to load before reading config")
		listen     = pflag.String("listen", "", "override server.listen_addr")
	)
	pflag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	overrides := map[string]any{}
	if pflag.CommandLine.Changed("listen") {
		overrides["server.listen_addr"] = *listen
	}
	cfg, err := config.Load(config.Options{ConfigFile: *configFile, EnvFile: *envFile, Overrides: overrides})
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(2)
	}
	logger := logging.New(cfg.Logging, os.Stderr)
	slog.SetDefault(logger)

	container, err := app.NewContainer(ctx, cfg, app.Options{Logger: logger})
	if err != nil {
		logger.Error("build container", slog.String("error", err.Error()))
		if errors.Is(err, session.ErrModelInitialization) {
			os.Exit(4)
		}
		os.Exit(1)
	}
	container.StartBackground(ctx)

	server, err := httpserver.New(container)
	if err != nil {
		logger.Error("construct server", slog.String("error", err.Error()))
		_ = container.Close(context.Background())
		os.Exit(1)
	}

	logger.Info("listening", slog.String("addr", cfg.Server.ListenAddr), slog.String("backend", cfg.Model.Backend))
	code := 0
	if err := server.Listen(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server stopped", slog.String("error", err.Error()))
		code = 1
	}
	if err := container.Close(context.Background()); err != nil {
		logger.Warn("shutdown", slog.String("error", err.Error()))
	}
	os.Exit(code)
}
