package providers

import (
	"context"
	"log/slog"
	"os"

	"github.com/ncecere/speech_relay/internal/adapters/fasterwhisper"
	"github.com/ncecere/speech_relay/internal/config"
)

func init() {
	RegisterDefinition(Definition{
		Name:         "local",
		Description:  "Local faster-whisper model served by a helper process",
		Capabilities: []string{"transcribe", "translate"},
		Builder:      buildLocalBackend,
	})
}

func buildLocalBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Backend, error) {
	cfg = EnsureConfig(cfg)
	lc := cfg.Model.Local
	adapter, err := fasterwhisper.Start(ctx, fasterwhisper.Options{
		Python:         lc.Python,
		Script:         lc.Script,
		Model:          cfg.Model.Model,
		Device:         lc.Device,
		ComputeType:    lc.ComputeType,
		ModelDir:       lc.ModelDir,
		StartupTimeout: lc.StartupTimeout,
		Stderr:         os.Stderr,
		Logger:         logger,
	})
	if err != nil {
		return Backend{}, err
	}
	info := adapter.Info()
	md := cloneMetadata(map[string]string{
		"device":       info.Device,
		"compute_type": info.ComputeType,
	})
	if lc.ModelDir != "" {
		md["model_dir"] = lc.ModelDir
	}
	return Backend{
		Name:       "local",
		Model:      cfg.Model.Model,
		Metadata:   md,
		Recognizer: adapter,
		Health:     adapter.HealthCheck,
		Close:      adapter.Close,
	}, nil
}
