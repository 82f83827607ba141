// Command dumpconfig prints the merged configuration with secrets masked, along
// with the model backends this build can select.
package main

import (
	"encoding/json"
	"io"
	"log"
	"os"

	"github.com/spf13/pflag"

	"github.com/ncecere/speech_relay/internal/config"
	"github.com/ncecere/speech_relay/internal/providers"
)

type backendInfo struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Capabilities []string `json:"capabilities"`
	Selected     bool     `json:"selected"`
}

type report struct {
	Config   config.Config `json:"config"`
	Backends []backendInfo `json:"backends"`
}

func main() {
	configFile := pflag.String("config", "", "path to speech_relay.yaml")
	envFile := pflag.String("env-file", "", "dotenv file to load before reading config")
	pflag.Parse()

	cfg, err := config.Load(config.Options{ConfigFile: *configFile, EnvFile: *envFile})
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := dump(os.Stdout, cfg, providers.DefaultDefinitions()); err != nil {
		log.Fatalf("encode config: %v", err)
	}
}

func dump(w io.Writer, cfg *config.Config, defs []providers.Definition) error {
	out := report{Config: cfg.Redacted(), Backends: make([]backendInfo, 0, len(defs))}
	for _, def := range defs {
		out.Backends = append(out.Backends, backendInfo{
			Name:         def.Name,
			Description:  def.Description,
			Capabilities: def.Capabilities,
			Selected:     def.Name == cfg.Model.Backend,
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
