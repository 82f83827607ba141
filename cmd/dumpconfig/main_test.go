package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ncecere/speech_relay/internal/config"
	"github.com/ncecere/speech_relay/internal/providers"
)

func TestDumpMasksSecretsAndListsBackends(t *testing.T) {
	cfg := &config.Config{}
	cfg.Model.Backend = "local"
	cfg.Model.OpenAI.APIKey = "sk-live-secret"

	var buf bytes.Buffer
	require.NoError(t, dump(&buf, cfg, providers.DefaultDefinitions()))
	require.NotContains(t, buf.String(), "sk-live-secret")

	var out struct {
		Backends []backendInfo `json:"backends"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))

	names := make([]string, 0, len(out.Backends))
	for _, b := range out.Backends {
		names = append(names, b.Name)
		require.NotEmpty(t, b.Description)
		require.Equal(t, []string{"transcribe", "translate"}, b.Capabilities)
		require.Equal(t, b.Name == "local", b.Selected)
	}
	require.Equal(t, []string{"azure", "local", "openai", "openai-compatible"}, names)
}
