// Package fixtures ships recorded speech API payloads for adapter tests.
package fixtures

import (
	"embed"
	"encoding/json"
	"fmt"
)

//go:embed testdata/*
var files embed.FS

var verboseByTask = map[string]string{
	"transcribe": "whisper_verbose_transcription.json",
	"translate":  "whisper_verbose_translation.json",
}

// Load decodes the named JSON fixture file into dest.
func Load(name string, dest any) error {
	data, err := Read(name)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("decode fixture %s: %w", name, err)
	}
	return nil
}

// Read returns the raw bytes for a fixture file.
func Read(name string) ([]byte, error) {
	data, err := files.ReadFile("testdata/" + name)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", name, err)
	}
	return data, nil
}

// Verbose returns the recorded verbose_json body for a transcribe or translate task.
func Verbose(task string) ([]byte, error) {
	name, ok := verboseByTask[task]
	if !ok {
		return nil, fmt.Errorf("no verbose fixture for task %q", task)
	}
	return Read(name)
}
