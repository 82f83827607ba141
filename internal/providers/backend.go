package providers

import "context"

// Backend is a prepared speech model deployment.
type Backend struct {
	Name       string
	Model      string
	Metadata   map[string]string
	Recognizer Recognizer
	Health     func(ctx context.Context) error
	Close      func() error
}

// ResolveDeployment extracts the deployment identifier from backend metadata.
func (b Backend) ResolveDeployment() string {
	if b.Metadata != nil {
		if dep := b.Metadata["deployment"]; dep != "" {
			return dep
		}
	}
	return b.Model
}

// Probe runs the backend health check when one is configured.
func (b Backend) Probe(ctx context.Context) error {
	if b.Health == nil {
		return nil
	}
	return b.Health(ctx)
}

// Shutdown releases backend resources. Safe to call on backends without a Close hook.
func (b Backend) Shutdown() error {
	if b.Close == nil {
		return nil
	}
	return b.Close()
}
