package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ncecere/speech_relay/internal/config"
)

func TestSnapshotBeforeFirstCheckIsUnhealthy(t *testing.T) {
	m := NewMonitor(config.HealthConfig{})
	m.Register("model", func(context.Context) error { return nil })

	snap := m.Snapshot()
	require.False(t, snap.Healthy)
	require.Equal(t, "not checked yet", snap.Components["model"].Error)
}

func TestCheckNowRecordsEachComponent(t *testing.T) {
	m := NewMonitor(config.HealthConfig{CheckInterval: time.Minute, Timeout: time.Second})
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return fixed }
	m.Register("model", func(context.Context) error { return nil })
	m.Register("cache", func(context.Context) error { return errors.New("connection refused") })

	m.CheckNow(context.Background())
	snap := m.Snapshot()
	require.False(t, snap.Healthy)
	require.Equal(t, Status{Healthy: true, CheckedAt: fixed}, snap.Components["model"])
	require.Equal(t, "connection refused", snap.Components["cache"].Error)
}

func TestChecksHonorTimeout(t *testing.T) {
	m := NewMonitor(config.HealthConfig{CheckInterval: time.Minute, Timeout: 20 * time.Millisecond})
	m.Register("model", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	m.CheckNow(context.Background())
	require.Contains(t, m.Snapshot().Components["model"].Error, "deadline exceeded")
}

func TestStartRunsInitialSweep(t *testing.T) {
	m := NewMonitor(config.HealthConfig{CheckInterval: time.Hour})
	m.Register("model", func(context.Context) error { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	require.Eventually(t, func() bool { return m.Snapshot().Healthy }, time.Second, 10*time.Millisecond)
}

func TestEmptyMonitorIsHealthy(t *testing.T) {
	m := NewMonitor(config.HealthConfig{})
	m.Start(context.Background())
	require.True(t, m.Snapshot().Healthy)
}
