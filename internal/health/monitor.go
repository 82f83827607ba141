package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ncecere/speech_relay/internal/config"
)

// Check probes one dependency.
type Check func(ctx context.Context) error

// Status is the latest result for one named check.
type Status struct {
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Snapshot is the aggregate readiness view served by /healthz.
type Snapshot struct {
	Healthy    bool              `json:"healthy"`
	Components map[string]Status `json:"components"`
}

// Monitor periodically runs named checks and keeps the latest results.
type Monitor struct {
	interval  time.Duration
	timeout   time.Duration
	checks    map[string]Check
	mu        sync.RWMutex
	statuses  map[string]Status
	startOnce sync.Once
	now       func() time.Time
}

// NewMonitor constructs a monitor using the health configuration.
func NewMonitor(cfg config.HealthConfig) *Monitor {
	interval := cfg.CheckInterval
	if interval <= 0 {
		interval = time.Minute
	}
	timeout := cfg.Timeout
	if timeout <= 0 || timeout > interval {
		timeout = 5 * time.Second
	}

	return &Monitor{
		interval: interval,
		timeout:  timeout,
		checks:   make(map[string]Check),
		statuses: make(map[string]Status),
		now:      time.Now,
	}
}

// Register adds a named check. Call before Start.
func (m *Monitor) Register(name string, check Check) {
	if check == nil {
		return
	}
	m.checks[name] = check
}

// Start begins the monitoring loop until ctx is canceled.
func (m *Monitor) Start(ctx context.Context) {
	if len(m.checks) == 0 {
		return
	}
	m.startOnce.Do(func() {
		go m.run(ctx)
	})
}

func (m *Monitor) run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	// Initial sweep
	m.CheckNow(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CheckNow(ctx)
		}
	}
}

// CheckNow runs every check concurrently and records the results.
func (m *Monitor) CheckNow(ctx context.Context) {
	var wg sync.WaitGroup
	for name, check := range m.checks {
		wg.Add(1)
		go func(name string, check Check) {
			defer wg.Done()
			timeoutCtx, cancel := context.WithTimeout(ctx, m.timeout)
			defer cancel()

			status := Status{Healthy: true, CheckedAt: m.now()}
			if err := check(timeoutCtx); err != nil {
				status.Healthy = false
				status.Error = err.Error()
			}
			m.mu.Lock()
			m.statuses[name] = status
			m.mu.Unlock()
		}(name, check)
	}
	wg.Wait()
}

// Snapshot returns the latest results. Checks that have not run yet are unhealthy.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.checks))
	for name := range m.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	snap := Snapshot{Healthy: true, Components: make(map[string]Status, len(names))}
	for _, name := range names {
		status, ok := m.statuses[name]
		if !ok {
			status = Status{Error: "not checked yet"}
		}
		if !status.Healthy {
			snap.Healthy = false
		}
		snap.Components[name] = status
	}
	return snap
}
