// Package heartbeat probes registered components on a staggered schedule
// and drives a per-component health state machine. Slow probes degrade a
// component; repeated failures mark it unhealthy and raise a single
// failure event per transition.
package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/trustd/internal/bus"
)

// Status is a component's health state.
type Status string

const (
	// StatusHealthy means the last probe succeeded promptly.
	StatusHealthy Status = "healthy"

	// StatusDegraded means the last probe succeeded but took more than
	// 80% of the timeout, timed out entirely, or failed fewer times
	// than the failure threshold.
	StatusDegraded Status = "degraded"

	// StatusUnhealthy means consecutive failures reached the threshold.
	StatusUnhealthy Status = "unhealthy"

	// StatusUnknown means the component has not been probed yet.
	StatusUnknown Status = "unknown"
)

// Probe checks one component. It returns an error when the component is
// unhealthy and must respect ctx's deadline.
type Probe func(ctx context.Context) error

// Config configures the monitor.
type Config struct {
	// Interval is the probe period per component (default: 30s).
	Interval time.Duration `koanf:"interval"`

	// Stagger offsets each component's first probe by its registration
	// index times this value, so probes do not fire simultaneously
	// (default: 2s).
	Stagger time.Duration `koanf:"stagger"`

	// Timeout bounds a single probe (default: 5s).
	Timeout time.Duration `koanf:"timeout"`

	// FailureThreshold is the consecutive failure count at which a
	// component becomes unhealthy (default: 3).
	FailureThreshold int `koanf:"failure_threshold"`
}

// DefaultConfig returns the standard monitor configuration.
func DefaultConfig() *Config {
	return &Config{
		Interval:         30 * time.Second,
		Stagger:          2 * time.Second,
		Timeout:          5 * time.Second,
		FailureThreshold: 3,
	}
}

// Validate checks configuration bounds.
func (c *Config) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", c.Interval)
	}
	if c.Stagger < 0 {
		return fmt.Errorf("stagger cannot be negative, got %s", c.Stagger)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	if c.Timeout >= c.Interval {
		return fmt.Errorf("timeout %s must be shorter than interval %s", c.Timeout, c.Interval)
	}
	if c.FailureThreshold <= 0 {
		return fmt.Errorf("failure_threshold must be positive, got %d", c.FailureThreshold)
	}
	return nil
}

// ComponentHealth is the observable state of one component.
type ComponentHealth struct {
	Name        string        `json:"name"`
	Status      Status        `json:"status"`
	Failures    int           `json:"failures"`
	LastChecked time.Time     `json:"last_checked"`
	LastLatency time.Duration `json:"last_latency"`
	LastError   string        `json:"last_error,omitempty"`
}

type component struct {
	name   string
	probe  Probe
	index  int
	cancel context.CancelFunc
	done   chan struct{}

	health ComponentHealth
}

// StatusChange is the payload published on status transitions.
type StatusChange struct {
	Component string    `json:"component"`
	From      Status    `json:"from"`
	To        Status    `json:"to"`
	Failures  int       `json:"failures"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// Monitor schedules probes and tracks component health. Safe for
// concurrent use.
type Monitor struct {
	mu         sync.Mutex
	components map[string]*component
	nextIndex  int
	running    bool

	cfg    *Config
	events *bus.Bus
	logger *zap.Logger
	clock  func() time.Time
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock overrides the time source, for tests.
func WithClock(clock func() time.Time) Option {
	return func(m *Monitor) { m.clock = clock }
}

// New creates a Monitor. The event bus is required.
func New(cfg *Config, events *bus.Bus, logger *zap.Logger, opts ...Option) (*Monitor, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if events == nil {
		return nil, fmt.Errorf("event bus cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Monitor{
		components: make(map[string]*component),
		cfg:        cfg,
		events:     events,
		logger:     logger,
		clock:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Register adds a component. Its first scheduled probe is delayed by the
// stagger offset times its registration index. Registering while the
// monitor runs starts the component's probe loop immediately.
func (m *Monitor) Register(name string, probe Probe) error {
	if name == "" {
		return fmt.Errorf("component name cannot be empty")
	}
	if probe == nil {
		return fmt.Errorf("probe cannot be nil")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.components[name]; exists {
		return fmt.Errorf("component %q already registered", name)
	}

	c := &component{
		name:  name,
		probe: probe,
		index: m.nextIndex,
		health: ComponentHealth{
			Name:   name,
			Status: StatusUnknown,
		},
	}
	m.nextIndex++
	m.components[name] = c

	if m.running {
		m.startComponentLocked(c)
	}
	return nil
}

// Unregister stops and removes a component. Unknown names are a no-op.
func (m *Monitor) Unregister(name string) {
	m.mu.Lock()
	c, ok := m.components[name]
	if ok {
		delete(m.components, name)
	}
	m.mu.Unlock()

	if ok && c.cancel != nil {
		c.cancel()
		<-c.done
	}
}

// Start launches a probe loop per registered component.
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("monitor already running")
	}
	m.running = true

	for _, c := range m.sortedLocked() {
		m.startComponentLocked(c)
	}
	m.logger.Info("heartbeat monitor started",
		zap.Int("components", len(m.components)),
		zap.Duration("interval", m.cfg.Interval),
	)
	return nil
}

// Stop halts all probe loops and waits for them to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	loops := make([]*component, 0, len(m.components))
	for _, c := range m.components {
		loops = append(loops, c)
	}
	m.mu.Unlock()

	for _, c := range loops {
		if c.cancel != nil {
			c.cancel()
			<-c.done
			c.cancel = nil
		}
	}
	m.logger.Info("heartbeat monitor stopped")
}

func (m *Monitor) startComponentLocked(c *component) {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})

	initialDelay := time.Duration(c.index) * m.cfg.Stagger
	go m.probeLoop(ctx, c, initialDelay)
}

func (m *Monitor) probeLoop(ctx context.Context, c *component, initialDelay time.Duration) {
	defer close(c.done)

	timer := time.NewTimer(initialDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		m.runProbe(ctx, c)
		timer.Reset(m.cfg.Interval)
	}
}

// CheckComponent probes one component immediately, outside its schedule,
// and returns the resulting health.
func (m *Monitor) CheckComponent(ctx context.Context, name string) (ComponentHealth, error) {
	m.mu.Lock()
	c, ok := m.components[name]
	m.mu.Unlock()
	if !ok {
		return ComponentHealth{}, fmt.Errorf("component %q not registered", name)
	}

	m.runProbe(ctx, c)

	m.mu.Lock()
	defer m.mu.Unlock()
	return c.health, nil
}

func (m *Monitor) runProbe(ctx context.Context, c *component) {
	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	start := m.clock()
	errCh := make(chan error, 1)
	go func() { errCh <- c.probe(probeCtx) }()

	var err error
	select {
	case err = <-errCh:
	case <-probeCtx.Done():
		// A probe that ignores its context is abandoned here so the
		// loop, Stop, and Unregister never block on it.
		err = probeCtx.Err()
	}
	latency := m.clock().Sub(start)

	if errors.Is(err, context.Canceled) {
		// The monitor is stopping; leave the component's state as-is.
		return
	}

	m.mu.Lock()
	prev := c.health.Status
	c.health.LastChecked = m.clock().UTC()
	c.health.LastLatency = latency

	if errors.Is(err, context.DeadlineExceeded) {
		// A timeout degrades the component, but only an outright
		// failure counts toward the unhealthy threshold.
		c.health.LastError = err.Error()
		c.health.Status = StatusDegraded
	} else if err != nil {
		c.health.Failures++
		c.health.LastError = err.Error()
		if c.health.Failures >= m.cfg.FailureThreshold {
			c.health.Status = StatusUnhealthy
		} else {
			c.health.Status = StatusDegraded
		}
	} else {
		c.health.Failures = 0
		c.health.LastError = ""
		// A slow success keeps the component degraded rather than healthy.
		if latency > m.degradedLatency() {
			c.health.Status = StatusDegraded
		} else {
			c.health.Status = StatusHealthy
		}
	}
	next := c.health.Status
	failures := c.health.Failures
	lastErr := c.health.LastError
	m.mu.Unlock()

	if next == prev {
		return
	}

	change := StatusChange{
		Component: c.name,
		From:      prev,
		To:        next,
		Failures:  failures,
		Error:     lastErr,
		At:        m.clock().UTC(),
	}
	m.events.Publish(bus.TopicHeartbeatStatusChanged, change)

	// Exactly one failure event per transition into unhealthy.
	if next == StatusUnhealthy {
		m.events.Publish(bus.TopicHeartbeatFailure, change)
		m.logger.Error("component unhealthy",
			zap.String("component", c.name),
			zap.Int("failures", failures),
			zap.String("error", lastErr),
		)
	} else {
		m.logger.Info("component status changed",
			zap.String("component", c.name),
			zap.String("from", string(prev)),
			zap.String("to", string(next)),
		)
	}
}

// degradedLatency is the success latency above which a component is
// considered degraded: 80% of the probe timeout.
func (m *Monitor) degradedLatency() time.Duration {
	return m.cfg.Timeout * 8 / 10
}

// Report returns the health of every component, sorted by name.
func (m *Monitor) Report() []ComponentHealth {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ComponentHealth, 0, len(m.components))
	for _, c := range m.sortedLocked() {
		out = append(out, c.health)
	}
	return out
}

// ComponentsByStatus returns the names of components in the given status,
// sorted.
func (m *Monitor) ComponentsByStatus(status Status) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []string
	for _, c := range m.components {
		if c.health.Status == status {
			out = append(out, c.name)
		}
	}
	sort.Strings(out)
	return out
}

// Healthy reports whether every component is healthy. An empty monitor is
// healthy.
func (m *Monitor) Healthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range m.components {
		if c.health.Status != StatusHealthy {
			return false
		}
	}
	return true
}

// HasUnhealthy reports whether any component is unhealthy.
func (m *Monitor) HasUnhealthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range m.components {
		if c.health.Status == StatusUnhealthy {
			return true
		}
	}
	return false
}

func (m *Monitor) sortedLocked() []*component {
	out := make([]*component, 0, len(m.components))
	for _, c := range m.components {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].index < out[j].index })
	return out
}
