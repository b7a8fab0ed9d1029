// Package kernel assembles the trust kernel: event bus, sanitizer, audit
// ledger, memory store, governance engine, and heartbeat monitor, wired
// together and instrumented.
package kernel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/trustd/internal/audit"
	"github.com/fyrsmithlabs/trustd/internal/bus"
	"github.com/fyrsmithlabs/trustd/internal/config"
	"github.com/fyrsmithlabs/trustd/internal/governance"
	"github.com/fyrsmithlabs/trustd/internal/heartbeat"
	"github.com/fyrsmithlabs/trustd/internal/memory"
	"github.com/fyrsmithlabs/trustd/internal/metrics"
	"github.com/fyrsmithlabs/trustd/internal/sanitize"
)

// Kernel owns every trust component and their lifecycle.
//
// Construction wires the components; Start hydrates persistent state and
// launches background loops; Shutdown stops loops and flushes state.
type Kernel struct {
	mu      sync.Mutex
	started bool

	cfg       *config.Config
	logger    *zap.Logger
	events    *bus.Bus
	scanner   sanitize.Sanitizer
	auditor   *audit.Log
	memory    *memory.Store
	reviews   *governance.Engine
	heartbeat *heartbeat.Monitor
	metrics   *metrics.KernelMetrics

	unsubscribe []func()
	sweepStop   chan struct{}
	sweepDone   chan struct{}
}

// New wires a Kernel from configuration. Nothing is started: persistent
// state is loaded by Start.
func New(cfg *config.Config, logger *zap.Logger) (*Kernel, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	events := bus.New(logger.Named("bus"))

	scanner, err := sanitize.New(&cfg.Sanitize)
	if err != nil {
		return nil, fmt.Errorf("build sanitizer: %w", err)
	}

	ledgerStore, err := audit.NewFileStore(cfg.Audit.LedgerPath)
	if err != nil {
		return nil, fmt.Errorf("open audit ledger: %w", err)
	}
	auditor, err := audit.New(ledgerStore, logger.Named("audit"))
	if err != nil {
		return nil, fmt.Errorf("build audit log: %w", err)
	}

	mem, err := memory.New(&cfg.Memory, scanner, auditor, events, logger.Named("memory"))
	if err != nil {
		return nil, fmt.Errorf("build memory store: %w", err)
	}

	policy, err := governance.NewPolicyEvaluator(nil)
	if err != nil {
		return nil, fmt.Errorf("build policy evaluator: %w", err)
	}
	reviews, err := governance.New(&cfg.Governance, policy, auditor, events, logger.Named("governance"))
	if err != nil {
		return nil, fmt.Errorf("build governance engine: %w", err)
	}

	monitor, err := heartbeat.New(&cfg.Heartbeat, events, logger.Named("heartbeat"))
	if err != nil {
		return nil, fmt.Errorf("build heartbeat monitor: %w", err)
	}

	k := &Kernel{
		cfg:       cfg,
		logger:    logger,
		events:    events,
		scanner:   scanner,
		auditor:   auditor,
		memory:    mem,
		reviews:   reviews,
		heartbeat: monitor,
		metrics:   metrics.NewKernelMetrics(logger.Named("metrics")),
	}

	if err := k.registerProbes(); err != nil {
		return nil, fmt.Errorf("register probes: %w", err)
	}
	k.wireMetrics()
	return k, nil
}

// registerProbes attaches a liveness probe per component.
func (k *Kernel) registerProbes() error {
	probes := []struct {
		name  string
		probe heartbeat.Probe
	}{
		{"bus", func(ctx context.Context) error {
			k.events.ListenerCount(bus.TopicSecurityEvent)
			return nil
		}},
		{"audit", func(ctx context.Context) error {
			result := k.auditor.Verify()
			if !result.Valid {
				k.metrics.RecordAuditVerifyFailure(ctx)
				return fmt.Errorf("chain broken at index %d: %s", result.FailedIndex, result.Details)
			}
			return nil
		}},
		{"memory", func(ctx context.Context) error {
			stats := k.memory.Stats()
			if stats.Total > k.cfg.Memory.MaxEntries {
				return fmt.Errorf("store over capacity: %d > %d", stats.Total, k.cfg.Memory.MaxEntries)
			}
			return nil
		}},
		{"governance", func(ctx context.Context) error {
			k.reviews.Stats()
			return nil
		}},
	}
	for _, p := range probes {
		if err := k.heartbeat.Register(p.name, p.probe); err != nil {
			return err
		}
	}
	return nil
}

// wireMetrics records kernel events as OpenTelemetry measurements.
func (k *Kernel) wireMetrics() {
	ctx := context.Background()

	k.unsubscribe = append(k.unsubscribe,
		k.events.Subscribe(bus.TopicMemoryStored, func(payload any) {
			if e, ok := payload.(*memory.Entry); ok {
				k.metrics.RecordMemoryStore(ctx, string(e.Partition), string(e.Provenance.Agent))
			}
		}),
		k.events.Subscribe(bus.TopicMemoryQuarantined, func(payload any) {
			if e, ok := payload.(*memory.Entry); ok {
				k.metrics.RecordMemoryRejection(ctx, e.QuarantineReason)
			}
		}),
		k.events.Subscribe(bus.TopicMemoryDenied, func(payload any) {
			if d, ok := payload.(memory.AccessDenial); ok {
				k.metrics.RecordMemoryDenial(ctx, string(d.Partition), string(d.Agent))
			}
		}),
		k.events.Subscribe(bus.TopicPlanReviewCompleted, func(payload any) {
			if p, ok := payload.(*governance.Pipeline); ok {
				k.metrics.RecordPlanReview(ctx, string(p.Status))
			}
		}),
		k.events.Subscribe(bus.TopicHeartbeatStatusChanged, func(payload any) {
			if c, ok := payload.(heartbeat.StatusChange); ok {
				k.metrics.RecordHeartbeatChange(ctx, c.Component, string(c.To))
			}
		}),
	)
}

// Start hydrates the audit chain and memory snapshot, then launches the
// heartbeat monitor.
func (k *Kernel) Start() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.started {
		return fmt.Errorf("kernel already started")
	}

	if err := k.auditor.Load(); err != nil {
		return fmt.Errorf("load audit ledger: %w", err)
	}
	if k.cfg.Memory.SnapshotPath != "" {
		if err := k.memory.Rehydrate(); err != nil {
			return fmt.Errorf("rehydrate memory: %w", err)
		}
	}
	if err := k.heartbeat.Start(); err != nil {
		return fmt.Errorf("start heartbeat: %w", err)
	}

	k.sweepStop = make(chan struct{})
	k.sweepDone = make(chan struct{})
	go k.sweepLoop()

	k.started = true
	k.logger.Info("trust kernel started",
		zap.Int("audit_events", k.auditor.Len()),
		zap.Int("memory_entries", k.memory.Len()),
	)
	return nil
}

// sweepLoop periodically drops terminal review pipelines that have been
// finished longer than the governance retention window.
func (k *Kernel) sweepLoop() {
	defer close(k.sweepDone)

	interval := k.cfg.Governance.Retention / 4
	if interval > time.Hour {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-k.sweepStop:
			return
		case <-ticker.C:
			k.reviews.Sweep(time.Now())
		}
	}
}

// Shutdown stops background loops and snapshots memory. The context bounds
// the snapshot write.
func (k *Kernel) Shutdown(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if !k.started {
		return nil
	}
	k.started = false

	k.heartbeat.Stop()
	close(k.sweepStop)
	<-k.sweepDone
	for _, unsub := range k.unsubscribe {
		unsub()
	}

	done := make(chan error, 1)
	go func() {
		if k.cfg.Memory.SnapshotPath != "" {
			done <- k.memory.Snapshot()
			return
		}
		done <- nil
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("snapshot memory: %w", err)
		}
	case <-ctx.Done():
		return fmt.Errorf("shutdown interrupted: %w", ctx.Err())
	}

	k.logger.Info("trust kernel stopped")
	return nil
}

// Accessors for the assembled components.

func (k *Kernel) Events() *bus.Bus                { return k.events }
func (k *Kernel) Sanitizer() sanitize.Sanitizer   { return k.scanner }
func (k *Kernel) Audit() *audit.Log               { return k.auditor }
func (k *Kernel) Memory() *memory.Store           { return k.memory }
func (k *Kernel) Reviews() *governance.Engine     { return k.reviews }
func (k *Kernel) Heartbeat() *heartbeat.Monitor   { return k.heartbeat }
func (k *Kernel) Metrics() *metrics.KernelMetrics { return k.metrics }
