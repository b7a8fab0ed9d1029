package audit

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/trustd/internal/trust"
)

// Log is the append-only, hash-chained audit ledger.
//
// All methods are safe for concurrent use. The in-memory chain is the
// authority; the Store mirrors it durably and is replayed by Load at
// startup.
type Log struct {
	mu     sync.Mutex
	events []Event
	store  Store
	logger *zap.Logger
	clock  func() time.Time
}

// Option configures a Log.
type Option func(*Log)

// WithClock overrides the time source, for tests.
func WithClock(clock func() time.Time) Option {
	return func(l *Log) { l.clock = clock }
}

// New creates a Log backed by store. A nil logger falls back to zap.NewNop.
func New(store Store, logger *zap.Logger, opts ...Option) (*Log, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Log{
		store:  store,
		logger: logger,
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Load hydrates the chain from the store. Records past the last valid hash
// boundary (a crash between computing a hash and persisting its successor)
// are dropped and the store is rewritten without them.
func (l *Log) Load() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	events, err := l.store.Load()
	if err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}

	result := VerifyEvents(events)
	if !result.Valid {
		valid := events[:result.FailedIndex]
		l.logger.Warn("ledger tail failed verification, truncating",
			zap.Int("failed_index", result.FailedIndex),
			zap.Int("dropped", len(events)-len(valid)),
			zap.String("details", result.Details),
		)
		if err := l.store.Replace(valid); err != nil {
			return fmt.Errorf("truncate ledger to last valid boundary: %w", err)
		}
		events = valid
	}

	l.events = events
	return nil
}

// Append creates, chains, persists, and returns a new event. Persistence
// failure is fatal to the append: the in-memory chain is not advanced.
func (l *Log) Append(action string, actor trust.Agent, level trust.Level, details map[string]any) (*Event, error) {
	if action == "" {
		return nil, fmt.Errorf("action cannot be empty")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	prev := GenesisHash
	if n := len(l.events); n > 0 {
		prev = l.events[n-1].Hash
	}

	e := Event{
		ID:         uuid.New().String(),
		Timestamp:  l.clock().UTC(),
		Action:     action,
		Actor:      actor,
		TrustLevel: level,
		Details:    details,
		PrevHash:   prev,
	}
	e.Hash = ComputeHash(&e)

	if err := l.store.Append(e); err != nil {
		return nil, fmt.Errorf("persist audit event: %w", err)
	}
	l.events = append(l.events, e)

	return &e, nil
}

// LogSecurity appends a structured security event with action
// "security_event".
func (l *Log) LogSecurity(se SecurityEvent) (*Event, error) {
	if se.EventType == "" {
		return nil, fmt.Errorf("security event type cannot be empty")
	}

	details := map[string]any{
		"event_type": se.EventType,
		"severity":   se.Severity,
		"source":     se.Source,
	}
	for k, v := range se.Details {
		details[k] = v
	}

	actor := se.Actor
	if actor == "" {
		actor = trust.AgentKernel
	}
	level := se.TrustLevel
	if level == "" {
		level = trust.LevelSystem
	}

	return l.Append(ActionSecurityEvent, actor, level, details)
}

// Verify walks the whole chain recomputing hashes. It returns a structured
// result rather than an error so integrity checking can run as a diagnostic
// without crashing the host.
func (l *Log) Verify() VerifyResult {
	l.mu.Lock()
	defer l.mu.Unlock()
	return VerifyEvents(l.events)
}

// Events returns a copy of the chain.
func (l *Log) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// SecurityEvents returns the subset of events recorded via LogSecurity.
func (l *Log) SecurityEvents() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, e := range l.events {
		if e.Action == ActionSecurityEvent {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of events in the chain.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}
