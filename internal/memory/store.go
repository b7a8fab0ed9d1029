// Package memory implements the provenance-tracked memory store with
// partitioned access control and poisoning defenses.
//
// Writes pass the same injection-pattern family as the sanitizer; reads are
// access-checked against both the partition table and per-entry allow-lists,
// with denials indistinguishable from "not found" to the caller. Confidence
// decays as a view-time projection and is never written back.
package memory

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/trustd/internal/audit"
	"github.com/fyrsmithlabs/trustd/internal/bus"
	"github.com/fyrsmithlabs/trustd/internal/sanitize"
	"github.com/fyrsmithlabs/trustd/internal/trust"
)

// Config configures the memory store.
type Config struct {
	// MaxEntries caps the store size (default: 10000).
	MaxEntries int `koanf:"max_entries"`

	// DecayRatePerDay is the confidence lost per day of age (default: 0.01).
	DecayRatePerDay float64 `koanf:"decay_rate_per_day"`

	// EvictFraction is the share of entries evicted by a consolidation pass
	// that is still over capacity after purging expired entries (default: 0.10).
	EvictFraction float64 `koanf:"evict_fraction"`

	// SnapshotPath, when set, enables durable snapshots of the entry map.
	SnapshotPath string `koanf:"snapshot_path"`
}

// DefaultConfig returns the standard store configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxEntries:      10000,
		DecayRatePerDay: 0.01,
		EvictFraction:   0.10,
	}
}

// Validate checks configuration bounds.
func (c *Config) Validate() error {
	if c.MaxEntries <= 0 {
		return fmt.Errorf("max_entries must be positive, got %d", c.MaxEntries)
	}
	if c.DecayRatePerDay < 0 {
		return fmt.Errorf("decay_rate_per_day cannot be negative, got %g", c.DecayRatePerDay)
	}
	if c.EvictFraction <= 0 || c.EvictFraction > 1 {
		return fmt.Errorf("evict_fraction must be in (0,1], got %g", c.EvictFraction)
	}
	return nil
}

// StoreParams are the inputs to Store.
type StoreParams struct {
	Type          Type
	Content       string
	Provenance    Provenance
	Confidence    float64
	Partition     trust.Partition
	AllowedAgents []trust.Agent
	TTL           time.Duration
	Supersedes    string
}

// Filter selects entries in Query. Zero values match everything.
type Filter struct {
	Type          Type
	Partition     trust.Partition
	Source        string
	MinConfidence float64
}

// Store is the provenance-tracked memory store. The entry map is owned
// exclusively by the store; other components observe it only through
// published events and these methods.
type Store struct {
	mu      sync.Mutex
	entries map[string]*Entry

	cfg     *Config
	scanner sanitize.Sanitizer
	auditor *audit.Log
	events  *bus.Bus
	logger  *zap.Logger
	clock   func() time.Time

	rejected atomic.Uint64
	denied   atomic.Uint64
	evicted  atomic.Uint64
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source, for tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) { s.clock = clock }
}

// New creates a Store. The sanitizer, audit log, and event bus are required
// collaborators; a nil logger falls back to zap.NewNop.
func New(cfg *Config, scanner sanitize.Sanitizer, auditor *audit.Log, events *bus.Bus, logger *zap.Logger, opts ...Option) (*Store, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if scanner == nil {
		return nil, fmt.Errorf("sanitizer cannot be nil")
	}
	if auditor == nil {
		return nil, fmt.Errorf("audit log cannot be nil")
	}
	if events == nil {
		return nil, fmt.Errorf("event bus cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Store{
		entries: make(map[string]*Entry),
		cfg:     cfg,
		scanner: scanner,
		auditor: auditor,
		events:  events,
		logger:  logger,
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Store validates, screens, and commits a new entry, returning its ID.
//
// Two conditions reject the write with a hard error, because the caller
// supplied the bad content and needs to know: an injection-pattern hit
// (any trust level), and untrusted or hostile provenance writing Decision
// type or Sensitive partition content. Both quarantine the not-yet-committed
// entry and record a security event before the error surfaces.
func (s *Store) Store(params StoreParams) (string, error) {
	if params.Content == "" {
		return "", ErrEmptyContent
	}
	if !params.Type.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidType, params.Type)
	}
	if !params.Partition.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidPartition, params.Partition)
	}
	if params.Confidence < 0 || params.Confidence > 1 {
		return "", ErrInvalidConfidence
	}
	if params.Provenance.Source == "" || !params.Provenance.TrustLevel.Valid() {
		return "", ErrInvalidProvenance
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock().UTC()

	// Capacity is enforced before commit so the store never exceeds
	// MaxEntries even transiently.
	if len(s.entries) >= s.cfg.MaxEntries {
		s.consolidateLocked(now)
	}

	entry := &Entry{
		ID:            uuid.New().String(),
		Type:          params.Type,
		Content:       params.Content,
		Provenance:    params.Provenance,
		Confidence:    params.Confidence,
		Partition:     params.Partition,
		AllowedAgents: append([]trust.Agent(nil), params.AllowedAgents...),
		CreatedAt:     now,
		Supersedes:    params.Supersedes,
	}
	if params.TTL > 0 {
		expiry := now.Add(params.TTL)
		entry.ExpiresAt = &expiry
	}

	level := params.Provenance.TrustLevel

	// Trust-gated writes: the type/partition restriction applies only to
	// untrusted and hostile provenance.
	lowTrust := level == trust.LevelUntrusted || level == trust.LevelHostile
	if lowTrust && (params.Type == TypeDecision || params.Partition == trust.PartitionSensitive) {
		s.rejectLocked(entry, "trust_violation", fmt.Sprintf(
			"%s provenance may not write %s/%s", level, params.Type, params.Partition))
		return "", ErrTrustViolation
	}

	// Poisoning check: the pattern family applies regardless of trust level.
	assessment := s.scanner.Sanitize(params.Content, level)
	if !assessment.Safe {
		entry.Content = assessment.SanitizedContent
		s.rejectLocked(entry, "content_poisoning", fmt.Sprintf(
			"risk score %d, %d pattern(s) matched", assessment.RiskScore, len(assessment.Threats)))
		return "", fmt.Errorf("%w: risk score %d", ErrContentRejected, assessment.RiskScore)
	}

	entry.Content = assessment.SanitizedContent
	entry.Hash = ComputeHash(entry)

	if _, err := s.auditor.Append("memory_store", params.Provenance.Agent, level, map[string]any{
		"entry_id":  entry.ID,
		"type":      string(entry.Type),
		"partition": string(entry.Partition),
		"source":    params.Provenance.Source,
	}); err != nil {
		return "", fmt.Errorf("audit memory store: %w", err)
	}

	s.entries[entry.ID] = entry
	s.events.Publish(bus.TopicMemoryStored, entry.clone())
	return entry.ID, nil
}

// rejectLocked quarantines a not-yet-committed entry and records the
// security event. The audit trail is authoritative even when the caller's
// operation fails, so logging happens before the caller sees an error.
func (s *Store) rejectLocked(entry *Entry, eventType, reason string) {
	s.rejected.Add(1)

	entry.Quarantined = true
	entry.QuarantineReason = reason
	entry.Partition = trust.PartitionSensitive
	entry.AllowedAgents = trust.PrivilegedAgents()
	entry.Hash = ComputeHash(entry)
	s.entries[entry.ID] = entry

	if _, err := s.auditor.LogSecurity(audit.SecurityEvent{
		EventType:  eventType,
		Severity:   "high",
		Source:     "memory",
		Actor:      entry.Provenance.Agent,
		TrustLevel: entry.Provenance.TrustLevel,
		Details: map[string]any{
			"entry_id": entry.ID,
			"reason":   reason,
		},
	}); err != nil {
		s.logger.Error("failed to audit rejected write", zap.Error(err),
			zap.String("entry_id", entry.ID))
	}

	s.events.Publish(bus.TopicSecurityEvent, SecurityAlert{
		EventType: eventType,
		EntryID:   entry.ID,
		Agent:     entry.Provenance.Agent,
		Reason:    reason,
	})
	s.events.Publish(bus.TopicMemoryQuarantined, entry.clone())
}

// Retrieve returns the entry, or nil for both "not found" and "forbidden".
// The caller cannot distinguish the two; denials are recorded in the audit
// log instead. The returned entry carries view-time decayed confidence.
func (s *Store) Retrieve(id string, agent trust.Agent) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock().UTC()
	entry, ok := s.entries[id]
	if !ok || entry.Expired(now) {
		return nil, nil
	}

	if !s.hasAccess(entry, agent) {
		s.denyLocked(entry.ID, entry.Partition, agent)
		return nil, nil
	}

	view := entry.clone()
	view.Confidence = s.decayedConfidence(entry, now)
	return view, nil
}

// Query returns all accessible entries matching the filter, ordered by
// decayed confidence descending. Inaccessible entries are omitted from the
// result; each omission is recorded in the audit log like a Retrieve denial.
func (s *Store) Query(filter Filter, agent trust.Agent) ([]*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock().UTC()
	var out []*Entry
	for _, entry := range s.entries {
		if entry.Expired(now) {
			continue
		}
		if filter.Type != "" && entry.Type != filter.Type {
			continue
		}
		if filter.Partition != "" && entry.Partition != filter.Partition {
			continue
		}
		if filter.Source != "" && entry.Provenance.Source != filter.Source {
			continue
		}
		decayed := s.decayedConfidence(entry, now)
		if decayed < filter.MinConfidence {
			continue
		}
		if !s.hasAccess(entry, agent) {
			s.denyLocked(entry.ID, entry.Partition, agent)
			continue
		}

		view := entry.clone()
		view.Confidence = decayed
		out = append(out, view)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Verify stamps the entry as verified by a privileged agent and recomputes
// its integrity hash. Verified entries decay at half rate.
func (s *Store) Verify(id string, agent trust.Agent) error {
	if !agent.Privileged() {
		s.mu.Lock()
		s.denyLocked(id, "", agent)
		s.mu.Unlock()
		return ErrNotAuthorized
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok {
		return ErrNotFound
	}

	now := s.clock().UTC()
	entry.VerifiedAt = &now
	entry.VerifiedBy = agent
	entry.Hash = ComputeHash(entry)

	if _, err := s.auditor.Append("memory_verify", agent, trust.LevelSystem, map[string]any{
		"entry_id": id,
	}); err != nil {
		return fmt.Errorf("audit memory verify: %w", err)
	}
	return nil
}

// Quarantine locks an entry down: Sensitive partition, privileged-only
// allow-list. Quarantine only ever narrows access, never widens it.
func (s *Store) Quarantine(id, reason string, agent trust.Agent) error {
	if !agent.Valid() {
		return ErrNotAuthorized
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok {
		return ErrNotFound
	}

	entry.Quarantined = true
	entry.QuarantineReason = reason
	entry.Partition = trust.PartitionSensitive
	entry.AllowedAgents = trust.PrivilegedAgents()
	entry.Hash = ComputeHash(entry)

	if _, err := s.auditor.Append("memory_quarantine", agent, trust.LevelSystem, map[string]any{
		"entry_id": id,
		"reason":   reason,
	}); err != nil {
		return fmt.Errorf("audit memory quarantine: %w", err)
	}

	s.events.Publish(bus.TopicMemoryQuarantined, entry.clone())
	return nil
}

// Stats returns a summary of the store's contents.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Stats{
		Total:       len(s.entries),
		Capacity:    s.cfg.MaxEntries,
		ByPartition: make(map[trust.Partition]int),
		ByType:      make(map[Type]int),
		Rejected:    s.rejected.Load(),
		Denied:      s.denied.Load(),
		Evicted:     s.evicted.Load(),
	}
	for _, entry := range s.entries {
		stats.ByPartition[entry.Partition]++
		stats.ByType[entry.Type]++
		if entry.Quarantined {
			stats.Quarantined++
		}
		if entry.Verified() {
			stats.Verified++
		}
	}
	return stats
}

// Len returns the number of live entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// hasAccess requires both the partition table and the per-entry allow-list
// to admit the agent.
func (s *Store) hasAccess(entry *Entry, agent trust.Agent) bool {
	return entry.Partition.Allows(agent) && entry.allows(agent)
}

func (s *Store) denyLocked(id string, partition trust.Partition, agent trust.Agent) {
	s.denied.Add(1)
	if _, err := s.auditor.Append("memory_access_denied", agent, trust.LevelSystem, map[string]any{
		"entry_id": id,
	}); err != nil {
		s.logger.Error("failed to audit access denial", zap.Error(err),
			zap.String("entry_id", id))
	}
	s.events.Publish(bus.TopicMemoryDenied, AccessDenial{
		EntryID:   id,
		Partition: partition,
		Agent:     agent,
	})
}

// decayedConfidence projects the entry's confidence at now without mutating
// the stored value. Verified entries decay at half the rate.
func (s *Store) decayedConfidence(entry *Entry, now time.Time) float64 {
	ageDays := now.Sub(entry.CreatedAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	factor := 1.0
	if entry.Verified() {
		factor = 0.5
	}
	decay := ageDays * s.cfg.DecayRatePerDay * factor
	if decay > entry.Confidence {
		decay = entry.Confidence
	}
	return entry.Confidence - decay
}

// consolidateLocked purges expired entries, then evicts the
// lowest-decayed-confidence fraction if the store is still at capacity.
func (s *Store) consolidateLocked(now time.Time) {
	var expired []string
	for id, entry := range s.entries {
		if entry.Expired(now) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		delete(s.entries, id)
	}

	var evictedIDs []string
	if len(s.entries) >= s.cfg.MaxEntries {
		type scored struct {
			id         string
			confidence float64
		}
		ranked := make([]scored, 0, len(s.entries))
		for id, entry := range s.entries {
			ranked = append(ranked, scored{id: id, confidence: s.decayedConfidence(entry, now)})
		}
		sort.Slice(ranked, func(i, j int) bool {
			if ranked[i].confidence != ranked[j].confidence {
				return ranked[i].confidence < ranked[j].confidence
			}
			return ranked[i].id < ranked[j].id
		})

		n := int(math.Ceil(float64(len(ranked)) * s.cfg.EvictFraction))
		for _, victim := range ranked[:n] {
			delete(s.entries, victim.id)
			evictedIDs = append(evictedIDs, victim.id)
		}
	}

	if len(expired) == 0 && len(evictedIDs) == 0 {
		return
	}
	s.evicted.Add(uint64(len(expired) + len(evictedIDs)))

	if _, err := s.auditor.Append("memory_consolidate", trust.AgentKernel, trust.LevelSystem, map[string]any{
		"expired": len(expired),
		"evicted": len(evictedIDs),
	}); err != nil {
		s.logger.Error("failed to audit consolidation", zap.Error(err))
	}

	s.logger.Info("memory consolidation",
		zap.Int("expired", len(expired)),
		zap.Int("evicted", len(evictedIDs)),
		zap.Int("remaining", len(s.entries)),
	)
}
