package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/fyrsmithlabs/trustd/internal/trust"
)

// Common errors for memory store operations.
var (
	ErrEmptyContent      = errors.New("memory content cannot be empty")
	ErrInvalidType       = errors.New("invalid memory type")
	ErrInvalidPartition  = errors.New("invalid partition")
	ErrInvalidConfidence = errors.New("confidence must be between 0.0 and 1.0")
	ErrInvalidProvenance = errors.New("provenance requires a source and a valid trust level")
	ErrContentRejected   = errors.New("content rejected by poisoning check")
	ErrTrustViolation    = errors.New("provenance trust level may not write this type or partition")
	ErrNotAuthorized     = errors.New("agent is not authorized for this operation")
	ErrNotFound          = errors.New("memory entry not found")
)

// Type classifies what a memory entry records.
type Type string

const (
	// TypeFact is verifiable information.
	TypeFact Type = "fact"

	// TypeObservation is raw observed content.
	TypeObservation Type = "observation"

	// TypeDecision records a decision the platform acted on. Decisions are
	// trust-gated: untrusted and hostile provenance may not write them.
	TypeDecision Type = "decision"

	// TypeInstruction is operator- or system-issued guidance.
	TypeInstruction Type = "instruction"
)

// Valid reports whether t is a known type.
func (t Type) Valid() bool {
	switch t {
	case TypeFact, TypeObservation, TypeDecision, TypeInstruction:
		return true
	}
	return false
}

// Provenance records where an entry's content came from and who handled it.
type Provenance struct {
	// Source names the origin: a URL, a channel, an agent conversation.
	Source string `json:"source"`

	// TrustLevel classifies the origin.
	TrustLevel trust.Level `json:"trust_level"`

	// Agent is the role that submitted the entry.
	Agent trust.Agent `json:"agent"`

	// Chain is the ordered list of sources and agents that produced or
	// forwarded the content, oldest first.
	Chain []string `json:"chain,omitempty"`

	// RequestID correlates the entry with the request that created it.
	RequestID string `json:"request_id,omitempty"`
}

// Entry is one provenance-tracked record in the memory store.
//
// Hash covers every field except itself and is recomputed after every
// mutation (verification, quarantine). Confidence only ever decreases under
// decay; partition transitions only narrow access.
type Entry struct {
	// ID is the unique entry identifier (UUID).
	ID string `json:"id"`

	// Type classifies the entry.
	Type Type `json:"type"`

	// Content is the stored content, post-sanitization.
	Content string `json:"content"`

	// Provenance records origin and handling.
	Provenance Provenance `json:"provenance"`

	// Confidence is a score from 0.0 to 1.0.
	Confidence float64 `json:"confidence"`

	// Partition is the access tier.
	Partition trust.Partition `json:"partition"`

	// AllowedAgents is the per-entry allow-list; empty means unrestricted
	// at the entry level (the partition table still applies).
	AllowedAgents []trust.Agent `json:"allowed_agents,omitempty"`

	// Quarantined marks entries locked down by a poisoning response.
	Quarantined bool `json:"quarantined"`

	// QuarantineReason explains why, when quarantined.
	QuarantineReason string `json:"quarantine_reason,omitempty"`

	// CreatedAt is when the entry was stored (UTC).
	CreatedAt time.Time `json:"created_at"`

	// ExpiresAt, when set, marks the entry for purge after this time.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	// VerifiedAt is set when a privileged agent verifies the entry.
	VerifiedAt *time.Time `json:"verified_at,omitempty"`

	// VerifiedBy is the verifying agent.
	VerifiedBy trust.Agent `json:"verified_by,omitempty"`

	// Supersedes links to an earlier entry this one replaces.
	Supersedes string `json:"supersedes,omitempty"`

	// Hash is the integrity digest over all other fields.
	Hash string `json:"hash"`
}

// ComputeHash returns the sha256 digest over every field except Hash.
// It is called explicitly after every field mutation; the hash is never
// cached implicitly.
func ComputeHash(e *Entry) string {
	shadow := *e
	shadow.Hash = ""
	raw, err := json.Marshal(&shadow)
	if err != nil {
		raw = []byte(err.Error())
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// Expired reports whether the entry's TTL has passed at now.
func (e *Entry) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && e.ExpiresAt.Before(now)
}

// Verified reports whether a privileged agent has verified the entry.
func (e *Entry) Verified() bool {
	return e.VerifiedAt != nil
}

// allows reports whether the per-entry allow-list admits the agent.
// An empty list is unrestricted at the entry level.
func (e *Entry) allows(agent trust.Agent) bool {
	if len(e.AllowedAgents) == 0 {
		return true
	}
	for _, a := range e.AllowedAgents {
		if a == agent {
			return true
		}
	}
	return false
}

// clone returns a deep copy of the entry.
func (e *Entry) clone() *Entry {
	out := *e
	if e.AllowedAgents != nil {
		out.AllowedAgents = append([]trust.Agent(nil), e.AllowedAgents...)
	}
	if e.Provenance.Chain != nil {
		out.Provenance.Chain = append([]string(nil), e.Provenance.Chain...)
	}
	if e.ExpiresAt != nil {
		t := *e.ExpiresAt
		out.ExpiresAt = &t
	}
	if e.VerifiedAt != nil {
		t := *e.VerifiedAt
		out.VerifiedAt = &t
	}
	return &out
}

// Stats summarizes the store's contents.
type Stats struct {
	// Total is the number of live entries.
	Total int `json:"total"`

	// Capacity is the configured maximum.
	Capacity int `json:"capacity"`

	// ByPartition counts entries per partition.
	ByPartition map[trust.Partition]int `json:"by_partition"`

	// ByType counts entries per type.
	ByType map[Type]int `json:"by_type"`

	// Quarantined is the number of quarantined entries.
	Quarantined int `json:"quarantined"`

	// Verified is the number of verified entries.
	Verified int `json:"verified"`

	// Rejected counts writes refused by the poisoning defense.
	Rejected uint64 `json:"rejected"`

	// Denied counts access-control denials.
	Denied uint64 `json:"denied"`

	// Evicted counts entries removed by consolidation.
	Evicted uint64 `json:"evicted"`
}

// AccessDenial is the event payload published when an agent is refused
// access to an entry. Partition is empty when the denial happened before
// the entry was resolved.
type AccessDenial struct {
	EntryID   string          `json:"entry_id"`
	Partition trust.Partition `json:"partition,omitempty"`
	Agent     trust.Agent     `json:"agent"`
}

// SecurityAlert is the event payload published when a submission is
// quarantined by the poisoning or trust defenses.
type SecurityAlert struct {
	EventType string      `json:"event_type"`
	EntryID   string      `json:"entry_id"`
	Agent     trust.Agent `json:"agent"`
	Reason    string      `json:"reason"`
}
