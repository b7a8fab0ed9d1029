// Package audit provides the tamper-evident, hash-chained audit ledger.
//
// Every state-changing operation in the kernel appends exactly one event.
// Each event's hash covers all of its fields plus the previous event's hash,
// so altering or removing any historical event is detectable by Verify.
// Append is the only mutation; the ledger never supports update or delete
// except explicit full-log replacement during recovery.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/trustd/internal/trust"
)

// GenesisHash is the previous-hash value of the first event in a chain.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// ActionSecurityEvent is the action recorded for structured security events.
const ActionSecurityEvent = "security_event"

// Event is one immutable entry in the audit chain.
type Event struct {
	// ID is the unique event identifier (UUID).
	ID string `json:"id"`

	// Timestamp is when the event was appended (UTC).
	Timestamp time.Time `json:"timestamp"`

	// Action names the operation, e.g. "memory_store" or "plan_review".
	Action string `json:"action"`

	// Actor is the agent role that performed the operation.
	Actor trust.Agent `json:"actor"`

	// TrustLevel is the trust level the operation ran at.
	TrustLevel trust.Level `json:"trust_level"`

	// Details carries operation-specific fields.
	Details map[string]any `json:"details,omitempty"`

	// PrevHash is the hash of the preceding event, or GenesisHash.
	PrevHash string `json:"prev_hash"`

	// Hash is the sha256 digest over all other fields.
	Hash string `json:"hash"`
}

// SecurityEvent is the structured payload accepted by Log.LogSecurity.
type SecurityEvent struct {
	// EventType classifies the event, e.g. "trust_violation".
	EventType string `json:"event_type"`

	// Severity is high, medium, or low.
	Severity string `json:"severity"`

	// Source identifies the component that raised the event.
	Source string `json:"source"`

	// Actor is the agent involved, if any.
	Actor trust.Agent `json:"actor"`

	// TrustLevel is the trust level of the offending content or caller.
	TrustLevel trust.Level `json:"trust_level"`

	// Details carries event-specific fields.
	Details map[string]any `json:"details,omitempty"`
}

// ComputeHash returns the sha256 digest binding every event field to the
// previous event's hash. Details are serialized with encoding/json, which
// sorts map keys, so the digest is stable across loads.
func ComputeHash(e *Event) string {
	details, err := json.Marshal(e.Details)
	if err != nil {
		// Unmarshalable details cannot occur for JSON-compatible maps; fall
		// back to the error text so the hash still binds something stable.
		details = []byte(err.Error())
	}

	h := sha256.New()
	for _, part := range []string{
		e.ID,
		e.Timestamp.UTC().Format(time.RFC3339Nano),
		e.Action,
		string(e.Actor),
		string(e.TrustLevel),
		string(details),
		e.PrevHash,
	} {
		h.Write([]byte(part))
		h.Write([]byte{'|'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyResult is the outcome of a chain verification pass. Verification is
// a diagnostic: it reports corruption rather than failing.
type VerifyResult struct {
	// Valid is true iff every event's hash and linkage check out.
	Valid bool `json:"valid"`

	// Checked is the number of events examined.
	Checked int `json:"checked"`

	// FailedIndex is the index of the first failing event, or -1.
	FailedIndex int `json:"failed_index"`

	// Details describes the first failure, empty when valid.
	Details string `json:"details,omitempty"`
}

// VerifyEvents walks a chain recomputing every hash, failing fast at the
// first mismatch and reporting the offending index.
func VerifyEvents(events []Event) VerifyResult {
	prev := GenesisHash
	for i := range events {
		e := events[i]
		if e.PrevHash != prev {
			return VerifyResult{
				Valid:       false,
				Checked:     i + 1,
				FailedIndex: i,
				Details:     fmt.Sprintf("previous-hash linkage broken at index %d", i),
			}
		}
		if ComputeHash(&e) != e.Hash {
			return VerifyResult{
				Valid:       false,
				Checked:     i + 1,
				FailedIndex: i,
				Details:     fmt.Sprintf("hash mismatch at index %d", i),
			}
		}
		prev = e.Hash
	}
	return VerifyResult{Valid: true, Checked: len(events), FailedIndex: -1}
}
