package trust

// Partition is a memory-store access tier. Transitions between partitions
// only ever narrow access: quarantine forces PartitionSensitive, never the
// reverse.
type Partition string

const (
	// PartitionPublic is readable by every agent, including unknown ones.
	PartitionPublic Partition = "public"

	// PartitionInternal is readable by all known agent roles.
	PartitionInternal Partition = "internal"

	// PartitionSensitive is readable only by privileged roles.
	PartitionSensitive Partition = "sensitive"
)

// Valid reports whether p is a known partition.
func (p Partition) Valid() bool {
	switch p {
	case PartitionPublic, PartitionInternal, PartitionSensitive:
		return true
	}
	return false
}

// AllowedAgents returns the fixed partition-level allow-list. A nil return
// means the partition is unrestricted at this level (per-entry allow-lists
// still apply on top).
func (p Partition) AllowedAgents() []Agent {
	switch p {
	case PartitionPublic:
		return nil
	case PartitionInternal:
		return KnownAgents()
	case PartitionSensitive:
		return PrivilegedAgents()
	}
	// Unknown partitions admit nobody.
	return []Agent{}
}

// Allows reports whether the partition-level table admits the agent.
func (p Partition) Allows(a Agent) bool {
	allowed := p.AllowedAgents()
	if allowed == nil {
		return true
	}
	for _, candidate := range allowed {
		if candidate == a {
			return true
		}
	}
	return false
}
