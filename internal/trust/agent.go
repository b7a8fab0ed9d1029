package trust

// Agent identifies a known agent role inside the platform.
//
// Agents are a closed enumeration: map keys, allow-lists, and audit actors
// all use Agent rather than raw strings so that an unknown identifier is an
// explicit AgentUnknown, never an accidental new role.
type Agent string

const (
	// AgentOrchestrator coordinates the other agents.
	AgentOrchestrator Agent = "orchestrator"

	// AgentPlanner produces plans for governance review.
	AgentPlanner Agent = "planner"

	// AgentExecutor carries out approved plan tasks.
	AgentExecutor Agent = "executor"

	// AgentReviewer performs governance reviews.
	AgentReviewer Agent = "reviewer"

	// AgentGuardian owns security response: quarantine, verification.
	AgentGuardian Agent = "guardian"

	// AgentOperator is the human operator role.
	AgentOperator Agent = "operator"

	// AgentKernel is the kernel itself, used as the actor for internal
	// bookkeeping entries in the audit log.
	AgentKernel Agent = "kernel"

	// AgentUnknown is the explicit fallback for unrecognized identifiers.
	AgentUnknown Agent = "unknown"
)

// KnownAgents lists every recognized agent role, excluding AgentUnknown.
func KnownAgents() []Agent {
	return []Agent{
		AgentOrchestrator,
		AgentPlanner,
		AgentExecutor,
		AgentReviewer,
		AgentGuardian,
		AgentOperator,
		AgentKernel,
	}
}

// Valid reports whether a is a recognized role (AgentUnknown is not).
func (a Agent) Valid() bool {
	switch a {
	case AgentOrchestrator, AgentPlanner, AgentExecutor, AgentReviewer,
		AgentGuardian, AgentOperator, AgentKernel:
		return true
	}
	return false
}

// Privileged reports whether the agent may perform security-sensitive
// operations: verifying memory entries and reading quarantined content.
func (a Agent) Privileged() bool {
	switch a {
	case AgentGuardian, AgentOperator, AgentKernel:
		return true
	}
	return false
}

// PrivilegedAgents returns the fixed set of roles allowed on quarantined
// entries. Quarantine always narrows an entry's allow-list to exactly this
// set.
func PrivilegedAgents() []Agent {
	return []Agent{AgentGuardian, AgentOperator, AgentKernel}
}

// ParseAgent maps a string to an Agent, folding unrecognized identifiers
// into AgentUnknown.
func ParseAgent(s string) Agent {
	a := Agent(s)
	if a.Valid() {
		return a
	}
	return AgentUnknown
}
