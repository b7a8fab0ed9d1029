// Package trust defines the closed enumerations shared by every kernel
// component: trust levels for content provenance, known agent roles, and
// memory partitions with their access tables.
//
// These are deliberately closed sets. Agent identifiers arrive from the
// outside world as strings; ParseAgent folds anything unrecognized into
// AgentUnknown so a typo can never silently acquire privileges.
package trust

// Level classifies how much a content or provenance source is trusted.
//
// Ordering (most to least trusted): system > operator > standard >
// untrusted > hostile. The ordering drives risk amplification in the
// sanitizer and write gating in the memory store.
type Level string

const (
	// LevelSystem is content originating from the kernel itself.
	LevelSystem Level = "system"

	// LevelOperator is content from a verified human operator.
	LevelOperator Level = "operator"

	// LevelStandard is the default for authenticated agents.
	LevelStandard Level = "standard"

	// LevelUntrusted is unauthenticated or externally fetched content.
	LevelUntrusted Level = "untrusted"

	// LevelHostile is content from a source flagged as adversarial.
	LevelHostile Level = "hostile"
)

// Levels lists all valid trust levels, most trusted first.
func Levels() []Level {
	return []Level{LevelSystem, LevelOperator, LevelStandard, LevelUntrusted, LevelHostile}
}

// Valid reports whether l is a known trust level.
func (l Level) Valid() bool {
	switch l {
	case LevelSystem, LevelOperator, LevelStandard, LevelUntrusted, LevelHostile:
		return true
	}
	return false
}

// Rank returns the ordinal position of the level; higher means more trusted.
// Unknown levels rank below hostile.
func (l Level) Rank() int {
	switch l {
	case LevelSystem:
		return 4
	case LevelOperator:
		return 3
	case LevelStandard:
		return 2
	case LevelUntrusted:
		return 1
	case LevelHostile:
		return 0
	}
	return -1
}

// Multiplier returns the risk amplification factor applied to threat scores
// for content at this trust level. Less trusted sources amplify risk.
func (l Level) Multiplier() float64 {
	switch l {
	case LevelSystem:
		return 0.5
	case LevelOperator:
		return 0.75
	case LevelStandard:
		return 1.0
	case LevelUntrusted:
		return 1.5
	case LevelHostile:
		return 2.0
	}
	// Unrecognized levels are treated as hostile.
	return 2.0
}

// ParseLevel maps a string to a Level, defaulting to LevelHostile for
// anything unrecognized. Least-trusted default keeps misconfigured callers
// on the safe side of every gate.
func ParseLevel(s string) Level {
	l := Level(s)
	if l.Valid() {
		return l
	}
	return LevelHostile
}
