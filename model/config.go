package model

import "fmt"

// GapPolicy decides what happens to consecutive events of a subject whose
// ranks are not adjacent (e.g. 1 then 3).
type GapPolicy string

const (
	// GapBreak emits no edge for the non-adjacent pair.
	GapBreak GapPolicy = "break"
	// GapError rejects the input with an InvalidInputError.
	GapError GapPolicy = "error"
	// GapDensify renumbers every subject's ranks to 1..N before building.
	GapDensify GapPolicy = "densify"
)

// ParseGapPolicy accepts the names used on the command line and in JSON.
func ParseGapPolicy(s string) (GapPolicy, error) {
	switch GapPolicy(s) {
	case "", GapBreak:
		return GapBreak, nil
	case GapError, GapDensify:
		return GapPolicy(s), nil
	}
	return "", NewInvalidInputError("unknown gap policy %q", s)
}

// FlowOptions tunes how events become a flow graph.
type FlowOptions struct {
	GapPolicy GapPolicy `json:"gap_policy,omitempty"`
	MaxRank   int       `json:"max_rank,omitempty"` // 0 keeps every rank
}

// DefaultFlowOptions returns the options BuildFlowGraph uses.
func DefaultFlowOptions() FlowOptions {
	return FlowOptions{
		GapPolicy: GapBreak,
		MaxRank:   0,
	}
}

// StatusFlowConfig selects ranked events of one observation kind from the
// database.
type StatusFlowConfig struct {
	Kind      string `json:"kind"`
	MaxRank   int    `json:"max_rank"`   // keep the first MaxRank observations per subject
	PrefixLen int    `json:"prefix_len"` // abbreviate categories to this many characters, 0 keeps them
	Save      bool   `json:"save"`
	Name      string `json:"name,omitempty"`
}

// DefaultStatusFlowConfig mirrors the status-change diagram: first ten
// reports per patient, categories cut to three characters.
func DefaultStatusFlowConfig() StatusFlowConfig {
	return StatusFlowConfig{
		Kind:      "GGO_status_change",
		MaxRank:   10,
		PrefixLen: 3,
	}
}

// Validate checks the configuration before it reaches the database.
func (c StatusFlowConfig) Validate() error {
	if c.Kind == "" {
		return NewInvalidInputError("kind is required")
	}
	if c.MaxRank < 0 {
		return NewInvalidInputError("max rank must not be negative, got %d", c.MaxRank)
	}
	if c.PrefixLen < 0 {
		return NewInvalidInputError("prefix length must not be negative, got %d", c.PrefixLen)
	}
	return nil
}

// SnapshotName returns Name or a name derived from the selection.
func (c StatusFlowConfig) SnapshotName() string {
	if c.Name != "" {
		return c.Name
	}
	return fmt.Sprintf("%s_first_%d", c.Kind, c.MaxRank)
}
