// Package ir is the State IR (C1): the tagged variants that a label's
// lowered body is made of, plus the offset arithmetic every jump-bearing
// variant depends on (spec.md §3, §4.1). Each variant is its own small
// struct implementing the shared State interface rather than one
// reflection-dispatched node type, matching the closed-tagged-union style
// the rest of the pack uses for similar small-vocabulary node sets.
package ir

import (
	"fmt"
	"io"
)

// State is the shared behavior every State IR variant implements.
type State interface {
	// NumStates is the number of target states this node emits, used to
	// compute every relative jump offset in the program (spec.md §3:
	// "this is load-bearing").
	NumStates() int
	// Clone deep-copies the node. Skip is not clonable; calling Clone on
	// a Skip panics (spec.md §4.1).
	Clone() State
	// SpawnSafe reports whether this node may be the very first state of
	// a Spawn label. Only a Frame with a concrete (non-wildcard) sprite
	// and frame qualifies, plus a Block whose first child qualifies; every
	// other variant (including If, While and Sometimes) is not spawn-safe.
	SpawnSafe() bool
	// ToText writes this node's target-text lines.
	ToText(w io.Writer, tab string) error
	// StateContainers returns mutable handles to this node's child state
	// lists, so the modifier engine (C6) can recurse into non-matching
	// states without each variant knowing about modifiers.
	StateContainers() []*[]State
}

// Zero is the canonical 0-duration invisible landing-pad state used ahead
// of every jump target (spec.md §4.1: "the canonical '0-duration TNT1 A'
// invisible state").
func Zero() *Frame {
	return &Frame{Sprite: "TNT1", FrameLetters: "A", Duration: 0}
}

// NumStatesOf sums NumStates() over a state sequence — the quantity every
// jump offset and every label-level invariant in spec.md §3/§8 is defined
// in terms of.
func NumStatesOf(states []State) int {
	n := 0
	for _, s := range states {
		n += s.NumStates()
	}
	return n
}

// CloneAll deep-clones a state sequence.
func CloneAll(states []State) []State {
	out := make([]State, len(states))
	for i, s := range states {
		out[i] = s.Clone()
	}
	return out
}

// FirstSpawnSafe reports whether the first element of states (if any) is
// spawn-safe. An empty sequence is not spawn-safe — the assembler must
// still insert a placeholder.
func FirstSpawnSafe(states []State) bool {
	if len(states) == 0 {
		return false
	}
	return states[0].SpawnSafe()
}

// writeLine writes one frame/verbatim line with tab-width indentation.
func writeLine(w io.Writer, tab, line string) error {
	_, err := fmt.Fprintf(w, "%s%s\n", tab, line)
	return err
}

func writeAll(w io.Writer, tab string, states []State) error {
	for _, s := range states {
		if err := s.ToText(w, tab); err != nil {
			return err
		}
	}
	return nil
}

// RemoteCounter is the interface Skip targets satisfy — a parse context's
// remote_num_states(), per spec.md §4.2. Defined here (rather than
// importing internal/pctx, which would be circular: pctx holds ir.State
// values) so Skip can hold a non-owning reference to whatever provides it.
type RemoteCounter interface {
	RemoteNumStates() int
}
