package ir

import (
	"fmt"
	"io"
	"strconv"
)

// If lowers `if (cond) { then } [else { else }]` per spec.md §4.1.
// Shape (no else):   zero A_JumpIf(!cond, N(then)+1); then...; zero
// Shape (with else): zero A_JumpIf(cond, N(else)+2); else...; zero A_Jump(256, N(then)+1); then...; zero
type If struct {
	Cond       string
	NegCond    string // pre-negated "!cond" text, used by the no-else form
	Then, Else []State
	HasElse    bool
}

func (n *If) NumStates() int {
	if n.HasElse {
		return NumStatesOf(n.Then) + NumStatesOf(n.Else) + 3
	}
	return NumStatesOf(n.Then) + 2
}

func (n *If) Clone() State {
	return &If{Cond: n.Cond, NegCond: n.NegCond, Then: CloneAll(n.Then), Else: CloneAll(n.Else), HasElse: n.HasElse}
}

func (n *If) SpawnSafe() bool { return false } // always starts with a pad

func (n *If) StateContainers() []*[]State {
	if n.HasElse {
		return []*[]State{&n.Then, &n.Else}
	}
	return []*[]State{&n.Then}
}

func (n *If) ToText(w io.Writer, tab string) error {
	if n.HasElse {
		if err := writeLine(w, tab, fmt.Sprintf("TNT1 A 0 A_JumpIf(%s, %d)", n.Cond, NumStatesOf(n.Else)+2)); err != nil {
			return err
		}
		if err := writeAll(w, tab, n.Else); err != nil {
			return err
		}
		if err := writeLine(w, tab, fmt.Sprintf("TNT1 A 0 A_Jump(256, %d)", NumStatesOf(n.Then)+1)); err != nil {
			return err
		}
		if err := writeAll(w, tab, n.Then); err != nil {
			return err
		}
		return writeLine(w, tab, "TNT1 A 0")
	}
	if err := writeLine(w, tab, fmt.Sprintf("TNT1 A 0 A_JumpIf(%s, %d)", n.NegCond, NumStatesOf(n.Then)+1)); err != nil {
		return err
	}
	if err := writeAll(w, tab, n.Then); err != nil {
		return err
	}
	return writeLine(w, tab, "TNT1 A 0")
}

// JumpTextFunc produces the lowered jump-action call text given the
// $OFFSET slot's text. Forward jumps pass a plain integer string;
// whilejump's back-edge passes an already-quoted loop-label string
// instead — the slot accepts either verbatim, the same way the
// original's jump_offset replacement is a no-op whether it's handed an
// int or an already-quoted label.
type JumpTextFunc func(offset string) string

// IfJump is an ifjump construct: the action itself is the condition
// check, called with the needed offset (spec.md §4.1/§4.5).
type IfJump struct {
	JumpText   JumpTextFunc
	Then, Else []State
	HasElse    bool
}

func (n *IfJump) NumStates() int {
	if n.HasElse {
		return NumStatesOf(n.Then) + NumStatesOf(n.Else) + 3
	}
	return NumStatesOf(n.Then) + 3
}

func (n *IfJump) Clone() State {
	return &IfJump{JumpText: n.JumpText, Then: CloneAll(n.Then), Else: CloneAll(n.Else), HasElse: n.HasElse}
}

func (n *IfJump) SpawnSafe() bool { return false }

func (n *IfJump) StateContainers() []*[]State {
	if n.HasElse {
		return []*[]State{&n.Then, &n.Else}
	}
	return []*[]State{&n.Then}
}

func (n *IfJump) ToText(w io.Writer, tab string) error {
	elseLen := 0
	if n.HasElse {
		elseLen = NumStatesOf(n.Else)
	}
	if err := writeLine(w, tab, "TNT1 A 0 "+n.JumpText(strconv.Itoa(elseLen+2))); err != nil {
		return err
	}
	if n.HasElse {
		if err := writeAll(w, tab, n.Else); err != nil {
			return err
		}
	}
	if err := writeLine(w, tab, fmt.Sprintf("TNT1 A 0 A_Jump(256, %d)", NumStatesOf(n.Then)+1)); err != nil {
		return err
	}
	if err := writeAll(w, tab, n.Then); err != nil {
		return err
	}
	return writeLine(w, tab, "TNT1 A 0")
}

// While lowers `while (cond) { body } [else { else }]` per spec.md §4.1.
type While struct {
	Cond, NegCond  string
	Body, Else     []State
	HasElse        bool
	LoopLabel      string // unique loop label identifier (spec.md §3)
}

func (n *While) bodyLen() int { return NumStatesOf(n.Body) }

func (n *While) NumStates() int {
	if n.HasElse {
		return n.bodyLen() + NumStatesOf(n.Else) + 4
	}
	return n.bodyLen() + 3
}

func (n *While) Clone() State {
	return &While{Cond: n.Cond, NegCond: n.NegCond, Body: CloneAll(n.Body), Else: CloneAll(n.Else), HasElse: n.HasElse, LoopLabel: n.LoopLabel}
}

func (n *While) SpawnSafe() bool { return false }

func (n *While) StateContainers() []*[]State {
	if n.HasElse {
		return []*[]State{&n.Body, &n.Else}
	}
	return []*[]State{&n.Body}
}

func (n *While) ToText(w io.Writer, tab string) error {
	if n.HasElse {
		if err := writeLine(w, tab, fmt.Sprintf("TNT1 A 0 A_JumpIf(%s, %d)", n.Cond, NumStatesOf(n.Else)+2)); err != nil {
			return err
		}
		if err := writeAll(w, tab, n.Else); err != nil {
			return err
		}
		if err := writeLine(w, tab, fmt.Sprintf("TNT1 A 0 A_Jump(256, %d)", n.bodyLen()+2)); err != nil {
			return err
		}
	} else {
		if err := writeLine(w, tab, fmt.Sprintf("TNT1 A 0 A_JumpIf(%s, %d)", n.NegCond, n.bodyLen()+2)); err != nil {
			return err
		}
	}
	if err := writeLoopLabeled(w, tab, n.LoopLabel, n.Body); err != nil {
		return err
	}
	if err := writeLine(w, tab, fmt.Sprintf("TNT1 A 0 A_JumpIf(%s, \"%s\")", n.Cond, n.LoopLabel)); err != nil {
		return err
	}
	return writeLine(w, tab, "TNT1 A 0")
}

// WhileJump is a whilejump construct: analogous to While but the jump
// action itself supplies the loop-continuation check (spec.md §4.1/§4.5).
type WhileJump struct {
	JumpText   JumpTextFunc
	Body, Else []State
	HasElse    bool
	LoopLabel  string
}

func (n *WhileJump) bodyLen() int { return NumStatesOf(n.Body) }

// NumStates: mirrors IfJump's relationship to If — the jump-expr header
// can only express "jump forward to a fixed offset on success, else fall
// to the very next state", so an explicit fallthrough pad takes over the
// unconditional "skip to exit" duty the named-label While embeds directly
// in its JumpIf text. That pad is a fixed cost regardless of HasElse (the
// header's target offset already accounts for whether else sits between
// header and pad), so WhileJump only grows by one state over While in the
// no-else case, same as IfJump vs. If.
func (n *WhileJump) NumStates() int {
	if n.HasElse {
		return n.bodyLen() + NumStatesOf(n.Else) + 4
	}
	return n.bodyLen() + 4
}

func (n *WhileJump) Clone() State {
	return &WhileJump{JumpText: n.JumpText, Body: CloneAll(n.Body), Else: CloneAll(n.Else), HasElse: n.HasElse, LoopLabel: n.LoopLabel}
}

func (n *WhileJump) SpawnSafe() bool { return false }

func (n *WhileJump) StateContainers() []*[]State {
	if n.HasElse {
		return []*[]State{&n.Body, &n.Else}
	}
	return []*[]State{&n.Body}
}

// ToText lays the construct out as: header (embedded check; on success
// jumps straight into body, skipping else and the fallthrough pad; on
// failure falls through into else when present, or directly into the
// pad) ; [else, run only on the header's initial failure] ; fallthrough
// pad (unconditionally skips body and the back-edge, landing on the
// trailing exit — the else-less analog of If's "jump past Then" arm,
// since the embedded check cannot itself express a forward-or-fall-to-
// else-then-skip branch in one shot) ; loop label ; body ; back-edge
// (re-invokes the same embedded check against the loop label itself,
// landing back on body's first state on success, or falling through to
// the trailing exit on failure — else is never re-run once the loop has
// entered its body, matching While's own loop-check semantics) ;
// trailing exit pad.
func (n *WhileJump) ToText(w io.Writer, tab string) error {
	elseLen := 0
	if n.HasElse {
		elseLen = NumStatesOf(n.Else)
	}
	if err := writeLine(w, tab, "TNT1 A 0 "+n.JumpText(strconv.Itoa(elseLen+2))); err != nil {
		return err
	}
	if n.HasElse {
		if err := writeAll(w, tab, n.Else); err != nil {
			return err
		}
	}
	if err := writeLine(w, tab, fmt.Sprintf("TNT1 A 0 A_Jump(256, %d)", n.bodyLen()+2)); err != nil {
		return err
	}
	if err := writeLoopLabeled(w, tab, n.LoopLabel, n.Body); err != nil {
		return err
	}
	if err := writeLine(w, tab, "TNT1 A 0 "+n.JumpText(fmt.Sprintf("%q", n.LoopLabel))); err != nil {
		return err
	}
	return writeLine(w, tab, "TNT1 A 0")
}

func writeLoopLabeled(w io.Writer, tab, label string, body []State) error {
	if _, err := fmt.Fprintf(w, "%s%s:\n", tab, label); err != nil {
		return err
	}
	return writeAll(w, tab, body)
}

// Sometimes lowers `sometimes P% { body }` (spec.md §4.1).
type Sometimes struct {
	Chance string // compile-time-lowered 0..100 expression text
	Body   []State
}

func (n *Sometimes) NumStates() int { return NumStatesOf(n.Body) + 2 }
func (n *Sometimes) Clone() State   { return &Sometimes{Chance: n.Chance, Body: CloneAll(n.Body)} }
func (n *Sometimes) SpawnSafe() bool { return false }
func (n *Sometimes) StateContainers() []*[]State { return []*[]State{&n.Body} }
func (n *Sometimes) ToText(w io.Writer, tab string) error {
	if err := writeLine(w, tab, fmt.Sprintf("TNT1 A 0 A_Jump(256-(256*(%s))/100, %d)", n.Chance, NumStatesOf(n.Body)+1)); err != nil {
		return err
	}
	if err := writeAll(w, tab, n.Body); err != nil {
		return err
	}
	return writeLine(w, tab, "TNT1 A 0")
}

// Skip lowers return/break/continue, rewritten in place by C5 before
// emission into a relative jump that exits the target context. It holds a
// non-owning reference to the target (a pctx.Context, owned by its parent
// context, behind the RemoteCounter interface) plus the running count captured at the
// point of the break/continue/return statement.
type Skip struct {
	Target    RemoteCounter
	Captured  int
}

func (n *Skip) NumStates() int { return 1 }

// Clone panics: a Skip is bound to a context alive only during the pass
// that produced it, so cloning it (e.g. to reuse a macro body across
// multiple injections) is a programmer error (spec.md §4.1).
func (n *Skip) Clone() State {
	panic("ir: Skip is not clonable")
}

func (n *Skip) SpawnSafe() bool { return false }
func (n *Skip) StateContainers() []*[]State { return nil }

func (n *Skip) ToText(w io.Writer, tab string) error {
	offset := n.Target.RemoteNumStates() - n.Captured
	return writeLine(w, tab, fmt.Sprintf("TNT1 A 0 A_Jump(256, %d)", offset))
}
