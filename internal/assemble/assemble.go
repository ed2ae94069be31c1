// Package assemble is class assembly & emission (C7): spawn-safety
// prelude insertion, inheritance reordering, and serialization of a
// compiled actor table to target text (spec.md §4.7).
package assemble

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"zdcode-core/internal/actor"
	"zdcode-core/internal/ir"
)

const spawnLabelName = "Spawn"

// setterNames returns the action names used to set a user var's initial
// value, scalar then array, for a declared element type (spec.md §4.7:
// "a sequence of Frames calling A_SetUserVar*/A_SetUserArray*").
func setterNames(elemType string) (scalar, array string) {
	if strings.EqualFold(elemType, "float") || strings.EqualFold(elemType, "double") {
		return "A_SetUserVarFloat", "A_SetUserArrayFloat"
	}
	return "A_SetUserVar", "A_SetUserArray"
}

// spawnPrelude builds the Frames that set every declared user var's
// initial value, in declaration order.
func spawnPrelude(a *actor.Actor) []ir.State {
	var out []ir.State
	for _, uv := range a.UserVars {
		scalarSetter, arraySetter := setterNames(uv.ElemType)
		name := strconv.Quote(uv.Name)

		if uv.Init != "" {
			out = append(out, &ir.Frame{
				Sprite: "TNT1", FrameLetters: "A", Duration: 0,
				Action: fmt.Sprintf("%s(%s, %s)", scalarSetter, name, uv.Init),
			})
		}
		for i, v := range uv.ArrayInit {
			out = append(out, &ir.Frame{
				Sprite: "TNT1", FrameLetters: "A", Duration: 0,
				Action: fmt.Sprintf("%s(%s, %d, %s)", arraySetter, name, i, v),
			})
		}
	}
	return out
}

// PrepareSpawnLabel locates (or stubs) an actor's Spawn label, prepends
// its user-var prelude, and pads it with a zero-tic invisible state if
// its first real state isn't spawn-safe (spec.md §4.7).
func PrepareSpawnLabel(a *actor.Actor, log *zap.Logger) {
	label, ok := a.LabelByName(spawnLabelName)
	if !ok {
		stub := "stop"
		if a.Inherits != "" {
			stub = "goto Super::Spawn"
		}
		label = &actor.Label{Name: spawnLabelName, States: []ir.State{&ir.Verbatim{Text: stub}}}
		a.Labels = append(a.Labels, label)
	}

	if prelude := spawnPrelude(a); len(prelude) > 0 {
		label.States = append(prelude, label.States...)
	}

	if !ir.FirstSpawnSafe(label.States) {
		log.Warn("Spawn label not spawn-safe, inserting padding state",
			zap.String("actor", a.Name))
		label.States = append([]ir.State{ir.Zero()}, label.States...)
	}
}

// ReorderByInheritance performs the single-pass compaction of spec.md
// §4.7: whenever an actor's declared inheritance target appears after it
// in the program's actor list, the target is moved to precede it. Each
// actor reserves a position for its inherit target (or adopts an
// earlier reservation already made for it by an earlier actor) as it is
// placed into the output, so a chain of inheritance collapses in one
// forward pass without revisiting earlier actors.
func ReorderByInheritance(actors []*actor.Actor) []*actor.Actor {
	var out []*actor.Actor
	positions := make(map[string]int, len(actors))

	for _, a := range actors {
		newPos := len(out)
		key := strings.ToLower(a.Name)
		if pos, ok := positions[key]; ok {
			newPos = pos
		}

		if a.Inherits != "" {
			inhKey := strings.ToLower(a.Inherits)
			if pos, ok := positions[inhKey]; !ok || pos > newPos {
				positions[inhKey] = newPos
			}
		}

		out = insertActor(out, newPos, a)
	}
	return out
}

// insertActor inserts a at position pos, shifting later elements right.
func insertActor(s []*actor.Actor, pos int, a *actor.Actor) []*actor.Actor {
	s = append(s, nil)
	copy(s[pos+1:], s[pos:])
	s[pos] = a
	return s
}

// Emit writes a single actor's target text to w, following the grammar
// of spec.md §4.7: header, opening brace, the "top" block, the States
// block (functions first, then labels in declaration order), closing
// brace.
func Emit(w io.Writer, a *actor.Actor, tab string) error {
	if _, err := fmt.Fprintf(w, "Actor %s\n{\n", header(a)); err != nil {
		return err
	}
	if err := writeTop(w, a, tab); err != nil {
		return err
	}

	if len(a.Labels) > 0 || len(a.AllFuncs) > 0 {
		if _, err := fmt.Fprintf(w, "%sStates\n%s{\n", tab, tab); err != nil {
			return err
		}
		for _, fn := range a.AllFuncs {
			if err := writeLine(w, tab+tab, fn); err != nil {
				return err
			}
		}
		for _, label := range a.Labels {
			if _, err := fmt.Fprintf(w, "%s%s:\n", tab+tab, label.Name); err != nil {
				return err
			}
			for _, s := range label.States {
				if err := s.ToText(w, tab+tab+tab); err != nil {
					return err
				}
			}
		}
		if _, err := fmt.Fprintf(w, "%s}\n", tab); err != nil {
			return err
		}
	}

	_, err := fmt.Fprintln(w, "}")
	return err
}

func header(a *actor.Actor) string {
	var b strings.Builder
	b.WriteString(a.Name)
	if a.Inherits != "" {
		fmt.Fprintf(&b, " : %s", a.Inherits)
	}
	if a.Replaces != "" {
		fmt.Fprintf(&b, " replaces %s", a.Replaces)
	}
	if a.EditorNum != nil {
		fmt.Fprintf(&b, " %d", *a.EditorNum)
	}
	return b.String()
}

func writeTop(w io.Writer, a *actor.Actor, tab string) error {
	props := append([]actor.Property(nil), a.Properties...)
	sort.Slice(props, func(i, j int) bool { return props[i].Name < props[j].Name })
	for _, p := range props {
		if err := writeLine(w, tab, fmt.Sprintf("%s %s", p.Name, p.Value)); err != nil {
			return err
		}
	}

	for _, uv := range a.UserVars {
		decl := fmt.Sprintf("var %s %s", uv.ElemType, uv.Name)
		if uv.ArraySize > 0 {
			decl += fmt.Sprintf("[%d]", uv.ArraySize)
		}
		if err := writeLine(w, tab, decl+";"); err != nil {
			return err
		}
	}

	for _, f := range a.Flags {
		if err := writeLine(w, tab, "+"+f); err != nil {
			return err
		}
	}
	for _, f := range a.AntiFlags {
		if err := writeLine(w, tab, "-"+f); err != nil {
			return err
		}
	}
	for _, v := range a.Verbatim {
		if err := writeLine(w, tab, v); err != nil {
			return err
		}
	}
	return nil
}

func writeLine(w io.Writer, tab, line string) error {
	_, err := fmt.Fprintf(w, "%s%s\n", tab, line)
	return err
}
