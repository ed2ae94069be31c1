// Package actor holds the compiled class record (spec.md §3, "Actor
// (class)") and the program-wide registry of them. It has no dependency
// on internal/pctx — a parse context merely holds a handle into a Table,
// the same "store owns the record, callers hold a name/id" split the
// teacher uses for its own registries (internal/core/virtual_store.go).
package actor

import (
	"fmt"
	"strings"
	"sync"

	"zdcode-core/internal/ir"
)

// UserVar is one declared user variable (spec.md §3: "ordered user
// variables (name, element type, array size..., optional initial value)").
type UserVar struct {
	Name      string
	ElemType  string
	ArraySize int // 0 means scalar
	Any       bool
	Init      string   // scalar initializer text, empty if none
	ArrayInit []string // per-index initializer text for a fixed-size array, empty if none
}

// Label is a named, ordered State IR sequence. The name "Spawn" is
// special (spec.md §4.7: spawn-safety and prelude insertion).
type Label struct {
	Name   string
	States []ir.State
}

func (l *Label) NumStates() int { return ir.NumStatesOf(l.States) }

// Actor is one compiled class (spec.md §3).
type Actor struct {
	Name        string
	Inherits    string
	Replaces    string
	EditorNum   *int
	Properties  []Property
	Flags       []string
	AntiFlags   []string
	UserVars    []UserVar
	Labels      []*Label
	Verbatim    []string
	Group       string
	AppliedMods []string // "always"-applied mods declared on the class itself

	// AllFuncs is a derived list copied from the inherited actor at
	// creation time, kept only for legacy emission-ordering purposes
	// (spec.md §3: "used only for ordering purposes in legacy behavior").
	AllFuncs []string
}

// Property is a single `name value;` class-body entry, pre-lowered to text.
type Property struct {
	Name  string
	Value string
}

func (a *Actor) LabelByName(name string) (*Label, bool) {
	for _, l := range a.Labels {
		if strings.EqualFold(l.Name, name) {
			return l, true
		}
	}
	return nil, false
}

// EnsureLabel returns the named label, creating it (appended in source
// order) if absent.
func (a *Actor) EnsureLabel(name string) *Label {
	if l, ok := a.LabelByName(name); ok {
		return l
	}
	l := &Label{Name: name}
	a.Labels = append(a.Labels, l)
	return l
}

// Table is the program's actor-name registry: case-insensitive, unique
// names, shared by every parse context descended from the program root
// (spec.md §4.4 step 6: "register it in the program's actor-name table").
type Table struct {
	mu      sync.Mutex
	byName  map[string]*Actor
	ordered []*Actor
}

func NewTable() *Table {
	return &Table{byName: make(map[string]*Actor)}
}

// Register adds actor under its name, erroring on a case-insensitive
// collision (spec.md §3: "name (unique, case-insensitive)").
func (t *Table) Register(a *Actor) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := strings.ToLower(a.Name)
	if existing, ok := t.byName[key]; ok {
		return fmt.Errorf("actor: duplicate class name %q (already declared as %q)", a.Name, existing.Name)
	}
	t.byName[key] = a
	t.ordered = append(t.ordered, a)
	return nil
}

func (t *Table) Lookup(name string) (*Actor, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	a, ok := t.byName[strings.ToLower(name)]
	return a, ok
}

// All returns actors in registration order.
func (t *Table) All() []*Actor {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Actor, len(t.ordered))
	copy(out, t.ordered)
	return out
}

// Group is a case-insensitive name to ordered class-name-literal list
// (spec.md §3, "Group").
type Group struct {
	Name    string
	Members []string
}

// GroupTable mirrors Table but for groups, assembled before any class
// body is processed (spec.md §3: "Groups are assembled before any class
// body is processed").
type GroupTable struct {
	mu     sync.Mutex
	byName map[string]*Group
}

func NewGroupTable() *GroupTable {
	return &GroupTable{byName: make(map[string]*Group)}
}

func (g *GroupTable) Register(grp *Group) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := strings.ToLower(grp.Name)
	if _, ok := g.byName[key]; ok {
		return fmt.Errorf("actor: duplicate group name %q", grp.Name)
	}
	g.byName[key] = grp
	return nil
}

func (g *GroupTable) Lookup(name string) (*Group, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	grp, ok := g.byName[strings.ToLower(name)]
	return grp, ok
}

// Append adds member to an existing group, erroring if the group name
// is undefined (spec.md §7: "adding a derivation to an undefined
// group").
func (g *GroupTable) Append(name, member string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	grp, ok := g.byName[strings.ToLower(name)]
	if !ok {
		return fmt.Errorf("actor: cannot add to undefined group %q", name)
	}
	grp.Members = append(grp.Members, member)
	return nil
}
