// Package modifier is the modifier engine (C6): selector predicates and
// effect transformers applied against freshly-emitted state lists
// (spec.md §4.6). Selector leaves are represented as
// github.com/google/mangle/ast.Atom values the same way
// internal/mangle/engine.go's fact-conversion path wraps a resolved
// predicate symbol and its arguments as
// ast.Atom{Predicate: sym, Args: args} — both are "match an instance
// against one of a handful of named leaf predicates". The boolean
// combinators (! && || ^^) are hand-written: mangle's grammar is
// Datalog (conjunctive queries plus negation as failure), with no
// operator for disjunction or xor over two already-evaluated booleans,
// so the combinator layer can't be pushed further into mangle without
// reimplementing it.
package modifier

import (
	"fmt"
	"strings"

	"github.com/google/mangle/ast"

	"zdcode-core/internal/ir"
	"zdcode-core/internal/zast"
)

// Selector is a pure predicate over a single state (spec.md §4.6).
type Selector interface {
	Match(state ir.State) bool
	// Atom is the leaf's mangle representation; composite (not-leaf)
	// selectors return the zero Atom.
	Atom() ast.Atom
}

type leafSelector struct {
	atom  ast.Atom
	match func(ir.State) bool
}

func (l leafSelector) Match(state ir.State) bool { return l.match(state) }
func (l leafSelector) Atom() ast.Atom            { return l.atom }

var flagPredicate = ast.PredicateSym{Symbol: "flag", Arity: 1}
var spritePredicate = ast.PredicateSym{Symbol: "sprite", Arity: 1}
var durationPredicate = ast.PredicateSym{Symbol: "duration", Arity: 1}
var anyPredicate = ast.PredicateSym{Symbol: "any", Arity: 0}

// Flag builds the `flag(NAME)` leaf selector: matches a Frame that
// carries NAME among its modifier keywords (case-insensitive).
func Flag(name string) Selector {
	return leafSelector{
		atom: ast.Atom{Predicate: flagPredicate, Args: []ast.BaseTerm{ast.String(name)}},
		match: func(s ir.State) bool {
			f, ok := s.(*ir.Frame)
			return ok && f.HasKeyword(name)
		},
	}
}

// Sprite builds the `sprite(NAME)` leaf selector: matches a Frame whose
// sprite token equals NAME, ignoring surrounding quotes and case.
func Sprite(name string) Selector {
	want := strings.ToUpper(strings.Trim(name, `"`))
	return leafSelector{
		atom: ast.Atom{Predicate: spritePredicate, Args: []ast.BaseTerm{ast.String(name)}},
		match: func(s ir.State) bool {
			f, ok := s.(*ir.Frame)
			return ok && strings.ToUpper(strings.Trim(f.Sprite, `"`)) == want
		},
	}
}

// Duration builds the `duration(N)` leaf selector: matches a Frame whose
// duration equals N exactly.
func Duration(n int) Selector {
	return leafSelector{
		atom: ast.Atom{Predicate: durationPredicate, Args: []ast.BaseTerm{ast.Number(int64(n))}},
		match: func(s ir.State) bool {
			f, ok := s.(*ir.Frame)
			return ok && f.Duration == n
		},
	}
}

// Any matches every state unconditionally.
func Any() Selector {
	return leafSelector{
		atom:  ast.Atom{Predicate: anyPredicate},
		match: func(ir.State) bool { return true },
	}
}

type notSelector struct{ inner Selector }

func (n notSelector) Match(s ir.State) bool { return !n.inner.Match(s) }
func (n notSelector) Atom() ast.Atom        { return ast.Atom{} }

func Not(inner Selector) Selector { return notSelector{inner} }

type boolCombinator struct {
	a, b Selector
	op   func(a, b bool) bool
}

func (c boolCombinator) Match(s ir.State) bool { return c.op(c.a.Match(s), c.b.Match(s)) }
func (c boolCombinator) Atom() ast.Atom        { return ast.Atom{} }

func And(a, b Selector) Selector {
	return boolCombinator{a, b, func(x, y bool) bool { return x && y }}
}

func Or(a, b Selector) Selector {
	return boolCombinator{a, b, func(x, y bool) bool { return x || y }}
}

func Xor(a, b Selector) Selector {
	return boolCombinator{a, b, func(x, y bool) bool { return x != y }}
}

// ManipulateLowerer lowers a manipulate-effect body under a context that
// binds the matched state as a single-state macro named macroName
// (spec.md §4.6). Supplied by the caller (the statement-lowering
// package, C5) rather than imported here, since that lowering needs the
// full parse-context and statement-lowering machinery that would
// otherwise import this package right back (modifier effects are
// applied *during* statement lowering).
type ManipulateLowerer func(original ir.State, macroName string, body []zast.Stmt) ([]ir.State, error)

// ApplyContext carries the hooks effect application needs but this
// package cannot itself implement without an import cycle.
type ApplyContext struct {
	Manipulate ManipulateLowerer
}

// Effect maps one state to zero or more replacement states (spec.md
// §4.6).
type Effect interface {
	Apply(state ir.State, actx ApplyContext) ([]ir.State, error)
}

type addFlagEffect struct{ name string }

func (e addFlagEffect) Apply(state ir.State, _ ApplyContext) ([]ir.State, error) {
	f, ok := state.(*ir.Frame)
	if !ok {
		return []ir.State{state}, nil
	}
	return []ir.State{f.WithKeywordAdded(e.name)}, nil
}

func AddFlag(name string) Effect { return addFlagEffect{name} }

type removeFlagEffect struct{ name string }

func (e removeFlagEffect) Apply(state ir.State, _ ApplyContext) ([]ir.State, error) {
	f, ok := state.(*ir.Frame)
	if !ok {
		return []ir.State{state}, nil
	}
	return []ir.State{f.WithKeywordRemoved(e.name)}, nil
}

func RemoveFlag(name string) Effect { return removeFlagEffect{name} }

type prefixEffect struct{ body []ir.State }

func (e prefixEffect) Apply(state ir.State, _ ApplyContext) ([]ir.State, error) {
	return append(ir.CloneAll(e.body), state), nil
}

// Prefix yields body's states (cloned, so repeated use across matches
// doesn't alias), then the original (spec.md §4.6).
func Prefix(body []ir.State) Effect { return prefixEffect{body} }

type suffixEffect struct{ body []ir.State }

func (e suffixEffect) Apply(state ir.State, _ ApplyContext) ([]ir.State, error) {
	return append([]ir.State{state}, ir.CloneAll(e.body)...), nil
}

// Suffix yields the original, then body's states (spec.md §4.6).
func Suffix(body []ir.State) Effect { return suffixEffect{body} }

type manipulateEffect struct {
	name string
	body []zast.Stmt
}

func (e manipulateEffect) Apply(state ir.State, actx ApplyContext) ([]ir.State, error) {
	if actx.Manipulate == nil {
		return nil, fmt.Errorf("modifier: manipulate %q: no lowering hook supplied", e.name)
	}
	return actx.Manipulate(state, e.name, e.body)
}

// Manipulate binds the matched state as a single-state macro named name
// and yields body lowered under that context (spec.md §4.6).
func Manipulate(name string, body []zast.Stmt) Effect { return manipulateEffect{name, body} }

// Clause is one selector/ordered-effects pair (spec.md §3, §4.6).
type Clause struct {
	Selector Selector
	Effects  []Effect
}

// Mod is a named, ordered list of clauses (spec.md §3).
type Mod struct {
	Name    string
	Clauses []Clause
}

// Apply runs every applicable clause of mod against states, in place
// per spec.md §4.6: for each state, if a clause's selector matches, its
// effects run in sequence (each effect seeing the previous effect's
// outputs); states a clause doesn't match recurse into the state's own
// containers instead of being replaced. A state can be expanded by one
// clause and then re-examined by the next clause in the same Apply call
// (clauses belonging to one mod are ordered, and all apply in one pass
// over the evolving list).
func Apply(mod *Mod, states []ir.State, actx ApplyContext) ([]ir.State, error) {
	result := states
	for _, clause := range mod.Clauses {
		next, err := applyClause(clause, result, actx)
		if err != nil {
			return nil, err
		}
		result = next
	}
	return result, nil
}

func applyClause(clause Clause, states []ir.State, actx ApplyContext) ([]ir.State, error) {
	out := make([]ir.State, 0, len(states))
	for _, s := range states {
		if clause.Selector.Match(s) {
			expanded, err := applyEffects(clause.Effects, s, actx)
			if err != nil {
				return nil, err
			}
			out = append(out, expanded...)
			continue
		}
		if err := recurseContainers(clause, s, actx); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func applyEffects(effects []Effect, state ir.State, actx ApplyContext) ([]ir.State, error) {
	current := []ir.State{state}
	for _, effect := range effects {
		var next []ir.State
		for _, s := range current {
			expanded, err := effect.Apply(s, actx)
			if err != nil {
				return nil, err
			}
			next = append(next, expanded...)
		}
		current = next
	}
	return current, nil
}

// recurseContainers walks into s's child state lists (the containers
// state_containers() exposes) and runs the clause against them in
// place, so a non-matching outer construct (an If, a While, ...) still
// lets the modifier reach matching states nested inside it.
func recurseContainers(clause Clause, s ir.State, actx ApplyContext) error {
	for _, container := range s.StateContainers() {
		next, err := applyClause(clause, *container, actx)
		if err != nil {
			return err
		}
		*container = next
	}
	return nil
}
