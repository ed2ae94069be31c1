// Package template is the template engine (C4): memoized instantiation
// of parametric classes, abstract-member validation, and deferred body
// parsing (spec.md §4.4). The memo-table-keyed-by-content-hash pattern
// follows internal/mangle/differential.go's approach of hashing a
// semantic key to decide whether re-evaluation can be skipped.
package template

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"sync"

	"zdcode-core/internal/actor"
	"zdcode-core/internal/idgen"
	"zdcode-core/internal/pctx"
	"zdcode-core/internal/zast"
)

// Template is a parametric class description (spec.md §3).
type Template struct {
	Name           string
	Params         []string
	ParseData      []zast.Stmt
	AbstractLabels map[string]bool
	AbstractMacros map[string]int               // name -> declared arity
	AbstractArrays map[string]zast.ArraySpec
	DefaultInherits string
	DefaultReplaces string
	DefaultEditorNum *int
	DefaultGroup    string

	memoMu sync.Mutex
	memo   map[[32]byte]*actor.Actor
}

// HasAbstractMembers reports whether any abstract label, macro, or array
// is declared — instantiations of such a template are never memo-shared
// across calls (spec.md §4.4 step 1).
func (t *Template) HasAbstractMembers() bool {
	return len(t.AbstractLabels) > 0 || len(t.AbstractMacros) > 0 || len(t.AbstractArrays) > 0
}

// Params for instantiation.
type Args struct {
	ParameterValues []string
	ProvidedLabels  []string
	ProvidedMacros  map[string]int // name -> arity
	ProvidedArrays  map[string]zast.ArraySpec
	Name            string // optional explicit name
	Inherits        string // optional override
	Group           string // optional override
}

// DeferredBodyTask is what the driver (C8) queues at priority 0 after a
// fresh instantiation, so the new actor's body is parsed only once every
// template/class in the program is registered (spec.md §4.4: "This
// deferral is what lets templates reference other templates and classes
// introduced later in the program").
type DeferredBodyTask struct {
	Actor *actor.Actor
	Body  []zast.Stmt
	// Ctx is the context the template engine derived for this
	// instantiation (pre-loaded with parameter replacements and SELF) —
	// the driver parses Body into Actor under this same context, not a
	// fresh one, so label/macro/mod lookups inside the body see the
	// template's parameter bindings (spec.md §4.4 step 5).
	Ctx *pctx.Context
}

// Engine owns the idgen.Generator used to derive instantiation names.
type Engine struct {
	Gen idgen.Generator
}

// Instantiate performs the six steps of spec.md §4.4. It returns whether
// a fresh actor was created (false means the memoized instance was
// reused), the actor itself, and a deferred body-parse task populated
// only when fresh is true.
func (e *Engine) Instantiate(t *Template, caller *pctx.Context, table *actor.Table, overrideBody []zast.Stmt, args Args) (fresh bool, a *actor.Actor, task *DeferredBodyTask, err error) {
	hash := t.hashKey(args, e.Gen)

	t.memoMu.Lock()
	if t.memo == nil {
		t.memo = make(map[[32]byte]*actor.Actor)
	}
	if cached, ok := t.memo[hash]; ok {
		t.memoMu.Unlock()
		return false, cached, nil, nil
	}
	t.memoMu.Unlock()

	if err := t.validate(args); err != nil {
		return false, nil, nil, err
	}

	name := args.Name
	if name == "" {
		name = e.Gen.TemplateDerivName(t.Name, hash)
	}

	inherits := args.Inherits
	if inherits == "" {
		inherits = t.DefaultInherits
	}
	group := args.Group
	if group == "" {
		group = t.DefaultGroup
	}

	child := caller.Derive(fmt.Sprintf("template %s instantiation %s", t.Name, name), pctx.AnchorInherit, pctx.AnchorInherit)
	for i, param := range t.Params {
		if i < len(args.ParameterValues) {
			child.SetReplacement(param, args.ParameterValues[i])
		}
	}
	child.SetReplacement("SELF", `"`+name+`"`)

	resolvedInherits, err := child.Resolve(inherits, "inherits target")
	if err != nil {
		return false, nil, nil, err
	}
	resolvedReplaces, err := child.Resolve(t.DefaultReplaces, "replace target")
	if err != nil {
		return false, nil, nil, err
	}

	newActor := &actor.Actor{
		Name:      name,
		Inherits:  resolvedInherits,
		Replaces:  resolvedReplaces,
		EditorNum: t.DefaultEditorNum,
		Group:     group,
	}
	if err := table.Register(newActor); err != nil {
		return false, nil, nil, err
	}

	t.memoMu.Lock()
	t.memo[hash] = newActor
	t.memoMu.Unlock()

	body := append(append([]zast.Stmt(nil), t.ParseData...), overrideBody...)
	return true, newActor, &DeferredBodyTask{Actor: newActor, Body: body, Ctx: child}, nil
}

// validate enforces spec.md §4.4 step 4.
func (t *Template) validate(args Args) error {
	provided := make(map[string]bool, len(args.ProvidedLabels))
	for _, l := range args.ProvidedLabels {
		provided[strings.ToLower(l)] = true
	}
	for label := range t.AbstractLabels {
		if !provided[strings.ToLower(label)] {
			return fmt.Errorf("template: abstract label %q not provided", label)
		}
	}
	for name, arity := range t.AbstractMacros {
		got, ok := args.ProvidedMacros[name]
		if !ok {
			return fmt.Errorf("template: abstract macro %q not provided", name)
		}
		if got != arity {
			return fmt.Errorf("template: abstract macro %q expects %d args, got %d", name, arity, got)
		}
	}
	for name, spec := range t.AbstractArrays {
		got, ok := args.ProvidedArrays[name]
		if !ok {
			return fmt.Errorf("template: abstract array %q not provided", name)
		}
		if !spec.Any && got.Size != spec.Size {
			return fmt.Errorf("template: abstract array %q expects size %d, got %d", name, spec.Size, got.Size)
		}
		if got.ElemType != spec.ElemType {
			return fmt.Errorf("template: abstract array %q element type mismatch: expected %s, got %s", name, spec.ElemType, got.ElemType)
		}
	}
	return nil
}

// hashKey computes the memo key per spec.md §4.4 step 1: template
// identity plus every parameter value, provided label name, provided
// macro signature, and provided array name, with a fresh nonce folded
// in whenever the template declares any abstract members.
func (t *Template) hashKey(args Args, gen idgen.Generator) [32]byte {
	h := sha256.New()
	fmt.Fprintf(h, "template:%s\n", t.Name)
	for _, v := range args.ParameterValues {
		fmt.Fprintf(h, "param:%s\n", v)
	}

	labels := append([]string(nil), args.ProvidedLabels...)
	sort.Strings(labels)
	for _, l := range labels {
		fmt.Fprintf(h, "label:%s\n", strings.ToLower(l))
	}

	macroNames := make([]string, 0, len(args.ProvidedMacros))
	for name := range args.ProvidedMacros {
		macroNames = append(macroNames, name)
	}
	sort.Strings(macroNames)
	for _, name := range macroNames {
		fmt.Fprintf(h, "macro:%s/%d\n", strings.ToLower(name), args.ProvidedMacros[name])
	}

	arrayNames := make([]string, 0, len(args.ProvidedArrays))
	for name := range args.ProvidedArrays {
		arrayNames = append(arrayNames, name)
	}
	sort.Strings(arrayNames)
	for _, name := range arrayNames {
		fmt.Fprintf(h, "array:%s\n", strings.ToLower(name))
	}

	if t.HasAbstractMembers() {
		fmt.Fprintf(h, "nonce:%s\n", gen.Nonce())
	}

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
