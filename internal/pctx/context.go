// Package pctx is the parse context (C2): a tree of scopes used for
// lexical name resolution, diagnostic description paths, and the
// state-count arithmetic every jump-bearing ir.State variant depends on
// (spec.md §3, §4.2).
//
// spec.md §9 suggests an arena-of-nodes-plus-index-handle ownership model
// so a Skip can reference a context without a raw cyclic pointer. Go's
// garbage collector removes the lifetime hazard that model guards
// against, so Context is a plain pointer tree instead (see DESIGN.md);
// Skip still only ever holds the narrow ir.RemoteCounter view of a
// Context, not the concrete type, so C1 stays free of a pctx import.
package pctx

import (
	"fmt"
	"strings"

	"zdcode-core/internal/actor"
	"zdcode-core/internal/ir"
)

// layer is one scope's own (unshadowed-by-ancestors) name bindings.
// Templates and mods are stored as `any` so this package never imports
// internal/template or internal/modifier — both of those sit above pctx
// and type-assert what they get back (mirrors the teacher's
// store-owns-untyped-value, caller-knows-the-type split used by its own
// fact store for arbitrary predicate arguments).
type layer struct {
	replacements map[string]string
	macros       map[string]any
	templates    map[string]any
	mods         map[string]any
	// rawStates backs the modifier engine's "manipulate NAME { body }"
	// effect: it binds the matched state itself as a single-state macro
	// (spec.md §4.6), which can't be expressed as a zast.MacroDecl since
	// the state is already a lowered ir.State value, not source AST.
	rawStates map[string]ir.State
}

func newLayer() layer {
	return layer{
		replacements: make(map[string]string),
		macros:       make(map[string]any),
		templates:    make(map[string]any),
		mods:         make(map[string]any),
		rawStates:    make(map[string]ir.State),
	}
}

// Context is one parse-context tree node (spec.md §4.2).
type Context struct {
	parent      *Context
	description string

	own layer
	// imports holds contexts whose own (non-inherited) layer is visible
	// as a fallback once this context's own parent chain is exhausted —
	// Update() inserts here (spec.md §4.2: "inserts other_ctx's maps just
	// above the root layer of this context's maps, giving visibility
	// into another class's macros without shadowing locals").
	imports []*Context

	actors *actor.Table

	breakCtx  *Context
	loopCtx   *Context
	// returnCtx is the nearest enclosing macro-injection context, the
	// target a "return" statement inside an injected macro body rewrites
	// to (spec.md §4.5 Inject: "a return becomes a Skip to this
	// injection's context"). It has no spec.md §4.2 name of its own
	// because §4.2 only enumerates break_ctx/loop_ctx; it follows the
	// same self-or-inherited shape.
	returnCtx *Context

	children       []*Context // derive(): contribute to local num_states
	remoteChildren []*Context // remote_derive(): contribute only remotely
	remoteOffset   int

	// localStates is the running count of states appended directly into
	// this context's scope (as opposed to a nested derived context's
	// own count, tracked via children). Statement lowering calls
	// AddStates after constructing and modifier-filtering each node.
	localStates int

	appliedMods []string // this scope's own Apply(MOD) additions, in order
}

// NewRoot creates the program-root context, with no break/loop anchor and
// a fresh top-level layer.
func NewRoot(actors *actor.Table, description string) *Context {
	return &Context{description: description, own: newLayer(), actors: actors}
}

// Anchor selects whether a derived context becomes its own break/loop
// anchor or inherits its parent's, per spec.md §4.2's "self or inherited"
// phrasing for break_ctx/loop_ctx.
type Anchor int

const (
	AnchorInherit Anchor = iota
	AnchorSelf
)

// Derive adds a local child context: it contributes to both local and
// remote num_states, and layers fresh empty maps over its parent
// (spec.md §4.2).
func (c *Context) Derive(description string, breakAnchor, loopAnchor Anchor) *Context {
	child := &Context{parent: c, description: description, own: newLayer(), actors: c.actors}
	child.breakCtx = resolveAnchor(child, c.breakCtx, breakAnchor)
	child.loopCtx = resolveAnchor(child, c.loopCtx, loopAnchor)
	child.returnCtx = c.returnCtx
	c.children = append(c.children, child)
	return child
}

// DeriveReturn adds a local child context that becomes its own return
// anchor (the target "return" resolves to, per spec.md §4.5 Inject),
// inheriting break/loop unchanged since an injection doesn't itself
// introduce a loop scope.
func (c *Context) DeriveReturn(description string) *Context {
	child := c.Derive(description, AnchorInherit, AnchorInherit)
	child.returnCtx = child
	return child
}

// RemoteDerive adds a child to remote_children instead of children: its
// states are emitted at the enclosing scope's position in the output
// (If/While/Sometimes wrap their body in extra pad states that must not
// count toward the inner scope's own local total) but still need to be
// reachable for remote_num_states arithmetic, with remoteOffset folded
// in to account for those extra pad states (spec.md §4.2).
func (c *Context) RemoteDerive(description string, remoteOffset int, breakAnchor, loopAnchor Anchor) *Context {
	child := &Context{parent: c, description: description, own: newLayer(), actors: c.actors, remoteOffset: remoteOffset}
	child.breakCtx = resolveAnchor(child, c.breakCtx, breakAnchor)
	child.loopCtx = resolveAnchor(child, c.loopCtx, loopAnchor)
	child.returnCtx = c.returnCtx
	c.remoteChildren = append(c.remoteChildren, child)
	return child
}

func resolveAnchor(self, inherited *Context, a Anchor) *Context {
	if a == AnchorSelf {
		return self
	}
	return inherited
}

// BreakCtx and LoopCtx expose the current break/continue target, nil at
// the program root where neither is meaningful yet.
func (c *Context) BreakCtx() *Context  { return c.breakCtx }
func (c *Context) LoopCtx() *Context   { return c.loopCtx }
func (c *Context) ReturnCtx() *Context { return c.returnCtx }

// AddStates records n freshly emitted target states as belonging to this
// context's local scope, feeding NumStates/RemoteNumStates.
func (c *Context) AddStates(n int) { c.localStates += n }

// NumStates is Σ over local children, recursing into child contexts
// (spec.md §4.2). Each local child contributes its *remote* total
// (RemoteNumStates), not just its own local count: a local child may
// itself own remote children (e.g. a nested If/While's pad-state
// wrapper), and those pad states really do occupy positions in the
// final output between this context's other states, so they must
// surface here even though they were deliberately excluded from the
// child's own local count. Ordinary children carry remote_offset 0 and
// no remote children of their own, so this degenerates to a plain sum
// for the common case.
func (c *Context) NumStates() int {
	n := c.localStates
	for _, ch := range c.children {
		n += ch.RemoteNumStates()
	}
	return n
}

// RemoteNumStates adds this context's remote_offset and recurses into
// both local and remote children (spec.md §4.2) — the quantity Skip
// reads at ToText time to compute how far forward a break/continue/return
// must jump.
func (c *Context) RemoteNumStates() int {
	n := c.remoteOffset + c.NumStates()
	for _, rc := range c.remoteChildren {
		n += rc.RemoteNumStates()
	}
	return n
}

// SetReplacement, SetMacro, SetTemplate, and SetMod bind a name in this
// context's own (unshadowed) layer.
func (c *Context) SetReplacement(name, value string) { c.own.replacements[strings.ToLower(name)] = value }
func (c *Context) SetMacro(name string, macro any)   { c.own.macros[strings.ToLower(name)] = macro }
func (c *Context) SetTemplate(name string, tmpl any) { c.own.templates[strings.ToLower(name)] = tmpl }
func (c *Context) SetMod(name string, mod any)       { c.own.mods[strings.ToLower(name)] = mod }

// SetRawStateMacro binds name to a single already-lowered state in this
// context's own layer, per the modifier engine's "manipulate" effect
// (spec.md §4.6).
func (c *Context) SetRawStateMacro(name string, s ir.State) {
	c.own.rawStates[strings.ToLower(name)] = s
}

// LookupRawStateMacro walks this context's parent chain (and, failing
// that, its imports) looking for a manipulate-bound raw state.
func (c *Context) LookupRawStateMacro(name string) (ir.State, bool) {
	key := strings.ToLower(name)
	for ctx := c; ctx != nil; ctx = ctx.parent {
		if v, ok := ctx.own.rawStates[key]; ok {
			return v, true
		}
	}
	for _, imp := range c.imports {
		if v, ok := imp.own.rawStates[key]; ok {
			return v, true
		}
	}
	return nil, false
}

// LookupMacro, LookupTemplate, and LookupMod walk this context's own
// parent chain, then fall back to each imported context's own layer
// (not the import's ancestors — Update() only shares that context's
// direct bindings, never its own lookup chain, so imports can't
// transitively re-export a third context's names).
func (c *Context) LookupMacro(name string) (any, bool) {
	return c.lookup(strings.ToLower(name), func(l layer, key string) (any, bool) { v, ok := l.macros[key]; return v, ok })
}
func (c *Context) LookupTemplate(name string) (any, bool) {
	return c.lookup(strings.ToLower(name), func(l layer, key string) (any, bool) { v, ok := l.templates[key]; return v, ok })
}
func (c *Context) LookupMod(name string) (any, bool) {
	return c.lookup(strings.ToLower(name), func(l layer, key string) (any, bool) { v, ok := l.mods[key]; return v, ok })
}

func (c *Context) lookup(key string, get func(layer, string) (any, bool)) (any, bool) {
	for ctx := c; ctx != nil; ctx = ctx.parent {
		if v, ok := get(ctx.own, key); ok {
			return v, ok
		}
	}
	for _, imp := range c.imports {
		if v, ok := get(imp.own, key); ok {
			return v, ok
		}
	}
	return nil, false
}

// Resolve repeatedly strips leading '@' sigils from name, each peel
// substituting one replacement-map layer lookup, erroring if an '@' is
// present with no corresponding replacement (spec.md §4.2).
func (c *Context) Resolve(name, roleDescription string) (string, error) {
	for strings.HasPrefix(name, "@") {
		bare := strings.TrimPrefix(name, "@")
		val, ok := c.lookupReplacement(bare)
		if !ok {
			return "", fmt.Errorf("pctx: unresolved %s %q%s", roleDescription, name, c.describeSuffix())
		}
		name = val
	}
	return name, nil
}

func (c *Context) lookupReplacement(name string) (string, bool) {
	key := strings.ToLower(name)
	for ctx := c; ctx != nil; ctx = ctx.parent {
		if v, ok := ctx.own.replacements[key]; ok {
			return v, true
		}
	}
	for _, imp := range c.imports {
		if v, ok := imp.own.replacements[key]; ok {
			return v, true
		}
	}
	return "", false
}

// Describe returns the " at "-joined description stack, root to leaf,
// for error messages (spec.md §4.2).
func (c *Context) Describe() string {
	var parts []string
	for ctx := c; ctx != nil; ctx = ctx.parent {
		if ctx.description != "" {
			parts = append(parts, ctx.description)
		}
	}
	// parts is leaf-to-root; reverse for root-to-leaf presentation.
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, " at ")
}

func (c *Context) describeSuffix() string {
	if d := c.Describe(); d != "" {
		return " (at " + d + ")"
	}
	return ""
}

// Update inserts other's own layer as an import: visible as a fallback
// for macro/template/mod/replacement lookups from this context, without
// shadowing any of this context's own bindings (spec.md §4.2).
func (c *Context) Update(other *Context) {
	c.imports = append(c.imports, other)
}

// ApplyMod appends name to this context's own applied-mods list — used
// by the "Apply MOD { ... }" construct (spec.md §4.5).
func (c *Context) ApplyMod(name string) {
	c.appliedMods = append(c.appliedMods, name)
}

// AppliedMods yields always-applied mods (from actorAlwaysMods, typically
// the owning actor's class-level `AppliedMods`) then locally-applied mods
// in root-to-leaf order (spec.md §4.2: "get_applied_mods(): yields
// always-applied mods then locally-applied mods, in order").
func (c *Context) AppliedMods(actorAlwaysMods []string) []string {
	out := append([]string(nil), actorAlwaysMods...)
	var chain []*Context
	for ctx := c; ctx != nil; ctx = ctx.parent {
		chain = append(chain, ctx)
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	for _, ctx := range chain {
		out = append(out, ctx.appliedMods...)
	}
	return out
}

// Actors returns the shared program actor registry.
func (c *Context) Actors() *actor.Table { return c.actors }
