// Package driver is the top-level pipeline (C8): group/macro hoisting,
// static-for unpacking, template and class registration, the
// priority-ordered deferred-task queue, spawn-label preparation,
// inheritance reordering, and final emission (spec.md §4.8). Per-pass
// structured logging follows the teacher's cmd/nerd/main.go zap setup
// and internal/core/kernel_init.go's phased-initialization logging.
package driver

import (
	"container/heap"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"zdcode-core/internal/actor"
	"zdcode-core/internal/assemble"
	"zdcode-core/internal/cerr"
	"zdcode-core/internal/config"
	"zdcode-core/internal/idgen"
	"zdcode-core/internal/lower"
	"zdcode-core/internal/lowexpr"
	"zdcode-core/internal/pctx"
	"zdcode-core/internal/template"
	"zdcode-core/internal/zast"
)

// describef builds a *cerr.CompileError carrying ctx's description path,
// mirroring internal/lower's own helper of the same name (spec.md §7).
func describef(ctx *pctx.Context, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if d := ctx.Describe(); d != "" {
		return cerr.WithPath([]string{d}, "%s", msg)
	}
	return cerr.New("%s", msg)
}

// pendingClass and pendingDerivation pair a not-yet-registered top-level
// declaration with the context it was produced under: plain top-level
// declarations carry the program root; declarations unpacked out of a
// static for-loop (driver pass 2) carry the per-iteration context that
// binds the loop variable (spec.md §4.5's "For" binds its loop variable
// via a replacement on a derived context — the static analogue needs
// the same binding so a generated class's @-prefixed name/inherits can
// resolve against the iteration value).
type pendingClass struct {
	decl zast.ClassDecl
	ctx  *pctx.Context
}

type pendingDerivation struct {
	decl zast.DerivationDecl
	ctx  *pctx.Context
}

// task is one entry in the deferred-body priority queue (spec.md §4.8
// pass 5): template-instantiation bodies at priority 0, derivation
// group-registration at priority 1, class bodies at priority 2. seq
// breaks ties in FIFO order within a priority, so tasks of equal
// priority run in the order they were queued.
type task struct {
	priority int
	seq      int
	run      func() error
}

type taskHeap []*task

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h taskHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *taskHeap) Push(x any)        { *h = append(*h, x.(*task)) }
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

type taskQueue struct {
	h   taskHeap
	seq int
}

func (q *taskQueue) push(priority int, run func() error) {
	heap.Push(&q.h, &task{priority: priority, seq: q.seq, run: run})
	q.seq++
}

func (q *taskQueue) drain() error {
	for q.h.Len() > 0 {
		t := heap.Pop(&q.h).(*task)
		if err := t.run(); err != nil {
			return err
		}
	}
	return nil
}

// Program holds every piece of shared state the eight passes thread
// through (spec.md §5: "the program object owns actors, groups,
// inventories, and the id-generator state").
type Program struct {
	Gen idgen.Generator
	Log *zap.Logger

	Table   *actor.Table
	Groups  *actor.GroupTable
	Root    *pctx.Context
	Lowerer *lower.Lowerer
	Engine  *template.Engine

	Inventory []string

	pendingClasses     []pendingClass
	pendingDerivations []pendingDerivation
	tasks              taskQueue
}

// Options bundles the ambient configuration and identifier generator a
// compile run needs (spec.md §6's "Environment: no environment
// variables, no persisted state" — everything comes in through this
// struct instead).
type Options struct {
	Gen     idgen.Generator
	Log     *zap.Logger
	Opts    config.Options
	Version string // the 'version' field of the emitted header comment
}

// New constructs an empty Program ready to run Compile's passes.
func New(opts Options) *Program {
	table := actor.NewTable()
	groups := actor.NewGroupTable()
	root := pctx.NewRoot(table, "program")
	return &Program{
		Gen:     opts.Gen,
		Log:     opts.Log,
		Table:   table,
		Groups:  groups,
		Root:    root,
		Lowerer: lower.New(table, groups),
		Engine:  &template.Engine{Gen: opts.Gen},
	}
}

// Compile runs all eight passes of spec.md §4.8 over ast and returns the
// emitted DECORATE text. On failure ok is always false. In
// config.ErrorModeReportFirst the first error is logged and err is nil,
// so ok=false is the only failure indicator; in fail-fast mode (the
// default) the error is returned in err.
func Compile(ast *zast.Program, opts Options) (output string, ok bool, err error) {
	p := New(opts)
	p.Inventory = append([]string(nil), ast.Inventory...)
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}

	run := func(name string, fn func() error) error {
		log.Debug("driver pass", zap.String("pass", name))
		if err := fn(); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		return nil
	}

	compileErr := firstNonNil(
		func() error { return run("pass1 gather groups and macros", func() error { return p.pass1(ast) }) },
		func() error { return run("pass2 unpack static for-loops", func() error { return p.pass2(ast) }) },
		func() error { return run("pass3 register templates", func() error { return p.pass3(ast) }) },
		func() error { return run("pass4 register classes and derivations", func() error { return p.pass4() }) },
		func() error { return run("pass5 run deferred tasks", func() error { return p.tasks.drain() }) },
		func() error {
			return run("pass6 prepare spawn labels", func() error {
				for _, a := range p.Table.All() {
					assemble.PrepareSpawnLabel(a, log)
				}
				return nil
			})
		},
	)

	if compileErr != nil {
		if opts.Opts.ErrorMode == config.ErrorModeReportFirst {
			log.Error("compile failed", zap.Error(compileErr))
			return "", false, nil
		}
		return "", false, compileErr
	}

	out, err := p.emit(opts.Version, opts.Opts.Emit.TabWidth)
	if err != nil {
		if opts.Opts.ErrorMode == config.ErrorModeReportFirst {
			log.Error("emit failed", zap.Error(err))
			return "", false, nil
		}
		return "", false, err
	}
	return out, true, nil
}

func firstNonNil(steps ...func() error) error {
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

// emit performs pass 7 (inheritance reordering) and pass 8 (serialization).
func (p *Program) emit(version string, tabWidth int) (string, error) {
	if tabWidth <= 0 {
		tabWidth = 4
	}
	tab := strings.Repeat(" ", tabWidth)

	var buf strings.Builder
	fmt.Fprintf(&buf, "// :ZDCODE version='%s' id='%s' \n", version, p.Gen.ProgramID())
	for _, inv := range p.Inventory {
		fmt.Fprintln(&buf, inv)
	}

	for _, a := range assemble.ReorderByInheritance(p.Table.All()) {
		if err := assemble.Emit(&buf, a, tab); err != nil {
			return "", err
		}
	}
	return buf.String(), nil
}

// EmitTo is the io.Writer-based variant of emit, exposed for callers
// that want to stream output instead of building one string in memory.
func (p *Program) EmitTo(w io.Writer, version string, tabWidth int) error {
	text, err := p.emit(version, tabWidth)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, text)
	return err
}

// ---- pass 1: gather groups and macros ----------------------------------

func (p *Program) pass1(ast *zast.Program) error {
	for _, g := range ast.Groups {
		if err := p.Groups.Register(&actor.Group{Name: g.Name, Members: append([]string(nil), g.Members...)}); err != nil {
			return err
		}
	}
	for i := range ast.Macros {
		p.Root.SetMacro(ast.Macros[i].Name, &ast.Macros[i])
	}
	return nil
}

// ---- pass 2: unpack static for-loops ------------------------------------

func (p *Program) pass2(ast *zast.Program) error {
	for i := range ast.Classes {
		p.pendingClasses = append(p.pendingClasses, pendingClass{decl: ast.Classes[i], ctx: p.Root})
	}
	for i := range ast.Derivations {
		p.pendingDerivations = append(p.pendingDerivations, pendingDerivation{decl: ast.Derivations[i], ctx: p.Root})
	}

	pending := ast.StaticFors
	for len(pending) > 0 {
		var next []zast.StaticFor
		for _, sf := range pending {
			more, err := p.expandStaticFor(sf, p.Root)
			if err != nil {
				return err
			}
			next = append(next, more...)
		}
		pending = next
	}
	return nil
}

// expandStaticFor flattens one static for-loop into pendingClasses and
// pendingDerivations, returning any nested static for-loops found in its
// body so pass2's fixed-point loop can expand those too.
func (p *Program) expandStaticFor(sf zast.StaticFor, parent *pctx.Context) ([]zast.StaticFor, error) {
	var nested []zast.StaticFor

	bind := func(iterCtx *pctx.Context) error {
		for _, entry := range sf.Body {
			switch entry.Kind {
			case "class":
				p.pendingClasses = append(p.pendingClasses, pendingClass{decl: *entry.Class, ctx: iterCtx})
			case "derivation":
				p.pendingDerivations = append(p.pendingDerivations, pendingDerivation{decl: *entry.Derivation, ctx: iterCtx})
			case "static_for":
				nested = append(nested, *entry.StaticFor)
			default:
				return fmt.Errorf("driver: unknown static-for entry kind %q", entry.Kind)
			}
		}
		return nil
	}

	switch sf.ForMode {
	case "group":
		grp, ok := p.Groups.Lookup(sf.Group)
		if !ok {
			return nil, describef(parent, "static for: unknown group %q", sf.Group)
		}
		members := append([]string(nil), grp.Members...) // snapshot, spec.md §9
		for i, member := range members {
			iterCtx := parent.Derive(fmt.Sprintf("static for %s in group %s[%d]", sf.Name, sf.Group, i), pctx.AnchorInherit, pctx.AnchorInherit)
			iterCtx.SetReplacement(sf.Name, member)
			if sf.Index != "" {
				iterCtx.SetReplacement(sf.Index, strconv.Itoa(i))
			}
			if err := bind(iterCtx); err != nil {
				return nil, err
			}
		}
	case "range":
		from, err := evalInt(parent, *sf.From)
		if err != nil {
			return nil, err
		}
		to, err := evalInt(parent, *sf.To)
		if err != nil {
			return nil, err
		}
		hi := to
		if sf.RangeInclusive {
			hi++
		}
		for i := from; i < hi; i++ {
			iterCtx := parent.Derive(fmt.Sprintf("static for %s in range %d", sf.Name, i), pctx.AnchorInherit, pctx.AnchorInherit)
			iterCtx.SetReplacement(sf.Name, strconv.Itoa(i))
			if sf.Index != "" {
				iterCtx.SetReplacement(sf.Index, strconv.Itoa(i-from))
			}
			if err := bind(iterCtx); err != nil {
				return nil, err
			}
		}
	default:
		return nil, describef(parent, "static for: unknown iteration mode %q", sf.ForMode)
	}
	return nested, nil
}

func evalInt(ctx *pctx.Context, expr zast.Expr) (int, error) {
	text, err := lowexpr.Render(expr, ctx)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil {
		return 0, describef(ctx, "expected integer, got %q: %v", text, err)
	}
	return n, nil
}

// ---- pass 3: register class templates -----------------------------------

func (p *Program) pass3(ast *zast.Program) error {
	for i := range ast.Templates {
		decl := &ast.Templates[i]

		abstractLabels := make(map[string]bool, len(decl.AbstractLabels))
		for _, l := range decl.AbstractLabels {
			abstractLabels[l] = true
		}

		tmpl := &template.Template{
			Name:             decl.Name,
			Params:           append([]string(nil), decl.TemplateParams...),
			ParseData:        bucketedClassStmts(*decl),
			AbstractLabels:   abstractLabels,
			AbstractMacros:   decl.AbstractMacros,
			AbstractArrays:   decl.AbstractArrays,
			DefaultInherits:  decl.Inherits,
			DefaultReplaces:  decl.Replaces,
			DefaultEditorNum: decl.EditorNum,
			DefaultGroup:     decl.Group,
		}
		p.Root.SetTemplate(decl.Name, tmpl)
	}
	return nil
}

// bucketedClassStmts flattens a pre-bucketed ClassDecl into the flat
// Stmt stream internal/template.Template.ParseData requires, in the same
// category order internal/lower.LowerClassBody itself processes a
// regular class body (properties, flags, anti-flags, user vars, verbatim,
// applied mods as body-less "apply" stmts, macros, mods, then labels).
func bucketedClassStmts(decl zast.ClassDecl) []zast.Stmt {
	var out []zast.Stmt
	for i := range decl.Properties {
		out = append(out, zast.Stmt{Tag: "property", PropertyName: decl.Properties[i].Name, PropertyValue: &decl.Properties[i].Value})
	}
	for _, f := range decl.Flags {
		out = append(out, zast.Stmt{Tag: "flag", FlagName: f})
	}
	for _, f := range decl.AntiFlags {
		out = append(out, zast.Stmt{Tag: "unflag", FlagName: f})
	}
	for i := range decl.UserVars {
		out = append(out, zast.Stmt{Tag: "user var", UserVarDecl: &decl.UserVars[i]})
	}
	for _, v := range decl.Verbatim {
		out = append(out, zast.Stmt{Tag: "verbatim", VerbatimText: v})
	}
	for _, m := range decl.AppliedMods {
		out = append(out, zast.Stmt{Tag: "apply", ModName: m})
	}
	for i := range decl.Macros {
		out = append(out, zast.Stmt{Tag: "macro", MacroDecl: &decl.Macros[i]})
	}
	for i := range decl.Mods {
		out = append(out, zast.Stmt{Tag: "mod", ModDecl: &decl.Mods[i]})
	}
	for i := range decl.Labels {
		out = append(out, zast.Stmt{Tag: "label", Label: decl.Labels[i].Name, Body: decl.Labels[i].Body})
	}
	return out
}

// ---- pass 4: register classes and static template derivations ----------

func (p *Program) pass4() error {
	for _, pc := range p.pendingClasses {
		if err := p.registerClass(pc); err != nil {
			return err
		}
	}
	for _, pd := range p.pendingDerivations {
		if err := p.registerDerivation(pd); err != nil {
			return err
		}
	}
	return nil
}

func (p *Program) registerClass(pc pendingClass) error {
	decl := pc.decl
	if decl.IsTemplate {
		// Templates are registered in pass 3; a template's own ClassDecl
		// also appears among ast.Classes only if the AST producer chose
		// to list it both ways. Skip here to avoid double-registering it
		// as a concrete actor.
		return nil
	}
	if decl.HasFunctionKeyword {
		return describef(pc.ctx, "class %s: the 'function' keyword was removed at version 2.11.0", decl.Name)
	}

	name, err := pc.ctx.Resolve(decl.Name, "class name")
	if err != nil {
		return err
	}
	inherits := decl.Inherits
	if inherits != "" {
		if inherits, err = pc.ctx.Resolve(inherits, "inherits target"); err != nil {
			return err
		}
	}
	replaces := decl.Replaces
	if replaces != "" {
		if replaces, err = pc.ctx.Resolve(replaces, "replace target"); err != nil {
			return err
		}
	}

	a := &actor.Actor{
		Name:      name,
		Inherits:  inherits,
		Replaces:  replaces,
		EditorNum: decl.EditorNum,
		Group:     decl.Group,
	}
	if err := p.Table.Register(a); err != nil {
		return err
	}
	if decl.Group != "" {
		if err := p.Groups.Append(decl.Group, a.Name); err != nil {
			return err
		}
	}

	ctx := pc.ctx
	p.tasks.push(2, func() error {
		return p.Lowerer.LowerClassBody(a, ctx, decl)
	})
	return nil
}

func (p *Program) registerDerivation(pd pendingDerivation) error {
	decl := pd.decl
	ctx := pd.ctx

	tmplAny, ok := ctx.LookupTemplate(decl.Template)
	if !ok {
		return describef(ctx, "derive %s: unknown template %q", decl.Name, decl.Template)
	}
	tmpl, ok := tmplAny.(*template.Template)
	if !ok {
		return describef(ctx, "derive %s: %q does not name a template", decl.Name, decl.Template)
	}

	if len(decl.Args) != len(tmpl.Params) {
		return describef(ctx, "derive %s: template %q expects %d argument(s), got %d", decl.Name, decl.Template, len(tmpl.Params), len(decl.Args))
	}
	paramValues := make([]string, len(decl.Args))
	for i, arg := range decl.Args {
		text, err := lowexpr.Render(arg, ctx)
		if err != nil {
			return err
		}
		paramValues[i] = text
	}

	providedLabels := make([]string, len(decl.Labels))
	for i, l := range decl.Labels {
		providedLabels[i] = l.Name
	}
	providedMacros := make(map[string]int, len(decl.Macros))
	for _, m := range decl.Macros {
		providedMacros[m.Name] = len(m.Params)
	}

	arrayNames := make([]string, 0, len(decl.Arrays))
	for name := range decl.Arrays {
		arrayNames = append(arrayNames, name)
	}
	sort.Strings(arrayNames) // deterministic emission order, spec.md §5
	for _, name := range arrayNames {
		if _, abstract := tmpl.AbstractArrays[name]; !abstract {
			return describef(ctx, "derive %s: array %q is not declared abstract on template %q", decl.Name, name, decl.Template)
		}
	}

	overrideBody := bucketedDerivationStmts(decl, arrayNames)

	fresh, a, dtask, err := p.Engine.Instantiate(tmpl, ctx, p.Table, overrideBody, template.Args{
		ParameterValues: paramValues,
		ProvidedLabels:  providedLabels,
		ProvidedMacros:  providedMacros,
		ProvidedArrays:  decl.Arrays,
		Name:            decl.Name,
		Inherits:        decl.Inherits,
		Group:           decl.Group,
	})
	if err != nil {
		return err
	}
	if !fresh {
		return nil
	}

	p.tasks.push(0, func() error {
		return p.Lowerer.LowerClassBodyStmts(dtask.Actor, dtask.Ctx, dtask.Body)
	})
	if decl.Group != "" {
		group, name := decl.Group, a.Name
		p.tasks.push(1, func() error {
			return p.Groups.Append(group, name)
		})
	}
	return nil
}

func bucketedDerivationStmts(decl zast.DerivationDecl, sortedArrayNames []string) []zast.Stmt {
	var out []zast.Stmt
	for i := range decl.Labels {
		out = append(out, zast.Stmt{Tag: "label", Label: decl.Labels[i].Name, Body: decl.Labels[i].Body})
	}
	for i := range decl.Macros {
		out = append(out, zast.Stmt{Tag: "macro", MacroDecl: &decl.Macros[i]})
	}
	for _, name := range sortedArrayNames {
		spec := decl.Arrays[name]
		out = append(out, zast.Stmt{Tag: "user var", UserVarDecl: &zast.UserVarDecl{
			Name: name, ElemType: spec.ElemType, ArraySize: spec.Size, Any: spec.Any,
		}})
	}
	return out
}
