// Package lower is statement lowering (C5): it turns source statements
// into State IR appended to a label (or any nested body slice), calling
// into C3 (internal/lowexpr) for expressions and C6 (internal/modifier)
// for clause application as each node is constructed (spec.md §4.5). It
// does not call C4 (internal/template): template derivations are
// instantiated by the driver, not during statement lowering. This is the largest single
// component of the pipeline, matching the teacher's own heaviest package
// (internal/core, control-flow-dominated) in relative share.
package lower

import (
	"fmt"
	"strconv"
	"strings"

	"zdcode-core/internal/actor"
	"zdcode-core/internal/cerr"
	"zdcode-core/internal/ir"
	"zdcode-core/internal/lowexpr"
	"zdcode-core/internal/modifier"
	"zdcode-core/internal/pctx"
	"zdcode-core/internal/zast"
)

// Lowerer owns the shared state statement lowering needs beyond a single
// class: the program's actor/group registries, and a side-table from
// actor to its owning context (actor.Actor can't hold a *pctx.Context
// itself — pctx already imports actor for actor.Table, so the reverse
// import would cycle), used by "inject from C" to reach another class's
// macros (spec.md §4.5 Inject).
type Lowerer struct {
	Table     *actor.Table
	Groups    *actor.GroupTable
	Contexts  map[*actor.Actor]*pctx.Context
	loopCount int
}

// New builds a Lowerer sharing the program's actor and group registries.
func New(table *actor.Table, groups *actor.GroupTable) *Lowerer {
	return &Lowerer{Table: table, Groups: groups, Contexts: make(map[*actor.Actor]*pctx.Context)}
}

func (lw *Lowerer) nextLoopLabel() string {
	n := lw.loopCount
	lw.loopCount++
	return fmt.Sprintf("ZDCode_Loop_%d", n)
}

// describef builds a *cerr.CompileError carrying ctx's description path
// (spec.md §7).
func describef(ctx *pctx.Context, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if d := ctx.Describe(); d != "" {
		return cerr.WithPath([]string{d}, "%s", msg)
	}
	return cerr.New("%s", msg)
}

// ---- class-body assembly ----------------------------------------------

// LowerClassBody lowers a fully-bucketed class declaration (the shape a
// top-level `class`/`class<P>` entry already arrives in) into a into an
// already-registered, empty actor (spec.md §4.8 pass 5: "parses a class
// body into its actor using C5").
func (lw *Lowerer) LowerClassBody(a *actor.Actor, ctx *pctx.Context, decl zast.ClassDecl) error {
	lw.Contexts[a] = ctx

	if decl.HasFunctionKeyword {
		return describef(ctx, "class %s: the 'function' keyword was removed at version 2.11.0", a.Name)
	}

	for _, p := range decl.Properties {
		if err := lw.addProperty(a, ctx, p.Name, p.Value); err != nil {
			return err
		}
	}
	a.Flags = append(a.Flags, decl.Flags...)
	a.AntiFlags = append(a.AntiFlags, decl.AntiFlags...)
	for _, uv := range decl.UserVars {
		if err := lw.addUserVar(a, ctx, uv); err != nil {
			return err
		}
	}
	a.Verbatim = append(a.Verbatim, decl.Verbatim...)
	a.AppliedMods = append(a.AppliedMods, decl.AppliedMods...)

	for i := range decl.Macros {
		ctx.SetMacro(decl.Macros[i].Name, &decl.Macros[i])
	}
	for i := range decl.Mods {
		if err := lw.addMod(a, ctx, decl.Mods[i]); err != nil {
			return err
		}
	}
	for _, labelDecl := range decl.Labels {
		if err := lw.LowerLabel(a, ctx, labelDecl); err != nil {
			return err
		}
	}
	return nil
}

// LowerClassBodyStmts lowers a template or derivation override body — a
// flat Stmt stream rather than a pre-bucketed ClassDecl, since that is
// the shape spec.md §4.4's deferred body-parse task carries (ParseData
// plus override statements, concatenated). Each entry's Tag selects one
// of the class-body declarations from spec.md §6.
func (lw *Lowerer) LowerClassBodyStmts(a *actor.Actor, ctx *pctx.Context, stmts []zast.Stmt) error {
	lw.Contexts[a] = ctx
	for i := range stmts {
		if err := lw.lowerClassBodyStmt(a, ctx, &stmts[i]); err != nil {
			return err
		}
	}
	return nil
}

func (lw *Lowerer) lowerClassBodyStmt(a *actor.Actor, ctx *pctx.Context, stmt *zast.Stmt) error {
	switch stmt.Tag {
	case "property":
		return lw.addProperty(a, ctx, stmt.PropertyName, *stmt.PropertyValue)
	case "flag":
		a.Flags = append(a.Flags, stmt.FlagName)
		return nil
	case "unflag":
		a.AntiFlags = append(a.AntiFlags, stmt.FlagName)
		return nil
	case "user var":
		return lw.addUserVar(a, ctx, *stmt.UserVarDecl)
	case "label":
		return lw.LowerLabel(a, ctx, zast.LabelDecl{Name: stmt.Label, Body: stmt.Body})
	case "mod":
		return lw.addMod(a, ctx, *stmt.ModDecl)
	case "macro":
		ctx.SetMacro(stmt.MacroDecl.Name, stmt.MacroDecl)
		return nil
	case "verbatim":
		a.Verbatim = append(a.Verbatim, stmt.VerbatimText)
		return nil
	case "apply":
		if stmt.Body == nil {
			a.AppliedMods = append(a.AppliedMods, stmt.ModName)
			return nil
		}
		applyCtx := ctx.Derive("apply "+stmt.ModName, pctx.AnchorInherit, pctx.AnchorInherit)
		applyCtx.ApplyMod(stmt.ModName)
		for i := range stmt.Body {
			if err := lw.lowerClassBodyStmt(a, applyCtx, &stmt.Body[i]); err != nil {
				return err
			}
		}
		return nil
	case "for":
		return lw.forEachClassBodyIteration(a, ctx, stmt, lw.lowerClassBodyStmt)
	case "function":
		return describef(ctx, "class %s: the 'function' keyword was removed at version 2.11.0", a.Name)
	default:
		return describef(ctx, "lower: unknown class-body tag %q", stmt.Tag)
	}
}

func (lw *Lowerer) addProperty(a *actor.Actor, ctx *pctx.Context, name string, value zast.Expr) error {
	text, err := lowexpr.Render(value, ctx)
	if err != nil {
		return err
	}
	a.Properties = append(a.Properties, actor.Property{Name: name, Value: text})
	return nil
}

func (lw *Lowerer) addUserVar(a *actor.Actor, ctx *pctx.Context, uv zast.UserVarDecl) error {
	out := actor.UserVar{Name: uv.Name, ElemType: uv.ElemType, ArraySize: uv.ArraySize, Any: uv.Any}

	if uv.Init != nil {
		if uv.ArraySize > 0 {
			// Fixed-size array: Init is the element list, one expr per
			// index (spec.md §3, "optional initial value" for arrays).
			out.ArrayInit = make([]string, len(uv.Init.Args))
			for i, elem := range uv.Init.Args {
				text, err := lowexpr.Render(elem, ctx)
				if err != nil {
					return err
				}
				out.ArrayInit[i] = text
			}
		} else {
			text, err := lowexpr.Render(*uv.Init, ctx)
			if err != nil {
				return err
			}
			out.Init = text
		}
	}

	a.UserVars = append(a.UserVars, out)
	return nil
}

func (lw *Lowerer) addMod(a *actor.Actor, ctx *pctx.Context, decl zast.ModDecl) error {
	mod, err := lw.buildMod(a, ctx, decl)
	if err != nil {
		return err
	}
	ctx.SetMod(decl.Name, mod)
	return nil
}

// ---- label / statement lowering ----------------------------------------

// LowerLabel lowers one label's statements into the actor, creating the
// label if absent (spec.md §3: "Label").
func (lw *Lowerer) LowerLabel(a *actor.Actor, ctx *pctx.Context, decl zast.LabelDecl) error {
	label := a.EnsureLabel(decl.Name)
	for _, s := range decl.Body {
		if err := lw.LowerStatement(a, ctx, label.Name, &label.States, s); err != nil {
			return fmt.Errorf("label %s: %w", decl.Name, err)
		}
	}
	return nil
}

// LowerBody lowers a sequence of statements into a fresh slice under ctx
// — used for nested bodies (If/While/Sometimes then/else/body) that the
// owning ir.State variant holds directly, as opposed to a flat
// label-level sequence.
func (lw *Lowerer) LowerBody(a *actor.Actor, ctx *pctx.Context, labelName string, stmts []zast.Stmt) ([]ir.State, error) {
	var out []ir.State
	for _, s := range stmts {
		if err := lw.LowerStatement(a, ctx, labelName, &out, s); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// LowerStatement lowers one statement, appending zero or more State IR
// nodes to dst (spec.md §4.5: "lower_statement(actor, context, label,
// stmt, func) appends zero or more State IR nodes to label.states").
// dst stands in for "label" here: at the top level it is a label's own
// States slice; inside If/While/Sometimes it is that node's Then/Else/
// Body slice instead — the destination differs, but the per-node
// modifier application and state-count bookkeeping are identical either
// way (see emit).
func (lw *Lowerer) LowerStatement(a *actor.Actor, ctx *pctx.Context, labelName string, dst *[]ir.State, stmt zast.Stmt) error {
	switch stmt.Tag {
	case "frames":
		return lw.lowerFrames(a, ctx, labelName, dst, stmt)
	case "flow":
		return lw.lowerFlow(a, ctx, labelName, dst, stmt)
	case "repeat":
		return lw.lowerRepeat(a, ctx, labelName, dst, stmt)
	case "if":
		return lw.lowerIf(a, ctx, labelName, dst, stmt)
	case "ifjump":
		return lw.lowerIfJump(a, ctx, labelName, dst, stmt)
	case "while":
		return lw.lowerWhile(a, ctx, labelName, dst, stmt)
	case "whilejump":
		return lw.lowerWhileJump(a, ctx, labelName, dst, stmt)
	case "sometimes":
		return lw.lowerSometimes(a, ctx, labelName, dst, stmt)
	case "for":
		return lw.lowerFor(a, ctx, labelName, dst, stmt)
	case "apply":
		return lw.lowerApply(a, ctx, labelName, dst, stmt)
	case "inject":
		return lw.lowerInject(a, ctx, labelName, dst, stmt)
	case "return":
		return lw.lowerSkip(a, ctx, labelName, dst, ctx.ReturnCtx(), "return used outside a macro injection")
	case "break":
		return lw.lowerSkip(a, ctx, labelName, dst, ctx.BreakCtx(), "break used outside a loop or mod body")
	case "continue":
		return lw.lowerSkip(a, ctx, labelName, dst, ctx.LoopCtx(), "continue used outside a loop")
	default:
		return describef(ctx, "lower: unknown statement tag %q", stmt.Tag)
	}
}

// emit applies every currently-applied modifier clause to each node in
// turn (a fresh single-element list per node, per spec.md §4.5), appends
// the result to dst, and records the emitted count against ctx so jump
// arithmetic stays correct.
func (lw *Lowerer) emit(a *actor.Actor, ctx *pctx.Context, labelName string, dst *[]ir.State, nodes ...ir.State) error {
	for _, n := range nodes {
		filtered, err := lw.applyMods(a, ctx, labelName, []ir.State{n})
		if err != nil {
			return err
		}
		*dst = append(*dst, filtered...)
		ctx.AddStates(ir.NumStatesOf(filtered))
	}
	return nil
}

func (lw *Lowerer) applyMods(a *actor.Actor, ctx *pctx.Context, labelName string, states []ir.State) ([]ir.State, error) {
	names := ctx.AppliedMods(a.AppliedMods)
	if len(names) == 0 {
		return states, nil
	}
	actx := modifier.ApplyContext{Manipulate: lw.manipulate(a, ctx, labelName)}
	for _, name := range names {
		modVal, ok := ctx.LookupMod(name)
		if !ok {
			return nil, describef(ctx, "apply: unknown modifier %q", name)
		}
		mod, ok := modVal.(*modifier.Mod)
		if !ok {
			return nil, describef(ctx, "apply: %q does not name a modifier", name)
		}
		var err error
		states, err = modifier.Apply(mod, states, actx)
		if err != nil {
			return nil, err
		}
	}
	return states, nil
}

// manipulate implements the modifier engine's "manipulate NAME { body }"
// hook: bind the matched state as a single-state macro and lower body
// under a context where that binding is visible (spec.md §4.6).
func (lw *Lowerer) manipulate(a *actor.Actor, ctx *pctx.Context, labelName string) modifier.ManipulateLowerer {
	return func(original ir.State, macroName string, body []zast.Stmt) ([]ir.State, error) {
		manipCtx := ctx.Derive("manipulate "+macroName, pctx.AnchorInherit, pctx.AnchorInherit)
		manipCtx.SetRawStateMacro(macroName, original)
		return lw.LowerBody(a, manipCtx, labelName, body)
	}
}

// ---- frames -------------------------------------------------------------

func (lw *Lowerer) lowerFrames(a *actor.Actor, ctx *pctx.Context, labelName string, dst *[]ir.State, stmt zast.Stmt) error {
	sprite, err := renderSprite(ctx, *stmt.Sprite)
	if err != nil {
		return err
	}
	duration, err := renderInt(ctx, *stmt.Duration)
	if err != nil {
		return err
	}
	for _, letter := range splitFrameLetters(stmt.FrameLetters) {
		frames, err := lw.buildFramesForLetter(ctx, sprite, letter, duration, stmt.Keywords, stmt.Action)
		if err != nil {
			return err
		}
		if err := lw.emit(a, ctx, labelName, dst, frames...); err != nil {
			return err
		}
	}
	return nil
}

func renderSprite(ctx *pctx.Context, expr zast.Expr) (string, error) {
	text, err := lowexpr.Render(expr, ctx)
	if err != nil {
		return "", err
	}
	if expr.Kind != "ident" {
		return text, nil
	}
	if !strings.HasPrefix(text, `"`) || !strings.HasSuffix(text, `"`) || len(text) < 2 {
		return "", describef(ctx, "parametrized sprite %q must resolve to a quoted string", expr.Text)
	}
	bare := strings.Trim(text, `"`)
	if len(bare) != 4 {
		return "", describef(ctx, "parametrized sprite %q must resolve to a 4-character token, got %q", expr.Text, bare)
	}
	return text, nil
}

func renderInt(ctx *pctx.Context, expr zast.Expr) (int, error) {
	text, err := lowexpr.Render(expr, ctx)
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil {
		return 0, describef(ctx, "expected integer, got %q: %v", text, err)
	}
	return v, nil
}

func splitFrameLetters(s string) []string {
	if s == "#" || s == `"#"` {
		return []string{`"#"`}
	}
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

func (lw *Lowerer) buildFramesForLetter(ctx *pctx.Context, sprite, letter string, duration int, keywords []string, action *zast.ActionBody) ([]ir.State, error) {
	kw := append([]string(nil), keywords...)
	if action == nil {
		return []ir.State{&ir.Frame{Sprite: sprite, FrameLetters: letter, Duration: duration, Keywords: kw}}, nil
	}
	if action.Single != nil {
		text, err := lw.renderCall(ctx, *action.Single)
		if err != nil {
			return nil, err
		}
		return []ir.State{&ir.Frame{Sprite: sprite, FrameLetters: letter, Duration: duration, Keywords: kw, Action: text}}, nil
	}
	// Inline body: first |body|-1 frames get duration 0, the last keeps
	// the original duration, each carrying one call (spec.md §4.5).
	n := len(action.Inline)
	out := make([]ir.State, 0, n)
	for i, call := range action.Inline {
		text, err := lw.renderCall(ctx, call)
		if err != nil {
			return nil, err
		}
		d := 0
		if i == n-1 {
			d = duration
		}
		out = append(out, &ir.Frame{Sprite: sprite, FrameLetters: letter, Duration: d, Keywords: append([]string(nil), keywords...), Action: text})
	}
	return out, nil
}

func (lw *Lowerer) renderCall(ctx *pctx.Context, call zast.Call) (string, error) {
	name := call.Name
	if strings.HasPrefix(name, "@") {
		resolved, err := ctx.Resolve(name, "action name")
		if err != nil {
			return "", err
		}
		name = strings.Trim(resolved, `"`)
	}
	if len(call.Args) == 0 {
		return name, nil
	}
	args := make([]string, len(call.Args))
	for i, arg := range call.Args {
		text, err := lowexpr.Render(arg, ctx)
		if err != nil {
			return "", err
		}
		args[i] = text
	}
	return fmt.Sprintf("%s(%s)", name, strings.Join(args, ", ")), nil
}

// ---- flow -----------------------------------------------------------------

func (lw *Lowerer) lowerFlow(a *actor.Actor, ctx *pctx.Context, labelName string, dst *[]ir.State, stmt zast.Stmt) error {
	switch stmt.FlowKind {
	case "stop", "wait", "fail":
		return lw.emit(a, ctx, labelName, dst, &ir.Verbatim{Text: stmt.FlowKind})
	case "goto":
		return lw.emit(a, ctx, labelName, dst, &ir.Verbatim{Text: "goto " + stmt.Label})
	case "loop":
		return lw.emit(a, ctx, labelName, dst, &ir.Verbatim{Text: "goto " + labelName})
	default:
		return describef(ctx, "lower: unknown flow kind %q", stmt.FlowKind)
	}
}

// ---- repeat -----------------------------------------------------------------

func (lw *Lowerer) lowerRepeat(a *actor.Actor, ctx *pctx.Context, labelName string, dst *[]ir.State, stmt zast.Stmt) error {
	n, err := renderInt(ctx, *stmt.Count)
	if err != nil {
		return describef(ctx, "repeat: invalid count: %v", err)
	}
	for i := 0; i < n; i++ {
		breakCtx := ctx.Derive(fmt.Sprintf("repeat #%d", i), pctx.AnchorSelf, pctx.AnchorInherit)
		loopCtx := breakCtx.Derive(fmt.Sprintf("repeat #%d body", i), pctx.AnchorInherit, pctx.AnchorSelf)
		if stmt.Index != "" {
			loopCtx.SetReplacement(stmt.Index, strconv.Itoa(i))
		}
		for _, bstmt := range stmt.Body {
			if err := lw.LowerStatement(a, loopCtx, labelName, dst, bstmt); err != nil {
				return err
			}
		}
	}
	return nil
}

// ---- if / ifjump ------------------------------------------------------------

func (lw *Lowerer) lowerIf(a *actor.Actor, ctx *pctx.Context, labelName string, dst *[]ir.State, stmt zast.Stmt) error {
	condText, err := lowexpr.Render(*stmt.Cond, ctx)
	if err != nil {
		return err
	}
	remoteOffset := 2
	if stmt.HasElse {
		remoteOffset = 3
	}
	// bodyCtx accumulates Then and Else into one running count; Else is
	// lowered first so a break/continue/return captured mid-Then sees
	// Else's full length already folded in, matching the textual order
	// ToText actually emits them in (else before then).
	bodyCtx := ctx.RemoteDerive("if", remoteOffset, pctx.AnchorInherit, pctx.AnchorInherit)
	var elseStates []ir.State
	if stmt.HasElse {
		elseStates, err = lw.LowerBody(a, bodyCtx, labelName, stmt.Else)
		if err != nil {
			return err
		}
	}
	thenStates, err := lw.LowerBody(a, bodyCtx, labelName, stmt.Then)
	if err != nil {
		return err
	}
	node := &ir.If{Cond: condText, NegCond: "!(" + condText + ")", Then: thenStates, Else: elseStates, HasElse: stmt.HasElse}
	return lw.emit(a, ctx, labelName, dst, node)
}

func (lw *Lowerer) lowerIfJump(a *actor.Actor, ctx *pctx.Context, labelName string, dst *[]ir.State, stmt zast.Stmt) error {
	jumpText, err := lw.jumpTextFunc(ctx, *stmt.JumpAction)
	if err != nil {
		return err
	}
	// Same else-before-then ordering rationale as lowerIf.
	bodyCtx := ctx.RemoteDerive("ifjump", 3, pctx.AnchorInherit, pctx.AnchorInherit)
	var elseStates []ir.State
	if stmt.HasElse {
		elseStates, err = lw.LowerBody(a, bodyCtx, labelName, stmt.Else)
		if err != nil {
			return err
		}
	}
	thenStates, err := lw.LowerBody(a, bodyCtx, labelName, stmt.Then)
	if err != nil {
		return err
	}
	node := &ir.IfJump{JumpText: jumpText, Then: thenStates, Else: elseStates, HasElse: stmt.HasElse}
	return lw.emit(a, ctx, labelName, dst, node)
}

// jumpTextFunc builds the JumpTextFunc an ifjump/whilejump node needs:
// the action call's arguments are rendered once, except for the one
// argument the grammar marked as the $OFFSET placeholder (Expr{Kind:
// "offset"}), which is substituted with the needed relative jump offset
// at ToText time (spec.md §4.5).
func (lw *Lowerer) jumpTextFunc(ctx *pctx.Context, call zast.Call) (ir.JumpTextFunc, error) {
	rendered := make([]string, len(call.Args))
	offsetIdx := -1
	for i, arg := range call.Args {
		if arg.Kind == "offset" {
			offsetIdx = i
			continue
		}
		text, err := lowexpr.Render(arg, ctx)
		if err != nil {
			return nil, err
		}
		rendered[i] = text
	}
	if offsetIdx == -1 {
		return nil, describef(ctx, "ifjump/whilejump action %q has no $OFFSET argument", call.Name)
	}
	name := call.Name
	return func(offset string) string {
		parts := append([]string(nil), rendered...)
		parts[offsetIdx] = offset
		return fmt.Sprintf("%s(%s)", name, strings.Join(parts, ", "))
	}, nil
}

// ---- while / whilejump -------------------------------------------------

func (lw *Lowerer) lowerWhile(a *actor.Actor, ctx *pctx.Context, labelName string, dst *[]ir.State, stmt zast.Stmt) error {
	condText, err := lowexpr.Render(*stmt.Cond, ctx)
	if err != nil {
		return err
	}
	remoteOffset := 3
	if stmt.HasElse {
		remoteOffset = 4
	}
	// Else is lowered into outerCtx before body (a Derive child of
	// outerCtx) so a break captured mid-body sees Else's full length
	// already folded into outerCtx's running count, matching ToText's
	// actual emission order (else, then the loop body).
	outerCtx := ctx.RemoteDerive("while", remoteOffset, pctx.AnchorSelf, pctx.AnchorInherit)
	var elseStates []ir.State
	if stmt.HasElse {
		elseStates, err = lw.LowerBody(a, outerCtx, labelName, stmt.Else)
		if err != nil {
			return err
		}
	}
	loopCtx := outerCtx.Derive("while body", pctx.AnchorInherit, pctx.AnchorSelf)
	bodyStates, err := lw.LowerBody(a, loopCtx, labelName, stmt.Body)
	if err != nil {
		return err
	}
	node := &ir.While{
		Cond: condText, NegCond: "!(" + condText + ")",
		Body: bodyStates, Else: elseStates, HasElse: stmt.HasElse,
		LoopLabel: lw.nextLoopLabel(),
	}
	return lw.emit(a, ctx, labelName, dst, node)
}

func (lw *Lowerer) lowerWhileJump(a *actor.Actor, ctx *pctx.Context, labelName string, dst *[]ir.State, stmt zast.Stmt) error {
	jumpText, err := lw.jumpTextFunc(ctx, *stmt.JumpAction)
	if err != nil {
		return err
	}
	remoteOffset := 4
	outerCtx := ctx.RemoteDerive("whilejump", remoteOffset, pctx.AnchorSelf, pctx.AnchorInherit)
	var elseStates []ir.State
	if stmt.HasElse {
		elseStates, err = lw.LowerBody(a, outerCtx, labelName, stmt.Else)
		if err != nil {
			return err
		}
	}
	loopCtx := outerCtx.Derive("whilejump body", pctx.AnchorInherit, pctx.AnchorSelf)
	bodyStates, err := lw.LowerBody(a, loopCtx, labelName, stmt.Body)
	if err != nil {
		return err
	}
	node := &ir.WhileJump{JumpText: jumpText, Body: bodyStates, Else: elseStates, HasElse: stmt.HasElse, LoopLabel: lw.nextLoopLabel()}
	return lw.emit(a, ctx, labelName, dst, node)
}

// ---- sometimes --------------------------------------------------------------

func (lw *Lowerer) lowerSometimes(a *actor.Actor, ctx *pctx.Context, labelName string, dst *[]ir.State, stmt zast.Stmt) error {
	chanceText, err := lowexpr.Render(*stmt.Chance, ctx)
	if err != nil {
		return err
	}
	bodyCtx := ctx.RemoteDerive("sometimes", 2, pctx.AnchorInherit, pctx.AnchorInherit)
	bodyStates, err := lw.LowerBody(a, bodyCtx, labelName, stmt.Body)
	if err != nil {
		return err
	}
	return lw.emit(a, ctx, labelName, dst, &ir.Sometimes{Chance: chanceText, Body: bodyStates})
}

// ---- apply (statement-scoped) ------------------------------------------

func (lw *Lowerer) lowerApply(a *actor.Actor, ctx *pctx.Context, labelName string, dst *[]ir.State, stmt zast.Stmt) error {
	applyCtx := ctx.Derive("apply "+stmt.ModName, pctx.AnchorInherit, pctx.AnchorInherit)
	applyCtx.ApplyMod(stmt.ModName)
	for _, bstmt := range stmt.Body {
		if err := lw.LowerStatement(a, applyCtx, labelName, dst, bstmt); err != nil {
			return err
		}
	}
	return nil
}

// ---- for (group / range) -----------------------------------------------

func (lw *Lowerer) lowerFor(a *actor.Actor, ctx *pctx.Context, labelName string, dst *[]ir.State, stmt zast.Stmt) error {
	return lw.forEachIteration(ctx, stmt, func(iterCtx *pctx.Context) error {
		for _, bstmt := range stmt.Body {
			if err := lw.LowerStatement(a, iterCtx, labelName, dst, bstmt); err != nil {
				return err
			}
		}
		return nil
	}, func() error {
		for _, bstmt := range stmt.Else {
			if err := lw.LowerStatement(a, ctx, labelName, dst, bstmt); err != nil {
				return err
			}
		}
		return nil
	})
}

// forEachClassBodyIteration mirrors lowerFor but for a class-body-scoped
// for-loop (labels/properties/etc. instead of frame statements).
func (lw *Lowerer) forEachClassBodyIteration(a *actor.Actor, ctx *pctx.Context, stmt *zast.Stmt, step func(*actor.Actor, *pctx.Context, *zast.Stmt) error) error {
	return lw.forEachIteration(ctx, *stmt, func(iterCtx *pctx.Context) error {
		for i := range stmt.Body {
			if err := step(a, iterCtx, &stmt.Body[i]); err != nil {
				return err
			}
		}
		return nil
	}, func() error {
		for i := range stmt.Else {
			if err := step(a, ctx, &stmt.Else[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// forEachIteration drives the shared group/range iteration machinery of
// spec.md §4.5's "For" rule: group membership is snapshotted once up
// front so later appends to the group don't affect an in-flight loop
// (spec.md §9), and each iteration runs under a context binding the
// loop variable (and optional index) via a replacement — the for
// construct itself introduces no new break/loop scope (spec.md §4.5
// names no break_ctx/loop_ctx for "For", unlike repeat).
func (lw *Lowerer) forEachIteration(ctx *pctx.Context, stmt zast.Stmt, runBody func(*pctx.Context) error, runElse func() error) error {
	switch stmt.ForMode {
	case "group":
		grp, ok := lw.Groups.Lookup(stmt.ForGroup)
		if !ok {
			return describef(ctx, "for: unknown group %q", stmt.ForGroup)
		}
		members := append([]string(nil), grp.Members...)
		if len(members) == 0 {
			if runElse == nil || (!stmt.HasElse && len(stmt.Else) == 0) {
				return describef(ctx, "for: group %q is empty and has no else clause", stmt.ForGroup)
			}
			return runElse()
		}
		for i, member := range members {
			iterCtx := ctx.Derive(fmt.Sprintf("for %s in group %s[%d]", stmt.ForName, stmt.ForGroup, i), pctx.AnchorInherit, pctx.AnchorInherit)
			iterCtx.SetReplacement(stmt.ForName, member)
			if stmt.ForIndex != "" {
				iterCtx.SetReplacement(stmt.ForIndex, strconv.Itoa(i))
			}
			if err := runBody(iterCtx); err != nil {
				return err
			}
		}
		return nil
	case "range":
		from, err := renderInt(ctx, *stmt.RangeFrom)
		if err != nil {
			return err
		}
		to, err := renderInt(ctx, *stmt.RangeTo)
		if err != nil {
			return err
		}
		hi := to
		if stmt.RangeInclusive {
			hi++
		}
		for i := from; i < hi; i++ {
			iterCtx := ctx.Derive(fmt.Sprintf("for %s in range %d", stmt.ForName, i), pctx.AnchorInherit, pctx.AnchorInherit)
			iterCtx.SetReplacement(stmt.ForName, strconv.Itoa(i))
			if stmt.ForIndex != "" {
				iterCtx.SetReplacement(stmt.ForIndex, strconv.Itoa(i-from))
			}
			if err := runBody(iterCtx); err != nil {
				return err
			}
		}
		return nil
	default:
		return describef(ctx, "for: unknown iteration mode %q", stmt.ForMode)
	}
}

// ---- inject -------------------------------------------------------------

func (lw *Lowerer) lowerInject(a *actor.Actor, ctx *pctx.Context, labelName string, dst *[]ir.State, stmt zast.Stmt) error {
	macroName, err := ctx.Resolve(stmt.MacroName, "macro name")
	if err != nil {
		return err
	}

	if stmt.FromClass == "" {
		if rawState, ok := ctx.LookupRawStateMacro(macroName); ok {
			// Bypass emit's modifier pass: ctx still inherits the very
			// mod whose "manipulate" effect produced this binding (it's a
			// plain Derive child, not isolated from the enclosing applied-
			// mods chain), so running the clone back through applyMods
			// would re-match the same clause and recurse forever.
			clone := rawState.Clone()
			*dst = append(*dst, clone)
			ctx.AddStates(clone.NumStates())
			return nil
		}
	}

	sourceCtx := ctx
	if stmt.FromClass != "" {
		otherActor, ok := lw.Table.Lookup(stmt.FromClass)
		if !ok {
			return describef(ctx, "inject: unknown class %q", stmt.FromClass)
		}
		otherCtx, ok := lw.Contexts[otherActor]
		if !ok {
			return describef(ctx, "inject: class %q has no parsed body yet", stmt.FromClass)
		}
		sourceCtx = otherCtx
	}

	macroVal, ok := sourceCtx.LookupMacro(macroName)
	if !ok {
		return describef(ctx, "inject: unknown macro %q", macroName)
	}
	macro, ok := macroVal.(*zast.MacroDecl)
	if !ok {
		return describef(ctx, "inject: %q does not name a macro", macroName)
	}
	if len(macro.Params) != len(stmt.Args) {
		return describef(ctx, "inject: macro %q expects %d args, got %d", macroName, len(macro.Params), len(stmt.Args))
	}

	injCtx := ctx.DeriveReturn("inject " + macroName)
	for i, param := range macro.Params {
		argText, err := lowexpr.Render(stmt.Args[i], ctx)
		if err != nil {
			return err
		}
		injCtx.SetReplacement(param, argText)
	}
	for _, bstmt := range macro.Body {
		if err := lw.LowerStatement(a, injCtx, labelName, dst, bstmt); err != nil {
			return err
		}
	}
	return nil
}

// ---- return / break / continue -----------------------------------------

func (lw *Lowerer) lowerSkip(a *actor.Actor, ctx *pctx.Context, labelName string, dst *[]ir.State, target *pctx.Context, errIfNil string) error {
	if target == nil {
		return describef(ctx, "%s", errIfNil)
	}
	captured := target.RemoteNumStates()
	return lw.emit(a, ctx, labelName, dst, &ir.Skip{Target: target, Captured: captured})
}

// ---- modifier compilation ------------------------------------------------

func (lw *Lowerer) buildMod(a *actor.Actor, ctx *pctx.Context, decl zast.ModDecl) (*modifier.Mod, error) {
	mod := &modifier.Mod{Name: decl.Name}
	for _, c := range decl.Clauses {
		sel, err := buildSelector(c.Selector)
		if err != nil {
			return nil, err
		}
		effects := make([]modifier.Effect, 0, len(c.Effects))
		for _, e := range c.Effects {
			eff, err := lw.buildEffect(a, ctx, e)
			if err != nil {
				return nil, err
			}
			effects = append(effects, eff)
		}
		mod.Clauses = append(mod.Clauses, modifier.Clause{Selector: sel, Effects: effects})
	}
	return mod, nil
}

func buildSelector(s zast.SelectorExpr) (modifier.Selector, error) {
	switch s.Kind {
	case "flag":
		return modifier.Flag(s.Name), nil
	case "sprite":
		return modifier.Sprite(s.Name), nil
	case "duration":
		return modifier.Duration(s.N), nil
	case "any":
		return modifier.Any(), nil
	case "not":
		inner, err := buildSelector(s.Args[0])
		if err != nil {
			return nil, err
		}
		return modifier.Not(inner), nil
	case "and", "or", "xor":
		lhs, err := buildSelector(s.Args[0])
		if err != nil {
			return nil, err
		}
		rhs, err := buildSelector(s.Args[1])
		if err != nil {
			return nil, err
		}
		switch s.Kind {
		case "and":
			return modifier.And(lhs, rhs), nil
		case "or":
			return modifier.Or(lhs, rhs), nil
		default:
			return modifier.Xor(lhs, rhs), nil
		}
	default:
		return nil, cerr.New("modifier: unknown selector kind %q", s.Kind)
	}
}

func (lw *Lowerer) buildEffect(a *actor.Actor, ctx *pctx.Context, e zast.EffectExpr) (modifier.Effect, error) {
	switch e.Kind {
	case "+flag":
		return modifier.AddFlag(e.Name), nil
	case "-flag":
		return modifier.RemoveFlag(e.Name), nil
	case "prefix":
		body, err := lw.LowerBody(a, ctx, "", e.Body)
		if err != nil {
			return nil, err
		}
		return modifier.Prefix(body), nil
	case "suffix":
		body, err := lw.LowerBody(a, ctx, "", e.Body)
		if err != nil {
			return nil, err
		}
		return modifier.Suffix(body), nil
	case "manipulate":
		return modifier.Manipulate(e.Name, e.Body), nil
	default:
		return nil, cerr.New("modifier: unknown effect kind %q", e.Kind)
	}
}
