package lower_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"zdcode-core/internal/actor"
	"zdcode-core/internal/ir"
	"zdcode-core/internal/lower"
	"zdcode-core/internal/pctx"
	"zdcode-core/internal/zast"
)

func newLowerer() (*lower.Lowerer, *pctx.Context) {
	table := actor.NewTable()
	groups := actor.NewGroupTable()
	lw := lower.New(table, groups)
	root := pctx.NewRoot(table, "test")
	return lw, root
}

func numExpr(n string) *zast.Expr { return &zast.Expr{Kind: "number", Text: n} }
func identExpr(n string) *zast.Expr { return &zast.Expr{Kind: "ident", Text: n} }

func frameStmt(letters string, duration string) zast.Stmt {
	return zast.Stmt{
		Tag:          "frames",
		Sprite:       &zast.Expr{Kind: "string", Text: "PLAY"},
		FrameLetters: letters,
		Duration:     numExpr(duration),
	}
}

func TestLowerFramesOneStatePerLetter(t *testing.T) {
	lw, ctx := newLowerer()
	a := &actor.Actor{Name: "Test"}

	err := lw.LowerLabel(a, ctx, zast.LabelDecl{Name: "Spawn", Body: []zast.Stmt{frameStmt("ABC", "2")}})
	require.NoError(t, err)

	label, ok := a.LabelByName("Spawn")
	require.True(t, ok)
	require.Equal(t, 3, label.NumStates())
	for i, letter := range []string{"A", "B", "C"} {
		f := label.States[i].(*ir.Frame)
		require.Equal(t, letter, f.FrameLetters)
		require.Equal(t, 2, f.Duration)
		require.Equal(t, `"PLAY"`, f.Sprite)
	}
}

func TestLowerFlowStopIsUncounted(t *testing.T) {
	lw, ctx := newLowerer()
	a := &actor.Actor{Name: "Test"}

	err := lw.LowerLabel(a, ctx, zast.LabelDecl{Name: "Spawn", Body: []zast.Stmt{
		frameStmt("A", "1"),
		{Tag: "flow", FlowKind: "stop"},
	}})
	require.NoError(t, err)

	label, _ := a.LabelByName("Spawn")
	require.Equal(t, 1, label.NumStates(), "stop contributes zero to the jump-offset count")
	require.Len(t, label.States, 2)
	require.Equal(t, "stop", label.States[1].(*ir.Verbatim).Text)
}

func TestLowerIfNoElseStateCount(t *testing.T) {
	lw, ctx := newLowerer()
	a := &actor.Actor{Name: "Test"}

	stmt := zast.Stmt{
		Tag:  "if",
		Cond: identExpr("@x"),
		Then: []zast.Stmt{frameStmt("A", "1"), frameStmt("B", "1")},
	}
	ctx.SetReplacement("x", "1")
	err := lw.LowerLabel(a, ctx, zast.LabelDecl{Name: "Spawn", Body: []zast.Stmt{stmt}})
	require.NoError(t, err)

	label, _ := a.LabelByName("Spawn")
	require.Len(t, label.States, 1)
	ifNode := label.States[0].(*ir.If)
	require.Equal(t, 4, ifNode.NumStates(), "two Then frames plus the two pad states")
	require.Equal(t, 4, label.NumStates())
}

func TestLowerIfWithElseOrdersElseBeforeThen(t *testing.T) {
	lw, ctx := newLowerer()
	a := &actor.Actor{Name: "Test"}

	stmt := zast.Stmt{
		Tag:     "if",
		Cond:    identExpr("@x"),
		HasElse: true,
		Then:    []zast.Stmt{frameStmt("T", "1")},
		Else:    []zast.Stmt{frameStmt("E", "1")},
	}
	ctx.SetReplacement("x", "1")
	err := lw.LowerLabel(a, ctx, zast.LabelDecl{Name: "Spawn", Body: []zast.Stmt{stmt}})
	require.NoError(t, err)

	label, _ := a.LabelByName("Spawn")
	ifNode := label.States[0].(*ir.If)
	require.Equal(t, "T", ifNode.Then[0].(*ir.Frame).FrameLetters)
	require.Equal(t, "E", ifNode.Else[0].(*ir.Frame).FrameLetters)
	require.Equal(t, 5, label.NumStates(), "then(1)+else(1)+3 pad states")
}

func TestLowerRepeatSubstitutesIndex(t *testing.T) {
	lw, ctx := newLowerer()
	a := &actor.Actor{Name: "Test"}

	stmt := zast.Stmt{
		Tag:   "repeat",
		Count: numExpr("3"),
		Index: "i",
		Body:  []zast.Stmt{frameStmt("#", "1")},
	}
	stmt.Body[0].Duration = identExpr("@i")
	err := lw.LowerLabel(a, ctx, zast.LabelDecl{Name: "Spawn", Body: []zast.Stmt{stmt}})
	require.NoError(t, err)

	label, _ := a.LabelByName("Spawn")
	require.Len(t, label.States, 3)
	for i, s := range label.States {
		require.Equal(t, i, s.(*ir.Frame).Duration)
	}
}

func TestLowerWhileLoopLabelIsUnique(t *testing.T) {
	lw, ctx := newLowerer()
	a := &actor.Actor{Name: "Test"}

	body := []zast.Stmt{frameStmt("A", "1")}
	stmts := []zast.Stmt{
		{Tag: "while", Cond: identExpr("@x"), Body: body},
		{Tag: "while", Cond: identExpr("@x"), Body: body},
	}
	ctx.SetReplacement("x", "1")
	err := lw.LowerLabel(a, ctx, zast.LabelDecl{Name: "Spawn", Body: stmts})
	require.NoError(t, err)

	label, _ := a.LabelByName("Spawn")
	w1 := label.States[0].(*ir.While)
	w2 := label.States[1].(*ir.While)
	require.NotEqual(t, w1.LoopLabel, w2.LoopLabel)
}

func TestLowerBreakOutsideLoopErrors(t *testing.T) {
	lw, ctx := newLowerer()
	a := &actor.Actor{Name: "Test"}

	err := lw.LowerLabel(a, ctx, zast.LabelDecl{Name: "Spawn", Body: []zast.Stmt{{Tag: "break"}}})
	require.Error(t, err)
}

func TestLowerBreakInsideRepeatTargetsRepeatLoop(t *testing.T) {
	lw, ctx := newLowerer()
	a := &actor.Actor{Name: "Test"}

	stmt := zast.Stmt{
		Tag:   "repeat",
		Count: numExpr("1"),
		Body:  []zast.Stmt{frameStmt("A", "1"), {Tag: "break"}},
	}
	err := lw.LowerLabel(a, ctx, zast.LabelDecl{Name: "Spawn", Body: []zast.Stmt{stmt}})
	require.NoError(t, err)

	label, _ := a.LabelByName("Spawn")
	require.Len(t, label.States, 2)
	require.IsType(t, &ir.Skip{}, label.States[1])
}

func TestLowerApplyStatementScopesModToItsBody(t *testing.T) {
	lw, ctx := newLowerer()
	a := &actor.Actor{Name: "Test"}

	modDecl := zast.ModDecl{
		Name: "Loud",
		Clauses: []zast.ModClause{{
			Selector: zast.SelectorExpr{Kind: "any"},
			Effects:  []zast.EffectExpr{{Kind: "+flag", Name: "Bright"}},
		}},
	}
	require.NoError(t, lw.LowerClassBodyStmts(a, ctx, []zast.Stmt{{Tag: "mod", ModDecl: &modDecl}}))

	inside := frameStmt("A", "1")
	outside := frameStmt("B", "1")
	applyStmt := zast.Stmt{Tag: "apply", ModName: "Loud", Body: []zast.Stmt{inside}}
	err := lw.LowerLabel(a, ctx, zast.LabelDecl{Name: "Spawn", Body: []zast.Stmt{applyStmt, outside}})
	require.NoError(t, err)

	label, _ := a.LabelByName("Spawn")
	require.True(t, label.States[0].(*ir.Frame).HasKeyword("Bright"))
	require.False(t, label.States[1].(*ir.Frame).HasKeyword("Bright"))
}

func TestLowerForOverEmptyGroupWithoutElseErrors(t *testing.T) {
	_, ctx := newLowerer()
	a := &actor.Actor{Name: "Test"}
	require.NoError(t, ctx.Actors().Register(a))

	groups := actor.NewGroupTable()
	require.NoError(t, groups.Register(&actor.Group{Name: "Empty"}))
	lw := lower.New(ctx.Actors(), groups)

	stmt := zast.Stmt{Tag: "for", ForMode: "group", ForName: "m", ForGroup: "Empty", Body: []zast.Stmt{frameStmt("A", "1")}}
	err := lw.LowerLabel(a, ctx, zast.LabelDecl{Name: "Spawn", Body: []zast.Stmt{stmt}})
	require.Error(t, err)
}

func TestLowerForOverRangeIsInclusiveWhenMarked(t *testing.T) {
	lw, ctx := newLowerer()
	a := &actor.Actor{Name: "Test"}

	stmt := zast.Stmt{
		Tag: "for", ForMode: "range", ForName: "i",
		RangeFrom: numExpr("1"), RangeTo: numExpr("3"), RangeInclusive: true,
		Body: []zast.Stmt{frameStmt("#", "1")},
	}
	err := lw.LowerLabel(a, ctx, zast.LabelDecl{Name: "Spawn", Body: []zast.Stmt{stmt}})
	require.NoError(t, err)

	label, _ := a.LabelByName("Spawn")
	require.Len(t, label.States, 3)
}

func TestLowerInjectSubstitutesMacroParams(t *testing.T) {
	lw, ctx := newLowerer()
	a := &actor.Actor{Name: "Test"}

	macro := zast.MacroDecl{
		Name:   "Flash",
		Params: []string{"n"},
		Body:   []zast.Stmt{{Tag: "frames", Sprite: &zast.Expr{Kind: "string", Text: "PLAY"}, FrameLetters: "A", Duration: identExpr("@n")}},
	}
	require.NoError(t, lw.LowerClassBodyStmts(a, ctx, []zast.Stmt{{Tag: "macro", MacroDecl: &macro}}))

	injectStmt := zast.Stmt{Tag: "inject", MacroName: "Flash", Args: []zast.Expr{{Kind: "number", Text: "7"}}}
	err := lw.LowerLabel(a, ctx, zast.LabelDecl{Name: "Spawn", Body: []zast.Stmt{injectStmt}})
	require.NoError(t, err)

	label, _ := a.LabelByName("Spawn")
	require.Equal(t, 7, label.States[0].(*ir.Frame).Duration)
}

func TestLowerReturnInsideInjectedMacroIsSkipToMacroEnd(t *testing.T) {
	lw, ctx := newLowerer()
	a := &actor.Actor{Name: "Test"}

	macro := zast.MacroDecl{
		Name: "Early",
		Body: []zast.Stmt{{Tag: "return"}, frameStmt("A", "1")},
	}
	require.NoError(t, lw.LowerClassBodyStmts(a, ctx, []zast.Stmt{{Tag: "macro", MacroDecl: &macro}}))

	err := lw.LowerLabel(a, ctx, zast.LabelDecl{Name: "Spawn", Body: []zast.Stmt{{Tag: "inject", MacroName: "Early"}}})
	require.NoError(t, err)

	label, _ := a.LabelByName("Spawn")
	require.IsType(t, &ir.Skip{}, label.States[0])
}

func TestLowerManipulateBindsMatchedStateAsMacro(t *testing.T) {
	lw, ctx := newLowerer()
	a := &actor.Actor{Name: "Test"}

	modDecl := zast.ModDecl{
		Name: "Echo",
		Clauses: []zast.ModClause{{
			Selector: zast.SelectorExpr{Kind: "any"},
			Effects: []zast.EffectExpr{{
				Kind: "manipulate", Name: "orig",
				Body: []zast.Stmt{{Tag: "inject", MacroName: "orig"}, {Tag: "inject", MacroName: "orig"}},
			}},
		}},
	}
	require.NoError(t, lw.LowerClassBodyStmts(a, ctx, []zast.Stmt{{Tag: "mod", ModDecl: &modDecl}}))

	applyStmt := zast.Stmt{Tag: "apply", ModName: "Echo", Body: []zast.Stmt{frameStmt("A", "1")}}
	err := lw.LowerLabel(a, ctx, zast.LabelDecl{Name: "Spawn", Body: []zast.Stmt{applyStmt}})
	require.NoError(t, err)

	label, _ := a.LabelByName("Spawn")
	require.Len(t, label.States, 2)
	require.Equal(t, "A", label.States[0].(*ir.Frame).FrameLetters)
	require.Equal(t, "A", label.States[1].(*ir.Frame).FrameLetters)
}
