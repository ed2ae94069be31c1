package pctx_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"zdcode-core/internal/actor"
	"zdcode-core/internal/pctx"
)

func newRoot() *pctx.Context {
	return pctx.NewRoot(actor.NewTable(), "program")
}

func TestResolvePeelsLeadingSigils(t *testing.T) {
	root := newRoot()
	root.SetReplacement("inner", "\"PLAY\"")
	// "outer" chains to "@inner": one peel substitutes "outer" -> "@inner",
	// which still starts with '@' so a second peel substitutes "inner".
	root.SetReplacement("outer", "@inner")

	got, err := root.Resolve("@outer", "sprite")
	require.NoError(t, err)
	require.Equal(t, "\"PLAY\"", got)
}

func TestResolveErrorsOnUnboundSigil(t *testing.T) {
	root := newRoot()
	_, err := root.Resolve("@missing", "sprite")
	require.Error(t, err)
	require.Contains(t, err.Error(), "@missing")
}

func TestResolveWithoutSigilPassesThrough(t *testing.T) {
	root := newRoot()
	got, err := root.Resolve("PLAY", "sprite")
	require.NoError(t, err)
	require.Equal(t, "PLAY", got)
}

func TestDeriveLayersOverParentWithoutShadowingSiblings(t *testing.T) {
	root := newRoot()
	root.SetReplacement("x", "1")
	child := root.Derive("block", pctx.AnchorInherit, pctx.AnchorInherit)
	child.SetReplacement("y", "2")

	got, err := child.Resolve("@x", "var")
	require.NoError(t, err)
	require.Equal(t, "1", got)

	_, err = root.Resolve("@y", "var")
	require.Error(t, err, "parent must not see child's own layer")
}

func TestBreakLoopAnchorSelfVsInherit(t *testing.T) {
	root := newRoot()
	loopOuter := root.Derive("while", pctx.AnchorSelf, pctx.AnchorSelf)
	body := loopOuter.Derive("while-body", pctx.AnchorInherit, pctx.AnchorInherit)
	require.Same(t, loopOuter, body.BreakCtx())
	require.Same(t, loopOuter, body.LoopCtx())

	repeatBreak := body.Derive("repeat", pctx.AnchorSelf, pctx.AnchorInherit)
	require.Same(t, repeatBreak, repeatBreak.BreakCtx())
	require.Same(t, loopOuter, repeatBreak.LoopCtx(), "repeat only takes its own break anchor, continue still targets the enclosing loop")
}

func TestNumStatesSumsLocalChildrenRecursively(t *testing.T) {
	root := newRoot()
	root.AddStates(2)
	child := root.Derive("if-then", pctx.AnchorInherit, pctx.AnchorInherit)
	child.AddStates(3)
	grandchild := child.Derive("nested", pctx.AnchorInherit, pctx.AnchorInherit)
	grandchild.AddStates(4)

	require.Equal(t, 9, root.NumStates())
}

func TestRemoteNumStatesAddsOffsetAndRecursesRemoteChildren(t *testing.T) {
	root := newRoot()
	root.AddStates(1)

	breakCtx := root.RemoteDerive("while-break", 4, pctx.AnchorSelf, pctx.AnchorInherit)
	loopBody := breakCtx // the break context itself accrues the loop body's states via its own Derive in real use
	local := loopBody.Derive("body", pctx.AnchorInherit, pctx.AnchorSelf)
	local.AddStates(5)

	// remote_num_states(breakCtx) = remoteOffset(4) + local num_states (body's 5) = 9
	require.Equal(t, 9, breakCtx.RemoteNumStates())

	nestedRemote := breakCtx.RemoteDerive("nested-remote", 2, pctx.AnchorInherit, pctx.AnchorInherit)
	nestedRemote.AddStates(1)
	// now breakCtx's remote total also folds in nestedRemote's own remote total (2+1=3)
	require.Equal(t, 9+3, breakCtx.RemoteNumStates())

	// root's own num_states is unaffected by remote children (they don't count locally).
	require.Equal(t, 1, root.NumStates())
}

func TestUpdateSharesMacrosWithoutShadowingLocals(t *testing.T) {
	root := newRoot()
	other := newRoot()
	other.SetMacro("Helper", "helper-body")

	root.SetMacro("Helper", "local-body")
	root.Update(other)

	got, ok := root.LookupMacro("Helper")
	require.True(t, ok)
	require.Equal(t, "local-body", got, "own binding must win over an imported one")

	root2 := newRoot()
	root2.Update(other)
	got2, ok := root2.LookupMacro("helper")
	require.True(t, ok)
	require.Equal(t, "helper-body", got2)
}

func TestAppliedModsOrdersAlwaysThenLocalRootToLeaf(t *testing.T) {
	root := newRoot()
	root.ApplyMod("RootMod")
	child := root.Derive("apply-block", pctx.AnchorInherit, pctx.AnchorInherit)
	child.ApplyMod("ChildMod")

	got := child.AppliedMods([]string{"AlwaysMod"})
	require.Equal(t, []string{"AlwaysMod", "RootMod", "ChildMod"}, got)
}

func TestDescribeJoinsRootToLeaf(t *testing.T) {
	root := newRoot()
	child := root.Derive("Spawn label", pctx.AnchorInherit, pctx.AnchorInherit)
	grandchild := child.Derive("if block", pctx.AnchorInherit, pctx.AnchorInherit)
	require.Equal(t, "program at Spawn label at if block", grandchild.Describe())
}
