package ir_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"zdcode-core/internal/ir"
)

// testJumpText mimics a lowered jump-action's offset substitution
// (spec.md §4.5): the action name never matters for shape tests, only
// that the $OFFSET text (a plain integer, or a quoted loop label for
// whilejump's back-edge) reaches the written line.
func testJumpText(offset string) string {
	return fmt.Sprintf("A_JumpIfCheck(%s)", offset)
}

func render(t *testing.T, states ...ir.State) string {
	t.Helper()
	var b strings.Builder
	for _, s := range states {
		require.NoError(t, s.ToText(&b, ""))
	}
	return b.String()
}

func frame(letters string) *ir.Frame {
	return &ir.Frame{Sprite: "PLAY", FrameLetters: letters, Duration: 1}
}

func TestFrameSpawnSafe(t *testing.T) {
	require.True(t, frame("A").SpawnSafe())
	require.False(t, (&ir.Frame{Sprite: `"####"`, FrameLetters: "A"}).SpawnSafe())
	require.False(t, (&ir.Frame{Sprite: "PLAY", FrameLetters: `"#"`}).SpawnSafe())
}

func TestFrameKeywordHelpers(t *testing.T) {
	f := frame("A")
	require.False(t, f.HasKeyword("Bright"))
	withFlag := f.WithKeywordAdded("Bright")
	require.True(t, withFlag.HasKeyword("bright"))
	require.False(t, f.HasKeyword("Bright"), "original must not mutate")

	again := withFlag.WithKeywordAdded("BRIGHT")
	require.Len(t, again.Keywords, 1, "adding a case-insensitive duplicate is a no-op")

	removed := again.WithKeywordRemoved("bright")
	require.False(t, removed.HasKeyword("Bright"))
}

func TestBlockNumStatesAndSpawnSafe(t *testing.T) {
	b := &ir.Block{BodyStates: []ir.State{frame("A"), frame("B")}}
	require.Equal(t, 2, b.NumStates())
	require.True(t, b.SpawnSafe())

	empty := &ir.Block{}
	require.False(t, empty.SpawnSafe())
}

func TestIfNoElseShape(t *testing.T) {
	n := &ir.If{Cond: "cond", NegCond: "!cond", Then: []ir.State{frame("A"), frame("B")}}
	require.Equal(t, ir.NumStatesOf(n.Then)+2, n.NumStates())

	out := render(t, n)
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 4)
	require.Contains(t, lines[0], "A_JumpIf(!cond, 3)")
	require.Equal(t, "TNT1 A 0", lines[3])
}

func TestIfWithElseShape(t *testing.T) {
	n := &ir.If{
		Cond: "cond", NegCond: "!cond",
		Then: []ir.State{frame("A")}, Else: []ir.State{frame("B"), frame("C")}, HasElse: true,
	}
	require.Equal(t, 1+2+3, n.NumStates())

	out := render(t, n)
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 6)
	require.Contains(t, lines[0], "A_JumpIf(cond, 4)")
	require.Contains(t, lines[3], "A_Jump(256, 2)")
	require.Equal(t, "TNT1 A 0", lines[5])
}

func TestIfJumpShapeMatchesCount(t *testing.T) {
	n := &ir.IfJump{JumpText: testJumpText, Then: []ir.State{frame("A"), frame("B")}}
	require.Equal(t, ir.NumStatesOf(n.Then)+3, n.NumStates())

	out := render(t, n)
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, n.NumStates())
}

func TestWhileNoElseShape(t *testing.T) {
	n := &ir.While{Cond: "cond", NegCond: "!cond", Body: []ir.State{frame("A"), frame("B")}, LoopLabel: "loop_1"}
	require.Equal(t, ir.NumStatesOf(n.Body)+3, n.NumStates())

	out := render(t, n)
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, n.NumStates()+1, "labeled line adds one text line beyond NumStates")
	require.Contains(t, lines[0], "A_JumpIf(!cond, 4)")
	require.Equal(t, "loop_1:", lines[1])
	require.Contains(t, lines[len(lines)-2], `A_JumpIf(cond, "loop_1")`)
	require.Equal(t, "TNT1 A 0", lines[len(lines)-1])
}

func TestWhileJumpNoElseRoundTrip(t *testing.T) {
	n := &ir.WhileJump{JumpText: testJumpText, Body: []ir.State{frame("A"), frame("B")}, LoopLabel: "loop_1"}
	require.Equal(t, n.NumStates()+1, countEmittedStates(t, n), "labeled line adds one text line beyond NumStates")

	out := render(t, n)
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Equal(t, "loop_1:", lines[2])
	require.Contains(t, lines[len(lines)-2], `A_JumpIfCheck("loop_1")`)
	require.Equal(t, "TNT1 A 0", lines[len(lines)-1])
}

func TestWhileJumpWithElseRoundTrip(t *testing.T) {
	n := &ir.WhileJump{
		JumpText: testJumpText,
		Body:     []ir.State{frame("A")},
		Else:     []ir.State{frame("B"), frame("C")},
		HasElse:  true,
		LoopLabel: "loop_2",
	}
	require.Equal(t, n.NumStates()+1, countEmittedStates(t, n), "labeled line adds one text line beyond NumStates")

	out := render(t, n)
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	elseLen := ir.NumStatesOf(n.Else)
	labelIdx := 1 + elseLen + 1
	require.Contains(t, lines[0], "A_JumpIfCheck(4)")
	require.Equal(t, "loop_2:", lines[labelIdx])
	require.Contains(t, lines[labelIdx+ir.NumStatesOf(n.Body)+1], `A_JumpIfCheck("loop_2")`)
	require.Equal(t, "TNT1 A 0", lines[len(lines)-1])
}

// countEmittedStates counts lines that represent an actual target state
// (i.e. every line ToText writes — each is one DECORATE state) so the
// declared NumStates() can be checked against what ToText really emits.
func countEmittedStates(t *testing.T, s ir.State) int {
	t.Helper()
	out := render(t, s)
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	return len(lines)
}

func TestSometimesShape(t *testing.T) {
	n := &ir.Sometimes{Chance: "50", Body: []ir.State{frame("A")}}
	require.Equal(t, 3, n.NumStates())
	out := render(t, n)
	require.Equal(t, 3, len(strings.Split(strings.TrimRight(out, "\n"), "\n")))
}

func TestSkipClonePanics(t *testing.T) {
	s := &ir.Skip{Target: fakeCounter(5), Captured: 2}
	require.Panics(t, func() { s.Clone() })
}

func TestSkipOffsetUsesRemoteCounter(t *testing.T) {
	s := &ir.Skip{Target: fakeCounter(10), Captured: 3}
	out := render(t, s)
	require.Contains(t, out, "A_Jump(256, 7)")
}

type fakeCounter int

func (f fakeCounter) RemoteNumStates() int { return int(f) }

func TestCloneAllDeepCopiesKeywords(t *testing.T) {
	orig := []ir.State{frame("A").WithKeywordAdded("Bright")}
	clone := ir.CloneAll(orig)
	if diff := cmp.Diff(orig[0].(*ir.Frame), clone[0].(*ir.Frame)); diff != "" {
		t.Errorf("clone diverged from original before mutation:\n%s", diff)
	}

	clone[0].(*ir.Frame).Keywords[0] = "Mutated"
	require.Equal(t, "Bright", orig[0].(*ir.Frame).Keywords[0])
}
