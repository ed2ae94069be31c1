package modifier_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"zdcode-core/internal/ir"
	"zdcode-core/internal/modifier"
	"zdcode-core/internal/zast"
)

func frame(letters string, keywords ...string) *ir.Frame {
	return &ir.Frame{Sprite: "PLAY", FrameLetters: letters, Duration: 1, Keywords: keywords}
}

func TestFlagSelectorMatchesCaseInsensitively(t *testing.T) {
	sel := modifier.Flag("Bright")
	require.True(t, sel.Match(frame("A", "BRIGHT")))
	require.False(t, sel.Match(frame("A")))
}

func TestCompositeSelectors(t *testing.T) {
	bright := modifier.Flag("Bright")
	fast := modifier.Flag("Fast")

	require.True(t, modifier.And(bright, fast).Match(frame("A", "Bright", "Fast")))
	require.False(t, modifier.And(bright, fast).Match(frame("A", "Bright")))
	require.True(t, modifier.Or(bright, fast).Match(frame("A", "Fast")))
	require.True(t, modifier.Xor(bright, fast).Match(frame("A", "Fast")))
	require.False(t, modifier.Xor(bright, fast).Match(frame("A", "Fast", "Bright")))
	require.True(t, modifier.Not(bright).Match(frame("A")))
}

func TestDurationAndSpriteSelectors(t *testing.T) {
	require.True(t, modifier.Duration(5).Match(&ir.Frame{Sprite: "PLAY", Duration: 5}))
	require.False(t, modifier.Duration(5).Match(&ir.Frame{Sprite: "PLAY", Duration: 6}))
	require.True(t, modifier.Sprite("play").Match(&ir.Frame{Sprite: `"PLAY"`}))
}

func TestAddFlagEffectClonesAndAppends(t *testing.T) {
	original := frame("A")
	mod := &modifier.Mod{Clauses: []modifier.Clause{{
		Selector: modifier.Any(),
		Effects:  []modifier.Effect{modifier.AddFlag("Bright")},
	}}}

	out, err := modifier.Apply(mod, []ir.State{original}, modifier.ApplyContext{})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.True(t, out[0].(*ir.Frame).HasKeyword("Bright"))
	require.False(t, original.HasKeyword("Bright"), "original must not mutate")
}

func TestPrefixExpandsOneStateIntoPadThenOriginal(t *testing.T) {
	pad := frame("B")
	original := frame("A")

	prefixMod := &modifier.Mod{Clauses: []modifier.Clause{{
		Selector: modifier.Sprite("PLAY"),
		Effects:  []modifier.Effect{modifier.Prefix([]ir.State{pad})},
	}}}
	out, err := modifier.Apply(prefixMod, []ir.State{original}, modifier.ApplyContext{})
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, "B", out[0].(*ir.Frame).FrameLetters)
	require.Equal(t, "A", out[1].(*ir.Frame).FrameLetters)
	require.NotSame(t, pad, out[0], "prefix body must be cloned, not aliased")
}

func TestSuffixExpandsOriginalThenBody(t *testing.T) {
	pad := frame("B")
	original := frame("A")

	suffixMod := &modifier.Mod{Clauses: []modifier.Clause{{
		Selector: modifier.Sprite("PLAY"),
		Effects:  []modifier.Effect{modifier.Suffix([]ir.State{pad})},
	}}}
	out, err := modifier.Apply(suffixMod, []ir.State{original}, modifier.ApplyContext{})
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, "A", out[0].(*ir.Frame).FrameLetters)
	require.Equal(t, "B", out[1].(*ir.Frame).FrameLetters)
}

func TestNonMatchingClauseRecursesIntoContainers(t *testing.T) {
	inner := frame("A")
	block := &ir.Block{BodyStates: []ir.State{inner}}

	mod := &modifier.Mod{Clauses: []modifier.Clause{{
		Selector: modifier.Sprite("PLAY"),
		Effects:  []modifier.Effect{modifier.AddFlag("Bright")},
	}}}

	out, err := modifier.Apply(mod, []ir.State{block}, modifier.ApplyContext{})
	require.NoError(t, err)
	require.Len(t, out, 1)
	gotBlock := out[0].(*ir.Block)
	require.True(t, gotBlock.BodyStates[0].(*ir.Frame).HasKeyword("Bright"))
}

func TestManipulateEffectRequiresHook(t *testing.T) {
	mod := &modifier.Mod{Clauses: []modifier.Clause{{
		Selector: modifier.Any(),
		Effects:  []modifier.Effect{modifier.Manipulate("M", []zast.Stmt{})},
	}}}
	_, err := modifier.Apply(mod, []ir.State{frame("A")}, modifier.ApplyContext{})
	require.Error(t, err)
}

func TestManipulateEffectUsesSuppliedHook(t *testing.T) {
	replacement := frame("Z")
	mod := &modifier.Mod{Clauses: []modifier.Clause{{
		Selector: modifier.Any(),
		Effects:  []modifier.Effect{modifier.Manipulate("M", []zast.Stmt{})},
	}}}
	actx := modifier.ApplyContext{Manipulate: func(original ir.State, macroName string, body []zast.Stmt) ([]ir.State, error) {
		require.Equal(t, "M", macroName)
		return []ir.State{replacement}, nil
	}}
	out, err := modifier.Apply(mod, []ir.State{frame("A")}, actx)
	require.NoError(t, err)
	require.Same(t, replacement, out[0])
}
