package zast_test

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"zdcode-core/internal/zast"
)

func TestProgramDecodesFromJSON(t *testing.T) {
	doc := `{
		"classes": [{
			"name": "A",
			"labels": [{
				"name": "Spawn",
				"body": [
					{"tag": "frames", "sprite": {"kind": "string", "text": "\"TNT1\""},
					 "frame_letters": "A", "duration": {"kind": "number", "text": "5"}},
					{"tag": "flow", "flow_kind": "stop"}
				]
			}]
		}]
	}`

	var prog zast.Program
	require.NoError(t, json.Unmarshal([]byte(doc), &prog))
	require.Len(t, prog.Classes, 1)
	require.Len(t, prog.Classes[0].Labels, 1)
	require.Len(t, prog.Classes[0].Labels[0].Body, 2)
	require.Equal(t, "frames", prog.Classes[0].Labels[0].Body[0].Tag)
	require.Equal(t, "stop", prog.Classes[0].Labels[0].Body[1].FlowKind)
}

func TestProgramRoundTripsThroughJSON(t *testing.T) {
	orig := zast.Program{
		Classes: []zast.ClassDecl{{
			Name:      "A",
			EditorNum: intPtr(5000),
			Labels: []zast.LabelDecl{{
				Name: "Spawn",
				Body: []zast.Stmt{
					{Tag: "frames", Sprite: &zast.Expr{Kind: "string", Text: `"TNT1"`}, FrameLetters: "A", Duration: &zast.Expr{Kind: "number", Text: "5"}},
					{Tag: "flow", FlowKind: "stop"},
				},
			}},
		}},
		Inventory: []string{"Health"},
	}

	data, err := json.Marshal(orig)
	require.NoError(t, err)

	var roundTripped zast.Program
	require.NoError(t, json.Unmarshal(data, &roundTripped))

	if diff := cmp.Diff(orig, roundTripped); diff != "" {
		t.Errorf("Program didn't round-trip through JSON:\n%s", diff)
	}
}

func intPtr(n int) *int { return &n }
