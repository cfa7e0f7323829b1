package projection

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchFields(t *testing.T) {
	tests := []struct {
		name  string
		patch string
		want  map[string]fieldChange
	}{
		{
			name:  "replace watched field",
			patch: `[{"op":"replace","path":"/manager_id","value":"m2"}]`,
			want:  map[string]fieldChange{"manager_id": {Touched: true, Value: "m2"}},
		},
		{
			name:  "remove watched field",
			patch: `[{"op":"remove","path":"/manager_id"}]`,
			want:  map[string]fieldChange{"manager_id": {Touched: true}},
		},
		{
			name:  "unwatched and nested paths ignored",
			patch: `[{"op":"replace","path":"/title","value":"x"},{"op":"add","path":"/manager_id/id","value":"m"}]`,
			want:  map[string]fieldChange{},
		},
		{
			name:  "root replace",
			patch: `[{"op":"replace","path":"","value":{"manager_id":"m3","title":"t"}}]`,
			want:  map[string]fieldChange{"manager_id": {Touched: true, Value: "m3"}},
		},
		{
			name:  "escaped pointer",
			patch: `[{"op":"add","path":"/manager~1id","value":"m"}]`,
			want:  map[string]fieldChange{},
		},
		{
			name: "empty patch",
			want: map[string]fieldChange{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := watchFields(json.RawMessage(tt.patch), "manager_id")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := watchFields(json.RawMessage(`{"op":"x"}`), "manager_id")
	assert.Error(t, err)
}

func TestApplyFieldPatch(t *testing.T) {
	fields := map[string]any{"name": "Acme", "amount": json.Number("10")}
	out, err := applyFieldPatch(fields, json.RawMessage(`[{"op":"replace","path":"/amount","value":12.5},{"op":"remove","path":"/name"},{"op":"add","path":"/stage","value":"won"}]`))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"amount": json.Number("12.5"), "stage": "won"}, out)

	_, err = applyFieldPatch(fields, json.RawMessage(`[{"op":"remove","path":"/missing"}]`))
	assert.Error(t, err)

	same, err := applyFieldPatch(fields, nil)
	require.NoError(t, err)
	assert.Equal(t, fields, same)
}

func TestTopLevel(t *testing.T) {
	name, nested := topLevel("/a~1b/c")
	assert.Equal(t, "a/b", name)
	assert.True(t, nested)

	name, nested = topLevel("/owner_id")
	assert.Equal(t, "owner_id", name)
	assert.False(t, nested)
}
