package graph

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeIDCompare(t *testing.T) {
	tests := []struct {
		name string
		a, b NodeID
		want int
	}{
		{"equal", NodeID{"g", "1"}, NodeID{"g", "1"}, 0},
		{"graph orders first", NodeID{"a", "9"}, NodeID{"b", "1"}, -1},
		{"id is ordinal", NodeID{"g", "10"}, NodeID{"g", "9"}, -1},
		{"greater", NodeID{"g", "2"}, NodeID{"g", "1"}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Compare(tt.b))
		})
	}
}

func TestNodeIDHashSeparatesParts(t *testing.T) {
	a := NodeID{Graph: "ab", ID: "c"}
	b := NodeID{Graph: "a", ID: "bc"}
	assert.NotEqual(t, a.Hash(), b.Hash())
	assert.Equal(t, a.Hash(), NodeID{Graph: "ab", ID: "c"}.Hash())
}

func TestNewNodeIDDefaultsGraph(t *testing.T) {
	id := NewNodeID("", "42")
	assert.Equal(t, DefaultGraph, id.Graph)
	assert.Equal(t, "default/42", id.String())
}

func TestFragmentValidate(t *testing.T) {
	tests := []struct {
		name    string
		frag    *Fragment
		wantErr bool
	}{
		{"nil", nil, true},
		{"empty id", NewFragment(NodeID{Graph: "g"}), true},
		{"nul in graph", NewFragment(NewNodeID("a\x00b", "1")), true},
		{"no attributes", NewFragment(NewNodeID("g", "1")), false},
		{"paired", NewFragment(NewNodeID("g", "1")).Add(NewKey(1, "name"), StringValue("x")), false},
		{"mismatched", &Fragment{ID: AddressBlock{NewNodeID("g", "1")}, Keys: []Key{{Name: "a"}}}, true},
		{"nil data", &Fragment{ID: AddressBlock{NewNodeID("g", "1")}, Keys: []Key{{Name: "a"}}, Values: []Value{{}}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.frag.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidFragment)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFragmentGetPrefersNewestTimestamp(t *testing.T) {
	f := NewFragment(NewNodeID("g", "1")).
		Add(NewKey(5, "uses"), StringValue("Windows")).
		Add(NewKey(9, "uses"), StringValue("Linux")).
		Add(NewKey(7, "uses"), StringValue("BSD"))

	v, ok := f.Get("uses")
	require.True(t, ok)
	assert.Equal(t, StringValue("Linux"), v)

	_, ok = f.Get("eats")
	assert.False(t, ok)
}

func TestValueEqual(t *testing.T) {
	assert.True(t, Value{BytesData{1, 2}}.Equal(Value{BytesData{1, 2}}))
	assert.False(t, Value{BytesData{1, 2}}.Equal(Value{BytesData{1}}))
	assert.False(t, StringValue("1").Equal(Value{IntData(1)}))
	assert.False(t, Value{IntData(1)}.Equal(Value{BytesData{1}}))
	assert.True(t, Value{RefData{"g", "1"}}.Equal(Value{RefData{"g", "1"}}))
}

func TestFragmentJSON(t *testing.T) {
	f := NewFragment(NewNodeID("people", "1")).
		Add(NewKey(1, "name"), StringValue("Austin Harris")).
		Add(NewKey(1, "age"), Value{IntData(33)}).
		Add(NewKey(1, "score"), Value{FloatData(1.5)}).
		Add(NewKey(1, "admin"), Value{BoolData(true)}).
		Add(NewKey(1, "avatar"), Value{BytesData{0xca, 0xfe}}).
		Add(NewKey(1, "knows"), Value{RefData{Graph: "people", ID: "2"}})

	b, err := json.Marshal(f)
	require.NoError(t, err)
	assert.Contains(t, string(b), `{"string":"Austin Harris"}`)
	assert.Contains(t, string(b), `{"ref":{"graph":"people","id":"2"}}`)

	var got Fragment
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, f.NodeID(), got.NodeID())
	assert.Equal(t, f.Keys, got.Keys)
	require.Len(t, got.Values, len(f.Values))
	for i := range f.Values {
		assert.True(t, f.Values[i].Equal(got.Values[i]), "value %d", i)
	}
}

func TestValueUnmarshalRejectsUnknownKind(t *testing.T) {
	var v Value
	assert.Error(t, json.Unmarshal([]byte(`{"matrix":[1]}`), &v))
	assert.Error(t, json.Unmarshal([]byte(`{"string":"a","int":1}`), &v))
}
