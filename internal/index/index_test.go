package index

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/graphshard/internal/graph"
	"github.com/dreamware/graphshard/internal/placement"
	"github.com/dreamware/graphshard/internal/storage"
)

func TestKeyRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		id      graph.NodeID
		wantErr bool
	}{
		{"plain", graph.NodeID{Graph: "default", ID: "1"}, false},
		{"empty graph", graph.NodeID{ID: "1"}, false},
		{"id with separator bytes", graph.NodeID{Graph: "g", ID: "a\x00b"}, false},
		{"empty id", graph.NodeID{Graph: "g"}, true},
		{"graph with NUL", graph.NodeID{Graph: "g\x00", ID: "1"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := Key(tt.id)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidKey)
				return
			}
			require.NoError(t, err)
			got, err := ParseKey(key)
			require.NoError(t, err)
			assert.Equal(t, tt.id, got)
		})
	}
}

func TestKeysSortByGraphThenID(t *testing.T) {
	a, _ := Key(graph.NodeID{Graph: "a", ID: "z"})
	ab, _ := Key(graph.NodeID{Graph: "ab", ID: "a"})
	assert.Less(t, a, ab)
}

func TestInsertLookup(t *testing.T) {
	idx := New(storage.NewMemoryStore())
	defer idx.Close()

	id := graph.NewNodeID("default", "1")
	_, err := idx.Lookup(id)
	assert.ErrorIs(t, err, ErrNotFound)

	first := placement.Record{Partition: 1, Offset: 0, Length: 10, FileID: 0}
	require.NoError(t, idx.Insert(id, first))
	got, err := idx.Lookup(id)
	require.NoError(t, err)
	assert.Equal(t, first, got)

	// upsert: last write wins
	second := placement.Record{Partition: 1, Offset: 10, Length: 12, FileID: 0}
	require.NoError(t, idx.Insert(id, second))
	got, err = idx.Lookup(id)
	require.NoError(t, err)
	assert.Equal(t, second, got)
	ids, err := idx.IDs("")
	require.NoError(t, err)
	assert.Len(t, ids, 1)
}

func TestApplyBatch(t *testing.T) {
	idx := New(storage.NewMemoryStore())
	defer idx.Close()

	entries := []Entry{
		{ID: graph.NewNodeID("g", "1"), Record: placement.Record{Offset: 0, Length: 5}},
		{ID: graph.NewNodeID("g", "2"), Record: placement.Record{Offset: 5, Length: 5}},
		{ID: graph.NewNodeID("h", "1"), Record: placement.Record{Offset: 10, Length: 5}},
		{ID: graph.NewNodeID("g", "1"), Record: placement.Record{Offset: 15, Length: 7}},
	}
	require.NoError(t, idx.Apply(entries))
	require.NoError(t, idx.Apply(nil))

	got, err := idx.Lookup(graph.NewNodeID("g", "1"))
	require.NoError(t, err)
	assert.Equal(t, uint64(15), got.Offset)

	got, err = idx.Lookup(graph.NewNodeID("g", "2"))
	require.NoError(t, err)
	assert.Equal(t, uint64(5), got.Offset)

	ids, err := idx.IDs("g")
	require.NoError(t, err)
	assert.Equal(t, []graph.NodeID{{Graph: "g", ID: "1"}, {Graph: "g", ID: "2"}}, ids)

	all, err := idx.IDs("")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestApplyRejectsInvalidKeyWithoutWriting(t *testing.T) {
	idx := New(storage.NewMemoryStore())
	defer idx.Close()

	err := idx.Apply([]Entry{
		{ID: graph.NewNodeID("g", "1")},
		{ID: graph.NodeID{Graph: "g"}},
	})
	assert.ErrorIs(t, err, ErrInvalidKey)
	ids, err := idx.IDs("")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestLevelIndexSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index")
	rec := placement.Record{Partition: 2, Offset: 64, Length: 99, FileID: 3}

	idx, err := Open(path, storage.LevelOptions{Sync: true})
	require.NoError(t, err)
	require.NoError(t, idx.Insert(graph.NewNodeID("default", "42"), rec))
	require.NoError(t, idx.Close())

	idx, err = Open(path, storage.LevelOptions{})
	require.NoError(t, err)
	defer idx.Close()

	got, err := idx.Lookup(graph.NewNodeID("default", "42"))
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}
