package node

import (
	"context"
	"strconv"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/graphshard/internal/graph"
	"github.com/dreamware/graphshard/internal/shard"
)

func person(g, id string) *graph.Fragment {
	return graph.NewFragment(graph.NewNodeID(g, id)).
		Add(graph.NewKey(1, "name"), graph.StringValue("Austin Harris")).
		Add(graph.NewKey(1, "uses"), graph.StringValue("Linux")).
		Add(graph.NewKey(1, "eats"), graph.StringValue("Pizza"))
}

func openNode(t *testing.T, shards int) (*Node, string) {
	t.Helper()
	dir := t.TempDir()
	n, err := Open(Options{ID: "node-1", DataDir: dir, Shards: shards, Shard: shard.Options{NoSync: true}})
	require.NoError(t, err)
	t.Cleanup(func() { n.Close() })
	return n, dir
}

func TestOpenRequiresShards(t *testing.T) {
	_, err := Open(Options{DataDir: t.TempDir()})
	assert.ErrorIs(t, err, ErrNoShards)
}

func TestIngestRoutesEveryFragmentToItsOwner(t *testing.T) {
	n, _ := openNode(t, 3)
	ctx := context.Background()

	frags := make([]*graph.Fragment, 0, 300)
	for i := 0; i < 300; i++ {
		frags = append(frags, person("default", strconv.Itoa(i)))
	}
	require.NoError(t, n.Write(ctx, frags))

	total := 0
	for i := 0; i < n.NumShards(); i++ {
		ids, err := n.Shard(i).IDs(ctx, "")
		require.NoError(t, err)
		for _, id := range ids {
			assert.Equal(t, i, shard.Owner(id, n.NumShards()), "id %s on wrong shard", id)
		}
		total += len(ids)
	}
	assert.Equal(t, 300, total)

	for _, i := range []int{0, 150, 299} {
		got, err := n.Read(ctx, graph.NewNodeID("default", strconv.Itoa(i)))
		require.NoError(t, err)
		assert.Equal(t, strconv.Itoa(i), got.NodeID().ID)
	}
}

func TestReadMissing(t *testing.T) {
	n, _ := openNode(t, 2)
	_, err := n.Read(context.Background(), graph.NewNodeID("default", "ghost"))
	assert.ErrorIs(t, err, shard.ErrNotFound)
}

func TestIDsAreSortedAcrossShards(t *testing.T) {
	n, _ := openNode(t, 4)
	ctx := context.Background()

	require.NoError(t, n.Write(ctx, []*graph.Fragment{
		person("people", "b"),
		person("animals", "z"),
		person("people", "a"),
		person("animals", "c"),
	}))

	ids, err := n.IDs(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []graph.NodeID{
		graph.NewNodeID("animals", "c"),
		graph.NewNodeID("animals", "z"),
		graph.NewNodeID("people", "a"),
		graph.NewNodeID("people", "b"),
	}, ids)

	people, err := n.IDs(ctx, "people")
	require.NoError(t, err)
	assert.Len(t, people, 2)
}

func TestIngestNilFragmentStopsRouting(t *testing.T) {
	n, _ := openNode(t, 2)
	ctx := context.Background()

	err := n.Write(ctx, []*graph.Fragment{person("default", "1"), nil, person("default", "2")})
	assert.ErrorIs(t, err, shard.ErrEncode)

	_, err = n.Read(ctx, graph.NewNodeID("default", "1"))
	assert.NoError(t, err)
	_, err = n.Read(ctx, graph.NewNodeID("default", "2"))
	assert.ErrorIs(t, err, shard.ErrNotFound)
}

func TestIngestCancelled(t *testing.T) {
	n, _ := openNode(t, 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := n.Ingest(ctx, make(chan *graph.Fragment))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestInfo(t *testing.T) {
	n, _ := openNode(t, 3)
	require.NoError(t, n.Write(context.Background(), []*graph.Fragment{person("default", "1")}))

	info := n.Info()
	assert.Equal(t, "node-1", info.NodeID)
	assert.Equal(t, 3, info.Count)
	for i, s := range info.Shards {
		assert.Equal(t, i, s.ID)
	}

	var fragments uint64
	for _, s := range info.Shards {
		fragments += s.Ops.Fragments
	}
	assert.Equal(t, uint64(1), fragments)
}

func TestReopenKeepsRouting(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	opts := Options{ID: "n", DataDir: dir, Shards: 2}

	n, err := Open(opts)
	require.NoError(t, err)
	require.NoError(t, n.Write(ctx, []*graph.Fragment{person("default", "a"), person("default", "b")}))
	require.NoError(t, n.Close())

	n, err = Open(opts)
	require.NoError(t, err)
	defer n.Close()

	for _, id := range []string{"a", "b"} {
		_, err := n.Read(ctx, graph.NewNodeID("default", id))
		assert.NoError(t, err)
	}
}

func TestClose(t *testing.T) {
	n, _ := openNode(t, 2)
	require.NoError(t, n.Close())
	require.NoError(t, n.Close())

	assert.ErrorIs(t, n.Ingest(context.Background(), make(chan *graph.Fragment)), ErrClosed)
	_, err := n.Read(context.Background(), graph.NewNodeID("default", "1"))
	assert.ErrorIs(t, err, shard.ErrChannelClosed)
}

func TestNewOverExistingWorkers(t *testing.T) {
	w0, err := shard.NewMemory(0, t.TempDir(), shard.Options{})
	require.NoError(t, err)
	w1, err := shard.NewMemory(1, t.TempDir(), shard.Options{})
	require.NoError(t, err)

	n := New("mem", zerolog.Nop(), w0, w1)
	defer n.Close()

	require.NoError(t, n.Write(context.Background(), []*graph.Fragment{person("default", "x")}))
	assert.Same(t, n.Route(graph.NewNodeID("default", "x")), n.Shard(shard.Owner(graph.NewNodeID("default", "x"), 2)))
	assert.Nil(t, n.Shard(2))
	assert.Nil(t, n.Shard(-1))
}
