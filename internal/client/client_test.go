package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/graphshard/internal/api"
	"github.com/dreamware/graphshard/internal/graph"
	"github.com/dreamware/graphshard/internal/node"
	"github.com/dreamware/graphshard/internal/shard"
)

func newClient(t *testing.T) *Client {
	t.Helper()
	n, err := node.Open(node.Options{ID: "client-test", DataDir: t.TempDir(), Shards: 2, Shard: shard.Options{NoSync: true}})
	require.NoError(t, err)

	srv := httptest.NewServer(api.NewServer(n, zerolog.Nop()))
	t.Cleanup(func() {
		srv.Close()
		n.Close()
	})
	return New(srv.URL+"/", srv.Client())
}

func TestRoundTrip(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	require.NoError(t, c.Health(ctx))

	frag := graph.NewFragment(graph.NewNodeID("people", "a b/c")).
		Add(graph.NewKey(100, "name"), graph.StringValue("Austin Harris")).
		Add(graph.NewKey(100, "score"), graph.Value{Data: graph.FloatData(9.5)})

	resp, err := c.PutFragments(ctx, "people", []*graph.Fragment{frag})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Written)

	got, err := c.Get(ctx, frag.NodeID())
	require.NoError(t, err)
	assert.Equal(t, frag, got)

	ids, err := c.IDs(ctx, "people")
	require.NoError(t, err)
	assert.Equal(t, []string{"a b/c"}, ids)

	info, err := c.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, "client-test", info.NodeID)
	assert.Equal(t, 2, info.Count)
}

func TestGetNotFound(t *testing.T) {
	c := newClient(t)
	_, err := c.Get(context.Background(), graph.NewNodeID("", "missing"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPutBadRequest(t *testing.T) {
	c := newClient(t)
	_, err := c.Put(context.Background(), "people", []api.Document{{ID: ""}})

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadRequest, se.Code)
	assert.Contains(t, se.Message, "empty node id")
}

func TestStatusErrorMessage(t *testing.T) {
	assert.Equal(t, "http http://x/health: 503", (&StatusError{URL: "http://x/health", Code: 503}).Error())
	assert.Equal(t, "http http://x: 500: boom", (&StatusError{URL: "http://x", Code: 500, Message: "boom"}).Error())
}

func TestContextCancelled(t *testing.T) {
	blocked := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-blocked
	}))
	defer srv.Close()
	defer close(blocked)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := New(srv.URL, nil).Health(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
