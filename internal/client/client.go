// Package client talks to a node's HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dreamware/graphshard/internal/api"
	"github.com/dreamware/graphshard/internal/graph"
	"github.com/dreamware/graphshard/internal/node"
)

// ErrNotFound is returned by Get for ids the node does not store.
var ErrNotFound = errors.New("client: not found")

// DefaultTimeout bounds a single request of a Client built without one.
const DefaultTimeout = 30 * time.Second

// StatusError is returned for any non-2xx response.
type StatusError struct {
	URL     string
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http %s: %d", e.URL, e.Code)
	}
	return fmt.Sprintf("http %s: %d: %s", e.URL, e.Code, e.Message)
}

// Client is a node API client. The zero value is not usable; use New.
type Client struct {
	http *http.Client
	base string
}

// New returns a client for the node at base, e.g. "http://127.0.0.1:8081".
// A nil hc selects a client with DefaultTimeout.
func New(base string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{http: hc, base: strings.TrimRight(base, "/")}
}

// Health returns nil when the node answers its health check.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, c.base+"/health", nil, nil)
}

// Info fetches node and shard statistics.
func (c *Client) Info(ctx context.Context) (node.Info, error) {
	var info node.Info
	err := c.do(ctx, http.MethodGet, c.base+"/info", nil, &info)
	return info, err
}

// Put writes docs into graph g.
func (c *Client) Put(ctx context.Context, g string, docs []api.Document) (api.WriteResponse, error) {
	var resp api.WriteResponse
	err := c.do(ctx, http.MethodPut, c.nodesURL(g), docs, &resp)
	return resp, err
}

// PutFragments writes frags into graph g.
func (c *Client) PutFragments(ctx context.Context, g string, frags []*graph.Fragment) (api.WriteResponse, error) {
	docs := make([]api.Document, 0, len(frags))
	for _, f := range frags {
		docs = append(docs, api.FromFragment(f))
	}
	return c.Put(ctx, g, docs)
}

// Get reads the fragment stored for id.
func (c *Client) Get(ctx context.Context, id graph.NodeID) (*graph.Fragment, error) {
	var doc api.Document
	err := c.do(ctx, http.MethodGet, c.nodesURL(id.Graph)+"/"+url.PathEscape(id.ID), nil, &doc)

	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return doc.Fragment(id.Graph, time.Now()), nil
}

// IDs lists the ids stored for graph g.
func (c *Client) IDs(ctx context.Context, g string) ([]string, error) {
	var resp api.ListResponse
	if err := c.do(ctx, http.MethodGet, c.nodesURL(g), nil, &resp); err != nil {
		return nil, err
	}
	return resp.IDs, nil
}

func (c *Client) nodesURL(g string) string {
	if g == "" {
		g = graph.DefaultGraph
	}
	return c.base + "/graphs/" + url.PathEscape(g) + "/nodes"
}

// do sends body as JSON when it is non-nil and decodes the response into out
// when out is non-nil.
func (c *Client) do(ctx context.Context, method, target string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		reqBody, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(reqBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{URL: target, Code: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
