// Package api exposes a Node over HTTP with JSON bodies.
//
// Endpoints:
//
//	GET  /health                      liveness, always 200
//	GET  /info                        node and shard statistics
//	PUT  /graphs/{graph}/nodes        write a JSON array of Documents
//	GET  /graphs/{graph}/nodes        list the ids stored for a graph
//	GET  /graphs/{graph}/nodes/{id}   read one Document
//
// Error statuses:
//   - 400 Bad Request: malformed JSON or an invalid fragment
//   - 404 Not Found: the id was never written
//   - 503 Service Unavailable: the node or a shard is shutting down
//   - 500 Internal Server Error: storage, index or decode failures
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/dreamware/graphshard/internal/graph"
	"github.com/dreamware/graphshard/internal/node"
	"github.com/dreamware/graphshard/internal/shard"
)

// MaxBodyBytes bounds the size of a write request.
const MaxBodyBytes = 64 << 20

// Backend is the storage behind the API. *node.Node implements it.
type Backend interface {
	Write(ctx context.Context, frags []*graph.Fragment) error
	Read(ctx context.Context, id graph.NodeID) (*graph.Fragment, error)
	IDs(ctx context.Context, g string) ([]graph.NodeID, error)
	Info() node.Info
}

// WriteResponse answers a successful PUT.
type WriteResponse struct {
	Graph   string `json:"graph"`
	Written int    `json:"written"`
}

// ListResponse answers GET /graphs/{graph}/nodes.
type ListResponse struct {
	Graph string   `json:"graph"`
	IDs   []string `json:"ids"`
	Count int      `json:"count"`
}

// Server routes HTTP requests to a Backend.
type Server struct {
	backend Backend
	handler http.Handler
	now     func() time.Time
}

// NewServer builds the HTTP handler for backend.
func NewServer(backend Backend, logger zerolog.Logger) *Server {
	s := &Server{backend: backend, now: time.Now}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /info", s.handleInfo)
	mux.HandleFunc("PUT /graphs/{graph}/nodes", s.handlePut)
	mux.HandleFunc("GET /graphs/{graph}/nodes", s.handleList)
	mux.HandleFunc("GET /graphs/{graph}/nodes/{id}", s.handleGet)

	access := hlog.AccessHandler(func(r *http.Request, status, size int, d time.Duration) {
		hlog.FromRequest(r).Debug().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("took", d).
			Msg("request")
	})
	s.handler = hlog.NewHandler(logger)(access(mux))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.backend.Info())
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	g := r.PathValue("graph")

	var docs []Document
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err := dec.Decode(&docs); err != nil {
		http.Error(w, "invalid body: "+err.Error(), http.StatusBadRequest)
		return
	}

	// reject the whole request before anything is written
	now := s.now()
	frags := make([]*graph.Fragment, 0, len(docs))
	for i, d := range docs {
		f := d.Fragment(g, now)
		if err := f.Validate(); err != nil {
			http.Error(w, fmt.Sprintf("document %d: %v", i, err), http.StatusBadRequest)
			return
		}
		frags = append(frags, f)
	}

	if err := s.backend.Write(r.Context(), frags); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, WriteResponse{Graph: g, Written: len(frags)})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := graph.NewNodeID(r.PathValue("graph"), r.PathValue("id"))

	frag, err := s.backend.Read(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, FromFragment(frag))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	g := r.PathValue("graph")

	ids, err := s.backend.IDs(r.Context(), g)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	resp := ListResponse{Graph: g, IDs: make([]string, 0, len(ids))}
	for _, id := range ids {
		resp.IDs = append(resp.IDs, id.ID)
	}
	resp.Count = len(resp.IDs)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusOf(err)
	if status >= http.StatusInternalServerError {
		hlog.FromRequest(r).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	http.Error(w, err.Error(), status)
}

// StatusOf maps a storage error to an HTTP status code.
func StatusOf(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, shard.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, shard.ErrEncode), errors.Is(err, graph.ErrInvalidFragment):
		return http.StatusBadRequest
	case errors.Is(err, shard.ErrChannelClosed), errors.Is(err, node.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
