// Package httpapi serves the graph-service HTTP surface in front of a graph
// store: read queries for CI tooling, the internal mutation surface used by
// analysis workers, and a websocket feed of mutation events.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"doraemon/internal/graph"
	"doraemon/internal/types"
)

// Server routes graph-service requests onto a store.
type Server struct {
	store graph.Store
	log   *slog.Logger
	watch *watchHub
}

func NewServer(store graph.Store, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{store: store, log: log, watch: newWatchHub(log)}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /graph/{owner}/{repo}", s.handleGraph)
	mux.HandleFunc("GET /repository/{owner}/{repo}/lastAnalyzedSha", s.handleGetSha)
	mux.HandleFunc("PUT /repository/{owner}/{repo}/lastAnalyzedSha", s.handlePutSha)
	mux.HandleFunc("GET /files/{owner}/{repo}/{query}", s.handleFileQuery)
	mux.HandleFunc("POST /internal/files", s.handleUpsertFile)
	mux.HandleFunc("DELETE /internal/files", s.handleDeleteFile)
	mux.HandleFunc("POST /internal/relationships", s.handleUpsertEdge)
	mux.HandleFunc("DELETE /internal/relationships", s.handleDeleteOutgoing)
	mux.HandleFunc("GET /watch", s.watch.handle)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return mux
}

func repoOf(r *http.Request) string {
	return r.PathValue("owner") + "/" + r.PathValue("repo")
}

type graphNode struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

type graphEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	snap, err := s.store.FullGraph(r.Context(), repoOf(r))
	if err != nil {
		s.storeError(w, err)
		return
	}
	nodes := make([]graphNode, 0, len(snap.Files))
	for _, f := range snap.Files {
		nodes = append(nodes, graphNode{ID: f.Path, Label: f.Name})
	}
	edges := make([]graphEdge, 0, len(snap.Edges))
	for _, e := range snap.Edges {
		edges = append(edges, graphEdge{From: e.From, To: e.To})
	}
	writeJSON(w, http.StatusOK, map[string]any{"nodes": nodes, "edges": edges})
}

func (s *Server) handleGetSha(w http.ResponseWriter, r *http.Request) {
	sha, ok, err := s.store.GetLastAnalyzedSha(r.Context(), repoOf(r))
	if err != nil {
		s.storeError(w, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "repository not analyzed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"lastAnalyzedSha": sha})
}

func (s *Server) handlePutSha(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Sha string `json:"sha"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.Sha) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "sha is required"})
		return
	}
	repo := repoOf(r)
	if err := s.store.SetLastAnalyzedSha(r.Context(), repo, body.Sha); err != nil {
		s.storeError(w, err)
		return
	}
	s.watch.publish(event{Repo: repo, Kind: "sha", Value: body.Sha})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFileQuery(w http.ResponseWriter, r *http.Request) {
	filePath := strings.TrimSpace(r.URL.Query().Get("filePath"))
	if filePath == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "filePath is required"})
		return
	}
	repo := repoOf(r)

	var (
		nodes []types.FileNode
		err   error
	)
	switch r.PathValue("query") {
	case "dependencies":
		nodes, err = s.store.Dependencies(r.Context(), repo, filePath)
	case "dependents":
		nodes, err = s.store.Dependents(r.Context(), repo, filePath)
	case "recursive-dependents":
		nodes, err = s.store.RecursiveDependents(r.Context(), repo, filePath)
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown query"})
		return
	}
	if err != nil {
		s.storeError(w, err)
		return
	}
	if nodes == nil {
		nodes = []types.FileNode{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": nodes})
}

type fileBody struct {
	Repo string `json:"repo"`
	Path string `json:"path"`
	Name string `json:"name"`
}

func (s *Server) handleUpsertFile(w http.ResponseWriter, r *http.Request) {
	var body fileBody
	if !decode(w, r, &body) || !requireFields(w, body.Repo, body.Path) {
		return
	}
	if body.Name == "" {
		body.Name = types.Basename(body.Path)
	}
	if err := s.store.UpsertFile(r.Context(), body.Repo, body.Path, body.Name); err != nil {
		s.storeError(w, err)
		return
	}
	s.watch.publish(event{Repo: body.Repo, Kind: "file-upsert", Value: body.Path})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	var body fileBody
	if !decode(w, r, &body) || !requireFields(w, body.Repo, body.Path) {
		return
	}
	if err := s.store.DeleteFile(r.Context(), body.Repo, body.Path); err != nil {
		s.storeError(w, err)
		return
	}
	s.watch.publish(event{Repo: body.Repo, Kind: "file-delete", Value: body.Path})
	w.WriteHeader(http.StatusNoContent)
}

type edgeBody struct {
	Repo   string `json:"repo"`
	From   string `json:"from"`
	To     string `json:"to"`
	ToName string `json:"toName"`
}

func (s *Server) handleUpsertEdge(w http.ResponseWriter, r *http.Request) {
	var body edgeBody
	if !decode(w, r, &body) || !requireFields(w, body.Repo, body.From, body.To) {
		return
	}
	if body.ToName == "" {
		body.ToName = types.Basename(body.To)
	}
	if err := s.store.UpsertEdge(r.Context(), body.Repo, body.From, body.To, body.ToName); err != nil {
		s.storeError(w, err)
		return
	}
	s.watch.publish(event{Repo: body.Repo, Kind: "edge-upsert", Value: body.From + "->" + body.To})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteOutgoing(w http.ResponseWriter, r *http.Request) {
	var body fileBody
	if !decode(w, r, &body) || !requireFields(w, body.Repo, body.Path) {
		return
	}
	if err := s.store.DeleteOutgoingEdges(r.Context(), body.Repo, body.Path); err != nil {
		s.storeError(w, err)
		return
	}
	s.watch.publish(event{Repo: body.Repo, Kind: "edges-delete", Value: body.Path})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) storeError(w http.ResponseWriter, err error) {
	s.log.Error("httpapi: store error", "err", err)
	writeJSON(w, http.StatusBadGateway, map[string]string{"error": "graph store unavailable"})
}

func decode(w http.ResponseWriter, r *http.Request, into any) bool {
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json body"})
		return false
	}
	return true
}

func requireFields(w http.ResponseWriter, fields ...string) bool {
	for _, f := range fields {
		if strings.TrimSpace(f) == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing required field"})
			return false
		}
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
