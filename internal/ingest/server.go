// Package ingest exposes the single authenticated trigger endpoint. It
// canonicalizes the payload, stamps the receipt time and enqueues exactly
// one analysis job.
package ingest

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"doraemon/internal/queue"
	"doraemon/internal/types"
)

// Server handles POST /trigger and GET /health.
type Server struct {
	secret string
	queue  queue.Queue
	log    *slog.Logger
	now    func() time.Time
}

func NewServer(secret string, q queue.Queue, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{secret: secret, queue: q, log: log, now: time.Now}
}

// Handler builds the route mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /trigger", s.handleTrigger)
	mux.HandleFunc("GET /health", handleHealth)
	return mux
}

type triggerRequest struct {
	RepoURL  string `json:"repoUrl"`
	Sha      string `json:"sha"`
	Event    string `json:"event"`
	PRNumber *int   `json:"prNumber"`
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r.Header.Get("Authorization"))
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing bearer token"})
		return
	}
	if token != s.secret {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "invalid token"})
		return
	}

	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json body"})
		return
	}
	job := types.AnalysisJob{
		RepoURL:    strings.TrimSpace(req.RepoURL),
		Sha:        strings.TrimSpace(req.Sha),
		Event:      strings.TrimSpace(req.Event),
		PRNumber:   req.PRNumber,
		ReceivedAt: s.now().UTC(),
	}
	if err := job.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	id, err := s.queue.PublishAnalysis(r.Context(), job)
	if err != nil {
		s.log.Error("ingest: publish failed", "repo", job.RepoURL, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "enqueue failed"})
		return
	}
	s.log.Info("ingest: job enqueued", "id", id, "repo", job.RepoURL, "event", job.Event)
	writeJSON(w, http.StatusAccepted, map[string]string{"jobId": id})
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	return token, token != ""
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
