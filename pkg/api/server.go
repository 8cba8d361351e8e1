package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/fieldops/fieldsync/pkg/log"
	"github.com/fieldops/fieldsync/pkg/metrics"
	"github.com/fieldops/fieldsync/pkg/remote"
	"github.com/fieldops/fieldsync/pkg/syncer"
	"github.com/fieldops/fieldsync/pkg/types"
)

// Server is the local JSON API the UI talks to.
type Server struct {
	service *syncer.Service
	httpSrv *http.Server
}

// NewServer creates the API server over the sync service.
func NewServer(service *syncer.Service) *Server {
	return &Server{service: service}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("GET /v1/view/{scope}", s.handleView)
	mux.HandleFunc("POST /v1/mutations", s.handleEnqueue)
	mux.HandleFunc("POST /v1/sync", s.handleSync)
	mux.HandleFunc("GET /v1/queue/pending", s.handlePending)
	mux.HandleFunc("GET /v1/queue/synced", s.handleSynced)
	mux.HandleFunc("GET /v1/queue/dead", s.handleDead)
	mux.HandleFunc("POST /v1/queue/dead/{id}/requeue", s.handleRequeue)
	mux.Handle("GET /metrics", metrics.Handler())
	return mux
}

// Start serves the API on addr until Stop is called.
func (s *Server) Start(addr string) error {
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	lg := log.WithComponent("api")
	lg.Info().Str("addr", addr).Msg("local API listening")

	if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop() {
	if s.httpSrv != nil {
		_ = s.httpSrv.Close()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	pending, err := s.service.Pending()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"online":  s.service.IsOnline(),
		"pending": len(pending),
	})
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	scope := r.PathValue("scope")
	parent := r.URL.Query().Get("parent")

	records, err := s.service.ReconciledView(r.Context(), scope, parent)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

type enqueueRequest struct {
	Kind    string       `json:"kind"`
	Payload types.Record `json:"payload"`
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if req.Kind == "" || req.Payload == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "kind and payload are required"})
		return
	}

	result, err := s.service.EnqueueMutation(r.Context(), req.Kind, req.Payload)
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	if result.Queued {
		status = http.StatusAccepted
	}
	writeJSON(w, status, result)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if err := s.service.TriggerReplay(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "drained"})
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.Pending()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleSynced(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.Synced()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleDead(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.Dead()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleRequeue(w http.ResponseWriter, r *http.Request) {
	var id uint64
	if _, err := fmt.Sscanf(r.PathValue("id"), "%d", &id); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}
	newID, err := s.service.Requeue(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"id": newID})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps internal errors to HTTP statuses: server rejections
// keep their status, everything else is a 500 the UI must surface.
func writeError(w http.ResponseWriter, err error) {
	var apiErr *remote.APIError
	if errors.As(err, &apiErr) {
		writeJSON(w, apiErr.Status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}
