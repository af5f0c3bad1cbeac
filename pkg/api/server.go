package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/scheduler"
	"github.com/cuemby/burrow/pkg/topology"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// Server exposes the balancer's admin surface over HTTP: lifecycle status,
// the submission gate, the shard registry and Prometheus metrics.
type Server struct {
	sched    *scheduler.Scheduler
	registry *topology.Registry
	logger   zerolog.Logger
	http     *http.Server
}

// NewServer creates the admin server.
func NewServer(sched *scheduler.Scheduler, registry *topology.Registry) *Server {
	s := &Server{
		sched:    sched,
		registry: registry,
		logger:   log.WithComponent("api"),
	}
	s.http = &http.Server{Handler: s.routes()}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/v1/status", s.handleStatus)
	r.Post("/v1/balancer/pause", s.handlePause)
	r.Post("/v1/balancer/resume", s.handleResume)
	r.Get("/v1/shards", s.handleListShards)
	r.Put("/v1/shards/{id}", s.handlePutShard)
	r.Delete("/v1/shards/{id}", s.handleDeleteShard)
	r.Handle("/metrics", metrics.Handler())

	return r
}

// Start serves on addr until Stop. It blocks.
func (s *Server) Start(addr string) error {
	s.http.Addr = addr
	s.logger.Info().Str("addr", addr).Msg("admin API listening")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.http.Shutdown(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("admin API shutdown")
	}
}

type statusResponse struct {
	State             string   `json:"state"`
	SubmissionsPaused bool     `json:"submissionsPaused"`
	QueuedCommands    int      `json:"queuedCommands"`
	Shards            []string `json:"shards"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	ids := s.registry.Shards()
	shards := make([]string, len(ids))
	for i, id := range ids {
		shards[i] = id.String()
	}
	writeJSON(w, http.StatusOK, statusResponse{
		State:             string(s.sched.State()),
		SubmissionsPaused: s.sched.SubmissionsPaused(),
		QueuedCommands:    s.sched.QueueLen(),
		Shards:            shards,
	})
}

func (s *Server) handlePause(w http.ResponseWriter, _ *http.Request) {
	s.sched.PauseSubmissions()
	s.logger.Info().Msg("submissions paused")
	writeJSON(w, http.StatusOK, map[string]bool{"paused": true})
}

func (s *Server) handleResume(w http.ResponseWriter, _ *http.Request) {
	s.sched.ResumeSubmissions()
	s.logger.Info().Msg("submissions resumed")
	writeJSON(w, http.StatusOK, map[string]bool{"paused": false})
}

type shardRequest struct {
	Host string `json:"host"`
}

func (s *Server) handleListShards(w http.ResponseWriter, _ *http.Request) {
	ids := s.registry.Shards()
	out := make(map[string]string, len(ids))
	for _, id := range ids {
		host, err := s.registry.Resolve(id)
		if err != nil {
			continue
		}
		out[id.String()] = host
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePutShard(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req shardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Host == "" {
		http.Error(w, "body must be {\"host\": \"addr:port\"}", http.StatusBadRequest)
		return
	}
	s.registry.Add(types.ShardID(id), req.Host)
	logger := log.WithShardID(id)
	logger.Info().Str("host", req.Host).Msg("shard registered")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteShard(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.registry.Remove(types.ShardID(id))
	logger := log.WithShardID(id)
	logger.Info().Msg("shard removed")
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
