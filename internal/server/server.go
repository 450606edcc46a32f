// Package server exposes the HTTP API. Routes live under /1/indexes so
// existing search clients can point at the server unchanged.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/meridian-search/meridian/internal/search"
	"github.com/meridian-search/meridian/internal/task"
	"github.com/meridian-search/meridian/pkg/config"
	"github.com/meridian-search/meridian/pkg/errors"
	"github.com/meridian-search/meridian/pkg/health"
	"github.com/meridian-search/meridian/pkg/metrics"
	"github.com/meridian-search/meridian/pkg/middleware"
)

// Server wires the engine and the task manager to the HTTP surface.
type Server struct {
	cfg     *config.Config
	engine  *search.Engine
	manager *task.Manager
	checker *health.Checker
	metrics *metrics.Metrics
	log     *slog.Logger
	http    *http.Server
}

// New builds the server and its router.
func New(cfg *config.Config, engine *search.Engine, manager *task.Manager,
	checker *health.Checker, m *metrics.Metrics, log *slog.Logger) *Server {

	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		cfg:     cfg,
		engine:  engine,
		manager: manager,
		checker: checker,
		metrics: m,
		log:     log.With("component", "http"),
	}
	s.http = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.checker.ReadyHandler())
	mux.HandleFunc("GET /health/live", s.checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", s.checker.ReadyHandler())

	mux.HandleFunc("GET /1/indexes", s.searchKey(s.handleListIndexes))

	mux.HandleFunc("POST /1/indexes/{index}/query", s.searchKey(s.handleQuery))
	mux.HandleFunc("POST /1/indexes/{index}/batch", s.adminKey(s.handleBatch))
	mux.HandleFunc("POST /1/indexes/{index}/clear", s.adminKey(s.handleClear))
	mux.HandleFunc("POST /1/indexes/{index}", s.adminKey(s.handleAddObject))
	mux.HandleFunc("DELETE /1/indexes/{index}", s.adminKey(s.handleDeleteIndex))

	mux.HandleFunc("GET /1/indexes/{index}/settings", s.searchKey(s.handleGetSettings))
	mux.HandleFunc("PUT /1/indexes/{index}/settings", s.adminKey(s.handlePutSettings))

	mux.HandleFunc("POST /1/indexes/{index}/synonyms/batch", s.adminKey(s.handleSynonymsBatch))
	mux.HandleFunc("POST /1/indexes/{index}/synonyms/search", s.searchKey(s.handleSynonymsSearch))
	mux.HandleFunc("GET /1/indexes/{index}/synonyms/{objectID}", s.searchKey(s.handleGetSynonym))
	mux.HandleFunc("DELETE /1/indexes/{index}/synonyms/{objectID}", s.adminKey(s.handleDeleteSynonym))

	mux.HandleFunc("POST /1/indexes/{index}/rules/batch", s.adminKey(s.handleRulesBatch))
	mux.HandleFunc("POST /1/indexes/{index}/rules/search", s.searchKey(s.handleRulesSearch))
	mux.HandleFunc("GET /1/indexes/{index}/rules/{objectID}", s.searchKey(s.handleGetRule))
	mux.HandleFunc("DELETE /1/indexes/{index}/rules/{objectID}", s.adminKey(s.handleDeleteRule))

	mux.HandleFunc("GET /1/indexes/{index}/task/{taskID}", s.searchKey(s.handleTaskStatus))

	mux.HandleFunc("GET /1/indexes/{index}/{objectID}", s.searchKey(s.handleGetObject))
	mux.HandleFunc("PUT /1/indexes/{index}/{objectID}", s.adminKey(s.handlePutObject))
	mux.HandleFunc("DELETE /1/indexes/{index}/{objectID}", s.adminKey(s.handleDeleteObject))

	var handler http.Handler = mux
	if timeout := s.cfg.Engine.QueryTimeout; timeout > 0 {
		handler = middleware.Timeout(timeout)(handler)
	}
	if s.metrics != nil {
		handler = middleware.Metrics(s.metrics)(handler)
	}
	handler = middleware.RequestID(handler)
	return handler
}

// Start serves until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	s.log.Info("http server listening", "addr", s.http.Addr)
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	timeout := s.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}

// indexName extracts and validates the {index} path segment.
func indexName(r *http.Request) (string, error) {
	name := r.PathValue("index")
	if name == "" || len(name) > 256 ||
		strings.ContainsAny(name, "/\x00") || strings.TrimSpace(name) != name {
		return "", errors.Newf(errors.ErrValidation, 400, "invalid index name %q", name)
	}
	return name, nil
}
