// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/jeranaias/synth/internal/config"
	"github.com/jeranaias/synth/internal/engine"
	"github.com/jeranaias/synth/internal/offline"
	"github.com/jeranaias/synth/internal/router"
	"github.com/jeranaias/synth/internal/search"
	"github.com/jeranaias/synth/internal/telemetry"
	"github.com/jeranaias/synth/internal/util"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// MaxQueryLength bounds the query field in runes.
	MaxQueryLength = 4000

	// MaxContextLength bounds the surrounding-text field in runes.
	MaxContextLength = 100000

	// Version is reported by /api/health.
	Version = "0.3.0"
)

// ErrRemoteBind is returned by Start for a non-loopback address unless
// remote binding is allowed.
var ErrRemoteBind = errors.New("server: refusing to bind a non-loopback address")

// ============================================================================
// COLLABORATORS
// ============================================================================

// Submitter queues requests for the engine worker.
type Submitter interface {
	Submit(ctx context.Context, req engine.Request) <-chan engine.Answer
}

// KnowledgeWriter adds text to the knowledge base.
type KnowledgeWriter interface {
	Add(ctx context.Context, text, source string, metadata map[string]any) (int, error)
}

// HealthChecker probes the local tiers.
type HealthChecker interface {
	Health(ctx context.Context) map[router.Tier]error
}

// StatsSource provides usage counters.
type StatsSource interface {
	Snapshot() telemetry.Snapshot
	Totals() telemetry.Snapshot
}

// ============================================================================
// SERVER
// ============================================================================

// Server is the local HTTP API.
type Server struct {
	cfg       config.ServerConfig
	mux       *http.ServeMux
	worker    Submitter
	searcher  engine.Searcher
	knowledge KnowledgeWriter
	health    HealthChecker
	stats     StatsSource
	guard     *offline.Guard
	logger    *zap.Logger
	flight    singleflight.Group
	start     time.Time

	mu     sync.Mutex
	server *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithSearcher enables /api/search.
func WithSearcher(s engine.Searcher) Option {
	return func(srv *Server) { srv.searcher = s }
}

// WithKnowledge enables /api/knowledge.
func WithKnowledge(k KnowledgeWriter) Option {
	return func(srv *Server) { srv.knowledge = k }
}

// WithHealth sets the tier health probe.
func WithHealth(h HealthChecker) Option {
	return func(srv *Server) { srv.health = h }
}

// WithStats enables /api/stats.
func WithStats(s StatsSource) Option {
	return func(srv *Server) { srv.stats = s }
}

// WithGuard sets the offline guard.
func WithGuard(g *offline.Guard) Option {
	return func(srv *Server) { srv.guard = g }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(srv *Server) {
		if l != nil {
			srv.logger = l
		}
	}
}

// New creates a server that answers /api/ask through worker.
func New(cfg config.ServerConfig, worker Submitter, opts ...Option) *Server {
	s := &Server{
		cfg:    cfg,
		mux:    http.NewServeMux(),
		worker: worker,
		logger: zap.NewNop(),
		start:  time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("POST /api/ask", s.handleAsk)
	s.mux.HandleFunc("POST /api/search", s.handleSearch)
	s.mux.HandleFunc("POST /api/knowledge", s.handleKnowledge)
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/stats", s.handleStats)
}

// Handler returns the routes wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	return Chain(
		RequestIDMiddleware(),
		RecoveryMiddleware(s.logger),
		SecurityHeadersMiddleware(),
		LoggingMiddleware(s.logger),
		BodyLimitMiddleware(s.cfg.MaxBodyBytes),
	)(s.mux)
}

// ============================================================================
// ASK
// ============================================================================

// AskRequest is the /api/ask body.
type AskRequest struct {
	Query   string `json:"query"`
	Context string `json:"context,omitempty"`
	Tier    string `json:"tier,omitempty"`
}

// AskResponse is the /api/ask reply.
type AskResponse struct {
	Answer     string   `json:"answer"`
	Identity   string   `json:"identity"`
	Humanizer  string   `json:"humanizer"`
	Tier       string   `json:"tier"`
	Complexity string   `json:"complexity"`
	Providers  []string `json:"providers"`
	Sources    []string `json:"sources"`
	LatencyMs  int64    `json:"latency_ms"`
	RequestID  string   `json:"request_id"`
	Shared     bool     `json:"shared,omitempty"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var body AskRequest
	if !s.decode(w, r, &body) {
		return
	}
	if util.RuneLen(body.Query) > MaxQueryLength {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("query exceeds %d characters", MaxQueryLength))
		return
	}
	if util.RuneLen(body.Context) > MaxContextLength {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("context exceeds %d characters", MaxContextLength))
		return
	}

	req := engine.Request{
		Query:           body.Query,
		SurroundingText: body.Context,
		RequestID:       RequestID(r.Context()),
	}
	if body.Tier != "" {
		tier, err := router.ParseTier(body.Tier)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		req.Tier = &tier
	}

	// The shared call outlives any single client so a disconnect does not
	// cancel the answer for the others waiting on it.
	key := strings.Join([]string{strings.TrimSpace(body.Query), body.Context, body.Tier}, "\x00")
	ch := s.flight.DoChan(key, func() (any, error) {
		ctx := context.WithoutCancel(r.Context())
		if d := s.cfg.WriteTimeout.Duration; d > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		ans, ok := <-s.worker.Submit(ctx, req)
		if !ok {
			return nil, errUnavailable
		}
		return ans, nil
	})

	select {
	case <-r.Context().Done():
		return
	case res := <-ch:
		if res.Err != nil {
			writeError(w, http.StatusServiceUnavailable, res.Err.Error())
			return
		}
		ans := res.Val.(engine.Answer)
		writeJSON(w, http.StatusOK, toAskResponse(ans, res.Shared))
	}
}

var errUnavailable = errors.New("engine unavailable")

func toAskResponse(ans engine.Answer, shared bool) AskResponse {
	out := AskResponse{
		Answer:     ans.Text,
		Identity:   ans.Identity,
		Humanizer:  ans.HumanizerIdentity,
		Tier:       ans.Tier.String(),
		Complexity: ans.Complexity.String(),
		Providers:  []string{},
		Sources:    ans.Sources(),
		LatencyMs:  ans.Latency.Milliseconds(),
		RequestID:  ans.RequestID,
		Shared:     shared,
	}
	if ans.Search != nil {
		out.Providers = ans.Search.Providers
	}
	if out.Sources == nil {
		out.Sources = []string{}
	}
	return out
}

// ============================================================================
// SEARCH
// ============================================================================

// SearchRequest is the /api/search body.
type SearchRequest struct {
	Query string `json:"query"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.searcher == nil {
		writeError(w, http.StatusNotImplemented, "search is not configured")
		return
	}
	if err := s.guard.CheckSearch(); err != nil {
		writeError(w, http.StatusForbidden, err.Error())
		return
	}
	var body SearchRequest
	if !s.decode(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	resp := s.searcher.Search(r.Context(), body.Query)
	if resp == nil {
		resp = &search.Response{Query: body.Query}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ============================================================================
// KNOWLEDGE
// ============================================================================

// KnowledgeRequest is the /api/knowledge body.
type KnowledgeRequest struct {
	Text     string         `json:"text"`
	Source   string         `json:"source"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (s *Server) handleKnowledge(w http.ResponseWriter, r *http.Request) {
	if s.knowledge == nil {
		writeError(w, http.StatusNotImplemented, "knowledge base is not enabled")
		return
	}
	var body KnowledgeRequest
	if !s.decode(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	if body.Source == "" {
		body.Source = "api"
	}
	added, err := s.knowledge.Add(r.Context(), body.Text, body.Source, body.Metadata)
	if err != nil {
		s.logger.Warn("knowledge add failed", zap.Error(err), zap.String("request_id", RequestID(r.Context())))
		writeError(w, http.StatusBadGateway, "could not add to knowledge base")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"added": added})
}

// ============================================================================
// HEALTH
// ============================================================================

// HealthResponse is the /api/health reply.
type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	Offline       bool              `json:"offline"`
	Tiers         map[string]string `json:"tiers"`
	UptimeSeconds int64             `json:"uptime_seconds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:        "ok",
		Version:       Version,
		Offline:       s.guard.Enabled(),
		Tiers:         map[string]string{},
		UptimeSeconds: int64(time.Since(s.start).Seconds()),
	}
	if s.health != nil {
		healthy := 0
		for tier, err := range s.health.Health(r.Context()) {
			if err != nil {
				resp.Tiers[tier.String()] = "unavailable"
				continue
			}
			resp.Tiers[tier.String()] = "ok"
			healthy++
		}
		if healthy < len(resp.Tiers) {
			resp.Status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ============================================================================
// STATS
// ============================================================================

// StatsResponse is the /api/stats reply.
type StatsResponse struct {
	Session telemetry.Snapshot `json:"session"`
	Totals  telemetry.Snapshot `json:"totals"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		writeError(w, http.StatusNotImplemented, "usage tracking is disabled")
		return
	}
	writeJSON(w, http.StatusOK, StatsResponse{
		Session: s.stats.Snapshot(),
		Totals:  s.stats.Totals(),
	})
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Start listens on the configured address and serves until Shutdown.
// It returns http.ErrServerClosed after a clean shutdown.
func (s *Server) Start() error {
	addr := s.cfg.Addr
	if !s.cfg.AllowRemote && !IsLoopbackAddr(addr) {
		return fmt.Errorf("%w: %s", ErrRemoteBind, addr)
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", addr, err)
	}
	return s.Serve(ln)
}

// Serve serves on an existing listener.
func (s *Server) Serve(ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       s.cfg.ReadTimeout.Duration,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout.Duration,
		IdleTimeout:       2 * time.Minute,
	}
	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()

	s.logger.Info("server started", zap.String("addr", ln.Addr().String()), zap.String("version", Version))
	return srv.Serve(ln)
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	s.logger.Info("server shutting down")
	return srv.Shutdown(ctx)
}

// ============================================================================
// HELPERS
// ============================================================================

// decode reads a JSON body, writing the error response itself on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return false
		}
		s.logger.Debug("invalid request body", zap.Error(err), zap.String("request_id", RequestID(r.Context())))
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    status,
		},
	})
}
