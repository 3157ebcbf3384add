// SPDX-License-Identifier: MIT

// Package api exposes the stream resolution subsystem over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ottera/streamgate/internal/log"
	"github.com/ottera/streamgate/internal/resolver"
	"github.com/ottera/streamgate/internal/upstream"
)

// Resolver is the subsystem surface the API serves.
type Resolver interface {
	ResolveStreamURL(ctx context.Context, channelID string) (string, error)
	ChannelsStream(ctx context.Context, channelID string) (string, error)
	InitializeSession(ctx context.Context, channelID string) (upstream.Result, error)
	Preload(ctx context.Context, channelIDs []string) resolver.Report
	InvalidateAll(ctx context.Context) error
}

// Config tunes the HTTP surface.
type Config struct {
	RateRPS int // per-IP requests/sec; 0 disables limiting
}

// Server wires the resolver into a chi router.
type Server struct {
	resolver Resolver
	router   chi.Router
}

// New constructs the HTTP server around a resolver.
func New(res Resolver, cfg Config) *Server {
	s := &Server{resolver: res}

	r := chi.NewRouter()
	r.Use(Recoverer)
	r.Use(RequestID)
	r.Use(RequestLogger)
	r.Use(RateLimit(cfg.RateRPS))

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/stream/{channelID}", s.handleResolve)
		r.Get("/channels/{channelID}/stream", s.handleChannelsStream)
		r.Post("/session/{channelID}", s.handleSession)
		r.Post("/preload", s.handlePreload)
		r.Delete("/cache", s.handleInvalidate)
	})

	s.router = r
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelID")
	url, err := s.resolver.ResolveStreamURL(r.Context(), channelID)
	if err != nil {
		writeResolutionError(w, r, channelID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"channelId": channelID, "url": url})
}

func (s *Server) handleChannelsStream(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelID")
	url, err := s.resolver.ChannelsStream(r.Context(), channelID)
	if err != nil {
		writeResolutionError(w, r, channelID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"channelId": channelID, "url": url})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelID")
	res, err := s.resolver.InitializeSession(r.Context(), channelID)
	if err != nil {
		writeResolutionError(w, r, channelID, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type preloadRequest struct {
	ChannelIDs []string `json:"channelIds"`
}

func (s *Server) handlePreload(w http.ResponseWriter, r *http.Request) {
	var req preloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	report := s.resolver.Preload(r.Context(), req.ChannelIDs)
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	if err := s.resolver.InvalidateAll(r.Context()); err != nil {
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Warn().
			Err(err).
			Msg("cache invalidation failed to prune persistent store")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "invalidation incomplete"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeResolutionError maps resolver errors onto the boundary contract:
// both failure classes answer 502, but exhausted retries are flagged
// transient (retry suggested) while invalid upstream responses are
// likely permanent for the channel.
func writeResolutionError(w http.ResponseWriter, r *http.Request, channelID string, err error) {
	logger := log.WithComponentFromContext(r.Context(), "api")

	switch {
	case errors.Is(err, upstream.ErrExhausted):
		logger.Warn().Err(err).Str("channel", channelID).Msg("resolution failed after retries")
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"error":     "stream currently unavailable for channel " + channelID,
			"cause":     "upstream_unreachable",
			"transient": "true",
		})
	case errors.Is(err, upstream.ErrInvalidResponse):
		logger.Warn().Err(err).Str("channel", channelID).Msg("upstream rejected channel")
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"error":     "stream currently unavailable for channel " + channelID,
			"cause":     "upstream_rejected",
			"transient": "false",
		})
	default:
		logger.Error().Err(err).Str("channel", channelID).Msg("resolution failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "stream currently unavailable for channel " + channelID,
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
