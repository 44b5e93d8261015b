// Package gateway exposes the orchestrator over a small HTTP admin API.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/atuona/mediabot/pkg/mediaproviders"
	"github.com/atuona/mediabot/pkg/orchestrator"
	"github.com/atuona/mediabot/pkg/visualization"
)

const (
	defaultListLimit = 20
	maxListLimit     = 50
	shutdownTimeout  = 10 * time.Second
)

// Orchestrator is what the gateway needs from orchestrator.Orchestrator.
type Orchestrator interface {
	Orchestrate(ctx context.Context, req orchestrator.Request, sink orchestrator.Sink) (*orchestrator.Result, error)
	CheckTask(ctx context.Context, contentID string, sink orchestrator.Sink) (*orchestrator.CheckResult, error)
	Get(ctx context.Context, contentID string) (*visualization.Visualization, error)
	Gallery(ctx context.Context, limit int) ([]*visualization.Visualization, error)
}

// Server serves the admin API.
type Server struct {
	orch   Orchestrator
	sink   orchestrator.Sink
	logger zerolog.Logger

	// runs tracks background orchestrations started by POST requests.
	runs sync.WaitGroup
}

// New creates a Server. Runs started over HTTP narrate to sink.
func New(orch Orchestrator, sink orchestrator.Sink, logger zerolog.Logger) *Server {
	if sink == nil {
		sink = orchestrator.Discard
	}
	return &Server{
		orch:   orch,
		sink:   sink,
		logger: logger.With().Str("component", "gateway").Logger(),
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer, s.requestLogger)

	r.Get("/healthz", s.health)
	r.Route("/visualizations", func(r chi.Router) {
		r.Get("/", s.list)
		r.Post("/", s.create)
		r.Get("/{contentID}", s.get)
		r.Post("/{contentID}/check", s.check)
	})
	return r
}

// ListenAndServe serves on addr until ctx is done, then shuts down and waits
// for background runs.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("gateway: listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.runs.Wait()
	return err
}

// Wait blocks until background runs finish.
func (s *Server) Wait() {
	s.runs.Wait()
}

type createRequest struct {
	ContentID    string   `json:"contentId"`
	Title        string   `json:"title"`
	Prompt       string   `json:"prompt"`
	AspectRatios []string `json:"aspectRatios"`
	Caption      string   `json:"caption"`
	Tags         []string `json:"tags"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	s.json(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.error(w, http.StatusBadRequest, "bad_request", "limit must be a positive integer")
			return
		}
		limit = min(n, maxListLimit)
	}
	items, err := s.orch.Gallery(r.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("gateway: list visualizations")
		s.error(w, http.StatusInternalServerError, "internal", "failed to list visualizations")
		return
	}
	if items == nil {
		items = []*visualization.Visualization{}
	}
	s.json(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) get(w http.ResponseWriter, r *http.Request) {
	contentID := chi.URLParam(r, "contentID")
	v, err := s.orch.Get(r.Context(), contentID)
	if errors.Is(err, visualization.ErrNotFound) {
		s.error(w, http.StatusNotFound, "not_found", "visualization not found")
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Str("content_id", contentID).Msg("gateway: get visualization")
		s.error(w, http.StatusInternalServerError, "internal", "failed to load visualization")
		return
	}
	s.json(w, http.StatusOK, v)
}

func (s *Server) create(w http.ResponseWriter, r *http.Request) {
	var body createRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	body.ContentID = strings.TrimSpace(body.ContentID)
	body.Prompt = strings.TrimSpace(body.Prompt)
	if body.ContentID == "" || body.Prompt == "" {
		s.error(w, http.StatusBadRequest, "bad_request", "contentId and prompt are required")
		return
	}
	var ratios []mediaproviders.AspectRatio
	for _, raw := range body.AspectRatios {
		a := mediaproviders.AspectRatio(raw)
		if !a.Valid() {
			s.error(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("unknown aspect ratio %q", raw))
			return
		}
		ratios = append(ratios, a)
	}
	req := orchestrator.Request{
		ContentID:    body.ContentID,
		Title:        body.Title,
		Prompt:       body.Prompt,
		AspectRatios: ratios,
		Caption:      body.Caption,
		Tags:         body.Tags,
	}

	ctx := context.WithoutCancel(r.Context())
	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		res, err := s.orch.Orchestrate(ctx, req, s.sink)
		if err != nil {
			s.logger.Warn().Err(err).Str("content_id", req.ContentID).Msg("gateway: orchestration failed")
			return
		}
		s.logger.Info().Str("content_id", res.ContentID).Str("status", string(res.Status)).Msg("gateway: orchestration finished")
	}()

	s.json(w, http.StatusAccepted, map[string]string{"contentId": req.ContentID, "status": "accepted"})
}

func (s *Server) check(w http.ResponseWriter, r *http.Request) {
	contentID := chi.URLParam(r, "contentID")
	res, err := s.orch.CheckTask(r.Context(), contentID, s.sink)
	switch {
	case errors.Is(err, visualization.ErrNotFound):
		s.error(w, http.StatusNotFound, "not_found", "visualization not found")
		return
	case errors.Is(err, orchestrator.ErrNoPendingTask):
		s.error(w, http.StatusConflict, "no_pending_task", fmt.Sprintf("status is %s", res.Status))
		return
	case err != nil:
		s.logger.Warn().Err(err).Str("content_id", contentID).Msg("gateway: check task")
		s.error(w, http.StatusBadGateway, "provider_error", err.Error())
		return
	}
	s.json(w, http.StatusOK, map[string]any{
		"contentId": res.ContentID,
		"status":    res.Status,
		"state":     res.State,
		"task":      res.Task,
	})
}

func (s *Server) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) error(w http.ResponseWriter, code int, kind, msg string) {
	s.json(w, code, errorResponse{Error: kind, Message: msg})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("gateway: request")
	})
}
