package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"raetsel/internal/calendar"
	"raetsel/internal/config"
	"raetsel/internal/cooldown"
	"raetsel/internal/metrics"
	"raetsel/internal/progress"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const maxBodyBytes = 64 << 10

type Server struct {
	cfg       config.APIConfig
	log       *slog.Logger
	progress  *progress.Service
	cooldowns *cooldown.Service
	metrics   *metrics.Metrics
	mux       *chi.Mux
}

func New(cfg config.APIConfig, logger *slog.Logger, progressSvc *progress.Service, cooldowns *cooldown.Service, m *metrics.Metrics) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:       cfg,
		log:       logger,
		progress:  progressSvc,
		cooldowns: cooldowns,
		metrics:   m,
		mux:       chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(s.metrics.Middleware)
	r.Use(middleware.Timeout(15 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	r.Get("/readyz", s.handleReady)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Post("/session-complete", s.handleSessionComplete)
	r.Post("/user-stats", s.handleUserStats)
	r.Post("/game-generated", s.handleGameGenerated)
	r.Post("/cooldown-set", s.handleCooldownSet)
	r.Post("/cooldown-get", s.handleCooldownGet)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.progress.Ping(ctx); err != nil {
		writeErrorDetails(w, http.StatusServiceUnavailable, "store error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "store": s.cfg.Store.Backend})
}

func (s *Server) handleSessionComplete(w http.ResponseWriter, r *http.Request) {
	var in struct {
		UserID          string    `json:"userId"`
		PuzzleNamespace string    `json:"puzzleNamespace"`
		Puzzle          string    `json:"puzzle"`
		Themes          commaList `json:"themes"`
		DurationMs      count     `json:"durationMs"`
		RevealsUsed     count     `json:"revealsUsed"`
		Checks          count     `json:"checks"`
		WrongCells      count     `json:"wrongCells"`
		WordsCount      count     `json:"wordsCount"`
		LettersCount    count     `json:"lettersCount"`
		PuzzleScore     count     `json:"puzzleScore"`
		CompletedAt     count     `json:"completedAt"`
	}
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sub := progress.Submission{
		UserID:    in.UserID,
		Namespace: firstNonEmpty(in.PuzzleNamespace, in.Puzzle),
		Themes:    in.Themes,
		Telemetry: progress.Telemetry{
			DurationMs:   in.DurationMs.Value,
			RevealsUsed:  in.RevealsUsed.Value,
			Checks:       in.Checks.Value,
			WrongCells:   in.WrongCells.Value,
			WordsCount:   in.WordsCount.Value,
			LettersCount: in.LettersCount.Value,
		},
		ClientScore: in.PuzzleScore.ptr(),
	}
	if in.CompletedAt.Set && in.CompletedAt.Value > 0 {
		sub.CompletedAt = calendar.FromUnixMilli(in.CompletedAt.Value)
	}

	result, err := s.progress.Submit(r.Context(), sub)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleUserStats(w http.ResponseWriter, r *http.Request) {
	var in struct {
		UserID     string `json:"userId"`
		Global     bool   `json:"global"`
		Timeseries bool   `json:"timeseries"`
		Days       count  `json:"days"`
	}
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if in.Global {
		out, err := s.progress.GlobalStats(r.Context(), in.Timeseries, int(min(in.Days.Value, progress.MaxSeriesDays)))
		if err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
		return
	}

	out, err := s.progress.UserStats(r.Context(), in.UserID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGameGenerated(w http.ResponseWriter, r *http.Request) {
	var in struct {
		PuzzleNamespace string `json:"puzzleNamespace"`
		Puzzle          string `json:"puzzle"`
		GeneratedAt     count  `json:"generatedAt"`
	}
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var at time.Time
	if in.GeneratedAt.Set && in.GeneratedAt.Value > 0 {
		at = calendar.FromUnixMilli(in.GeneratedAt.Value)
	}
	out, err := s.progress.RecordGenerated(r.Context(), firstNonEmpty(in.PuzzleNamespace, in.Puzzle), at)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCooldownSet(w http.ResponseWriter, r *http.Request) {
	var in struct {
		UserID          string `json:"userId"`
		PuzzleNamespace string `json:"puzzleNamespace"`
		Puzzle          string `json:"puzzle"`
		IDs             idList `json:"ids"`
		TTLSeconds      count  `json:"ttlSeconds"`
	}
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	err := s.cooldowns.Set(r.Context(), in.UserID, firstNonEmpty(in.PuzzleNamespace, in.Puzzle), in.IDs, in.TTLSeconds.Value)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCooldownGet(w http.ResponseWriter, r *http.Request) {
	var in struct {
		UserID          string `json:"userId"`
		PuzzleNamespace string `json:"puzzleNamespace"`
		Puzzle          string `json:"puzzle"`
		IDs             idList `json:"ids"`
	}
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.cooldowns.Get(r.Context(), in.UserID, firstNonEmpty(in.PuzzleNamespace, in.Puzzle), in.IDs)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var mutErr *progress.MutationError
	switch {
	case errors.Is(err, progress.ErrMissingUserID),
		errors.Is(err, progress.ErrInvalidUserID),
		errors.Is(err, progress.ErrInvalidNamespace),
		errors.Is(err, cooldown.ErrNoItems),
		errors.Is(err, cooldown.ErrTooManyItems),
		errors.Is(err, cooldown.ErrInvalidItem):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, progress.ErrStoreUnavailable):
		writeError(w, http.StatusInternalServerError, err.Error())
	case errors.As(err, &mutErr):
		writeErrorDetails(w, http.StatusInternalServerError, "store error (updates)", err.Error())
	default:
		s.log.Error("store call failed", "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()), "error", err)
		writeErrorDetails(w, http.StatusInternalServerError, "store error", err.Error())
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, out any) error {
	// Unknown fields are ignored.
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}

func writeErrorDetails(w http.ResponseWriter, status int, message, details string) {
	writeJSON(w, status, map[string]any{"error": message, "details": details})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
