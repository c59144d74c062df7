// Package api exposes the progress engine over HTTP.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/p-n-ai/pai-progress/internal/curriculum"
	"github.com/p-n-ai/pai-progress/internal/progress"
	"github.com/p-n-ai/pai-progress/internal/realtime"
	"github.com/p-n-ai/pai-progress/internal/report"
)

const (
	maxBodyBytes = 4 << 10
	xlsxType     = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	readyTimeout = 2 * time.Second
)

// HealthChecker is a dependency probed by /readyz.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Server holds the HTTP handlers.
type Server struct {
	registry   *progress.Registry
	curriculum *curriculum.Curriculum
	hub        *realtime.Hub
	checks     map[string]HealthChecker
	reportOpts report.Options
}

// Config holds Server dependencies. Hub and Checks are optional.
type Config struct {
	Registry   *progress.Registry
	Curriculum *curriculum.Curriculum
	Hub        *realtime.Hub
	Checks     map[string]HealthChecker
	Report     report.Options
}

// NewServer creates the API server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if cfg.Curriculum == nil {
		return nil, fmt.Errorf("curriculum is required")
	}
	return &Server{
		registry:   cfg.Registry,
		curriculum: cfg.Curriculum,
		hub:        cfg.Hub,
		checks:     cfg.Checks,
		reportOpts: cfg.Report,
	}, nil
}

// Handler returns the HTTP router.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)

	mux.HandleFunc("GET /v1/curriculum", s.handleCurriculum)
	mux.HandleFunc("GET /v1/users/{userID}/progress", s.handleOverall)
	mux.HandleFunc("DELETE /v1/users/{userID}/progress", s.handleReset)
	mux.HandleFunc("GET /v1/users/{userID}/lessons", s.handleLessons)
	mux.HandleFunc("GET /v1/users/{userID}/lessons/{lessonID}", s.handleLesson)
	mux.HandleFunc("POST /v1/users/{userID}/lessons/{lessonID}/attempts", s.handleLessonAttempt)
	mux.HandleFunc("POST /v1/users/{userID}/lessons/{lessonID}/complete", s.handleLessonComplete)
	mux.HandleFunc("GET /v1/users/{userID}/units", s.handleUnits)
	mux.HandleFunc("GET /v1/users/{userID}/units/{unitID}", s.handleUnit)
	mux.HandleFunc("POST /v1/users/{userID}/units/{unitID}/test", s.handleUnitTest)
	mux.HandleFunc("GET /v1/users/{userID}/final-test", s.handleFinalTest)
	mux.HandleFunc("POST /v1/users/{userID}/final-test/unlock", s.handleFinalTestUnlock)
	mux.HandleFunc("POST /v1/users/{userID}/final-test", s.handleFinalTestTake)
	mux.HandleFunc("GET /v1/users/{userID}/report.xlsx", s.handleReport)
	if s.hub != nil {
		mux.HandleFunc("GET /v1/users/{userID}/events", s.handleEvents)
	}
	return mux
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	failed := map[string]string{}
	for name, c := range s.checks {
		if err := c.HealthCheck(ctx); err != nil {
			slog.Warn("readiness check failed", "dependency", name, "error", err)
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failed": failed})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}

func (s *Server) handleCurriculum(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.curriculum)
}

func (s *Server) handleOverall(w http.ResponseWriter, r *http.Request) {
	m, ok := s.manager(w, r)
	if !ok {
		return
	}
	o, err := m.OverallProgress(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	m, ok := s.manager(w, r)
	if !ok {
		return
	}
	res, err := m.ResetProgress(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOutcome(w, res, res)
}

func (s *Server) handleLessons(w http.ResponseWriter, r *http.Request) {
	m, ok := s.manager(w, r)
	if !ok {
		return
	}
	views, err := m.Lessons(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleLesson(w http.ResponseWriter, r *http.Request) {
	m, ok := s.manager(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "lessonID")
	if !ok {
		return
	}
	v, err := m.LessonProgress(r.Context(), curriculum.LessonID(id))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleLessonAttempt(w http.ResponseWriter, r *http.Request) {
	m, ok := s.manager(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "lessonID")
	if !ok {
		return
	}
	res, err := m.RecordLessonAttempt(r.Context(), curriculum.LessonID(id))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOutcome(w, res.Outcome, res)
}

func (s *Server) handleLessonComplete(w http.ResponseWriter, r *http.Request) {
	m, ok := s.manager(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "lessonID")
	if !ok {
		return
	}
	score, ok := readScore(w, r)
	if !ok {
		return
	}
	res, err := m.CompleteLesson(r.Context(), curriculum.LessonID(id), score)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOutcome(w, res.Outcome, res)
}

func (s *Server) handleUnits(w http.ResponseWriter, r *http.Request) {
	m, ok := s.manager(w, r)
	if !ok {
		return
	}
	views, err := m.Units(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleUnit(w http.ResponseWriter, r *http.Request) {
	m, ok := s.manager(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "unitID")
	if !ok {
		return
	}
	v, err := m.UnitProgress(r.Context(), curriculum.UnitID(id))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleUnitTest(w http.ResponseWriter, r *http.Request) {
	m, ok := s.manager(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "unitID")
	if !ok {
		return
	}
	score, ok := readScore(w, r)
	if !ok {
		return
	}
	res, err := m.TakeUnitTest(r.Context(), curriculum.UnitID(id), score)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOutcome(w, res.Outcome, res)
}

func (s *Server) handleFinalTest(w http.ResponseWriter, r *http.Request) {
	m, ok := s.manager(w, r)
	if !ok {
		return
	}
	v, err := m.FinalTestProgress(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleFinalTestUnlock(w http.ResponseWriter, r *http.Request) {
	m, ok := s.manager(w, r)
	if !ok {
		return
	}
	res, err := m.UnlockFinalTest(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOutcome(w, res.Outcome, res)
}

func (s *Server) handleFinalTestTake(w http.ResponseWriter, r *http.Request) {
	m, ok := s.manager(w, r)
	if !ok {
		return
	}
	score, ok := readScore(w, r)
	if !ok {
		return
	}
	res, err := m.TakeFinalTest(r.Context(), score)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOutcome(w, res.Outcome, res)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	m, ok := s.manager(w, r)
	if !ok {
		return
	}
	data, err := report.Collect(r.Context(), m)
	if err != nil {
		writeErr(w, err)
		return
	}

	var buf bytes.Buffer
	if err := report.Write(&buf, data, s.reportOpts); err != nil {
		slog.Error("failed to render report", "user_id", m.UserID(), "error", err)
		writeError(w, http.StatusInternalServerError, "failed to render report")
		return
	}

	w.Header().Set("Content-Type", xlsxType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="progress-%s.xlsx"`, m.UserID()))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	if err := progress.ValidateUserID(userID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.hub.ServeUser(w, r, userID)
}

func (s *Server) manager(w http.ResponseWriter, r *http.Request) (*progress.Manager, bool) {
	m, err := s.registry.Get(r.PathValue("userID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return m, true
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	id, err := strconv.Atoi(r.PathValue(name))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("%s must be an integer", name))
		return 0, false
	}
	return id, true
}

type scoreRequest struct {
	Score *int `json:"score"`
}

func readScore(w http.ResponseWriter, r *http.Request) (int, bool) {
	var req scoreRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return 0, false
	}
	if req.Score == nil {
		writeError(w, http.StatusBadRequest, "score is required")
		return 0, false
	}
	return *req.Score, true
}

// statusFor maps a denial reason to an HTTP status.
func statusFor(reason progress.Reason) int {
	switch reason {
	case progress.ReasonLocked:
		return http.StatusForbidden
	case progress.ReasonRateLimited, progress.ReasonAlreadyAttemptedToday:
		return http.StatusTooManyRequests
	case progress.ReasonInsufficientFunds:
		return http.StatusPaymentRequired
	}
	return http.StatusUnprocessableEntity
}

// writeOutcome writes result with a status derived from its outcome. A persistence
// warning is added to the body as "warning".
func writeOutcome(w http.ResponseWriter, o progress.Outcome, result any) {
	status := http.StatusOK
	if !o.Success {
		status = statusFor(o.Reason)
	}
	if o.Warning == nil {
		writeJSON(w, status, result)
		return
	}

	body, err := json.Marshal(result)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode response")
		return
	}
	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode response")
		return
	}
	fields["warning"] = o.Warning.Error()
	writeJSON(w, status, fields)
}

// writeErr maps engine errors to HTTP statuses.
func writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, curriculum.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, progress.ErrInvalidScore):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, progress.ErrMalformedRecord):
		writeError(w, http.StatusConflict, "stored progress is malformed; reset progress to recover")
	case errors.Is(err, progress.ErrPersistence):
		writeError(w, http.StatusServiceUnavailable, "progress store unavailable")
	default:
		slog.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}
