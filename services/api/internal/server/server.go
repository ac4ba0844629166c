package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"chapterwise/internal/publishtoken"
	"chapterwise/internal/ratelimit"
	"chapterwise/internal/usertoken"
	"chapterwise/internal/util"
	"chapterwise/pkg/domain"
	"chapterwise/services/api/internal/app"
)

const maxBodyBytes = 1 << 20

// Limiter gates question creation per reader. *ratelimit.FixedWindow satisfies it.
type Limiter interface {
	Allow(ctx context.Context, key string) (ratelimit.Decision, error)
}

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	TokenVerifier  *usertoken.Verifier
	Publishers     *publishtoken.Verifier
	QuestionLimit  Limiter
	CORSOrigins    []string
	TrustedProxies *util.TrustedProxies
}

// Server exposes the reading companion API.
type Server struct {
	app           *app.App
	tokenVerifier *usertoken.Verifier
	publishers    *publishtoken.Verifier
	questionLimit Limiter
	corsOrigins   []string
	proxies       *util.TrustedProxies
	mux           *http.ServeMux
}

func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app required")
	}
	if cfg.TokenVerifier == nil {
		return nil, errors.New("token verifier required")
	}
	s := &Server{
		app:           cfg.App,
		tokenVerifier: cfg.TokenVerifier,
		publishers:    cfg.Publishers,
		questionLimit: cfg.QuestionLimit,
		corsOrigins:   cfg.CORSOrigins,
		proxies:       cfg.TrustedProxies,
		mux:           http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	var h http.Handler = s.mux
	h = util.WithCORS(s.corsOrigins, h)
	h = util.WithSecurityHeaders(h)
	h = util.WithRequestLog(h)
	return util.WithRequestID(h)
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	s.mux.Handle("GET /progress", s.withUser(s.handleListProgress))
	s.mux.Handle("POST /progress", s.withUser(s.handleSaveProgress))
	s.mux.Handle("GET /progress/title/{bookId}", s.withUser(s.handleGetProgress))
	s.mux.Handle("DELETE /progress/title/{bookId}", s.withUser(s.handleDeleteProgress))

	s.mux.Handle("POST /questions", s.withUser(s.handleCreateQuestion))
	s.mux.Handle("POST /questions/{id}/generate", s.withUser(s.handleGenerate))
	s.mux.Handle("GET /questions/{id}", s.withUser(s.handleGetQuestion))
	s.mux.Handle("DELETE /questions/{id}", s.withUser(s.handleDeleteQuestion))
	s.mux.Handle("GET /questions/title/{bookId}", s.withUser(s.handleListQuestions))

	s.mux.HandleFunc("GET /chapters/title/{bookId}/count", s.handleChapterCount)
	s.mux.Handle("POST /chapters", s.withPublisher(s.handleSaveChapter))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.app.Ready(ctx); err != nil {
		util.LoggerFromContext(r.Context()).Error("health check failed", "err", err)
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type userHandler func(http.ResponseWriter, *http.Request, string)

func (s *Server) withUser(next userHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		userID, err := s.tokenVerifier.VerifySubject(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		ctx := util.ContextWithLogger(r.Context(), util.LoggerFromContext(r.Context()).With("user_id", userID))
		next(w, r.WithContext(ctx), userID)
	})
}

// withPublisher accepts publish tokens, falling back to reader tokens when
// no publisher key is configured.
func (s *Server) withPublisher(next userHandler) http.Handler {
	if s.publishers == nil {
		return s.withUser(next)
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		issuer, err := s.publishers.Verify(token)
		if err != nil {
			writeError(w, http.StatusForbidden, "publish token required")
			return
		}
		ctx := util.ContextWithLogger(r.Context(), util.LoggerFromContext(r.Context()).With("publisher", issuer))
		next(w, r.WithContext(ctx), issuer)
	})
}

func (s *Server) handleListProgress(w http.ResponseWriter, r *http.Request, userID string) {
	list, err := s.app.ListProgress(r.Context(), userID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(list))
}

func (s *Server) handleGetProgress(w http.ResponseWriter, r *http.Request, userID string) {
	p, err := s.app.GetProgress(r.Context(), userID, r.PathValue("bookId"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleSaveProgress(w http.ResponseWriter, r *http.Request, userID string) {
	var req domain.ProgressUpdate
	if !decodeBody(w, r, &req) {
		return
	}
	p, err := s.app.SaveProgress(r.Context(), userID, req)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeleteProgress(w http.ResponseWriter, r *http.Request, userID string) {
	if err := s.app.DeleteProgress(r.Context(), userID, r.PathValue("bookId")); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (s *Server) handleCreateQuestion(w http.ResponseWriter, r *http.Request, userID string) {
	if !s.allowQuestion(w, r, userID) {
		return
	}
	var req domain.NewQuestion
	if !decodeBody(w, r, &req) {
		return
	}
	q, err := s.app.CreateQuestion(r.Context(), userID, req)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, q)
}

type generateRequest struct {
	QuestionID string `json:"question_id"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request, userID string) {
	id := r.PathValue("id")
	var req generateRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	if req.QuestionID != "" && req.QuestionID != id {
		writeError(w, http.StatusBadRequest, "question_id does not match path")
		return
	}
	job, err := s.app.TriggerGeneration(r.Context(), userID, id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleGetQuestion(w http.ResponseWriter, r *http.Request, userID string) {
	q, err := s.app.GetQuestion(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *Server) handleDeleteQuestion(w http.ResponseWriter, r *http.Request, userID string) {
	if err := s.app.DeleteQuestion(r.Context(), userID, r.PathValue("id")); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (s *Server) handleListQuestions(w http.ResponseWriter, r *http.Request, userID string) {
	list, err := s.app.ListQuestions(r.Context(), userID, r.PathValue("bookId"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(list))
}

func (s *Server) handleChapterCount(w http.ResponseWriter, r *http.Request) {
	n, err := s.app.ChapterCount(r.Context(), r.PathValue("bookId"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

func (s *Server) handleSaveChapter(w http.ResponseWriter, r *http.Request, _ string) {
	var req domain.Chapter
	if !decodeBody(w, r, &req) {
		return
	}
	ch, err := s.app.SaveChapter(r.Context(), req)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ch)
}

// allowQuestion writes 429 and returns false once the reader's window is spent.
func (s *Server) allowQuestion(w http.ResponseWriter, r *http.Request, userID string) bool {
	if s.questionLimit == nil {
		return true
	}
	d, err := s.questionLimit.Allow(r.Context(), "questions:"+userID)
	if err != nil {
		util.LoggerFromContext(r.Context()).Error("rate limiter unavailable", "client_ip", util.ClientIP(r, s.proxies), "err", err)
		writeError(w, http.StatusServiceUnavailable, "rate limiter unavailable")
		return false
	}
	if !d.Allowed {
		secs := int(d.RetryAfter.Round(time.Second) / time.Second)
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		writeError(w, http.StatusTooManyRequests, "too many questions, slow down")
		return false
	}
	return true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: true, Data: payload})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: false, Error: msg})
}

func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	var vErr *app.ValidationError
	switch {
	case errors.As(err, &vErr):
		writeError(w, http.StatusBadRequest, vErr.Message)
	case errors.Is(err, app.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, app.ErrNoProgress), errors.Is(err, app.ErrChapterLimit):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, app.ErrQueueUnavailable):
		writeError(w, http.StatusServiceUnavailable, app.ErrQueueUnavailable.Error())
	default:
		util.LoggerFromContext(r.Context()).Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}
