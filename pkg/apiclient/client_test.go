package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"chapterwise/pkg/domain"
	"chapterwise/pkg/session"
)

func newSession(t *testing.T) *session.Memory {
	t.Helper()
	m := session.NewMemory(nil)
	m.Set("user-1", "good-token")
	return m
}

func writeEnvelope(w http.ResponseWriter, status int, data any, errMsg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	payload := map[string]any{"success": errMsg == ""}
	if errMsg != "" {
		payload["error"] = errMsg
	} else {
		payload["data"] = data
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func TestCreateQuestionSendsBearerAndDecodesEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/questions" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer good-token" {
			t.Errorf("authorization = %q", got)
		}
		var req domain.NewQuestion
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.ChapterLimit != 5 || req.BookID != "book-1" {
			t.Errorf("unexpected payload: %+v", req)
		}
		writeEnvelope(w, http.StatusCreated, domain.Question{
			ID:           "q-1",
			BookID:       req.BookID,
			Text:         req.Text,
			ChapterLimit: req.ChapterLimit,
			Status:       domain.StatusPending,
		}, "")
	}))
	defer srv.Close()

	c := NewClient(srv.URL, newSession(t))
	q, err := c.CreateQuestion(context.Background(), domain.NewQuestion{BookID: "book-1", Text: "Who?", ChapterLimit: 5})
	if err != nil {
		t.Fatalf("create question: %v", err)
	}
	if q.ID != "q-1" || q.Status != domain.StatusPending {
		t.Fatalf("unexpected question: %+v", q)
	}
}

func TestUnauthorizedInvalidatesCredential(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusUnauthorized, nil, "unauthorized")
	}))
	defer srv.Close()

	creds := newSession(t)
	c := NewClient(srv.URL, creds)
	_, err := c.GetQuestion(context.Background(), "q-1")
	if !errors.Is(err, ErrAuthRequired) {
		t.Fatalf("expected ErrAuthRequired, got %v", err)
	}
	if _, ok := creds.Token(); ok {
		t.Fatalf("expected credential to be invalidated")
	}
}

func TestAuthenticatedCallWithoutCredentialSkipsNetwork(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, session.NewMemory(nil))
	if _, err := c.ListQuestions(context.Background(), "book-1"); !errors.Is(err, ErrAuthRequired) {
		t.Fatalf("expected ErrAuthRequired, got %v", err)
	}
	if atomic.LoadInt32(&hits) != 0 {
		t.Fatalf("expected no request, got %d", hits)
	}
}

func TestGetProgressNotFoundIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusNotFound, nil, "progress not found")
	}))
	defer srv.Close()

	c := NewClient(srv.URL, newSession(t))
	p, ok, err := c.GetProgress(context.Background(), "book-1")
	if err != nil || ok {
		t.Fatalf("expected missing progress, got ok=%v err=%v", ok, err)
	}
	if p.CurrentChapter != 0 || p.TotalChapters != 0 {
		t.Fatalf("expected zero progress, got %+v", p)
	}
}

func TestSuccessFalseEnvelopeIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "chapter limit too high"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, newSession(t))
	_, err := c.CreateQuestion(context.Background(), domain.NewQuestion{BookID: "b", Text: "t", ChapterLimit: 1})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "chapter limit too high" {
		t.Fatalf("expected APIError with message, got %v", err)
	}
}

func TestServerErrorsAndTransportFailuresAreUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	c := NewClient(srv.URL, newSession(t))
	if _, err := c.GetQuestion(context.Background(), "q-1"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable for 502, got %v", err)
	}
	srv.Close()

	if _, err := c.GetQuestion(context.Background(), "q-1"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable for closed server, got %v", err)
	}
}

func TestChapterCountIsUnauthenticated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Errorf("chapter count should not send credentials")
		}
		if r.URL.Path != "/chapters/title/book-1/count" {
			http.NotFound(w, r)
			return
		}
		writeEnvelope(w, http.StatusOK, map[string]int{"count": 24}, "")
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	n, err := c.ChapterCount(context.Background(), "book-1")
	if err != nil || n != 24 {
		t.Fatalf("chapter count = %d, %v", n, err)
	}
}
