package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"chapterwise/pkg/domain"
	"chapterwise/pkg/session"
)

// Client calls the reading companion API over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	creds      session.Credentials
	logger     *slog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default 10s-timeout HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger sets the logger used for failed calls.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient constructs an API client. creds supplies the bearer token for
// authenticated endpoints and is invalidated on 401 responses.
func NewClient(baseURL string, creds session.Credentials, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		creds:      creds,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// GetProgress returns the caller's progress for a book. A missing record is
// reported as ok=false with a nil error.
func (c *Client) GetProgress(ctx context.Context, bookID string) (domain.Progress, bool, error) {
	var p *domain.Progress
	err := c.call(ctx, http.MethodGet, "/progress/title/"+url.PathEscape(bookID), nil, true, &p)
	if errors.Is(err, ErrNotFound) {
		return domain.Progress{}, false, nil
	}
	if err != nil {
		return domain.Progress{}, false, err
	}
	if p == nil {
		return domain.Progress{}, false, nil
	}
	if p.BookID == "" {
		p.BookID = bookID
	}
	return *p, true, nil
}

// ListProgress returns progress for every book the caller has started.
func (c *Client) ListProgress(ctx context.Context) ([]domain.Progress, error) {
	var items []domain.Progress
	if err := c.call(ctx, http.MethodGet, "/progress", nil, true, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// SaveProgress upserts progress for (caller, book).
func (c *Client) SaveProgress(ctx context.Context, update domain.ProgressUpdate) (domain.Progress, error) {
	var p domain.Progress
	if err := c.call(ctx, http.MethodPost, "/progress", update, true, &p); err != nil {
		return domain.Progress{}, err
	}
	if p.BookID == "" {
		p.BookID = update.BookID
	}
	return p, nil
}

func (c *Client) DeleteProgress(ctx context.Context, bookID string) error {
	return c.call(ctx, http.MethodDelete, "/progress/title/"+url.PathEscape(bookID), nil, true, nil)
}

func (c *Client) CreateQuestion(ctx context.Context, q domain.NewQuestion) (domain.Question, error) {
	var created domain.Question
	if err := c.call(ctx, http.MethodPost, "/questions", q, true, &created); err != nil {
		return domain.Question{}, err
	}
	if created.ID == "" {
		return domain.Question{}, errors.New("create question: response missing id")
	}
	return created, nil
}

// TriggerGeneration asks the backend to start producing an answer.
func (c *Client) TriggerGeneration(ctx context.Context, questionID string) (domain.GenerationJob, error) {
	payload := map[string]string{"question_id": questionID}
	var job domain.GenerationJob
	path := "/questions/" + url.PathEscape(questionID) + "/generate"
	if err := c.call(ctx, http.MethodPost, path, payload, true, &job); err != nil {
		return domain.GenerationJob{}, err
	}
	return job, nil
}

func (c *Client) GetQuestion(ctx context.Context, questionID string) (domain.Question, error) {
	var q domain.Question
	if err := c.call(ctx, http.MethodGet, "/questions/"+url.PathEscape(questionID), nil, true, &q); err != nil {
		return domain.Question{}, err
	}
	return q, nil
}

// ListQuestions returns the caller's questions for a book in server order.
func (c *Client) ListQuestions(ctx context.Context, bookID string) ([]domain.Question, error) {
	var items []domain.Question
	if err := c.call(ctx, http.MethodGet, "/questions/title/"+url.PathEscape(bookID), nil, true, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (c *Client) DeleteQuestion(ctx context.Context, questionID string) error {
	return c.call(ctx, http.MethodDelete, "/questions/"+url.PathEscape(questionID), nil, true, nil)
}

// ChapterCount is public and sent without credentials.
func (c *Client) ChapterCount(ctx context.Context, bookID string) (int, error) {
	var resp struct {
		Count int `json:"count"`
	}
	path := "/chapters/title/" + url.PathEscape(bookID) + "/count"
	if err := c.call(ctx, http.MethodGet, path, nil, false, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

func (c *Client) CreateChapter(ctx context.Context, ch domain.Chapter) (domain.Chapter, error) {
	var saved domain.Chapter
	if err := c.call(ctx, http.MethodPost, "/chapters", ch, true, &saved); err != nil {
		return domain.Chapter{}, err
	}
	return saved, nil
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func (c *Client) call(ctx context.Context, method, path string, body any, authed bool, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		token, ok := c.token()
		if !ok {
			return &APIError{Status: http.StatusUnauthorized, Message: ErrAuthRequired.Error()}
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if err := c.do(req, out); err != nil {
		c.logger.Warn("api call failed", "method", method, "path", path, "err", err)
		return err
	}
	return nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return ctxErr
		}
		return &transportError{op: req.Method + " " + req.URL.Path, err: err}
	}
	defer resp.Body.Close()

	var env envelope
	decodeErr := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&env)

	if resp.StatusCode == http.StatusUnauthorized {
		if c.creds != nil {
			c.creds.Invalidate()
		}
		return &APIError{Status: resp.StatusCode, Message: ErrAuthRequired.Error()}
	}
	if resp.StatusCode >= 400 {
		msg := strings.TrimSpace(env.Error)
		if msg == "" {
			msg = resp.Status
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return fmt.Errorf("decode response: %w", decodeErr)
	}
	if !env.Success {
		msg := strings.TrimSpace(env.Error)
		if msg == "" {
			msg = "request failed"
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}

func (c *Client) token() (string, bool) {
	if c.creds == nil {
		return "", false
	}
	return c.creds.Token()
}
