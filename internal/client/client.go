// Package client talks to the repochat backend over its HTTP contract.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/seanblong/repochat/pkg/models"
)

const (
	repositoriesPath = "/api/repositories"
	chatPath         = "/api/chat"

	// maxErrorBody bounds how much of a failed response is read for its detail.
	maxErrorBody = 64 << 10
)

// Client is safe for concurrent use.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

type Option func(*Client)

// WithToken sends token as a bearer credential on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithTimeout sets the overall per-request timeout. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		hc := *c.http
		hc.Timeout = d
		c.http = &hc
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// New returns a client for the backend at baseURL, e.g. http://localhost:8000.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 2 * time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the backend address without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// IndexRepository uploads source and registers it under name.
func (c *Client) IndexRepository(ctx context.Context, source Source, name string) (models.Repository, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Repository{}, &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if source == nil {
		return models.Repository{}, &ValidationError{Field: "file", Reason: "is required"}
	}

	body, contentType, err := multipartBody(source, name)
	if err != nil {
		return models.Repository{}, &IndexingError{&RequestError{Op: "index repository", Detail: indexFallback, Err: err}}
	}

	u := c.baseURL + repositoriesPath + "?" + url.Values{"name": {name}}.Encode()
	var repo models.Repository
	if rerr := c.do(ctx, http.MethodPost, u, contentType, body, &repo, "index repository", indexFallback); rerr != nil {
		return models.Repository{}, &IndexingError{rerr}
	}
	return repo, nil
}

// IndexPath resolves a local file or directory and indexes it under name.
func (c *Client) IndexPath(ctx context.Context, path, name string) (models.Repository, error) {
	if strings.TrimSpace(path) == "" {
		return models.Repository{}, &ValidationError{Field: "file", Reason: "is required"}
	}
	source, err := ResolveSource(path)
	if err != nil {
		return models.Repository{}, &ValidationError{Field: "file", Reason: err.Error()}
	}
	return c.IndexRepository(ctx, source, name)
}

// QueryRepository asks the backend about repositoryName.
func (c *Client) QueryRepository(ctx context.Context, message, repositoryName string) (models.ChatMessage, error) {
	b, err := json.Marshal(models.ChatRequest{Message: message, RepositoryName: repositoryName})
	if err != nil {
		return models.ChatMessage{}, &QueryError{&RequestError{Op: "query repository", Detail: queryFallback, Err: err}}
	}
	var reply models.ChatMessage
	if rerr := c.do(ctx, http.MethodPost, c.baseURL+chatPath, "application/json", bytes.NewReader(b), &reply, "query repository", queryFallback); rerr != nil {
		return models.ChatMessage{}, &QueryError{rerr}
	}
	return reply, nil
}

// GetRepositories lists every indexed repository. It never returns a nil slice on success.
func (c *Client) GetRepositories(ctx context.Context) ([]models.Repository, error) {
	var repos []models.Repository
	if rerr := c.do(ctx, http.MethodGet, c.baseURL+repositoriesPath, "", nil, &repos, "list repositories", listFallback); rerr != nil {
		return nil, &ListError{rerr}
	}
	if repos == nil {
		repos = []models.Repository{}
	}
	return repos, nil
}

func (c *Client) do(ctx context.Context, method, u, contentType string, body io.Reader, out any, op, fallback string) *RequestError {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return &RequestError{Op: op, Detail: fallback, Err: err}
	}
	reqID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", reqID)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		log.Debug().Err(err).Str("op", op).Str("request_id", reqID).Msg("request failed")
		return &RequestError{Op: op, Detail: fallback, Err: err}
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close response body")
		}
	}()
	log.Debug().
		Str("op", op).
		Str("method", method).
		Str("url", u).
		Str("request_id", reqID).
		Int("status", resp.StatusCode).
		Dur("took", time.Since(start)).
		Msg("backend request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &RequestError{Op: op, Status: resp.StatusCode, Detail: errorDetail(resp.Body, fallback)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &RequestError{Op: op, Detail: fallback, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// errorDetail extracts {"detail": "..."} from an error body. Validation
// errors carry a list of {msg}; the first msg is used.
func errorDetail(r io.Reader, fallback string) string {
	b, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil || len(b) == 0 {
		return fallback
	}
	var body struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(b, &body); err != nil || len(body.Detail) == 0 {
		return fallback
	}
	var s string
	if err := json.Unmarshal(body.Detail, &s); err == nil {
		if strings.TrimSpace(s) == "" {
			return fallback
		}
		return s
	}
	var list []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(body.Detail, &list); err == nil && len(list) > 0 && list[0].Msg != "" {
		return list[0].Msg
	}
	return fallback
}

func multipartBody(source Source, name string) (io.Reader, string, error) {
	rc, err := source.Open()
	if err != nil {
		return nil, "", fmt.Errorf("open %s: %w", source.Name(), err)
	}
	defer func() { _ = rc.Close() }()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("name", name); err != nil {
		return nil, "", err
	}
	fw, err := mw.CreateFormFile("file", source.Name())
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(fw, rc); err != nil {
		return nil, "", fmt.Errorf("read %s: %w", source.Name(), err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

// Message returns the text to show a user for err: the server detail or
// fallback for backend failures, the error text otherwise.
func Message(err error) string {
	var re *RequestError
	if errors.As(err, &re) {
		return re.Message()
	}
	return err.Error()
}
