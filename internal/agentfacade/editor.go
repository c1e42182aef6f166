// Package agentfacade implements the Agent Façade (spec §4.10): a wrapper
// over the black-box code-editing agent (title/plan/implement/self-review/
// tests/PR body) plus the façade's own text-generation calls.
package agentfacade

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const (
	defaultTimeout = 10 * time.Minute
	maxRetries     = 3
	retryBaseDelay = 2 * time.Second
)

// Logger is satisfied by *zap.SugaredLogger and friends; kept minimal so
// this package doesn't force a logging dependency on callers that don't
// want debug tracing.
type Logger interface {
	Debugw(msg string, keysAndValues ...any)
}

// EditRequest is one invocation of the black-box editing agent: a prompt
// plus the repo context it should operate in.
type EditRequest struct {
	RepoDir     string
	Prompt      string
	Model       string
	ImagePaths  []string // staged under .images/, relative to RepoDir
}

// EditOutcome is the façade's structured view of what the editing agent
// did, deliberately richer than a bare "changed files: bool" (spec §9
// redesign note): a caller can distinguish "agent reported success but
// touched nothing" from "agent errored" from "agent made changes".
type EditOutcome struct {
	Completed        bool
	PromptTokens     int
	CompletionTokens int
	RawMessage       string
}

// EditorClient is the black-box code-editing agent boundary (spec §1:
// out-of-scope, external collaborator, interface only). The façade drives
// it; nothing else in the pipeline talks to it directly.
type EditorClient interface {
	Edit(ctx context.Context, req EditRequest) (*EditOutcome, error)
}

// httpEditorClient is a minimal HTTP client for a black-box editing-agent
// service, grounded on the retry/backoff/doRequest shape used for the
// teacher's background-agent API client.
type httpEditorClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     Logger
}

// EditorOption configures an httpEditorClient.
type EditorOption func(*httpEditorClient)

// WithLogger attaches a debug logger.
func WithLogger(l Logger) EditorOption {
	return func(c *httpEditorClient) { c.logger = l }
}

// WithHTTPClient overrides the default HTTP client (used by tests to point
// at an httptest.Server).
func WithHTTPClient(hc *http.Client) EditorOption {
	return func(c *httpEditorClient) { c.httpClient = hc }
}

// NewEditorClient builds an EditorClient against baseURL, authenticated
// with apiKey.
func NewEditorClient(baseURL, apiKey string, opts ...EditorOption) EditorClient {
	c := &httpEditorClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type editRequestBody struct {
	RepoDir string   `json:"repo_dir"`
	Prompt  string   `json:"prompt"`
	Model   string   `json:"model,omitempty"`
	Images  []string `json:"images,omitempty"`
}

type editResponseBody struct {
	Completed        bool   `json:"completed"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	Message          string `json:"message"`
}

func (c *httpEditorClient) logDebug(msg string, kv ...any) {
	if c.logger != nil {
		c.logger.Debugw(msg, kv...)
	}
}

func (c *httpEditorClient) Edit(ctx context.Context, req EditRequest) (*EditOutcome, error) {
	body, err := json.Marshal(editRequestBody{
		RepoDir: req.RepoDir,
		Prompt:  req.Prompt,
		Model:   req.Model,
		Images:  req.ImagePaths,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding edit request: %w", err)
	}

	respBody, err := c.doRequest(ctx, http.MethodPost, "/v1/edit", body)
	if err != nil {
		return nil, err
	}

	var resp editResponseBody
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("decoding edit response: %w", err)
	}
	return &EditOutcome{
		Completed:        resp.Completed,
		PromptTokens:     resp.PromptTokens,
		CompletionTokens: resp.CompletionTokens,
		RawMessage:       resp.Message,
	}, nil
}

// doRequest performs an HTTP request with retry on transport errors and
// 429/5xx responses, bounded exponential backoff, mirroring the teacher's
// background-agent client.
func (c *httpEditorClient) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	full := c.baseURL + path
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := retryBaseDelay * time.Duration(1<<(attempt-1))
			c.logDebug("editor client retry", "attempt", attempt, "delay", delay.String(), "url", full)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		var reqBody io.Reader
		if body != nil {
			reqBody = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, full, reqBody)
		if err != nil {
			return nil, fmt.Errorf("building request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("editor client transport error: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("reading editor response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("editor agent returned %d: %s", resp.StatusCode, string(respBody))
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("editor agent returned %d: %s", resp.StatusCode, string(respBody))
		}
		return respBody, nil
	}
	return nil, fmt.Errorf("editor client giving up after %d retries: %w", maxRetries, lastErr)
}

// escapeQuery URL-escapes a query string. Nothing in the package calls it at
// present.
func escapeQuery(q string) string {
	return url.QueryEscape(q)
}
