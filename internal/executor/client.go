// Package executor is the client for the remote code execution service.
// It submits the session's buffer for execution, feeds the response back
// into session state, and can ask the service to interrupt a running script.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/joescharf/pyconsole/internal/console"
)

// Request is the execution payload sent to the remote service.
type Request struct {
	Code          string `json:"code"`
	EnableTracing bool   `json:"enable_tracing"`
}

// Response is the structured result of a remote execution.
type Response struct {
	Stdout         string `json:"stdout"`
	Stderr         string `json:"stderr"`
	Result         any    `json:"result"`
	ExecutionError string `json:"execution_error,omitempty"`
	DebugLog       string `json:"debug_log,omitempty"`
}

// StatusError is returned when the execution service answers with a
// non-2xx status. It carries the status code and response body unchanged.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("execution service returned %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

// Client talks to the remote execution service. It performs no retries: a
// failed call surfaces its error to the caller unchanged.
type Client struct {
	baseURL       string
	enableTracing bool
	httpClient    *http.Client
}

// NewClient creates an executor client for the service at baseURL.
func NewClient(baseURL string, enableTracing bool) *Client {
	return &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		enableTracing: enableTracing,
		httpClient:    &http.Client{Timeout: 60 * time.Second},
	}
}

// Execute submits the session's current buffer to the execution service.
// The session's running flag is set for the duration of the call and
// cleared on settlement, success or failure. On success the response's
// stdout and stderr are appended to the session output and any
// execution_error is recorded as the session's last error.
func (c *Client) Execute(ctx context.Context, session *console.Session) (*Response, error) {
	session.SetRunning(true)
	defer session.SetRunning(false)

	resp, err := c.post(ctx, "/api/python/runcode", Request{
		Code:          session.Code(),
		EnableTracing: c.enableTracing,
	})
	if err != nil {
		return nil, err
	}

	if resp.Stdout != "" {
		session.AppendOutput(resp.Stdout)
	}
	if resp.Stderr != "" {
		session.AppendOutput(resp.Stderr)
	}
	if resp.ExecutionError != "" {
		session.SetLastError(resp.ExecutionError)
	}
	return resp, nil
}

// Interrupt asks the service to abort the in-flight execution. It is
// fire-and-forget with respect to session state: the settlement of the
// corresponding Execute call handles the running flag and output.
func (c *Client) Interrupt(ctx context.Context) error {
	body, err := json.Marshal(struct{}{})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/python/interrupt", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build interrupt request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("interrupt: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		data, _ := io.ReadAll(res.Body)
		return &StatusError{StatusCode: res.StatusCode, Body: string(data)}
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, payload Request) (*Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute: %w", err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, &StatusError{StatusCode: res.StatusCode, Body: string(data)}
	}

	var out Response
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return &out, nil
}
