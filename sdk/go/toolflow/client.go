package toolflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the ToolFlow REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// Plan is the execution plan payload accepted by the server. Parameters may
// contain literal values or "${variable}" references to earlier results.
type Plan struct {
	Strategy string     `json:"strategy"`
	Calls    []ToolCall `json:"calls"`
}

// ToolCall describes a single step of a plan.
type ToolCall struct {
	Step           int            `json:"step"`
	ToolName       string         `json:"tool_name"`
	Parameters     map[string]any `json:"parameters,omitempty"`
	DependsOn      []int          `json:"depends_on,omitempty"`
	Purpose        string         `json:"purpose,omitempty"`
	ResultVariable string         `json:"result_variable,omitempty"`
}

// StepOutcome mirrors the per-step result reported by the server.
type StepOutcome struct {
	Step         int    `json:"step"`
	ToolName     string `json:"tool_name"`
	Success      bool   `json:"success"`
	Value        any    `json:"value,omitempty"`
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	DurationMs   int64  `json:"duration_ms"`
}

// ExecutionResult is the aggregated outcome of one plan execution.
type ExecutionResult struct {
	Strategy       string        `json:"strategy"`
	Outcomes       []StepOutcome `json:"outcomes"`
	OverallSuccess bool          `json:"overall_success"`
	FinalValue     any           `json:"final_value,omitempty"`
}

// Run describes a queued plan execution.
type Run struct {
	ID         string           `json:"id"`
	Plan       *Plan            `json:"plan,omitempty"`
	Status     string           `json:"status"`
	Attempts   int              `json:"attempts"`
	MaxRetries int              `json:"max_retries"`
	LastError  string           `json:"last_error,omitempty"`
	ErrorCode  string           `json:"error_code,omitempty"`
	Result     *ExecutionResult `json:"result,omitempty"`
	CreatedAt  int64            `json:"created_at"`
	UpdatedAt  int64            `json:"updated_at"`
}

// Tool describes one tool exposed by a registered provider.
type Tool struct {
	Name        string `json:"tool_name"`
	Provider    string `json:"provider_id"`
	Description string `json:"description,omitempty"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("toolflow api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("toolflow api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the ToolFlow API. When httpClient is
// nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) *Client {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		panic(fmt.Sprintf("invalid base url: %v", err))
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}
}

// SubmitRun queues a plan for asynchronous execution.
func (c *Client) SubmitRun(ctx context.Context, plan Plan) (Run, error) {
	var created Run
	payload := struct {
		Plan Plan `json:"plan"`
	}{Plan: plan}
	if err := c.post(ctx, "/api/v1/runs", payload, &created); err != nil {
		return Run{}, err
	}
	return created, nil
}

// GetRun fetches run details by identifier.
func (c *Client) GetRun(ctx context.Context, runID string) (Run, error) {
	var detail Run
	if err := c.get(ctx, "/api/v1/runs/"+url.PathEscape(runID), &detail); err != nil {
		return Run{}, err
	}
	return detail, nil
}

// WaitForRun polls the run until it reaches a terminal status or the context
// is cancelled.
func (c *Client) WaitForRun(ctx context.Context, runID string, interval time.Duration) (Run, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		detail, err := c.GetRun(ctx, runID)
		if err != nil {
			return Run{}, err
		}
		if detail.Status == "succeeded" || detail.Status == "failed" {
			return detail, nil
		}
		select {
		case <-ctx.Done():
			return Run{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Execute runs a plan synchronously, bypassing the queue.
func (c *Client) Execute(ctx context.Context, plan Plan) (ExecutionResult, error) {
	var result ExecutionResult
	if err := c.post(ctx, "/api/v1/execute", plan, &result); err != nil {
		return ExecutionResult{}, err
	}
	return result, nil
}

// ListTools returns every tool currently exposed by the server.
func (c *Client) ListTools(ctx context.Context) ([]Tool, error) {
	var tools []Tool
	if err := c.get(ctx, "/api/v1/tools", &tools); err != nil {
		return nil, err
	}
	return tools, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr APIError
		apiErr.StatusCode = resp.StatusCode
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &struct {
				Error *APIError `json:"error"`
			}{Error: &apiErr}); err != nil {
				// try direct decode into apiErr if server returned flat payload
				_ = json.Unmarshal(data, &apiErr)
			}
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
