package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/mblsha/diagforge/internal/job"
	"github.com/mblsha/diagforge/internal/wire"
)

const defaultAuthHeader = "X-Build-Token"

type HTTPClient struct {
	BaseURL    string
	Token      string
	AuthHeader string
	Client     *http.Client
}

// APIError is a non-2xx reply. Field is set for request validation errors.
type APIError struct {
	Op         string
	StatusCode int
	Message    string
	Field      string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s failed: status=%d %s", e.Op, e.StatusCode, e.Message)
}

func (c *HTTPClient) Submit(ctx context.Context, targets []string) (string, error) {
	var payload struct {
		JobID string `json:"job_id"`
	}
	body := map[string][]string{"targets": targets}
	if err := c.doJSON(ctx, "submit", http.MethodPost, "/v1/jobs", nil, body, http.StatusAccepted, &payload); err != nil {
		return "", err
	}
	if payload.JobID == "" {
		return "", fmt.Errorf("submit response missing job_id")
	}
	return payload.JobID, nil
}

func (c *HTTPClient) GetJob(ctx context.Context, jobID string) (*job.Record, error) {
	var record job.Record
	if err := c.doJSON(ctx, "get job", http.MethodGet, path.Join("/v1/jobs", jobID), nil, nil, http.StatusOK, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func (c *HTTPClient) WaitForTerminal(ctx context.Context, jobID string, pollInterval time.Duration) (*job.Record, error) {
	return c.WaitForTerminalWithProgress(ctx, jobID, pollInterval, nil)
}

func (c *HTTPClient) WaitForTerminalWithProgress(
	ctx context.Context,
	jobID string,
	pollInterval time.Duration,
	onUpdate func(record *job.Record),
) (*job.Record, error) {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		record, err := c.GetJob(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if onUpdate != nil {
			onUpdate(record)
		}
		if record.Terminal() {
			return record, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *HTTPClient) GetDiagnostics(ctx context.Context, jobID string) (*job.DiagnosticsReport, error) {
	var report job.DiagnosticsReport
	if err := c.doJSON(ctx, "get diagnostics", http.MethodGet, path.Join("/v1/jobs", jobID, "diagnostics"), nil, nil, http.StatusOK, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

func (c *HTTPClient) GetLogTail(ctx context.Context, jobID string, lines int) (string, error) {
	if lines <= 0 {
		lines = 200
	}
	query := url.Values{"tail": []string{strconv.Itoa(lines)}}
	resp, err := c.do(ctx, http.MethodGet, path.Join("/v1/jobs", jobID, "log"), query, nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if err := checkStatus("get log tail", resp, http.StatusOK); err != nil {
		return "", err
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// BuildStatus asks for a bounded diagnostic report of the latest build.
func (c *HTTPClient) BuildStatus(ctx context.Context, req wire.Request) (*wire.Response, error) {
	var resp wire.Response
	if err := c.doJSON(ctx, "build status", http.MethodPost, "/v1/build-status", nil, req, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) doJSON(ctx context.Context, op, method, pathPart string, query url.Values, in any, want int, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", op, err)
		}
		body = bytes.NewReader(raw)
	}
	resp, err := c.do(ctx, method, pathPart, query, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(op, resp, want); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", op, err)
	}
	return nil
}

func (c *HTTPClient) do(ctx context.Context, method, pathPart string, query url.Values, body io.Reader) (*http.Response, error) {
	reqURL := c.buildURL(pathPart)
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.setAuth(req)
	return c.httpClient().Do(req)
}

func checkStatus(op string, resp *http.Response, want int) error {
	if resp.StatusCode == want {
		return nil
	}
	raw, _ := io.ReadAll(resp.Body)
	apiErr := &APIError{Op: op, StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	var payload struct {
		Error string `json:"error"`
		Field string `json:"field"`
	}
	if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
		apiErr.Message = payload.Error
		apiErr.Field = payload.Field
	}
	return apiErr
}

func (c *HTTPClient) buildURL(pathPart string) string {
	base := strings.TrimRight(c.BaseURL, "/")
	if base == "" {
		base = "http://127.0.0.1:8080"
	}
	u, err := url.Parse(base)
	if err != nil {
		return base + pathPart
	}
	u.Path = path.Join(u.Path, pathPart)
	return u.String()
}

func (c *HTTPClient) httpClient() *http.Client {
	if c.Client != nil {
		return c.Client
	}
	return http.DefaultClient
}

func (c *HTTPClient) setAuth(req *http.Request) {
	header := c.AuthHeader
	if header == "" {
		header = defaultAuthHeader
	}
	if strings.TrimSpace(c.Token) != "" {
		req.Header.Set(header, c.Token)
	}
}
