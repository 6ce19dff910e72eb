// Package client talks to the governance API over HTTP. It is used by the
// worker and by sfctl.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ThewitchASarz/sucrityflash/internal/domain"
	"github.com/ThewitchASarz/sucrityflash/internal/service/execution"
)

// APIError is a non 2xx response. Code and Reason come from the error body.
type APIError struct {
	StatusCode int
	Code       domain.Code
	Reason     string
	RequestID  string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("governance api error (status=%d)", e.StatusCode)
	}
	if e.Reason == "" {
		return fmt.Sprintf("governance api error (status=%d): %s", e.StatusCode, e.Code)
	}
	return fmt.Sprintf("governance api error (status=%d): %s: %s", e.StatusCode, e.Code, e.Reason)
}

// StatusOf returns the HTTP status of err, or 0.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New returns a client for baseURL authenticating with a bearer token.
func New(baseURL, token string, httpClient *http.Client) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("api url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("api url is invalid: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: baseURL, token: strings.TrimSpace(token), http: httpClient}, nil
}

// Worker endpoints.

func (c *Client) PollActions(ctx context.Context, limit int) ([]domain.WorkItem, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out struct {
		Actions []domain.WorkItem `json:"actions"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/v1/worker/actions", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Actions, nil
}

func (c *Client) ClaimAction(ctx context.Context, actionID string) (domain.WorkItem, error) {
	var out domain.WorkItem
	err := c.call(ctx, http.MethodPost, "/api/v1/worker/actions/"+url.PathEscape(actionID)+"/claim", nil, struct{}{}, &out)
	return out, err
}

func (c *Client) CompleteAction(ctx context.Context, actionID string, req execution.CompleteRequest) (execution.Result, error) {
	var out execution.Result
	err := c.call(ctx, http.MethodPost, "/api/v1/worker/actions/"+url.PathEscape(actionID)+"/complete", nil, req, &out)
	return out, err
}

type RunStatus struct {
	RunID  string           `json:"run_id"`
	Status domain.RunStatus `json:"status"`
}

func (c *Client) RunStatus(ctx context.Context, runID string) (domain.RunStatus, error) {
	var out RunStatus
	if err := c.call(ctx, http.MethodGet, "/api/v1/runs/"+url.PathEscape(runID)+"/status", nil, nil, &out); err != nil {
		return "", err
	}
	return out.Status, nil
}

// Reviewer endpoints.

func (c *Client) PendingApprovals(ctx context.Context, runID string, limit int) ([]domain.ActionSpec, error) {
	q := url.Values{}
	if runID != "" {
		q.Set("run_id", runID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out struct {
		Actions []domain.ActionSpec `json:"actions"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/v1/approvals/pending", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Actions, nil
}

type ReviewResult struct {
	Action    domain.ActionSpec `json:"action"`
	Approval  *domain.Approval  `json:"approval,omitempty"`
	Approvals int               `json:"approvals"`
	Unchanged bool              `json:"unchanged,omitempty"`
}

type reasonBody struct {
	Reason string `json:"reason,omitempty"`
}

func (c *Client) Approve(ctx context.Context, actionID, reason string) (ReviewResult, error) {
	var out ReviewResult
	err := c.call(ctx, http.MethodPost, "/api/v1/actions/"+url.PathEscape(actionID)+"/approve", nil, reasonBody{Reason: reason}, &out)
	return out, err
}

func (c *Client) Reject(ctx context.Context, actionID, reason string) (ReviewResult, error) {
	var out ReviewResult
	err := c.call(ctx, http.MethodPost, "/api/v1/actions/"+url.PathEscape(actionID)+"/reject", nil, reasonBody{Reason: reason}, &out)
	return out, err
}

func (c *Client) KillRun(ctx context.Context, runID, reason string) (domain.Run, error) {
	var out domain.Run
	err := c.call(ctx, http.MethodPost, "/api/v1/runs/"+url.PathEscape(runID)+"/kill", nil, reasonBody{Reason: reason}, &out)
	return out, err
}

func (c *Client) Timeline(ctx context.Context, runID string, limit int) ([]domain.AuditEntry, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out struct {
		Entries []domain.AuditEntry `json:"entries"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/v1/runs/"+url.PathEscape(runID)+"/timeline", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Entries, nil
}

func (c *Client) Stats(ctx context.Context, runID string) (domain.RunStats, error) {
	var out domain.RunStats
	err := c.call(ctx, http.MethodGet, "/api/v1/runs/"+url.PathEscape(runID)+"/stats", nil, nil, &out)
	return out, err
}

// CreateScopeRequest is the body of POST /api/v1/scopes.
type CreateScopeRequest struct {
	ProjectID string `json:"project_id"`
	domain.ScopeDefinition
}

func (c *Client) CreateScope(ctx context.Context, projectID string, def domain.ScopeDefinition) (domain.Scope, error) {
	var out domain.Scope
	err := c.call(ctx, http.MethodPost, "/api/v1/scopes", nil, CreateScopeRequest{ProjectID: projectID, ScopeDefinition: def}, &out)
	return out, err
}

func (c *Client) LockScope(ctx context.Context, scopeID string) (domain.Scope, error) {
	var out domain.Scope
	err := c.call(ctx, http.MethodPost, "/api/v1/scopes/"+url.PathEscape(scopeID)+"/lock", nil, struct{}{}, &out)
	return out, err
}

func (c *Client) call(ctx context.Context, method, path string, query url.Values, in, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var payload struct {
			Error     string `json:"error"`
			Reason    string `json:"reason"`
			RequestID string `json:"request_id"`
		}
		if json.Unmarshal(body, &payload) == nil {
			apiErr.Code = domain.Code(payload.Error)
			apiErr.Reason = payload.Reason
			apiErr.RequestID = payload.RequestID
		}
		return apiErr
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
