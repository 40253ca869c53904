// Package boardsdk is a minimal Boardline HTTP API client.
package boardsdk

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

// Client talks to a Boardline API server about one workspace.
type Client struct {
	BaseURL    string
	Workspace  string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, workspace string) *Client {
	return &Client{
		BaseURL:   baseURL,
		Workspace: workspace,
		Timeout:   10 * time.Second,
	}
}

// Ticket mirrors the API ticket model.
type Ticket struct {
	ID               string        `json:"id"`
	Title            string        `json:"title"`
	Type             string        `json:"type"`
	Priority         string        `json:"priority,omitempty"`
	Intent           string        `json:"intent,omitempty"`
	AcceptanceSignal string        `json:"acceptance_signal,omitempty"`
	Status           string        `json:"status"`
	Parent           string        `json:"parent,omitempty"`
	BlockedBy        []string      `json:"blocked_by,omitempty"`
	RejectionCount   int           `json:"rejection_count,omitempty"`
	CodeLocation     *CodeLocation `json:"code_location,omitempty"`
	CreatedAt        string        `json:"created_at"`
	UpdatedAt        string        `json:"updated_at"`
	StatusChangedAt  string        `json:"status_changed_at,omitempty"`
	CompletedAt      string        `json:"completed_at,omitempty"`
}

type CodeLocation struct {
	Branch   string `json:"branch"`
	Worktree string `json:"worktree"`
}

// Board mirrors the API board model.
type Board struct {
	SchemaVersion int    `json:"schema_version"`
	ProjectID     string `json:"project_id"`
	ProjectName   string `json:"project_name"`
	UpdatedAt     string `json:"updated_at"`
}

// Summary mirrors the board status payload.
type Summary struct {
	ProjectID string `json:"project_id"`
	Columns   []struct {
		Status   string `json:"status"`
		Name     string `json:"name"`
		Count    int    `json:"count"`
		WIPLimit *int   `json:"wip_limit,omitempty"`
	} `json:"columns"`
	Total     int `json:"total"`
	Open      int `json:"open"`
	Completed int `json:"completed"`
	Stale     int `json:"stale"`
}

// APIError is the structured error envelope.
type APIError struct {
	Status int
	Code   string         `json:"code"`
	Msg    string         `json:"message"`
	Detail map[string]any `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

// CreateTicketInput are the board.create parameters.
type CreateTicketInput struct {
	Title            string   `json:"title"`
	Type             string   `json:"type,omitempty"`
	Priority         string   `json:"priority,omitempty"`
	Intent           string   `json:"intent,omitempty"`
	AcceptanceSignal string   `json:"acceptance_signal,omitempty"`
	Parent           string   `json:"parent,omitempty"`
	BlockedBy        []string `json:"blocked_by,omitempty"`
}

// InitBoard provisions (or returns) the workspace board.
func (c *Client) InitBoard(ctx context.Context, projectID, projectName string) (Board, error) {
	body := map[string]string{
		"workspace":    c.Workspace,
		"project_id":   projectID,
		"project_name": projectName,
	}
	var out Board
	err := c.do(ctx, http.MethodPost, "/board/init", nil, body, &out)
	return out, err
}

// Status fetches the board summary.
func (c *Client) Status(ctx context.Context) (Summary, error) {
	var out Summary
	err := c.do(ctx, http.MethodGet, "/board/status", nil, nil, &out)
	return out, err
}

// ListTickets lists tickets, optionally filtered by status.
func (c *Client) ListTickets(ctx context.Context, status string) ([]Ticket, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	var out struct {
		Tickets []Ticket `json:"tickets"`
	}
	err := c.do(ctx, http.MethodGet, "/board/tickets", q, nil, &out)
	return out.Tickets, err
}

// GetTicket fetches one ticket.
func (c *Client) GetTicket(ctx context.Context, id string) (Ticket, error) {
	var out Ticket
	err := c.do(ctx, http.MethodGet, "/board/tickets/"+url.PathEscape(id), nil, nil, &out)
	return out, err
}

// CreateTicket adds a ticket to the backlog.
func (c *Client) CreateTicket(ctx context.Context, in CreateTicketInput) (Ticket, error) {
	body := map[string]any{
		"workspace": c.Workspace,
		"title":     in.Title,
	}
	if in.Type != "" {
		body["type"] = in.Type
	}
	if in.Priority != "" {
		body["priority"] = in.Priority
	}
	if in.Intent != "" {
		body["intent"] = in.Intent
	}
	if in.AcceptanceSignal != "" {
		body["acceptance_signal"] = in.AcceptanceSignal
	}
	if in.Parent != "" {
		body["parent"] = in.Parent
	}
	if len(in.BlockedBy) > 0 {
		body["blocked_by"] = in.BlockedBy
	}
	var out Ticket
	err := c.do(ctx, http.MethodPost, "/board/tickets", nil, body, &out)
	return out, err
}

// MoveTicket transitions a ticket.
func (c *Client) MoveTicket(ctx context.Context, id, to, note string) (Ticket, error) {
	body := map[string]string{"workspace": c.Workspace, "to": to}
	if note != "" {
		body["note"] = note
	}
	var out Ticket
	err := c.do(ctx, http.MethodPost, "/board/tickets/"+url.PathEscape(id)+"/move", nil, body, &out)
	return out, err
}

// AddComment appends an annotation.
func (c *Client) AddComment(ctx context.Context, id, author, text string) (Ticket, error) {
	body := map[string]string{"workspace": c.Workspace, "author": author, "text": text}
	var out Ticket
	err := c.do(ctx, http.MethodPost, "/board/tickets/"+url.PathEscape(id)+"/comments", nil, body, &out)
	return out, err
}

// DeleteTicket removes a ticket; reports whether anything was deleted.
func (c *Client) DeleteTicket(ctx context.Context, id string) (bool, error) {
	var out struct {
		Deleted bool `json:"deleted"`
	}
	err := c.do(ctx, http.MethodDelete, "/board/tickets/"+url.PathEscape(id), nil, nil, &out)
	return out.Deleted, err
}

// NextWork fetches the next ticket to pull, or nil.
func (c *Client) NextWork(ctx context.Context) (*Ticket, error) {
	var out struct {
		Ticket *Ticket `json:"ticket"`
	}
	err := c.do(ctx, http.MethodGet, "/board/next-work", nil, nil, &out)
	return out.Ticket, err
}

// StaleTickets lists in-progress tickets older than the threshold.
func (c *Client) StaleTickets(ctx context.Context, hours int) ([]Ticket, error) {
	q := url.Values{}
	if hours > 0 {
		q.Set("hours", fmt.Sprint(hours))
	}
	var out struct {
		Tickets []Ticket `json:"tickets"`
	}
	err := c.do(ctx, http.MethodGet, "/board/stale", q, nil, &out)
	return out.Tickets, err
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	timeout := c.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if query == nil {
		query = url.Values{}
	}
	if method == http.MethodGet || method == http.MethodDelete {
		query.Set("workspace", c.Workspace)
	}
	u := c.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var envelope struct {
			Error APIError `json:"error"`
		}
		if err := json.Unmarshal(data, &envelope); err == nil && envelope.Error.Code != "" {
			apiErr := envelope.Error
			apiErr.Status = resp.StatusCode
			return &apiErr
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}
