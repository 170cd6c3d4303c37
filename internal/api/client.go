// Package api implements the stateless client for the remote notification
// API: cursor-paginated history fetches, the split unread-count endpoint,
// and the read-state mutations. Every operation is a single attempt;
// retry policy belongs to the caller.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nhle/inbox-sync/internal/model"
)

// PageRequest identifies one page of notification history.
type PageRequest struct {
	// ScopeID, when set, restricts results to that scope plus global items.
	ScopeID *int64

	// Type, when set, restricts results to a single item type.
	Type *string

	// Before, when set, requests items created strictly before this
	// time. Absent means "first page". Callers derive it from the last
	// item of the list they currently hold, never from a separately
	// tracked cursor.
	Before *time.Time

	// Limit is the page size.
	Limit int
}

// PageResult holds one page of items plus whether older history remains.
type PageResult struct {
	Items   []model.InboxItem `json:"items"`
	HasMore bool              `json:"has_more"`
}

// CountRequest identifies the view whose unread counts are wanted.
type CountRequest struct {
	ScopeID *int64
	Type    *string
}

// Client is a thin HTTP client for the remote notification API. It handles
// Bearer token authentication and JSON (de)serialization. Requests are not
// retried; transport and HTTP failures surface as typed errors.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a notification API client. The baseURL should be the
// root URL of the service; token is used for Bearer authentication.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SetHTTPClient overrides the underlying HTTP client (used by tests and by
// callers that need custom timeouts or transports).
func (c *Client) SetHTTPClient(hc *http.Client) {
	if hc != nil {
		c.httpClient = hc
	}
}

// FetchPage requests one page of notification history, ordered by the
// server descending by creation time.
func (c *Client) FetchPage(ctx context.Context, req PageRequest) (*PageResult, error) {
	q := url.Values{}
	if req.ScopeID != nil {
		q.Set("search_space_id", strconv.FormatInt(*req.ScopeID, 10))
	}
	if req.Type != nil {
		q.Set("type", *req.Type)
	}
	if req.Before != nil {
		q.Set("before_date", req.Before.UTC().Format(time.RFC3339Nano))
	}
	if req.Limit > 0 {
		q.Set("limit", strconv.Itoa(req.Limit))
	}

	var result PageResult
	if err := c.do(ctx, http.MethodGet, "/notifications?"+q.Encode(), nil, &result); err != nil {
		return nil, fmt.Errorf("fetching notification page: %w", err)
	}

	return &result, nil
}

// FetchUnreadCount requests the authoritative unread totals for a view,
// split into the all-history total and the recent-window component.
func (c *Client) FetchUnreadCount(ctx context.Context, req CountRequest) (*model.UnreadCount, error) {
	q := url.Values{}
	if req.ScopeID != nil {
		q.Set("search_space_id", strconv.FormatInt(*req.ScopeID, 10))
	}
	if req.Type != nil {
		q.Set("type", *req.Type)
	}

	path := "/notifications/unread-count"
	if encoded := q.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var result model.UnreadCount
	if err := c.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, fmt.Errorf("fetching unread count: %w", err)
	}

	return &result, nil
}

// mutationResult is the common response shape of the mutation endpoints.
type mutationResult struct {
	Success bool `json:"success"`
}

// MarkRead marks a single notification as read. Marking an already-read
// item succeeds trivially on the server side.
func (c *Client) MarkRead(ctx context.Context, id int64) error {
	var result mutationResult
	path := fmt.Sprintf("/notifications/%d/read", id)
	if err := c.do(ctx, http.MethodPatch, path, nil, &result); err != nil {
		return fmt.Errorf("marking notification %d read: %w", id, err)
	}
	if !result.Success {
		return fmt.Errorf("marking notification %d read: server reported failure", id)
	}
	return nil
}

// MarkAllRead marks every notification for the authenticated owner as read.
func (c *Client) MarkAllRead(ctx context.Context) error {
	var result mutationResult
	if err := c.do(ctx, http.MethodPatch, "/notifications/read-all", nil, &result); err != nil {
		return fmt.Errorf("marking all notifications read: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("marking all notifications read: server reported failure")
	}
	return nil
}

// ArchiveItem removes a notification from the inbox without deleting it.
// This is an optional extension of the mutation contract; the controller
// does not depend on it.
func (c *Client) ArchiveItem(ctx context.Context, id int64) error {
	var result mutationResult
	path := fmt.Sprintf("/notifications/%d/archive", id)
	if err := c.do(ctx, http.MethodPatch, path, nil, &result); err != nil {
		return fmt.Errorf("archiving notification %d: %w", id, err)
	}
	if !result.Success {
		return fmt.Errorf("archiving notification %d: server reported failure", id)
	}
	return nil
}

// do is the core HTTP method that builds the request, handles auth, and
// JSON (de)serialization.
func (c *Client) do(
	ctx context.Context,
	method string,
	path string,
	body interface{},
	result interface{},
) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}

	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return &AuthError{Message: "token rejected by notification API"}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(data)),
		}
	}

	if result != nil && len(data) > 0 {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("parsing response body: %w", err)
		}
	}

	return nil
}
