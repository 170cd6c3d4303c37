package api_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/inbox-sync/internal/api"
)

func TestFetchPageBuildsQueryAndParsesResponse(t *testing.T) {
	var gotPath string
	var gotQuery map[string][]string
	var gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query()
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"items": [
				{"id": 2, "owner_id": "alice", "type": "comment", "read": false, "created_at": "2026-03-01T11:00:00Z"},
				{"id": 1, "owner_id": "alice", "type": "comment", "read": true, "created_at": "2026-03-01T10:00:00Z"}
			],
			"has_more": true
		}`))
	}))
	defer srv.Close()

	c := api.NewClient(srv.URL, "tok123")

	scope := int64(7)
	typ := "comment"
	before := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	page, err := c.FetchPage(context.Background(), api.PageRequest{
		ScopeID: &scope,
		Type:    &typ,
		Before:  &before,
		Limit:   50,
	})
	require.NoError(t, err)

	assert.Equal(t, "/notifications", gotPath)
	assert.Equal(t, "Bearer tok123", gotAuth)
	assert.Equal(t, []string{"7"}, gotQuery["search_space_id"])
	assert.Equal(t, []string{"comment"}, gotQuery["type"])
	assert.Equal(t, []string{"2026-03-01T12:00:00Z"}, gotQuery["before_date"])
	assert.Equal(t, []string{"50"}, gotQuery["limit"])

	require.Len(t, page.Items, 2)
	assert.True(t, page.HasMore)
	assert.Equal(t, int64(2), page.Items[0].ID)
}

func TestFetchPageFirstPageOmitsCursor(t *testing.T) {
	var gotQuery map[string][]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Write([]byte(`{"items": [], "has_more": false}`))
	}))
	defer srv.Close()

	c := api.NewClient(srv.URL, "")
	_, err := c.FetchPage(context.Background(), api.PageRequest{Limit: 50})
	require.NoError(t, err)

	assert.NotContains(t, gotQuery, "before_date")
	assert.NotContains(t, gotQuery, "search_space_id")
}

func TestFetchUnreadCount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/notifications/unread-count", r.URL.Path)
		w.Write([]byte(`{"total_unread": 12, "recent_unread": 4}`))
	}))
	defer srv.Close()

	c := api.NewClient(srv.URL, "")
	uc, err := c.FetchUnreadCount(context.Background(), api.CountRequest{})
	require.NoError(t, err)

	assert.Equal(t, 12, uc.TotalUnread)
	assert.Equal(t, 4, uc.RecentUnread)
	assert.Equal(t, 8, uc.Older())
}

func TestMarkReadHitsItemEndpoint(t *testing.T) {
	var gotMethod, gotPath string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		w.Write([]byte(`{"success": true}`))
	}))
	defer srv.Close()

	c := api.NewClient(srv.URL, "")
	require.NoError(t, c.MarkRead(context.Background(), 42))

	assert.Equal(t, http.MethodPatch, gotMethod)
	assert.Equal(t, "/notifications/42/read", gotPath)
}

func TestMarkReadServerReportedFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success": false}`))
	}))
	defer srv.Close()

	c := api.NewClient(srv.URL, "")
	err := c.MarkRead(context.Background(), 42)
	require.Error(t, err)
	assert.ErrorContains(t, err, "server reported failure")
}

func TestMarkAllReadAndArchive(t *testing.T) {
	var paths []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		w.Write([]byte(`{"success": true}`))
	}))
	defer srv.Close()

	c := api.NewClient(srv.URL, "")
	require.NoError(t, c.MarkAllRead(context.Background()))
	require.NoError(t, c.ArchiveItem(context.Background(), 9))

	assert.Equal(t, []string{"/notifications/read-all", "/notifications/9/archive"}, paths)
}

func TestUnauthorizedBecomesAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := api.NewClient(srv.URL, "expired")
	_, err := c.FetchPage(context.Background(), api.PageRequest{Limit: 10})
	require.Error(t, err)
	assert.True(t, api.IsAuthError(err))
}

func TestServerErrorBecomesHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	c := api.NewClient(srv.URL, "")
	_, err := c.FetchUnreadCount(context.Background(), api.CountRequest{})
	require.Error(t, err)

	var httpErr *api.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusInternalServerError, httpErr.StatusCode)
	assert.Equal(t, "boom", httpErr.Message)
}

// roundTripFunc lets a test stand in for an HTTP transport.
type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestSetHTTPClientIsUsedForRequests(t *testing.T) {
	var calls int
	rt := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		calls++
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(`{"items":[],"has_more":false}`)),
			Header:     make(http.Header),
		}, nil
	})

	c := api.NewClient("http://mirror.invalid", "token")
	c.SetHTTPClient(&http.Client{Transport: rt, Timeout: 5 * time.Second})

	_, err := c.FetchPage(context.Background(), api.PageRequest{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	// A nil override keeps the current client.
	c.SetHTTPClient(nil)
	_, err = c.FetchPage(context.Background(), api.PageRequest{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}
