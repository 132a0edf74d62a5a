package sentry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// --- helpers ---

func newTestClient(t *testing.T, baseURL string) *HTTPClient {
	t.Helper()
	return NewHTTPClient(baseURL, "tok-test", "acme", 5*time.Second)
}

func issueJSON(id, title string, count, userCount int) map[string]any {
	return map[string]any{
		"id":        id,
		"title":     title,
		"culprit":   "api/session.py in get_user",
		"count":     count,
		"userCount": userCount,
		"lastSeen":  "2025-06-01T12:00:00Z",
		"permalink": "https://sentry.example.com/issues/" + id,
	}
}

// --- ListIssues tests ---

func TestListIssues_SinglePage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/0/organizations/acme/issues/" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok-test" {
			t.Errorf("unexpected auth header: %s", got)
		}

		q := r.URL.Query()
		if q.Get("query") != "is:unresolved" {
			t.Errorf("unexpected query: %s", q.Get("query"))
		}
		if q.Get("sort") != "freq" {
			t.Errorf("unexpected sort: %s", q.Get("sort"))
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]map[string]any{
			issueJSON("1001", "KeyError: 'user_id'", 340, 52),
			issueJSON("1002", "TypeError: cannot unpack", 120, 9),
		})
	}))
	defer ts.Close()

	c := newTestClient(t, ts.URL)
	issues, err := c.ListIssues(context.Background(), IssuesRequest{Query: "is:unresolved"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(issues) != 2 {
		t.Fatalf("expected 2 issues, got %d", len(issues))
	}
	if issues[0].ID != "1001" {
		t.Errorf("unexpected id: %s", issues[0].ID)
	}
	if issues[0].Count != 340 {
		t.Errorf("unexpected count: %d", issues[0].Count)
	}
	if issues[0].UserCount != 52 {
		t.Errorf("unexpected user count: %d", issues[0].UserCount)
	}
	want := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if !issues[0].LastSeen.Equal(want) {
		t.Errorf("unexpected last seen: %v", issues[0].LastSeen)
	}
}

func TestListIssues_FollowsCursorPagination(t *testing.T) {
	var pages int
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pages++
		cursor := r.URL.Query().Get("cursor")
		w.Header().Set("Content-Type", "application/json")

		switch cursor {
		case "":
			w.Header().Set("Link",
				`<https://x/?cursor=0:100:0>; rel="next"; results="true"`)
			json.NewEncoder(w).Encode([]map[string]any{issueJSON("1", "KeyError: 'a'", 10, 1)})
		case "0:100:0":
			// Last page: no next cursor with results.
			json.NewEncoder(w).Encode([]map[string]any{issueJSON("2", "KeyError: 'b'", 5, 1)})
		default:
			t.Errorf("unexpected cursor: %s", cursor)
		}
	}))
	defer ts.Close()

	c := newTestClient(t, ts.URL)
	issues, err := c.ListIssues(context.Background(), IssuesRequest{Query: "is:unresolved"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if pages != 2 {
		t.Errorf("expected 2 page fetches, got %d", pages)
	}
	if len(issues) != 2 {
		t.Fatalf("expected 2 issues, got %d", len(issues))
	}
}

func TestListIssues_PaginationCapped(t *testing.T) {
	var pages int
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pages++
		// Always advertise another page.
		w.Header().Set("Link",
			fmt.Sprintf(`<https://x/?cursor=0:%d:0>; rel="next"; results="true"`, pages))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]map[string]any{issueJSON(fmt.Sprint(pages), "KeyError: 'x'", 1, 1)})
	}))
	defer ts.Close()

	c := newTestClient(t, ts.URL)
	issues, err := c.ListIssues(context.Background(), IssuesRequest{Query: "is:unresolved"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if pages != maxPages {
		t.Errorf("expected %d page fetches, got %d", maxPages, pages)
	}
	if len(issues) != maxPages {
		t.Errorf("expected %d issues, got %d", maxPages, len(issues))
	}
}

func TestListIssues_StringCounts(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]map[string]any{
			{"id": "1", "title": "KeyError: 'x'", "count": "340", "userCount": "52", "lastSeen": "2025-06-01T12:00:00Z"},
		})
	}))
	defer ts.Close()

	c := newTestClient(t, ts.URL)
	issues, err := c.ListIssues(context.Background(), IssuesRequest{Query: "is:unresolved"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if issues[0].Count != 340 || issues[0].UserCount != 52 {
		t.Errorf("string counts not decoded: %+v", issues[0])
	}
}

func TestListIssues_EmptyResult(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]map[string]any{})
	}))
	defer ts.Close()

	c := newTestClient(t, ts.URL)
	issues, err := c.ListIssues(context.Background(), IssuesRequest{Query: "is:unresolved"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if issues == nil {
		t.Fatal("expected empty slice, got nil")
	}
	if len(issues) != 0 {
		t.Errorf("expected 0 issues, got %d", len(issues))
	}
}

func TestListIssues_ServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}))
	defer ts.Close()

	c := newTestClient(t, ts.URL)
	_, err := c.ListIssues(context.Background(), IssuesRequest{Query: "is:unresolved"})
	if !errors.Is(err, ErrTrackerQueryError) {
		t.Errorf("expected ErrTrackerQueryError, got %v", err)
	}
}

func TestListIssues_Unreachable(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:1")
	_, err := c.ListIssues(context.Background(), IssuesRequest{Query: "is:unresolved"})
	if !errors.Is(err, ErrTrackerUnreachable) {
		t.Errorf("expected ErrTrackerUnreachable, got %v", err)
	}
}

func TestListIssues_ContextCancelled(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
	}))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	c := newTestClient(t, ts.URL)
	_, err := c.ListIssues(ctx, IssuesRequest{Query: "is:unresolved"})
	if !errors.Is(err, ErrTrackerTimeout) {
		t.Errorf("expected ErrTrackerTimeout, got %v", err)
	}
}

// --- Ready tests ---

func TestReady_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/0/organizations/acme/" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	c := newTestClient(t, ts.URL)
	if err := c.Ready(context.Background()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestReady_NotReady(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	c := newTestClient(t, ts.URL)
	err := c.Ready(context.Background())
	if !errors.Is(err, ErrTrackerUnreachable) {
		t.Errorf("expected ErrTrackerUnreachable, got %v", err)
	}
}
