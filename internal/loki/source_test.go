package loki_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbarthwal/triagent/internal/config"
	"github.com/nikhilbarthwal/triagent/internal/loki"
	"github.com/nikhilbarthwal/triagent/pkg/models"
)

func sourceConfig(baseURL string) config.LokiConfig {
	return config.LokiConfig{
		BaseURL:  baseURL,
		Username: "triagent",
		Password: "secret",
		OrgID:    "org-1",
		Service:  "checkout",
		Window:   time.Hour,
		Limit:    10,
		Timeout:  5 * time.Second,
	}
}

func testIssue() models.Issue {
	return models.Issue{
		ID:        "issue-1",
		ErrorType: "KeyError",
		LastSeen:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestLogs(t *testing.T) {
	var gotQuery, gotAuthUser, gotOrg string
	ts := time.Date(2026, 3, 1, 11, 30, 0, 0, time.UTC)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/loki/api/v1/query_range", r.URL.Path)
		gotQuery = r.URL.Query().Get("query")
		gotAuthUser, _, _ = r.BasicAuth()
		gotOrg = r.Header.Get("X-Scope-OrgID")
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		assert.Equal(t, "backward", r.URL.Query().Get("direction"))

		fmt.Fprintf(w, `{"data":{"resultType":"streams","result":[
			{"stream":{"level":"error"},"values":[
				["%d","KeyError: 'email' in session handler"],
				["%d","request started"]
			]}
		]}}`, ts.Add(time.Minute).UnixNano(), ts.UnixNano())
	}))
	defer srv.Close()

	src := loki.NewSource(sourceConfig(srv.URL))
	ev, err := src.Logs(context.Background(), testIssue())

	require.NoError(t, err)
	require.Len(t, ev.Lines, 2)
	assert.Contains(t, ev.Lines[0], "request started") // oldest first
	assert.Contains(t, ev.Lines[1], "KeyError: 'email'")
	assert.Equal(t, `{service="checkout"} |= "KeyError"`, gotQuery)
	assert.Equal(t, "triagent", gotAuthUser)
	assert.Equal(t, "org-1", gotOrg)
}

func TestLogs_NoServiceLabelFallsBackToLevelSelector(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("query")
		fmt.Fprint(w, `{"data":{"resultType":"streams","result":[]}}`)
	}))
	defer srv.Close()

	cfg := sourceConfig(srv.URL)
	cfg.Service = ""
	src := loki.NewSource(cfg)

	ev, err := src.Logs(context.Background(), testIssue())
	require.NoError(t, err)
	assert.Empty(t, ev.Lines)
	assert.Equal(t, `{level=~"error|warn"} |= "KeyError"`, gotQuery)
}

func TestLogs_QueryError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	src := loki.NewSource(sourceConfig(srv.URL))
	_, err := src.Logs(context.Background(), testIssue())
	assert.ErrorIs(t, err, loki.ErrQueryError)
}

func TestLogs_Unreachable(t *testing.T) {
	src := loki.NewSource(sourceConfig("http://127.0.0.1:1"))
	_, err := src.Logs(context.Background(), testIssue())
	assert.ErrorIs(t, err, loki.ErrUnreachable)
}

func TestReady(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/ready", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	src := loki.NewSource(sourceConfig(srv.URL))
	assert.NoError(t, src.Ready(context.Background()))
}

func TestReady_NotServing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	src := loki.NewSource(sourceConfig(srv.URL))
	assert.ErrorIs(t, src.Ready(context.Background()), loki.ErrUnreachable)
}
