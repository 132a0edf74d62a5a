package github

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbarthwal/triagent/pkg/models"
)

func contentsJSON(path, content string) map[string]any {
	return map[string]any{
		"type":     "file",
		"encoding": "base64",
		"path":     path,
		"content":  base64.StdEncoding.EncodeToString([]byte(content)),
	}
}

// sourceFile builds a numbered file with the given line planted in the middle.
func sourceFile(total, at int, line string) string {
	lines := make([]string, total)
	for i := range lines {
		lines[i] = fmt.Sprintf("# line %d", i+1)
	}
	lines[at] = line
	return strings.Join(lines, "\n")
}

func TestCode_SnippetAroundFunction(t *testing.T) {
	mux, client := fakeHost(t)

	content := sourceFile(60, 30, "def user_email(user):")
	mux.HandleFunc("/repos/acme/backend/contents/api/users.py", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "main", r.URL.Query().Get("ref"))
		writeJSON(t, w, http.StatusOK, contentsJSON("api/users.py", content))
	})
	mux.HandleFunc("/repos/acme/backend/commits", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "api/users.py", r.URL.Query().Get("path"))
		writeJSON(t, w, http.StatusOK, []map[string]any{
			{
				"sha": "abcdef1234567890",
				"commit": map[string]any{
					"message": "Handle missing email field\n\nLonger body.",
					"author":  map[string]any{"name": "Dana"},
				},
			},
		})
	})

	ev, err := client.Code(context.Background(), models.Issue{
		ID:      "issue-1",
		Culprit: "api/users.py in user_email",
	})
	require.NoError(t, err)

	assert.Equal(t, "api/users.py", ev.File)
	assert.Contains(t, ev.Snippet, "def user_email(user):")
	// Ten lines of context on each side of the match.
	assert.Contains(t, ev.Snippet, "# line 21")
	assert.Contains(t, ev.Snippet, "# line 41")
	assert.NotContains(t, ev.Snippet, "# line 20")
	assert.NotContains(t, ev.Snippet, "# line 42")
	assert.Equal(t, "abcdef12 Handle missing email field (Dana)", ev.Blame)
}

func TestCode_FunctionAbsentFallsBackToHead(t *testing.T) {
	mux, client := fakeHost(t)

	mux.HandleFunc("/repos/acme/backend/contents/api/users.py", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, contentsJSON("api/users.py", sourceFile(60, 30, "# line 31")))
	})
	mux.HandleFunc("/repos/acme/backend/commits", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, []map[string]any{})
	})

	ev, err := client.Code(context.Background(), models.Issue{
		Culprit: "api/users.py in renamed_function",
	})
	require.NoError(t, err)

	assert.Contains(t, ev.Snippet, "# line 1")
	assert.Contains(t, ev.Snippet, "# line 20")
	assert.NotContains(t, ev.Snippet, "# line 21")
	assert.Empty(t, ev.Blame)
}

func TestCode_NoLocationInCulprit(t *testing.T) {
	_, client := fakeHost(t)

	for _, culprit := range []string{"", "some free text", "Worker Thread Main"} {
		_, err := client.Code(context.Background(), models.Issue{Culprit: culprit})
		assert.ErrorIs(t, err, ErrNoCodeLocation, culprit)
	}
}

func TestCode_FileMissing(t *testing.T) {
	mux, client := fakeHost(t)

	mux.HandleFunc("/repos/acme/backend/contents/gone.py", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusNotFound, map[string]any{"message": "Not Found"})
	})

	_, err := client.Code(context.Background(), models.Issue{Culprit: "gone.py in handler"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gone.py")
}

func TestCode_BlameFailureIsNotFatal(t *testing.T) {
	mux, client := fakeHost(t)

	mux.HandleFunc("/repos/acme/backend/contents/api/users.py", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, contentsJSON("api/users.py", "def user_email(user):\n    return user.email"))
	})
	mux.HandleFunc("/repos/acme/backend/commits", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	ev, err := client.Code(context.Background(), models.Issue{Culprit: "api/users.py in user_email"})
	require.NoError(t, err)
	assert.Contains(t, ev.Snippet, "return user.email")
	assert.Empty(t, ev.Blame)
}

func TestSplitCulprit(t *testing.T) {
	tests := []struct {
		culprit  string
		path     string
		function string
	}{
		{"api/users.py in user_email", "api/users.py", "user_email"},
		{"worker/pool.go", "worker/pool.go", ""},
		{"main.py", "main.py", ""},
		{"free text culprit", "", ""},
		{"", "", ""},
	}
	for _, tt := range tests {
		path, function := splitCulprit(tt.culprit)
		assert.Equal(t, tt.path, path, tt.culprit)
		assert.Equal(t, tt.function, function, tt.culprit)
	}
}
