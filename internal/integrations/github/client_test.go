package github

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const reposPayload = `[
	{
		"id": 101,
		"name": "sign-language-cnn",
		"full_name": "SandyCompetent/sign-language-cnn",
		"description": "CNN gesture recognition.",
		"fork": false,
		"topics": ["tensorflow", "opencv"],
		"language": "Python",
		"stargazers_count": 12,
		"forks_count": 3,
		"homepage": null,
		"html_url": "https://github.com/SandyCompetent/sign-language-cnn",
		"updated_at": "2025-10-01T09:30:00Z",
		"owner": {"login": "SandyCompetent"}
	},
	{
		"id": 102,
		"name": "awesome-list",
		"full_name": "SandyCompetent/awesome-list",
		"description": null,
		"fork": true,
		"topics": [],
		"language": null,
		"stargazers_count": 0,
		"forks_count": 0,
		"homepage": "",
		"html_url": "https://github.com/SandyCompetent/awesome-list",
		"updated_at": "2025-09-01T09:30:00Z"
	}
]`

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	return NewClient(WithBaseURL(srv.URL), WithTimeout(2*time.Second))
}

func TestListRepos_HappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/users/SandyCompetent/repos", r.URL.Path)
		q := r.URL.Query()
		require.Equal(t, "updated", q.Get("sort"))
		require.Equal(t, "desc", q.Get("direction"))
		require.Equal(t, "15", q.Get("per_page"))
		require.Equal(t, "owner", q.Get("type"))
		require.Equal(t, "application/vnd.github+json", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(reposPayload))
	}))
	defer srv.Close()

	repos, err := newTestClient(t, srv).ListRepos(context.Background(), "SandyCompetent", 15)
	require.NoError(t, err)
	require.Len(t, repos, 2)

	first := repos[0]
	require.Equal(t, int64(101), first.ID)
	require.Equal(t, "sign-language-cnn", first.Name)
	require.Equal(t, []string{"tensorflow", "opencv"}, first.Topics)
	require.Equal(t, "Python", first.Language)
	require.Equal(t, 12, first.Stars)
	require.Equal(t, 3, first.Forks)
	require.Empty(t, first.Homepage)
	require.Equal(t, time.Date(2025, 10, 1, 9, 30, 0, 0, time.UTC), first.UpdatedAt.UTC())

	require.True(t, repos[1].Fork)
	require.Empty(t, repos[1].Description)
	require.Empty(t, repos[1].Language)
}

func TestListRepos_Non200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"message":"API rate limit exceeded"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).ListRepos(context.Background(), "SandyCompetent", 15)
	require.Error(t, err)
	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusForbidden, statusErr.HTTPStatusCode())
	require.Contains(t, err.Error(), "rate limit")
}

func TestListRepos_MalformedPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"not":"an array"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).ListRepos(context.Background(), "SandyCompetent", 15)
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode repos")
}

func TestListRepos_NetworkError(t *testing.T) {
	c := NewClient(WithBaseURL("http://127.0.0.1:1"), WithTimeout(100*time.Millisecond))
	_, err := c.ListRepos(context.Background(), "SandyCompetent", 15)
	require.Error(t, err)
	require.Contains(t, err.Error(), "request failed")
}

func TestListRepos_ValidatesArguments(t *testing.T) {
	c := NewClient()
	_, err := c.ListRepos(context.Background(), " ", 15)
	require.ErrorContains(t, err, "owner")

	_, err = c.ListRepos(context.Background(), "owner", 0)
	require.ErrorContains(t, err, "page size")
}
