package repohost

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGetRepoParsesProviderResponse(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/acme/taskroom" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"full_name": "acme/taskroom",
			"description": "shared task board",
			"default_branch": "main",
			"html_url": "https://github.com/acme/taskroom",
			"clone_url": "https://github.com/acme/taskroom.git",
			"language": "Go",
			"stargazers_count": 12,
			"forks_count": 3,
			"open_issues_count": 7,
			"pushed_at": "2026-02-10T08:30:00Z"
		}`))
	}))
	defer srv.Close()

	client := NewGitHubClient(srv.URL, "tok_test")
	meta, err := client.GetRepo(context.Background(), "acme/taskroom")
	if err != nil {
		t.Fatalf("GetRepo: %v", err)
	}

	if gotAuth != "Bearer tok_test" {
		t.Fatalf("expected bearer token header, got %q", gotAuth)
	}
	if meta.FullName != "acme/taskroom" || meta.DefaultBranch != "main" {
		t.Fatalf("unexpected meta: %+v", meta)
	}
	if meta.Stars != 12 || meta.OpenIssues != 7 {
		t.Fatalf("unexpected counters: %+v", meta)
	}
	if meta.PushedAt.IsZero() {
		t.Fatal("pushed_at should be parsed")
	}
	if meta.FetchedAt.IsZero() {
		t.Fatal("fetchedAt should be stamped")
	}
}

func TestGetRepoNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Not Found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewGitHubClient(srv.URL, "")
	_, err := client.GetRepo(context.Background(), "acme/ghost")
	if !errors.Is(err, ErrRepoNotFound) {
		t.Fatalf("expected ErrRepoNotFound, got %v", err)
	}
}

func TestGetRepoSurfacesServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusForbidden)
	}))
	defer srv.Close()

	client := NewGitHubClient(srv.URL, "")
	_, err := client.GetRepo(context.Background(), "acme/taskroom")
	if err == nil {
		t.Fatal("expected an error for a non-200 response")
	}
	if errors.Is(err, ErrRepoNotFound) {
		t.Fatal("403 must not read as not-found")
	}
}
