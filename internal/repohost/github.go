package repohost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrRepoNotFound means the hosting provider has no such repository,
// or the configured token cannot see it.
var ErrRepoNotFound = errors.New("repository not found")

// RepoMeta is the slice of hosting-provider metadata shown on a
// project's repository panel.
type RepoMeta struct {
	FullName      string    `json:"fullName"`
	Description   string    `json:"description"`
	DefaultBranch string    `json:"defaultBranch"`
	HTMLURL       string    `json:"htmlUrl"`
	CloneURL      string    `json:"cloneUrl"`
	Language      string    `json:"language"`
	Stars         int       `json:"stars"`
	Forks         int       `json:"forks"`
	OpenIssues    int       `json:"openIssues"`
	PushedAt      time.Time `json:"pushedAt"`
	FetchedAt     time.Time `json:"fetchedAt"`
}

// GitHubClient talks to the GitHub REST API (or a compatible mock in
// tests) for repository metadata.
type GitHubClient struct {
	baseURL string
	token   string
	httpc   *http.Client
}

func NewGitHubClient(baseURL, token string) *GitHubClient {
	return &GitHubClient{
		baseURL: baseURL,
		token:   token,
		httpc:   &http.Client{Timeout: 10 * time.Second},
	}
}

type githubRepo struct {
	FullName      string `json:"full_name"`
	Description   string `json:"description"`
	DefaultBranch string `json:"default_branch"`
	HTMLURL       string `json:"html_url"`
	CloneURL      string `json:"clone_url"`
	Language      string `json:"language"`
	Stars         int    `json:"stargazers_count"`
	Forks         int    `json:"forks_count"`
	OpenIssues    int    `json:"open_issues_count"`
	PushedAt      string `json:"pushed_at"`
}

// GetRepo fetches metadata for "owner/name" from the provider.
func (c *GitHubClient) GetRepo(ctx context.Context, fullName string) (RepoMeta, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/repos/"+fullName, nil)
	if err != nil {
		return RepoMeta{}, fmt.Errorf("build repo request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return RepoMeta{}, fmt.Errorf("fetch repo %s: %w", fullName, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return RepoMeta{}, ErrRepoNotFound
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return RepoMeta{}, fmt.Errorf("fetch repo %s: status %d: %s", fullName, resp.StatusCode, body)
	}

	var raw githubRepo
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return RepoMeta{}, fmt.Errorf("decode repo %s: %w", fullName, err)
	}

	meta := RepoMeta{
		FullName:      raw.FullName,
		Description:   raw.Description,
		DefaultBranch: raw.DefaultBranch,
		HTMLURL:       raw.HTMLURL,
		CloneURL:      raw.CloneURL,
		Language:      raw.Language,
		Stars:         raw.Stars,
		Forks:         raw.Forks,
		OpenIssues:    raw.OpenIssues,
		FetchedAt:     time.Now().UTC(),
	}
	if raw.PushedAt != "" {
		if t, err := time.Parse(time.RFC3339, raw.PushedAt); err == nil {
			meta.PushedAt = t
		}
	}
	return meta, nil
}
