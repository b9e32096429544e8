package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"portfolio-backend/internal/domain"
)

const defaultBaseURL = "https://api.github.com"

// HTTPStatusError captures non-2xx responses from the GitHub API.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("github: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client lists public repositories through the GitHub REST API.
type Client struct {
	rest *resty.Client
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if baseURL = strings.TrimSpace(baseURL); baseURL != "" {
			c.rest.SetBaseURL(strings.TrimRight(baseURL, "/"))
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.rest.SetTimeout(d)
	}
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		rest: resty.New().
			SetBaseURL(defaultBaseURL).
			SetHeader("Accept", "application/vnd.github+json").
			SetHeader("X-GitHub-Api-Version", "2022-11-28"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListRepos returns up to perPage repositories owned by owner, most recently
// updated first.
func (c *Client) ListRepos(ctx context.Context, owner string, perPage int) ([]domain.Repository, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return nil, errors.New("github: owner is required")
	}
	if perPage <= 0 {
		return nil, errors.New("github: page size must be positive")
	}

	endpoint := "/users/{owner}/repos"
	res, err := c.rest.R().
		SetContext(ctx).
		SetPathParam("owner", owner).
		SetQueryParams(map[string]string{
			"sort":      "updated",
			"direction": "desc",
			"per_page":  strconv.Itoa(perPage),
			"type":      "owner",
		}).
		Get(endpoint)
	if err != nil {
		return nil, fmt.Errorf("github: list repos request failed: %w", err)
	}
	if !res.IsSuccess() {
		body := res.String()
		if len(body) > 4096 {
			body = body[:4096]
		}
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode(),
			URL:        res.Request.URL,
			Body:       body,
		}
	}

	var repos []domain.Repository
	if err := json.Unmarshal(res.Body(), &repos); err != nil {
		return nil, fmt.Errorf("github: decode repos: %w", err)
	}
	return repos, nil
}
