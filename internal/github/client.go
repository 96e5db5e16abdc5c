package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// NewClient creates a new GitHub client.
func NewClient(token, owner, repo string) *Client {
	return &Client{
		Token:   token,
		Owner:   owner,
		Repo:    repo,
		BaseURL: DefaultAPIEndpoint,
		HTTPClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

// WithBaseURL returns a new client with a custom base URL (for testing or
// GitHub Enterprise).
func (c *Client) WithBaseURL(baseURL string) *Client {
	return &Client{
		Token:      c.Token,
		Owner:      c.Owner,
		Repo:       c.Repo,
		BaseURL:    baseURL,
		HTTPClient: c.HTTPClient,
	}
}

// APIError is a non-2xx response from the GitHub API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("github API error: %s (status %d)", e.Message, e.StatusCode)
}

// IsPermissionError reports whether err is a 401/403-shaped API response,
// the signal for the missing-write-scope refusal.
func IsPermissionError(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden
}

// IsNotFound reports whether err is a 404 API response.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// repoPath returns the "owner/repo" path segment.
func (c *Client) repoPath() string {
	return c.Owner + "/" + c.Repo
}

// buildURL constructs a full API URL.
func (c *Client) buildURL(path string, params map[string]string) string {
	u := c.BaseURL + path
	if len(params) > 0 {
		values := url.Values{}
		for k, v := range params {
			values.Set(k, v)
		}
		u += "?" + values.Encode()
	}
	return u
}

// doRequest performs an HTTP request with authentication. Transient
// failures and rate limits are retried with exponential backoff;
// permission and not-found responses return immediately as *APIError.
func (c *Client) doRequest(ctx context.Context, method, urlStr string, body interface{}) ([]byte, error) {
	var jsonBody []byte
	if body != nil {
		var err error
		jsonBody, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(
		backoff.NewExponentialBackOff(backoff.WithInitialInterval(RetryDelay)),
		MaxRetries,
	), ctx)

	var respBody []byte
	op := func() error {
		var reqBody io.Reader
		if jsonBody != nil {
			reqBody = bytes.NewReader(jsonBody)
		}
		req, err := http.NewRequestWithContext(ctx, method, urlStr, reqBody)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}

		req.Header.Set("Authorization", "Bearer "+c.Token)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/vnd.github+json")
		req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		const maxResponseSize = 10 * 1024 * 1024
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		_ = resp.Body.Close()
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}

		// Rate limiting: 429, or 403 with the remaining quota at zero.
		// Honor Retry-After when present, then let the backoff policy
		// schedule the retry.
		if resp.StatusCode == http.StatusTooManyRequests ||
			(resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0") {
			if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
				if seconds, err := strconv.Atoi(retryAfter); err == nil {
					select {
					case <-time.After(time.Duration(seconds) * time.Second):
					case <-ctx.Done():
						return backoff.Permanent(ctx.Err())
					}
				}
			}
			return fmt.Errorf("rate limited (status %d)", resp.StatusCode)
		}

		if resp.StatusCode >= 500 {
			return fmt.Errorf("server error (status %d)", resp.StatusCode)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return backoff.Permanent(&APIError{StatusCode: resp.StatusCode, Message: string(data)})
		}

		respBody = data
		return nil
	}

	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}
	return respBody, nil
}

// CreatePullRequest opens a pull request from head to base.
func (c *Client) CreatePullRequest(ctx context.Context, title, body, head, base string) (*PullRequest, error) {
	u := c.buildURL(fmt.Sprintf("/repos/%s/pulls", c.repoPath()), nil)
	payload := map[string]interface{}{
		"title": title,
		"body":  body,
		"head":  head,
		"base":  base,
	}
	data, err := c.doRequest(ctx, http.MethodPost, u, payload)
	if err != nil {
		return nil, err
	}
	var pr PullRequest
	if err := json.Unmarshal(data, &pr); err != nil {
		return nil, fmt.Errorf("failed to parse pull request: %w", err)
	}
	return &pr, nil
}

// GetPullRequest fetches one pull request by number.
func (c *Client) GetPullRequest(ctx context.Context, number int) (*PullRequest, error) {
	u := c.buildURL(fmt.Sprintf("/repos/%s/pulls/%d", c.repoPath(), number), nil)
	data, err := c.doRequest(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	var pr PullRequest
	if err := json.Unmarshal(data, &pr); err != nil {
		return nil, fmt.Errorf("failed to parse pull request: %w", err)
	}
	return &pr, nil
}

// ListPullRequestsByHead returns open PRs whose head branch matches, used
// for duplicate-PR lookup when a deterministic bot branch already exists.
func (c *Client) ListPullRequestsByHead(ctx context.Context, headBranch string) ([]PullRequest, error) {
	u := c.buildURL(fmt.Sprintf("/repos/%s/pulls", c.repoPath()), map[string]string{
		"state": "open",
		"head":  c.Owner + ":" + headBranch,
	})
	data, err := c.doRequest(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	var prs []PullRequest
	if err := json.Unmarshal(data, &prs); err != nil {
		return nil, fmt.Errorf("failed to parse pull requests: %w", err)
	}
	return prs, nil
}

// CreateIssueComment posts a comment on an issue or pull request.
func (c *Client) CreateIssueComment(ctx context.Context, number int, body string) (*IssueComment, error) {
	u := c.buildURL(fmt.Sprintf("/repos/%s/issues/%d/comments", c.repoPath(), number), nil)
	data, err := c.doRequest(ctx, http.MethodPost, u, map[string]string{"body": body})
	if err != nil {
		return nil, err
	}
	var comment IssueComment
	if err := json.Unmarshal(data, &comment); err != nil {
		return nil, fmt.Errorf("failed to parse comment: %w", err)
	}
	return &comment, nil
}

// GetPermission returns the collaborator permission level for a username.
func (c *Client) GetPermission(ctx context.Context, username string) (Permission, error) {
	u := c.buildURL(fmt.Sprintf("/repos/%s/collaborators/%s/permission", c.repoPath(), username), nil)
	data, err := c.doRequest(ctx, http.MethodGet, u, nil)
	if err != nil {
		return PermissionNone, err
	}
	var resp struct {
		Permission string `json:"permission"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return PermissionNone, fmt.Errorf("failed to parse permission: %w", err)
	}
	return Permission(resp.Permission), nil
}

// GetRepository fetches repository metadata (default branch, fork flag).
func (c *Client) GetRepository(ctx context.Context) (*Repository, error) {
	u := c.buildURL(fmt.Sprintf("/repos/%s", c.repoPath()), nil)
	data, err := c.doRequest(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	var repo Repository
	if err := json.Unmarshal(data, &repo); err != nil {
		return nil, fmt.Errorf("failed to parse repository: %w", err)
	}
	return &repo, nil
}

// CloneURL returns an authenticated HTTPS clone URL. Never log this value;
// pass errors that may embed it through vcs.Redact.
func (c *Client) CloneURL() string {
	return fmt.Sprintf("https://x-access-token:%s@github.com/%s.git", c.Token, c.repoPath())
}
