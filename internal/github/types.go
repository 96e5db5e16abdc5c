// Package github provides the client and data types for the slice of the
// GitHub REST API the write pipeline uses: pull requests, issue comments,
// and collaborator permissions.
package github

import (
	"net/http"
	"time"
)

// API configuration constants.
const (
	// DefaultAPIEndpoint is the GitHub REST API base URL.
	DefaultAPIEndpoint = "https://api.github.com"

	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 30 * time.Second

	// MaxRetries is the maximum number of retries for transient failures
	// and rate-limited requests.
	MaxRetries = 3

	// RetryDelay is the base delay between retries (exponential backoff).
	RetryDelay = time.Second
)

// Client provides methods to interact with the GitHub REST API.
type Client struct {
	Token      string       // GitHub token (PAT or installation token)
	Owner      string       // Repository owner (user or org)
	Repo       string       // Repository name
	BaseURL    string       // API base URL (default: https://api.github.com)
	HTTPClient *http.Client // Optional custom HTTP client
}

// PullRequest represents a pull request from the GitHub API.
type PullRequest struct {
	ID        int64      `json:"id"`
	Number    int        `json:"number"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	State     string     `json:"state"` // "open" or "closed"
	HTMLURL   string     `json:"html_url"`
	CreatedAt *time.Time `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at"`
	Head      Ref        `json:"head"`
	Base      Ref        `json:"base"`
	User      *User      `json:"user,omitempty"`
}

// Ref is one side of a pull request (head or base).
type Ref struct {
	Label string      `json:"label"` // "owner:branch"
	Ref   string      `json:"ref"`   // branch name
	Sha   string      `json:"sha"`
	Repo  *Repository `json:"repo,omitempty"`
}

// Repository is the subset of repo fields the pipeline reads.
type Repository struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	FullName      string `json:"full_name"`
	DefaultBranch string `json:"default_branch"`
	Fork          bool   `json:"fork"`
	HTMLURL       string `json:"html_url"`
}

// User represents a GitHub user.
type User struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
	Type  string `json:"type,omitempty"` // "User" or "Bot"
}

// IssueComment represents a comment on an issue or pull request.
type IssueComment struct {
	ID        int64      `json:"id"`
	Body      string     `json:"body"`
	HTMLURL   string     `json:"html_url"`
	CreatedAt *time.Time `json:"created_at"`
	User      *User      `json:"user,omitempty"`
}

// Permission is a collaborator permission level on a repository.
type Permission string

const (
	PermissionNone     Permission = "none"
	PermissionRead     Permission = "read"
	PermissionWrite    Permission = "write"
	PermissionMaintain Permission = "maintain"
	PermissionAdmin    Permission = "admin"
)

// CanWrite reports whether the level grants push access.
func (p Permission) CanWrite() bool {
	switch p {
	case PermissionWrite, PermissionMaintain, PermissionAdmin:
		return true
	}
	return false
}
