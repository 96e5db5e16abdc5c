// Package vcs models the git operations the publisher needs as an explicit
// interface, so pipeline logic is testable without a git binary.
//
// The production implementation shells out to git, matching how the rest of
// the deployment interacts with repositories. Authenticated remote URLs
// carry tokens, so every error that crosses this package boundary is passed
// through Redact first.
package vcs

import "context"

// FileChange is one entry from `git status --porcelain`.
type FileChange struct {
	// Status is the two-character porcelain code, e.g. "M ", "??".
	Status string
	// Path is repo-relative.
	Path string
}

// CommitInfo is one commit from the recent log.
type CommitInfo struct {
	Sha     string
	Message string
}

// VersionControlSystem is the set of git primitives the publisher uses.
// All operations run against the workspace directory given at construction
// and must be invoked sequentially; implementations are not required to be
// safe for concurrent mutation of one workspace.
type VersionControlSystem interface {
	// Fetch fetches a ref from origin. Returns an error the caller can
	// test with IsMissingRef when the ref does not exist remotely.
	Fetch(ctx context.Context, ref string) error
	// Checkout switches to branch, creating or resetting the local
	// branch from its remote-tracking ref. Returns an error satisfying
	// IsMissingRef when the tracking ref is absent.
	Checkout(ctx context.Context, branch string) error
	// CreateBranch creates and switches to a new branch at HEAD. Returns
	// an error satisfying IsBranchExists if the name is taken.
	CreateBranch(ctx context.Context, branch string) error
	// Status lists uncommitted changes in the working tree.
	Status(ctx context.Context) ([]FileChange, error)
	// AddAll stages every change in the working tree.
	AddAll(ctx context.Context) error
	// StagedPaths lists the paths currently staged.
	StagedPaths(ctx context.Context) ([]string, error)
	// StagedDiff returns the staged diff text.
	StagedDiff(ctx context.Context) (string, error)
	// Commit creates a commit from the staged changes.
	Commit(ctx context.Context, message string) error
	// Push pushes a branch to origin. Returns an error satisfying
	// IsPushConflict on non-fast-forward or already-exists rejection.
	Push(ctx context.Context, branch string) error
	// HeadSha returns the current HEAD commit sha.
	HeadSha(ctx context.Context) (string, error)
	// RecentCommits returns up to limit commits reachable from ref,
	// newest first, with full messages.
	RecentCommits(ctx context.Context, ref string, limit int) ([]CommitInfo, error)
}
