// Package workspace prepares ephemeral repository checkouts for the engine:
// one shallow clone per write request, deleted when the request finishes.
package workspace

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/patchline/patchline/internal/engine"
	"github.com/patchline/patchline/internal/github"
	"github.com/patchline/patchline/internal/vcs"
)

// Committer identity used for bot commits.
const (
	commitUserName  = "patchline"
	commitUserEmail = "patchline[bot]@users.noreply.github.com"
)

// TokenSource yields the current GitHub token. config.TokenFile implements
// it; tests use a literal.
type TokenSource interface {
	Get() string
}

// StaticToken is a TokenSource for a fixed token.
type StaticToken string

func (s StaticToken) Get() string { return string(s) }

// Provider clones the target repository into a temp directory per request.
type Provider struct {
	Tokens  TokenSource
	BaseURL string // GitHub API base URL override; empty means api.github.com
	Root    string // parent dir for clones; empty means the system temp dir
}

// NewProvider returns a Provider using the given token source.
func NewProvider(tokens TokenSource) *Provider {
	return &Provider{Tokens: tokens}
}

func (p *Provider) client(owner, repo string) *github.Client {
	c := github.NewClient(p.Tokens.Get(), owner, repo)
	if p.BaseURL != "" {
		c = c.WithBaseURL(p.BaseURL)
	}
	return c
}

// Prepare clones the repository for msg and returns the workspace handle.
// Repositories the token cannot see map to engine.ErrUnsupportedRepo.
func (p *Provider) Prepare(ctx context.Context, msg engine.Message) (*engine.Workspace, func(), error) {
	client := p.client(msg.Owner, msg.Repo)

	repo, err := client.GetRepository(ctx)
	if err != nil {
		if github.IsNotFound(err) || github.IsPermissionError(err) {
			return nil, nil, fmt.Errorf("%w: %s/%s", engine.ErrUnsupportedRepo, msg.Owner, msg.Repo)
		}
		return nil, nil, fmt.Errorf("failed to resolve repository: %w", err)
	}

	dir, err := os.MkdirTemp(p.Root, "patchline-ws-*")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create workspace dir: %w", err)
	}
	cleanup := func() {
		if err := os.RemoveAll(dir); err != nil {
			log.Printf("workspace: failed to remove %s: %v", dir, err)
		}
	}

	if err := vcs.Clone(ctx, client.CloneURL(), dir); err != nil {
		cleanup()
		return nil, nil, err
	}

	git := vcs.NewGitCLI(dir)
	if err := git.Configure(ctx, commitUserName, commitUserEmail); err != nil {
		cleanup()
		return nil, nil, err
	}

	return &engine.Workspace{
		Dir:           dir,
		VCS:           git,
		PRs:           client,
		DefaultBranch: repo.DefaultBranch,
	}, cleanup, nil
}

// Preflight checks the bot's own permission level before any clone.
type Preflight struct {
	Tokens   TokenSource
	BaseURL  string
	BotLogin string
}

// CanWrite reports whether the bot has push access to owner/repo.
func (p *Preflight) CanWrite(ctx context.Context, owner, repo string) (bool, error) {
	client := github.NewClient(p.Tokens.Get(), owner, repo)
	if p.BaseURL != "" {
		client = client.WithBaseURL(p.BaseURL)
	}
	perm, err := client.GetPermission(ctx, p.BotLogin)
	if err != nil {
		if github.IsPermissionError(err) || github.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return perm.CanWrite(), nil
}

var (
	_ engine.WorkspaceProvider   = (*Provider)(nil)
	_ engine.PermissionPreflight = (*Preflight)(nil)
)
