package publish

// These tests drive the publisher against the real git binary: a bare origin
// in a temp dir, workspaces cloned from it the way the workspace provider
// clones. The in-memory fake cannot catch ref-visibility mistakes (a fetch
// that never materializes origin/<ref>, a checkout of a branch the clone
// never had), so the three strategies are each exercised end to end here.

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patchline/patchline/internal/github"
	"github.com/patchline/patchline/internal/idgen"
	"github.com/patchline/patchline/internal/vcs"
)

func runGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v in %s: %v\n%s", args, dir, err, out)
	}
	return strings.TrimSpace(string(out))
}

// newOrigin creates a bare repo with one commit on main.
func newOrigin(t *testing.T) string {
	t.Helper()
	tmp := t.TempDir()
	seed := filepath.Join(tmp, "seed")
	if err := os.MkdirAll(seed, 0750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	runGit(t, seed, "init")
	runGit(t, seed, "checkout", "-b", "main")
	runGit(t, seed, "config", "user.email", "test@example.com")
	runGit(t, seed, "config", "user.name", "Test User")
	if err := os.WriteFile(filepath.Join(seed, "README.md"), []byte("seed\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	runGit(t, seed, "add", "-A")
	runGit(t, seed, "commit", "-m", "initial commit")

	origin := filepath.Join(tmp, "origin.git")
	runGit(t, tmp, "clone", "--bare", seed, origin)
	runGit(t, origin, "symbolic-ref", "HEAD", "refs/heads/main")
	return origin
}

// pushHeadBranch simulates a contributor's open PR head on the origin.
func pushHeadBranch(t *testing.T, origin, branch string) {
	t.Helper()
	contrib := filepath.Join(t.TempDir(), "contrib")
	runGit(t, filepath.Dir(contrib), "clone", origin, contrib)
	runGit(t, contrib, "config", "user.email", "contrib@example.com")
	runGit(t, contrib, "config", "user.name", "Contributor")
	runGit(t, contrib, "checkout", "-b", branch)
	if err := os.WriteFile(filepath.Join(contrib, "proposal.md"), []byte("draft\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	runGit(t, contrib, "add", "-A")
	runGit(t, contrib, "commit", "-m", "contributor draft")
	runGit(t, contrib, "push", "origin", branch)
}

// workspaceWithChange clones origin and leaves an uncommitted file in the
// tree, the state the executor hands the publisher.
func workspaceWithChange(t *testing.T, origin string) *vcs.GitCLI {
	t.Helper()
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "ws")
	require.NoError(t, vcs.Clone(ctx, origin, dir))
	g := vcs.NewGitCLI(dir)
	require.NoError(t, g.Configure(ctx, "patchline", "patchline[bot]@users.noreply.github.com"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "install.md"), []byte("updated docs\n"), 0644))
	return g
}

func TestRealRepoUpdatesExistingPRHead(t *testing.T) {
	ctx := context.Background()
	origin := newOrigin(t)
	pushHeadBranch(t, origin, "feature")

	g := workspaceWithChange(t, origin)
	prs := &fakePRAPI{}
	p := New(g, prs)

	req := baseRequest()
	req.PRNumber = 5
	req.PRURL = "https://github.com/acme/widgets/pull/5"
	req.PRHeadRef = "feature"
	req.PRHeadSameRepo = true

	res, err := p.Publish(ctx, req)
	require.NoError(t, err)
	require.Equal(t, Success, res.Kind, "reason: %s", res.Reason)
	assert.True(t, res.UpdatedExistingPR)
	assert.False(t, res.AlreadyApplied)
	assert.Equal(t, "feature", res.BranchName)
	assert.Equal(t, req.PRURL, res.PRURL)
	assert.Empty(t, prs.created, "no new PR when pushing to the existing head")

	tip := runGit(t, origin, "log", "-1", "--format=%B", "feature")
	assert.Contains(t, tip, idgen.Marker(req.Key), "pushed head commit must embed the marker")
}

func TestRealRepoMarkerShortCircuitsSecondDelivery(t *testing.T) {
	ctx := context.Background()
	origin := newOrigin(t)
	pushHeadBranch(t, origin, "feature")

	req := baseRequest()
	req.PRNumber = 5
	req.PRURL = "https://github.com/acme/widgets/pull/5"
	req.PRHeadRef = "feature"
	req.PRHeadSameRepo = true

	first, err := New(workspaceWithChange(t, origin), &fakePRAPI{}).Publish(ctx, req)
	require.NoError(t, err)
	require.Equal(t, Success, first.Kind, "reason: %s", first.Reason)
	tipBefore := runGit(t, origin, "rev-parse", "feature")

	// Replayed delivery: fresh clone, same key, same change.
	prs := &fakePRAPI{}
	second, err := New(workspaceWithChange(t, origin), prs).Publish(ctx, req)
	require.NoError(t, err)
	require.Equal(t, Success, second.Kind, "reason: %s", second.Reason)
	assert.True(t, second.AlreadyApplied)
	assert.Equal(t, req.PRURL, second.PRURL)
	assert.Empty(t, prs.created)
	assert.Equal(t, tipBefore, runGit(t, origin, "rev-parse", "feature"),
		"replay must not add a commit to the head branch")
}

func TestRealRepoBotBranchAndDuplicate(t *testing.T) {
	ctx := context.Background()
	origin := newOrigin(t)

	prs := &fakePRAPI{}
	req := baseRequest()
	res, err := New(workspaceWithChange(t, origin), prs).Publish(ctx, req)
	require.NoError(t, err)
	require.Equal(t, Success, res.Kind, "reason: %s", res.Reason)
	assert.Equal(t, req.BranchName, res.BranchName)
	require.Len(t, prs.created, 1)
	assert.Equal(t, prs.created[0].HTMLURL, res.PRURL)

	tip := runGit(t, origin, "log", "-1", "--format=%B", req.BranchName)
	assert.Contains(t, tip, idgen.Marker(req.Key))

	// Duplicate delivery: the push is rejected by the existing remote
	// branch and resolves to the PR the first delivery opened.
	prs.byHead = map[string][]github.PullRequest{req.BranchName: prs.created}
	dup, err := New(workspaceWithChange(t, origin), prs).Publish(ctx, req)
	require.NoError(t, err)
	require.Equal(t, Success, dup.Kind, "reason: %s", dup.Reason)
	assert.True(t, dup.AlreadyApplied)
	assert.Equal(t, prs.created[0].HTMLURL, dup.PRURL)
	assert.Len(t, prs.created, 1, "duplicate must not open a second PR")
}
