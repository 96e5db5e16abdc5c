// Package publish turns a workspace with executor-produced changes into a
// pushed branch and an open pull request.
//
// Three strategies, tried in order:
//
//  1. When the trigger is a follow-up on an existing same-repo PR, scan that
//     head branch's recent commits for the idempotency marker and report
//     "already applied" if present.
//  2. Otherwise commit onto the PR's existing head branch and push directly
//     (no new PR). A push rejection re-checks the marker, then falls back.
//  3. Default/fallback: deterministic bot branch, push, create a PR. A
//     branch-name collision resolves to the existing PR instead of erroring.
//
// The write policy runs strictly before any commit, and every error leaving
// this package has passed through vcs.Redact.
package publish

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/patchline/patchline/internal/github"
	"github.com/patchline/patchline/internal/idgen"
	"github.com/patchline/patchline/internal/policy"
	"github.com/patchline/patchline/internal/vcs"
)

// markerScanLimit bounds how many recent commits are scanned for the
// idempotency marker.
const markerScanLimit = 30

// PullRequestAPI is the slice of the GitHub client the publisher needs.
type PullRequestAPI interface {
	CreatePullRequest(ctx context.Context, title, body, head, base string) (*github.PullRequest, error)
	ListPullRequestsByHead(ctx context.Context, headBranch string) ([]github.PullRequest, error)
}

// Request describes one publish attempt.
type Request struct {
	// Key is the idempotency key; MarkerBlock is embedded in the commit
	// message and PR body for durable duplicate detection.
	Key         string
	MarkerBlock string

	// BranchName is the deterministic bot branch used by strategy 3.
	BranchName string
	// BaseBranch is the PR base for newly created PRs.
	BaseBranch string

	// PRNumber / PRURL / PRHeadRef / PRHeadSameRepo describe the
	// triggering PR when the request is a follow-up on one. PRNumber 0
	// means the trigger did not originate on a PR.
	PRNumber       int
	PRURL          string
	PRHeadRef      string
	PRHeadSameRepo bool

	CommitTitle string
	PRTitle     string
	PRBody      string

	// Keyword and RequestText reconstruct the exact retry command.
	Keyword     string
	RequestText string

	Policy policy.Config
}

// RetryCommand is the exact string the user resends to retry.
func (r Request) RetryCommand() string {
	return r.Keyword + ": " + r.RequestText
}

// Kind tags a publish result.
type Kind string

const (
	Success Kind = "success"
	Refusal Kind = "refusal"
	Failure Kind = "failure"
)

// Result is the tagged publish outcome.
type Result struct {
	Kind Kind

	// Success fields.
	PRURL          string
	BranchName     string
	HeadSha        string
	Mirrors        []string
	AlreadyApplied bool
	// UpdatedExistingPR is true when the change was pushed onto the
	// triggering PR's own head branch instead of a new PR.
	UpdatedExistingPR bool

	// Refusal / failure fields.
	Reason string
	// RefusalKind distinguishes structured refusals: a policy.Kind value
	// or "permission".
	RefusalKind  string
	PolicyResult *policy.Result
	RetryCommand string
}

// Publisher executes publish requests against one workspace.
type Publisher struct {
	vcs vcs.VersionControlSystem
	prs PullRequestAPI
}

// New creates a publisher over a workspace's VCS handle and PR API.
func New(v vcs.VersionControlSystem, prs PullRequestAPI) *Publisher {
	return &Publisher{vcs: v, prs: prs}
}

// Publish runs the decision procedure. The returned error is only for
// conditions the caller cannot message to a user (nil in practice; all
// outcomes are encoded in Result).
func (p *Publisher) Publish(ctx context.Context, req Request) (*Result, error) {
	// Nothing staged and nothing dirty means the executor made no
	// changes; never create an empty commit.
	changes, err := p.vcs.Status(ctx)
	if err != nil {
		return p.failure(req, err), nil
	}
	if len(changes) == 0 {
		return &Result{
			Kind:         Refusal,
			RefusalKind:  string(policy.NoChanges),
			Reason:       "no file changes were produced",
			RetryCommand: req.RetryCommand(),
		}, nil
	}

	if req.PRNumber > 0 && req.PRHeadSameRepo && req.PRHeadRef != "" {
		res, done := p.publishToExistingHead(ctx, req)
		if done {
			return res, nil
		}
		log.Printf("publish: falling back to bot branch %s for key %s", req.BranchName, req.Key)
	}

	return p.publishToBotBranch(ctx, req), nil
}

// publishToExistingHead implements strategies 1 and 2. done=false means the
// caller should fall back to the bot branch strategy.
func (p *Publisher) publishToExistingHead(ctx context.Context, req Request) (res *Result, done bool) {
	if err := p.vcs.Fetch(ctx, req.PRHeadRef); err != nil {
		if vcs.IsMissingRef(err) {
			return nil, false
		}
		return p.failure(req, err), true
	}

	// Strategy 1: the marker already in history means a previous delivery
	// of this same trigger succeeded.
	if found, sha := p.scanForMarker(ctx, "origin/"+req.PRHeadRef, req.Key); found {
		return &Result{
			Kind:           Success,
			AlreadyApplied: true,
			BranchName:     req.PRHeadRef,
			HeadSha:        sha,
			PRURL:          req.PRURL,
		}, true
	}

	// Strategy 2: commit directly onto the PR head.
	if err := p.vcs.Checkout(ctx, req.PRHeadRef); err != nil {
		return nil, false
	}

	if r := p.enforcePolicy(ctx, req); r != nil {
		return r, true
	}
	if err := p.commit(ctx, req); err != nil {
		return p.failure(req, err), true
	}

	if err := p.vcs.Push(ctx, req.PRHeadRef); err != nil {
		if vcs.IsPushConflict(err) {
			// A concurrent run may have landed the marker between our
			// fetch and push.
			if found, sha := p.scanForMarker(ctx, "origin/"+req.PRHeadRef, req.Key); found {
				return &Result{
					Kind:           Success,
					AlreadyApplied: true,
					BranchName:     req.PRHeadRef,
					HeadSha:        sha,
					PRURL:          req.PRURL,
				}, true
			}
			// The commit exists locally; the fallback branches from it.
			return p.fallbackWithCommit(ctx, req), true
		}
		return p.errorResult(req, err), true
	}

	sha, _ := p.vcs.HeadSha(ctx)
	return &Result{
		Kind:              Success,
		UpdatedExistingPR: true,
		BranchName:        req.PRHeadRef,
		HeadSha:           sha,
		PRURL:             req.PRURL,
	}, true
}

// publishToBotBranch implements strategy 3 from a dirty working tree.
func (p *Publisher) publishToBotBranch(ctx context.Context, req Request) *Result {
	if err := p.vcs.CreateBranch(ctx, req.BranchName); err != nil {
		if vcs.IsBranchExists(err) {
			return p.resolveExistingBranch(ctx, req)
		}
		return p.errorResult(req, err)
	}

	if r := p.enforcePolicy(ctx, req); r != nil {
		return r
	}
	if err := p.commit(ctx, req); err != nil {
		return p.failure(req, err)
	}

	return p.pushAndOpenPR(ctx, req)
}

// fallbackWithCommit runs strategy 3 when the marker commit already exists
// locally (policy has run, commit is HEAD); it only needs branch, push, PR.
func (p *Publisher) fallbackWithCommit(ctx context.Context, req Request) *Result {
	if err := p.vcs.CreateBranch(ctx, req.BranchName); err != nil {
		if vcs.IsBranchExists(err) {
			return p.resolveExistingBranch(ctx, req)
		}
		return p.errorResult(req, err)
	}
	return p.pushAndOpenPR(ctx, req)
}

func (p *Publisher) pushAndOpenPR(ctx context.Context, req Request) *Result {
	if err := p.vcs.Push(ctx, req.BranchName); err != nil {
		if vcs.IsPushConflict(err) {
			return p.resolveExistingBranch(ctx, req)
		}
		return p.errorResult(req, err)
	}

	sha, _ := p.vcs.HeadSha(ctx)
	pr, err := p.prs.CreatePullRequest(ctx, req.PRTitle, req.PRBody, req.BranchName, req.BaseBranch)
	if err != nil {
		return p.errorResult(req, err)
	}

	return &Result{
		Kind:       Success,
		PRURL:      pr.HTMLURL,
		BranchName: req.BranchName,
		HeadSha:    sha,
	}
}

// resolveExistingBranch handles the deterministic branch already existing:
// a previous delivery of this trigger got there first. Report its PR rather
// than erroring.
func (p *Publisher) resolveExistingBranch(ctx context.Context, req Request) *Result {
	prs, err := p.prs.ListPullRequestsByHead(ctx, req.BranchName)
	if err == nil && len(prs) > 0 {
		return &Result{
			Kind:           Success,
			AlreadyApplied: true,
			PRURL:          prs[0].HTMLURL,
			BranchName:     req.BranchName,
		}
	}
	if found, sha := p.scanForMarker(ctx, "origin/"+req.BranchName, req.Key); found {
		return &Result{
			Kind:           Success,
			AlreadyApplied: true,
			BranchName:     req.BranchName,
			HeadSha:        sha,
		}
	}
	return p.failure(req, fmt.Errorf("branch %s already exists with no matching pull request", req.BranchName))
}

// enforcePolicy stages everything and checks the write policy. A nil return
// means the check passed; non-nil is the refusal to surface.
func (p *Publisher) enforcePolicy(ctx context.Context, req Request) *Result {
	if err := p.vcs.AddAll(ctx); err != nil {
		return p.failure(req, err)
	}
	paths, err := p.vcs.StagedPaths(ctx)
	if err != nil {
		return p.failure(req, err)
	}
	diff := ""
	if req.Policy.SecretScan {
		if diff, err = p.vcs.StagedDiff(ctx); err != nil {
			return p.failure(req, err)
		}
	}

	res := policy.Check(paths, diff, req.Policy)
	if res.Passed() {
		return nil
	}
	return &Result{
		Kind:         Refusal,
		RefusalKind:  string(res.Kind),
		Reason:       policyReason(res),
		PolicyResult: &res,
		RetryCommand: req.RetryCommand(),
	}
}

// policyReason maps a failed policy check to a short reason string. It
// carries only the structured fields (path, pattern, detector), never
// matched diff text.
func policyReason(res policy.Result) string {
	switch res.Kind {
	case policy.DeniedPath:
		return fmt.Sprintf("path %s is blocked by deny pattern %s", res.Path, res.Pattern)
	case policy.NotAllowed:
		return fmt.Sprintf("path %s is outside the allowed paths", res.Path)
	case policy.SecretDetected:
		return fmt.Sprintf("staged diff matched the %s secret detector", res.Detector)
	case policy.NoChanges:
		return "no file changes were produced"
	default:
		return string(res.Kind)
	}
}

func (p *Publisher) commit(ctx context.Context, req Request) error {
	message := req.CommitTitle + "\n\n" + req.MarkerBlock
	return p.vcs.Commit(ctx, message)
}

// scanForMarker looks for this key's marker in the recent commits of ref.
func (p *Publisher) scanForMarker(ctx context.Context, ref, key string) (bool, string) {
	commits, err := p.vcs.RecentCommits(ctx, ref, markerScanLimit)
	if err != nil {
		return false, ""
	}
	marker := idgen.Marker(key)
	for _, c := range commits {
		if strings.Contains(c.Message, marker) {
			return true, c.Sha
		}
	}
	return false, ""
}

// errorResult maps an underlying error to a permission refusal or a generic
// failure.
func (p *Publisher) errorResult(req Request, err error) *Result {
	if isPermissionShaped(err) {
		return &Result{
			Kind:         Refusal,
			RefusalKind:  "permission",
			Reason:       vcs.Redact(err.Error()),
			RetryCommand: req.RetryCommand(),
		}
	}
	return p.failure(req, err)
}

func (p *Publisher) failure(req Request, err error) *Result {
	return &Result{
		Kind:         Failure,
		Reason:       vcs.Redact(err.Error()),
		RetryCommand: req.RetryCommand(),
	}
}

// isPermissionShaped recognizes 401/403-like API errors and git messages
// indicating missing repository write access.
func isPermissionShaped(err error) bool {
	if github.IsPermissionError(err) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range []string{
		"permission denied",
		"write access to repository not granted",
		"403",
		"401",
		"authentication failed",
	} {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}
