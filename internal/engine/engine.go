// Package engine wires the write-intent pipeline end to end: classify,
// gate high-impact requests behind confirmation, derive the idempotency
// key, serialize per installation, run the executor, enforce the write
// policy, and publish.
//
// Every code path that acquires the in-flight lock replies to the user
// exactly once and releases the lock, including on error. There is no
// silent-failure path: a timed-out executor still produces a failure reply.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/patchline/patchline/internal/confirm"
	"github.com/patchline/patchline/internal/executor"
	"github.com/patchline/patchline/internal/guard"
	"github.com/patchline/patchline/internal/idgen"
	"github.com/patchline/patchline/internal/intent"
	"github.com/patchline/patchline/internal/policy"
	"github.com/patchline/patchline/internal/publish"
	"github.com/patchline/patchline/internal/telemetry"
	"github.com/patchline/patchline/internal/vcs"
)

// Surface identifies which front-end delivered a message.
type Surface string

const (
	SurfaceGitHubMention Surface = "github_mention"
	SurfaceSlackMessage  Surface = "slack_message"
)

// ErrUnsupportedRepo is returned by a WorkspaceProvider when the bot has no
// installation access to the requested repository.
var ErrUnsupportedRepo = errors.New("unsupported repository")

// Message is one trigger event, normalized across surfaces. It lives only
// for the handling of that event.
type Message struct {
	Surface        Surface
	InstallationID int64
	Owner          string
	Repo           string

	// GitHub surface.
	PRNumber       int
	PRURL          string
	PRHeadRef      string
	PRHeadSameRepo bool
	CommentID      int64

	// Slack surface.
	Channel   string
	ThreadTS  string
	MessageTS string

	// DeliveryID is the transport's delivery identifier (webhook GUID or
	// Slack envelope ID), recorded next to the marker for audit.
	DeliveryID string
	Sender     string
	Text       string
}

// threadKey returns the (channel, thread) pair keying the confirmation gate.
func (m Message) threadKey() (string, string) {
	if m.Surface == SurfaceSlackMessage {
		return m.Channel, m.ThreadTS
	}
	return fmt.Sprintf("%s/%s", m.Owner, m.Repo), fmt.Sprintf("pr-%d", m.PRNumber)
}

// triggerID builds the idempotency inputs for this message.
func (m Message) triggerID(keyword string) idgen.TriggerID {
	t := idgen.TriggerID{
		InstallationID: m.InstallationID,
		Owner:          m.Owner,
		Repo:           m.Repo,
		Keyword:        keyword,
	}
	if m.Surface == SurfaceSlackMessage {
		t.ThreadID = m.Channel + "/" + m.ThreadTS
		t.TriggerEventID = m.MessageTS
	} else {
		t.ThreadID = fmt.Sprintf("%d", m.PRNumber)
		t.TriggerEventID = fmt.Sprintf("%d", m.CommentID)
	}
	return t
}

// Workspace is a prepared checkout of the target repository.
type Workspace struct {
	Dir           string
	VCS           vcs.VersionControlSystem
	PRs           publish.PullRequestAPI
	DefaultBranch string
}

// WorkspaceProvider prepares an ephemeral checkout for a message's repo.
// cleanup is always non-nil on success and safe to call once.
type WorkspaceProvider interface {
	Prepare(ctx context.Context, msg Message) (ws *Workspace, cleanup func(), err error)
}

// PermissionPreflight checks whether the bot can write to the repo before
// any work is done. Nil disables the preflight (Slack surface without a
// sender mapping).
type PermissionPreflight interface {
	CanWrite(ctx context.Context, owner, repo string) (bool, error)
}

// Config is the engine's per-deployment configuration.
type Config struct {
	WriteEnabled   bool
	Policy         policy.Config
	ConfirmTTL     time.Duration
	ExecutorPrompt string
}

// Engine is the write-intent pipeline.
type Engine struct {
	cfg        Config
	gate       *confirm.Gate
	inflight   *guard.Inflight
	queues     *guard.SerialQueues
	exec       executor.Executor
	workspaces WorkspaceProvider
	preflight  PermissionPreflight
	metrics    *telemetry.PipelineMetrics
}

// New constructs an engine. preflight may be nil.
func New(cfg Config, gate *confirm.Gate, exec executor.Executor, workspaces WorkspaceProvider, preflight PermissionPreflight) *Engine {
	if cfg.ConfirmTTL <= 0 {
		cfg.ConfirmTTL = confirm.DefaultTTL
	}
	return &Engine{
		cfg:        cfg,
		gate:       gate,
		inflight:   guard.NewInflight(),
		queues:     guard.NewSerialQueues(),
		exec:       exec,
		workspaces: workspaces,
		preflight:  preflight,
		metrics:    telemetry.NewPipelineMetrics(),
	}
}

// Gate exposes the confirmation gate for the serve loop's sweep ticker.
func (e *Engine) Gate() *confirm.Gate { return e.gate }

// HandleMessage runs one trigger through the pipeline and returns the reply
// to post in the originating thread. An empty reply means silently skip
// (read-only chatter).
func (e *Engine) HandleMessage(ctx context.Context, msg Message) string {
	text := intent.StripMention(msg.Text)
	channel, thread := msg.threadKey()

	// A pending confirmation owns this thread until it is confirmed or
	// expires: the exact command resumes execution, anything else repeats
	// the reminder verbatim.
	if pending := e.gate.GetPending(channel, thread); pending != nil {
		if submitted, ok := strings.CutPrefix(text, "confirm: "); ok {
			outcome, confirmed := e.gate.Confirm(channel, thread, submitted)
			if outcome == confirm.Confirmed {
				return e.execute(ctx, msg, confirmed.Keyword, confirmed.Request)
			}
		}
		return pending.Prompt
	}

	if submitted, ok := strings.CutPrefix(text, "confirm: "); ok && submitted != "" {
		return nothingPendingReply()
	}

	cls := intent.Classify(text)
	e.metrics.Trigger(ctx, string(cls.Kind))
	switch cls.Kind {
	case intent.ReadOnly:
		if text != "" {
			log.Printf("engine: skipping read-only message in %s/%s", channel, thread)
		}
		return ""

	case intent.ClarificationRequired:
		return clarificationReply(cls.RerunCommands)

	default: // intent.Write
		if !e.cfg.WriteEnabled {
			return writeDisabledReply
		}
		if cls.ConfirmationRequired {
			minutes := int(e.cfg.ConfirmTTL / time.Minute)
			prompt := confirmationPrompt(cls.HighImpactReasons, cls.Keyword, cls.Request, minutes)
			e.gate.OpenPending(channel, thread, msg.Owner, msg.Repo, cls.Keyword, cls.Request, prompt, e.cfg.ConfirmTTL)
			return prompt
		}
		return e.execute(ctx, msg, cls.Keyword, cls.Request)
	}
}

// execute runs a classified (and, if needed, confirmed) write request.
func (e *Engine) execute(ctx context.Context, msg Message, keyword, request string) string {
	retryCommand := keyword + ": " + request
	key := idgen.DeriveKey(msg.triggerID(keyword))

	if !e.inflight.TryAcquire(key) {
		return alreadyInProgressReply
	}
	defer e.inflight.Release(key)

	var reply string
	err := e.queues.Do(ctx, msg.InstallationID, func(ctx context.Context) error {
		reply = e.runJob(ctx, msg, keyword, request, key, retryCommand)
		return nil
	})
	if err != nil {
		// Unreachable with the closure above, but the lock contract
		// demands a reply on every path.
		return executionFailureReply(err.Error(), retryCommand)
	}
	return reply
}

// runJob does the serialized part: workspace, preflight, executor, policy,
// publish.
func (e *Engine) runJob(ctx context.Context, msg Message, keyword, request, key, retryCommand string) string {
	if e.preflight != nil {
		ok, err := e.preflight.CanWrite(ctx, msg.Owner, msg.Repo)
		if err != nil {
			return executionFailureReply(vcs.Redact(err.Error()), retryCommand)
		}
		if !ok {
			return permissionReply(retryCommand)
		}
	}

	ws, cleanup, err := e.workspaces.Prepare(ctx, msg)
	if err != nil {
		if errors.Is(err, ErrUnsupportedRepo) {
			return unsupportedRepoReply(msg.Owner, msg.Repo)
		}
		return executionFailureReply(vcs.Redact(err.Error()), retryCommand)
	}
	defer cleanup()

	planOnly := keyword == intent.KeywordPlan
	res, err := e.exec.Execute(ctx, executor.Request{
		Workspace:   ws.Dir,
		Prompt:      e.cfg.ExecutorPrompt,
		TriggerBody: request,
		PlanOnly:    planOnly,
	})
	if err != nil {
		return executionFailureReply(vcs.Redact(err.Error()), retryCommand)
	}
	if res.Conclusion != executor.ConclusionSuccess {
		return executionFailureReply(res.ErrorMessage, retryCommand)
	}

	// plan: never touches git or the publisher.
	if planOnly {
		return planReply(res.Summary, request)
	}

	pub := publish.New(ws.VCS, ws.PRs)
	pubRes, err := pub.Publish(ctx, e.publishRequest(msg, keyword, request, key, ws, res.Summary))
	if err != nil {
		return executionFailureReply(vcs.Redact(err.Error()), retryCommand)
	}
	switch pubRes.Kind {
	case publish.Success:
		e.metrics.Publish(ctx, publishOutcome(pubRes))
	case publish.Refusal:
		e.metrics.Refusal(ctx, pubRes.RefusalKind)
	}
	return publishResultReply(pubRes)
}

func (e *Engine) publishRequest(msg Message, keyword, request, key string, ws *Workspace, summary string) publish.Request {
	deliveryID := msg.DeliveryID
	markerBlock := idgen.MarkerBlock(key, deliveryID)

	var branch string
	if msg.Surface == SurfaceSlackMessage {
		branch = idgen.SlackBranchName(keyword, key, request)
	} else {
		branch = idgen.GitHubBranchName(msg.PRNumber, msg.CommentID, key)
	}

	title := commitTitle(request)
	body := summary
	if body == "" {
		body = request
	}

	return publish.Request{
		Key:            key,
		MarkerBlock:    markerBlock,
		BranchName:     branch,
		BaseBranch:     ws.DefaultBranch,
		PRNumber:       msg.PRNumber,
		PRURL:          msg.PRURL,
		PRHeadRef:      msg.PRHeadRef,
		PRHeadSameRepo: msg.PRHeadSameRepo,
		CommitTitle:    title,
		PRTitle:        title,
		PRBody:         body + "\n\n" + markerBlock,
		Keyword:        keyword,
		RequestText:    request,
		Policy:         e.cfg.Policy,
	}
}

// publishOutcome labels a successful publish for the outcome counter.
func publishOutcome(res *publish.Result) string {
	switch {
	case res.AlreadyApplied:
		return "already_applied"
	case res.UpdatedExistingPR:
		return "updated_pr"
	default:
		return "new_pr"
	}
}

// commitTitle derives a one-line commit/PR title from the request text.
func commitTitle(request string) string {
	title := strings.TrimSpace(request)
	if idx := strings.IndexByte(title, '\n'); idx >= 0 {
		title = title[:idx]
	}
	const maxTitle = 72
	if len(title) > maxTitle {
		title = title[:maxTitle-3] + "..."
	}
	return title
}
