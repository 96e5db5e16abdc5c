package executor

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	defaultModel     = "claude-sonnet-4-5"
	defaultMaxTokens = 8192
	maxRetries       = 3
	initialBackoff   = time.Second
)

// AnthropicExecutor drives edits through the Anthropic Messages API. The
// model responds with one fenced block per file it wants to write; the
// executor applies those blocks to the workspace (path traversal outside
// the workspace is rejected). In plan mode the blocks are summarized but
// never written.
type AnthropicExecutor struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// NewAnthropicExecutor creates an executor. ANTHROPIC_API_KEY in the
// environment takes precedence over the explicit key.
func NewAnthropicExecutor(apiKey, model string) (*AnthropicExecutor, error) {
	if envKey := os.Getenv("ANTHROPIC_API_KEY"); envKey != "" {
		apiKey = envKey
	}
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic executor: API key required (set ANTHROPIC_API_KEY)")
	}
	if model == "" {
		model = defaultModel
	}
	return &AnthropicExecutor{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     anthropic.Model(model),
		maxTokens: defaultMaxTokens,
	}, nil
}

// fileBlockRe captures "===FILE: path" fenced blocks in the model response.
var fileBlockRe = regexp.MustCompile(`(?s)===FILE: ([^\n]+)\n(.*?)\n===END===`)

const editInstructions = `When you decide to change files, emit each full file as:

===FILE: relative/path.ext
<entire new file contents>
===END===

Emit nothing between blocks except a one-paragraph summary of the change.
If no change is needed, emit only the summary.`

func (e *AnthropicExecutor) Execute(ctx context.Context, req Request) (*Result, error) {
	mode := "Make the requested change."
	if req.PlanOnly {
		mode = "Describe the change you would make. This is a dry run; your file blocks will not be applied."
	}
	prompt := fmt.Sprintf("%s\n\n%s\n\nRequest:\n%s\n\n%s", req.Prompt, mode, req.TriggerBody, editInstructions)

	text, err := e.callWithRetry(ctx, prompt)
	if err != nil {
		return &Result{Conclusion: ConclusionFailure, ErrorMessage: err.Error()}, nil
	}

	matches := fileBlockRe.FindAllStringSubmatch(text, -1)
	summary := strings.TrimSpace(fileBlockRe.ReplaceAllString(text, ""))

	if req.PlanOnly {
		var planned []string
		for _, m := range matches {
			planned = append(planned, strings.TrimSpace(m[1]))
		}
		if len(planned) > 0 {
			summary = fmt.Sprintf("%s\n\nWould touch: %s", summary, strings.Join(planned, ", "))
		}
		return &Result{Conclusion: ConclusionSuccess, Summary: summary}, nil
	}

	var events []string
	for _, m := range matches {
		rel := strings.TrimSpace(m[1])
		if err := writeWorkspaceFile(req.Workspace, rel, m[2]); err != nil {
			return &Result{Conclusion: ConclusionFailure, ErrorMessage: err.Error()}, nil
		}
		events = append(events, "wrote "+rel)
	}

	return &Result{Conclusion: ConclusionSuccess, Summary: summary, PublishEvents: events}, nil
}

// writeWorkspaceFile writes contents to workspace/rel, refusing any path
// that escapes the workspace root.
func writeWorkspaceFile(workspace, rel, contents string) error {
	if filepath.IsAbs(rel) {
		return fmt.Errorf("executor: absolute path %q rejected", rel)
	}
	dest := filepath.Join(workspace, rel)
	cleanRoot := filepath.Clean(workspace) + string(filepath.Separator)
	if !strings.HasPrefix(dest, cleanRoot) {
		return fmt.Errorf("executor: path %q escapes workspace", rel)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("executor: mkdir for %q: %w", rel, err)
	}
	if err := os.WriteFile(dest, []byte(contents), 0o644); err != nil {
		return fmt.Errorf("executor: write %q: %w", rel, err)
	}
	return nil
}

func (e *AnthropicExecutor) callWithRetry(ctx context.Context, prompt string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     e.model,
		MaxTokens: e.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := initialBackoff * time.Duration(math.Pow(2, float64(attempt-1)))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		message, err := e.client.Messages.New(ctx, params)
		if err != nil {
			lastErr = err
			continue
		}

		var sb strings.Builder
		for _, block := range message.Content {
			if block.Type == "text" {
				sb.WriteString(block.Text)
			}
		}
		return sb.String(), nil
	}
	return "", fmt.Errorf("anthropic executor: %d attempts failed: %w", maxRetries+1, lastErr)
}

var _ Executor = (*AnthropicExecutor)(nil)
