package executor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// CommandExecutor shells out to a configured agent CLI, passing the request
// on stdin and running with the workspace as the working directory. Plan
// mode is communicated with PATCHLINE_PLAN_ONLY=1 in the environment; a
// conforming agent must not write files when it is set.
type CommandExecutor struct {
	// Command is the agent binary plus fixed arguments.
	Command []string
}

// NewCommandExecutor wraps a command line such as
// ["claude", "-p", "--permission-mode", "acceptEdits"].
func NewCommandExecutor(command []string) (*CommandExecutor, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("command executor: empty command")
	}
	return &CommandExecutor{Command: command}, nil
}

func (e *CommandExecutor) Execute(ctx context.Context, req Request) (*Result, error) {
	cmd := exec.CommandContext(ctx, e.Command[0], e.Command[1:]...)
	cmd.Dir = req.Workspace
	cmd.Stdin = strings.NewReader(req.Prompt + "\n\n" + req.TriggerBody)
	cmd.Env = os.Environ()
	if req.PlanOnly {
		cmd.Env = append(cmd.Env, "PATCHLINE_PLAN_ONLY=1")
	}

	out, err := cmd.CombinedOutput()
	summary := strings.TrimSpace(string(out))
	if err != nil {
		if ctx.Err() != nil {
			return &Result{Conclusion: ConclusionFailure, ErrorMessage: "executor timed out"}, nil
		}
		msg := fmt.Sprintf("agent exited with error: %v", err)
		if summary != "" {
			msg = fmt.Sprintf("%s: %s", msg, lastLines(summary, 10))
		}
		return &Result{Conclusion: ConclusionFailure, ErrorMessage: msg}, nil
	}
	return &Result{Conclusion: ConclusionSuccess, Summary: summary}, nil
}

// lastLines returns the final n lines of s, for error messages that should
// carry the tail of a long agent transcript rather than all of it.
func lastLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}

var _ Executor = (*CommandExecutor)(nil)
