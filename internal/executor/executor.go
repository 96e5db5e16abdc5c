// Package executor defines the opaque code-editing collaborator the engine
// invokes, plus two concrete implementations: one backed by the Anthropic
// API and one that shells out to a configured agent command.
//
// The engine only cares about the interface contract: mutate files in the
// workspace (or, in plan mode, mutate nothing) and report a conclusion. How
// good the edits are is the executor's problem, not this pipeline's.
package executor

import "context"

// Conclusion is the executor's self-reported outcome.
type Conclusion string

const (
	ConclusionSuccess Conclusion = "success"
	ConclusionFailure Conclusion = "failure"
)

// Request describes one executor invocation.
type Request struct {
	// Workspace is the checked-out repository root the executor may edit.
	Workspace string
	// Prompt is the system/context prompt for the run.
	Prompt string
	// TriggerBody is the user's request text.
	TriggerBody string
	// PlanOnly disables file mutation: the executor evaluates the request
	// and describes what it would change, but the workspace must be
	// byte-identical afterwards.
	PlanOnly bool
}

// Result is the executor's report.
type Result struct {
	Conclusion Conclusion
	// ErrorMessage is set when Conclusion is failure.
	ErrorMessage string
	// Summary describes what was (or in plan mode, would be) changed.
	Summary string
	// PublishEvents are progress lines the front-end may relay to the
	// user thread while a long run is in flight.
	PublishEvents []string
}

// Executor mutates files in a workspace per a natural-language request.
type Executor interface {
	Execute(ctx context.Context, req Request) (*Result, error)
}
