package contract

import (
	"context"

	statex "github.com/tanpawarit/airline-handoff-router/agent/state"
)

type Worker interface {
	ID() WorkerID
	Capabilities() Capabilities
	Run(ctx context.Context, req WorkerRequest, tools ToolRunner) (WorkerDecision, error)
}

type Classifier interface {
	Classify(ctx context.Context, req WorkerRequest, targets []WorkerID) (Classification, error)
}

// ToolRunner is the ToolInvoker bound to one worker and one conversation.
type ToolRunner interface {
	Invoke(ctx context.Context, call ToolCall, corrector InputCorrector) ToolOutcome
	IsMutating(tool string) bool
	// Conversation returns a copy of the context as committed so far.
	Conversation() *statex.Conversation
}

// InputCorrector asks the calling worker's decision process for a corrected tool input.
type InputCorrector interface {
	CorrectToolInput(ctx context.Context, call ToolCall, violation *SchemaViolationError) (ToolCall, error)
}

// Reflector judges whether the replies of one turn cover everything the
// customer asked for.
type Reflector interface {
	Reflect(ctx context.Context, message string, steps []ReflectionStep) (Reflection, error)
}

// Summarizer folds transcript exchanges that fell out of the window into
// the running summary.
type Summarizer interface {
	Fold(ctx context.Context, summary string, evicted []statex.Exchange) (string, error)
}
