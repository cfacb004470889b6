package specialist

import (
	"context"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"

	contractx "github.com/tanpawarit/airline-handoff-router/agent/contract"
	statex "github.com/tanpawarit/airline-handoff-router/agent/state"
)

// LLMReflector asks a model whether the answers of a turn cover the whole
// customer message.
type LLMReflector struct {
	runner compose.Runnable[map[string]any, contractx.Reflection]
	retry  retryPolicy
}

var _ contractx.Reflector = (*LLMReflector)(nil)

func NewLLMReflector(ctx context.Context, chatModel einomodel.BaseChatModel, systemPrompt string, opts Options) (*LLMReflector, error) {
	runner, err := compileStructuredLLMGraph[contractx.Reflection](ctx, chatModel, systemPrompt, "reflect_graph")
	if err != nil {
		return nil, fmt.Errorf("%w: compile reflection graph: %v", contractx.ErrModelInvoke, err)
	}
	return &LLMReflector{runner: runner, retry: opts.retryPolicy()}, nil
}

func (r *LLMReflector) Reflect(ctx context.Context, message string, steps []contractx.ReflectionStep) (contractx.Reflection, error) {
	payload := map[string]any{
		"user_message": message,
		"steps":        steps,
	}
	return invokeWithRetry(ctx, r.retry, "reflect", func(ctx context.Context, rejection string) (contractx.Reflection, error) {
		input, err := turnPayload(withCorrection(payload, rejection))
		if err != nil {
			return contractx.Reflection{}, err
		}
		out, err := r.runner.Invoke(ctx, input)
		if err != nil {
			return contractx.Reflection{}, fmt.Errorf("%w: reflection invoke: %v", contractx.ErrModelInvoke, err)
		}
		out.Remaining = strings.TrimSpace(out.Remaining)
		if !out.Satisfied && out.Remaining == "" {
			return contractx.Reflection{}, fmt.Errorf("%w: unsatisfied reflection names no remaining request", contractx.ErrSchemaViolation)
		}
		return out, nil
	})
}

type summaryOutput struct {
	Summary string `json:"summary"`
}

// LLMSummarizer folds evicted transcript exchanges into the running
// summary with a structured model call.
type LLMSummarizer struct {
	runner compose.Runnable[map[string]any, summaryOutput]
	retry  retryPolicy
}

var _ contractx.Summarizer = (*LLMSummarizer)(nil)

func NewLLMSummarizer(ctx context.Context, chatModel einomodel.BaseChatModel, systemPrompt string, opts Options) (*LLMSummarizer, error) {
	runner, err := compileStructuredLLMGraph[summaryOutput](ctx, chatModel, systemPrompt, "summarize_graph")
	if err != nil {
		return nil, fmt.Errorf("%w: compile summary graph: %v", contractx.ErrModelInvoke, err)
	}
	return &LLMSummarizer{runner: runner, retry: opts.retryPolicy()}, nil
}

func (s *LLMSummarizer) Fold(ctx context.Context, summary string, evicted []statex.Exchange) (string, error) {
	if len(evicted) == 0 {
		return summary, nil
	}
	payload := map[string]any{
		"current_summary": summary,
		"messages":        historyLines(evicted),
	}
	out, err := invokeWithRetry(ctx, s.retry, "summarize", func(ctx context.Context, rejection string) (summaryOutput, error) {
		input, err := turnPayload(withCorrection(payload, rejection))
		if err != nil {
			return summaryOutput{}, err
		}
		out, err := s.runner.Invoke(ctx, input)
		if err != nil {
			return summaryOutput{}, fmt.Errorf("%w: summary invoke: %v", contractx.ErrModelInvoke, err)
		}
		if strings.TrimSpace(out.Summary) == "" {
			return summaryOutput{}, fmt.Errorf("%w: summary is empty", contractx.ErrSchemaViolation)
		}
		return out, nil
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out.Summary), nil
}
