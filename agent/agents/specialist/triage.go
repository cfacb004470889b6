package specialist

import (
	"context"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/airline-handoff-router/agent/contract"
)

// Confidence bands of a triage classification.
const (
	HandoffConfidence = 0.7
	ClarifyConfidence = 0.4
)

const (
	clarifyFallback = "I want to make sure I get you to the right place. " +
		"Is this about a flight status or delay, a booking change, your seat, compensation, or a policy question?"
	chatFallback = "Hello! I can help with flight status, booking changes, seats, compensation and our travel policies. What can I do for you?"
)

// LLMClassifier classifies a message with a structured model call.
type LLMClassifier struct {
	runner compose.Runnable[map[string]any, contractx.Classification]
}

var _ contractx.Classifier = (*LLMClassifier)(nil)

func NewLLMClassifier(ctx context.Context, chatModel einomodel.BaseChatModel, systemPrompt string) (*LLMClassifier, error) {
	runner, err := compileStructuredLLMGraph[contractx.Classification](ctx, chatModel, systemPrompt, "triage.classify_graph")
	if err != nil {
		return nil, fmt.Errorf("%w: compile triage classifier graph: %v", contractx.ErrModelInvoke, err)
	}
	return &LLMClassifier{runner: runner}, nil
}

func (c *LLMClassifier) Classify(ctx context.Context, req contractx.WorkerRequest, targets []contractx.WorkerID) (contractx.Classification, error) {
	payload := map[string]any{
		"user_message":    req.Message,
		"context":         req.Conversation.Summary(),
		"history":         historyLines(req.History),
		"handoff_targets": targets,
	}
	if req.Summary != "" {
		payload["earlier_summary"] = req.Summary
	}
	input, err := turnPayload(withCorrection(payload, req.Correction))
	if err != nil {
		return contractx.Classification{}, err
	}

	out, err := c.runner.Invoke(ctx, input)
	if err != nil {
		return contractx.Classification{}, fmt.Errorf("%w: triage classify invoke: %v", contractx.ErrModelInvoke, err)
	}
	out.Intent = strings.TrimSpace(out.Intent)
	out.Target = contractx.WorkerID(strings.ToLower(strings.TrimSpace(string(out.Target))))
	out.Reply = strings.TrimSpace(out.Reply)
	return out, nil
}

// triageWorker routes the conversation. It owns no tools and ends its turn
// with a reply or exactly one handoff.
type triageWorker struct {
	v          variant
	targets    []contractx.WorkerID
	classifier contractx.Classifier
	retry      retryPolicy
}

var _ contractx.Worker = (*triageWorker)(nil)

func newTriageWorker(v variant, targets []contractx.WorkerID, classifier contractx.Classifier, opts Options) (*triageWorker, error) {
	if classifier == nil {
		return nil, fmt.Errorf("%w: triage classifier is required", contractx.ErrValidation)
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("%w: triage has no handoff targets", contractx.ErrValidation)
	}
	return &triageWorker{
		v:          v,
		targets:    append([]contractx.WorkerID(nil), targets...),
		classifier: classifier,
		retry:      opts.retryPolicy(),
	}, nil
}

func (t *triageWorker) ID() contractx.WorkerID {
	return t.v.id
}

func (t *triageWorker) Capabilities() contractx.Capabilities {
	return contractx.Capabilities{Guardrails: append([]string(nil), t.v.guardrails...)}
}

func (t *triageWorker) Run(ctx context.Context, req contractx.WorkerRequest, _ contractx.ToolRunner) (contractx.WorkerDecision, error) {
	if req.Conversation == nil {
		return contractx.WorkerDecision{}, fmt.Errorf("%w: conversation is required", contractx.ErrValidation)
	}

	cls, err := invokeWithRetry(ctx, t.retry, "triage.classify", func(ctx context.Context, rejection string) (contractx.Classification, error) {
		attempt := req
		attempt.Correction = rejection
		cls, err := t.classifier.Classify(ctx, attempt, t.targets)
		if err != nil {
			return contractx.Classification{}, err
		}
		return cls, t.validate(cls)
	})
	if err != nil {
		if !contractx.IsDegradable(err) {
			return contractx.WorkerDecision{}, err
		}
		log.Ctx(ctx).Warn().Err(err).Msg("triage classification failed")
		return contractx.WorkerDecision{Reply: unavailableReply(t.v.capability), Degraded: true}, nil
	}

	log.Ctx(ctx).Debug().
		Str("intent", cls.Intent).
		Str("target", string(cls.Target)).
		Float64("confidence", cls.Confidence).
		Msg("triage classified")
	return decide(cls), nil
}

func (t *triageWorker) validate(cls contractx.Classification) error {
	if cls.Confidence < 0 || cls.Confidence > 1 {
		return fmt.Errorf("%w: confidence=%v out of range", contractx.ErrSchemaViolation, cls.Confidence)
	}
	if cls.Target == "" {
		return nil
	}
	for _, to := range t.targets {
		if to == cls.Target {
			return nil
		}
	}
	return fmt.Errorf("%w: triage target=%q is not a handoff target", contractx.ErrSchemaViolation, cls.Target)
}

func decide(cls contractx.Classification) contractx.WorkerDecision {
	switch {
	case cls.Confidence >= HandoffConfidence && cls.Target != "":
		reason := cls.Intent
		if reason == "" {
			reason = "triage"
		}
		return contractx.WorkerDecision{Handoff: &contractx.HandoffRequest{
			From:   contractx.WorkerTriage,
			To:     cls.Target,
			Reason: reason,
		}}
	case cls.Confidence >= ClarifyConfidence && cls.Confidence < HandoffConfidence:
		return contractx.WorkerDecision{Reply: orDefault(cls.Reply, clarifyFallback), Clarifying: true}
	default:
		return contractx.WorkerDecision{Reply: orDefault(cls.Reply, chatFallback)}
	}
}

func orDefault(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
