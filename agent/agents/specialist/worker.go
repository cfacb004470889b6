package specialist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	contractx "github.com/tanpawarit/airline-handoff-router/agent/contract"
	statex "github.com/tanpawarit/airline-handoff-router/agent/state"
)

// transferPrefix names the synthetic tools a worker uses to request a handoff.
const transferPrefix = "transfer_to_"

func transferToolName(to contractx.WorkerID) string {
	return transferPrefix + string(to)
}

// plan is the parsed tool-planning answer of one worker turn.
type plan struct {
	Content  string
	Calls    []contractx.ToolCall
	Transfer *contractx.HandoffRequest
}

type finalizeOutput struct {
	Reply string `json:"reply"`
}

type correctionOutput struct {
	Arguments map[string]any `json:"arguments"`
}

// toolWorker is every variant that plans tool calls: FAQ, Flight, Booking,
// Seat and Refund.
type toolWorker struct {
	v            variant
	targets      []contractx.WorkerID
	buffer       time.Duration
	capabilityOf func(tool string) string
	retry        retryPolicy

	planner   compose.Runnable[map[string]any, *schema.Message]
	finalizer compose.Runnable[map[string]any, finalizeOutput]
	corrector compose.Runnable[map[string]any, correctionOutput]
	runtime   compose.Runnable[turnInput, contractx.WorkerDecision]
}

var _ contractx.Worker = (*toolWorker)(nil)

func newToolWorker(
	ctx context.Context,
	v variant,
	targets []contractx.WorkerID,
	chatModel einomodel.ToolCallingChatModel,
	toolInfos []*schema.ToolInfo,
	instructions string,
	finalizePrompt string,
	correctPrompt string,
	capabilityOf func(string) string,
	opts Options,
) (*toolWorker, error) {
	infos := append([]*schema.ToolInfo(nil), toolInfos...)
	for _, to := range targets {
		infos = append(infos, transferToolInfo(to))
	}
	toolModel, err := chatModel.WithTools(infos)
	if err != nil {
		return nil, fmt.Errorf("%w: bind tools for worker=%s: %v", contractx.ErrModelInvoke, v.id, err)
	}

	w := &toolWorker{
		v:            v,
		targets:      append([]contractx.WorkerID(nil), targets...),
		buffer:       opts.Settings.ConnectionBuffer,
		capabilityOf: capabilityOf,
		retry:        opts.retryPolicy(),
	}

	name := string(v.id)
	if w.planner, err = compileToolPlanningGraph(ctx, toolModel, instructions, name+".tool_planning_graph"); err != nil {
		return nil, fmt.Errorf("%w: compile planning graph for worker=%s: %v", contractx.ErrModelInvoke, v.id, err)
	}
	if w.finalizer, err = compileStructuredLLMGraph[finalizeOutput](ctx, chatModel, instructions+"\n\n"+finalizePrompt, name+".finalize_graph"); err != nil {
		return nil, fmt.Errorf("%w: compile finalize graph for worker=%s: %v", contractx.ErrModelInvoke, v.id, err)
	}
	if w.corrector, err = compileStructuredLLMGraph[correctionOutput](ctx, chatModel, instructions+"\n\n"+correctPrompt, name+".correct_graph"); err != nil {
		return nil, fmt.Errorf("%w: compile correction graph for worker=%s: %v", contractx.ErrModelInvoke, v.id, err)
	}
	if w.runtime, err = compileWorkerRuntimeGraph(ctx, name+".runtime_graph", w.runPlan, w.runTools, w.runFinalize, w.runFinish); err != nil {
		return nil, fmt.Errorf("%w: compile runtime graph for worker=%s: %v", contractx.ErrModelInvoke, v.id, err)
	}
	return w, nil
}

func transferToolInfo(to contractx.WorkerID) *schema.ToolInfo {
	return &schema.ToolInfo{
		Name: transferToolName(to),
		Desc: fmt.Sprintf("Hand the conversation over to the %s agent.", to),
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"reason": {Type: schema.String, Desc: "Why the customer needs this agent"},
		}),
	}
}

func (w *toolWorker) ID() contractx.WorkerID {
	return w.v.id
}

func (w *toolWorker) Capabilities() contractx.Capabilities {
	return contractx.Capabilities{
		Tools:      append([]string(nil), w.v.tools...),
		Guardrails: append([]string(nil), w.v.guardrails...),
	}
}

func (w *toolWorker) Run(ctx context.Context, req contractx.WorkerRequest, tools contractx.ToolRunner) (contractx.WorkerDecision, error) {
	out, err := w.runtime.Invoke(ctx, turnInput{Req: req, Tools: tools})
	if err != nil {
		return contractx.WorkerDecision{}, fmt.Errorf("worker=%s: %w", w.v.id, err)
	}
	return out, nil
}

func (w *toolWorker) runPlan(ctx context.Context, st *turnState) (*turnState, error) {
	payload := map[string]any{
		"worker":          w.v.id,
		"user_message":    st.In.Req.Message,
		"context":         st.In.Req.Conversation.Summary(),
		"history":         historyLines(st.In.Req.History),
		"handoff_targets": w.targets,
	}
	if st.In.Req.Summary != "" {
		payload["earlier_summary"] = st.In.Req.Summary
	}

	p, err := invokeWithRetry(ctx, w.retry, string(w.v.id)+".plan", func(ctx context.Context, rejection string) (plan, error) {
		input, err := turnPayload(withCorrection(payload, rejection))
		if err != nil {
			return plan{}, err
		}
		msg, err := w.planner.Invoke(ctx, input)
		if err != nil {
			return plan{}, fmt.Errorf("%w: tool planning invoke: %v", contractx.ErrModelInvoke, err)
		}
		return w.parsePlan(msg)
	})
	if err != nil {
		if !contractx.IsDegradable(err) {
			return nil, err
		}
		log.Ctx(ctx).Warn().Err(err).Str("worker", string(w.v.id)).Msg("tool planning failed")
		st.Settled = &contractx.WorkerDecision{Reply: unavailableReply(w.v.capability), Degraded: true}
		return st, nil
	}
	st.Plan = p
	return st, nil
}

// parsePlan splits the planning answer into domain tool calls and at most
// one transfer along a declared edge.
func (w *toolWorker) parsePlan(msg *schema.Message) (plan, error) {
	if msg == nil {
		return plan{}, fmt.Errorf("%w: empty tool planning response", contractx.ErrSchemaViolation)
	}
	p := plan{Content: strings.TrimSpace(msg.Content)}
	for _, call := range msg.ToolCalls {
		name := strings.TrimSpace(call.Function.Name)
		if name == "" {
			return plan{}, fmt.Errorf("%w: tool call name is empty", contractx.ErrSchemaViolation)
		}
		if !strings.HasPrefix(name, transferPrefix) {
			p.Calls = append(p.Calls, contractx.ToolCall{ID: call.ID, Name: name, Arguments: call.Function.Arguments})
			continue
		}

		to := contractx.WorkerID(strings.TrimPrefix(name, transferPrefix))
		if !w.canReach(to) {
			return plan{}, fmt.Errorf("%w: worker=%s has no handoff edge to %q", contractx.ErrSchemaViolation, w.v.id, to)
		}
		if p.Transfer != nil {
			return plan{}, fmt.Errorf("%w: more than one handoff requested", contractx.ErrSchemaViolation)
		}
		p.Transfer = &contractx.HandoffRequest{
			From:   w.v.id,
			To:     to,
			Reason: strings.TrimSpace(gjson.Get(call.Function.Arguments, "reason").String()),
		}
	}
	if p.Content == "" && len(p.Calls) == 0 && p.Transfer == nil {
		return plan{}, fmt.Errorf("%w: planning produced neither a reply nor a call", contractx.ErrSchemaViolation)
	}
	return p, nil
}

func (w *toolWorker) canReach(to contractx.WorkerID) bool {
	for _, t := range w.targets {
		if t == to {
			return true
		}
	}
	return false
}

// runTools executes the planned calls in order. A mutating call whose
// precondition is unmet is never invoked; a failed call ends the turn.
func (w *toolWorker) runTools(ctx context.Context, st *turnState) (*turnState, error) {
	corrector := &turnCorrector{w: w, req: st.In.Req}
	for _, call := range st.Plan.Calls {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if w.v.precondition != nil && st.In.Tools.IsMutating(call.Name) {
			if ok, question := w.v.precondition(st.In.Tools.Conversation(), w.buffer); !ok {
				st.Settled = &contractx.WorkerDecision{Reply: question, Outcomes: st.Outcomes, Clarifying: true}
				return st, nil
			}
		}

		outcome := st.In.Tools.Invoke(ctx, call, corrector)
		st.Outcomes = append(st.Outcomes, outcome)
		if !outcome.OK() {
			log.Ctx(ctx).Warn().Err(outcome.Err).Str("worker", string(w.v.id)).Str("tool", call.Name).Msg("tool call failed")
			st.Settled = &contractx.WorkerDecision{
				Reply:    unavailableReply(w.capabilityOf(call.Name)),
				Outcomes: st.Outcomes,
				Degraded: true,
			}
			return st, nil
		}
	}
	return st, nil
}

func (w *toolWorker) runFinalize(ctx context.Context, st *turnState) (contractx.WorkerDecision, error) {
	results := make([]map[string]any, 0, len(st.Outcomes))
	for _, o := range st.Outcomes {
		results = append(results, map[string]any{
			"tool":     o.Tool,
			"response": json.RawMessage(o.Response.Payload()),
		})
	}
	payload := map[string]any{
		"user_message": st.In.Req.Message,
		"context":      st.In.Tools.Conversation().Summary(),
		"tool_results": results,
	}

	decision := contractx.WorkerDecision{Outcomes: st.Outcomes, Handoff: st.Plan.Transfer}
	out, err := invokeWithRetry(ctx, w.retry, string(w.v.id)+".finalize", func(ctx context.Context, rejection string) (finalizeOutput, error) {
		input, err := turnPayload(withCorrection(payload, rejection))
		if err != nil {
			return finalizeOutput{}, err
		}
		out, err := w.finalizer.Invoke(ctx, input)
		if err != nil {
			return finalizeOutput{}, fmt.Errorf("%w: finalize invoke: %v", contractx.ErrModelInvoke, err)
		}
		if strings.TrimSpace(out.Reply) == "" {
			return finalizeOutput{}, fmt.Errorf("%w: finalize reply is empty", contractx.ErrSchemaViolation)
		}
		return out, nil
	})
	if err != nil {
		if !contractx.IsDegradable(err) {
			return contractx.WorkerDecision{}, err
		}
		log.Ctx(ctx).Warn().Err(err).Str("worker", string(w.v.id)).Msg("finalize failed after successful tools")
		decision.Reply = "Your request went through, but I couldn't put together the details just now. Ask me again and I'll summarize it."
		decision.Degraded = true
		return decision, nil
	}

	decision.Reply = withMarkers(strings.TrimSpace(out.Reply), st.Outcomes)
	return decision, nil
}

func (w *toolWorker) runFinish(ctx context.Context, st *turnState) (contractx.WorkerDecision, error) {
	return contractx.WorkerDecision{Reply: st.Plan.Content, Handoff: st.Plan.Transfer}, nil
}

// withMarkers keeps display markers from tool results in the reply so the
// transport can render them.
func withMarkers(reply string, outcomes []contractx.ToolOutcome) string {
	for _, o := range outcomes {
		marker := gjson.GetBytes(o.Response.Payload(), "marker").String()
		if marker != "" && !strings.Contains(reply, marker) {
			reply += "\n" + marker
		}
	}
	return reply
}

// turnCorrector asks the worker's model for corrected tool arguments.
type turnCorrector struct {
	w   *toolWorker
	req contractx.WorkerRequest
}

func (c *turnCorrector) CorrectToolInput(ctx context.Context, call contractx.ToolCall, violation *contractx.SchemaViolationError) (contractx.ToolCall, error) {
	payload := map[string]any{
		"tool":         call.Name,
		"arguments":    call.Arguments,
		"field":        violation.Field,
		"reason":       violation.Reason,
		"user_message": c.req.Message,
		"context":      c.req.Conversation.Summary(),
	}

	out, err := invokeWithRetry(ctx, c.w.retry, string(c.w.v.id)+".correct", func(ctx context.Context, rejection string) (correctionOutput, error) {
		input, err := turnPayload(withCorrection(payload, rejection))
		if err != nil {
			return correctionOutput{}, err
		}
		out, err := c.w.corrector.Invoke(ctx, input)
		if err != nil {
			return correctionOutput{}, fmt.Errorf("%w: correction invoke: %v", contractx.ErrModelInvoke, err)
		}
		if out.Arguments == nil {
			return correctionOutput{}, fmt.Errorf("%w: correction has no arguments", contractx.ErrSchemaViolation)
		}
		return out, nil
	})
	if err != nil {
		return contractx.ToolCall{}, err
	}

	raw, err := json.Marshal(out.Arguments)
	if err != nil {
		return contractx.ToolCall{}, fmt.Errorf("%w: marshal corrected arguments: %v", contractx.ErrSchemaViolation, err)
	}
	return contractx.ToolCall{ID: call.ID, Name: call.Name, Arguments: string(raw)}, nil
}

type retryPolicy struct {
	attempts int
	timeout  time.Duration
}

// invokeWithRetry runs fn, each call under its own deadline. Model failures
// and timeouts are retried up to p.attempts calls. A schema violation gets
// exactly one more call, and fn receives the rejection so the model can
// correct its answer.
func invokeWithRetry[T any](ctx context.Context, p retryPolicy, op string, fn func(ctx context.Context, rejection string) (T, error)) (T, error) {
	var (
		zero      T
		rejection string
		failures  int
	)
	attempts := max(p.attempts, 1)
	for {
		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if p.timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, p.timeout)
		}
		out, err := fn(callCtx, rejection)
		expired := errors.Is(callCtx.Err(), context.DeadlineExceeded)
		cancel()
		if err == nil {
			return out, nil
		}
		if expired || errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %s: %v", contractx.ErrTimeout, op, err)
		}
		if ctx.Err() != nil {
			return zero, err
		}

		switch {
		case errors.Is(err, contractx.ErrSchemaViolation) && !errors.Is(err, contractx.ErrTimeout):
			if rejection != "" {
				return zero, err
			}
			rejection = err.Error()
			log.Ctx(ctx).Warn().Err(err).Str("op", op).Msg("model answer rejected, asking for a correction")
		case contractx.IsDegradable(err):
			failures++
			if failures >= attempts {
				return zero, err
			}
			log.Ctx(ctx).Warn().Err(err).Str("op", op).Int("attempt", failures).Msg("model call failed")
		default:
			return zero, err
		}
	}
}

// withCorrection adds the rejection of the previous answer to a model payload.
func withCorrection(payload map[string]any, rejection string) map[string]any {
	if rejection == "" {
		return payload
	}
	out := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		out[k] = v
	}
	out["correction"] = "Your previous answer was rejected: " + rejection + ". Answer again and fix exactly this problem."
	return out
}

func turnPayload(payload map[string]any) (map[string]any, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal model payload: %v", contractx.ErrValidation, err)
	}
	return map[string]any{"input": string(raw)}, nil
}

func historyLines(history []statex.Exchange) []string {
	lines := make([]string, 0, len(history))
	for _, ex := range history {
		speaker := ex.Role
		if ex.Worker != "" {
			speaker += " (" + ex.Worker + ")"
		}
		lines = append(lines, speaker+": "+ex.Text)
	}
	return lines
}

func unavailableReply(capability string) string {
	return fmt.Sprintf("I'm sorry, %s is unavailable right now, so I couldn't complete that. Please try again in a few minutes.", capability)
}
