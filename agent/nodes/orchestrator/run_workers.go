package orchestratornode

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/airline-handoff-router/agent/contract"
	handoffx "github.com/tanpawarit/airline-handoff-router/agent/handoff"
	statex "github.com/tanpawarit/airline-handoff-router/agent/state"
	toolx "github.com/tanpawarit/airline-handoff-router/agent/tool"
	logx "github.com/tanpawarit/airline-handoff-router/pkg/logger"
)

// DefaultMaxHops is the handoff limit of one turn.
const DefaultMaxHops = 4

// DefaultMaxSteps bounds the requests of one message handled in a turn.
const DefaultMaxSteps = 3

const handoffFailedReply = "I wasn't able to transfer your request just now. Please try again in a moment."

type Workers interface {
	Worker(id contractx.WorkerID) (contractx.Worker, error)
}

type RunDeps struct {
	Workers     Workers
	Invoker     *toolx.Invoker
	Coordinator *handoffx.Coordinator
	MaxHops     int
	// Reflector checks whether a settled turn left part of the message
	// unanswered. Optional.
	Reflector contractx.Reflector
	MaxSteps  int
}

// RunWorkers runs the active worker and follows its handoffs until a worker
// ends the turn without one. Each hop is validated by the coordinator. When
// the reflector finds part of the message unanswered, the settled worker
// hands the remaining request back to the entry worker, up to MaxSteps
// requests per turn.
func RunWorkers(ctx context.Context, in *GraphState, deps RunDeps) (*GraphState, error) {
	if in == nil || in.Session == nil || in.Recorder == nil {
		return nil, fmt.Errorf("%w: graph state is incomplete", contractx.ErrValidation)
	}
	maxHops := deps.MaxHops
	if maxHops <= 0 {
		maxHops = DefaultMaxHops
	}

	message := in.Text
	var steps []contractx.ReflectionStep
	handled := 1
	for {
		active := contractx.WorkerID(in.Session.ActiveWorker)
		dec, err := runWorker(ctx, in, deps, active, message)
		if err != nil {
			return nil, err
		}
		in.collect(active, dec)
		if reply := strings.TrimSpace(dec.Reply); reply != "" {
			steps = append(steps, contractx.ReflectionStep{Worker: active, Reply: reply})
		}

		req := dec.Handoff
		if req == nil {
			if handled >= maxSteps(deps) || !canReflect(in, deps, active, dec, maxHops) {
				return in, nil
			}
			remaining, ok := remainingRequest(ctx, in, deps, steps)
			if !ok {
				return in, nil
			}
			handled++
			message = remaining
			req = &contractx.HandoffRequest{From: active, To: deps.Coordinator.Entry(), Reason: "remaining request: " + remaining}
		}

		if in.Hops >= maxHops {
			return nil, fmt.Errorf("%w: %d hops, last from=%s to=%s", ErrHopLimit, in.Hops, active, req.To)
		}
		hop := *req
		if hop.From == "" {
			hop.From = active
		}
		if _, err := deps.Coordinator.Handoff(ctx, in.Session, hop, in.Recorder, in.TurnID); err != nil {
			if errors.Is(err, contractx.ErrInvalidHandoffEdge) || errors.Is(err, contractx.ErrValidation) {
				return nil, err
			}
			log.Ctx(ctx).Warn().Err(err).
				Str("from", string(hop.From)).
				Str("to", string(hop.To)).
				Msg("handoff hydration failed")
			in.Replies = append(in.Replies, handoffFailedReply)
			in.Worker = active
			in.Degraded = true
			return in, nil
		}
		in.Hops++
	}
}

func maxSteps(deps RunDeps) int {
	if deps.MaxSteps <= 0 {
		return DefaultMaxSteps
	}
	return deps.MaxSteps
}

// canReflect holds when a specialist answered cleanly and the hop budget
// still allows a trip through the entry worker and on to a specialist.
func canReflect(in *GraphState, deps RunDeps, active contractx.WorkerID, dec contractx.WorkerDecision, maxHops int) bool {
	entry := deps.Coordinator.Entry()
	return deps.Reflector != nil &&
		active != entry &&
		strings.TrimSpace(dec.Reply) != "" &&
		!dec.Clarifying &&
		!dec.Degraded &&
		in.Hops+2 <= maxHops &&
		deps.Coordinator.Graph().Allows(active, entry)
}

// remainingRequest returns the unanswered part of the message, if any. A
// failing reflector ends the turn with what was answered.
func remainingRequest(ctx context.Context, in *GraphState, deps RunDeps, steps []contractx.ReflectionStep) (string, bool) {
	r, err := deps.Reflector.Reflect(ctx, in.Text, steps)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("reflection failed, ending turn")
		return "", false
	}
	remaining := strings.TrimSpace(r.Remaining)
	if r.Satisfied || remaining == "" {
		return "", false
	}
	log.Ctx(ctx).Debug().
		Str("remaining", remaining).
		Str("reasoning", r.Reasoning).
		Msg("message partly answered, routing the rest")
	return remaining, true
}

func runWorker(ctx context.Context, in *GraphState, deps RunDeps, active contractx.WorkerID, message string) (contractx.WorkerDecision, error) {
	w, err := deps.Workers.Worker(active)
	if err != nil {
		return contractx.WorkerDecision{}, err
	}
	ctx = logx.WithWorker(ctx, string(active))

	binding := deps.Invoker.Bind(active, w.Capabilities().Tools, in.Session.Context, in.Recorder, in.TurnID)
	dec, err := w.Run(ctx, contractx.WorkerRequest{
		TurnID:       in.TurnID,
		Message:      message,
		Conversation: in.Session.Context.Clone(),
		History:      append([]statex.Exchange(nil), in.Session.Transcript...),
		Summary:      in.Session.Summary,
	}, binding)
	if err != nil {
		return contractx.WorkerDecision{}, fmt.Errorf("run worker=%s: %w", active, err)
	}
	return dec, nil
}
