package orchestratornode

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/airline-handoff-router/agent/contract"
	guardrailx "github.com/tanpawarit/airline-handoff-router/agent/guardrail"
)

// Gates holds the guardrail gate of each worker, restricted to the checks it declares.
type Gates map[contractx.WorkerID]*guardrailx.Gate

func GuardrailGate(ctx context.Context, in *GraphState, gates Gates) (*GraphState, error) {
	if in == nil || in.Session == nil {
		return nil, fmt.Errorf("%w: graph session is nil", contractx.ErrValidation)
	}

	worker := contractx.WorkerID(in.Session.ActiveWorker)
	gate, ok := gates[worker]
	if !ok || gate == nil {
		return nil, fmt.Errorf("%w: no guardrail gate for worker=%s", contractx.ErrValidation, worker)
	}

	in.Guard = gate.Run(ctx, guardrailx.Input{
		TurnID:  in.TurnID,
		Worker:  worker,
		Message: in.Text,
	}, in.Recorder)
	if in.Guard.Tripped {
		log.Ctx(ctx).Info().
			Str("worker", string(worker)).
			Str("check", in.Guard.CheckName).
			Msg("guardrail tripped")
	}
	return in, nil
}

func Tripped(in *GraphState) bool {
	return in != nil && in.Guard.Tripped
}

// Refuse answers a tripped turn with the check's canned message. No worker runs.
func Refuse(in *GraphState) (*GraphState, error) {
	if in == nil || in.Session == nil {
		return nil, fmt.Errorf("%w: graph session is nil", contractx.ErrValidation)
	}
	in.Replies = []string{in.Guard.CannedMessage}
	in.Worker = contractx.WorkerID(in.Session.ActiveWorker)
	return in, nil
}
