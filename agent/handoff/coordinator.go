package handoff

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/airline-handoff-router/agent/contract"
	eventx "github.com/tanpawarit/airline-handoff-router/agent/events"
	statex "github.com/tanpawarit/airline-handoff-router/agent/state"
)

// Transition is one completed handoff.
type Transition struct {
	From     contractx.WorkerID
	To       contractx.WorkerID
	Reason   string
	Hydrated []string
}

// Coordinator validates handoffs against the routing graph, hydrates the
// target's context and switches the active worker of a session.
type Coordinator struct {
	graph     *Graph
	hydrators map[contractx.WorkerID]Hydrator
}

func NewCoordinator(graph *Graph, hydrators map[contractx.WorkerID]Hydrator) (*Coordinator, error) {
	if graph == nil {
		return nil, fmt.Errorf("%w: routing graph is required", contractx.ErrValidation)
	}
	hs := make(map[contractx.WorkerID]Hydrator, len(hydrators))
	for w, h := range hydrators {
		if !graph.Has(w) {
			return nil, fmt.Errorf("%w: hydrator for undeclared worker=%s", contractx.ErrValidation, w)
		}
		if h != nil {
			hs[w] = h
		}
	}
	return &Coordinator{graph: graph, hydrators: hs}, nil
}

func (c *Coordinator) Graph() *Graph {
	return c.graph
}

func (c *Coordinator) Entry() contractx.WorkerID {
	return c.graph.Entry()
}

// Hydrate runs the hydrator of worker against conv in place.
func (c *Coordinator) Hydrate(ctx context.Context, worker contractx.WorkerID, conv *statex.Conversation) ([]string, error) {
	h, ok := c.hydrators[worker]
	if !ok {
		return nil, nil
	}
	return h(ctx, conv)
}

// Handoff moves snap from req.From to req.To. The transition is validated
// before anything runs, hydration works on a copy of the context and the copy
// replaces the context only when hydration succeeds.
func (c *Coordinator) Handoff(
	ctx context.Context,
	snap *statex.Snapshot,
	req contractx.HandoffRequest,
	rec *eventx.Recorder,
	turnID string,
) (Transition, error) {
	if snap == nil {
		return Transition{}, fmt.Errorf("%w: session is nil", contractx.ErrValidation)
	}
	if active := contractx.WorkerID(snap.ActiveWorker); active != req.From {
		return Transition{}, fmt.Errorf("%w: handoff from=%s but active worker is %s", contractx.ErrInvalidHandoffEdge, req.From, active)
	}
	if err := c.graph.Check(req.From, req.To); err != nil {
		return Transition{}, err
	}

	working := snap.Context.Clone()
	hydrated, err := c.Hydrate(ctx, req.To, working)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Transition{}, fmt.Errorf("%w: hydrate %s: %v", contractx.ErrTimeout, req.To, err)
		}
		return Transition{}, fmt.Errorf("hydrate %s: %w", req.To, err)
	}

	snap.Context = working
	snap.ActiveWorker = string(req.To)

	t := Transition{From: req.From, To: req.To, Reason: strings.TrimSpace(req.Reason), Hydrated: hydrated}
	if rec != nil {
		rec.RecordHandoff(turnID, eventx.HandoffEntry{
			From:     string(t.From),
			To:       string(t.To),
			Reason:   t.Reason,
			Hydrated: t.Hydrated,
		})
	}
	log.Ctx(ctx).Info().
		Str("from", string(t.From)).
		Str("to", string(t.To)).
		Strs("hydrated", t.Hydrated).
		Msg("handoff")
	return t, nil
}
