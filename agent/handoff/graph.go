package handoff

import (
	"fmt"

	"go.uber.org/multierr"

	contractx "github.com/tanpawarit/airline-handoff-router/agent/contract"
)

// Graph is the immutable set of permitted worker-to-worker transitions.
type Graph struct {
	entry   contractx.WorkerID
	workers []contractx.WorkerID
	edges   map[contractx.WorkerID][]contractx.WorkerID
}

// Builder collects workers first and edges second. Nothing is checked until
// Build, so declaration order between workers never matters.
type Builder struct {
	workers []contractx.WorkerID
	edges   [][2]contractx.WorkerID
}

func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) Declare(workers ...contractx.WorkerID) *Builder {
	b.workers = append(b.workers, workers...)
	return b
}

func (b *Builder) Connect(from contractx.WorkerID, to ...contractx.WorkerID) *Builder {
	for _, t := range to {
		b.edges = append(b.edges, [2]contractx.WorkerID{from, t})
	}
	return b
}

// Build validates the declared graph and seals it. Every problem found is
// reported, each wrapping ErrInvalidHandoffEdge or ErrValidation.
func (b *Builder) Build(entry contractx.WorkerID) (*Graph, error) {
	var errs error

	declared := make(map[contractx.WorkerID]struct{}, len(b.workers))
	g := &Graph{entry: entry, edges: make(map[contractx.WorkerID][]contractx.WorkerID)}
	for _, w := range b.workers {
		if !w.Valid() {
			errs = multierr.Append(errs, fmt.Errorf("%w: unknown worker=%q", contractx.ErrValidation, w))
			continue
		}
		if _, dup := declared[w]; dup {
			errs = multierr.Append(errs, fmt.Errorf("%w: worker=%s declared twice", contractx.ErrValidation, w))
			continue
		}
		declared[w] = struct{}{}
		g.workers = append(g.workers, w)
	}
	if _, ok := declared[entry]; !ok {
		errs = multierr.Append(errs, fmt.Errorf("%w: entry worker=%q is not declared", contractx.ErrValidation, entry))
	}

	seen := make(map[[2]contractx.WorkerID]struct{}, len(b.edges))
	for _, e := range b.edges {
		from, to := e[0], e[1]
		_, fromOK := declared[from]
		_, toOK := declared[to]
		switch {
		case !fromOK || !toOK:
			errs = multierr.Append(errs, fmt.Errorf("%w: %s->%s references an undeclared worker", contractx.ErrInvalidHandoffEdge, from, to))
			continue
		case from == to:
			errs = multierr.Append(errs, fmt.Errorf("%w: %s->%s is a self transition", contractx.ErrInvalidHandoffEdge, from, to))
			continue
		}
		if _, dup := seen[e]; dup {
			continue
		}
		seen[e] = struct{}{}
		g.edges[from] = append(g.edges[from], to)
	}

	if errs == nil {
		errs = multierr.Append(errs, g.checkHome())
	}
	if errs != nil {
		return nil, errs
	}
	return g, nil
}

// checkHome requires every worker to be reachable from the entry worker and
// to have a direct edge back to it.
func (g *Graph) checkHome() error {
	var errs error
	reached := map[contractx.WorkerID]bool{g.entry: true}
	queue := []contractx.WorkerID{g.entry}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range g.edges[cur] {
			if !reached[next] {
				reached[next] = true
				queue = append(queue, next)
			}
		}
	}
	for _, w := range g.workers {
		if !reached[w] {
			errs = multierr.Append(errs, fmt.Errorf("%w: worker=%s is unreachable from %s", contractx.ErrInvalidHandoffEdge, w, g.entry))
		}
		if w != g.entry && !g.Allows(w, g.entry) {
			errs = multierr.Append(errs, fmt.Errorf("%w: worker=%s has no edge back to %s", contractx.ErrInvalidHandoffEdge, w, g.entry))
		}
	}
	return errs
}

// DefaultGraph is the airline routing graph with Triage as home.
func DefaultGraph() (*Graph, error) {
	return NewBuilder().
		Declare(contractx.AllWorkers()...).
		Connect(contractx.WorkerTriage,
			contractx.WorkerFAQ, contractx.WorkerFlight, contractx.WorkerBooking, contractx.WorkerSeat, contractx.WorkerRefund).
		Connect(contractx.WorkerFAQ, contractx.WorkerTriage).
		Connect(contractx.WorkerFlight, contractx.WorkerBooking, contractx.WorkerRefund, contractx.WorkerTriage).
		Connect(contractx.WorkerBooking, contractx.WorkerSeat, contractx.WorkerRefund, contractx.WorkerTriage).
		Connect(contractx.WorkerSeat, contractx.WorkerTriage).
		Connect(contractx.WorkerRefund, contractx.WorkerTriage).
		Build(contractx.WorkerTriage)
}

func (g *Graph) Entry() contractx.WorkerID {
	return g.entry
}

func (g *Graph) Workers() []contractx.WorkerID {
	return append([]contractx.WorkerID(nil), g.workers...)
}

// Targets returns the outgoing edges of from in declaration order.
func (g *Graph) Targets(from contractx.WorkerID) []contractx.WorkerID {
	return append([]contractx.WorkerID(nil), g.edges[from]...)
}

func (g *Graph) Allows(from, to contractx.WorkerID) bool {
	for _, t := range g.edges[from] {
		if t == to {
			return true
		}
	}
	return false
}

func (g *Graph) Has(w contractx.WorkerID) bool {
	for _, d := range g.workers {
		if d == w {
			return true
		}
	}
	return false
}

func (g *Graph) Check(from, to contractx.WorkerID) error {
	if !g.Allows(from, to) {
		return fmt.Errorf("%w: %s->%s", contractx.ErrInvalidHandoffEdge, from, to)
	}
	return nil
}
