package orchestratornode

import (
	"context"
	"fmt"

	contractx "github.com/tanpawarit/airline-handoff-router/agent/contract"
	eventx "github.com/tanpawarit/airline-handoff-router/agent/events"
	statex "github.com/tanpawarit/airline-handoff-router/agent/state"
)

// Progress follows one turn through the graph. When the graph fails, the
// caller uses it to report what the turn already did.
type Progress struct {
	state *GraphState
}

func (p *Progress) follow(state *GraphState) {
	if p != nil {
		p.state = state
	}
}

func (p *Progress) started() bool {
	return p != nil && p.state != nil && p.state.Session != nil && p.state.Recorder != nil
}

// Worker is the worker that last spoke, else the active one.
func (p *Progress) Worker() contractx.WorkerID {
	if !p.started() {
		return ""
	}
	if p.state.Worker != "" {
		return p.state.Worker
	}
	return contractx.WorkerID(p.state.Session.ActiveWorker)
}

// Committed lists the mutating tools that succeeded during the turn. Their
// writes are in the itinerary store whatever happens to the turn.
func (p *Progress) Committed() []string {
	if !p.started() {
		return nil
	}
	var tools []string
	for _, e := range p.state.Recorder.Since(p.state.eventsFrom) {
		if e.Tool != nil && e.Tool.OK && e.Tool.Mutating {
			tools = append(tools, e.Tool.Tool)
		}
	}
	return tools
}

// Fail closes a turn that ended in an internal error. It records the reply
// the customer sees, persists the session unless the turn already saved it,
// and returns the turn's events. The events are returned even when the
// save fails.
func (p *Progress) Fail(ctx context.Context, store statex.Store, text string) ([]eventx.Event, error) {
	if !p.started() {
		return nil, nil
	}
	s := p.state
	worker := p.Worker()

	s.Recorder.RecordReply(s.TurnID, string(worker), eventx.ReplyEntry{Text: text, Degraded: true})
	switch {
	case s.Guard.Tripped:
		// tripped messages stay out of the transcript
	case s.transcribed:
		if last := len(s.Session.Transcript) - 1; last >= 0 && s.Session.Transcript[last].Role == statex.RoleAssistant {
			s.Session.Transcript[last].Text = text
		}
	default:
		foldFallback(s.Session, s.Session.AppendExchange(statex.RoleUser, "", s.Text))
		foldFallback(s.Session, s.Session.AppendExchange(statex.RoleAssistant, string(worker), text))
		s.transcribed = true
	}
	events := s.Recorder.Since(s.eventsFrom)
	if s.saved || store == nil {
		return events, nil
	}

	s.Session.KeepEvents(s.Recorder.Entries())
	s.Session.UpdatedAt = s.Now
	s.Session.Version = s.loadedVersion
	if !s.Created {
		s.Session.Version++
	}
	if err := store.Save(ctx, s.Session); err != nil {
		return events, fmt.Errorf("save failed turn: %w", err)
	}
	s.saved = true
	return events, nil
}

func foldFallback(snap *statex.Snapshot, evicted []statex.Exchange) {
	if len(evicted) > 0 {
		snap.SetSummary(statex.FoldLines(snap.Summary, evicted))
	}
}
