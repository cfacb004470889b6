package orchestratornode

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/airline-handoff-router/agent/contract"
	eventx "github.com/tanpawarit/airline-handoff-router/agent/events"
	statex "github.com/tanpawarit/airline-handoff-router/agent/state"
)

// SaveSession records the turn's reply and persists the snapshot. Tripped
// messages stay out of the transcript. Exchanges pushed out of the
// transcript are folded into the running summary.
func SaveSession(
	ctx context.Context,
	in *GraphState,
	store statex.Store,
	summarizer contractx.Summarizer,
) (*GraphState, error) {
	if in == nil || in.Session == nil || in.Recorder == nil {
		return nil, fmt.Errorf("%w: graph session is nil", contractx.ErrValidation)
	}

	text := in.ReplyText()
	if text == "" {
		return nil, fmt.Errorf("%w: worker returned empty reply", contractx.ErrValidation)
	}

	in.Recorder.RecordReply(in.TurnID, string(in.Worker), eventx.ReplyEntry{
		Text:       text,
		Tripped:    in.Guard.Tripped,
		Degraded:   in.Degraded,
		Clarifying: in.Clarifying,
	})
	if !in.Guard.Tripped {
		evicted := in.Session.AppendExchange(statex.RoleUser, "", in.Text)
		evicted = append(evicted, in.Session.AppendExchange(statex.RoleAssistant, string(in.Worker), text)...)
		in.transcribed = true
		foldSummary(ctx, in.Session, evicted, summarizer)
	}

	in.Session.KeepEvents(in.Recorder.Entries())
	in.Session.UpdatedAt = in.Now
	in.Session.Version = in.loadedVersion
	if !in.Created {
		in.Session.Version++
	}
	if err := in.Session.Validate(); err != nil {
		return nil, fmt.Errorf("session validation failed: %w", err)
	}
	if err := store.Save(ctx, in.Session); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	in.saved = true
	return in, nil
}

// foldSummary asks the summarizer to fold evicted exchanges. Without a
// summarizer, or when it fails, the exchanges are appended as plain lines.
func foldSummary(ctx context.Context, snap *statex.Snapshot, evicted []statex.Exchange, summarizer contractx.Summarizer) {
	if len(evicted) == 0 {
		return
	}
	if summarizer != nil {
		folded, err := summarizer.Fold(ctx, snap.Summary, evicted)
		if err == nil {
			snap.SetSummary(folded)
			return
		}
		log.Ctx(ctx).Warn().Err(err).Int("evicted", len(evicted)).Msg("summary fold failed, keeping plain lines")
	}
	foldFallback(snap, evicted)
}
