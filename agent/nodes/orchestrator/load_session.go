package orchestratornode

import (
	"context"
	"errors"
	"fmt"
	"time"

	contractx "github.com/tanpawarit/airline-handoff-router/agent/contract"
	eventx "github.com/tanpawarit/airline-handoff-router/agent/events"
	statex "github.com/tanpawarit/airline-handoff-router/agent/state"
)

func LoadSession(
	ctx context.Context,
	in *GraphState,
	store statex.Store,
	entry contractx.WorkerID,
) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	snap, created, err := loadOrCreateSession(ctx, store, in.ConversationID, entry, in.Now)
	if err != nil {
		return nil, err
	}
	in.Session = snap
	in.Created = created
	in.loadedVersion = snap.Version
	in.Recorder = eventx.NewRecorder(snap.ConversationID, snap.Events)
	in.eventsFrom = in.Recorder.Len()
	return in, nil
}

func loadOrCreateSession(
	ctx context.Context,
	store statex.Store,
	conversationID string,
	entry contractx.WorkerID,
	now time.Time,
) (*statex.Snapshot, bool, error) {
	snap, err := store.Load(ctx, conversationID)
	if err == nil {
		if !contractx.WorkerID(snap.ActiveWorker).Valid() {
			return nil, false, fmt.Errorf("%w: active worker %q", statex.ErrInvalidSnapshot, snap.ActiveWorker)
		}
		if snap.Context == nil {
			snap.Context = &statex.Conversation{}
		}
		return snap, false, nil
	}
	if !errors.Is(err, statex.ErrStateNotFound) {
		return nil, false, fmt.Errorf("load session: %w", err)
	}

	return statex.NewSnapshot(conversationID, string(entry), now), true, nil
}
