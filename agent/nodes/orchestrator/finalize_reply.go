package orchestratornode

import (
	"fmt"

	contractx "github.com/tanpawarit/airline-handoff-router/agent/contract"
)

func FinalizeReply(in *GraphState) (Reply, error) {
	if in == nil || in.Recorder == nil {
		return Reply{}, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	text := in.ReplyText()
	if text == "" {
		return Reply{}, fmt.Errorf("%w: worker returned empty reply", contractx.ErrValidation)
	}
	return Reply{
		ConversationID: in.ConversationID,
		TurnID:         in.TurnID,
		Text:           text,
		Worker:         in.Worker,
		Tripped:        in.Guard.Tripped,
		Degraded:       in.Degraded,
		Events:         in.Recorder.Since(in.eventsFrom),
	}, nil
}
