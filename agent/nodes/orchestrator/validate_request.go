package orchestratornode

import (
	"errors"
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/airline-handoff-router/agent/contract"
	eventx "github.com/tanpawarit/airline-handoff-router/agent/events"
	guardrailx "github.com/tanpawarit/airline-handoff-router/agent/guardrail"
	statex "github.com/tanpawarit/airline-handoff-router/agent/state"
)

var (
	ErrInvalidMessage      = errors.New("message is empty")
	ErrInvalidConversation = errors.New("conversation id is empty")
	ErrMessageTooLong      = errors.New("message is too long")
	ErrHopLimit            = errors.New("handoff hop limit reached")
)

// MaxMessageLength bounds one inbound message in bytes.
const MaxMessageLength = 4000

type GraphInput struct {
	ConversationID string
	// TurnID is generated when empty.
	TurnID string
	Text   string
	// Progress, when set, follows the turn so the caller can close it after
	// an internal failure.
	Progress *Progress
}

// Reply is the result of one turn as seen by the transport.
type Reply struct {
	ConversationID string             `json:"conversation_id"`
	TurnID         string             `json:"turn_id"`
	Text           string             `json:"text"`
	Worker         contractx.WorkerID `json:"worker"`
	Tripped        bool               `json:"tripped,omitempty"`
	Degraded       bool               `json:"degraded,omitempty"`
	Events         []eventx.Event     `json:"events,omitempty"`
}

type GraphState struct {
	ConversationID string
	TurnID         string
	Text           string
	Now            time.Time

	Session  *statex.Snapshot
	Recorder *eventx.Recorder
	Created  bool

	Guard guardrailx.Result

	Replies    []string
	Worker     contractx.WorkerID
	Degraded   bool
	Clarifying bool
	Hops       int

	eventsFrom    int
	loadedVersion int
	// transcribed and saved track how far SaveSession got.
	transcribed bool
	saved       bool
}

func ValidateRequest(in GraphInput, nowFn func() time.Time, newID func() string) (*GraphState, error) {
	conversationID := strings.TrimSpace(in.ConversationID)
	if conversationID == "" {
		return nil, ErrInvalidConversation
	}

	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, ErrInvalidMessage
	}
	if len(text) > MaxMessageLength {
		return nil, fmt.Errorf("%w: limit is %d bytes", ErrMessageTooLong, MaxMessageLength)
	}

	turnID := strings.TrimSpace(in.TurnID)
	if turnID == "" {
		turnID = newID()
	}

	state := &GraphState{
		ConversationID: conversationID,
		TurnID:         turnID,
		Text:           text,
		Now:            nowFn().UTC(),
	}
	in.Progress.follow(state)
	return state, nil
}

// ReplyText joins the replies of every worker that spoke this turn.
func (s *GraphState) ReplyText() string {
	return strings.TrimSpace(strings.Join(s.Replies, "\n\n"))
}

func (s *GraphState) collect(worker contractx.WorkerID, dec contractx.WorkerDecision) {
	if reply := strings.TrimSpace(dec.Reply); reply != "" {
		s.Replies = append(s.Replies, reply)
		s.Worker = worker
	}
	s.Degraded = s.Degraded || dec.Degraded
	s.Clarifying = dec.Clarifying
}
