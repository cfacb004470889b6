package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mohae/deepcopy"
)

type Kind string

const (
	KindGuardrailCheck Kind = "guardrail_check"
	KindToolCall       Kind = "tool_call"
	KindHandoff        Kind = "handoff_transition"
	KindReply          Kind = "reply"
)

type GuardrailEntry struct {
	Check   string `json:"check"`
	Tripped bool   `json:"tripped"`
	Reason  string `json:"reason,omitempty"`
	Error   string `json:"error,omitempty"`
}

type ToolEntry struct {
	Tool     string `json:"tool"`
	Input    string `json:"input"`
	OK       bool   `json:"ok"`
	Attempts int    `json:"attempts"`
	Mutating bool   `json:"mutating,omitempty"`
	Code     string `json:"code,omitempty"`
	Failure  string `json:"failure,omitempty"`
}

type HandoffEntry struct {
	From     string   `json:"from"`
	To       string   `json:"to"`
	Reason   string   `json:"reason,omitempty"`
	Hydrated []string `json:"hydrated,omitempty"`
}

type ReplyEntry struct {
	Text       string `json:"text"`
	Tripped    bool   `json:"tripped,omitempty"`
	Degraded   bool   `json:"degraded,omitempty"`
	Clarifying bool   `json:"clarifying,omitempty"`
}

// Event is one audit entry. Exactly one of the entry pointers is set, matching Kind.
type Event struct {
	ID             string    `json:"id"`
	Seq            int       `json:"seq"`
	ConversationID string    `json:"conversation_id"`
	TurnID         string    `json:"turn_id"`
	Kind           Kind      `json:"kind"`
	Worker         string    `json:"worker,omitempty"`
	At             time.Time `json:"at"`

	Guardrail *GuardrailEntry `json:"guardrail,omitempty"`
	Tool      *ToolEntry      `json:"tool,omitempty"`
	Handoff   *HandoffEntry   `json:"handoff,omitempty"`
	Reply     *ReplyEntry     `json:"reply,omitempty"`
}

// Recorder is the append-only per-conversation event log.
type Recorder struct {
	mu             sync.Mutex
	conversationID string
	entries        []Event
	seq            int

	now   func() time.Time
	newID func() string
}

// NewRecorder resumes a log from previously recorded entries. Sequence
// numbers continue after the last existing entry, which may not start at 1
// when older entries were trimmed.
func NewRecorder(conversationID string, existing []Event) *Recorder {
	r := &Recorder{
		conversationID: conversationID,
		entries:        copyEvents(existing),
		now:            time.Now,
		newID:          uuid.NewString,
	}
	if n := len(existing); n > 0 {
		r.seq = existing[n-1].Seq
	}
	return r
}

func (r *Recorder) ConversationID() string {
	return r.conversationID
}

func (r *Recorder) append(turnID string, worker string, e Event) Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	e.ID = r.newID()
	r.seq++
	e.Seq = r.seq
	e.ConversationID = r.conversationID
	e.TurnID = turnID
	e.Worker = worker
	e.At = r.now().UTC()
	r.entries = append(r.entries, e)
	return deepcopy.Copy(e).(Event)
}

func (r *Recorder) RecordGuardrail(turnID, worker string, entry GuardrailEntry) Event {
	return r.append(turnID, worker, Event{Kind: KindGuardrailCheck, Guardrail: &entry})
}

func (r *Recorder) RecordTool(turnID, worker string, entry ToolEntry) Event {
	return r.append(turnID, worker, Event{Kind: KindToolCall, Tool: &entry})
}

func (r *Recorder) RecordHandoff(turnID string, entry HandoffEntry) Event {
	entry.Hydrated = append([]string(nil), entry.Hydrated...)
	return r.append(turnID, entry.From, Event{Kind: KindHandoff, Handoff: &entry})
}

func (r *Recorder) RecordReply(turnID, worker string, entry ReplyEntry) Event {
	return r.append(turnID, worker, Event{Kind: KindReply, Reply: &entry})
}

func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Entries returns a copy of the full log in emission order.
func (r *Recorder) Entries() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return copyEvents(r.entries)
}

// Since returns the entries appended after seq.
func (r *Recorder) Since(seq int) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if seq < 0 {
		seq = 0
	}
	if seq >= len(r.entries) {
		return nil
	}
	return copyEvents(r.entries[seq:])
}

func copyEvents(in []Event) []Event {
	if len(in) == 0 {
		return nil
	}
	return deepcopy.Copy(in).([]Event)
}
