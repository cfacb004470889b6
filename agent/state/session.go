package state

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mohae/deepcopy"

	eventx "github.com/tanpawarit/airline-handoff-router/agent/events"
)

var ErrInvalidSnapshot = errors.New("invalid session snapshot")

// MaxTranscript bounds the exchanges kept for prompt context. Older
// exchanges are folded into Summary.
const MaxTranscript = 12

// MaxEvents bounds the audit entries kept in a snapshot. The event sink
// receives every entry; the snapshot keeps the most recent ones.
const MaxEvents = 200

// MaxSummary bounds the running summary in bytes.
const MaxSummary = 2000

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Exchange is one message of the in-session transcript.
type Exchange struct {
	Role   string `json:"role"`
	Worker string `json:"worker,omitempty"`
	Text   string `json:"text"`
}

// Snapshot is everything persisted between turns of one conversation.
type Snapshot struct {
	ConversationID string         `json:"conversation_id"`
	ActiveWorker   string         `json:"active_worker"`
	Context        *Conversation  `json:"context"`
	Events         []eventx.Event `json:"events,omitempty"`
	Transcript     []Exchange     `json:"transcript,omitempty"`
	Summary        string         `json:"summary,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	Version        int            `json:"version"`
}

// NewSnapshot starts a conversation at the entry worker with an empty context.
func NewSnapshot(conversationID, entryWorker string, now time.Time) *Snapshot {
	now = now.UTC()
	return &Snapshot{
		ConversationID: conversationID,
		ActiveWorker:   entryWorker,
		Context:        &Conversation{},
		CreatedAt:      now,
		UpdatedAt:      now,
		Version:        1,
	}
}

func (s *Snapshot) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: nil", ErrInvalidSnapshot)
	}
	if strings.TrimSpace(s.ConversationID) == "" {
		return fmt.Errorf("%w: conversation_id is required", ErrInvalidSnapshot)
	}
	if strings.TrimSpace(s.ActiveWorker) == "" {
		return fmt.Errorf("%w: active_worker is required", ErrInvalidSnapshot)
	}
	if s.Version <= 0 {
		return fmt.Errorf("%w: version must be positive", ErrInvalidSnapshot)
	}
	if len(s.Events) > MaxEvents {
		return fmt.Errorf("%w: %d events exceed the limit of %d", ErrInvalidSnapshot, len(s.Events), MaxEvents)
	}
	for i, e := range s.Events {
		if e.Seq < 1 || (i > 0 && e.Seq != s.Events[i-1].Seq+1) {
			return fmt.Errorf("%w: event %d has seq %d", ErrInvalidSnapshot, i, e.Seq)
		}
	}
	return nil
}

func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	return deepcopy.Copy(s).(*Snapshot)
}

// AppendExchange adds a message to the transcript and returns the oldest
// exchanges it pushed beyond MaxTranscript.
func (s *Snapshot) AppendExchange(role, worker, text string) []Exchange {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	s.Transcript = append(s.Transcript, Exchange{Role: role, Worker: worker, Text: text})
	over := len(s.Transcript) - MaxTranscript
	if over <= 0 {
		return nil
	}
	evicted := append([]Exchange(nil), s.Transcript[:over]...)
	s.Transcript = append([]Exchange(nil), s.Transcript[over:]...)
	return evicted
}

// KeepEvents stores the most recent MaxEvents of entries.
func (s *Snapshot) KeepEvents(entries []eventx.Event) {
	if over := len(entries) - MaxEvents; over > 0 {
		entries = entries[over:]
	}
	s.Events = append([]eventx.Event(nil), entries...)
}

func (s *Snapshot) ensureContext() {
	if s.Context == nil {
		s.Context = &Conversation{}
	}
}

// SetSummary stores summary, dropping its oldest lines beyond MaxSummary.
func (s *Snapshot) SetSummary(summary string) {
	summary = strings.TrimSpace(summary)
	for len(summary) > MaxSummary {
		cut := strings.IndexByte(summary, '\n')
		if cut < 0 {
			summary = strings.ToValidUTF8(summary[len(summary)-MaxSummary:], "")
			break
		}
		summary = strings.TrimSpace(summary[cut+1:])
	}
	s.Summary = summary
}

// FoldLines appends evicted exchanges to summary as plain lines. It is the
// fold used when no summarizer is configured or the summarizer fails.
func FoldLines(summary string, evicted []Exchange) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(summary))
	for _, ex := range evicted {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- ")
		b.WriteString(ex.Role)
		if ex.Worker != "" {
			b.WriteString(" (" + ex.Worker + ")")
		}
		b.WriteString(": ")
		b.WriteString(ex.Text)
	}
	return b.String()
}
