package contract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	statex "github.com/tanpawarit/airline-handoff-router/agent/state"
)

type WorkerID string

const (
	WorkerTriage  WorkerID = "triage"
	WorkerFAQ     WorkerID = "faq"
	WorkerFlight  WorkerID = "flight"
	WorkerBooking WorkerID = "booking"
	WorkerSeat    WorkerID = "seat"
	WorkerRefund  WorkerID = "refund"
)

// AllWorkers returns every worker identity in declaration order.
func AllWorkers() []WorkerID {
	return []WorkerID{WorkerTriage, WorkerFAQ, WorkerFlight, WorkerBooking, WorkerSeat, WorkerRefund}
}

func (w WorkerID) Valid() bool {
	switch w {
	case WorkerTriage, WorkerFAQ, WorkerFlight, WorkerBooking, WorkerSeat, WorkerRefund:
		return true
	default:
		return false
	}
}

func ParseWorkerID(raw string) (WorkerID, error) {
	w := WorkerID(strings.ToLower(strings.TrimSpace(raw)))
	if !w.Valid() {
		return "", fmt.Errorf("%w: unknown worker=%q", ErrValidation, raw)
	}
	return w, nil
}

type MessageKind string

const (
	KindClassification MessageKind = "classification"
	KindToolRequest    MessageKind = "tool_request"
	KindToolResponse   MessageKind = "tool_response"
)

// StructuredMessage is an immutable kind-tagged JSON payload.
// A corrected retry builds a new message; nothing mutates an existing one.
type StructuredMessage struct {
	kind    MessageKind
	payload []byte
}

func NewStructuredMessage(kind MessageKind, payload any) (StructuredMessage, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return StructuredMessage{}, fmt.Errorf("%w: marshal %s payload: %v", ErrValidation, kind, err)
	}
	return StructuredMessage{kind: kind, payload: raw}, nil
}

func NewRawStructuredMessage(kind MessageKind, raw []byte) StructuredMessage {
	return StructuredMessage{kind: kind, payload: bytes.Clone(raw)}
}

func (m StructuredMessage) Kind() MessageKind {
	return m.kind
}

func (m StructuredMessage) Payload() []byte {
	return bytes.Clone(m.payload)
}

func (m StructuredMessage) IsZero() bool {
	return m.kind == "" && len(m.payload) == 0
}

func (m StructuredMessage) Decode(into any) error {
	if len(m.payload) == 0 {
		return fmt.Errorf("%w: empty %s payload", ErrValidation, m.kind)
	}
	if err := json.Unmarshal(m.payload, into); err != nil {
		return fmt.Errorf("%w: decode %s payload: %v", ErrSchemaViolation, m.kind, err)
	}
	return nil
}

func (m StructuredMessage) MarshalJSON() ([]byte, error) {
	payload := json.RawMessage(m.payload)
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	return json.Marshal(struct {
		Kind    MessageKind     `json:"kind"`
		Payload json.RawMessage `json:"payload"`
	}{Kind: m.kind, Payload: payload})
}

// Classification is the Triage decision over an inbound message.
type Classification struct {
	Intent     string   `json:"intent"`
	Target     WorkerID `json:"target,omitempty"`
	Confidence float64  `json:"confidence"`
	Reply      string   `json:"reply,omitempty"`
}

// ReflectionStep is one worker answer given so far in a turn.
type ReflectionStep struct {
	Worker WorkerID `json:"worker"`
	Reply  string   `json:"reply"`
}

// Reflection says whether a turn is done. Remaining restates the part of
// the message nobody has handled yet.
type Reflection struct {
	Satisfied bool   `json:"satisfied"`
	Remaining string `json:"remaining_request,omitempty"`
	Reasoning string `json:"reasoning,omitempty"`
}

type ToolCall struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolOutcome is what a worker sees after one tool invocation.
type ToolOutcome struct {
	Tool     string            `json:"tool"`
	Request  StructuredMessage `json:"request"`
	Response StructuredMessage `json:"response"`
	Attempts int               `json:"attempts"`
	Err      error             `json:"-"`
}

func (o ToolOutcome) OK() bool {
	return o.Err == nil
}

type HandoffRequest struct {
	From   WorkerID `json:"from"`
	To     WorkerID `json:"to"`
	Reason string   `json:"reason,omitempty"`
}

type WorkerRequest struct {
	TurnID       string
	Message      string
	Conversation *statex.Conversation
	History      []statex.Exchange
	// Summary folds the exchanges that no longer fit in History.
	Summary string
	// Correction is set on the single retry after a structured answer was
	// rejected. It names what was wrong.
	Correction string
}

// WorkerDecision is one worker turn: a reply, a handoff, or both.
type WorkerDecision struct {
	Reply      string
	Handoff    *HandoffRequest
	Outcomes   []ToolOutcome
	Clarifying bool
	Degraded   bool
}

// Capabilities is the declared allowlist of a worker variant.
type Capabilities struct {
	Tools      []string
	Guardrails []string
}
