package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	qstashx "github.com/tanpawarit/airline-handoff-router/pkg/qstash"
)

// Sink forwards a turn's events to the external observability surface.
type Sink interface {
	Publish(ctx context.Context, conversationID string, events []Event) error
}

// LogSink writes every event as a structured log line.
type LogSink struct {
	logger zerolog.Logger
}

func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("component", "event_recorder").Logger()}
}

func (s *LogSink) Publish(_ context.Context, conversationID string, events []Event) error {
	for _, e := range events {
		evt := s.logger.Info().
			Str("conversation_id", conversationID).
			Str("turn_id", e.TurnID).
			Str("event_id", e.ID).
			Int("seq", e.Seq).
			Str("kind", string(e.Kind)).
			Str("worker", e.Worker)
		switch {
		case e.Guardrail != nil:
			evt = evt.Str("check", e.Guardrail.Check).Bool("tripped", e.Guardrail.Tripped)
		case e.Tool != nil:
			evt = evt.Str("tool", e.Tool.Tool).Bool("ok", e.Tool.OK).Str("input", e.Tool.Input)
		case e.Handoff != nil:
			evt = evt.Str("from", e.Handoff.From).Str("to", e.Handoff.To).Strs("hydrated", e.Handoff.Hydrated)
		case e.Reply != nil:
			evt = evt.Bool("degraded", e.Reply.Degraded).Bool("tripped", e.Reply.Tripped)
		}
		evt.Msg("conversation event")
	}
	return nil
}

type publisher interface {
	Publish(ctx context.Context, destination string, body []byte, opts ...qstashx.PublishOption) (string, error)
}

// QStashSink publishes each turn's batch to a QStash destination.
type QStashSink struct {
	client      publisher
	destination string
}

func NewQStashSink(client publisher, destination string) *QStashSink {
	return &QStashSink{client: client, destination: destination}
}

type batch struct {
	ConversationID string  `json:"conversation_id"`
	Events         []Event `json:"events"`
}

func (s *QStashSink) Publish(ctx context.Context, conversationID string, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	body, err := json.Marshal(batch{ConversationID: conversationID, Events: events})
	if err != nil {
		return fmt.Errorf("marshal event batch: %w", err)
	}
	_, err = s.client.Publish(ctx, s.destination, body,
		qstashx.WithDeduplicationID(events[len(events)-1].ID),
	)
	if err != nil {
		return fmt.Errorf("publish event batch: %w", err)
	}
	return nil
}

// MultiSink fans out to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Publish(ctx context.Context, conversationID string, events []Event) error {
	var errs error
	for _, s := range m {
		if s == nil {
			continue
		}
		errs = multierr.Append(errs, s.Publish(ctx, conversationID, events))
	}
	return errs
}
