package specialist

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/airline-handoff-router/agent/contract"
	guardrailx "github.com/tanpawarit/airline-handoff-router/agent/guardrail"
	statex "github.com/tanpawarit/airline-handoff-router/agent/state"
	toolx "github.com/tanpawarit/airline-handoff-router/agent/tool"
)

// precondition gates mutating tools. It returns a clarifying question when
// the conversation is not ready.
type precondition func(conv *statex.Conversation, buffer time.Duration) (ok bool, question string)

// variant is the static declaration of one worker: what it may call, which
// checks guard it and when it may mutate.
type variant struct {
	id           contractx.WorkerID
	tools        []string
	guardrails   []string
	capability   string
	precondition precondition
}

var defaultGuardrails = []string{guardrailx.CheckJailbreak, guardrailx.CheckRelevance}

func variantFor(id contractx.WorkerID) (variant, error) {
	switch id {
	case contractx.WorkerTriage:
		return variant{
			id:         id,
			guardrails: defaultGuardrails,
			capability: "request routing",
		}, nil
	case contractx.WorkerFAQ:
		return variant{
			id:         id,
			tools:      []string{toolx.ToolFAQLookup, toolx.ToolBaggagePolicy},
			guardrails: defaultGuardrails,
			capability: "policy lookup",
		}, nil
	case contractx.WorkerFlight:
		return variant{
			id:         id,
			tools:      []string{toolx.ToolGetTripDetails, toolx.ToolFlightStatus, toolx.ToolSearchAlternates},
			guardrails: defaultGuardrails,
			capability: "flight information",
		}, nil
	case contractx.WorkerBooking:
		return variant{
			id:           id,
			tools:        []string{toolx.ToolGetTripDetails, toolx.ToolBookFlight, toolx.ToolCancelFlight},
			guardrails:   defaultGuardrails,
			capability:   "booking changes",
			precondition: needBooking("change or cancel your booking"),
		}, nil
	case contractx.WorkerSeat:
		return variant{
			id:           id,
			tools:        []string{toolx.ToolGetTripDetails, toolx.ToolUpdateSeat, toolx.ToolSpecialServiceSeat, toolx.ToolDisplaySeatMap},
			guardrails:   defaultGuardrails,
			capability:   "seat selection",
			precondition: needBooking("change your seat"),
		}, nil
	case contractx.WorkerRefund:
		return variant{
			id:           id,
			tools:        []string{toolx.ToolGetTripDetails, toolx.ToolOpenCompensationCase},
			guardrails:   defaultGuardrails,
			capability:   "compensation",
			precondition: needDisruption,
		}, nil
	default:
		return variant{}, fmt.Errorf("%w: unknown worker=%q", contractx.ErrValidation, id)
	}
}

func needBooking(action string) precondition {
	return func(conv *statex.Conversation, _ time.Duration) (bool, string) {
		if conv.HasBooking() {
			return true, ""
		}
		var missing []string
		if conv == nil || conv.ConfirmationNumber == "" {
			missing = append(missing, "confirmation number")
		}
		if conv == nil || conv.FlightNumber == "" {
			missing = append(missing, "flight number")
		}
		return false, fmt.Sprintf("I can %s for you. Could you share your %s?", action, strings.Join(missing, " and "))
	}
}

func needDisruption(conv *statex.Conversation, buffer time.Duration) (bool, string) {
	if conv == nil || conv.ConfirmationNumber == "" {
		return false, "I can look into compensation for you. Could you share your confirmation number?"
	}
	if !conv.HasDisruption(buffer) {
		return false, fmt.Sprintf(
			"I don't see a delay or cancellation on booking %s, so there is nothing to compensate yet. "+
				"If your flight was disrupted, could you tell me which flight it was?",
			conv.ConfirmationNumber)
	}
	return true, ""
}
