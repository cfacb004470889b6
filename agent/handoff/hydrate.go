package handoff

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	contractx "github.com/tanpawarit/airline-handoff-router/agent/contract"
	itineraryx "github.com/tanpawarit/airline-handoff-router/agent/itinerary"
	statex "github.com/tanpawarit/airline-handoff-router/agent/state"
)

// Hydrator fills the fields a target worker needs before it runs and returns
// the names of the fields it filled. It must only fill empty fields so that a
// second call changes nothing.
type Hydrator func(ctx context.Context, conv *statex.Conversation) ([]string, error)

// DefaultHydrators returns the hydration callbacks of the airline workers.
// Triage and FAQ need no context.
func DefaultHydrators(store itineraryx.Store, newID func() string) map[contractx.WorkerID]Hydrator {
	if newID == nil {
		newID = uuid.NewString
	}
	fromStore := FillFromStore(store)
	withConfirmation := Chain(fromStore, SyntheticConfirmation(newID))
	return map[contractx.WorkerID]Hydrator{
		contractx.WorkerFlight:  fromStore,
		contractx.WorkerRefund:  fromStore,
		contractx.WorkerBooking: withConfirmation,
		contractx.WorkerSeat:    withConfirmation,
	}
}

// FillFromStore looks the booking up by confirmation, then by flight, and
// fills whatever is still empty. A miss leaves the context as it is.
func FillFromStore(store itineraryx.Store) Hydrator {
	return func(ctx context.Context, conv *statex.Conversation) ([]string, error) {
		if store == nil || conv.Itinerary != nil {
			return nil, nil
		}

		var (
			it  *itineraryx.Itinerary
			err error
		)
		switch {
		case conv.ConfirmationNumber != "":
			it, err = store.ByConfirmation(ctx, conv.ConfirmationNumber)
		case conv.FlightNumber != "":
			it, err = store.ByFlight(ctx, conv.FlightNumber)
		default:
			return nil, nil
		}
		if errors.Is(err, itineraryx.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if conv.ConfirmationNumber != "" && !strings.EqualFold(conv.ConfirmationNumber, it.ConfirmationNumber) {
			return nil, nil
		}
		return conv.FillFromItinerary(it), nil
	}
}

// SyntheticConfirmation assigns a confirmation number when a flight is known
// but no booking reference has been given yet.
func SyntheticConfirmation(newID func() string) Hydrator {
	return func(_ context.Context, conv *statex.Conversation) ([]string, error) {
		if conv.ConfirmationNumber != "" || conv.FlightNumber == "" {
			return nil, nil
		}
		if err := conv.SetConfirmation(syntheticCode(newID())); err != nil {
			return nil, err
		}
		return []string{statex.FieldConfirmationNumber}, nil
	}
}

// Chain runs hydrators in order and concatenates what they filled.
func Chain(hs ...Hydrator) Hydrator {
	return func(ctx context.Context, conv *statex.Conversation) ([]string, error) {
		var filled []string
		for _, h := range hs {
			f, err := h(ctx, conv)
			if err != nil {
				return nil, err
			}
			filled = append(filled, f...)
		}
		return filled, nil
	}
}

func syntheticCode(id string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(id) {
		if b.Len() == 6 {
			break
		}
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	for b.Len() < 6 {
		b.WriteByte('X')
	}
	return b.String()
}
