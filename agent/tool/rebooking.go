package tool

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	itineraryx "github.com/tanpawarit/airline-handoff-router/agent/itinerary"
)

var ErrNoDisruption = errors.New("itinerary has no disrupted leg")

// RebookingPlan is the result of a rebooking search. The search never commits.
type RebookingPlan struct {
	Disruption  itineraryx.Disruption
	Target      itineraryx.Leg
	TargetIndex int
	DepartAfter time.Time
	Alternates  []itineraryx.Flight
}

// rebookingTarget picks the leg to replace. A missed connection is replaced
// by flights departing after the disrupted arrival plus buffer. Without a
// missed leg the disrupted leg itself is replaced by later departures.
func rebookingTarget(d itineraryx.Disruption, buffer time.Duration) (itineraryx.Leg, int, time.Time) {
	if d.Missed != nil {
		return *d.Missed, d.MissedIndex, d.ReadyAt(buffer)
	}
	return d.Leg, d.LegIndex, d.Leg.ScheduledDeparture
}

// SearchAlternates finds up to n flights over the same origin and destination
// as the leg to replace, departing strictly after the ready time, ordered by
// arrival then flight number.
func SearchAlternates(ctx context.Context, store itineraryx.Store, it *itineraryx.Itinerary, buffer time.Duration, n int) (RebookingPlan, error) {
	d, ok := it.FirstDisruption(buffer)
	if !ok {
		return RebookingPlan{}, ErrNoDisruption
	}
	target, idx, after := rebookingTarget(d, buffer)

	flights, err := store.Flights(ctx, itineraryx.FlightQuery{
		Origin:      target.Origin,
		Destination: target.Destination,
		DepartAfter: after,
	})
	if err != nil {
		return RebookingPlan{}, fmt.Errorf("search flights %s-%s: %w", target.Origin, target.Destination, err)
	}

	candidates := make([]itineraryx.Flight, 0, len(flights))
	for _, f := range flights {
		if !f.Departure.After(after) {
			continue
		}
		if strings.EqualFold(f.FlightNumber, target.FlightNumber) {
			continue
		}
		if f.SeatsAvailable <= 0 {
			continue
		}
		candidates = append(candidates, f)
	}
	slices.SortStableFunc(candidates, func(a, b itineraryx.Flight) int {
		if c := a.Arrival.Compare(b.Arrival); c != 0 {
			return c
		}
		return compareFlightNumbers(a.FlightNumber, b.FlightNumber)
	})
	if n > 0 && len(candidates) > n {
		candidates = candidates[:n]
	}

	return RebookingPlan{
		Disruption:  d,
		Target:      target,
		TargetIndex: idx,
		DepartAfter: after,
		Alternates:  candidates,
	}, nil
}

// compareFlightNumbers orders by carrier prefix then numeric part, so NY95
// sorts before NY950.
func compareFlightNumbers(a, b string) int {
	ap, an := splitFlightNumber(a)
	bp, bn := splitFlightNumber(b)
	if c := strings.Compare(ap, bp); c != 0 {
		return c
	}
	if an != bn {
		if an < bn {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}

func splitFlightNumber(raw string) (string, int) {
	raw = strings.ToUpper(strings.ReplaceAll(raw, "-", ""))
	i := len(raw)
	for i > 0 && raw[i-1] >= '0' && raw[i-1] <= '9' {
		i--
	}
	n, err := strconv.Atoi(raw[i:])
	if err != nil {
		return raw, -1
	}
	return raw[:i], n
}
