package tool

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/getkin/kin-openapi/openapi3"

	itineraryx "github.com/tanpawarit/airline-handoff-router/agent/itinerary"
)

const (
	cancellationRefund    = 250.0
	cancellationRefundETA = "5-7 business days to the original payment method"
)

type bookFlightInput struct {
	ConfirmationNumber string `json:"confirmation_number"`
	FlightNumber       string `json:"flight_number"`
	SeatNumber         string `json:"seat_number"`
}

type bookFlightOutput struct {
	ConfirmationNumber string `json:"confirmation_number"`
	FlightNumber       string `json:"flight_number"`
	ReplacedFlight     string `json:"replaced_flight"`
	SeatNumber         string `json:"seat_number,omitempty"`
	Origin             string `json:"origin"`
	Destination        string `json:"destination"`
	Departure          string `json:"departure"`
	Arrival            string `json:"arrival"`
	Status             string `json:"status"`
}

func bookFlightTool() Definition {
	return Definition{
		Contract: Contract{
			Name:        ToolBookFlight,
			Capability:  "flight booking",
			Description: "Book a replacement or inventory flight into the active booking. The confirmation number stays the same.",
			Mutating:    true,
			Request: objectSchema([]string{"confirmation_number", "flight_number"}, map[string]*openapi3.Schema{
				"confirmation_number": confirmationSchema(),
				"flight_number":       flightNumberSchema(),
				"seat_number":         seatNumberSchema(),
			}),
			Response: objectSchema(
				[]string{"confirmation_number", "flight_number", "replaced_flight", "origin", "destination", "departure", "arrival", "status"},
				map[string]*openapi3.Schema{
					"confirmation_number": stringSchema("Unchanged confirmation number"),
					"flight_number":       stringSchema("Booked flight"),
					"replaced_flight":     stringSchema("Flight that was replaced"),
					"seat_number":         seatNumberSchema(),
					"origin":              stringSchema("Origin airport"),
					"destination":         stringSchema("Destination airport"),
					"departure":           stringSchema("Departure time"),
					"arrival":             stringSchema("Arrival time"),
					"status":              enumSchema("Booking status", string(itineraryx.LegConfirmed)),
				},
			),
		},
		Handler: typed(bookFlight),
	}
}

func bookFlight(ctx context.Context, env *Env, in bookFlightInput) (bookFlightOutput, error) {
	if err := requireActiveBooking(env, in.ConfirmationNumber); err != nil {
		return bookFlightOutput{}, err
	}
	current, err := currentItinerary(ctx, env, in.ConfirmationNumber)
	if err != nil {
		return bookFlightOutput{}, err
	}
	it := current.Clone()

	target, idx, after, err := legToReplace(ctx, env, it, in.FlightNumber)
	if err != nil {
		return bookFlightOutput{}, err
	}
	flight, err := findInventoryFlight(ctx, env.Store, target, in.FlightNumber)
	if err != nil {
		return bookFlightOutput{}, err
	}
	if !after.IsZero() && !flight.Departure.After(after) {
		return bookFlightOutput{}, fmt.Errorf("flight %s departs %s, before the traveller can connect after %s",
			flight.FlightNumber, flight.Departure.Format(time.RFC3339), after.Format(time.RFC3339))
	}
	if flight.SeatsAvailable <= 0 {
		return bookFlightOutput{}, fmt.Errorf("flight %s is full", flight.FlightNumber)
	}

	seat := strings.ToUpper(in.SeatNumber)
	if seat == "" {
		seat = flight.Seat
	}
	if seat == "" {
		seat = it.SeatNumber
	}

	it.Legs[idx] = flight.AsLeg(itineraryx.LegConfirmed, "Rebooked from "+target.FlightNumber)
	it.SeatNumber = seat

	conv := env.Conversation
	conv.FlightNumber = flight.FlightNumber
	conv.SeatNumber = seat
	conv.Itinerary = it
	conv.AddNote(fmt.Sprintf("Rebooked %s onto %s", target.FlightNumber, flight.FlightNumber))

	saved := it.Clone()
	env.Stage(func(ctx context.Context) error {
		return env.Store.SaveItinerary(ctx, saved)
	})

	return bookFlightOutput{
		ConfirmationNumber: it.ConfirmationNumber,
		FlightNumber:       flight.FlightNumber,
		ReplacedFlight:     target.FlightNumber,
		SeatNumber:         seat,
		Origin:             flight.Origin,
		Destination:        flight.Destination,
		Departure:          flight.Departure.Format(time.RFC3339),
		Arrival:            flight.Arrival.Format(time.RFC3339),
		Status:             string(itineraryx.LegConfirmed),
	}, nil
}

// legToReplace returns the disrupted or missed leg when there is one,
// otherwise the leg whose route the requested flight serves.
func legToReplace(ctx context.Context, env *Env, it *itineraryx.Itinerary, flightNumber string) (itineraryx.Leg, int, time.Time, error) {
	buffer := env.Settings.ConnectionBuffer
	if d, ok := it.FirstDisruption(buffer); ok {
		leg, idx, after := rebookingTarget(d, buffer)
		return leg, idx, after, nil
	}
	for i, leg := range it.Legs {
		if _, err := findInventoryFlight(ctx, env.Store, leg, flightNumber); err == nil {
			return leg, i, time.Time{}, nil
		}
	}
	return itineraryx.Leg{}, -1, time.Time{}, fmt.Errorf("flight %s does not serve any leg of booking %s", flightNumber, it.ConfirmationNumber)
}

func findInventoryFlight(ctx context.Context, store itineraryx.Store, leg itineraryx.Leg, flightNumber string) (itineraryx.Flight, error) {
	flights, err := store.Flights(ctx, itineraryx.FlightQuery{Origin: leg.Origin, Destination: leg.Destination})
	if err != nil {
		return itineraryx.Flight{}, err
	}
	for _, f := range flights {
		if strings.EqualFold(f.FlightNumber, flightNumber) {
			return f, nil
		}
	}
	return itineraryx.Flight{}, fmt.Errorf("%w: flight %s on %s-%s", itineraryx.ErrNotFound, flightNumber, leg.Origin, leg.Destination)
}

type cancelFlightInput struct {
	ConfirmationNumber string `json:"confirmation_number"`
	FlightNumber       string `json:"flight_number"`
	Confirmed          bool   `json:"confirmed"`
}

type cancelFlightOutput struct {
	ConfirmationNumber string  `json:"confirmation_number"`
	FlightNumber       string  `json:"flight_number"`
	Status             string  `json:"status"`
	RefundAmount       float64 `json:"refund_amount"`
	RefundETA          string  `json:"refund_eta"`
}

func cancelFlightTool() Definition {
	return Definition{
		Contract: Contract{
			Name:        ToolCancelFlight,
			Capability:  "booking cancellation",
			Description: "Cancel the active booking. Only call after the customer has explicitly confirmed the cancellation.",
			Mutating:    true,
			Request: objectSchema([]string{"confirmation_number", "flight_number", "confirmed"}, map[string]*openapi3.Schema{
				"confirmation_number": confirmationSchema(),
				"flight_number":       flightNumberSchema(),
				"confirmed":           described(openapi3.NewBoolSchema().WithEnum(true), "Customer confirmed the cancellation"),
			}),
			Response: objectSchema(
				[]string{"confirmation_number", "flight_number", "status", "refund_amount", "refund_eta"},
				map[string]*openapi3.Schema{
					"confirmation_number": stringSchema("Cancelled confirmation number"),
					"flight_number":       stringSchema("Cancelled flight"),
					"status":              enumSchema("Booking status", string(itineraryx.LegCancelled)),
					"refund_amount":       openapi3.NewFloat64Schema().WithMin(0),
					"refund_eta":          stringSchema("Refund timeline"),
				},
			),
		},
		Handler: typed(cancelFlight),
	}
}

func cancelFlight(ctx context.Context, env *Env, in cancelFlightInput) (cancelFlightOutput, error) {
	if err := requireActiveBooking(env, in.ConfirmationNumber); err != nil {
		return cancelFlightOutput{}, err
	}
	conv := env.Conversation
	if !strings.EqualFold(conv.FlightNumber, in.FlightNumber) {
		return cancelFlightOutput{}, fmt.Errorf("flight %s does not match active flight %s", in.FlightNumber, conv.FlightNumber)
	}
	current, err := env.Store.ByConfirmation(ctx, in.ConfirmationNumber)
	if err != nil {
		return cancelFlightOutput{}, err
	}
	if current.Cancelled {
		return cancelFlightOutput{}, fmt.Errorf("booking %s is already cancelled", current.ConfirmationNumber)
	}
	it := current.Clone()
	it.Cancelled = true
	for i := range it.Legs {
		it.Legs[i].Status = itineraryx.LegCancelled
		it.Legs[i].StatusText = "Cancelled at customer request"
	}

	out := cancelFlightOutput{
		ConfirmationNumber: it.ConfirmationNumber,
		FlightNumber:       strings.ToUpper(in.FlightNumber),
		Status:             string(itineraryx.LegCancelled),
		RefundAmount:       cancellationRefund,
		RefundETA:          cancellationRefundETA,
	}

	conv.ResetBooking()
	conv.Itinerary = it
	conv.AddNote(fmt.Sprintf("Cancelled booking %s flight %s", out.ConfirmationNumber, out.FlightNumber))

	saved := it.Clone()
	env.Stage(func(ctx context.Context) error {
		return env.Store.SaveItinerary(ctx, saved)
	})
	return out, nil
}
