package tool

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/getkin/kin-openapi/openapi3"

	itineraryx "github.com/tanpawarit/airline-handoff-router/agent/itinerary"
)

var errNoItinerary = errors.New("no itinerary in conversation, look up the trip first")

type legView struct {
	FlightNumber string `json:"flight_number"`
	Origin       string `json:"origin"`
	Destination  string `json:"destination"`
	Departure    string `json:"departure"`
	Arrival      string `json:"arrival"`
	Status       string `json:"status"`
	StatusText   string `json:"status_text,omitempty"`
	Gate         string `json:"gate,omitempty"`
	DelayMinutes int    `json:"delay_minutes"`
}

func viewLeg(l itineraryx.Leg) legView {
	return legView{
		FlightNumber: l.FlightNumber,
		Origin:       l.Origin,
		Destination:  l.Destination,
		Departure:    l.Departure().Format(time.RFC3339),
		Arrival:      l.Arrival().Format(time.RFC3339),
		Status:       string(l.Status),
		StatusText:   l.StatusText,
		Gate:         l.Gate,
		DelayMinutes: int(l.Delay() / time.Minute),
	}
}

func legViewSchema() *openapi3.Schema {
	return objectSchema(
		[]string{"flight_number", "origin", "destination", "departure", "arrival", "status", "delay_minutes"},
		map[string]*openapi3.Schema{
			"flight_number": stringSchema("Flight number"),
			"origin":        stringSchema("Origin airport"),
			"destination":   stringSchema("Destination airport"),
			"departure":     stringSchema("Departure time"),
			"arrival":       stringSchema("Arrival time"),
			"status":        enumSchema("Leg status", legStatuses()...),
			"status_text":   openapi3.NewStringSchema(),
			"gate":          openapi3.NewStringSchema(),
			"delay_minutes": openapi3.NewIntegerSchema(),
		},
	)
}

func legStatuses() []string {
	return []string{
		string(itineraryx.LegScheduled),
		string(itineraryx.LegOnTime),
		string(itineraryx.LegDelayed),
		string(itineraryx.LegCancelled),
		string(itineraryx.LegMissedConnection),
		string(itineraryx.LegConfirmed),
	}
}

// currentItinerary prefers the conversation's itinerary and falls back to
// the store by confirmation number.
func currentItinerary(ctx context.Context, env *Env, confirmation string) (*itineraryx.Itinerary, error) {
	if it := env.Conversation.Itinerary; it != nil && !it.Cancelled {
		return it, nil
	}
	if confirmation == "" {
		confirmation = env.Conversation.ConfirmationNumber
	}
	if confirmation == "" {
		return nil, errNoItinerary
	}
	return env.Store.ByConfirmation(ctx, confirmation)
}

// requireActiveBooking checks that a mutating call targets the booking held
// by the conversation.
func requireActiveBooking(env *Env, confirmation string) error {
	have := env.Conversation.ConfirmationNumber
	if have == "" {
		return errors.New("no confirmation number in conversation")
	}
	if !strings.EqualFold(have, strings.TrimSpace(confirmation)) {
		return fmt.Errorf("confirmation %s does not match active booking %s", confirmation, have)
	}
	return nil
}

type tripDetailsInput struct {
	ConfirmationNumber string `json:"confirmation_number"`
	FlightNumber       string `json:"flight_number"`
}

type tripDetailsOutput struct {
	ConfirmationNumber string    `json:"confirmation_number"`
	PassengerName      string    `json:"passenger_name,omitempty"`
	SeatNumber         string    `json:"seat_number,omitempty"`
	Legs               []legView `json:"legs"`
	Disrupted          bool      `json:"disrupted"`
	Cancelled          bool      `json:"cancelled"`
	Filled             []string  `json:"filled"`
}

func tripDetailsTool() Definition {
	request := objectSchema(nil, map[string]*openapi3.Schema{
		"confirmation_number": confirmationSchema(),
		"flight_number":       flightNumberSchema(),
	})
	request.AnyOf = openapi3.SchemaRefs{
		openapi3.NewSchemaRef("", &openapi3.Schema{Required: []string{"confirmation_number"}}),
		openapi3.NewSchemaRef("", &openapi3.Schema{Required: []string{"flight_number"}}),
	}
	response := objectSchema(
		[]string{"confirmation_number", "legs", "disrupted", "cancelled", "filled"},
		map[string]*openapi3.Schema{
			"confirmation_number": stringSchema("Confirmation number"),
			"passenger_name":      openapi3.NewStringSchema(),
			"seat_number":         openapi3.NewStringSchema(),
			"legs":                arrayOf(legViewSchema()).WithMinItems(1),
			"disrupted":           openapi3.NewBoolSchema(),
			"cancelled":           openapi3.NewBoolSchema(),
			"filled":              arrayOf(openapi3.NewStringSchema()),
		},
	)
	return Definition{
		Contract: Contract{
			Name:        ToolGetTripDetails,
			Capability:  "trip lookup",
			Description: "Look up a trip by confirmation number or flight number and load it into the conversation.",
			Request:     request,
			Response:    response,
		},
		Handler: typed(getTripDetails),
	}
}

func getTripDetails(ctx context.Context, env *Env, in tripDetailsInput) (tripDetailsOutput, error) {
	var (
		it  *itineraryx.Itinerary
		err error
	)
	if in.ConfirmationNumber != "" {
		it, err = env.Store.ByConfirmation(ctx, in.ConfirmationNumber)
	} else {
		it, err = env.Store.ByFlight(ctx, in.FlightNumber)
	}
	if err != nil {
		return tripDetailsOutput{}, err
	}

	conv := env.Conversation
	if conv.ConfirmationNumber != "" && !strings.EqualFold(conv.ConfirmationNumber, it.ConfirmationNumber) {
		return tripDetailsOutput{}, fmt.Errorf("trip %s does not match active booking %s", it.ConfirmationNumber, conv.ConfirmationNumber)
	}
	filled := conv.FillFromItinerary(it)
	conv.Itinerary = it.Clone()

	out := tripDetailsOutput{
		ConfirmationNumber: it.ConfirmationNumber,
		PassengerName:      it.PassengerName,
		SeatNumber:         it.SeatNumber,
		Cancelled:          it.Cancelled,
		Filled:             append([]string{}, filled...),
	}
	_, out.Disrupted = it.FirstDisruption(env.Settings.ConnectionBuffer)
	for _, leg := range it.Legs {
		out.Legs = append(out.Legs, viewLeg(leg))
	}
	return out, nil
}

type flightStatusInput struct {
	FlightNumber string `json:"flight_number"`
}

type flightStatusOutput struct {
	legView
	ScheduledDeparture string `json:"scheduled_departure"`
	Note               string `json:"note,omitempty"`
}

func flightStatusTool() Definition {
	response := legViewSchema()
	response = response.WithProperty("scheduled_departure", stringSchema("Scheduled departure time"))
	response = response.WithProperty("note", openapi3.NewStringSchema())
	response.Required = append(response.Required, "scheduled_departure")
	return Definition{
		Contract: Contract{
			Name:        ToolFlightStatus,
			Capability:  "flight status",
			Description: "Get live status, gate and times for a flight.",
			Request: objectSchema([]string{"flight_number"}, map[string]*openapi3.Schema{
				"flight_number": flightNumberSchema(),
			}),
			Response: response,
		},
		Handler: typed(flightStatus),
	}
}

func flightStatus(ctx context.Context, env *Env, in flightStatusInput) (flightStatusOutput, error) {
	leg, err := env.Store.FlightStatus(ctx, in.FlightNumber)
	if err != nil {
		return flightStatusOutput{}, err
	}
	out := flightStatusOutput{
		legView:            viewLeg(leg),
		ScheduledDeparture: leg.ScheduledDeparture.Format(time.RFC3339),
	}
	if it := env.Conversation.Itinerary; it != nil {
		if d, ok := it.FirstDisruption(env.Settings.ConnectionBuffer); ok &&
			strings.EqualFold(d.Leg.FlightNumber, leg.FlightNumber) && d.Missed != nil {
			out.Note = fmt.Sprintf("This delay causes the connection %s to be missed.", d.Missed.FlightNumber)
		}
	}
	return out, nil
}

type alternatesInput struct {
	ConfirmationNumber string `json:"confirmation_number"`
}

type alternateView struct {
	FlightNumber   string `json:"flight_number"`
	Origin         string `json:"origin"`
	Destination    string `json:"destination"`
	Departure      string `json:"departure"`
	Arrival        string `json:"arrival"`
	Seat           string `json:"seat,omitempty"`
	Note           string `json:"note,omitempty"`
	SeatsAvailable int    `json:"seats_available"`
}

type alternatesOutput struct {
	DisruptedFlight string          `json:"disrupted_flight"`
	ReplacesFlight  string          `json:"replaces_flight"`
	Origin          string          `json:"origin"`
	Destination     string          `json:"destination"`
	DepartAfter     string          `json:"depart_after"`
	Alternates      []alternateView `json:"alternates"`
}

func searchAlternatesTool() Definition {
	alternate := objectSchema(
		[]string{"flight_number", "origin", "destination", "departure", "arrival", "seats_available"},
		map[string]*openapi3.Schema{
			"flight_number":   stringSchema("Flight number"),
			"origin":          stringSchema("Origin airport"),
			"destination":     stringSchema("Destination airport"),
			"departure":       stringSchema("Departure time"),
			"arrival":         stringSchema("Arrival time"),
			"seat":            openapi3.NewStringSchema(),
			"note":            openapi3.NewStringSchema(),
			"seats_available": openapi3.NewIntegerSchema().WithMin(1),
		},
	)
	return Definition{
		Contract: Contract{
			Name:        ToolSearchAlternates,
			Capability:  "alternate flight search",
			Description: "Find replacement flights for the first disrupted leg of the trip. Does not book anything.",
			Request: objectSchema(nil, map[string]*openapi3.Schema{
				"confirmation_number": confirmationSchema(),
			}),
			Response: objectSchema(
				[]string{"disrupted_flight", "replaces_flight", "origin", "destination", "depart_after", "alternates"},
				map[string]*openapi3.Schema{
					"disrupted_flight": stringSchema("Delayed or cancelled flight"),
					"replaces_flight":  stringSchema("Leg the alternates replace"),
					"origin":           stringSchema("Origin airport"),
					"destination":      stringSchema("Destination airport"),
					"depart_after":     stringSchema("Earliest departure time"),
					"alternates":       arrayOf(alternate),
				},
			),
		},
		Handler: typed(searchAlternates),
	}
}

func searchAlternates(ctx context.Context, env *Env, in alternatesInput) (alternatesOutput, error) {
	it, err := currentItinerary(ctx, env, in.ConfirmationNumber)
	if err != nil {
		return alternatesOutput{}, err
	}
	plan, err := SearchAlternates(ctx, env.Store, it, env.Settings.ConnectionBuffer, env.Settings.Alternates)
	if err != nil {
		return alternatesOutput{}, err
	}
	out := alternatesOutput{
		DisruptedFlight: plan.Disruption.Leg.FlightNumber,
		ReplacesFlight:  plan.Target.FlightNumber,
		Origin:          plan.Target.Origin,
		Destination:     plan.Target.Destination,
		DepartAfter:     plan.DepartAfter.Format(time.RFC3339),
		Alternates:      []alternateView{},
	}
	for _, f := range plan.Alternates {
		out.Alternates = append(out.Alternates, alternateView{
			FlightNumber:   f.FlightNumber,
			Origin:         f.Origin,
			Destination:    f.Destination,
			Departure:      f.Departure.Format(time.RFC3339),
			Arrival:        f.Arrival.Format(time.RFC3339),
			Seat:           f.Seat,
			Note:           f.Note,
			SeatsAvailable: f.SeatsAvailable,
		})
	}
	return out, nil
}
