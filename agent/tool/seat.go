package tool

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

// SeatMapMarker tells the transport to render the interactive seat map.
const SeatMapMarker = "DISPLAY_SEAT_MAP"

var takenSeats = []string{"1B", "2A", "14C", "14D", "23A", "23B"}

type seatSection struct {
	Name  string   `json:"name"`
	Rows  string   `json:"rows"`
	Seats []string `json:"seats,omitempty"`
	Note  string   `json:"note,omitempty"`
}

var seatSections = []seatSection{
	{Name: "front_row", Rows: "1", Seats: []string{"1A", "1B", "1C", "1D", "1E", "1F"}, Note: "Priority for special service requests"},
	{Name: "business", Rows: "1-4"},
	{Name: "economy_plus", Rows: "5-8", Note: "Extra legroom"},
	{Name: "exit_row", Rows: "14", Seats: []string{"14A", "14B", "14C", "14D", "14E", "14F"}, Note: "Must be able to assist in an emergency"},
	{Name: "economy", Rows: "9-30"},
}

func seatTaken(seat string) bool {
	return slices.Contains(takenSeats, strings.ToUpper(seat))
}

func syncItinerarySeat(env *Env, seat string) {
	if it := env.Conversation.Itinerary; it != nil {
		it.SeatNumber = seat
		saved := it.Clone()
		env.Stage(func(ctx context.Context) error {
			return env.Store.SaveItinerary(ctx, saved)
		})
	}
}

type updateSeatInput struct {
	ConfirmationNumber string `json:"confirmation_number"`
	SeatNumber         string `json:"seat_number"`
}

type seatOutput struct {
	ConfirmationNumber string `json:"confirmation_number"`
	FlightNumber       string `json:"flight_number"`
	SeatNumber         string `json:"seat_number"`
	PreviousSeat       string `json:"previous_seat,omitempty"`
	Note               string `json:"note,omitempty"`
}

func seatOutputSchema() *openapi3.Schema {
	return objectSchema([]string{"confirmation_number", "flight_number", "seat_number"}, map[string]*openapi3.Schema{
		"confirmation_number": stringSchema("Confirmation number"),
		"flight_number":       stringSchema("Flight number"),
		"seat_number":         seatNumberSchema(),
		"previous_seat":       openapi3.NewStringSchema(),
		"note":                openapi3.NewStringSchema(),
	})
}

func updateSeatTool() Definition {
	return Definition{
		Contract: Contract{
			Name:        ToolUpdateSeat,
			Capability:  "seat change",
			Description: "Move the customer to a specific seat on the active flight.",
			Mutating:    true,
			Request: objectSchema([]string{"confirmation_number", "seat_number"}, map[string]*openapi3.Schema{
				"confirmation_number": confirmationSchema(),
				"seat_number":         seatNumberSchema(),
			}),
			Response: seatOutputSchema(),
		},
		Handler: typed(updateSeat),
	}
}

func updateSeat(_ context.Context, env *Env, in updateSeatInput) (seatOutput, error) {
	if err := requireActiveBooking(env, in.ConfirmationNumber); err != nil {
		return seatOutput{}, err
	}
	seat := strings.ToUpper(in.SeatNumber)
	if seatTaken(seat) {
		return seatOutput{}, fmt.Errorf("seat %s is already taken", seat)
	}
	conv := env.Conversation
	out := seatOutput{
		ConfirmationNumber: conv.ConfirmationNumber,
		FlightNumber:       conv.FlightNumber,
		SeatNumber:         seat,
		PreviousSeat:       conv.SeatNumber,
	}
	conv.SeatNumber = seat
	syncItinerarySeat(env, seat)
	return out, nil
}

type specialServiceInput struct {
	ConfirmationNumber string `json:"confirmation_number"`
	Request            string `json:"request"`
}

func specialServiceSeatTool() Definition {
	return Definition{
		Contract: Contract{
			Name:        ToolSpecialServiceSeat,
			Capability:  "special service seating",
			Description: "Assign a seat for a special service need such as mobility, medical or travelling with an infant.",
			Mutating:    true,
			Request: objectSchema([]string{"confirmation_number", "request"}, map[string]*openapi3.Schema{
				"confirmation_number": confirmationSchema(),
				"request":             described(openapi3.NewStringSchema().WithMinLength(3), "The customer's need in their own words"),
			}),
			Response: seatOutputSchema(),
		},
		Handler: typed(assignSpecialServiceSeat),
	}
}

// Front-of-cabin requests get the first free front-row seat; everything else
// gets the first free seat in rows 2 to 4 near the forward exits.
func assignSpecialServiceSeat(_ context.Context, env *Env, in specialServiceInput) (seatOutput, error) {
	if err := requireActiveBooking(env, in.ConfirmationNumber); err != nil {
		return seatOutput{}, err
	}
	var candidates []string
	if strings.Contains(strings.ToLower(in.Request), "front") {
		candidates = seatSections[0].Seats
	} else {
		for _, row := range []string{"2", "3", "4"} {
			for _, letter := range []string{"A", "B", "C", "D", "E", "F"} {
				candidates = append(candidates, row+letter)
			}
		}
	}
	seat := ""
	for _, c := range candidates {
		if !seatTaken(c) {
			seat = c
			break
		}
	}
	if seat == "" {
		return seatOutput{}, fmt.Errorf("no special service seat available")
	}

	conv := env.Conversation
	note := "Special service: " + strings.TrimSpace(in.Request)
	out := seatOutput{
		ConfirmationNumber: conv.ConfirmationNumber,
		FlightNumber:       conv.FlightNumber,
		SeatNumber:         seat,
		PreviousSeat:       conv.SeatNumber,
		Note:               note,
	}
	conv.SeatNumber = seat
	conv.AddNote(note)
	syncItinerarySeat(env, seat)
	return out, nil
}

type seatMapOutput struct {
	Marker   string        `json:"marker"`
	Current  string        `json:"current_seat,omitempty"`
	Taken    []string      `json:"taken"`
	Sections []seatSection `json:"sections"`
}

func displaySeatMapTool() Definition {
	section := objectSchema([]string{"name", "rows"}, map[string]*openapi3.Schema{
		"name":  stringSchema("Section name"),
		"rows":  stringSchema("Row range"),
		"seats": arrayOf(seatNumberSchema()),
		"note":  openapi3.NewStringSchema(),
	})
	return Definition{
		Contract: Contract{
			Name:        ToolDisplaySeatMap,
			Capability:  "seat map",
			Description: "Show the interactive seat map so the customer can pick a seat.",
			Request:     openapi3.NewObjectSchema(),
			Response: objectSchema([]string{"marker", "taken", "sections"}, map[string]*openapi3.Schema{
				"marker":       enumSchema("Display marker", SeatMapMarker),
				"current_seat": openapi3.NewStringSchema(),
				"taken":        arrayOf(seatNumberSchema()),
				"sections":     arrayOf(section).WithMinItems(1),
			}),
		},
		Handler: typed(displaySeatMap),
	}
}

func displaySeatMap(_ context.Context, env *Env, _ struct{}) (seatMapOutput, error) {
	return seatMapOutput{
		Marker:   SeatMapMarker,
		Current:  env.Conversation.SeatNumber,
		Taken:    slices.Clone(takenSeats),
		Sections: slices.Clone(seatSections),
	}, nil
}
