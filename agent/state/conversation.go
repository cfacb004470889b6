package state

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mohae/deepcopy"

	itineraryx "github.com/tanpawarit/airline-handoff-router/agent/itinerary"
)

var ErrConfirmationImmutable = errors.New("confirmation number already set")

// Field names reported by FillFromItinerary.
const (
	FieldConfirmationNumber = "confirmation_number"
	FieldFlightNumber       = "flight_number"
	FieldSeatNumber         = "seat_number"
	FieldPassengerName      = "passenger_name"
	FieldItinerary          = "itinerary"
)

// Conversation is the per-conversation mutable record shared by all workers.
// Exactly one worker mutates it at a time.
type Conversation struct {
	PassengerName      string                `json:"passenger_name,omitempty"`
	ConfirmationNumber string                `json:"confirmation_number,omitempty"`
	FlightNumber       string                `json:"flight_number,omitempty"`
	SeatNumber         string                `json:"seat_number,omitempty"`
	CaseID             string                `json:"case_id,omitempty"`
	Itinerary          *itineraryx.Itinerary `json:"itinerary,omitempty"`
	Notes              []string              `json:"notes,omitempty"`
}

func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return &Conversation{}
	}
	return deepcopy.Copy(c).(*Conversation)
}

// HasBooking reports whether the record identifies a concrete booking.
func (c *Conversation) HasBooking() bool {
	return c != nil && c.ConfirmationNumber != "" && c.FlightNumber != ""
}

func (c *Conversation) HasDisruption(buffer time.Duration) bool {
	if c == nil || c.Itinerary == nil {
		return false
	}
	_, ok := c.Itinerary.FirstDisruption(buffer)
	return ok
}

// SetConfirmation sets the confirmation number once. Resetting a booking is
// the only way to clear it.
func (c *Conversation) SetConfirmation(confirmation string) error {
	confirmation = strings.ToUpper(strings.TrimSpace(confirmation))
	if confirmation == "" {
		return errors.New("confirmation number is empty")
	}
	if c.ConfirmationNumber != "" && !strings.EqualFold(c.ConfirmationNumber, confirmation) {
		return fmt.Errorf("%w: have %s", ErrConfirmationImmutable, c.ConfirmationNumber)
	}
	c.ConfirmationNumber = confirmation
	return nil
}

// FillFromItinerary copies identifiers from it into fields that are still
// empty and returns the names of the fields it filled. Set fields are never
// overwritten, so repeated calls are no-ops.
func (c *Conversation) FillFromItinerary(it *itineraryx.Itinerary) []string {
	if it == nil {
		return nil
	}
	var filled []string
	if c.Itinerary == nil {
		c.Itinerary = it.Clone()
		filled = append(filled, FieldItinerary)
	}
	if c.ConfirmationNumber == "" && it.ConfirmationNumber != "" {
		c.ConfirmationNumber = it.ConfirmationNumber
		filled = append(filled, FieldConfirmationNumber)
	}
	if c.FlightNumber == "" {
		if flight := primaryFlight(it); flight != "" {
			c.FlightNumber = flight
			filled = append(filled, FieldFlightNumber)
		}
	}
	if c.SeatNumber == "" && it.SeatNumber != "" {
		c.SeatNumber = it.SeatNumber
		filled = append(filled, FieldSeatNumber)
	}
	if c.PassengerName == "" && it.PassengerName != "" {
		c.PassengerName = it.PassengerName
		filled = append(filled, FieldPassengerName)
	}
	return filled
}

// primaryFlight is the disrupted leg when there is one, else the first leg
// still operating.
func primaryFlight(it *itineraryx.Itinerary) string {
	for _, leg := range it.Legs {
		if leg.Disrupted() {
			return leg.FlightNumber
		}
	}
	for _, leg := range it.Legs {
		if leg.Status != itineraryx.LegCancelled {
			return leg.FlightNumber
		}
	}
	return ""
}

// ResetBooking clears booking identity after a cancellation.
func (c *Conversation) ResetBooking() {
	c.ConfirmationNumber = ""
	c.FlightNumber = ""
	c.SeatNumber = ""
}

func (c *Conversation) AddNote(note string) {
	note = strings.TrimSpace(note)
	if note == "" {
		return
	}
	c.Notes = append(c.Notes, note)
}

// Summary renders the record for prompt context.
func (c *Conversation) Summary() string {
	if c == nil {
		return "no conversation context"
	}
	var b strings.Builder
	writeField := func(name, value string) {
		if value == "" {
			value = "unknown"
		}
		fmt.Fprintf(&b, "%s: %s\n", name, value)
	}
	writeField("passenger", c.PassengerName)
	writeField("confirmation_number", c.ConfirmationNumber)
	writeField("flight_number", c.FlightNumber)
	writeField("seat_number", c.SeatNumber)
	if c.CaseID != "" {
		writeField("compensation_case", c.CaseID)
	}
	if it := c.Itinerary; it != nil {
		for i, leg := range it.Legs {
			fmt.Fprintf(&b, "leg %d: %s %s-%s departs %s arrives %s status %s",
				i+1, leg.FlightNumber, leg.Origin, leg.Destination,
				leg.Departure().Format(time.RFC3339), leg.Arrival().Format(time.RFC3339), leg.Status)
			if leg.Gate != "" {
				fmt.Fprintf(&b, " gate %s", leg.Gate)
			}
			b.WriteString("\n")
		}
		if it.Cancelled {
			b.WriteString("itinerary cancelled\n")
		}
	}
	for _, note := range c.Notes {
		fmt.Fprintf(&b, "note: %s\n", note)
	}
	return strings.TrimRight(b.String(), "\n")
}
