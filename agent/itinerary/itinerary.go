package itinerary

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mohae/deepcopy"
)

var ErrNotFound = errors.New("itinerary record not found")

type LegStatus string

const (
	LegScheduled        LegStatus = "scheduled"
	LegOnTime           LegStatus = "on_time"
	LegDelayed          LegStatus = "delayed"
	LegCancelled        LegStatus = "cancelled"
	LegMissedConnection LegStatus = "missed_connection"
	LegConfirmed        LegStatus = "confirmed"
)

// Leg is one flown segment of an itinerary. Estimated times are zero when the
// leg operates on schedule.
type Leg struct {
	FlightNumber       string    `json:"flight_number"`
	Origin             string    `json:"origin"`
	OriginCity         string    `json:"origin_city,omitempty"`
	Destination        string    `json:"destination"`
	DestinationCity    string    `json:"destination_city,omitempty"`
	ScheduledDeparture time.Time `json:"scheduled_departure"`
	ScheduledArrival   time.Time `json:"scheduled_arrival"`
	EstimatedDeparture time.Time `json:"estimated_departure,omitzero"`
	EstimatedArrival   time.Time `json:"estimated_arrival,omitzero"`
	Status             LegStatus `json:"status"`
	StatusText         string    `json:"status_text,omitempty"`
	Gate               string    `json:"gate,omitempty"`
}

func (l Leg) Departure() time.Time {
	if !l.EstimatedDeparture.IsZero() {
		return l.EstimatedDeparture
	}
	return l.ScheduledDeparture
}

func (l Leg) Arrival() time.Time {
	if !l.EstimatedArrival.IsZero() {
		return l.EstimatedArrival
	}
	return l.ScheduledArrival
}

func (l Leg) Delay() time.Duration {
	if l.EstimatedDeparture.IsZero() {
		return 0
	}
	return l.EstimatedDeparture.Sub(l.ScheduledDeparture)
}

func (l Leg) Disrupted() bool {
	return l.Status == LegDelayed || l.Status == LegCancelled
}

type Voucher struct {
	Kind        string  `json:"kind"`
	Description string  `json:"description"`
	Amount      float64 `json:"amount"`
}

type Itinerary struct {
	ConfirmationNumber string    `json:"confirmation_number"`
	Name               string    `json:"name,omitempty"`
	PassengerName      string    `json:"passenger_name,omitempty"`
	SeatNumber         string    `json:"seat_number,omitempty"`
	BaggageTag         string    `json:"baggage_tag,omitempty"`
	Legs               []Leg     `json:"legs"`
	Vouchers           []Voucher `json:"vouchers,omitempty"`
	Cancelled          bool      `json:"cancelled,omitempty"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func (it *Itinerary) Clone() *Itinerary {
	if it == nil {
		return nil
	}
	return deepcopy.Copy(it).(*Itinerary)
}

// LegIndex returns the position of flightNumber in the itinerary or -1.
func (it *Itinerary) LegIndex(flightNumber string) int {
	if it == nil {
		return -1
	}
	for i, leg := range it.Legs {
		if strings.EqualFold(leg.FlightNumber, flightNumber) {
			return i
		}
	}
	return -1
}

func (it *Itinerary) Origin() string {
	if it == nil || len(it.Legs) == 0 {
		return ""
	}
	return it.Legs[0].Origin
}

func (it *Itinerary) Destination() string {
	if it == nil || len(it.Legs) == 0 {
		return ""
	}
	return it.Legs[len(it.Legs)-1].Destination
}

// Disruption is the first disrupted leg of an itinerary and the connection it breaks.
type Disruption struct {
	Leg         Leg
	LegIndex    int
	Missed      *Leg
	MissedIndex int
}

// ReadyAt is the earliest time a traveller can board a replacement flight.
func (d Disruption) ReadyAt(buffer time.Duration) time.Time {
	return d.Leg.Arrival().Add(buffer)
}

// FirstDisruption walks legs in itinerary order and returns the earliest
// delayed or cancelled leg. The missed leg is the next leg departing before the
// disrupted arrival plus buffer. Later disruptions are left for subsequent calls
// once this one has been rebooked.
func (it *Itinerary) FirstDisruption(buffer time.Duration) (Disruption, bool) {
	if it == nil || it.Cancelled {
		return Disruption{}, false
	}
	for i, leg := range it.Legs {
		if !leg.Disrupted() {
			continue
		}
		d := Disruption{Leg: leg, LegIndex: i, MissedIndex: -1}
		if i+1 < len(it.Legs) {
			next := it.Legs[i+1]
			if next.Status == LegMissedConnection || next.Departure().Before(d.ReadyAt(buffer)) {
				missed := next
				d.Missed = &missed
				d.MissedIndex = i + 1
			}
		}
		return d, true
	}
	return Disruption{}, false
}

// Flight is a bookable inventory flight.
type Flight struct {
	FlightNumber    string    `json:"flight_number"`
	Origin          string    `json:"origin"`
	OriginCity      string    `json:"origin_city,omitempty"`
	Destination     string    `json:"destination"`
	DestinationCity string    `json:"destination_city,omitempty"`
	Departure       time.Time `json:"departure"`
	Arrival         time.Time `json:"arrival"`
	Seat            string    `json:"seat,omitempty"`
	Note            string    `json:"note,omitempty"`
	Price           float64   `json:"price,omitempty"`
	SeatsAvailable  int       `json:"seats_available"`
	Class           string    `json:"class,omitempty"`
}

func (f Flight) AsLeg(status LegStatus, statusText string) Leg {
	return Leg{
		FlightNumber:       f.FlightNumber,
		Origin:             f.Origin,
		OriginCity:         f.OriginCity,
		Destination:        f.Destination,
		DestinationCity:    f.DestinationCity,
		ScheduledDeparture: f.Departure,
		ScheduledArrival:   f.Arrival,
		Status:             status,
		StatusText:         statusText,
	}
}

type FlightQuery struct {
	Origin       string
	Destination  string
	DepartAfter  time.Time
	DepartBefore time.Time
}

func (q FlightQuery) Match(f Flight) bool {
	if q.Origin != "" && !strings.EqualFold(q.Origin, f.Origin) {
		return false
	}
	if q.Destination != "" && !strings.EqualFold(q.Destination, f.Destination) {
		return false
	}
	if !q.DepartAfter.IsZero() && !f.Departure.After(q.DepartAfter) {
		return false
	}
	if !q.DepartBefore.IsZero() && !f.Departure.Before(q.DepartBefore) {
		return false
	}
	return true
}

// Store is the read-mostly itinerary and inventory lookup. Implementations
// return copies and replace itineraries as a whole.
type Store interface {
	ByConfirmation(ctx context.Context, confirmationNumber string) (*Itinerary, error)
	ByFlight(ctx context.Context, flightNumber string) (*Itinerary, error)
	FlightStatus(ctx context.Context, flightNumber string) (Leg, error)
	Flights(ctx context.Context, q FlightQuery) ([]Flight, error)
	SaveItinerary(ctx context.Context, it *Itinerary) error
}
