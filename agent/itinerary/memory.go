package itinerary

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps itineraries and inventory in process.
type MemoryStore struct {
	mu          sync.RWMutex
	itineraries map[string]*Itinerary
	flights     map[string]Flight
	now         func() time.Time
}

func NewMemoryStore(itineraries []*Itinerary, flights []Flight) *MemoryStore {
	s := &MemoryStore{
		itineraries: make(map[string]*Itinerary, len(itineraries)),
		flights:     make(map[string]Flight, len(flights)),
		now:         time.Now,
	}
	for _, it := range itineraries {
		if it == nil || strings.TrimSpace(it.ConfirmationNumber) == "" {
			continue
		}
		s.itineraries[normalize(it.ConfirmationNumber)] = it.Clone()
	}
	for _, f := range flights {
		s.flights[normalize(f.FlightNumber)] = f
	}
	return s
}

// NewDemoStore returns a store seeded with the demo itineraries and inventory.
func NewDemoStore() *MemoryStore {
	return NewMemoryStore(DemoItineraries(), DemoFlights())
}

func (s *MemoryStore) ByConfirmation(ctx context.Context, confirmationNumber string) (*Itinerary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	it, ok := s.itineraries[normalize(confirmationNumber)]
	if !ok {
		return nil, fmt.Errorf("%w: confirmation=%s", ErrNotFound, confirmationNumber)
	}
	return it.Clone(), nil
}

func (s *MemoryStore) ByFlight(ctx context.Context, flightNumber string) (*Itinerary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, key := range s.sortedKeys() {
		it := s.itineraries[key]
		if it.LegIndex(flightNumber) >= 0 {
			return it.Clone(), nil
		}
	}
	return nil, fmt.Errorf("%w: flight=%s", ErrNotFound, flightNumber)
}

func (s *MemoryStore) FlightStatus(ctx context.Context, flightNumber string) (Leg, error) {
	if err := ctx.Err(); err != nil {
		return Leg{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, key := range s.sortedKeys() {
		it := s.itineraries[key]
		if idx := it.LegIndex(flightNumber); idx >= 0 {
			return it.Legs[idx], nil
		}
	}
	if f, ok := s.flights[normalize(flightNumber)]; ok {
		return f.AsLeg(LegScheduled, "Scheduled"), nil
	}
	return Leg{}, fmt.Errorf("%w: flight=%s", ErrNotFound, flightNumber)
}

func (s *MemoryStore) Flights(ctx context.Context, q FlightQuery) ([]Flight, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Flight, 0, len(s.flights))
	for _, f := range s.flights {
		if q.Match(f) {
			out = append(out, f)
		}
	}
	slices.SortFunc(out, func(a, b Flight) int {
		if c := a.Departure.Compare(b.Departure); c != 0 {
			return c
		}
		return strings.Compare(a.FlightNumber, b.FlightNumber)
	})
	return out, nil
}

func (s *MemoryStore) SaveItinerary(ctx context.Context, it *Itinerary) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if it == nil || strings.TrimSpace(it.ConfirmationNumber) == "" {
		return fmt.Errorf("itinerary confirmation number is required")
	}
	cp := it.Clone()
	cp.UpdatedAt = s.now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.itineraries[normalize(cp.ConfirmationNumber)] = cp
	return nil
}

func (s *MemoryStore) sortedKeys() []string {
	keys := make([]string, 0, len(s.itineraries))
	for k := range s.itineraries {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
