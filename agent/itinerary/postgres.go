package itinerary

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

var _ Store = (*PostgresStore)(nil)

type PostgresConfig struct {
	DSN         string        `envconfig:"DSN" required:"true"`
	Timeout     time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"5s"`
	AutoMigrate bool          `envconfig:"AUTO_MIGRATE" split_words:"true" default:"true"`
	SeedDemo    bool          `envconfig:"SEED_DEMO" split_words:"true" default:"false"`
}

type itineraryRow struct {
	bun.BaseModel `bun:"table:itineraries,alias:it"`

	ConfirmationNumber string    `bun:"confirmation_number,pk"`
	Name               string    `bun:"name"`
	PassengerName      string    `bun:"passenger_name"`
	SeatNumber         string    `bun:"seat_number"`
	BaggageTag         string    `bun:"baggage_tag"`
	Vouchers           []Voucher `bun:"vouchers,type:jsonb"`
	Cancelled          bool      `bun:"cancelled,notnull"`
	UpdatedAt          time.Time `bun:"updated_at,notnull"`

	Legs []*legRow `bun:"rel:has-many,join:confirmation_number=confirmation_number"`
}

type legRow struct {
	bun.BaseModel `bun:"table:itinerary_legs,alias:leg"`

	ID                 int64     `bun:"id,pk,autoincrement"`
	ConfirmationNumber string    `bun:"confirmation_number,notnull"`
	Position           int       `bun:"position,notnull"`
	FlightNumber       string    `bun:"flight_number,notnull"`
	Origin             string    `bun:"origin,notnull"`
	OriginCity         string    `bun:"origin_city"`
	Destination        string    `bun:"destination,notnull"`
	DestinationCity    string    `bun:"destination_city"`
	ScheduledDeparture time.Time `bun:"scheduled_departure,notnull"`
	ScheduledArrival   time.Time `bun:"scheduled_arrival,notnull"`
	EstimatedDeparture time.Time `bun:"estimated_departure,nullzero"`
	EstimatedArrival   time.Time `bun:"estimated_arrival,nullzero"`
	Status             string    `bun:"status,notnull"`
	StatusText         string    `bun:"status_text"`
	Gate               string    `bun:"gate"`
}

type flightRow struct {
	bun.BaseModel `bun:"table:flights,alias:f"`

	FlightNumber    string    `bun:"flight_number,pk"`
	Origin          string    `bun:"origin,notnull"`
	OriginCity      string    `bun:"origin_city"`
	Destination     string    `bun:"destination,notnull"`
	DestinationCity string    `bun:"destination_city"`
	Departure       time.Time `bun:"departure,notnull"`
	Arrival         time.Time `bun:"arrival,notnull"`
	Seat            string    `bun:"seat"`
	Note            string    `bun:"note"`
	Price           float64   `bun:"price"`
	SeatsAvailable  int       `bun:"seats_available,notnull"`
	Class           string    `bun:"class"`
}

// PostgresStore serves itineraries and inventory from Postgres through bun.
type PostgresStore struct {
	db  *bun.DB
	now func() time.Time
}

func NewPostgresStore(db *bun.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

// OpenPostgres connects, optionally migrates and seeds demo data.
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(
		pgdriver.WithDSN(dsn),
		pgdriver.WithTimeout(cfg.Timeout),
	))
	db := bun.NewDB(sqldb, pgdialect.New())
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := NewPostgresStore(db)
	if cfg.AutoMigrate {
		if err := store.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	if cfg.SeedDemo {
		if err := store.Seed(ctx, DemoItineraries(), DemoFlights()); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return store, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	models := []any{(*itineraryRow)(nil), (*legRow)(nil), (*flightRow)(nil)}
	for _, model := range models {
		if _, err := s.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table for %T: %w", model, err)
		}
	}
	return nil
}

func (s *PostgresStore) Seed(ctx context.Context, itineraries []*Itinerary, flights []Flight) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, it := range itineraries {
			exists, err := tx.NewSelect().Model((*itineraryRow)(nil)).
				Where("confirmation_number = ?", it.ConfirmationNumber).
				Exists(ctx)
			if err != nil {
				return fmt.Errorf("check itinerary %s: %w", it.ConfirmationNumber, err)
			}
			if exists {
				continue
			}
			if err := writeItinerary(ctx, tx, toItineraryRow(it, s.now())); err != nil {
				return err
			}
		}
		if len(flights) == 0 {
			return nil
		}
		rows := make([]*flightRow, 0, len(flights))
		for _, f := range flights {
			rows = append(rows, toFlightRow(f))
		}
		if _, err := tx.NewInsert().Model(&rows).On("CONFLICT (flight_number) DO NOTHING").Exec(ctx); err != nil {
			return fmt.Errorf("seed flights: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) ByConfirmation(ctx context.Context, confirmationNumber string) (*Itinerary, error) {
	row := new(itineraryRow)
	err := s.db.NewSelect().
		Model(row).
		Relation("Legs", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.OrderExpr("leg.position ASC")
		}).
		Where("upper(it.confirmation_number) = upper(?)", strings.TrimSpace(confirmationNumber)).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: confirmation=%s", ErrNotFound, confirmationNumber)
	}
	if err != nil {
		return nil, fmt.Errorf("select itinerary: %w", err)
	}
	return fromItineraryRow(row), nil
}

func (s *PostgresStore) ByFlight(ctx context.Context, flightNumber string) (*Itinerary, error) {
	var confirmation string
	err := s.db.NewSelect().
		Model((*legRow)(nil)).
		Column("confirmation_number").
		Where("upper(leg.flight_number) = upper(?)", strings.TrimSpace(flightNumber)).
		OrderExpr("leg.confirmation_number ASC").
		Limit(1).
		Scan(ctx, &confirmation)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: flight=%s", ErrNotFound, flightNumber)
	}
	if err != nil {
		return nil, fmt.Errorf("select leg by flight: %w", err)
	}
	return s.ByConfirmation(ctx, confirmation)
}

func (s *PostgresStore) FlightStatus(ctx context.Context, flightNumber string) (Leg, error) {
	leg := new(legRow)
	err := s.db.NewSelect().
		Model(leg).
		Where("upper(leg.flight_number) = upper(?)", strings.TrimSpace(flightNumber)).
		OrderExpr("leg.id DESC").
		Limit(1).
		Scan(ctx)
	if err == nil {
		return fromLegRow(leg), nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Leg{}, fmt.Errorf("select leg status: %w", err)
	}

	flight := new(flightRow)
	err = s.db.NewSelect().
		Model(flight).
		Where("upper(f.flight_number) = upper(?)", strings.TrimSpace(flightNumber)).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return Leg{}, fmt.Errorf("%w: flight=%s", ErrNotFound, flightNumber)
	}
	if err != nil {
		return Leg{}, fmt.Errorf("select flight status: %w", err)
	}
	return fromFlightRow(flight).AsLeg(LegScheduled, "Scheduled"), nil
}

func (s *PostgresStore) Flights(ctx context.Context, q FlightQuery) ([]Flight, error) {
	var rows []flightRow
	sel := s.db.NewSelect().Model(&rows)
	if q.Origin != "" {
		sel = sel.Where("upper(f.origin) = upper(?)", q.Origin)
	}
	if q.Destination != "" {
		sel = sel.Where("upper(f.destination) = upper(?)", q.Destination)
	}
	if !q.DepartAfter.IsZero() {
		sel = sel.Where("f.departure > ?", q.DepartAfter.UTC())
	}
	if !q.DepartBefore.IsZero() {
		sel = sel.Where("f.departure < ?", q.DepartBefore.UTC())
	}
	if err := sel.OrderExpr("f.departure ASC, f.flight_number ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("select flights: %w", err)
	}

	out := make([]Flight, 0, len(rows))
	for i := range rows {
		out = append(out, fromFlightRow(&rows[i]))
	}
	return out, nil
}

// SaveItinerary replaces the itinerary and its legs in one transaction.
func (s *PostgresStore) SaveItinerary(ctx context.Context, it *Itinerary) error {
	if it == nil || strings.TrimSpace(it.ConfirmationNumber) == "" {
		return errors.New("itinerary confirmation number is required")
	}
	row := toItineraryRow(it, s.now())
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return writeItinerary(ctx, tx, row)
	})
}

func writeItinerary(ctx context.Context, tx bun.Tx, row *itineraryRow) error {
	_, err := tx.NewInsert().
		Model(row).
		On("CONFLICT (confirmation_number) DO UPDATE").
		Set("name = EXCLUDED.name").
		Set("passenger_name = EXCLUDED.passenger_name").
		Set("seat_number = EXCLUDED.seat_number").
		Set("baggage_tag = EXCLUDED.baggage_tag").
		Set("vouchers = EXCLUDED.vouchers").
		Set("cancelled = EXCLUDED.cancelled").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert itinerary %s: %w", row.ConfirmationNumber, err)
	}

	if _, err := tx.NewDelete().
		Model((*legRow)(nil)).
		Where("confirmation_number = ?", row.ConfirmationNumber).
		Exec(ctx); err != nil {
		return fmt.Errorf("delete legs %s: %w", row.ConfirmationNumber, err)
	}
	if len(row.Legs) == 0 {
		return nil
	}
	if _, err := tx.NewInsert().Model(&row.Legs).Exec(ctx); err != nil {
		return fmt.Errorf("insert legs %s: %w", row.ConfirmationNumber, err)
	}
	return nil
}

func toItineraryRow(it *Itinerary, now time.Time) *itineraryRow {
	row := &itineraryRow{
		ConfirmationNumber: strings.ToUpper(strings.TrimSpace(it.ConfirmationNumber)),
		Name:               it.Name,
		PassengerName:      it.PassengerName,
		SeatNumber:         it.SeatNumber,
		BaggageTag:         it.BaggageTag,
		Vouchers:           append([]Voucher(nil), it.Vouchers...),
		Cancelled:          it.Cancelled,
		UpdatedAt:          now.UTC(),
	}
	for i, leg := range it.Legs {
		row.Legs = append(row.Legs, &legRow{
			ConfirmationNumber: row.ConfirmationNumber,
			Position:           i,
			FlightNumber:       leg.FlightNumber,
			Origin:             leg.Origin,
			OriginCity:         leg.OriginCity,
			Destination:        leg.Destination,
			DestinationCity:    leg.DestinationCity,
			ScheduledDeparture: leg.ScheduledDeparture.UTC(),
			ScheduledArrival:   leg.ScheduledArrival.UTC(),
			EstimatedDeparture: leg.EstimatedDeparture,
			EstimatedArrival:   leg.EstimatedArrival,
			Status:             string(leg.Status),
			StatusText:         leg.StatusText,
			Gate:               leg.Gate,
		})
	}
	return row
}

func fromItineraryRow(row *itineraryRow) *Itinerary {
	it := &Itinerary{
		ConfirmationNumber: row.ConfirmationNumber,
		Name:               row.Name,
		PassengerName:      row.PassengerName,
		SeatNumber:         row.SeatNumber,
		BaggageTag:         row.BaggageTag,
		Vouchers:           append([]Voucher(nil), row.Vouchers...),
		Cancelled:          row.Cancelled,
		UpdatedAt:          row.UpdatedAt,
		Legs:               make([]Leg, 0, len(row.Legs)),
	}
	for _, leg := range row.Legs {
		it.Legs = append(it.Legs, fromLegRow(leg))
	}
	return it
}

func fromLegRow(row *legRow) Leg {
	return Leg{
		FlightNumber:       row.FlightNumber,
		Origin:             row.Origin,
		OriginCity:         row.OriginCity,
		Destination:        row.Destination,
		DestinationCity:    row.DestinationCity,
		ScheduledDeparture: row.ScheduledDeparture,
		ScheduledArrival:   row.ScheduledArrival,
		EstimatedDeparture: row.EstimatedDeparture,
		EstimatedArrival:   row.EstimatedArrival,
		Status:             LegStatus(row.Status),
		StatusText:         row.StatusText,
		Gate:               row.Gate,
	}
}

func toFlightRow(f Flight) *flightRow {
	return &flightRow{
		FlightNumber:    strings.ToUpper(f.FlightNumber),
		Origin:          f.Origin,
		OriginCity:      f.OriginCity,
		Destination:     f.Destination,
		DestinationCity: f.DestinationCity,
		Departure:       f.Departure.UTC(),
		Arrival:         f.Arrival.UTC(),
		Seat:            f.Seat,
		Note:            f.Note,
		Price:           f.Price,
		SeatsAvailable:  f.SeatsAvailable,
		Class:           f.Class,
	}
}

func fromFlightRow(row *flightRow) Flight {
	return Flight{
		FlightNumber:    row.FlightNumber,
		Origin:          row.Origin,
		OriginCity:      row.OriginCity,
		Destination:     row.Destination,
		DestinationCity: row.DestinationCity,
		Departure:       row.Departure,
		Arrival:         row.Arrival,
		Seat:            row.Seat,
		Note:            row.Note,
		Price:           row.Price,
		SeatsAvailable:  row.SeatsAvailable,
		Class:           row.Class,
	}
}
