package tool

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/cloudwego/eino/schema"

	contractx "github.com/tanpawarit/airline-handoff-router/agent/contract"
	itineraryx "github.com/tanpawarit/airline-handoff-router/agent/itinerary"
	statex "github.com/tanpawarit/airline-handoff-router/agent/state"
)

const (
	ToolFAQLookup            = "faq_lookup"
	ToolBaggagePolicy        = "baggage_policy"
	ToolGetTripDetails       = "get_trip_details"
	ToolFlightStatus         = "flight_status"
	ToolSearchAlternates     = "search_alternates"
	ToolBookFlight           = "book_flight"
	ToolCancelFlight         = "cancel_flight"
	ToolUpdateSeat           = "update_seat"
	ToolSpecialServiceSeat   = "assign_special_service_seat"
	ToolDisplaySeatMap       = "display_seat_map"
	ToolOpenCompensationCase = "open_compensation_case"
)

// Settings are the domain knobs tool bodies read.
type Settings struct {
	ConnectionBuffer time.Duration
	Alternates       int
}

func DefaultSettings() Settings {
	return Settings{ConnectionBuffer: time.Hour, Alternates: 2}
}

// Env is what a tool body sees. Conversation is a working copy that is
// committed only when the whole call succeeds.
type Env struct {
	Conversation *statex.Conversation
	Store        itineraryx.Store
	Settings     Settings
	Now          func() time.Time
	NewID        func() string

	writes []func(ctx context.Context) error
}

// Stage queues a store write that runs after the response validates.
func (e *Env) Stage(write func(ctx context.Context) error) {
	e.writes = append(e.writes, write)
}

type Handler func(ctx context.Context, env *Env, input map[string]any) (any, error)

// typed adapts a handler over a decoded request struct.
func typed[In any, Out any](fn func(ctx context.Context, env *Env, in In) (Out, error)) Handler {
	return func(ctx context.Context, env *Env, input map[string]any) (any, error) {
		in, err := decodeInput[In](input)
		if err != nil {
			return nil, fmt.Errorf("%w: decode input: %v", contractx.ErrValidation, err)
		}
		return fn(ctx, env, in)
	}
}

type Definition struct {
	Contract Contract
	Handler  Handler
}

// Catalog is the process-wide, read-only set of tools.
type Catalog struct {
	defs map[string]Definition
}

func NewCatalog(defs ...Definition) (*Catalog, error) {
	c := &Catalog{defs: make(map[string]Definition, len(defs))}
	for _, d := range defs {
		name := d.Contract.Name
		if name == "" || d.Handler == nil || d.Contract.Request == nil || d.Contract.Response == nil {
			return nil, fmt.Errorf("%w: incomplete tool definition %q", contractx.ErrValidation, name)
		}
		if _, dup := c.defs[name]; dup {
			return nil, fmt.Errorf("%w: duplicate tool %q", contractx.ErrValidation, name)
		}
		c.defs[name] = d
	}
	return c, nil
}

// DefaultCatalog returns every airline support tool.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(
		faqLookupTool(),
		baggagePolicyTool(),
		tripDetailsTool(),
		flightStatusTool(),
		searchAlternatesTool(),
		bookFlightTool(),
		cancelFlightTool(),
		updateSeatTool(),
		specialServiceSeatTool(),
		displaySeatMapTool(),
		compensationTool(),
	)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Catalog) Get(name string) (Definition, bool) {
	d, ok := c.defs[name]
	return d, ok
}

func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.defs))
	for name := range c.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Require fails when any declared tool name is not in the catalog.
func (c *Catalog) Require(names ...string) error {
	for _, name := range names {
		if _, ok := c.defs[name]; !ok {
			return fmt.Errorf("%w: %s", contractx.ErrUnknownTool, name)
		}
	}
	return nil
}

// Infos returns model-facing tool descriptions in the given order.
func (c *Catalog) Infos(names []string) ([]*schema.ToolInfo, error) {
	if err := c.Require(names...); err != nil {
		return nil, err
	}
	infos := make([]*schema.ToolInfo, 0, len(names))
	for _, name := range names {
		infos = append(infos, c.defs[name].Contract.Info())
	}
	return infos, nil
}

// Capability returns the customer-facing name of a tool.
func (c *Catalog) Capability(name string) string {
	if d, ok := c.defs[name]; ok && d.Contract.Capability != "" {
		return d.Contract.Capability
	}
	return name
}

func (c *Catalog) IsMutating(name string) bool {
	d, ok := c.defs[name]
	return ok && d.Contract.Mutating
}
