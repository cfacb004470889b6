package tool

import (
	"context"
	"errors"
	"time"

	"github.com/getkin/kin-openapi/openapi3"

	itineraryx "github.com/tanpawarit/airline-handoff-router/agent/itinerary"
)

const (
	LevelSevere      = "severe"
	LevelSignificant = "significant"
	LevelMinor       = "minor"
)

const significantDelay = 3 * time.Hour

var defaultVouchers = map[string][]itineraryx.Voucher{
	LevelSevere: {
		{Kind: "hotel", Description: "$180 hotel voucher at a partner hotel near the terminal", Amount: 180},
		{Kind: "meal", Description: "$60 meal credit", Amount: 60},
		{Kind: "ground", Description: "$40 ground transport credit", Amount: 40},
	},
	LevelSignificant: {
		{Kind: "meal", Description: "$60 meal credit", Amount: 60},
	},
	LevelMinor: {},
}

type compensationInput struct {
	ConfirmationNumber string `json:"confirmation_number"`
	Reason             string `json:"reason"`
}

type compensationOutput struct {
	CaseID             string               `json:"case_id"`
	ConfirmationNumber string               `json:"confirmation_number"`
	Level              string               `json:"level"`
	DisruptedFlight    string               `json:"disrupted_flight"`
	Vouchers           []itineraryx.Voucher `json:"vouchers"`
	TotalValue         float64              `json:"total_value"`
	Existing           bool                 `json:"existing"`
}

func compensationTool() Definition {
	voucher := objectSchema([]string{"kind", "description", "amount"}, map[string]*openapi3.Schema{
		"kind":        stringSchema("Voucher kind"),
		"description": stringSchema("Voucher description"),
		"amount":      openapi3.NewFloat64Schema().WithMin(0),
	})
	return Definition{
		Contract: Contract{
			Name:        ToolOpenCompensationCase,
			Capability:  "compensation",
			Description: "Open a compensation case for a delayed, missed or cancelled flight and issue vouchers.",
			Mutating:    true,
			Request: objectSchema([]string{"confirmation_number"}, map[string]*openapi3.Schema{
				"confirmation_number": confirmationSchema(),
				"reason":              described(openapi3.NewStringSchema(), "What went wrong, in the customer's words"),
			}),
			Response: objectSchema(
				[]string{"case_id", "confirmation_number", "level", "disrupted_flight", "vouchers", "total_value", "existing"},
				map[string]*openapi3.Schema{
					"case_id":             described(openapi3.NewStringSchema().WithPattern(`^CMP-[0-9]{4}$`), "Compensation case"),
					"confirmation_number": stringSchema("Confirmation number"),
					"level":               enumSchema("Disruption level", LevelSevere, LevelSignificant, LevelMinor),
					"disrupted_flight":    stringSchema("Disrupted flight"),
					"vouchers":            arrayOf(voucher),
					"total_value":         openapi3.NewFloat64Schema().WithMin(0),
					"existing":            openapi3.NewBoolSchema(),
				},
			),
		},
		Handler: typed(openCompensationCase),
	}
}

func disruptionLevel(it *itineraryx.Itinerary, d itineraryx.Disruption) string {
	switch {
	case it.Cancelled, d.Leg.Status == itineraryx.LegCancelled, d.Missed != nil:
		return LevelSevere
	case d.Leg.Delay() >= significantDelay:
		return LevelSignificant
	default:
		return LevelMinor
	}
}

// openCompensationCase is idempotent: once the conversation holds a case id
// the same case is reported again.
func openCompensationCase(ctx context.Context, env *Env, in compensationInput) (compensationOutput, error) {
	if err := requireActiveBooking(env, in.ConfirmationNumber); err != nil {
		return compensationOutput{}, err
	}
	it, err := currentItinerary(ctx, env, in.ConfirmationNumber)
	if err != nil {
		return compensationOutput{}, err
	}
	d, ok := it.FirstDisruption(env.Settings.ConnectionBuffer)
	if !ok {
		return compensationOutput{}, errors.New("no delay or cancellation is recorded on this itinerary")
	}

	level := disruptionLevel(it, d)
	vouchers := defaultVouchers[level]
	if len(it.Vouchers) > 0 {
		vouchers = it.Vouchers
	}
	out := compensationOutput{
		ConfirmationNumber: it.ConfirmationNumber,
		Level:              level,
		DisruptedFlight:    d.Leg.FlightNumber,
		Vouchers:           append([]itineraryx.Voucher{}, vouchers...),
	}
	for _, v := range out.Vouchers {
		out.TotalValue += v.Amount
	}

	conv := env.Conversation
	if conv.CaseID != "" {
		out.CaseID = conv.CaseID
		out.Existing = true
		return out, nil
	}
	out.CaseID = "CMP-" + digitsFrom(env.NewID(), 4)
	conv.CaseID = out.CaseID
	conv.AddNote("Compensation case " + out.CaseID + " opened (" + level + ")")
	return out, nil
}
