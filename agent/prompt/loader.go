package prompt

import (
	_ "embed"
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/airline-handoff-router/agent/contract"
)

var (
	//go:embed template/triage.txt
	triageRaw string

	//go:embed template/faq.txt
	faqRaw string

	//go:embed template/flight.txt
	flightRaw string

	//go:embed template/booking.txt
	bookingRaw string

	//go:embed template/seat.txt
	seatRaw string

	//go:embed template/refund.txt
	refundRaw string

	//go:embed template/finalize.txt
	finalizeRaw string

	//go:embed template/correct.txt
	correctRaw string

	//go:embed template/jailbreak.txt
	jailbreakRaw string

	//go:embed template/relevance.txt
	relevanceRaw string

	//go:embed template/reflect.txt
	reflectRaw string

	//go:embed template/summarize.txt
	summarizeRaw string
)

// PromptSet holds loaded prompt content.
type PromptSet struct {
	Workers map[contractx.WorkerID]string
	// Finalize and Correct are appended to a worker's instructions for the
	// reply and input-correction calls.
	Finalize  string
	Correct   string
	Jailbreak string
	Relevance string
	Reflect   string
	Summarize string
}

// LoadPromptSet returns a PromptSet with trimmed prompt strings.
func LoadPromptSet() PromptSet {
	return PromptSet{
		Workers: map[contractx.WorkerID]string{
			contractx.WorkerTriage:  strings.TrimSpace(triageRaw),
			contractx.WorkerFAQ:     strings.TrimSpace(faqRaw),
			contractx.WorkerFlight:  strings.TrimSpace(flightRaw),
			contractx.WorkerBooking: strings.TrimSpace(bookingRaw),
			contractx.WorkerSeat:    strings.TrimSpace(seatRaw),
			contractx.WorkerRefund:  strings.TrimSpace(refundRaw),
		},
		Finalize:  strings.TrimSpace(finalizeRaw),
		Correct:   strings.TrimSpace(correctRaw),
		Jailbreak: strings.TrimSpace(jailbreakRaw),
		Relevance: strings.TrimSpace(relevanceRaw),
		Reflect:   strings.TrimSpace(reflectRaw),
		Summarize: strings.TrimSpace(summarizeRaw),
	}
}

// For returns the instructions of worker or ErrPromptMissing.
func (p PromptSet) For(worker contractx.WorkerID) (string, error) {
	text := strings.TrimSpace(p.Workers[worker])
	if text == "" {
		return "", fmt.Errorf("%w: worker=%s", contractx.ErrPromptMissing, worker)
	}
	return text, nil
}
