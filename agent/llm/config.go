package llm

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/airline-handoff-router/agent/contract"
	openrouterx "github.com/tanpawarit/airline-handoff-router/pkg/openrouter"
)

// Config is the decision-service configuration shared by every worker, with
// optional per-worker model and temperature overrides.
type Config struct {
	BaseURL            string        `envconfig:"BASE_URL" split_words:"true" default:"https://openrouter.ai/api/v1"`
	APIKey             string        `envconfig:"API_KEY" split_words:"true" required:"true"`
	Model              string        `envconfig:"MODEL" split_words:"true" required:"true"`
	MaxCompletionToken int           `envconfig:"MAX_COMPLETION_TOKEN" split_words:"true" default:"1000"`
	Temperature        float32       `envconfig:"TEMPERATURE" split_words:"true" default:"0"`
	Timeout            time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"30s"`
	SiteURL            string        `envconfig:"SITE_URL" split_words:"true"`
	SiteName           string        `envconfig:"SITE_NAME" split_words:"true"`
	ExcludeReasoning   bool          `envconfig:"EXCLUDE_REASONING" split_words:"true" default:"true"`

	TriageModel        string  `envconfig:"TRIAGE_MODEL" split_words:"true"`
	FAQModel           string  `envconfig:"FAQ_MODEL" split_words:"true"`
	FlightModel        string  `envconfig:"FLIGHT_MODEL" split_words:"true"`
	BookingModel       string  `envconfig:"BOOKING_MODEL" split_words:"true"`
	SeatModel          string  `envconfig:"SEAT_MODEL" split_words:"true"`
	RefundModel        string  `envconfig:"REFUND_MODEL" split_words:"true"`
	TriageTemperature  float32 `envconfig:"TRIAGE_TEMPERATURE" split_words:"true" default:"-1"`
	WorkersTemperature float32 `envconfig:"WORKERS_TEMPERATURE" split_words:"true" default:"-1"`
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("%w: openrouter api key is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("%w: default model is required", contractx.ErrValidation)
	}
	return nil
}

// OpenRouterFor resolves the model settings of one worker.
func (c Config) OpenRouterFor(worker contractx.WorkerID) openrouterx.Config {
	modelName := strings.TrimSpace(c.Model)
	temp := c.Temperature

	override := map[contractx.WorkerID]string{
		contractx.WorkerTriage:  c.TriageModel,
		contractx.WorkerFAQ:     c.FAQModel,
		contractx.WorkerFlight:  c.FlightModel,
		contractx.WorkerBooking: c.BookingModel,
		contractx.WorkerSeat:    c.SeatModel,
		contractx.WorkerRefund:  c.RefundModel,
	}[worker]
	if v := strings.TrimSpace(override); v != "" {
		modelName = v
	}

	switch worker {
	case contractx.WorkerTriage:
		if c.TriageTemperature >= 0 {
			temp = c.TriageTemperature
		}
	default:
		if c.WorkersTemperature >= 0 {
			temp = c.WorkersTemperature
		}
	}

	maxCompletionToken := c.MaxCompletionToken
	return openrouterx.Config{
		BaseURL:            strings.TrimSpace(c.BaseURL),
		APIKey:             strings.TrimSpace(c.APIKey),
		Model:              modelName,
		MaxCompletionToken: &maxCompletionToken,
		Temperature:        temp,
		Timeout:            c.Timeout,
		SiteURL:            strings.TrimSpace(c.SiteURL),
		SiteName:           strings.TrimSpace(c.SiteName),
		ExcludeReasoning:   c.ExcludeReasoning,
	}
}
