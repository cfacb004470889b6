package guardrail

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/airline-handoff-router/agent/contract"
	eventx "github.com/tanpawarit/airline-handoff-router/agent/events"
)

const (
	CheckJailbreak = "jailbreak"
	CheckRelevance = "relevance"
)

var ErrUnknownCheck = errors.New("unknown guardrail check")

const (
	jailbreakRefusal = "Sorry, I can't help with that. I can only assist with questions about your flights, bookings, seats and travel with us."
	relevanceRefusal = "Sorry, I can only answer questions related to airline travel, such as flights, bookings, seats, baggage and compensation."
)

// Check is one named safety check. Lower Priority runs first.
type Check struct {
	Name        string
	Instruction string
	Refusal     string
	Priority    int
	FailClosed  bool
}

func JailbreakCheck(instruction string) Check {
	return Check{
		Name:        CheckJailbreak,
		Instruction: instruction,
		Refusal:     jailbreakRefusal,
		Priority:    0,
		FailClosed:  true,
	}
}

func RelevanceCheck(instruction string) Check {
	return Check{
		Name:        CheckRelevance,
		Instruction: instruction,
		Refusal:     relevanceRefusal,
		Priority:    10,
	}
}

// Result is the gate decision for one inbound message.
type Result struct {
	Tripped       bool   `json:"tripped"`
	CheckName     string `json:"check_name,omitempty"`
	CannedMessage string `json:"canned_message,omitempty"`
}

type Input struct {
	TurnID  string
	Worker  contractx.WorkerID
	Message string
}

// Gate runs its checks in priority order and stops at the first trip.
type Gate struct {
	checks     []Check
	byName     map[string]Check
	classifier Classifier
	timeout    time.Duration
}

type GateOption func(*Gate)

func WithCheckTimeout(d time.Duration) GateOption {
	return func(g *Gate) {
		g.timeout = d
	}
}

func NewGate(classifier Classifier, checks []Check, opts ...GateOption) (*Gate, error) {
	if classifier == nil {
		return nil, fmt.Errorf("%w: guardrail classifier is required", contractx.ErrValidation)
	}
	if len(checks) == 0 {
		return nil, fmt.Errorf("%w: at least one guardrail check is required", contractx.ErrValidation)
	}

	g := &Gate{
		byName:     make(map[string]Check, len(checks)),
		classifier: classifier,
	}
	for _, c := range checks {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: guardrail check name is empty", contractx.ErrValidation)
		}
		if _, dup := g.byName[name]; dup {
			return nil, fmt.Errorf("%w: duplicate guardrail check=%s", contractx.ErrValidation, name)
		}
		if strings.TrimSpace(c.Refusal) == "" {
			return nil, fmt.Errorf("%w: guardrail check=%s has no refusal", contractx.ErrValidation, name)
		}
		c.Name = name
		g.byName[name] = c
		g.checks = append(g.checks, c)
	}
	sortChecks(g.checks)

	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Select returns a gate restricted to the named checks, keeping priority order.
func (g *Gate) Select(names ...string) (*Gate, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: no guardrail checks declared", contractx.ErrValidation)
	}
	seen := make(map[string]struct{}, len(names))
	out := &Gate{
		byName:     make(map[string]Check, len(names)),
		classifier: g.classifier,
		timeout:    g.timeout,
	}
	for _, name := range names {
		c, ok := g.byName[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownCheck, name)
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out.byName[name] = c
		out.checks = append(out.checks, c)
	}
	sortChecks(out.checks)
	return out, nil
}

func (g *Gate) Names() []string {
	names := make([]string, 0, len(g.checks))
	for _, c := range g.checks {
		names = append(names, c.Name)
	}
	return names
}

// Run classifies the message with every check until one trips. Each check
// that runs is appended to rec, tripped or not.
func (g *Gate) Run(ctx context.Context, in Input, rec *eventx.Recorder) Result {
	for _, c := range g.checks {
		verdict, err := g.classify(ctx, c, in.Message)

		entry := eventx.GuardrailEntry{Check: c.Name}
		if err != nil {
			verdict = Verdict{Tripped: c.FailClosed, Reason: "classifier unavailable"}
			entry.Error = err.Error()
			log.Ctx(ctx).Warn().Err(err).
				Str("check", c.Name).
				Bool("fail_closed", c.FailClosed).
				Msg("guardrail classifier failed")
		}
		entry.Tripped = verdict.Tripped
		entry.Reason = verdict.Reason
		if rec != nil {
			rec.RecordGuardrail(in.TurnID, string(in.Worker), entry)
		}

		if verdict.Tripped {
			return Result{Tripped: true, CheckName: c.Name, CannedMessage: c.Refusal}
		}
	}
	return Result{}
}

func (g *Gate) classify(ctx context.Context, c Check, message string) (Verdict, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	v, err := g.classifier.Classify(ctx, c, message)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Verdict{}, fmt.Errorf("%w: guardrail=%s: %v", contractx.ErrTimeout, c.Name, err)
		}
		return Verdict{}, err
	}
	return v, nil
}

func sortChecks(checks []Check) {
	sort.SliceStable(checks, func(i, j int) bool {
		return checks[i].Priority < checks[j].Priority
	})
}
