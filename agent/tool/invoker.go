package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/airline-handoff-router/agent/contract"
	eventx "github.com/tanpawarit/airline-handoff-router/agent/events"
	itineraryx "github.com/tanpawarit/airline-handoff-router/agent/itinerary"
	statex "github.com/tanpawarit/airline-handoff-router/agent/state"
)

// maxRequestAttempts is the first try plus one corrected retry.
const maxRequestAttempts = 2

type Options struct {
	Settings Settings
	Timeout  time.Duration
	Now      func() time.Time
	NewID    func() string
}

// Invoker validates, executes and commits tool calls. It holds no
// per-conversation state.
type Invoker struct {
	catalog  *Catalog
	store    itineraryx.Store
	settings Settings
	timeout  time.Duration
	now      func() time.Time
	newID    func() string
}

func NewInvoker(catalog *Catalog, store itineraryx.Store, opts Options) *Invoker {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Settings.Alternates <= 0 {
		opts.Settings.Alternates = DefaultSettings().Alternates
	}
	if opts.Settings.ConnectionBuffer <= 0 {
		opts.Settings.ConnectionBuffer = DefaultSettings().ConnectionBuffer
	}
	return &Invoker{
		catalog:  catalog,
		store:    store,
		settings: opts.Settings,
		timeout:  opts.Timeout,
		now:      opts.Now,
		newID:    opts.NewID,
	}
}

func (inv *Invoker) Catalog() *Catalog {
	return inv.catalog
}

func (inv *Invoker) Settings() Settings {
	return inv.settings
}

// Binding is the invoker scoped to one worker turn of one conversation.
type Binding struct {
	inv      *Invoker
	worker   contractx.WorkerID
	allowed  map[string]struct{}
	conv     *statex.Conversation
	recorder *eventx.Recorder
	turnID   string
}

// Bind scopes the invoker to a worker's allowlist. Successful calls commit
// into conv in place.
func (inv *Invoker) Bind(worker contractx.WorkerID, allowed []string, conv *statex.Conversation, recorder *eventx.Recorder, turnID string) *Binding {
	set := make(map[string]struct{}, len(allowed))
	for _, name := range allowed {
		set[name] = struct{}{}
	}
	return &Binding{
		inv:      inv,
		worker:   worker,
		allowed:  set,
		conv:     conv,
		recorder: recorder,
		turnID:   turnID,
	}
}

func (b *Binding) IsMutating(tool string) bool {
	return b.inv.catalog.IsMutating(tool)
}

func (b *Binding) Conversation() *statex.Conversation {
	return b.conv.Clone()
}

func (b *Binding) Invoke(ctx context.Context, call contractx.ToolCall, corrector contractx.InputCorrector) contractx.ToolOutcome {
	outcome := b.invoke(ctx, call, corrector)
	b.record(outcome)
	return outcome
}

func (b *Binding) invoke(ctx context.Context, call contractx.ToolCall, corrector contractx.InputCorrector) contractx.ToolOutcome {
	outcome := contractx.ToolOutcome{
		Tool:    call.Name,
		Request: contractx.NewRawStructuredMessage(contractx.KindToolRequest, []byte(call.Arguments)),
	}

	if _, ok := b.allowed[call.Name]; !ok {
		outcome.Err = &contractx.ToolExecutionError{
			Tool: call.Name,
			Code: contractx.CodeValidation,
			Err:  fmt.Errorf("%w: worker=%s tool=%s", contractx.ErrToolNotAllowed, b.worker, call.Name),
		}
		return outcome
	}
	def, ok := b.inv.catalog.Get(call.Name)
	if !ok {
		outcome.Err = &contractx.ToolExecutionError{
			Tool: call.Name,
			Code: contractx.CodeValidation,
			Err:  fmt.Errorf("%w: %s", contractx.ErrUnknownTool, call.Name),
		}
		return outcome
	}

	input, err := b.validatedInput(ctx, def.Contract, &call, corrector, &outcome)
	if err != nil {
		outcome.Err = &contractx.ToolExecutionError{Tool: call.Name, Code: contractx.CodeValidation, Err: err}
		return outcome
	}

	working := b.conv.Clone()
	env := &Env{
		Conversation: working,
		Store:        b.inv.store,
		Settings:     b.inv.settings,
		Now:          b.inv.now,
		NewID:        b.inv.newID,
	}

	callCtx := ctx
	if b.inv.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, b.inv.timeout)
		defer cancel()
	}

	result, err := def.Handler(callCtx, env, input)
	if timedOut(callCtx, err) {
		outcome.Err = &contractx.ToolExecutionError{
			Tool: call.Name,
			Code: contractx.CodeTimeout,
			Err:  fmt.Errorf("%w: tool=%s", contractx.ErrTimeout, call.Name),
		}
		return outcome
	}
	if err != nil {
		outcome.Err = &contractx.ToolExecutionError{Tool: call.Name, Code: contractx.CodeExecution, Err: err}
		return outcome
	}

	raw, err := json.Marshal(result)
	if err != nil {
		outcome.Err = &contractx.ToolExecutionError{
			Tool: call.Name,
			Code: contractx.CodeExecution,
			Err:  fmt.Errorf("marshal response: %w", err),
		}
		return outcome
	}
	if err := def.Contract.ValidateResponse(raw); err != nil {
		outcome.Err = &contractx.ToolExecutionError{Tool: call.Name, Code: contractx.CodeValidation, Err: err}
		return outcome
	}

	for _, write := range env.writes {
		if err := write(callCtx); err != nil {
			code := contractx.CodeCommit
			if timedOut(callCtx, err) {
				code = contractx.CodeTimeout
				err = fmt.Errorf("%w: %v", contractx.ErrTimeout, err)
			}
			outcome.Err = &contractx.ToolExecutionError{Tool: call.Name, Code: code, Err: err}
			return outcome
		}
	}

	*b.conv = *working
	outcome.Response = contractx.NewRawStructuredMessage(contractx.KindToolResponse, raw)
	return outcome
}

// validatedInput checks the request and asks the corrector for one retry on
// a request schema violation.
func (b *Binding) validatedInput(ctx context.Context, c Contract, call *contractx.ToolCall, corrector contractx.InputCorrector, outcome *contractx.ToolOutcome) (map[string]any, error) {
	for attempt := 1; ; attempt++ {
		outcome.Attempts = attempt
		input, err := c.ValidateRequest([]byte(call.Arguments))
		if err == nil {
			return input, nil
		}
		var violation *contractx.SchemaViolationError
		if !errors.As(err, &violation) || attempt >= maxRequestAttempts || corrector == nil {
			return nil, err
		}

		log.Ctx(ctx).Debug().
			Str("tool", call.Name).
			Str("field", violation.Field).
			Str("reason", violation.Reason).
			Msg("tool request violates schema, asking for correction")

		corrected, cerr := corrector.CorrectToolInput(ctx, *call, violation)
		if cerr != nil {
			return nil, fmt.Errorf("%w; correction failed: %v", err, cerr)
		}
		if corrected.Name != call.Name {
			return nil, fmt.Errorf("%w; correction switched tool to %q", err, corrected.Name)
		}
		*call = corrected
		outcome.Request = contractx.NewRawStructuredMessage(contractx.KindToolRequest, []byte(call.Arguments))
	}
}

func (b *Binding) record(outcome contractx.ToolOutcome) {
	if b.recorder == nil {
		return
	}
	entry := eventx.ToolEntry{
		Tool:     outcome.Tool,
		Input:    RedactInput(outcome.Request.Payload()),
		OK:       outcome.OK(),
		Attempts: outcome.Attempts,
		Mutating: b.inv.catalog.IsMutating(outcome.Tool),
	}
	if outcome.Err != nil {
		entry.Failure = outcome.Err.Error()
		var te *contractx.ToolExecutionError
		if errors.As(outcome.Err, &te) {
			entry.Code = te.Code
		}
	}
	b.recorder.RecordTool(b.turnID, string(b.worker), entry)
}

func timedOut(ctx context.Context, err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)
}
