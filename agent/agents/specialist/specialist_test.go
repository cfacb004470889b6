package specialist

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/tidwall/gjson"

	contractx "github.com/tanpawarit/airline-handoff-router/agent/contract"
	eventx "github.com/tanpawarit/airline-handoff-router/agent/events"
	guardrailx "github.com/tanpawarit/airline-handoff-router/agent/guardrail"
	handoffx "github.com/tanpawarit/airline-handoff-router/agent/handoff"
	itineraryx "github.com/tanpawarit/airline-handoff-router/agent/itinerary"
	promptx "github.com/tanpawarit/airline-handoff-router/agent/prompt"
	statex "github.com/tanpawarit/airline-handoff-router/agent/state"
	toolx "github.com/tanpawarit/airline-handoff-router/agent/tool"
)

type fakeToolCallingModel struct {
	mu        sync.Mutex
	responses []*schema.Message
	err       error
	idx       int
}

func (f *fakeToolCallingModel) Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.idx >= len(f.responses) {
		return nil, errors.New("no fake response left")
	}
	msg := f.responses[f.idx]
	f.idx++
	return msg, nil
}

func (f *fakeToolCallingModel) Stream(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("stream not implemented in fake model")
}

func (f *fakeToolCallingModel) WithTools(tools []*schema.ToolInfo) (einomodel.ToolCallingChatModel, error) {
	return f, nil
}

// recordingModel keeps the user message of every call.
type recordingModel struct {
	fakeToolCallingModel
	inputs []string
}

func (r *recordingModel) Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	r.mu.Lock()
	r.inputs = append(r.inputs, input[len(input)-1].Content)
	r.mu.Unlock()
	return r.fakeToolCallingModel.Generate(ctx, input, opts...)
}

func (r *recordingModel) WithTools(tools []*schema.ToolInfo) (einomodel.ToolCallingChatModel, error) {
	return r, nil
}

// slowModel blocks until its call is cancelled.
type slowModel struct{}

func (slowModel) Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (slowModel) Stream(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("stream not implemented in fake model")
}

func (s slowModel) WithTools(tools []*schema.ToolInfo) (einomodel.ToolCallingChatModel, error) {
	return s, nil
}

type classifierFunc func(ctx context.Context, req contractx.WorkerRequest, targets []contractx.WorkerID) (contractx.Classification, error)

func (f classifierFunc) Classify(ctx context.Context, req contractx.WorkerRequest, targets []contractx.WorkerID) (contractx.Classification, error) {
	return f(ctx, req, targets)
}

func toolCall(name, args string) schema.ToolCall {
	return schema.ToolCall{
		ID:       "call_" + name,
		Type:     "function",
		Function: schema.FunctionCall{Name: name, Arguments: args},
	}
}

func planMessage(calls ...schema.ToolCall) *schema.Message {
	return &schema.Message{Role: schema.Assistant, ToolCalls: calls}
}

func textMessage(content string) *schema.Message {
	return &schema.Message{Role: schema.Assistant, Content: content}
}

func newTestRegistry(t *testing.T, model einomodel.ToolCallingChatModel, classifier contractx.Classifier, opts Options) *Registry {
	t.Helper()
	graph, err := handoffx.DefaultGraph()
	if err != nil {
		t.Fatalf("DefaultGraph() error = %v", err)
	}
	if opts.ModelAttempts == 0 {
		opts.ModelAttempts = 1
	}
	reg, err := NewRegistry(context.Background(), Deps{
		Graph:   graph,
		Catalog: toolx.DefaultCatalog(),
		Prompts: promptx.LoadPromptSet(),
		Models: func(context.Context, contractx.WorkerID) (einomodel.ToolCallingChatModel, error) {
			return model, nil
		},
		Guardrails: []string{guardrailx.CheckJailbreak, guardrailx.CheckRelevance},
		Classifier: classifier,
		Options:    opts,
	})
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	return reg
}

func runWorker(
	t *testing.T,
	reg *Registry,
	id contractx.WorkerID,
	store itineraryx.Store,
	conv *statex.Conversation,
	message string,
) (contractx.WorkerDecision, *eventx.Recorder) {
	t.Helper()
	w, err := reg.Worker(id)
	if err != nil {
		t.Fatalf("Worker(%s) error = %v", id, err)
	}
	rec := eventx.NewRecorder("conv-test", nil)
	inv := toolx.NewInvoker(toolx.DefaultCatalog(), store, toolx.Options{NewID: func() string { return "123456789abc" }})
	binding := inv.Bind(id, w.Capabilities().Tools, conv, rec, "turn-1")

	dec, err := w.Run(context.Background(), contractx.WorkerRequest{
		TurnID:       "turn-1",
		Message:      message,
		Conversation: conv.Clone(),
	}, binding)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	return dec, rec
}

func bookedConversation(t *testing.T, store itineraryx.Store, confirmation string) *statex.Conversation {
	t.Helper()
	it, err := store.ByConfirmation(context.Background(), confirmation)
	if err != nil {
		t.Fatalf("ByConfirmation() error = %v", err)
	}
	conv := &statex.Conversation{}
	conv.FillFromItinerary(it)
	return conv
}

func TestTriageHandsOffAboveThreshold(t *testing.T) {
	t.Parallel()

	var seenTargets []contractx.WorkerID
	cls := classifierFunc(func(_ context.Context, _ contractx.WorkerRequest, targets []contractx.WorkerID) (contractx.Classification, error) {
		seenTargets = targets
		return contractx.Classification{Intent: "seat_change", Target: contractx.WorkerSeat, Confidence: 0.91}, nil
	})
	reg := newTestRegistry(t, &fakeToolCallingModel{}, cls, Options{})

	dec, _ := runWorker(t, reg, contractx.WorkerTriage, itineraryx.NewDemoStore(), &statex.Conversation{}, "Can I change my seat?")
	if dec.Handoff == nil {
		t.Fatalf("expected handoff, got %#v", dec)
	}
	if dec.Handoff.From != contractx.WorkerTriage || dec.Handoff.To != contractx.WorkerSeat {
		t.Fatalf("unexpected handoff: %#v", dec.Handoff)
	}
	if dec.Handoff.Reason != "seat_change" {
		t.Fatalf("unexpected reason: %q", dec.Handoff.Reason)
	}
	if dec.Reply != "" {
		t.Fatalf("triage handoff should not reply, got %q", dec.Reply)
	}
	if len(seenTargets) != 5 {
		t.Fatalf("classifier should see every triage target, got %v", seenTargets)
	}
}

func TestTriageConfidenceBands(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		cls        contractx.Classification
		wantReply  string
		clarifying bool
	}{
		{
			name:       "ambiguous without reply",
			cls:        contractx.Classification{Intent: "unclear", Target: contractx.WorkerFlight, Confidence: 0.55},
			wantReply:  clarifyFallback,
			clarifying: true,
		},
		{
			name:       "ambiguous with reply",
			cls:        contractx.Classification{Intent: "unclear", Confidence: 0.4, Reply: "Is this about your seat or your booking?"},
			wantReply:  "Is this about your seat or your booking?",
			clarifying: true,
		},
		{
			name:      "small talk",
			cls:       contractx.Classification{Intent: "greeting", Confidence: 0.1, Reply: "Hi there! How can I help?"},
			wantReply: "Hi there! How can I help?",
		},
		{
			name:      "confident without target",
			cls:       contractx.Classification{Intent: "thanks", Confidence: 0.95},
			wantReply: chatFallback,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			dec := decide(tc.cls)
			if dec.Handoff != nil {
				t.Fatalf("unexpected handoff: %#v", dec.Handoff)
			}
			if dec.Reply != tc.wantReply {
				t.Fatalf("reply = %q, want %q", dec.Reply, tc.wantReply)
			}
			if dec.Clarifying != tc.clarifying {
				t.Fatalf("clarifying = %v, want %v", dec.Clarifying, tc.clarifying)
			}
		})
	}
}

func TestTriageRetriesUndeclaredTargetOnce(t *testing.T) {
	t.Parallel()

	calls := 0
	cls := classifierFunc(func(context.Context, contractx.WorkerRequest, []contractx.WorkerID) (contractx.Classification, error) {
		calls++
		if calls == 1 {
			return contractx.Classification{Intent: "cancel", Target: contractx.WorkerTriage, Confidence: 0.9}, nil
		}
		return contractx.Classification{Intent: "cancel", Target: contractx.WorkerBooking, Confidence: 0.9}, nil
	})
	reg := newTestRegistry(t, &fakeToolCallingModel{}, cls, Options{ModelAttempts: 2})

	dec, _ := runWorker(t, reg, contractx.WorkerTriage, itineraryx.NewDemoStore(), &statex.Conversation{}, "I want to cancel my flight")
	if calls != 2 {
		t.Fatalf("expected 2 classifier calls, got %d", calls)
	}
	if dec.Handoff == nil || dec.Handoff.To != contractx.WorkerBooking {
		t.Fatalf("expected handoff to booking, got %#v", dec)
	}
}

func TestTriageCorrectsSchemaViolationExactlyOnce(t *testing.T) {
	t.Parallel()

	for _, attempts := range []int{1, 4} {
		attempts := attempts
		t.Run(fmt.Sprintf("model attempts %d", attempts), func(t *testing.T) {
			t.Parallel()

			var (
				mu          sync.Mutex
				corrections []string
			)
			cls := classifierFunc(func(_ context.Context, req contractx.WorkerRequest, _ []contractx.WorkerID) (contractx.Classification, error) {
				mu.Lock()
				defer mu.Unlock()
				corrections = append(corrections, req.Correction)
				return contractx.Classification{Intent: "lounge", Target: contractx.WorkerID("lounge"), Confidence: 0.9}, nil
			})
			reg := newTestRegistry(t, &fakeToolCallingModel{}, cls, Options{ModelAttempts: attempts})

			dec, _ := runWorker(t, reg, contractx.WorkerTriage, itineraryx.NewDemoStore(), &statex.Conversation{}, "Where is the lounge?")
			if !dec.Degraded || dec.Handoff != nil {
				t.Fatalf("expected degraded reply, got %#v", dec)
			}
			if len(corrections) != 2 {
				t.Fatalf("expected exactly 2 classifier calls, got %d", len(corrections))
			}
			if corrections[0] != "" {
				t.Fatalf("first call must not carry a correction, got %q", corrections[0])
			}
			if !strings.Contains(corrections[1], `"lounge" is not a handoff target`) {
				t.Fatalf("retry should name the violation, got %q", corrections[1])
			}
		})
	}
}

func TestModelFailuresUseAttemptBudget(t *testing.T) {
	t.Parallel()

	calls := 0
	cls := classifierFunc(func(context.Context, contractx.WorkerRequest, []contractx.WorkerID) (contractx.Classification, error) {
		calls++
		return contractx.Classification{}, contractx.ErrModelInvoke
	})
	reg := newTestRegistry(t, &fakeToolCallingModel{}, cls, Options{ModelAttempts: 3})

	dec, _ := runWorker(t, reg, contractx.WorkerTriage, itineraryx.NewDemoStore(), &statex.Conversation{}, "hello")
	if !dec.Degraded {
		t.Fatalf("expected degraded reply, got %#v", dec)
	}
	if calls != 3 {
		t.Fatalf("expected 3 classifier calls, got %d", calls)
	}
}

func TestFinalizeRetryCarriesCorrection(t *testing.T) {
	t.Parallel()

	store := itineraryx.NewDemoStore()
	conv := bookedConversation(t, store, "LL0EZ6")

	fake := &recordingModel{fakeToolCallingModel: fakeToolCallingModel{
		responses: []*schema.Message{
			planMessage(toolCall(toolx.ToolDisplaySeatMap, `{}`)),
			textMessage(`{"reply":"   "}`),
			textMessage(`{"reply":"Here is the seat map."}`),
		},
	}}
	reg := newTestRegistry(t, fake, nil, Options{ModelAttempts: 1})

	dec, _ := runWorker(t, reg, contractx.WorkerSeat, store, conv, "show me the seat map")
	if dec.Degraded {
		t.Fatalf("unexpected degraded decision: %#v", dec)
	}
	if len(fake.inputs) != 3 {
		t.Fatalf("expected 3 model calls, got %d", len(fake.inputs))
	}
	if strings.Contains(fake.inputs[1], "correction") || !strings.Contains(fake.inputs[2], "finalize reply is empty") {
		t.Fatalf("only the retry should carry the correction:\n%s\n%s", fake.inputs[1], fake.inputs[2])
	}
}

func TestTriageDegradesWhenClassifierKeepsFailing(t *testing.T) {
	t.Parallel()

	cls := classifierFunc(func(context.Context, contractx.WorkerRequest, []contractx.WorkerID) (contractx.Classification, error) {
		return contractx.Classification{}, contractx.ErrModelInvoke
	})
	reg := newTestRegistry(t, &fakeToolCallingModel{}, cls, Options{ModelAttempts: 2})

	dec, _ := runWorker(t, reg, contractx.WorkerTriage, itineraryx.NewDemoStore(), &statex.Conversation{}, "hello")
	if !dec.Degraded || dec.Handoff != nil {
		t.Fatalf("expected degraded reply, got %#v", dec)
	}
	if !strings.Contains(dec.Reply, "request routing") {
		t.Fatalf("reply should name the capability, got %q", dec.Reply)
	}
}

func TestLLMClassifierNormalizesTarget(t *testing.T) {
	t.Parallel()

	fake := &fakeToolCallingModel{
		responses: []*schema.Message{
			textMessage(`{"intent":"seat_change","target":" Seat ","confidence":0.92}`),
		},
	}
	cls, err := NewLLMClassifier(context.Background(), fake, "triage prompt")
	if err != nil {
		t.Fatalf("NewLLMClassifier() error = %v", err)
	}

	out, err := cls.Classify(context.Background(), contractx.WorkerRequest{
		Message:      "Can I change my seat?",
		Conversation: &statex.Conversation{},
	}, []contractx.WorkerID{contractx.WorkerSeat})
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if out.Target != contractx.WorkerSeat || out.Confidence != 0.92 {
		t.Fatalf("unexpected classification: %#v", out)
	}
}

func TestSeatAsksForBookingBeforeMutating(t *testing.T) {
	t.Parallel()

	fake := &fakeToolCallingModel{
		responses: []*schema.Message{
			planMessage(toolCall(toolx.ToolUpdateSeat, `{"confirmation_number":"LL0EZ6","seat_number":"4C"}`)),
		},
	}
	reg := newTestRegistry(t, fake, nil, Options{})

	dec, rec := runWorker(t, reg, contractx.WorkerSeat, itineraryx.NewDemoStore(), &statex.Conversation{}, "Can I change my seat?")
	if !dec.Clarifying {
		t.Fatalf("expected clarifying question, got %#v", dec)
	}
	if !strings.Contains(dec.Reply, "confirmation number and flight number") {
		t.Fatalf("question should ask for both identifiers, got %q", dec.Reply)
	}
	if rec.Len() != 0 {
		t.Fatalf("no tool may run before the precondition holds, got %d events", rec.Len())
	}
}

func TestBookingCancelsAfterConfirmation(t *testing.T) {
	t.Parallel()

	store := itineraryx.NewDemoStore()
	conv := bookedConversation(t, store, "LL0EZ6")
	if conv.FlightNumber != "FLT-123" {
		t.Fatalf("unexpected demo flight: %s", conv.FlightNumber)
	}

	fake := &fakeToolCallingModel{
		responses: []*schema.Message{
			planMessage(toolCall(toolx.ToolCancelFlight, `{"confirmation_number":"LL0EZ6","flight_number":"FLT-123","confirmed":true}`)),
			textMessage(`{"reply":"Your booking LL0EZ6 on flight FLT-123 has been cancelled. A refund of $250 is on its way."}`),
		},
	}
	reg := newTestRegistry(t, fake, nil, Options{})

	dec, rec := runWorker(t, reg, contractx.WorkerBooking, store, conv, "Yes, please cancel it")
	if dec.Degraded || dec.Clarifying {
		t.Fatalf("unexpected decision: %#v", dec)
	}
	if !strings.Contains(dec.Reply, "LL0EZ6") || !strings.Contains(dec.Reply, "FLT-123") {
		t.Fatalf("reply should reference both identifiers, got %q", dec.Reply)
	}
	if conv.ConfirmationNumber != "" || conv.FlightNumber != "" {
		t.Fatalf("cancellation should reset the booking, got %#v", conv)
	}
	if len(dec.Outcomes) != 1 || !dec.Outcomes[0].OK() {
		t.Fatalf("unexpected outcomes: %#v", dec.Outcomes)
	}
	if rec.Len() != 1 {
		t.Fatalf("expected one tool event, got %d", rec.Len())
	}
}

func TestFlightFindsAlternatesAndHandsOff(t *testing.T) {
	t.Parallel()

	store := itineraryx.NewDemoStore()
	conv := bookedConversation(t, store, "IR-D204")

	fake := &fakeToolCallingModel{
		responses: []*schema.Message{
			planMessage(
				toolCall(toolx.ToolSearchAlternates, `{}`),
				toolCall(transferToolName(contractx.WorkerBooking), `{"reason":"customer wants NY950"}`),
			),
			textMessage(`{"reply":"NY950 arrives first, then NY982. I'll pass you to booking."}`),
		},
	}
	reg := newTestRegistry(t, fake, nil, Options{})

	dec, _ := runWorker(t, reg, contractx.WorkerFlight, store, conv, "My flight is delayed and I will miss my connection")
	if dec.Handoff == nil || dec.Handoff.To != contractx.WorkerBooking || dec.Handoff.From != contractx.WorkerFlight {
		t.Fatalf("expected handoff flight->booking, got %#v", dec.Handoff)
	}
	if dec.Handoff.Reason != "customer wants NY950" {
		t.Fatalf("unexpected reason: %q", dec.Handoff.Reason)
	}
	if len(dec.Outcomes) != 1 {
		t.Fatalf("expected 1 outcome, got %d", len(dec.Outcomes))
	}
	payload := dec.Outcomes[0].Response.Payload()
	if got := gjson.GetBytes(payload, "alternates.#.flight_number").String(); got != `["NY950","NY982"]` {
		t.Fatalf("unexpected alternates: %s", got)
	}
	if conv.FlightNumber != "PA441" {
		t.Fatalf("search must not change the flight, got %s", conv.FlightNumber)
	}
}

func TestBookingBooksAlternateKeepingConfirmation(t *testing.T) {
	t.Parallel()

	store := itineraryx.NewDemoStore()
	conv := bookedConversation(t, store, "IR-D204")

	fake := &fakeToolCallingModel{
		responses: []*schema.Message{
			planMessage(toolCall(toolx.ToolBookFlight, `{"confirmation_number":"IR-D204","flight_number":"NY950"}`)),
			textMessage(`{"reply":"You're booked on NY950. Your confirmation number is still IR-D204."}`),
		},
	}
	reg := newTestRegistry(t, fake, nil, Options{})

	dec, _ := runWorker(t, reg, contractx.WorkerBooking, store, conv, "Book NY950 please")
	if dec.Degraded {
		t.Fatalf("unexpected degraded decision: %#v", dec)
	}
	if conv.FlightNumber != "NY950" || conv.ConfirmationNumber != "IR-D204" {
		t.Fatalf("unexpected context after booking: %#v", conv)
	}
}

func TestToolFailureNamesCapability(t *testing.T) {
	t.Parallel()

	store := itineraryx.NewDemoStore()
	conv := bookedConversation(t, store, "LL0EZ6")

	fake := &fakeToolCallingModel{
		responses: []*schema.Message{
			planMessage(toolCall(toolx.ToolUpdateSeat, `{"confirmation_number":"LL0EZ6","seat_number":"14C"}`)),
		},
	}
	reg := newTestRegistry(t, fake, nil, Options{})

	dec, _ := runWorker(t, reg, contractx.WorkerSeat, store, conv, "Put me in 14C")
	if !dec.Degraded {
		t.Fatalf("expected degraded decision, got %#v", dec)
	}
	if !strings.Contains(dec.Reply, "seat change") {
		t.Fatalf("reply should name the capability, got %q", dec.Reply)
	}
	if conv.SeatNumber != "23A" {
		t.Fatalf("failed call must not change the seat, got %s", conv.SeatNumber)
	}
}

func TestUndeclaredToolIsRefused(t *testing.T) {
	t.Parallel()

	store := itineraryx.NewDemoStore()
	conv := bookedConversation(t, store, "LL0EZ6")

	fake := &fakeToolCallingModel{
		responses: []*schema.Message{
			planMessage(toolCall(toolx.ToolBookFlight, `{"confirmation_number":"LL0EZ6","flight_number":"DA100"}`)),
		},
	}
	reg := newTestRegistry(t, fake, nil, Options{})

	dec, _ := runWorker(t, reg, contractx.WorkerSeat, store, conv, "book DA100")
	if !dec.Degraded || len(dec.Outcomes) != 1 {
		t.Fatalf("expected a refused call, got %#v", dec)
	}
	if !errors.Is(dec.Outcomes[0].Err, contractx.ErrToolNotAllowed) {
		t.Fatalf("expected ErrToolNotAllowed, got %v", dec.Outcomes[0].Err)
	}
	if conv.FlightNumber != "FLT-123" {
		t.Fatalf("refused call must not book, got %s", conv.FlightNumber)
	}
}

func TestSchemaViolationIsCorrectedByWorker(t *testing.T) {
	t.Parallel()

	store := itineraryx.NewDemoStore()
	conv := bookedConversation(t, store, "LL0EZ6")

	fake := &fakeToolCallingModel{
		responses: []*schema.Message{
			planMessage(toolCall(toolx.ToolUpdateSeat, `{"confirmation_number":"LL0EZ6","seat_number":"window please"}`)),
			textMessage(`{"arguments":{"confirmation_number":"LL0EZ6","seat_number":"4F"}}`),
			textMessage(`{"reply":"You're now in seat 4F."}`),
		},
	}
	reg := newTestRegistry(t, fake, nil, Options{})

	dec, _ := runWorker(t, reg, contractx.WorkerSeat, store, conv, "Give me a window seat in row 4")
	if dec.Degraded {
		t.Fatalf("unexpected degraded decision: %#v", dec)
	}
	if conv.SeatNumber != "4F" {
		t.Fatalf("expected corrected seat 4F, got %s", conv.SeatNumber)
	}
	if dec.Outcomes[0].Attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", dec.Outcomes[0].Attempts)
	}
}

func TestSeatMapMarkerSurvivesFinalize(t *testing.T) {
	t.Parallel()

	store := itineraryx.NewDemoStore()
	conv := bookedConversation(t, store, "LL0EZ6")

	fake := &fakeToolCallingModel{
		responses: []*schema.Message{
			planMessage(toolCall(toolx.ToolDisplaySeatMap, `{}`)),
			textMessage(`{"reply":"Here is the seat map."}`),
		},
	}
	reg := newTestRegistry(t, fake, nil, Options{})

	dec, _ := runWorker(t, reg, contractx.WorkerSeat, store, conv, "show me the seat map")
	if !strings.HasSuffix(dec.Reply, toolx.SeatMapMarker) {
		t.Fatalf("reply should carry the seat map marker, got %q", dec.Reply)
	}
}

func TestTwoTransfersAreASchemaViolation(t *testing.T) {
	t.Parallel()

	twoTransfers := planMessage(
		toolCall(transferToolName(contractx.WorkerBooking), `{}`),
		toolCall(transferToolName(contractx.WorkerRefund), `{}`),
	)
	fake := &fakeToolCallingModel{responses: []*schema.Message{twoTransfers, twoTransfers}}
	reg := newTestRegistry(t, fake, nil, Options{ModelAttempts: 2})

	dec, _ := runWorker(t, reg, contractx.WorkerFlight, itineraryx.NewDemoStore(), &statex.Conversation{}, "help")
	if !dec.Degraded || dec.Handoff != nil {
		t.Fatalf("expected degraded reply without handoff, got %#v", dec)
	}
	if fake.idx != 2 {
		t.Fatalf("expected the plan to be retried once, got %d calls", fake.idx)
	}
}

func TestUndeclaredTransferIsRejected(t *testing.T) {
	t.Parallel()

	fake := &fakeToolCallingModel{
		responses: []*schema.Message{
			planMessage(toolCall(transferToolName(contractx.WorkerBooking), `{}`)),
		},
	}
	reg := newTestRegistry(t, fake, nil, Options{})

	dec, _ := runWorker(t, reg, contractx.WorkerFAQ, itineraryx.NewDemoStore(), &statex.Conversation{}, "book me a flight")
	if !dec.Degraded || dec.Handoff != nil {
		t.Fatalf("faq has no edge to booking, got %#v", dec)
	}
}

func TestPlanTimeoutDegrades(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, slowModel{}, nil, Options{ModelTimeout: 20 * time.Millisecond, ModelAttempts: 2})

	dec, rec := runWorker(t, reg, contractx.WorkerFAQ, itineraryx.NewDemoStore(), &statex.Conversation{}, "what is the baggage allowance?")
	if !dec.Degraded {
		t.Fatalf("expected degraded decision, got %#v", dec)
	}
	if !strings.Contains(dec.Reply, "policy lookup") {
		t.Fatalf("reply should name the capability, got %q", dec.Reply)
	}
	if rec.Len() != 0 {
		t.Fatalf("no tool should run, got %d events", rec.Len())
	}
}

func TestNewRegistryRejectsUnknownGuardrail(t *testing.T) {
	t.Parallel()

	graph, err := handoffx.DefaultGraph()
	if err != nil {
		t.Fatalf("DefaultGraph() error = %v", err)
	}
	_, err = NewRegistry(context.Background(), Deps{
		Graph:   graph,
		Catalog: toolx.DefaultCatalog(),
		Prompts: promptx.LoadPromptSet(),
		Models: func(context.Context, contractx.WorkerID) (einomodel.ToolCallingChatModel, error) {
			return &fakeToolCallingModel{}, nil
		},
		Guardrails: []string{guardrailx.CheckJailbreak},
	})
	if !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestNewRegistryRejectsMissingTool(t *testing.T) {
	t.Parallel()

	graph, err := handoffx.DefaultGraph()
	if err != nil {
		t.Fatalf("DefaultGraph() error = %v", err)
	}
	def, _ := toolx.DefaultCatalog().Get(toolx.ToolFAQLookup)
	catalog, err := toolx.NewCatalog(def)
	if err != nil {
		t.Fatalf("NewCatalog() error = %v", err)
	}
	_, err = NewRegistry(context.Background(), Deps{
		Graph:   graph,
		Catalog: catalog,
		Prompts: promptx.LoadPromptSet(),
		Models: func(context.Context, contractx.WorkerID) (einomodel.ToolCallingChatModel, error) {
			return &fakeToolCallingModel{}, nil
		},
		Guardrails: []string{guardrailx.CheckJailbreak, guardrailx.CheckRelevance},
	})
	if !errors.Is(err, contractx.ErrUnknownTool) {
		t.Fatalf("expected ErrUnknownTool, got %v", err)
	}
}

func TestRegistryCapabilitiesMatchDeclarations(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, &fakeToolCallingModel{}, nil, Options{})
	for _, id := range contractx.AllWorkers() {
		w, err := reg.Worker(id)
		if err != nil {
			t.Fatalf("Worker(%s) error = %v", id, err)
		}
		v, _ := variantFor(id)
		caps := w.Capabilities()
		if len(caps.Tools) != len(v.tools) {
			t.Fatalf("%s tools = %v, want %v", id, caps.Tools, v.tools)
		}
		if len(caps.Guardrails) != 2 {
			t.Fatalf("%s guardrails = %v", id, caps.Guardrails)
		}
	}
	if _, err := reg.Worker(contractx.WorkerID("pilot")); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}
