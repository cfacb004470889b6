package tool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	contractx "github.com/tanpawarit/airline-handoff-router/agent/contract"
	eventx "github.com/tanpawarit/airline-handoff-router/agent/events"
	itineraryx "github.com/tanpawarit/airline-handoff-router/agent/itinerary"
	statex "github.com/tanpawarit/airline-handoff-router/agent/state"
)

type correctorFunc func(ctx context.Context, call contractx.ToolCall, v *contractx.SchemaViolationError) (contractx.ToolCall, error)

func (f correctorFunc) CorrectToolInput(ctx context.Context, call contractx.ToolCall, v *contractx.SchemaViolationError) (contractx.ToolCall, error) {
	return f(ctx, call, v)
}

type failingStore struct {
	*itineraryx.MemoryStore
}

func (failingStore) SaveItinerary(context.Context, *itineraryx.Itinerary) error {
	return errors.New("write refused")
}

func testOptions() Options {
	return Options{NewID: func() string { return "123456789abc" }}
}

func bindDemo(t *testing.T, store itineraryx.Store, conv *statex.Conversation, allowed ...string) (*Binding, *eventx.Recorder) {
	t.Helper()
	rec := eventx.NewRecorder("conv-test", nil)
	inv := NewInvoker(DefaultCatalog(), store, testOptions())
	return inv.Bind(contractx.WorkerSeat, allowed, conv, rec, "turn-1"), rec
}

func bookedConversation(t *testing.T, store itineraryx.Store, confirmation string) *statex.Conversation {
	t.Helper()
	it, err := store.ByConfirmation(context.Background(), confirmation)
	require.NoError(t, err)
	conv := &statex.Conversation{}
	conv.FillFromItinerary(it)
	return conv
}

func TestInvokeRetriesOnceWithCorrectedInput(t *testing.T) {
	t.Parallel()

	store := itineraryx.NewDemoStore()
	conv := bookedConversation(t, store, "LL0EZ6")
	binding, rec := bindDemo(t, store, conv, ToolUpdateSeat)

	var seen *contractx.SchemaViolationError
	corrector := correctorFunc(func(_ context.Context, call contractx.ToolCall, v *contractx.SchemaViolationError) (contractx.ToolCall, error) {
		seen = v
		call.Arguments = `{"confirmation_number":"LL0EZ6","seat_number":"12F"}`
		return call, nil
	})

	outcome := binding.Invoke(context.Background(), contractx.ToolCall{
		Name:      ToolUpdateSeat,
		Arguments: `{"confirmation_number":"LL0EZ6","seat_number":"99Z"}`,
	}, corrector)

	require.NoError(t, outcome.Err)
	assert.Equal(t, 2, outcome.Attempts)
	require.NotNil(t, seen)
	assert.Equal(t, contractx.DirectionRequest, seen.Direction)
	assert.Contains(t, seen.Field+" "+seen.Reason, "seat_number")
	assert.Equal(t, "12F", conv.SeatNumber)
	assert.Contains(t, string(outcome.Request.Payload()), "12F")

	entries := rec.Entries()
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Tool.OK)
	assert.Equal(t, 2, entries[0].Tool.Attempts)
}

func TestInvokeSecondRequestViolationBecomesToolFailure(t *testing.T) {
	t.Parallel()

	store := itineraryx.NewDemoStore()
	conv := bookedConversation(t, store, "LL0EZ6")
	before := conv.Clone()
	binding, rec := bindDemo(t, store, conv, ToolUpdateSeat)

	calls := 0
	corrector := correctorFunc(func(_ context.Context, call contractx.ToolCall, _ *contractx.SchemaViolationError) (contractx.ToolCall, error) {
		calls++
		return call, nil
	})

	outcome := binding.Invoke(context.Background(), contractx.ToolCall{
		Name:      ToolUpdateSeat,
		Arguments: `{"confirmation_number":"LL0EZ6"}`,
	}, corrector)

	require.Error(t, outcome.Err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 2, outcome.Attempts)
	assert.True(t, errors.Is(outcome.Err, contractx.ErrToolExecution))
	assert.True(t, errors.Is(outcome.Err, contractx.ErrSchemaViolation))
	assert.Equal(t, before, conv)

	var te *contractx.ToolExecutionError
	require.True(t, errors.As(outcome.Err, &te))
	assert.Equal(t, contractx.CodeValidation, te.Code)
	assert.Equal(t, contractx.CodeValidation, rec.Entries()[0].Tool.Code)
}

func TestInvokeResponseViolationNeverMutatesContext(t *testing.T) {
	t.Parallel()

	broken := Definition{
		Contract: Contract{
			Name:     "broken_tool",
			Mutating: true,
			Request:  openapi3.NewObjectSchema(),
			Response: objectSchema([]string{"seat_number"}, map[string]*openapi3.Schema{
				"seat_number": seatNumberSchema(),
			}),
		},
		Handler: func(_ context.Context, env *Env, _ map[string]any) (any, error) {
			env.Conversation.SeatNumber = "1C"
			env.Conversation.AddNote("should not persist")
			return map[string]any{"seat_number": 42}, nil
		},
	}
	catalog, err := NewCatalog(broken)
	require.NoError(t, err)

	conv := &statex.Conversation{ConfirmationNumber: "LL0EZ6", FlightNumber: "FLT-123", SeatNumber: "23A"}
	before := conv.Clone()
	inv := NewInvoker(catalog, itineraryx.NewDemoStore(), testOptions())
	binding := inv.Bind(contractx.WorkerSeat, []string{"broken_tool"}, conv, nil, "turn-1")

	calls := 0
	outcome := binding.Invoke(context.Background(), contractx.ToolCall{Name: "broken_tool", Arguments: `{}`},
		correctorFunc(func(_ context.Context, call contractx.ToolCall, _ *contractx.SchemaViolationError) (contractx.ToolCall, error) {
			calls++
			return call, nil
		}))

	require.Error(t, outcome.Err)
	assert.Equal(t, 0, calls)
	var v *contractx.SchemaViolationError
	require.True(t, errors.As(outcome.Err, &v))
	assert.Equal(t, contractx.DirectionResponse, v.Direction)
	assert.Equal(t, before, conv)
	assert.True(t, outcome.Response.IsZero())
}

func TestInvokeStagedWriteFailureDiscardsWorkingCopy(t *testing.T) {
	t.Parallel()

	store := failingStore{itineraryx.NewDemoStore()}
	conv := bookedConversation(t, store, "LL0EZ6")
	before := conv.Clone()
	binding, _ := bindDemo(t, store, conv, ToolUpdateSeat)

	outcome := binding.Invoke(context.Background(), contractx.ToolCall{
		Name:      ToolUpdateSeat,
		Arguments: `{"confirmation_number":"LL0EZ6","seat_number":"12F"}`,
	}, nil)

	var te *contractx.ToolExecutionError
	require.True(t, errors.As(outcome.Err, &te))
	assert.Equal(t, contractx.CodeCommit, te.Code)
	assert.Equal(t, before, conv)
}

func TestInvokeTimeoutIsReportedAsToolFailure(t *testing.T) {
	t.Parallel()

	slow := Definition{
		Contract: Contract{
			Name:     "slow_tool",
			Request:  openapi3.NewObjectSchema(),
			Response: openapi3.NewObjectSchema(),
		},
		Handler: func(ctx context.Context, _ *Env, _ map[string]any) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	catalog, err := NewCatalog(slow)
	require.NoError(t, err)

	opts := testOptions()
	opts.Timeout = 10 * time.Millisecond
	inv := NewInvoker(catalog, itineraryx.NewDemoStore(), opts)
	binding := inv.Bind(contractx.WorkerFlight, []string{"slow_tool"}, &statex.Conversation{}, nil, "turn-1")

	outcome := binding.Invoke(context.Background(), contractx.ToolCall{Name: "slow_tool"}, nil)
	assert.True(t, errors.Is(outcome.Err, contractx.ErrTimeout))
	assert.True(t, contractx.IsDegradable(outcome.Err))
}

func TestInvokeRejectsToolOutsideAllowlist(t *testing.T) {
	t.Parallel()

	store := itineraryx.NewDemoStore()
	binding, _ := bindDemo(t, store, &statex.Conversation{}, ToolDisplaySeatMap)

	outcome := binding.Invoke(context.Background(), contractx.ToolCall{
		Name:      ToolCancelFlight,
		Arguments: `{"confirmation_number":"LL0EZ6","flight_number":"FLT-123","confirmed":true}`,
	}, nil)
	assert.True(t, errors.Is(outcome.Err, contractx.ErrToolNotAllowed))
	assert.True(t, binding.IsMutating(ToolCancelFlight))
	assert.False(t, binding.IsMutating(ToolDisplaySeatMap))
}

func TestRedactInputMasksIdentifiersAndFreeText(t *testing.T) {
	t.Parallel()

	got := RedactInput([]byte(`{"confirmation_number":"LL0EZ6","request":"I use a wheelchair","seat_number":"1A"}`))
	assert.Contains(t, got, `"confirmation_number":"****Z6"`)
	assert.Contains(t, got, `"request":"[redacted]"`)
	assert.Contains(t, got, `"seat_number":"1A"`)
	assert.Equal(t, "[redacted]", RedactInput([]byte("not json")))
	assert.Equal(t, "{}", RedactInput(nil))
}
