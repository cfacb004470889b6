package specialist

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"

	contractx "github.com/tanpawarit/airline-handoff-router/agent/contract"
	statex "github.com/tanpawarit/airline-handoff-router/agent/state"
)

func TestReflectorAsksAgainWhenRemainingIsMissing(t *testing.T) {
	t.Parallel()

	model := &recordingModel{fakeToolCallingModel: fakeToolCallingModel{responses: []*schema.Message{
		textMessage(`{"satisfied":false}`),
		textMessage(`{"satisfied":false,"remaining_request":" What is my baggage allowance? "}`),
	}}}
	r, err := NewLLMReflector(context.Background(), model, "reflect prompt", Options{ModelAttempts: 1})
	if err != nil {
		t.Fatalf("NewLLMReflector() error = %v", err)
	}

	out, err := r.Reflect(context.Background(), "Check my flight and my baggage allowance", []contractx.ReflectionStep{
		{Worker: contractx.WorkerFlight, Reply: "PA441 is on time."},
	})
	if err != nil {
		t.Fatalf("Reflect() error = %v", err)
	}
	if out.Satisfied || out.Remaining != "What is my baggage allowance?" {
		t.Fatalf("unexpected reflection: %#v", out)
	}
	if len(model.inputs) != 2 {
		t.Fatalf("expected one corrected retry, got %d calls", len(model.inputs))
	}
	if strings.Contains(model.inputs[0], "correction") || !strings.Contains(model.inputs[1], "names no remaining request") {
		t.Fatalf("only the retry should carry the correction: %q", model.inputs)
	}
	if !strings.Contains(model.inputs[0], "PA441 is on time.") {
		t.Fatalf("reflection should see the answers so far: %q", model.inputs[0])
	}
}

func TestSummarizerFoldsEvictedExchanges(t *testing.T) {
	t.Parallel()

	model := &recordingModel{fakeToolCallingModel: fakeToolCallingModel{responses: []*schema.Message{
		textMessage(`{"summary":"  Customer asked about a lost bag; told to visit the baggage desk.  "}`),
	}}}
	s, err := NewLLMSummarizer(context.Background(), model, "summarize prompt", Options{ModelAttempts: 1})
	if err != nil {
		t.Fatalf("NewLLMSummarizer() error = %v", err)
	}

	evicted := []statex.Exchange{
		{Role: statex.RoleUser, Text: "Where is my bag?"},
		{Role: statex.RoleAssistant, Worker: "faq", Text: "Check the baggage desk."},
	}
	got, err := s.Fold(context.Background(), "Customer is flying IR-D204.", evicted)
	if err != nil {
		t.Fatalf("Fold() error = %v", err)
	}
	if got != "Customer asked about a lost bag; told to visit the baggage desk." {
		t.Fatalf("unexpected summary %q", got)
	}
	if !strings.Contains(model.inputs[0], "Customer is flying IR-D204.") || !strings.Contains(model.inputs[0], "Where is my bag?") {
		t.Fatalf("fold should send the current summary and the evicted messages: %q", model.inputs[0])
	}

	unchanged, err := s.Fold(context.Background(), "kept", nil)
	if err != nil || unchanged != "kept" {
		t.Fatalf("empty fold should keep the summary, got %q, %v", unchanged, err)
	}
	if len(model.inputs) != 1 {
		t.Fatalf("empty fold should not call the model")
	}
}

func TestSummarizerRejectsEmptySummary(t *testing.T) {
	t.Parallel()

	model := &fakeToolCallingModel{responses: []*schema.Message{
		textMessage(`{"summary":""}`),
		textMessage(`{"summary":"  "}`),
	}}
	s, err := NewLLMSummarizer(context.Background(), model, "summarize prompt", Options{ModelAttempts: 3})
	if err != nil {
		t.Fatalf("NewLLMSummarizer() error = %v", err)
	}

	_, err = s.Fold(context.Background(), "", []statex.Exchange{{Role: statex.RoleUser, Text: "hi"}})
	if !errors.Is(err, contractx.ErrSchemaViolation) {
		t.Fatalf("expected ErrSchemaViolation, got %v", err)
	}
	if model.idx != 2 {
		t.Fatalf("schema violations get exactly one retry, got %d calls", model.idx)
	}
}
