package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qstashx "github.com/tanpawarit/airline-handoff-router/pkg/qstash"
)

func newTestRecorder(existing []Event) *Recorder {
	r := NewRecorder("conv-1", existing)
	n := 0
	r.newID = func() string {
		n++
		return fmt.Sprintf("evt-%d", n)
	}
	r.now = func() time.Time { return time.Date(2024, 12, 9, 12, 0, 0, 0, time.UTC) }
	return r
}

func TestRecorderAssignsSequenceAndCopies(t *testing.T) {
	t.Parallel()

	r := newTestRecorder(nil)
	r.RecordGuardrail("t1", "triage", GuardrailEntry{Check: "jailbreak"})
	r.RecordHandoff("t1", HandoffEntry{From: "triage", To: "seat", Hydrated: []string{"flight_number"}})
	r.RecordReply("t1", "seat", ReplyEntry{Text: "hi"})

	entries := r.Entries()
	require.Len(t, entries, 3)
	for i, e := range entries {
		assert.Equal(t, i+1, e.Seq)
		assert.Equal(t, "conv-1", e.ConversationID)
	}
	assert.Equal(t, KindHandoff, entries[1].Kind)
	assert.Equal(t, "triage", entries[1].Worker)

	entries[1].Handoff.Hydrated[0] = "mutated"
	assert.Equal(t, "flight_number", r.Entries()[1].Handoff.Hydrated[0])
}

func TestRecorderResumesFromExistingEntries(t *testing.T) {
	t.Parallel()

	first := newTestRecorder(nil)
	first.RecordTool("t1", "faq", ToolEntry{Tool: "faq_lookup", OK: true, Attempts: 1})

	resumed := newTestRecorder(first.Entries())
	resumed.RecordReply("t2", "faq", ReplyEntry{Text: "ok"})

	assert.Equal(t, 2, resumed.Len())
	since := resumed.Since(1)
	require.Len(t, since, 1)
	assert.Equal(t, 2, since[0].Seq)
	assert.Equal(t, "t2", since[0].TurnID)
	assert.Nil(t, resumed.Since(5))
}

func TestRecorderContinuesAfterTrimmedLog(t *testing.T) {
	t.Parallel()

	first := newTestRecorder(nil)
	for i := 0; i < 5; i++ {
		first.RecordReply("t1", "faq", ReplyEntry{Text: "ok"})
	}
	tail := first.Entries()[3:]

	resumed := newTestRecorder(tail)
	ev := resumed.RecordReply("t2", "faq", ReplyEntry{Text: "next"})
	assert.Equal(t, 6, ev.Seq)
	assert.Equal(t, 3, resumed.Len())
}

func TestRecorderConcurrentAppendsKeepDenseSequence(t *testing.T) {
	t.Parallel()

	r := NewRecorder("conv-2", nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.RecordTool("t", "faq", ToolEntry{Tool: "faq_lookup"})
		}()
	}
	wg.Wait()

	for i, e := range r.Entries() {
		assert.Equal(t, i+1, e.Seq)
	}
}

func TestLogSinkWritesOneLinePerEvent(t *testing.T) {
	t.Parallel()

	var buf strings.Builder
	sink := NewLogSink(zerolog.New(&buf))
	r := newTestRecorder(nil)
	r.RecordGuardrail("t1", "triage", GuardrailEntry{Check: "relevance", Tripped: true})
	r.RecordTool("t1", "seat", ToolEntry{Tool: "update_seat", OK: true})

	require.NoError(t, sink.Publish(context.Background(), "conv-1", r.Entries()))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"check":"relevance"`)
	assert.Contains(t, lines[1], `"tool":"update_seat"`)
}

type fakePublisher struct {
	destination string
	body        []byte
	optCount    int
	err         error
}

func (f *fakePublisher) Publish(_ context.Context, destination string, body []byte, opts ...qstashx.PublishOption) (string, error) {
	f.destination = destination
	f.body = body
	f.optCount = len(opts)
	return "msg-1", f.err
}

func TestQStashSinkPublishesBatch(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{}
	sink := NewQStashSink(pub, "https://hooks.example.com/events")
	r := newTestRecorder(nil)
	r.RecordReply("t1", "triage", ReplyEntry{Text: "hello"})

	require.NoError(t, sink.Publish(context.Background(), "conv-1", r.Entries()))
	assert.Equal(t, "https://hooks.example.com/events", pub.destination)
	assert.Equal(t, 1, pub.optCount)

	var got batch
	require.NoError(t, json.Unmarshal(pub.body, &got))
	assert.Equal(t, "conv-1", got.ConversationID)
	require.Len(t, got.Events, 1)
	assert.Equal(t, "hello", got.Events[0].Reply.Text)

	pub.body = nil
	require.NoError(t, sink.Publish(context.Background(), "conv-1", nil))
	assert.Nil(t, pub.body)
}

func TestMultiSinkJoinsErrors(t *testing.T) {
	t.Parallel()

	failing := NewQStashSink(&fakePublisher{err: errors.New("boom")}, "dest")
	sink := MultiSink{NewLogSink(zerolog.Nop()), failing, nil}
	r := newTestRecorder(nil)
	r.RecordReply("t1", "triage", ReplyEntry{Text: "x"})

	err := sink.Publish(context.Background(), "conv-1", r.Entries())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}
