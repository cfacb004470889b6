package state

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	eventx "github.com/tanpawarit/airline-handoff-router/agent/events"
	itineraryx "github.com/tanpawarit/airline-handoff-router/agent/itinerary"
)

func TestFillFromItineraryOnlyFillsEmptyFields(t *testing.T) {
	t.Parallel()

	it := itineraryx.DemoItineraries()[0]
	conv := &Conversation{SeatNumber: "9C"}

	filled := conv.FillFromItinerary(it)
	assert.ElementsMatch(t, []string{FieldItinerary, FieldConfirmationNumber, FieldFlightNumber, FieldPassengerName}, filled)
	assert.Equal(t, "IR-D204", conv.ConfirmationNumber)
	assert.Equal(t, "PA441", conv.FlightNumber)
	assert.Equal(t, "9C", conv.SeatNumber)

	again := conv.FillFromItinerary(it)
	assert.Empty(t, again)
}

func TestFillFromItineraryStoresACopy(t *testing.T) {
	t.Parallel()

	it := itineraryx.DemoItineraries()[1]
	conv := &Conversation{}
	conv.FillFromItinerary(it)

	it.Legs[0].Gate = "Z99"
	assert.Equal(t, "A10", conv.Itinerary.Legs[0].Gate)
}

func TestSetConfirmationIsWriteOnce(t *testing.T) {
	t.Parallel()

	conv := &Conversation{}
	require.NoError(t, conv.SetConfirmation(" ll0ez6 "))
	assert.Equal(t, "LL0EZ6", conv.ConfirmationNumber)
	require.NoError(t, conv.SetConfirmation("LL0EZ6"))

	err := conv.SetConfirmation("ABC123")
	assert.True(t, errors.Is(err, ErrConfirmationImmutable))

	conv.ResetBooking()
	require.NoError(t, conv.SetConfirmation("ABC123"))
}

func TestConversationCloneIsDeep(t *testing.T) {
	t.Parallel()

	conv := &Conversation{Notes: []string{"a"}}
	conv.FillFromItinerary(itineraryx.DemoItineraries()[0])
	cp := conv.Clone()
	cp.Notes[0] = "b"
	cp.Itinerary.Legs[0].Status = itineraryx.LegOnTime

	assert.Equal(t, "a", conv.Notes[0])
	assert.Equal(t, itineraryx.LegDelayed, conv.Itinerary.Legs[0].Status)
	assert.True(t, conv.HasDisruption(time.Hour))
	assert.Contains(t, conv.Summary(), "PA441 CDG-JFK")
}

func TestSnapshotValidate(t *testing.T) {
	t.Parallel()

	snap := NewSnapshot("c-1", "triage", time.Now())
	require.NoError(t, snap.Validate())

	snap.Version = 0
	assert.ErrorIs(t, snap.Validate(), ErrInvalidSnapshot)

	var missing *Snapshot
	assert.ErrorIs(t, missing.Validate(), ErrInvalidSnapshot)
}

func TestAppendExchangeKeepsRecentWindow(t *testing.T) {
	t.Parallel()

	snap := NewSnapshot("c-1", "triage", time.Now())
	snap.AppendExchange(RoleUser, "", "   ")
	assert.Empty(t, snap.Transcript)

	var evicted []Exchange
	for i := 0; i < MaxTranscript+3; i++ {
		evicted = append(evicted, snap.AppendExchange(RoleUser, "", fmt.Sprintf("message %d", i))...)
	}
	require.Len(t, snap.Transcript, MaxTranscript)
	require.Len(t, evicted, 3)
	assert.Equal(t, "message 0", evicted[0].Text)
	assert.Equal(t, "message 2", evicted[2].Text)
	assert.Equal(t, "message 3", snap.Transcript[0].Text)
	assert.Equal(t, fmt.Sprintf("message %d", MaxTranscript+2), snap.Transcript[MaxTranscript-1].Text)
}

func TestKeepEventsBoundsTheAuditLog(t *testing.T) {
	t.Parallel()

	log := make([]eventx.Event, MaxEvents+25)
	for i := range log {
		log[i] = eventx.Event{Seq: i + 1, Kind: eventx.KindReply}
	}

	snap := NewSnapshot("c-1", "triage", time.Now())
	snap.KeepEvents(log)
	require.Len(t, snap.Events, MaxEvents)
	assert.Equal(t, 26, snap.Events[0].Seq)
	assert.Equal(t, MaxEvents+25, snap.Events[MaxEvents-1].Seq)
	require.NoError(t, snap.Validate())

	snap.Events[5].Seq = 1
	assert.ErrorIs(t, snap.Validate(), ErrInvalidSnapshot)

	snap.Events = log
	assert.ErrorIs(t, snap.Validate(), ErrInvalidSnapshot)
}

func TestSetSummaryDropsOldestLines(t *testing.T) {
	t.Parallel()

	line := strings.Repeat("x", 99)
	var lines []string
	for i := 0; i < MaxSummary/100+5; i++ {
		lines = append(lines, fmt.Sprintf("%s%d", line[:98], i%10))
	}

	snap := NewSnapshot("c-1", "triage", time.Now())
	snap.SetSummary(strings.Join(lines, "\n"))
	assert.LessOrEqual(t, len(snap.Summary), MaxSummary)
	assert.True(t, strings.HasSuffix(snap.Summary, lines[len(lines)-1]))
	assert.False(t, strings.HasPrefix(snap.Summary, lines[0]+"\n"+lines[1]))

	snap.SetSummary(strings.Repeat("é", MaxSummary) + "a")
	assert.LessOrEqual(t, len(snap.Summary), MaxSummary)
	assert.True(t, utf8.ValidString(snap.Summary))

	snap.SetSummary("  short  ")
	assert.Equal(t, "short", snap.Summary)
}

func TestFoldLinesAppendsExchanges(t *testing.T) {
	t.Parallel()

	evicted := []Exchange{
		{Role: RoleUser, Text: "Where is my bag?"},
		{Role: RoleAssistant, Worker: "faq", Text: "Check the baggage desk."},
	}
	assert.Equal(t, "- user: Where is my bag?\n- assistant (faq): Check the baggage desk.", FoldLines("", evicted))
	assert.Equal(t, "earlier\n- user: Where is my bag?\n- assistant (faq): Check the baggage desk.", FoldLines(" earlier ", evicted))
	assert.Equal(t, "earlier", FoldLines("earlier", nil))
}

func TestMemoryStoreRoundTripAndIsolation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore(0)

	snap := NewSnapshot("c-2", "triage", time.Now())
	snap.Context.FlightNumber = "FLT-123"
	require.NoError(t, store.Save(ctx, snap))

	snap.Context.FlightNumber = "mutated"
	loaded, err := store.Load(ctx, "c-2")
	require.NoError(t, err)
	assert.Equal(t, "FLT-123", loaded.Context.FlightNumber)

	require.NoError(t, store.Delete(ctx, "c-2"))
	_, err = store.Load(ctx, "c-2")
	assert.ErrorIs(t, err, ErrStateNotFound)
}

func TestMemoryStoreExpiresEntries(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2024, 12, 9, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore(time.Minute)
	store.now = func() time.Time { return now }

	require.NoError(t, store.Save(ctx, NewSnapshot("c-3", "faq", now)))
	_, err := store.Load(ctx, "c-3")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = store.Load(ctx, "c-3")
	assert.ErrorIs(t, err, ErrStateNotFound)
	assert.Equal(t, 0, store.Len())
}

func TestMemoryStoreRejectsStaleVersion(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore(0)

	first := NewSnapshot("c-4", "triage", time.Now())
	require.NoError(t, store.Save(ctx, first))

	stale := NewSnapshot("c-4", "faq", time.Now())
	assert.ErrorIs(t, store.Save(ctx, stale), ErrVersionConflict)

	loaded, err := store.Load(ctx, "c-4")
	require.NoError(t, err)
	assert.Equal(t, "triage", loaded.ActiveWorker)

	loaded.Version++
	loaded.ActiveWorker = "seat"
	require.NoError(t, store.Save(ctx, loaded))

	again, err := store.Load(ctx, "c-4")
	require.NoError(t, err)
	assert.Equal(t, "seat", again.ActiveWorker)
	assert.Equal(t, 2, again.Version)
}
