package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestUpstashRedisStoreRedisKey(t *testing.T) {
	t.Parallel()

	store := &UpstashRedisStore{}
	got, err := store.redisKey("abc")
	if err != nil {
		t.Fatalf("redisKey() error = %v", err)
	}
	if got != "conv:abc:router:session" {
		t.Fatalf("redisKey() = %q, want %q", got, "conv:abc:router:session")
	}
}

func TestUpstashRedisStoreRedisKeyCustomAffixes(t *testing.T) {
	t.Parallel()

	store, err := NewUpstashRedisStore(
		UpstashRedisConfig{URL: "https://redis.example.com", Token: "token"},
		WithKeyPrefix("test:"),
		WithKeySuffix(":snap"),
	)
	if err != nil {
		t.Fatalf("NewUpstashRedisStore() error = %v", err)
	}
	got, err := store.redisKey("c1")
	if err != nil {
		t.Fatalf("redisKey() error = %v", err)
	}
	if got != "test:c1:snap" {
		t.Fatalf("redisKey() = %q, want %q", got, "test:c1:snap")
	}
}

func TestUpstashRedisStoreRedisKeyEmptyConversation(t *testing.T) {
	t.Parallel()

	store := &UpstashRedisStore{}
	_, err := store.redisKey("   ")
	if !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("redisKey() error = %v, want ErrInvalidSession", err)
	}
}

func TestUpstashRedisStoreSaveUsesConversationKeyAndTTL(t *testing.T) {
	t.Parallel()

	const wantKey = "conv:conv-1:router:session"
	var gotCommand []any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&gotCommand); err != nil {
			t.Errorf("decode command: %v", err)
		}
		fmt.Fprint(w, `{"result":1}`)
	}))
	t.Cleanup(server.Close)

	store, err := NewUpstashRedisStore(
		UpstashRedisConfig{
			URL:   server.URL,
			Token: "token",
		},
		WithHTTPClient(server.Client()),
		WithTTL(90*time.Second),
	)
	if err != nil {
		t.Fatalf("NewUpstashRedisStore() error = %v", err)
	}

	snap := NewSnapshot("conv-1", "triage", time.Now().UTC())
	snap.Version = 3
	if err := store.Save(context.Background(), snap); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if len(gotCommand) != 7 {
		t.Fatalf("unexpected command: %#v", gotCommand)
	}
	if gotCommand[0] != "EVAL" {
		t.Fatalf("command[0] = %v, want EVAL", gotCommand[0])
	}
	if gotCommand[2] != float64(1) || gotCommand[3] != wantKey {
		t.Fatalf("keys = %v %v, want 1 %s", gotCommand[2], gotCommand[3], wantKey)
	}
	payload, ok := gotCommand[4].(string)
	if !ok {
		t.Fatalf("command[4] = %T, want string payload", gotCommand[4])
	}
	var saved Snapshot
	if err := json.Unmarshal([]byte(payload), &saved); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if saved.ConversationID != "conv-1" || saved.Version != 3 {
		t.Fatalf("payload = %+v", saved)
	}
	if gotCommand[5] != float64(3) || gotCommand[6] != float64(90) {
		t.Fatalf("version/ttl args = %v %v, want 3 90", gotCommand[5], gotCommand[6])
	}
}

func TestUpstashRedisStoreSaveReportsVersionConflict(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"result":0}`)
	}))
	t.Cleanup(server.Close)

	store, err := NewUpstashRedisStore(
		UpstashRedisConfig{URL: server.URL, Token: "token"},
		WithHTTPClient(server.Client()),
	)
	if err != nil {
		t.Fatalf("NewUpstashRedisStore() error = %v", err)
	}

	err = store.Save(context.Background(), NewSnapshot("conv-4", "seat", time.Now()))
	if !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("Save() error = %v, want ErrVersionConflict", err)
	}
}

func TestUpstashRedisStoreSaveRejectsInvalidSnapshot(t *testing.T) {
	t.Parallel()

	store, err := NewUpstashRedisStore(UpstashRedisConfig{URL: "https://redis.example.com", Token: "token"})
	if err != nil {
		t.Fatalf("NewUpstashRedisStore() error = %v", err)
	}
	if err := store.Save(context.Background(), nil); !errors.Is(err, ErrNilSessionState) {
		t.Fatalf("Save(nil) error = %v, want ErrNilSessionState", err)
	}
	snap := NewSnapshot("conv-x", "", time.Now())
	if err := store.Save(context.Background(), snap); !errors.Is(err, ErrInvalidSnapshot) {
		t.Fatalf("Save() error = %v, want ErrInvalidSnapshot", err)
	}
}

func TestUpstashRedisStoreLoadRoundTripsSnapshot(t *testing.T) {
	t.Parallel()

	const wantKey = "conv:conv-2:router:session"
	var gotCommand []any

	seed := NewSnapshot("conv-2", "booking", time.Now().UTC())
	seed.Context.ConfirmationNumber = "LL0EZ6"
	payload, err := json.Marshal(seed)
	if err != nil {
		t.Fatalf("marshal seed: %v", err)
	}
	encoded, err := json.Marshal(string(payload))
	if err != nil {
		t.Fatalf("marshal encoded seed: %v", err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&gotCommand); err != nil {
			t.Errorf("decode command: %v", err)
		}
		fmt.Fprintf(w, `{"result":%s}`, encoded)
	}))
	t.Cleanup(server.Close)

	store, err := NewUpstashRedisStore(
		UpstashRedisConfig{
			URL:   server.URL,
			Token: "token",
		},
		WithHTTPClient(server.Client()),
	)
	if err != nil {
		t.Fatalf("NewUpstashRedisStore() error = %v", err)
	}

	snap, err := store.Load(context.Background(), "conv-2")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if snap.ActiveWorker != "booking" {
		t.Fatalf("Load().ActiveWorker = %q, want %q", snap.ActiveWorker, "booking")
	}
	if snap.Context.ConfirmationNumber != "LL0EZ6" {
		t.Fatalf("Load().Context.ConfirmationNumber = %q", snap.Context.ConfirmationNumber)
	}

	if len(gotCommand) < 2 {
		t.Fatalf("unexpected command: %#v", gotCommand)
	}
	if gotCommand[0] != "GET" {
		t.Fatalf("command[0] = %v, want GET", gotCommand[0])
	}
	if gotCommand[1] != wantKey {
		t.Fatalf("command[1] = %v, want %s", gotCommand[1], wantKey)
	}
}

func TestUpstashRedisStoreLoadMissingKey(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"result":null}`)
	}))
	t.Cleanup(server.Close)

	store, err := NewUpstashRedisStore(
		UpstashRedisConfig{URL: server.URL, Token: "token"},
		WithHTTPClient(server.Client()),
	)
	if err != nil {
		t.Fatalf("NewUpstashRedisStore() error = %v", err)
	}
	if _, err := store.Load(context.Background(), "nobody"); !errors.Is(err, ErrStateNotFound) {
		t.Fatalf("Load() error = %v, want ErrStateNotFound", err)
	}
}

func TestUpstashRedisStoreDeleteUsesConversationKey(t *testing.T) {
	t.Parallel()

	const wantKey = "conv:conv-3:router:session"
	var gotCommand []any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&gotCommand); err != nil {
			t.Errorf("decode command: %v", err)
		}
		fmt.Fprint(w, `{"result":1}`)
	}))
	t.Cleanup(server.Close)

	store, err := NewUpstashRedisStore(
		UpstashRedisConfig{
			URL:   server.URL,
			Token: "token",
		},
		WithHTTPClient(server.Client()),
	)
	if err != nil {
		t.Fatalf("NewUpstashRedisStore() error = %v", err)
	}

	if err := store.Delete(context.Background(), "conv-3"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	if len(gotCommand) < 2 {
		t.Fatalf("unexpected command: %#v", gotCommand)
	}
	if gotCommand[0] != "DEL" {
		t.Fatalf("command[0] = %v, want DEL", gotCommand[0])
	}
	if gotCommand[1] != wantKey {
		t.Fatalf("command[1] = %v, want %s", gotCommand[1], wantKey)
	}
}
