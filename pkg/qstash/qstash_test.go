package qstash

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSendsHeadersAndReturnsMessageID(t *testing.T) {
	t.Parallel()

	var gotPath, gotAuth, gotDedup, gotRetries, gotDelay, gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotDedup = r.Header.Get("Upstash-Deduplication-Id")
		gotRetries = r.Header.Get("Upstash-Retries")
		gotDelay = r.Header.Get("Upstash-Delay")
		raw, _ := io.ReadAll(r.Body)
		gotBody = string(raw)
		fmt.Fprint(w, `{"messageId":"msg_123"}`)
	}))
	t.Cleanup(server.Close)

	client, err := NewClient(Config{URL: server.URL, Token: "tok", Retries: 2})
	require.NoError(t, err)
	client.WithHTTPClient(server.Client())

	id, err := client.Publish(context.Background(), "https://hooks.example.com/events", []byte(`{"a":1}`),
		WithDeduplicationID("evt-9"),
		WithDelay(5*time.Second),
	)
	require.NoError(t, err)
	assert.Equal(t, "msg_123", id)
	assert.Equal(t, "/v2/publish/https://hooks.example.com/events", gotPath)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "evt-9", gotDedup)
	assert.Equal(t, "2", gotRetries)
	assert.Equal(t, "5s", gotDelay)
	assert.Equal(t, `{"a":1}`, gotBody)
}

func TestPublishSurfacesHTTPErrors(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":"unauthorized"}`)
	}))
	t.Cleanup(server.Close)

	client, err := NewClient(Config{URL: server.URL, Token: "bad"})
	require.NoError(t, err)
	client.WithHTTPClient(server.Client())

	_, err = client.Publish(context.Background(), "https://hooks.example.com/events", []byte(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=401")
}

func TestNewClientRequiresToken(t *testing.T) {
	t.Parallel()

	_, err := NewClient(Config{URL: "https://qstash.upstash.io"})
	require.Error(t, err)
}
