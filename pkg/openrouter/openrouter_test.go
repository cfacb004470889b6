package openrouter

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderTransportAddsAttribution(t *testing.T) {
	t.Parallel()

	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
	}))
	defer srv.Close()

	cfg := Config{SiteURL: " https://support.example ", SiteName: "Support Desk"}
	client := &http.Client{Transport: headerTransport{headers: cfg.headers(), next: http.DefaultTransport}}

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Equal(t, "https://support.example", got.Get("HTTP-Referer"))
	assert.Equal(t, "Support Desk", got.Get("X-Title"))
	assert.Empty(t, req.Header.Get("X-Title"))
}

func TestNewClientNeedsKey(t *testing.T) {
	t.Parallel()

	assert.Nil(t, NewClient(Config{APIKey: "  "}))
	assert.NotNil(t, NewClient(Config{APIKey: "k", BaseURL: "https://openrouter.ai/api/v1/"}))
	assert.Empty(t, Config{}.headers())
}
