package anthropic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientRequiresKey(t *testing.T) {
	t.Parallel()

	_, err := NewClient(Config{APIKey: "  "})
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	client, err := NewClient(Config{APIKey: "k", BaseURL: "http://localhost:9/", MaxRetries: 0})
	require.NoError(t, err)
	assert.NotNil(t, client)
}
