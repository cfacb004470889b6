package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	contractx "github.com/tanpawarit/airline-handoff-router/agent/contract"
)

func TestLoadPromptSetCoversEveryWorker(t *testing.T) {
	t.Parallel()

	set := LoadPromptSet()
	for _, w := range contractx.AllWorkers() {
		text, err := set.For(w)
		require.NoError(t, err, w)
		assert.NotEmpty(t, text)
	}

	_, err := set.For(contractx.WorkerID("pilot"))
	assert.ErrorIs(t, err, contractx.ErrPromptMissing)
}

// Prompts are rendered as FString templates, so a brace would be read as a
// placeholder.
func TestPromptsHaveNoTemplateBraces(t *testing.T) {
	t.Parallel()

	set := LoadPromptSet()
	all := []string{set.Finalize, set.Correct, set.Jailbreak, set.Relevance, set.Reflect, set.Summarize}
	for _, text := range set.Workers {
		all = append(all, text)
	}
	for _, text := range all {
		assert.NotEmpty(t, text)
		assert.False(t, strings.ContainsAny(text, "{}"), text)
	}
}
