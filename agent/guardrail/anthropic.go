package guardrail

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"

	contractx "github.com/tanpawarit/airline-handoff-router/agent/contract"
)

const defaultAnthropicMaxTokens = 256

// AnthropicClassifier asks the Anthropic Messages API for a verdict.
type AnthropicClassifier struct {
	client    *anthropic.Client
	model     string
	maxTokens int64
}

func NewAnthropicClassifier(client *anthropic.Client, model string, maxTokens int64) (*AnthropicClassifier, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: anthropic client is required", contractx.ErrValidation)
	}
	model = strings.TrimSpace(model)
	if model == "" {
		return nil, fmt.Errorf("%w: guardrail model is required", contractx.ErrValidation)
	}
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	return &AnthropicClassifier{client: client, model: model, maxTokens: maxTokens}, nil
}

func (c *AnthropicClassifier) Classify(ctx context.Context, check Check, message string) (Verdict, error) {
	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   c.maxTokens,
		Temperature: anthropic.Float(0),
		System: []anthropic.TextBlockParam{
			{Text: check.Instruction + "\n\n" + verdictFormatHint},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(message)),
		},
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("%w: guardrail=%s: %w", contractx.ErrModelInvoke, check.Name, err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.AsText().Text)
		}
	}
	if text.Len() == 0 {
		return Verdict{}, fmt.Errorf("%w: guardrail=%s: empty answer", contractx.ErrModelInvoke, check.Name)
	}
	return parseVerdict(check.Name, text.String())
}
