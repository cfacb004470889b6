package guardrail

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/shared"

	contractx "github.com/tanpawarit/airline-handoff-router/agent/contract"
)

// OpenAIClassifier asks an OpenAI-compatible chat endpoint for a verdict
// constrained by a JSON schema response format.
type OpenAIClassifier struct {
	client *openai.Client
	model  string
}

func NewOpenAIClassifier(client *openai.Client, model string) (*OpenAIClassifier, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: openai client is required", contractx.ErrValidation)
	}
	model = strings.TrimSpace(model)
	if model == "" {
		return nil, fmt.Errorf("%w: guardrail model is required", contractx.ErrValidation)
	}
	return &OpenAIClassifier{client: client, model: model}, nil
}

func (c *OpenAIClassifier) Classify(ctx context.Context, check Check, message string) (Verdict, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(check.Instruction + "\n\n" + verdictFormatHint),
			openai.UserMessage(message),
		},
		Temperature: openai.Float(0),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "guardrail_verdict",
					Strict: openai.Bool(true),
					Schema: verdictSchema,
				},
			},
		},
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("%w: guardrail=%s: %w", contractx.ErrModelInvoke, check.Name, err)
	}
	if len(resp.Choices) == 0 {
		return Verdict{}, fmt.Errorf("%w: guardrail=%s: empty choices", contractx.ErrModelInvoke, check.Name)
	}
	return parseVerdict(check.Name, resp.Choices[0].Message.Content)
}
