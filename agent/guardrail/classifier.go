package guardrail

import (
	"context"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	contractx "github.com/tanpawarit/airline-handoff-router/agent/contract"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderRules     = "rules"
)

type Verdict struct {
	Tripped bool
	Reason  string
}

type Classifier interface {
	Classify(ctx context.Context, check Check, message string) (Verdict, error)
}

type ClassifierFunc func(ctx context.Context, check Check, message string) (Verdict, error)

func (f ClassifierFunc) Classify(ctx context.Context, check Check, message string) (Verdict, error) {
	return f(ctx, check, message)
}

// verdictSchema is the JSON schema model-backed classifiers must answer with.
var verdictSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"reasoning": map[string]any{
			"type":        "string",
			"description": "One short sentence explaining the decision.",
		},
		"passed": map[string]any{
			"type":        "boolean",
			"description": "True when the message is acceptable for this check.",
		},
	},
	"required":             []string{"reasoning", "passed"},
	"additionalProperties": false,
}

const verdictFormatHint = "Respond with only a JSON object of the form " +
	`{"reasoning": string, "passed": boolean}` +
	" where passed is true when the message is acceptable for this check."

// parseVerdict reads a classifier answer. Models sometimes wrap the object in
// prose or code fences, so the outermost object is extracted first.
func parseVerdict(check, raw string) (Verdict, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end < start {
		return Verdict{}, fmt.Errorf("%w: guardrail=%s: no JSON object in classifier answer", contractx.ErrSchemaViolation, check)
	}
	obj := raw[start : end+1]
	if !gjson.Valid(obj) {
		return Verdict{}, fmt.Errorf("%w: guardrail=%s: invalid JSON in classifier answer", contractx.ErrSchemaViolation, check)
	}

	passed := gjson.Get(obj, "passed")
	if passed.Type != gjson.True && passed.Type != gjson.False {
		return Verdict{}, fmt.Errorf("%w: guardrail=%s: field=passed must be a boolean", contractx.ErrSchemaViolation, check)
	}
	return Verdict{
		Tripped: !passed.Bool(),
		Reason:  strings.TrimSpace(gjson.Get(obj, "reasoning").String()),
	}, nil
}
