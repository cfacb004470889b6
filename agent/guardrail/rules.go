package guardrail

import (
	"context"
	"fmt"
	"regexp"
)

// DefaultRules are the offline patterns per check. A match trips the check.
func DefaultRules() map[string][]string {
	return map[string][]string{
		CheckJailbreak: {
			`(?i)\b(ignore|disregard|forget|override)\b.{0,40}\b(instructions?|rules|prompt|guidelines)\b`,
			`(?i)\b(system|hidden|developer)\s+(prompt|instructions?|message)\b`,
			`(?i)\b(reveal|show|print|repeat|leak)\b.{0,20}\b(your|system|hidden|initial|original)\s+(instructions?|prompt|configuration)\b`,
			`(?i)\byou are (now|no longer)\b`,
			`(?i)\b(jailbreak|dan mode|developer mode|do anything now)\b`,
			`(?i)\bpretend (to be|you are)\b`,
			`(?i)(;\s*drop\s+table|union\s+select|<script\b)`,
		},
		CheckRelevance: {
			`(?i)\b(write|compose|create|generate|tell)\b.{0,20}\b(poem|poetry|haiku|song|lyrics|story|essay|joke|limerick)\b`,
			`(?i)\b(poem|haiku|limerick|sonnet)\b`,
			`(?i)\b(recipe|homework|stock price|crypto|bitcoin|horoscope)\b`,
			`(?i)\b(solve|calculate)\b.{0,20}\b(equation|integral|derivative)\b`,
			`(?i)\b(write|debug|fix)\b.{0,20}\b(code|function|program|script)\b`,
		},
	}
}

// RuleClassifier is an offline classifier over regular expressions.
type RuleClassifier struct {
	rules map[string][]*regexp.Regexp
}

func NewRuleClassifier(rules map[string][]string) (*RuleClassifier, error) {
	compiled := make(map[string][]*regexp.Regexp, len(rules))
	for check, patterns := range rules {
		for _, p := range patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("compile %s rule %q: %w", check, p, err)
			}
			compiled[check] = append(compiled[check], re)
		}
	}
	return &RuleClassifier{rules: compiled}, nil
}

func (c *RuleClassifier) Classify(ctx context.Context, check Check, message string) (Verdict, error) {
	if err := ctx.Err(); err != nil {
		return Verdict{}, err
	}
	for _, re := range c.rules[check.Name] {
		if loc := re.FindStringIndex(message); loc != nil {
			return Verdict{
				Tripped: true,
				Reason:  fmt.Sprintf("matched %q", message[loc[0]:loc[1]]),
			}, nil
		}
	}
	return Verdict{Reason: "no rule matched"}, nil
}
