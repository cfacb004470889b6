package tool

import (
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const redactedText = "[redacted]"

// Identifiers keep their last two characters so support staff can correlate.
var maskedFields = []string{"confirmation_number"}

// Free text may carry medical or personal detail.
var droppedFields = []string{"passenger_name", "request", "question", "reason"}

// RedactInput renders tool arguments for the event log.
func RedactInput(raw []byte) string {
	if len(raw) == 0 {
		return "{}"
	}
	if !gjson.ValidBytes(raw) {
		return redactedText
	}
	out := raw
	for _, path := range maskedFields {
		v := gjson.GetBytes(out, path)
		if !v.Exists() {
			continue
		}
		if next, err := sjson.SetBytes(out, path, mask(v.String())); err == nil {
			out = next
		}
	}
	for _, path := range droppedFields {
		if !gjson.GetBytes(out, path).Exists() {
			continue
		}
		if next, err := sjson.SetBytes(out, path, redactedText); err == nil {
			out = next
		}
	}
	return string(out)
}

func mask(value string) string {
	if len(value) <= 2 {
		return strings.Repeat("*", len(value))
	}
	return strings.Repeat("*", len(value)-2) + value[len(value)-2:]
}
