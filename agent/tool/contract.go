package tool

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/getkin/kin-openapi/openapi3"
	"github.com/mitchellh/mapstructure"

	contractx "github.com/tanpawarit/airline-handoff-router/agent/contract"
)

// Contract is the request and response shape of one tool.
type Contract struct {
	Name        string
	Description string
	// Capability names the tool to customers when it is unavailable.
	Capability string
	Mutating   bool
	Request    *openapi3.Schema
	Response   *openapi3.Schema
}

// Info exposes the request schema to a tool-calling model.
func (c Contract) Info() *schema.ToolInfo {
	return &schema.ToolInfo{
		Name:        c.Name,
		Desc:        c.Description,
		ParamsOneOf: schema.NewParamsOneOfByOpenAPIV3(c.Request),
	}
}

// ValidateRequest parses raw arguments and checks them against the request
// schema. Empty arguments are treated as an empty object.
func (c Contract) ValidateRequest(raw []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = []byte("{}")
	}
	value, err := c.validate(contractx.DirectionRequest, c.Request, raw)
	if err != nil {
		return nil, err
	}
	obj, ok := value.(map[string]any)
	if !ok {
		return nil, &contractx.SchemaViolationError{
			Tool:      c.Name,
			Direction: contractx.DirectionRequest,
			Reason:    "arguments must be a JSON object",
		}
	}
	return obj, nil
}

func (c Contract) ValidateResponse(raw []byte) error {
	_, err := c.validate(contractx.DirectionResponse, c.Response, raw)
	return err
}

func (c Contract) validate(dir contractx.Direction, s *openapi3.Schema, raw []byte) (any, error) {
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, &contractx.SchemaViolationError{
			Tool:      c.Name,
			Direction: dir,
			Reason:    "invalid JSON: " + err.Error(),
		}
	}
	if s == nil {
		return value, nil
	}
	if err := s.VisitJSON(value); err != nil {
		return nil, violationFrom(c.Name, dir, err)
	}
	return value, nil
}

func violationFrom(tool string, dir contractx.Direction, err error) *contractx.SchemaViolationError {
	v := &contractx.SchemaViolationError{Tool: tool, Direction: dir, Reason: err.Error()}
	var se *openapi3.SchemaError
	if errors.As(err, &se) {
		v.Field = strings.Join(se.JSONPointer(), ".")
		if se.Reason != "" {
			v.Reason = se.Reason
		}
	}
	return v
}

// decodeInput maps validated arguments onto a typed request.
func decodeInput[T any](input map[string]any) (T, error) {
	var out T
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "json",
		Result:  &out,
	})
	if err != nil {
		return out, err
	}
	if err := dec.Decode(input); err != nil {
		return out, err
	}
	return out, nil
}

func objectSchema(required []string, props map[string]*openapi3.Schema) *openapi3.Schema {
	s := openapi3.NewObjectSchema()
	for name, prop := range props {
		s = s.WithProperty(name, prop)
	}
	if len(required) > 0 {
		s.Required = required
	}
	return s
}

func described(s *openapi3.Schema, desc string) *openapi3.Schema {
	s.Description = desc
	return s
}

func stringSchema(desc string) *openapi3.Schema {
	return described(openapi3.NewStringSchema().WithMinLength(1), desc)
}

func enumSchema(desc string, values ...string) *openapi3.Schema {
	enum := make([]any, 0, len(values))
	for _, v := range values {
		enum = append(enum, v)
	}
	return described(openapi3.NewStringSchema().WithEnum(enum...), desc)
}

func arrayOf(items *openapi3.Schema) *openapi3.Schema {
	return openapi3.NewArraySchema().WithItems(items)
}

const (
	flightNumberPattern = `^[A-Za-z]{2,3}-?[0-9]{1,4}$`
	seatNumberPattern   = `^([1-9]|[12][0-9]|30)[A-F]$`
)

func confirmationSchema() *openapi3.Schema {
	return described(openapi3.NewStringSchema().WithMinLength(5).WithMaxLength(8), "Booking confirmation number")
}

func flightNumberSchema() *openapi3.Schema {
	return described(openapi3.NewStringSchema().WithPattern(flightNumberPattern), "Flight number such as PA441")
}

func seatNumberSchema() *openapi3.Schema {
	return described(openapi3.NewStringSchema().WithPattern(seatNumberPattern), "Seat such as 14C, rows 1-30 and letters A-F")
}
