package contract

import (
	"errors"
	"fmt"
)

var (
	ErrModelInvoke        = errors.New("model invoke failed")
	ErrSchemaViolation    = errors.New("structured payload violates schema")
	ErrPromptMissing      = errors.New("required prompt is missing")
	ErrValidation         = errors.New("validation failed")
	ErrToolExecution      = errors.New("tool execution failed")
	ErrToolNotAllowed     = errors.New("tool is not allowed for worker")
	ErrUnknownTool        = errors.New("unknown tool")
	ErrInvalidHandoffEdge = errors.New("handoff edge is not declared")
	ErrTimeout            = errors.New("operation timed out")
)

// Direction tells which side of a tool contract was violated.
type Direction string

const (
	DirectionRequest  Direction = "request"
	DirectionResponse Direction = "response"
)

// SchemaViolationError names the field that failed validation.
type SchemaViolationError struct {
	Tool      string
	Direction Direction
	Field     string
	Reason    string
}

func (e *SchemaViolationError) Error() string {
	field := e.Field
	if field == "" {
		field = "<root>"
	}
	return fmt.Sprintf("%s: tool=%s %s field=%s: %s", ErrSchemaViolation, e.Tool, e.Direction, field, e.Reason)
}

func (e *SchemaViolationError) Unwrap() error {
	return ErrSchemaViolation
}

// Tool failure codes.
const (
	CodeValidation = "VALIDATION_ERROR"
	CodeExecution  = "EXECUTION_ERROR"
	CodeTimeout    = "TIMEOUT"
	CodeCommit     = "COMMIT_ERROR"
)

// ToolExecutionError is the degraded outcome surfaced to a worker.
type ToolExecutionError struct {
	Tool string
	Code string
	Err  error
}

func (e *ToolExecutionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: tool=%s code=%s", ErrToolExecution, e.Tool, e.Code)
	}
	return fmt.Sprintf("%s: tool=%s code=%s: %v", ErrToolExecution, e.Tool, e.Code, e.Err)
}

func (e *ToolExecutionError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrToolExecution}
	}
	return []error{ErrToolExecution, e.Err}
}

// IsDegradable reports whether err should become a degraded reply rather than an internal failure.
func IsDegradable(err error) bool {
	return errors.Is(err, ErrModelInvoke) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrToolExecution) ||
		errors.Is(err, ErrSchemaViolation)
}
