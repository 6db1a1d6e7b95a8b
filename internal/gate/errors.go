package gate

import "fmt"

// Names of the inputs a ParseError can refer to.
const (
	InputPolicy = "policy"
	InputEntity = "entity"
	InputAction = "action"
	InputChain  = "chain"
	InputState  = "state"
)

// ParseError reports a malformed input payload.
type ParseError struct {
	Input string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("gate: parse %s: %v", e.Input, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ValidationError reports a structural mismatch found before any
// processing started.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return "gate: validation: " + e.Msg
}

// SerializationError reports an output payload that could not be produced.
type SerializationError struct {
	Output string
	Err    error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("gate: serialize %s: %v", e.Output, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

func parseErr(input string, err error) error {
	return &ParseError{Input: input, Err: err}
}

func validationErr(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}
