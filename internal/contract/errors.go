package contract

import "fmt"

// EncodeError means arguments could not be packed for the method, or the
// method is unknown or used with the wrong mutability. It indicates a binding
// bug rather than a chain condition.
type EncodeError struct {
	Method string
	Err    error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode %s: %v", e.Method, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

// DecodeError means returned bytes do not match the method's declared outputs.
type DecodeError struct {
	Method string
	Data   []byte
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s (%d bytes): %v", e.Method, len(e.Data), e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
