package jacdac

import (
	"fmt"
)

// Status codes carried by control-layer errors. Bus-level conditions (collisions,
// rejections, silent peers) are ordinary protocol events, not errors; these codes
// cover misuse of the API and resource exhaustion.
const (
	// StatusInvalidState marks an operation attempted in the wrong lifecycle state.
	StatusInvalidState = 1
	// StatusInvalidParameter marks an argument that is outside its legal range.
	StatusInvalidParameter = 2
	// StatusNoResources marks registry overflow or a link that cannot queue a frame.
	StatusNoResources = 3
	// StatusProtocolFatal marks a broken structural invariant. It is never returned;
	// it is the code of the value a fatal protocol panic carries.
	StatusProtocolFatal = 4
)

// Error is a custom type for control-layer errors
type Error struct {
	msg  string
	code uint8
}

func (err *Error) Error() string {
	return err.msg
}

// Code is the status code identifying the kind of control-layer error
func (err *Error) Code() uint8 {
	return err.code
}

// InvalidStateErrorF represents an operation attempted in the wrong lifecycle state
func InvalidStateErrorF(format string, args ...interface{}) *Error {
	return &Error{fmt.Sprintf(format, args...), StatusInvalidState}
}

// InvalidParameterErrorF represents an argument outside its legal range
func InvalidParameterErrorF(format string, args ...interface{}) *Error {
	return &Error{fmt.Sprintf(format, args...), StatusInvalidParameter}
}

// NoResourcesErrorF represents registry or link resource exhaustion
func NoResourcesErrorF(format string, args ...interface{}) *Error {
	return &Error{fmt.Sprintf(format, args...), StatusNoResources}
}

// fatalf panics with a protocol-fatal error. A broken structural invariant (malformed
// emit, renumbering while enumerated) is a programming defect, not a bus condition,
// and is not recoverable.
func fatalf(format string, args ...interface{}) {
	panic(&Error{fmt.Sprintf(format, args...), StatusProtocolFatal})
}
