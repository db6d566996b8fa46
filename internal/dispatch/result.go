package dispatch

import "fmt"

// Disposition is the three-way outcome of a dispatched command.
type Disposition int

const (
	DispositionSuccess Disposition = iota
	DispositionFailure
	DispositionNotImplemented
)

// String returns the disposition name used in logs.
func (d Disposition) String() string {
	switch d {
	case DispositionSuccess:
		return "success"
	case DispositionFailure:
		return "failure"
	case DispositionNotImplemented:
		return "not_implemented"
	default:
		return fmt.Sprintf("disposition(%d)", int(d))
	}
}

// Failure codes surfaced to the host.
const (
	CodeUnavailable = "UNAVAILABLE"
	CodeError       = "ERROR"
)

// Result is the outcome of Dispatch. Value is set only for success; Code,
// Message and Details only for failure.
type Result struct {
	Disposition Disposition
	Value       any
	Code        string
	Message     string
	Details     any
}

// Success builds a successful result carrying v.
func Success(v any) Result {
	return Result{Disposition: DispositionSuccess, Value: v}
}

// Failure builds a failed result.
func Failure(code, message string, details any) Result {
	return Result{Disposition: DispositionFailure, Code: code, Message: message, Details: details}
}

// NotImplemented builds the result for a command with no handler.
func NotImplemented() Result {
	return Result{Disposition: DispositionNotImplemented}
}

// Error is a typed command failure. Handlers return it to choose the code
// reported to the host.
type Error struct {
	Code    string
	Message string
	Details any
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

// Unavailable reports that an external source could not supply a value.
func Unavailable(message string) *Error {
	return &Error{Code: CodeUnavailable, Message: message}
}

// Errorf builds an ERROR failure with a formatted message.
func Errorf(format string, args ...any) *Error {
	return &Error{Code: CodeError, Message: fmt.Sprintf(format, args...)}
}
