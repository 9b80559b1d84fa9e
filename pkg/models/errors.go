package models

import "errors"

// Error classes raised by topic data access.
var (
	// ErrNotFound indicates a topic, message path or timestamp field is absent.
	ErrNotFound = errors.New("not found")

	// ErrUnsupported indicates a query the engine cannot serve, e.g. mixed
	// storage formats or columnar data split across files.
	ErrUnsupported = errors.New("unsupported")

	// ErrMalformed indicates data or metadata that cannot be interpreted.
	ErrMalformed = errors.New("malformed")

	// ErrTransient indicates an isolated I/O failure, e.g. one download.
	ErrTransient = errors.New("transient failure")

	// ErrInvalidArgument indicates a bad caller argument.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Classify returns the class name of err for logging.
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnsupported):
		return "unsupported"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	case errors.Is(err, ErrTransient):
		return "transient"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	default:
		return "unknown"
	}
}
