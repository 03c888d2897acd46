package errors

import (
	"errors"
	"fmt"
)

// Category classifies error types for targeted handling and monitoring.
type Category string

const (
	CategoryUnsupportedFormat  Category = "unsupported_format"
	CategoryUnsupportedEncoder Category = "unsupported_encoder"
	CategoryPlugin             Category = "plugin"
	CategoryProtocol           Category = "protocol"
	CategoryConfig             Category = "config"
	CategoryInput              Category = "input"
)

// ProcessingError is the structured error type used throughout the module.
type ProcessingError struct {
	Category Category
	Op       string // operation name
	Err      error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("[%s] %s: %v", e.Category, e.Op, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// New creates a ProcessingError.
func New(category Category, op string, err error) *ProcessingError {
	return &ProcessingError{Category: category, Op: op, Err: err}
}

// Wrap wraps an existing error with context.
func Wrap(category Category, op string, err error) error {
	if err == nil {
		return nil
	}
	return New(category, op, err)
}

// Plugin reports err as raised by the plugin or stage named op.  Errors that
// already carry a category pass through unchanged so that a failure keeps
// the classification of the place it started.
func Plugin(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return err
	}
	return New(CategoryPlugin, op, err)
}

// Protocol creates a protocol violation error.
func Protocol(op string, format string, args ...any) error {
	return New(CategoryProtocol, op, fmt.Errorf("%w: %s", ErrProtocolViolation, fmt.Sprintf(format, args...)))
}

// IsCategory reports whether err belongs to the given category.
func IsCategory(err error, cat Category) bool {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Category == cat
	}
	return false
}

// CategoryOf returns the category of err, or "" for uncategorized errors.
func CategoryOf(err error) Category {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Category
	}
	return ""
}

// Sentinel errors for common failure modes.
var (
	ErrUnsupportedFormat  = errors.New("unsupported image format")
	ErrUnsupportedEncoder = errors.New("unsupported image encoder")
	ErrProtocolViolation  = errors.New("pixel stream protocol violation")
	ErrSessionClosed      = errors.New("session closed")
	ErrEmptyInput         = errors.New("empty input")
	ErrInvalidDimensions  = errors.New("invalid dimensions")
	ErrCorrupt            = errors.New("corrupt stream")
)
