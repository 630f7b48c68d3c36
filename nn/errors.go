package nn

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// ErrorCategory groups errors by how the caller should react to them
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"  // bad construction parameters, fatal
	CategoryShape         ErrorCategory = "shape-mismatch" // bad forward input, fatal for the call
	CategoryBackend       ErrorCategory = "backend"        // accelerator failure
	CategoryGeneric       ErrorCategory = "generic"
)

var (
	// ErrConfiguration is matched by every construction-time validation failure.
	ErrConfiguration = errors.New("invalid configuration")
	// ErrShapeMismatch is matched by every forward-pass input whose
	// dimensions do not satisfy a stage's precondition.
	ErrShapeMismatch = errors.New("shape mismatch")
	// ErrBackend is matched by failures of a Conv2DBackend.
	ErrBackend = errors.New("backend failure")
)

// Error wraps an error with the operation that raised it and optional context
type Error struct {
	Err      error
	Op       string
	Category ErrorCategory
	Context  map[string]any
}

func (e *Error) Error() string {
	var sb strings.Builder
	if e.Op != "" {
		sb.WriteString(e.Op)
		sb.WriteString(": ")
	}
	sb.WriteString(e.Err.Error())
	if len(e.Context) > 0 {
		sb.WriteString(" [")
		for i, k := range slices.Sorted(maps.Keys(e.Context)) {
			if i > 0 {
				sb.WriteByte(' ')
			}
			fmt.Fprintf(&sb, "%s=%v", k, e.Context[k])
		}
		sb.WriteByte(']')
	}
	return sb.String()
}

func (e *Error) Unwrap() error { return e.Err }

// ErrorBuilder provides a fluent interface for creating errors
type ErrorBuilder struct {
	err      error
	op       string
	category ErrorCategory
	context  map[string]any
}

// NewError starts building an error around err
func NewError(err error) *ErrorBuilder {
	return &ErrorBuilder{err: err}
}

// Op sets the operation (layer or stage name) that failed
func (eb *ErrorBuilder) Op(op string) *ErrorBuilder {
	eb.op = op
	return eb
}

// Category overrides the category detected from the wrapped error
func (eb *ErrorBuilder) Category(category ErrorCategory) *ErrorBuilder {
	eb.category = category
	return eb
}

// Context adds a key/value pair rendered after the message
func (eb *ErrorBuilder) Context(key string, value any) *ErrorBuilder {
	if eb.context == nil {
		eb.context = make(map[string]any)
	}
	eb.context[key] = value
	return eb
}

// Build creates the Error
func (eb *ErrorBuilder) Build() *Error {
	category := eb.category
	if category == "" {
		category = detectCategory(eb.err)
	}
	return &Error{Err: eb.err, Op: eb.op, Category: category, Context: eb.context}
}

func detectCategory(err error) ErrorCategory {
	switch {
	case errors.Is(err, ErrConfiguration):
		return CategoryConfiguration
	case errors.Is(err, ErrShapeMismatch):
		return CategoryShape
	case errors.Is(err, ErrBackend):
		return CategoryBackend
	default:
		return CategoryGeneric
	}
}

// CategoryOf returns the category of err, looking through wrapping
func CategoryOf(err error) ErrorCategory {
	var e *Error
	if errors.As(err, &e) {
		return e.Category
	}
	return detectCategory(err)
}

// ConfigError reports an invalid construction parameter
func ConfigError(op, format string, args ...any) error {
	return NewError(fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))).Op(op).Build()
}

// ShapeError reports a forward input that violates a stage's shape contract
func ShapeError(op, format string, args ...any) error {
	return NewError(fmt.Errorf("%w: %s", ErrShapeMismatch, fmt.Sprintf(format, args...))).Op(op).Build()
}

// WrapOp prefixes err with the name of an enclosing stage, keeping its category
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return NewError(err).Op(op).Build()
}
