// Package errors provides the error handling and warning system used across
// the proxy. It defines structured error types for the surrogate lifecycle
// and re-exports the cockroachdb/errors primitives so callers get stack
// traces and error chains for free.
package errors

import (
	"fmt"
	"log"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

// ===========================================================================
//
//	Global warning handling
//
// ===========================================================================

var (
	warningMutex   sync.Mutex
	warningHandler = func(w error) {
		log.Printf("leapnet-warning: %v\n", w)
	}
)

// SetWarningHandler replaces the process-wide warning handler. Use it to
// silence or redirect advisory warnings such as a missing mask attribute.
func SetWarningHandler(handler func(w error)) {
	warningMutex.Lock()
	defer warningMutex.Unlock()
	warningHandler = handler
}

// Warn emits a warning through the configured handler. Warnings are
// advisory and never alter control flow.
func Warn(w error) {
	warningMutex.Lock()
	defer warningMutex.Unlock()
	if warningHandler != nil {
		warningHandler(w)
	}
}

// ===========================================================================
//
//	Structured error types
//
// ===========================================================================

// NotInitializedError is returned when an operation requires attribute
// widths or statistics that have not been fixed yet. Call Init() with a
// bootstrap batch of observations first.
type NotInitializedError struct {
	Component string
	Method    string
}

func (e *NotInitializedError) Error() string {
	return fmt.Sprintf("leapnet: %s: not initialized yet. Call Init() before using %s()", e.Component, e.Method)
}

// MarshalZerologObject adds the structured error fields to a zerolog event.
func (e *NotInitializedError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("component", e.Component).
		Str("method", e.Method).
		Str("type", "NotInitializedError")
}

// NewNotInitializedError creates a NotInitializedError with a stack trace.
func NewNotInitializedError(component, method string) error {
	err := &NotInitializedError{Component: component, Method: method}
	return errors.WithStack(err)
}

// InsufficientDataError is returned when the training buffer does not hold
// enough rows to draw the requested batch without replacement.
type InsufficientDataError struct {
	Op     string
	Needed int
	Have   int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("leapnet: %s: insufficient data. Requested %d rows, buffer holds %d", e.Op, e.Needed, e.Have)
}

// MarshalZerologObject adds the structured error fields to a zerolog event.
func (e *InsufficientDataError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("operation", e.Op).
		Int("needed", e.Needed).
		Int("have", e.Have).
		Str("type", "InsufficientDataError")
}

// NewInsufficientDataError creates an InsufficientDataError with a stack trace.
func NewInsufficientDataError(op string, needed, have int) error {
	err := &InsufficientDataError{Op: op, Needed: needed, Have: have}
	return errors.WithStack(err)
}

// LoadError is returned when a checkpoint cannot be restored, most commonly
// because the requested path does not exist. It is fatal and always
// surfaced to the caller.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("leapnet: cannot load from %q: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("leapnet: cannot load from %q: nothing there", e.Path)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// MarshalZerologObject adds the structured error fields to a zerolog event.
func (e *LoadError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("path", e.Path).
		AnErr("cause", e.Err).
		Str("type", "LoadError")
}

// NewLoadError creates a LoadError with a stack trace.
func NewLoadError(path string, cause error) error {
	err := &LoadError{Path: path, Err: cause}
	return errors.WithStack(err)
}

// AmbiguousMaskSourceError is returned by the network builder when the
// disconnection-mask attribute is tracked but its recorded location is
// neither of the recognized input groups. This indicates corrupted
// metadata or an internal consistency bug.
type AmbiguousMaskSourceError struct {
	Attr  string
	Where string
}

func (e *AmbiguousMaskSourceError) Error() string {
	return fmt.Sprintf("leapnet: mask attribute %q has ambiguous source %q (want \"tau\" or \"x\")", e.Attr, e.Where)
}

// MarshalZerologObject adds the structured error fields to a zerolog event.
func (e *AmbiguousMaskSourceError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("attr", e.Attr).
		Str("where", e.Where).
		Str("type", "AmbiguousMaskSourceError")
}

// NewAmbiguousMaskSourceError creates an AmbiguousMaskSourceError with a
// stack trace.
func NewAmbiguousMaskSourceError(attr, where string) error {
	err := &AmbiguousMaskSourceError{Attr: attr, Where: where}
	return errors.WithStack(err)
}

// DimensionError is returned when an attribute value or matrix does not
// match the width fixed at initialization.
type DimensionError struct {
	Op       string
	Expected int
	Got      int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("leapnet: %s: dimension mismatch. Expected %d, got %d", e.Op, e.Expected, e.Got)
}

// MarshalZerologObject adds the structured error fields to a zerolog event.
func (e *DimensionError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("operation", e.Op).
		Int("expected", e.Expected).
		Int("got", e.Got).
		Str("type", "DimensionError")
}

// NewDimensionError creates a DimensionError with a stack trace.
func NewDimensionError(op string, expected, got int) error {
	err := &DimensionError{Op: op, Expected: expected, Got: got}
	return errors.WithStack(err)
}

// ValueError is returned when an argument value is invalid or out of range.
type ValueError struct {
	Op      string
	Message string
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("leapnet: %s: %s", e.Op, e.Message)
}

// NewValueError creates a ValueError with a stack trace.
func NewValueError(op, message string) error {
	err := &ValueError{Op: op, Message: message}
	return errors.WithStack(err)
}

// ===========================================================================
//
//	Warning types
//
// ===========================================================================

// MaskSourceWarning is emitted when no "line_status" attribute is found in
// either input group: predictions for disconnected lines will not be forced
// to zero.
type MaskSourceWarning struct {
	Attr string
}

func (w *MaskSourceWarning) Error() string {
	return fmt.Sprintf("we strongly recommend providing %q as an input vector; continuing without disconnection masking", w.Attr)
}

// NewMaskSourceWarning creates a MaskSourceWarning.
func NewMaskSourceWarning(attr string) *MaskSourceWarning {
	return &MaskSourceWarning{Attr: attr}
}

// ===========================================================================
//
//	cockroachdb/errors wrappers
//
// ===========================================================================

// Is reports whether err matches target anywhere in its chain.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in the chain matching target's type.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Wrap annotates err with a message.
func Wrap(err error, message string) error {
	return errors.Wrap(err, message)
}

// Wrapf annotates err with a formatted message.
func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

// New creates a new error with a stack trace.
func New(message string) error {
	return errors.New(message)
}

// Newf creates a new formatted error with a stack trace.
func Newf(format string, args ...interface{}) error {
	return errors.Newf(format, args...)
}

// WithStack annotates err with a stack trace.
func WithStack(err error) error {
	return errors.WithStack(err)
}
