package model

import (
	"errors"
	"fmt"
)

var (
	// ErrGeocodeNotFound means the geocoder had no match for the text.
	ErrGeocodeNotFound = errors.New("location not found")

	// ErrQuotaExceeded means the business directory's monthly budget is spent.
	ErrQuotaExceeded = errors.New("directory quota exceeded")

	// ErrInvalidRequest marks caller input that failed validation.
	ErrInvalidRequest = errors.New("invalid request")
)

// GeometryError reports malformed or degenerate geometry. It is fatal for the run.
type GeometryError struct {
	Op     string
	Reason string
}

func (e *GeometryError) Error() string {
	return fmt.Sprintf("geometry: %s: %s", e.Op, e.Reason)
}

// NewGeometryError builds a GeometryError.
func NewGeometryError(op, reason string) *GeometryError {
	return &GeometryError{Op: op, Reason: reason}
}

// DataSourceError reports a failed POI or directory query.
type DataSourceError struct {
	Source   string
	Category string
	Err      error
}

func (e *DataSourceError) Error() string {
	return fmt.Sprintf("%s query for %q failed: %v", e.Source, e.Category, e.Err)
}

func (e *DataSourceError) Unwrap() error {
	return e.Err
}

// RoutingUnavailableError records why a real isochrone could not be used.
// The estimator never returns it; it becomes the fallback reason.
type RoutingUnavailableError struct {
	Mode Mode
	Err  error
}

func (e *RoutingUnavailableError) Error() string {
	return fmt.Sprintf("routing unavailable for %s: %v", e.Mode, e.Err)
}

func (e *RoutingUnavailableError) Unwrap() error {
	return e.Err
}

// CriterionError attaches the failing criterion to a fatal error.
type CriterionError struct {
	Index     int
	Criterion Criterion
	Err       error
}

func (e *CriterionError) Error() string {
	return fmt.Sprintf("criterion %d (%s %q): %v", e.Index+1, e.Criterion.Kind, e.Criterion.Subject(), e.Err)
}

func (e *CriterionError) Unwrap() error {
	return e.Err
}

// ValidationError wraps ErrInvalidRequest with a user-facing message.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidRequest
}

// Invalidf builds a ValidationError.
func Invalidf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}
