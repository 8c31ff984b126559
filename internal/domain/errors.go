package domain

import (
	"errors"
	"fmt"
)

// Base error types (sentinel errors).
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("conflict")
	ErrUnsupported  = errors.New("unsupported operation")
	ErrInternal     = errors.New("internal error")
	ErrUnavailable  = errors.New("service unavailable")
)

// Specific errors.
var (
	ErrLayerNotFound        = fmt.Errorf("layer: %w", ErrNotFound)
	ErrJobNotFound          = fmt.Errorf("job: %w", ErrNotFound)
	ErrArtifactNotFound     = fmt.Errorf("artifact: %w", ErrNotFound)
	ErrNoRasterFound        = fmt.Errorf("no raster entry in archive: %w", ErrInvalidInput)
	ErrInvalidWorldFile     = fmt.Errorf("world file: %w", ErrInvalidInput)
	ErrDuplicateLayer       = fmt.Errorf("duplicate layer id: %w", ErrConflict)
	ErrInvalidTransition    = fmt.Errorf("invalid state transition: %w", ErrConflict)
	ErrCannotCancel         = fmt.Errorf("job already terminal: %w", ErrConflict)
	ErrTransformOutOfDomain = fmt.Errorf("coordinate outside projection domain: %w", ErrInvalidInput)
	ErrUnsupportedCRS       = fmt.Errorf("coordinate system: %w", ErrUnsupported)
	ErrStorageUnavailable   = fmt.Errorf("storage: %w", ErrUnavailable)
)

// ValidationError represents a detailed validation error.
type ValidationError struct {
	Field      string      // Field that failed validation
	Value      interface{} // The invalid value
	Constraint string      // The constraint that was violated
	Message    string      // Human-readable message
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for %s: %s (value: %v, constraint: %s)",
		e.Field, e.Message, e.Value, e.Constraint)
}

// Unwrap returns the underlying error type.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// TransformError describes a failed coordinate transformation.
type TransformError struct {
	SourceSRID int     // SRID of the input coordinate
	TargetSRID int     // SRID requested
	X, Y       float64 // The offending coordinate
	Err        error   // Underlying error
}

// Error implements the error interface.
func (e *TransformError) Error() string {
	return fmt.Sprintf("transform %d -> %d failed at (%f, %f): %v",
		e.SourceSRID, e.TargetSRID, e.X, e.Y, e.Err)
}

// Unwrap returns the underlying error.
func (e *TransformError) Unwrap() error {
	return e.Err
}

// IngestError represents a failure while ingesting one raster of an archive.
// Failures are scoped to a single layer so a batch upload still makes
// partial progress.
type IngestError struct {
	LayerID string // Layer being ingested
	Stage   string // Pipeline stage (extract, parse, bounds, transform, convert)
	Err     error  // Underlying error
}

// Error implements the error interface.
func (e *IngestError) Error() string {
	return fmt.Sprintf("ingest error for layer %s during %s: %v", e.LayerID, e.Stage, e.Err)
}

// Unwrap returns the underlying error.
func (e *IngestError) Unwrap() error {
	return e.Err
}

// StorageError represents an error during storage operations.
type StorageError struct {
	Operation string // Operation that failed (download, upload, list, etc.)
	Key       string // Object key
	Err       error  // Underlying error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("storage error during %s for %s: %v",
			e.Operation, e.Key, e.Err)
	}
	return fmt.Sprintf("storage error during %s: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error.
type ConfigError struct {
	Field   string // Configuration field
	Message string // Error message
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error for %s: %s", e.Field, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return ErrInvalidInput
}
