package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a user or playlist does not exist.
	ErrNotFound = errors.New("domain: not found")
	// ErrValidation marks malformed or missing input.
	ErrValidation = errors.New("domain: invalid argument")
	// ErrNoAnalyzableTracks means a playlist produced no usable descriptors.
	ErrNoAnalyzableTracks = errors.New("domain: no analyzable tracks")
	// ErrProviderDegraded matches any *ProviderDegradedError.
	ErrProviderDegraded = errors.New("domain: provider degraded")
)

// DegradeReason classifies why a provider could not produce a value.
type DegradeReason string

const (
	ReasonNoFace          DegradeReason = "no_face"
	ReasonUnavailable     DegradeReason = "unavailable"
	ReasonMissingImage    DegradeReason = "missing_image"
	ReasonInvalidDistance DegradeReason = "invalid_distance"
)

// ProviderDegradedError reports a per-pair provider failure. The scorer
// absorbs it into a conservative similarity of 0.
type ProviderDegradedError struct {
	Provider string
	Reason   DegradeReason
	Err      error
}

func (e *ProviderDegradedError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s provider degraded: %s", e.Provider, e.Reason)
	}
	return fmt.Sprintf("%s provider degraded: %s: %v", e.Provider, e.Reason, e.Err)
}

func (e *ProviderDegradedError) Unwrap() error {
	return e.Err
}

func (e *ProviderDegradedError) Is(target error) bool {
	return target == ErrProviderDegraded
}

// Degraded builds a ProviderDegradedError.
func Degraded(provider string, reason DegradeReason, err error) *ProviderDegradedError {
	return &ProviderDegradedError{Provider: provider, Reason: reason, Err: err}
}
