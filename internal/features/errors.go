package features

import (
	"errors"
	"fmt"
	"math"
	"strconv"
)

// ErrValidation is matched (via errors.Is) by every input validation error in this package.
var ErrValidation = errors.New("feature validation failed")

// MissingFeatureError reports a declared feature absent from the input.
type MissingFeatureError struct {
	Feature string
}

func (e *MissingFeatureError) Error() string {
	return fmt.Sprintf("missing required feature %q", e.Feature)
}

func (e *MissingFeatureError) Is(target error) bool { return target == ErrValidation }

// UnknownFeatureError reports an input name that the schema does not declare.
type UnknownFeatureError struct {
	Feature string
}

func (e *UnknownFeatureError) Error() string {
	return fmt.Sprintf("unknown feature %q", e.Feature)
}

func (e *UnknownFeatureError) Is(target error) bool { return target == ErrValidation }

// DomainError reports a value outside its feature's declared domain.
type DomainError struct {
	Feature string
	Value   float64
	Domain  string
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("feature %q value %s outside domain %s", e.Feature, formatValue(e.Value), e.Domain)
}

func (e *DomainError) Is(target error) bool { return target == ErrValidation }

// Problem is a flattened, serializable view of one validation failure.
type Problem struct {
	Feature string   `json:"feature"`
	Reason  string   `json:"reason"`
	Value   *float64 `json:"value,omitempty"`
	Domain  string   `json:"domain,omitempty"`
}

// Problems flattens a (possibly joined) validation error into one Problem per offending feature.
// Errors that are not validation errors are ignored.
func Problems(err error) []Problem {
	if err == nil {
		return nil
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var out []Problem
		for _, e := range joined.Unwrap() {
			out = append(out, Problems(e)...)
		}
		return out
	}

	var (
		missing *MissingFeatureError
		unknown *UnknownFeatureError
		domain  *DomainError
	)
	switch {
	case errors.As(err, &missing):
		return []Problem{{Feature: missing.Feature, Reason: "missing"}}
	case errors.As(err, &unknown):
		return []Problem{{Feature: unknown.Feature, Reason: "unknown"}}
	case errors.As(err, &domain):
		v := domain.Value
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return []Problem{{Feature: domain.Feature, Reason: "out_of_domain", Domain: domain.Domain}}
		}
		return []Problem{{Feature: domain.Feature, Reason: "out_of_domain", Value: &v, Domain: domain.Domain}}
	}
	return nil
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
