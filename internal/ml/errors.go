package ml

import (
	"errors"
	"fmt"
)

// ErrNonFinite is the cause attached to a LearnerFailure when a learner produces NaN or ±Inf.
var ErrNonFinite = errors.New("non-finite output")

// MetaLearnerIndex is the LearnerFailure index used for the meta learner.
const MetaLearnerIndex = -1

// LearnerFailure reports a failure inside a single learner. It is fatal for the request.
type LearnerFailure struct {
	Learner string
	Index   int
	Cause   error
}

func (e *LearnerFailure) Error() string {
	if e.Index == MetaLearnerIndex {
		return fmt.Sprintf("meta learner %q failed: %v", e.Learner, e.Cause)
	}
	return fmt.Sprintf("base learner %q (position %d) failed: %v", e.Learner, e.Index, e.Cause)
}

func (e *LearnerFailure) Unwrap() error { return e.Cause }

// ShapeMismatchError reports an input whose arity differs from what a component was built for.
// It points at model/artifact version skew rather than bad user input.
type ShapeMismatchError struct {
	Component string
	Expected  int
	Actual    int
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("%s: shape mismatch, expected %d inputs, got %d", e.Component, e.Expected, e.Actual)
}

// ArtifactIncompatibleError reports an artifact that cannot be served. The process must not
// serve traffic with it.
type ArtifactIncompatibleError struct {
	Path   string
	Reason string
	Err    error
}

func (e *ArtifactIncompatibleError) Error() string {
	msg := "incompatible model artifact"
	if e.Path != "" {
		msg += " " + e.Path
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ArtifactIncompatibleError) Unwrap() error { return e.Err }

func incompatible(reason string, args ...any) *ArtifactIncompatibleError {
	return &ArtifactIncompatibleError{Reason: fmt.Sprintf(reason, args...)}
}
