package research

import (
	"errors"
)

var (
	ErrValidation = errors.New("validation error")
	ErrPlanning   = errors.New("planning error")
	ErrRetrieval  = errors.New("retrieval error")
	ErrExtraction = errors.New("extraction error")
	ErrSynthesis  = errors.New("synthesis error")
)

// StageError carries the kind of failure, a message that is safe to show a
// caller, and the underlying cause.
type StageError struct {
	Kind    error
	Message string
	Err     error
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() []error {
	out := []error{e.Kind}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// NewStageError builds a StageError. message is shown to callers.
func NewStageError(kind error, message string, cause error) *StageError {
	return &StageError{Kind: kind, Message: message, Err: cause}
}

// PublicMessage returns the caller-facing text for err. Errors that are not
// StageErrors get a generic message; their text never leaves the process.
func PublicMessage(err error) string {
	var se *StageError
	if errors.As(err, &se) && se.Message != "" {
		return se.Message
	}
	return "research run failed"
}

var kindNames = []struct {
	kind error
	name string
}{
	{ErrValidation, "ValidationError"},
	{ErrPlanning, "PlanningError"},
	{ErrRetrieval, "RetrievalError"},
	{ErrExtraction, "ExtractionError"},
	{ErrSynthesis, "SynthesisError"},
}

// KindOf returns the stage sentinel err matches, or nil.
func KindOf(err error) error {
	for _, k := range kindNames {
		if errors.Is(err, k.kind) {
			return k.kind
		}
	}
	return nil
}

// KindName returns the stable name of err's stage kind, or "".
func KindName(err error) string {
	for _, k := range kindNames {
		if errors.Is(err, k.kind) {
			return k.name
		}
	}
	return ""
}

// KindByName is the inverse of KindName.
func KindByName(name string) error {
	for _, k := range kindNames {
		if k.name == name {
			return k.kind
		}
	}
	return nil
}
