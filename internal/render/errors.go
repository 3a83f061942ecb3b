package render

import (
	"fmt"

	"github.com/orielfx/api/internal/model"
)

// Error is a pipeline failure tagged with the reason code that the
// orchestration layer uses to decide retry eligibility. The wrapped error
// carries full context for server-side logs; only Reason and a short
// message ever reach the submitter.
type Error struct {
	Reason model.ReasonCode
	Step   string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s [%s]: %v", e.Step, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func failStep(step string, reason model.ReasonCode, err error) *Error {
	return &Error{Reason: reason, Step: step, Err: err}
}

// Detail converts the pipeline error into the submitter-visible form.
// Fatal pipeline reasons get a generic message; input errors are surfaced
// verbatim since the submitter caused them and can act on them.
func (e *Error) Detail() *model.ErrorDetail {
	switch e.Reason {
	case model.ReasonInvalidAudio:
		return &model.ErrorDetail{Code: e.Reason, Message: e.Err.Error()}
	case model.ReasonTimeout:
		return &model.ErrorDetail{Code: e.Reason, Message: "rendering exceeded the time limit"}
	default:
		return &model.ErrorDetail{Code: e.Reason, Message: "rendering failed"}
	}
}
