package workflows

import (
	"errors"

	"go.temporal.io/sdk/temporal"

	"github.com/Keyring-Network/keyring-gavryn/research-agent/internal/research"
)

// toApplicationError carries a stage failure across the activity boundary.
// The application error type is the stage kind name and the first detail is
// the caller-facing message.
func toApplicationError(err error) error {
	if err == nil {
		return nil
	}
	kind := research.KindName(err)
	if kind == "" {
		kind = "ResearchError"
	}
	message := research.PublicMessage(err)
	return temporal.NewNonRetryableApplicationError(message, kind, err, message)
}

// stageErrorFrom rebuilds a research.StageError from a workflow or activity
// error so callers can keep matching the stage sentinels.
func stageErrorFrom(err error, fallbackKind error, fallbackMessage string) error {
	if err == nil {
		return nil
	}
	var stageErr *research.StageError
	if errors.As(err, &stageErr) {
		return err
	}
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		kind := research.KindByName(appErr.Type())
		if kind == nil {
			kind = fallbackKind
		}
		message := fallbackMessage
		if appErr.HasDetails() {
			var detail string
			if detailErr := appErr.Details(&detail); detailErr == nil && detail != "" {
				message = detail
			}
		}
		return research.NewStageError(kind, message, err)
	}
	return research.NewStageError(fallbackKind, fallbackMessage, err)
}
