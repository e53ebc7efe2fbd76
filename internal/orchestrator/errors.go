package orchestrator

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound covers unknown blueprints, containers and approvals.
	// No state was mutated when it is returned.
	ErrNotFound = errors.New("not found")

	// ErrQuotaExceeded rejects a deploy before any image work happens.
	ErrQuotaExceeded = errors.New("session quota exceeded")

	// ErrInvalidBlueprint marks a structurally broken blueprint.
	ErrInvalidBlueprint = errors.New("invalid blueprint")

	// ErrBuildFailed wraps image build failures. No container or volume
	// exists when it is returned.
	ErrBuildFailed = errors.New("image build failed")

	// ErrCommandNotAllowed rejects an exec outside the blueprint's
	// command allowlist.
	ErrCommandNotAllowed = errors.New("command not allowed by blueprint")
)

// ApprovalRequiredError is a control-flow signal, not a failure: the
// deploy is parked behind the returned approval id and must be retried
// after a human resolves it.
type ApprovalRequiredError struct {
	ApprovalID string
	Reason     string
}

func (e *ApprovalRequiredError) Error() string {
	return fmt.Sprintf("approval %s required: %s", e.ApprovalID, e.Reason)
}

// AsApprovalRequired unwraps err into an ApprovalRequiredError, if it is
// one.
func AsApprovalRequired(err error) (*ApprovalRequiredError, bool) {
	var approvalErr *ApprovalRequiredError
	if errors.As(err, &approvalErr) {
		return approvalErr, true
	}
	return nil, false
}
