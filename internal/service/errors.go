package service

import (
	"fmt"

	"github.com/google/uuid"
)

// ErrJobNotFound maps to HTTP 404.
type ErrJobNotFound struct {
	error
}

func NewErrJobNotFound(id uuid.UUID) *ErrJobNotFound {
	return &ErrJobNotFound{fmt.Errorf("job %q not found", id)}
}

// ErrNoPendingApproval maps to HTTP 404: the job exists but has no
// checkpoint awaiting a decision.
type ErrNoPendingApproval struct {
	error
}

func NewErrNoPendingApproval(id uuid.UUID) *ErrNoPendingApproval {
	return &ErrNoPendingApproval{fmt.Errorf("job %q has no pending approval", id)}
}

// ErrJobNotAwaitingApproval maps to HTTP 400: a decision was posted for
// a job that is not at a checkpoint.
type ErrJobNotAwaitingApproval struct {
	error
}

func NewErrJobNotAwaitingApproval(id uuid.UUID, status string) *ErrJobNotAwaitingApproval {
	return &ErrJobNotAwaitingApproval{fmt.Errorf("job %q is %s, not awaiting approval", id, status)}
}

// ErrDecisionConflict maps to HTTP 409: the checkpoint already received
// a decision.
type ErrDecisionConflict struct {
	error
}

func NewErrDecisionConflict(id uuid.UUID) *ErrDecisionConflict {
	return &ErrDecisionConflict{fmt.Errorf("decision for job %q already posted", id)}
}

// ErrPhaseNotFound maps to HTTP 404: the job has no record of the named
// phase.
type ErrPhaseNotFound struct {
	error
}

func NewErrPhaseNotFound(id uuid.UUID, phase string) *ErrPhaseNotFound {
	return &ErrPhaseNotFound{fmt.Errorf("job %q has no phase %q", id, phase)}
}

// ErrInvalidRequest maps to HTTP 400.
type ErrInvalidRequest struct {
	error
}

func NewErrInvalidRequest(msg string) *ErrInvalidRequest {
	return &ErrInvalidRequest{fmt.Errorf("invalid request: %s", msg)}
}
