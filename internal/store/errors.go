package store

import "errors"

var (
	// ErrRecordNotFound is returned when a job id is unknown to the store.
	ErrRecordNotFound = errors.New("record not found")
	// ErrInvalidTransition is returned when a patch would move a job along
	// an edge the status machine does not have.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrInvalidPatch is returned when a patch would leave the record in an
	// inconsistent state, e.g. awaiting_approval without a pending approval.
	ErrInvalidPatch = errors.New("invalid patch")
)
