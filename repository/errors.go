package repository

import "errors"

var (
	// ErrDuplicateIdentity is returned by QueueRepository.Insert when a
	// non-terminal entry already exists for the same identity key
	ErrDuplicateIdentity = errors.New("duplicate identity: active queue entry already exists for identity key")

	// ErrStaleTransition is returned when a conditional status update found
	// the entry in a state the transition does not apply to
	ErrStaleTransition = errors.New("stale transition: entry is not in an applicable status")
)
