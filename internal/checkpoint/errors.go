package checkpoint

import "errors"

// Precondition errors. Nothing is mutated when one is returned.
var (
	ErrNotInitialized     = errors.New("project not initialized")
	ErrInvalidPhase       = errors.New("invalid macro phase")
	ErrEmptyID            = errors.New("checkpoint id is empty")
	ErrInvalidID          = errors.New("malformed checkpoint id")
	ErrCheckpointNotFound = errors.New("checkpoint not found")
)

// ErrCorruptCheckpoint is returned by Restore when the snapshot fails
// verification or lacks its state document.
var ErrCorruptCheckpoint = errors.New("corrupted checkpoint")

// ErrRestoreCancelled is returned when the operator declines a restore.
var ErrRestoreCancelled = errors.New("restore cancelled")

// ErrConfirmationRequired is returned when a restore needs confirmation but
// no confirmer is available.
var ErrConfirmationRequired = errors.New("restore requires confirmation")
