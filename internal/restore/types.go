package restore

import (
	"fmt"
	"time"

	apperrors "kyc-backup/internal/errors"
)

// State is a step of the restore state machine
type State string

const (
	StateConfirming State = "confirming"
	StateStaging    State = "staging"
	StateDestroying State = "destroying"
	StateRecreating State = "recreating"
	StateLoading    State = "loading"
	StateCleaningUp State = "cleaning_up"
	StateDone       State = "done"
	StateAborted    State = "aborted"
	StateFailed     State = "failed"
)

// TargetState is what is known about the target database after a restore ended
type TargetState string

const (
	TargetIntact   TargetState = "intact"
	TargetAbsent   TargetState = "absent"
	TargetEmpty    TargetState = "empty"
	TargetPartial  TargetState = "partial"
	TargetUnknown  TargetState = "unknown"
	TargetRestored TargetState = "restored"
)

// Describe renders the state for the final status line
func (t TargetState) Describe() string {
	switch t {
	case TargetIntact:
		return "unchanged"
	case TargetAbsent:
		return "ABSENT"
	case TargetEmpty:
		return "present but EMPTY"
	case TargetPartial:
		return "present with PARTIALLY loaded data"
	case TargetRestored:
		return "restored"
	default:
		return "in an UNKNOWN state"
	}
}

// Result is the record of one restore invocation
type Result struct {
	Artifact    string
	Target      string
	Engine      string
	State       State
	TargetState TargetState
	History     []State
	// Verified is set when the artifact checksum matched its run manifest
	Verified bool
	Duration time.Duration
}

// DestructiveStageError is a failure after the target database was touched.
// TargetState says what was found when the failure was probed.
type DestructiveStageError struct {
	Stage       State
	Target      string
	TargetState TargetState
	cause       *apperrors.AppError
}

func newDestructiveStageError(stage State, target string, state TargetState, err error) *DestructiveStageError {
	return &DestructiveStageError{
		Stage:       stage,
		Target:      target,
		TargetState: state,
		cause: apperrors.NewAppError(apperrors.ErrorTypeDestructiveStage,
			fmt.Sprintf("restore into %s failed while %s", target, stage), err).
			WithContext("target_state", string(state)),
	}
}

func (e *DestructiveStageError) Error() string {
	return fmt.Sprintf("restore into %s failed while %s: %v; database %s is %s",
		e.Target, e.Stage, e.cause.Cause, e.Target, e.TargetState.Describe())
}

func (e *DestructiveStageError) Unwrap() error {
	return e.cause
}
