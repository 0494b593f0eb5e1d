package submissions

import (
	"errors"
	"fmt"
)

var (
	// ErrIllegalTransition indicates a lifecycle move that the current state does not allow.
	ErrIllegalTransition = errors.New("submissions: illegal lifecycle transition")
	// ErrInconsistentState indicates stored columns that no lifecycle state can represent.
	ErrInconsistentState = errors.New("submissions: inconsistent lifecycle columns")
)

// Phase is the coarse lifecycle position of a submission.
type Phase int

const (
	PhasePending Phase = iota
	PhaseApproved
	PhaseNeedsRevision
	PhaseRejected
)

// Lifecycle is the explicit lifecycle state. Only a pending submission can be
// validating or flagged for attention.
type Lifecycle struct {
	phase          Phase
	validating     bool
	needsAttention bool
}

// Pending builds the pending state.
func Pending(validating, needsAttention bool) Lifecycle {
	return Lifecycle{phase: PhasePending, validating: validating, needsAttention: needsAttention}
}

// Approved builds the approved state.
func Approved() Lifecycle { return Lifecycle{phase: PhaseApproved} }

// NeedsRevision builds the needs-revision state.
func NeedsRevision() Lifecycle { return Lifecycle{phase: PhaseNeedsRevision} }

// Rejected builds the rejected state.
func Rejected() Lifecycle { return Lifecycle{phase: PhaseRejected} }

// Phase returns the coarse lifecycle position.
func (l Lifecycle) Phase() Phase { return l.phase }

// Validating reports whether an analysis run owns the submission.
func (l Lifecycle) Validating() bool { return l.validating }

// NeedsAttention reports whether the submission is queued for admin review.
func (l Lifecycle) NeedsAttention() bool { return l.needsAttention }

// Status maps the phase to its stored value.
func (l Lifecycle) Status() Status {
	switch l.phase {
	case PhaseApproved:
		return StatusApproved
	case PhaseNeedsRevision:
		return StatusNeedsRevision
	case PhaseRejected:
		return StatusRejected
	default:
		return StatusPending
	}
}

// LifecycleOf derives the lifecycle from stored columns.
func LifecycleOf(submission Submission) (Lifecycle, error) {
	switch submission.Status {
	case StatusPending:
		return Pending(submission.ValidationInProgress, submission.NeedsAttention), nil
	case StatusApproved, StatusNeedsRevision, StatusRejected:
		if submission.ValidationInProgress {
			return Lifecycle{}, fmt.Errorf("%w: %s while validating", ErrInconsistentState, submission.Status)
		}
		if submission.NeedsAttention {
			return Lifecycle{}, fmt.Errorf("%w: %s with attention flag", ErrInconsistentState, submission.Status)
		}
		switch submission.Status {
		case StatusApproved:
			return Approved(), nil
		case StatusNeedsRevision:
			return NeedsRevision(), nil
		default:
			return Rejected(), nil
		}
	default:
		return Lifecycle{}, fmt.Errorf("%w: unknown status %q", ErrInconsistentState, submission.Status)
	}
}

// Apply writes the lifecycle onto the stored columns.
func (l Lifecycle) Apply(submission *Submission) {
	submission.Status = l.Status()
	submission.ValidationInProgress = l.validating
	submission.NeedsAttention = l.needsAttention
}

// StartValidation claims the submission for an analysis run.
func (l Lifecycle) StartValidation() (Lifecycle, error) {
	if l.phase != PhasePending {
		return l, fmt.Errorf("%w: validation requires pending, got %s", ErrIllegalTransition, l.Status())
	}
	if l.validating {
		return l, fmt.Errorf("%w: validation already in progress", ErrIllegalTransition)
	}
	return Pending(true, l.needsAttention), nil
}

// FinishValidation applies a classifier outcome to a validating submission.
func (l Lifecycle) FinishValidation(outcome Outcome) (Lifecycle, error) {
	if !l.validating {
		return l, fmt.Errorf("%w: no validation in progress", ErrIllegalTransition)
	}
	switch outcome.Status {
	case StatusApproved:
		return Approved(), nil
	case StatusPending:
		return Pending(false, outcome.NeedsAttention), nil
	default:
		return l, fmt.Errorf("%w: automated outcome cannot be %s", ErrIllegalTransition, outcome.Status)
	}
}

// FlagValidation ends a run that could not produce a verdict.
func (l Lifecycle) FlagValidation() (Lifecycle, error) {
	if !l.validating {
		return l, fmt.Errorf("%w: no validation in progress", ErrIllegalTransition)
	}
	return Pending(false, true), nil
}

// ReleaseValidation ends a run without touching status or attention.
func (l Lifecycle) ReleaseValidation() Lifecycle {
	next := l
	next.validating = false
	return next
}

// Edit permits a content change by the owner.
func (l Lifecycle) Edit() (Lifecycle, error) {
	if l.phase != PhasePending {
		return l, fmt.Errorf("%w: only pending submissions can be edited", ErrIllegalTransition)
	}
	if l.validating {
		return l, fmt.Errorf("%w: validation in progress", ErrIllegalTransition)
	}
	return l, nil
}

// Resubmit returns a revised submission to the pending queue.
func (l Lifecycle) Resubmit() (Lifecycle, error) {
	if l.phase != PhaseNeedsRevision {
		return l, fmt.Errorf("%w: only needs_revision submissions can be resubmitted", ErrIllegalTransition)
	}
	return Pending(false, false), nil
}

// Review applies an admin decision.
func (l Lifecycle) Review(action ReviewAction) (Lifecycle, error) {
	if l.validating {
		return l, fmt.Errorf("%w: validation in progress", ErrIllegalTransition)
	}
	switch action {
	case ReviewActionApproved:
		return Approved(), nil
	case ReviewActionNeedsRevision:
		return NeedsRevision(), nil
	case ReviewActionRejected:
		return Rejected(), nil
	default:
		return l, fmt.Errorf("%w: unknown review action %q", ErrIllegalTransition, action)
	}
}
