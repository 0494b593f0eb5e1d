package submissions

import (
	"errors"
	"testing"
)

func TestLifecycleOfRejectsInconsistentColumns(t *testing.T) {
	testCases := []struct {
		name       string
		submission Submission
	}{
		{name: "approved while validating", submission: Submission{Status: StatusApproved, ValidationInProgress: true}},
		{name: "rejected with attention", submission: Submission{Status: StatusRejected, NeedsAttention: true}},
		{name: "unknown status", submission: Submission{Status: Status("archived")}},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if _, err := LifecycleOf(testCase.submission); !errors.Is(err, ErrInconsistentState) {
				t.Fatalf("expected inconsistent state error, got %v", err)
			}
		})
	}
}

func TestStartValidationRequiresIdlePending(t *testing.T) {
	next, err := Pending(false, true).StartValidation()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !next.Validating() || !next.NeedsAttention() {
		t.Fatalf("expected validating state to keep attention, got %+v", next)
	}
	if _, err := next.StartValidation(); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected second start to fail, got %v", err)
	}
	for _, state := range []Lifecycle{Approved(), NeedsRevision(), Rejected()} {
		if _, err := state.StartValidation(); !errors.Is(err, ErrIllegalTransition) {
			t.Fatalf("expected start from %s to fail", state.Status())
		}
	}
}

func TestFinishValidationOnlyProducesAutomatedOutcomes(t *testing.T) {
	validating := Pending(true, false)

	approved, err := validating.FinishValidation(Outcome{Status: StatusApproved})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if approved.Phase() != PhaseApproved || approved.Validating() || approved.NeedsAttention() {
		t.Fatalf("unexpected approved state %+v", approved)
	}

	flagged, err := validating.FinishValidation(Outcome{Status: StatusPending, NeedsAttention: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if flagged.Phase() != PhasePending || flagged.Validating() || !flagged.NeedsAttention() {
		t.Fatalf("unexpected flagged state %+v", flagged)
	}

	if _, err := validating.FinishValidation(Outcome{Status: StatusRejected}); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected rejected outcome to be refused, got %v", err)
	}
	if _, err := Pending(false, false).FinishValidation(Outcome{Status: StatusApproved}); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected finish without a run to fail, got %v", err)
	}
}

func TestReviewAndResubmitTransitions(t *testing.T) {
	if _, err := Pending(true, false).Review(ReviewActionApproved); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected review during validation to fail, got %v", err)
	}
	revised, err := Pending(false, true).Review(ReviewActionNeedsRevision)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if revised.Status() != StatusNeedsRevision || revised.NeedsAttention() {
		t.Fatalf("expected review to clear attention, got %+v", revised)
	}
	resubmitted, err := revised.Resubmit()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resubmitted != Pending(false, false) {
		t.Fatalf("expected clean pending state, got %+v", resubmitted)
	}
	if _, err := Approved().Resubmit(); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected resubmit from approved to fail, got %v", err)
	}
}

func TestApplyWritesLifecycleColumns(t *testing.T) {
	submission := Submission{Status: StatusPending, ValidationInProgress: true, NeedsAttention: true}
	Approved().Apply(&submission)
	if submission.Status != StatusApproved || submission.ValidationInProgress || submission.NeedsAttention {
		t.Fatalf("unexpected columns after apply: %+v", submission)
	}
}
