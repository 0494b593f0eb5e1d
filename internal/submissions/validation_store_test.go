package submissions

import (
	"context"
	"testing"
	"time"
)

func TestBeginValidationClaimsOnce(t *testing.T) {
	harness := newTestHarness(t)
	ctx := context.Background()
	created := harness.create(t, "user-1")

	acquired, err := harness.service.BeginValidation(ctx, SubmissionID(created.ID))
	if err != nil || !acquired {
		t.Fatalf("expected first claim to succeed, got %v %v", acquired, err)
	}
	acquired, err = harness.service.BeginValidation(ctx, SubmissionID(created.ID))
	if err != nil || acquired {
		t.Fatalf("expected second claim to be refused, got %v %v", acquired, err)
	}

	stored := harness.reload(t, created.ID)
	if !stored.ValidationInProgress || stored.ValidationStartedAt == nil {
		t.Fatalf("expected in-progress flag and start time, got %+v", stored)
	}
}

func TestBeginValidationIgnoresMissingAndSettled(t *testing.T) {
	harness := newTestHarness(t)
	ctx := context.Background()

	acquired, err := harness.service.BeginValidation(ctx, SubmissionID("missing"))
	if err != nil || acquired {
		t.Fatalf("expected missing submission to be skipped, got %v %v", acquired, err)
	}

	created := harness.create(t, "user-1")
	if _, err := harness.service.ReviewSubmission(ctx, ReviewRequest{
		AdminID: mustUserID(t, "admin-1"), SubmissionID: SubmissionID(created.ID), Action: ReviewActionApproved,
	}); err != nil {
		t.Fatalf("unexpected review error: %v", err)
	}
	acquired, err = harness.service.BeginValidation(ctx, SubmissionID(created.ID))
	if err != nil || acquired {
		t.Fatalf("expected approved submission to be skipped, got %v %v", acquired, err)
	}
}

func TestCommitValidationAppliesOutcome(t *testing.T) {
	harness := newTestHarness(t)
	ctx := context.Background()
	created := harness.create(t, "user-1")
	image := harness.addImage(t, "user-1", created.ID)
	if _, err := harness.service.BeginValidation(ctx, SubmissionID(created.ID)); err != nil {
		t.Fatalf("unexpected begin error: %v", err)
	}

	result, err := harness.service.CommitValidation(ctx, CommitRequest{
		SubmissionID:    SubmissionID(created.ID),
		ExpectedVersion: 1,
		ImageID:         image.ID,
		Report:          passingReport(),
		Outcome:         Outcome{Status: StatusApproved},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.State != CommitApplied {
		t.Fatalf("expected applied, got %s", result.State)
	}

	stored := harness.reload(t, created.ID)
	if stored.Status != StatusApproved || stored.ValidationInProgress || stored.NeedsAttention {
		t.Fatalf("unexpected stored lifecycle %+v", stored)
	}
	if stored.Version != 1 {
		t.Fatalf("expected version untouched, got %d", stored.Version)
	}
	results := harness.results(t, created.ID)
	if len(results) != 1 || results[0].SubmissionVersion != 1 || results[0].ImageID != image.ID {
		t.Fatalf("unexpected results %+v", results)
	}
	if results[0].RawResponseJSON != "{}" {
		t.Fatalf("expected empty raw payload placeholder, got %s", results[0].RawResponseJSON)
	}
}

func TestCommitValidationDiscardsStaleResult(t *testing.T) {
	harness := newTestHarness(t)
	ctx := context.Background()
	created := harness.create(t, "user-1")
	image := harness.addImage(t, "user-1", created.ID)
	if _, err := harness.service.BeginValidation(ctx, SubmissionID(created.ID)); err != nil {
		t.Fatalf("unexpected begin error: %v", err)
	}
	if err := harness.db.Model(&Submission{}).Where("id = ?", created.ID).Update("version", 2).Error; err != nil {
		t.Fatalf("failed to bump version: %v", err)
	}

	result, err := harness.service.CommitValidation(ctx, CommitRequest{
		SubmissionID:    SubmissionID(created.ID),
		ExpectedVersion: 1,
		ImageID:         image.ID,
		Report:          passingReport(),
		Outcome:         Outcome{Status: StatusApproved},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.State != CommitStale {
		t.Fatalf("expected stale, got %s", result.State)
	}
	stored := harness.reload(t, created.ID)
	if stored.Status != StatusPending || stored.ValidationInProgress {
		t.Fatalf("expected pending with flag cleared, got %+v", stored)
	}
	if len(harness.results(t, created.ID)) != 0 {
		t.Fatalf("expected no result rows for a stale run")
	}
}

func TestCommitValidationDiscardsSupersededImage(t *testing.T) {
	harness := newTestHarness(t)
	ctx := context.Background()
	created := harness.create(t, "user-1")
	first := harness.addImage(t, "user-1", created.ID)
	if _, err := harness.service.BeginValidation(ctx, SubmissionID(created.ID)); err != nil {
		t.Fatalf("unexpected begin error: %v", err)
	}
	harness.clock.Advance(time.Second)
	harness.addImage(t, "user-1", created.ID)

	result, err := harness.service.CommitValidation(ctx, CommitRequest{
		SubmissionID:    SubmissionID(created.ID),
		ExpectedVersion: 1,
		ImageID:         first.ID,
		Report:          passingReport(),
		Outcome:         Outcome{Status: StatusApproved},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.State != CommitSuperseded {
		t.Fatalf("expected superseded, got %s", result.State)
	}
	if stored := harness.reload(t, created.ID); stored.ValidationInProgress || stored.Status != StatusPending {
		t.Fatalf("expected flag cleared and status untouched, got %+v", stored)
	}
}

func TestCommitValidationWithoutClaimIsOrphaned(t *testing.T) {
	harness := newTestHarness(t)
	created := harness.create(t, "user-1")

	result, err := harness.service.CommitValidation(context.Background(), CommitRequest{
		SubmissionID:    SubmissionID(created.ID),
		ExpectedVersion: 1,
		Report:          passingReport(),
		Outcome:         Outcome{Status: StatusApproved},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.State != CommitOrphaned {
		t.Fatalf("expected orphaned, got %s", result.State)
	}
	if stored := harness.reload(t, created.ID); stored.Status != StatusPending {
		t.Fatalf("expected orphaned commit to write nothing, got %+v", stored)
	}
}

func TestFlagValidationRecordsResultAndAttention(t *testing.T) {
	harness := newTestHarness(t)
	ctx := context.Background()
	created := harness.create(t, "user-1")
	if _, err := harness.service.BeginValidation(ctx, SubmissionID(created.ID)); err != nil {
		t.Fatalf("unexpected begin error: %v", err)
	}

	flagged, err := harness.service.FlagValidation(ctx, SubmissionID(created.ID), "", Report{
		FieldResults:       []FieldResult{},
		ComplianceWarnings: []ComplianceWarning{{Check: "system_error", Message: "Validation failed: boom. Flagged for admin review.", Severity: SeverityError}},
		Confidence:         ConfidenceLow,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if flagged.State != CommitApplied {
		t.Fatalf("expected applied, got %s", flagged.State)
	}
	if flagged.Submission.Status != StatusPending || !flagged.Submission.NeedsAttention || flagged.Submission.ValidationInProgress {
		t.Fatalf("unexpected flagged state %+v", flagged.Submission)
	}
	results := harness.results(t, created.ID)
	if len(results) != 1 || results[0].OverallPass {
		t.Fatalf("unexpected flag results %+v", results)
	}
}

func TestFlagValidationDefersToImageAddedDuringRun(t *testing.T) {
	testCases := []struct {
		name          string
		analyzedImage bool
	}{
		{name: "run found no image", analyzedImage: false},
		{name: "run failed on an older image", analyzedImage: true},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			harness := newTestHarness(t)
			ctx := context.Background()
			created := harness.create(t, "user-1")
			analyzedID := ""
			if testCase.analyzedImage {
				analyzedID = harness.addImage(t, "user-1", created.ID).ID
			}
			if _, err := harness.service.BeginValidation(ctx, SubmissionID(created.ID)); err != nil {
				t.Fatalf("unexpected begin error: %v", err)
			}
			harness.clock.Advance(time.Second)
			harness.addImage(t, "user-1", created.ID)

			flagged, err := harness.service.FlagValidation(ctx, SubmissionID(created.ID), analyzedID, passingReport())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if flagged.State != CommitSuperseded {
				t.Fatalf("expected superseded, got %s", flagged.State)
			}
			stored := harness.reload(t, created.ID)
			if stored.ValidationInProgress || stored.NeedsAttention || stored.Status != StatusPending {
				t.Fatalf("expected flag released without attention, got %+v", stored)
			}
			if results := harness.results(t, created.ID); len(results) != 0 {
				t.Fatalf("expected no result to be recorded, got %+v", results)
			}
		})
	}
}

func TestReleaseStuckValidationsHonoursCutoff(t *testing.T) {
	harness := newTestHarness(t)
	ctx := context.Background()
	stuck := harness.create(t, "user-1")
	if _, err := harness.service.BeginValidation(ctx, SubmissionID(stuck.ID)); err != nil {
		t.Fatalf("unexpected begin error: %v", err)
	}

	harness.clock.Advance(10 * time.Minute)
	fresh := harness.create(t, "user-1")
	if _, err := harness.service.BeginValidation(ctx, SubmissionID(fresh.ID)); err != nil {
		t.Fatalf("unexpected begin error: %v", err)
	}

	cutoff := harness.clock.Now().Add(-5 * time.Minute)
	released, err := harness.service.ReleaseStuckValidations(ctx, cutoff, passingReport())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(released) != 1 || released[0].ID != stuck.ID {
		t.Fatalf("expected only the stuck run to be released, got %+v", released)
	}
	if stored := harness.reload(t, stuck.ID); stored.ValidationInProgress || !stored.NeedsAttention {
		t.Fatalf("unexpected released state %+v", stored)
	}
	if stored := harness.reload(t, fresh.ID); !stored.ValidationInProgress {
		t.Fatalf("expected fresh run to keep its claim")
	}
}

func TestUnvalidatedSubmissionsListsOnlyForgottenRuns(t *testing.T) {
	harness := newTestHarness(t)
	ctx := context.Background()
	forgotten := harness.create(t, "user-1")
	flagged := harness.create(t, "user-1")
	if _, err := harness.service.FlagValidation(ctx, SubmissionID(flagged.ID), "", passingReport()); err != nil {
		t.Fatalf("unexpected flag error: %v", err)
	}
	running := harness.create(t, "user-1")
	if _, err := harness.service.BeginValidation(ctx, SubmissionID(running.ID)); err != nil {
		t.Fatalf("unexpected begin error: %v", err)
	}

	harness.clock.Advance(10 * time.Minute)
	harness.create(t, "user-1")

	backlog, err := harness.service.UnvalidatedSubmissions(ctx, harness.clock.Now().Add(-5*time.Minute), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(backlog) != 1 || backlog[0].ID != forgotten.ID {
		t.Fatalf("expected only the forgotten submission, got %+v", backlog)
	}
}
