package triggers

import "github.com/andychuong/ttb-label-verification/internal/submissions"

// Decision records what a trigger did with an event.
type Decision string

const (
	DecisionRun            Decision = "run"
	DecisionSkipInProgress Decision = "skip_in_progress"
	DecisionSkipNotPending Decision = "skip_not_pending"
	DecisionSkipMissing    Decision = "skip_missing"
	DecisionSkipNoImageURL Decision = "skip_no_image_url"
	DecisionIgnore         Decision = "ignore"
)

// ShouldRevalidate reports whether an update is a user-driven change that
// needs a fresh analysis. Orchestrator writes never change the version, so
// they never qualify.
func ShouldRevalidate(before, after submissions.Submission) bool {
	if after.ValidationInProgress {
		return false
	}
	if before.Status == submissions.StatusNeedsRevision && after.Status == submissions.StatusPending {
		return true
	}
	return before.Status == submissions.StatusPending &&
		after.Status == submissions.StatusPending &&
		after.Version > before.Version
}
