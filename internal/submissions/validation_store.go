package submissions

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CommitState reports what CommitValidation did with a finished analysis.
type CommitState string

const (
	// CommitApplied means the result was stored and the outcome applied.
	CommitApplied CommitState = "applied"
	// CommitStale means the submission version moved on; only the in-progress flag was cleared.
	CommitStale CommitState = "stale"
	// CommitSuperseded means a newer image arrived during the run; only the in-progress flag was cleared.
	CommitSuperseded CommitState = "superseded"
	// CommitMissing means the submission no longer exists; nothing was written.
	CommitMissing CommitState = "missing"
	// CommitOrphaned means the run no longer owns the submission (the flag was already cleared); nothing was written.
	CommitOrphaned CommitState = "orphaned"
)

// CommitRequest carries a finished analysis back to the store.
type CommitRequest struct {
	SubmissionID    SubmissionID
	ExpectedVersion int64
	ImageID         string
	Report          Report
	Outcome         Outcome
}

// CommitResult is the store's decision plus the submission as it stands afterwards.
type CommitResult struct {
	State      CommitState
	Submission Submission
}

// LoadSubmission reads the current state of a submission.
func (s *Service) LoadSubmission(ctx context.Context, id SubmissionID) (Submission, error) {
	var submission Submission
	err := s.db.WithContext(ctx).Where("id = ?", id.String()).Take(&submission).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Submission{}, newServiceError(opLoad, "not_found", ErrSubmissionNotFound)
	}
	if err != nil {
		s.logError(opLoad, "select_failed", err, zap.String("submission_id", id.String()))
		return Submission{}, newServiceError(opLoad, "select_failed", err)
	}
	return submission, nil
}

// BeginValidation claims the submission for an analysis run. It returns false
// when the submission is missing, not pending, or already claimed. The claim is
// a conditional update on the in-progress flag inside the locking transaction,
// so two racing callers cannot both observe success on stores with atomic
// conditional writes.
func (s *Service) BeginValidation(ctx context.Context, id SubmissionID) (bool, error) {
	acquired := false
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.lockSubmission(tx, opBeginValidation, id)
		if errors.Is(err, ErrSubmissionNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		lifecycle, err := LifecycleOf(current)
		if err != nil {
			s.logError(opBeginValidation, "inconsistent_state", err, zap.String("submission_id", current.ID))
			return nil
		}
		if _, err := lifecycle.StartValidation(); err != nil {
			return nil
		}

		now := s.clock().UTC()
		result := tx.Model(&Submission{}).
			Where("id = ? AND validation_in_progress = ?", current.ID, false).
			Updates(map[string]interface{}{
				"validation_in_progress": true,
				"validation_started_at":  now,
			})
		if result.Error != nil {
			s.logError(opBeginValidation, "update_failed", result.Error, zap.String("submission_id", current.ID))
			return newServiceError(opBeginValidation, "update_failed", result.Error)
		}
		acquired = result.RowsAffected == 1
		return nil
	})
	if txErr != nil {
		return false, txErr
	}
	return acquired, nil
}

// LatestImage returns the most recently created image, or nil when there is none.
func (s *Service) LatestImage(ctx context.Context, id SubmissionID) (*Image, error) {
	image, err := latestImage(s.db.WithContext(ctx), id.String())
	if err != nil {
		s.logError(opLatestImage, "select_failed", err, zap.String("submission_id", id.String()))
		return nil, newServiceError(opLatestImage, "select_failed", err)
	}
	return image, nil
}

func latestImage(db *gorm.DB, submissionID string) (*Image, error) {
	var images []Image
	if err := db.Where("submission_id = ?", submissionID).
		Order("created_at DESC").Order("id DESC").
		Limit(1).
		Find(&images).Error; err != nil {
		return nil, err
	}
	if len(images) == 0 {
		return nil, nil
	}
	return &images[0], nil
}

// CommitValidation re-reads the submission under lock and applies the outcome
// only when the version still matches and no newer image has arrived.
func (s *Service) CommitValidation(ctx context.Context, request CommitRequest) (CommitResult, error) {
	var before, after Submission
	result := CommitResult{}
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.lockSubmission(tx, opCommitValidation, request.SubmissionID)
		if errors.Is(err, ErrSubmissionNotFound) {
			result.State = CommitMissing
			return nil
		}
		if err != nil {
			return err
		}
		before = current

		if !current.ValidationInProgress {
			result.State = CommitOrphaned
			result.Submission = current
			return nil
		}

		if current.Version != request.ExpectedVersion {
			result.State = CommitStale
			return s.releaseFlag(tx, opCommitValidation, &current, &result, &after)
		}

		if request.ImageID != "" {
			newest, err := latestImage(tx, current.ID)
			if err != nil {
				s.logError(opCommitValidation, "image_select_failed", err, zap.String("submission_id", current.ID))
				return newServiceError(opCommitValidation, "image_select_failed", err)
			}
			if newest != nil && newest.ID != request.ImageID {
				result.State = CommitSuperseded
				return s.releaseFlag(tx, opCommitValidation, &current, &result, &after)
			}
		}

		lifecycle, err := LifecycleOf(current)
		if err != nil {
			s.logError(opCommitValidation, "inconsistent_state", err, zap.String("submission_id", current.ID))
			return newServiceError(opCommitValidation, "inconsistent_state", err)
		}
		next, err := lifecycle.FinishValidation(request.Outcome)
		if err != nil {
			s.logError(opCommitValidation, "illegal_outcome", err, zap.String("submission_id", current.ID))
			return newServiceError(opCommitValidation, "illegal_outcome", err)
		}

		now := s.clock().UTC()
		if err := s.appendResult(tx, opCommitValidation, current, request.ImageID, request.Report, now); err != nil {
			return err
		}

		updated := current
		next.Apply(&updated)
		updated.ValidationStartedAt = nil
		updated.UpdatedAt = now
		if err := s.saveLifecycle(tx, opCommitValidation, updated); err != nil {
			return err
		}
		result.State = CommitApplied
		result.Submission = updated
		after = updated
		return nil
	})
	if txErr != nil {
		return CommitResult{}, txErr
	}

	if after.ID != "" {
		s.publishUpdate(before, after)
	}
	return result, nil
}

// FlagValidation ends a run that could not produce a verdict: it appends the
// synthetic report, sets needsAttention, and clears the in-progress flag.
// When an image newer than imageID (empty meaning none) arrived during the run,
// nothing is recorded: the flag is released and CommitSuperseded is returned so
// the caller can schedule a fresh run.
func (s *Service) FlagValidation(ctx context.Context, id SubmissionID, imageID string, report Report) (CommitResult, error) {
	return s.flag(ctx, opFlagValidation, id, imageID, report, nil)
}

// ReleaseStuckValidations flags every run that has held the in-progress flag
// since before the cutoff and returns the released submissions.
func (s *Service) ReleaseStuckValidations(ctx context.Context, cutoff time.Time, report Report) ([]Submission, error) {
	var candidates []Submission
	if err := s.db.WithContext(ctx).
		Where("validation_in_progress = ?", true).
		Where("validation_started_at IS NULL OR validation_started_at < ?", cutoff).
		Find(&candidates).Error; err != nil {
		s.logError(opReleaseStuck, "query_failed", err)
		return nil, newServiceError(opReleaseStuck, "query_failed", err)
	}

	stillStuck := func(current Submission) bool {
		if !current.ValidationInProgress {
			return false
		}
		return current.ValidationStartedAt == nil || current.ValidationStartedAt.Before(cutoff)
	}

	released := make([]Submission, 0, len(candidates))
	for _, candidate := range candidates {
		flagged, err := s.flag(ctx, opReleaseStuck, SubmissionID(candidate.ID), "", report, stillStuck)
		if errors.Is(err, errNotStuck) || errors.Is(err, ErrSubmissionNotFound) {
			continue
		}
		if err != nil {
			return released, err
		}
		released = append(released, flagged.Submission)
	}
	return released, nil
}

// UnvalidatedSubmissions lists pending submissions, untouched since before
// cutoff, that have neither a run in progress, an attention flag, nor a result
// for their current version. These are runs whose trigger never fired.
func (s *Service) UnvalidatedSubmissions(ctx context.Context, cutoff time.Time, limit int) ([]Submission, error) {
	if limit <= 0 || limit > maxPageLimit {
		limit = maxPageLimit
	}
	var backlog []Submission
	err := s.db.WithContext(ctx).
		Where("status = ? AND validation_in_progress = ? AND needs_attention = ?", StatusPending, false, false).
		Where("updated_at < ?", cutoff).
		Where("NOT EXISTS (?)", s.db.Model(&ValidationResult{}).
			Select("1").
			Where("submission_validation_results.submission_id = submissions.id").
			Where("submission_validation_results.submission_version = submissions.version")).
		Order("updated_at ASC").
		Limit(limit).
		Find(&backlog).Error
	if err != nil {
		s.logError(opUnvalidated, "query_failed", err)
		return nil, newServiceError(opUnvalidated, "query_failed", err)
	}
	return backlog, nil
}

var errNotStuck = errors.New("submissions: validation no longer stuck")

func (s *Service) flag(ctx context.Context, operation string, id SubmissionID, imageID string, report Report, guard func(Submission) bool) (CommitResult, error) {
	var before, after Submission
	result := CommitResult{}
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.lockSubmission(tx, operation, id)
		if err != nil {
			return err
		}
		if guard != nil && !guard(current) {
			return errNotStuck
		}
		before = current

		// The sweeper releases on a timeout and never defers to a newer image.
		if guard == nil && current.ValidationInProgress {
			newest, err := latestImage(tx, current.ID)
			if err != nil {
				s.logError(operation, "image_select_failed", err, zap.String("submission_id", current.ID))
				return newServiceError(operation, "image_select_failed", err)
			}
			if newest != nil && newest.ID != imageID {
				result.State = CommitSuperseded
				return s.releaseFlag(tx, operation, &current, &result, &after)
			}
		}

		next := Pending(false, true)
		if lifecycle, err := LifecycleOf(current); err == nil {
			if lifecycle.Validating() {
				next, _ = lifecycle.FlagValidation()
			} else if lifecycle.Phase() != PhasePending {
				next = lifecycle.ReleaseValidation()
			}
		}

		now := s.clock().UTC()
		if err := s.appendResult(tx, operation, current, imageID, report, now); err != nil {
			return err
		}

		updated := current
		next.Apply(&updated)
		updated.ValidationStartedAt = nil
		updated.UpdatedAt = now
		if err := s.saveLifecycle(tx, operation, updated); err != nil {
			return err
		}
		result.State = CommitApplied
		result.Submission = updated
		after = updated
		return nil
	})
	if txErr != nil {
		return CommitResult{}, txErr
	}

	s.publishUpdate(before, after)
	return result, nil
}

func (s *Service) releaseFlag(tx *gorm.DB, operation string, current *Submission, result *CommitResult, after *Submission) error {
	updated := *current
	updated.ValidationInProgress = false
	updated.ValidationStartedAt = nil
	if err := tx.Model(&Submission{}).
		Where("id = ?", current.ID).
		Updates(map[string]interface{}{
			"validation_in_progress": false,
			"validation_started_at":  nil,
		}).Error; err != nil {
		s.logError(operation, "release_failed", err, zap.String("submission_id", current.ID))
		return newServiceError(operation, "release_failed", err)
	}
	result.Submission = updated
	*after = updated
	return nil
}

func (s *Service) appendResult(tx *gorm.DB, operation string, current Submission, imageID string, report Report, at time.Time) error {
	resultID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(operation, "id_generation_failed", err, zap.String("submission_id", current.ID))
		return newServiceError(operation, "id_generation_failed", err)
	}
	record, err := newValidationResult(resultID, current.ID, current.Version, imageID, report, at)
	if err != nil {
		s.logError(operation, "result_encode_failed", err, zap.String("submission_id", current.ID))
		return newServiceError(operation, "result_encode_failed", err)
	}
	if err := tx.Create(&record).Error; err != nil {
		s.logError(operation, "result_insert_failed", err, zap.String("submission_id", current.ID))
		return newServiceError(operation, "result_insert_failed", err)
	}
	return nil
}

// saveLifecycle writes only lifecycle columns so the version is never touched.
func (s *Service) saveLifecycle(tx *gorm.DB, operation string, updated Submission) error {
	if err := tx.Model(&Submission{}).
		Where("id = ?", updated.ID).
		Updates(map[string]interface{}{
			"status":                 updated.Status,
			"needs_attention":        updated.NeedsAttention,
			"validation_in_progress": updated.ValidationInProgress,
			"validation_started_at":  updated.ValidationStartedAt,
			"updated_at":             updated.UpdatedAt,
		}).Error; err != nil {
		s.logError(operation, "update_failed", err, zap.String("submission_id", updated.ID))
		return newServiceError(operation, "update_failed", err)
	}
	return nil
}
