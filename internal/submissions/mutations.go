package submissions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const maxImageBytes = 10 * 1024 * 1024

var acceptedImageMimeTypes = map[string]struct{}{
	"image/jpeg": {},
	"image/png":  {},
	"image/webp": {},
	"image/tiff": {},
}

// EditRequest replaces the form content of a pending submission.
type EditRequest struct {
	Owner           UserID
	SubmissionID    SubmissionID
	ExpectedVersion *int64
	Form            Form
}

// ReviewRequest records an admin decision.
type ReviewRequest struct {
	AdminID        UserID
	SubmissionID   SubmissionID
	Action         ReviewAction
	FeedbackToUser *string
	InternalNotes  *string
}

// ImageRequest registers an uploaded label image.
type ImageRequest struct {
	Owner            UserID
	SubmissionID     SubmissionID
	ImageType        ImageType
	StoragePath      string
	DownloadURL      string
	OriginalFilename string
	MimeType         string
	FileSize         int64
}

// EditSubmission applies an owner edit under the version guard and bumps the version.
func (s *Service) EditSubmission(ctx context.Context, request EditRequest) (Submission, error) {
	if fieldErrs := request.Form.Validate(); fieldErrs != nil {
		return Submission{}, newServiceError(opEdit, "invalid_form", fieldErrs)
	}
	changesJSON, err := json.Marshal(request.Form)
	if err != nil {
		return Submission{}, newServiceError(opEdit, "form_encode_failed", err)
	}

	var before, after Submission
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.lockOwned(tx, opEdit, request.SubmissionID, request.Owner)
		if err != nil {
			return err
		}
		before = current

		lifecycle, err := LifecycleOf(current)
		if err != nil {
			s.logError(opEdit, "inconsistent_state", err, zap.String("submission_id", current.ID))
			return newServiceError(opEdit, "inconsistent_state", err)
		}
		if _, err := lifecycle.Edit(); err != nil {
			if lifecycle.Validating() {
				return newServiceError(opEdit, "validation_in_progress", ErrValidationInProgress)
			}
			return newServiceError(opEdit, "invalid_status", fmt.Errorf("%w: only pending submissions can be edited", ErrInvalidStatus))
		}
		if request.ExpectedVersion != nil && *request.ExpectedVersion != current.Version {
			return newServiceError(opEdit, "version_conflict", ErrVersionConflict)
		}

		if err := s.appendHistory(tx, opEdit, current, string(changesJSON), request.Owner.String()); err != nil {
			return err
		}

		updated := current
		if err := request.Form.applyTo(&updated); err != nil {
			return newServiceError(opEdit, "form_encode_failed", err)
		}
		updated.Version = nextVersion(current.Version)
		updated.UpdatedAt = s.clock().UTC()
		if err := tx.Save(&updated).Error; err != nil {
			s.logError(opEdit, "update_failed", err, zap.String("submission_id", current.ID))
			return newServiceError(opEdit, "update_failed", err)
		}
		after = updated
		return nil
	})
	if txErr != nil {
		return Submission{}, txErr
	}

	s.publishUpdate(before, after)
	return after, nil
}

// Resubmit returns a needs_revision submission to the pending queue and bumps the version.
func (s *Service) Resubmit(ctx context.Context, owner UserID, id SubmissionID) (Submission, error) {
	var before, after Submission
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.lockOwned(tx, opResubmit, id, owner)
		if err != nil {
			return err
		}
		before = current

		lifecycle, err := LifecycleOf(current)
		if err != nil {
			s.logError(opResubmit, "inconsistent_state", err, zap.String("submission_id", current.ID))
			return newServiceError(opResubmit, "inconsistent_state", err)
		}
		next, err := lifecycle.Resubmit()
		if err != nil {
			return newServiceError(opResubmit, "invalid_status",
				fmt.Errorf("%w: only submissions with 'Needs Revision' status can be resubmitted", ErrInvalidStatus))
		}

		if err := s.appendHistory(tx, opResubmit, current, `{"action":"resubmit"}`, owner.String()); err != nil {
			return err
		}

		updated := current
		next.Apply(&updated)
		updated.ValidationStartedAt = nil
		updated.Version = nextVersion(current.Version)
		updated.UpdatedAt = s.clock().UTC()
		if err := tx.Save(&updated).Error; err != nil {
			s.logError(opResubmit, "update_failed", err, zap.String("submission_id", current.ID))
			return newServiceError(opResubmit, "update_failed", err)
		}
		after = updated
		return nil
	})
	if txErr != nil {
		return Submission{}, txErr
	}

	s.publishUpdate(before, after)
	return after, nil
}

// ValidateReview checks the action and the feedback rules without touching the store.
func ValidateReview(action ReviewAction, feedback *string) error {
	switch action {
	case ReviewActionApproved, ReviewActionNeedsRevision, ReviewActionRejected:
	default:
		return fmt.Errorf("%w: Action must be one of: approved, needs_revision, rejected", ErrInvalidReview)
	}
	if optional(feedback) == nil {
		switch action {
		case ReviewActionNeedsRevision:
			return fmt.Errorf("%w: Feedback to user is required when requesting revision", ErrInvalidReview)
		case ReviewActionRejected:
			return fmt.Errorf("%w: Rejection reason is required", ErrInvalidReview)
		}
	}
	return nil
}

// ReviewSubmission records an admin decision and moves the submission to the chosen status.
func (s *Service) ReviewSubmission(ctx context.Context, request ReviewRequest) (Review, error) {
	if err := ValidateReview(request.Action, request.FeedbackToUser); err != nil {
		return Review{}, newServiceError(opReview, "invalid_review", err)
	}

	var before, after Submission
	var review Review
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.lockSubmission(tx, opReview, request.SubmissionID)
		if err != nil {
			return err
		}
		before = current

		lifecycle, err := LifecycleOf(current)
		if err != nil {
			s.logError(opReview, "inconsistent_state", err, zap.String("submission_id", current.ID))
			return newServiceError(opReview, "inconsistent_state", err)
		}
		next, err := lifecycle.Review(request.Action)
		if err != nil {
			return newServiceError(opReview, "validation_in_progress", ErrValidationInProgress)
		}

		reviewID, err := s.idProvider.NewID()
		if err != nil {
			s.logError(opReview, "id_generation_failed", err, zap.String("submission_id", current.ID))
			return newServiceError(opReview, "id_generation_failed", err)
		}
		now := s.clock().UTC()
		review = Review{
			ID:             reviewID,
			SubmissionID:   current.ID,
			AdminID:        request.AdminID.String(),
			Action:         request.Action,
			FeedbackToUser: optional(request.FeedbackToUser),
			InternalNotes:  optional(request.InternalNotes),
			CreatedAt:      now,
		}
		if err := tx.Create(&review).Error; err != nil {
			s.logError(opReview, "review_insert_failed", err, zap.String("submission_id", current.ID))
			return newServiceError(opReview, "review_insert_failed", err)
		}

		changes := fmt.Sprintf(`{"action":"admin_review","reviewAction":%q}`, request.Action)
		if err := s.appendHistory(tx, opReview, current, changes, request.AdminID.String()); err != nil {
			return err
		}

		updated := current
		next.Apply(&updated)
		updated.UpdatedAt = now
		if err := tx.Save(&updated).Error; err != nil {
			s.logError(opReview, "update_failed", err, zap.String("submission_id", current.ID))
			return newServiceError(opReview, "update_failed", err)
		}
		after = updated
		return nil
	})
	if txErr != nil {
		return Review{}, txErr
	}

	s.publishUpdate(before, after)
	return review, nil
}

// AddImage registers an uploaded label image. Images can be added while the
// submission is pending or awaiting revision.
func (s *Service) AddImage(ctx context.Context, request ImageRequest) (Image, error) {
	if err := validateImage(request); err != nil {
		return Image{}, newServiceError(opAddImage, "invalid_image", err)
	}

	var image Image
	var parent Submission
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.lockOwned(tx, opAddImage, request.SubmissionID, request.Owner)
		if err != nil {
			return err
		}
		if current.Status != StatusPending && current.Status != StatusNeedsRevision {
			return newServiceError(opAddImage, "invalid_status",
				fmt.Errorf("%w: images can only be added to pending or needs_revision submissions", ErrInvalidStatus))
		}

		imageID, err := s.idProvider.NewID()
		if err != nil {
			s.logError(opAddImage, "id_generation_failed", err, zap.String("submission_id", current.ID))
			return newServiceError(opAddImage, "id_generation_failed", err)
		}
		image = Image{
			ID:               imageID,
			SubmissionID:     current.ID,
			ImageType:        request.ImageType,
			StoragePath:      strings.TrimSpace(request.StoragePath),
			DownloadURL:      strings.TrimSpace(request.DownloadURL),
			OriginalFilename: strings.TrimSpace(request.OriginalFilename),
			MimeType:         request.MimeType,
			FileSize:         request.FileSize,
			CreatedAt:        s.clock().UTC(),
		}
		if err := tx.Create(&image).Error; err != nil {
			s.logError(opAddImage, "insert_failed", err, zap.String("submission_id", current.ID))
			return newServiceError(opAddImage, "insert_failed", err)
		}
		parent = current
		return nil
	})
	if txErr != nil {
		return Image{}, txErr
	}

	added := image
	s.events.Publish(Event{Kind: EventImageAdded, SubmissionID: image.SubmissionID, After: &parent, Image: &added})
	return image, nil
}

func validateImage(request ImageRequest) error {
	switch request.ImageType {
	case ImageTypeBrandFront, ImageTypeBack, ImageTypeOther:
	default:
		return fmt.Errorf("%w: image type must be one of brand_front, back, other", ErrInvalidImage)
	}
	if _, ok := acceptedImageMimeTypes[strings.ToLower(request.MimeType)]; !ok {
		return fmt.Errorf("%w: File must be JPEG, PNG, WebP, or TIFF", ErrInvalidImage)
	}
	if request.FileSize <= 0 || request.FileSize > maxImageBytes {
		return fmt.Errorf("%w: File must be under 10 MB", ErrInvalidImage)
	}
	if strings.TrimSpace(request.StoragePath) == "" && strings.TrimSpace(request.DownloadURL) == "" {
		return fmt.Errorf("%w: storage path or download url is required", ErrInvalidImage)
	}
	return nil
}

func (s *Service) lockSubmission(tx *gorm.DB, operation string, id SubmissionID) (Submission, error) {
	var current Submission
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id.String()).
		Take(&current).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Submission{}, newServiceError(operation, "not_found", ErrSubmissionNotFound)
	}
	if err != nil {
		s.logError(operation, "select_failed", err, zap.String("submission_id", id.String()))
		return Submission{}, newServiceError(operation, "select_failed", err)
	}
	return current, nil
}

func (s *Service) lockOwned(tx *gorm.DB, operation string, id SubmissionID, owner UserID) (Submission, error) {
	current, err := s.lockSubmission(tx, operation, id)
	if err != nil {
		return Submission{}, err
	}
	if current.UserID != owner.String() {
		return Submission{}, newServiceError(operation, "not_found", ErrSubmissionNotFound)
	}
	return current, nil
}

func (s *Service) appendHistory(tx *gorm.DB, operation string, current Submission, changesJSON, changedBy string) error {
	historyID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(operation, "id_generation_failed", err, zap.String("submission_id", current.ID))
		return newServiceError(operation, "id_generation_failed", err)
	}
	entry := HistoryEntry{
		ID:           historyID,
		SubmissionID: current.ID,
		Version:      current.Version,
		ChangesJSON:  changesJSON,
		ChangedBy:    changedBy,
		CreatedAt:    s.clock().UTC(),
	}
	if err := tx.Create(&entry).Error; err != nil {
		s.logError(operation, "history_insert_failed", err, zap.String("submission_id", current.ID))
		return newServiceError(operation, "history_insert_failed", err)
	}
	return nil
}

func (s *Service) publishUpdate(before, after Submission) {
	s.events.Publish(Event{
		Kind:         EventSubmissionUpdated,
		SubmissionID: after.ID,
		Before:       &before,
		After:        &after,
	})
}

func nextVersion(current int64) int64 {
	if current < 1 {
		return 2
	}
	return current + 1
}
