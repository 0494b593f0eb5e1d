package submissions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()

	// ErrSubmissionNotFound indicates the submission does not exist or is not visible to the caller.
	ErrSubmissionNotFound = errors.New("submissions: submission not found")
	// ErrValidationInProgress indicates an analysis run currently owns the submission.
	ErrValidationInProgress = errors.New("submissions: validation in progress")
	// ErrVersionConflict indicates the caller's expected version is outdated.
	ErrVersionConflict = errors.New("submissions: version conflict")
	// ErrInvalidStatus indicates the operation is not allowed in the current status.
	ErrInvalidStatus = errors.New("submissions: invalid status for operation")
	// ErrInvalidReview indicates an admin review request failed validation.
	ErrInvalidReview = errors.New("submissions: invalid review")
	// ErrInvalidImage indicates an image registration failed validation.
	ErrInvalidImage = errors.New("submissions: invalid image")
)

type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew       = "submissions.service.new"
	opCreate           = "submissions.create"
	opGet              = "submissions.get"
	opList             = "submissions.list"
	opStats            = "submissions.stats"
	opEdit             = "submissions.edit"
	opResubmit         = "submissions.resubmit"
	opReview           = "submissions.review"
	opAddImage         = "submissions.add_image"
	opLoad             = "submissions.load"
	opBeginValidation  = "submissions.begin_validation"
	opLatestImage      = "submissions.latest_image"
	opCommitValidation = "submissions.commit_validation"
	opFlagValidation   = "submissions.flag_validation"
	opReleaseStuck     = "submissions.release_stuck"
	opUnvalidated      = "submissions.unvalidated"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Events     EventSink
	Logger     *zap.Logger
}

// Service is the versioned submission store.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	events     EventSink
	logger     *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	events := cfg.Events
	if events == nil {
		events = discardSink{}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		events:     events,
		logger:     logger,
	}, nil
}

// Viewer identifies the caller of a read.
type Viewer struct {
	UserID UserID
	Admin  bool
}

func (v Viewer) canAccess(submission Submission) bool {
	return v.Admin || submission.UserID == v.UserID.String()
}

// Detail is a submission with its child records.
type Detail struct {
	Submission   Submission
	Images       []Image
	LatestResult *ResultView
	Reviews      []Review
}

// ListFilter narrows a submission listing. An empty OwnerID lists every owner.
type ListFilter struct {
	OwnerID        string
	Status         Status
	ProductType    ProductType
	NeedsAttention bool
	Cursor         string
	Limit          int
}

// Page is one slice of a listing.
type Page struct {
	Submissions []Submission
	Cursor      string
	HasMore     bool
}

// Stats summarizes the queue for the admin dashboard.
type Stats struct {
	Total          int64 `json:"total"`
	Pending        int64 `json:"pending"`
	Approved       int64 `json:"approved"`
	NeedsRevision  int64 `json:"needsRevision"`
	Rejected       int64 `json:"rejected"`
	NeedsAttention int64 `json:"needsAttention"`
}

// CreateSubmission stores a new pending submission at version 1.
func (s *Service) CreateSubmission(ctx context.Context, owner UserID, form Form) (Submission, error) {
	if fieldErrs := form.Validate(); fieldErrs != nil {
		return Submission{}, newServiceError(opCreate, "invalid_form", fieldErrs)
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err, zap.String("user_id", owner.String()))
		return Submission{}, newServiceError(opCreate, "id_generation_failed", err)
	}

	now := s.clock().UTC()
	submission := Submission{
		ID:        id,
		UserID:    owner.String(),
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	Pending(false, false).Apply(&submission)
	if err := form.applyTo(&submission); err != nil {
		return Submission{}, newServiceError(opCreate, "form_encode_failed", err)
	}

	if err := s.db.WithContext(ctx).Create(&submission).Error; err != nil {
		s.logError(opCreate, "insert_failed", err, zap.String("user_id", owner.String()))
		return Submission{}, newServiceError(opCreate, "insert_failed", err)
	}

	created := submission
	s.events.Publish(Event{Kind: EventSubmissionCreated, SubmissionID: id, After: &created})
	return submission, nil
}

// GetSubmission returns the submission with its images, latest result, and reviews.
func (s *Service) GetSubmission(ctx context.Context, viewer Viewer, id SubmissionID) (Detail, error) {
	db := s.db.WithContext(ctx)

	var submission Submission
	err := db.Where("id = ?", id.String()).Take(&submission).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Detail{}, newServiceError(opGet, "not_found", ErrSubmissionNotFound)
	}
	if err != nil {
		s.logError(opGet, "select_failed", err, zap.String("submission_id", id.String()))
		return Detail{}, newServiceError(opGet, "select_failed", err)
	}
	if !viewer.canAccess(submission) {
		return Detail{}, newServiceError(opGet, "not_found", ErrSubmissionNotFound)
	}

	detail := Detail{Submission: submission}
	if err := db.Where("submission_id = ?", submission.ID).
		Order("created_at DESC").Order("id DESC").
		Find(&detail.Images).Error; err != nil {
		s.logError(opGet, "images_select_failed", err, zap.String("submission_id", id.String()))
		return Detail{}, newServiceError(opGet, "images_select_failed", err)
	}

	var results []ValidationResult
	if err := db.Where("submission_id = ?", submission.ID).
		Order("created_at DESC").Order("id DESC").
		Limit(1).
		Find(&results).Error; err != nil {
		s.logError(opGet, "results_select_failed", err, zap.String("submission_id", id.String()))
		return Detail{}, newServiceError(opGet, "results_select_failed", err)
	}
	if len(results) > 0 {
		view, err := results[0].View()
		if err != nil {
			s.logError(opGet, "result_decode_failed", err, zap.String("submission_id", id.String()))
			return Detail{}, newServiceError(opGet, "result_decode_failed", err)
		}
		detail.LatestResult = &view
	}

	if err := db.Where("submission_id = ?", submission.ID).
		Order("created_at DESC").Order("id DESC").
		Find(&detail.Reviews).Error; err != nil {
		s.logError(opGet, "reviews_select_failed", err, zap.String("submission_id", id.String()))
		return Detail{}, newServiceError(opGet, "reviews_select_failed", err)
	}

	return detail, nil
}

// ListSubmissions returns submissions newest first using keyset pagination.
func (s *Service) ListSubmissions(ctx context.Context, filter ListFilter) (Page, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	db := s.db.WithContext(ctx)
	query := db.Model(&Submission{})
	if filter.OwnerID != "" {
		query = query.Where("user_id = ?", filter.OwnerID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.ProductType != "" {
		query = query.Where("product_type = ?", filter.ProductType)
	}
	if filter.NeedsAttention {
		query = query.Where("needs_attention = ?", true)
	}
	if filter.Cursor != "" {
		var cursor Submission
		err := db.Where("id = ?", filter.Cursor).Take(&cursor).Error
		if err == nil {
			query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logError(opList, "cursor_select_failed", err)
			return Page{}, newServiceError(opList, "cursor_select_failed", err)
		}
	}

	var rows []Submission
	if err := query.Order("created_at DESC").Order("id DESC").Limit(limit + 1).Find(&rows).Error; err != nil {
		s.logError(opList, "query_failed", err, zap.String("user_id", filter.OwnerID))
		return Page{}, newServiceError(opList, "query_failed", err)
	}

	page := Page{HasMore: len(rows) > limit}
	if page.HasMore {
		rows = rows[:limit]
	}
	page.Submissions = rows
	if len(rows) > 0 {
		page.Cursor = rows[len(rows)-1].ID
	}
	return page, nil
}

// Stats counts submissions by status and attention flag.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	type statusCount struct {
		Status Status
		Count  int64
	}
	db := s.db.WithContext(ctx)

	var counts []statusCount
	if err := db.Model(&Submission{}).
		Select("status, count(*) AS count").
		Group("status").
		Scan(&counts).Error; err != nil {
		s.logError(opStats, "query_failed", err)
		return Stats{}, newServiceError(opStats, "query_failed", err)
	}

	var stats Stats
	for _, row := range counts {
		stats.Total += row.Count
		switch row.Status {
		case StatusPending:
			stats.Pending = row.Count
		case StatusApproved:
			stats.Approved = row.Count
		case StatusNeedsRevision:
			stats.NeedsRevision = row.Count
		case StatusRejected:
			stats.Rejected = row.Count
		}
	}

	if err := db.Model(&Submission{}).Where("needs_attention = ?", true).Count(&stats.NeedsAttention).Error; err != nil {
		s.logError(opStats, "attention_query_failed", err)
		return Stats{}, newServiceError(opStats, "attention_query_failed", err)
	}
	return stats, nil
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil {
		return noOpLogger
	}
	if s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("submissions service error", attrs...)
}
