package validation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/andychuong/ttb-label-verification/internal/metrics"
	"github.com/andychuong/ttb-label-verification/internal/submissions"
	"go.uber.org/zap"
)

const (
	checkImagePresent = "image_present"
	checkSystemError  = "system_error"
	noImageMessage    = "No label image was found for this submission. Upload an image and resubmit."
)

var (
	errMissingStore    = errors.New("validation: store is required")
	errMissingAnalyzer = errors.New("validation: analyzer is required")
	errMissingImageURL = errors.New("image document missing download url")
)

// RunState is the terminal state of one orchestrator run.
type RunState string

const (
	// RunSkipped means the run never started: the submission was missing, not pending, or already claimed.
	RunSkipped RunState = "skipped"
	// RunCompleted means a result was stored and the classifier outcome applied.
	RunCompleted RunState = "completed"
	// RunStaleDiscarded means the version moved during analysis and the result was dropped.
	RunStaleDiscarded RunState = "stale_discarded"
	// RunSuperseded means a newer image arrived during analysis and the result was dropped.
	RunSuperseded RunState = "superseded"
	// RunNoImage means the submission had no image; an error result was stored.
	RunNoImage RunState = "no_image"
	// RunFailed means the run errored; a system_error result was stored.
	RunFailed RunState = "failed"
	// RunAbandoned means the submission vanished or was released by someone else before commit.
	RunAbandoned RunState = "abandoned"
	// RunTimedOut means the sweeper released a run that held the flag too long.
	RunTimedOut RunState = "timed_out"
)

// Store is the persistence the orchestrator drives.
type Store interface {
	BeginValidation(ctx context.Context, id submissions.SubmissionID) (bool, error)
	LatestImage(ctx context.Context, id submissions.SubmissionID) (*submissions.Image, error)
	CommitValidation(ctx context.Context, request submissions.CommitRequest) (submissions.CommitResult, error)
	FlagValidation(ctx context.Context, id submissions.SubmissionID, imageID string, report submissions.Report) (submissions.CommitResult, error)
}

// AnalysisRequest is the analyzer input: the projected form and one image.
type AnalysisRequest struct {
	SubmissionID string
	Form         FormData
	ImageURL     string
}

// Analyzer compares a label image with form data. Implementations must not
// touch submission state.
type Analyzer interface {
	Analyze(ctx context.Context, request AnalysisRequest) (submissions.Report, error)
}

// ImageResolver turns a stored image into a URL the analyzer can fetch.
type ImageResolver interface {
	ResolveURL(ctx context.Context, image submissions.Image) (string, error)
}

// DownloadURLResolver uses the image's recorded download URL.
type DownloadURLResolver struct{}

func (DownloadURLResolver) ResolveURL(_ context.Context, image submissions.Image) (string, error) {
	return image.DownloadURL, nil
}

// Requeuer schedules a fresh run against the submission's current version.
type Requeuer interface {
	Requeue(submissionID string)
}

// RunRequest starts one run. Image is optional; when nil the newest stored
// image is analyzed. ImageURL, when set, is the already resolved URL of Image.
type RunRequest struct {
	SubmissionID    submissions.SubmissionID
	Snapshot        submissions.Submission
	ExpectedVersion int64
	Image           *submissions.Image
	ImageURL        string
}

// RunReport summarizes a finished run.
type RunReport struct {
	State   RunState
	Outcome *submissions.Outcome
	Err     error
}

type OrchestratorConfig struct {
	Store    Store
	Analyzer Analyzer
	Images   ImageResolver
	Retry    RetryPolicy
	Notifier Notifier
	Requeuer Requeuer
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Orchestrator runs the validation state machine for one submission at a time.
type Orchestrator struct {
	store    Store
	analyzer Analyzer
	images   ImageResolver
	retry    RetryPolicy
	notifier Notifier
	requeuer Requeuer
	clock    func() time.Time
	logger   *zap.Logger
}

func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.Analyzer == nil {
		return nil, errMissingAnalyzer
	}
	images := cfg.Images
	if images == nil {
		images = DownloadURLResolver{}
	}
	retry := cfg.Retry
	if retry.MaxAttempts <= 0 {
		retry = DefaultRetryPolicy()
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = Notifiers{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		store:    cfg.Store,
		analyzer: cfg.Analyzer,
		images:   images,
		retry:    retry,
		notifier: notifier,
		requeuer: cfg.Requeuer,
		clock:    clock,
		logger:   logger,
	}, nil
}

// Run executes one validation pass. It never returns an error to the caller:
// every outcome is recorded on the submission and reported through the notifier.
func (o *Orchestrator) Run(ctx context.Context, request RunRequest) (report RunReport) {
	logger := o.logger.With(
		zap.String("submission_id", request.SubmissionID.String()),
		zap.Int64("expected_version", request.ExpectedVersion))

	acquired, err := o.store.BeginValidation(ctx, request.SubmissionID)
	if err != nil {
		logger.Error("failed to mark validation in progress", zap.Error(err))
		metrics.ValidationRunsTotal.WithLabelValues(string(RunSkipped)).Inc()
		return RunReport{State: RunSkipped, Err: err}
	}
	if !acquired {
		logger.Info("validation not started: submission missing, not pending, or already validating")
		metrics.ValidationRunsTotal.WithLabelValues(string(RunSkipped)).Inc()
		return RunReport{State: RunSkipped}
	}

	startedAt := o.clock()
	defer func() {
		metrics.ValidationRunsTotal.WithLabelValues(string(report.State)).Inc()
		metrics.ValidationRunDurationSeconds.WithLabelValues(string(report.State)).Observe(o.clock().Sub(startedAt).Seconds())
	}()
	analyzedImageID := ""
	defer func() {
		if recovered := recover(); recovered != nil {
			report = o.fail(ctx, logger, request, analyzedImageID, fmt.Errorf("panic: %v", recovered))
		}
	}()

	image := request.Image
	imageURL := ""
	if image != nil {
		imageURL = request.ImageURL
	} else {
		latest, err := o.store.LatestImage(ctx, request.SubmissionID)
		if err != nil {
			return o.fail(ctx, logger, request, "", err)
		}
		if latest == nil {
			return o.noImage(ctx, logger, request)
		}
		image = latest
	}
	analyzedImageID = image.ID

	if imageURL == "" {
		imageURL, err = o.images.ResolveURL(ctx, *image)
		if err != nil {
			return o.fail(ctx, logger, request, image.ID, err)
		}
	}
	if imageURL == "" {
		return o.fail(ctx, logger, request, image.ID, errMissingImageURL)
	}

	analysisRequest := AnalysisRequest{
		SubmissionID: request.SubmissionID.String(),
		Form:         ProjectForm(request.Snapshot),
		ImageURL:     imageURL,
	}
	policy := o.retry
	policy.Logger = logger
	policy.OnAttempt = func(_ int, err error) {
		if err != nil {
			metrics.AnalyzerAttemptsTotal.WithLabelValues("failure").Inc()
			return
		}
		metrics.AnalyzerAttemptsTotal.WithLabelValues("success").Inc()
	}
	analysis, err := Retry(ctx, policy, func(ctx context.Context) (submissions.Report, error) {
		return o.analyzer.Analyze(ctx, analysisRequest)
	})
	if err != nil {
		return o.fail(ctx, logger, request, image.ID, err)
	}

	outcome := Classify(analysis)
	commit, err := o.store.CommitValidation(ctx, submissions.CommitRequest{
		SubmissionID:    request.SubmissionID,
		ExpectedVersion: request.ExpectedVersion,
		ImageID:         image.ID,
		Report:          analysis,
		Outcome:         outcome,
	})
	if err != nil {
		return o.fail(ctx, logger, request, image.ID, err)
	}

	switch commit.State {
	case submissions.CommitApplied:
		logger.Info("validation complete",
			zap.String("status", string(commit.Submission.Status)),
			zap.Bool("needs_attention", commit.Submission.NeedsAttention),
			zap.String("confidence", string(analysis.Confidence)))
		o.notify(ctx, RunCompleted, commit.Submission, "")
		return RunReport{State: RunCompleted, Outcome: &outcome}
	case submissions.CommitStale:
		logger.Info("submission version changed during validation, discarding stale result",
			zap.Int64("current_version", commit.Submission.Version))
		o.notify(ctx, RunStaleDiscarded, commit.Submission, "")
		o.requeue(request.SubmissionID)
		return RunReport{State: RunStaleDiscarded}
	case submissions.CommitSuperseded:
		logger.Info("newer image arrived during validation, discarding result", zap.String("image_id", image.ID))
		o.notify(ctx, RunSuperseded, commit.Submission, "")
		o.requeue(request.SubmissionID)
		return RunReport{State: RunSuperseded}
	case submissions.CommitMissing:
		logger.Warn("submission deleted during validation")
		return RunReport{State: RunAbandoned}
	default:
		logger.Warn("validation flag released before commit, dropping result")
		return RunReport{State: RunAbandoned}
	}
}

func (o *Orchestrator) noImage(ctx context.Context, logger *zap.Logger, request RunRequest) RunReport {
	logger.Warn("no images found for submission")
	flagged, err := o.store.FlagValidation(context.WithoutCancel(ctx), request.SubmissionID, "", NoImageReport())
	if err != nil {
		logger.Error("failed to record missing image", zap.Error(err))
		return RunReport{State: RunNoImage, Err: err}
	}
	if flagged.State == submissions.CommitSuperseded {
		return o.supersede(ctx, logger, flagged.Submission)
	}
	o.notify(ctx, RunNoImage, flagged.Submission, noImageMessage)
	return RunReport{State: RunNoImage}
}

func (o *Orchestrator) fail(ctx context.Context, logger *zap.Logger, request RunRequest, imageID string, cause error) RunReport {
	logger.Error("validation failed", zap.Error(cause))
	errorReport := SystemErrorReport(cause.Error())
	flagged, err := o.store.FlagValidation(context.WithoutCancel(ctx), request.SubmissionID, imageID, errorReport)
	if err != nil {
		logger.Error("failed to update submission after validation error", zap.Error(err))
		return RunReport{State: RunFailed, Err: errors.Join(cause, err)}
	}
	if flagged.State == submissions.CommitSuperseded {
		report := o.supersede(ctx, logger, flagged.Submission)
		report.Err = cause
		return report
	}
	o.notify(ctx, RunFailed, flagged.Submission, errorReport.ComplianceWarnings[0].Message)
	return RunReport{State: RunFailed, Err: cause}
}

// supersede hands the submission to a fresh run after an image arrived mid-run.
func (o *Orchestrator) supersede(ctx context.Context, logger *zap.Logger, submission submissions.Submission) RunReport {
	logger.Info("newer image arrived during validation, scheduling a fresh run")
	o.notify(ctx, RunSuperseded, submission, "")
	o.requeue(submissions.SubmissionID(submission.ID))
	return RunReport{State: RunSuperseded}
}

func (o *Orchestrator) notify(ctx context.Context, state RunState, submission submissions.Submission, message string) {
	o.notifier.ValidationFinished(context.WithoutCancel(ctx), RunOutcome{
		SubmissionID:   submission.ID,
		OwnerID:        submission.UserID,
		State:          state,
		Status:         submission.Status,
		NeedsAttention: submission.NeedsAttention,
		Version:        submission.Version,
		Message:        message,
		At:             o.clock().UTC(),
	})
}

func (o *Orchestrator) requeue(id submissions.SubmissionID) {
	if o.requeuer == nil {
		return
	}
	o.requeuer.Requeue(id.String())
}

// NoImageReport is the result recorded when a run finds no label image.
func NoImageReport() submissions.Report {
	return submissions.Report{
		ExtractedText: "",
		FieldResults:  []submissions.FieldResult{},
		ComplianceWarnings: []submissions.ComplianceWarning{{
			Check:    checkImagePresent,
			Message:  noImageMessage,
			Severity: submissions.SeverityError,
		}},
		OverallPass: false,
		Confidence:  submissions.ConfidenceLow,
	}
}

// SystemErrorReport is the result recorded when a run fails.
func SystemErrorReport(message string) submissions.Report {
	raw, _ := json.Marshal(map[string]string{"error": message})
	return submissions.Report{
		ExtractedText: "",
		FieldResults:  []submissions.FieldResult{},
		ComplianceWarnings: []submissions.ComplianceWarning{{
			Check:    checkSystemError,
			Message:  fmt.Sprintf("Validation failed: %s. Flagged for admin review.", message),
			Severity: submissions.SeverityError,
		}},
		OverallPass: false,
		Confidence:  submissions.ConfidenceLow,
		Raw:         raw,
	}
}
