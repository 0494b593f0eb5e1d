package triggers

import (
	"context"
	"errors"

	"github.com/andychuong/ttb-label-verification/internal/metrics"
	"github.com/andychuong/ttb-label-verification/internal/submissions"
	"github.com/andychuong/ttb-label-verification/internal/validation"
	"go.uber.org/zap"
)

var (
	errMissingLoader = errors.New("triggers: submission loader is required")
	errMissingRunner = errors.New("triggers: runner is required")
)

// Loader reads the current state of a submission.
type Loader interface {
	LoadSubmission(ctx context.Context, id submissions.SubmissionID) (submissions.Submission, error)
}

// Runner executes one validation run.
type Runner interface {
	Run(ctx context.Context, request validation.RunRequest) validation.RunReport
}

type HandlerConfig struct {
	Loader Loader
	Runner Runner
	Images validation.ImageResolver
	Logger *zap.Logger
}

// Handler maps domain events to orchestrator runs.
type Handler struct {
	loader Loader
	runner Runner
	images validation.ImageResolver
	logger *zap.Logger
}

func NewHandler(cfg HandlerConfig) (*Handler, error) {
	if cfg.Loader == nil {
		return nil, errMissingLoader
	}
	if cfg.Runner == nil {
		return nil, errMissingRunner
	}
	images := cfg.Images
	if images == nil {
		images = validation.DownloadURLResolver{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{loader: cfg.Loader, runner: cfg.Runner, images: images, logger: logger}, nil
}

// Handle routes a store event to the matching trigger.
func (h *Handler) Handle(ctx context.Context, event submissions.Event) Decision {
	switch event.Kind {
	case submissions.EventImageAdded:
		if event.Image == nil {
			h.logger.Warn("image event without image", zap.String("submission_id", event.SubmissionID))
			return h.record(event.Kind, DecisionIgnore)
		}
		return h.HandleImageAdded(ctx, *event.Image)
	case submissions.EventSubmissionCreated:
		if event.After == nil {
			return h.record(event.Kind, DecisionIgnore)
		}
		return h.HandleCreated(ctx, *event.After)
	case submissions.EventSubmissionUpdated:
		if event.Before == nil || event.After == nil {
			return h.record(event.Kind, DecisionIgnore)
		}
		return h.HandleUpdated(ctx, *event.Before, *event.After)
	default:
		return h.record(event.Kind, DecisionIgnore)
	}
}

// HandleImageAdded analyzes a freshly uploaded image unless a run already owns
// the submission. An image without a fetchable URL is logged and left alone.
func (h *Handler) HandleImageAdded(ctx context.Context, image submissions.Image) Decision {
	parent, decision := h.loadRunnable(ctx, image.SubmissionID)
	if decision != DecisionRun {
		return h.record(submissions.EventImageAdded, decision)
	}
	imageURL, err := h.images.ResolveURL(ctx, image)
	if err != nil || imageURL == "" {
		h.logger.Warn("image has no download url, skipping validation",
			zap.String("submission_id", image.SubmissionID),
			zap.String("image_id", image.ID),
			zap.Error(err))
		return h.record(submissions.EventImageAdded, DecisionSkipNoImageURL)
	}
	uploaded := image
	h.runner.Run(ctx, validation.RunRequest{
		SubmissionID:    submissions.SubmissionID(parent.ID),
		Snapshot:        parent,
		ExpectedVersion: parent.Version,
		Image:           &uploaded,
		ImageURL:        imageURL,
	})
	return h.record(submissions.EventImageAdded, DecisionRun)
}

// HandleCreated validates a new submission; the image is resolved inside the run.
func (h *Handler) HandleCreated(ctx context.Context, created submissions.Submission) Decision {
	h.runner.Run(ctx, validation.RunRequest{
		SubmissionID:    submissions.SubmissionID(created.ID),
		Snapshot:        created,
		ExpectedVersion: created.Version,
	})
	return h.record(submissions.EventSubmissionCreated, DecisionRun)
}

// HandleUpdated revalidates after an edit or resubmit and ignores everything else.
func (h *Handler) HandleUpdated(ctx context.Context, before, after submissions.Submission) Decision {
	if !ShouldRevalidate(before, after) {
		return h.record(submissions.EventSubmissionUpdated, DecisionIgnore)
	}
	h.runner.Run(ctx, validation.RunRequest{
		SubmissionID:    submissions.SubmissionID(after.ID),
		Snapshot:        after,
		ExpectedVersion: after.Version,
	})
	return h.record(submissions.EventSubmissionUpdated, DecisionRun)
}

// Revalidate starts a run against the submission as it stands now.
func (h *Handler) Revalidate(ctx context.Context, submissionID string) Decision {
	current, decision := h.loadRunnable(ctx, submissionID)
	if decision != DecisionRun {
		return h.record(eventRequeue, decision)
	}
	h.runner.Run(ctx, validation.RunRequest{
		SubmissionID:    submissions.SubmissionID(current.ID),
		Snapshot:        current,
		ExpectedVersion: current.Version,
	})
	return h.record(eventRequeue, DecisionRun)
}

const eventRequeue submissions.EventKind = "requeue"

func (h *Handler) loadRunnable(ctx context.Context, rawID string) (submissions.Submission, Decision) {
	id, err := submissions.NewSubmissionID(rawID)
	if err != nil {
		h.logger.Warn("trigger received invalid submission id", zap.Error(err))
		return submissions.Submission{}, DecisionSkipMissing
	}
	current, err := h.loader.LoadSubmission(ctx, id)
	if err != nil {
		h.logger.Warn("trigger could not load submission", zap.String("submission_id", rawID), zap.Error(err))
		return submissions.Submission{}, DecisionSkipMissing
	}
	if current.ValidationInProgress {
		h.logger.Info("validation already in progress, skipping", zap.String("submission_id", rawID))
		return current, DecisionSkipInProgress
	}
	if current.Status != submissions.StatusPending {
		return current, DecisionSkipNotPending
	}
	return current, DecisionRun
}

func (h *Handler) record(kind submissions.EventKind, decision Decision) Decision {
	metrics.TriggerDecisionsTotal.WithLabelValues(string(kind), string(decision)).Inc()
	return decision
}
