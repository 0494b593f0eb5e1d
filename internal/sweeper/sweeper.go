// Package sweeper releases validation runs that were aborted without settling.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/andychuong/ttb-label-verification/internal/metrics"
	"github.com/andychuong/ttb-label-verification/internal/submissions"
	"github.com/andychuong/ttb-label-verification/internal/validation"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	DefaultSchedule   = "@every 5m"
	DefaultStuckAfter = 15 * time.Minute

	timeoutMessage = "validation run timed out"
	backlogBatch   = 50
)

var errMissingStore = errors.New("sweeper: store is required")

// Releaser flags runs that have held the in-progress flag since before cutoff.
type Releaser interface {
	ReleaseStuckValidations(ctx context.Context, cutoff time.Time, report submissions.Report) ([]submissions.Submission, error)
}

// Backlog lists pending submissions that never received a result.
type Backlog interface {
	UnvalidatedSubmissions(ctx context.Context, cutoff time.Time, limit int) ([]submissions.Submission, error)
}

// Config wires the sweeper. Backlog and Requeuer are optional; together they
// let the sweeper recover submissions whose trigger was lost.
type Config struct {
	Store      Releaser
	Backlog    Backlog
	Requeuer   validation.Requeuer
	Schedule   string
	StuckAfter time.Duration
	Notifier   validation.Notifier
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Sweeper periodically releases stuck validation runs.
type Sweeper struct {
	cron       *cron.Cron
	cronLogger cron.Logger
	store      Releaser
	backlog    Backlog
	requeuer   validation.Requeuer
	schedule   string
	stuckAfter time.Duration
	notifier   validation.Notifier
	clock      func() time.Time
	logger     *zap.Logger

	startOnce sync.Once
	startErr  error
}

func New(cfg Config) (*Sweeper, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	schedule := cfg.Schedule
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("sweeper: invalid schedule %q: %w", schedule, err)
	}
	stuckAfter := cfg.StuckAfter
	if stuckAfter <= 0 {
		stuckAfter = DefaultStuckAfter
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = validation.Notifiers{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cronLogger := cron.PrintfLogger(zap.NewStdLog(logger))
	return &Sweeper{
		cron: cron.New(
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		cronLogger: cronLogger,
		store:      cfg.Store,
		backlog:    cfg.Backlog,
		requeuer:   cfg.Requeuer,
		schedule:   schedule,
		stuckAfter: stuckAfter,
		notifier:   notifier,
		clock:      clock,
		logger:     logger,
	}, nil
}

// Start schedules the sweep and starts the cron runner.
func (s *Sweeper) Start() error {
	s.startOnce.Do(func() {
		if _, err := s.cron.AddJob(s.schedule, s.job()); err != nil {
			s.startErr = err
			return
		}
		s.cron.Start()
		s.logger.Info("stuck validation sweeper started",
			zap.String("schedule", s.schedule),
			zap.Duration("stuck_after", s.stuckAfter))
	})
	return s.startErr
}

func (s *Sweeper) job() cron.Job {
	return cron.FuncJob(func() {
		ctx := context.Background()
		if _, err := s.Sweep(ctx); err != nil {
			s.logger.Error("stuck validation sweep failed", zap.Error(err))
		}
		if _, err := s.RequeueUnvalidated(ctx); err != nil {
			s.logger.Error("unvalidated backlog sweep failed", zap.Error(err))
		}
	})
}

// Stop halts scheduling and waits for a running sweep to finish or ctx to end.
func (s *Sweeper) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("sweeper stop timed out with a sweep still running")
	}
}

// Sweep releases every run claimed before now-stuckAfter and returns how many
// submissions were flagged.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	now := s.clock()
	cutoff := now.Add(-s.stuckAfter)
	report := validation.SystemErrorReport(timeoutMessage)
	released, err := s.store.ReleaseStuckValidations(ctx, cutoff, report)
	for _, submission := range released {
		metrics.StuckValidationsReleasedTotal.Inc()
		s.logger.Warn("released stuck validation",
			zap.String("submission_id", submission.ID),
			zap.Int64("version", submission.Version))
		s.notifier.ValidationFinished(ctx, validation.RunOutcome{
			SubmissionID:   submission.ID,
			OwnerID:        submission.UserID,
			State:          validation.RunTimedOut,
			Status:         submission.Status,
			NeedsAttention: submission.NeedsAttention,
			Version:        submission.Version,
			Message:        report.ComplianceWarnings[0].Message,
			At:             now.UTC(),
		})
	}
	return len(released), err
}

// RequeueUnvalidated schedules a run for every pending submission that has sat
// without a result for longer than stuckAfter, and returns how many it queued.
func (s *Sweeper) RequeueUnvalidated(ctx context.Context) (int, error) {
	if s.backlog == nil || s.requeuer == nil {
		return 0, nil
	}
	cutoff := s.clock().Add(-s.stuckAfter)
	backlog, err := s.backlog.UnvalidatedSubmissions(ctx, cutoff, backlogBatch)
	if err != nil {
		return 0, err
	}
	for _, submission := range backlog {
		metrics.UnvalidatedRequeuedTotal.Inc()
		s.logger.Warn("requeueing submission that was never validated",
			zap.String("submission_id", submission.ID),
			zap.Int64("version", submission.Version))
		s.requeuer.Requeue(submission.ID)
	}
	return len(backlog), nil
}
