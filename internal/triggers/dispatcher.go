package triggers

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/andychuong/ttb-label-verification/internal/metrics"
	"github.com/andychuong/ttb-label-verification/internal/submissions"
	"golang.org/x/sync/errgroup"
	"go.uber.org/zap"
)

const (
	defaultConcurrency = 4
	defaultQueueSize   = 256

	// DefaultEnqueueTimeout bounds how long a publisher waits on a full queue.
	DefaultEnqueueTimeout = 5 * time.Second
)

var (
	errMissingHandler = errors.New("triggers: handler is required")
	errAlreadyRunning = errors.New("triggers: dispatcher already running")
)

// job carries either a store event or, when requeueID is set, a requeue request.
type job struct {
	event     submissions.Event
	requeueID string
}

type DispatcherConfig struct {
	Concurrency    int
	QueueSize      int
	EnqueueTimeout time.Duration
	Logger         *zap.Logger
}

// Dispatcher decouples store commits from validation runs: the store publishes
// into a bounded queue and a fixed pool of workers drains it.
type Dispatcher struct {
	queue          chan job
	concurrency    int
	enqueueTimeout time.Duration
	running        atomic.Bool
	logger         *zap.Logger
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	enqueueTimeout := cfg.EnqueueTimeout
	if enqueueTimeout <= 0 {
		enqueueTimeout = DefaultEnqueueTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:          make(chan job, queueSize),
		concurrency:    concurrency,
		enqueueTimeout: enqueueTimeout,
		logger:         logger,
	}
}

// Publish enqueues a store event. On a full queue it waits up to the enqueue
// timeout and then drops the event; the sweeper picks up what was dropped.
func (d *Dispatcher) Publish(event submissions.Event) {
	d.enqueue(job{event: event}, event.SubmissionID)
}

// Requeue schedules a run against the submission's current version.
func (d *Dispatcher) Requeue(submissionID string) {
	d.enqueue(job{requeueID: submissionID}, submissionID)
}

func (d *Dispatcher) enqueue(next job, submissionID string) {
	select {
	case d.queue <- next:
		return
	default:
	}

	timer := time.NewTimer(d.enqueueTimeout)
	defer timer.Stop()
	select {
	case d.queue <- next:
	case <-timer.C:
		metrics.TriggerQueueDroppedTotal.Inc()
		d.logger.Warn("trigger queue full, dropping event",
			zap.String("submission_id", submissionID),
			zap.String("event", string(next.event.Kind)))
	}
}

// Run drains the queue until ctx is done, then waits for in-flight runs.
// In-flight runs are not cancelled so they can settle their submissions.
func (d *Dispatcher) Run(ctx context.Context, handler *Handler) error {
	if handler == nil {
		return errMissingHandler
	}
	if !d.running.CompareAndSwap(false, true) {
		return errAlreadyRunning
	}
	defer d.running.Store(false)

	workCtx := context.WithoutCancel(ctx)
	var group errgroup.Group
	group.SetLimit(d.concurrency)

	for {
		select {
		case <-ctx.Done():
			return group.Wait()
		case next := <-d.queue:
			group.Go(func() error {
				d.dispatch(workCtx, handler, next)
				return nil
			})
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, handler *Handler, next job) {
	defer func() {
		if recovered := recover(); recovered != nil {
			d.logger.Error("trigger handler panicked",
				zap.String("submission_id", next.event.SubmissionID),
				zap.Any("panic", recovered))
		}
	}()
	if next.requeueID != "" {
		handler.Revalidate(ctx, next.requeueID)
		return
	}
	handler.Handle(ctx, next.event)
}
