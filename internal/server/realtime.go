package server

import (
	"context"
	"sync"
	"time"

	"github.com/andychuong/ttb-label-verification/internal/submissions"
	"github.com/andychuong/ttb-label-verification/internal/validation"
)

const (
	RealtimeEventSubmissionUpdated   = "submission-updated"
	RealtimeEventImageAdded          = "image-added"
	RealtimeEventSubmissionValidated = "submission-validated"
	realtimeEventHeartbeat           = "heartbeat"
	realtimeSourceBackend            = "ttb-validator"
)

// RealtimeMessage is one server-sent event addressed to a submission owner.
type RealtimeMessage struct {
	UserID               string              `json:"-"`
	EventType            string              `json:"-"`
	SubmissionID         string              `json:"submissionId"`
	Status               submissions.Status  `json:"status,omitempty"`
	NeedsAttention       bool                `json:"needsAttention"`
	ValidationInProgress bool                `json:"validationInProgress"`
	Version              int64               `json:"version"`
	State                validation.RunState `json:"state,omitempty"`
	Message              string              `json:"message,omitempty"`
	Source               string              `json:"source"`
	Timestamp            time.Time           `json:"timestamp"`
}

// RealtimeDispatcher fans submission changes out to per-user subscribers. It
// is both a store event sink and a validation notifier.
type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
	clock       func() time.Time
}

type realtimeSubscriber struct {
	id     int64
	stream chan RealtimeMessage
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[string]map[int64]*realtimeSubscriber),
		bufferSize:  16,
		clock:       time.Now,
	}
}

func (d *RealtimeDispatcher) Subscribe(ctx context.Context, userID string) (<-chan RealtimeMessage, func()) {
	if userID == "" {
		ch := make(chan RealtimeMessage)
		close(ch)
		return ch, func() {}
	}
	subscriber := &realtimeSubscriber{
		id:     d.nextSequence(),
		stream: make(chan RealtimeMessage, d.bufferSize),
	}
	d.registerSubscriber(userID, subscriber)
	var once sync.Once
	cleanup := func() {
		once.Do(func() { d.unregisterSubscriber(userID, subscriber.id) })
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish forwards store changes to the submission owner.
func (d *RealtimeDispatcher) Publish(event submissions.Event) {
	if event.After == nil {
		return
	}
	eventType := RealtimeEventSubmissionUpdated
	if event.Kind == submissions.EventImageAdded {
		eventType = RealtimeEventImageAdded
	}
	d.Broadcast(RealtimeMessage{
		UserID:               event.After.UserID,
		EventType:            eventType,
		SubmissionID:         event.After.ID,
		Status:               event.After.Status,
		NeedsAttention:       event.After.NeedsAttention,
		ValidationInProgress: event.After.ValidationInProgress,
		Version:              event.After.Version,
		Timestamp:            d.clock().UTC(),
	})
}

// ValidationFinished forwards a settled run to the submission owner.
func (d *RealtimeDispatcher) ValidationFinished(_ context.Context, outcome validation.RunOutcome) {
	d.Broadcast(RealtimeMessage{
		UserID:         outcome.OwnerID,
		EventType:      RealtimeEventSubmissionValidated,
		SubmissionID:   outcome.SubmissionID,
		Status:         outcome.Status,
		NeedsAttention: outcome.NeedsAttention,
		Version:        outcome.Version,
		State:          outcome.State,
		Message:        outcome.Message,
		Timestamp:      outcome.At,
	})
}

// Broadcast delivers the message to every subscriber of its user. Slow
// subscribers drop messages rather than block the publisher.
func (d *RealtimeDispatcher) Broadcast(message RealtimeMessage) {
	if message.UserID == "" || message.EventType == "" {
		return
	}
	message.Source = realtimeSourceBackend
	d.mu.RLock()
	subscribers := d.subscribers[message.UserID]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*realtimeSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

func (d *RealtimeDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *RealtimeDispatcher) registerSubscriber(userID string, subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[userID]; !ok {
		d.subscribers[userID] = make(map[int64]*realtimeSubscriber)
	}
	d.subscribers[userID][subscriber.id] = subscriber
}

func (d *RealtimeDispatcher) unregisterSubscriber(userID string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[userID]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, userID)
		}
	}
	d.mu.Unlock()
}
