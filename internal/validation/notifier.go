package validation

import (
	"context"
	"time"

	"github.com/andychuong/ttb-label-verification/internal/submissions"
)

// RunOutcome is broadcast when a run settles.
type RunOutcome struct {
	SubmissionID   string             `json:"submissionId"`
	OwnerID        string             `json:"ownerId"`
	State          RunState           `json:"state"`
	Status         submissions.Status `json:"status"`
	NeedsAttention bool               `json:"needsAttention"`
	Version        int64              `json:"version"`
	Message        string             `json:"message,omitempty"`
	At             time.Time          `json:"at"`
}

// Notifier receives run outcomes. Implementations must not block.
type Notifier interface {
	ValidationFinished(ctx context.Context, outcome RunOutcome)
}

// Notifiers fans an outcome out to each notifier in order.
type Notifiers []Notifier

func (n Notifiers) ValidationFinished(ctx context.Context, outcome RunOutcome) {
	for _, notifier := range n {
		if notifier != nil {
			notifier.ValidationFinished(ctx, outcome)
		}
	}
}
