package submissions

// EventKind names a store change that downstream triggers react to.
type EventKind string

const (
	EventImageAdded        EventKind = "image_added"
	EventSubmissionCreated EventKind = "submission_created"
	EventSubmissionUpdated EventKind = "submission_updated"
)

// Event describes a committed change. Before is set only for updates and Image
// only for image additions.
type Event struct {
	Kind         EventKind
	SubmissionID string
	Before       *Submission
	After        *Submission
	Image        *Image
}

// EventSink receives committed changes. Publish must not block.
type EventSink interface {
	Publish(event Event)
}

type discardSink struct{}

func (discardSink) Publish(Event) {}

// EventSinks fans an event out to each sink in order.
type EventSinks []EventSink

func (s EventSinks) Publish(event Event) {
	for _, sink := range s {
		if sink != nil {
			sink.Publish(event)
		}
	}
}
