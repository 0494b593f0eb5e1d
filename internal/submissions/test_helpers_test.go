package submissions

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type sequenceIDs struct {
	mu   sync.Mutex
	next int
}

func (g *sequenceIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return fmt.Sprintf("id-%04d", g.next), nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingSink) Publish(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingSink) last() Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return Event{}
	}
	return r.events[len(r.events)-1]
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(delta time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(delta)
}

type testHarness struct {
	service *Service
	db      *gorm.DB
	events  *recordingSink
	clock   *testClock
}

func newTestHarness(t *testing.T) testHarness {
	t.Helper()

	dsn := fmt.Sprintf("file:submissions_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(Models()...); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	events := &recordingSink{}
	clock := &testClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      clock.Now,
		IDProvider: &sequenceIDs{},
		Events:     events,
	})
	if err != nil {
		t.Fatalf("failed to construct submissions service: %v", err)
	}
	return testHarness{service: service, db: db, events: events, clock: clock}
}

func mustUserID(t *testing.T, value string) UserID {
	t.Helper()
	id, err := NewUserID(value)
	if err != nil {
		t.Fatalf("unexpected user id error: %v", err)
	}
	return id
}

func validForm() Form {
	return Form{
		SerialNumber:           "24-0001",
		ProductType:            ProductTypeDistilledSpirits,
		Source:                 SourceDomestic,
		BrandName:              "Old Tom Distillery",
		ClassTypeDesignation:   "Kentucky Straight Bourbon Whiskey",
		AlcoholContent:         "45% Alc./Vol.",
		NetContents:            "750 mL",
		NameAddressOnLabel:     "Old Tom Distillery, Louisville, KY",
		ApplicationType:        []ApplicationType{ApplicationTypeCOLA},
		HealthWarningConfirmed: true,
	}
}

func (h testHarness) create(t *testing.T, owner string) Submission {
	t.Helper()
	submission, err := h.service.CreateSubmission(context.Background(), mustUserID(t, owner), validForm())
	if err != nil {
		t.Fatalf("failed to create submission: %v", err)
	}
	return submission
}

func (h testHarness) addImage(t *testing.T, owner string, submissionID string) Image {
	t.Helper()
	image, err := h.service.AddImage(context.Background(), ImageRequest{
		Owner:        mustUserID(t, owner),
		SubmissionID: SubmissionID(submissionID),
		ImageType:    ImageTypeBrandFront,
		DownloadURL:  "https://images.example.com/" + submissionID + ".png",
		MimeType:     "image/png",
		FileSize:     2048,
	})
	if err != nil {
		t.Fatalf("failed to add image: %v", err)
	}
	return image
}

func (h testHarness) reload(t *testing.T, id string) Submission {
	t.Helper()
	var stored Submission
	if err := h.db.Where("id = ?", id).Take(&stored).Error; err != nil {
		t.Fatalf("failed to reload submission: %v", err)
	}
	return stored
}

func (h testHarness) results(t *testing.T, id string) []ValidationResult {
	t.Helper()
	var results []ValidationResult
	if err := h.db.Where("submission_id = ?", id).Order("id ASC").Find(&results).Error; err != nil {
		t.Fatalf("failed to load results: %v", err)
	}
	return results
}

func passingReport() Report {
	return Report{
		ExtractedText: "OLD TOM DISTILLERY",
		FieldResults: []FieldResult{
			{FieldName: "brandName", FormValue: "Old Tom Distillery", LabelValue: "OLD TOM DISTILLERY", MatchStatus: MatchStatusMatch},
		},
		ComplianceWarnings: []ComplianceWarning{},
		OverallPass:        true,
		Confidence:         ConfidenceHigh,
	}
}
