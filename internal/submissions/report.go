package submissions

import (
	"encoding/json"
	"time"
)

// MatchStatus is the analyzer's verdict for one form field.
type MatchStatus string

const (
	MatchStatusMatch         MatchStatus = "MATCH"
	MatchStatusMismatch      MatchStatus = "MISMATCH"
	MatchStatusNotFound      MatchStatus = "NOT_FOUND"
	MatchStatusNotApplicable MatchStatus = "NOT_APPLICABLE"
)

// Valid reports whether the value is a known match status.
func (s MatchStatus) Valid() bool {
	switch s {
	case MatchStatusMatch, MatchStatusMismatch, MatchStatusNotFound, MatchStatusNotApplicable:
		return true
	}
	return false
}

// Confidence is the analyzer's self-reported certainty.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Valid reports whether the value is a known confidence level.
func (c Confidence) Valid() bool {
	switch c {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
		return true
	}
	return false
}

// Severity grades a compliance warning.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Valid reports whether the value is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError:
		return true
	}
	return false
}

// FieldResult compares one form value with what the label shows.
type FieldResult struct {
	FieldName   string      `json:"fieldName"`
	FormValue   string      `json:"formValue"`
	LabelValue  string      `json:"labelValue"`
	MatchStatus MatchStatus `json:"matchStatus"`
	Notes       string      `json:"notes"`
}

// ComplianceWarning flags a regulatory concern found on the label.
type ComplianceWarning struct {
	Check    string   `json:"check"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// Report is the pre-persistence shape of one analysis run.
type Report struct {
	ExtractedText      string              `json:"extractedText"`
	FieldResults       []FieldResult       `json:"fieldResults"`
	ComplianceWarnings []ComplianceWarning `json:"complianceWarnings"`
	OverallPass        bool                `json:"overallPass"`
	Confidence         Confidence          `json:"confidence"`
	// Raw holds the analyzer payload as received; empty for synthetic reports.
	Raw json.RawMessage `json:"-"`
}

// Outcome is the lifecycle decision derived from a report.
type Outcome struct {
	Status         Status
	NeedsAttention bool
}

// ResultView is the API representation of a stored validation result.
type ResultView struct {
	ID                 string              `json:"id"`
	SubmissionVersion  int64               `json:"submissionVersion"`
	ImageID            string              `json:"imageId,omitempty"`
	ExtractedText      string              `json:"extractedText"`
	FieldResults       []FieldResult       `json:"fieldResults"`
	ComplianceWarnings []ComplianceWarning `json:"complianceWarnings"`
	OverallPass        bool                `json:"overallPass"`
	Confidence         Confidence          `json:"confidence"`
	RawAIResponse      json.RawMessage     `json:"rawAiResponse"`
	ProcessedAt        time.Time           `json:"processedAt"`
	CreatedAt          time.Time           `json:"createdAt"`
}

func newValidationResult(id, submissionID string, version int64, imageID string, report Report, at time.Time) (ValidationResult, error) {
	fields := report.FieldResults
	if fields == nil {
		fields = []FieldResult{}
	}
	warnings := report.ComplianceWarnings
	if warnings == nil {
		warnings = []ComplianceWarning{}
	}
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return ValidationResult{}, err
	}
	warningsJSON, err := json.Marshal(warnings)
	if err != nil {
		return ValidationResult{}, err
	}
	raw := report.Raw
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	return ValidationResult{
		ID:                     id,
		SubmissionID:           submissionID,
		SubmissionVersion:      version,
		ImageID:                imageID,
		ExtractedText:          report.ExtractedText,
		FieldResultsJSON:       string(fieldsJSON),
		ComplianceWarningsJSON: string(warningsJSON),
		OverallPass:            report.OverallPass,
		Confidence:             string(report.Confidence),
		RawResponseJSON:        string(raw),
		ProcessedAt:            at,
		CreatedAt:              at,
	}, nil
}

// View decodes the stored JSON columns.
func (r ValidationResult) View() (ResultView, error) {
	view := ResultView{
		ID:                r.ID,
		SubmissionVersion: r.SubmissionVersion,
		ImageID:           r.ImageID,
		ExtractedText:     r.ExtractedText,
		OverallPass:       r.OverallPass,
		Confidence:        Confidence(r.Confidence),
		RawAIResponse:     json.RawMessage(r.RawResponseJSON),
		ProcessedAt:       r.ProcessedAt,
		CreatedAt:         r.CreatedAt,
	}
	if err := json.Unmarshal([]byte(r.FieldResultsJSON), &view.FieldResults); err != nil {
		return ResultView{}, err
	}
	if err := json.Unmarshal([]byte(r.ComplianceWarningsJSON), &view.ComplianceWarnings); err != nil {
		return ResultView{}, err
	}
	return view, nil
}
