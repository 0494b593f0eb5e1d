package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/andychuong/ttb-label-verification/internal/submissions"
)

// ErrMalformedAnalysis marks an analyzer payload that does not satisfy the response contract.
var ErrMalformedAnalysis = errors.New("validation: malformed analyzer response")

// SchemaError names the field that broke the response contract.
type SchemaError struct {
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("invalid response: %s %s", e.Field, e.Reason)
}

func (e *SchemaError) Unwrap() error {
	return ErrMalformedAnalysis
}

type wireFieldResult struct {
	FieldName   *string `json:"fieldName"`
	FormValue   any     `json:"formValue"`
	LabelValue  any     `json:"labelValue"`
	MatchStatus *string `json:"matchStatus"`
	Notes       any     `json:"notes"`
}

type wireWarning struct {
	Check    *string `json:"check"`
	Message  *string `json:"message"`
	Severity *string `json:"severity"`
}

type wireReport struct {
	ExtractedText      *string         `json:"extractedText"`
	FieldResults       json.RawMessage `json:"fieldResults"`
	ComplianceWarnings json.RawMessage `json:"complianceWarnings"`
	OverallPass        *bool           `json:"overallPass"`
	Confidence         *string         `json:"confidence"`
}

// ParseAnalysis validates an untrusted analyzer payload. On success the
// report is fully typed and carries the payload in Raw; any contract
// violation yields a *SchemaError and no report.
func ParseAnalysis(content []byte) (submissions.Report, error) {
	payload := extractJSONObject(content)
	if len(payload) == 0 {
		return submissions.Report{}, &SchemaError{Field: "response", Reason: "is empty"}
	}

	var wire wireReport
	if err := json.Unmarshal(payload, &wire); err != nil {
		return submissions.Report{}, fmt.Errorf("%w: %v", ErrMalformedAnalysis, err)
	}
	if wire.ExtractedText == nil {
		return submissions.Report{}, &SchemaError{Field: "extractedText", Reason: "is missing"}
	}
	if !isJSONArray(wire.FieldResults) {
		return submissions.Report{}, &SchemaError{Field: "fieldResults", Reason: "is not an array"}
	}
	if wire.OverallPass == nil {
		return submissions.Report{}, &SchemaError{Field: "overallPass", Reason: "is missing"}
	}
	if wire.Confidence == nil || !submissions.Confidence(*wire.Confidence).Valid() {
		return submissions.Report{}, &SchemaError{Field: "confidence", Reason: "must be high, medium, or low"}
	}

	var wireFields []wireFieldResult
	if err := json.Unmarshal(wire.FieldResults, &wireFields); err != nil {
		return submissions.Report{}, fmt.Errorf("%w: fieldResults: %v", ErrMalformedAnalysis, err)
	}
	fields := make([]submissions.FieldResult, 0, len(wireFields))
	for index, field := range wireFields {
		if field.FieldName == nil || strings.TrimSpace(*field.FieldName) == "" {
			return submissions.Report{}, &SchemaError{Field: fmt.Sprintf("fieldResults[%d].fieldName", index), Reason: "is missing"}
		}
		if field.MatchStatus == nil || !submissions.MatchStatus(*field.MatchStatus).Valid() {
			return submissions.Report{}, &SchemaError{
				Field:  fmt.Sprintf("fieldResults[%d].matchStatus", index),
				Reason: "must be MATCH, MISMATCH, NOT_FOUND, or NOT_APPLICABLE",
			}
		}
		fields = append(fields, submissions.FieldResult{
			FieldName:   *field.FieldName,
			FormValue:   looseString(field.FormValue),
			LabelValue:  looseString(field.LabelValue),
			MatchStatus: submissions.MatchStatus(*field.MatchStatus),
			Notes:       looseString(field.Notes),
		})
	}

	warnings := []submissions.ComplianceWarning{}
	if !isJSONNull(wire.ComplianceWarnings) {
		if !isJSONArray(wire.ComplianceWarnings) {
			return submissions.Report{}, &SchemaError{Field: "complianceWarnings", Reason: "is not an array"}
		}
		var wireWarnings []wireWarning
		if err := json.Unmarshal(wire.ComplianceWarnings, &wireWarnings); err != nil {
			return submissions.Report{}, fmt.Errorf("%w: complianceWarnings: %v", ErrMalformedAnalysis, err)
		}
		for index, warning := range wireWarnings {
			if warning.Severity == nil || !submissions.Severity(*warning.Severity).Valid() {
				return submissions.Report{}, &SchemaError{
					Field:  fmt.Sprintf("complianceWarnings[%d].severity", index),
					Reason: "must be info, warning, or error",
				}
			}
			warnings = append(warnings, submissions.ComplianceWarning{
				Check:    derefString(warning.Check),
				Message:  derefString(warning.Message),
				Severity: submissions.Severity(*warning.Severity),
			})
		}
	}

	raw := make(json.RawMessage, len(payload))
	copy(raw, payload)
	return submissions.Report{
		ExtractedText:      *wire.ExtractedText,
		FieldResults:       fields,
		ComplianceWarnings: warnings,
		OverallPass:        *wire.OverallPass,
		Confidence:         submissions.Confidence(*wire.Confidence),
		Raw:                raw,
	}, nil
}

// extractJSONObject strips markdown fences and surrounding prose from a model reply.
func extractJSONObject(content []byte) []byte {
	trimmed := bytes.TrimSpace(content)
	if fence := bytes.Index(trimmed, []byte("```")); fence >= 0 {
		rest := trimmed[fence+3:]
		if end := bytes.Index(rest, []byte("```")); end >= 0 {
			block := rest[:end]
			if newline := bytes.IndexByte(block, '\n'); newline >= 0 {
				label := bytes.TrimSpace(block[:newline])
				if len(label) == 0 || bytes.EqualFold(label, []byte("json")) {
					block = block[newline+1:]
				}
			}
			trimmed = bytes.TrimSpace(block)
		}
	}
	if len(trimmed) > 0 && trimmed[0] != '{' {
		start := bytes.IndexByte(trimmed, '{')
		end := bytes.LastIndexByte(trimmed, '}')
		if start >= 0 && end > start {
			trimmed = trimmed[start : end+1]
		}
	}
	return trimmed
}

func isJSONArray(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '['
}

func isJSONNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

// looseString accepts the scalar shapes models tend to emit for free-text fields.
func looseString(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return typed
	case bool, float64:
		return fmt.Sprint(typed)
	default:
		encoded, err := json.Marshal(typed)
		if err != nil {
			return ""
		}
		return string(encoded)
	}
}
