package validation

import "github.com/andychuong/ttb-label-verification/internal/submissions"

// Tier1Fields are the mandatory regulatory checks that gate automatic approval.
var Tier1Fields = []string{
	"brandName",
	"classTypeDesignation",
	"alcoholContent",
	"netContents",
	"healthWarning",
	"nameAndAddress",
}

var tier1Lookup = func() map[string]struct{} {
	lookup := make(map[string]struct{}, len(Tier1Fields))
	for _, name := range Tier1Fields {
		lookup[name] = struct{}{}
	}
	return lookup
}()

// IsTier1 reports whether the field gates automatic approval.
func IsTier1(fieldName string) bool {
	_, ok := tier1Lookup[fieldName]
	return ok
}

// Classify maps an analysis report to a lifecycle outcome. Automatic
// classification only ever yields approved or pending with attention.
func Classify(report submissions.Report) submissions.Outcome {
	needsReview := submissions.Outcome{Status: submissions.StatusPending, NeedsAttention: true}

	if report.Confidence == submissions.ConfidenceLow {
		return needsReview
	}
	if !report.OverallPass {
		return needsReview
	}
	for _, field := range report.FieldResults {
		if !IsTier1(field.FieldName) {
			continue
		}
		switch field.MatchStatus {
		case submissions.MatchStatusMatch, submissions.MatchStatusNotApplicable:
		default:
			return needsReview
		}
	}
	return submissions.Outcome{Status: submissions.StatusApproved, NeedsAttention: false}
}
