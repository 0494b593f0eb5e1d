package analyzer

import (
	"encoding/json"

	"github.com/andychuong/ttb-label-verification/internal/validation"
)

const systemPrompt = `You verify alcohol beverage labels for TTB compliance under 27 CFR Parts 4 (wine), 5 (distilled spirits), 7 (malt beverages) and 16 (health warning statement).

You receive one label image and the form data submitted for it. Do three things.

1. Extract every piece of visible text from the label.

2. Compare each form field with the label and assign a matchStatus:
   MATCH when the label agrees with the form under the rules below,
   MISMATCH when the label shows a different value,
   NOT_FOUND when the field cannot be located on the label,
   NOT_APPLICABLE when the field does not apply to this product or was not provided.

   Rules:
   - brandName: case-insensitive, at least 90% similar; tolerate OCR noise and stylization.
   - classTypeDesignation: case-insensitive; must describe the product accurately.
   - alcoholContent: numeric value must match exactly; accept "40% ALC/VOL", "40% ABV", "ALC. 40% BY VOL.". For malt beverages with no form value use NOT_APPLICABLE.
   - netContents: normalize units (mL, L, FL OZ) before comparing numbers.
   - healthWarning: the statement "GOVERNMENT WARNING: (1) According to the Surgeon General, women should not drink alcoholic beverages during pregnancy because of the risk of birth defects. (2) Consumption of alcoholic beverages impairs your ability to drive a car or operate machinery, and may cause health problems." must be present.
   - nameAndAddress: a producer, bottler or importer name with city and state must be present; it need not equal the form value.
   - countryOfOrigin (imports): must be stated, e.g. "Product of France".
   - fancifulName, grapeVarietals, appellationOfOrigin: when provided, must appear (case-insensitive).
   - vintageDate (wine): when provided, the year must match exactly.

   Always report brandName, classTypeDesignation, alcoholContent, netContents, healthWarning and nameAndAddress. Report fancifulName, grapeVarietals, appellationOfOrigin and vintageDate only when the form provides them.

3. List compliance warnings for missing mandatory elements, unreadably small text, or misleading statements.

Set overallPass to true only when brandName, classTypeDesignation, alcoholContent, netContents, healthWarning and nameAndAddress all pass.
Set confidence to "high" when all text is legible, "medium" when some text needs inference, and "low" when the image is blurry, obscured or unreadable.

Reply with a single JSON object and nothing else:
{
  "extractedText": "<all visible text>",
  "fieldResults": [
    {"fieldName": "<name>", "formValue": "<form value>", "labelValue": "<label value or empty string>", "matchStatus": "MATCH|MISMATCH|NOT_FOUND|NOT_APPLICABLE", "notes": "<short explanation>"}
  ],
  "complianceWarnings": [
    {"check": "<what was checked>", "message": "<issue>", "severity": "info|warning|error"}
  ],
  "overallPass": true,
  "confidence": "high|medium|low"
}`

const userMessagePrefix = "Please analyze the attached label image and compare it against the following form data.\n\nForm Data:\n"

func buildUserMessage(form validation.FormData) (string, error) {
	encoded, err := json.MarshalIndent(form, "", "  ")
	if err != nil {
		return "", err
	}
	return userMessagePrefix + string(encoded), nil
}
