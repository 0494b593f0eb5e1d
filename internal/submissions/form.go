package submissions

import (
	"encoding/json"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// ApplicationType enumerates the kinds of label application.
type ApplicationType string

const (
	ApplicationTypeCOLA              ApplicationType = "cola"
	ApplicationTypeExemption         ApplicationType = "exemption"
	ApplicationTypeDistinctiveBottle ApplicationType = "distinctive_bottle"
	ApplicationTypeResubmission      ApplicationType = "resubmission"
)

var (
	leadingNumberPattern = regexp.MustCompile(`\d+(\.\d+)?|\.\d+`)
	digitPattern         = regexp.MustCompile(`\d`)
)

// Form is the user-supplied application content.
type Form struct {
	SerialNumber           string            `json:"serialNumber"`
	ProductType            ProductType       `json:"productType"`
	Source                 Source            `json:"source"`
	BrandName              string            `json:"brandName"`
	FancifulName           *string           `json:"fancifulName"`
	ClassTypeDesignation   string            `json:"classTypeDesignation"`
	AlcoholContent         string            `json:"alcoholContent"`
	NetContents            string            `json:"netContents"`
	NameAddressOnLabel     string            `json:"nameAddressOnLabel"`
	ApplicationType        []ApplicationType `json:"applicationType"`
	ResubmissionTTBID      *string           `json:"resubmissionTtbId"`
	FormulaNumber          *string           `json:"formulaNumber"`
	ContainerInfo          *string           `json:"containerInfo"`
	HealthWarningConfirmed bool              `json:"healthWarningConfirmed"`
	ApplicantNotes         *string           `json:"applicantNotes"`
	StatementOfComposition *string           `json:"statementOfComposition"`
	AgeStatement           *string           `json:"ageStatement"`
	CountryOfOrigin        *string           `json:"countryOfOrigin"`
	StateOfDistillation    *string           `json:"stateOfDistillation"`
	CommodityStatement     *string           `json:"commodityStatement"`
	ColoringMaterials      *string           `json:"coloringMaterials"`
	FDNCYellow5            bool              `json:"fdncYellow5"`
	CochinealCarmine       bool              `json:"cochinealCarmine"`
	SulfiteDeclaration     bool              `json:"sulfiteDeclaration"`
	GrapeVarietals         *string           `json:"grapeVarietals"`
	AppellationOfOrigin    *string           `json:"appellationOfOrigin"`
	VintageDate            *string           `json:"vintageDate"`
	ForeignWinePercentage  *string           `json:"foreignWinePercentage"`
}

// FieldErrors maps a form field to its validation messages.
type FieldErrors map[string][]string

func (e FieldErrors) add(field, message string) {
	e[field] = append(e[field], message)
}

// Error renders the failing fields in a stable order.
func (e FieldErrors) Error() string {
	fields := make([]string, 0, len(e))
	for field := range e {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, field+": "+strings.Join(e[field], "; "))
	}
	return "invalid submission data: " + strings.Join(parts, ", ")
}

// Validate checks the intake rules and returns nil when the form is acceptable.
func (f Form) Validate() FieldErrors {
	errs := FieldErrors{}
	if strings.TrimSpace(f.SerialNumber) == "" {
		errs.add("serialNumber", "Serial number is required")
	}
	switch f.ProductType {
	case ProductTypeWine, ProductTypeDistilledSpirits, ProductTypeMaltBeverage:
	default:
		errs.add("productType", "Product type is required")
	}
	switch f.Source {
	case SourceDomestic, SourceImported:
	default:
		errs.add("source", "Source is required")
	}
	if strings.TrimSpace(f.BrandName) == "" {
		errs.add("brandName", "Brand name is required")
	}
	if strings.TrimSpace(f.ClassTypeDesignation) == "" {
		errs.add("classTypeDesignation", "Class/Type designation is required")
	}
	if strings.TrimSpace(f.AlcoholContent) == "" {
		errs.add("alcoholContent", "Alcohol content is required")
	} else if !validAlcoholContent(f.AlcoholContent) {
		errs.add("alcoholContent", "Alcohol content must be a number between 0 and 100")
	}
	if strings.TrimSpace(f.NetContents) == "" {
		errs.add("netContents", "Net contents is required")
	} else if !digitPattern.MatchString(f.NetContents) {
		errs.add("netContents", "Net contents must include a numeric value")
	}
	if strings.TrimSpace(f.NameAddressOnLabel) == "" {
		errs.add("nameAddressOnLabel", "Name and address on label is required")
	}
	if len(f.ApplicationType) == 0 {
		errs.add("applicationType", "At least one application type is required")
	}
	for _, applicationType := range f.ApplicationType {
		switch applicationType {
		case ApplicationTypeCOLA, ApplicationTypeExemption, ApplicationTypeDistinctiveBottle, ApplicationTypeResubmission:
		default:
			errs.add("applicationType", "Unknown application type "+strconv.Quote(string(applicationType)))
		}
	}
	if !f.HealthWarningConfirmed {
		errs.add("healthWarningConfirmed", "Health warning must be confirmed")
	}
	if f.hasApplicationType(ApplicationTypeResubmission) && optional(f.ResubmissionTTBID) == nil {
		errs.add("resubmissionTtbId", "Previous TTB ID is required for resubmissions")
	}
	if f.Source == SourceImported && optional(f.CountryOfOrigin) == nil {
		errs.add("countryOfOrigin", "Country of origin is required for imported products")
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

func (f Form) hasApplicationType(target ApplicationType) bool {
	for _, applicationType := range f.ApplicationType {
		if applicationType == target {
			return true
		}
	}
	return false
}

func validAlcoholContent(raw string) bool {
	match := leadingNumberPattern.FindString(raw)
	if match == "" {
		return false
	}
	value, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return false
	}
	return value >= 0 && value <= 100
}

// optional maps blank strings to nil.
func optional(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func (f Form) applyTo(submission *Submission) error {
	applicationTypes := f.ApplicationType
	if applicationTypes == nil {
		applicationTypes = []ApplicationType{}
	}
	applicationTypesJSON, err := json.Marshal(applicationTypes)
	if err != nil {
		return err
	}
	submission.SerialNumber = strings.TrimSpace(f.SerialNumber)
	submission.ProductType = f.ProductType
	submission.Source = f.Source
	submission.BrandName = strings.TrimSpace(f.BrandName)
	submission.FancifulName = optional(f.FancifulName)
	submission.ClassTypeDesignation = strings.TrimSpace(f.ClassTypeDesignation)
	submission.AlcoholContent = strings.TrimSpace(f.AlcoholContent)
	submission.NetContents = strings.TrimSpace(f.NetContents)
	submission.NameAddressOnLabel = strings.TrimSpace(f.NameAddressOnLabel)
	submission.ApplicationTypesJSON = string(applicationTypesJSON)
	submission.ResubmissionTTBID = optional(f.ResubmissionTTBID)
	submission.FormulaNumber = optional(f.FormulaNumber)
	submission.ContainerInfo = optional(f.ContainerInfo)
	submission.HealthWarningConfirmed = f.HealthWarningConfirmed
	submission.ApplicantNotes = optional(f.ApplicantNotes)
	submission.StatementOfComposition = optional(f.StatementOfComposition)
	submission.AgeStatement = optional(f.AgeStatement)
	submission.CountryOfOrigin = optional(f.CountryOfOrigin)
	submission.StateOfDistillation = optional(f.StateOfDistillation)
	submission.CommodityStatement = optional(f.CommodityStatement)
	submission.ColoringMaterials = optional(f.ColoringMaterials)
	submission.FDNCYellow5 = f.FDNCYellow5
	submission.CochinealCarmine = f.CochinealCarmine
	submission.SulfiteDeclaration = f.SulfiteDeclaration
	submission.GrapeVarietals = optional(f.GrapeVarietals)
	submission.AppellationOfOrigin = optional(f.AppellationOfOrigin)
	submission.VintageDate = optional(f.VintageDate)
	submission.ForeignWinePercentage = optional(f.ForeignWinePercentage)
	return nil
}

// ApplicationTypes decodes the stored application type list.
func (s Submission) ApplicationTypes() []ApplicationType {
	var applicationTypes []ApplicationType
	if err := json.Unmarshal([]byte(s.ApplicationTypesJSON), &applicationTypes); err != nil {
		return nil
	}
	return applicationTypes
}
