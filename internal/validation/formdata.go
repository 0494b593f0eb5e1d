package validation

import "github.com/andychuong/ttb-label-verification/internal/submissions"

// FormData is the subset of a submission the analyzer compares against the label.
type FormData struct {
	ProductType          submissions.ProductType `json:"productType"`
	Source               submissions.Source      `json:"source"`
	SerialNumber         string                  `json:"serialNumber"`
	BrandName            string                  `json:"brandName"`
	FancifulName         *string                 `json:"fancifulName"`
	ClassTypeDesignation string                  `json:"classTypeDesignation"`
	AlcoholContent       string                  `json:"alcoholContent"`
	NetContents          string                  `json:"netContents"`
	NameAddressOnLabel   string                  `json:"nameAddressOnLabel"`
	CountryOfOrigin      *string                 `json:"countryOfOrigin"`
	GrapeVarietals       *string                 `json:"grapeVarietals"`
	AppellationOfOrigin  *string                 `json:"appellationOfOrigin"`
	VintageDate          *string                 `json:"vintageDate"`
}

// ProjectForm drops owner, lifecycle, and administrative fields.
func ProjectForm(submission submissions.Submission) FormData {
	return FormData{
		ProductType:          submission.ProductType,
		Source:               submission.Source,
		SerialNumber:         submission.SerialNumber,
		BrandName:            submission.BrandName,
		FancifulName:         nonEmpty(submission.FancifulName),
		ClassTypeDesignation: submission.ClassTypeDesignation,
		AlcoholContent:       submission.AlcoholContent,
		NetContents:          submission.NetContents,
		NameAddressOnLabel:   submission.NameAddressOnLabel,
		CountryOfOrigin:      nonEmpty(submission.CountryOfOrigin),
		GrapeVarietals:       nonEmpty(submission.GrapeVarietals),
		AppellationOfOrigin:  nonEmpty(submission.AppellationOfOrigin),
		VintageDate:          nonEmpty(submission.VintageDate),
	}
}

func nonEmpty(value *string) *string {
	if value == nil || *value == "" {
		return nil
	}
	copied := *value
	return &copied
}
