package submissions

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status enumerates the stored submission lifecycle values.
type Status string

const (
	StatusPending       Status = "pending"
	StatusApproved      Status = "approved"
	StatusNeedsRevision Status = "needs_revision"
	StatusRejected      Status = "rejected"
)

// ProductType enumerates the beverage classes a label can describe.
type ProductType string

const (
	ProductTypeWine             ProductType = "wine"
	ProductTypeDistilledSpirits ProductType = "distilled_spirits"
	ProductTypeMaltBeverage     ProductType = "malt_beverage"
)

// Source distinguishes domestic from imported products.
type Source string

const (
	SourceDomestic Source = "domestic"
	SourceImported Source = "imported"
)

// ImageType enumerates the declared label image positions.
type ImageType string

const (
	ImageTypeBrandFront ImageType = "brand_front"
	ImageTypeBack       ImageType = "back"
	ImageTypeOther      ImageType = "other"
)

// ReviewAction enumerates admin decisions.
type ReviewAction string

const (
	ReviewActionApproved      ReviewAction = "approved"
	ReviewActionNeedsRevision ReviewAction = "needs_revision"
	ReviewActionRejected      ReviewAction = "rejected"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidSubmissionID indicates that a submission identifier is empty or exceeds storage bounds.
	ErrInvalidSubmissionID = errors.New("submissions: invalid submission id")
	// ErrInvalidUserID indicates that a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("submissions: invalid user id")
)

// SubmissionID represents a validated submission identifier.
type SubmissionID string

// NewSubmissionID validates raw input and returns a SubmissionID.
func NewSubmissionID(rawInput string) (SubmissionID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidSubmissionID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidSubmissionID, maxIdentifierLength)
	}
	return SubmissionID(trimmed), nil
}

// String returns the underlying string identifier.
func (id SubmissionID) String() string {
	return string(id)
}

// UserID represents a validated user identifier.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserID, maxIdentifierLength)
	}
	return UserID(trimmed), nil
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}

// Submission is the versioned label application document.
type Submission struct {
	ID                     string      `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	UserID                 string      `gorm:"column:user_id;size:190;not null;index:idx_submissions_user_created,priority:1" json:"userId"`
	ProductType            ProductType `gorm:"column:product_type;size:32;not null" json:"productType"`
	Source                 Source      `gorm:"column:source;size:32;not null" json:"source"`
	SerialNumber           string      `gorm:"column:serial_number;size:190;not null" json:"serialNumber"`
	BrandName              string      `gorm:"column:brand_name;size:255;not null" json:"brandName"`
	FancifulName           *string     `gorm:"column:fanciful_name;size:255" json:"fancifulName"`
	ClassTypeDesignation   string      `gorm:"column:class_type_designation;size:255;not null" json:"classTypeDesignation"`
	AlcoholContent         string      `gorm:"column:alcohol_content;size:64;not null" json:"alcoholContent"`
	NetContents            string      `gorm:"column:net_contents;size:64;not null" json:"netContents"`
	NameAddressOnLabel     string      `gorm:"column:name_address_on_label;type:text;not null" json:"nameAddressOnLabel"`
	ApplicationTypesJSON   string      `gorm:"column:application_types;type:text;not null;default:'[]'" json:"-"`
	ResubmissionTTBID      *string     `gorm:"column:resubmission_ttb_id;size:190" json:"resubmissionTtbId"`
	FormulaNumber          *string     `gorm:"column:formula_number;size:190" json:"formulaNumber"`
	ContainerInfo          *string     `gorm:"column:container_info;type:text" json:"containerInfo"`
	ApplicantNotes         *string     `gorm:"column:applicant_notes;type:text" json:"applicantNotes"`
	CountryOfOrigin        *string     `gorm:"column:country_of_origin;size:190" json:"countryOfOrigin"`
	StatementOfComposition *string     `gorm:"column:statement_of_composition;type:text" json:"statementOfComposition"`
	AgeStatement           *string     `gorm:"column:age_statement;size:255" json:"ageStatement"`
	StateOfDistillation    *string     `gorm:"column:state_of_distillation;size:190" json:"stateOfDistillation"`
	CommodityStatement     *string     `gorm:"column:commodity_statement;type:text" json:"commodityStatement"`
	ColoringMaterials      *string     `gorm:"column:coloring_materials;type:text" json:"coloringMaterials"`
	GrapeVarietals         *string     `gorm:"column:grape_varietals;size:255" json:"grapeVarietals"`
	AppellationOfOrigin    *string     `gorm:"column:appellation_of_origin;size:255" json:"appellationOfOrigin"`
	VintageDate            *string     `gorm:"column:vintage_date;size:32" json:"vintageDate"`
	ForeignWinePercentage  *string     `gorm:"column:foreign_wine_percentage;size:32" json:"foreignWinePercentage"`
	FDNCYellow5            bool        `gorm:"column:fdnc_yellow5;not null;default:false" json:"fdncYellow5"`
	CochinealCarmine       bool        `gorm:"column:cochineal_carmine;not null;default:false" json:"cochinealCarmine"`
	SulfiteDeclaration     bool        `gorm:"column:sulfite_declaration;not null;default:false" json:"sulfiteDeclaration"`
	HealthWarningConfirmed bool        `gorm:"column:health_warning_confirmed;not null;default:false" json:"healthWarningConfirmed"`
	Status                 Status      `gorm:"column:status;size:32;not null;default:'pending';index:idx_submissions_status_created,priority:1" json:"status"`
	NeedsAttention         bool        `gorm:"column:needs_attention;not null;default:false" json:"needsAttention"`
	ValidationInProgress   bool        `gorm:"column:validation_in_progress;not null;default:false" json:"validationInProgress"`
	ValidationStartedAt    *time.Time  `gorm:"column:validation_started_at" json:"-"`
	Version                int64       `gorm:"column:version;not null;default:1" json:"version"`
	CreatedAt              time.Time   `gorm:"column:created_at;not null;autoCreateTime:false;index:idx_submissions_user_created,priority:2;index:idx_submissions_status_created,priority:2" json:"createdAt"`
	UpdatedAt              time.Time   `gorm:"column:updated_at;not null;autoUpdateTime:false" json:"updatedAt"`
}

// TableName provides the explicit table binding for GORM.
func (Submission) TableName() string {
	return "submissions"
}

// Image records one uploaded label photo. Rows are never updated.
type Image struct {
	ID               string    `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	SubmissionID     string    `gorm:"column:submission_id;size:190;not null;index:idx_images_submission_created,priority:1" json:"submissionId"`
	ImageType        ImageType `gorm:"column:image_type;size:32;not null" json:"imageType"`
	StoragePath      string    `gorm:"column:storage_path;size:512;not null;default:''" json:"storagePath"`
	DownloadURL      string    `gorm:"column:download_url;type:text;not null;default:''" json:"downloadUrl"`
	OriginalFilename string    `gorm:"column:original_filename;size:255;not null;default:''" json:"originalFilename"`
	MimeType         string    `gorm:"column:mime_type;size:64;not null" json:"mimeType"`
	FileSize         int64     `gorm:"column:file_size;not null" json:"fileSize"`
	CreatedAt        time.Time `gorm:"column:created_at;not null;autoCreateTime:false;index:idx_images_submission_created,priority:2" json:"createdAt"`
}

// TableName provides the explicit table binding for GORM.
func (Image) TableName() string {
	return "submission_images"
}

// ValidationResult is one entry of the append-only analysis log.
type ValidationResult struct {
	ID                     string    `gorm:"column:id;primaryKey;size:190;not null"`
	SubmissionID           string    `gorm:"column:submission_id;size:190;not null;index:idx_results_submission_created,priority:1"`
	SubmissionVersion      int64     `gorm:"column:submission_version;not null"`
	ImageID                string    `gorm:"column:image_id;size:190;not null;default:''"`
	ExtractedText          string    `gorm:"column:extracted_text;type:text;not null"`
	FieldResultsJSON       string    `gorm:"column:field_results;type:text;not null"`
	ComplianceWarningsJSON string    `gorm:"column:compliance_warnings;type:text;not null"`
	OverallPass            bool      `gorm:"column:overall_pass;not null"`
	Confidence             string    `gorm:"column:confidence;size:16;not null"`
	RawResponseJSON        string    `gorm:"column:raw_response;type:text;not null"`
	ProcessedAt            time.Time `gorm:"column:processed_at;not null;autoCreateTime:false"`
	CreatedAt              time.Time `gorm:"column:created_at;not null;autoCreateTime:false;index:idx_results_submission_created,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (ValidationResult) TableName() string {
	return "submission_validation_results"
}

// Review records an admin decision. Rows are never updated.
type Review struct {
	ID             string       `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	SubmissionID   string       `gorm:"column:submission_id;size:190;not null;index:idx_reviews_submission_created,priority:1" json:"submissionId"`
	AdminID        string       `gorm:"column:admin_id;size:190;not null" json:"adminId"`
	Action         ReviewAction `gorm:"column:action;size:32;not null" json:"action"`
	FeedbackToUser *string      `gorm:"column:feedback_to_user;type:text" json:"feedbackToUser"`
	InternalNotes  *string      `gorm:"column:internal_notes;type:text" json:"internalNotes"`
	CreatedAt      time.Time    `gorm:"column:created_at;not null;autoCreateTime:false;index:idx_reviews_submission_created,priority:2" json:"createdAt"`
}

// TableName provides the explicit table binding for GORM.
func (Review) TableName() string {
	return "submission_reviews"
}

// HistoryEntry captures an append-only audit trail for user and admin mutations.
type HistoryEntry struct {
	ID           string    `gorm:"column:id;primaryKey;size:190;not null"`
	SubmissionID string    `gorm:"column:submission_id;size:190;not null;index:idx_history_submission_created,priority:1"`
	Version      int64     `gorm:"column:version;not null"`
	ChangesJSON  string    `gorm:"column:changes;type:text;not null"`
	ChangedBy    string    `gorm:"column:changed_by;size:190;not null"`
	CreatedAt    time.Time `gorm:"column:created_at;not null;autoCreateTime:false;index:idx_history_submission_created,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (HistoryEntry) TableName() string {
	return "submission_history"
}

// Models lists every persisted type for schema migration.
func Models() []interface{} {
	return []interface{}{
		&Submission{},
		&Image{},
		&ValidationResult{},
		&Review{},
		&HistoryEntry{},
	}
}
