// Package sfdr defines the SFDR classification domain model and the
// rule-based article classifier. SFDR (Sustainable Finance Disclosure
// Regulation) classifies EU investment funds into Article 6/8/9 by
// sustainability ambition.
package sfdr

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nairamint/nexus-core/errors"
)

// Article is an SFDR fund classification
type Article string

// Supported SFDR article classifications
const (
	Article6 Article = "Article6"
	Article8 Article = "Article8"
	Article9 Article = "Article9"
)

// Valid reports whether a is one of the three supported classifications
func (a Article) Valid() bool {
	return a == Article6 || a == Article8 || a == Article9
}

// Severity grades a validation issue
type Severity string

// Issue severities
const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Metadata identifies the reporting entity and submission
type Metadata struct {
	EntityID          string `json:"entityId"`
	ReportingPeriod   string `json:"reportingPeriod"`
	RegulatoryVersion string `json:"regulatoryVersion"`
	SubmissionType    string `json:"submissionType"`
}

// FundProfile describes the fund under classification
type FundProfile struct {
	FundType                      string   `json:"fundType"`
	FundName                      string   `json:"fundName"`
	TargetArticleClassification   Article  `json:"targetArticleClassification"`
	InvestmentObjective           string   `json:"investmentObjective,omitempty"`
	SustainabilityCharacteristics []string `json:"sustainabilityCharacteristics,omitempty"`
}

// DataQuality describes PAI indicator data coverage
type DataQuality struct {
	CoveragePercentage float64 `json:"coveragePercentage"`
}

// PAIIndicators carries Principal Adverse Impact indicator disclosures
type PAIIndicators struct {
	MandatoryIndicators    []string     `json:"mandatoryIndicators"`
	OptionalIndicators     []string     `json:"optionalIndicators,omitempty"`
	ConsiderationStatement string       `json:"considerationStatement,omitempty"`
	DataQuality            *DataQuality `json:"dataQuality,omitempty"`
}

// TaxonomyAlignment carries EU Taxonomy alignment disclosures
type TaxonomyAlignment struct {
	EnvironmentalObjectives []string `json:"environmentalObjectives,omitempty"`
	AlignmentPercentage     float64  `json:"alignmentPercentage,omitempty"`
	EligibilityPercentage   float64  `json:"eligibilityPercentage,omitempty"`
}

// ClassificationRequest is the input to the validation pipeline
type ClassificationRequest struct {
	Metadata          Metadata           `json:"metadata"`
	FundProfile       FundProfile        `json:"fundProfile"`
	PAIIndicators     *PAIIndicators     `json:"paiIndicators,omitempty"`
	TaxonomyAlignment *TaxonomyAlignment `json:"taxonomyAlignment,omitempty"`
}

// Validate checks the required request fields. Violations are invalid-class
// errors surfaced to the caller, never silently defaulted.
func (r ClassificationRequest) Validate() error {
	if r.Metadata.EntityID == "" {
		return errors.WrapInvalid(errors.ErrInvalidRequest, "ClassificationRequest", "Validate",
			"entity ID is required")
	}
	if r.FundProfile.FundName == "" {
		return errors.WrapInvalid(errors.ErrInvalidRequest, "ClassificationRequest", "Validate",
			"fund name is required")
	}
	if !r.FundProfile.TargetArticleClassification.Valid() {
		return errors.WrapInvalid(errors.ErrInvalidRequest, "ClassificationRequest", "Validate",
			fmt.Sprintf("invalid target article classification %q", r.FundProfile.TargetArticleClassification))
	}
	return nil
}

// ValidationIssue is a single rule violation or advisory finding
type ValidationIssue struct {
	ID         string   `json:"id"`
	Message    string   `json:"message"`
	Severity   Severity `json:"severity"`
	Field      string   `json:"field,omitempty"`
	RuleID     string   `json:"ruleId,omitempty"`
	Regulation string   `json:"regulation,omitempty"`
	Suggestion string   `json:"suggestion,omitempty"`
}

// AlternativeClassification describes a non-recommended article and what
// would need to change to qualify for it
type AlternativeClassification struct {
	Article    Article  `json:"article"`
	Confidence float64  `json:"confidence"`
	Conditions []string `json:"conditions"`
}

// ClassificationResult is the classifier's recommendation
type ClassificationResult struct {
	RecommendedArticle         Article                     `json:"recommendedArticle"`
	Confidence                 float64                     `json:"confidence"`
	Reasoning                  []string                    `json:"reasoning"`
	AlternativeClassifications []AlternativeClassification `json:"alternativeClassifications,omitempty"`
}

// ValidationDetails summarizes per-area compliance checks
type ValidationDetails struct {
	ArticleCompliance        bool `json:"articleCompliance"`
	PAIConsistency           bool `json:"paiConsistency"`
	TaxonomyAlignment        bool `json:"taxonomyAlignment"`
	DataQuality              bool `json:"dataQuality"`
	DisclosureCompleteness   bool `json:"disclosureCompleteness"`
	DocumentationSufficiency bool `json:"documentationSufficiency"`
}

// RegulatoryReference cites the regulation text behind a result
type RegulatoryReference struct {
	Regulation string `json:"regulation"`
	Article    string `json:"article"`
	Text       string `json:"text"`
}

// AuditTrail records how a validation result was produced
type AuditTrail struct {
	ValidatorVersion string   `json:"validatorVersion"`
	ProcessingTimeMS float64  `json:"processingTime"`
	ChecksPerformed  []string `json:"checksPerformed"`
}

// ValidationResult is the output of the validation pipeline. Created fresh
// per validation call; never persisted by this core.
type ValidationResult struct {
	IsValid              bool                  `json:"isValid"`
	RequestID            string                `json:"requestId"`
	Timestamp            string                `json:"timestamp"`
	Classification       ClassificationResult  `json:"classification"`
	Issues               []ValidationIssue     `json:"issues"`
	Recommendations      []string              `json:"recommendations,omitempty"`
	Sources              []string              `json:"sources,omitempty"`
	ValidationDetails    ValidationDetails     `json:"validationDetails"`
	ComplianceScore      int                   `json:"complianceScore"`
	RegulatoryReferences []RegulatoryReference `json:"regulatoryReferences,omitempty"`
	AuditTrail           *AuditTrail           `json:"auditTrail,omitempty"`
	Message              string                `json:"message,omitempty"`

	// Source marks which validation tier produced the result
	// (primary, external, mock).
	Source string `json:"source,omitempty"`
}

// Capabilities describes what the validation service supports
type Capabilities struct {
	SupportedRegulations []string `json:"supportedRegulations"`
	SupportedArticles    []string `json:"supportedArticles"`
	ValidationRules      []string `json:"validationRules"`
	Languages            []string `json:"languages"`
	Version              string   `json:"version"`
	LastUpdated          string   `json:"lastUpdated"`
}

// NewRequestID generates a validation request id
func NewRequestID() string {
	return fmt.Sprintf("nexus_%d_%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}
