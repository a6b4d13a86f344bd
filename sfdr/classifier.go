package sfdr

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Rule identifiers cited on validation issues
const (
	RuleArt8Promotion    = "SFDR_ART8_PROMOTION_REQUIREMENT"
	RuleArt9Objective    = "SFDR_ART9_OBJECTIVE_REQUIREMENT"
	RulePAIConsideration = "PAI_CONSIDERATION_REQUIRED"
	RuleTaxonomyMinimum  = "TAXONOMY_ALIGNMENT_MINIMUM"
	RuleDisclosure       = "DISCLOSURE_COMPLETENESS"
)

// ValidatorVersion is reported on audit trails and capabilities
const ValidatorVersion = "1.2.0"

// mandatoryPAICount is the number of mandatory Principal Adverse Impact
// indicators required under SFDR RTS Annex I.
const mandatoryPAICount = 18

// totalChecks is the fixed check count the compliance score is graded
// against. Errors subtract from it regardless of how many rules fired.
const totalChecks = 10

const (
	baseConfidence  = 0.95
	errorPenalty    = 0.20
	warningPenalty  = 0.10
	disclosureBonus = 0.05
	minConfidence   = 0.10
	maxConfidence   = 0.99
)

// Classifier applies the SFDR article rules to a classification request.
// Stateless and safe for concurrent use.
type Classifier struct{}

// NewClassifier creates a rule-based classifier
func NewClassifier() *Classifier {
	return &Classifier{}
}

// RecommendArticle derives the article classification from the fund profile.
// Precedence is fixed: a sustainable investment objective wins over
// sustainability characteristics, which win over the Article 6 default.
func (c *Classifier) RecommendArticle(req ClassificationRequest) Article {
	objective := strings.ToLower(req.FundProfile.InvestmentObjective)
	if strings.Contains(objective, "sustainable investment") {
		return Article9
	}
	if len(req.FundProfile.SustainabilityCharacteristics) > 0 {
		return Article8
	}
	return Article6
}

// Evaluate runs the rule set against the request and returns the issues
// found plus advisory recommendations. The rule set keys off the fund's
// target classification, not the recommended one: it checks whether the
// fund supports the classification it claims.
func (c *Classifier) Evaluate(req ClassificationRequest) ([]ValidationIssue, []string) {
	issues := []ValidationIssue{}
	var recommendations []string

	target := req.FundProfile.TargetArticleClassification

	if target == Article8 {
		if len(req.FundProfile.SustainabilityCharacteristics) == 0 {
			issues = append(issues, ValidationIssue{
				ID:         "SFDR_ART8_001",
				Message:    "Article 8 funds must define environmental or social characteristics",
				Severity:   SeverityError,
				Field:      "fundProfile.sustainabilityCharacteristics",
				RuleID:     RuleArt8Promotion,
				Regulation: "SFDR Article 8(1)",
				Suggestion: "Define the environmental or social characteristics the fund promotes",
			})
		}
		if req.PAIIndicators == nil || req.PAIIndicators.ConsiderationStatement == "" {
			issues = append(issues, ValidationIssue{
				ID:         "SFDR_PAI_001",
				Message:    "PAI consideration statement is missing",
				Severity:   SeverityWarning,
				Field:      "paiIndicators.considerationStatement",
				RuleID:     RulePAIConsideration,
				Regulation: "SFDR Article 7",
				Suggestion: "State whether and how principal adverse impacts are considered",
			})
			recommendations = append(recommendations,
				"Add a principal adverse impact consideration statement")
		}
	}

	if target == Article9 {
		objective := strings.ToLower(req.FundProfile.InvestmentObjective)
		if !strings.Contains(objective, "sustainable") {
			issues = append(issues, ValidationIssue{
				ID:         "SFDR_ART9_001",
				Message:    "Article 9 funds must have sustainable investment as their objective",
				Severity:   SeverityError,
				Field:      "fundProfile.investmentObjective",
				RuleID:     RuleArt9Objective,
				Regulation: "SFDR Article 9(1)",
				Suggestion: "State a sustainable investment objective for the fund",
			})
		}
		if req.TaxonomyAlignment == nil || req.TaxonomyAlignment.AlignmentPercentage == 0 {
			recommendations = append(recommendations,
				"Document EU Taxonomy alignment for the sustainable investment objective")
		}
	}

	if req.PAIIndicators != nil && len(req.PAIIndicators.MandatoryIndicators) < mandatoryPAICount {
		issues = append(issues, ValidationIssue{
			ID:       "SFDR_PAI_002",
			Message:  fmt.Sprintf("Only %d of %d mandatory PAI indicators reported", len(req.PAIIndicators.MandatoryIndicators), mandatoryPAICount),
			Severity: SeverityWarning,
			Field:    "paiIndicators.mandatoryIndicators",
			RuleID:   RulePAIConsideration,
		})
		recommendations = append(recommendations,
			"Report all mandatory PAI indicators under SFDR RTS Annex I")
	}

	return issues, recommendations
}

// Confidence computes the classification confidence from the request shape
// and the issues found. Always within [0.10, 0.99].
func (c *Classifier) Confidence(req ClassificationRequest, issues []ValidationIssue) float64 {
	confidence := baseConfidence

	for _, issue := range issues {
		switch issue.Severity {
		case SeverityError:
			confidence -= errorPenalty
		case SeverityWarning:
			confidence -= warningPenalty
		}
	}

	if req.PAIIndicators != nil {
		confidence += disclosureBonus
	}
	if req.TaxonomyAlignment != nil {
		confidence += disclosureBonus
	}

	return math.Min(maxConfidence, math.Max(minConfidence, confidence))
}

// ComplianceScore grades the result on a 0-100 scale against the fixed
// check count
func (c *Classifier) ComplianceScore(issues []ValidationIssue) int {
	errorCount := 0
	for _, issue := range issues {
		if issue.Severity == SeverityError {
			errorCount++
		}
	}
	return int(math.Round(100 * float64(totalChecks-errorCount) / float64(totalChecks)))
}

// Classify produces the full classification recommendation for a request
func (c *Classifier) Classify(req ClassificationRequest) ClassificationResult {
	issues, _ := c.Evaluate(req)
	article := c.RecommendArticle(req)

	return ClassificationResult{
		RecommendedArticle:         article,
		Confidence:                 c.Confidence(req, issues),
		Reasoning:                  c.reasoning(req, article),
		AlternativeClassifications: c.alternatives(article),
	}
}

func (c *Classifier) reasoning(req ClassificationRequest, article Article) []string {
	switch article {
	case Article9:
		return []string{
			"Investment objective targets sustainable investment",
			"Classification follows SFDR Article 9(1) objective requirements",
		}
	case Article8:
		return []string{
			fmt.Sprintf("Fund promotes %d environmental or social characteristics", len(req.FundProfile.SustainabilityCharacteristics)),
			"Classification follows SFDR Article 8(1) promotion requirements",
		}
	default:
		return []string{
			"No sustainable investment objective or promoted characteristics identified",
			"Fund defaults to Article 6 baseline disclosure requirements",
		}
	}
}

// alternatives lists the two articles the fund was not classified as, each
// with a fixed illustrative confidence and the conditions to qualify.
func (c *Classifier) alternatives(recommended Article) []AlternativeClassification {
	var alts []AlternativeClassification

	if recommended != Article6 {
		alts = append(alts, AlternativeClassification{
			Article:    Article6,
			Confidence: 0.3,
			Conditions: []string{
				"Remove sustainability characteristics",
				"Focus on traditional investment approach",
			},
		})
	}
	if recommended != Article8 {
		alts = append(alts, AlternativeClassification{
			Article:    Article8,
			Confidence: 0.7,
			Conditions: []string{
				"Define sustainability characteristics",
				"Implement ESG integration",
			},
		})
	}
	if recommended != Article9 {
		alts = append(alts, AlternativeClassification{
			Article:    Article9,
			Confidence: 0.4,
			Conditions: []string{
				"Adopt a sustainable investment objective",
				"Document EU Taxonomy alignment",
			},
		})
	}

	return alts
}

// BuildResult runs the full pipeline locally and assembles a complete
// validation result. This is the always-available fallback validator: it
// never fails and never performs I/O.
func (c *Classifier) BuildResult(req ClassificationRequest) ValidationResult {
	start := time.Now()

	issues, recommendations := c.Evaluate(req)
	classification := c.Classify(req)
	score := c.ComplianceScore(issues)

	hasError := false
	for _, issue := range issues {
		if issue.Severity == SeverityError {
			hasError = true
			break
		}
	}

	return ValidationResult{
		IsValid:         !hasError,
		RequestID:       NewRequestID(),
		Timestamp:       time.Now().UTC().Format(time.RFC3339Nano),
		Classification:  classification,
		Issues:          issues,
		Recommendations: recommendations,
		Sources: []string{
			"SFDR Regulation (EU) 2019/2088",
			"Commission Delegated Regulation (EU) 2022/1288",
		},
		ValidationDetails: c.details(req, issues),
		ComplianceScore:   score,
		RegulatoryReferences: []RegulatoryReference{
			{
				Regulation: "SFDR",
				Article:    string(classification.RecommendedArticle),
				Text:       "Regulation (EU) 2019/2088 on sustainability-related disclosures in the financial services sector",
			},
		},
		AuditTrail: &AuditTrail{
			ValidatorVersion: ValidatorVersion,
			ProcessingTimeMS: float64(time.Since(start).Microseconds()) / 1000.0,
			ChecksPerformed: []string{
				"article_classification",
				"pai_consistency",
				"taxonomy_alignment",
				"disclosure_completeness",
			},
		},
		Message: fmt.Sprintf("Validation completed with %d issue(s)", len(issues)),
	}
}

func (c *Classifier) details(req ClassificationRequest, issues []ValidationIssue) ValidationDetails {
	hasError := false
	hasPAIIssue := false
	for _, issue := range issues {
		if issue.Severity == SeverityError {
			hasError = true
		}
		if strings.HasPrefix(issue.ID, "SFDR_PAI") {
			hasPAIIssue = true
		}
	}

	return ValidationDetails{
		ArticleCompliance:        !hasError,
		PAIConsistency:           !hasPAIIssue,
		TaxonomyAlignment:        req.TaxonomyAlignment != nil,
		DataQuality:              req.PAIIndicators != nil && req.PAIIndicators.DataQuality != nil,
		DisclosureCompleteness:   len(issues) == 0,
		DocumentationSufficiency: req.FundProfile.InvestmentObjective != "",
	}
}

// DefaultCapabilities is the static capability set reported when the
// upstream validation services cannot be reached
func DefaultCapabilities() Capabilities {
	return Capabilities{
		SupportedRegulations: []string{"SFDR", "EU_TAXONOMY", "CSRD"},
		SupportedArticles:    []string{string(Article6), string(Article8), string(Article9)},
		ValidationRules: []string{
			RuleArt8Promotion,
			RuleArt9Objective,
			RulePAIConsideration,
			RuleTaxonomyMinimum,
			RuleDisclosure,
		},
		Languages:   []string{"en", "de", "fr", "es", "it"},
		Version:     ValidatorVersion,
		LastUpdated: time.Now().UTC().Format(time.RFC3339),
	}
}
