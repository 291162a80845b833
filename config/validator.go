package config

import (
	"fmt"
	"regexp"

	"gopkg.in/yaml.v3"
)

// ScamCategory is one category of the scam pattern table: its score
// contribution and the list of regexes that trigger it.
type ScamCategory struct {
	Weight   int      `yaml:"weight"`
	Patterns []string `yaml:"patterns"`
}

// ScamPatternsDoc mirrors the on-disk shape of a scam pattern table
// document: a map of category name to its weight and regex list.
type ScamPatternsDoc struct {
	Categories map[string]ScamCategory `yaml:"categories"`
}

// RiskThresholds holds the transaction governor's amount thresholds.
type RiskThresholds struct {
	HighAmount     float64 `yaml:"high_amount"`
	VeryHighAmount float64 `yaml:"very_high_amount"`
}

// RiskTableDoc mirrors the on-disk shape of the transaction governor's
// risk table: risk category membership plus the numeric thresholds spec.md
// §4.4 and the original's transaction_governor.py assign fixed weights to.
type RiskTableDoc struct {
	HighRiskCategories   []string       `yaml:"high_risk_categories"`
	MediumRiskCategories []string       `yaml:"medium_risk_categories"`
	Thresholds           RiskThresholds `yaml:"thresholds"`
}

// MCCMapDoc mirrors the on-disk shape of the MCC-to-category map.
type MCCMapDoc struct {
	Codes map[string]string `yaml:"codes"`
	// Fallback is the category assigned to any MCC code absent from Codes.
	Fallback string `yaml:"fallback"`
}

// KeysDoc mirrors the on-disk shape of key material configuration. The
// hex fields are validated for presence and length here; the raw strings
// themselves are handed to crypto.Config by the caller, never logged.
type KeysDoc struct {
	EncryptionKeyHex string `yaml:"encryption_key_hex"`
	MACKeyHex        string `yaml:"mac_key_hex"`
}

// Validate checks content against the rules for docType, returning a
// ValidationResult that is never itself an error — callers inspect
// result.Valid / result.HasErrors() to decide whether to proceed. Adapted
// from the teacher's config.Validate(configType, content, source)
// dispatch shape.
func Validate(docType DocType, content []byte, source string) ValidationResult {
	result := ValidationResult{DocType: docType, Source: source, Valid: true}

	if !docType.IsValid() {
		result.Valid = false
		result.Issues = append(result.Issues, ValidationIssue{
			Severity: SeverityError,
			Location: source,
			Message:  fmt.Sprintf("unknown config doc type %q", docType),
		})
		return result
	}

	var issues []ValidationIssue
	switch docType {
	case DocTypeScamPatterns:
		issues = validateScamPatterns(content, source)
	case DocTypeRiskTable:
		issues = validateRiskTable(content, source)
	case DocTypeMCCMap:
		issues = validateMCCMap(content, source)
	case DocTypeKeys:
		issues = validateKeys(content, source)
	}

	result.Issues = issues
	result.Valid = !result.HasErrors()
	return result
}

func validateScamPatterns(content []byte, source string) []ValidationIssue {
	var doc ScamPatternsDoc
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return []ValidationIssue{{
			Severity: SeverityError,
			Location: source,
			Message:  fmt.Sprintf("invalid yaml: %v", err),
		}}
	}

	var issues []ValidationIssue
	if len(doc.Categories) == 0 {
		issues = append(issues, ValidationIssue{
			Severity:   SeverityError,
			Location:   source,
			Message:    "scam pattern table has no categories",
			Suggestion: "define at least one category with weight and patterns",
		})
	}
	for name, cat := range doc.Categories {
		loc := fmt.Sprintf("%s:categories.%s", source, name)
		if cat.Weight <= 0 {
			issues = append(issues, ValidationIssue{
				Severity:   SeverityError,
				Location:   loc,
				Message:    "weight must be positive",
				Suggestion: "set weight to the category's score contribution, e.g. 25",
			})
		}
		if len(cat.Patterns) == 0 {
			issues = append(issues, ValidationIssue{
				Severity: SeverityWarning,
				Location: loc,
				Message:  "category has no patterns and will never match",
			})
		}
		for _, pat := range cat.Patterns {
			if _, err := regexp.Compile(pat); err != nil {
				issues = append(issues, ValidationIssue{
					Severity:   SeverityError,
					Location:   loc,
					Message:    fmt.Sprintf("invalid regexp %q: %v", pat, err),
					Suggestion: "fix the pattern so it compiles with Go's regexp/syntax",
				})
			}
		}
	}
	return issues
}

func validateRiskTable(content []byte, source string) []ValidationIssue {
	var doc RiskTableDoc
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return []ValidationIssue{{
			Severity: SeverityError,
			Location: source,
			Message:  fmt.Sprintf("invalid yaml: %v", err),
		}}
	}

	var issues []ValidationIssue
	if doc.Thresholds.HighAmount <= 0 {
		issues = append(issues, ValidationIssue{
			Severity:   SeverityError,
			Location:   source + ":thresholds.high_amount",
			Message:    "high_amount threshold must be positive",
			Suggestion: "the original uses 200",
		})
	}
	if doc.Thresholds.VeryHighAmount <= doc.Thresholds.HighAmount {
		issues = append(issues, ValidationIssue{
			Severity:   SeverityError,
			Location:   source + ":thresholds.very_high_amount",
			Message:    "very_high_amount must exceed high_amount",
			Suggestion: "the original uses 1000",
		})
	}
	seen := make(map[string]bool)
	for _, c := range doc.HighRiskCategories {
		seen[c] = true
	}
	for _, c := range doc.MediumRiskCategories {
		if seen[c] {
			issues = append(issues, ValidationIssue{
				Severity: SeverityWarning,
				Location: source + ":medium_risk_categories",
				Message:  fmt.Sprintf("category %q listed as both high and medium risk", c),
			})
		}
	}
	return issues
}

func validateMCCMap(content []byte, source string) []ValidationIssue {
	var doc MCCMapDoc
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return []ValidationIssue{{
			Severity: SeverityError,
			Location: source,
			Message:  fmt.Sprintf("invalid yaml: %v", err),
		}}
	}

	var issues []ValidationIssue
	if doc.Fallback == "" {
		issues = append(issues, ValidationIssue{
			Severity:   SeverityWarning,
			Location:   source + ":fallback",
			Message:    "no fallback category set for unmapped MCC codes",
			Suggestion: `set fallback: "other"`,
		})
	}
	if len(doc.Codes) == 0 {
		issues = append(issues, ValidationIssue{
			Severity: SeverityWarning,
			Location: source,
			Message:  "MCC map has no codes, all authorizations will use the fallback category",
		})
	}
	return issues
}

func validateKeys(content []byte, source string) []ValidationIssue {
	var doc KeysDoc
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return []ValidationIssue{{
			Severity: SeverityError,
			Location: source,
			Message:  fmt.Sprintf("invalid yaml: %v", err),
		}}
	}

	var issues []ValidationIssue
	if len(doc.EncryptionKeyHex) != 64 {
		issues = append(issues, ValidationIssue{
			Severity:   SeverityError,
			Location:   source + ":encryption_key_hex",
			Message:    "encryption_key_hex must be 64 hex characters (32 bytes)",
			Suggestion: "generate with: openssl rand -hex 32",
		})
	}
	if len(doc.MACKeyHex) != 64 {
		issues = append(issues, ValidationIssue{
			Severity:   SeverityError,
			Location:   source + ":mac_key_hex",
			Message:    "mac_key_hex must be 64 hex characters (32 bytes)",
			Suggestion: "generate with: openssl rand -hex 32",
		})
	}
	return issues
}
