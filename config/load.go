package config

import (
	"fmt"
	"os"
)

// LoadResult bundles a parsed document with the ValidationResult produced
// while checking it, so callers can log warnings even when Valid is true.
type LoadResult struct {
	Validation ValidationResult
	ScamTable  *ScamPatternsDoc
	RiskTable  *RiskTableDoc
	MCCTable   *MCCMapDoc
	Keys       *KeysDoc
}

// LoadFile reads path, validates it as docType, and parses it into the
// matching typed document. Returns the ValidationResult even on error so
// callers can surface exactly what failed.
func LoadFile(docType DocType, path string) (LoadResult, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return LoadResult{}, fmt.Errorf("read %s: %w", path, err)
	}

	result := Validate(docType, content, path)
	if result.HasErrors() {
		return LoadResult{Validation: result}, fmt.Errorf("invalid %s config %s: %d error(s)", docType, path, countErrors(result))
	}

	load := LoadResult{Validation: result}
	switch docType {
	case DocTypeScamPatterns:
		doc, err := parseScamPatterns(content)
		if err != nil {
			return load, err
		}
		load.ScamTable = doc
	case DocTypeRiskTable:
		doc, err := parseRiskTable(content)
		if err != nil {
			return load, err
		}
		load.RiskTable = doc
	case DocTypeMCCMap:
		doc, err := parseMCCMap(content)
		if err != nil {
			return load, err
		}
		load.MCCTable = doc
	case DocTypeKeys:
		doc, err := parseKeys(content)
		if err != nil {
			return load, err
		}
		load.Keys = doc
	}
	return load, nil
}

func countErrors(r ValidationResult) int {
	n := 0
	for _, issue := range r.Issues {
		if issue.Severity == SeverityError {
			n++
		}
	}
	return n
}
