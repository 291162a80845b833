package config

import "gopkg.in/yaml.v3"

func parseScamPatterns(content []byte) (*ScamPatternsDoc, error) {
	var doc ScamPatternsDoc
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func parseRiskTable(content []byte) (*RiskTableDoc, error) {
	var doc RiskTableDoc
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func parseMCCMap(content []byte) (*MCCMapDoc, error) {
	var doc MCCMapDoc
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func parseKeys(content []byte) (*KeysDoc, error) {
	var doc KeysDoc
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}
