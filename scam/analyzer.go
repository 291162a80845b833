package scam

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/aegistrust/proxy/config"
)

type categoryDef struct {
	weight   int
	patterns []string
}

type compiledCategory struct {
	name     string
	weight   int
	patterns []*regexp.Regexp
}

// Analyzer scores transcripts against a fixed, pre-compiled pattern
// table. Regexes are compiled once at construction, never per call —
// spec §4.3 requires the table to be externalizable data, but scoring
// itself stays a hot path.
type Analyzer struct {
	categories []compiledCategory
	clock      func() time.Time
}

// defaultAnalyzer is compiled once at package init from defaultPatterns,
// mirroring sentinel_analyzer.py's class-level SCAM_INDICATORS constant.
var defaultAnalyzer = mustNewAnalyzerFromDefs(orderedDefs())

func orderedDefs() []namedCategoryDef {
	defs := make([]namedCategoryDef, 0, len(defaultCategoryOrder))
	for _, name := range defaultCategoryOrder {
		defs = append(defs, namedCategoryDef{name: name, def: defaultPatterns[name]})
	}
	return defs
}

type namedCategoryDef struct {
	name string
	def  categoryDef
}

func mustNewAnalyzerFromDefs(defs []namedCategoryDef) *Analyzer {
	a, err := newAnalyzerFromDefs(defs)
	if err != nil {
		panic(fmt.Sprintf("scam: default pattern table failed to compile: %v", err))
	}
	return a
}

func newAnalyzerFromDefs(defs []namedCategoryDef) (*Analyzer, error) {
	categories := make([]compiledCategory, 0, len(defs))
	for _, d := range defs {
		compiled := make([]*regexp.Regexp, 0, len(d.def.patterns))
		for _, pat := range d.def.patterns {
			re, err := regexp.Compile(pat)
			if err != nil {
				return nil, fmt.Errorf("category %q: compile %q: %w", d.name, pat, err)
			}
			compiled = append(compiled, re)
		}
		categories = append(categories, compiledCategory{name: d.name, weight: d.def.weight, patterns: compiled})
	}
	return &Analyzer{categories: categories, clock: time.Now}, nil
}

// NewAnalyzer builds an Analyzer from a config-loaded pattern table
// (config.ScamPatternsDoc, typically sourced from config.LoadFile with
// DocTypeScamPatterns). Category order follows a stable sort of the map
// keys, since YAML-sourced tables carry no inherent order.
func NewAnalyzer(table map[string]config.ScamCategory) (*Analyzer, error) {
	names := make([]string, 0, len(table))
	for name := range table {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]namedCategoryDef, 0, len(names))
	for _, name := range names {
		cat := table[name]
		defs = append(defs, namedCategoryDef{name: name, def: categoryDef{weight: cat.Weight, patterns: cat.Patterns}})
	}
	return newAnalyzerFromDefs(defs)
}

// punctuationFold maps common non-ASCII punctuation produced by dictation
// software to its ASCII equivalent, so patterns keyed on straight quotes
// still match (spec §4.3: "Non-ASCII punctuation and case must not affect
// matching").
func punctuationFold(r rune) rune {
	switch r {
	case '‘', '’', 'ʼ':
		return '\''
	case '“', '”':
		return '"'
	case '–', '—':
		return '-'
	default:
		return r
	}
}

// Analyze scores transcript against the default pattern table. Pure
// function: no I/O, deterministic for a given transcript and table.
func Analyze(transcript string, meta *CallMetadata) Result {
	return defaultAnalyzer.Analyze(transcript, meta)
}

// Analyze scores transcript against a's pattern table.
func (a *Analyzer) Analyze(transcript string, meta *CallMetadata) Result {
	now := a.clock().UTC()

	normalized := strings.Map(punctuationFold, strings.ToLower(transcript))

	var indicators []Indicator
	score := 0
	for _, cat := range a.categories {
		matched := false
		for _, re := range cat.patterns {
			if re.MatchString(normalized) {
				matched = true
				break
			}
		}
		if matched {
			indicators = append(indicators, Indicator{Category: cat.name, Weight: cat.weight})
			score += cat.weight
		}
	}
	if score > 100 {
		score = 100
	}

	action, reasoning := determineAction(score, indicators)

	return Result{
		Score:          score,
		Indicators:     indicators,
		Action:         action,
		Reasoning:      reasoning,
		Timestamp:      now,
		AnalysisMethod: "RULE_BASED",
	}
}

func determineAction(score int, indicators []Indicator) (Action, string) {
	categories := make([]string, len(indicators))
	for i, ind := range indicators {
		categories[i] = ind.Category
	}
	joined := strings.Join(categories, ", ")

	switch {
	case score > 80:
		return ActionInterveneAndBlock, fmt.Sprintf(
			"CRITICAL THREAT DETECTED (Score: %d/100). Multiple high-risk scam indicators identified: %s. Immediate intervention required to protect user.",
			score, joined)
	case score > 50:
		return ActionActivateAnswerBot, fmt.Sprintf(
			"SUSPICIOUS ACTIVITY DETECTED (Score: %d/100). Scam indicators present: %s. Activating AI answer bot to waste scammer's time and gather intelligence.",
			score, joined)
	default:
		return ActionAllow, fmt.Sprintf(
			"LOW RISK (Score: %d/100). Call appears legitimate. Monitoring continues.", score)
	}
}
