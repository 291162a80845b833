// Package scam implements the streaming scam-call transcript analyzer
// (spec §4.3): a pure, side-effect-free scoring function over a
// data-driven pattern table. Grounded on
// original_source/backend/sentinel_analyzer.py's SCAM_INDICATORS table and
// score/action mapping, expressed as compiled Go regexes instead of a
// runtime re.search loop.
package scam

import "time"

// Action is the protective action the analyzer recommends.
type Action string

const (
	ActionAllow             Action = "ALLOW"
	ActionActivateAnswerBot Action = "ACTIVATE_ANSWER_BOT"
	ActionInterveneAndBlock Action = "INTERVENE_AND_BLOCK"
)

// Indicator records one matched category.
type Indicator struct {
	Category string `json:"category"`
	Weight   int    `json:"weight"`
}

// CallMetadata carries optional call context the analyzer may use for
// logging/correlation; it does not currently affect scoring (spec §4.3
// scores on transcript content alone), but is plumbed through so callers
// have a stable call site as the analyzer evolves.
type CallMetadata struct {
	CallID     string
	CallerID   string
	ReceivedAt time.Time
}

// Result is the analyzer's verdict for one transcript.
type Result struct {
	Score          int         `json:"fraud_score"`
	Indicators     []Indicator `json:"indicators"`
	Action         Action      `json:"action"`
	Reasoning      string      `json:"reasoning"`
	Timestamp      time.Time   `json:"timestamp"`
	AnalysisMethod string      `json:"analysis_method"`
}
