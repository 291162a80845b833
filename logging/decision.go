package logging

import (
	"time"

	"github.com/aegistrust/proxy/gatekeeper"
)

// DecisionLogEntry captures all context for a gatekeeper authorization
// decision. Adapted from the teacher's DecisionLogEntry (same
// effect/rule/reason shape), re-pointed at gatekeeper.Decision instead of
// an AWS IAM policy evaluation.
type DecisionLogEntry struct {
	Timestamp         string `json:"timestamp"`
	POAID             string `json:"poa_id"`
	ServiceName       string `json:"service_name"`
	Action            string `json:"action"`
	Authorized        bool   `json:"authorized"`
	Effect            string `json:"effect"`
	Reason            string `json:"reason"`
	ViolationType     string `json:"violation_type,omitempty"`
	BreakGlassEventID string `json:"break_glass_event_id,omitempty"`
	LivenessRequired  bool   `json:"liveness_required,omitempty"`
}

// NewDecisionLogEntry creates a DecisionLogEntry from a gatekeeper
// validation request and the decision it produced.
func NewDecisionLogEntry(req gatekeeper.ValidateRequest, decision *gatekeeper.Decision) DecisionLogEntry {
	return DecisionLogEntry{
		Timestamp:         time.Now().UTC().Format(time.RFC3339Nano),
		POAID:             req.POAID,
		ServiceName:       req.ServiceName,
		Action:            req.Action,
		Authorized:        decision.Authorized,
		Effect:            decision.Decision,
		Reason:            decision.Reasoning,
		ViolationType:     string(decision.ViolationType),
		BreakGlassEventID: decision.BreakGlassEventID,
		LivenessRequired:  decision.LivenessRequired,
	}
}
