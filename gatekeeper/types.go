// Package gatekeeper implements the central authorization decision (spec
// §4.7 / C7): every POA-bound action passes through Validate before it is
// allowed to proceed. Adapted from the teacher's checker.go staged-guard
// composition style, with a domain-specific five-step algorithm that has
// no direct teacher analogue — it is built straight from spec.md.
package gatekeeper

// ViolationType names why a Validate call was blocked or escalated.
type ViolationType string

const (
	ViolationScope      ViolationType = "SCOPE"
	ViolationSpendLimit ViolationType = "SPEND_LIMIT"
)

// LivenessAmountThreshold is the amount above which an opened break-glass
// event requires liveness verification in addition to OTP (spec §4.7:
// "required if amount > $500").
const LivenessAmountThreshold = 500

// ValidateRequest is Validate's input (spec §4.7: "(poa_id, service_name,
// amount?, action)").
type ValidateRequest struct {
	POAID       string
	ServiceName string
	Action      string
	Amount      *float64
}

// Decision is Validate's output (spec §4.7's output tuple).
type Decision struct {
	Authorized      bool          `json:"authorized"`
	Decision        string        `json:"decision"`
	Reasoning       string        `json:"reasoning"`
	ViolationType   ViolationType `json:"violation_type,omitempty"`
	BreakGlassEventID string      `json:"break_glass_event_id,omitempty"`
	LivenessRequired  bool        `json:"liveness_required,omitempty"`
}
