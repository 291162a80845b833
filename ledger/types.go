// Package ledger implements the append-only, cryptographically signed audit
// log every trust-proxy decision flows through (spec §3's AuditEntry,
// §4.2's append/verify/list/export operations). Adapted from the teacher's
// logging.SignedLogger/SignedEntry shape and request.Request's
// ID/state-machine conventions.
package ledger

import (
	"encoding/json"
	"time"

	"github.com/aegistrust/proxy/iso8601"
)

// Decision is the outcome recorded against an audit entry.
type Decision string

const (
	DecisionAllowed    Decision = "ALLOWED"
	DecisionBlocked    Decision = "BLOCKED"
	DecisionBreakGlass Decision = "BREAK_GLASS"
)

// IsValid reports whether d is a known Decision.
func (d Decision) IsValid() bool {
	switch d {
	case DecisionAllowed, DecisionBlocked, DecisionBreakGlass:
		return true
	}
	return false
}

// ActionType discriminates the shape of an entry's Details payload.
type ActionType string

const (
	ActionCardAuth    ActionType = "CARD_AUTH"
	ActionScamCall    ActionType = "SCAM_CALL"
	ActionGatekeeper  ActionType = "GATEKEEPER_VALIDATE"
	ActionBreakGlass  ActionType = "BREAK_GLASS"
	ActionPOACreated  ActionType = "POA_CREATED"
	ActionPOARevoked  ActionType = "POA_REVOKED"
	ActionTokenStored ActionType = "TOKEN_STORED"
	ActionAdvocateNotified ActionType = "ADVOCATE_NOTIFIED"
)

// Details is a tagged union over an entry's structured payload (spec §9's
// "dynamic dict payload" note). The Type discriminates which known shape
// Raw holds; Raw is signed verbatim so verification never depends on
// Go's map/struct re-marshaling being byte-stable.
type Details struct {
	Type ActionType      `json:"type"`
	Raw  json.RawMessage `json:"raw"`
}

// NewDetails canonicalizes payload into Raw via the standard encoder,
// capturing it once so later signature verification replays the exact
// bytes rather than re-marshaling payload a second time.
func NewDetails(actionType ActionType, payload any) (Details, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Details{}, err
	}
	return Details{Type: actionType, Raw: raw}, nil
}

// CardAuthDetails is the Details payload for ActionCardAuth entries.
type CardAuthDetails struct {
	CardToken    string  `json:"card_token"`
	MerchantName string  `json:"merchant_name"`
	MCC          string  `json:"mcc"`
	Category     string  `json:"category"`
	RiskScore    int     `json:"risk_score"`
	RiskLevel    string  `json:"risk_level"`
	DeclineCode  *string `json:"decline_code,omitempty"`
}

// ScamCallDetails is the Details payload for ActionScamCall entries.
type ScamCallDetails struct {
	Score          int      `json:"score"`
	MatchedIndicators []string `json:"matched_indicators"`
	ActionTaken    string   `json:"action_taken"`
}

// GatekeeperDetails is the Details payload for ActionGatekeeper entries.
type GatekeeperDetails struct {
	Service       string  `json:"service"`
	ViolationType *string `json:"violation_type,omitempty"`
}

// BreakGlassDetails is the Details payload for ActionBreakGlass entries.
type BreakGlassDetails struct {
	EventID string `json:"event_id"`
	Trigger string `json:"trigger"`
}

// AdvocateNotifiedDetails is the Details payload for ActionAdvocateNotified
// entries — the successor record spec §3 requires when an entry's
// advocate_notified flag is set.
type AdvocateNotifiedDetails struct {
	OriginalEntryID int64  `json:"original_entry_id"`
	AdvocateID      string `json:"advocate_id"`
}

// AuditEntry mirrors spec §3's AuditEntry verbatim.
type AuditEntry struct {
	ID               int64     `json:"id"`
	POAID            string    `json:"poa_id"`
	ActionType       ActionType `json:"action_type"`
	Timestamp        time.Time `json:"timestamp"`
	RequestDetails   Details   `json:"request_details"`
	ServiceName      *string   `json:"service_name,omitempty"`
	Amount           *float64  `json:"amount,omitempty"`
	Decision         Decision  `json:"decision"`
	Reasoning        string    `json:"reasoning"`
	Signature        string    `json:"signature"`
	AdvocateNotified bool      `json:"advocate_notified"`
}

// signingView is the subset of fields the signature is computed over. It
// deliberately excludes Signature itself (obviously) and AdvocateNotified,
// since spec §3 calls out that flag as mutable via a successor entry, not
// as part of the sealed record.
//
// Timestamp is rendered through iso8601.Format rather than signed as a raw
// time.Time: the canonical bytes a signature covers must not depend on
// Go's default time.Time JSON encoding (full nanosecond precision, which a
// store round-trip is not guaranteed to preserve bit-for-bit). Fixing the
// layout at millisecond precision here means Verify recomputes the exact
// same bytes Append signed, regardless of backend.
type signingView struct {
	ID             int64      `json:"id"`
	POAID          string     `json:"poa_id"`
	ActionType     ActionType `json:"action_type"`
	Timestamp      string     `json:"timestamp"`
	RequestDetails Details    `json:"request_details"`
	ServiceName    *string    `json:"service_name,omitempty"`
	Amount         *float64   `json:"amount,omitempty"`
	Decision       Decision   `json:"decision"`
	Reasoning      string     `json:"reasoning"`
}

func (e *AuditEntry) signingView() signingView {
	return signingView{
		ID:             e.ID,
		POAID:          e.POAID,
		ActionType:     e.ActionType,
		Timestamp:      iso8601.Format(e.Timestamp),
		RequestDetails: e.RequestDetails,
		ServiceName:    e.ServiceName,
		Amount:         e.Amount,
		Decision:       e.Decision,
		Reasoning:      e.Reasoning,
	}
}

// ExportFormat selects Export's output shape.
type ExportFormat string

const (
	FormatStructured ExportFormat = "structured"
	FormatHuman      ExportFormat = "human"
)

// ListFilter narrows List's result set. Zero values mean "no filter".
type ListFilter struct {
	POAID    string
	Decision Decision
	Since    time.Time
	Limit    int
}
