// Package cardauth implements the card-network authorization webhook
// (spec §4.9 / C9): a latency-bounded entry point that scores a proposed
// card charge and responds in the provider's envelope within a P99 100ms
// budget. Grounded on original_source/backend/card_auth_service.py and,
// for the deadline-and-detached-append shape, the teacher's
// ecsserver.go request-scoped-context handling.
package cardauth

import "time"

// Merchant carries the card network's merchant metadata.
type Merchant struct {
	Descriptor string `json:"descriptor"`
	MCC        string `json:"mcc"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
}

// Envelope is the card network's inbound authorization request (spec
// §6's wire format, field-for-field).
type Envelope struct {
	Token     string    `json:"token"`
	CardToken string    `json:"card_token"`
	Amount    int64     `json:"amount"`
	Merchant  Merchant  `json:"merchant"`
	Created   time.Time `json:"created"`
}

// Result is the coarse authorization outcome.
type Result string

const (
	ResultApproved Result = "APPROVED"
	ResultDeclined Result = "DECLINED"
)

// Metadata carries the response's risk context.
type Metadata struct {
	RiskScore       int     `json:"risk_score"`
	DeclineReason   *string `json:"decline_reason,omitempty"`
	PendingAdvocate *bool   `json:"pending_advocate,omitempty"`
}

// Response is the provider-facing JSON envelope (spec §6's response
// shape, field-for-field).
type Response struct {
	Result   Result   `json:"result"`
	Amount   int64    `json:"amount"`
	Metadata Metadata `json:"metadata"`
}

// DeclineReason* are the decline_reason values this service produces:
// risk_critical/risk_high (spec §4.9 step 5), timeout (§5's timeout rule),
// and unauthenticated/unknown_card_token for rejected requests.
const (
	DeclineReasonRiskCritical = "risk_critical"
	DeclineReasonRiskHigh     = "risk_high"
	DeclineReasonTimeout      = "timeout"
	DeclineReasonUnauthenticated = "unauthenticated"
	DeclineReasonUnknownCard = "unknown_card_token"
)
