package logging

import (
	"time"

	"github.com/aegistrust/proxy/cardauth"
)

// CardAuthorizationLogEntry captures all context for a card-network
// authorization decision. Adapted from the teacher's ApprovalLogEntry
// (same actor/status/outcome shape), re-pointed at cardauth.Response
// instead of an AWS access-request approval workflow.
type CardAuthorizationLogEntry struct {
	Timestamp       string `json:"timestamp"`
	CardToken       string `json:"card_token"`
	POAID           string `json:"poa_id,omitempty"`
	Amount          int64  `json:"amount"`
	MerchantMCC     string `json:"merchant_mcc"`
	Result          string `json:"result"`
	RiskScore       int    `json:"risk_score"`
	DeclineReason   string `json:"decline_reason,omitempty"`
	PendingAdvocate bool   `json:"pending_advocate,omitempty"`
}

// NewCardAuthorizationLogEntry creates a CardAuthorizationLogEntry from
// the provider's envelope and the response the service produced.
func NewCardAuthorizationLogEntry(poaID string, env cardauth.Envelope, resp *cardauth.Response) CardAuthorizationLogEntry {
	entry := CardAuthorizationLogEntry{
		Timestamp:   time.Now().UTC().Format(time.RFC3339Nano),
		CardToken:   env.CardToken,
		POAID:       poaID,
		Amount:      env.Amount,
		MerchantMCC: env.Merchant.MCC,
		Result:      string(resp.Result),
		RiskScore:   resp.Metadata.RiskScore,
	}
	if resp.Metadata.DeclineReason != nil {
		entry.DeclineReason = *resp.Metadata.DeclineReason
	}
	if resp.Metadata.PendingAdvocate != nil {
		entry.PendingAdvocate = *resp.Metadata.PendingAdvocate
	}
	return entry
}
