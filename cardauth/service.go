package cardauth

import (
	"context"
	"time"

	"github.com/aegistrust/proxy/crypto"
	trusterrors "github.com/aegistrust/proxy/errors"
	"github.com/aegistrust/proxy/governor"
	"github.com/aegistrust/proxy/ledger"
)

// DefaultLatencyBudget is the slice of the inbound request's deadline
// this service reserves for itself, leaving headroom under the spec's
// 100ms P99 target (spec §4.9: "Latency budget ... default 90ms").
const DefaultLatencyBudget = 90 * time.Millisecond

// detachedAppendTimeout bounds the ledger append spawned after a
// deadline trip, so a stalled store can't leak goroutines forever
// (spec §5: "the ledger append, if started, is allowed to complete").
const detachedAppendTimeout = 2 * time.Second

// highRiskScore/criticalRiskScore are the numeric decision-table cutoffs
// (spec §4.9 step 5), applied in addition to the governor's own
// RiskLevel classification.
const (
	criticalRiskScore = 90
	highRiskScore     = 70
)

// CardBinding resolves a card network's opaque card_token to the POA
// that authorizes its use (spec §4.9 step 3: "card_token -> principal_id
// via a configured binding" — resolved here directly to a poa_id, since
// the ledger C2 attributes every entry to a POA, not a bare principal).
type CardBinding interface {
	Lookup(ctx context.Context, cardToken string) (poaID string, err error)
}

// EscalationWork is enqueued instead of calling the notifier
// synchronously, per spec §4.9's "must not perform synchronous notifier
// I/O on this path."
type EscalationWork struct {
	POAID     string
	AuditID   int64
	RiskScore int
	Envelope  Envelope
}

// Service implements Authorize (spec §4.9 / C9).
type Service struct {
	secret     []byte
	bindings   CardBinding
	mccTable   governor.MCCTable
	gov        *governor.Governor
	ledger     *ledger.Ledger
	latencyBudget time.Duration
	clock      func() time.Time

	// escalations receives EscalationWork for every HIGH (pending
	// advocate) decision; CRITICAL declines are not enqueued. A background
	// worker drains it asynchronously and opens a break-glass event.
	// Buffered and non-blocking: a full channel drops the work rather than
	// stalling the authorization path.
	escalations chan EscalationWork
}

// New builds a Service. secret is the provider's shared HMAC secret;
// bindings resolves card tokens to POAs; mccTable and gov drive the risk
// scoring; l is the audit ledger. escalations may be nil, in which case
// escalation notifications are simply dropped.
func New(secret []byte, bindings CardBinding, mccTable governor.MCCTable, gov *governor.Governor, l *ledger.Ledger, escalations chan EscalationWork) *Service {
	return &Service{
		secret:        secret,
		bindings:      bindings,
		mccTable:      mccTable,
		gov:           gov,
		ledger:        l,
		latencyBudget: DefaultLatencyBudget,
		clock:         time.Now,
		escalations:   escalations,
	}
}

func (s *Service) declined(amount int64, reason string, riskScore int, pendingAdvocate bool) *Response {
	resp := &Response{Result: ResultDeclined, Amount: amount, Metadata: Metadata{RiskScore: riskScore, DeclineReason: &reason}}
	if pendingAdvocate {
		t := true
		resp.Metadata.PendingAdvocate = &t
	}
	return resp
}

// Authorize runs spec §4.9's seven steps within ctx's deadline, falling
// back to a conservative DECLINED("timeout") if any suboperation would
// exceed it.
func (s *Service) Authorize(ctx context.Context, envelope Envelope, body []byte, signatureHex string) (*Response, error) {
	budget := s.latencyBudget
	if budget <= 0 {
		budget = DefaultLatencyBudget
	}
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	// Step 1: constant-time HMAC verification of the raw body.
	if !crypto.VerifyHMACBody(body, signatureHex, s.secret) {
		return s.declined(envelope.Amount, DeclineReasonUnauthenticated, 0, false), nil
	}

	// Step 2: mcc -> category, data-driven, unknown MCC falls back.
	category := s.mccTable.CategoryFor(envelope.Merchant.MCC)

	// Step 3: card_token -> poa_id.
	poaID, err := s.bindings.Lookup(ctx, envelope.CardToken)
	if err != nil {
		if ctx.Err() != nil {
			return s.declined(envelope.Amount, DeclineReasonTimeout, 0, false), nil
		}
		return s.declined(envelope.Amount, DeclineReasonUnknownCard, 0, false), nil
	}

	if ctx.Err() != nil {
		return s.declined(envelope.Amount, DeclineReasonTimeout, 0, false), nil
	}

	// Step 4: score via the governor. Amount is converted from minor
	// units (cents) to major units, matching governor.Transaction's
	// dollar-denominated thresholds.
	result := s.gov.Score(ctx, governor.Transaction{
		Amount:   float64(envelope.Amount) / 100,
		Time:     envelope.Created,
		Category: category,
		Merchant: envelope.Merchant.Descriptor,
	})

	// Step 5: decision table.
	var resp *Response
	var pendingAdvocate bool
	switch {
	case result.RiskScore >= criticalRiskScore || result.RiskLevel == governor.RiskCritical:
		resp = s.declined(envelope.Amount, DeclineReasonRiskCritical, result.RiskScore, false)
	case result.RiskScore >= highRiskScore || result.RiskLevel == governor.RiskHigh:
		pendingAdvocate = true
		resp = s.declined(envelope.Amount, DeclineReasonRiskHigh, result.RiskScore, true)
	default:
		resp = &Response{Result: ResultApproved, Amount: envelope.Amount, Metadata: Metadata{RiskScore: result.RiskScore}}
	}

	// Step 6: append to the ledger before responding. If ctx's deadline
	// has already tripped, the append is detached so it still lands
	// (spec §5's cancellation rule) but the caller gets a timeout
	// decline rather than waiting on it.
	declineCode := declineCodeFor(resp)
	details, detailsErr := ledger.NewDetails(ledger.ActionCardAuth, ledger.CardAuthDetails{
		CardToken:    envelope.CardToken,
		MerchantName: envelope.Merchant.Descriptor,
		MCC:          envelope.Merchant.MCC,
		Category:     category,
		RiskScore:    result.RiskScore,
		RiskLevel:    string(result.RiskLevel),
		DeclineCode:  declineCode,
	})
	if detailsErr != nil {
		return nil, trusterrors.CryptoFailure("encode card auth details", detailsErr)
	}

	ledgerDecision := ledger.DecisionAllowed
	if resp.Result == ResultDeclined {
		ledgerDecision = ledger.DecisionBlocked
	}
	amountMajor := float64(envelope.Amount) / 100
	serviceName := envelope.Merchant.Descriptor

	if ctx.Err() != nil {
		go s.appendDetached(poaID, ledgerDecision, result, details, &serviceName, &amountMajor)
		return s.declined(envelope.Amount, DeclineReasonTimeout, result.RiskScore, false), nil
	}

	entry, err := s.ledger.Append(ctx, poaID, ledger.ActionCardAuth, ledgerDecision, result.Reasoning, details, &serviceName, &amountMajor)
	if err != nil {
		return s.declined(envelope.Amount, DeclineReasonTimeout, result.RiskScore, false), nil
	}

	if pendingAdvocate {
		s.enqueueEscalation(EscalationWork{POAID: poaID, AuditID: entry.ID, RiskScore: result.RiskScore, Envelope: envelope})
	}

	// Step 7: respond in the provider's envelope (resp is already shaped).
	return resp, nil
}

func (s *Service) appendDetached(poaID string, decision ledger.Decision, result governor.Result, details ledger.Details, serviceName *string, amount *float64) {
	ctx, cancel := context.WithTimeout(context.Background(), detachedAppendTimeout)
	defer cancel()
	_, _ = s.ledger.Append(ctx, poaID, ledger.ActionCardAuth, decision, result.Reasoning, details, serviceName, amount)
}

func (s *Service) enqueueEscalation(work EscalationWork) {
	if s.escalations == nil {
		return
	}
	select {
	case s.escalations <- work:
	default:
		// Channel full: drop rather than block the authorization path,
		// matching spec §4.9's "must not perform synchronous notifier I/O."
	}
}

func declineCodeFor(resp *Response) *string {
	if resp.Result == ResultApproved {
		return nil
	}
	return resp.Metadata.DeclineReason
}

