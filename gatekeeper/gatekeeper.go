package gatekeeper

import (
	"context"
	"fmt"
	"time"

	"github.com/aegistrust/proxy/breakglass"
	trusterrors "github.com/aegistrust/proxy/errors"
	"github.com/aegistrust/proxy/ledger"
	"github.com/aegistrust/proxy/poa"
)

// poaSource is the subset of poa.Registry the Gatekeeper reads from.
type poaSource interface {
	Get(ctx context.Context, id string) (*poa.POA, error)
}

// escalator is the subset of breakglass.Machine the Gatekeeper opens
// events through.
type escalator interface {
	Create(ctx context.Context, poaID string, auditEntryID int64, trigger breakglass.TriggerType, triggerDetails, advocateID string, hint breakglass.LivenessHint) (*breakglass.Event, string, error)
}

// Gatekeeper implements Validate (spec §4.7 / C7), the single choke point
// every POA-bound action passes through before it is allowed to proceed.
type Gatekeeper struct {
	poas      poaSource
	ledger    *ledger.Ledger
	breakglass escalator
	clock     func() time.Time
	// AdvocateResolver maps a POA to the advocate ID a break-glass event
	// should be routed to. Defaults to the POA's Principal, matching the
	// original's single-advocate-per-principal model.
	AdvocateResolver func(p *poa.POA) string
}

// New builds a Gatekeeper. poas and l must be non-nil; bg may be nil if
// this deployment never escalates (spend-limit violations then return a
// BREAK_GLASS decision with no break-glass event opened).
func New(poas poaSource, l *ledger.Ledger, bg escalator) *Gatekeeper {
	return &Gatekeeper{poas: poas, ledger: l, breakglass: bg, clock: time.Now}
}

func (g *Gatekeeper) advocateFor(p *poa.POA) string {
	if g.AdvocateResolver != nil {
		return g.AdvocateResolver(p)
	}
	return p.Principal
}

// appendAndBlock appends a ledger entry and returns the synthetic BLOCKED
// decision spec §4.7 mandates when the append itself fails. violation is
// empty for a plain POA-invalid block (step 2), where the spec attaches
// no violation_type.
func (g *Gatekeeper) appendAndBlock(ctx context.Context, poaID, service string, violation ViolationType, reasoning string, serviceName *string, amount *float64) (*Decision, error) {
	var violationField *string
	if violation != "" {
		violationField = violationPtr(violation)
	}
	details, err := ledger.NewDetails(ledger.ActionGatekeeper, ledger.GatekeeperDetails{
		Service:       service,
		ViolationType: violationField,
	})
	if err != nil {
		return nil, trusterrors.CryptoFailure("encode gatekeeper details", err)
	}
	if _, err := g.ledger.Append(ctx, poaID, ledger.ActionGatekeeper, ledger.DecisionBlocked, reasoning, details, serviceName, amount); err != nil {
		// Fail-closed: ledger unavailability itself becomes a BLOCKED
		// decision rather than a propagated error (spec §4.7's ordering
		// guarantee).
		return &Decision{Authorized: false, Decision: "BLOCKED", Reasoning: "ledger unavailable"}, nil
	}
	return &Decision{Authorized: false, Decision: "BLOCKED", Reasoning: reasoning, ViolationType: violation}, nil
}

// Validate runs spec §4.7's five-step algorithm. The ledger append for
// steps 2-5 always completes (or is converted to a synthetic BLOCKED)
// before Validate returns a non-error result; Validate never reports
// authorized=true, nor opens a break-glass event, without first observing
// a successful ledger.Append.
func (g *Gatekeeper) Validate(ctx context.Context, req ValidateRequest) (*Decision, error) {
	if req.POAID == "" || req.ServiceName == "" || req.Action == "" {
		return nil, trusterrors.InvalidArgument("poa_id, service_name, and action are required")
	}

	// Step 1: load the POA. A missing POA writes no ledger entry — there
	// is nothing to attribute it to.
	p, err := g.poas.Get(ctx, req.POAID)
	if err != nil {
		if trusterrors.KindOf(err) == trusterrors.KindNotFound {
			return &Decision{Authorized: false, Decision: "BLOCKED", Reasoning: "POA not found"}, nil
		}
		return nil, err
	}

	// Step 2: the POA itself must still be valid (ACTIVE and unexpired).
	if !p.Valid(g.clock()) {
		return g.appendAndBlock(ctx, p.ID, req.ServiceName, "", "POA is expired or revoked", nil, req.Amount)
	}

	// Step 3: the requested service must be in scope.
	if !p.InScope(req.ServiceName) {
		return g.appendAndBlock(ctx, p.ID, req.ServiceName, ViolationScope, "service not in POA scope", &req.ServiceName, req.Amount)
	}

	// Step 4: an amount, when provided, must be within the POA's spend
	// limit; otherwise escalate to break-glass instead of a flat block.
	if req.Amount != nil && !p.WithinLimit(*req.Amount) {
		return g.openBreakGlass(ctx, p, req)
	}

	// Step 5: everything checked out — allow, recording which action.
	details, err := ledger.NewDetails(ledger.ActionGatekeeper, ledger.GatekeeperDetails{Service: req.ServiceName})
	if err != nil {
		return nil, trusterrors.CryptoFailure("encode gatekeeper details", err)
	}
	reasoning := fmt.Sprintf("REQUEST_%s allowed", req.Action)
	if _, err := g.ledger.Append(ctx, p.ID, ledger.ActionGatekeeper, ledger.DecisionAllowed, reasoning, details, &req.ServiceName, req.Amount); err != nil {
		return &Decision{Authorized: false, Decision: "BLOCKED", Reasoning: "ledger unavailable"}, nil
	}

	return &Decision{Authorized: true, Decision: "ALLOWED", Reasoning: reasoning}, nil
}

func (g *Gatekeeper) openBreakGlass(ctx context.Context, p *poa.POA, req ValidateRequest) (*Decision, error) {
	details, err := ledger.NewDetails(ledger.ActionGatekeeper, ledger.GatekeeperDetails{
		Service:       req.ServiceName,
		ViolationType: violationPtr(ViolationSpendLimit),
	})
	if err != nil {
		return nil, trusterrors.CryptoFailure("encode gatekeeper details", err)
	}
	entry, err := g.ledger.Append(ctx, p.ID, ledger.ActionGatekeeper, ledger.DecisionBreakGlass,
		"spend limit exceeded, escalating to break-glass", details, &req.ServiceName, req.Amount)
	if err != nil {
		// Fail-closed per spec §4.7: never open a break-glass event
		// without a successful append.
		return &Decision{Authorized: false, Decision: "BLOCKED", Reasoning: "ledger unavailable"}, nil
	}

	livenessRequired := req.Amount != nil && *req.Amount > LivenessAmountThreshold

	if g.breakglass == nil {
		return &Decision{
			Authorized:    false,
			Decision:      "BREAK_GLASS",
			Reasoning:     "spend limit exceeded, escalating to break-glass",
			ViolationType: ViolationSpendLimit,
		}, nil
	}

	event, _, err := g.breakglass.Create(ctx, p.ID, entry.ID, breakglass.TriggerSpendLimitExceeded,
		fmt.Sprintf("amount %.2f exceeds spend_limit %.2f", derefAmount(req.Amount), p.SpendLimit),
		g.advocateFor(p), breakglass.LivenessHint{Required: livenessRequired})
	if err != nil {
		return nil, err
	}

	return &Decision{
		Authorized:        false,
		Decision:          "BREAK_GLASS",
		Reasoning:         "spend limit exceeded, escalating to break-glass",
		ViolationType:     ViolationSpendLimit,
		BreakGlassEventID: event.ID,
		LivenessRequired:  livenessRequired,
	}, nil
}

func violationPtr(v ViolationType) *string {
	s := string(v)
	return &s
}

func derefAmount(a *float64) float64 {
	if a == nil {
		return 0
	}
	return *a
}
