// Package entrypoints exposes the trust-proxy's external interface (spec
// §6 / C11) as typed, transport-agnostic Go functions — one per verb in
// spec.md's table. Handlers carries no HTTP/JSON-RPC opinion; cmd/
// packages adapt these to whatever wire protocol they speak, the same
// separation the teacher draws between its request/policy packages and
// cmd/sentinel's HTTP layer.
package entrypoints

import (
	"context"
	"time"

	"github.com/aegistrust/proxy/breakglass"
	"github.com/aegistrust/proxy/cardauth"
	trusterrors "github.com/aegistrust/proxy/errors"
	"github.com/aegistrust/proxy/gatekeeper"
	"github.com/aegistrust/proxy/ledger"
	"github.com/aegistrust/proxy/poa"
	"github.com/aegistrust/proxy/scam"
	"github.com/aegistrust/proxy/tokenvault"
)

// Handlers composes every manager C11's verbs are built from. All fields
// are required except CardAuth, which is nil for deployments that don't
// terminate the card-network webhook, and Scam, which is nil when the
// built-in pattern table is used.
type Handlers struct {
	POAs       *poa.Registry
	Tokens     *tokenvault.Vault
	Gatekeeper *gatekeeper.Gatekeeper
	BreakGlass *breakglass.Machine
	Ledger     *ledger.Ledger
	Scam       *scam.Analyzer
	CardAuth   *cardauth.Service
}

// --- poa.* ---

// POACreateRequest is poa.create's request (spec §6).
type POACreateRequest struct {
	Principal       string
	Agent           string
	Scope           string
	SpendLimit      float64
	ExpiryDays      int
	AllowedServices []string
	Creator         string
}

// POACreate implements poa.create.
func (h *Handlers) POACreate(ctx context.Context, req POACreateRequest) (*poa.POA, error) {
	return h.POAs.Create(ctx, poa.CreateParams{
		Principal:       req.Principal,
		Agent:           req.Agent,
		Scope:           req.Scope,
		SpendLimit:      req.SpendLimit,
		ExpiryDays:      req.ExpiryDays,
		AllowedServices: req.AllowedServices,
		Creator:         req.Creator,
	})
}

// POAGet implements poa.get.
func (h *Handlers) POAGet(ctx context.Context, id string) (*poa.POA, error) {
	return h.POAs.Get(ctx, id)
}

// POARevokeRequest is poa.revoke's request.
type POARevokeRequest struct {
	ID      string
	Reason  string
	Revoker string
}

// POARevoke implements poa.revoke.
func (h *Handlers) POARevoke(ctx context.Context, req POARevokeRequest) (bool, error) {
	return h.POAs.Revoke(ctx, req.ID, req.Reason, req.Revoker)
}

// POAListRequest is poa.list's request.
type POAListRequest struct {
	Principal  string
	ActiveOnly bool
}

// POAList implements poa.list.
func (h *Handlers) POAList(ctx context.Context, req POAListRequest) ([]*poa.POA, error) {
	return h.POAs.ListByPrincipal(ctx, req.Principal, req.ActiveOnly)
}

// --- token.* ---

// TokenStoreRequest is token.store's request.
type TokenStoreRequest struct {
	POAID   string
	Service string
	Token   string
	Kind    tokenvault.Kind
	TTL     *time.Duration
}

// TokenStore implements token.store.
func (h *Handlers) TokenStore(ctx context.Context, req TokenStoreRequest) (*tokenvault.Record, error) {
	return h.Tokens.Store(ctx, req.POAID, req.Service, req.Kind, req.Token, req.TTL)
}

// TokenReveal implements token.reveal.
func (h *Handlers) TokenReveal(ctx context.Context, tokenID string) (string, error) {
	return h.Tokens.Reveal(ctx, tokenID)
}

// --- gatekeeper.* ---

// GatekeeperValidate implements gatekeeper.validate.
func (h *Handlers) GatekeeperValidate(ctx context.Context, req gatekeeper.ValidateRequest) (*gatekeeper.Decision, error) {
	return h.Gatekeeper.Validate(ctx, req)
}

// --- breakglass.* ---

// BreakGlassVerifyOTPRequest is breakglass.verify_otp's request.
type BreakGlassVerifyOTPRequest struct {
	EventID    string
	Code       string
	AdvocateID string
}

// BreakGlassVerifyOTP implements breakglass.verify_otp.
func (h *Handlers) BreakGlassVerifyOTP(ctx context.Context, req BreakGlassVerifyOTPRequest) (*breakglass.Event, error) {
	return h.BreakGlass.VerifyOTP(ctx, req.EventID, req.Code, req.AdvocateID)
}

// BreakGlassVerifyLivenessRequest is breakglass.verify_liveness's request.
type BreakGlassVerifyLivenessRequest struct {
	EventID    string
	Method     breakglass.LivenessMethod
	Artifact   []byte
	AdvocateID string
}

// BreakGlassVerifyLiveness implements breakglass.verify_liveness.
func (h *Handlers) BreakGlassVerifyLiveness(ctx context.Context, req BreakGlassVerifyLivenessRequest) (*breakglass.Event, error) {
	return h.BreakGlass.VerifyLiveness(ctx, req.EventID, req.Method, req.Artifact, req.AdvocateID)
}

// BreakGlassDenyRequest is breakglass.deny's request.
type BreakGlassDenyRequest struct {
	EventID string
	Denier  string
	Reason  string
}

// BreakGlassDeny implements breakglass.deny.
func (h *Handlers) BreakGlassDeny(ctx context.Context, req BreakGlassDenyRequest) (*breakglass.Event, error) {
	return h.BreakGlass.Deny(ctx, req.EventID, req.Denier, req.Reason)
}

// BreakGlassPending implements breakglass.pending: lists PENDING events
// for poaID, optionally filtered to advocateID.
func (h *Handlers) BreakGlassPending(ctx context.Context, poaID, advocateID string) ([]*breakglass.Event, error) {
	events, err := h.BreakGlass.ListPending(ctx, poaID)
	if err != nil {
		return nil, err
	}
	if advocateID == "" {
		return events, nil
	}
	out := make([]*breakglass.Event, 0, len(events))
	for _, e := range events {
		if e.AdvocateID == advocateID {
			out = append(out, e)
		}
	}
	return out, nil
}

// --- audit.* ---

// AuditList implements audit.list.
func (h *Handlers) AuditList(ctx context.Context, filter ledger.ListFilter) ([]*ledger.AuditEntry, error) {
	return h.Ledger.List(ctx, filter)
}

// AuditVerifyRequest is audit.verify's request. EntryID alone does not
// uniquely key an entry in this module's per-POA ledger partitioning, so
// POAID is carried alongside it (an adaptation of spec §6's bare
// entry_id).
type AuditVerifyRequest struct {
	POAID   string
	EntryID int64
}

// AuditVerify implements audit.verify.
func (h *Handlers) AuditVerify(ctx context.Context, req AuditVerifyRequest) (bool, error) {
	return h.Ledger.Verify(ctx, req.POAID, req.EntryID)
}

// AuditExportRequest is audit.export's request.
type AuditExportRequest struct {
	POAID  string
	Format ledger.ExportFormat
}

// AuditExport implements audit.export.
func (h *Handlers) AuditExport(ctx context.Context, req AuditExportRequest) ([]byte, error) {
	return h.Ledger.Export(ctx, req.POAID, req.Format)
}

// --- scam.* ---

// ScamAnalyzeRequest is scam.analyze's request.
type ScamAnalyzeRequest struct {
	Transcript string
	Metadata   *scam.CallMetadata
}

// ScamAnalyze implements scam.analyze. With no custom pattern table
// wired (h.Scam == nil), it scores against the built-in default table
// via the package-level scam.Analyze.
func (h *Handlers) ScamAnalyze(ctx context.Context, req ScamAnalyzeRequest) (scam.Result, error) {
	if h.Scam == nil {
		return scam.Analyze(req.Transcript, req.Metadata), nil
	}
	return h.Scam.Analyze(req.Transcript, req.Metadata), nil
}

// --- card.* ---

// CardAuthorizeRequest is card.authorize's request: the provider's raw
// body (for signature verification) alongside its parsed envelope and
// signature header value.
type CardAuthorizeRequest struct {
	Envelope     cardauth.Envelope
	Body         []byte
	SignatureHex string
}

// CardAuthorize implements card.authorize.
func (h *Handlers) CardAuthorize(ctx context.Context, req CardAuthorizeRequest) (*cardauth.Response, error) {
	if h.CardAuth == nil {
		return nil, trusterrors.InvalidArgument("no card authorization service configured")
	}
	return h.CardAuth.Authorize(ctx, req.Envelope, req.Body, req.SignatureHex)
}
