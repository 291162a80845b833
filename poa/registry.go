package poa

import (
	"context"
	"time"

	trusterrors "github.com/aegistrust/proxy/errors"
	"github.com/aegistrust/proxy/ledger"
)

// TokenCascade is the narrow capability Registry needs to cascade-delete
// a revoked POA's encrypted tokens (spec §3: "deleted on POA revocation
// (cascade)"). Defined here, rather than importing the tokenvault
// package directly, because tokenvault.Vault itself depends on poa.POA
// for its validity check — importing tokenvault back from poa would
// cycle. tokenvault.Vault satisfies this interface as-is.
type TokenCascade interface {
	DeleteAllForPOA(ctx context.Context, poaID string) error
}

// Registry implements the POA Registry operations (spec §4.5 / C5),
// appending an audit entry for every mutating operation via the ledger.
type Registry struct {
	store  Store
	ledger *ledger.Ledger
	tokens TokenCascade
	clock  func() time.Time
}

// New builds a Registry backed by store, appending audit entries via l.
// tokens may be nil if the deployment has no token vault wired.
func New(store Store, l *ledger.Ledger, tokens TokenCascade) *Registry {
	return &Registry{store: store, ledger: l, tokens: tokens, clock: time.Now}
}

// CreateParams carries the fields needed to mint a new POA.
type CreateParams struct {
	Principal       string
	Agent           string
	Scope           string
	SpendLimit      float64
	ExpiryDays      int
	AllowedServices []string
	Creator         string
}

// Create mints a new ACTIVE POA and appends a POA_CREATED ledger entry.
func (r *Registry) Create(ctx context.Context, params CreateParams) (*POA, error) {
	if params.Principal == "" || params.Agent == "" {
		return nil, trusterrors.InvalidArgument("principal and agent are required")
	}
	// ExpiryDays may be negative or zero, yielding an already-expired POA
	// (spec §4.5: "expiry_days may be negative for testing ... the
	// validity predicate handles that"). Only the upper bound is enforced
	// here; IsExpired/Valid (poa/types.go) do the expiry judgment.
	if params.ExpiryDays > MaxExpiryDays {
		return nil, trusterrors.InvalidArgument("expiry_days cannot exceed 365")
	}
	if params.SpendLimit < 0 {
		return nil, trusterrors.InvalidArgument("spend_limit cannot be negative")
	}

	now := r.clock()
	p := &POA{
		ID:              NewID(),
		Principal:       params.Principal,
		Agent:           params.Agent,
		Scope:           params.Scope,
		SpendLimit:      params.SpendLimit,
		AllowedServices: params.AllowedServices,
		Status:          StatusActive,
		CreatedAt:       now,
		ExpiresAt:       now.AddDate(0, 0, params.ExpiryDays),
		Creator:         params.Creator,
	}

	if err := r.store.Create(ctx, p); err != nil {
		return nil, err
	}

	details, err := ledger.NewDetails(ledger.ActionPOACreated, map[string]any{
		"agent":      p.Agent,
		"scope":      p.Scope,
		"expires_at": p.ExpiresAt.Format(time.RFC3339),
	})
	if err != nil {
		return nil, trusterrors.CryptoFailure("encode poa_created details", err)
	}
	if _, err := r.ledger.Append(ctx, p.ID, ledger.ActionPOACreated, ledger.DecisionAllowed,
		"poa created", details, nil, nil); err != nil {
		return nil, err
	}

	return p, nil
}

// Get retrieves a POA by ID.
func (r *Registry) Get(ctx context.Context, id string) (*POA, error) {
	return r.store.Get(ctx, id)
}

// ListByPrincipal lists the principal's POAs, optionally restricted to
// ACTIVE ones.
func (r *Registry) ListByPrincipal(ctx context.Context, principal string, activeOnly bool) ([]*POA, error) {
	return r.store.ListByPrincipal(ctx, principal, activeOnly, 0)
}

// Revoke transitions a POA to REVOKED and appends a POA_REVOKED ledger
// entry. Idempotent: revoking an already-revoked POA succeeds without
// mutation or a duplicate ledger entry (spec §4.5: "revoke ... idempotent").
func (r *Registry) Revoke(ctx context.Context, id, reason, revoker string) (bool, error) {
	p, err := r.store.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if p.Status == StatusRevoked {
		// Idempotent: revoking an already-revoked POA is a no-op that
		// reports false (no new revocation occurred), with no duplicate
		// ledger entry (spec §4.5).
		return false, nil
	}

	now := r.clock()
	p.Status = StatusRevoked
	p.RevokedAt = &now
	p.RevokedBy = revoker
	p.RevokedReason = reason

	if err := r.store.Update(ctx, p); err != nil {
		return false, err
	}

	details, err := ledger.NewDetails(ledger.ActionPOARevoked, map[string]any{
		"reason":  reason,
		"revoker": revoker,
	})
	if err != nil {
		return false, trusterrors.CryptoFailure("encode poa_revoked details", err)
	}
	if _, err := r.ledger.Append(ctx, p.ID, ledger.ActionPOARevoked, ledger.DecisionAllowed,
		"poa revoked: "+reason, details, nil, nil); err != nil {
		return false, err
	}

	if r.tokens != nil {
		if err := r.tokens.DeleteAllForPOA(ctx, p.ID); err != nil {
			return false, err
		}
	}

	return true, nil
}
