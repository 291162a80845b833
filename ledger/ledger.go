package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	trusterrors "github.com/aegistrust/proxy/errors"
	"github.com/aegistrust/proxy/iso8601"
)

// signer is the subset of crypto.Vault the ledger needs. Defined here so
// tests can supply a lightweight fake instead of a full Vault.
type signer interface {
	Sign(entry any) (string, error)
	Verify(entry any, sig string) (bool, error)
}

// Ledger is the append-only, cryptographically signed audit log (spec
// §4.2). A Ledger is safe for concurrent use: Append serializes writers
// per POA via a per-POA sync.Mutex, so two goroutines appending entries
// for different POAs never block each other.
type Ledger struct {
	store  Store
	signer signer
	clock  func() time.Time

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New constructs a Ledger backed by store, signing entries with signer.
func New(store Store, signer signer) *Ledger {
	return &Ledger{
		store:  store,
		signer: signer,
		clock:  time.Now,
		locks:  make(map[string]*sync.Mutex),
	}
}

func (l *Ledger) poaLock(poaID string) *sync.Mutex {
	l.locksMu.Lock()
	defer l.locksMu.Unlock()
	m, ok := l.locks[poaID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[poaID] = m
	}
	return m
}

// Append builds, signs, and persists a new AuditEntry for poaID. The
// per-POA mutex is held across the sequence-read and the store write, so
// the monotonic ID invariant holds even under concurrent callers (spec
// §5's "per-POA logical lock").
func (l *Ledger) Append(ctx context.Context, poaID string, actionType ActionType, decision Decision, reasoning string, details Details, serviceName *string, amount *float64) (*AuditEntry, error) {
	if poaID == "" {
		return nil, trusterrors.InvalidArgument("poa_id is required")
	}
	if !decision.IsValid() {
		return nil, trusterrors.InvalidArgument(fmt.Sprintf("invalid decision %q", decision))
	}

	lock := l.poaLock(poaID)
	lock.Lock()
	defer lock.Unlock()

	seq, err := l.store.NextSequence(ctx, poaID)
	if err != nil {
		return nil, trusterrors.StorageFailure("allocate audit sequence", err)
	}

	entry := &AuditEntry{
		ID:             seq,
		POAID:          poaID,
		ActionType:     actionType,
		Timestamp:      l.clock().UTC(),
		RequestDetails: details,
		ServiceName:    serviceName,
		Amount:         amount,
		Decision:       decision,
		Reasoning:      reasoning,
	}

	sig, err := l.signer.Sign(entry.signingView())
	if err != nil {
		return nil, trusterrors.CryptoFailure("sign audit entry", err)
	}
	entry.Signature = sig

	if err := l.store.AppendEntry(ctx, entry); err != nil {
		// Fail-closed per spec §4.2: a ledger write failure is never
		// swallowed, because callers treat it as a hard BLOCK.
		return nil, trusterrors.StorageFailure("persist audit entry", err)
	}

	cp := *entry
	return &cp, nil
}

// Verify reloads entryID for poaID and recomputes its signature,
// constant-time comparing against the stored value.
func (l *Ledger) Verify(ctx context.Context, poaID string, entryID int64) (bool, error) {
	entry, err := l.store.GetEntry(ctx, entryID, poaID)
	if err != nil {
		return false, err
	}
	ok, err := l.signer.Verify(entry.signingView(), entry.Signature)
	if err != nil {
		return false, trusterrors.CryptoFailure("verify audit entry signature", err)
	}
	return ok, nil
}

// List returns entries matching filter.
func (l *Ledger) List(ctx context.Context, filter ListFilter) ([]*AuditEntry, error) {
	return l.store.ListEntries(ctx, filter)
}

// MarkAdvocateNotified sets the advocate_notified flag on an existing
// entry and appends a successor AuditEntry recording that the flag was
// set. Spec §3 treats the flag itself as a mutation of an otherwise-sealed
// record (deliberately excluded from the signing view), but requires that
// "its setting is itself logged as a successor entry" — so the mutation
// and the append happen together here, not as two independently-callable
// operations.
func (l *Ledger) MarkAdvocateNotified(ctx context.Context, poaID string, entryID int64, advocateID string) (*AuditEntry, error) {
	if err := l.store.MarkAdvocateNotified(ctx, entryID, poaID); err != nil {
		return nil, trusterrors.StorageFailure("mark advocate notified", err)
	}

	details, err := NewDetails(ActionAdvocateNotified, AdvocateNotifiedDetails{
		OriginalEntryID: entryID,
		AdvocateID:      advocateID,
	})
	if err != nil {
		return nil, trusterrors.CryptoFailure("encode advocate_notified details", err)
	}
	return l.Append(ctx, poaID, ActionAdvocateNotified, DecisionAllowed,
		fmt.Sprintf("advocate %s notified of entry %d", advocateID, entryID), details, nil, nil)
}

// Export produces a point-in-time snapshot of poaID's entries in the
// requested format (spec §4.2).
func (l *Ledger) Export(ctx context.Context, poaID string, format ExportFormat) ([]byte, error) {
	entries, err := l.store.ListEntries(ctx, ListFilter{POAID: poaID})
	if err != nil {
		return nil, err
	}

	switch format {
	case FormatStructured, "":
		return json.MarshalIndent(entries, "", "  ")
	case FormatHuman:
		return renderHumanReport(poaID, entries), nil
	default:
		return nil, trusterrors.InvalidArgument(fmt.Sprintf("unknown export format %q", format))
	}
}

// renderHumanReport produces a line-per-entry report, adapted from the
// teacher's audit/compliance.go report-rendering shape.
func renderHumanReport(poaID string, entries []*AuditEntry) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "Audit report for POA %s\n", poaID)
	fmt.Fprintf(&b, "Generated %s\n", iso8601.Format(time.Now()))
	fmt.Fprintf(&b, "%d entries\n\n", len(entries))

	for _, e := range entries {
		fmt.Fprintf(&b, "[%d] %s  %s  %s\n", e.ID, iso8601.Format(e.Timestamp), e.ActionType, e.Decision)
		fmt.Fprintf(&b, "    reasoning: %s\n", e.Reasoning)
		if e.ServiceName != nil {
			fmt.Fprintf(&b, "    service: %s\n", *e.ServiceName)
		}
		if e.Amount != nil {
			fmt.Fprintf(&b, "    amount: %.2f\n", *e.Amount)
		}
		if e.AdvocateNotified {
			b.WriteString("    advocate notified\n")
		}
		b.WriteString("\n")
	}
	return []byte(b.String())
}
