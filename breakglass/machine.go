package breakglass

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aegistrust/proxy/crypto"
	trusterrors "github.com/aegistrust/proxy/errors"
	"github.com/aegistrust/proxy/ledger"
)

// otpWindow is the TOTP step size for break-glass challenges (spec §3:
// "fresh OTP via C1 (5-min window)").
const otpWindow = 5 * time.Minute

// otpDigits is the OTP code length.
const otpDigits = 6

// acceptedWindows lets VerifyOTP accept the current TOTP step or the one
// immediately before/after it (spec §4.8: "±1 window").
const acceptedWindows = 1

// Notifier dispatches a break-glass approval request to the bound
// advocate. Implementations (push/SMS/email) live in the notifier
// package; Machine only needs this narrow capability.
type Notifier interface {
	NotifyBreakGlass(ctx context.Context, advocateID string, event *Event) error
}

// noopNotifier is used when no Notifier is wired (e.g. in tests).
type noopNotifier struct{}

func (noopNotifier) NotifyBreakGlass(ctx context.Context, advocateID string, event *Event) error {
	return nil
}

// Machine implements the break-glass escalation state machine (spec §4.8 /
// C8). Adapted from the teacher's checker.go guard-chain composition
// style, but the transition logic itself — PENDING's one-way fan-out to
// APPROVED/DENIED/EXPIRED guarded by OTP and optional liveness — has no
// analogue in the teacher and is built directly from spec.md.
type Machine struct {
	store    Store
	vault    *crypto.Vault
	notifier Notifier
	liveness LivenessEvaluator
	ledger   *ledger.Ledger
	guard    *RateLimitGuard
	clock    func() time.Time

	// guardMu protects the per-event mutex map itself; guards protects each
	// individual event's transition path so two concurrent calls for the
	// same event ID serialize (spec §4.8: "concurrent calls race on a
	// per-event guard, exactly one transition wins").
	guardMu sync.Mutex
	guards  map[string]*sync.Mutex
}

// New builds a Machine. notifier and liveness may be nil, in which case a
// no-op notifier and the deterministic stub evaluator are used. l is the
// audit ledger Create uses to log the advocate-notified successor entry
// (spec §3); it may be nil for deployments that never need that record.
// throttle bounds how often Create may mint an event per POA (SPEC_FULL's
// domain-stack rate limiter); nil disables throttling.
func New(store Store, vault *crypto.Vault, notifier Notifier, liveness LivenessEvaluator, l *ledger.Ledger, throttle *RateLimitGuard) *Machine {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	if liveness == nil {
		liveness = NewStubLivenessEvaluator()
	}
	return &Machine{
		store:    store,
		vault:    vault,
		notifier: notifier,
		liveness: liveness,
		ledger:   l,
		guard:    throttle,
		clock:    time.Now,
		guards:   make(map[string]*sync.Mutex),
	}
}

func (m *Machine) guardFor(eventID string) *sync.Mutex {
	m.guardMu.Lock()
	defer m.guardMu.Unlock()
	g, ok := m.guards[eventID]
	if !ok {
		g = &sync.Mutex{}
		m.guards[eventID] = g
	}
	return g
}

// LivenessHint tells Create whether the caller has signaled that liveness
// verification should be required in addition to OTP (spec §4.8:
// "determine verification_mode ... from caller hint").
type LivenessHint struct {
	Required bool
}

// Create opens a new PENDING break-glass event bound to an audit entry,
// generates a fresh TOTP secret (stored encrypted), derives the current
// OTP code from it, and dispatches a notification to the bound advocate.
// It returns the event and the raw OTP code (delivered out-of-band by the
// caller, e.g. via SMS) — the code itself is never persisted, only
// HashOTP's digest is.
func (m *Machine) Create(ctx context.Context, poaID string, auditEntryID int64, trigger TriggerType, triggerDetails, advocateID string, hint LivenessHint) (*Event, string, error) {
	if poaID == "" || advocateID == "" {
		return nil, "", trusterrors.InvalidArgument("poa_id and advocate_id are required")
	}

	if m.guard != nil {
		if err := m.guard.Check(ctx, poaID); err != nil {
			return nil, "", err
		}
	}

	secret, err := crypto.NewOTPSecret()
	if err != nil {
		return nil, "", trusterrors.CryptoFailure("generate otp secret", err)
	}
	now := m.clock()
	code := crypto.GenerateTOTP(secret, now, otpWindow, otpDigits)
	hash, err := m.vault.HashOTP(code)
	if err != nil {
		return nil, "", trusterrors.CryptoFailure("hash otp", err)
	}
	secretCiphertext, err := m.vault.Encrypt([]byte(secret))
	if err != nil {
		return nil, "", trusterrors.CryptoFailure("encrypt otp secret", err)
	}

	mode := ModeOTP
	if hint.Required {
		mode = ModeOTPLiveness
	}

	event := &Event{
		ID:               NewEventID(),
		AuditEntryID:     auditEntryID,
		POAID:            poaID,
		Trigger:          trigger,
		TriggerDetails:   triggerDetails,
		Status:           StatusPending,
		AdvocateID:       advocateID,
		VerificationMode: mode,
		OTPHash:          hash,
		OTPSentAt:        now,
		LivenessRequired: hint.Required,
		CreatedAt:           now,
		ExpiresAt:           now.Add(DefaultTTL),
		OTPSecretCiphertext: secretCiphertext,
	}

	if err := m.store.Put(ctx, event); err != nil {
		return nil, "", trusterrors.StorageFailure("persist break-glass event", err)
	}

	// Notification failures don't block the event's creation (spec §4.8:
	// "delivery attempt returns success/failure independent of the
	// break-glass event's notification state").
	_ = m.notifier.NotifyBreakGlass(ctx, advocateID, event)

	// The core records only that a notification was attempted, not
	// whether the transport delivered it (spec §4.10) — so the
	// advocate_notified flag and its successor ledger entry (spec §3)
	// are set on attempt regardless of delivery outcome.
	if m.ledger != nil {
		if _, err := m.ledger.MarkAdvocateNotified(ctx, poaID, auditEntryID, advocateID); err != nil {
			return nil, "", trusterrors.StorageFailure("record advocate notification", err)
		}
	}

	return event, code, nil
}

// expireIfDue transitions event to EXPIRED if its TTL has elapsed,
// returning the (possibly updated) event. Called at the top of every
// verification entrypoint, matching spec §4.8's "expire: implicit on any
// op after expires_at".
func (m *Machine) expireIfDue(ctx context.Context, event *Event) (*Event, error) {
	if event.Status != StatusPending || !event.IsExpired(m.clock()) {
		return event, nil
	}
	next := cloneEvent(event)
	next.Status = StatusExpired
	if err := m.store.CompareAndSwap(ctx, event.ID, StatusPending, next); err != nil {
		// Lost the race to another caller's transition; re-read current state.
		if trusterrors.KindOf(err) == trusterrors.KindConflictState {
			return m.store.Get(ctx, event.ID)
		}
		return nil, trusterrors.StorageFailure("expire break-glass event", err)
	}
	return next, nil
}

// VerifyOTP checks code against event's stored OTP hash or a freshly
// derived TOTP value within the accepted window. On success it records
// otp_verified_at; if the event's verification_mode is OTP-only, it also
// transitions directly to APPROVED.
func (m *Machine) VerifyOTP(ctx context.Context, eventID, code, advocateID string) (*Event, error) {
	guard := m.guardFor(eventID)
	guard.Lock()
	defer guard.Unlock()

	event, err := m.store.Get(ctx, eventID)
	if err != nil {
		return nil, err
	}
	event, err = m.expireIfDue(ctx, event)
	if err != nil {
		return nil, err
	}
	if event.Status != StatusPending {
		return event, trusterrors.ConflictState(fmt.Sprintf("break-glass event %s is %s, not PENDING", eventID, event.Status))
	}

	ok, err := m.vault.VerifyOTPHash(code, event.OTPHash)
	if err != nil {
		return nil, trusterrors.CryptoFailure("verify otp hash", err)
	}
	if !ok && len(event.OTPSecretCiphertext) > 0 {
		secretBytes, decErr := m.vault.Decrypt(event.OTPSecretCiphertext)
		if decErr != nil {
			return nil, trusterrors.CryptoFailure("decrypt otp secret", decErr)
		}
		ok = crypto.VerifyTOTP(string(secretBytes), code, m.clock(), otpWindow, otpDigits, acceptedWindows)
	}
	if !ok {
		return event, trusterrors.InvalidArgument("otp code did not match")
	}

	now := m.clock()
	next := cloneEvent(event)
	next.OTPVerifiedAt = &now

	if next.VerificationMode == ModeOTP {
		next.Status = StatusApproved
		next.ApprovedAt = &now
		next.ApprovedBy = advocateID
	}

	if err := m.store.CompareAndSwap(ctx, eventID, StatusPending, next); err != nil {
		return nil, err
	}
	return next, nil
}

// VerifyLiveness evaluates a liveness artifact for an event whose OTP has
// already been verified and whose verification_mode requires liveness.
// Success transitions the event to APPROVED.
func (m *Machine) VerifyLiveness(ctx context.Context, eventID string, method LivenessMethod, artifact []byte, advocateID string) (*Event, error) {
	guard := m.guardFor(eventID)
	guard.Lock()
	defer guard.Unlock()

	event, err := m.store.Get(ctx, eventID)
	if err != nil {
		return nil, err
	}
	event, err = m.expireIfDue(ctx, event)
	if err != nil {
		return nil, err
	}
	if event.Status != StatusPending {
		return event, trusterrors.ConflictState(fmt.Sprintf("break-glass event %s is %s, not PENDING", eventID, event.Status))
	}
	if !event.LivenessRequired {
		return event, trusterrors.InvalidArgument("event does not require liveness verification")
	}
	if event.OTPVerifiedAt == nil {
		return event, trusterrors.PolicyViolation("otp must be verified before liveness", "call VerifyOTP first")
	}

	result, err := m.liveness.Evaluate(ctx, method, artifact)
	if err != nil {
		return nil, trusterrors.CryptoFailure("evaluate liveness", err)
	}
	if !result.OK || result.Confidence < LivenessThreshold {
		return event, trusterrors.InvalidArgument(fmt.Sprintf("liveness confidence %.2f below threshold %.2f", result.Confidence, LivenessThreshold))
	}

	now := m.clock()
	next := cloneEvent(event)
	verified := true
	next.LivenessVerified = &verified
	next.LivenessVerifiedAt = &now
	next.Status = StatusApproved
	next.ApprovedAt = &now
	next.ApprovedBy = advocateID

	if err := m.store.CompareAndSwap(ctx, eventID, StatusPending, next); err != nil {
		return nil, err
	}
	return next, nil
}

// Deny transitions a PENDING event to DENIED. Valid only from PENDING.
func (m *Machine) Deny(ctx context.Context, eventID, denier, reason string) (*Event, error) {
	guard := m.guardFor(eventID)
	guard.Lock()
	defer guard.Unlock()

	event, err := m.store.Get(ctx, eventID)
	if err != nil {
		return nil, err
	}
	event, err = m.expireIfDue(ctx, event)
	if err != nil {
		return nil, err
	}
	if event.Status.IsTerminal() {
		// Idempotent: repeating a terminal transition returns final status
		// without mutation (spec §4.8).
		return event, nil
	}

	now := m.clock()
	next := cloneEvent(event)
	next.Status = StatusDenied
	next.DeniedAt = &now
	next.DeniedBy = denier
	next.DenialReason = reason

	if err := m.store.CompareAndSwap(ctx, eventID, StatusPending, next); err != nil {
		if trusterrors.KindOf(err) == trusterrors.KindConflictState {
			return m.store.Get(ctx, eventID)
		}
		return nil, err
	}
	return next, nil
}

// Get returns the current state of an event, sweeping it to EXPIRED first
// if its TTL has elapsed.
func (m *Machine) Get(ctx context.Context, eventID string) (*Event, error) {
	event, err := m.store.Get(ctx, eventID)
	if err != nil {
		return nil, err
	}
	return m.expireIfDue(ctx, event)
}

// SweepExpired scans poaID's events and expires any PENDING event whose
// TTL has elapsed. Intended to be called periodically by a background
// task (spec §4.8: "may be swept by background task").
func (m *Machine) SweepExpired(ctx context.Context, poaID string) (int, error) {
	events, err := m.store.ListByPOA(ctx, poaID)
	if err != nil {
		return 0, err
	}
	swept := 0
	for _, e := range events {
		if e.Status != StatusPending || !e.IsExpired(m.clock()) {
			continue
		}
		if _, err := m.expireIfDue(ctx, e); err != nil {
			return swept, err
		}
		swept++
	}
	return swept, nil
}

// ListPending returns poaID's events still in PENDING, sweeping any
// that have expired first (spec §6's breakglass.pending verb).
func (m *Machine) ListPending(ctx context.Context, poaID string) ([]*Event, error) {
	events, err := m.store.ListByPOA(ctx, poaID)
	if err != nil {
		return nil, err
	}
	out := make([]*Event, 0, len(events))
	for _, e := range events {
		current, err := m.expireIfDue(ctx, e)
		if err != nil {
			return nil, err
		}
		if current.Status == StatusPending {
			out = append(out, current)
		}
	}
	return out, nil
}
