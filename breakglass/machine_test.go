package breakglass

import (
	"context"
	"testing"
	"time"

	"github.com/aegistrust/proxy/crypto"
	"github.com/aegistrust/proxy/ledger"
	"github.com/aegistrust/proxy/ratelimit"
)

func testMachine(t *testing.T) *Machine {
	t.Helper()
	vault, err := crypto.New(crypto.Config{Ephemeral: true})
	if err != nil {
		t.Fatalf("crypto.New() = %v", err)
	}
	return New(NewMemoryStore(), vault, nil, nil, nil, nil)
}

func TestCreateEventIsPendingWithOTPMode(t *testing.T) {
	m := testMachine(t)
	event, code, err := m.Create(context.Background(), "poa-1", 42, TriggerSpendLimitExceeded, "amount exceeds limit", "advocate-1", LivenessHint{})
	if err != nil {
		t.Fatalf("Create() = %v", err)
	}
	if event.Status != StatusPending {
		t.Fatalf("status = %s, want PENDING", event.Status)
	}
	if event.VerificationMode != ModeOTP {
		t.Fatalf("mode = %s, want OTP", event.VerificationMode)
	}
	if code == "" {
		t.Fatal("expected a non-empty OTP code")
	}
	if !ValidEventID(event.ID) {
		t.Fatalf("event id %q does not match expected shape", event.ID)
	}
}

func TestVerifyOTPApprovesOTPOnlyMode(t *testing.T) {
	m := testMachine(t)
	event, code, err := m.Create(context.Background(), "poa-1", 1, TriggerScopeViolation, "", "advocate-1", LivenessHint{})
	if err != nil {
		t.Fatalf("Create() = %v", err)
	}

	updated, err := m.VerifyOTP(context.Background(), event.ID, code, "advocate-1")
	if err != nil {
		t.Fatalf("VerifyOTP() = %v", err)
	}
	if updated.Status != StatusApproved {
		t.Fatalf("status = %s, want APPROVED", updated.Status)
	}
	if updated.OTPVerifiedAt == nil {
		t.Fatal("expected otp_verified_at to be set")
	}
	if updated.ApprovedBy != "advocate-1" {
		t.Fatalf("approved_by = %q, want advocate-1", updated.ApprovedBy)
	}
}

func TestVerifyOTPRejectsWrongCode(t *testing.T) {
	m := testMachine(t)
	event, _, err := m.Create(context.Background(), "poa-1", 1, TriggerScopeViolation, "", "advocate-1", LivenessHint{})
	if err != nil {
		t.Fatalf("Create() = %v", err)
	}
	if _, err := m.VerifyOTP(context.Background(), event.ID, "000000", "advocate-1"); err == nil {
		t.Fatal("expected an error for a wrong OTP code")
	}
}

func TestVerifyOTPWithLivenessDoesNotAutoApprove(t *testing.T) {
	m := testMachine(t)
	event, code, err := m.Create(context.Background(), "poa-1", 1, TriggerHighRiskTx, "", "advocate-1", LivenessHint{Required: true})
	if err != nil {
		t.Fatalf("Create() = %v", err)
	}

	updated, err := m.VerifyOTP(context.Background(), event.ID, code, "advocate-1")
	if err != nil {
		t.Fatalf("VerifyOTP() = %v", err)
	}
	if updated.Status != StatusPending {
		t.Fatalf("status = %s, want still PENDING until liveness verified", updated.Status)
	}
	if updated.OTPVerifiedAt == nil {
		t.Fatal("expected otp_verified_at to be set")
	}
}

func TestVerifyLivenessRequiresOTPFirst(t *testing.T) {
	m := testMachine(t)
	event, _, err := m.Create(context.Background(), "poa-1", 1, TriggerHighRiskTx, "", "advocate-1", LivenessHint{Required: true})
	if err != nil {
		t.Fatalf("Create() = %v", err)
	}
	if _, err := m.VerifyLiveness(context.Background(), event.ID, LivenessFace, []byte("frame"), "advocate-1"); err == nil {
		t.Fatal("expected an error when liveness is attempted before otp verification")
	}
}

func TestVerifyLivenessApprovesAfterOTP(t *testing.T) {
	m := testMachine(t)
	event, code, err := m.Create(context.Background(), "poa-1", 1, TriggerHighRiskTx, "", "advocate-1", LivenessHint{Required: true})
	if err != nil {
		t.Fatalf("Create() = %v", err)
	}
	if _, err := m.VerifyOTP(context.Background(), event.ID, code, "advocate-1"); err != nil {
		t.Fatalf("VerifyOTP() = %v", err)
	}

	updated, err := m.VerifyLiveness(context.Background(), event.ID, LivenessFace, []byte("frame"), "advocate-1")
	if err != nil {
		t.Fatalf("VerifyLiveness() = %v", err)
	}
	if updated.Status != StatusApproved {
		t.Fatalf("status = %s, want APPROVED", updated.Status)
	}
	if updated.LivenessVerified == nil || !*updated.LivenessVerified {
		t.Fatal("expected liveness_verified to be true")
	}
}

func TestDenyTransitionsFromPending(t *testing.T) {
	m := testMachine(t)
	event, _, err := m.Create(context.Background(), "poa-1", 1, TriggerScopeViolation, "", "advocate-1", LivenessHint{})
	if err != nil {
		t.Fatalf("Create() = %v", err)
	}

	denied, err := m.Deny(context.Background(), event.ID, "advocate-1", "does not recognize this request")
	if err != nil {
		t.Fatalf("Deny() = %v", err)
	}
	if denied.Status != StatusDenied {
		t.Fatalf("status = %s, want DENIED", denied.Status)
	}
	if denied.DeniedBy != "advocate-1" {
		t.Fatalf("denied_by = %q, want advocate-1", denied.DeniedBy)
	}
}

func TestDenyIsIdempotentOnTerminalState(t *testing.T) {
	m := testMachine(t)
	event, _, err := m.Create(context.Background(), "poa-1", 1, TriggerScopeViolation, "", "advocate-1", LivenessHint{})
	if err != nil {
		t.Fatalf("Create() = %v", err)
	}
	first, err := m.Deny(context.Background(), event.ID, "advocate-1", "reason one")
	if err != nil {
		t.Fatalf("Deny() = %v", err)
	}

	second, err := m.Deny(context.Background(), event.ID, "advocate-2", "reason two")
	if err != nil {
		t.Fatalf("Deny() on terminal state returned an error, want idempotent no-op: %v", err)
	}
	if second.Status != StatusDenied || second.DeniedBy != first.DeniedBy {
		t.Fatalf("second Deny() mutated a terminal event: got %+v, want unchanged %+v", second, first)
	}
}

func TestExpiredEventRejectsVerification(t *testing.T) {
	m := testMachine(t)
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.clock = func() time.Time { return fixed }

	event, code, err := m.Create(context.Background(), "poa-1", 1, TriggerScopeViolation, "", "advocate-1", LivenessHint{})
	if err != nil {
		t.Fatalf("Create() = %v", err)
	}

	m.clock = func() time.Time { return fixed.Add(DefaultTTL + time.Minute) }
	if _, err := m.VerifyOTP(context.Background(), event.ID, code, "advocate-1"); err == nil {
		t.Fatal("expected verification against an expired event to fail")
	}

	got, err := m.Get(context.Background(), event.ID)
	if err != nil {
		t.Fatalf("Get() = %v", err)
	}
	if got.Status != StatusExpired {
		t.Fatalf("status = %s, want EXPIRED after sweep", got.Status)
	}
}

func TestSweepExpiredMarksOnlyDuePendingEvents(t *testing.T) {
	m := testMachine(t)
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.clock = func() time.Time { return fixed }
	stale, _, err := m.Create(context.Background(), "poa-1", 1, TriggerScopeViolation, "", "advocate-1", LivenessHint{})
	if err != nil {
		t.Fatalf("Create() = %v", err)
	}
	m.clock = func() time.Time { return fixed.Add(30 * time.Minute) }
	fresh, _, err := m.Create(context.Background(), "poa-1", 2, TriggerScopeViolation, "", "advocate-1", LivenessHint{})
	if err != nil {
		t.Fatalf("Create() = %v", err)
	}

	m.clock = func() time.Time { return fixed.Add(DefaultTTL + time.Minute) }
	swept, err := m.SweepExpired(context.Background(), "poa-1")
	if err != nil {
		t.Fatalf("SweepExpired() = %v", err)
	}
	if swept != 1 {
		t.Fatalf("swept = %d, want 1 (only the stale event is past TTL)", swept)
	}
	got, err := m.Get(context.Background(), stale.ID)
	if err != nil || got.Status != StatusExpired {
		t.Fatalf("stale event = (%v, %v), want EXPIRED", got, err)
	}
	got, err = m.Get(context.Background(), fresh.ID)
	if err != nil || got.Status != StatusPending {
		t.Fatalf("fresh event = (%v, %v), want PENDING", got, err)
	}
}

func TestVerifyOTPOnUnknownEventReturnsNotFound(t *testing.T) {
	m := testMachine(t)
	if _, err := m.VerifyOTP(context.Background(), "deadbeefdeadbeef", "123456", "advocate-1"); err == nil {
		t.Fatal("expected an error for an unknown event id")
	}
}

func TestCreateLogsAdvocateNotifiedSuccessorEntry(t *testing.T) {
	vault, err := crypto.New(crypto.Config{Ephemeral: true})
	if err != nil {
		t.Fatalf("crypto.New() = %v", err)
	}
	l := ledger.New(ledger.NewMemoryStore(), vault)
	details, _ := ledger.NewDetails(ledger.ActionGatekeeper, ledger.GatekeeperDetails{Service: "instacart"})
	entry, err := l.Append(context.Background(), "poa-1", ledger.ActionGatekeeper, ledger.DecisionBreakGlass, "escalated", details, nil, nil)
	if err != nil {
		t.Fatalf("Append() = %v", err)
	}

	m := New(NewMemoryStore(), vault, nil, nil, l, nil)
	if _, _, err := m.Create(context.Background(), "poa-1", entry.ID, TriggerSpendLimitExceeded, "over limit", "advocate-1", LivenessHint{}); err != nil {
		t.Fatalf("Create() = %v", err)
	}

	entries, err := l.List(context.Background(), ledger.ListFilter{POAID: "poa-1"})
	if err != nil {
		t.Fatalf("List() = %v", err)
	}
	found := false
	for _, e := range entries {
		if e.ActionType == ledger.ActionAdvocateNotified {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a successor ADVOCATE_NOTIFIED ledger entry")
	}
}

func TestCreateIsThrottledByRateLimitGuard(t *testing.T) {
	vault, err := crypto.New(crypto.Config{Ephemeral: true})
	if err != nil {
		t.Fatalf("crypto.New() = %v", err)
	}
	limiter, err := ratelimit.NewTokenBucketLimiter(ratelimit.Config{RequestsPerWindow: 1, Window: time.Hour, BurstSize: 1})
	if err != nil {
		t.Fatalf("NewTokenBucketLimiter() = %v", err)
	}
	m := New(NewMemoryStore(), vault, nil, nil, nil, NewRateLimitGuard(limiter))

	if _, _, err := m.Create(context.Background(), "poa-1", 1, TriggerSpendLimitExceeded, "", "advocate-1", LivenessHint{}); err != nil {
		t.Fatalf("first Create() = %v, want no error", err)
	}
	if _, _, err := m.Create(context.Background(), "poa-1", 2, TriggerSpendLimitExceeded, "", "advocate-1", LivenessHint{}); err == nil {
		t.Fatal("second Create() within the same window should have been throttled")
	}
}
