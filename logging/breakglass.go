package logging

import (
	"time"

	"github.com/aegistrust/proxy/breakglass"
)

// Break-glass event type constants for audit logging.
const (
	// BreakGlassEventOpened is logged when an escalation is opened.
	BreakGlassEventOpened = "breakglass.opened"
	// BreakGlassEventApproved is logged when an advocate clears a pending event.
	BreakGlassEventApproved = "breakglass.approved"
	// BreakGlassEventDenied is logged when an advocate denies a pending event.
	BreakGlassEventDenied = "breakglass.denied"
	// BreakGlassEventExpired is logged when an event's TTL elapses unresolved.
	BreakGlassEventExpired = "breakglass.expired"
)

// BreakGlassLogEntry captures all context for a break-glass escalation
// event. Adapted from the teacher's BreakGlassLogEntry (same event/status
// shape), re-pointed at breakglass.Event instead of an AWS profile
// emergency-access record.
type BreakGlassLogEntry struct {
	Timestamp        string `json:"timestamp"`
	Event            string `json:"event"`
	EventID          string `json:"event_id"`
	POAID            string `json:"poa_id"`
	AuditEntryID     int64  `json:"audit_entry_id"`
	Trigger          string `json:"trigger"`
	TriggerDetails   string `json:"trigger_details"`
	Status           string `json:"status"`
	AdvocateID       string `json:"advocate_id"`
	VerificationMode string `json:"verification_mode"`
	LivenessRequired bool   `json:"liveness_required"`
	ExpiresAt        string `json:"expires_at"`
	ApprovedBy       string `json:"approved_by,omitempty"`
	DeniedBy         string `json:"denied_by,omitempty"`
	DenialReason     string `json:"denial_reason,omitempty"`
}

// NewBreakGlassLogEntry creates a BreakGlassLogEntry from a break-glass
// event. It populates fields based on the event type:
//   - breakglass.opened: all mandatory fields, no resolution fields
//   - breakglass.approved: includes approved_by
//   - breakglass.denied: includes denied_by and denial_reason
func NewBreakGlassLogEntry(event string, bg *breakglass.Event) BreakGlassLogEntry {
	entry := BreakGlassLogEntry{
		Timestamp:        time.Now().UTC().Format(time.RFC3339Nano),
		Event:            event,
		EventID:          bg.ID,
		POAID:            bg.POAID,
		AuditEntryID:     bg.AuditEntryID,
		Trigger:          string(bg.Trigger),
		TriggerDetails:   bg.TriggerDetails,
		Status:           string(bg.Status),
		AdvocateID:       bg.AdvocateID,
		VerificationMode: string(bg.VerificationMode),
		LivenessRequired: bg.LivenessRequired,
		ExpiresAt:        bg.ExpiresAt.Format(time.RFC3339Nano),
	}

	switch event {
	case BreakGlassEventApproved:
		entry.ApprovedBy = bg.ApprovedBy
	case BreakGlassEventDenied:
		entry.DeniedBy = bg.DeniedBy
		entry.DenialReason = bg.DenialReason
	}

	return entry
}
