// Package governor implements the context-aware transaction risk scorer
// (spec §4.4): a pure function over a transaction's amount, time,
// category, and merchant. Grounded on
// original_source/backend/transaction_governor.py's ContextAwareGovernor.
package governor

import "time"

// RiskLevel is the governor's coarse risk classification.
type RiskLevel string

const (
	RiskCritical RiskLevel = "CRITICAL"
	RiskHigh     RiskLevel = "HIGH"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskLow      RiskLevel = "LOW"
)

// Status is the approval disposition implied by a RiskLevel.
type Status string

const (
	StatusApproved        Status = "APPROVED"
	StatusPendingApproval Status = "PENDING_APPROVAL"
)

// Flag names the specific risk rule a transaction tripped.
type Flag string

const (
	FlagHighAmount       Flag = "HIGH_AMOUNT"
	FlagVeryHighAmount   Flag = "VERY_HIGH_AMOUNT"
	FlagOddHours         Flag = "ODD_HOURS"
	FlagHighRiskCategory Flag = "HIGH_RISK_CATEGORY"
	FlagMediumRiskCategory Flag = "MEDIUM_RISK_CATEGORY"
	FlagOddHoursATM      Flag = "ODD_HOURS_ATM"
)

// Transaction is the governor's scoring input.
type Transaction struct {
	Amount   float64
	Time     time.Time
	Category string
	Merchant string
	// PrincipalTZ resolves Time to local wall-clock time for the
	// odd-hours check. UTC is assumed when nil.
	PrincipalTZ *time.Location
}

// Result is the governor's scoring output, matching
// transaction_governor.py's analyze_transaction response shape.
type Result struct {
	RiskLevel        RiskLevel `json:"risk_level"`
	RiskScore        int       `json:"risk_score"`
	Status           Status    `json:"status"`
	Flags            []Flag    `json:"flags"`
	Reasoning        string    `json:"reasoning"`
	RequiresApproval bool      `json:"requires_approval"`
	Timestamp        time.Time `json:"timestamp"`
}
