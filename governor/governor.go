package governor

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// oddHoursStart / oddHoursEnd bound the "odd hours" window (11 PM-5 AM
// local time), matching the original's ODD_HOURS_START/END constants.
const (
	oddHoursStartHour = 23
	oddHoursEndHour   = 5
)

// Governor scores transactions against a RiskTable. Stateless beyond its
// table — Score is a pure function of (table, tx).
type Governor struct {
	table RiskTable
}

// New constructs a Governor over table.
func New(table RiskTable) *Governor {
	return &Governor{table: table}
}

// Score analyzes tx for suspicious patterns, implementing spec §4.4's
// rule additions and level/status mapping exactly.
func (g *Governor) Score(ctx context.Context, tx Transaction) Result {
	var flags []Flag
	score := 0

	isHighAmount := tx.Amount > g.table.HighAmountThreshold
	if isHighAmount {
		flags = append(flags, FlagHighAmount)
		score += 30
	}

	isOddHours := isOddHoursLocal(tx.Time, tx.PrincipalTZ)
	if isOddHours {
		flags = append(flags, FlagOddHours)
		score += 25
	}

	category := normalizeCategory(tx.Category)
	isHighRiskCategory := g.table.HighRiskCategories[category]
	isMediumRiskCategory := g.table.MediumRiskCategories[category]

	if isHighRiskCategory {
		flags = append(flags, FlagHighRiskCategory)
		score += 35
	} else if isMediumRiskCategory {
		flags = append(flags, FlagMediumRiskCategory)
		score += 15
	}

	if tx.Amount > g.table.VeryHighAmountThreshold {
		flags = append(flags, FlagVeryHighAmount)
		score += 20
	}

	if strings.Contains(strings.ToLower(tx.Merchant), "atm") && isOddHours {
		flags = append(flags, FlagOddHoursATM)
		score += 15
	}

	riskLevel, status, reasoning := determineRiskAndStatus(score, flags, tx)
	clamped := score
	if clamped > 100 {
		clamped = 100
	}

	return Result{
		RiskLevel:        riskLevel,
		RiskScore:        clamped,
		Status:           status,
		Flags:            flags,
		Reasoning:        reasoning,
		RequiresApproval: status == StatusPendingApproval,
		Timestamp:        time.Now().UTC(),
	}
}

// Score is the package-level convenience entry point over
// DefaultRiskTable, for callers that don't need a custom table.
func Score(ctx context.Context, tx Transaction) Result {
	return defaultGovernor.Score(ctx, tx)
}

var defaultGovernor = New(DefaultRiskTable())

func isOddHoursLocal(t time.Time, loc *time.Location) bool {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	hour := local.Hour()
	// The window crosses midnight (23:00-05:00), so membership is an OR,
	// not a bounded range.
	return hour >= oddHoursStartHour || hour <= oddHoursEndHour
}

func hasFlag(flags []Flag, target Flag) bool {
	for _, f := range flags {
		if f == target {
			return true
		}
	}
	return false
}

func determineRiskAndStatus(score int, flags []Flag, tx Transaction) (RiskLevel, Status, string) {
	flagStrings := make([]string, len(flags))
	for i, f := range flags {
		flagStrings[i] = string(f)
	}
	joinedFlags := strings.Join(flagStrings, ", ")

	switch {
	case hasFlag(flags, FlagHighAmount) && hasFlag(flags, FlagOddHours) && hasFlag(flags, FlagHighRiskCategory):
		reasoning := fmt.Sprintf(
			"CRITICAL RISK TRANSACTION: $%.2f %s purchase at %s (odd hours). "+
				"This combination of high amount, unusual time, and high-risk category "+
				"requires immediate Trusted Advocate approval.",
			tx.Amount, tx.Category, tx.Time.Format("03:04 PM"))
		return RiskCritical, StatusPendingApproval, reasoning
	case score >= 70:
		reasoning := fmt.Sprintf(
			"HIGH RISK TRANSACTION (Score: %d/100): $%.2f %s purchase. Flags: %s. Requires approval.",
			score, tx.Amount, tx.Category, joinedFlags)
		return RiskHigh, StatusPendingApproval, reasoning
	case score >= 40:
		reasoning := fmt.Sprintf(
			"MEDIUM RISK TRANSACTION (Score: %d/100): $%.2f %s purchase. Flags: %s. Recommended for review.",
			score, tx.Amount, tx.Category, joinedFlags)
		return RiskMedium, StatusPendingApproval, reasoning
	default:
		reasoning := fmt.Sprintf(
			"LOW RISK TRANSACTION (Score: %d/100): $%.2f %s purchase appears normal.",
			score, tx.Amount, tx.Category)
		return RiskLow, StatusApproved, reasoning
	}
}
