package governor

import (
	"strings"

	"github.com/aegistrust/proxy/config"
)

// RiskTable holds the loaded category/threshold configuration the
// governor scores against, defaulting to
// transaction_governor.py's HIGH_RISK_CATEGORIES/MEDIUM_RISK_CATEGORIES
// and numeric thresholds.
type RiskTable struct {
	HighRiskCategories   map[string]bool
	MediumRiskCategories map[string]bool
	HighAmountThreshold  float64
	VeryHighAmountThreshold float64
}

// DefaultRiskTable mirrors the original's class constants.
func DefaultRiskTable() RiskTable {
	return RiskTable{
		HighRiskCategories: toSet([]string{
			"electronics",
			"wire_transfer",
			"cryptocurrency",
			"gift_cards",
			"cash_advance",
			"gambling",
			"international_transfer",
		}),
		MediumRiskCategories: toSet([]string{
			"jewelry",
			"luxury_goods",
			"travel",
			"online_shopping",
		}),
		HighAmountThreshold:     200.0,
		VeryHighAmountThreshold: 1000.0,
	}
}

// RiskTableFromConfig builds a RiskTable from a config-loaded document
// (config.LoadFile with DocTypeRiskTable).
func RiskTableFromConfig(doc *config.RiskTableDoc) RiskTable {
	return RiskTable{
		HighRiskCategories:      toSet(doc.HighRiskCategories),
		MediumRiskCategories:    toSet(doc.MediumRiskCategories),
		HighAmountThreshold:     doc.Thresholds.HighAmount,
		VeryHighAmountThreshold: doc.Thresholds.VeryHighAmount,
	}
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, item := range items {
		set[normalizeCategory(item)] = true
	}
	return set
}

// normalizeCategory mirrors the original's
// "category.lower().replace(' ', '_')" normalization.
func normalizeCategory(category string) string {
	return strings.ReplaceAll(strings.ToLower(category), " ", "_")
}

// MCCTable maps card-network merchant category codes to the category
// string the governor scores against (used by cardauth, spec §4.9).
type MCCTable struct {
	Codes    map[string]string
	Fallback string
}

// DefaultMCCTable is a small starter map; production deployments load a
// complete table via MCCTableFromConfig.
func DefaultMCCTable() MCCTable {
	return MCCTable{
		Codes: map[string]string{
			"5411": "groceries",
			"5541": "gas_stations",
			"5732": "electronics",
			"5944": "jewelry",
			"6011": "cash_advance",
			"7995": "gambling",
			"4829": "wire_transfer",
		},
		Fallback: "other",
	}
}

// MCCTableFromConfig builds an MCCTable from a config-loaded document.
func MCCTableFromConfig(doc *config.MCCMapDoc) MCCTable {
	fallback := doc.Fallback
	if fallback == "" {
		fallback = "other"
	}
	return MCCTable{Codes: doc.Codes, Fallback: fallback}
}

// CategoryFor resolves an MCC code to its category, falling back to
// t.Fallback for unknown codes.
func (t MCCTable) CategoryFor(mcc string) string {
	if cat, ok := t.Codes[mcc]; ok {
		return cat
	}
	return t.Fallback
}
