package scam

// defaultCategoryOrder fixes iteration order over the default table so
// reasoning text lists categories deterministically, matching spec §9's
// "running the analyzer twice on the same input yields bitwise-identical
// outputs" property — Go map iteration is randomized, so order must be
// carried separately from the map itself.
var defaultCategoryOrder = []string{
	"urgency",
	"gift_cards",
	"authority_impersonation",
	"payment_pressure",
	"personal_info_request",
	"family_emergency",
}

// defaultPatterns mirrors sentinel_analyzer.py's SCAM_INDICATORS exactly:
// same six categories, same weights, same regexes (translated to Go's
// RE2 syntax, which accepts this pattern set unchanged).
var defaultPatterns = map[string]categoryDef{
	"urgency": {
		weight: 25,
		patterns: []string{
			`\b(urgent|emergency|immediately|right now|asap|hurry)\b`,
			`\b(act now|time sensitive|limited time)\b`,
			`\b(before it's too late|last chance)\b`,
		},
	},
	"gift_cards": {
		weight: 35,
		patterns: []string{
			`\b(gift card|gift|card|itunes|google play|steam|amazon card)\b`,
			`\b(prepaid card|reload|redeem)\b`,
			`\b(scratch off|activation code)\b`,
		},
	},
	"authority_impersonation": {
		weight: 30,
		patterns: []string{
			`\b(irs|internal revenue|tax|government|federal)\b`,
			`\b(social security|medicare|medicaid)\b`,
			`\b(police|sheriff|officer|detective|fbi|dea)\b`,
			`\b(warrant|arrest|legal action|lawsuit)\b`,
			`\b(bank|account frozen|suspicious activity)\b`,
		},
	},
	"payment_pressure": {
		weight: 20,
		patterns: []string{
			`\b(pay now|send money|wire transfer|western union)\b`,
			`\b(cash|bitcoin|cryptocurrency|venmo|zelle)\b`,
			`\b(penalty|fine|fee|charge|owe)\b`,
		},
	},
	"personal_info_request": {
		weight: 25,
		patterns: []string{
			`\b(social security number|ssn|account number|password)\b`,
			`\b(pin|verification code|security code)\b`,
			`\b(date of birth|mother's maiden name)\b`,
		},
	},
	"family_emergency": {
		weight: 30,
		patterns: []string{
			`\b(grandchild|grandson|granddaughter|nephew|niece)\b`,
			`\b(accident|hospital|jail|arrested|trouble)\b`,
			`\b(bail|lawyer|attorney|legal fees)\b`,
		},
	},
}
