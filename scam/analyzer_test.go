package scam

import (
	"strings"
	"testing"

	"github.com/aegistrust/proxy/config"
)

func TestAnalyzeEmptyTranscript(t *testing.T) {
	r := Analyze("", nil)
	if r.Score != 0 || r.Action != ActionAllow {
		t.Fatalf("empty transcript: score=%d action=%s, want 0/ALLOW", r.Score, r.Action)
	}
}

func TestAnalyzeGrandchildScam(t *testing.T) {
	transcript := "Grandpa it's me, I was in an accident and I'm in jail, please send gift cards, it's urgent, wire transfer won't work, call western union now"
	r := Analyze(transcript, nil)

	if r.Score <= 80 {
		t.Fatalf("score = %d, want > 80", r.Score)
	}
	if r.Action != ActionInterveneAndBlock {
		t.Fatalf("action = %s, want INTERVENE_AND_BLOCK", r.Action)
	}

	found := make(map[string]bool)
	for _, ind := range r.Indicators {
		found[ind.Category] = true
	}
	if !found["family_emergency"] {
		t.Error("expected family_emergency indicator")
	}
	if !found["urgency"] {
		t.Error("expected urgency indicator")
	}
	if !found["gift_cards"] && !found["payment_pressure"] {
		t.Error("expected gift_cards or payment_pressure indicator")
	}
}

func TestAnalyzeLowRiskAllows(t *testing.T) {
	r := Analyze("Hi, just calling to confirm our lunch plans for Tuesday.", nil)
	if r.Action != ActionAllow {
		t.Fatalf("action = %s, want ALLOW", r.Action)
	}
}

func TestAnalyzeCategoryDedupe(t *testing.T) {
	// Multiple urgency patterns match, but the category should only count once.
	r := Analyze("urgent urgent act now immediately hurry", nil)
	count := 0
	for _, ind := range r.Indicators {
		if ind.Category == "urgency" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("urgency counted %d times, want exactly 1", count)
	}
	if r.Score != 25 {
		t.Fatalf("score = %d, want 25 (urgency weight only)", r.Score)
	}
}

func TestAnalyzeScoreClampedAt100(t *testing.T) {
	transcript := "urgent irs gift card wire transfer ssn grandson jail"
	r := Analyze(transcript, nil)
	if r.Score > 100 {
		t.Fatalf("score = %d, must be clamped to 100", r.Score)
	}
}

func TestAnalyzeDeterministic(t *testing.T) {
	transcript := "urgent gift card irs"
	r1 := Analyze(transcript, nil)
	r2 := Analyze(transcript, nil)
	if r1.Score != r2.Score || r1.Action != r2.Action || len(r1.Indicators) != len(r2.Indicators) {
		t.Fatal("Analyze should be deterministic for the same input")
	}
}

func TestAnalyzeIgnoresNonASCIIPunctuationAndCase(t *testing.T) {
	r := Analyze("ACT NOW — it's your LAST CHANCE, don't delay", nil)
	found := false
	for _, ind := range r.Indicators {
		if ind.Category == "urgency" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected urgency match despite uppercase and em-dash")
	}
}

func TestNewAnalyzerFromConfigTable(t *testing.T) {
	table := map[string]config.ScamCategory{
		"urgency": {Weight: 25, Patterns: []string{`\burgent\b`}},
	}
	a, err := NewAnalyzer(table)
	if err != nil {
		t.Fatalf("NewAnalyzer() = %v", err)
	}
	r := a.Analyze("this is urgent", nil)
	if r.Score != 25 {
		t.Fatalf("score = %d, want 25", r.Score)
	}
}

func TestNewAnalyzerRejectsBadRegexp(t *testing.T) {
	table := map[string]config.ScamCategory{
		"urgency": {Weight: 25, Patterns: []string{"("}},
	}
	if _, err := NewAnalyzer(table); err == nil {
		t.Fatal("expected an error for an invalid regexp")
	}
}

func TestReasoningListsIndicatorCategories(t *testing.T) {
	r := Analyze("urgent gift card", nil)
	for _, ind := range r.Indicators {
		if !strings.Contains(r.Reasoning, ind.Category) {
			t.Errorf("reasoning %q does not mention category %q", r.Reasoning, ind.Category)
		}
	}
}
