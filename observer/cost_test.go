package observer

import (
	"math"
	"testing"
)

func TestCostCalculator(t *testing.T) {
	calc := NewCostCalculator(nil)

	// Known model
	cost := calc.Calculate("gemini-2.5-pro", 2_000_000, 100_000)
	want := 2.0*1.25 + 0.1*10.00 // 2.50 + 1.00 = 3.50
	if math.Abs(cost-want) > 0.001 {
		t.Errorf("gemini-2.5-pro cost = %f, want %f", cost, want)
	}

	// Unknown model returns 0
	cost = calc.Calculate("unknown-model", 1000, 1000)
	if cost != 0.0 {
		t.Errorf("unknown model cost = %f, want 0.0", cost)
	}
}

func TestCostCalculatorOverrides(t *testing.T) {
	calc := NewCostCalculator(map[string]ModelPricing{
		"custom-model":     {InputPerMillion: 5.0, OutputPerMillion: 10.0},
		"gemini-2.5-flash": {InputPerMillion: 0.30, OutputPerMillion: 1.20},
	})

	// New model from overrides
	cost := calc.Calculate("custom-model", 500_000, 200_000)
	want := 0.5*5.0 + 0.2*10.0 // 2.5 + 2.0 = 4.5
	if math.Abs(cost-want) > 0.001 {
		t.Errorf("custom-model cost = %f, want %f", cost, want)
	}

	// Override replaces the default entry
	cost = calc.Calculate("gemini-2.5-flash", 1_000_000, 1_000_000)
	if math.Abs(cost-1.50) > 0.001 {
		t.Errorf("overridden gemini-2.5-flash cost = %f, want 1.50", cost)
	}

	// Untouched defaults survive the merge
	cost = calc.Calculate("gemini-2.0-flash", 1_000_000, 1_000_000)
	if math.Abs(cost-0.50) > 0.001 {
		t.Errorf("gemini-2.0-flash cost = %f, want 0.50", cost)
	}
}

func TestCostCalculatorZeroTokens(t *testing.T) {
	calc := NewCostCalculator(nil)
	cost := calc.Calculate("gemini-2.5-flash", 0, 0)
	if cost != 0.0 {
		t.Errorf("zero tokens cost = %f, want 0.0", cost)
	}
}
