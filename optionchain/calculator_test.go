package optionchain

import (
	"math"
	"testing"
)

func TestATMStrike(t *testing.T) {
	tests := []struct {
		name       string
		underlying float64
		expected   float64
	}{
		{"exact strike", 24500, 24500},
		{"rounds down", 24520, 24500},
		{"rounds up", 24530, 24550},
		{"midpoint rounds up", 24525, 24550},
		{"low price", 80, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ATMStrike(tt.underlying, DefaultTickSize)
			if got != tt.expected {
				t.Errorf("ATMStrike(%v) = %v, want %v", tt.underlying, got, tt.expected)
			}
		})
	}
}

func TestATMStrikeProperties(t *testing.T) {
	// For any price the ATM strike lands on the grid and within half a
	// tick of the underlying.
	for price := 50.0; price < 30000; price += 137.3 {
		atm := ATMStrike(price, DefaultTickSize)
		if math.Mod(atm, 50) != 0 {
			t.Fatalf("ATMStrike(%v) = %v not on 50-point grid", price, atm)
		}
		if math.Abs(atm-price) > 25 {
			t.Fatalf("ATMStrike(%v) = %v further than 25 points away", price, atm)
		}
	}
}

func TestGenerateStrikes(t *testing.T) {
	strikes := GenerateStrikes(24500, 500, 50)

	if len(strikes) != 21 {
		t.Fatalf("expected 21 strikes, got %d", len(strikes))
	}
	if strikes[0] != 24000 {
		t.Errorf("first strike = %v, want 24000", strikes[0])
	}
	if strikes[len(strikes)-1] != 25000 {
		t.Errorf("last strike = %v, want 25000", strikes[len(strikes)-1])
	}
	for i := 1; i < len(strikes); i++ {
		if strikes[i] <= strikes[i-1] {
			t.Fatalf("strikes not strictly increasing at %d: %v <= %v", i, strikes[i], strikes[i-1])
		}
	}
}

func TestGenerateStrikesPositiveOnly(t *testing.T) {
	// A low ATM pushes the bottom of the range below zero; those strikes
	// are filtered out.
	strikes := GenerateStrikes(300, 500, 50)

	for _, strike := range strikes {
		if strike <= 0 {
			t.Fatalf("non-positive strike %v generated", strike)
		}
	}
	if strikes[0] != 50 {
		t.Errorf("first strike = %v, want 50", strikes[0])
	}
	if strikes[len(strikes)-1] != 800 {
		t.Errorf("last strike = %v, want 800", strikes[len(strikes)-1])
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		optionType OptionType
		underlying float64
		strike     float64
		expected   Moneyness
	}{
		{"call deep ITM", Call, 24500, 24000, ITM},
		{"call deep OTM", Call, 24500, 25000, OTM},
		{"call near money", Call, 24500, 24520, ATM},
		{"put deep ITM", Put, 24500, 25000, ITM},
		{"put deep OTM", Put, 24500, 24000, OTM},
		{"put near money", Put, 24500, 24480, ATM},
		{"exactly 25 away is ATM", Call, 24525, 24500, ATM},
		{"26 away is not ATM", Call, 24526, 24500, ITM},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.optionType, tt.underlying, tt.strike)
			if got != tt.expected {
				t.Errorf("Classify(%s, %v, %v) = %s, want %s",
					tt.optionType, tt.underlying, tt.strike, got, tt.expected)
			}
		})
	}
}

func TestIntrinsicAndTimeValue(t *testing.T) {
	if got := IntrinsicValue(Call, 24500, 24000); got != 500 {
		t.Errorf("call intrinsic = %v, want 500", got)
	}
	if got := IntrinsicValue(Call, 24500, 25000); got != 0 {
		t.Errorf("OTM call intrinsic = %v, want 0", got)
	}
	if got := IntrinsicValue(Put, 24500, 25000); got != 500 {
		t.Errorf("put intrinsic = %v, want 500", got)
	}
	if got := TimeValue(Call, 620, 24500, 24000); got != 120 {
		t.Errorf("time value = %v, want 120", got)
	}
	// Option trading below intrinsic floors at zero.
	if got := TimeValue(Call, 400, 24500, 24000); got != 0 {
		t.Errorf("below-intrinsic time value = %v, want 0", got)
	}
}

func TestCalculatePCR(t *testing.T) {
	items := []OptionChainItem{
		{
			Strike:      24400,
			CallOptions: &OptionSide{Volume: 1000, OI: 500},
			PutOptions:  &OptionSide{Volume: 1500, OI: 250},
		},
		{
			Strike:      24500,
			CallOptions: &OptionSide{Volume: 1000, OI: 500},
			PutOptions:  &OptionSide{Volume: 1500, OI: 250},
		},
	}

	pcr := CalculatePCR(items)
	if pcr.Volume != 1.5 {
		t.Errorf("volume PCR = %v, want 1.5", pcr.Volume)
	}
	if pcr.OpenInterest != 0.5 {
		t.Errorf("OI PCR = %v, want 0.5", pcr.OpenInterest)
	}
}

func TestCalculatePCRZeroCallSide(t *testing.T) {
	// Zero call-side totals must yield 0, not NaN or Inf.
	items := []OptionChainItem{
		{
			Strike:     24500,
			PutOptions: &OptionSide{Volume: 1500, OI: 250},
		},
	}

	pcr := CalculatePCR(items)
	if pcr.Volume != 0 {
		t.Errorf("volume PCR with zero calls = %v, want 0", pcr.Volume)
	}
	if pcr.OpenInterest != 0 {
		t.Errorf("OI PCR with zero calls = %v, want 0", pcr.OpenInterest)
	}
	if math.IsNaN(pcr.Volume) || math.IsInf(pcr.Volume, 0) {
		t.Error("volume PCR is not finite")
	}
}

func TestCalculatePCREmptyChain(t *testing.T) {
	pcr := CalculatePCR(nil)
	if pcr.Volume != 0 || pcr.OpenInterest != 0 {
		t.Errorf("empty chain PCR = %+v, want zeros", pcr)
	}
}
