package cashcount

import (
	"testing"

	"github.com/shopspring/decimal"
)

var idrDenominations = []int64{100000, 50000, 20000, 10000, 5000, 2000, 1000, 500, 200, 100}

func TestCalculate_BalancedScenario(t *testing.T) {
	counts := map[int64]int64{
		100000: 12, 50000: 4, 20000: 5, 10000: 10,
		5000: 0, 2000: 0, 1000: 0, 500: 0, 200: 0, 100: 0,
	}

	res := Calculate(counts, decimal.NewFromInt(1600000))

	if !res.PhysicalTotal.Equal(decimal.NewFromInt(1600000)) {
		t.Errorf("physical total = %s, want 1600000", res.PhysicalTotal)
	}
	if !res.Variance.IsZero() || !res.Balanced {
		t.Errorf("variance = %s balanced = %v, want 0/true", res.Variance, res.Balanced)
	}
}

func TestCalculate_Discrepancy(t *testing.T) {
	tests := []struct {
		name   string
		counts map[int64]int64
		book   string
		want   string
	}{
		{"shortage", map[int64]int64{50000: 1}, "60000", "-10000"},
		{"overage", map[int64]int64{1000: 3}, "2500.50", "499.5"},
		{"empty count", nil, "100", "-100"},
		{"invalid entries ignored", map[int64]int64{-5: 10, 100: -3, 200: 1}, "0", "200"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Calculate(tt.counts, decimal.RequireFromString(tt.book))
			if !res.Variance.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("variance = %s, want %s", res.Variance, tt.want)
			}
			if res.Balanced {
				t.Error("non-zero variance reported as balanced")
			}
		})
	}
}

func TestCalculate_NegativeBookBalanceIsZero(t *testing.T) {
	res := Calculate(map[int64]int64{1000: 1}, decimal.NewFromInt(-500))

	if !res.BookBalance.IsZero() {
		t.Errorf("book balance = %s, want 0", res.BookBalance)
	}
	if !res.Variance.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("variance = %s, want 1000", res.Variance)
	}
}

func TestParseCount(t *testing.T) {
	tests := map[string]int64{
		"12":   12,
		" 7 ":  7,
		"":     0,
		"abc":  0,
		"-4":   0,
		"1.5":  0,
		"0010": 10,
	}
	for in, want := range tests {
		if got := ParseCount(in); got != want {
			t.Errorf("ParseCount(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestParseAmount(t *testing.T) {
	tests := map[string]string{
		"1600000": "1600000",
		" 12.50 ": "12.5",
		"":        "0",
		"n/a":     "0",
		"-100":    "0",
	}
	for in, want := range tests {
		if got := ParseAmount(in); !got.Equal(decimal.RequireFromString(want)) {
			t.Errorf("ParseAmount(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestSheet(t *testing.T) {
	s := NewSheet([]int64{10000, 100000, 50000, 20000, 0, 100000}, decimal.Zero)

	for denom, raw := range map[int64]string{100000: "12", 50000: "4", 20000: "5", 10000: "10"} {
		if !s.SetCount(denom, raw) {
			t.Fatalf("SetCount(%d) rejected", denom)
		}
	}
	if s.SetCount(7, "1") {
		t.Error("SetCount accepted a denomination outside the sheet")
	}
	s.SetBookBalance("1600000")

	lines := s.Lines()
	if len(lines) != 4 {
		t.Fatalf("lines = %d, want 4 (duplicates and zero dropped)", len(lines))
	}
	if lines[0].Denomination != 100000 || lines[3].Denomination != 10000 {
		t.Errorf("lines not sorted descending: %+v", lines)
	}
	if !lines[0].Subtotal.Equal(decimal.NewFromInt(1200000)) {
		t.Errorf("subtotal = %s, want 1200000", lines[0].Subtotal)
	}

	if res := s.Result(); !res.Balanced {
		t.Errorf("expected balanced sheet, variance = %s", res.Variance)
	}

	s.SetCount(10000, "garbage")
	if res := s.Result(); !res.Variance.Equal(decimal.NewFromInt(-100000)) {
		t.Errorf("variance after edit = %s, want -100000", res.Variance)
	}
}

func TestNewSheet_DefaultDenominations(t *testing.T) {
	s := NewSheet(idrDenominations, decimal.Zero)
	if got := len(s.Lines()); got != len(idrDenominations) {
		t.Errorf("lines = %d, want %d", got, len(idrDenominations))
	}
}
