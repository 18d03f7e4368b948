package cashcount

import (
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Result is the outcome of a physical cash count.
type Result struct {
	PhysicalTotal decimal.Decimal `json:"physical_total"`
	BookBalance   decimal.Decimal `json:"book_balance"`
	// Variance is PhysicalTotal minus BookBalance; zero means balanced.
	Variance decimal.Decimal `json:"variance"`
	Balanced bool            `json:"balanced"`
}

// Calculate totals counts (denomination to number of notes or coins) and
// compares the total with bookBalance. Non-positive denominations and
// negative counts are ignored; a negative book balance counts as zero.
func Calculate(counts map[int64]int64, bookBalance decimal.Decimal) Result {
	if bookBalance.IsNegative() {
		bookBalance = decimal.Zero
	}

	total := decimal.Zero
	for denom, n := range counts {
		if denom <= 0 || n <= 0 {
			continue
		}
		total = total.Add(decimal.NewFromInt(denom).Mul(decimal.NewFromInt(n)))
	}

	variance := total.Sub(bookBalance)
	return Result{
		PhysicalTotal: total,
		BookBalance:   bookBalance,
		Variance:      variance,
		Balanced:      variance.IsZero(),
	}
}

// ParseCount coerces user input to a non-negative count. Unparseable input is zero.
func ParseCount(s string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// ParseAmount coerces user input to a non-negative amount. Unparseable input is zero.
func ParseAmount(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil || d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// Line is one row of a count sheet.
type Line struct {
	Denomination int64           `json:"denomination"`
	Count        int64           `json:"count"`
	Subtotal     decimal.Decimal `json:"subtotal"`
}

// Sheet holds a denomination table with per-denomination counts and a book
// balance. Totals are recomputed on every read. A Sheet is not safe for
// concurrent use.
type Sheet struct {
	denominations []int64
	counts        map[int64]int64
	bookBalance   decimal.Decimal
}

// NewSheet creates a sheet for the given denominations with all counts zero.
func NewSheet(denominations []int64, bookBalance decimal.Decimal) *Sheet {
	s := &Sheet{
		counts:      make(map[int64]int64, len(denominations)),
		bookBalance: bookBalance,
	}
	for _, d := range denominations {
		if d <= 0 {
			continue
		}
		if _, dup := s.counts[d]; dup {
			continue
		}
		s.denominations = append(s.denominations, d)
		s.counts[d] = 0
	}
	sort.Slice(s.denominations, func(i, j int) bool { return s.denominations[i] > s.denominations[j] })
	return s
}

// SetCount records the count for a denomination from raw input. It reports
// false if denom is not part of the sheet.
func (s *Sheet) SetCount(denom int64, raw string) bool {
	if _, ok := s.counts[denom]; !ok {
		return false
	}
	s.counts[denom] = ParseCount(raw)
	return true
}

// SetBookBalance records the book balance from raw input.
func (s *Sheet) SetBookBalance(raw string) {
	s.bookBalance = ParseAmount(raw)
}

// Lines returns the sheet rows, largest denomination first.
func (s *Sheet) Lines() []Line {
	lines := make([]Line, 0, len(s.denominations))
	for _, d := range s.denominations {
		n := s.counts[d]
		lines = append(lines, Line{
			Denomination: d,
			Count:        n,
			Subtotal:     decimal.NewFromInt(d).Mul(decimal.NewFromInt(n)),
		})
	}
	return lines
}

// Result computes the current totals.
func (s *Sheet) Result() Result {
	return Calculate(s.counts, s.bookBalance)
}
