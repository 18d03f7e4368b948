package ingest

import (
	_ "embed"
	"encoding/csv"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/cash-audit/internal/domain"
	"github.com/shopspring/decimal"
)

// Header is the expected header row of the tabular ingestion format.
const Header = "ID,Date,Description,Amount,Type,Source"

const (
	colID = iota
	colDate
	colDescription
	colAmount
	colType
	colSource
)

// ErrEmptyBatch is returned by callers that reject a batch yielding no records.
// Parse itself never fails.
var ErrEmptyBatch = errors.New("no valid transactions found in input")

// SampleDataset is the demo ledger/bank export shipped with the service.
//
//go:embed sample.csv
var SampleDataset string

// Options controls defaults applied while parsing.
type Options struct {
	// Now supplies the processing date used for rows without a date.
	// Defaults to time.Now.
	Now func() time.Time
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// Parse converts raw tabular text into transactions, one per non-empty data line.
// The first non-blank line is treated as the header. Malformed fields are
// defaulted rather than rejected, so Parse never fails; an empty result is
// the caller's concern.
func Parse(raw string, opts Options) []domain.Transaction {
	today := civil.DateOf(opts.now()).String()

	var rows [][]string
	headerSeen := false
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if !headerSeen {
			headerSeen = true
			continue
		}
		rows = append(rows, splitRow(line))
	}

	// Real ids first, so placeholders cannot collide with them.
	taken := make(map[string]bool, len(rows))
	for _, fields := range rows {
		if id := field(fields, colID); id != "" {
			taken[id] = true
		}
	}

	txs := make([]domain.Transaction, 0, len(rows))
	for i, fields := range rows {
		id := field(fields, colID)
		if id == "" {
			id = placeholderID(i, taken)
		}

		date := field(fields, colDate)
		if date == "" {
			date = today
		}

		desc := field(fields, colDescription)
		if desc == "" {
			desc = "Unknown Transaction"
		}

		txType, ok := domain.ParseTxType(field(fields, colType))
		if !ok {
			txType = domain.Credit
		}

		source, ok := domain.ParseSource(field(fields, colSource))
		if !ok {
			source = domain.Ledger
		}

		txs = append(txs, domain.Transaction{
			ID:          id,
			Date:        date,
			Description: desc,
			Amount:      parseAmount(field(fields, colAmount)),
			Type:        txType,
			Source:      source,
			Status:      domain.StatusPending,
		})
	}

	return txs
}

// splitRow reads one CSV line, honouring quoted fields. Lines the CSV reader
// rejects fall back to a plain comma split.
func splitRow(line string) []string {
	r := csv.NewReader(strings.NewReader(line))
	r.LazyQuotes = true
	r.FieldsPerRecord = -1

	fields, err := r.Read()
	if err != nil {
		fields = strings.Split(line, ",")
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	return fields
}

func field(fields []string, idx int) string {
	if idx < len(fields) {
		return fields[idx]
	}
	return ""
}

// parseAmount returns the magnitude of s, or zero when s is not a decimal.
func parseAmount(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d.Abs()
}

func placeholderID(row int, taken map[string]bool) string {
	id := fmt.Sprintf("UNK-%d", row)
	for n := 1; taken[id]; n++ {
		id = fmt.Sprintf("UNK-%d-%d", row, n)
	}
	taken[id] = true
	return id
}
