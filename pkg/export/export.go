// Package export serializes enriched record sets for download. CSV columns
// and JSON fields share the same names so exported data lines up across
// both formats.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/lighter-tools/lighter-history/pkg/enrich"
	"github.com/lighter-tools/lighter-history/pkg/fetch"
)

// WriteTradesCSV writes trades with the trade header row.
func WriteTradesCSV(w io.Writer, trades []enrich.TradeRecord) error {
	records := make([]enrich.Record, len(trades))
	for i, r := range trades {
		records[i] = r
	}
	return writeCSV(w, enrich.TradeCSVHeader, records)
}

// WriteFundingsCSV writes funding payments with the funding header row.
func WriteFundingsCSV(w io.Writer, fundings []enrich.FundingRecord) error {
	records := make([]enrich.Record, len(fundings))
	for i, r := range fundings {
		records[i] = r
	}
	return writeCSV(w, enrich.FundingCSVHeader, records)
}

// WriteTransfersCSV writes deposits, transfers, or withdrawals with the
// transfer header row.
func WriteTransfersCSV(w io.Writer, transfers []enrich.TransferRecord) error {
	records := make([]enrich.Record, len(transfers))
	for i, r := range transfers {
		records[i] = r
	}
	return writeCSV(w, enrich.TransferCSVHeader, records)
}

// WriteResultCSV routes a task result to the CSV writer matching its data
// type. Exactly one record family is populated per result.
func WriteResultCSV(w io.Writer, result *fetch.FetchResult) error {
	switch {
	case result.Fundings != nil:
		return WriteFundingsCSV(w, result.Fundings)
	case result.Transfers != nil:
		return WriteTransfersCSV(w, result.Transfers)
	default:
		return WriteTradesCSV(w, result.Trades)
	}
}

// WriteReportJSON writes the full report, field names matching the CSV
// headers.
func WriteReportJSON(w io.Writer, report *fetch.Report) error {
	results := make([]*fetch.FetchResult, 0, len(report.Results))
	for _, res := range report.Results {
		results = append(results, res)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Account.Index != results[j].Account.Index {
			return results[i].Account.Index < results[j].Account.Index
		}
		return results[i].Type < results[j].Type
	})

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		RequestID string               `json:"request_id"`
		OK        bool                 `json:"ok"`
		Results   []*fetch.FetchResult `json:"results"`
	}{
		RequestID: report.RequestID.String(),
		OK:        report.OK,
		Results:   results,
	})
}

func writeCSV(w io.Writer, header []string, records []enrich.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, record := range records {
		if err := cw.Write(record.CSVRow()); err != nil {
			return fmt.Errorf("write csv row %s: %w", record.RecordID(), err)
		}
	}
	cw.Flush()
	return cw.Error()
}
