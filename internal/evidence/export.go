package evidence

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// ExportRecord is a flat view of a Record for CSV/JSON exports. It carries
// counts, types and hashes only.
type ExportRecord struct {
	ID           string    `json:"id"`
	BatchID      string    `json:"batch_id,omitempty"`
	DocumentID   string    `json:"document_id"`
	Timestamp    time.Time `json:"timestamp"`
	Caller       string    `json:"caller,omitempty"`
	FindingCount int       `json:"finding_count"`
	HighestRisk  string    `json:"highest_risk,omitempty"`
	PIITypes     []string  `json:"pii_types,omitempty"`
	DurationMS   int64     `json:"duration_ms"`
	HasError     bool      `json:"has_error"`
	InputHash    string    `json:"input_hash,omitempty"`
	OutputHash   string    `json:"output_hash,omitempty"`
}

// ToExportRecord builds an ExportRecord from a full Record.
func ToExportRecord(r *Record) ExportRecord {
	rec := ExportRecord{
		ID:           r.ID,
		BatchID:      r.BatchID,
		DocumentID:   r.DocumentID,
		Timestamp:    r.Timestamp,
		Caller:       r.Caller,
		FindingCount: r.FindingCount,
		DurationMS:   r.DurationMS,
		HasError:     r.Error != "",
		InputHash:    r.AuditTrail.InputHash,
		OutputHash:   r.AuditTrail.OutputHash,
	}
	if r.HighestRisk > 0 {
		rec.HighestRisk = r.HighestRisk.String()
	}
	if len(r.ByType) > 0 {
		rec.PIITypes = r.Types()
	}
	return rec
}

// PIITypesCSV returns semicolon-separated PII types for a CSV cell.
func (r *ExportRecord) PIITypesCSV() string {
	return strings.Join(r.PIITypes, ";")
}

var csvHeader = []string{
	"id", "batch_id", "document_id", "timestamp", "caller", "finding_count",
	"highest_risk", "pii_types", "duration_ms", "has_error", "input_hash", "output_hash",
}

// WriteCSV writes records as CSV with a header row.
func WriteCSV(w io.Writer, records []ExportRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}
	for i := range records {
		r := &records[i]
		row := []string{
			r.ID, r.BatchID, r.DocumentID, r.Timestamp.UTC().Format(time.RFC3339), r.Caller,
			strconv.Itoa(r.FindingCount), r.HighestRisk, r.PIITypesCSV(),
			strconv.FormatInt(r.DurationMS, 10), strconv.FormatBool(r.HasError),
			r.InputHash, r.OutputHash,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing csv row %s: %w", r.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteJSON writes records as an indented JSON array.
func WriteJSON(w io.Writer, records []ExportRecord) error {
	if records == nil {
		records = []ExportRecord{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}
