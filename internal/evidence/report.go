package evidence

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/dativo-io/tarja/internal/classifier"
)

// Record is the audit record for one processed document.
type Record struct {
	ID           string                     `json:"id"`
	BatchID      string                     `json:"batch_id,omitempty"`
	DocumentID   string                     `json:"document_id"`
	Timestamp    time.Time                  `json:"timestamp"`
	Caller       string                     `json:"caller,omitempty"`
	NERModel     string                     `json:"ner_model,omitempty"`
	FindingCount int                        `json:"finding_count"`
	HighestRisk  classifier.RiskLevel       `json:"highest_risk,omitempty"`
	ByType       map[classifier.PIIType]int `json:"by_type,omitempty"`
	Findings     []classifier.Finding       `json:"findings"`
	DurationMS   int64                      `json:"duration_ms"`
	Error        string                     `json:"error,omitempty"`
	AuditTrail   AuditTrail                 `json:"audit_trail"`
	Signature    string                     `json:"signature,omitempty"`
}

// AuditTrail contains content hashes for integrity verification. Neither the
// original nor the redacted text is stored.
type AuditTrail struct {
	InputHash  string `json:"input_hash"`
	OutputHash string `json:"output_hash"`
}

// RecordParams holds the inputs for building a Record.
type RecordParams struct {
	DocumentID   string
	Caller       string
	NERModel     string
	Findings     []classifier.Finding // resolved findings, sorted by start
	InputText    string               // hashed, not stored
	RedactedText string               // hashed, not stored
	Duration     time.Duration
	Error        error
	Timestamp    time.Time
}

// NewRecord wraps resolved findings and a generation timestamp into an audit
// record.
func NewRecord(p RecordParams) Record {
	rec := Record{
		ID:           "doc_" + uuid.New().String()[:8],
		DocumentID:   p.DocumentID,
		Timestamp:    p.Timestamp,
		Caller:       p.Caller,
		NERModel:     p.NERModel,
		FindingCount: len(p.Findings),
		Findings:     append([]classifier.Finding{}, p.Findings...),
		DurationMS:   p.Duration.Milliseconds(),
		AuditTrail: AuditTrail{
			InputHash:  hashString(p.InputText),
			OutputHash: hashString(p.RedactedText),
		},
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	if p.Error != nil {
		rec.Error = p.Error.Error()
	}
	if len(p.Findings) > 0 {
		rec.ByType = make(map[classifier.PIIType]int)
		for _, f := range p.Findings {
			rec.ByType[f.Type]++
			if f.Risk > rec.HighestRisk {
				rec.HighestRisk = f.Risk
			}
		}
	}
	return rec
}

// DocumentSummary is the per-document line of a batch report.
type DocumentSummary struct {
	DocumentID   string `json:"document_id"`
	RecordID     string `json:"record_id"`
	FindingCount int    `json:"finding_count"`
	Error        string `json:"error,omitempty"`
}

// BatchReport consolidates the records of one batch run. Documents without
// findings or errors are counted and summarized but omitted from Records.
type BatchReport struct {
	ID                    string                     `json:"id"`
	GeneratedAt           time.Time                  `json:"generated_at"`
	Caller                string                     `json:"caller,omitempty"`
	TotalDocuments        int                        `json:"total_documents"`
	DocumentsWithFindings int                        `json:"documents_with_findings"`
	TotalFindings         int                        `json:"total_findings"`
	FailedDocuments       int                        `json:"failed_documents"`
	FindingsByType        map[classifier.PIIType]int `json:"findings_by_type"`
	ElapsedMS             int64                      `json:"elapsed_ms"`
	Documents             []DocumentSummary          `json:"documents"`
	Records               []Record                   `json:"records"`
	Signature             string                     `json:"signature,omitempty"`
}

// NewBatchReport aggregates records, given in input order, into a report.
// Every record is stamped with the batch id.
func NewBatchReport(records []Record, elapsed time.Duration, generatedAt time.Time) *BatchReport {
	report := &BatchReport{
		ID:             "batch_" + uuid.New().String()[:8],
		GeneratedAt:    generatedAt,
		TotalDocuments: len(records),
		FindingsByType: make(map[classifier.PIIType]int),
		ElapsedMS:      elapsed.Milliseconds(),
		Documents:      make([]DocumentSummary, 0, len(records)),
		Records:        []Record{},
	}
	for _, rec := range records {
		rec.BatchID = report.ID
		report.Documents = append(report.Documents, DocumentSummary{
			DocumentID:   rec.DocumentID,
			RecordID:     rec.ID,
			FindingCount: rec.FindingCount,
			Error:        rec.Error,
		})
		report.TotalFindings += rec.FindingCount
		for t, n := range rec.ByType {
			report.FindingsByType[t] += n
		}
		if rec.Error != "" {
			report.FailedDocuments++
		}
		if rec.FindingCount > 0 {
			report.DocumentsWithFindings++
		}
		if rec.FindingCount > 0 || rec.Error != "" {
			report.Records = append(report.Records, rec)
		}
	}
	return report
}

// Findings returns the consolidated finding list of the batch, grouped by
// document in input order.
func (b *BatchReport) Findings() []classifier.Finding {
	var out []classifier.Finding
	for _, rec := range b.Records {
		out = append(out, rec.Findings...)
	}
	return out
}

// Types returns the distinct PII types of the record sorted by name.
func (r *Record) Types() []string {
	out := make([]string, 0, len(r.ByType))
	for t := range r.ByType {
		out = append(out, string(t))
	}
	sort.Strings(out)
	return out
}

func hashString(s string) string {
	h := sha256.Sum256([]byte(s))
	return "sha256:" + hex.EncodeToString(h[:])
}
