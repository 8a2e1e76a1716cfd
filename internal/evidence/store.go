// Package evidence provides the HMAC-signed audit trail of redaction runs.
//
// Every processed document produces a Record; batch runs also produce a
// BatchReport consolidating their records. Records are signed (HMAC-SHA256)
// and persisted in SQLite with finding values hashed. Records support
// progressive disclosure (index → timeline → full detail) for efficient
// querying and exports.
package evidence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dativo-io/tarja/internal/classifier"
	tarjaotel "github.com/dativo-io/tarja/internal/otel"
)

var tracer = tarjaotel.Tracer("github.com/dativo-io/tarja/internal/evidence")

// ErrNotFound is returned when a record or batch id is unknown.
var ErrNotFound = errors.New("evidence not found")

// Store persists HMAC-signed audit records in SQLite.
type Store struct {
	db     *sql.DB
	signer *Signer
}

// Filter narrows List and ListIndex queries. Zero fields are ignored.
type Filter struct {
	BatchID    string
	DocumentID string
	Caller     string
	From       time.Time
	To         time.Time
	MinRisk    classifier.RiskLevel
	Limit      int
}

// NewStore creates an evidence store with HMAC signing.
func NewStore(dbPath string, signingKey string) (*Store, error) {
	signer, err := NewSigner(signingKey)
	if err != nil {
		return nil, fmt.Errorf("creating signer: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening evidence database: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS records (
		id TEXT PRIMARY KEY,
		batch_id TEXT NOT NULL DEFAULT '',
		document_id TEXT NOT NULL,
		timestamp TIMESTAMP NOT NULL,
		caller TEXT NOT NULL DEFAULT '',
		finding_count INTEGER NOT NULL,
		highest_risk INTEGER NOT NULL,
		record_json TEXT NOT NULL,
		signature TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS batches (
		id TEXT PRIMARY KEY,
		timestamp TIMESTAMP NOT NULL,
		total_documents INTEGER NOT NULL,
		total_findings INTEGER NOT NULL,
		report_json TEXT NOT NULL,
		signature TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_records_batch ON records(batch_id);
	CREATE INDEX IF NOT EXISTS idx_records_document ON records(document_id);
	CREATE INDEX IF NOT EXISTS idx_records_timestamp ON records(timestamp);
	CREATE INDEX IF NOT EXISTS idx_batches_timestamp ON batches(timestamp);
	`

	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating evidence schema: %w", err)
	}

	return &Store{
		db:     db,
		signer: signer,
	}, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// KeyID returns the fingerprint of the signing key.
func (s *Store) KeyID() string {
	return s.signer.KeyID()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Store sanitizes, signs and saves a single record. The stored (sanitized,
// signed) form is written back into rec.
func (s *Store) Store(ctx context.Context, rec *Record) error {
	ctx, span := tracer.Start(ctx, "evidence.store",
		trace.WithAttributes(
			attribute.String("evidence.id", rec.ID),
			attribute.Int("evidence.finding_count", rec.FindingCount),
		))
	defer span.End()

	return s.storeRecord(ctx, s.db, rec)
}

func (s *Store) storeRecord(ctx context.Context, db execer, rec *Record) error {
	clean := SanitizeForEvidence(*rec)
	clean.Signature = ""

	recordJSON, err := json.Marshal(clean)
	if err != nil {
		return fmt.Errorf("marshaling record: %w", err)
	}
	signature, err := s.signer.Sign(recordJSON)
	if err != nil {
		return fmt.Errorf("signing record: %w", err)
	}
	clean.Signature = signature

	recordJSONWithSig, err := json.Marshal(clean)
	if err != nil {
		return fmt.Errorf("marshaling record: %w", err)
	}

	query := `INSERT INTO records (id, batch_id, document_id, timestamp, caller, finding_count, highest_risk, record_json, signature)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = db.ExecContext(ctx, query,
		clean.ID, clean.BatchID, clean.DocumentID, clean.Timestamp, clean.Caller,
		clean.FindingCount, int(clean.HighestRisk), string(recordJSONWithSig), signature,
	)
	if err != nil {
		return fmt.Errorf("storing record: %w", err)
	}

	*rec = clean
	return nil
}

// StoreBatch saves a batch report and every record it carries in one
// transaction. Records are sanitized and signed individually; the batch
// signature covers the report summary and the record signatures. The
// caller's report keeps its plain findings; the stored copy is returned.
func (s *Store) StoreBatch(ctx context.Context, report *BatchReport) (*BatchReport, error) {
	ctx, span := tracer.Start(ctx, "evidence.store_batch",
		trace.WithAttributes(
			attribute.String("batch.id", report.ID),
			attribute.Int("batch.total_documents", report.TotalDocuments),
		))
	defer span.End()

	stored := *report
	stored.Records = append([]Record(nil), report.Records...)
	stored.Signature = ""

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting batch transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i := range stored.Records {
		stored.Records[i].BatchID = stored.ID
		if err := s.storeRecord(ctx, tx, &stored.Records[i]); err != nil {
			return nil, fmt.Errorf("batch %s: %w", stored.ID, err)
		}
	}

	reportJSON, err := json.Marshal(&stored)
	if err != nil {
		return nil, fmt.Errorf("marshaling batch report: %w", err)
	}
	signature, err := s.signer.Sign(reportJSON)
	if err != nil {
		return nil, fmt.Errorf("signing batch report: %w", err)
	}
	stored.Signature = signature
	reportJSONWithSig, err := json.Marshal(&stored)
	if err != nil {
		return nil, fmt.Errorf("marshaling batch report: %w", err)
	}

	query := `INSERT INTO batches (id, timestamp, total_documents, total_findings, report_json, signature)
	          VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, query,
		stored.ID, stored.GeneratedAt, stored.TotalDocuments, stored.TotalFindings,
		string(reportJSONWithSig), signature,
	); err != nil {
		return nil, fmt.Errorf("storing batch report: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing batch: %w", err)
	}
	return &stored, nil
}

// Get retrieves a record by ID.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	ctx, span := tracer.Start(ctx, "evidence.get",
		trace.WithAttributes(attribute.String("evidence.id", id)))
	defer span.End()

	var recordJSON string
	err := s.db.QueryRowContext(ctx, `SELECT record_json FROM records WHERE id = ?`, id).Scan(&recordJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("record %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying record: %w", err)
	}

	var rec Record
	if err := json.Unmarshal([]byte(recordJSON), &rec); err != nil {
		return nil, fmt.Errorf("unmarshaling record: %w", err)
	}
	return &rec, nil
}

// GetBatch retrieves a batch report by ID.
func (s *Store) GetBatch(ctx context.Context, id string) (*BatchReport, error) {
	ctx, span := tracer.Start(ctx, "evidence.get_batch",
		trace.WithAttributes(attribute.String("batch.id", id)))
	defer span.End()

	var reportJSON string
	err := s.db.QueryRowContext(ctx, `SELECT report_json FROM batches WHERE id = ?`, id).Scan(&reportJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("batch %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying batch: %w", err)
	}

	var report BatchReport
	if err := json.Unmarshal([]byte(reportJSON), &report); err != nil {
		return nil, fmt.Errorf("unmarshaling batch: %w", err)
	}
	return &report, nil
}

func (f Filter) where() (string, []any) {
	query := ` WHERE 1=1`
	args := []any{}

	if f.BatchID != "" {
		query += ` AND batch_id = ?`
		args = append(args, f.BatchID)
	}
	if f.DocumentID != "" {
		query += ` AND document_id = ?`
		args = append(args, f.DocumentID)
	}
	if f.Caller != "" {
		query += ` AND caller = ?`
		args = append(args, f.Caller)
	}
	if f.MinRisk > 0 {
		query += ` AND highest_risk >= ?`
		args = append(args, int(f.MinRisk))
	}
	if !f.From.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, f.From)
	}
	if !f.To.IsZero() {
		query += ` AND timestamp <= ?`
		args = append(args, f.To)
	}

	query += ` ORDER BY timestamp DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	return query, args
}

// List returns records matching the filter, newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]Record, error) {
	ctx, span := tracer.Start(ctx, "evidence.list",
		trace.WithAttributes(attribute.String("batch.id", f.BatchID)))
	defer span.End()

	where, args := f.where()
	return s.queryRecords(ctx, `SELECT record_json FROM records`+where, args...)
}

func (s *Store) queryRecords(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	defer rows.Close()

	var results []Record
	for rows.Next() {
		var recordJSON string
		if err := rows.Scan(&recordJSON); err != nil {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(recordJSON), &rec); err != nil {
			continue
		}
		results = append(results, rec)
	}
	return results, rows.Err()
}

// Count returns the number of records matching the filter. Limit is ignored.
func (s *Store) Count(ctx context.Context, f Filter) (int, error) {
	ctx, span := tracer.Start(ctx, "evidence.count")
	defer span.End()

	f.Limit = 0
	where, args := f.where()
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting records: %w", err)
	}
	return n, nil
}

// CountByType returns finding counts per PII type for records in the
// half-open time range [from, to).
func (s *Store) CountByType(ctx context.Context, from, to time.Time) (map[classifier.PIIType]int, error) {
	ctx, span := tracer.Start(ctx, "evidence.count_by_type")
	defer span.End()

	query := `SELECT record_json FROM records WHERE 1=1`
	args := []any{}
	if !from.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, from)
	}
	if !to.IsZero() {
		query += ` AND timestamp < ?`
		args = append(args, to)
	}

	records, err := s.queryRecords(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	counts := make(map[classifier.PIIType]int)
	for _, rec := range records {
		for t, n := range rec.ByType {
			counts[t] += n
		}
	}
	span.SetAttributes(attribute.Int("type_count", len(counts)))
	return counts, nil
}

// Verify checks the HMAC signature integrity of a record.
func (s *Store) Verify(ctx context.Context, id string) (bool, error) {
	ctx, span := tracer.Start(ctx, "evidence.verify",
		trace.WithAttributes(attribute.String("evidence.id", id)))
	defer span.End()

	rec, err := s.Get(ctx, id)
	if err != nil {
		return false, err
	}

	signature := rec.Signature
	rec.Signature = ""

	recordJSON, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("marshaling for verification: %w", err)
	}
	return s.signer.Verify(recordJSON, signature), nil
}

// VerifyBatch checks the HMAC signature integrity of a batch report.
func (s *Store) VerifyBatch(ctx context.Context, id string) (bool, error) {
	ctx, span := tracer.Start(ctx, "evidence.verify_batch",
		trace.WithAttributes(attribute.String("batch.id", id)))
	defer span.End()

	report, err := s.GetBatch(ctx, id)
	if err != nil {
		return false, err
	}

	signature := report.Signature
	report.Signature = ""

	reportJSON, err := json.Marshal(report)
	if err != nil {
		return false, fmt.Errorf("marshaling for verification: %w", err)
	}
	return s.signer.Verify(reportJSON, signature), nil
}

// --- Progressive Disclosure Methods ---
// Record retrieval uses 3 layers for efficient audit navigation:
//
//	Layer 1 (Index):    ListIndex() -- compact summaries without findings
//	Layer 2 (Timeline): Timeline()  -- chronological context around a record
//	Layer 3 (Detail):   Get()       -- full HMAC-signed record

// Index is a lightweight summary for progressive disclosure Layer 1.
type Index struct {
	ID           string               `json:"id"`
	BatchID      string               `json:"batch_id,omitempty"`
	DocumentID   string               `json:"document_id"`
	Timestamp    time.Time            `json:"timestamp"`
	Caller       string               `json:"caller,omitempty"`
	FindingCount int                  `json:"finding_count"`
	HighestRisk  classifier.RiskLevel `json:"highest_risk,omitempty"`
	DurationMS   int64                `json:"duration_ms"`
	HasError     bool                 `json:"has_error"`
}

// ListIndex returns lightweight record summaries (Layer 1).
func (s *Store) ListIndex(ctx context.Context, f Filter) ([]Index, error) {
	ctx, span := tracer.Start(ctx, "evidence.list_index",
		trace.WithAttributes(attribute.String("batch.id", f.BatchID)))
	defer span.End()

	records, err := s.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("querying evidence index: %w", err)
	}
	results := make([]Index, 0, len(records))
	for i := range records {
		results = append(results, toIndex(&records[i]))
	}

	span.SetAttributes(attribute.Int("evidence.index_count", len(results)))
	return results, nil
}

// Timeline returns chronological context around a specific record (Layer 2).
func (s *Store) Timeline(ctx context.Context, aroundID string, before, after int) ([]Index, error) {
	ctx, span := tracer.Start(ctx, "evidence.timeline",
		trace.WithAttributes(
			attribute.String("around_id", aroundID),
			attribute.Int("before", before),
			attribute.Int("after", after),
		))
	defer span.End()

	target, err := s.Get(ctx, aroundID)
	if err != nil {
		return nil, fmt.Errorf("finding target record: %w", err)
	}

	// Collect entries before the target (earlier timestamps)
	beforeEntries, err := s.queryRecords(ctx, `SELECT record_json FROM records
	                WHERE timestamp < ?
	                ORDER BY timestamp DESC LIMIT ?`, target.Timestamp, before)
	if err != nil {
		return nil, fmt.Errorf("querying before timeline: %w", err)
	}

	// Reverse to chronological order
	var results []Index
	for i := len(beforeEntries) - 1; i >= 0; i-- {
		results = append(results, toIndex(&beforeEntries[i]))
	}

	results = append(results, toIndex(target))

	afterEntries, err := s.queryRecords(ctx, `SELECT record_json FROM records
	               WHERE timestamp > ?
	               ORDER BY timestamp ASC LIMIT ?`, target.Timestamp, after)
	if err != nil {
		return nil, fmt.Errorf("querying after timeline: %w", err)
	}
	for i := range afterEntries {
		results = append(results, toIndex(&afterEntries[i]))
	}

	span.SetAttributes(attribute.Int("evidence.timeline_count", len(results)))
	return results, nil
}

// BatchSummary is a compact listing entry for stored batches.
type BatchSummary struct {
	ID             string    `json:"id"`
	Timestamp      time.Time `json:"timestamp"`
	TotalDocuments int       `json:"total_documents"`
	TotalFindings  int       `json:"total_findings"`
}

// ListBatches returns stored batches, newest first.
func (s *Store) ListBatches(ctx context.Context, limit int) ([]BatchSummary, error) {
	ctx, span := tracer.Start(ctx, "evidence.list_batches")
	defer span.End()

	query := `SELECT id, timestamp, total_documents, total_findings FROM batches ORDER BY timestamp DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying batches: %w", err)
	}
	defer rows.Close()

	var out []BatchSummary
	for rows.Next() {
		var b BatchSummary
		if err := rows.Scan(&b.ID, &b.Timestamp, &b.TotalDocuments, &b.TotalFindings); err != nil {
			return nil, fmt.Errorf("scanning batch: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// toIndex projects a full Record into a lightweight Index.
func toIndex(full *Record) Index {
	return Index{
		ID:           full.ID,
		BatchID:      full.BatchID,
		DocumentID:   full.DocumentID,
		Timestamp:    full.Timestamp,
		Caller:       full.Caller,
		FindingCount: full.FindingCount,
		HighestRisk:  full.HighestRisk,
		DurationMS:   full.DurationMS,
		HasError:     full.Error != "",
	}
}
