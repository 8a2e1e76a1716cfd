package evidence

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dativo-io/tarja/internal/classifier"
)

const testSigningKey = "test-signing-key-1234567890123456"

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	store, err := NewStore(filepath.Join(dir, "evidence.db"), testSigningKey)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func storeRecord(t *testing.T, store *Store, docID string, ts time.Time, findings []classifier.Finding) *Record {
	t.Helper()
	rec := NewRecord(RecordParams{
		DocumentID:   docID,
		Caller:       "cli",
		Findings:     findings,
		InputText:    "texto " + docID,
		RedactedText: "redigido " + docID,
		Timestamp:    ts,
	})
	require.NoError(t, store.Store(context.Background(), &rec))
	return &rec
}

func TestNewStore_RejectsShortKey(t *testing.T) {
	_, err := NewStore(filepath.Join(t.TempDir(), "e.db"), "short")
	assert.Error(t, err)
}

func TestStoreAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := storeRecord(t, store, "pedido-1.txt", testTime, sampleFindings())
	assert.True(t, strings.HasPrefix(rec.Signature, SignaturePrefix))

	got, err := store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, "pedido-1.txt", got.DocumentID)
	assert.Equal(t, 3, got.FindingCount)
	assert.Equal(t, classifier.RiskHigh, got.HighestRisk)
	require.Len(t, got.Findings, 3)
	assert.Equal(t, 5, got.Findings[0].Start)
	assert.Equal(t, 19, got.Findings[0].End)
}

func TestStore_NeverPersistsValues(t *testing.T) {
	store := newTestStore(t)
	rec := storeRecord(t, store, "a", testTime, sampleFindings())

	var raw string
	require.NoError(t, store.db.QueryRow(`SELECT record_json FROM records WHERE id = ?`, rec.ID).Scan(&raw))
	assert.NotContains(t, raw, "123.456.789-09")
	assert.NotContains(t, raw, "joao@gov.br")
	assert.Contains(t, raw, hashString("123.456.789-09"))
}

func TestGet_NotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Get(context.Background(), "doc_missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = store.GetBatch(context.Background(), "batch_missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestVerifySignature(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	rec := storeRecord(t, store, "a", testTime, sampleFindings())

	valid, err := store.Verify(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestVerify_DetectsTampering(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	rec := storeRecord(t, store, "a", testTime, sampleFindings())

	var raw string
	require.NoError(t, store.db.QueryRow(`SELECT record_json FROM records WHERE id = ?`, rec.ID).Scan(&raw))
	tampered := strings.Replace(raw, `"finding_count":3`, `"finding_count":0`, 1)
	require.NotEqual(t, raw, tampered)
	_, err := store.db.Exec(`UPDATE records SET record_json = ? WHERE id = ?`, tampered, rec.ID)
	require.NoError(t, err)

	valid, err := store.Verify(ctx, rec.ID)
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestVerify_WrongKey(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "evidence.db")
	store, err := NewStore(dbPath, testSigningKey)
	require.NoError(t, err)
	rec := storeRecord(t, store, "a", testTime, nil)
	require.NoError(t, store.Close())

	other, err := NewStore(dbPath, "another-signing-key-0123456789abcdef")
	require.NoError(t, err)
	defer other.Close()
	assert.NotEqual(t, store.KeyID(), other.KeyID())

	valid, err := other.Verify(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestStoreBatch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	records := []Record{
		NewRecord(RecordParams{DocumentID: "a", Findings: sampleFindings(), Timestamp: testTime}),
		NewRecord(RecordParams{DocumentID: "b", Timestamp: testTime}),
	}
	report := NewBatchReport(records, time.Second, testTime)

	stored, err := store.StoreBatch(ctx, report)
	require.NoError(t, err)
	assert.NotEmpty(t, stored.Signature)
	assert.Empty(t, report.Signature, "caller's report is not modified")
	assert.Equal(t, "123.456.789-09", report.Records[0].Findings[0].Value)
	assert.Equal(t, hashString("123.456.789-09"), stored.Records[0].Findings[0].Value)

	got, err := store.GetBatch(ctx, report.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.TotalDocuments)
	assert.Equal(t, 1, got.DocumentsWithFindings)
	require.Len(t, got.Records, 1)

	valid, err := store.VerifyBatch(ctx, report.ID)
	require.NoError(t, err)
	assert.True(t, valid)

	// only documents with findings are persisted as records
	listed, err := store.List(ctx, Filter{BatchID: report.ID})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "a", listed[0].DocumentID)

	recValid, err := store.Verify(ctx, listed[0].ID)
	require.NoError(t, err)
	assert.True(t, recValid)

	batches, err := store.ListBatches(ctx, 10)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, report.ID, batches[0].ID)
	assert.Equal(t, 3, batches[0].TotalFindings)
}

func TestStoreBatch_DuplicateRollsBack(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	report := NewBatchReport([]Record{
		NewRecord(RecordParams{DocumentID: "a", Findings: sampleFindings(), Timestamp: testTime}),
	}, 0, testTime)

	_, err := store.StoreBatch(ctx, report)
	require.NoError(t, err)
	_, err = store.StoreBatch(ctx, report)
	assert.Error(t, err)

	n, err := store.Count(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestListAndFilter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	storeRecord(t, store, "a", testTime, sampleFindings()[:1])
	storeRecord(t, store, "b", testTime.Add(time.Hour), sampleFindings()[1:])
	storeRecord(t, store, "c", testTime.Add(2*time.Hour), nil)

	all, err := store.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].DocumentID, "newest first")

	limited, err := store.List(ctx, Filter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	high, err := store.List(ctx, Filter{MinRisk: classifier.RiskHigh})
	require.NoError(t, err)
	require.Len(t, high, 1)
	assert.Equal(t, "a", high[0].DocumentID)

	byDoc, err := store.List(ctx, Filter{DocumentID: "b"})
	require.NoError(t, err)
	require.Len(t, byDoc, 1)

	ranged, err := store.List(ctx, Filter{From: testTime.Add(30 * time.Minute), To: testTime.Add(90 * time.Minute)})
	require.NoError(t, err)
	require.Len(t, ranged, 1)
	assert.Equal(t, "b", ranged[0].DocumentID)

	n, err := store.Count(ctx, Filter{Caller: "cli", Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestCountByType(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	storeRecord(t, store, "a", testTime, sampleFindings())
	storeRecord(t, store, "b", testTime.Add(24*time.Hour), sampleFindings()[:1])

	counts, err := store.CountByType(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 2, counts[classifier.NationalID])
	assert.Equal(t, 2, counts[classifier.Email])

	firstDay, err := store.CountByType(ctx, testTime, testTime.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, firstDay[classifier.NationalID])
}

func TestListIndex(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	storeRecord(t, store, "a", testTime, sampleFindings())
	failed := NewRecord(RecordParams{DocumentID: "b", Error: errors.New("boom"), Timestamp: testTime.Add(time.Minute)})
	require.NoError(t, store.Store(ctx, &failed))

	index, err := store.ListIndex(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, index, 2)
	assert.Equal(t, "b", index[0].DocumentID)
	assert.True(t, index[0].HasError)
	assert.Equal(t, 3, index[1].FindingCount)
	assert.Equal(t, classifier.RiskHigh, index[1].HighestRisk)
}

func TestTimeline(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var ids []string
	for i, doc := range []string{"a", "b", "c", "d", "e"} {
		rec := storeRecord(t, store, doc, testTime.Add(time.Duration(i)*time.Minute), nil)
		ids = append(ids, rec.ID)
	}

	timeline, err := store.Timeline(ctx, ids[2], 1, 1)
	require.NoError(t, err)
	require.Len(t, timeline, 3)
	assert.Equal(t, "b", timeline[0].DocumentID)
	assert.Equal(t, "c", timeline[1].DocumentID)
	assert.Equal(t, "d", timeline[2].DocumentID)

	_, err = store.Timeline(ctx, "doc_missing", 1, 1)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSigner(t *testing.T) {
	s, err := NewSigner(testSigningKey)
	require.NoError(t, err)

	sig, err := s.Sign([]byte("payload"))
	require.NoError(t, err)
	assert.True(t, s.Verify([]byte("payload"), sig))
	assert.False(t, s.Verify([]byte("payload2"), sig))
	assert.False(t, s.Verify([]byte("payload"), strings.TrimPrefix(sig, SignaturePrefix)))
	assert.Len(t, s.KeyID(), 8)
}

func TestResolveSigningKey_Hex(t *testing.T) {
	hexKey := strings.Repeat("ab", 32)
	key, err := ResolveSigningKey(hexKey)
	require.NoError(t, err)
	assert.Len(t, key, 32)

	_, err = ResolveSigningKey(strings.Repeat("a", 31))
	assert.Error(t, err)
}
