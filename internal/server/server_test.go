package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dativo-io/tarja/internal/testutil"
)

const (
	ombudsmanKey = "k-ombudsman"
	sicKey       = "k-sic"
	sampleText   = "A requerente Maria Souza, CPF 123.456.789-09, mora em Taguatinga."
)

var testKeys = map[string]string{ombudsmanKey: "ouvidoria", sicKey: "sic"}

func newTestServer(t *testing.T, withStore bool, opts ...Option) http.Handler {
	t.Helper()
	if withStore {
		opts = append(opts, WithEvidenceStore(testutil.NewTestEvidenceStore(t)))
	}
	return NewServer(testutil.NewTestPipeline(t), testKeys, opts...).Routes()
}

func do(t *testing.T, h http.Handler, method, path, key string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if key != "" {
		req.Header.Set("X-Tarja-Key", key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func TestHealthEndpoint(t *testing.T) {
	h := newTestServer(t, false)

	rec := do(t, h, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, "ok", out["status"])
	assert.Equal(t, "static", out["ner_model"])
}

func TestHealthDetail(t *testing.T) {
	h := newTestServer(t, true)

	rec := do(t, h, http.MethodGet, "/v1/health?detail=true", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	comp, _ := decode(t, rec)["components"].(map[string]interface{})
	require.NotNil(t, comp)
	assert.Equal(t, "ok", comp["evidence_store"])
	assert.Equal(t, "ok", comp["pipeline"])
	assert.Equal(t, "disabled", comp["rate_limit"])
}

func TestAuthMiddlewareRejectsMissingKey(t *testing.T) {
	h := newTestServer(t, true)

	rec := do(t, h, http.MethodGet, "/v1/evidence", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", decode(t, rec)["error"])
}

func TestAuthMiddlewareRejectsUnknownKey(t *testing.T) {
	h := newTestServer(t, true)

	rec := do(t, h, http.MethodPost, "/v1/scan", "wrong", map[string]string{"text": sampleText})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddlewareAcceptsBearer(t *testing.T) {
	h := newTestServer(t, true)

	req := httptest.NewRequest(http.MethodGet, "/v1/evidence?limit=1", nil)
	req.Header.Set("Authorization", "Bearer "+ombudsmanKey)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestScanEndpoint(t *testing.T) {
	h := newTestServer(t, false)

	rec := do(t, h, http.MethodPost, "/v1/scan", ombudsmanKey, map[string]string{"text": sampleText})
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.EqualValues(t, 3, out["finding_count"])
	findings, _ := out["findings"].([]interface{})
	require.Len(t, findings, 3)
	cpf, _ := findings[1].(map[string]interface{})
	assert.Equal(t, "NATIONAL_ID", cpf["type"])
	assert.Equal(t, "123.456.789-09", cpf["value"])
	assert.Equal(t, []interface{}{30.0, 44.0}, cpf["span"])
}

func TestScanEndpoint_NoFindings(t *testing.T) {
	h := newTestServer(t, false)

	rec := do(t, h, http.MethodPost, "/v1/scan", ombudsmanKey, map[string]string{"text": "Nada a declarar."})
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.EqualValues(t, 0, out["finding_count"])
	assert.Equal(t, []interface{}{}, out["findings"])
}

func TestRedactEndpoint_InvalidJSON(t *testing.T) {
	h := newTestServer(t, false)

	rec := do(t, h, http.MethodPost, "/v1/redact", ombudsmanKey, "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", decode(t, rec)["error"])
}

func TestRedactEndpoint_BodyTooLarge(t *testing.T) {
	h := newTestServer(t, false, WithMaxBodyBytes(16))

	rec := do(t, h, http.MethodPost, "/v1/redact", ombudsmanKey, map[string]string{"text": sampleText})
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestRedactEndpoint_WithoutStore(t *testing.T) {
	h := newTestServer(t, false)

	rec := do(t, h, http.MethodPost, "/v1/redact", ombudsmanKey, map[string]string{"id": "p1", "text": sampleText})
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, "p1", out["document_id"])
	assert.Equal(t,
		"A requerente [PERSON_NAME OMITIDO], CPF [NATIONAL_ID OMITIDO], mora em [LOCATION OMITIDO].",
		out["redacted_text"])
	assert.NotContains(t, out, "evidence_id")

	rec = do(t, h, http.MethodGet, "/v1/evidence", ombudsmanKey, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "evidence_disabled", decode(t, rec)["error"])
}

func TestRedactEndpoint_PersistsEvidence(t *testing.T) {
	h := newTestServer(t, true)

	rec := do(t, h, http.MethodPost, "/v1/redact", ombudsmanKey, map[string]string{"id": "p1", "text": sampleText})
	require.Equal(t, http.StatusOK, rec.Code)
	id, _ := decode(t, rec)["evidence_id"].(string)
	require.True(t, strings.HasPrefix(id, "doc_"), "evidence id %q", id)

	rec = do(t, h, http.MethodGet, "/v1/evidence/"+id, ombudsmanKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.NotContains(t, body, "123.456.789-09", "stored evidence must not carry PII")
	assert.NotContains(t, body, "Maria Souza")
	assert.Contains(t, body, "sha256:")
}

func TestEvidenceEndpoints(t *testing.T) {
	h := newTestServer(t, true)

	rec := do(t, h, http.MethodPost, "/v1/redact", ombudsmanKey, map[string]string{"id": "p1", "text": sampleText})
	require.Equal(t, http.StatusOK, rec.Code)
	id, _ := decode(t, rec)["evidence_id"].(string)

	t.Run("get", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/v1/evidence/"+id, ombudsmanKey, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		out := decode(t, rec)
		assert.Equal(t, "p1", out["document_id"])
		assert.Equal(t, "ouvidoria", out["caller"])
		assert.EqualValues(t, 3, out["finding_count"])
	})

	t.Run("verify", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/v1/evidence/"+id+"/verify", ombudsmanKey, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		out := decode(t, rec)
		assert.Equal(t, true, out["valid"])
		assert.Len(t, out["key_id"], 8)
	})

	t.Run("list", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/v1/evidence?min_risk=HIGH", ombudsmanKey, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		out := decode(t, rec)
		assert.Equal(t, "index", out["layer"])
		entries, _ := out["entries"].([]interface{})
		assert.Len(t, entries, 1)
	})

	t.Run("list invalid risk", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/v1/evidence?min_risk=SEVERE", ombudsmanKey, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("timeline", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/v1/evidence/timeline?around="+id, ombudsmanKey, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		entries, _ := decode(t, rec)["entries"].([]interface{})
		assert.Len(t, entries, 1)
	})

	t.Run("timeline requires around", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/v1/evidence/timeline", ombudsmanKey, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("other caller cannot see the record", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/v1/evidence/"+id, sicKey, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)

		rec = do(t, h, http.MethodGet, "/v1/evidence", sicKey, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		entries, _ := decode(t, rec)["entries"].([]interface{})
		assert.Empty(t, entries)
	})

	t.Run("unknown id", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/v1/evidence/doc_missing", ombudsmanKey, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("export csv", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/v1/evidence/export", ombudsmanKey, map[string]string{"format": "csv"})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
		lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
		require.Len(t, lines, 2)
		assert.True(t, strings.HasPrefix(lines[0], "id,batch_id,document_id"))
		assert.Contains(t, lines[1], "LOCATION;NATIONAL_ID;PERSON_NAME")
	})

	t.Run("export json", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/v1/evidence/export", ombudsmanKey, map[string]string{})
		require.Equal(t, http.StatusOK, rec.Code)
		var records []map[string]interface{}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&records))
		require.Len(t, records, 1)
		assert.Equal(t, "HIGH", records[0]["highest_risk"])
	})

	t.Run("export bad format", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/v1/evidence/export", ombudsmanKey, map[string]string{"format": "xml"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("stats", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/v1/stats", ombudsmanKey, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		out := decode(t, rec)
		assert.EqualValues(t, 1, out["records"])
		assert.EqualValues(t, 0, out["failed"])
		byType, _ := out["findings_by_type"].(map[string]interface{})
		assert.EqualValues(t, 1, byType["NATIONAL_ID"])
		assert.EqualValues(t, 1, byType["PERSON_NAME"])
	})
}

func TestBatchEndpoint(t *testing.T) {
	h := newTestServer(t, true)

	body := map[string]interface{}{
		"documents": []map[string]string{
			{"id": "a", "text": sampleText},
			{"text": "Sem dados pessoais."},
			{"id": "c", "text": "Contato: sara.santos@email.com"},
		},
	}
	rec := do(t, h, http.MethodPost, "/v1/batch", ombudsmanKey, body)
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)

	report, _ := out["report"].(map[string]interface{})
	require.NotNil(t, report)
	assert.EqualValues(t, 3, report["total_documents"])
	assert.EqualValues(t, 2, report["documents_with_findings"])
	assert.EqualValues(t, 4, report["total_findings"])
	assert.Equal(t, "ouvidoria", report["caller"])
	batchID, _ := report["id"].(string)

	results, _ := out["results"].([]interface{})
	require.Len(t, results, 3)
	second, _ := results[1].(map[string]interface{})
	assert.Equal(t, "1", second["document_id"], "missing ids default to the input position")
	third, _ := results[2].(map[string]interface{})
	assert.Equal(t, "Contato: [EMAIL OMITIDO]", third["redacted_text"])

	rec = do(t, h, http.MethodGet, "/v1/batches", ombudsmanKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	batches, _ := decode(t, rec)["batches"].([]interface{})
	require.Len(t, batches, 1)

	rec = do(t, h, http.MethodGet, "/v1/batches/"+batchID+"/verify", ombudsmanKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["valid"])

	rec = do(t, h, http.MethodGet, "/v1/batches/"+batchID, sicKey, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/v1/evidence?batch_id="+batchID, ombudsmanKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries, _ := decode(t, rec)["entries"].([]interface{})
	assert.Len(t, entries, 2, "only documents with findings or errors are recorded")
}

func TestBatchEndpoint_Empty(t *testing.T) {
	h := newTestServer(t, true)

	rec := do(t, h, http.MethodPost, "/v1/batch", ombudsmanKey, map[string]interface{}{"documents": []string{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRateLimitMiddleware(t *testing.T) {
	h := newTestServer(t, false, WithRateLimiter(NewRateLimiter(1000, 1)))

	rec := do(t, h, http.MethodPost, "/v1/scan", ombudsmanKey, map[string]string{"text": "x"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodPost, "/v1/scan", ombudsmanKey, map[string]string{"text": "x"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	rec = do(t, h, http.MethodPost, "/v1/scan", sicKey, map[string]string{"text": "x"})
	assert.Equal(t, http.StatusOK, rec.Code, "callers have separate buckets")
}

func TestCORSPreflight(t *testing.T) {
	h := newTestServer(t, false, WithCORSOrigins([]string{"https://portal.gov.br"}))

	req := httptest.NewRequest(http.MethodOptions, "/health", nil)
	req.Header.Set("Origin", "https://portal.gov.br")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://portal.gov.br", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "X-Tarja-Key")
}
