package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/dativo-io/tarja/internal/classifier"
	"github.com/dativo-io/tarja/internal/evidence"
	tarjaotel "github.com/dativo-io/tarja/internal/otel"
	"github.com/dativo-io/tarja/internal/pipeline"
	"github.com/dativo-io/tarja/internal/redact"
	"github.com/dativo-io/tarja/internal/requestctx"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "too_large", "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON: "+err.Error())
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":    "ok",
		"uptime":    time.Since(s.startTime).String(),
		"ner_model": s.pipeline.Model(),
	}
	if r.URL.Query().Get("detail") == "true" {
		components := map[string]string{"pipeline": "ok"}
		switch {
		case s.evidenceStore == nil:
			components["evidence_store"] = "disabled"
		case s.evidenceStore.Ping(r.Context()) != nil:
			components["evidence_store"] = "unavailable"
		default:
			components["evidence_store"] = "ok"
		}
		if s.limiter == nil {
			components["rate_limit"] = "disabled"
		} else {
			components["rate_limit"] = "ok"
		}
		resp["components"] = components
	}
	writeJSON(w, http.StatusOK, resp)
}

type scanRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if !decodeBody(w, r, &req) {
		return
	}
	findings, err := s.pipeline.Scan(r.Context(), req.Text)
	if err != nil {
		writeDetectionError(w, r.Context(), err)
		return
	}
	if findings == nil {
		findings = []classifier.Finding{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"finding_count": len(findings),
		"findings":      findings,
	})
}

type redactRequest struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type redactResponse struct {
	*redact.Result
	EvidenceID string `json:"evidence_id,omitempty"`
}

func (s *Server) handleRedact(w http.ResponseWriter, r *http.Request) {
	var req redactRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ID == "" {
		req.ID = middleware.GetReqID(r.Context())
	}

	res, rec, err := s.pipeline.Audited(r.Context(), pipeline.Document{ID: req.ID, Text: req.Text})
	evidenceID := ""
	if s.evidenceStore != nil {
		if storeErr := s.evidenceStore.Store(r.Context(), &rec); storeErr != nil {
			log.Error().Err(storeErr).Str("document_id", req.ID).Func(tarjaotel.LogTraceFields(r.Context())).Msg("evidence_store_failed")
			writeError(w, http.StatusInternalServerError, "internal", "storing evidence failed")
			return
		}
		evidenceID = rec.ID
	}
	if err != nil {
		writeDetectionError(w, r.Context(), err)
		return
	}
	writeJSON(w, http.StatusOK, redactResponse{Result: res, EvidenceID: evidenceID})
}

type batchRequest struct {
	Documents []pipeline.Document `json:"documents"`
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Documents) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "documents is required")
		return
	}
	if len(req.Documents) > maxBatchDocuments {
		writeError(w, http.StatusBadRequest, "invalid_request",
			fmt.Sprintf("at most %d documents per batch", maxBatchDocuments))
		return
	}
	for i := range req.Documents {
		if req.Documents[i].ID == "" {
			req.Documents[i].ID = strconv.Itoa(i)
		}
	}

	out, err := s.pipeline.Batch(r.Context(), req.Documents)
	if err != nil {
		log.Warn().Err(err).Func(tarjaotel.LogTraceFields(r.Context())).Msg("batch_aborted")
		writeError(w, http.StatusServiceUnavailable, "batch_aborted", err.Error())
		return
	}
	if s.evidenceStore != nil {
		if _, err := s.evidenceStore.StoreBatch(r.Context(), out.Report); err != nil {
			log.Error().Err(err).Str("batch_id", out.Report.ID).Msg("evidence_store_failed")
			writeError(w, http.StatusInternalServerError, "internal", "storing evidence failed")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"report":  out.Report,
		"results": out.Results,
	})
}

func writeDetectionError(w http.ResponseWriter, ctx context.Context, err error) {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		writeError(w, http.StatusGatewayTimeout, "timeout", err.Error())
		return
	}
	log.Warn().Err(err).Func(tarjaotel.LogTraceFields(ctx)).Msg("detection_failed")
	writeError(w, http.StatusBadGateway, "detection_failed", err.Error())
}

// evidenceFilter reads the list query parameters. Results are always scoped
// to the authenticated caller.
func evidenceFilter(r *http.Request, defaultLimit int) (evidence.Filter, error) {
	q := r.URL.Query()
	f := evidence.Filter{
		BatchID:    q.Get("batch_id"),
		DocumentID: q.Get("document_id"),
		Caller:     requestctx.Caller(r.Context()),
		Limit:      defaultLimit,
	}
	if l, err := strconv.Atoi(q.Get("limit")); err == nil && l > 0 {
		f.Limit = l
	}
	if v := q.Get("min_risk"); v != "" {
		level, err := classifier.ParseRiskLevel(v)
		if err != nil {
			return f, err
		}
		f.MinRisk = level
	}
	var err error
	if f.From, err = parseTime(q.Get("from")); err != nil {
		return f, err
	}
	if f.To, err = parseTime(q.Get("to")); err != nil {
		return f, err
	}
	return f, nil
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: want RFC3339", v)
	}
	return t, nil
}

func (s *Server) handleEvidenceList(w http.ResponseWriter, r *http.Request) {
	f, err := evidenceFilter(r, 50)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	entries, err := s.evidenceStore.ListIndex(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	if entries == nil {
		entries = []evidence.Index{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"layer":   "index",
		"entries": entries,
		"hint":    "use GET /v1/evidence/timeline?around=<id> or GET /v1/evidence/<id> for more",
	})
}

func (s *Server) handleEvidenceTimeline(w http.ResponseWriter, r *http.Request) {
	around := r.URL.Query().Get("around")
	if around == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "around query parameter is required")
		return
	}
	if _, ok := s.ownedRecord(w, r, around); !ok {
		return
	}
	before, _ := strconv.Atoi(r.URL.Query().Get("before"))
	if before <= 0 {
		before = 3
	}
	after, _ := strconv.Atoi(r.URL.Query().Get("after"))
	if after <= 0 {
		after = 3
	}
	entries, err := s.evidenceStore.Timeline(r.Context(), around, before, after)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	caller := requestctx.Caller(r.Context())
	own := make([]evidence.Index, 0, len(entries))
	for _, e := range entries {
		if e.Caller == caller {
			own = append(own, e)
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"layer":   "timeline",
		"around":  around,
		"before":  before,
		"after":   after,
		"entries": own,
		"hint":    "use GET /v1/evidence/<id> for full detail",
	})
}

// ownedRecord loads id and hides records of other callers behind a 404.
func (s *Server) ownedRecord(w http.ResponseWriter, r *http.Request, id string) (*evidence.Record, bool) {
	rec, err := s.evidenceStore.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, evidence.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", err.Error())
		} else {
			writeError(w, http.StatusInternalServerError, "internal", err.Error())
		}
		return nil, false
	}
	if rec.Caller != requestctx.Caller(r.Context()) {
		writeError(w, http.StatusNotFound, "not_found", "record "+id+": "+evidence.ErrNotFound.Error())
		return nil, false
	}
	return rec, true
}

func (s *Server) handleEvidenceGet(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.ownedRecord(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleEvidenceVerify(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.ownedRecord(w, r, id); !ok {
		return
	}
	valid, err := s.evidenceStore.Verify(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"id": id, "valid": valid, "key_id": s.evidenceStore.KeyID()})
}

type evidenceExportRequest struct {
	BatchID string `json:"batch_id"`
	From    string `json:"from"`
	To      string `json:"to"`
	Limit   int    `json:"limit"`
	Format  string `json:"format"` // csv | json
}

func (s *Server) handleEvidenceExport(w http.ResponseWriter, r *http.Request) {
	var req evidenceExportRequest
	if !decodeBody(w, r, &req) {
		return
	}
	format := req.Format
	if format == "" {
		format = "json"
	}
	if format != "csv" && format != "json" {
		writeError(w, http.StatusBadRequest, "invalid_request", "format must be csv or json")
		return
	}
	f := evidence.Filter{
		BatchID: req.BatchID,
		Caller:  requestctx.Caller(r.Context()),
		Limit:   req.Limit,
	}
	if f.Limit <= 0 {
		f.Limit = 1000
	}
	var err error
	if f.From, err = parseTime(req.From); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if f.To, err = parseTime(req.To); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	list, err := s.evidenceStore.List(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	records := make([]evidence.ExportRecord, len(list))
	for i := range list {
		records[i] = evidence.ToExportRecord(&list[i])
	}
	if format == "csv" {
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_ = evidence.WriteCSV(w, records)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = evidence.WriteJSON(w, records)
}

func (s *Server) handleBatchList(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 20
	}
	batches, err := s.evidenceStore.ListBatches(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	if batches == nil {
		batches = []evidence.BatchSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"batches": batches})
}

func (s *Server) ownedBatch(w http.ResponseWriter, r *http.Request, id string) (*evidence.BatchReport, bool) {
	report, err := s.evidenceStore.GetBatch(r.Context(), id)
	if err != nil {
		if errors.Is(err, evidence.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", err.Error())
		} else {
			writeError(w, http.StatusInternalServerError, "internal", err.Error())
		}
		return nil, false
	}
	if report.Caller != requestctx.Caller(r.Context()) {
		writeError(w, http.StatusNotFound, "not_found", "batch "+id+": "+evidence.ErrNotFound.Error())
		return nil, false
	}
	return report, true
}

func (s *Server) handleBatchGet(w http.ResponseWriter, r *http.Request) {
	report, ok := s.ownedBatch(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleBatchVerify(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.ownedBatch(w, r, id); !ok {
		return
	}
	valid, err := s.evidenceStore.VerifyBatch(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"id": id, "valid": valid, "key_id": s.evidenceStore.KeyID()})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	from, err := parseTime(r.URL.Query().Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	to, err := parseTime(r.URL.Query().Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	caller := requestctx.Caller(r.Context())
	total, err := s.evidenceStore.Count(r.Context(), evidence.Filter{Caller: caller, From: from, To: to})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	failed := 0
	byType := make(map[classifier.PIIType]int)
	records, err := s.evidenceStore.List(r.Context(), evidence.Filter{Caller: caller, From: from, To: to})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	for _, rec := range records {
		if rec.Error != "" {
			failed++
		}
		for t, n := range rec.ByType {
			byType[t] += n
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"records":          total,
		"failed":           failed,
		"findings_by_type": byType,
	})
}
