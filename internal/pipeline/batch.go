package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/dativo-io/tarja/internal/evidence"
	tarjaotel "github.com/dativo-io/tarja/internal/otel"
	"github.com/dativo-io/tarja/internal/redact"
	"github.com/dativo-io/tarja/internal/requestctx"
)

// BatchResult is the outcome of a batch run. Results is indexed like the
// input; a document whose detection failed has a nil result and its error
// recorded in the report.
type BatchResult struct {
	Report  *evidence.BatchReport
	Results []*redact.Result
}

// Batch processes docs on a bounded worker pool and aggregates the per
// document records into a consolidated report once every worker is done.
// A failing document does not stop the others; only context cancellation
// aborts the batch.
func (p *Pipeline) Batch(ctx context.Context, docs []Document) (*BatchResult, error) {
	ctx, span := tracer.Start(ctx, "pipeline.batch",
		trace.WithAttributes(
			attribute.Int("batch.documents", len(docs)),
			attribute.Int("batch.workers", p.workers),
		))
	defer span.End()

	start := time.Now()
	results := make([]*redact.Result, len(docs))
	records := make([]evidence.Record, len(docs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i := range docs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, rec, err := p.Audited(gctx, docs[i])
			if err != nil && gctx.Err() != nil {
				return gctx.Err()
			}
			results[i] = res
			records[i] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	report := evidence.NewBatchReport(records, time.Since(start), p.now())
	report.Caller = requestctx.Caller(ctx)

	span.SetAttributes(
		tarjaotel.BatchID.String(report.ID),
		attribute.Int("batch.total_findings", report.TotalFindings),
		attribute.Int("batch.failed_documents", report.FailedDocuments),
	)
	log.Info().
		Str("batch_id", report.ID).
		Int("documents", report.TotalDocuments).
		Int("with_findings", report.DocumentsWithFindings).
		Int("findings", report.TotalFindings).
		Int("failed", report.FailedDocuments).
		Int64("elapsed_ms", report.ElapsedMS).
		Func(tarjaotel.LogTraceFields(ctx)).
		Msg("batch_completed")

	return &BatchResult{Report: report, Results: results}, nil
}
