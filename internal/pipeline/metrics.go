package pipeline

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/dativo-io/tarja/internal/evidence"
	tarjaotel "github.com/dativo-io/tarja/internal/otel"
)

var meter = otel.Meter("github.com/dativo-io/tarja/internal/pipeline")

var (
	documentsTotal metric.Int64Counter
	findingsTotal  metric.Int64Counter
)

func init() {
	var err error
	documentsTotal, err = meter.Int64Counter("tarja.documents.total",
		metric.WithDescription("Documents processed by the redaction pipeline"))
	if err != nil {
		documentsTotal, _ = meter.Int64Counter("tarja.documents.total.fallback")
	}
	findingsTotal, err = meter.Int64Counter("tarja.findings.total",
		metric.WithDescription("Resolved PII findings by type"))
	if err != nil {
		findingsTotal, _ = meter.Int64Counter("tarja.findings.total.fallback")
	}
}

func recordDocument(ctx context.Context, rec evidence.Record) {
	status := "ok"
	if rec.Error != "" {
		status = "error"
	}
	documentsTotal.Add(ctx, 1, metric.WithAttributes(tarjaotel.Status.String(status)))
	for t, n := range rec.ByType {
		findingsTotal.Add(ctx, int64(n), metric.WithAttributes(tarjaotel.PIIType.String(string(t))))
	}
}
