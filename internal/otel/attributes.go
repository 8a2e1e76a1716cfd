package otel

import (
	"go.opentelemetry.io/otel/attribute"
)

// Span and metric attribute keys for detection and redaction.
const (
	DocumentID   = attribute.Key("document.id")
	BatchID      = attribute.Key("batch.id")
	NERModel     = attribute.Key("ner.model")
	PIIType      = attribute.Key("pii.type")
	FindingCount = attribute.Key("pii.finding_count")
	HighestRisk  = attribute.Key("pii.highest_risk")
	Status       = attribute.Key("status")
)

// DocumentAttributes describes a processed document on its span.
func DocumentAttributes(documentID, model string) []attribute.KeyValue {
	return []attribute.KeyValue{
		DocumentID.String(documentID),
		NERModel.String(model),
	}
}

// FindingAttributes summarizes the outcome of detection. highestRisk is
// omitted when empty.
func FindingAttributes(count int, highestRisk string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{FindingCount.Int(count)}
	if highestRisk != "" {
		attrs = append(attrs, HighestRisk.String(highestRisk))
	}
	return attrs
}
