package evidence

import "github.com/dativo-io/tarja/internal/classifier"

// SanitizeForEvidence returns a copy of rec whose finding values are replaced
// by their sha256 hash. Persisted records never carry PII verbatim; the hash
// still lets an auditor confirm a known value was flagged.
func SanitizeForEvidence(rec Record) Record {
	out := rec
	out.Findings = make([]classifier.Finding, len(rec.Findings))
	for i, f := range rec.Findings {
		f.Value = hashValue(f.Value)
		out.Findings[i] = f
	}
	if rec.ByType != nil {
		out.ByType = make(map[classifier.PIIType]int, len(rec.ByType))
		for k, v := range rec.ByType {
			out.ByType[k] = v
		}
	}
	return out
}

// hashValue is idempotent so that sanitizing an already stored record is a no-op.
func hashValue(v string) string {
	if len(v) == len("sha256:")+64 && v[:7] == "sha256:" {
		return v
	}
	return hashString(v)
}
