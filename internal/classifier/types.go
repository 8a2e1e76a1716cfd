// Package classifier implements the rule layer of the PII pipeline: a
// registry of regex recognizers with checksum validators and noise filters,
// plus the PII taxonomy and risk levels shared by every other layer.
package classifier

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// PIIType is one entry of the closed PII taxonomy.
type PIIType string

// The PII taxonomy. Rule recognizers produce the first seven types; the
// statistical layer produces PERSON_NAME and LOCATION.
const (
	NationalID PIIType = "NATIONAL_ID"
	StateID    PIIType = "STATE_ID"
	Address    PIIType = "ADDRESS"
	PostalCode PIIType = "POSTAL_CODE"
	Email      PIIType = "EMAIL"
	Phone      PIIType = "PHONE"
	CardNumber PIIType = "CARD_NUMBER"
	PersonName PIIType = "PERSON_NAME"
	Location   PIIType = "LOCATION"
)

// AllTypes lists the taxonomy in declaration order.
var AllTypes = []PIIType{
	NationalID, StateID, Address, PostalCode, Email, Phone, CardNumber, PersonName, Location,
}

// legacyTypeNames maps the labels used by older gold-standard files and
// reports to the current taxonomy.
var legacyTypeNames = map[string]PIIType{
	"CPF":         NationalID,
	"RG":          StateID,
	"ENDEREÇO":    Address,
	"ENDERECO":    Address,
	"CEP":         PostalCode,
	"E-MAIL":      Email,
	"TELEFONE":    Phone,
	"CARTÃO":      CardNumber,
	"CARTAO":      CardNumber,
	"NOME_PESSOA": PersonName,
}

// ParsePIIType resolves a type name case-insensitively. Legacy Portuguese
// labels (CPF, RG, CEP, ...) are accepted as aliases.
func ParsePIIType(s string) (PIIType, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	for _, t := range AllTypes {
		if string(t) == name {
			return t, nil
		}
	}
	if t, ok := legacyTypeNames[name]; ok {
		return t, nil
	}
	return "", fmt.Errorf("unknown PII type %q", s)
}

// Valid reports whether t belongs to the taxonomy.
func (t PIIType) Valid() bool {
	for _, known := range AllTypes {
		if t == known {
			return true
		}
	}
	return false
}

// RiskLevel orders findings by sensitivity. Higher values are more severe.
type RiskLevel int

const (
	RiskLow RiskLevel = iota + 1
	RiskMedium
	RiskHigh
	RiskCritical
)

var riskNames = map[RiskLevel]string{
	RiskLow:      "LOW",
	RiskMedium:   "MEDIUM",
	RiskHigh:     "HIGH",
	RiskCritical: "CRITICAL",
}

func (r RiskLevel) String() string {
	if name, ok := riskNames[r]; ok {
		return name
	}
	return fmt.Sprintf("RiskLevel(%d)", int(r))
}

// ParseRiskLevel resolves a risk level name case-insensitively.
func ParseRiskLevel(s string) (RiskLevel, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	for level, n := range riskNames {
		if n == name {
			return level, nil
		}
	}
	return 0, fmt.Errorf("unknown risk level %q", s)
}

// MarshalJSON encodes the level by name (e.g. "HIGH").
func (r RiskLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// UnmarshalJSON decodes a level name.
func (r *RiskLevel) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	level, err := ParseRiskLevel(s)
	if err != nil {
		return err
	}
	*r = level
	return nil
}

// Source identifies which detection layer emitted a finding.
type Source string

const (
	SourceRule        Source = "rule"
	SourceStatistical Source = "statistical"
)

// Finding is a single detected PII span. Start and End are byte offsets into
// the scanned text and Value == text[Start:End]. Findings are never mutated
// after they are emitted.
type Finding struct {
	Type       PIIType   `json:"type"`
	Value      string    `json:"value"`
	Start      int       `json:"-"`
	End        int       `json:"-"`
	Risk       RiskLevel `json:"risk"`
	Source     Source    `json:"source"`
	Recognizer string    `json:"recognizer,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Len returns the span length in bytes.
func (f Finding) Len() int { return f.End - f.Start }

// Overlaps reports whether the spans of f and o intersect.
func (f Finding) Overlaps(o Finding) bool {
	return f.Start < o.End && o.Start < f.End
}

type findingJSON struct {
	Type       PIIType   `json:"type"`
	Value      string    `json:"value"`
	Risk       RiskLevel `json:"risk"`
	Span       [2]int    `json:"span"`
	Source     Source    `json:"source"`
	Recognizer string    `json:"recognizer,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// MarshalJSON encodes the span as a [start, end] pair.
func (f Finding) MarshalJSON() ([]byte, error) {
	return json.Marshal(findingJSON{
		Type:       f.Type,
		Value:      f.Value,
		Risk:       f.Risk,
		Span:       [2]int{f.Start, f.End},
		Source:     f.Source,
		Recognizer: f.Recognizer,
		Timestamp:  f.Timestamp,
	})
}

// UnmarshalJSON decodes the [start, end] span form.
func (f *Finding) UnmarshalJSON(data []byte) error {
	var raw findingJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*f = Finding{
		Type:       raw.Type,
		Value:      raw.Value,
		Start:      raw.Span[0],
		End:        raw.Span[1],
		Risk:       raw.Risk,
		Source:     raw.Source,
		Recognizer: raw.Recognizer,
		Timestamp:  raw.Timestamp,
	}
	return nil
}
