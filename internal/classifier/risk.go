package classifier

import "fmt"

// RiskTable maps each PII type to its default risk level.
type RiskTable map[PIIType]RiskLevel

// DefaultRiskTable returns the built-in severity mapping. Callers own the
// returned map and may modify it.
func DefaultRiskTable() RiskTable {
	return RiskTable{
		CardNumber: RiskCritical,
		NationalID: RiskHigh,
		StateID:    RiskMedium,
		Email:      RiskMedium,
		Phone:      RiskMedium,
		PostalCode: RiskMedium,
		Address:    RiskLow,
		PersonName: RiskLow,
		Location:   RiskLow,
	}
}

// Level returns the risk for t. Types missing from the table are LOW.
func (rt RiskTable) Level(t PIIType) RiskLevel {
	if level, ok := rt[t]; ok {
		return level
	}
	return RiskLow
}

// WithOverrides returns a copy of rt with the given type→level names applied.
// Keys and values are parsed with ParsePIIType and ParseRiskLevel.
func (rt RiskTable) WithOverrides(overrides map[string]string) (RiskTable, error) {
	out := make(RiskTable, len(rt)+len(overrides))
	for k, v := range rt {
		out[k] = v
	}
	for typeName, levelName := range overrides {
		t, err := ParsePIIType(typeName)
		if err != nil {
			return nil, fmt.Errorf("risk override: %w", err)
		}
		level, err := ParseRiskLevel(levelName)
		if err != nil {
			return nil, fmt.Errorf("risk override for %s: %w", t, err)
		}
		out[t] = level
	}
	return out, nil
}
