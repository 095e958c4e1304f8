// Package types holds the data model shared by every pipeline stage:
// artifacts, snapshots, findings, evidence spans, claims, risks and diffs.
package types

// Severity is a coarse-grained risk level for a finding or risk.
type Severity string

const (
	SevInfo     Severity = "informational"
	SevLow      Severity = "low"
	SevMed      Severity = "medium"
	SevHigh     Severity = "high"
	SevCritical Severity = "critical"
)

// Rank orders severities from informational (0) to critical (4).
func (s Severity) Rank() int {
	switch s {
	case SevCritical:
		return 4
	case SevHigh:
		return 3
	case SevMed:
		return 2
	case SevLow:
		return 1
	default:
		return 0
	}
}

// ParseSeverity maps tool spellings onto the fixed severity set.
func ParseSeverity(s string) Severity {
	switch s {
	case "critical", "Critical", "CRITICAL":
		return SevCritical
	case "high", "High", "HIGH", "error", "ERROR":
		return SevHigh
	case "medium", "Medium", "MEDIUM", "warning", "WARNING":
		return SevMed
	case "low", "Low", "LOW", "INFO", "note":
		return SevLow
	default:
		return SevInfo
	}
}

// Category is one of the fixed risk categories.
type Category string

const (
	CatAccessControl Category = "access-control"
	CatFinancial     Category = "financial"
	CatTechnical     Category = "technical"
	CatRegulatory    Category = "regulatory"
	CatInformational Category = "informational"
)

// Categories lists every category in priority order.
var Categories = []Category{CatAccessControl, CatFinancial, CatTechnical, CatRegulatory, CatInformational}

// Priority returns the tie-break rank of a category; lower sorts first.
func (c Category) Priority() int {
	for i, cat := range Categories {
		if cat == c {
			return i
		}
	}
	return len(Categories)
}

// Valid reports whether c belongs to the fixed category set.
func (c Category) Valid() bool {
	return c.Priority() < len(Categories)
}

// ExplainMode selects the register of synthesized explanations.
type ExplainMode string

const (
	ModeELI5     ExplainMode = "eli5"
	ModeEngineer ExplainMode = "engineer"
	ModeAuditor  ExplainMode = "auditor"
)

// Valid reports whether m is a known explain mode.
func (m ExplainMode) Valid() bool {
	switch m {
	case ModeELI5, ModeEngineer, ModeAuditor:
		return true
	}
	return false
}
