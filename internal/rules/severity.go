package rules

import "github.com/shopspring/decimal"

// Severity buckets a percent-change magnitude.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityBands = []struct {
	floor    decimal.Decimal
	severity Severity
}{
	{decimal.NewFromInt(15), SeverityCritical},
	{decimal.NewFromInt(8), SeverityHigh},
	{decimal.NewFromInt(4), SeverityMedium},
	{decimal.NewFromInt(1), SeverityLow},
}

// SeverityFor maps |change| onto a severity bucket. Band floors are
// inclusive: 15.0 is critical, 14.9 is high.
func SeverityFor(changePct decimal.Decimal) Severity {
	abs := changePct.Abs()
	for _, band := range severityBands {
		if abs.GreaterThanOrEqual(band.floor) {
			return band.severity
		}
	}
	return SeverityInfo
}
