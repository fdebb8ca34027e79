package standardize

import (
	"fmt"
	"math"
	"time"

	"github.com/quotewire/quotewire/pkg/config"
	"github.com/quotewire/quotewire/pkg/plugin/core"
)

// ValidationReport summarizes the checks run against a mapped table.
type ValidationReport struct {
	Valid bool
	// Completeness is the non-null share of required-field cells
	Completeness float64
	// Validity is the share of rows passing semantic checks
	Validity float64
	Warnings []string
}

// validateTable checks required-field coverage, OHLC ordering for kline
// data and sane numeric ranges. A table is valid when required coverage
// meets the configured minimum and no hard semantic violation exceeds the
// same tolerance.
func validateTable(table *core.RawTable, dataType core.DataType, specs []FieldSpec, cfg config.StandardizeConfig) ValidationReport {
	report := ValidationReport{Valid: true, Completeness: 1, Validity: 1}
	if table.NumRows() == 0 {
		report.Warnings = append(report.Warnings, "empty table")
		return report
	}

	requiredCells, requiredNonNull := 0, 0
	for _, spec := range specs {
		if !spec.Required {
			continue
		}
		idx := table.ColumnIndex(spec.Name)
		if idx < 0 {
			requiredCells += table.NumRows()
			report.Warnings = append(report.Warnings, fmt.Sprintf("required field %s missing entirely", spec.Name))
			continue
		}
		for _, row := range table.Rows {
			requiredCells++
			if row[idx] != nil {
				requiredNonNull++
			}
		}
	}
	if requiredCells > 0 {
		report.Completeness = float64(requiredNonNull) / float64(requiredCells)
	}
	if report.Completeness < cfg.RequiredCoverage {
		report.Valid = false
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("required-field coverage %.2f below %.2f", report.Completeness, cfg.RequiredCoverage))
	}

	badRows := 0
	for _, row := range table.Rows {
		if !rowIsSane(table, row, dataType) {
			badRows++
		}
	}
	report.Validity = 1 - float64(badRows)/float64(table.NumRows())
	if report.Validity < cfg.RequiredCoverage {
		report.Valid = false
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("%d of %d rows fail semantic checks", badRows, table.NumRows()))
	}

	return report
}

// rowIsSane applies the per-row semantic checks: prices must be positive
// and finite, volumes non-negative, and kline bars must satisfy
// low <= open,close <= high.
func rowIsSane(table *core.RawTable, row []interface{}, dataType core.DataType) bool {
	get := func(name string) (float64, bool) {
		idx := table.ColumnIndex(name)
		if idx < 0 {
			return 0, false
		}
		f, ok := row[idx].(float64)
		return f, ok
	}

	for _, name := range []string{"open", "high", "low", "close", "price", "bid", "ask"} {
		if f, ok := get(name); ok {
			if f <= 0 || math.IsNaN(f) || math.IsInf(f, 0) {
				return false
			}
		}
	}
	for _, name := range []string{"volume", "amount", "size", "bid_size", "ask_size"} {
		if f, ok := get(name); ok && f < 0 {
			return false
		}
	}

	if dataType == core.DataKline {
		open, hasOpen := get("open")
		high, hasHigh := get("high")
		low, hasLow := get("low")
		cls, hasClose := get("close")
		if hasOpen && hasHigh && hasLow && hasClose {
			if low > open || low > cls || open > high || cls > high || low > high {
				return false
			}
		}
	}

	return true
}

// freshnessFactor decays from 1 to 0 as data ages toward the horizon.
func freshnessFactor(table *core.RawTable, fetchedAt time.Time, horizon time.Duration) float64 {
	if horizon <= 0 {
		return 1
	}

	newest := fetchedAt
	if idx := table.ColumnIndex("timestamp"); idx >= 0 {
		var latest time.Time
		for _, row := range table.Rows {
			if t, ok := row[idx].(time.Time); ok && t.After(latest) {
				latest = t
			}
		}
		if !latest.IsZero() {
			newest = latest
		}
	}

	age := time.Since(newest)
	if age <= 0 {
		return 1
	}
	factor := 1 - float64(age)/float64(horizon)
	if factor < 0 {
		return 0
	}
	return factor
}

// ComputeQualityScore blends completeness, validity and freshness into a
// [0,1] confidence measure: 0.5·completeness + 0.3·validity + 0.2·freshness.
func ComputeQualityScore(completeness, validity, freshness float64) float64 {
	score := 0.5*completeness + 0.3*validity + 0.2*freshness
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
