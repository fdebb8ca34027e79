package standardize

import (
	"testing"
	"time"

	"github.com/quotewire/quotewire/pkg/config"
	"github.com/quotewire/quotewire/pkg/plugin/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func klineSpecs(t *testing.T) []FieldSpec {
	t.Helper()
	specs, err := NewFieldMappingEngine().Schema(core.DataKline)
	require.NoError(t, err)
	return specs
}

func goodKlineTable(rows int) *core.RawTable {
	table := core.NewRawTable("timestamp", "open", "high", "low", "close", "volume")
	base := time.Now().Add(-time.Duration(rows) * time.Minute)
	for i := 0; i < rows; i++ {
		table.AppendRow(base.Add(time.Duration(i)*time.Minute), 100.0, 105.0, 99.0, 103.0, 1000.0)
	}
	return table
}

func TestCoerceFloat(t *testing.T) {
	tests := []struct {
		name string
		in   interface{}
		want interface{}
	}{
		{"float", 1.5, 1.5},
		{"int", 42, 42.0},
		{"string", "103.25", 103.25},
		{"thousands separator", "1,234.5", 1234.5},
		{"percent suffix", "12.5%", 12.5},
		{"empty", "", nil},
		{"dash placeholder", "-", nil},
		{"null word", "null", nil},
		{"garbage", "n/a", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, coerceFloat(tt.in))
		})
	}
}

func TestCoerceTime(t *testing.T) {
	now := time.Date(2024, 1, 2, 15, 4, 5, 0, time.UTC)

	t.Run("passthrough", func(t *testing.T) {
		assert.Equal(t, now, coerceTime(now))
	})
	t.Run("epoch seconds", func(t *testing.T) {
		got, ok := coerceTime(now.Unix()).(time.Time)
		require.True(t, ok)
		assert.True(t, got.Equal(now))
	})
	t.Run("epoch millis", func(t *testing.T) {
		got, ok := coerceTime(now.UnixMilli()).(time.Time)
		require.True(t, ok)
		assert.True(t, got.Equal(now))
	})
	t.Run("date string", func(t *testing.T) {
		got, ok := coerceTime("2024-01-02").(time.Time)
		require.True(t, ok)
		assert.Equal(t, 2024, got.Year())
	})
	t.Run("compact date", func(t *testing.T) {
		got, ok := coerceTime("20240102").(time.Time)
		require.True(t, ok)
		assert.Equal(t, time.January, got.Month())
	})
	t.Run("garbage", func(t *testing.T) {
		assert.Nil(t, coerceTime("not a date"))
	})
}

func TestCleanTableDedupes(t *testing.T) {
	ts := time.Now()
	table := core.NewRawTable("timestamp", "close")
	table.AppendRow(ts, 100.0)
	table.AppendRow(ts, 101.0) // same natural key, dropped
	table.AppendRow(ts.Add(time.Minute), 102.0)

	cleanTable(table, klineSpecs(t), 0)
	assert.Equal(t, 2, table.NumRows())
	assert.Equal(t, 100.0, table.Rows[0][1], "first occurrence wins")
}

func TestCleanTableClipsOutliers(t *testing.T) {
	table := core.NewRawTable("timestamp", "close")
	base := time.Now()
	for i := 0; i < 20; i++ {
		table.AppendRow(base.Add(time.Duration(i)*time.Minute), 100.0+float64(i%3))
	}
	table.AppendRow(base.Add(21*time.Minute), 100000.0) // fat-finger print

	cleanTable(table, klineSpecs(t), 4)

	clipped := table.Rows[20][1].(float64)
	assert.Less(t, clipped, 100000.0, "outlier beyond 4 sigma must be clipped to the boundary")
}

func TestValidateTablePasses(t *testing.T) {
	cfg := config.Default().Standardize
	report := validateTable(goodKlineTable(10), core.DataKline, klineSpecs(t), cfg)

	assert.True(t, report.Valid)
	assert.Equal(t, 1.0, report.Completeness)
	assert.Equal(t, 1.0, report.Validity)
}

func TestValidateTableMissingRequiredField(t *testing.T) {
	cfg := config.Default().Standardize

	table := goodKlineTable(10)
	closeIdx := table.ColumnIndex("close")
	for i := 0; i < 5; i++ {
		table.Rows[i][closeIdx] = nil // half the closes missing
	}

	report := validateTable(table, core.DataKline, klineSpecs(t), cfg)
	assert.False(t, report.Valid)
	assert.Less(t, report.Completeness, cfg.RequiredCoverage)
	assert.NotEmpty(t, report.Warnings)
}

func TestValidateTableOHLCOrdering(t *testing.T) {
	cfg := config.Default().Standardize

	table := goodKlineTable(10)
	lowIdx := table.ColumnIndex("low")
	highIdx := table.ColumnIndex("high")
	for i := 0; i < 10; i++ {
		table.Rows[i][lowIdx], table.Rows[i][highIdx] = table.Rows[i][highIdx], table.Rows[i][lowIdx]
	}

	report := validateTable(table, core.DataKline, klineSpecs(t), cfg)
	assert.False(t, report.Valid)
	assert.Equal(t, 0.0, report.Validity)
}

func TestValidateTableNegativePrice(t *testing.T) {
	cfg := config.Default().Standardize

	table := goodKlineTable(10)
	table.Rows[0][table.ColumnIndex("close")] = -5.0

	report := validateTable(table, core.DataKline, klineSpecs(t), cfg)
	assert.Less(t, report.Validity, 1.0)
}

func TestFreshnessFactor(t *testing.T) {
	horizon := 15 * time.Minute

	fresh := goodKlineTable(5)
	assert.Greater(t, freshnessFactor(fresh, time.Now(), horizon), 0.5)

	stale := core.NewRawTable("timestamp", "close")
	stale.AppendRow(time.Now().Add(-2*time.Hour), 100.0)
	assert.Equal(t, 0.0, freshnessFactor(stale, time.Now(), horizon))

	assert.Equal(t, 1.0, freshnessFactor(fresh, time.Now(), 0), "zero horizon disables freshness decay")
}

func TestComputeQualityScore(t *testing.T) {
	assert.InDelta(t, 1.0, ComputeQualityScore(1, 1, 1), 1e-9)
	assert.InDelta(t, 0.5, ComputeQualityScore(1, 0, 0), 1e-9)
	assert.Equal(t, 0.0, ComputeQualityScore(-1, 0, 0))
	assert.Equal(t, 1.0, ComputeQualityScore(2, 2, 2))
}
