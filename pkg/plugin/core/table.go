package core

import (
	"strings"
	"time"
)

// RawTable is the columnar payload a plugin returns from Fetch. Column names
// are vendor-specific; the standardization pipeline maps them onto the
// canonical schema. Rows hold one value per column, nil meaning missing.
type RawTable struct {
	Columns []string        `json:"columns"`
	Rows    [][]interface{} `json:"rows"`
}

// NewRawTable creates an empty table with the given columns.
func NewRawTable(columns ...string) *RawTable {
	return &RawTable{Columns: columns}
}

// AppendRow adds a row. Short rows are padded with nil, long rows truncated.
func (t *RawTable) AppendRow(values ...interface{}) {
	row := make([]interface{}, len(t.Columns))
	for i := range row {
		if i < len(values) {
			row[i] = values[i]
		}
	}
	t.Rows = append(t.Rows, row)
}

// ColumnIndex returns the index of the named column, matching
// case-insensitively, or -1 when absent.
func (t *RawTable) ColumnIndex(name string) int {
	for i, col := range t.Columns {
		if strings.EqualFold(col, name) {
			return i
		}
	}
	return -1
}

// Column returns all values of the named column, or nil when absent.
func (t *RawTable) Column(name string) []interface{} {
	idx := t.ColumnIndex(name)
	if idx < 0 {
		return nil
	}
	values := make([]interface{}, len(t.Rows))
	for i, row := range t.Rows {
		values[i] = row[idx]
	}
	return values
}

// NumRows returns the row count.
func (t *RawTable) NumRows() int {
	return len(t.Rows)
}

// Clone returns a deep copy of the table.
func (t *RawTable) Clone() *RawTable {
	out := &RawTable{
		Columns: append([]string(nil), t.Columns...),
		Rows:    make([][]interface{}, len(t.Rows)),
	}
	for i, row := range t.Rows {
		out.Rows[i] = append([]interface{}(nil), row...)
	}
	return out
}

// StandardData is the canonical result delivered to consumers: the mapped
// table plus a quality score and provenance.
type StandardData struct {
	Table *RawTable `json:"table"`
	// QualityScore blends completeness, validity and freshness into [0,1]
	QualityScore float64 `json:"quality_score"`
	// SourcePluginID names the plugin that produced the payload
	SourcePluginID string `json:"source_plugin_id"`
	// FetchedAt is when the payload was obtained from the vendor
	FetchedAt time.Time `json:"fetched_at"`
	// Degraded marks results produced by the rename-only fallback path
	Degraded bool `json:"degraded,omitempty"`
	// MissingFields lists canonical fields no vendor column matched
	MissingFields []string `json:"missing_fields,omitempty"`
	// Warnings carries non-fatal validation findings
	Warnings []string `json:"warnings,omitempty"`
}
