package standardize

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/quotewire/quotewire/pkg/plugin/core"
)

// epoch magnitudes used to guess the unit of integer timestamps.
const (
	epochMillisFloor = int64(1e12)
	epochMicrosFloor = int64(1e15)
)

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"20060102",
}

// coerceValue converts a raw cell into the canonical kind. Unconvertible
// values become nil, which validation later counts as missing.
func coerceValue(value interface{}, kind FieldKind) interface{} {
	if value == nil {
		return nil
	}

	switch kind {
	case KindFloat:
		return coerceFloat(value)
	case KindTime:
		return coerceTime(value)
	case KindString:
		return strings.TrimSpace(fmt.Sprint(value))
	default:
		return value
	}
}

func coerceFloat(value interface{}) interface{} {
	switch v := value.(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil
		}
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		s := strings.TrimSpace(strings.ReplaceAll(v, ",", ""))
		if s == "" || s == "-" || strings.EqualFold(s, "null") || strings.EqualFold(s, "nan") {
			return nil
		}
		if strings.HasSuffix(s, "%") {
			s = strings.TrimSuffix(s, "%")
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		return f
	default:
		return nil
	}
}

func coerceTime(value interface{}) interface{} {
	switch v := value.(type) {
	case time.Time:
		return v
	case int64:
		return epochToTime(v)
	case int:
		return epochToTime(int64(v))
	case float64:
		return epochToTime(int64(v))
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return nil
		}
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t
			}
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return epochToTime(n)
		}
		return nil
	default:
		return nil
	}
}

// epochToTime interprets an integer as seconds, millis or micros by
// magnitude.
func epochToTime(n int64) interface{} {
	if n <= 0 {
		return nil
	}
	switch {
	case n >= epochMicrosFloor:
		return time.UnixMicro(n)
	case n >= epochMillisFloor:
		return time.UnixMilli(n)
	default:
		return time.Unix(n, 0)
	}
}

// coerceTable converts every cell to its canonical kind in place.
func coerceTable(table *core.RawTable, specs []FieldSpec) {
	kinds := make(map[string]FieldKind, len(specs))
	for _, spec := range specs {
		kinds[spec.Name] = spec.Kind
	}

	for col, name := range table.Columns {
		kind, ok := kinds[name]
		if !ok {
			continue
		}
		for _, row := range table.Rows {
			row[col] = coerceValue(row[col], kind)
		}
	}
}

// cleanTable drops duplicate rows by natural key and clips numeric
// outliers beyond sigma standard deviations to the boundary. The natural
// key is the timestamp column when the schema has one, the whole row
// otherwise.
func cleanTable(table *core.RawTable, specs []FieldSpec, sigma float64) {
	dedupeRows(table)
	if sigma > 0 {
		for _, spec := range specs {
			if spec.Kind == KindFloat {
				clipColumn(table, spec.Name, sigma)
			}
		}
	}
}

func dedupeRows(table *core.RawTable) {
	keyIdx := table.ColumnIndex("timestamp")

	seen := make(map[string]struct{}, len(table.Rows))
	kept := table.Rows[:0]
	for _, row := range table.Rows {
		var key string
		if keyIdx >= 0 && row[keyIdx] != nil {
			key = fmt.Sprint(row[keyIdx])
		} else {
			key = fmt.Sprint(row...)
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		kept = append(kept, row)
	}
	table.Rows = kept
}

func clipColumn(table *core.RawTable, name string, sigma float64) {
	idx := table.ColumnIndex(name)
	if idx < 0 {
		return
	}

	var values []float64
	for _, row := range table.Rows {
		if f, ok := row[idx].(float64); ok {
			values = append(values, f)
		}
	}
	if len(values) < 3 {
		return
	}

	mean := 0.0
	for _, f := range values {
		mean += f
	}
	mean /= float64(len(values))

	variance := 0.0
	for _, f := range values {
		variance += (f - mean) * (f - mean)
	}
	stddev := math.Sqrt(variance / float64(len(values)))
	if stddev == 0 {
		return
	}

	lo, hi := mean-sigma*stddev, mean+sigma*stddev
	for _, row := range table.Rows {
		f, ok := row[idx].(float64)
		if !ok {
			continue
		}
		if f < lo {
			row[idx] = lo
		} else if f > hi {
			row[idx] = hi
		}
	}
}
