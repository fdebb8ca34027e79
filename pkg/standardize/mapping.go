// Package standardize normalizes heterogeneous vendor payloads into the
// canonical schema and attaches a quality score. The pipeline order is
// map → coerce → clean → validate → score; a payload that fails validation
// falls back to a rename-only mapping instead of failing the request.
package standardize

import (
	"os"
	"strings"

	"github.com/quotewire/quotewire/pkg/errors"
	"github.com/quotewire/quotewire/pkg/plugin/core"
	"gopkg.in/yaml.v3"
)

// FieldKind is the canonical value type of a field.
type FieldKind string

const (
	KindFloat  FieldKind = "float"
	KindTime   FieldKind = "time"
	KindString FieldKind = "string"
)

// FieldSpec describes one canonical field: its type, whether it is
// required, and the vendor column aliases that map onto it. The canonical
// name itself always matches first, which makes mapping idempotent.
type FieldSpec struct {
	Name     string
	Kind     FieldKind
	Required bool
	Aliases  []string
}

// defaultSchemas is the built-in canonical schema per data type.
func defaultSchemas() map[core.DataType][]FieldSpec {
	return map[core.DataType][]FieldSpec{
		core.DataKline: {
			{Name: "timestamp", Kind: KindTime, Required: true,
				Aliases: []string{"time", "date", "datetime", "trade_date", "day", "ts", "t"}},
			{Name: "open", Kind: KindFloat, Required: true,
				Aliases: []string{"open_price", "opening_price", "o"}},
			{Name: "high", Kind: KindFloat, Required: true,
				Aliases: []string{"high_price", "highest", "h"}},
			{Name: "low", Kind: KindFloat, Required: true,
				Aliases: []string{"low_price", "lowest", "l"}},
			{Name: "close", Kind: KindFloat, Required: true,
				Aliases: []string{"close_price", "closing_price", "last_price", "last", "c"}},
			{Name: "volume", Kind: KindFloat,
				Aliases: []string{"vol", "trade_volume", "qty", "quantity", "v"}},
			{Name: "amount", Kind: KindFloat,
				Aliases: []string{"turnover", "quote_volume", "value"}},
		},
		core.DataQuote: {
			{Name: "symbol", Kind: KindString, Required: true,
				Aliases: []string{"code", "ticker", "instrument", "sym"}},
			{Name: "price", Kind: KindFloat, Required: true,
				Aliases: []string{"last", "last_price", "current", "cur_price", "trade_price"}},
			{Name: "timestamp", Kind: KindTime, Required: true,
				Aliases: []string{"time", "quote_time", "ts", "t"}},
			{Name: "bid", Kind: KindFloat,
				Aliases: []string{"bid_price", "best_bid", "b1"}},
			{Name: "ask", Kind: KindFloat,
				Aliases: []string{"ask_price", "best_ask", "offer", "a1"}},
			{Name: "bid_size", Kind: KindFloat,
				Aliases: []string{"bid_volume", "bid_qty", "b1_v"}},
			{Name: "ask_size", Kind: KindFloat,
				Aliases: []string{"ask_volume", "ask_qty", "a1_v"}},
		},
		core.DataTick: {
			{Name: "timestamp", Kind: KindTime, Required: true,
				Aliases: []string{"time", "trade_time", "ts", "t"}},
			{Name: "price", Kind: KindFloat, Required: true,
				Aliases: []string{"last_price", "trade_price", "p"}},
			{Name: "size", Kind: KindFloat, Required: true,
				Aliases: []string{"volume", "qty", "quantity", "v"}},
			{Name: "side", Kind: KindString,
				Aliases: []string{"direction", "bs_flag", "taker_side"}},
		},
		core.DataFundamental: {
			{Name: "symbol", Kind: KindString, Required: true,
				Aliases: []string{"code", "ticker", "instrument"}},
			{Name: "report_date", Kind: KindTime, Required: true,
				Aliases: []string{"period", "end_date", "report_period", "date"}},
			{Name: "revenue", Kind: KindFloat,
				Aliases: []string{"total_revenue", "operating_revenue", "sales"}},
			{Name: "net_income", Kind: KindFloat,
				Aliases: []string{"net_profit", "profit", "income"}},
			{Name: "eps", Kind: KindFloat,
				Aliases: []string{"earnings_per_share", "basic_eps"}},
			{Name: "total_assets", Kind: KindFloat,
				Aliases: []string{"assets"}},
			{Name: "total_liabilities", Kind: KindFloat,
				Aliases: []string{"liabilities", "total_debt"}},
		},
	}
}

// MapResult carries the mapped table and the mapping findings.
type MapResult struct {
	Table *core.RawTable
	// MissingFields lists required-or-optional canonical fields no vendor
	// column matched; their columns hold null sentinels
	MissingFields []string
	// MatchedColumns counts vendor columns that mapped onto the schema
	MatchedColumns int
}

// FieldMappingEngine maps vendor columns onto the canonical schema.
type FieldMappingEngine struct {
	schemas map[core.DataType][]FieldSpec
}

// NewFieldMappingEngine creates an engine with the built-in schemas.
func NewFieldMappingEngine() *FieldMappingEngine {
	return &FieldMappingEngine{schemas: defaultSchemas()}
}

// LoadAliasFile merges extra aliases from a YAML file of the form:
//
//	KLINE:
//	  close: [px_last, settlement]
func (e *FieldMappingEngine) LoadAliasFile(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from config
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to read mapping file")
	}

	var overrides map[string]map[string][]string
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse mapping file")
	}

	for dataType, fields := range overrides {
		specs, ok := e.schemas[core.DataType(strings.ToUpper(dataType))]
		if !ok {
			return errors.Newf(errors.ErrorTypeConfig, "mapping file references unknown data type %q", dataType)
		}
		for canonical, aliases := range fields {
			found := false
			for i := range specs {
				if strings.EqualFold(specs[i].Name, canonical) {
					specs[i].Aliases = append(specs[i].Aliases, aliases...)
					found = true
					break
				}
			}
			if !found {
				return errors.Newf(errors.ErrorTypeConfig,
					"mapping file references unknown field %q for %s", canonical, dataType)
			}
		}
	}
	return nil
}

// Schema returns the canonical field specs for a data type.
func (e *FieldMappingEngine) Schema(dataType core.DataType) ([]FieldSpec, error) {
	specs, ok := e.schemas[dataType]
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeConfig, "no canonical schema for data type %s", dataType)
	}
	return specs, nil
}

// matchColumn finds the raw column serving a canonical field. The canonical
// name is checked before the alias list; the first case-insensitive match
// wins.
func matchColumn(raw *core.RawTable, spec FieldSpec) int {
	if idx := raw.ColumnIndex(spec.Name); idx >= 0 {
		return idx
	}
	for _, alias := range spec.Aliases {
		if idx := raw.ColumnIndex(alias); idx >= 0 {
			return idx
		}
	}
	return -1
}

// MapFields projects a vendor table onto the canonical schema. Unmapped
// canonical columns are filled with nil sentinels and reported in
// MissingFields. Mapping an already-canonical table returns an identical
// table. When not a single vendor column matches the schema, the payload is
// rejected with a schema error.
func (e *FieldMappingEngine) MapFields(raw *core.RawTable, dataType core.DataType) (*MapResult, error) {
	specs, err := e.Schema(dataType)
	if err != nil {
		return nil, err
	}

	columns := make([]string, len(specs))
	indices := make([]int, len(specs))
	matched := 0
	var missing []string

	for i, spec := range specs {
		columns[i] = spec.Name
		indices[i] = matchColumn(raw, spec)
		if indices[i] >= 0 {
			matched++
		} else {
			missing = append(missing, spec.Name)
		}
	}

	if matched == 0 {
		return nil, errors.Newf(errors.ErrorTypeSchema,
			"payload matches no canonical %s field (columns: %s)",
			dataType, strings.Join(raw.Columns, ", "))
	}

	out := &core.RawTable{
		Columns: columns,
		Rows:    make([][]interface{}, len(raw.Rows)),
	}
	for r, row := range raw.Rows {
		mapped := make([]interface{}, len(specs))
		for i, idx := range indices {
			if idx >= 0 {
				mapped[i] = row[idx]
			}
		}
		out.Rows[r] = mapped
	}

	return &MapResult{Table: out, MissingFields: missing, MatchedColumns: matched}, nil
}

// PassThrough performs the minimal rename-only mapping used when the full
// pipeline fails validation: matched vendor columns are renamed to their
// canonical names, everything else is kept untouched, and no coercion or
// enrichment happens.
func (e *FieldMappingEngine) PassThrough(raw *core.RawTable, dataType core.DataType) *core.RawTable {
	specs, err := e.Schema(dataType)
	if err != nil {
		return raw.Clone()
	}

	out := raw.Clone()
	for _, spec := range specs {
		if idx := matchColumn(out, spec); idx >= 0 {
			out.Columns[idx] = spec.Name
		}
	}
	return out
}
