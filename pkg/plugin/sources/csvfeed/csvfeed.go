// Package csvfeed serves kline data from local CSV files, one file per
// symbol. It exists for backtesting and offline development: point it at a
// directory of vendor exports and it behaves like any other data source,
// including the async connect lifecycle (the handshake verifies the
// directory is readable).
package csvfeed

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/quotewire/quotewire/pkg/errors"
	"github.com/quotewire/quotewire/pkg/plugin/core"
	"github.com/quotewire/quotewire/pkg/plugin/registry"
)

// TypeName is the factory name binaries register this plugin under.
const TypeName = "csvfeed"

func init() {
	if err := registry.RegisterFactory(TypeName, New); err != nil {
		panic(err)
	}
}

// Source reads kline CSV files from a directory.
type Source struct {
	descriptor core.Descriptor
	dir        string
	ready      atomic.Bool
}

// New builds a CSV feed from its settings map. Recognized keys:
//
//	id        plugin id, default "csvfeed"
//	dir       directory holding <SYMBOL>.csv files (required)
//	priority  routing priority, default 0
func New(settings map[string]string) (core.Plugin, error) {
	dir, ok := settings["dir"]
	if !ok || dir == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "csvfeed plugin requires a dir setting")
	}

	id := settings["id"]
	if id == "" {
		id = TypeName
	}

	priority := 0
	if v, ok := settings["priority"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid priority")
		}
		priority = n
	}

	return &Source{
		descriptor: core.Descriptor{
			ID:         id,
			AssetTypes: []core.AssetType{core.AssetStock, core.AssetFund, core.AssetIndex},
			DataTypes:  []core.DataType{core.DataKline},
			Priority:   priority,
			Weight:     1,
		},
		dir: dir,
	}, nil
}

// Descriptor returns the plugin's capability declaration.
func (s *Source) Descriptor() core.Descriptor {
	return s.descriptor
}

// Initialize is a no-op; the directory check happens during connect.
func (s *Source) Initialize(cfg map[string]string) error {
	return nil
}

// ConnectAsync verifies the data directory on a goroutine. There is no
// remote endpoint; an unreadable directory is this source's equivalent of
// a failed handshake.
func (s *Source) ConnectAsync() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		info, err := os.Stat(s.dir)
		if err != nil {
			errCh <- errors.Wrap(err, errors.ErrorTypeConnection, "csv directory unavailable")
			return
		}
		if !info.IsDir() {
			errCh <- errors.Newf(errors.ErrorTypeConnection, "%s is not a directory", s.dir)
			return
		}
		s.ready.Store(true)
	}()
	return errCh
}

// IsReady reports whether the directory check passed.
func (s *Source) IsReady() bool {
	return s.ready.Load()
}

// Fetch reads <SYMBOL>.csv and returns its rows verbatim; header names
// pass through as raw vendor columns for the mapping engine to resolve.
func (s *Source) Fetch(ctx context.Context, query core.StandardQuery) (*core.RawTable, error) {
	if query.DataType != core.DataKline {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "csvfeed does not serve %s", query.DataType)
	}

	path := filepath.Join(s.dir, strings.ToUpper(query.Symbol)+".csv")
	f, err := os.Open(path) //nolint:gosec // G304: path is rooted in the configured dir
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Newf(errors.ErrorTypeNotFound, "no data file for symbol %s", query.Symbol)
		}
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to open data file")
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeSchema, "failed to read CSV header")
	}
	table := core.NewRawTable(header...)

	for {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeTimeout, "fetch cancelled")
		}
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeSchema, "malformed CSV row")
		}
		row := make([]interface{}, len(record))
		for i, cell := range record {
			row[i] = cell
		}
		table.AppendRow(row...)
	}
	return table, nil
}

// HealthCheck re-stats the directory.
func (s *Source) HealthCheck() core.HealthCheckResult {
	start := time.Now()
	_, err := os.Stat(s.dir)
	res := core.HealthCheckResult{
		Healthy:   err == nil,
		LatencyMS: float64(time.Since(start).Milliseconds()),
		CheckedAt: time.Now(),
	}
	if err != nil {
		res.Detail = err.Error()
	}
	return res
}
