// Package sim provides a deterministic in-process data source used in
// demos and integration tests. It serves random-walk quotes and klines
// seeded from the symbol, so the same query always returns the same
// series, and supports injected connect latency and failure for
// exercising the router's degraded paths.
package sim

import (
	"context"
	"hash/fnv"
	"math/rand"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/quotewire/quotewire/pkg/errors"
	"github.com/quotewire/quotewire/pkg/plugin/core"
	"github.com/quotewire/quotewire/pkg/plugin/registry"
)

// TypeName is the factory name binaries register this plugin under.
const TypeName = "sim"

func init() {
	if err := registry.RegisterFactory(TypeName, New); err != nil {
		panic(err)
	}
}

// Source is a simulated market-data plugin.
type Source struct {
	descriptor core.Descriptor

	connectDelay time.Duration
	failConnect  bool
	failRate     float64
	fetchDelay   time.Duration
	bars         int

	ready atomic.Bool
	calls atomic.Int64
}

// New builds a simulator from its settings map. Recognized keys:
//
//	descriptor       JSON-encoded core.Descriptor (required)
//	connect_delay    handshake duration, Go syntax, default 0
//	fail_connect     "true" makes every handshake fail
//	fail_rate        fraction of Fetch calls that fail, default 0
//	fetch_delay      simulated vendor latency per Fetch, default 0
//	bars             rows per kline response, default 100
func New(settings map[string]string) (core.Plugin, error) {
	raw, ok := settings["descriptor"]
	if !ok {
		return nil, errors.New(errors.ErrorTypeConfig, "sim plugin requires a descriptor setting")
	}

	var desc core.Descriptor
	if err := json.Unmarshal([]byte(raw), &desc); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "sim descriptor is not valid JSON")
	}
	if err := desc.Validate(); err != nil {
		return nil, err
	}

	s := &Source{descriptor: desc, bars: 100}

	if v, ok := settings["connect_delay"]; ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid connect_delay")
		}
		s.connectDelay = d
	}
	if v, ok := settings["fetch_delay"]; ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid fetch_delay")
		}
		s.fetchDelay = d
	}
	if v, ok := settings["fail_connect"]; ok {
		s.failConnect = v == "true"
	}
	if v, ok := settings["fail_rate"]; ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 || f > 1 {
			return nil, errors.New(errors.ErrorTypeConfig, "fail_rate must be in [0,1]")
		}
		s.failRate = f
	}
	if v, ok := settings["bars"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, errors.New(errors.ErrorTypeConfig, "bars must be a positive integer")
		}
		s.bars = n
	}

	return s, nil
}

// Descriptor returns the plugin's capability declaration.
func (s *Source) Descriptor() core.Descriptor {
	return s.descriptor
}

// Initialize is a no-op; the simulator has no local resources.
func (s *Source) Initialize(cfg map[string]string) error {
	return nil
}

// ConnectAsync simulates the vendor handshake on a goroutine.
func (s *Source) ConnectAsync() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if s.connectDelay > 0 {
			time.Sleep(s.connectDelay)
		}
		if s.failConnect {
			errCh <- errors.Newf(errors.ErrorTypeConnection,
				"simulated handshake failure for %s", s.descriptor.ID)
			return
		}
		s.ready.Store(true)
	}()
	return errCh
}

// IsReady reports whether the simulated handshake completed.
func (s *Source) IsReady() bool {
	return s.ready.Load()
}

// Fetch produces a deterministic payload for the query. Every Nth call
// fails when fail_rate is set, with N derived from the rate, so failure
// sequences are reproducible.
func (s *Source) Fetch(ctx context.Context, query core.StandardQuery) (*core.RawTable, error) {
	if s.fetchDelay > 0 {
		timer := time.NewTimer(s.fetchDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, "simulated fetch cancelled")
		case <-timer.C:
		}
	}

	call := s.calls.Add(1)
	if s.failRate > 0 {
		every := int64(1 / s.failRate)
		if every > 0 && call%every == 0 {
			return nil, errors.Newf(errors.ErrorTypeConnection,
				"simulated vendor failure for %s", s.descriptor.ID)
		}
	}

	rng := rand.New(rand.NewSource(symbolSeed(query.Symbol)))

	switch query.DataType {
	case core.DataKline:
		return s.klineTable(rng, query), nil
	case core.DataQuote:
		return s.quoteTable(rng, query), nil
	case core.DataTick:
		return s.tickTable(rng, query), nil
	default:
		return nil, errors.Newf(errors.ErrorTypeNotFound,
			"sim plugin does not serve %s", query.DataType)
	}
}

// HealthCheck always reports healthy once connected.
func (s *Source) HealthCheck() core.HealthCheckResult {
	return core.HealthCheckResult{
		Healthy:   s.ready.Load(),
		LatencyMS: float64(s.fetchDelay.Milliseconds()),
		CheckedAt: time.Now(),
	}
}

func symbolSeed(symbol string) int64 {
	h := fnv.New64a()
	h.Write([]byte(symbol))
	return int64(h.Sum64())
}

// klineTable walks a price series backwards from now, one bar per period.
func (s *Source) klineTable(rng *rand.Rand, query core.StandardQuery) *core.RawTable {
	step := periodDuration(query.Period)
	table := core.NewRawTable("timestamp", "open", "high", "low", "close", "volume")

	price := 50 + rng.Float64()*200
	start := time.Now().Truncate(step).Add(-step * time.Duration(s.bars))

	for i := 0; i < s.bars; i++ {
		open := price
		change := price * (rng.Float64() - 0.5) * 0.04
		cls := open + change
		high := maxFloat(open, cls) * (1 + rng.Float64()*0.01)
		low := minFloat(open, cls) * (1 - rng.Float64()*0.01)
		volume := float64(rng.Intn(1_000_000) + 1000)

		table.AppendRow(start.Add(step*time.Duration(i)), open, high, low, cls, volume)
		price = cls
	}
	return table
}

func (s *Source) quoteTable(rng *rand.Rand, query core.StandardQuery) *core.RawTable {
	price := 50 + rng.Float64()*200
	spread := price * 0.001

	table := core.NewRawTable("symbol", "price", "timestamp", "bid", "ask", "bid_size", "ask_size")
	table.AppendRow(query.Symbol, price, time.Now(),
		price-spread, price+spread,
		float64(rng.Intn(10_000)+100), float64(rng.Intn(10_000)+100))
	return table
}

func (s *Source) tickTable(rng *rand.Rand, query core.StandardQuery) *core.RawTable {
	table := core.NewRawTable("timestamp", "price", "size", "side")
	price := 50 + rng.Float64()*200
	now := time.Now()

	for i := 0; i < s.bars; i++ {
		price += price * (rng.Float64() - 0.5) * 0.002
		side := "buy"
		if rng.Intn(2) == 0 {
			side = "sell"
		}
		table.AppendRow(now.Add(-time.Duration(s.bars-i)*time.Second),
			price, float64(rng.Intn(5000)+1), side)
	}
	return table
}

func periodDuration(period string) time.Duration {
	switch period {
	case "1m":
		return time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "1h":
		return time.Hour
	case "1d", "":
		return 24 * time.Hour
	default:
		if d, err := time.ParseDuration(period); err == nil && d > 0 {
			return d
		}
		return 24 * time.Hour
	}
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
