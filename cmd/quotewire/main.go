package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quotewire/quotewire/pkg/config"
	"github.com/quotewire/quotewire/pkg/logger"
	"github.com/quotewire/quotewire/pkg/observability"
	"github.com/quotewire/quotewire/pkg/plugin/core"
	"github.com/quotewire/quotewire/pkg/plugin/registry"
	"github.com/quotewire/quotewire/pkg/router"
	"github.com/quotewire/quotewire/pkg/standardize"

	// Import all available data sources to register them
	_ "github.com/quotewire/quotewire/pkg/plugin/sources/csvfeed"
	_ "github.com/quotewire/quotewire/pkg/plugin/sources/sim"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "quotewire",
		Short: "Quotewire - market data routing and standardization engine",
		Long: `Quotewire routes market data queries across pluggable data sources and
standardizes heterogeneous vendor payloads into a canonical schema with an
attached quality score. Sources register their capabilities once; routing,
health scoring, circuit breaking and fallback are handled per query.`,
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Quotewire v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List available data source types",
		Run: func(cmd *cobra.Command, args []string) {
			names := registry.ListFactories()
			sort.Strings(names)
			fmt.Println("Available data source types:")
			for _, name := range names {
				fmt.Printf("  - %s\n", name)
			}
		},
	})

	var (
		configFile string
		sourceFile string
		symbol     string
		assetType  string
		dataType   string
		period     string
		timeout    time.Duration
	)

	fetchCmd := &cobra.Command{
		Use:   "fetch",
		Short: "Route a query and print the standardized result",
		Long: `Fetch routes one query through the configured data sources and prints
the standardized result as JSON. Sources are described in a JSON file of
{type, settings} entries.

Example:
  quotewire fetch --sources sources.json --symbol AAPL --asset STOCK --data KLINE`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(configFile, sourceFile, core.StandardQuery{
				Symbol:    symbol,
				AssetType: core.AssetType(strings.ToUpper(assetType)),
				DataType:  core.DataType(strings.ToUpper(dataType)),
				Period:    period,
			}, timeout)
		},
	}
	fetchCmd.Flags().StringVar(&configFile, "config", "", "path to YAML configuration")
	fetchCmd.Flags().StringVar(&sourceFile, "sources", "", "path to JSON data source definitions (required)")
	fetchCmd.Flags().StringVar(&symbol, "symbol", "", "instrument symbol (required)")
	fetchCmd.Flags().StringVar(&assetType, "asset", "STOCK", "asset type: STOCK, FUND, FUTURES, CRYPTO, FOREX, INDEX")
	fetchCmd.Flags().StringVar(&dataType, "data", "KLINE", "data type: QUOTE, KLINE, TICK, FUNDAMENTAL")
	fetchCmd.Flags().StringVar(&period, "period", "1d", "bar period for kline data")
	fetchCmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "overall query timeout")
	_ = fetchCmd.MarkFlagRequired("sources")
	_ = fetchCmd.MarkFlagRequired("symbol")
	root.AddCommand(fetchCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// sourceDef is one entry in the --sources file.
type sourceDef struct {
	Type     string            `json:"type"`
	Settings map[string]string `json:"settings"`
}

func runFetch(configFile, sourceFile string, query core.StandardQuery, timeout time.Duration) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:    cfg.Observability.LogLevel,
		Encoding: "json",
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Get()

	if cfg.Observability.EnableTracing {
		if err := observability.InitTracing(observability.TracingConfig{
			ServiceName:    "quotewire",
			ServiceVersion: version,
			Environment:    "cli",
			SamplingRate:   1.0,
		}); err != nil {
			return fmt.Errorf("failed to initialize tracing: %w", err)
		}
	}

	store, err := config.NewStore(cfg)
	if err != nil {
		return err
	}

	reg := registry.New()
	rt := router.New(reg, store, log)
	defer rt.Close()

	if path := cfg.Observability.SnapshotPath; path != "" {
		snap := router.NewSnapshotter(rt, path, cfg.Observability.SnapshotInterval, log)
		if err := snap.Restore(); err != nil {
			log.Warn("snapshot restore failed, starting cold", zap.Error(err))
		}
		snap.Start()
		defer snap.Stop()
	}

	if err := addSources(rt, sourceFile); err != nil {
		return err
	}
	rt.StartHealthChecks()

	mapper := standardize.NewFieldMappingEngine()
	if cfg.Standardize.MappingFile != "" {
		if err := mapper.LoadAliasFile(cfg.Standardize.MappingFile); err != nil {
			return err
		}
	}
	pipeline := standardize.NewPipeline(rt, reg, mapper, store, log)

	waitForSources(rt, reg, timeout)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	data, err := pipeline.Process(ctx, query)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func addSources(rt *router.Router, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is a CLI argument
	if err != nil {
		return fmt.Errorf("failed to read sources file: %w", err)
	}

	var defs []sourceDef
	if err := json.Unmarshal(data, &defs); err != nil {
		return fmt.Errorf("failed to parse sources file: %w", err)
	}
	if len(defs) == 0 {
		return fmt.Errorf("sources file %s defines no data sources", path)
	}

	for _, def := range defs {
		p, err := registry.CreatePlugin(def.Type, def.Settings)
		if err != nil {
			return err
		}
		if _, err := rt.AddPlugin(p, def.Settings, false); err != nil {
			return err
		}
	}
	return nil
}

// waitForSources gives background connects a moment to settle so the first
// query does not race every handshake. Partial readiness is fine; routing
// works with whatever connected.
func waitForSources(rt *router.Router, reg *registry.Registry, timeout time.Duration) {
	wait := timeout / 2
	if wait > 5*time.Second {
		wait = 5 * time.Second
	}
	deadline := time.Now().Add(wait)

	for _, desc := range reg.ListDescriptors() {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}
		if conn, ok := rt.Connection(desc.ID); ok {
			conn.WaitUntilReady(remaining)
		}
	}
}
