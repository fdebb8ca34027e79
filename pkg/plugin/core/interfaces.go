// Package core defines the plugin-facing contract for quotewire data
// sources: the capability descriptor every plugin registers once, the
// canonical query, and the tabular payload plugins return.
//
// Discovery is explicit. A plugin declares which (asset type, data type)
// pairs it serves in its Descriptor, validated at registration; the router
// never inspects a plugin at call time to find out what it can do.
package core

import (
	"context"
	"time"

	"github.com/quotewire/quotewire/pkg/errors"
)

// AssetType classifies the instrument being requested.
type AssetType string

const (
	AssetStock   AssetType = "STOCK"
	AssetFund    AssetType = "FUND"
	AssetFutures AssetType = "FUTURES"
	AssetCrypto  AssetType = "CRYPTO"
	AssetForex   AssetType = "FOREX"
	AssetIndex   AssetType = "INDEX"
)

// DataType classifies the kind of market data being requested.
type DataType string

const (
	DataQuote       DataType = "QUOTE"
	DataKline       DataType = "KLINE"
	DataTick        DataType = "TICK"
	DataFundamental DataType = "FUNDAMENTAL"
)

// Capability is one (asset type, data type) pair a plugin can serve.
type Capability struct {
	Asset AssetType `yaml:"asset" json:"asset"`
	Data  DataType  `yaml:"data" json:"data"`
}

// Key returns the canonical "ASSET/DATA" form used in config and metrics.
func (c Capability) Key() string {
	return string(c.Asset) + "/" + string(c.Data)
}

// Descriptor declares a plugin's identity and capabilities. Descriptors are
// immutable once registered; re-registration with replace replaces the whole
// descriptor atomically.
type Descriptor struct {
	// ID uniquely identifies the plugin
	ID string `yaml:"id" json:"id"`
	// AssetTypes lists the asset classes the plugin serves
	AssetTypes []AssetType `yaml:"asset_types" json:"asset_types"`
	// DataTypes lists the data kinds the plugin serves
	DataTypes []DataType `yaml:"data_types" json:"data_types"`
	// Priority orders plugins for priority routing (higher wins)
	Priority int `yaml:"priority" json:"priority"`
	// Weight scales the plugin in health-weighted routing
	Weight float64 `yaml:"weight" json:"weight"`
}

// Validate checks the descriptor for registration.
func (d Descriptor) Validate() error {
	if d.ID == "" {
		return errors.New(errors.ErrorTypeConfig, "plugin descriptor requires an id")
	}
	if len(d.AssetTypes) == 0 {
		return errors.Newf(errors.ErrorTypeConfig, "plugin %s declares no asset types", d.ID)
	}
	if len(d.DataTypes) == 0 {
		return errors.Newf(errors.ErrorTypeConfig, "plugin %s declares no data types", d.ID)
	}
	if d.Weight < 0 {
		return errors.Newf(errors.ErrorTypeConfig, "plugin %s has negative weight", d.ID)
	}
	return nil
}

// Serves reports whether the descriptor covers the given capability.
func (d Descriptor) Serves(asset AssetType, data DataType) bool {
	var hasAsset, hasData bool
	for _, a := range d.AssetTypes {
		if a == asset {
			hasAsset = true
			break
		}
	}
	for _, dt := range d.DataTypes {
		if dt == data {
			hasData = true
			break
		}
	}
	return hasAsset && hasData
}

// Capabilities expands the descriptor into its capability pairs.
func (d Descriptor) Capabilities() []Capability {
	caps := make([]Capability, 0, len(d.AssetTypes)*len(d.DataTypes))
	for _, a := range d.AssetTypes {
		for _, dt := range d.DataTypes {
			caps = append(caps, Capability{Asset: a, Data: dt})
		}
	}
	return caps
}

// StandardQuery is the canonical request every consumer submits and every
// plugin receives.
type StandardQuery struct {
	Symbol    string            `json:"symbol"`
	AssetType AssetType         `json:"asset_type"`
	DataType  DataType          `json:"data_type"`
	// Period is the bar interval for kline data, e.g. "1m", "1d"
	Period string            `json:"period,omitempty"`
	Params map[string]string `json:"params,omitempty"`
}

// Capability returns the query's capability pair.
func (q StandardQuery) Capability() Capability {
	return Capability{Asset: q.AssetType, Data: q.DataType}
}

// HealthCheckResult is returned by a plugin's own liveness probe.
type HealthCheckResult struct {
	Healthy   bool      `json:"healthy"`
	LatencyMS float64   `json:"latency_ms"`
	Detail    string    `json:"detail,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Plugin is the contract every data-source plugin implements.
//
// Initialize must be fast and perform no I/O; it only prepares local
// resources. ConnectAsync returns immediately and reports the real
// handshake result on the returned channel. Fetch performs the actual
// vendor call for a query and may block; the router never invokes it.
type Plugin interface {
	Descriptor() Descriptor
	Initialize(cfg map[string]string) error
	ConnectAsync() <-chan error
	IsReady() bool
	Fetch(ctx context.Context, query StandardQuery) (*RawTable, error)
	HealthCheck() HealthCheckResult
}

// Factory creates plugin instances from their static settings.
type Factory func(settings map[string]string) (Plugin, error)
