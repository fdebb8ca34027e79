package csvfeed

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/quotewire/quotewire/pkg/plugin/core"
	"github.com/quotewire/quotewire/pkg/plugin/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCSV = `trade_date,open,high,low,close,vol
2024-01-02,185.0,186.5,184.2,185.6,48210000
2024-01-03,184.9,185.9,183.4,184.2,51340000
`

func writeFeedDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "AAPL.csv"), []byte(sampleCSV), 0o600))
	return dir
}

func newFeed(t *testing.T, dir string) core.Plugin {
	t.Helper()
	p, err := New(map[string]string{"dir": dir, "id": "feed", "priority": "5"})
	require.NoError(t, err)

	err, open := <-p.ConnectAsync()
	if open {
		require.NoError(t, err)
	}
	require.True(t, p.IsReady())
	return p
}

func TestFactoryRegistered(t *testing.T) {
	assert.Contains(t, registry.ListFactories(), TypeName)
}

func TestNewRequiresDir(t *testing.T) {
	_, err := New(map[string]string{})
	assert.Error(t, err)

	_, err = New(map[string]string{"dir": "/tmp", "priority": "many"})
	assert.Error(t, err)
}

func TestDescriptorFromSettings(t *testing.T) {
	p, err := New(map[string]string{"dir": "/tmp", "id": "backtest", "priority": "7"})
	require.NoError(t, err)

	desc := p.Descriptor()
	assert.Equal(t, "backtest", desc.ID)
	assert.Equal(t, 7, desc.Priority)
	assert.True(t, desc.Serves(core.AssetStock, core.DataKline))
}

func TestConnectFailsOnMissingDir(t *testing.T) {
	p, err := New(map[string]string{"dir": "/no/such/dir"})
	require.NoError(t, err)

	connErr := <-p.ConnectAsync()
	assert.Error(t, connErr)
	assert.False(t, p.IsReady())
}

func TestFetchReadsSymbolFile(t *testing.T) {
	p := newFeed(t, writeFeedDir(t))

	table, err := p.Fetch(context.Background(), core.StandardQuery{
		Symbol: "aapl", AssetType: core.AssetStock, DataType: core.DataKline,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"trade_date", "open", "high", "low", "close", "vol"}, table.Columns)
	require.Equal(t, 2, table.NumRows())
	// cells come back as raw strings for the mapping engine to coerce
	assert.Equal(t, "185.6", table.Rows[0][table.ColumnIndex("close")])
}

func TestFetchUnknownSymbol(t *testing.T) {
	p := newFeed(t, writeFeedDir(t))

	_, err := p.Fetch(context.Background(), core.StandardQuery{
		Symbol: "NOPE", AssetType: core.AssetStock, DataType: core.DataKline,
	})
	assert.Error(t, err)
}

func TestFetchRejectsOtherDataTypes(t *testing.T) {
	p := newFeed(t, writeFeedDir(t))

	_, err := p.Fetch(context.Background(), core.StandardQuery{
		Symbol: "AAPL", AssetType: core.AssetStock, DataType: core.DataQuote,
	})
	assert.Error(t, err)
}

func TestHealthCheckReflectsDir(t *testing.T) {
	dir := writeFeedDir(t)
	p := newFeed(t, dir)
	assert.True(t, p.HealthCheck().Healthy)

	require.NoError(t, os.RemoveAll(dir))
	assert.False(t, p.HealthCheck().Healthy)
}
