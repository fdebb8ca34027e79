package router

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/quotewire/quotewire/pkg/config"
	"github.com/quotewire/quotewire/pkg/errors"
	"github.com/quotewire/quotewire/pkg/plugin/core"
	"github.com/quotewire/quotewire/pkg/plugin/registry"
	"github.com/quotewire/quotewire/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	desc  core.Descriptor
	hang  bool
	ready atomic.Bool
}

func newFakeSource(id string, priority int) *fakeSource {
	return &fakeSource{desc: core.Descriptor{
		ID:         id,
		AssetTypes: []core.AssetType{core.AssetStock},
		DataTypes:  []core.DataType{core.DataKline},
		Priority:   priority,
		Weight:     1,
	}}
}

func (f *fakeSource) Descriptor() core.Descriptor            { return f.desc }
func (f *fakeSource) Initialize(cfg map[string]string) error { return nil }

func (f *fakeSource) ConnectAsync() <-chan error {
	ch := make(chan error, 1)
	if f.hang {
		return ch
	}
	f.ready.Store(true)
	close(ch)
	return ch
}

func (f *fakeSource) IsReady() bool { return f.ready.Load() }
func (f *fakeSource) Fetch(ctx context.Context, query core.StandardQuery) (*core.RawTable, error) {
	return core.NewRawTable("close"), nil
}
func (f *fakeSource) HealthCheck() core.HealthCheckResult {
	return core.HealthCheckResult{Healthy: f.ready.Load(), CheckedAt: time.Now()}
}

func newTestRouter(t *testing.T) (*Router, *registry.Registry) {
	t.Helper()
	reg := registry.New()
	rt := New(reg, testutil.Store(t), testutil.Logger(t), WithSeed(1))
	t.Cleanup(rt.Close)
	return rt, reg
}

func addReadySource(t *testing.T, rt *Router, id string, priority int) *fakeSource {
	t.Helper()
	src := newFakeSource(id, priority)
	conn, err := rt.AddPlugin(src, nil, false)
	require.NoError(t, err)
	require.True(t, conn.WaitUntilReady(2*time.Second), "source %s never connected", id)
	return src
}

func tripPlugin(rt *Router, id string) {
	for i := 0; i < 5; i++ {
		rt.ReportOutcome(id, false, 100,
			errors.Newf(errors.ErrorTypeConnection, "vendor down"))
	}
}

func TestRouteSelectsHighestPriority(t *testing.T) {
	rt, _ := newTestRouter(t)
	addReadySource(t, rt, "primary", 10)
	addReadySource(t, rt, "backup", 5)

	result, err := rt.Route(testutil.Context(t), klineQuery)
	require.NoError(t, err)
	assert.Equal(t, "primary", result.ChosenPluginID)
	assert.Equal(t, []string{"backup"}, result.Fallbacks)
	assert.False(t, result.Degraded)
}

func TestRouteFailsOverWhenBreakerOpens(t *testing.T) {
	rt, _ := newTestRouter(t)
	addReadySource(t, rt, "primary", 10)
	addReadySource(t, rt, "backup", 5)

	tripPlugin(rt, "primary")

	result, err := rt.Route(testutil.Context(t), klineQuery)
	require.NoError(t, err)
	assert.Equal(t, "backup", result.ChosenPluginID)
	assert.False(t, result.Degraded)
	assert.Empty(t, result.Fallbacks, "the tripped primary is not offered as a fallback")
}

func TestRouteDegradesWhenAllCircuitsOpen(t *testing.T) {
	rt, _ := newTestRouter(t)
	addReadySource(t, rt, "primary", 10)
	addReadySource(t, rt, "backup", 5)

	tripPlugin(rt, "primary")
	tripPlugin(rt, "backup")

	result, err := rt.Route(testutil.Context(t), klineQuery)
	require.NoError(t, err)
	assert.True(t, result.Degraded)
	assert.Equal(t, "primary", result.ChosenPluginID, "degraded mode ignores circuit state")
}

func TestRouteRecoversThroughHalfOpenProbe(t *testing.T) {
	rt, _ := newTestRouter(t)
	addReadySource(t, rt, "primary", 10)
	addReadySource(t, rt, "backup", 5)

	tripPlugin(rt, "primary")

	// cooldown in the test store is 20ms
	time.Sleep(30 * time.Millisecond)

	result, err := rt.Route(testutil.Context(t), klineQuery)
	require.NoError(t, err)
	assert.Equal(t, "primary", result.ChosenPluginID, "cooled-down primary gets the probe")

	rt.ReportOutcome("primary", true, 50, nil)
	result, err = rt.Route(testutil.Context(t), klineQuery)
	require.NoError(t, err)
	assert.Equal(t, "primary", result.ChosenPluginID)
	assert.False(t, result.Degraded)
}

func TestRouteNoServingPlugin(t *testing.T) {
	rt, _ := newTestRouter(t)
	addReadySource(t, rt, "primary", 10)

	cryptoQuery := klineQuery
	cryptoQuery.AssetType = core.AssetCrypto

	_, err := rt.Route(testutil.Context(t), cryptoQuery)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestRouteNoConnectedPlugin(t *testing.T) {
	rt, _ := newTestRouter(t)
	src := newFakeSource("stuck", 10)
	src.hang = true
	_, err := rt.AddPlugin(src, nil, false)
	require.NoError(t, err)

	_, err = rt.Route(testutil.Context(t), klineQuery)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeAllSourcesFailed))
}

func TestRouteHonorsDeadline(t *testing.T) {
	rt, _ := newTestRouter(t)
	addReadySource(t, rt, "primary", 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := rt.Route(ctx, klineQuery)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTimeout))
}

func TestRouteDuplicatePluginRejected(t *testing.T) {
	rt, _ := newTestRouter(t)
	addReadySource(t, rt, "primary", 10)

	_, err := rt.AddPlugin(newFakeSource("primary", 1), nil, false)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeDuplicatePlugin))
}

func TestSchemaErrorsNeverOpenBreaker(t *testing.T) {
	rt, _ := newTestRouter(t)
	addReadySource(t, rt, "primary", 10)

	for i := 0; i < 10; i++ {
		rt.ReportOutcome("primary", false, 100,
			errors.Newf(errors.ErrorTypeSchema, "malformed payload"))
	}

	result, err := rt.Route(testutil.Context(t), klineQuery)
	require.NoError(t, err)
	assert.Equal(t, "primary", result.ChosenPluginID)
	assert.False(t, result.Degraded, "schema errors must not trip the circuit")

	// but they do drag the health score down
	assert.Less(t, rt.Health().Score("primary"), 0.5)
}

func TestRemovePluginDropsState(t *testing.T) {
	rt, reg := newTestRouter(t)
	addReadySource(t, rt, "primary", 10)
	rt.ReportOutcome("primary", true, 50, nil)

	require.NoError(t, rt.RemovePlugin("primary"))

	testutil.Eventually(t, time.Second, func() bool {
		_, tracked := rt.Health().Record("primary")
		return !tracked
	}, "health state not forgotten after unregister")

	assert.Empty(t, reg.FindCandidates(core.AssetStock, core.DataKline))
	_, ok := rt.Connection("primary")
	assert.False(t, ok)
}

func TestCandidateSnapshotInvalidation(t *testing.T) {
	rt, _ := newTestRouter(t)
	addReadySource(t, rt, "primary", 10)

	result, err := rt.Route(testutil.Context(t), klineQuery)
	require.NoError(t, err)
	assert.Equal(t, "primary", result.ChosenPluginID)

	// a newly registered higher-priority source must be visible immediately
	addReadySource(t, rt, "better", 20)
	result, err = rt.Route(testutil.Context(t), klineQuery)
	require.NoError(t, err)
	assert.Equal(t, "better", result.ChosenPluginID)
}

func TestStrategyOverridePerCapability(t *testing.T) {
	reg := registry.New()
	store := testutil.Store(t)
	cfg := *store.Snapshot()
	cfg.Routing.StrategyOverrides = map[string]config.StrategyName{
		"STOCK/KLINE": config.StrategyRoundRobin,
	}
	require.NoError(t, store.Update(&cfg))

	rt := New(reg, store, testutil.Logger(t), WithSeed(1))
	t.Cleanup(rt.Close)
	addReadySource(t, rt, "a", 10)
	addReadySource(t, rt, "b", 5)

	seen := make(map[string]bool)
	for i := 0; i < 2; i++ {
		result, err := rt.Route(testutil.Context(t), klineQuery)
		require.NoError(t, err)
		seen[result.ChosenPluginID] = true
	}
	assert.Len(t, seen, 2, "round-robin override must rotate instead of always picking priority")
}
