package router

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/quotewire/quotewire/pkg/plugin/registry"
	"github.com/quotewire/quotewire/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json.gz")

	rt, _ := newTestRouter(t)
	addReadySource(t, rt, "primary", 10)
	rt.ReportOutcome("primary", true, 50, nil)
	rt.ReportOutcome("primary", true, 80, nil)
	tripPlugin(rt, "secondary")

	snap := NewSnapshotter(rt, path, time.Minute, testutil.Logger(t))
	require.NoError(t, snap.Save())

	// a fresh router starts warm from the file
	reg := registry.New()
	fresh := New(reg, testutil.Store(t), testutil.Logger(t))
	t.Cleanup(fresh.Close)

	restore := NewSnapshotter(fresh, path, time.Minute, testutil.Logger(t))
	require.NoError(t, restore.Restore())

	assert.NotEqual(t, 0.5, fresh.Health().Score("primary"),
		"restored plugin must not score as unknown")

	rec, ok := fresh.Health().Record("primary")
	require.True(t, ok)
	assert.Greater(t, rec.SuccessRate, 0.9)

	bs := fresh.Breakers().Get("secondary").Snapshot()
	assert.Equal(t, "open", bs.State)
}

func TestSnapshotRestoreMissingFile(t *testing.T) {
	rt, _ := newTestRouter(t)
	snap := NewSnapshotter(rt, filepath.Join(t.TempDir(), "absent.json.gz"), time.Minute, testutil.Logger(t))
	assert.NoError(t, snap.Restore(), "a missing snapshot means a cold start, not a failure")
}

func TestSnapshotPeriodicSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json.gz")

	rt, _ := newTestRouter(t)
	addReadySource(t, rt, "primary", 10)
	rt.ReportOutcome("primary", true, 50, nil)

	snap := NewSnapshotter(rt, path, 20*time.Millisecond, testutil.Logger(t))
	snap.Start()
	t.Cleanup(snap.Stop)

	testutil.Eventually(t, time.Second, func() bool {
		_, err := os.Stat(path)
		return err == nil
	}, "periodic snapshot never appeared")

	reg := registry.New()
	fresh := New(reg, testutil.Store(t), testutil.Logger(t))
	t.Cleanup(fresh.Close)
	restore := NewSnapshotter(fresh, path, time.Minute, testutil.Logger(t))
	require.NoError(t, restore.Restore())
	_, ok := fresh.Health().Record("primary")
	assert.True(t, ok)
}
