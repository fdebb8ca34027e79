package router

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"github.com/quotewire/quotewire/pkg/errors"
	"github.com/quotewire/quotewire/pkg/plugin/base"
	"go.uber.org/zap"
)

// snapshotFile is the on-disk format: gzipped JSON of health records and
// breaker snapshots, written atomically via temp-file rename.
type snapshotFile struct {
	SavedAt  time.Time              `json:"saved_at"`
	Health   []base.HealthRecord    `json:"health"`
	Breakers []base.BreakerSnapshot `json:"breakers"`
}

// Snapshotter persists router health and circuit state periodically so a
// restarted process does not begin blind. Persistence is best effort: a
// failed save is logged and retried on the next tick, never fatal.
type Snapshotter struct {
	router   *Router
	path     string
	interval time.Duration
	logger   *zap.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewSnapshotter creates a snapshotter writing to path every interval.
func NewSnapshotter(r *Router, path string, interval time.Duration, logger *zap.Logger) *Snapshotter {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Snapshotter{
		router:   r,
		path:     path,
		interval: interval,
		logger:   logger.With(zap.String("component", "snapshotter")),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the periodic save loop.
func (s *Snapshotter) Start() {
	go func() {
		defer close(s.doneCh)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.stopCh:
				return
			case <-ticker.C:
				if err := s.Save(); err != nil {
					s.logger.Warn("snapshot save failed", zap.Error(err))
				}
			}
		}
	}()
}

// Stop halts the loop and writes one final snapshot.
func (s *Snapshotter) Stop() {
	close(s.stopCh)
	<-s.doneCh
	if err := s.Save(); err != nil {
		s.logger.Warn("final snapshot save failed", zap.Error(err))
	}
}

// Save writes the current health and breaker state to disk.
func (s *Snapshotter) Save() error {
	snap := snapshotFile{
		SavedAt:  time.Now(),
		Health:   s.router.Health().Records(),
		Breakers: s.router.Breakers().Snapshots(),
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to marshal snapshot")
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".quotewire-snapshot-*")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to create snapshot temp file")
	}
	defer os.Remove(tmp.Name())

	zw := gzip.NewWriter(tmp)
	if _, err := zw.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to write snapshot")
	}
	if err := zw.Close(); err != nil {
		tmp.Close()
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to flush snapshot")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to close snapshot temp file")
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to install snapshot")
	}
	return nil
}

// Restore seeds health and breaker state from the last saved snapshot.
// A missing file is not an error; a corrupt one is reported and ignored so
// the process starts cold instead of crashing.
func (s *Snapshotter) Restore() error {
	f, err := os.Open(s.path) //nolint:gosec // G304: path comes from config
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to open snapshot")
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "snapshot is not gzip data")
	}
	defer zr.Close()

	data, err := io.ReadAll(zr)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to decompress snapshot")
	}

	var snap snapshotFile
	if err := json.Unmarshal(data, &snap); err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to parse snapshot")
	}

	for _, rec := range snap.Health {
		s.router.Health().Restore(rec)
	}
	for _, bs := range snap.Breakers {
		s.router.Breakers().Get(bs.PluginID).Restore(bs)
	}

	s.logger.Info("restored snapshot",
		zap.Time("saved_at", snap.SavedAt),
		zap.Int("health_records", len(snap.Health)),
		zap.Int("breakers", len(snap.Breakers)))
	return nil
}
