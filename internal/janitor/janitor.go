// Package janitor implements the periodic housekeeping loop: expired
// metadata rows and stale buffer files are swept on a fixed interval. It is
// isolated from the event path so a slow sweep never delays event handling.
package janitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/chatkeep/chatkeep/internal/domain"
)

// Store is the metadata-eviction capability the janitor drives.
type Store interface {
	// DeleteExpired deletes rows older than their class retention and
	// returns the number removed.
	DeleteExpired(ctx context.Context, now time.Time, policy domain.RetentionPolicy) (int64, error)
}

// Buffer is the file-purge capability the janitor drives.
type Buffer interface {
	// PurgeExpired removes buffer files older than the TTL and returns the
	// number removed.
	PurgeExpired(now time.Time, ttl time.Duration) (int, error)
}

// Pulse receives a heartbeat at the start of every cycle, failed sub-steps
// included: a degraded sweep is still a live sweep.
type Pulse interface {
	Beat()
}

// Config holds tunables for the Janitor.
type Config struct {
	Interval time.Duration // how often a cycle begins
	Policy   domain.RetentionPolicy
	Logger   *slog.Logger // optional logger (defaults to slog.Default())
}

// Metrics accumulates counters (in-memory) for operational insight.
type Metrics struct {
	mu                  sync.Mutex
	Cycles              uint64
	RowsDeleted         uint64
	FilesPurged         uint64
	CycleLastDurationMS int64
}

// MetricsView is a read-only snapshot safe to copy.
type MetricsView struct {
	Cycles              uint64 `json:"cycles"`
	RowsDeleted         uint64 `json:"rows_deleted"`
	FilesPurged         uint64 `json:"files_purged"`
	CycleLastDurationMS int64  `json:"cycle_last_duration_ms"`
}

func (m *Metrics) addRows(n int64) {
	if n <= 0 {
		return
	}
	m.mu.Lock()
	m.RowsDeleted += uint64(n)
	m.mu.Unlock()
}

func (m *Metrics) addFiles(n int) {
	if n <= 0 {
		return
	}
	m.mu.Lock()
	m.FilesPurged += uint64(n)
	m.mu.Unlock()
}

func (m *Metrics) recordCycle(d time.Duration) {
	m.mu.Lock()
	m.Cycles++
	m.CycleLastDurationMS = d.Milliseconds()
	m.mu.Unlock()
}

// Janitor encapsulates the background housekeeping loop.
type Janitor struct {
	store   Store
	buffer  Buffer
	pulse   Pulse // optional
	cfg     Config
	metrics *Metrics

	ticker *time.Ticker
	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once
}

// New constructs but does not start a Janitor. pulse may be nil.
func New(store Store, buffer Buffer, pulse Pulse, cfg Config) *Janitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Janitor{
		store:   store,
		buffer:  buffer,
		pulse:   pulse,
		cfg:     cfg,
		metrics: &Metrics{},
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start launches the janitor loop in a new goroutine.
func (j *Janitor) Start(ctx context.Context) {
	if j.ticker != nil {
		return
	} // already started
	j.ticker = time.NewTicker(j.cfg.Interval)
	go j.loop(ctx)
}

// Stop signals the loop to exit and waits for completion.
func (j *Janitor) Stop() {
	j.once.Do(func() { close(j.stopCh) })
	<-j.doneCh
}

// MetricsSnapshot returns a copy of current metrics.
func (j *Janitor) MetricsSnapshot() MetricsView {
	j.metrics.mu.Lock()
	defer j.metrics.mu.Unlock()
	return MetricsView{
		Cycles:              j.metrics.Cycles,
		RowsDeleted:         j.metrics.RowsDeleted,
		FilesPurged:         j.metrics.FilesPurged,
		CycleLastDurationMS: j.metrics.CycleLastDurationMS,
	}
}

func (j *Janitor) loop(ctx context.Context) {
	log := j.cfg.Logger.With("domain", "janitor")
	defer func() {
		if j.ticker != nil {
			j.ticker.Stop()
		}
		close(j.doneCh)
	}()
	for {
		select {
		case <-ctx.Done():
			log.Info("janitor stop", "reason", "context_cancel")
			return
		case <-j.stopCh:
			log.Info("janitor stop", "reason", "stop_signal")
			return
		case <-j.ticker.C:
			j.runCycle(ctx)
		}
	}
}

// runCycle performs one full sweep: heartbeat first, then the sub-steps.
// Sub-step failures are logged and do not abort the remaining steps.
func (j *Janitor) runCycle(ctx context.Context) {
	start := time.Now()
	log := j.cfg.Logger.With("domain", "janitor", "action", "cycle")
	now := time.Now().UTC()
	if j.pulse != nil {
		j.pulse.Beat()
	}

	rows, err := j.store.DeleteExpired(ctx, now, j.cfg.Policy)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("expire rows", "error", err)
	}
	files, err := j.buffer.PurgeExpired(now, j.cfg.Policy.BufferTTL)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("purge buffer", "error", err)
	}

	j.metrics.addRows(rows)
	j.metrics.addFiles(files)
	j.metrics.recordCycle(time.Since(start))
	log.Info("cycle complete", "rows_deleted", rows, "files_purged", files,
		"ms", time.Since(start).Milliseconds())
}
