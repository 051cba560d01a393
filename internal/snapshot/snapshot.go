// Package snapshot periodically dumps operational counters to disk in
// msgpack, independent of the on-disk persistent-variable DB file: it
// is a diagnostic artifact for operators, not part of the wire
// protocol or the variable store's own persistence contract.
package snapshot

import (
	"fmt"
	"os"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// Stats is the subset of live state recorded in each snapshot.
type Stats interface {
	ConnectedClients() int
	VariableCount() int
}

// Snapshot is one point-in-time dump.
type Snapshot struct {
	Timestamp        int64 `msgpack:"timestamp"`
	ConnectedClients int   `msgpack:"connected_clients"`
	VariableCount    int   `msgpack:"variable_count"`
}

// Writer owns the periodic-dump goroutine.
type Writer struct {
	path     string
	interval time.Duration
	stats    Stats
	logger   *zap.Logger

	stop chan struct{}
	done chan struct{}
}

// NewWriter builds a Writer. Call Start to launch the background
// ticker.
func NewWriter(path string, interval time.Duration, stats Stats, logger *zap.Logger) *Writer {
	return &Writer{
		path:     path,
		interval: interval,
		stats:    stats,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the ticker goroutine. No-op if path is empty.
func (w *Writer) Start() {
	if w.path == "" {
		close(w.done)
		return
	}
	go w.run()
}

func (w *Writer) run() {
	defer close(w.done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := w.writeOnce(); err != nil {
				w.logger.Warn("snapshot write failed", zap.Error(err))
			}
		case <-w.stop:
			return
		}
	}
}

func (w *Writer) writeOnce() error {
	snap := Snapshot{
		Timestamp:        time.Now().Unix(),
		ConnectedClients: w.stats.ConnectedClients(),
		VariableCount:    w.stats.VariableCount(),
	}
	buf, err := msgpack.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	tmpPath := w.path + ".tmp"
	if err := os.WriteFile(tmpPath, buf, 0o644); err != nil {
		return fmt.Errorf("write snapshot temp file: %w", err)
	}
	if err := os.Rename(tmpPath, w.path); err != nil {
		return fmt.Errorf("rename snapshot file: %w", err)
	}
	return nil
}

// Stop halts the ticker goroutine, if running. Safe to call even if
// Start left the writer disabled.
func (w *Writer) Stop() {
	if w.path == "" {
		return
	}
	close(w.stop)
	<-w.done
}
