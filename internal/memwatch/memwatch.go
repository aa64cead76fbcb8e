// Package memwatch periodically dumps memory reports for leak hunts: a
// runtime.MemStats snapshot as JSON and a heap profile in text form.
package memwatch

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"time"

	"go.uber.org/zap"
)

// Watcher writes report files under dir on a fixed interval. Report errors
// are logged and the watcher keeps going.
type Watcher struct {
	dir      string
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

func New(dir string, interval time.Duration, logger *zap.Logger) *Watcher {
	return &Watcher{
		dir:      dir,
		interval: interval,
		logger:   logger.With(zap.String("component", "memwatch")),
		now:      time.Now,
	}
}

// Run reports once immediately and then every interval until ctx is
// cancelled. A non-positive interval disables the watcher.
func (w *Watcher) Run(ctx context.Context) {
	if w.interval <= 0 {
		return
	}

	w.logger.Info("Memory watcher started",
		zap.String("dir", w.dir),
		zap.Duration("interval", w.interval))
	w.report()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.report()
		}
	}
}

func (w *Watcher) report() {
	stamp := w.now().Unix()
	if err := w.writeMemStats(stamp); err != nil {
		w.logger.Error("Unable to write memstats report", zap.Error(err))
	}
	if err := w.writeHeapProfile(stamp); err != nil {
		w.logger.Error("Unable to write heap report", zap.Error(err))
	}
}

type memReport struct {
	Goroutines   int    `json:"goroutines"`
	HeapAlloc    uint64 `json:"heap_alloc"`
	HeapObjects  uint64 `json:"heap_objects"`
	HeapSys      uint64 `json:"heap_sys"`
	StackInuse   uint64 `json:"stack_inuse"`
	TotalAlloc   uint64 `json:"total_alloc"`
	Sys          uint64 `json:"sys"`
	NumGC        uint32 `json:"num_gc"`
	PauseTotalNs uint64 `json:"pause_total_ns"`
}

func (w *Watcher) writeMemStats(stamp int64) error {
	dir := filepath.Join(w.dir, "memstats")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	payload, err := json.MarshalIndent(memReport{
		Goroutines:   runtime.NumGoroutine(),
		HeapAlloc:    ms.HeapAlloc,
		HeapObjects:  ms.HeapObjects,
		HeapSys:      ms.HeapSys,
		StackInuse:   ms.StackInuse,
		TotalAlloc:   ms.TotalAlloc,
		Sys:          ms.Sys,
		NumGC:        ms.NumGC,
		PauseTotalNs: ms.PauseTotalNs,
	}, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(dir, fmt.Sprintf("%d.json", stamp)), payload, 0o644)
}

func (w *Watcher) writeHeapProfile(stamp int64) error {
	dir := filepath.Join(w.dir, "heap")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	f, err := os.Create(filepath.Join(dir, fmt.Sprintf("%d.txt", stamp)))
	if err != nil {
		return err
	}
	if err := pprof.Lookup("heap").WriteTo(f, 1); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
