package health

import (
	"context"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/mem"

	"marketfeed/logger"
	"marketfeed/models"
)

// ConnectionStatus reports whether the feed connection is currently open.
type ConnectionStatus interface {
	Connected() bool
}

// StatsWriter stores a health snapshot; it is best effort.
type StatsWriter interface {
	PublishStats(ctx context.Context, st models.WorkerStats)
}

// Exporter ships a snapshot to an external metrics backend.
type Exporter interface {
	Export(ctx context.Context, st models.WorkerStats) error
}

var memoryStatsFn = mem.VirtualMemoryWithContext

// Reporter periodically writes Stats to the cache and logs a runtime report.
type Reporter struct {
	stats    *Stats
	conn     ConnectionStatus
	out      StatsWriter
	exporter Exporter
	interval time.Duration
	log      *logger.Log
	now      func() time.Time
}

func NewReporter(stats *Stats, conn ConnectionStatus, out StatsWriter, interval time.Duration) *Reporter {
	return &Reporter{
		stats:    stats,
		conn:     conn,
		out:      out,
		interval: interval,
		log:      logger.GetLogger(),
		now:      time.Now,
	}
}

// WithExporter adds an external metrics exporter. nil disables export.
func (r *Reporter) WithExporter(e Exporter) *Reporter {
	r.exporter = e
	return r
}

// Run reports once immediately and then on every tick until ctx is done.
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.Report(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Report(ctx)
		}
	}
}

// Report takes one snapshot and publishes it.
func (r *Reporter) Report(ctx context.Context) models.WorkerStats {
	connected := r.conn != nil && r.conn.Connected()
	st := r.stats.Snapshot(r.now(), connected)

	r.out.PublishStats(ctx, st)

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	fields := logger.Fields{
		"started_at":     r.stats.StartedAt().UTC().Format(time.RFC3339),
		"uptime_s":       st.UptimeSeconds,
		"ticker":         st.TickerCount,
		"orderbook":      st.OrderBookCount,
		"trades":         st.TradeCount,
		"klines":         st.CandleCount,
		"unknown_frames": st.UnknownFrameCount,
		"decode_errors":  st.DecodeErrorCount,
		"connected":      st.Connected,
		"goroutines":     runtime.NumGoroutine(),
		"process_sys_mb": ms.Sys / 1024 / 1024,
	}
	if vm, err := memoryStatsFn(ctx); err == nil && vm != nil {
		fields["host_memory_used_mb"] = vm.Used / 1024 / 1024
	}
	r.log.WithComponent("health").WithFields(fields).Info("worker stats")

	if r.exporter != nil {
		if err := r.exporter.Export(ctx, st); err != nil {
			r.log.WithComponent("health").WithError(err).Warn("failed to export worker stats")
		}
	}
	return st
}
