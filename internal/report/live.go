package report

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/wesleyorama2/surgeload/internal/metrics"
)

// LiveStats contains real-time statistics for display.
type LiveStats struct {
	Progress      float64       // 0.0 to 1.0
	Elapsed       time.Duration // Time since the run started
	TotalRequests int64
	CurrentRPS    float64 // Completed requests per second since the last update
	Dropped       int64
	ErrorRate     float64
	LatencyP95    time.Duration
}

// Source is what a Progress printer polls.
type Source interface {
	Progress() float64
	Aggregator() *metrics.Aggregator
}

// Progress periodically prints one status line per update. It is meant for
// stderr so it never mixes with the final report.
type Progress struct {
	w        io.Writer
	cs       *ColorScheme
	interval time.Duration

	mu        sync.Mutex
	start     time.Time
	lastCount int64
	lastTime  time.Time
}

// NewProgress creates a progress printer. A zero interval means one second.
func NewProgress(w io.Writer, cs *ColorScheme, interval time.Duration) *Progress {
	if interval <= 0 {
		interval = time.Second
	}
	if cs == nil {
		cs = NoColorScheme()
	}
	return &Progress{w: w, cs: cs, interval: interval}
}

// Watch prints updates from src until ctx is done.
func (p *Progress) Watch(ctx context.Context, src Source) {
	p.mu.Lock()
	p.start = time.Now()
	p.lastTime = p.start
	p.mu.Unlock()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Print(p.Stats(src.Progress(), src.Aggregator().Snapshot()))
		}
	}
}

// Stats derives live statistics from a snapshot.
func (p *Progress) Stats(progress float64, snap *metrics.Snapshot) *LiveStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	total := snap.Total

	stats := &LiveStats{
		Progress:      progress,
		Elapsed:       now.Sub(p.start),
		TotalRequests: total.Requests,
		Dropped:       total.Dropped,
		ErrorRate:     total.ErrorRate,
		LatencyP95:    total.Latency.P95,
	}
	if dt := now.Sub(p.lastTime).Seconds(); dt > 0 {
		stats.CurrentRPS = float64(total.Requests-p.lastCount) / dt
	}
	p.lastCount = total.Requests
	p.lastTime = now

	return stats
}

// Print writes one status line.
func (p *Progress) Print(stats *LiveStats) {
	cs := p.cs
	fmt.Fprintf(p.w, "[%s] Progress: %s | Reqs: %s | RPS: %.1f | Dropped: %s | Errors: %s | P95: %s\n",
		formatDuration(stats.Elapsed),
		cs.Value.Sprintf("%3.0f%%", stats.Progress*100),
		formatNumber(stats.TotalRequests),
		stats.CurrentRPS,
		formatNumber(stats.Dropped),
		cs.rateColor(stats.ErrorRate).Sprintf("%.1f%%", stats.ErrorRate*100),
		formatLatency(stats.LatencyP95))
}
