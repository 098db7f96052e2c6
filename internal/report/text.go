// Package report renders run results as text and JSON.
package report

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/wesleyorama2/surgeload/internal/engine"
	"github.com/wesleyorama2/surgeload/internal/metrics"
)

const ruleWidth = 56

// Options control text rendering.
type Options struct {
	// Colors defaults to NoColorScheme.
	Colors *ColorScheme

	// Distribution adds the latency histogram to each scenario section.
	Distribution bool
}

// RenderText writes the end-of-run summary: one section per scenario, the
// run totals, then thresholds and the overall status.
func RenderText(w io.Writer, res *engine.Result, opts Options) error {
	cs := opts.Colors
	if cs == nil {
		cs = NoColorScheme()
	}
	tw := &textWriter{w: w, cs: cs}

	rule := strings.Repeat("━", ruleWidth)
	status := cs.Success.Sprint("Completed ✓")
	switch {
	case !res.Passed:
		status = cs.Error.Sprint("Failed ✗")
	case res.Interrupted:
		status = cs.Warn.Sprint("Interrupted")
	}

	tw.println(cs.Title.Sprint(rule))
	tw.printf("%s - %s\n", cs.Section.Sprint(res.Name), status)
	tw.println(cs.Title.Sprint(rule))
	tw.field("Run ID", res.RunID)
	tw.field("Target", res.BaseURL)
	tw.field("Duration", formatDuration(res.Duration))
	tw.println("")

	for _, sc := range res.Scenarios {
		tw.scenario(sc, opts)
	}

	if len(res.Scenarios) > 1 {
		tw.println(cs.Section.Sprint("Total"))
		tw.metrics(res.Total, res.Duration)
		tw.println("")
	}

	if len(res.Thresholds) > 0 {
		tw.println(cs.Section.Sprint("Thresholds:"))
		for _, t := range res.Thresholds {
			actual := t.Value
			if actual == "" {
				actual = "n/a"
			}
			tw.printf("  %s %s %s (actual: %s)\n", cs.PassIcon(t.Passed), t.Key, t.Expression, actual)
			if !t.Passed && t.Message != "" && t.Value == "" {
				tw.printf("      %s\n", cs.Dim.Sprint(t.Message))
			}
		}
		tw.println("")
	}

	if res.Passed {
		tw.println(cs.Success.Sprint("PASSED"))
	} else {
		tw.printf("%s (%d of %d thresholds failed)\n", cs.Error.Sprint("FAILED"), len(res.FailedThresholds()), len(res.Thresholds))
	}

	return tw.err
}

type textWriter struct {
	w   io.Writer
	cs  *ColorScheme
	err error
}

func (t *textWriter) printf(format string, args ...any) {
	if t.err != nil {
		return
	}
	_, t.err = fmt.Fprintf(t.w, format, args...)
}

func (t *textWriter) println(s string) {
	t.printf("%s\n", s)
}

func (t *textWriter) field(label, value string) {
	t.printf("  %-15s %s\n", label+":", t.cs.Value.Sprint(value))
}

func (t *textWriter) scenario(sc engine.ScenarioResult, opts Options) {
	cs := t.cs
	t.printf("%s %s %s\n", cs.Section.Sprint("Scenario:"), cs.Highlight.Sprint(sc.Name), cs.Dim.Sprintf("(%s)", sc.Request))
	t.field("Target rate", fmt.Sprintf("%.1f/s for %s, %d-%d VUs", sc.Rate, formatDuration(sc.Duration), sc.PreAllocatedVUs, sc.MaxVUs))
	t.metrics(sc.Metrics, sc.Duration)
	if sc.Pool.Peak > 0 {
		t.field("Peak VUs", fmt.Sprintf("%d of %d", sc.Pool.Peak, sc.MaxVUs))
	}
	if sc.Ticker.MaxLag > 0 {
		t.field("Max lag", formatLatency(sc.Ticker.MaxLag))
	}
	if sc.Stragglers > 0 {
		t.field("Interrupted", cs.Warn.Sprintf("%d requests cancelled after graceful stop", sc.Stragglers))
	}

	if len(sc.Metrics.Checks) > 0 {
		t.printf("  %s\n", cs.Section.Sprint("Checks:"))
		tab := tabwriter.NewWriter(t.w, 0, 0, 2, ' ', 0)
		for _, c := range sc.Metrics.Checks {
			total := c.Passes + c.Fails
			pct := 0.0
			if total > 0 {
				pct = float64(c.Passes) / float64(total) * 100
			}
			fmt.Fprintf(tab, "    %s %s\t%s\t%s\n",
				cs.PassIcon(c.Fails == 0), c.Name,
				formatNumber(c.Passes)+" / "+formatNumber(c.Fails),
				fmt.Sprintf("%.2f%%", pct))
		}
		if err := tab.Flush(); err != nil && t.err == nil {
			t.err = err
		}
	}

	if opts.Distribution && len(sc.Metrics.Distribution) > 0 {
		t.printf("  %s\n", cs.Section.Sprint("Distribution:"))
		t.distribution(sc.Metrics.Distribution, sc.Metrics.Requests)
	}
	t.println("")
}

func (t *textWriter) metrics(m metrics.SeriesSnapshot, d time.Duration) {
	cs := t.cs

	reqs := formatNumber(m.Requests)
	if secs := d.Seconds(); secs > 0 {
		reqs += fmt.Sprintf(" (%.1f/s)", float64(m.Requests)/secs)
	}
	t.field("Requests", reqs)
	t.field("Issued", formatNumber(m.Issued))

	dropped := formatNumber(m.Dropped)
	if m.Dropped > 0 {
		dropped = cs.Warn.Sprint(dropped)
	}
	t.printf("  %-15s %s\n", "Dropped:", dropped)

	t.printf("  %-15s %s  %s\n", "Error rate:",
		cs.rateColor(m.ErrorRate).Sprintf("%.2f%%", m.ErrorRate*100),
		cs.Dim.Sprintf("(%s failed, %s transport errors)", formatNumber(m.Errors), formatNumber(m.TransportErrors)))
	t.printf("  %-15s %s\n", "HTTP failed:", cs.rateColor(m.HTTPFailedRate).Sprintf("%.2f%%", m.HTTPFailedRate*100))

	if codes := m.StatusCodeList(); len(codes) > 0 {
		parts := make([]string, 0, len(codes))
		for _, code := range codes {
			label := fmt.Sprintf("%d", code)
			if code == 0 {
				label = "none"
			}
			parts = append(parts, fmt.Sprintf("%s=%s", label, formatNumber(m.StatusCodes[code])))
		}
		t.field("Status codes", strings.Join(parts, " "))
	}

	if m.Latency.Count == 0 {
		t.field("Latency", "no data")
		return
	}
	t.printf("  %s\n", cs.Section.Sprint("Latency:"))
	t.printf("    %-6s %10s   %-6s %10s   %-6s %10s\n",
		"p50", formatLatency(m.Latency.P50),
		"p95", formatLatency(m.Latency.P95),
		"p99", formatLatency(m.Latency.P99))
	t.printf("    %-6s %10s   %-6s %10s   %-6s %10s\n",
		"min", formatLatency(m.Latency.Min),
		"avg", formatLatency(m.Latency.Mean),
		"max", formatLatency(m.Latency.Max))
}

func (t *textWriter) distribution(buckets []metrics.Bucket, total int64) {
	const barWidth = 30

	bars := coarsen(buckets, 10)
	var peak int64
	for _, b := range bars {
		if b.Count > peak {
			peak = b.Count
		}
	}
	for _, b := range bars {
		width := 0
		if peak > 0 {
			width = int(float64(b.Count) / float64(peak) * barWidth)
		}
		pct := 0.0
		if total > 0 {
			pct = float64(b.Count) / float64(total) * 100
		}
		t.printf("    %10s - %-10s %s %s\n",
			formatLatency(b.From), formatLatency(b.To),
			t.cs.Value.Sprint(strings.Repeat("█", width)+strings.Repeat("░", barWidth-width)),
			fmt.Sprintf("%5.1f%%", pct))
	}
}

// coarsen merges adjacent buckets so that at most n remain.
func coarsen(buckets []metrics.Bucket, n int) []metrics.Bucket {
	if len(buckets) <= n {
		return buckets
	}
	per := (len(buckets) + n - 1) / n
	out := make([]metrics.Bucket, 0, n)
	for i := 0; i < len(buckets); i += per {
		end := i + per
		if end > len(buckets) {
			end = len(buckets)
		}
		b := metrics.Bucket{From: buckets[i].From, To: buckets[end-1].To}
		for _, x := range buckets[i:end] {
			b.Count += x.Count
		}
		out = append(out, b)
	}
	return out
}

// formatDuration formats a duration in a human-readable format.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %02ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %02dm %02ds", h, m, s)
}

// formatLatency formats a latency with two decimals in the closest unit.
func formatLatency(d time.Duration) string {
	switch {
	case d <= 0:
		return "0ms"
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%.2fms", float64(d)/float64(time.Millisecond))
	default:
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
}

// formatNumber formats a number with thousands separators.
func formatNumber(n int64) string {
	if n < 0 {
		return "-" + formatNumber(-n)
	}
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	var result strings.Builder
	offset := len(str) % 3
	if offset > 0 {
		result.WriteString(str[:offset])
	}
	for i := offset; i < len(str); i += 3 {
		if result.Len() > 0 {
			result.WriteString(",")
		}
		result.WriteString(str[i : i+3])
	}
	return result.String()
}
