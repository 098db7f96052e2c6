package report

import (
	"bytes"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/wesleyorama2/surgeload/internal/engine"
)

// GenerateHTML renders a self-contained HTML report and writes it to path.
func GenerateHTML(res *engine.Result, path string) error {
	html, err := GenerateHTMLString(res)
	if err != nil {
		return fmt.Errorf("failed to generate HTML: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(html), 0o644); err != nil {
		return fmt.Errorf("failed to write HTML file: %w", err)
	}
	return nil
}

// GenerateHTMLString renders the HTML report. The page carries no scripts
// or external assets.
func GenerateHTMLString(res *engine.Result) (string, error) {
	if res == nil {
		return "", fmt.Errorf("result cannot be nil")
	}

	tmpl, err := template.New("report").Funcs(templateFuncs()).Parse(htmlTemplate)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, NewDocument(res)); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}
	return buf.String(), nil
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"number":   formatNumber,
		"bytes":    formatBytes,
		"ms":       func(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) + "ms" },
		"percent":  func(v float64) string { return strconv.FormatFloat(v*100, 'f', 2, 64) + "%" },
		"rate":     func(v float64) string { return strconv.FormatFloat(v, 'f', 1, 64) + "/s" },
		"statuses": sortedStatuses,
		"width":    barWidth,
		"peak":     peakCount,
		"rateClass": func(v float64) string {
			switch {
			case v > 0.05:
				return "bad"
			case v > 0.01:
				return "warn"
			}
			return "ok"
		},
	}
}

type statusCount struct {
	Code  string
	Count int64
}

func sortedStatuses(m map[string]int64) []statusCount {
	out := make([]statusCount, 0, len(m))
	for code, n := range m {
		out = append(out, statusCount{Code: code, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

func peakCount(buckets []BucketDoc) int64 {
	var peak int64
	for _, b := range buckets {
		if b.Count > peak {
			peak = b.Count
		}
	}
	return peak
}

// barWidth returns a CSS percentage for count relative to peak.
func barWidth(count, peak int64) string {
	if peak <= 0 {
		return "0%"
	}
	return strconv.FormatFloat(float64(count)/float64(peak)*100, 'f', 1, 64) + "%"
}

// formatBytes formats bytes in a human-readable way.
func formatBytes(n int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case n >= GB:
		return fmt.Sprintf("%.2f GB", float64(n)/GB)
	case n >= MB:
		return fmt.Sprintf("%.2f MB", float64(n)/MB)
	case n >= KB:
		return fmt.Sprintf("%.2f KB", float64(n)/KB)
	default:
		return fmt.Sprintf("%d B", n)
	}
}

const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>{{.Name}} - Load Test Report</title>
<style>
body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; background: #f8fafc; color: #1e293b; margin: 0; }
.container { max-width: 1100px; margin: 0 auto; padding: 2rem; }
h1 { margin-bottom: .25rem; }
.meta { color: #64748b; font-size: .9rem; }
.card { background: #fff; border: 1px solid #e2e8f0; border-radius: 8px; padding: 1.25rem; margin: 1.25rem 0; }
.badge { display: inline-block; padding: .2rem .6rem; border-radius: 4px; font-weight: 600; color: #fff; }
.badge.pass { background: #22c55e; } .badge.fail { background: #ef4444; } .badge.warn { background: #f59e0b; }
table { border-collapse: collapse; width: 100%; }
th, td { text-align: left; padding: .35rem .6rem; border-bottom: 1px solid #e2e8f0; font-variant-numeric: tabular-nums; }
th { color: #64748b; font-weight: 500; }
.ok { color: #16a34a; } .warn { color: #d97706; } .bad { color: #dc2626; }
.bar { background: #3b82f6; height: .8rem; border-radius: 2px; }
</style>
</head>
<body>
<div class="container">
<h1>{{.Name}}
{{if not .Passed}}<span class="badge fail">FAILED</span>{{else if .Interrupted}}<span class="badge warn">INTERRUPTED</span>{{else}}<span class="badge pass">PASSED</span>{{end}}
</h1>
<div class="meta">Run {{.RunID}} &middot; {{.BaseURL}} &middot; {{.StartTime.Format "2006-01-02 15:04:05 MST"}} &middot; {{printf "%.1f" .DurationSec}}s</div>

{{if .Thresholds}}
<div class="card">
<h2>Thresholds</h2>
<table>
<tr><th></th><th>Metric</th><th>Expression</th><th>Actual</th></tr>
{{range .Thresholds}}<tr>
<td class="{{if .Passed}}ok{{else}}bad{{end}}">{{if .Passed}}&#10003;{{else}}&#10007;{{end}}</td>
<td>{{.Key}}</td><td>{{.Expression}}</td><td>{{if .Value}}{{.Value}}{{else}}{{.Message}}{{end}}</td>
</tr>{{end}}
</table>
</div>
{{end}}

{{range .Scenarios}}
<div class="card">
<h2>{{.Name}} <span class="meta">{{.Request}}</span></h2>
<table>
<tr><th>Target rate</th><td>{{rate .RatePerSecond}}</td><th>Requests</th><td>{{number .Metrics.Requests}} ({{rate .Metrics.RequestsPerSec}})</td></tr>
<tr><th>Issued</th><td>{{number .Metrics.Issued}} of {{number .Scheduled}}</td><th>Dropped</th><td class="{{if .Metrics.Dropped}}warn{{else}}ok{{end}}">{{number .Metrics.Dropped}}</td></tr>
<tr><th>Error rate</th><td class="{{rateClass .Metrics.ErrorRate}}">{{percent .Metrics.ErrorRate}}</td><th>HTTP failed</th><td class="{{rateClass .Metrics.HTTPFailedRate}}">{{percent .Metrics.HTTPFailedRate}}</td></tr>
<tr><th>VUs</th><td>peak {{.PeakVUs}} of {{.MaxVUs}}</td><th>Data received</th><td>{{bytes .Metrics.Bytes}}</td></tr>
<tr><th>Status codes</th><td colspan="3">{{range statuses .Metrics.StatusCodes}}{{.Code}}={{number .Count}} {{end}}</td></tr>
</table>
<h3>Latency</h3>
<table>
<tr><th>min</th><th>avg</th><th>p50</th><th>p90</th><th>p95</th><th>p99</th><th>max</th></tr>
<tr><td>{{ms .Metrics.Latency.Min}}</td><td>{{ms .Metrics.Latency.Mean}}</td><td>{{ms .Metrics.Latency.P50}}</td><td>{{ms .Metrics.Latency.P90}}</td><td>{{ms .Metrics.Latency.P95}}</td><td>{{ms .Metrics.Latency.P99}}</td><td>{{ms .Metrics.Latency.Max}}</td></tr>
</table>
{{if .Metrics.Checks}}
<h3>Checks</h3>
<table>
<tr><th>Check</th><th>Passes</th><th>Fails</th></tr>
{{range .Metrics.Checks}}<tr><td>{{.Name}}</td><td class="ok">{{number .Passes}}</td><td class="{{if .Fails}}bad{{end}}">{{number .Fails}}</td></tr>{{end}}
</table>
{{end}}
{{with .Metrics.Distribution}}{{$peak := peak .}}
<h3>Distribution</h3>
<table>
{{range .}}<tr><td>{{ms .FromMs}} - {{ms .ToMs}}</td><td style="width:60%"><div class="bar" style="width:{{width .Count $peak}}"></div></td><td>{{number .Count}}</td></tr>{{end}}
</table>
{{end}}
</div>
{{end}}
</div>
</body>
</html>
`
