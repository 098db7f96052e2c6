// Package metrics aggregates request results for a load test run.
//
// An Aggregator keeps one Series per scenario. Each Series guards an HDR
// histogram of request latency (microsecond resolution, 1µs to 1h, 3
// significant figures) together with request, error, check, issued and
// dropped counters. Percentiles read from the histogram depend only on the
// recorded values, never on the order they arrived in, and two series can be
// merged in any grouping with the same result.
//
// Snapshot takes each series lock in turn and returns deep copies, so a
// report can be built while workers are still recording.
//
//	agg := metrics.NewAggregator()
//	agg.Record(metrics.Sample{Scenario: "pricing_load", Duration: 12 * time.Millisecond, StatusCode: 200, Success: true})
//	snap := agg.Snapshot()
//	p95 := snap.Scenarios["pricing_load"].Percentile(95)
package metrics
