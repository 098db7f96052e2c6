// Package engine orchestrates a load test run.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wesleyorama2/surgeload/internal/config"
	"github.com/wesleyorama2/surgeload/internal/executor"
	"github.com/wesleyorama2/surgeload/internal/metrics"
	"github.com/wesleyorama2/surgeload/internal/pool"
	"github.com/wesleyorama2/surgeload/internal/rate"
)

var (
	// ErrReportNotReady is returned by Summary before the run has stopped
	// issuing requests.
	ErrReportNotReady = errors.New("report not ready: run has not finished issuing requests")

	// ErrAlreadyStarted is returned by Run when called more than once.
	ErrAlreadyStarted = errors.New("engine has already been started")
)

// State is the lifecycle state of a run.
type State int32

const (
	// StatePending means the engine is built but Run has not been called.
	StatePending State = iota
	// StateRunning means slots are being issued.
	StateRunning
	// StateDraining means no new slots are issued and in-flight requests
	// are finishing.
	StateDraining
	// StateCompleted is terminal.
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. A nil logger disables logging.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithObserver mirrors every recorded event into o.
func WithObserver(o metrics.Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// WithHTTPClient overrides the shared HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) { e.client = c }
}

// WithClock overrides the scheduler clock.
func WithClock(c rate.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// Engine runs every scenario of a config concurrently against one shared
// aggregator.
//
// Example usage:
//
//	cfg := config.Default()
//	cfg.ApplyDefaults()
//	eng, err := engine.New(cfg)
//	if err != nil { ... }
//	result, err := eng.Run(ctx)
//	fmt.Println(result.Passed)
type Engine struct {
	cfg        *config.TestConfig
	thresholds []*config.Threshold

	logger   *zap.Logger
	observer metrics.Observer
	client   *http.Client
	clock    rate.Clock

	aggregator *metrics.Aggregator
	runners    []*scenarioRunner

	runID string
	state atomic.Int32

	mu        sync.Mutex // guards the fields below
	startTime time.Time
	endTime   time.Time
	final     *Result
}

// New validates cfg and prepares a run. Configuration problems are returned
// as *config.ValidationErrors and the run never starts.
func New(cfg *config.TestConfig, opts ...Option) (*Engine, error) {
	cfg = cfg.Clone()
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	thresholds, err := config.ParseThresholds(cfg.Thresholds)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:        cfg,
		thresholds: thresholds,
		logger:     zap.NewNop(),
		aggregator: metrics.NewAggregator(),
		runID:      uuid.NewString(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(zap.String("runId", e.runID))

	if e.observer != nil {
		e.aggregator.SetObserver(e.observer)
	}
	if e.client == nil {
		httpCfg := executor.DefaultHTTPClientConfig()
		if cfg.Settings.MaxIdleConnsPerHost > 0 {
			httpCfg.MaxIdleConnsPerHost = cfg.Settings.MaxIdleConnsPerHost
		}
		httpCfg.MaxConnsPerHost = cfg.Settings.MaxConnectionsPerHost
		e.client = executor.NewHTTPClient(httpCfg)
	}

	for _, name := range cfg.ScenarioNames() {
		r, err := e.newRunner(name, cfg.Scenarios[name])
		if err != nil {
			return nil, err
		}
		e.runners = append(e.runners, r)
	}

	return e, nil
}

func (e *Engine) newRunner(name string, sc *config.ScenarioConfig) (*scenarioRunner, error) {
	schedule, err := rate.NewSchedule(sc.Rate, time.Duration(sc.TimeUnit), time.Duration(sc.Duration))
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", name, err)
	}

	exec, err := executor.FromConfig(name, sc, executor.Options{
		BaseURL:  e.cfg.Settings.BaseURL,
		Client:   e.client,
		Recorder: e.aggregator,
		Headers:  e.cfg.Settings.Headers,
	})
	if err != nil {
		return nil, err
	}

	return &scenarioRunner{
		name:       name,
		cfg:        sc,
		schedule:   schedule,
		exec:       exec,
		aggregator: e.aggregator,
		clock:      e.clock,
		logger:     e.logger.With(zap.String("scenario", name)),
	}, nil
}

// RunID identifies the run in logs and results.
func (e *Engine) RunID() string {
	return e.runID
}

// Config returns the effective configuration.
func (e *Engine) Config() *config.TestConfig {
	return e.cfg
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Aggregator exposes the live metrics of the run.
func (e *Engine) Aggregator() *metrics.Aggregator {
	return e.aggregator
}

// Progress returns the fraction of all scheduled slots issued so far.
func (e *Engine) Progress() float64 {
	var total, emitted int64
	for _, r := range e.runners {
		total += r.schedule.Len()
		if t := r.getTicker(); t != nil {
			emitted += t.Stats().Emitted
		}
	}
	if total == 0 {
		return 1.0
	}
	return float64(emitted) / float64(total)
}

// Run executes every scenario concurrently and blocks until all in-flight
// requests have finished or been cancelled.
//
// Cancelling ctx stops issuing new slots; the run still drains and returns
// a result marked as interrupted.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	if !e.state.CompareAndSwap(int32(StatePending), int32(StateRunning)) {
		return nil, ErrAlreadyStarted
	}

	e.mu.Lock()
	e.startTime = time.Now()
	e.mu.Unlock()

	e.logger.Info("run started",
		zap.String("name", e.cfg.Name),
		zap.String("baseUrl", e.cfg.Settings.BaseURL),
		zap.Int("scenarios", len(e.runners)))

	var issuing sync.WaitGroup
	issuing.Add(len(e.runners))
	go func() {
		issuing.Wait()
		e.state.CompareAndSwap(int32(StateRunning), int32(StateDraining))
		e.logger.Info("all scenarios finished issuing, draining")
	}()

	var interrupted atomic.Bool
	g := new(errgroup.Group)
	for _, r := range e.runners {
		g.Go(func() error {
			err := r.run(ctx, issuing.Done)
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				interrupted.Store(true)
				return nil
			}
			return err
		})
	}
	runErr := g.Wait()

	// The issuing goroutine may not have run yet.
	issuing.Wait()
	e.state.CompareAndSwap(int32(StateRunning), int32(StateDraining))

	e.mu.Lock()
	e.endTime = time.Now()
	e.mu.Unlock()

	result := e.summarize()
	result.Interrupted = interrupted.Load()

	e.mu.Lock()
	e.final = result
	e.mu.Unlock()
	e.state.Store(int32(StateCompleted))

	e.logger.Info("run completed",
		zap.Duration("duration", result.Duration),
		zap.Int64("requests", result.Total.Requests),
		zap.Int64("dropped", result.Total.Dropped),
		zap.Bool("passed", result.Passed),
		zap.Bool("interrupted", result.Interrupted))

	if runErr != nil {
		return result, fmt.Errorf("run failed: %w", runErr)
	}
	return result, nil
}

// Summary returns the run result. While draining it reflects the requests
// completed so far; once completed it is the final result.
func (e *Engine) Summary() (*Result, error) {
	switch e.State() {
	case StateCompleted:
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.final, nil
	case StateDraining:
		return e.summarize(), nil
	default:
		return nil, ErrReportNotReady
	}
}

func (e *Engine) summarize() *Result {
	e.mu.Lock()
	start, end := e.startTime, e.endTime
	e.mu.Unlock()
	if end.IsZero() {
		end = time.Now()
	}

	snap := e.aggregator.Snapshot()

	res := &Result{
		RunID:     e.runID,
		Name:      e.cfg.Name,
		BaseURL:   e.cfg.Settings.BaseURL,
		StartTime: start,
		EndTime:   end,
		Duration:  end.Sub(start),
		Total:     snap.Total,
	}

	for _, r := range e.runners {
		series, _ := snap.Get(r.name)
		if series.Name == "" {
			series = metrics.Combine(r.name)
		}
		sr := ScenarioResult{
			Name:            r.name,
			Exec:            r.cfg.Exec,
			Request:         r.exec.Name(),
			Rate:            r.schedule.PerSecond(),
			Duration:        r.schedule.Duration(),
			Scheduled:       r.schedule.Len(),
			PreAllocatedVUs: r.cfg.PreAllocatedVUs,
			MaxVUs:          r.cfg.MaxVUs,
			Tags:            r.cfg.Tags,
			Metrics:         series,
		}
		if t := r.getTicker(); t != nil {
			sr.Ticker = t.Stats()
		}
		if p := r.getPool(); p != nil {
			sr.Pool = p.Stats()
		}
		sr.Stragglers = int(r.stragglers.Load())
		res.Scenarios = append(res.Scenarios, sr)
	}
	sort.Slice(res.Scenarios, func(i, j int) bool { return res.Scenarios[i].Name < res.Scenarios[j].Name })

	res.Thresholds = EvaluateThresholds(e.thresholds, res)
	res.Passed = true
	for _, t := range res.Thresholds {
		if !t.Passed {
			res.Passed = false
			break
		}
	}

	return res
}

// scenarioRunner drives one scenario: a ticker feeding a worker pool.
type scenarioRunner struct {
	name       string
	cfg        *config.ScenarioConfig
	schedule   *rate.Schedule
	exec       executor.Executor
	aggregator *metrics.Aggregator
	clock      rate.Clock
	logger     *zap.Logger

	mu     sync.Mutex
	ticker *rate.Ticker
	pool   *pool.Pool

	stragglers atomic.Int32
}

func (r *scenarioRunner) getTicker() *rate.Ticker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ticker
}

func (r *scenarioRunner) getPool() *pool.Pool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pool
}

// run issues every slot, calls issued once issuing stops, then drains the
// pool.
func (r *scenarioRunner) run(ctx context.Context, issued func()) error {
	ticker := rate.NewTicker(r.name, r.schedule, r.clock)
	p := pool.New(ctx, pool.Config{
		Name:         r.name,
		PreAllocated: r.cfg.PreAllocatedVUs,
		Max:          r.cfg.MaxVUs,
	}, r.work, pool.Hooks{
		OnDrop: func(rate.Slot) { r.aggregator.RecordDropped(r.name) },
	}, r.logger)

	r.mu.Lock()
	r.ticker = ticker
	r.pool = p
	r.mu.Unlock()

	r.logger.Info("scenario started",
		zap.Float64("ratePerSecond", r.schedule.PerSecond()),
		zap.Duration("interval", r.schedule.Interval()),
		zap.Duration("duration", r.schedule.Duration()),
		zap.Int64("slots", r.schedule.Len()),
		zap.Int("preAllocatedVUs", p.Config().PreAllocated),
		zap.Int("maxVUs", p.Config().Max))

	err := ticker.Run(ctx, func(slot rate.Slot) {
		r.aggregator.RecordIssued(r.name)
		p.Dispatch(slot)
	})
	issued()

	grace := time.Duration(r.cfg.GracefulStop)
	stragglers := p.Close(grace)
	r.stragglers.Store(int32(stragglers))

	stats := p.Stats()
	tstats := ticker.Stats()
	r.logger.Info("scenario finished",
		zap.Int64("issued", tstats.Emitted),
		zap.Int64("dispatched", stats.Dispatched),
		zap.Int64("completed", stats.Completed),
		zap.Int64("dropped", stats.Dropped),
		zap.Int("peakVUs", stats.Peak),
		zap.Duration("maxLag", tstats.MaxLag),
		zap.Int("stragglers", stragglers))

	if stats.Dropped > 0 {
		r.logger.Warn("iterations dropped: no free worker at slot time",
			zap.Int64("dropped", stats.Dropped),
			zap.Int("maxVUs", p.Config().Max))
	}

	return err
}

func (r *scenarioRunner) work(ctx context.Context, _ rate.Slot) error {
	res := r.exec.Execute(ctx)
	if res.Error {
		return errors.New(res.ErrorText)
	}
	return nil
}
