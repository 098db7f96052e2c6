// Package pool runs scheduled slots on a bounded set of workers.
//
// A Pool never queues: a slot that finds every worker busy while the pool is
// already at its maximum size is counted as dropped and discarded.
package pool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/surgeload/internal/rate"
)

// DefaultGracefulStop is how long Close waits for in-flight slots by default.
const DefaultGracefulStop = 30 * time.Second

// hardStopWait bounds the wait for stragglers after their context has been
// cancelled.
const hardStopWait = time.Second

// WorkFunc executes one slot. It should honor ctx cancellation.
type WorkFunc func(ctx context.Context, slot rate.Slot) error

// Config sizes a pool.
type Config struct {
	// Name labels log lines and errors, usually the scenario name.
	Name string

	// PreAllocated workers are created up front.
	PreAllocated int

	// Max is the hard cap on workers. Values below PreAllocated are raised.
	Max int
}

// Normalize applies the sizing rules and returns the adjusted config.
func (c Config) Normalize() Config {
	if c.PreAllocated <= 0 {
		c.PreAllocated = 1
	}
	if c.Max < c.PreAllocated {
		c.Max = c.PreAllocated
	}
	return c
}

// Hooks are optional callbacks fired by the pool.
type Hooks struct {
	// OnDrop is called for every slot that could not be dispatched.
	OnDrop func(slot rate.Slot)

	// OnError is called when work returns an error or panics. The pool
	// keeps running either way.
	OnError func(slot rate.Slot, err error)
}

// Pool is a bounded, non-queuing worker pool.
type Pool struct {
	cfg    Config
	work   WorkFunc
	hooks  Hooks
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	idle    chan *Worker // workers ready to take a slot
	mu      sync.Mutex   // guards workers and closed
	workers []*Worker
	closed  bool
	wg      sync.WaitGroup

	busy       atomic.Int32
	peak       atomic.Int32
	dispatched atomic.Int64
	dropped    atomic.Int64
	failed     atomic.Int64
}

// New creates a pool and pre-allocates its workers.
//
// Work runs under a context derived from ctx without its cancellation, so
// in-flight slots survive the end of the schedule and are only cancelled
// when Close gives up waiting.
func New(ctx context.Context, cfg Config, work WorkFunc, hooks Hooks, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.Normalize()

	poolCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	p := &Pool{
		cfg:     cfg,
		work:    work,
		hooks:   hooks,
		logger:  logger.With(zap.String("component", "pool"), zap.String("scenario", cfg.Name)),
		ctx:     poolCtx,
		cancel:  cancel,
		idle:    make(chan *Worker, cfg.Max),
		workers: make([]*Worker, 0, cfg.Max),
	}

	for i := 0; i < cfg.PreAllocated; i++ {
		w := newWorker(i)
		p.workers = append(p.workers, w)
		p.idle <- w
	}

	p.logger.Debug("pool ready",
		zap.Int("preAllocated", cfg.PreAllocated),
		zap.Int("max", cfg.Max))

	return p
}

// Config returns the normalized configuration.
func (p *Pool) Config() Config {
	return p.cfg
}

// Dispatch hands the slot to a worker without blocking.
//
// It returns false when the slot was dropped: either the pool is closed or
// every worker is busy and the pool is at Max.
func (p *Pool) Dispatch(slot rate.Slot) bool {
	w := p.acquire()
	if w == nil {
		p.dropped.Add(1)
		if p.hooks.OnDrop != nil {
			p.hooks.OnDrop(slot)
		}
		return false
	}

	p.dispatched.Add(1)
	busy := p.busy.Add(1)
	for {
		peak := p.peak.Load()
		if busy <= peak || p.peak.CompareAndSwap(peak, busy) {
			break
		}
	}

	p.wg.Add(1)
	go p.runSlot(w, slot)
	return true
}

// acquire returns an idle worker, spawning one if below Max, or nil.
func (p *Pool) acquire() *Worker {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}

	for {
		select {
		case w := <-p.idle:
			if w.begin() {
				return w
			}
			// Stopped while idle; discard it.
			continue
		default:
		}
		break
	}

	if len(p.workers) < p.cfg.Max {
		w := newWorker(len(p.workers))
		p.workers = append(p.workers, w)
		w.begin()
		p.logger.Debug("spawned worker", zap.Int("workers", len(p.workers)))
		return w
	}

	return nil
}

func (p *Pool) runSlot(w *Worker, slot rate.Slot) {
	defer p.wg.Done()
	defer p.release(w)

	defer func() {
		if r := recover(); r != nil {
			p.fail(slot, fmt.Errorf("worker %d panicked on slot %d: %v", w.ID, slot.Index, r))
		}
	}()

	if err := p.work(p.ctx, slot); err != nil {
		p.fail(slot, err)
	}
}

func (p *Pool) fail(slot rate.Slot, err error) {
	p.failed.Add(1)
	p.logger.Debug("slot failed", zap.Int64("slot", slot.Index), zap.Error(err))
	if p.hooks.OnError != nil {
		p.hooks.OnError(slot, err)
	}
}

// release returns w to the idle set before it stops counting as busy, so
// Busy never reads lower than the number of workers that cannot take a slot.
func (p *Pool) release(w *Worker) {
	defer p.busy.Add(-1)
	if !w.finish() {
		return
	}
	// idle has capacity Max and holds each worker at most once.
	p.idle <- w
}

// Close stops accepting slots and waits up to gracefulStop for in-flight
// slots. Slots still running after that have their context cancelled. It
// returns the number of workers that were still busy when gracefulStop
// expired.
func (p *Pool) Close(gracefulStop time.Duration) int {
	if gracefulStop <= 0 {
		gracefulStop = DefaultGracefulStop
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0
	}
	p.closed = true
	for _, w := range p.workers {
		w.requestStop()
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	defer p.cancel()

	timer := time.NewTimer(gracefulStop)
	defer timer.Stop()

	select {
	case <-done:
		return 0
	case <-timer.C:
	}

	stragglers := int(p.busy.Load())
	p.logger.Warn("graceful stop expired, cancelling in-flight slots",
		zap.Duration("gracefulStop", gracefulStop),
		zap.Int("busy", stragglers))
	p.cancel()

	select {
	case <-done:
	case <-time.After(hardStopWait):
		p.logger.Warn("workers ignored cancellation", zap.Int("busy", int(p.busy.Load())))
	}
	return stragglers
}

// Stats returns a point-in-time view of the pool.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	workers := len(p.workers)
	var completed int64
	var lastStart time.Time
	for _, w := range p.workers {
		completed += w.Iterations()
		if ls := w.LastStart(); ls.After(lastStart) {
			lastStart = ls
		}
	}
	p.mu.Unlock()

	return Stats{
		Workers:    workers,
		Completed:  completed,
		LastStart:  lastStart,
		Busy:       int(p.busy.Load()),
		Peak:       int(p.peak.Load()),
		Dispatched: p.dispatched.Load(),
		Dropped:    p.dropped.Load(),
		Failed:     p.failed.Load(),
	}
}

// Stats contains pool counters.
type Stats struct {
	Workers    int       `json:"workers"`    // Workers created so far
	Busy       int       `json:"busy"`       // Workers running a slot
	Peak       int       `json:"peak"`       // Highest concurrent busy count
	Dispatched int64     `json:"dispatched"` // Slots handed to a worker
	Completed  int64     `json:"completed"`  // Slots whose work has returned
	Dropped    int64     `json:"dropped"`    // Slots discarded
	Failed     int64     `json:"failed"`     // Slots whose work errored or panicked
	LastStart  time.Time `json:"lastStart"`  // Most recent slot start on any worker
}
