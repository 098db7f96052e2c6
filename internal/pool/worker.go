package pool

import (
	"sync/atomic"
	"time"
)

// WorkerState represents the lifecycle state of a worker.
type WorkerState int32

const (
	// WorkerIdle indicates the worker is waiting for a slot.
	WorkerIdle WorkerState = iota
	// WorkerRunning indicates the worker is executing a slot.
	WorkerRunning
	// WorkerStopping indicates the pool is closing and the worker is
	// finishing its current slot.
	WorkerStopping
	// WorkerStopped indicates the worker will not run again.
	WorkerStopped
)

func (s WorkerState) String() string {
	switch s {
	case WorkerIdle:
		return "idle"
	case WorkerRunning:
		return "running"
	case WorkerStopping:
		return "stopping"
	case WorkerStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Worker is one virtual user. It runs at most one slot at a time.
type Worker struct {
	ID int

	state      atomic.Int32
	iterations atomic.Int64
	lastStart  atomic.Int64 // unix nanos
}

func newWorker(id int) *Worker {
	return &Worker{ID: id}
}

// State returns the current worker state.
func (w *Worker) State() WorkerState {
	return WorkerState(w.state.Load())
}

// Iterations returns how many slots the worker has run.
func (w *Worker) Iterations() int64 {
	return w.iterations.Load()
}

// LastStart returns the start time of the most recent slot.
func (w *Worker) LastStart() time.Time {
	ns := w.lastStart.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// begin moves idle -> running. It fails if the worker is being stopped.
func (w *Worker) begin() bool {
	if !w.state.CompareAndSwap(int32(WorkerIdle), int32(WorkerRunning)) {
		return false
	}
	w.lastStart.Store(time.Now().UnixNano())
	return true
}

// finish moves running -> idle, or stopping -> stopped. It reports whether
// the worker can be reused.
func (w *Worker) finish() bool {
	w.iterations.Add(1)
	if w.state.CompareAndSwap(int32(WorkerRunning), int32(WorkerIdle)) {
		return true
	}
	w.state.Store(int32(WorkerStopped))
	return false
}

// requestStop marks the worker for shutdown. An idle worker stops at once; a
// running one stops once its slot completes.
func (w *Worker) requestStop() {
	if w.state.CompareAndSwap(int32(WorkerIdle), int32(WorkerStopped)) {
		return
	}
	w.state.CompareAndSwap(int32(WorkerRunning), int32(WorkerStopping))
}
