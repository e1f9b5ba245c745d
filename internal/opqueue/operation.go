// Package opqueue implements the operation FIFO and the cooperative
// scheduler that drives it (§4.1, §3 "Operation").
package opqueue

import (
	"container/list"
	"sync"

	"github.com/ctfile/ctengine/internal/filestate"
)

// StartFunc is a driver's resumable entry point. It is re-invoked by the
// scheduler every time a wakeup condition is met for the current operation;
// the driver must inspect its own state (usually stored in Scratch) and
// advance only as far as resources permit.
type StartFunc func(op *Operation)

// CompleteFunc runs once, after the operation reaches Finished, and may
// enqueue follow-up operations (e.g. splicing a fetch before a consumer).
// Returning an error marks the whole queue dying (see Queue.Fatal).
type CompleteFunc func(op *Operation) error

// Operation is one driver instance (§3).
type Operation struct {
	Start    StartFunc
	Complete CompleteFunc
	Args     interface{} // caller-supplied argument pouch
	Scratch  interface{} // driver-private resume state

	state filestate.State
	elem  *list.Element
}

// State returns the operation's current file-state.
func (op *Operation) State() filestate.State { return op.state }

// SetState advances the operation's file-state. Drivers call this from
// every resume point (§4.1).
func (op *Operation) SetState(s filestate.State) { op.state = s }

// Queue is the FIFO of operations (§3, §4.1). Exactly one operation is
// "current" at a time; its Start is invoked on each wakeup until it reaches
// Finished, at which point Complete runs and the queue advances.
type Queue struct {
	mu      sync.Mutex
	l       *list.List
	dying   bool
	fatal   error
	wakeups chan struct{}
}

// NewQueue creates an empty queue with a buffered wakeup channel, so a
// wakeup fired while the loop is busy is not lost (coalesces, same as the
// original's single ct_wakeup_file condvar kick).
func NewQueue() *Queue {
	return &Queue{
		l:       list.New(),
		wakeups: make(chan struct{}, 1),
	}
}

// Add appends op to the tail of the queue.
func (q *Queue) Add(op *Operation) {
	q.mu.Lock()
	op.elem = q.l.PushBack(op)
	q.mu.Unlock()
	q.Kick()
}

// AddAfter splices op immediately after current (at the head if current is
// nil or no longer queued), inserting prerequisite work in front of a
// consumer. The delete and cull drivers do not use it: they queue their
// fetch-missing-into-cache extracts with Add from a reply callback.
func (q *Queue) AddAfter(current *Operation, op *Operation) {
	q.mu.Lock()
	if current == nil || current.elem == nil {
		op.elem = q.l.PushFront(op)
	} else {
		op.elem = q.l.InsertAfter(op, current.elem)
	}
	q.mu.Unlock()
	q.Kick()
}

// Current returns the queue's head operation, or nil if empty.
func (q *Queue) Current() *Operation {
	q.mu.Lock()
	defer q.mu.Unlock()
	if e := q.l.Front(); e != nil {
		return e.Value.(*Operation)
	}
	return nil
}

// advance removes the current (finished) operation from the queue.
func (q *Queue) advance(op *Operation) {
	q.mu.Lock()
	if op.elem != nil {
		q.l.Remove(op.elem)
		op.elem = nil
	}
	q.mu.Unlock()
}

// Empty reports whether the queue has no operations left.
func (q *Queue) Empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.l.Len() == 0
}

// Len reports the current queue depth, for the metrics package.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.l.Len()
}

// WaitWakeup blocks until the next Kick. Callers that have drained the
// queue itself but still have independent in-flight work to wait out
// (stragglers past the owning operation's Finished transition, §3) use
// this to avoid busy-waiting for the next one.
func (q *Queue) WaitWakeup() {
	<-q.wakeups
}

// Kick wakes the event loop. Safe to call from any goroutine (the transport
// calls this when a reply arrives; the pool calls this on release).
func (q *Queue) Kick() {
	select {
	case q.wakeups <- struct{}{}:
	default:
	}
}

// Dying reports whether the queue has been told to unwind (§5
// "Cancellation").
func (q *Queue) Dying() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dying
}

// Fatal marks the queue dying with err; every driver resume point observes
// this on its next invocation and unwinds without queueing further work.
func (q *Queue) Fatal(err error) {
	q.mu.Lock()
	if q.fatal == nil {
		q.fatal = err
	}
	q.dying = true
	q.mu.Unlock()
	q.Kick()
}

// Err returns the first fatal error recorded, if any.
func (q *Queue) Err() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.fatal
}
