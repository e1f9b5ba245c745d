package opqueue

import "github.com/ctfile/ctengine/internal/filestate"

// Run drives q to completion (§4.1, §5 "Scheduling model"). See
// RunWithDrain for the variant that also pumps external (e.g. transport)
// events through the same single goroutine.
func Run(q *Queue) error {
	return RunWithDrain(q, nil)
}

// RunWithDrain drives q to completion exactly like Run, but calls drain
// once at the top of every loop iteration — including immediately after
// waking from a wakeup — before touching the current operation. This is
// the hook that lets a single goroutine own both "run the current
// operation" and "process any replies that arrived asynchronously",
// satisfying §5's "the transport may issue I/O from its own thread(s) but
// completion callbacks run on the event loop": the transport's own
// goroutine only ever enqueues; drain is what actually invokes
// dispatch/Complete, and it only ever runs here.
func RunWithDrain(q *Queue, drain func()) error {
	for {
		if drain != nil {
			drain()
		}
		if q.Dying() {
			drainDying(q, drain)
			return q.Err()
		}
		op := q.Current()
		if op == nil {
			return q.Err()
		}
		op.Start(op)
		if op.State() == filestate.Finished {
			q.advance(op)
			if op.Complete != nil {
				if err := op.Complete(op); err != nil {
					q.Fatal(err)
				}
			}
			continue // re-check without waiting: next op may be ready now
		}
		<-q.wakeups
	}
}

// drainDying runs each remaining operation's Start once more so it observes
// Dying() and releases its held resources (§5 "Cancellation": "every driver
// resume point checks [dying] and, if set, frees its private state ...
// In-flight transactions continue to drain").
func drainDying(q *Queue, drain func()) {
	for {
		if drain != nil {
			drain()
		}
		op := q.Current()
		if op == nil {
			return
		}
		op.Start(op)
		q.advance(op)
	}
}
