// Package engine wires the transaction pool, operation queue, transport,
// chunk store and chunk database into the single GlobalState each driver
// operates against (§2 "Data flows top-down: driver -> transaction pool
// (acquire) -> XML codec (marshal) -> transport (send). Replies flow
// transport -> XML codec -> driver completion callback -> operation
// queue.").
package engine

import (
	"context"
	"sync"

	"github.com/ctfile/ctengine/chunkstore"
	"github.com/ctfile/ctengine/config"
	"github.com/ctfile/ctengine/control"
	"github.com/ctfile/ctengine/ctdb"
	"github.com/ctfile/ctengine/internal/ctxerr"
	"github.com/ctfile/ctengine/internal/logging"
	"github.com/ctfile/ctengine/internal/opqueue"
	"github.com/ctfile/ctengine/internal/trans"
	"github.com/ctfile/ctengine/metrics"
	"github.com/ctfile/ctengine/transport"
)

var log = logging.WithComponent(logging.ComponentTrans)

// GlobalState is the process-wide shared state §5 describes: "the
// transaction pool, operation queue, file-state variable, live-SHA set,
// and ct_cull_all_ctfiles set are process-wide ... mutation occurs only
// from the event-loop thread". Cull-specific state is deliberately absent
// here — it is bound to an explicit cull.Session per operation instead of
// living on GlobalState (§9 "Process-global state").
//
// §5 also requires that "if the transport uses auxiliary threads, they
// signal the loop via wakeups and post data through bounded queues — they
// do not mutate shared structures directly." OnReply is that posting
// point: it only ever appends to a mutex-protected inbox and kicks the
// queue. The actual dispatch/Complete work — the only code that touches
// transactions, fnodes, and driver scratch state — runs exclusively from
// drainReplies, called from Run on the same goroutine as every operation's
// Start.
type GlobalState struct {
	Pool      *trans.Pool
	Queue     *opqueue.Queue
	Chunks    chunkstore.Store
	DB        *ctdb.DB
	Cfg       *config.Config
	Transport transport.Transport

	mu       sync.Mutex
	inflight map[uint64]*trans.Transaction
	tagSeq   uint64

	inboxMu sync.Mutex
	inbox   []transport.Frame
}

// New builds a GlobalState. The caller must call AttachTransport once a
// Transport has been constructed with gs.OnReply as its reply handler —
// the two are mutually referential so construction happens in two steps.
func New(cfg *config.Config, chunks chunkstore.Store, db *ctdb.DB) *GlobalState {
	gs := &GlobalState{
		Pool:     trans.NewPool(cfg.Transfer.TransactionSlots),
		Queue:    opqueue.NewQueue(),
		Chunks:   chunks,
		DB:       db,
		Cfg:      cfg,
		inflight: make(map[uint64]*trans.Transaction),
	}
	gs.Pool.OnFree(gs.Queue.Kick)
	return gs
}

// AttachTransport binds the transport the engine sends requests over.
func (gs *GlobalState) AttachTransport(tr transport.Transport) {
	gs.Transport = tr
}

// Run drives the engine's queue to completion, pumping any replies queued
// by OnReply through the event loop between (and only between) operation
// Start invocations.
//
// §3's invariant that file-state "advances FINISHED only when the driver
// has queued its terminal transaction" means an operation can leave the
// queue before its last transaction's reply has actually landed (the
// extract driver's close-converted straggler is the clearest case). Once
// the queue itself empties, Run keeps pumping replies until every
// transaction the engine handed out has also come back, so callers never
// observe completion with stragglers still in flight.
func (gs *GlobalState) Run() error {
	err := opqueue.RunWithDrain(gs.Queue, gs.drainReplies)
	for {
		gs.drainReplies()
		gs.mu.Lock()
		n := len(gs.inflight)
		gs.mu.Unlock()
		if n == 0 {
			break
		}
		gs.Queue.WaitWakeup()
	}
	return err
}

// Send assigns a fresh tag, records t as in-flight, and hands the
// transaction's active data slot (control.BodySlot for XML control
// messages, slot 0 for raw chunk payloads) to the transport. Send is only
// ever called from the event-loop goroutine (a driver's Start or a
// Complete callback), so the inflight map needs no lock against drain —
// only against concurrent Sends, which cooperative scheduling rules out,
// but the mutex is cheap insurance against a future multi-op scheduler.
func (gs *GlobalState) Send(ctx context.Context, t *trans.Transaction) error {
	body := t.Data[t.ActiveSlot]

	gs.mu.Lock()
	gs.tagSeq++
	tag := gs.tagSeq
	t.Header.Tag = tag
	t.Header.BodyBytes = uint32(len(body))
	gs.inflight[tag] = t
	gs.mu.Unlock()

	hdr := transport.Header{
		Version:  transport.ProtocolVersion,
		Opcode:   uint8(t.Header.Opcode),
		Status:   uint8(t.Header.Status),
		Flags:    uint8(t.Header.Flags),
		ExStatus: t.Header.ExStatus,
		Tag:      tag,
		BodySize: uint32(len(body)),
	}
	if err := gs.Transport.Send(ctx, hdr, body); err != nil {
		gs.mu.Lock()
		delete(gs.inflight, tag)
		gs.mu.Unlock()
		return err
	}
	return nil
}

// OnReply is the transport.ReplyHandler the engine registers at dial time.
// It may be called concurrently with the event loop (the real transport's
// read goroutine does exactly that); it must not touch transactions,
// fnodes, or driver state directly, so it only queues the frame and kicks
// the loop.
func (gs *GlobalState) OnReply(f transport.Frame) {
	gs.inboxMu.Lock()
	gs.inbox = append(gs.inbox, f)
	gs.inboxMu.Unlock()
	gs.Queue.Kick()
}

// drainReplies processes every frame queued by OnReply so far. It runs
// exclusively on the event-loop goroutine (via Run/RunWithDrain), which is
// what makes it safe for Dispatch and Complete to mutate transactions,
// fnodes and driver scratch state without locking.
func (gs *GlobalState) drainReplies() {
	for {
		gs.inboxMu.Lock()
		if len(gs.inbox) == 0 {
			gs.inboxMu.Unlock()
			return
		}
		f := gs.inbox[0]
		gs.inbox = gs.inbox[1:]
		gs.inboxMu.Unlock()
		gs.handleReply(f)
	}
}

func (gs *GlobalState) handleReply(f transport.Frame) {
	gs.mu.Lock()
	t, ok := gs.inflight[f.Header.Tag]
	if ok {
		delete(gs.inflight, f.Header.Tag)
	}
	gs.mu.Unlock()
	if !ok {
		log.WithField("tag", f.Header.Tag).Warn("reply for unknown or already-completed transaction")
		return
	}

	switch t.Header.Opcode {
	case trans.OpWriteChunk, trans.OpReadChunk:
		// Raw chunk transfers ack/nak by status; they never go through the
		// XML demultiplexer. A read reply's body is the chunk payload.
		if f.Header.Status != uint8(trans.StatusOK) {
			t.Err = ctxerr.New(ctxerr.CodeShortRead, "chunk transfer")
		} else if t.Header.Opcode == trans.OpReadChunk {
			t.SetData(0, f.Body)
		}
	default:
		if err := control.Dispatch(t, f.Body); err != nil {
			metrics.OperationFailed(t.Machine)
			gs.Queue.Fatal(err)
			return
		}
	}

	if t.Complete != nil {
		// The returned bool is only meaningful to the driver itself: false
		// means Complete has already re-armed t (re-sent it under a fresh
		// tag, as extract's conversion of its end-of-stream read into the
		// xml-close does), in which case the engine has nothing further to
		// do for the old tag.
		if _, err := t.Complete(t); err != nil {
			metrics.OperationFailed(t.Machine)
			gs.Queue.Fatal(err)
			return
		}
	}
	metrics.ObservePool(gs.Pool)
	metrics.ObserveQueue(gs.Queue)
	gs.Queue.Kick()
}
