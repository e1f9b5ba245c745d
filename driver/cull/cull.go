// Package cull implements server-side garbage collection orchestration
// (§4.7 "Cull orchestration"): list every ctfile, partition by retention,
// force-keep any file a retained manifest still depends on, stream the
// resulting live-SHA set to the server, then commit the new generation to
// the local chunk database.
//
// Like driver/delete, this is a chain of independently queued operations
// rather than one resumable state machine, chained from inside each
// stage's transaction-reply callback (guaranteed to run on the single
// event-loop goroutine, see engine.GlobalState.drainReplies).
package cull

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/ctfile/ctengine/control"
	"github.com/ctfile/ctengine/cull"
	"github.com/ctfile/ctengine/ctdb"
	"github.com/ctfile/ctengine/ctfileparse"
	ctdelete "github.com/ctfile/ctengine/driver/delete"
	"github.com/ctfile/ctengine/driver/extract"
	"github.com/ctfile/ctengine/engine"
	"github.com/ctfile/ctengine/internal/ctxerr"
	"github.com/ctfile/ctengine/internal/filestate"
	"github.com/ctfile/ctengine/internal/logging"
	"github.com/ctfile/ctengine/internal/opqueue"
	"github.com/ctfile/ctengine/internal/trans"
	"github.com/ctfile/ctengine/match"
	"github.com/ctfile/ctengine/metrics"
	"github.com/ctfile/ctengine/xmlproto"
)

var log = logging.WithComponent(logging.ComponentCull)

// Args is the caller-supplied argument pouch.
type Args struct {
	CacheDir     string
	KeepDays     int
	ShaPerPacket int
}

type state struct {
	gs      *engine.GlobalState
	args    Args
	session *cull.Session

	names   []string // all ctfiles, date-prefix filtered
	keep    map[string]bool
	dropped map[string]bool // candidates for deletion, shrinks as dependencies force-keep
}

// New builds the cull orchestration's first operation (the list).
func New(gs *engine.GlobalState, args Args) (*opqueue.Operation, error) {
	sess, err := cull.NewSession()
	if err != nil {
		return nil, err
	}
	s := &state{gs: gs, args: args, session: sess}
	return newListOp(s), nil
}

func newListOp(s *state) *opqueue.Operation {
	op := &opqueue.Operation{}
	op.Start = func(op *opqueue.Operation) {
		if s.gs.Queue.Dying() {
			op.SetState(filestate.Finished)
			return
		}
		if op.State() == filestate.WaitingServer {
			return
		}
		t := s.gs.Pool.Acquire(trans.MachineCull)
		if t == nil {
			op.SetState(filestate.WaitingTrans)
			return
		}
		if err := control.List(t); err != nil {
			t.Release()
			s.fail(op, err)
			return
		}
		t.Complete = func(t *trans.Transaction) (bool, error) { return s.onListReply(op, t) }
		if err := s.gs.Send(context.Background(), t); err != nil {
			t.Release()
			s.fail(op, err)
			return
		}
		op.SetState(filestate.WaitingServer)
	}
	return op
}

func (s *state) fail(op *opqueue.Operation, err error) {
	log.WithError(err).Warn("cull operation failed")
	s.gs.Queue.Fatal(err)
	op.SetState(filestate.Finished)
}

// cutoffPrefix formats "now - keepDays" as the same "YYYYMMDD-HHMMSS"
// prefix ctfile names carry, so retention compares as plain string
// ordering (§4.7 step 2).
func cutoffPrefix(keepDays int) string {
	return time.Now().UTC().AddDate(0, 0, -keepDays).Format("20060102-150405")
}

func (s *state) onListReply(op *opqueue.Operation, t *trans.Transaction) (bool, error) {
	defer t.Release()
	if t.Err != nil {
		op.SetState(filestate.Finished)
		return true, t.Err
	}
	reply, ok := t.Result.(*xmlproto.ListReply)
	if !ok {
		op.SetState(filestate.Finished)
		return true, ctxerr.New(ctxerr.CodeCantOpenRemote, "malformed list reply")
	}

	names := match.FilterCtfileNames(reply.Files)
	s.names = names
	cutoff := cutoffPrefix(s.args.KeepDays)

	s.keep = make(map[string]bool)
	s.dropped = make(map[string]bool)
	for _, n := range names {
		if len(n) >= 15 && n[:15] < cutoff {
			s.dropped[n] = true
		} else {
			s.keep[n] = true
		}
	}
	if len(names) > 0 && len(s.dropped) == len(names) {
		op.SetState(filestate.Finished)
		return true, ctxerr.New(ctxerr.CodeCullEverything, "")
	}

	for _, n := range names {
		path := filepath.Join(s.args.CacheDir, n)
		if _, statErr := os.Stat(path); statErr == nil {
			continue
		}
		s.gs.Queue.Add(extract.New(s.gs, extract.Args{RemoteName: n, DestDir: s.args.CacheDir}))
	}
	s.gs.Queue.Add(newDependencyWalkOp(s))

	op.SetState(filestate.Finished)
	return true, nil
}

// newDependencyWalkOp implements §4.7 step 3: force-keep every file a kept
// manifest's predecessor chain still reaches, then schedule deletes and
// populate the session's live-SHA set from every manifest that ends up
// kept.
func newDependencyWalkOp(s *state) *opqueue.Operation {
	op := &opqueue.Operation{}
	op.Start = func(op *opqueue.Operation) {
		if s.gs.Queue.Dying() {
			op.SetState(filestate.Finished)
			return
		}

		initialKeep := make([]string, 0, len(s.keep))
		for n := range s.keep {
			initialKeep = append(initialKeep, n)
		}

		limit := len(s.names)
		for _, start := range initialKeep {
			cur := start
			walked := 0
			for {
				prev, err := readPredecessor(filepath.Join(s.args.CacheDir, cur))
				if err != nil || prev == "" {
					break
				}
				walked++
				if walked > limit {
					s.fail(op, ctxerr.New(ctxerr.CodeErrno, "predecessor chain did not terminate"))
					return
				}
				if s.dropped[prev] {
					delete(s.dropped, prev)
					s.keep[prev] = true
					log.Warnf("force-keeping %q: depended upon by a retained ctfile", prev)
				}
				cur = prev
			}
		}

		for n := range s.dropped {
			s.gs.Queue.Add(ctdelete.NewSingle(s.gs, s.args.CacheDir, n))
		}

		for n := range s.keep {
			if err := s.collectLiveShas(n); err != nil {
				s.fail(op, err)
				return
			}
		}

		s.gs.Queue.Add(newCullSetupOp(s))
		op.SetState(filestate.Finished)
	}
	return op
}

func readPredecessor(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	p, err := ctfileparse.NewParser(f)
	if err != nil {
		return "", err
	}
	return p.Header.PrevName, nil
}

// collectLiveShas parses a kept manifest and marks every SHA it references
// live, both in the session's set (for streaming) and in the local chunk
// database (§4.7 step 3's "ct_cull_add_shafile" analogue). The manifest's
// crypto flag distinguishes crypto-SHA from plain SHA in the original; this
// engine's ctfile format carries a single digest per record either way.
func (s *state) collectLiveShas(name string) error {
	f, err := os.Open(filepath.Join(s.args.CacheDir, name))
	if err != nil {
		return err
	}
	defer f.Close()
	p, err := ctfileparse.NewParser(f)
	if err != nil {
		return err
	}
	for {
		kind, err := p.Next()
		if err != nil {
			break
		}
		if kind != ctfileparse.KindSha {
			continue
		}
		rec, err := p.Sha()
		if err != nil {
			return err
		}
		if s.session.Live.Insert(rec.Sha) {
			metrics.CullShaMarked(1)
		}
		if err := s.gs.DB.CullMark(rec.Sha); err != nil {
			return err
		}
	}
	return nil
}

func newCullSetupOp(s *state) *opqueue.Operation {
	op := &opqueue.Operation{}
	op.Start = func(op *opqueue.Operation) {
		if s.gs.Queue.Dying() {
			op.SetState(filestate.Finished)
			return
		}
		if op.State() == filestate.WaitingServer {
			return
		}
		t := s.gs.Pool.Acquire(trans.MachineCull)
		if t == nil {
			op.SetState(filestate.WaitingTrans)
			return
		}
		if err := control.CullSetup(t, s.session.UUID, xmlproto.CullPrecious); err != nil {
			t.Release()
			s.fail(op, err)
			return
		}
		t.Complete = func(t *trans.Transaction) (bool, error) {
			defer t.Release()
			if t.Err != nil {
				op.SetState(filestate.Finished)
				return true, t.Err
			}
			for _, next := range newShaStreamOps(s) {
				s.gs.Queue.Add(next)
			}
			op.SetState(filestate.Finished)
			return true, nil
		}
		if err := s.gs.Send(context.Background(), t); err != nil {
			t.Release()
			s.fail(op, err)
			return
		}
		op.SetState(filestate.WaitingServer)
	}
	return op
}

// newShaStreamOps implements §4.7 step 5: the live-SHA set, streamed in
// ShaPerPacket-sized batches, the final one flagged EOF.
func newShaStreamOps(s *state) []*opqueue.Operation {
	packetSize := s.args.ShaPerPacket
	if packetSize <= 0 {
		packetSize = 1000
	}
	batches := s.session.Live.Batches(packetSize)
	if len(batches) == 0 {
		batches = [][][32]byte{nil}
	}
	ops := make([]*opqueue.Operation, 0, len(batches)+1)
	for i, batch := range batches {
		ops = append(ops, newCullShasOp(s, batch, i == len(batches)-1))
	}
	ops = append(ops, newCullCompleteOp(s))
	return ops
}

func newCullShasOp(s *state, batch [][32]byte, last bool) *opqueue.Operation {
	op := &opqueue.Operation{}
	op.Start = func(op *opqueue.Operation) {
		if s.gs.Queue.Dying() {
			op.SetState(filestate.Finished)
			return
		}
		if op.State() == filestate.WaitingServer {
			return
		}
		t := s.gs.Pool.Acquire(trans.MachineCull)
		if t == nil {
			op.SetState(filestate.WaitingTrans)
			return
		}
		hexShas := make([]string, len(batch))
		for i, sha := range batch {
			hexShas[i] = ctdb.ShaHex(sha)
		}
		if err := control.CullShas(t, s.session.UUID, hexShas); err != nil {
			t.Release()
			s.fail(op, err)
			return
		}
		t.EOF = last
		t.Complete = func(t *trans.Transaction) (bool, error) {
			defer t.Release()
			op.SetState(filestate.Finished)
			return true, t.Err
		}
		if err := s.gs.Send(context.Background(), t); err != nil {
			t.Release()
			s.fail(op, err)
			return
		}
		op.SetState(filestate.WaitingServer)
	}
	return op
}

func newCullCompleteOp(s *state) *opqueue.Operation {
	op := &opqueue.Operation{}
	op.Start = func(op *opqueue.Operation) {
		if s.gs.Queue.Dying() {
			op.SetState(filestate.Finished)
			return
		}
		if op.State() == filestate.WaitingServer {
			return
		}
		t := s.gs.Pool.Acquire(trans.MachineCull)
		if t == nil {
			op.SetState(filestate.WaitingTrans)
			return
		}
		if err := control.CullComplete(t, s.session.UUID, xmlproto.CullProcess); err != nil {
			t.Release()
			s.fail(op, err)
			return
		}
		t.Complete = func(t *trans.Transaction) (bool, error) {
			defer t.Release()
			if t.Err != nil {
				op.SetState(filestate.Finished)
				return true, t.Err
			}
			reply, ok := t.Result.(*xmlproto.CullCompleteReply)
			if ok {
				if err := s.gs.DB.CullEnd(reply.Generation); err != nil {
					op.SetState(filestate.Finished)
					return true, err
				}
				metrics.SetCullGeneration(reply.Generation)
			}
			op.SetState(filestate.Finished)
			return true, nil
		}
		if err := s.gs.Send(context.Background(), t); err != nil {
			t.Release()
			s.fail(op, err)
			return
		}
		op.SetState(filestate.WaitingServer)
	}
	return op
}
