// Package delete implements the delete driver and its orchestration (§4.5
// "Delete", §4.6 "Delete orchestration"): list the server's ctfiles,
// partition them against the caller's pattern, fetch any retained manifest
// not already cached, verify no retained file names a to-be-deleted
// predecessor, then schedule the deletes.
//
// The orchestration is a short chain of independently queued operations
// rather than one resumable state machine: each stage's transaction
// completion callback (which the engine guarantees runs on the single
// event-loop goroutine, see engine.GlobalState.drainReplies) enqueues the
// next stage directly, mirroring the way archive/extract advance their own
// phase from inside a reply callback.
package delete

import (
	"context"
	"os"
	"path/filepath"

	"github.com/ctfile/ctengine/control"
	"github.com/ctfile/ctengine/ctfileparse"
	"github.com/ctfile/ctengine/driver/extract"
	"github.com/ctfile/ctengine/engine"
	"github.com/ctfile/ctengine/internal/ctxerr"
	"github.com/ctfile/ctengine/internal/filestate"
	"github.com/ctfile/ctengine/internal/logging"
	"github.com/ctfile/ctengine/internal/opqueue"
	"github.com/ctfile/ctengine/internal/trans"
	"github.com/ctfile/ctengine/match"
	"github.com/ctfile/ctengine/xmlproto"
)

var log = logging.WithComponent(logging.ComponentFile)

// Args is the caller-supplied argument pouch.
type Args struct {
	Pattern  string
	Syntax   match.Syntax
	CacheDir string
}

type session struct {
	gs   *engine.GlobalState
	args Args

	allFiles    []string // retained, §4.6 "all_files" after partition
	deleteFiles []string // to be removed, §4.6 "delete_files"
}

// New builds the delete orchestration's first operation (the list).
func New(gs *engine.GlobalState, args Args) *opqueue.Operation {
	sess := &session{gs: gs, args: args}
	return newListOp(sess)
}

func newListOp(sess *session) *opqueue.Operation {
	op := &opqueue.Operation{}
	op.Start = func(op *opqueue.Operation) {
		if sess.gs.Queue.Dying() {
			op.SetState(filestate.Finished)
			return
		}
		if op.State() == filestate.WaitingServer {
			return
		}
		t := sess.gs.Pool.Acquire(trans.MachineDelete)
		if t == nil {
			op.SetState(filestate.WaitingTrans)
			return
		}
		if err := control.List(t); err != nil {
			t.Release()
			sess.fail(op, err)
			return
		}
		t.Complete = func(t *trans.Transaction) (bool, error) { return sess.onListReply(op, t) }
		if err := sess.gs.Send(context.Background(), t); err != nil {
			t.Release()
			sess.fail(op, err)
			return
		}
		op.SetState(filestate.WaitingServer)
	}
	return op
}

func (sess *session) fail(op *opqueue.Operation, err error) {
	log.WithError(err).Warn("delete operation failed")
	sess.gs.Queue.Fatal(err)
	op.SetState(filestate.Finished)
}

func (sess *session) onListReply(op *opqueue.Operation, t *trans.Transaction) (bool, error) {
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
	patternSet, err := match.CompileSet([]string{sess.args.Pattern}, nil, sess.args.Syntax)
	if err != nil {
		op.SetState(filestate.Finished)
		return true, err
	}
	deleteSet := make(map[string]bool)
	for _, n := range match.Filter(names, patternSet) {
		deleteSet[n] = true
	}
	if len(deleteSet) == 0 {
		op.SetState(filestate.Finished)
		return true, ctxerr.New(ctxerr.CodeNothingToDelete, sess.args.Pattern)
	}

	var allFiles, deleteFiles []string
	for _, n := range names {
		if deleteSet[n] {
			deleteFiles = append(deleteFiles, n)
		} else {
			allFiles = append(allFiles, n)
		}
	}
	sess.allFiles = allFiles
	sess.deleteFiles = deleteFiles

	// §4.6 step 3: fetch any retained manifest not already cached, before
	// the dependency check that needs to read it.
	for _, n := range allFiles {
		path := filepath.Join(sess.args.CacheDir, n)
		if _, statErr := os.Stat(path); statErr == nil {
			continue
		}
		sess.gs.Queue.Add(extract.New(sess.gs, extract.Args{RemoteName: n, DestDir: sess.args.CacheDir}))
	}
	sess.gs.Queue.Add(newDependencyCheckOp(sess))

	op.SetState(filestate.Finished)
	return true, nil
}

// newDependencyCheckOp implements §4.6 step 4: every retained file's
// immediate predecessor must not be a file marked for deletion.
func newDependencyCheckOp(sess *session) *opqueue.Operation {
	op := &opqueue.Operation{}
	op.Start = func(op *opqueue.Operation) {
		if sess.gs.Queue.Dying() {
			op.SetState(filestate.Finished)
			return
		}

		toDelete := make(map[string]bool, len(sess.deleteFiles))
		for _, n := range sess.deleteFiles {
			toDelete[n] = true
		}

		var offending string
		for _, n := range sess.allFiles {
			prev, err := readPredecessor(filepath.Join(sess.args.CacheDir, n))
			if err != nil {
				sess.fail(op, ctxerr.Wrap(ctxerr.CodeCantOpenRemote, n, err))
				return
			}
			if prev != "" && toDelete[prev] {
				offending = n
				break
			}
		}
		if offending != "" {
			sess.fail(op, ctxerr.New(ctxerr.CodeCanNotDelete, offending))
			return
		}

		// §4.6 step 5: schedule the deletes, each followed by cache
		// eviction.
		for _, n := range sess.deleteFiles {
			sess.gs.Queue.Add(newDeleteOp(sess, n))
		}
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

func newDeleteOp(sess *session, name string) *opqueue.Operation {
	return NewSingle(sess.gs, sess.args.CacheDir, name)
}

// NewSingle implements §4.5 "Delete": a single xml-delete transaction,
// evicting the local cache entry on success. Exported so orchestrations
// that already know exactly which name to remove (cull's scheduled
// deletes, §4.7 step 3) can reuse it without going through list/partition.
func NewSingle(gs *engine.GlobalState, cacheDir, name string) *opqueue.Operation {
	op := &opqueue.Operation{}
	fail := func(op *opqueue.Operation, err error) {
		log.WithError(err).Warn("delete operation failed")
		gs.Queue.Fatal(err)
		op.SetState(filestate.Finished)
	}
	op.Start = func(op *opqueue.Operation) {
		if gs.Queue.Dying() {
			op.SetState(filestate.Finished)
			return
		}
		if op.State() == filestate.WaitingServer {
			return
		}
		t := gs.Pool.Acquire(trans.MachineDelete)
		if t == nil {
			op.SetState(filestate.WaitingTrans)
			return
		}
		if err := control.Delete(t, name); err != nil {
			t.Release()
			fail(op, err)
			return
		}
		t.Complete = func(t *trans.Transaction) (bool, error) {
			defer t.Release()
			if t.Err != nil {
				op.SetState(filestate.Finished)
				return true, t.Err
			}
			os.Remove(filepath.Join(cacheDir, name))
			op.SetState(filestate.Finished)
			return true, nil
		}
		if err := gs.Send(context.Background(), t); err != nil {
			t.Release()
			fail(op, err)
			return
		}
		op.SetState(filestate.WaitingServer)
	}
	return op
}
