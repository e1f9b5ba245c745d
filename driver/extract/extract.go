// Package extract implements the ctfile extract driver (§4.4): fetching a
// remote ctfile into local storage via pipelined read-chunk requests,
// reconciling their out-of-order completion against end-of-stream.
package extract

import (
	"context"
	"os"
	"path/filepath"

	"github.com/ctfile/ctengine/control"
	"github.com/ctfile/ctengine/engine"
	"github.com/ctfile/ctengine/internal/ctxerr"
	"github.com/ctfile/ctengine/internal/filestate"
	"github.com/ctfile/ctengine/internal/fnode"
	"github.com/ctfile/ctengine/internal/logging"
	"github.com/ctfile/ctengine/internal/opqueue"
	"github.com/ctfile/ctengine/internal/trans"
	"github.com/ctfile/ctengine/namefmt"
	"github.com/ctfile/ctengine/xmlproto"
)

var log = logging.WithComponent(logging.ComponentFile)

// Args is the caller-supplied argument pouch.
type Args struct {
	RemoteName string // name on the server, cooked if necessary
	DestDir    string // local directory to write the ctfile into
	DestName   string // local file name; defaults to the uncooked remote name
}

type phase int

const (
	phaseInit phase = iota
	phaseAwaitOpen
	phaseStream
	phaseAwaitClose
)

type state struct {
	gs   *engine.GlobalState
	args Args

	file *os.File
	node *fnode.Node

	chunkNo    uint32
	remoteName string
	phase      phase
	finished   bool // §4.4 "If not yet FINISHED" / "If already FINISHED" branch

	op *opqueue.Operation
}

// New builds the extract operation (§4.4).
func New(gs *engine.GlobalState, args Args) *opqueue.Operation {
	s := &state{gs: gs, args: args}
	op := &opqueue.Operation{Args: args}
	op.Scratch = s
	op.Start = s.start
	return op
}

func (s *state) start(op *opqueue.Operation) {
	s.op = op
	if s.gs.Queue.Dying() {
		s.teardown()
		op.SetState(filestate.Finished)
		return
	}

	switch s.phase {
	case phaseInit:
		s.doInit(op)
	case phaseStream:
		s.doStream(op)
	case phaseAwaitOpen, phaseAwaitClose:
		// Waiting on a server reply.
	}
}

func (s *state) fail(op *opqueue.Operation, err error) {
	log.WithError(err).Warn("extract operation failed")
	s.teardown()
	s.gs.Queue.Fatal(err)
	op.SetState(filestate.Finished)
}

func (s *state) teardown() {
	if s.file != nil {
		s.file.Close()
		s.file = nil
	}
	if s.node != nil {
		s.node.Release()
		s.node = nil
	}
}

// doInit implements §4.4 steps 1-3: resolve the remote name, synthesize a
// destination fnode, and issue xml-open(read).
func (s *state) doInit(op *opqueue.Operation) {
	remoteName := namefmt.Uncook(s.args.RemoteName)
	if !namefmt.Verify(remoteName) {
		s.fail(op, ctxerr.New(ctxerr.CodeInvalidCtfileName, remoteName))
		return
	}
	s.remoteName = s.args.RemoteName

	destName := s.args.DestName
	if destName == "" {
		destName = remoteName
	}
	s.node = fnode.New(destName, filepath.Join(s.args.DestDir, destName), 0o644, os.Getuid(), os.Getgid(), fnode.TypeRegular)

	t := s.gs.Pool.Acquire(trans.MachineExtract)
	if t == nil {
		op.SetState(filestate.WaitingTrans)
		return
	}
	s.sendOpen(op, t)
}

func (s *state) sendOpen(op *opqueue.Operation, t *trans.Transaction) {
	if err := control.Open(t, s.remoteName, xmlproto.ModeRead, 0); err != nil {
		t.Release()
		s.fail(op, err)
		return
	}
	t.FileNode = s.node.Ref()
	t.Complete = s.onOpenReply
	if err := s.gs.Send(context.Background(), t); err != nil {
		t.FileNode.Release()
		t.Release()
		s.fail(op, ctxerr.Wrap(ctxerr.CodeCantOpenRemote, s.remoteName, err))
		return
	}
	s.phase = phaseAwaitOpen
	op.SetState(filestate.WaitingServer)
}

// onOpenReply implements §4.4 step 3's "the reply handler additionally
// opens the local output file; a failure there is fatal."
func (s *state) onOpenReply(t *trans.Transaction) (bool, error) {
	defer t.Release()
	if t.FileNode != nil {
		t.FileNode.Release()
	}
	if t.Err != nil {
		return true, t.Err
	}

	if err := os.MkdirAll(s.args.DestDir, 0o755); err != nil {
		return true, ctxerr.Wrap(ctxerr.CodeCantOpenRemote, s.args.DestDir, err)
	}
	f, err := os.Create(s.node.FullPath)
	if err != nil {
		return true, ctxerr.Wrap(ctxerr.CodeCantOpenRemote, s.node.FullPath, err)
	}
	s.file = f
	s.phase = phaseStream
	return true, nil
}

// doStream implements §4.4 step 4: loop acquiring transactions, each a
// pipelined read-chunk request sharing the destination fnode.
func (s *state) doStream(op *opqueue.Operation) {
	op.SetState(filestate.Running)
	for {
		t := s.gs.Pool.Acquire(trans.MachineExtract)
		if t == nil {
			op.SetState(filestate.WaitingTrans)
			return
		}
		t.ChunkNo = s.chunkNo
		t.IV = deriveIV(s.chunkNo)
		s.chunkNo++
		t.Header.Flags = trans.FlagMetadata
		t.Header.ExStatus = 2
		t.Header.Opcode = trans.OpReadChunk
		t.FileNode = s.node.Ref()
		t.Complete = s.onChunkReply

		if err := s.gs.Send(context.Background(), t); err != nil {
			t.FileNode.Release()
			t.Release()
			s.fail(op, ctxerr.Wrap(ctxerr.CodeShortRead, s.remoteName, err))
			return
		}
	}
}

// deriveIV is a stand-in for the out-of-scope per-chunk IV derivation
// (§1): a fresh, chunk-number-derived IV, not a cryptographically
// meaningful one.
func deriveIV(chunkNo uint32) []byte {
	return []byte{byte(chunkNo >> 24), byte(chunkNo >> 16), byte(chunkNo >> 8), byte(chunkNo)}
}

// onChunkReply implements §4.4 step 5 and the EOF handling described
// after it: a normal reply writes the payload; an errored reply (the
// server signalling end of stream) triggers the close/straggler dance.
func (s *state) onChunkReply(t *trans.Transaction) (bool, error) {
	if t.FileNode != nil {
		t.FileNode.Release()
		t.FileNode = nil
	}

	if t.Err == nil {
		defer t.Release()
		if s.file != nil {
			if _, err := s.file.Write(t.Data[0]); err != nil {
				return true, ctxerr.Wrap(ctxerr.CodeShortWrite, s.node.FullPath, err)
			}
		}
		return true, nil
	}

	// The server has signalled EOF on this read (§4.4 "EOF handling").
	if !s.finished {
		s.finished = true
		s.phase = phaseAwaitClose
		s.op.SetState(filestate.Finished)
		// t is reused in place as the xml-close carrier below; it must
		// NOT be released here, only once the close reply lands.
		return s.beginClose(t)
	}

	// Already finished: this was an in-flight straggler. Mark it closed
	// with a no-op completion; the server's in-order delivery guarantees
	// the xml-close issued earlier completes after every straggler (§5
	// "Ordering"), so no transaction leaks.
	defer t.Release()
	t.State = trans.StateXMLClosed
	return true, nil
}

// beginClose converts the offending transaction into an xml-close carrier
// in place, reusing it rather than acquiring a fresh one (§4.4: "convert
// the offending transaction into an xml-close carrier").
func (s *state) beginClose(t *trans.Transaction) (bool, error) {
	if err := control.Close(t); err != nil {
		return true, err
	}
	t.EOF = true
	// The read error was the end-of-stream signal, not a failure of the
	// close this transaction now carries.
	t.Err = nil
	t.Complete = s.onCloseReply
	if err := s.gs.Send(context.Background(), t); err != nil {
		return true, ctxerr.Wrap(ctxerr.CodeShortWrite, s.remoteName, err)
	}
	// This transaction now owns the close round trip; tell the engine not
	// to recycle it via the normal Complete-returns-true path until the
	// close reply actually lands.
	return false, nil
}

func (s *state) onCloseReply(t *trans.Transaction) (bool, error) {
	defer t.Release()
	s.teardown()
	if t.Err != nil {
		return true, t.Err
	}
	return true, nil
}
