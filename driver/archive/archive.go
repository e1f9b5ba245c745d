// Package archive implements the ctfile archive driver (§4.3): streaming a
// local ctfile to the server as a sequence of METADATA chunks bracketed by
// xml-open/xml-close.
package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ctfile/ctengine/control"
	"github.com/ctfile/ctengine/ctfileparse"
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

// Args is the caller-supplied argument pouch (§3 "Operation").
type Args struct {
	LocalPath  string // local file to ship
	RemoteName string // server-side name; derived from LocalPath if empty
	IsCtfile   bool   // if true, pre-validate as a parseable ctfile (§4.3 step 1)
	Cleartext  bool   // if true, do not set the ENCRYPTED flag
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

	size       int64
	offset     int64
	chunkNo    uint32
	remoteName string
	phase      phase

	op *opqueue.Operation
}

// New builds the archive operation (§4.3).
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
		// Waiting on a server reply; the transaction's Complete callback
		// advances the phase and kicks the queue when it arrives.
	}
}

func (s *state) fail(op *opqueue.Operation, err error) {
	log.WithError(err).Warn("archive operation failed")
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

// doInit implements §4.3 steps 1-3: open, pre-validate, derive the remote
// name, and issue xml-open(write).
func (s *state) doInit(op *opqueue.Operation) {
	f, err := os.Open(s.args.LocalPath)
	if err != nil {
		s.fail(op, ctxerr.Wrap(ctxerr.CodeCantOpenRemote, s.args.LocalPath, err))
		return
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		s.fail(op, ctxerr.Wrap(ctxerr.CodeCantOpenRemote, s.args.LocalPath, err))
		return
	}

	if s.args.IsCtfile {
		if err := prevalidate(f); err != nil {
			f.Close()
			s.fail(op, ctxerr.Wrap(ctxerr.CodeShortRead, s.args.LocalPath, err))
			return
		}
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			f.Close()
			s.fail(op, ctxerr.Wrap(ctxerr.CodeShortRead, s.args.LocalPath, err))
			return
		}
	}

	remoteName := s.args.RemoteName
	if remoteName == "" {
		remoteName = namefmt.Cook(filepath.Base(s.args.LocalPath))
	}
	if !namefmt.Verify(remoteName) {
		f.Close()
		s.fail(op, ctxerr.New(ctxerr.CodeInvalidCtfileName, remoteName))
		return
	}

	s.file = f
	s.size = info.Size()
	s.remoteName = remoteName
	s.node = fnode.New(filepath.Base(s.args.LocalPath), s.args.LocalPath, info.Mode(), 0, 0, fnode.TypeRegular)

	t := s.gs.Pool.Acquire(trans.MachineArchive)
	if t == nil {
		op.SetState(filestate.WaitingTrans)
		return
	}
	s.sendOpen(op, t)
}

// prevalidate implements §4.3 step 1: "parse sequentially and, for every
// SHA record, seek past its payload; any parse failure aborts the
// operation with a non-retryable fatal error."
func prevalidate(f *os.File) error {
	p, err := ctfileparse.NewParser(f)
	if err != nil {
		return err
	}
	for {
		kind, err := p.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		switch kind {
		case ctfileparse.KindFile:
			if _, err := p.File(); err != nil {
				return err
			}
		case ctfileparse.KindSha:
			if _, err := p.Sha(); err != nil {
				return err
			}
		default:
			return fmt.Errorf("archive: unknown ctfile record kind %d", kind)
		}
	}
}

func (s *state) sendOpen(op *opqueue.Operation, t *trans.Transaction) {
	if err := control.Open(t, s.remoteName, xmlproto.ModeWrite, 0); err != nil {
		t.Release()
		s.fail(op, err)
		return
	}
	t.Complete = s.onOpenReply
	if err := s.gs.Send(context.Background(), t); err != nil {
		t.Release()
		s.fail(op, ctxerr.Wrap(ctxerr.CodeCantOpenRemote, s.remoteName, err))
		return
	}
	s.phase = phaseAwaitOpen
	op.SetState(filestate.WaitingServer)
}

func (s *state) onOpenReply(t *trans.Transaction) (bool, error) {
	defer t.Release()
	if t.Err != nil {
		return true, t.Err
	}
	s.phase = phaseStream
	// NB: the owning operation's state transition to Running happens via
	// the scheduler's next Start call, triggered by the Kick engine.OnReply
	// issues after Complete returns.
	return true, nil
}

// doStream implements §4.3 step 4: read and send chunks in a tight loop
// until a transaction can't be acquired or EOF is reached, then §4.3 step 5:
// the closing transaction.
func (s *state) doStream(op *opqueue.Operation) {
	op.SetState(filestate.Running)
	for {
		if s.offset >= s.size {
			s.beginClose(op)
			return
		}
		t := s.gs.Pool.Acquire(trans.MachineArchive)
		if t == nil {
			op.SetState(filestate.WaitingTrans)
			return
		}

		blockSize := s.gs.Cfg.Transfer.MaxBlockSize
		buf := make([]byte, blockSize)
		n, err := s.file.Read(buf)
		if n > 0 {
			buf = buf[:n]
		} else {
			buf = buf[:0]
		}
		eof := err == io.EOF || n < blockSize || s.offset+int64(n) >= s.size
		if err != nil && err != io.EOF {
			t.Release()
			s.fail(op, ctxerr.Wrap(ctxerr.CodeShortRead, s.args.LocalPath, err))
			return
		}

		t.SetData(0, buf)
		t.ChunkNo = s.chunkNo
		t.FileNode = s.node.Ref()
		t.Header.Flags = trans.FlagMetadata
		if !s.args.Cleartext {
			t.Header.Flags |= trans.FlagEncrypted
		}
		t.Header.ExStatus = 2
		t.Header.Opcode = trans.OpWriteChunk
		s.chunkNo++
		s.offset += int64(n)
		t.EOF = eof

		t.Complete = s.onChunkReply
		if err := s.gs.Send(context.Background(), t); err != nil {
			t.FileNode.Release()
			t.Release()
			s.fail(op, ctxerr.Wrap(ctxerr.CodeShortWrite, s.remoteName, err))
			return
		}

		if eof {
			if info, statErr := s.file.Stat(); statErr == nil && info.Size() < s.size {
				log.WithField("path", s.args.LocalPath).Warn("file shrank mid-stream, manifest sent truncated")
			}
			// Close after this chunk even if the file shrank below its
			// stat size.
			s.size = s.offset
			s.node.Release()
			s.node = nil
		}
	}
}

func (s *state) onChunkReply(t *trans.Transaction) (bool, error) {
	defer t.Release()
	if t.FileNode != nil {
		t.FileNode.Release()
	}
	if t.Err != nil {
		return true, t.Err
	}
	return true, nil
}

func (s *state) beginClose(op *opqueue.Operation) {
	t := s.gs.Pool.Acquire(trans.MachineArchive)
	if t == nil {
		op.SetState(filestate.WaitingTrans)
		return
	}
	if err := control.Close(t); err != nil {
		t.Release()
		s.fail(op, err)
		return
	}
	t.EOF = true
	t.Complete = s.onCloseReply
	if err := s.gs.Send(context.Background(), t); err != nil {
		t.Release()
		s.fail(op, ctxerr.Wrap(ctxerr.CodeShortWrite, s.remoteName, err))
		return
	}
	s.phase = phaseAwaitClose
	op.SetState(filestate.WaitingServer)
}

func (s *state) onCloseReply(t *trans.Transaction) (bool, error) {
	defer t.Release()
	s.teardown()
	s.op.SetState(filestate.Finished)
	if t.Err != nil {
		return true, t.Err
	}
	return true, nil
}
