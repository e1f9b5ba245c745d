// Package list implements the list driver (§4.5 "List"): a single xml-list
// transaction whose completion callback filters the reply through an
// include/exclude pattern set into a caller-supplied ordered set.
package list

import (
	"context"

	"github.com/ctfile/ctengine/control"
	"github.com/ctfile/ctengine/engine"
	"github.com/ctfile/ctengine/internal/ctxerr"
	"github.com/ctfile/ctengine/internal/filestate"
	"github.com/ctfile/ctengine/internal/opqueue"
	"github.com/ctfile/ctengine/internal/trans"
	"github.com/ctfile/ctengine/match"
	"github.com/ctfile/ctengine/xmlproto"
)

// Args is the caller-supplied argument pouch.
type Args struct {
	Include []string
	Exclude []string
	Syntax  match.Syntax
	// Into receives the filtered, matched names (the "caller-supplied
	// ordered set" of §4.5).
	Into *[]string
}

type state struct {
	gs   *engine.GlobalState
	args Args
	op   *opqueue.Operation
}

// New builds the list operation.
func New(gs *engine.GlobalState, args Args) *opqueue.Operation {
	s := &state{gs: gs, args: args}
	op := &opqueue.Operation{Args: args}
	op.Start = s.start
	return op
}

func (s *state) start(op *opqueue.Operation) {
	s.op = op
	if s.gs.Queue.Dying() {
		op.SetState(filestate.Finished)
		return
	}
	if op.State() == filestate.WaitingServer {
		return // awaiting reply
	}

	t := s.gs.Pool.Acquire(trans.MachineList)
	if t == nil {
		op.SetState(filestate.WaitingTrans)
		return
	}
	if err := control.List(t); err != nil {
		t.Release()
		s.fail(op, err)
		return
	}
	t.Complete = s.onReply
	if err := s.gs.Send(context.Background(), t); err != nil {
		t.Release()
		s.fail(op, err)
		return
	}
	op.SetState(filestate.WaitingServer)
}

func (s *state) fail(op *opqueue.Operation, err error) {
	s.gs.Queue.Fatal(err)
	op.SetState(filestate.Finished)
}

func (s *state) onReply(t *trans.Transaction) (bool, error) {
	defer t.Release()
	if t.Err != nil {
		s.op.SetState(filestate.Finished)
		return true, t.Err
	}
	reply, ok := t.Result.(*xmlproto.ListReply)
	if !ok {
		err := ctxerr.New(ctxerr.CodeCantOpenRemote, "malformed list reply")
		s.op.SetState(filestate.Finished)
		return true, err
	}

	set, err := match.CompileSet(s.args.Include, s.args.Exclude, s.args.Syntax)
	if err != nil {
		s.op.SetState(filestate.Finished)
		return true, err
	}
	if s.args.Into != nil {
		*s.args.Into = match.Filter(reply.Files, set)
	}
	s.op.SetState(filestate.Finished)
	return true, nil
}
