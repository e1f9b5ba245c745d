package engine

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctfile/ctengine/chunkstore"
	"github.com/ctfile/ctengine/config"
	"github.com/ctfile/ctengine/ctdb"
	"github.com/ctfile/ctengine/internal/filestate"
	"github.com/ctfile/ctengine/internal/opqueue"
	"github.com/ctfile/ctengine/internal/trans"
	"github.com/ctfile/ctengine/transport"
)

func newTestState(t *testing.T) *GlobalState {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Defaults()
	store, err := chunkstore.NewFSStore(filepath.Join(dir, "chunks"))
	require.NoError(t, err)
	db, err := ctdb.Open(filepath.Join(dir, "ct.db"))
	require.NoError(t, err)
	return New(cfg, store, db)
}

// TestSendTranslatesHeader covers the bug where Send once passed a
// trans.Header straight to Transport.Send, which wants a transport.Header —
// a distinct type with a differently-named body-size field.
func TestSendTranslatesHeader(t *testing.T) {
	gs := newTestState(t)

	var got transport.Header
	fake := transport.NewFake(func(sent transport.Frame) (transport.Frame, bool) {
		got = sent.Header
		return transport.Frame{Header: transport.Header{Tag: sent.Header.Tag, Status: uint8(trans.StatusOK)}}, true
	}, gs.OnReply)
	gs.AttachTransport(fake)
	defer fake.Close()

	tr := gs.Pool.Acquire(trans.MachineList)
	require.NotNil(t, tr)
	tr.SetData(0, []byte("hello"))
	tr.Header.Opcode = trans.OpWriteChunk

	done := make(chan struct{})
	tr.Complete = func(tr *trans.Transaction) (bool, error) {
		close(done)
		return true, nil
	}

	require.NoError(t, gs.Send(context.Background(), tr))

	op := &opqueue.Operation{}
	op.Start = func(op *opqueue.Operation) {
		select {
		case <-done:
			op.SetState(filestate.Finished)
		default:
			op.SetState(filestate.WaitingServer)
		}
	}
	gs.Queue.Add(op)
	require.NoError(t, gs.Run())

	assert.Equal(t, uint32(5), got.BodySize)
	assert.Equal(t, uint8(trans.OpWriteChunk), got.Opcode)
	assert.Equal(t, uint8(transport.ProtocolVersion), got.Version)
}

// TestRunDrainsStragglers covers the loop in Run that keeps pumping replies
// after the queue itself empties, for a transaction whose reply arrives
// only after its owning operation has already reached Finished.
func TestRunDrainsStragglers(t *testing.T) {
	gs := newTestState(t)

	fake := transport.NewFake(func(sent transport.Frame) (transport.Frame, bool) {
		return transport.Frame{Header: transport.Header{Tag: sent.Header.Tag, Status: uint8(trans.StatusOK)}}, true
	}, gs.OnReply)
	gs.AttachTransport(fake)
	defer fake.Close()

	tr := gs.Pool.Acquire(trans.MachineList)
	require.NotNil(t, tr)
	tr.SetData(0, nil)
	tr.Header.Opcode = trans.OpWriteChunk

	var strangglerDone bool
	tr.Complete = func(tr *trans.Transaction) (bool, error) {
		strangglerDone = true
		return true, nil
	}
	require.NoError(t, gs.Send(context.Background(), tr))

	// The owning operation finishes and leaves the queue immediately,
	// before the reply for tr has necessarily been pumped through
	// OnReply — Run must keep draining until tr's Complete has run too.
	op := &opqueue.Operation{}
	op.Start = func(op *opqueue.Operation) { op.SetState(filestate.Finished) }
	gs.Queue.Add(op)

	require.NoError(t, gs.Run())
	assert.True(t, strangglerDone)
}
