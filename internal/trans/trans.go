// Package trans implements the transaction pool (§3 "Transaction", §4.2
// "Transaction pool"): a fixed-cardinality arena of reusable transaction
// records that is the engine's sole backpressure mechanism.
package trans

import (
	"github.com/google/uuid"

	"github.com/ctfile/ctengine/internal/fnode"
)

// Machine identifies which driver owns a transaction.
type Machine int

// State-machine tags (§3).
const (
	MachineArchive Machine = iota
	MachineExtract
	MachineList
	MachineDelete
	MachineCull
)

var machineNames = [...]string{"archive", "extract", "list", "delete", "cull"}

// String returns the machine tag's log/metrics label.
func (m Machine) String() string {
	if int(m) < 0 || int(m) >= len(machineNames) {
		return "unknown"
	}
	return machineNames[m]
}

// ProtoState is the transaction's current protocol state, advanced by the
// XML reply demultiplexer (§4.8) and by the owning driver.
type ProtoState int

// Protocol states a transaction passes through.
const (
	StateNone ProtoState = iota
	StateRead
	StateWriteChunk
	StateReadChunk
	StateXMLOpen
	StateXMLOpened
	StateXMLClose
	StateXMLClosing
	StateXMLClosed
	StateXMLList
	StateXMLDelete
	StateXMLCullSend
	StateXMLCullReplied
	StateXMLCullShaSend
	StateXMLCullCompleteSend
	StateDone
)

// NumDataSlots is the number of fixed-size data buffers a transaction carries
// (§3: "up to three fixed-size data buffers").
const NumDataSlots = 3

// CompleteFunc is invoked when a transaction's reply has been processed by
// the XML demultiplexer. Returning true signals the transaction's work is
// entirely finished (the original's tr_complete returning 1); false means
// the driver keeps it in flight a while longer (e.g. the extract driver
// re-sending its end-of-stream read as the xml-close).
type CompleteFunc func(t *Transaction) (done bool, err error)

// CleanupFunc runs exactly once when a transaction's work (including any
// fnode reference it held) is finalized, regardless of success or failure:
// Release invokes it just before returning the transaction to its pool.
type CleanupFunc func(t *Transaction)

// Transaction is one in-flight protocol request (§3).
type Transaction struct {
	ID      uint64
	TraceID uuid.UUID
	Machine Machine
	State   ProtoState

	Data       [NumDataSlots][]byte
	Size       [NumDataSlots]int
	ActiveSlot int

	FileNode *fnode.Node
	ChunkNo  uint32
	IV       []byte
	EOF      bool

	RemoteName string // borrowed: owned by the operation's argument pouch

	Complete CompleteFunc
	Cleanup  CleanupFunc

	Header Header

	Err error

	// Result holds the parsed reply payload once the control channel's
	// demultiplexer (§4.8) has processed an inbound XML reply: one of
	// *xmlproto.OpenReply, *xmlproto.ListReply, *xmlproto.DeleteReply,
	// *xmlproto.CullSetupReply, *xmlproto.CullShasReply, or
	// *xmlproto.CullCompleteReply, depending on State at dispatch time.
	Result interface{}

	pool *Pool
}

// Header is the wire header scratch space (§6), populated by drivers and
// consumed by the transport.
type Header struct {
	Opcode    Opcode
	Status    Status
	Flags     Flags
	ExStatus  uint8
	Tag       uint64
	BodyBytes uint32
}

// Opcode identifies the framed message kind (§6).
type Opcode uint8

// Opcodes the engine sends or expects.
const (
	OpXMLOpen Opcode = iota + 1
	OpXMLReply
	OpWriteChunk
	OpReadChunk
)

// Status is the framed reply status (§6).
type Status uint8

// Reply statuses.
const (
	StatusOK Status = iota
	StatusError
)

// Flags are the header's bit flags (§6).
type Flags uint8

// Header flag bits.
const (
	FlagMetadata Flags = 1 << iota
	FlagEncrypted
)

// SetData stores b (without copying) in data slot i, records its length,
// and makes i the active slot.
func (t *Transaction) SetData(slot int, b []byte) {
	t.Data[slot] = b
	t.Size[slot] = len(b)
	t.ActiveSlot = slot
}

// reset clears a transaction back to its zero value (keeping its ID,
// TraceID and pool) as Acquire hands it out, so a reused transaction never
// leaks state between owners.
func (t *Transaction) reset() {
	id, traceID, pool := t.ID, t.TraceID, t.pool
	*t = Transaction{ID: id, TraceID: traceID, pool: pool}
}

// Release returns t to its owning pool. Drivers must call this on every
// lifecycle exit: either after Complete has run, or when aborting a
// transaction they allocated but never queued.
func (t *Transaction) Release() {
	if t.Cleanup != nil {
		cleanup := t.Cleanup
		t.Cleanup = nil
		cleanup(t)
	}
	t.pool.release(t)
}
