// Package control implements the XML control channel (§2, §4.8): building
// outbound control-message transactions and dispatching inbound replies by
// the originating transaction's protocol state.
//
// The channel is in-scope engine logic; the actual marshaling is delegated
// to the out-of-scope xmlproto codec (§1).
package control

import (
	"github.com/ctfile/ctengine/internal/trans"
	"github.com/ctfile/ctengine/xmlproto"
)

// BodySlot is the fixed slot the control channel uses for marshaled XML
// bodies, leaving slots 0/1 free for chunk payloads (§3: "up to three
// fixed-size data buffers"). Exported so callers sending a transaction can
// find the body control.Open/Close/etc. populated.
const BodySlot = 2

const dataSlot = BodySlot

// Open marshals an xml-open into t and sets its state/flags accordingly.
func Open(t *trans.Transaction, file string, mode xmlproto.Mode, chunkno uint32) error {
	body, err := xmlproto.Marshal(&xmlproto.Open{File: file, Mode: mode, ChunkNo: chunkno})
	if err != nil {
		return err
	}
	t.SetData(dataSlot, body)
	t.State = trans.StateXMLOpen
	t.Header.Opcode = trans.OpXMLOpen
	return nil
}

// Close marshals an xml-close into t.
func Close(t *trans.Transaction) error {
	body, err := xmlproto.Marshal(&xmlproto.Close{})
	if err != nil {
		return err
	}
	t.SetData(dataSlot, body)
	t.State = trans.StateXMLClosing
	t.Header.Opcode = trans.OpXMLOpen
	return nil
}

// List marshals an xml-list into t.
func List(t *trans.Transaction) error {
	body, err := xmlproto.Marshal(&xmlproto.List{})
	if err != nil {
		return err
	}
	t.SetData(dataSlot, body)
	t.State = trans.StateXMLList
	t.Header.Opcode = trans.OpXMLOpen
	return nil
}

// Delete marshals an xml-delete into t.
func Delete(t *trans.Transaction, file string) error {
	body, err := xmlproto.Marshal(&xmlproto.Delete{File: file})
	if err != nil {
		return err
	}
	t.SetData(dataSlot, body)
	t.State = trans.StateXMLDelete
	t.Header.Opcode = trans.OpXMLOpen
	return nil
}

// CullSetup marshals a cull-setup into t.
func CullSetup(t *trans.Transaction, uuid uint64, mode xmlproto.CullMode) error {
	body, err := xmlproto.Marshal(&xmlproto.CullSetup{UUID: uuid, Mode: mode})
	if err != nil {
		return err
	}
	t.SetData(dataSlot, body)
	t.State = trans.StateXMLCullSend
	t.Header.Opcode = trans.OpXMLOpen
	return nil
}

// CullShas marshals one batch of hex-encoded SHA digests into t.
func CullShas(t *trans.Transaction, uuid uint64, shas []string) error {
	body, err := xmlproto.Marshal(&xmlproto.CullShas{UUID: uuid, Shas: shas})
	if err != nil {
		return err
	}
	t.SetData(dataSlot, body)
	t.State = trans.StateXMLCullShaSend
	t.Header.Opcode = trans.OpXMLOpen
	return nil
}

// CullComplete marshals a cull-complete into t.
func CullComplete(t *trans.Transaction, uuid uint64, mode xmlproto.CullMode) error {
	body, err := xmlproto.Marshal(&xmlproto.CullComplete{UUID: uuid, Mode: mode})
	if err != nil {
		return err
	}
	t.SetData(dataSlot, body)
	t.State = trans.StateXMLCullCompleteSend
	t.Header.Opcode = trans.OpXMLOpen
	return nil
}
