package control

import (
	"fmt"

	"github.com/ctfile/ctengine/internal/ctxerr"
	"github.com/ctfile/ctengine/internal/logging"
	"github.com/ctfile/ctengine/internal/trans"
	"github.com/ctfile/ctengine/xmlproto"
)

var log = logging.WithComponent(logging.ComponentXML)

// Dispatch is the XML reply demultiplexer (§4.8): given the transaction that
// issued the request and the raw reply body, it selects a parser by the
// transaction's current protocol state and advances it to a terminal state,
// or returns a fatal error with a descriptive message.
//
// Dispatch does not itself decide whether the operation is done; it sets
// t.State to one of Opened/Closed(Done)/Done/CullReplied and stashes the
// parsed payload on t.Result for the driver's CompleteFunc to consume.
func Dispatch(t *trans.Transaction, body []byte) error {
	switch t.State {
	case trans.StateXMLOpen:
		var reply xmlproto.OpenReply
		if err := xmlproto.Unmarshal(body, &reply); err != nil {
			return ctxerr.Wrap(ctxerr.CodeCantOpenRemote, "xml open reply", err)
		}
		if reply.File == "" {
			return ctxerr.New(ctxerr.CodeCantOpenRemote, "")
		}
		log.Debugf("%q opened", reply.File)
		t.Result = &reply
		t.State = trans.StateXMLOpened
		return nil

	case trans.StateXMLClosing:
		var reply xmlproto.CloseReply
		if err := xmlproto.Unmarshal(body, &reply); err != nil {
			return fmt.Errorf("xml close reply: %w", err)
		}
		t.State = trans.StateDone
		return nil

	case trans.StateXMLList:
		var reply xmlproto.ListReply
		if err := xmlproto.Unmarshal(body, &reply); err != nil {
			return fmt.Errorf("xml list reply: %w", err)
		}
		t.Result = &reply
		t.State = trans.StateDone
		return nil

	case trans.StateXMLDelete:
		var reply xmlproto.DeleteReply
		if err := xmlproto.Unmarshal(body, &reply); err != nil {
			return fmt.Errorf("xml delete reply: %w", err)
		}
		t.Result = &reply
		t.State = trans.StateDone
		return nil

	case trans.StateXMLCullSend, trans.StateXMLCullCompleteSend:
		// Both cull-setup and cull-complete share a generic reply shape,
		// except cull-complete additionally carries the new generation id.
		if t.State == trans.StateXMLCullCompleteSend {
			var reply xmlproto.CullCompleteReply
			if err := xmlproto.Unmarshal(body, &reply); err != nil {
				return fmt.Errorf("xml cull complete reply: %w", err)
			}
			t.Result = &reply
		} else {
			var reply xmlproto.CullSetupReply
			if err := xmlproto.Unmarshal(body, &reply); err != nil {
				return fmt.Errorf("xml cull setup reply: %w", err)
			}
			t.Result = &reply
		}
		t.State = trans.StateDone
		return nil

	case trans.StateXMLCullShaSend:
		var reply xmlproto.CullShasReply
		if err := xmlproto.Unmarshal(body, &reply); err != nil {
			return fmt.Errorf("xml cull shas reply: %w", err)
		}
		t.Result = &reply
		// §4.8: cull-shas uses CullReplied (not Done) for non-final
		// replies so the driver keeps streaming; only the EOF-bearing
		// final batch advances to Done.
		if t.EOF {
			t.State = trans.StateDone
		} else {
			t.State = trans.StateXMLCullReplied
		}
		return nil

	default:
		return fmt.Errorf("control: unexpected transaction state %v for dispatch", t.State)
	}
}
