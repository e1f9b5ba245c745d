package main

import (
	"github.com/ctfile/ctengine/engine"
	"github.com/ctfile/ctengine/internal/trans"
	"github.com/ctfile/ctengine/transport"
	"github.com/ctfile/ctengine/xmlproto"
)

// newSmokeTestTransport builds a transport.FakeTransport that acknowledges
// every control message and read/write chunk request, the same pattern the
// driver tests use to drive the engine without a real server (see e.g.
// driver/archive/archive_test.go). Reads always answer EOF immediately:
// --fake is for exercising the protocol handshake and cull bookkeeping
// locally, not for fetching real content.
func newSmokeTestTransport(gs *engine.GlobalState) transport.Transport {
	var generation int64
	server := func(sent transport.Frame) (transport.Frame, bool) {
		reply := transport.Frame{Header: transport.Header{Tag: sent.Header.Tag, Status: uint8(trans.StatusOK)}}

		switch sent.Header.Opcode {
		case trans.OpWriteChunk:
			return reply, true
		case trans.OpReadChunk:
			reply.Header.Status = uint8(trans.StatusError)
			return reply, true
		}

		var open xmlproto.Open
		if err := xmlproto.Unmarshal(sent.Body, &open); err == nil && open.File != "" {
			body, _ := xmlproto.Marshal(&xmlproto.OpenReply{File: open.File})
			reply.Body = body
			return reply, true
		}
		var closeMsg xmlproto.Close
		if err := xmlproto.Unmarshal(sent.Body, &closeMsg); err == nil {
			body, _ := xmlproto.Marshal(&xmlproto.CloseReply{})
			reply.Body = body
			return reply, true
		}
		var list xmlproto.List
		if err := xmlproto.Unmarshal(sent.Body, &list); err == nil {
			body, _ := xmlproto.Marshal(&xmlproto.ListReply{})
			reply.Body = body
			return reply, true
		}
		var del xmlproto.Delete
		if err := xmlproto.Unmarshal(sent.Body, &del); err == nil && del.File != "" {
			body, _ := xmlproto.Marshal(&xmlproto.DeleteReply{File: del.File})
			reply.Body = body
			return reply, true
		}
		var setup xmlproto.CullSetup
		if err := xmlproto.Unmarshal(sent.Body, &setup); err == nil {
			body, _ := xmlproto.Marshal(&xmlproto.CullSetupReply{})
			reply.Body = body
			return reply, true
		}
		var shas xmlproto.CullShas
		if err := xmlproto.Unmarshal(sent.Body, &shas); err == nil {
			body, _ := xmlproto.Marshal(&xmlproto.CullShasReply{})
			reply.Body = body
			return reply, true
		}
		var complete xmlproto.CullComplete
		if err := xmlproto.Unmarshal(sent.Body, &complete); err == nil {
			generation++
			body, _ := xmlproto.Marshal(&xmlproto.CullCompleteReply{Generation: generation})
			reply.Body = body
			return reply, true
		}
		return transport.Frame{}, false
	}
	return transport.NewFake(server, gs.OnReply)
}
