// Package xmlproto implements the five XML control message shapes (§6) and
// their wire codec.
//
// This codec is explicitly an external collaborator per the engine's scope
// (§1 "the XML wire codec ... marshals/unmarshals the five control
// messages"): its design is not the specified subject matter. It still needs
// a concrete, idiomatic body so the in-scope reply demultiplexer (§4.8) has
// something real to dispatch, so it is implemented here with stdlib
// encoding/xml rather than left as a stub.
package xmlproto

import "encoding/xml"

// Mode is the open-request direction.
type Mode string

// Open modes (§6).
const (
	ModeRead  Mode = "read"
	ModeWrite Mode = "write"
)

// CullMode is the mode field carried by cull-setup/cull-complete.
type CullMode string

// Cull modes (§4.7, §6).
const (
	CullPrecious CullMode = "PRECIOUS"
	CullProcess  CullMode = "PROCESS"
)

// Open is the xml-open request/reply.
type Open struct {
	XMLName xml.Name `xml:"ctfile_open"`
	File    string   `xml:"file,attr"`
	Mode    Mode     `xml:"mode,attr,omitempty"`
	ChunkNo uint32   `xml:"chunkno,attr,omitempty"`
}

// OpenReply carries the server-canonicalized file name, or empty on
// failure (§4.8: "If filename == nil, fatal CANT_OPEN_REMOTE").
type OpenReply struct {
	XMLName xml.Name `xml:"ctfile_open_reply"`
	File    string   `xml:"file,attr"`
}

// Close is the xml-close request; it carries no fields.
type Close struct {
	XMLName xml.Name `xml:"ctfile_close"`
}

// CloseReply acknowledges a close.
type CloseReply struct {
	XMLName xml.Name `xml:"ctfile_close_reply"`
}

// List is the xml-list request; it carries no fields.
type List struct {
	XMLName xml.Name `xml:"ctfile_list"`
}

// ListReply carries the server's ctfile names.
type ListReply struct {
	XMLName xml.Name `xml:"ctfile_list_reply"`
	Files   []string `xml:"file"`
}

// Delete is the xml-delete request.
type Delete struct {
	XMLName xml.Name `xml:"ctfile_delete"`
	File    string   `xml:"file,attr"`
}

// DeleteReply carries the (possibly canonicalized) deleted file name.
type DeleteReply struct {
	XMLName xml.Name `xml:"ctfile_delete_reply"`
	File    string   `xml:"file,attr"`
}

// CullSetup starts a cull session (§4.7 step 4).
type CullSetup struct {
	XMLName xml.Name `xml:"cull_setup"`
	UUID    uint64   `xml:"uuid,attr"`
	Mode    CullMode `xml:"mode,attr"`
}

// CullSetupReply acknowledges cull setup.
type CullSetupReply struct {
	XMLName xml.Name `xml:"cull_setup_reply"`
}

// CullShas carries one batch of live SHA digests (§4.7 step 5).
type CullShas struct {
	XMLName xml.Name `xml:"cull_shas"`
	UUID    uint64   `xml:"uuid,attr"`
	Shas    []string `xml:"sha"` // hex-encoded digests
}

// CullShasReply acknowledges one batch.
type CullShasReply struct {
	XMLName xml.Name `xml:"cull_shas_reply"`
}

// CullComplete finalizes a cull session (§4.7 step 6).
type CullComplete struct {
	XMLName xml.Name `xml:"cull_complete"`
	UUID    uint64   `xml:"uuid,attr"`
	Mode    CullMode `xml:"mode,attr"`
}

// CullCompleteReply carries the new generation id.
type CullCompleteReply struct {
	XMLName    xml.Name `xml:"cull_complete_reply"`
	Generation int64    `xml:"generation,attr"`
}

// Marshal encodes v (one of the message types above) to its XML wire form.
func Marshal(v interface{}) ([]byte, error) {
	return xml.Marshal(v)
}

// Unmarshal decodes body into v.
func Unmarshal(body []byte, v interface{}) error {
	return xml.Unmarshal(body, v)
}
