// Package fcgi implements the FastCGI 1.0 wire protocol: record framing,
// the name/value parameter block encoding, and the connection lifecycle
// that bridges a local_file_service request to a persistent FastCGI
// responder.
package fcgi

import (
	"encoding/binary"
	"fmt"

	"github.com/imzyxwvu/xwsg/internal/codec"
	"github.com/imzyxwvu/xwsg/internal/streambuf"
)

// Record type tags (message_type in the original).
const (
	TypeBeginRequest byte = 1
	TypeAbortRequest byte = 2
	TypeEndRequest   byte = 3
	TypeParams       byte = 4
	TypeStdin        byte = 5
	TypeStdout       byte = 6
	TypeStderr       byte = 7
)

// Roles a BeginRequest record may carry. Core only ever issues
// RoleResponder; Authorizer and Filter are defined for protocol
// completeness (the decoder round-trips any role numerically) but have no
// caller in this implementation — multiplexing/other roles are an
// extension point, not core.
const (
	RoleResponder byte = 1
	RoleAuthorizer byte = 2
	RoleFilter    byte = 3
)

// beginRequestFlags is always 0: no FCGI_KEEP_CONN, one request per
// connection.
const beginRequestFlags byte = 0

// maxRecordPayload is the largest contentLength a single record can carry
// (contentLength is a 16-bit field).
const maxRecordPayload = 65535

// fcgiVersion is the only version this codec speaks.
const fcgiVersion = 1

// Message is one FastCGI record: a tagged type, a 16-bit request id, and
// up to maxRecordPayload bytes of payload.
type Message struct {
	Type      byte
	RequestID uint16
	Payload   []byte
}

// SerializeSize reports the encoded size, always padded to the next
// 8-byte boundary — the original encoder always aligns to 8 bytes even
// though decode accepts any padLen.
func (m *Message) SerializeSize() int {
	padded := (len(m.Payload) + 7) &^ 7
	return 8 + padded
}

// Serialize writes the 8-byte header followed by the payload and zero
// padding into buf, which must be at least SerializeSize() bytes.
func (m *Message) Serialize(buf []byte) {
	contentLen := len(m.Payload)
	padded := (contentLen + 7) &^ 7
	padLen := padded - contentLen

	buf[0] = fcgiVersion
	buf[1] = m.Type
	binary.BigEndian.PutUint16(buf[2:4], m.RequestID)
	binary.BigEndian.PutUint16(buf[4:6], uint16(contentLen))
	buf[6] = byte(padLen)
	buf[7] = 0 // reserved
	copy(buf[8:8+contentLen], m.Payload)
	for i := 8 + contentLen; i < 8+padded; i++ {
		buf[i] = 0
	}
}

var _ codec.Message = (*Message)(nil)

// Decoder implements the record state machine from spec: read the 8-byte
// header, then read contentLength+padLen bytes, then emit. Single-shot —
// Reset prepares it for the next record.
type Decoder struct {
	msg *Message
}

func (d *Decoder) Decode(buf *streambuf.Buffer) (bool, error) {
	if buf.Size() < 8 {
		return false, nil
	}
	data := buf.Data()
	version := data[0]
	if version != fcgiVersion {
		return false, fmt.Errorf("fcgi: unsupported record version %d", version)
	}
	typ := data[1]
	reqID := binary.BigEndian.Uint16(data[2:4])
	contentLen := int(binary.BigEndian.Uint16(data[4:6]))
	padLen := int(data[6])

	total := 8 + contentLen + padLen
	if buf.Size() < total {
		return false, nil
	}

	payload := append([]byte(nil), data[8:8+contentLen]...)
	buf.Pull(total)

	d.msg = &Message{Type: typ, RequestID: reqID, Payload: payload}
	return true, nil
}

func (d *Decoder) Msg() codec.Message { return d.msg }
func (d *Decoder) Reset()             { d.msg = nil }

var _ codec.Decoder = (*Decoder)(nil)
