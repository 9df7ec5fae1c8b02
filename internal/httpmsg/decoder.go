package httpmsg

import (
	"bytes"
	"strings"

	"github.com/imzyxwvu/xwsg/internal/codec"
	"github.com/imzyxwvu/xwsg/internal/streambuf"
)

// maxHeaderBlock bounds how many bytes of request line + headers this
// decoder will buffer before giving up — a client that never sends the
// terminating blank line shouldn't be allowed to grow the buffer without
// limit.
const maxHeaderBlock = 64 * 1024

// RequestDecoder decodes one HTTP/1.1 request line and header block. It
// does not touch the body — BindBody attaches a BodyReader to the
// decoded Request once the caller has a stream to read it from.
type RequestDecoder struct {
	msg *Request
}

func (d *RequestDecoder) Decode(buf *streambuf.Buffer) (bool, error) {
	data := buf.Data()
	idx := bytes.Index(data, []byte("\r\n\r\n"))
	if idx < 0 {
		if len(data) > maxHeaderBlock {
			return false, &ProtocolError{Msg: "request header block exceeds limit"}
		}
		return false, nil
	}

	block := data[:idx]
	lines := strings.Split(string(block), "\r\n")

	req, err := parseRequestLine(lines[0])
	if err != nil {
		return false, err
	}
	req.Header = make(Header)
	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		if err := parseHeaderLine(req.Header, line); err != nil {
			return false, err
		}
	}

	buf.Pull(idx + 4)
	d.msg = req
	return true, nil
}

func (d *RequestDecoder) Msg() codec.Message { return d.msg }
func (d *RequestDecoder) Reset()             { d.msg = nil }

var _ codec.Decoder = (*RequestDecoder)(nil)

// SerializeSize and Serialize make *Request satisfy codec.Message so it
// can flow through stream.Stream.Read's generic pipeline. Requests are
// decode-only in this implementation: a server never re-serializes one
// it received, so these are never called in practice.
func (r *Request) SerializeSize() int   { return 0 }
func (r *Request) Serialize(buf []byte) {}

var _ codec.Message = (*Request)(nil)

func parseRequestLine(line string) (*Request, error) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 {
		return nil, &ProtocolError{Msg: "malformed request line: " + line}
	}
	if !strings.HasPrefix(parts[2], "HTTP/") {
		return nil, &ProtocolError{Msg: "malformed request protocol: " + parts[2]}
	}
	path, query := splitRequestTarget(parts[1])
	return &Request{
		Method: parts[0],
		Path:   path,
		Query:  query,
		Proto:  parts[2],
	}, nil
}

func parseHeaderLine(h Header, line string) error {
	i := strings.IndexByte(line, ':')
	if i < 0 {
		return &ProtocolError{Msg: "malformed header line: " + line}
	}
	name := line[:i]
	value := strings.TrimSpace(line[i+1:])
	h.Add(name, value)
	return nil
}
