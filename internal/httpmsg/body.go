package httpmsg

import (
	"io"

	"github.com/imzyxwvu/xwsg/internal/codec"
	"github.com/imzyxwvu/xwsg/internal/stream"
	"github.com/imzyxwvu/xwsg/internal/streambuf"
)

// BodyReader is the body-reading helper bound to the stream a request was
// decoded from — either Content-Length-delimited or chunked, per
// IsChunked/ContentLength on the owning Request.
type BodyReader struct {
	strm    *stream.Stream
	chunked bool

	remaining int64 // Content-Length mode: bytes left to read
	eof       bool

	chunkLeft int64 // chunked mode: bytes left in the current chunk
}

// BindBody attaches a BodyReader to req, reading from strm. Call this
// once immediately after RequestDecoder yields req.
func BindBody(req *Request, strm *stream.Stream) {
	if req.IsChunked() {
		req.Body = &BodyReader{strm: strm, chunked: true}
		return
	}
	length, ok := req.ContentLength()
	if !ok || length < 0 {
		length = 0
	}
	req.Body = &BodyReader{strm: strm, remaining: length}
}

// rawChunk is the minimal codec.Message wrapping a slice already read off
// the wire — used internally to pull raw bytes through
// stream.Stream.Read's decode pipeline without imposing message framing.
type rawChunk struct{ data []byte }

func (m *rawChunk) SerializeSize() int   { return len(m.data) }
func (m *rawChunk) Serialize(buf []byte) { copy(buf, m.data) }

type rawChunkDecoder struct {
	limit int
	msg   *rawChunk
}

func (d *rawChunkDecoder) Decode(buf *streambuf.Buffer) (bool, error) {
	n := buf.Size()
	if n == 0 {
		return false, nil
	}
	if d.limit > 0 && n > d.limit {
		n = d.limit
	}
	data := append([]byte(nil), buf.Data()[:n]...)
	buf.Pull(n)
	d.msg = &rawChunk{data: data}
	return true, nil
}

func (d *rawChunkDecoder) Msg() codec.Message { return d.msg }
func (d *rawChunkDecoder) Reset()             { d.msg = nil }

// readRaw reads up to len(p) bytes from the stream with no framing,
// suspending the calling fiber until at least one byte arrives or the
// stream ends.
func readRaw(strm *stream.Stream, p []byte) (int, error) {
	dec := &rawChunkDecoder{limit: len(p)}
	msg, err := strm.Read(dec)
	if err != nil {
		return 0, err
	}
	if msg == nil {
		return 0, io.EOF
	}
	rc := msg.(*rawChunk)
	return copy(p, rc.data), nil
}

// Read implements io.Reader. In Content-Length mode it stops at
// remaining == 0; in chunked mode it parses chunk-size lines and stops
// after the zero-length terminating chunk.
func (b *BodyReader) Read(p []byte) (int, error) {
	if b.eof {
		return 0, io.EOF
	}
	if b.chunked {
		return b.readChunked(p)
	}
	if b.remaining == 0 {
		b.eof = true
		return 0, io.EOF
	}
	want := p
	if int64(len(want)) > b.remaining {
		want = want[:b.remaining]
	}
	n, err := readRaw(b.strm, want)
	b.remaining -= int64(n)
	if b.remaining == 0 {
		b.eof = true
	}
	return n, err
}

func (b *BodyReader) readChunked(p []byte) (int, error) {
	if b.chunkLeft == 0 {
		size, err := b.readChunkSizeLine()
		if err != nil {
			return 0, err
		}
		if size == 0 {
			if err := b.discardTrailer(); err != nil {
				return 0, err
			}
			b.eof = true
			return 0, io.EOF
		}
		b.chunkLeft = size
	}

	want := p
	if int64(len(want)) > b.chunkLeft {
		want = want[:b.chunkLeft]
	}
	n, err := readRaw(b.strm, want)
	b.chunkLeft -= int64(n)
	if b.chunkLeft == 0 {
		// Consume the CRLF trailing this chunk's data.
		if err := b.discardCRLF(); err != nil {
			return n, err
		}
	}
	return n, err
}

// readChunkSizeLine reads one hex chunk-size line (ignoring any
// chunk-extension after ';') up to the terminating CRLF.
func (b *BodyReader) readChunkSizeLine() (int64, error) {
	line, err := b.readLine()
	if err != nil {
		return 0, err
	}
	if i := indexByte(line, ';'); i >= 0 {
		line = line[:i]
	}
	var size int64
	for _, c := range line {
		var d int64
		switch {
		case c >= '0' && c <= '9':
			d = int64(c - '0')
		case c >= 'a' && c <= 'f':
			d = int64(c-'a') + 10
		case c >= 'A' && c <= 'F':
			d = int64(c-'A') + 10
		default:
			return 0, &ProtocolError{Msg: "malformed chunk size"}
		}
		size = size*16 + d
	}
	return size, nil
}

func (b *BodyReader) discardTrailer() error {
	for {
		line, err := b.readLine()
		if err != nil {
			return err
		}
		if line == "" {
			return nil
		}
	}
}

func (b *BodyReader) discardCRLF() error {
	_, err := b.readLine()
	return err
}

func (b *BodyReader) readLine() (string, error) {
	var line []byte
	buf := make([]byte, 1)
	for {
		n, err := readRaw(b.strm, buf)
		if n == 0 && err != nil {
			return "", err
		}
		if n == 1 {
			if buf[0] == '\n' {
				if len(line) > 0 && line[len(line)-1] == '\r' {
					line = line[:len(line)-1]
				}
				return string(line), nil
			}
			line = append(line, buf[0])
		}
	}
}

func indexByte(s string, c byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == c {
			return i
		}
	}
	return -1
}
