package fcgi

import (
	"bytes"
	"strings"
	"testing"

	"github.com/imzyxwvu/xwsg/internal/streambuf"
)

func TestRecordRoundTrip(t *testing.T) {
	cases := []*Message{
		{Type: TypeBeginRequest, RequestID: 1, Payload: []byte{0, 1, 0, 0, 0, 0, 0, 0}},
		{Type: TypeParams, RequestID: 1, Payload: nil},
		{Type: TypeStdin, RequestID: 7, Payload: []byte("hello world")},
		{Type: TypeStdout, RequestID: 7, Payload: bytes.Repeat([]byte("x"), 1000)},
	}

	for _, m := range cases {
		buf := make([]byte, m.SerializeSize())
		m.Serialize(buf)
		if len(buf)%8 != 0 {
			t.Fatalf("encoded record not 8-byte aligned: len=%d", len(buf))
		}

		sb := streambuf.New(len(buf))
		dst := sb.Prepare(len(buf))
		copy(dst, buf)
		sb.Commit(len(buf))

		dec := &Decoder{}
		ok, err := dec.Decode(sb)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if !ok {
			t.Fatalf("decode did not complete on a fully-buffered record")
		}
		got := dec.Msg().(*Message)
		if got.Type != m.Type || got.RequestID != m.RequestID || !bytes.Equal(got.Payload, m.Payload) {
			t.Fatalf("round-trip mismatch: got %+v want %+v", got, m)
		}
		if sb.Size() != 0 {
			t.Fatalf("decoder left %d unconsumed bytes", sb.Size())
		}
	}
}

func TestRecordDecodeIncomplete(t *testing.T) {
	m := &Message{Type: TypeStdin, RequestID: 3, Payload: []byte("partial payload test")}
	buf := make([]byte, m.SerializeSize())
	m.Serialize(buf)

	sb := streambuf.New(len(buf))
	// Feed everything but the last 3 bytes.
	short := buf[:len(buf)-3]
	dst := sb.Prepare(len(short))
	copy(dst, short)
	sb.Commit(len(short))

	dec := &Decoder{}
	ok, err := dec.Decode(sb)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ok {
		t.Fatalf("decode completed on a partial record")
	}

	dst = sb.Prepare(3)
	copy(dst, buf[len(short):])
	sb.Commit(3)

	ok, err = dec.Decode(sb)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !ok {
		t.Fatalf("decode did not complete once the record was fully buffered")
	}
}

func TestNameValueRoundTrip(t *testing.T) {
	pairs := []NameValuePair{
		{Name: []byte("SCRIPT_NAME"), Value: []byte("/index.php")},
		{Name: []byte("QUERY_STRING"), Value: []byte("")},
		{Name: []byte("REQUEST_BODY"), Value: []byte(strings.Repeat("z", 300))}, // forces 4-byte value length
		{Name: []byte(strings.Repeat("n", 200)), Value: []byte("v")},            // forces 4-byte name length
	}

	encoded := EncodeNameValuePairs(pairs)
	decoded, err := DecodeNameValuePairs(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded) != len(pairs) {
		t.Fatalf("got %d pairs, want %d", len(decoded), len(pairs))
	}
	for i, p := range pairs {
		if !bytes.Equal(decoded[i].Name, p.Name) || !bytes.Equal(decoded[i].Value, p.Value) {
			t.Fatalf("pair %d mismatch: got %+v want %+v", i, decoded[i], p)
		}
	}
}

func TestEncodeLenBoundary(t *testing.T) {
	if got := encodeLen(127); len(got) != 1 {
		t.Fatalf("127 should encode as 1 byte, got %d bytes", len(got))
	}
	if got := encodeLen(128); len(got) != 4 {
		t.Fatalf("128 should encode as 4 bytes, got %d bytes", len(got))
	}
	if got := encodeLen(128); got[0]&0x80 == 0 {
		t.Fatalf("4-byte length encoding must set the top bit as a flag")
	}

	length, consumed, err := decodeLen(encodeLen(200))
	if err != nil {
		t.Fatalf("decodeLen: %v", err)
	}
	if length != 200 || consumed != 4 {
		t.Fatalf("got length=%d consumed=%d, want 200,4", length, consumed)
	}
}
