// Package codec defines the Message and Decoder contracts shared by the
// HTTP message layer and the FastCGI record layer: a Message knows its own
// serialized size and can write itself into a buffer, and a Decoder
// incrementally consumes a streambuf.Buffer until one Message is complete.
package codec

import "github.com/imzyxwvu/xwsg/internal/streambuf"

// Message is anything serializable into a fixed-size byte representation.
type Message interface {
	SerializeSize() int
	Serialize(buf []byte)
}

// Decoder is an incremental parser: Decode consumes bytes already
// buffered and reports whether a complete message is now available via
// Msg. Decode may return a protocol error, which the stream propagates to
// the reading fiber. Decoders are single-shot — Reset prepares one for the
// next message.
type Decoder interface {
	Decode(buf *streambuf.Buffer) (bool, error)
	Msg() Message
	Reset()
}
