package fcgi

import (
	"log/slog"
	"sync/atomic"

	"github.com/imzyxwvu/xwsg/internal/stream"
)

// maxParamsChunk and maxStdinChunk bound a single Params/Stdin record's
// payload to the record format's 16-bit content length.
const (
	maxParamsChunk = maxRecordPayload
	maxStdinChunk  = maxRecordPayload
)

var requestIDCounter uint32

// nextRequestID hands out a fresh 16-bit request id, skipping 0 (reserved
// by the protocol for management records, which this implementation never
// issues).
func nextRequestID() uint16 {
	for {
		v := uint16(atomic.AddUint32(&requestIDCounter, 1))
		if v != 0 {
			return v
		}
	}
}

// Connection is one FastCGI Responder request multiplexed over a single
// connection: BeginRequest was already sent by NewConnection, Params are
// buffered and flushed lazily on the first Write or Read, Stdin carries
// the request body, and Read filters Stdout/Stderr/EndRequest records
// back to the caller.
type Connection struct {
	strm      *stream.Stream
	requestID uint16
	logger    *slog.Logger

	env      map[string][]byte
	envOrder []string
	envReady bool

	ended bool
}

// NewConnection issues BeginRequest for role over strm and returns a
// Connection ready to accept SetEnv calls and a body write.
func NewConnection(strm *stream.Stream, role byte, logger *slog.Logger) (*Connection, error) {
	c := &Connection{
		strm:      strm,
		requestID: nextRequestID(),
		logger:    logger,
		env:       make(map[string][]byte),
	}

	body := make([]byte, 8)
	body[0] = 0
	body[1] = role
	body[2] = beginRequestFlags
	msg := &Message{Type: TypeBeginRequest, RequestID: c.requestID, Payload: body}
	if err := strm.WriteMessage(msg); err != nil {
		return nil, err
	}
	return c, nil
}

// NewResponderConnection is the common case: role is always Responder for
// a local_file_service backed by a FastCGI application.
func NewResponderConnection(strm *stream.Stream, logger *slog.Logger) (*Connection, error) {
	return NewConnection(strm, RoleResponder, logger)
}

// RequestID returns the request id this connection negotiated.
func (c *Connection) RequestID() uint16 { return c.requestID }

// SetEnv stages an environment variable to be sent in the Params record
// block. Buffered, not written immediately — flushed on the first Read or
// Write.
func (c *Connection) SetEnv(key string, value []byte) {
	if _, exists := c.env[key]; !exists {
		c.envOrder = append(c.envOrder, key)
	}
	c.env[key] = value
}

// GetEnv returns a previously staged environment variable.
func (c *Connection) GetEnv(key string) ([]byte, bool) {
	v, ok := c.env[key]
	return v, ok
}

// flushEnv writes the staged environment as one or more Params records
// followed by the empty Params record that terminates the block. A no-op
// after the first call.
func (c *Connection) flushEnv() error {
	if c.envReady {
		return nil
	}

	pairs := make([]NameValuePair, 0, len(c.envOrder))
	for _, k := range c.envOrder {
		pairs = append(pairs, NameValuePair{Name: []byte(k), Value: c.env[k]})
	}
	payload := EncodeNameValuePairs(pairs)

	for len(payload) > 0 {
		chunk := payload
		if len(chunk) > maxParamsChunk {
			chunk = chunk[:maxParamsChunk]
		}
		if err := c.strm.WriteMessage(&Message{Type: TypeParams, RequestID: c.requestID, Payload: chunk}); err != nil {
			return err
		}
		payload = payload[len(chunk):]
	}
	if err := c.strm.WriteMessage(&Message{Type: TypeParams, RequestID: c.requestID, Payload: nil}); err != nil {
		return err
	}

	c.envReady = true
	return nil
}

// Write flushes the environment if needed, then emits one or more Stdin
// records carrying data, splitting at the record's 64 KiB payload limit.
// A zero-length write signals end-of-stdin (the empty Stdin record).
func (c *Connection) Write(data []byte) error {
	if err := c.flushEnv(); err != nil {
		return err
	}

	if len(data) == 0 {
		return c.strm.WriteMessage(&Message{Type: TypeStdin, RequestID: c.requestID, Payload: nil})
	}

	for len(data) > 0 {
		chunk := data
		if len(chunk) > maxStdinChunk {
			chunk = chunk[:maxStdinChunk]
		}
		if err := c.strm.WriteMessage(&Message{Type: TypeStdin, RequestID: c.requestID, Payload: chunk}); err != nil {
			return err
		}
		data = data[len(chunk):]
	}
	return nil
}

// CloseStdin signals end-of-stdin explicitly, equivalent to Write(nil).
func (c *Connection) CloseStdin() error {
	return c.Write(nil)
}

// Read flushes the environment if needed (a FastCGI application is
// allowed to start responding before it has consumed all of stdin), then
// returns the next Stdout, Stderr, or EndRequest record from the
// application. Returns nil, nil once EndRequest has been consumed.
func (c *Connection) Read() (*Message, error) {
	if c.ended {
		return nil, nil
	}
	if err := c.flushEnv(); err != nil {
		return nil, err
	}

	dec := &Decoder{}
	msg, err := c.strm.Read(dec)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, nil
	}
	fm := msg.(*Message)
	if fm.Type == TypeEndRequest {
		c.ended = true
	}
	return fm, nil
}
