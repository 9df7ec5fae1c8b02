// Package service implements the composable HTTP service chain: each
// Service inspects or answers a Transaction, and a chain of them is
// assembled programmatically to build a vhost's request pipeline.
package service

import (
	"log/slog"

	"github.com/imzyxwvu/xwsg/internal/httpmsg"
	"github.com/imzyxwvu/xwsg/internal/stream"
)

// ResponseWriter is the subset of httpmsg.ResponseWriter's surface a
// Transaction needs. It's an interface, not the concrete type, so a
// service like CompressService can install a wrapping implementation
// (gzip-encoding the body) around the one NewTransaction builds.
type ResponseWriter interface {
	Header() httpmsg.Header
	WriteHeader(status int) error
	Write(p []byte) (int, error)
	Sent() bool
	Status() int
	Close() error
}

// Transaction carries one request through a service chain. A service
// either sends a complete response (Writer.Sent() becomes true), mutates
// the transaction and returns (letting the chain continue), or responds
// with a specific status and returns (also terminal).
type Transaction struct {
	Request *httpmsg.Request
	Writer  ResponseWriter
	Stream  *stream.Stream
	Logger  *slog.Logger

	// Path is the path the chain dispatches on — regex_route and
	// local_file_service consult and may rewrite this, independent of
	// Request.Path, so a proxy_pass_service can strip a mount prefix
	// without mutating the original request.
	Path string

	bytesWritten int64
	rawSent      bool
}

// NewTransaction builds a Transaction for req, ready to be passed through
// a Service chain.
func NewTransaction(req *httpmsg.Request, strm *stream.Stream, logger *slog.Logger) *Transaction {
	return &Transaction{
		Request: req,
		Writer:  httpmsg.NewResponseWriter(strm),
		Stream:  strm,
		Logger:  logger,
		Path:    req.Path,
	}
}

// ResponseSent reports whether a downstream service already sent a
// response — the chain's short-circuit signal.
func (tx *Transaction) ResponseSent() bool {
	return tx.Writer.Sent() || tx.rawSent
}

// MarkRawSent records that a response went out bypassing Writer entirely
// (proxy_pass_service and connect_proxy write upstream bytes straight to
// tx.Stream) — without this, ResponseSent would stay false and the chain
// would try the next service on an already-answered connection.
func (tx *Transaction) MarkRawSent() {
	tx.rawSent = true
}

// Respond writes status and body in one call — the common case for
// services that terminate the chain with a small fixed body.
func (tx *Transaction) Respond(status int, contentType string, body []byte) error {
	tx.Writer.Header().Set("Content-Type", contentType)
	tx.Writer.Header().Set("Content-Length", itoa(len(body)))
	if err := tx.Writer.WriteHeader(status); err != nil {
		return err
	}
	n, err := tx.Writer.Write(body)
	tx.bytesWritten += int64(n)
	return err
}

// BytesWritten reports the number of body bytes sent so far — consulted
// by logger_service.
func (tx *Transaction) BytesWritten() int64 { return tx.bytesWritten }

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// Service is the chain's unit of composition: serve must return promptly
// (suspension happens only through tx.Stream's fiber-bound operations)
// and an error is treated as a raise — the chain responds 500 if nothing
// was sent yet, then logs.
type Service interface {
	Serve(tx *Transaction) error
}

// ServiceFunc adapts a plain function to the Service interface.
type ServiceFunc func(tx *Transaction) error

func (f ServiceFunc) Serve(tx *Transaction) error { return f(tx) }
