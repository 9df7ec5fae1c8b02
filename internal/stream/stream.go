// Package stream binds a reactor handle to the fiber runtime and exposes
// synchronous-looking read/write/shutdown/pipe operations: each call
// suspends the calling fiber until the underlying I/O completes, exactly
// as if it were a blocking call, while the rest of the server keeps
// making progress on other fibers.
package stream

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/imzyxwvu/xwsg/internal/codec"
	"github.com/imzyxwvu/xwsg/internal/fiber"
	"github.com/imzyxwvu/xwsg/internal/reactor"
	"github.com/imzyxwvu/xwsg/internal/streambuf"
)

const defaultReadChunk = 64 * 1024

// ioEvent is the concrete WakeupEvent carried by every stream suspension
// point: either a byte count (StatusOK/n>=0), or a distinguished failure
// status with the underlying error attached for logging.
type ioEvent struct {
	n      int
	status fiber.IntStatus
	err    error
}

func classifyRead(n int, err error) ioEvent {
	if err == nil {
		return ioEvent{n: n, status: fiber.IntStatus(n)}
	}
	if errors.Is(err, io.EOF) {
		return ioEvent{status: fiber.StatusEOF}
	}
	if isTimeout(err) {
		return ioEvent{status: fiber.StatusTimeout}
	}
	return ioEvent{status: fiber.StatusError, err: err}
}

// Stream owns a reactor handle, a receive buffer, a timeout, and the
// read-exclusivity / pipe-link bookkeeping spec.md mandates.
type Stream struct {
	conn    reactor.Handle
	buf     *streambuf.Buffer
	logger  *slog.Logger
	timeout time.Duration

	readingFiber *fiber.Fiber
	pipeSink     *Stream
	pipeSrc      *Stream

	throttleBytesPerSec int64
}

// New wraps an already-connected or already-accepted handle. The default
// read timeout is 30s, matching spec.md §5.
func New(conn reactor.Handle, logger *slog.Logger) *Stream {
	return &Stream{
		conn:    conn,
		buf:     streambuf.New(defaultReadChunk),
		logger:  logger,
		timeout: 30 * time.Second,
	}
}

// HasTLS reports whether the underlying handle is a TLS connection.
func (s *Stream) HasTLS() bool {
	_, ok := s.conn.(*tls.Conn)
	return ok
}

// SetTimeout sets the read timeout; 0 disables it.
func (s *Stream) SetTimeout(d time.Duration) {
	s.timeout = d
}

// SetThrottle caps write throughput to bytesPerSec; 0 disables throttling.
func (s *Stream) SetThrottle(bytesPerSec int64) {
	s.throttleBytesPerSec = bytesPerSec
}

// RemoteAddr exposes the peer address for logging and transaction
// accessors.
func (s *Stream) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// Conn exposes the underlying handle for callers (DSCP tagging, raw
// syscall access) that need it; ordinary service code should not need
// this.
func (s *Stream) Conn() reactor.Handle {
	return s.conn
}

// Read decodes one message, installing dec as the active decoder and
// suspending the calling fiber until a complete message, EOF, timeout, or
// I/O error occurs. If the receive buffer already holds a complete
// message, it's returned with no suspension.
func (s *Stream) Read(dec codec.Decoder) (codec.Message, error) {
	if s.pipeSrc != nil {
		return nil, ErrPipeSourceRead
	}
	if s.readingFiber != nil {
		return nil, ErrReadBusy
	}

	if s.buf.Size() > 0 {
		ok, err := dec.Decode(s.buf)
		if err != nil {
			return nil, err
		}
		if ok {
			return dec.Msg(), nil
		}
	}

	defer fiber.Preserve(&s.readingFiber)()

	for {
		s.armDeadline()

		dst := s.buf.Prepare(defaultReadChunk)
		self := fiber.Current()
		go func() {
			n, err := s.conn.Read(dst)
			fiber.ScheduleResume(self, classifyRead(n, err))
		}()

		ev, yerr := fiber.Yield()
		if yerr != nil {
			return nil, yerr
		}
		ioe := ev.(ioEvent)
		switch ioe.status {
		case fiber.StatusEOF:
			return nil, nil
		case fiber.StatusTimeout:
			return nil, &TimeoutError{}
		default:
			if ioe.err != nil {
				return nil, &IOError{Err: ioe.err}
			}
			s.buf.Commit(ioe.n)
			ok, err := dec.Decode(s.buf)
			if err != nil {
				return nil, err
			}
			if ok {
				return dec.Msg(), nil
			}
		}
	}
}

func (s *Stream) armDeadline() {
	if s.timeout > 0 {
		s.conn.SetReadDeadline(time.Now().Add(s.timeout))
	} else {
		s.conn.SetReadDeadline(time.Time{})
	}
}

// Write submits one write to the reactor and suspends until it completes.
// Forbidden on a stream currently piping out to a sink.
func (s *Stream) Write(p []byte) error {
	if s.pipeSink != nil {
		return ErrPipeSinkWrite
	}
	return s.rawWrite(p)
}

// rawWrite bypasses the pipe-sink guard — used internally by Pipe to
// forward bytes to the sink side, which legitimately has no source of its
// own set yet at the moment of the first synchronous flush.
func (s *Stream) rawWrite(p []byte) error {
	var w io.Writer = s.conn
	if s.throttleBytesPerSec > 0 {
		w = newThrottledWriter(context.Background(), w, s.throttleBytesPerSec)
	}

	self := fiber.Current()
	go func() {
		_, err := w.Write(p)
		if err != nil {
			fiber.ScheduleResume(self, ioEvent{status: fiber.StatusError, err: err})
			return
		}
		fiber.ScheduleResume(self, ioEvent{status: fiber.StatusOK})
	}()

	ev, yerr := fiber.Yield()
	if yerr != nil {
		return yerr
	}
	ioe := ev.(ioEvent)
	if ioe.status != fiber.StatusOK {
		return &IOError{Err: ioe.err}
	}
	return nil
}

// WriteMessage sizes, serializes, and writes m.
func (s *Stream) WriteMessage(m codec.Message) error {
	buf := make([]byte, m.SerializeSize())
	m.Serialize(buf)
	return s.Write(buf)
}

type closeWriter interface {
	CloseWrite() error
}

// Shutdown half-closes the write side. Forbidden while the stream is
// either side of a pipe link.
func (s *Stream) Shutdown() error {
	if s.pipeSink != nil || s.pipeSrc != nil {
		return ErrPipeShutdown
	}

	cw, ok := s.conn.(closeWriter)
	if !ok {
		return s.conn.Close()
	}

	self := fiber.Current()
	go func() {
		if err := cw.CloseWrite(); err != nil {
			fiber.ScheduleResume(self, ioEvent{status: fiber.StatusError, err: err})
			return
		}
		fiber.ScheduleResume(self, ioEvent{status: fiber.StatusOK})
	}()

	ev, yerr := fiber.Yield()
	if yerr != nil {
		return yerr
	}
	ioe := ev.(ioEvent)
	if ioe.status != fiber.StatusOK {
		return &IOError{Err: ioe.err}
	}
	return nil
}

// Close releases the handle outright, severing any pipe links.
func (s *Stream) Close() error {
	s.severPipe()
	if s.pipeSrc != nil {
		s.pipeSrc.pipeSink = nil
		s.pipeSrc = nil
	}
	return s.conn.Close()
}

// Pipe sets up unidirectional forwarding from s to sink: buffered bytes
// are flushed first, then s is read in a loop and each chunk is written
// to sink without decoding, with backpressure implicit in the sequential
// read-then-write-then-read loop (the next read is never issued until the
// forwarding write completes). On EOF from s, sink is shut down and both
// links are severed; on any error, both links are severed symmetrically.
func (s *Stream) Pipe(sink *Stream) error {
	if s.readingFiber != nil {
		return ErrReadBusy
	}
	if sink.pipeSrc != nil {
		return ErrSinkHasSource
	}
	if s.HasTLS() || sink.HasTLS() {
		return ErrTLSCannotPipe
	}

	if s.buf.Size() > 0 {
		if err := sink.rawWrite(s.buf.Data()); err != nil {
			return err
		}
		s.buf.Pull(s.buf.Size())
	}

	s.pipeSink = sink
	sink.pipeSrc = s

	defer fiber.Preserve(&s.readingFiber)()

	for {
		s.armDeadline()

		dst := s.buf.Prepare(defaultReadChunk)
		self := fiber.Current()
		go func() {
			n, err := s.conn.Read(dst)
			fiber.ScheduleResume(self, classifyRead(n, err))
		}()

		ev, yerr := fiber.Yield()
		if yerr != nil {
			s.severPipe()
			return yerr
		}
		ioe := ev.(ioEvent)
		switch ioe.status {
		case fiber.StatusEOF:
			s.severPipe()
			sink.Shutdown()
			return nil
		case fiber.StatusTimeout:
			s.severPipe()
			return &TimeoutError{}
		default:
			if ioe.err != nil {
				s.severPipe()
				return &IOError{Err: ioe.err}
			}
			s.buf.Commit(ioe.n)
			chunk := append([]byte(nil), s.buf.Data()...)
			s.buf.Pull(s.buf.Size())
			if err := sink.rawWrite(chunk); err != nil {
				s.severPipe()
				return err
			}
		}
	}
}

// severPipe clears both sides of the pipe link symmetrically — never by
// a one-sided move, per the symmetric-severing fix spec.md §9 mandates.
func (s *Stream) severPipe() {
	sink := s.pipeSink
	s.pipeSink = nil
	if sink != nil {
		sink.pipeSrc = nil
	}
}
