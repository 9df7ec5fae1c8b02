package stream

import (
	"bytes"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/imzyxwvu/xwsg/internal/codec"
	"github.com/imzyxwvu/xwsg/internal/fiber"
	"github.com/imzyxwvu/xwsg/internal/streambuf"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// byteMessage is the simplest possible codec.Message/Decoder pair: a
// decoder that completes as soon as any bytes are buffered, returning all
// of them as one message.
type byteMessage struct{ data []byte }

func (m *byteMessage) SerializeSize() int   { return len(m.data) }
func (m *byteMessage) Serialize(buf []byte) { copy(buf, m.data) }

type allBytesDecoder struct {
	msg *byteMessage
}

func (d *allBytesDecoder) Decode(buf *streambuf.Buffer) (bool, error) {
	if buf.Size() == 0 {
		return false, nil
	}
	data := append([]byte(nil), buf.Data()...)
	buf.Pull(buf.Size())
	d.msg = &byteMessage{data: data}
	return true, nil
}

func (d *allBytesDecoder) Msg() codec.Message { return d.msg }
func (d *allBytesDecoder) Reset()             { d.msg = nil }

func newPipePair() (*Stream, *Stream) {
	a, b := net.Pipe()
	return New(a, testLogger()), New(b, testLogger())
}

func TestReadExclusivity(t *testing.T) {
	a, _ := newPipePair()

	started := make(chan struct{})
	result := make(chan error, 1)

	fiber.Launch(testLogger(), func(self *fiber.Fiber) {
		close(started)
		_, err := a.Read(&allBytesDecoder{})
		result <- err
	})

	<-started
	// The first Read is blocked waiting on I/O; readingFiber is set.
	_, err := a.Read(&allBytesDecoder{})
	if err != ErrReadBusy {
		t.Fatalf("expected ErrReadBusy, got %v", err)
	}

	a.Close()
	<-result
}

func TestTimeoutFires(t *testing.T) {
	a, _ := newPipePair()
	a.SetTimeout(50 * time.Millisecond)

	start := time.Now()
	done := make(chan error, 1)
	fiber.Launch(testLogger(), func(self *fiber.Fiber) {
		_, err := a.Read(&allBytesDecoder{})
		done <- err
	})

	err := <-done
	elapsed := time.Since(start)

	var te *TimeoutError
	if !asTimeout(err, &te) {
		t.Fatalf("expected *TimeoutError, got %v", err)
	}
	if elapsed < 40*time.Millisecond || elapsed > 200*time.Millisecond {
		t.Fatalf("timeout fired outside expected window: %v", elapsed)
	}
}

func asTimeout(err error, target **TimeoutError) bool {
	te, ok := err.(*TimeoutError)
	if ok {
		*target = te
	}
	return ok
}

func TestPipeConservation(t *testing.T) {
	srcPeer, srcStream := net.Pipe()
	sinkStream, sinkPeer := net.Pipe()

	src := New(srcStream, testLogger())
	sink := New(sinkStream, testLogger())

	pipeErr := make(chan error, 1)
	fiber.Launch(testLogger(), func(self *fiber.Fiber) {
		pipeErr <- src.Pipe(sink)
	})

	payload := []byte("hello pipe conservation test payload")
	writeDone := make(chan error, 1)
	go func() {
		_, err := srcPeer.Write(payload)
		writeDone <- err
	}()

	readBuf := make([]byte, len(payload))
	if _, err := io.ReadFull(sinkPeer, readBuf); err != nil {
		t.Fatalf("reading forwarded bytes: %v", err)
	}
	if !bytes.Equal(readBuf, payload) {
		t.Fatalf("forwarded bytes mismatch: got %q want %q", readBuf, payload)
	}
	if err := <-writeDone; err != nil {
		t.Fatalf("writing source bytes: %v", err)
	}

	// EOF on the source must propagate as shutdown (EOF) on the sink peer.
	srcPeer.Close()

	tail := make([]byte, 1)
	n, err := sinkPeer.Read(tail)
	if n != 0 || err != io.EOF {
		t.Fatalf("expected EOF on sink peer after source closed, got n=%d err=%v", n, err)
	}

	if err := <-pipeErr; err != nil {
		t.Fatalf("Pipe returned error: %v", err)
	}
}

func TestPipeRejectsWhenSinkHasSource(t *testing.T) {
	a, b := newPipePair()
	c, _ := newPipePair()

	b.pipeSrc = c // simulate b already being a pipe sink for another source

	err := a.Pipe(b)
	if err != ErrSinkHasSource {
		t.Fatalf("expected ErrSinkHasSource, got %v", err)
	}
}

func TestWriteRejectedOnPipeSource(t *testing.T) {
	a, b := newPipePair()
	a.pipeSink = b // simulate a already piping out

	err := a.Write([]byte("x"))
	if err != ErrPipeSinkWrite {
		t.Fatalf("expected ErrPipeSinkWrite, got %v", err)
	}
}
