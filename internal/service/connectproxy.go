package service

import (
	"time"

	"github.com/imzyxwvu/xwsg/internal/fiber"
	"github.com/imzyxwvu/xwsg/internal/reactor"
	"github.com/imzyxwvu/xwsg/internal/stream"
)

// ConnectProxy handles the HTTP CONNECT method: dials Path (the
// "host:port" request-target CONNECT carries), responds
// "200 Connection Established", then full-duplex pipes the client and
// target streams — each direction is one Pipe call, run as its own
// fiber, and when either direction EOFs the other is shut down.
type ConnectProxy struct {
	DialTimeout time.Duration
}

// NewConnectProxy builds a ConnectProxy with a 10s dial timeout.
func NewConnectProxy() *ConnectProxy {
	return &ConnectProxy{DialTimeout: 10 * time.Second}
}

func (c *ConnectProxy) Serve(tx *Transaction) error {
	if tx.Request.Method != "CONNECT" {
		return nil
	}

	target, err := reactor.Dial("tcp", tx.Request.Path, c.DialTimeout)
	if err != nil {
		return tx.Respond(502, "text/plain", []byte("Bad Gateway"))
	}
	targetStream := stream.New(target, tx.Logger)

	if err := tx.Stream.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		targetStream.Close()
		return err
	}
	tx.MarkRawSent()

	done := make(chan struct{}, 2)
	fiber.Launch(tx.Logger, func(self *fiber.Fiber) {
		tx.Stream.Pipe(targetStream)
		done <- struct{}{}
	})
	fiber.Launch(tx.Logger, func(self *fiber.Fiber) {
		targetStream.Pipe(tx.Stream)
		done <- struct{}{}
	})
	<-done
	<-done

	return nil
}

var _ Service = (*ConnectProxy)(nil)
