package service

import (
	"net"
	"testing"
	"time"

	"github.com/imzyxwvu/xwsg/internal/httpmsg"
)

func TestProxyPassProbeHealthMarksDownAndUp(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	deadAddr := "127.0.0.1:1" // nothing listens on a privileged port we don't own
	pp := NewProxyPass([]string{ln.Addr().String(), deadAddr})

	pp.ProbeHealth(200*time.Millisecond, testLogger())

	if pp.down[0].Load() {
		t.Error("expected live endpoint to stay up")
	}
	if !pp.down[1].Load() {
		t.Error("expected unreachable endpoint to be marked down")
	}
}

func TestProxyPassServeSkipsDownEndpoints(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan struct{}, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		accepted <- struct{}{}
		buf := make([]byte, 4096)
		conn.Read(buf)
		conn.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok"))
		conn.Close()
	}()

	pp := NewProxyPass([]string{"127.0.0.1:1", ln.Addr().String()})
	pp.down[0].Store(true)

	runInFiber(func() {
		tx, peer := newTestTransaction(&httpmsg.Request{Method: "GET", Proto: "HTTP/1.1"})
		go drainAll(peer)
		if err := pp.Serve(tx); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	select {
	case <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("expected the live endpoint to receive the connection")
	}
}
