package service

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/imzyxwvu/xwsg/internal/httpmsg"
)

func TestConnectProxyIgnoresNonConnectMethod(t *testing.T) {
	proxy := NewConnectProxy()
	runInFiber(func() {
		tx, peer := newTestTransaction(&httpmsg.Request{Method: "GET"})
		go drainAll(peer)
		if err := proxy.Serve(tx); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if tx.ResponseSent() {
			t.Error("expected ConnectProxy to pass through a non-CONNECT request untouched")
		}
	})
}

func TestConnectProxyRelaysBothDirections(t *testing.T) {
	target, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer target.Close()

	upstreamGotPing := make(chan struct{}, 1)
	go func() {
		conn, err := target.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 4)
		if n, _ := conn.Read(buf); n == 4 && string(buf[:4]) == "ping" {
			upstreamGotPing <- struct{}{}
		}
		conn.Write([]byte("pong"))
	}()

	proxy := NewConnectProxy()

	runInFiber(func() {
		tx, peer := newTestTransaction(&httpmsg.Request{Method: "CONNECT", Path: target.Addr().String()})

		clientDone := make(chan string, 1)
		go func() {
			statusBuf := make([]byte, 64)
			n, _ := peer.Read(statusBuf)
			peer.Write([]byte("ping"))
			resp := make([]byte, 4)
			io.ReadFull(peer, resp)
			clientDone <- string(statusBuf[:n]) + "|" + string(resp)
			peer.Close()
		}()

		if err := proxy.Serve(tx); err != nil {
			t.Errorf("unexpected error: %v", err)
		}

		select {
		case result := <-clientDone:
			if result == "" {
				t.Error("expected a CONNECT response and relayed pong")
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for relay")
		}
	})

	select {
	case <-upstreamGotPing:
	case <-time.After(2 * time.Second):
		t.Fatal("upstream never received the relayed ping")
	}
}
