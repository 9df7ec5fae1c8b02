// Package reactor is a thin naming layer over Go's netpoller: the rest of
// the tree talks about "handles" (TCP sockets, timers) the way the
// original event-loop binding does, even though the actual asynchrony is
// provided by net.Conn/net.Listener deadlines rather than an explicit
// uv_poll_t/uv_timer_t pair. There's no separate reactor loop to run —
// every blocking call below parks the calling fiber's goroutine on the
// underlying netpoller, which is the Go-native equivalent of yielding
// until the event loop reports completion.
package reactor

import (
	"net"
	"time"
)

// Handle names a network endpoint bound into the reactor: a TCP or Unix
// connection. Kept as an interface rather than a concrete struct so the
// Stream layer above can operate uniformly over listener-accepted and
// dialed connections.
type Handle interface {
	net.Conn
}

// Dial opens a new Handle to addr over the given network ("tcp", "unix").
func Dial(network, addr string, timeout time.Duration) (Handle, error) {
	conn, err := net.DialTimeout(network, addr, timeout)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Listener is the accept-side counterpart to Handle.
type Listener interface {
	Accept() (Handle, error)
	Close() error
	Addr() net.Addr
}

type listener struct {
	net.Listener
}

func (l listener) Accept() (Handle, error) {
	return l.Listener.Accept()
}

// Listen binds a TCP listener with the given backlog-equivalent behavior
// delegated to the OS (Go's net package doesn't expose backlog directly;
// it's governed by net.ListenConfig/the kernel default, matching the
// "listen(backlog=32)" surface as a best-effort request, not a guarantee).
func Listen(network, addr string) (Listener, error) {
	ln, err := net.Listen(network, addr)
	if err != nil {
		return nil, err
	}
	return listener{ln}, nil
}
