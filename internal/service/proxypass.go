package service

import (
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/imzyxwvu/xwsg/internal/reactor"
	"github.com/imzyxwvu/xwsg/internal/stream"
)

// ProxyPass is proxy_pass_service: round-robins across Endpoints,
// retrying on connect failure up to len(Endpoints)-1 times before
// responding 502 — the same advance-the-cursor-and-retry shape as a
// round-robin dispatcher cycling through parallel upstreams. down tracks
// endpoints the background health probe (internal/scheduler) has found
// unreachable, so the cursor skips them instead of waiting out a fresh
// dial timeout on every request.
type ProxyPass struct {
	Endpoints   []string
	DialTimeout time.Duration
	cursor      uint32 // atomic
	down        []atomic.Bool
}

// NewProxyPass builds a ProxyPass across endpoints (host:port strings).
func NewProxyPass(endpoints []string) *ProxyPass {
	return &ProxyPass{
		Endpoints:   endpoints,
		DialTimeout: 10 * time.Second,
		down:        make([]atomic.Bool, len(endpoints)),
	}
}

func (p *ProxyPass) next() int {
	n := atomic.AddUint32(&p.cursor, 1)
	return int(n-1) % len(p.Endpoints)
}

// ProbeHealth dials every endpoint with a short timeout and marks it
// down/up accordingly — called periodically by internal/scheduler's
// health-probe cron job, never from the request path.
func (p *ProxyPass) ProbeHealth(timeout time.Duration, logger *slog.Logger) {
	for i, addr := range p.Endpoints {
		conn, err := net.DialTimeout("tcp", addr, timeout)
		if err != nil {
			if !p.down[i].Swap(true) && logger != nil {
				logger.Warn("proxy_pass: upstream marked down", "endpoint", addr, "error", err)
			}
			continue
		}
		conn.Close()
		if p.down[i].Swap(false) && logger != nil {
			logger.Info("proxy_pass: upstream recovered", "endpoint", addr)
		}
	}
}

func (p *ProxyPass) Serve(tx *Transaction) error {
	if len(p.Endpoints) == 0 {
		return tx.Respond(502, "text/plain", []byte("Bad Gateway"))
	}

	var lastErr error
	for attempt := 0; attempt < len(p.Endpoints); attempt++ {
		idx := p.next()
		if p.down[idx].Load() {
			continue
		}
		upstream, err := reactor.Dial("tcp", p.Endpoints[idx], p.DialTimeout)
		if err != nil {
			lastErr = err
			continue
		}
		return p.relay(tx, stream.New(upstream, tx.Logger))
	}
	if tx.Logger != nil && lastErr != nil {
		tx.Logger.Warn("proxy_pass: all upstreams unreachable", "error", lastErr)
	}
	return tx.Respond(502, "text/plain", []byte("Bad Gateway"))
}

func (p *ProxyPass) relay(tx *Transaction, upstream *stream.Stream) error {
	defer upstream.Close()

	requestLine := fmt.Sprintf("%s %s %s\r\n", tx.Request.Method, tx.Path, tx.Request.Proto)
	if err := upstream.Write([]byte(requestLine)); err != nil {
		return err
	}
	for key, values := range tx.Request.Header {
		for _, v := range values {
			if err := upstream.Write([]byte(key + ": " + v + "\r\n")); err != nil {
				return err
			}
		}
	}
	if err := upstream.Write([]byte("\r\n")); err != nil {
		return err
	}

	if tx.Request.Body != nil {
		buf := make([]byte, 32*1024)
		for {
			n, rerr := tx.Request.Body.Read(buf)
			if n > 0 {
				if werr := upstream.Write(buf[:n]); werr != nil {
					return werr
				}
			}
			if rerr != nil {
				break
			}
		}
	}

	tx.MarkRawSent()
	return upstream.Pipe(tx.Stream)
}

var _ Service = (*ProxyPass)(nil)
