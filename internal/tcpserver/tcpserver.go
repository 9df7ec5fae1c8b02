// Package tcpserver runs the accept loop that turns a listener into a
// stream of fiber-bound connections, each driven through an HTTP/1.1
// request/response cycle against a configured service chain.
package tcpserver

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/imzyxwvu/xwsg/internal/fiber"
	"github.com/imzyxwvu/xwsg/internal/httpmsg"
	"github.com/imzyxwvu/xwsg/internal/logging"
	"github.com/imzyxwvu/xwsg/internal/reactor"
	"github.com/imzyxwvu/xwsg/internal/service"
	"github.com/imzyxwvu/xwsg/internal/stream"
)

// idleTimeout bounds how long a keep-alive connection may sit between
// requests before the server gives up on it.
const idleTimeout = 75 * time.Second

// Server binds one listener to one service chain. Build one per
// configured listen address (xwsgd currently configures a single one,
// with per-vhost dispatch happening inside Chain via host_dispatch_service).
type Server struct {
	Addr      string
	TLSConfig *tls.Config
	Chain     service.Service
	Logger    *slog.Logger

	// ThrottleLookup, if set, maps a normalized Host header to a
	// bytes-per-second cap applied to the stream for the rest of the
	// connection — xwsgd wires this from each vhost's
	// throttle_bytes_per_sec setting.
	ThrottleLookup func(host string) int64

	// ConnLogDir, if set, turns on logging.NewConnectionLogger: every
	// connection gets its own debug-level log file under
	// {ConnLogDir}/{vhost}/{connID}.log, removed once the connection ends.
	ConnLogDir string

	connSeq atomic.Uint64
}

// New builds a Server. chain is typically a host_dispatch_service wrapping
// one Chain per virtual host.
func New(addr string, tlsCfg *tls.Config, chain service.Service, logger *slog.Logger) *Server {
	return &Server{Addr: addr, TLSConfig: tlsCfg, Chain: chain, Logger: logger}
}

// ListenAndServe binds the listener and accepts connections until ctx is
// canceled. Every accepted connection is handed to its own fiber via
// fiber.ScheduleLaunch — the accept loop is an external entry point, not
// a nested resume, so it must funnel through the single dispatcher the
// same way stream.go's I/O-completion goroutines do.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := s.listen()
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.Addr, err)
	}
	defer ln.Close()

	s.Logger.Info("tcpserver listening", "address", s.Addr, "tls", s.TLSConfig != nil)

	go func() {
		<-ctx.Done()
		s.Logger.Info("tcpserver shutting down")
		ln.Close()
	}()

	consecutiveErrors := 0
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				consecutiveErrors++
				s.Logger.Error("accepting connection", "error", err, "consecutive_errors", consecutiveErrors)
				if consecutiveErrors > 5 {
					delay := time.Duration(consecutiveErrors) * 100 * time.Millisecond
					if delay > 5*time.Second {
						delay = 5 * time.Second
					}
					time.Sleep(delay)
				}
				continue
			}
		}

		consecutiveErrors = 0
		c := conn
		fiber.ScheduleLaunch(s.Logger, func(f *fiber.Fiber) {
			s.serveConn(c)
		})
	}
}

func (s *Server) listen() (reactor.Listener, error) {
	if s.TLSConfig == nil {
		return reactor.Listen("tcp", s.Addr)
	}
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return nil, err
	}
	return tlsListener{tls.NewListener(ln, s.TLSConfig)}, nil
}

// tlsListener adapts a *tls.Config-wrapped net.Listener to
// reactor.Listener — net.Conn already satisfies reactor.Handle.
type tlsListener struct {
	net.Listener
}

func (l tlsListener) Accept() (reactor.Handle, error) {
	return l.Listener.Accept()
}

// serveConn reads and answers requests off conn until the client stops
// asking for keep-alive, the body can't be fully drained, or the stream
// errors out.
func (s *Server) serveConn(conn reactor.Handle) {
	strm := stream.New(conn, s.Logger)
	defer strm.Close()

	connID := strconv.FormatUint(s.connSeq.Add(1), 10)
	connLogger := s.Logger
	var connLogCloser io.Closer = io.NopCloser(nil)
	var loggedVHost string
	defer func() {
		connLogCloser.Close()
		if loggedVHost != "" {
			logging.RemoveConnectionLog(s.ConnLogDir, loggedVHost, connID)
		}
	}()

	for {
		strm.SetTimeout(idleTimeout)

		dec := &httpmsg.RequestDecoder{}
		msg, err := strm.Read(dec)
		if err != nil || msg == nil {
			return
		}
		req := msg.(*httpmsg.Request)
		httpmsg.BindBody(req, strm)

		host := service.NormalizeHost(req.Header.Get("Host"))
		if s.ThrottleLookup != nil {
			strm.SetThrottle(s.ThrottleLookup(host))
		}

		// The per-connection log file is keyed by vhost, so it's opened
		// lazily against the first request's Host header and reused for
		// the rest of the connection even if later requests name a
		// different vhost (uncommon, and not worth a second file).
		if s.ConnLogDir != "" && loggedVHost == "" {
			logger, closer, _, err := logging.NewConnectionLogger(s.Logger, s.ConnLogDir, host, connID)
			if err != nil {
				s.Logger.Error("opening connection log", "error", err, "vhost", host)
			} else {
				connLogger = logger
				connLogCloser = closer
				loggedVHost = host
			}
		}

		tx := service.NewTransaction(req, strm, connLogger)
		if err := s.Chain.Serve(tx); err != nil {
			connLogger.Error("chain raised", "error", err)
			return
		}
		if !tx.ResponseSent() {
			tx.Respond(404, "text/plain", []byte("Not Found"))
		}
		if err := tx.Writer.Close(); err != nil {
			return
		}

		if err := drainBody(req); err != nil {
			return
		}
		if !keepAlive(req) {
			return
		}
	}
}

// drainBody reads and discards any unread request body so the next
// request on this connection starts at the right offset.
func drainBody(req *httpmsg.Request) error {
	if req.Body == nil {
		return nil
	}
	buf := make([]byte, 32*1024)
	for {
		_, err := req.Body.Read(buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// keepAlive applies HTTP/1.1's default-keep-alive, HTTP/1.0's
// default-close semantics, overridden either way by an explicit
// Connection header.
func keepAlive(req *httpmsg.Request) bool {
	conn := req.Header.Get("Connection")
	switch conn {
	case "close":
		return false
	case "keep-alive":
		return true
	}
	return req.Proto == "HTTP/1.1"
}
