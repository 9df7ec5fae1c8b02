package fcgi

import (
	"log/slog"
	"time"

	"github.com/imzyxwvu/xwsg/internal/reactor"
	"github.com/imzyxwvu/xwsg/internal/stream"
)

// Provider obtains a ready-to-use Responder connection to a FastCGI
// application. local_file_service calls Obtain once per request it routes
// to a FastCGI extension.
type Provider interface {
	Obtain() (*Connection, error)
}

// TCPProvider dials a FastCGI application listening on a TCP address —
// the common deployment (PHP-FPM, a Go FastCGI app) as opposed to a Unix
// socket.
type TCPProvider struct {
	Addr        string
	DialTimeout time.Duration
	Logger      *slog.Logger
}

// NewTCPProvider builds a TCPProvider with a 5s default dial timeout.
func NewTCPProvider(addr string, logger *slog.Logger) *TCPProvider {
	return &TCPProvider{Addr: addr, DialTimeout: 5 * time.Second, Logger: logger}
}

func (p *TCPProvider) Obtain() (*Connection, error) {
	conn, err := reactor.Dial("tcp", p.Addr, p.DialTimeout)
	if err != nil {
		return nil, err
	}
	strm := stream.New(conn, p.Logger)
	c, err := NewResponderConnection(strm, p.Logger)
	if err != nil {
		strm.Close()
		return nil, err
	}
	return c, nil
}
