package service

import (
	"io"

	kgzip "github.com/klauspost/compress/gzip"
	"github.com/klauspost/pgzip"

	"github.com/imzyxwvu/xwsg/internal/httpmsg"
)

// pgzipThreshold is the size of the first body write above which
// CompressService uses pgzip's block-parallel writer instead of a
// single-threaded gzip writer — mirroring the size-tuned streaming
// pipeline it's grounded on, just compressing an HTTP response instead
// of a backup archive.
const pgzipThreshold = 1 << 20 // 1MB

// CompressService wraps Wrapped and gzip-encodes its body when the
// client's Accept-Encoding includes gzip, by installing a compressing
// ResponseWriter around tx.Writer for the duration of the call.
type CompressService struct {
	Wrapped Service
	Level   int
}

// NewCompressService builds a CompressService at gzip.BestSpeed.
func NewCompressService(svc Service) *CompressService {
	return &CompressService{Wrapped: svc, Level: kgzip.BestSpeed}
}

func (c *CompressService) Serve(tx *Transaction) error {
	if !acceptsGzip(tx) {
		return c.Wrapped.Serve(tx)
	}

	orig := tx.Writer
	cw := &gzipResponseWriter{inner: orig, level: c.Level}
	tx.Writer = cw

	err := c.Wrapped.Serve(tx)
	closeErr := cw.Close()
	tx.Writer = orig
	if err != nil {
		return err
	}
	return closeErr
}

func acceptsGzip(tx *Transaction) bool {
	return containsToken(tx.Request.Header.Get("Accept-Encoding"), "gzip")
}

func containsToken(csv, token string) bool {
	start := 0
	for i := 0; i <= len(csv); i++ {
		if i == len(csv) || csv[i] == ',' {
			field := csv[start:i]
			for len(field) > 0 && field[0] == ' ' {
				field = field[1:]
			}
			if field == token {
				return true
			}
			start = i + 1
		}
	}
	return false
}

// gzipResponseWriter defers picking a compressor until the first Write,
// then compresses every Write into inner. The choice is made once: pgzip
// if that first Write is longer than pgzipThreshold, gzip otherwise.
// Content-Length is removed from the headers and not consulted.
type gzipResponseWriter struct {
	inner     ResponseWriter
	level     int
	gz        io.WriteCloser
	headerSet bool
}

func (w *gzipResponseWriter) Header() httpmsg.Header { return w.inner.Header() }
func (w *gzipResponseWriter) Sent() bool             { return w.inner.Sent() }
func (w *gzipResponseWriter) Status() int            { return w.inner.Status() }

func (w *gzipResponseWriter) WriteHeader(status int) error {
	if w.headerSet {
		return nil
	}
	w.headerSet = true
	if status == 304 || status == 204 {
		return w.inner.WriteHeader(status)
	}
	w.inner.Header().Del("Content-Length")
	w.inner.Header().Set("Content-Encoding", "gzip")
	return w.inner.WriteHeader(status)
}

func (w *gzipResponseWriter) Write(p []byte) (int, error) {
	if !w.headerSet {
		if err := w.WriteHeader(200); err != nil {
			return 0, err
		}
	}
	if w.gz == nil {
		if len(p) > pgzipThreshold {
			gw, err := pgzip.NewWriterLevel(writerFunc(w.inner.Write), w.level)
			if err != nil {
				return 0, err
			}
			w.gz = gw
		} else {
			gw, err := kgzip.NewWriterLevel(writerFunc(w.inner.Write), w.level)
			if err != nil {
				return 0, err
			}
			w.gz = gw
		}
	}
	return w.gz.Write(p)
}

func (w *gzipResponseWriter) Close() error {
	if w.gz == nil {
		if !w.headerSet {
			return w.WriteHeader(200)
		}
		return nil
	}
	return w.gz.Close()
}

// writerFunc adapts a Write method value to io.Writer.
type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }

var _ ResponseWriter = (*gzipResponseWriter)(nil)
