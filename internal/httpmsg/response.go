package httpmsg

import (
	"fmt"
	"strconv"

	"github.com/imzyxwvu/xwsg/internal/stream"
)

// ResponseWriter accumulates a status line, headers, and a body, writing
// them to the bound stream. Call WriteHeader once; Write auto-calls it
// with 200 if not yet sent. Sent reports whether a response has already
// gone out, the signal http_service_chain uses to short-circuit.
type ResponseWriter struct {
	strm   *stream.Stream
	header Header

	statusSent  bool
	status      int
	chunked     bool
	wroteLength bool
}

// NewResponseWriter builds a writer bound to strm.
func NewResponseWriter(strm *stream.Stream) *ResponseWriter {
	return &ResponseWriter{strm: strm, header: make(Header)}
}

// Header returns the header map to populate before the first Write or
// WriteHeader call.
func (w *ResponseWriter) Header() Header { return w.header }

// Sent reports whether the status line has already been written — the
// chain-short-circuit signal.
func (w *ResponseWriter) Sent() bool { return w.statusSent }

// Status returns the status code written, or 0 if none has been sent
// yet.
func (w *ResponseWriter) Status() int { return w.status }

var statusText = map[int]string{
	200: "OK", 201: "Created", 204: "No Content", 301: "Moved Permanently",
	304: "Not Modified", 400: "Bad Request", 401: "Unauthorized",
	403: "Forbidden", 404: "Not Found", 408: "Request Timeout",
	500: "Internal Server Error", 502: "Bad Gateway", 504: "Gateway Timeout",
}

func reasonPhrase(status int) string {
	if t, ok := statusText[status]; ok {
		return t
	}
	return "Status"
}

// WriteHeader writes the status line and headers. If Content-Length was
// set by the caller, the body is length-delimited; otherwise the
// response falls back to chunked transfer-encoding so the body can be
// streamed without knowing its size up front.
func (w *ResponseWriter) WriteHeader(status int) error {
	if w.statusSent {
		return nil
	}
	w.statusSent = true
	w.status = status

	_, w.wroteLength = w.header["Content-Length"]
	if !w.wroteLength && status != 304 && status != 204 {
		w.chunked = true
		w.header.Set("Transfer-Encoding", "chunked")
	}

	statusLine := fmt.Sprintf("HTTP/1.1 %d %s\r\n", status, reasonPhrase(status))
	if err := w.strm.Write([]byte(statusLine)); err != nil {
		return err
	}
	for key, values := range w.header {
		for _, v := range values {
			if err := w.strm.Write([]byte(key + ": " + v + "\r\n")); err != nil {
				return err
			}
		}
	}
	return w.strm.Write([]byte("\r\n"))
}

// Write sends a body chunk, calling WriteHeader(200) first if needed.
func (w *ResponseWriter) Write(p []byte) (int, error) {
	if !w.statusSent {
		if err := w.WriteHeader(200); err != nil {
			return 0, err
		}
	}
	if len(p) == 0 {
		return 0, nil
	}
	if w.chunked {
		size := strconv.FormatInt(int64(len(p)), 16)
		if err := w.strm.Write([]byte(size + "\r\n")); err != nil {
			return 0, err
		}
		if err := w.strm.Write(p); err != nil {
			return 0, err
		}
		if err := w.strm.Write([]byte("\r\n")); err != nil {
			return 0, err
		}
		return len(p), nil
	}
	if err := w.strm.Write(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close finalizes the response — emitting the terminating zero-length
// chunk when chunked transfer-encoding was used. A no-op for
// Content-Length-delimited responses.
func (w *ResponseWriter) Close() error {
	if !w.statusSent {
		return w.WriteHeader(200)
	}
	if w.chunked {
		return w.strm.Write([]byte("0\r\n\r\n"))
	}
	return nil
}
