package service

import (
	"bufio"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/imzyxwvu/xwsg/internal/fcgi"
)

// LocalFileService is local_file_service: resolves tx.Path against
// Docroot, rejecting any resolved path that escapes it; tries
// DefaultDocuments in order for a directory; bridges to a FastCGI
// provider for any extension in FCGIMap, otherwise serves the file
// directly with a MIME-looked-up Content-Type.
type LocalFileService struct {
	Docroot          string
	DefaultDocuments []string
	FCGIMap          map[string]fcgi.Provider
}

// NewLocalFileService builds a LocalFileService rooted at docroot.
func NewLocalFileService(docroot string) *LocalFileService {
	return &LocalFileService{
		Docroot:          docroot,
		DefaultDocuments: []string{"index.html"},
		FCGIMap:          make(map[string]fcgi.Provider),
	}
}

// resolve joins reqPath onto Docroot and verifies the result doesn't
// escape it — the traversal guard.
func (s *LocalFileService) resolve(reqPath string) (string, bool) {
	clean := filepath.Clean("/" + reqPath)
	full := filepath.Join(s.Docroot, clean)
	rel, err := filepath.Rel(s.Docroot, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return full, true
}

func (s *LocalFileService) Serve(tx *Transaction) error {
	full, ok := s.resolve(tx.Path)
	if !ok {
		return tx.Respond(403, "text/plain", []byte("Forbidden"))
	}

	info, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return tx.Respond(404, "text/plain", []byte("Not Found"))
		}
		return err
	}

	if info.IsDir() {
		found := false
		for _, doc := range s.DefaultDocuments {
			candidate := filepath.Join(full, doc)
			if st, err := os.Stat(candidate); err == nil && !st.IsDir() {
				full = candidate
				info = st
				found = true
				break
			}
		}
		if !found {
			return tx.Respond(404, "text/plain", []byte("Not Found"))
		}
	}

	ext := strings.ToLower(filepath.Ext(full))
	if provider, ok := s.FCGIMap[ext]; ok {
		return s.serveFCGI(tx, provider, full)
	}
	return s.serveFile(tx, full, info.Size())
}

func (s *LocalFileService) serveFile(tx *Transaction, full string, size int64) error {
	f, err := os.Open(full)
	if err != nil {
		return err
	}
	defer f.Close()

	contentType := mime.TypeByExtension(filepath.Ext(full))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	tx.Writer.Header().Set("Content-Type", contentType)
	tx.Writer.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	if err := tx.Writer.WriteHeader(200); err != nil {
		return err
	}

	buf := make([]byte, 32*1024)
	for {
		n, rerr := f.Read(buf)
		if n > 0 {
			written, werr := tx.Writer.Write(buf[:n])
			tx.bytesWritten += int64(written)
			if werr != nil {
				return werr
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}

// serveFCGI bridges the request to a FastCGI Responder: populates env,
// pipes the request body to Stdin, streams Stdout back as the response
// (parsing any leading CGI-style headers), and logs Stderr.
func (s *LocalFileService) serveFCGI(tx *Transaction, provider fcgi.Provider, scriptPath string) error {
	conn, err := provider.Obtain()
	if err != nil {
		return tx.Respond(502, "text/plain", []byte("Bad Gateway"))
	}

	conn.SetEnv("SCRIPT_FILENAME", []byte(scriptPath))
	conn.SetEnv("REQUEST_METHOD", []byte(tx.Request.Method))
	conn.SetEnv("QUERY_STRING", []byte(tx.Request.Query))
	conn.SetEnv("SERVER_PROTOCOL", []byte(tx.Request.Proto))
	if cl := tx.Request.Header.Get("Content-Length"); cl != "" {
		conn.SetEnv("CONTENT_LENGTH", []byte(cl))
	}
	if ct := tx.Request.Header.Get("Content-Type"); ct != "" {
		conn.SetEnv("CONTENT_TYPE", []byte(ct))
	}
	for key, values := range tx.Request.Header {
		if key == "Content-Length" || key == "Content-Type" {
			continue
		}
		envKey := "HTTP_" + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
		conn.SetEnv(envKey, []byte(strings.Join(values, ", ")))
	}

	if tx.Request.Body != nil {
		buf := make([]byte, 32*1024)
		for {
			n, rerr := tx.Request.Body.Read(buf)
			if n > 0 {
				if werr := conn.Write(buf[:n]); werr != nil {
					return werr
				}
			}
			if rerr == io.EOF {
				break
			}
			if rerr != nil {
				return rerr
			}
		}
	}
	if err := conn.CloseStdin(); err != nil {
		return err
	}

	return s.relayFCGIResponse(tx, conn)
}

func (s *LocalFileService) relayFCGIResponse(tx *Transaction, conn *fcgi.Connection) error {
	var header []byte
	headerParsed := false

	for {
		msg, err := conn.Read()
		if err != nil {
			return err
		}
		if msg == nil {
			return nil
		}
		switch msg.Type {
		case fcgi.TypeStderr:
			if tx.Logger != nil {
				tx.Logger.Warn("fcgi stderr", "data", string(msg.Payload))
			}
		case fcgi.TypeStdout:
			if !headerParsed {
				header = append(header, msg.Payload...)
				idx := indexHeaderEnd(header)
				if idx < 0 {
					continue
				}
				if err := s.writeCGIHeaders(tx, header[:idx]); err != nil {
					return err
				}
				headerParsed = true
				rest := header[idx:]
				if len(rest) > 0 {
					n, werr := tx.Writer.Write(rest)
					tx.bytesWritten += int64(n)
					if werr != nil {
						return werr
					}
				}
				continue
			}
			n, werr := tx.Writer.Write(msg.Payload)
			tx.bytesWritten += int64(n)
			if werr != nil {
				return werr
			}
		case fcgi.TypeEndRequest:
			if !headerParsed {
				return s.writeCGIHeaders(tx, header)
			}
			return nil
		}
	}
}

func indexHeaderEnd(data []byte) int {
	for i := 0; i+3 < len(data); i++ {
		if data[i] == '\r' && data[i+1] == '\n' && data[i+2] == '\r' && data[i+3] == '\n' {
			return i + 4
		}
	}
	return -1
}

// writeCGIHeaders parses CGI-style "Name: value\r\n" header lines
// (a leading "Status: NNN reason" line sets the HTTP status) and writes
// them to tx.Writer.
func (s *LocalFileService) writeCGIHeaders(tx *Transaction, block []byte) error {
	status := 200
	scanner := bufio.NewScanner(strings.NewReader(string(block)))
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		i := strings.IndexByte(line, ':')
		if i < 0 {
			continue
		}
		name := strings.TrimSpace(line[:i])
		value := strings.TrimSpace(line[i+1:])
		if strings.EqualFold(name, "Status") {
			if n, err := strconv.Atoi(strings.Fields(value)[0]); err == nil {
				status = n
			}
			continue
		}
		tx.Writer.Header().Add(name, value)
	}
	return tx.Writer.WriteHeader(status)
}
