package service

import (
	"io"
	"log/slog"
	"net"
	"testing"

	"github.com/imzyxwvu/xwsg/internal/fiber"
	"github.com/imzyxwvu/xwsg/internal/httpmsg"
	"github.com/imzyxwvu/xwsg/internal/stream"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestTransaction builds a Transaction over a net.Pipe, returning the
// peer end so the test can read the response written to it. Must be
// called from inside a fiber (stream writes suspend the calling fiber).
func newTestTransaction(req *httpmsg.Request) (*Transaction, net.Conn) {
	a, b := net.Pipe()
	strm := stream.New(a, testLogger())
	if req.Header == nil {
		req.Header = httpmsg.Header{}
	}
	if req.Path == "" {
		req.Path = "/"
	}
	return NewTransaction(req, strm, testLogger()), b
}

// runInFiber runs fn inside a fresh fiber and blocks until it returns.
func runInFiber(fn func()) {
	done := make(chan struct{})
	fiber.Launch(testLogger(), func(self *fiber.Fiber) {
		fn()
		close(done)
	})
	<-done
}

func drainAll(conn net.Conn) string {
	buf, _ := io.ReadAll(conn)
	return string(buf)
}

func TestChainStopsAtFirstResponse(t *testing.T) {
	var secondCalled bool
	first := ServiceFunc(func(tx *Transaction) error {
		return tx.Respond(200, "text/plain", []byte("ok"))
	})
	second := ServiceFunc(func(tx *Transaction) error {
		secondCalled = true
		return nil
	})
	chain := NewChain(testLogger(), first, second)

	runInFiber(func() {
		tx, peer := newTestTransaction(&httpmsg.Request{Method: "GET"})
		go drainAll(peer)
		if err := chain.Serve(tx); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	if secondCalled {
		t.Error("expected chain to stop after first service responded")
	}
}

func TestChainRespondsWith500OnRaise(t *testing.T) {
	boom := ServiceFunc(func(tx *Transaction) error {
		return errBoom
	})
	chain := NewChain(testLogger(), boom)

	runInFiber(func() {
		tx, peer := newTestTransaction(&httpmsg.Request{Method: "GET"})
		go drainAll(peer)
		if err := chain.Serve(tx); err != nil {
			t.Errorf("chain.Serve should swallow the raise: %v", err)
		}
		if tx.Writer.Status() != 500 {
			t.Errorf("expected 500 after a raise, got %d", tx.Writer.Status())
		}
	})
}

var errBoom = &testError{"boom"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }

func TestHostDispatchRoutesByNormalizedHost(t *testing.T) {
	var got string
	svcA := ServiceFunc(func(tx *Transaction) error { got = "a"; return tx.Respond(200, "text/plain", nil) })
	svcDefault := ServiceFunc(func(tx *Transaction) error { got = "default"; return tx.Respond(200, "text/plain", nil) })

	hd := NewHostDispatch(svcDefault)
	hd.Register("Example.COM", svcA)

	runInFiber(func() {
		tx, peer := newTestTransaction(&httpmsg.Request{Method: "GET", Header: httpmsg.Header{"Host": {"example.com:8080."}}})
		go drainAll(peer)
		hd.Serve(tx)
	})
	if got != "a" {
		t.Errorf("expected normalized host to route to svcA, got %q", got)
	}

	got = ""
	runInFiber(func() {
		tx, peer := newTestTransaction(&httpmsg.Request{Method: "GET", Header: httpmsg.Header{"Host": {"other.com"}}})
		go drainAll(peer)
		hd.Serve(tx)
	})
	if got != "default" {
		t.Errorf("expected unmatched host to fall back to default, got %q", got)
	}
}

func TestHostDispatchNotFoundWithoutDefault(t *testing.T) {
	hd := NewHostDispatch(nil)
	runInFiber(func() {
		tx, peer := newTestTransaction(&httpmsg.Request{Method: "GET", Header: httpmsg.Header{"Host": {"nowhere.com"}}})
		go drainAll(peer)
		hd.Serve(tx)
		if tx.Writer.Status() != 404 {
			t.Errorf("expected 404, got %d", tx.Writer.Status())
		}
	})
}

func TestNormalizeHostStripsPortAndDot(t *testing.T) {
	cases := map[string]string{
		"Example.COM:8080.": "example.com",
		"[::1]:9000":        "[::1]",
		"plain.com":         "plain.com",
	}
	for in, want := range cases {
		if got := NormalizeHost(in); got != want {
			t.Errorf("NormalizeHost(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRegexRouteOnlyDelegatesOnMatch(t *testing.T) {
	var called bool
	inner := ServiceFunc(func(tx *Transaction) error {
		called = true
		return tx.Respond(200, "text/plain", nil)
	})
	route, err := NewRegexRoute("^/api/", inner)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	runInFiber(func() {
		tx, peer := newTestTransaction(&httpmsg.Request{Method: "GET", Path: "/static/x"})
		go drainAll(peer)
		route.Serve(tx)
	})
	if called {
		t.Error("expected no delegation for a non-matching path")
	}

	runInFiber(func() {
		tx, peer := newTestTransaction(&httpmsg.Request{Method: "GET", Path: "/api/x"})
		go drainAll(peer)
		route.Serve(tx)
	})
	if !called {
		t.Error("expected delegation for a matching path")
	}
}

func TestTLSFilterRejectsPlaintext(t *testing.T) {
	inner := ServiceFunc(func(tx *Transaction) error { return tx.Respond(200, "text/plain", nil) })
	filter := NewTLSFilter(403, []byte("no"), inner)

	runInFiber(func() {
		tx, peer := newTestTransaction(&httpmsg.Request{Method: "GET"})
		go drainAll(peer)
		filter.Serve(tx)
		if tx.Writer.Status() != 403 {
			t.Errorf("expected 403 for non-TLS stream, got %d", tx.Writer.Status())
		}
	})
}

func TestBasicAuthenticatorChallengesAndAccepts(t *testing.T) {
	inner := ServiceFunc(func(tx *Transaction) error { return tx.Respond(200, "text/plain", nil) })
	auth := NewBasicAuthenticator("realm", func(user, pass string) bool {
		return user == "alice" && pass == "secret"
	}, inner)

	runInFiber(func() {
		tx, peer := newTestTransaction(&httpmsg.Request{Method: "GET"})
		go drainAll(peer)
		auth.Serve(tx)
		if tx.Writer.Status() != 401 {
			t.Errorf("expected 401 without credentials, got %d", tx.Writer.Status())
		}
	})

	runInFiber(func() {
		tx, peer := newTestTransaction(&httpmsg.Request{
			Method: "GET",
			Header: httpmsg.Header{"Authorization": {"Basic YWxpY2U6c2VjcmV0"}},
		})
		go drainAll(peer)
		auth.Serve(tx)
		if tx.Writer.Status() != 200 {
			t.Errorf("expected 200 with valid credentials, got %d", tx.Writer.Status())
		}
	})
}

func TestLambdaServicePlainForm(t *testing.T) {
	lam := NewLambdaService(func(tx *Transaction) error {
		return tx.Respond(200, "text/plain", []byte("hi"))
	})
	runInFiber(func() {
		tx, peer := newTestTransaction(&httpmsg.Request{Method: "GET"})
		go drainAll(peer)
		if err := lam.Serve(tx); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if tx.Writer.Status() != 200 {
			t.Errorf("expected 200, got %d", tx.Writer.Status())
		}
	})
}

func TestPlainDataServiceETag(t *testing.T) {
	svc := NewPlainDataService([]byte("hello world"), "text/plain")

	var etag string
	runInFiber(func() {
		tx, peer := newTestTransaction(&httpmsg.Request{Method: "GET"})
		go drainAll(peer)
		svc.Serve(tx)
		etag = tx.Writer.Header().Get("ETag")
		if tx.Writer.Status() != 200 {
			t.Errorf("expected 200 on first fetch, got %d", tx.Writer.Status())
		}
	})

	runInFiber(func() {
		tx, peer := newTestTransaction(&httpmsg.Request{
			Method: "GET",
			Header: httpmsg.Header{"If-None-Match": {etag}},
		})
		go drainAll(peer)
		svc.Serve(tx)
		if tx.Writer.Status() != 304 {
			t.Errorf("expected 304 for matching ETag, got %d", tx.Writer.Status())
		}
	})
}
