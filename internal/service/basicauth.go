package service

import (
	"encoding/base64"
	"strings"
)

// AuthFunc validates a decoded user/pass pair.
type AuthFunc func(user, pass string) bool

// BasicAuthenticator is basic_authenticator: extracts
// Authorization: Basic <b64>, decodes to user:pass, and invokes Authf.
// On failure, responds 401 with a WWW-Authenticate challenge; on
// success, delegates to Wrapped.
type BasicAuthenticator struct {
	Realm   string
	Authf   AuthFunc
	Wrapped Service
}

// NewBasicAuthenticator builds an authenticator in front of svc.
func NewBasicAuthenticator(realm string, authf AuthFunc, svc Service) *BasicAuthenticator {
	return &BasicAuthenticator{Realm: realm, Authf: authf, Wrapped: svc}
}

func (a *BasicAuthenticator) Serve(tx *Transaction) error {
	user, pass, ok := parseBasicAuth(tx.Request.Header.Get("Authorization"))
	if !ok || !a.Authf(user, pass) {
		tx.Writer.Header().Set("WWW-Authenticate", `Basic realm="`+a.Realm+`"`)
		return tx.Respond(401, "text/plain", []byte("Unauthorized"))
	}
	return a.Wrapped.Serve(tx)
}

func parseBasicAuth(header string) (user, pass string, ok bool) {
	const prefix = "Basic "
	if !strings.HasPrefix(header, prefix) {
		return "", "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(header[len(prefix):])
	if err != nil {
		return "", "", false
	}
	parts := strings.SplitN(string(decoded), ":", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

var _ Service = (*BasicAuthenticator)(nil)
