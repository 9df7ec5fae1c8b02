package service

import "strings"

// HostDispatch is host_dispatch_service: looks up the normalized Host
// header in a map and delegates to the matching service, falling back to
// Default (or a 404 if there is none).
type HostDispatch struct {
	Hosts   map[string]Service
	Default Service
}

// NewHostDispatch builds a HostDispatch with an empty host map.
func NewHostDispatch(defaultSvc Service) *HostDispatch {
	return &HostDispatch{Hosts: make(map[string]Service), Default: defaultSvc}
}

// Register binds host (any case, with or without a trailing dot) to svc.
func (h *HostDispatch) Register(host string, svc Service) {
	h.Hosts[NormalizeHost(host)] = svc
}

// NormalizeHost lowercases host, strips a trailing ":port" and a
// trailing dot — "Example.COM:8080." becomes "example.com".
func NormalizeHost(host string) string {
	host = strings.ToLower(host)
	host = strings.TrimSuffix(host, ".")
	if i := strings.LastIndexByte(host, ':'); i >= 0 {
		// Guard against stripping a port out of an IPv6 literal's colons —
		// only strip when everything after the colon is digits.
		if isAllDigits(host[i+1:]) {
			host = host[:i]
		}
	}
	host = strings.TrimSuffix(host, ".")
	return host
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func (h *HostDispatch) Serve(tx *Transaction) error {
	host := NormalizeHost(tx.Request.Header.Get("Host"))
	if svc, ok := h.Hosts[host]; ok {
		return svc.Serve(tx)
	}
	if h.Default != nil {
		return h.Default.Serve(tx)
	}
	return tx.Respond(404, "text/plain", []byte("Not Found"))
}

var _ Service = (*HostDispatch)(nil)
