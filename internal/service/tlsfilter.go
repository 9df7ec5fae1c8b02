package service

// TLSFilter is tls_filter_service: passes through when the transaction's
// stream has TLS, otherwise responds with Status (typically 403, or a
// redirect status paired with a Location header set by the caller before
// wrapping).
type TLSFilter struct {
	Status  int
	Body    []byte
	Wrapped Service
}

// NewTLSFilter builds a filter in front of svc, responding with status
// and body when the stream isn't TLS.
func NewTLSFilter(status int, body []byte, svc Service) *TLSFilter {
	return &TLSFilter{Status: status, Body: body, Wrapped: svc}
}

func (f *TLSFilter) Serve(tx *Transaction) error {
	if !tx.Stream.HasTLS() {
		return tx.Respond(f.Status, "text/plain", f.Body)
	}
	return f.Wrapped.Serve(tx)
}

var _ Service = (*TLSFilter)(nil)
