package httpmsg

import "errors"

// ProtocolError marks a malformed request line, header, or chunk framing
// — a decode-time failure the service layer turns into a 400.
type ProtocolError struct {
	Msg string
}

func (e *ProtocolError) Error() string { return "httpmsg: " + e.Msg }

var errNotDigits = errors.New("httpmsg: not a decimal integer")
