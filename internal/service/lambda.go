package service

// Upgrader performs a protocol upgrade handshake (e.g. websocket) over
// tx's stream and returns a handle the lambda's websocket form receives.
// Kept abstract here; this module contains no concrete upgrader, and
// xwsgd registers no websocket lambdas.
type Upgrader interface {
	Upgrade(tx *Transaction) (any, error)
}

// LambdaService is lambda_service: an adapter over a user-supplied
// function, either the plain form (Fn) or the websocket form (WSFn),
// which triggers Upgrader's handshake before invocation. Exactly one of
// Fn/WSFn should be set.
type LambdaService struct {
	Fn       func(tx *Transaction) error
	WSFn     func(ws any) error
	Upgrader Upgrader
}

// NewLambdaService builds a plain lambda_service.
func NewLambdaService(fn func(tx *Transaction) error) *LambdaService {
	return &LambdaService{Fn: fn}
}

// NewWebsocketLambdaService builds the websocket form, upgrading through
// upgrader before calling fn.
func NewWebsocketLambdaService(upgrader Upgrader, fn func(ws any) error) *LambdaService {
	return &LambdaService{WSFn: fn, Upgrader: upgrader}
}

func (l *LambdaService) Serve(tx *Transaction) error {
	if l.WSFn != nil {
		ws, err := l.Upgrader.Upgrade(tx)
		if err != nil {
			return err
		}
		return l.WSFn(ws)
	}
	return l.Fn(tx)
}

var _ Service = (*LambdaService)(nil)
