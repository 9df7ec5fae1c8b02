package service

import "log/slog"

// Chain is http_service_chain: an ordered sequence of services. Serve
// iterates in order, stopping at the first service that sends a
// response or raises.
type Chain struct {
	services []Service
	logger   *slog.Logger
}

// NewChain builds a Chain over services, logging raises with logger.
func NewChain(logger *slog.Logger, services ...Service) *Chain {
	return &Chain{services: services, logger: logger}
}

func (c *Chain) Serve(tx *Transaction) error {
	for _, svc := range c.services {
		if err := svc.Serve(tx); err != nil {
			if c.logger != nil {
				c.logger.Error("service raised", "error", err)
			}
			if !tx.ResponseSent() {
				tx.Respond(500, "text/plain", []byte("Internal Server Error"))
			}
			return nil
		}
		if tx.ResponseSent() {
			return nil
		}
	}
	return nil
}
