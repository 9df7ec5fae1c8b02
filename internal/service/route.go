package service

import "regexp"

// RegexRoute delegates to Wrapped only when tx.Path matches Pattern;
// otherwise it returns without sending, letting the next service in the
// enclosing chain proceed.
type RegexRoute struct {
	Pattern *regexp.Regexp
	Wrapped Service
}

// NewRegexRoute compiles pattern and wraps svc.
func NewRegexRoute(pattern string, svc Service) (*RegexRoute, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	return &RegexRoute{Pattern: re, Wrapped: svc}, nil
}

func (r *RegexRoute) Serve(tx *Transaction) error {
	if !r.Pattern.MatchString(tx.Path) {
		return nil
	}
	return r.Wrapped.Serve(tx)
}

var _ Service = (*RegexRoute)(nil)
