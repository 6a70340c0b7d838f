package provider

import "errors"

var (
	// ErrInvalidRequest marks caller errors: empty symbol, inverted range or
	// an unsupported symbol.
	ErrInvalidRequest = errors.New("invalid series request")
	// ErrUpstream marks a failed call to a remote data source.
	ErrUpstream = errors.New("upstream data source failed")
	// ErrUnavailable is returned while a data source circuit is open.
	ErrUnavailable = errors.New("upstream data source unavailable")
)
