package ripple

import "errors"

var (
	// Configuration errors.
	ErrInvalidConfig = errors.New("ripple: invalid configuration")
	ErrUnknownTier   = errors.New("ripple: unknown deployment tier")

	// Backend errors.
	ErrNoStore     = errors.New("ripple: no job store configured")
	ErrStoreClosed = errors.New("ripple: store closed")
)
