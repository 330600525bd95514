package beacon

import "errors"

var (
	// Store errors.
	ErrStoreUnavailable = errors.New("beacon: store unavailable")
	ErrStoreClosed      = errors.New("beacon: store closed")

	// Envelope errors.
	ErrMalformedEnvelope = errors.New("beacon: malformed envelope")
	ErrDuplicate         = errors.New("beacon: duplicate event")
	ErrRateLimited       = errors.New("beacon: rate limited")

	// Transport errors.
	ErrTransportDisconnected = errors.New("beacon: transport disconnected")
	ErrBusClosed             = errors.New("beacon: bus closed")
	ErrSessionClosed         = errors.New("beacon: session closed")

	// Job errors.
	ErrJobNotFound       = errors.New("beacon: job not found")
	ErrJobAlreadyExists  = errors.New("beacon: job already exists")
	ErrInvalidTransition = errors.New("beacon: invalid state transition")
)
