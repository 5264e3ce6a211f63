package resource

import "errors"

var (
	// ErrUnsupportedResource indicates that no handler is registered for the requested resource.
	ErrUnsupportedResource = errors.New("resource: unsupported resource")

	// ErrUnknownSession indicates that no session with the given number is in the expected state.
	ErrUnknownSession = errors.New("resource: unknown session")

	// ErrSessionsExhausted indicates that every session number is in use.
	ErrSessionsExhausted = errors.New("resource: no free session number")

	// ErrNoSender indicates that a session has no transport bound for outgoing APDUs.
	ErrNoSender = errors.New("resource: session has no sender")

	// ErrInvalidAPDU indicates a malformed application protocol data unit.
	ErrInvalidAPDU = errors.New("resource: invalid APDU")
)
