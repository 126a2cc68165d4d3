package embedsrv

import "errors"

var (
	// ErrNotFound means no connection with the given identifier has the
	// required role.
	ErrNotFound = errors.New("embedsrv: connection not found")

	// ErrInvalidInput reports a nil or empty argument.
	ErrInvalidInput = errors.New("embedsrv: invalid input")

	// ErrIO reports a bind, read or send failure.
	ErrIO = errors.New("embedsrv: I/O failure")

	// ErrInvalidHandle is returned by every method of a nil or destroyed
	// Server.
	ErrInvalidHandle = errors.New("embedsrv: invalid server handle")

	ErrNotListening     = errors.New("embedsrv: server is not listening")
	ErrAlreadyListening = errors.New("embedsrv: server is already listening")
)
