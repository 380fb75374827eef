package attendance

import "errors"

var (
	// ErrNotFound means the credential or student id matched no roster entry.
	ErrNotFound = errors.New("student not found")
	// ErrUnauthorized means no admin session is open or the token does not match it.
	ErrUnauthorized = errors.New("admin session required")
	// ErrWriteConflict means a concurrent write won the race twice; the
	// event was not recorded.
	ErrWriteConflict = errors.New("write conflict, event not recorded")
	// ErrTransportUnavailable means storage or the ledger service could not be reached.
	ErrTransportUnavailable = errors.New("ledger unavailable")
	// ErrInvalid wraps malformed input.
	ErrInvalid = errors.New("invalid request")
)
