package session

import "errors"

var (
	// ErrNotFound is returned when a session id does not resolve
	ErrNotFound = errors.New("session not found")
	// ErrExpired is returned when the session resolved but is past expiresAt
	ErrExpired = errors.New("session has expired")
	// ErrNoActiveSession is returned by operations that need a joined session
	ErrNoActiveSession = errors.New("no active session")
	// ErrUnauthorized is returned when a non-creator attempts a creator-only action
	ErrUnauthorized = errors.New("only the session creator can do that")
	ErrInvalidSessionID = errors.New("invalid session id")
	ErrInvalidPoints    = errors.New("story points are not on the scale")
	ErrInvalidIdentity  = errors.New("identity must not be empty")

	ErrStoreRead  = errors.New("store read failed")
	ErrStoreWrite = errors.New("store write failed")
)

// storeError tags a backing store failure with ErrStoreRead or ErrStoreWrite
// while keeping the store's message as the error text.
type storeError struct {
	kind error
	err  error
}

func (e *storeError) Error() string {
	return e.err.Error()
}

func (e *storeError) Is(target error) bool {
	return target == e.kind
}

func (e *storeError) Unwrap() error {
	return e.err
}

func readError(err error) error {
	if err == nil {
		return nil
	}
	return &storeError{kind: ErrStoreRead, err: err}
}

func writeError(err error) error {
	if err == nil {
		return nil
	}
	return &storeError{kind: ErrStoreWrite, err: err}
}
