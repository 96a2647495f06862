package core

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnauthenticated is returned when an operation needs a session credential
	// and none is available, or the remote rejected it.
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrNotFound        = errors.New("record not found")
	ErrInvalidRecord   = errors.New("invalid record")
	ErrReadOnly        = errors.New("record is read-only")
)

// LocalStorageError wraps a failure of the local ledger store. It is always
// surfaced to the caller.
type LocalStorageError struct {
	Op  string
	Err error
}

func (e *LocalStorageError) Error() string {
	return fmt.Sprintf("local storage %s: %v", e.Op, e.Err)
}

func (e *LocalStorageError) Unwrap() error { return e.Err }

// RemoteTransportError means the remote could not be reached (DNS, refused
// connection, timeout, cancelled request).
type RemoteTransportError struct {
	Op  string
	Err error
}

func (e *RemoteTransportError) Error() string {
	return fmt.Sprintf("remote %s: transport: %v", e.Op, e.Err)
}

func (e *RemoteTransportError) Unwrap() error { return e.Err }

// RemoteProtocolError means the remote answered, but with a non-2xx status,
// an explicit failure envelope, or a body that could not be decoded.
type RemoteProtocolError struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *RemoteProtocolError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("remote %s: status %d: %s", e.Op, e.StatusCode, msg)
	}
	return fmt.Sprintf("remote %s: %s", e.Op, msg)
}

func (e *RemoteProtocolError) Unwrap() error { return e.Err }

// Is lets a 401 answer match ErrUnauthenticated.
func (e *RemoteProtocolError) Is(target error) bool {
	return target == ErrUnauthenticated && e.StatusCode == http.StatusUnauthorized
}

// IsRemote reports whether err came from the remote leg (transport or protocol).
func IsRemote(err error) bool {
	var te *RemoteTransportError
	var pe *RemoteProtocolError
	return errors.As(err, &te) || errors.As(err, &pe)
}
