// Package broker implements the session and chunk-protocol engine: the
// registry, state machine, disk staging, remote hand-off, and download
// engine that together drive resumable uploads and downloads.
package broker

import (
	"errors"
	"fmt"
)

// Sentinel errors for error-kind classification. Use errors.Is(err,
// broker.ErrOffset) and similar to check a returned error's kind.
var (
	ErrProtocol   = errors.New("broker: protocol error")
	ErrState      = errors.New("broker: invalid state for action")
	ErrOffset     = errors.New("broker: offset mismatch")
	ErrIntegrity  = errors.New("broker: integrity check failed")
	ErrIO         = errors.New("broker: io error")
	ErrDownstream = errors.New("broker: downstream store error")
	ErrDecode     = errors.New("broker: decode error")
)

// SessionError wraps a sentinel kind with the file-id it concerns and a
// free-form message suitable for direct display to the client.
type SessionError struct {
	FileID  string
	Message string
	Err     error // sentinel, for errors.Is()
}

func (e *SessionError) Error() string {
	if e.FileID != "" {
		return fmt.Sprintf("broker: %s: %s", e.FileID, e.Message)
	}

	return fmt.Sprintf("broker: %s", e.Message)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

func newSessionError(fileID string, kind error, message string) *SessionError {
	return &SessionError{FileID: fileID, Message: message, Err: kind}
}
