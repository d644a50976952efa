// Package apperr holds sentinel errors and the sync core's error taxonomy.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("conflict")
	ErrAlreadyExists  = errors.New("already exists")
	ErrInvalidContent = errors.New("invalid content")

	ErrTransport      = errors.New("transport error")
	ErrPersistence    = errors.New("persistence error")
	ErrReconciliation = errors.New("reconciliation conflict")
	ErrMalformedDelta = errors.New("malformed delta")
)

// TransportError reports a relay or presence socket failure. It is recovered
// by reconnecting and never interrupts local editing.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// PersistenceError reports a failed durable write. It is the only class
// surfaced to the user, and only as an advisory notice.
type PersistenceError struct {
	DocumentID string
	Err        error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.DocumentID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

// ReconciliationConflict reports a change notification for a node the local
// tree cannot place. Full hydration corrects it.
type ReconciliationConflict struct {
	DocumentID string
	Reason     string
}

func (e *ReconciliationConflict) Error() string {
	return fmt.Sprintf("reconcile %s: %s", e.DocumentID, e.Reason)
}

func (e *ReconciliationConflict) Is(target error) bool { return target == ErrReconciliation }

// MalformedDelta reports a delta that cannot be decoded or applied.
type MalformedDelta struct {
	DocumentID string
	Err        error
}

func (e *MalformedDelta) Error() string {
	if e.DocumentID == "" {
		return fmt.Sprintf("malformed delta: %v", e.Err)
	}
	return fmt.Sprintf("malformed delta for %s: %v", e.DocumentID, e.Err)
}

func (e *MalformedDelta) Unwrap() error { return e.Err }

func (e *MalformedDelta) Is(target error) bool { return target == ErrMalformedDelta }
