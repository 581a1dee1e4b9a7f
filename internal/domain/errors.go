package domain

import (
	"errors"
	"fmt"
)

var (
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrDuplicateEntry    = errors.New("duplicate ledger entry")
	ErrQuotaExceeded     = errors.New("quota exceeded")
	ErrTransient         = errors.New("transient publish failure")
	ErrPersistence       = errors.New("persistence failure")
	// ErrUnconfirmed means the destination accepted the upload but its
	// response did not carry a usable id.
	ErrUnconfirmed = errors.New("published without a destination id")
)

// PersistenceError reports a failed store write. The in-memory state that
// triggered the write is kept, so it is only lost if the process exits
// before a later write succeeds.
type PersistenceError struct {
	Store string // "ledger" or "quota"
	Op    string
	Err   error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s store %s: %v", e.Store, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}
