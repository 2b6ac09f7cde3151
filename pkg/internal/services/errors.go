package services

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRequest   = errors.New("invalid pack id")
	ErrPackExists       = errors.New("pack already exists")
	ErrImportInProgress = errors.New("pack import already in progress")
	ErrQueueFull        = errors.New("import queue is full")
)

// PersistenceError wraps a failed database write or read of pack records.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("unable to %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
