package core

import "fmt"

// PersistenceError indicates that a durable read or write against the
// message store failed. A mutation that fails this way has no observable
// effect: no record is added or marked deleted and nothing is broadcast.
type PersistenceError struct {
	Op  string
	Err error
}

func NewPersistenceError(op string, err error) *PersistenceError {
	return &PersistenceError{Op: op, Err: err}
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
