package common

import (
	"errors"
	"fmt"
)

// Sentinel errors for lookups. Callers match with errors.Is.
var (
	// ErrNotFound marks a model or record absent from a source.
	ErrNotFound = errors.New("not found")

	// ErrMultipleResults marks a model that is ambiguous within a source.
	// Writing against an ambiguous model is never safe.
	ErrMultipleResults = errors.New("multiple results")
)

// CommunicationError wraps a network or malformed-response failure while
// talking to a marketplace. The engine absorbs these per call; a batch never
// halts on one.
type CommunicationError struct {
	System string
	Reason string
	Err    error
}

func (e *CommunicationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.System, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.System, e.Reason)
}

func (e *CommunicationError) Unwrap() error { return e.Err }

// NewCommunicationError builds a CommunicationError. err may be nil.
func NewCommunicationError(system, reason string, err error) *CommunicationError {
	return &CommunicationError{System: system, Reason: reason, Err: err}
}

// IsCommunicationError reports whether err is or wraps a CommunicationError.
func IsCommunicationError(err error) bool {
	var target *CommunicationError
	return errors.As(err, &target)
}

// PlatformNotBehavingError means a read-after-write confirmed the remote did
// not apply the write. The cache row for the pair is latched not_behaving so
// the next batch does not mistake the failed write for a sale.
type PlatformNotBehavingError struct {
	System string
	Model  string
}

func (e *PlatformNotBehavingError) Error() string {
	return fmt.Sprintf("%s did not take the stock write for %s", e.System, e.Model)
}

// IsPlatformNotBehaving reports whether err is or wraps a
// PlatformNotBehavingError.
func IsPlatformNotBehaving(err error) bool {
	var target *PlatformNotBehavingError
	return errors.As(err, &target)
}

// UnhandledSystemError means a caller passed an unknown marketplace code.
// Programming error; fatal.
type UnhandledSystemError struct {
	System string
}

func (e *UnhandledSystemError) Error() string {
	return fmt.Sprintf("unhandled system: %s", e.System)
}

// StoreCorruptError wraps a database-level failure. Fatal; the batch aborts.
type StoreCorruptError struct {
	Op  string
	Err error
}

func (e *StoreCorruptError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StoreCorruptError) Unwrap() error { return e.Err }

// IsStoreCorrupt reports whether err is or wraps a StoreCorruptError.
func IsStoreCorrupt(err error) bool {
	var target *StoreCorruptError
	return errors.As(err, &target)
}
