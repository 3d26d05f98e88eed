// internal/checkpoint/errors.go
package checkpoint

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Errors returned by checkpoint operations.
var (
	// ErrIO wraps disk read, write and permission failures.
	ErrIO = errors.New("checkpoint i/o error")

	// ErrHashMismatch marks a stored blob whose content no longer matches its key.
	ErrHashMismatch = errors.New("content hash mismatch")

	// ErrTreeIntegrity marks a missing parent or a snapshot pointing at a missing blob.
	ErrTreeIntegrity = errors.New("timeline integrity violated")

	// ErrConcurrentModification is returned when another mutating operation
	// holds the project lock. Callers retry; the engine never queues.
	ErrConcurrentModification = errors.New("another checkpoint operation is in progress")

	// ErrNotFound is returned for unknown checkpoint or session ids.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrInvalidStrategy rejects unknown strategy names from the host.
	ErrInvalidStrategy = errors.New("invalid checkpoint strategy")

	// ErrSessionExists rejects a fork into a session that already has history.
	ErrSessionExists = errors.New("session already has checkpoints")
)

// ioError tags err as an I/O failure while keeping the original chain.
func ioError(op, path string, err error) error {
	if path == "" {
		return fmt.Errorf("%w: %s: %w", ErrIO, op, err)
	}
	return fmt.Errorf("%w: %s %s: %w", ErrIO, op, path, err)
}

// HashMismatchError reports a corrupted blob
type HashMismatchError struct {
	Hash   string
	Actual string
}

func (e *HashMismatchError) Error() string {
	return fmt.Sprintf("blob %s: content hashes to %s", e.Hash, e.Actual)
}

func (e *HashMismatchError) Is(target error) bool {
	return target == ErrHashMismatch
}

// TreeIntegrityError reports a broken link in the persisted timeline
type TreeIntegrityError struct {
	CheckpointID string
	Reason       string
}

func (e *TreeIntegrityError) Error() string {
	return fmt.Sprintf("checkpoint %s: %s", e.CheckpointID, e.Reason)
}

func (e *TreeIntegrityError) Is(target error) bool {
	return target == ErrTreeIntegrity
}

// RevertError reports which files could not be restored. When Inconsistent
// is non-empty the undo pass failed too and those paths match neither the
// target nor the pre-revert state.
type RevertError struct {
	TargetID     string
	Failed       []string
	Inconsistent []string
	Err          error
}

func (e *RevertError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "revert to %s failed", e.TargetID)
	if len(e.Failed) > 0 {
		fmt.Fprintf(&b, "; could not restore: %s", strings.Join(e.Failed, ", "))
	}
	if len(e.Inconsistent) > 0 {
		fmt.Fprintf(&b, "; left inconsistent: %s", strings.Join(e.Inconsistent, ", "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *RevertError) Unwrap() error {
	return e.Err
}

// Fatal reports whether the working tree was left partially reverted.
func (e *RevertError) Fatal() bool {
	return len(e.Inconsistent) > 0
}

func newRevertError(targetID string, failed, inconsistent []string, err error) *RevertError {
	sort.Strings(failed)
	sort.Strings(inconsistent)
	return &RevertError{TargetID: targetID, Failed: failed, Inconsistent: inconsistent, Err: err}
}
