// Package errdefs defines the error kinds of the nexus engine. Callers
// classify failures with errors.Is; the jsonrpc layer maps each kind onto a
// wire code so classification survives the control socket.
package errdefs

import "errors"

var (
	// ErrChildUnavailable means a replica could not be reached or opened.
	ErrChildUnavailable = errors.New("child unavailable")

	// ErrIncompatibleGeometry means a replica cannot back the nexus: it is
	// smaller than the logical device or reports a different block size.
	ErrIncompatibleGeometry = errors.New("incompatible geometry")

	// ErrOutOfRange means an I/O request falls outside the logical device.
	ErrOutOfRange = errors.New("out of range")

	// ErrIoFailed means an I/O request failed on every eligible child.
	ErrIoFailed = errors.New("io failed")

	// ErrAlreadyExists means a nexus or child with that identity exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrNotFound means no nexus or child matches the given identity.
	ErrNotFound = errors.New("not found")

	// ErrLastChild means the operation would remove the last usable child.
	ErrLastChild = errors.New("last usable child")

	// ErrNotPublished means the nexus has no export to tear down.
	ErrNotPublished = errors.New("not published")

	// ErrStillPublished means the nexus must be unpublished first.
	ErrStillPublished = errors.New("still published")

	// ErrFaulted means the nexus has no usable children left.
	ErrFaulted = errors.New("nexus faulted")
)
