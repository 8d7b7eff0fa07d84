// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chaincache

// ErrorKind identifies a kind of error.  It has full support for errors.Is
// and errors.As, so the caller can directly check against an error kind when
// determining the reason for an error.
type ErrorKind string

// These constants are used to identify a specific Error.
const (
	// ErrCacheMiss indicates no entry exists for the fingerprint.
	ErrCacheMiss = ErrorKind("ErrCacheMiss")

	// ErrCacheCorrupt indicates an entry exists but is incomplete or does
	// not match its manifest.  The entry is removed when this is reported.
	ErrCacheCorrupt = ErrorKind("ErrCacheCorrupt")

	// ErrCaptureUnclean indicates a capture was requested while a
	// contributing node was not cleanly stopped.
	ErrCaptureUnclean = ErrorKind("ErrCaptureUnclean")

	// ErrNodeCountMismatch indicates the number of destinations or
	// contributors does not match the entry.
	ErrNodeCountMismatch = ErrorKind("ErrNodeCountMismatch")
)

// Error satisfies the error interface and prints human-readable errors.
func (e ErrorKind) Error() string {
	return string(e)
}

// Error identifies an error related to the chain cache.
type Error struct {
	Err         error
	Description string
}

// Error satisfies the error interface and prints human-readable errors.
func (e Error) Error() string {
	return e.Description
}

// Unwrap returns the underlying wrapped error.
func (e Error) Unwrap() error {
	return e.Err
}

// makeError creates an Error given a set of arguments.
func makeError(kind ErrorKind, desc string) Error {
	return Error{Err: kind, Description: desc}
}
