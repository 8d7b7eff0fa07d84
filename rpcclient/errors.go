// Copyright (c) 2014-2017 The btcsuite developers
// Copyright (c) 2020 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package rpcclient

// ErrorKind identifies a kind of error.  It has full support for errors.Is
// and errors.As, so the caller can directly check against an error kind when
// determining the reason for an error.
//
// Errors reported by the remote node itself are not wrapped in this type.
// They are returned as *btcjson.RPCError with the code and message exactly as
// the node produced them.
type ErrorKind string

// These constants are used to identify a specific Error.
const (
	// ErrRPCTimeout indicates a call did not receive a response within the
	// per-call timeout.  The request may or may not have been processed by
	// the node.
	ErrRPCTimeout = ErrorKind("ErrRPCTimeout")

	// ErrTransport indicates the request could not be delivered or the
	// response could not be read, for example because the connection was
	// refused.
	ErrTransport = ErrorKind("ErrTransport")

	// ErrAuthFailed indicates the node rejected the supplied credentials.
	ErrAuthFailed = ErrorKind("ErrAuthFailed")

	// ErrInvalidResponse indicates the node replied with something that is
	// not a JSON-RPC response.
	ErrInvalidResponse = ErrorKind("ErrInvalidResponse")

	// ErrClientShutdown indicates the session was invalidated, typically
	// because the node process it was bound to left the healthy state.
	ErrClientShutdown = ErrorKind("ErrClientShutdown")
)

// Error satisfies the error interface and prints human-readable errors.
func (e ErrorKind) Error() string {
	return string(e)
}

// Error identifies an error produced by the client itself.  It has full
// support for errors.Is and errors.As, so the caller can ascertain the
// specific reason for the error by checking the underlying error.
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
