// Copyright (c) 2024 The lua-redis-wasm developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package codec

import "fmt"

// ErrorCode identifies a kind of codec error.
type ErrorCode int

// These constants are used to identify a specific Error.
const (
	// ErrTruncatedHeader is returned when a reply frame ends before the
	// 5-byte header is complete.
	ErrTruncatedHeader ErrorCode = iota

	// ErrTruncatedPayload is returned when a reply frame header promises
	// more payload bytes than the buffer holds.
	ErrTruncatedPayload

	// ErrUnknownReplyKind is returned when the tag byte of a reply frame
	// is not one of the six defined reply kinds.
	ErrUnknownReplyKind

	// ErrNestingTooDeep is returned when decoding an array reply would
	// recurse beyond MaxDecodeDepth.
	ErrNestingTooDeep

	// ErrTruncatedRequest is returned when a request frame ends before the
	// item count or an item length field is complete.
	ErrTruncatedRequest

	// ErrRequestItemOverflow is returned when a request item length field
	// points past the end of the frame.
	ErrRequestItemOverflow

	// numErrorCodes is the maximum error code number used in tests.
	numErrorCodes
)

// Map of ErrorCode values back to their constant names for pretty printing.
var errorCodeStrings = map[ErrorCode]string{
	ErrTruncatedHeader:     "ErrTruncatedHeader",
	ErrTruncatedPayload:    "ErrTruncatedPayload",
	ErrUnknownReplyKind:    "ErrUnknownReplyKind",
	ErrNestingTooDeep:      "ErrNestingTooDeep",
	ErrTruncatedRequest:    "ErrTruncatedRequest",
	ErrRequestItemOverflow: "ErrRequestItemOverflow",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := errorCodeStrings[e]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// Error identifies a codec error. It is used to indicate a reply or request
// frame on the wire is malformed. The caller can use type assertions on the
// returned error to access the ErrorCode field and react to the specific
// condition; the description is not part of the wire contract.
type Error struct {
	ErrorCode   ErrorCode
	Description string
}

// Error satisfies the error interface and prints human-readable errors.
func (e Error) Error() string {
	return e.Description
}

// codecError creates an Error given a set of arguments.
func codecError(c ErrorCode, desc string) Error {
	return Error{ErrorCode: c, Description: desc}
}

// IsErrorCode returns whether or not the provided error is a codec error with
// the provided error code.
func IsErrorCode(err error, c ErrorCode) bool {
	cerr, ok := err.(Error)
	return ok && cerr.ErrorCode == c
}
