// Copyright (C) 2026 IIIMADDINIII. All Rights Reserved.

package remoteobjects

import (
	"errors"
	"fmt"
)

// ErrStoreClosed is reported by every public operation on a closed store.
var ErrStoreClosed = errors.New("object store is closed")

// errGCDisabled is reported by SyncGC when the coordinator is disabled.
var errGCDisabled = errors.New("garbage collection sync is disabled")

// A ProtocolError reports a malformed payload or a misuse of the path
// protocol, such as a set segment with no preceding get. Protocol errors are
// surfaced locally; they never travel as a response payload.
type ProtocolError struct {
	Message string
	Err     error // underlying cause, or nil
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Message, e.Err)
	}
	return "protocol error: " + e.Message
}

// Unwrap reports the underlying error of e, if any.
func (e *ProtocolError) Unwrap() error { return e.Err }

func protocolErrorf(msg string, args ...any) *ProtocolError {
	return &ProtocolError{Message: fmt.Sprintf(msg, args...)}
}

// An UnknownIDError reports a request referencing an id not present in the
// owner's table: released, never seen, or in the wrong namespace.
type UnknownIDError struct {
	ID ID
}

func (e *UnknownIDError) Error() string {
	return fmt.Sprintf("unknown id %v", e.ID)
}

// A RemoteError is the local reconstruction of a value thrown during path
// evaluation on the remote peer. Its message, name, and stack are copied
// from the remote throw; Cause holds the thrown value itself, by reference,
// when it was gc-tracked.
//
// This is the concrete error type delivered by awaiting a failed path under
// the default RemoteErrorNewError policy.
type RemoteError struct {
	Message string // message of the remote throw
	Name    string // type name of the remote throw
	Stack   string // remote stack, prefixed "Remote Stacktrace:"
	Cause   any    // proxy for the thrown value, or the decoded value
}

func (e *RemoteError) Error() string {
	if e.Name != "" {
		return e.Name + ": " + e.Message
	}
	return e.Message
}

// A RemoteThrow wraps a remotely thrown value delivered verbatim under the
// RemoteErrorRemoteObject policy. Value is typically a proxy for the thrown
// value on its owning peer.
type RemoteThrow struct {
	Value any
}

func (e *RemoteThrow) Error() string {
	return fmt.Sprintf("remote throw: %v", e.Value)
}
