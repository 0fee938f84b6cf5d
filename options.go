// Copyright (C) 2026 IIIMADDINIII. All Rights Reserved.

package remoteobjects

import "time"

// PrototypePolicy selects how much of a value's prototype an owner ships in
// shape descriptions.
type PrototypePolicy string

const (
	// PrototypeFull ships a reference to the prototype object itself,
	// enabling InstanceOf and full chain walks on the holder. The default.
	PrototypeFull PrototypePolicy = "full"

	// PrototypeKeysOnly ships a flattened list of the keys reachable through
	// the prototype chain, enabling Has but not chain walks.
	PrototypeKeysOnly PrototypePolicy = "keysOnly"

	// PrototypeNone ships neither.
	PrototypeNone PrototypePolicy = "none"
)

// ErrorPolicy selects how a holder surfaces a remote throw.
type ErrorPolicy string

const (
	// RemoteErrorNewError reconstructs a local *RemoteError carrying the
	// remote message, name, and stack, with the thrown value attached as
	// Cause. The default.
	RemoteErrorNewError ErrorPolicy = "newError"

	// RemoteErrorRemoteObject delivers the thrown value itself, wrapped in
	// *RemoteThrow.
	RemoteErrorRemoteObject ErrorPolicy = "remoteObject"
)

// Options configure a Store. A nil *Options or a zero field selects the
// default for that setting.
type Options struct {
	// RemoteObjectPrototype selects the prototype policy for shape
	// descriptions this store sends. Default: PrototypeFull.
	RemoteObjectPrototype PrototypePolicy

	// RemoteError selects how remote throws surface locally.
	// Default: RemoteErrorNewError.
	RemoteError ErrorPolicy

	// NoToString suppresses the "RemoteObject" stringification sentinel.
	// When set, Proxy.String reports the pending path instead of the
	// sentinel tag.
	NoToString bool

	// DoNotSyncGC disables the garbage collection coordinator entirely.
	// Values described to the remote peer then accumulate until the store
	// closes.
	DoNotSyncGC bool

	// ScheduleGCAfterTime starts a sync round this long after a release is
	// first queued. Zero disables the timer. A nil *Options selects 30s.
	ScheduleGCAfterTime time.Duration

	// ScheduleGCAfterObjectCount starts a sync round once this many releases
	// are queued. Zero disables the threshold. A nil *Options selects 100.
	ScheduleGCAfterObjectCount int

	// RequestLatency is the expected one-way latency budget. Ids introduced
	// within this window are protected from release, on both sides.
	// Default: 1s.
	RequestLatency time.Duration
}

const (
	defaultScheduleGCAfterTime        = 30 * time.Second
	defaultScheduleGCAfterObjectCount = 100
	defaultRequestLatency             = 1 * time.Second
)

// withDefaults returns a copy of o with unset fields replaced by defaults.
// A nil receiver selects all defaults. The GC thresholds default only for a
// nil receiver: an explicit zero in a provided Options disables them.
func (o *Options) withDefaults() Options {
	var out Options
	if o != nil {
		out = *o
	} else {
		out.ScheduleGCAfterTime = defaultScheduleGCAfterTime
		out.ScheduleGCAfterObjectCount = defaultScheduleGCAfterObjectCount
	}
	if out.RemoteObjectPrototype == "" {
		out.RemoteObjectPrototype = PrototypeFull
	}
	if out.RemoteError == "" {
		out.RemoteError = RemoteErrorNewError
	}
	if out.RequestLatency == 0 {
		out.RequestLatency = defaultRequestLatency
	}
	return out
}
