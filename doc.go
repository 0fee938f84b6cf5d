// Copyright (C) 2026 IIIMADDINIII. All Rights Reserved.

// Package remoteobjects implements a transparent remote-object protocol.
//
// Two peers, each holding arbitrary in-process values (objects, functions,
// symbols, primitives), expose them to each other over a bidirectional
// message channel so that remote code can read properties, invoke methods,
// construct instances, and mutate fields as though the values were local.
//
// # Stores
//
// The core type defined by this package is the [Store]. A store manages the
// distributed object graph on one peer: the table of values it owns, the
// weak cache of proxies for values owned by the other peer, and the
// cooperative garbage collection that reconciles the two.
//
// To create a store, bind it to a request handler connected to the other
// peer:
//
//	st := remoteobjects.New(mux, nil)
//
// The second argument carries [Options]; nil selects the defaults.
//
// To make a value reachable by the remote peer, expose it under a name:
//
//	err := st.Expose("api", &API{})
//
// The remote peer obtains a proxy for it either eagerly, with a round-trip
// that fetches the value's shape:
//
//	p, err := st.Request(ctx, "api")
//
// or lazily, with no round-trip at all:
//
//	p, err := st.Get("api")
//
// # Proxies
//
// A [Proxy] stands for a value owned by the remote peer. Operations on a
// proxy do not execute immediately; they extend a deferred access path:
//
//	v := p.Get("version").Call()
//
// Nothing crosses the wire until the path is materialized by awaiting it:
//
//	result, err := v.Await(ctx)
//
// or by writing through it, which sends the pending path as a terminal
// assignment:
//
//	err := p.Get("count").Set(ctx, 10)
//
// The owner evaluates the whole path in one request, so chained reads,
// calls, and constructions cost a single round-trip. A proxy produced by
// decoding a full shape description (for example the result of
// [Store.Request] or of awaiting a path) is bound: it additionally answers
// reflection queries such as [Proxy.Keys], [Proxy.Has], [Proxy.Prototype],
// and [Proxy.InstanceOf] without further round-trips.
//
// Proxies preserve identity: as long as any reference to it survives, the
// same remote id always yields the same proxy instance. Passing a proxy back
// to the peer that owns the underlying value resolves to the original value,
// not a copy.
//
// # Garbage collection
//
// Values sent to the remote peer are retained by the owner until the holder
// reports that its proxy has become unreachable. The holder batches such
// releases and reconciles them with the owner in periodic sync rounds,
// guarded against requests still in flight. See [Store.SyncGC] and the
// ScheduleGCAfterTime, ScheduleGCAfterObjectCount, and RequestLatency
// options.
//
// # Transport
//
// A store consumes the [RequestHandler] contract: a request/response
// round-trip plus one-way notifications. The transport subpackage provides
// an implementation that multiplexes both directions over a single packet
// channel, along with in-memory channel pairs for testing and adapters for
// net connections.
package remoteobjects
