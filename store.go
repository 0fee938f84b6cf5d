// Copyright (C) 2026 IIIMADDINIII. All Rights Reserved.

package remoteobjects

import (
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"fmt"
	"reflect"
	"sync"

	"github.com/creachadair/taskgroup"
)

// A RequestHandler is the transport contract a store consumes: a
// request/response round-trip and a one-way notification, both carrying
// opaque JSON payloads. The transport subpackage provides an implementation
// that multiplexes both directions over a single packet channel.
//
// The methods of an implementation must be safe for concurrent use by
// multiple goroutines.
type RequestHandler interface {
	// Request delivers payload to the remote store and returns its reply.
	Request(ctx context.Context, payload []byte) ([]byte, error)

	// Notify delivers payload to the remote store without awaiting a reply.
	Notify(payload []byte) error
}

// A HandlerBinder is the optional inbound half of the transport contract.
// When the RequestHandler given to New also implements HandlerBinder, the
// store binds its inbound entry points automatically; otherwise the caller
// wires HandleRequest, HandleMessage, and Disconnected itself.
type HandlerBinder interface {
	OnRequest(func(ctx context.Context, payload []byte) ([]byte, error))
	OnMessage(func(payload []byte))
	OnDisconnect(func(error))
}

// A MessageInfo combines a store message and a flag indicating whether the
// message was sent or received.
type MessageInfo struct {
	Payload []byte
	Sent    bool
}

// A MessageLogger logs a message exchanged with the remote store.
type MessageLogger func(msg MessageInfo)

// A Store manages one side of a distributed object graph. It tracks the
// values this peer has exposed or described to the remote, caches proxies
// for values the remote owns, routes inbound path requests to the
// evaluator, and reconciles reference lifetimes with the remote peer.
//
// A store is safe for concurrent use by multiple goroutines.
type Store struct {
	rh   RequestHandler
	opts Options

	μ      sync.Mutex
	closed bool
	local  localTable
	remote remoteTable
	types  map[reflect.Type]*typeObject
	gc     gcState
	mlog   MessageLogger

	tasks   *taskgroup.Group
	metrics *storeMetrics
}

// New constructs a store bound to the given request handler. A nil opts
// selects the defaults. If rh also implements HandlerBinder, the store
// registers its inbound entry points on it.
func New(rh RequestHandler, opts *Options) *Store {
	s := &Store{
		rh:      rh,
		opts:    opts.withDefaults(),
		types:   make(map[reflect.Type]*typeObject),
		gc:      newGCState(),
		tasks:   taskgroup.New(nil),
		metrics: rootMetrics,
	}
	s.local = newLocalTable()
	s.remote = newRemoteTable(s.queueRelease)
	if b, ok := rh.(HandlerBinder); ok {
		b.OnRequest(s.HandleRequest)
		b.OnMessage(s.HandleMessage)
		b.OnDisconnect(s.Disconnected)
	}
	return s
}

// Metrics returns the metrics map shared by all stores. It is safe for the
// caller to add additional metrics to the map while the store is active.
func (s *Store) Metrics() *expvar.Map { return s.metrics.emap }

// LogMessages registers a callback invoked for each message exchanged with
// the remote store. Passing nil disables logging. LogMessages returns s to
// permit chaining.
func (s *Store) LogMessages(log MessageLogger) *Store {
	s.μ.Lock()
	defer s.μ.Unlock()
	s.mlog = log
	return s
}

// Expose makes value reachable by the remote peer under name. A name binds
// at most one value and a value is exposed under at most one name; exposed
// entries live until the store closes and are never garbage collected.
func (s *Store) Expose(name string, value any) error {
	s.μ.Lock()
	defer s.μ.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	return s.local.expose(name, value)
}

// Get returns an unbound proxy for the value the remote peer exposes under
// name. No round-trip happens; the name is not validated until the proxy is
// first used.
func (s *Store) Get(name string) (*Proxy, error) {
	s.μ.Lock()
	defer s.μ.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	return &Proxy{store: s, root: remoteName(name)}, nil
}

// Request fetches the value the remote peer exposes under name and returns
// a bound proxy for it. Repeated requests for the same name return the
// identical proxy. The remote value must be an object or function; for
// primitive-valued names use Get and Await instead.
func (s *Store) Request(ctx context.Context, name string) (*Proxy, error) {
	s.μ.Lock()
	if s.closed {
		s.μ.Unlock()
		return nil, ErrStoreClosed
	}
	if p := s.remote.name(name); p != nil {
		s.μ.Unlock()
		return p, nil
	}
	s.μ.Unlock()

	v, err := s.requestSegments(ctx, remoteName(name), nil)
	if err != nil {
		return nil, err
	}
	p, ok := v.(*Proxy)
	if !ok {
		return nil, fmt.Errorf("request %q: remote value is %T, not an object", name, v)
	}

	s.μ.Lock()
	defer s.μ.Unlock()
	if prev := s.remote.name(name); prev != nil {
		return prev, nil
	}
	s.remote.setName(name, p)
	return p, nil
}

// Close shuts the store down: it notifies the remote peer, fails all
// subsequent public operations, and releases both tables. Close is
// idempotent.
func (s *Store) Close() error {
	if !s.markClosed() {
		return nil
	}
	s.rh.Notify(closeMessage) // best effort; the peer may already be gone
	s.tasks.Wait()
	return nil
}

// markClosed transitions to the closed state and reports whether this call
// performed the transition.
func (s *Store) markClosed() bool {
	s.μ.Lock()
	defer s.μ.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	if t := s.gc.timer; t != nil {
		t.Stop()
		s.gc.timer = nil
	}
	s.local.clear()
	s.remote.clear()
	s.gc = newGCState()
	return true
}

// HandleRequest is the inbound request entry point: it decodes a message
// from the remote store, dispatches it, and encodes the result. Errors it
// returns are protocol errors for the transport to surface; errors raised
// by path evaluation travel inside the response payload.
func (s *Store) HandleRequest(ctx context.Context, payload []byte) ([]byte, error) {
	s.logMessage(MessageInfo{Payload: payload, Sent: false})

	kind, err := messageKind(payload)
	if err != nil {
		return nil, err
	}
	switch kind {
	case msgRemote:
		return s.handleRemote(ctx, payload)

	case msgSyncGC:
		if s.isClosed() {
			return s.respondError(ErrStoreClosed, "")
		}
		var req syncGCRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, &ProtocolError{Message: "invalid syncGc request", Err: err}
		}
		return json.Marshal(s.handleSyncGC(req))
	}
	return nil, protocolErrorf("unknown message type %q", kind)
}

// handleRemote evaluates one inbound path request against the local table.
func (s *Store) handleRemote(ctx context.Context, payload []byte) ([]byte, error) {
	s.metrics.requestsIn.Add(1)
	if s.isClosed() {
		// Answer anyway so the peer can learn the state.
		s.metrics.requestsInErr.Add(1)
		return s.respondError(ErrStoreClosed, "")
	}

	var req remoteRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, &ProtocolError{Message: "invalid remote request", Err: err}
	}

	s.μ.Lock()
	root, err := s.local.resolve(req.Root)
	s.μ.Unlock()
	if err != nil {
		s.metrics.requestsInErr.Add(1)
		return s.respondError(err, "")
	}

	v, err := s.evaluate(ctx, root, req.Path)
	if err != nil {
		var perr *ProtocolError
		if errors.As(err, &perr) {
			return nil, err
		}
		s.metrics.requestsInErr.Add(1)
		var stack string
		var pe *panicError
		if errors.As(err, &pe) {
			stack = string(pe.stack)
		}
		return s.respondError(err, stack)
	}

	d, err := s.encodeValue(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(d)
}

// respondError encodes an evaluation failure as a response payload.
func (s *Store) respondError(err error, stack string) ([]byte, error) {
	return json.Marshal(s.encodeError(err, stack))
}

// HandleMessage is the inbound notification entry point. The only
// notification defined by the protocol is close; unknown notifications are
// discarded, so that peers can extend the protocol compatibly.
func (s *Store) HandleMessage(payload []byte) {
	s.logMessage(MessageInfo{Payload: payload, Sent: false})
	kind, err := messageKind(payload)
	if err != nil {
		return
	}
	if kind == msgClose {
		s.markClosed()
	}
}

// Disconnected is the transport's notice that the peer is gone. The store
// transitions to closed without attempting to notify anyone.
func (s *Store) Disconnected(error) { s.markClosed() }

// roundTrip materializes a recorded proxy path: it encodes the steps and
// performs the request.
func (s *Store) roundTrip(ctx context.Context, root ID, path []step) (any, error) {
	s.μ.Lock()
	if s.closed {
		s.μ.Unlock()
		return nil, ErrStoreClosed
	}
	segs, err := s.encodeStepsLocked(path)
	s.μ.Unlock()
	if err != nil {
		return nil, err
	}
	return s.requestSegments(ctx, root, segs)
}

// requestSegments sends an already-encoded path request and decodes the
// response.
func (s *Store) requestSegments(ctx context.Context, root ID, segs []Segment) (any, error) {
	payload, err := json.Marshal(remoteRequest{Root: root, Path: segs})
	if err != nil {
		return nil, err
	}
	reply, err := s.request(ctx, payload)
	if err != nil {
		return nil, err
	}
	return s.decodeResponse(ctx, reply)
}

// request performs one transport round-trip with logging and metrics.
func (s *Store) request(ctx context.Context, payload []byte) (_ []byte, err error) {
	if s.isClosed() {
		return nil, ErrStoreClosed
	}
	s.metrics.requestsOut.Add(1)
	defer func() {
		if err != nil {
			s.metrics.requestsOutErr.Add(1)
		}
	}()

	s.logMessage(MessageInfo{Payload: payload, Sent: true})
	reply, err := s.rh.Request(ctx, payload)
	if err != nil {
		return nil, err
	}
	s.logMessage(MessageInfo{Payload: reply, Sent: false})
	return reply, nil
}

func (s *Store) isClosed() bool {
	s.μ.Lock()
	defer s.μ.Unlock()
	return s.closed
}

func (s *Store) logMessage(msg MessageInfo) {
	s.μ.Lock()
	log := s.mlog
	s.μ.Unlock()
	if log != nil {
		log(msg)
	}
}
