// Copyright (C) 2026 IIIMADDINIII. All Rights Reserved.

package remoteobjects

import (
	"context"
	"fmt"
	"strings"
)

// A step is one recorded operation of a deferred access path. Keys and
// arguments are captured raw and encoded only when the path materializes.
type step struct {
	op    string // "get", "set", "call", "new"
	key   any    // get, set: string, integer, or *Symbol
	value any    // set
	args  []any  // call, new
}

// A Proxy stands for a value owned by the remote peer. Operations extend a
// deferred access path; Await materializes the pending path in a single
// request and Set sends it as a terminal assignment. See the package
// documentation for the full protocol.
//
// A proxy is unbound when it carries only a root and a path, and bound when
// it was produced from a full shape description. Only bound proxies answer
// the reflection queries (Keys, Has, Prototype, Descriptor, InstanceOf);
// unbound proxies report an error directing the caller to await first.
//
// Proxies are safe for concurrent use: they are immutable, and every
// path-extending operation returns a new proxy.
type Proxy struct {
	store *Store
	root  ID
	path  []step
	shape *proxyShape
}

// proxyShape is the decoded shape description backing a bound proxy.
type proxyShape struct {
	kind      gcKind // kindObject or kindFunction
	ownKeys   []ownKey
	hasKeys   []any // strings and *Symbols, keysOnly policy
	hasProto  bool  // whether a prototype reference was shipped
	proto     any   // *Proxy, or nil for a null prototype
	funcProto *Proxy
}

type ownKey struct {
	key        any // string or *Symbol
	enumerable bool
}

// A PropDescriptor describes one own key of a bound proxy.
type PropDescriptor struct {
	Configurable bool
	Enumerable   bool
}

// errUnbound reports a reflection query on an unbound proxy.
func (p *Proxy) errUnbound(op string) error {
	return fmt.Errorf("%s: proxy %v is unbound; await it first to obtain its shape", op, p.root)
}

// derive returns a new proxy extending p's path by one step.
func (p *Proxy) derive(st step) *Proxy {
	path := make([]step, len(p.path), len(p.path)+1)
	copy(path, p.path)
	return &Proxy{store: p.store, root: p.root, path: append(path, st)}
}

// Get records a property read and returns the extended proxy. The key may
// be a string, an integer index, or a *Symbol.
func (p *Proxy) Get(key any) *Proxy { return p.derive(step{op: "get", key: key}) }

// Call records an invocation of the current path target as a function and
// returns the extended proxy. Arguments are captured raw and encoded when
// the path materializes.
func (p *Proxy) Call(args ...any) *Proxy { return p.derive(step{op: "call", args: args}) }

// New records an invocation of the current path target as a constructor and
// returns the extended proxy.
func (p *Proxy) New(args ...any) *Proxy { return p.derive(step{op: "new", args: args}) }

// Await materializes the pending path: it sends the path to the owner,
// which evaluates it against the root value, and returns the decoded
// result. Remote throws surface as *RemoteError or *RemoteThrow per the
// store's RemoteError option.
func (p *Proxy) Await(ctx context.Context) (any, error) {
	return p.store.roundTrip(ctx, p.root, p.path)
}

// Set assigns value to the property named by the final Get of the pending
// path. The trailing Get collapses into a terminal set segment, so
//
//	api, _ := st.Get("api")
//	api.Get("count").Set(ctx, 10)
//
// assigns the owner's api.count. Calling Set on a path that does not end in
// a Get is a protocol error: there is no property to assign.
func (p *Proxy) Set(ctx context.Context, value any) error {
	n := len(p.path)
	if n == 0 || p.path[n-1].op != "get" {
		return protocolErrorf("set requires a preceding get; path ends in %q",
			lastOp(p.path))
	}
	path := make([]step, n)
	copy(path, p.path)
	path[n-1] = step{op: "set", key: path[n-1].key, value: value}
	_, err := p.store.roundTrip(ctx, p.root, path)
	return err
}

func lastOp(path []step) string {
	if len(path) == 0 {
		return "root"
	}
	return path[len(path)-1].op
}

// Bound reports whether p carries a shape description.
func (p *Proxy) Bound() bool { return p.shape != nil }

// IsFunction reports whether the remote value is a function. It requires a
// bound proxy.
func (p *Proxy) IsFunction() bool { return p.shape != nil && p.shape.kind == kindFunction }

// Keys returns the ordered own keys of the remote value, as recorded in its
// shape. Entries are strings or *Symbols.
func (p *Proxy) Keys() ([]any, error) {
	if p.shape == nil {
		return nil, p.errUnbound("keys")
	}
	keys := make([]any, len(p.shape.ownKeys))
	for i, k := range p.shape.ownKeys {
		keys[i] = k.key
	}
	return keys, nil
}

// Descriptor returns the property descriptor for an own key of the remote
// value, and whether the key is an own key at all.
func (p *Proxy) Descriptor(key any) (PropDescriptor, bool, error) {
	if p.shape == nil {
		return PropDescriptor{}, false, p.errUnbound("descriptor")
	}
	for _, k := range p.shape.ownKeys {
		if keyEqual(k.key, key) {
			return PropDescriptor{Configurable: true, Enumerable: k.enumerable}, true, nil
		}
	}
	return PropDescriptor{}, false, nil
}

// Has reports whether key is reachable on the remote value: an own key, a
// key shipped in the flattened prototype key list, or an own key of any
// prototype in the decoded chain.
func (p *Proxy) Has(key any) (bool, error) {
	if p.shape == nil {
		return false, p.errUnbound("has")
	}
	for _, k := range p.shape.ownKeys {
		if keyEqual(k.key, key) {
			return true, nil
		}
	}
	for _, k := range p.shape.hasKeys {
		if keyEqual(k, key) {
			return true, nil
		}
	}
	if pp, ok := p.shape.proto.(*Proxy); ok {
		return pp.Has(key)
	}
	return false, nil
}

// Prototype returns the decoded prototype of the remote value: another
// proxy, or nil for a null prototype. It fails when the owner's prototype
// policy did not ship one.
func (p *Proxy) Prototype() (any, error) {
	if p.shape == nil {
		return nil, p.errUnbound("prototype")
	}
	if !p.shape.hasProto {
		return nil, fmt.Errorf("prototype: not shipped under the owner's prototype policy")
	}
	return p.shape.proto, nil
}

// FunctionPrototype returns the proxy for the constructor's instance
// prototype, enabling InstanceOf across peers. It is available only on
// bound function proxies whose owner could determine an instance type.
func (p *Proxy) FunctionPrototype() (*Proxy, error) {
	if p.shape == nil {
		return nil, p.errUnbound("functionPrototype")
	}
	if p.shape.kind != kindFunction {
		return nil, fmt.Errorf("functionPrototype: %v is not a function", p.root)
	}
	if p.shape.funcProto == nil {
		return nil, fmt.Errorf("functionPrototype: none recorded for %v", p.root)
	}
	return p.shape.funcProto, nil
}

// InstanceOf reports whether the remote value was constructed by ctor: it
// walks p's decoded prototype chain looking for ctor's function prototype.
// Both proxies must be bound, and the owner's policy must ship prototypes.
func (p *Proxy) InstanceOf(ctor *Proxy) (bool, error) {
	fp, err := ctor.FunctionPrototype()
	if err != nil {
		return false, err
	}
	cur, err := p.Prototype()
	if err != nil {
		return false, err
	}
	for limit := 0; limit < 1000; limit++ {
		pp, ok := cur.(*Proxy)
		if !ok {
			return false, nil // reached a null prototype
		}
		if pp.root == fp.root {
			return true, nil
		}
		cur, err = pp.Prototype()
		if err != nil {
			return false, err
		}
	}
	return false, fmt.Errorf("instanceOf: prototype chain too deep for %v", p.root)
}

// String implements the stringification sentinel. By default it reports the
// constant tag "[object RemoteObject]" so that formatting a proxy never
// blocks. Under the NoToString option it renders the pending path instead;
// obtaining remote string data then requires an explicit Await.
func (p *Proxy) String() string {
	if p.store == nil || !p.store.opts.NoToString {
		return "[object RemoteObject]"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "RemoteProxy(%v", p.root)
	for _, st := range p.path {
		switch st.op {
		case "get", "set":
			fmt.Fprintf(&sb, ".%v", st.key)
		case "call":
			fmt.Fprintf(&sb, "(%d args)", len(st.args))
		case "new":
			fmt.Fprintf(&sb, ".new(%d args)", len(st.args))
		}
	}
	sb.WriteString(")")
	return sb.String()
}

// keyEqual compares property keys: strings by value, symbols by identity.
func keyEqual(a, b any) bool {
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case *Symbol:
		bv, ok := b.(*Symbol)
		return ok && av == bv
	}
	return a == b
}
