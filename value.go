// Copyright (C) 2026 IIIMADDINIII. All Rights Reserved.

package remoteobjects

import (
	"context"
	"math/big"
	"reflect"
)

// Undefined is the marker for an absent value. It is distinct from nil (the
// null marker): a missing property reads as Undefined, while nil is an
// ordinary value a property may hold.
var Undefined = undefined{}

type undefined struct{}

func (undefined) String() string { return "undefined" }

// A Symbol is an opaque identity token. Symbols cross the wire by reference
// only: the peers exchange an id, never the token itself, so identity is
// preserved and the only supported operations are identity comparison and
// use as a property key.
type Symbol struct {
	name string

	// origin is set on symbols decoded from the remote peer, in the local
	// perspective. It routes a re-encoded symbol back to its owner.
	origin *ID
}

// NewSymbol creates a fresh symbol. The name is diagnostic only; two symbols
// with the same name are still distinct.
func NewSymbol(name string) *Symbol { return &Symbol{name: name} }

// Name returns the diagnostic name of the symbol.
func (s *Symbol) Name() string { return s.name }

func (s *Symbol) String() string { return "Symbol(" + s.name + ")" }

// A Future is a value that resolves asynchronously. The path evaluator
// resolves Future-valued intermediate results before walking further
// segments, so asynchronous chains thread through paths transparently.
// Proxies implement Future too, but the evaluator does not resolve them:
// it extends a proxy by the remaining segments instead.
type Future interface {
	Await(ctx context.Context) (any, error)
}

// isPrimitive reports whether v crosses the wire inline rather than by
// reference. Big integers count as primitive: they are carried as tagged
// decimal text.
func isPrimitive(v any) bool {
	switch v.(type) {
	case nil, undefined, bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64,
		*big.Int:
		return true
	}
	return false
}

// gcKind classifies a non-primitive value for the wire: objects, functions,
// and symbols are tracked with distinct description shapes.
type gcKind byte

const (
	kindObject gcKind = iota
	kindFunction
	kindSymbol
)

func gcKindOf(v any) gcKind {
	switch v.(type) {
	case *Symbol:
		return kindSymbol
	}
	if reflect.ValueOf(v).Kind() == reflect.Func {
		return kindFunction
	}
	return kindObject
}

func (k gcKind) String() string {
	switch k {
	case kindObject:
		return "object"
	case kindFunction:
		return "function"
	case kindSymbol:
		return "symbol"
	default:
		return "invalid"
	}
}
