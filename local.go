// Copyright (C) 2026 IIIMADDINIII. All Rights Reserved.

package remoteobjects

import (
	"fmt"
	"reflect"
	"time"
)

// A localEntry retains one value this peer has described to the remote.
// The value is held strongly until the remote reports its proxy gone; desc
// is the cached introduction, resent unchanged for the lifetime of the id.
type localEntry struct {
	value    any
	desc     Description
	lastSent time.Time
}

// localTable is the registry of values this peer owns and has exposed or
// described to the remote. The caller (the store) serializes access.
type localTable struct {
	vals  map[int64]*localEntry
	index map[any]int64  // value identity → id, for values with a usable key
	names map[string]any // user-exposed names, strong, never collected
	bound map[any]string // value identity → exposed name
	next  int64
}

func newLocalTable() localTable {
	return localTable{
		vals:  make(map[int64]*localEntry),
		index: make(map[any]int64),
		names: make(map[string]any),
		bound: make(map[any]string),
	}
}

// ptrKey is the identity key for values compared by address.
type ptrKey struct {
	kind reflect.Kind
	addr uintptr
}

// valueKey returns a map key identifying v, and whether one exists.
// Pointer-shaped values are keyed by address; comparable values by equality.
// Funcs and slices have no usable identity and always register fresh.
func valueKey(v any) (any, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Chan, reflect.UnsafePointer:
		return ptrKey{rv.Kind(), rv.Pointer()}, true
	case reflect.Func, reflect.Slice:
		return nil, false
	}
	if rv.IsValid() && rv.Type().Comparable() {
		return v, true
	}
	return nil, false
}

// alloc assigns the next free numeric id. Ids wrap monotonically and skip
// ids still live; this terminates as long as the live set does not cover
// the whole id space.
func (t *localTable) alloc() int64 {
	for {
		t.next++
		if t.next <= 0 {
			t.next = 1
		}
		if _, ok := t.vals[t.next]; !ok {
			return t.next
		}
	}
}

// register returns the id holding v, allocating one on first sight, and
// stamps the send time. The bool reports whether the id is new and a
// description still needs to be built.
func (t *localTable) register(v any, now time.Time) (int64, bool) {
	if k, ok := valueKey(v); ok {
		if id, ok := t.index[k]; ok {
			t.vals[id].lastSent = now
			return id, false
		}
	}
	id := t.alloc()
	t.vals[id] = &localEntry{value: v, lastSent: now}
	if k, ok := valueKey(v); ok {
		t.index[k] = id
	}
	return id, true
}

// lookup resolves a numeric id.
func (t *localTable) lookup(num int64) (any, bool) {
	e, ok := t.vals[num]
	if !ok {
		return nil, false
	}
	return e.value, true
}

// resolve resolves an id owned by this peer, numeric or named.
func (t *localTable) resolve(id ID) (any, error) {
	if id.Side != SideLocal {
		return nil, &UnknownIDError{ID: id}
	}
	if id.IsName() {
		if v, ok := t.names[id.Name]; ok {
			return v, nil
		}
		return nil, &UnknownIDError{ID: id}
	}
	if v, ok := t.lookup(id.Num); ok {
		return v, nil
	}
	return nil, &UnknownIDError{ID: id}
}

// expose binds name to v. A name binds at most one value, and a value is
// exposed under at most one name.
func (t *localTable) expose(name string, v any) error {
	if name == "" {
		return fmt.Errorf("expose: empty name")
	}
	if _, ok := t.names[name]; ok {
		return fmt.Errorf("expose: name %q is already bound", name)
	}
	if k, ok := valueKey(v); ok {
		if prev, ok := t.bound[k]; ok {
			return fmt.Errorf("expose: value is already exposed as %q", prev)
		}
		t.bound[k] = name
	}
	t.names[name] = v
	return nil
}

// release drops the id if its value was not re-sent within the protection
// window, and reports whether it did.
func (t *localTable) release(num int64, now time.Time, window time.Duration) bool {
	e, ok := t.vals[num]
	if !ok {
		return false
	}
	if now.Sub(e.lastSent) <= window {
		return false
	}
	delete(t.vals, num)
	if k, ok := valueKey(e.value); ok {
		if t.index[k] == num {
			delete(t.index, k)
		}
	}
	return true
}

// contains reports whether a numeric id is live.
func (t *localTable) contains(num int64) bool {
	_, ok := t.vals[num]
	return ok
}

// setDesc caches the introduction description for an id.
func (t *localTable) setDesc(num int64, d Description) {
	if e, ok := t.vals[num]; ok {
		e.desc = d
	}
}

// desc returns the cached introduction for an id, if any.
func (t *localTable) desc(num int64) (Description, bool) {
	e, ok := t.vals[num]
	if !ok || e.desc == nil {
		return nil, false
	}
	return e.desc, true
}

// clear drops everything. Used on close.
func (t *localTable) clear() {
	t.vals = make(map[int64]*localEntry)
	t.index = make(map[any]int64)
	t.names = make(map[string]any)
	t.bound = make(map[any]string)
}
