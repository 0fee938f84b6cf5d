// Copyright (C) 2026 IIIMADDINIII. All Rights Reserved.

package remoteobjects

import (
	"runtime"
	"weak"
)

// A remoteEntry weakly caches the local stand-in for one remote id: a proxy
// for objects and functions, a symbol for symbol ids. The generation guards
// against a finalization notice for a stand-in that has since been replaced.
type remoteEntry struct {
	proxy weak.Pointer[Proxy]
	sym   weak.Pointer[Symbol]
	gen   uint64
}

// remoteTable is the weak cache of stand-ins for values owned by the other
// peer. Numeric entries are weak; named proxies (from Store.Request) are
// held strongly and never cleaned. The caller (the store) serializes
// access; finalization notices arrive through onDead on a runtime goroutine
// and re-enter through the store lock.
type remoteTable struct {
	entries map[int64]*remoteEntry
	names   map[string]*Proxy
	onDead  func(tag cleanupTag)
}

func newRemoteTable(onDead func(tag cleanupTag)) remoteTable {
	return remoteTable{
		entries: make(map[int64]*remoteEntry),
		names:   make(map[string]*Proxy),
		onDead:  onDead,
	}
}

// proxy returns the live proxy for num, or nil.
func (t *remoteTable) proxy(num int64) *Proxy {
	e, ok := t.entries[num]
	if !ok {
		return nil
	}
	return e.proxy.Value()
}

// symbol returns the live symbol for num, or nil.
func (t *remoteTable) symbol(num int64) *Symbol {
	e, ok := t.entries[num]
	if !ok {
		return nil
	}
	return e.sym.Value()
}

// installProxy records p as the stand-in for num and arms its finalization
// notice.
func (t *remoteTable) installProxy(num int64, p *Proxy) {
	e := t.bump(num)
	e.proxy = weak.Make(p)
	e.sym = weak.Pointer[Symbol]{}
	runtime.AddCleanup(p, t.dead, cleanupTag{num, e.gen})
}

// installSymbol records s as the stand-in for num and arms its finalization
// notice.
func (t *remoteTable) installSymbol(num int64, s *Symbol) {
	e := t.bump(num)
	e.sym = weak.Make(s)
	e.proxy = weak.Pointer[Proxy]{}
	runtime.AddCleanup(s, t.dead, cleanupTag{num, e.gen})
}

func (t *remoteTable) bump(num int64) *remoteEntry {
	e, ok := t.entries[num]
	if !ok {
		e = new(remoteEntry)
		t.entries[num] = e
	}
	e.gen++
	return e
}

// cleanupTag identifies one armed finalization notice: the id and the
// generation of the stand-in it was armed for.
type cleanupTag struct {
	num int64
	gen uint64
}

// dead is the cleanup callback. It runs on a runtime goroutine; the store
// re-checks liveness under its own lock before queueing a release.
func (t *remoteTable) dead(tag cleanupTag) { t.onDead(tag) }

// live reports whether num currently has a reachable stand-in of the given
// generation. Used by the store to discard stale finalization notices.
func (t *remoteTable) live(tag cleanupTag) bool {
	e, ok := t.entries[tag.num]
	if !ok {
		return false
	}
	if e.gen != tag.gen {
		return true // repopulated since; a fresh notice is armed
	}
	return e.proxy.Value() != nil || e.sym.Value() != nil
}

// alive reports whether num has any reachable stand-in right now.
func (t *remoteTable) alive(num int64) bool {
	e, ok := t.entries[num]
	if !ok {
		return false
	}
	return e.proxy.Value() != nil || e.sym.Value() != nil
}

// drop removes the entry for num.
func (t *remoteTable) drop(num int64) { delete(t.entries, num) }

// name returns the cached named proxy, or nil.
func (t *remoteTable) name(name string) *Proxy { return t.names[name] }

// setName caches a named proxy with strong retention.
func (t *remoteTable) setName(name string, p *Proxy) { t.names[name] = p }

// clear drops everything. Used on close.
func (t *remoteTable) clear() {
	t.entries = make(map[int64]*remoteEntry)
	t.names = make(map[string]*Proxy)
}
