// Copyright (C) 2026 IIIMADDINIII. All Rights Reserved.

package remoteobjects

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/IIIMADDINIII/remote-objects/transport"
)

func TestGCReleaseGuard(t *testing.T) {
	s := newTestStore(t, nil)

	d, err := s.encodeValue(&evalThing{})
	if err != nil {
		t.Fatalf("encodeValue: %v", err)
	}
	num := d.(shapeDesc).ID.Num

	// A release arriving within the protection window is refused: the
	// introducing request may still be in flight.
	rsp := s.handleSyncGC(syncGCRequest{DeletedItems: []ID{localID(num)}})
	if len(rsp.DeletedItems) != 0 {
		t.Errorf("fresh id was released: %+v", rsp.DeletedItems)
	}
	s.μ.Lock()
	held := s.local.contains(num)
	s.μ.Unlock()
	if !held {
		t.Fatal("fresh id vanished from the local table")
	}

	// Once the last send ages past the window, the release goes through.
	s.μ.Lock()
	s.local.vals[num].lastSent = time.Now().Add(-time.Hour)
	s.μ.Unlock()
	rsp = s.handleSyncGC(syncGCRequest{DeletedItems: []ID{localID(num)}})
	if len(rsp.DeletedItems) != 1 || rsp.DeletedItems[0].Num != num {
		t.Errorf("aged id was not released: %+v", rsp.DeletedItems)
	}
	s.μ.Lock()
	held = s.local.contains(num)
	s.μ.Unlock()
	if held {
		t.Error("released id is still in the local table")
	}

	// A release for an id the owner no longer knows is acknowledged, so
	// the holder stops asking.
	rsp = s.handleSyncGC(syncGCRequest{DeletedItems: []ID{localID(num)}})
	if len(rsp.DeletedItems) != 1 {
		t.Errorf("unknown deletion was not acknowledged: %+v", rsp)
	}

	// An unknown new item is reported back for re-introduction.
	rsp = s.handleSyncGC(syncGCRequest{NewItems: []ID{localID(num)}})
	if len(rsp.UnknownNewItems) != 1 || rsp.UnknownNewItems[0].Num != num {
		t.Errorf("unknown new item was not reported: %+v", rsp)
	}

	// Names are never released.
	if err := s.Expose("keep", map[string]any{}); err != nil {
		t.Fatalf("Expose: %v", err)
	}
	rsp = s.handleSyncGC(syncGCRequest{
		DeletedItems: []ID{{Side: SideLocal, Name: "keep"}},
	})
	if len(rsp.DeletedItems) != 0 {
		t.Errorf("named id was released: %+v", rsp.DeletedItems)
	}
}

func TestGCFreshUseCancelsRelease(t *testing.T) {
	g := newGCState()
	g.pending.Add(7)
	g.noteIntroduced(7)
	if g.pending.Has(7) {
		t.Error("pending release survived a fresh introduction")
	}
	if _, ok := g.recent[7]; !ok {
		t.Error("fresh introduction was not stamped")
	}
}

func TestSyncGCDisabled(t *testing.T) {
	s := newTestStore(t, &Options{DoNotSyncGC: true})
	if err := s.SyncGC(context.Background()); err == nil {
		t.Error("SyncGC with coordinator disabled: want error")
	}
}

// ownerLiveCount reports the number of numeric ids the store retains for
// the remote peer.
func ownerLiveCount(s *Store) int {
	s.μ.Lock()
	defer s.μ.Unlock()
	return len(s.local.vals)
}

func TestGCEndToEnd(t *testing.T) {
	loc := transport.NewLocal()
	owner := New(loc.A, &Options{
		RequestLatency:      10 * time.Millisecond,
		ScheduleGCAfterTime: time.Hour,
	})
	holder := New(loc.B, &Options{
		ScheduleGCAfterObjectCount: 3,
		ScheduleGCAfterTime:        time.Hour,
		RequestLatency:             10 * time.Millisecond,
	})
	defer func() {
		owner.Close()
		holder.Close()
		loc.Stop()
	}()
	ctx := context.Background()

	if err := owner.Expose("api", map[string]any{
		"a": &evalThing{A: 1},
		"b": &evalThing{A: 2},
		"c": &evalThing{A: 3},
	}); err != nil {
		t.Fatalf("Expose: %v", err)
	}

	for _, key := range []string{"a", "b", "c"} {
		root, err := holder.Get("api")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		v, err := root.Get(key).Await(ctx)
		if err != nil {
			t.Fatalf("Await %q: %v", key, err)
		}
		if _, ok := v.(*Proxy); !ok {
			t.Fatalf("Await %q: got %T, want proxy", key, v)
		}
	}

	before := ownerLiveCount(owner)
	if before < 3 {
		t.Fatalf("owner retains %d ids, want at least 3", before)
	}

	// Age the introductions past both protection windows, then force the
	// holder-side proxies to be finalized. The third queued release crosses
	// the threshold and triggers a sync round on its own.
	time.Sleep(50 * time.Millisecond)

	deadline := time.Now().Add(10 * time.Second)
	for {
		runtime.GC()
		if ownerLiveCount(owner) <= before-3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("owner still retains %d ids (had %d); releases never landed",
				ownerLiveCount(owner), before)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestGCExplicitRound(t *testing.T) {
	loc := transport.NewLocal()
	owner := New(loc.A, &Options{
		RequestLatency:      10 * time.Millisecond,
		ScheduleGCAfterTime: time.Hour,
	})
	holder := New(loc.B, &Options{
		ScheduleGCAfterObjectCount: 1000, // never trigger on count
		ScheduleGCAfterTime:        time.Hour,
		RequestLatency:             10 * time.Millisecond,
	})
	defer func() {
		owner.Close()
		holder.Close()
		loc.Stop()
	}()
	ctx := context.Background()

	if err := owner.Expose("api", map[string]any{"x": &evalThing{}}); err != nil {
		t.Fatalf("Expose: %v", err)
	}
	root, err := holder.Get("api")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, err := root.Get("x").Await(ctx); err != nil {
		t.Fatalf("Await: %v", err)
	}

	before := ownerLiveCount(owner)
	time.Sleep(50 * time.Millisecond)

	// Wait for the finalizer notice to be queued, then run a round by hand.
	deadline := time.Now().Add(10 * time.Second)
	for {
		runtime.GC()
		holder.μ.Lock()
		queued := holder.gc.pending.Len()
		holder.μ.Unlock()
		if queued > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("proxy finalization never queued a release")
		}
		time.Sleep(20 * time.Millisecond)
	}

	if err := holder.SyncGC(ctx); err != nil {
		t.Fatalf("SyncGC: %v", err)
	}
	if got := ownerLiveCount(owner); got >= before {
		t.Errorf("owner retains %d ids after sync, want fewer than %d", got, before)
	}
}
