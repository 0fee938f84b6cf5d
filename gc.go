// Copyright (C) 2026 IIIMADDINIII. All Rights Reserved.

package remoteobjects

import (
	"context"
	"encoding/json"
	"time"

	"github.com/creachadair/mds/mapset"
)

// gcState is the holder-side garbage collection bookkeeping: ids whose
// stand-ins were finalized and await a sync round, ids freshly acknowledged
// within the latency window, and the coalescing state of the sync loop.
type gcState struct {
	pending mapset.Set[int64]
	recent  map[int64]time.Time
	running bool
	again   bool
	timer   *time.Timer
}

func newGCState() gcState {
	return gcState{
		pending: mapset.New[int64](),
		recent:  make(map[int64]time.Time),
	}
}

// noteIntroduced stamps a fresh acknowledgment of a remote id. A fresh use
// cancels any pending release for the id.
func (g *gcState) noteIntroduced(num int64) {
	g.pending.Remove(num)
	g.recent[num] = time.Now()
}

// queueRelease receives finalization notices from the remote table. It runs
// on a runtime cleanup goroutine and re-checks liveness under the store
// lock, since the stand-in may have been replaced before the notice landed.
func (s *Store) queueRelease(tag cleanupTag) {
	s.μ.Lock()
	defer s.μ.Unlock()
	if s.closed || s.opts.DoNotSyncGC {
		return
	}
	if s.remote.live(tag) {
		return
	}
	s.remote.drop(tag.num)
	s.gc.pending.Add(tag.num)
	s.metrics.proxiesLive.Add(-1)
	s.metrics.cleanupsPending.Add(1)
	s.scheduleSyncLocked()
}

// scheduleSyncLocked arms the configured sync triggers: an immediate round
// once the queued count crosses the threshold, and a timer from the first
// queued release otherwise.
func (s *Store) scheduleSyncLocked() {
	n := s.opts.ScheduleGCAfterObjectCount
	if n > 0 && s.gc.pending.Len() >= n && !s.gc.running {
		s.tasks.Go(func() error {
			s.SyncGC(context.Background())
			return nil
		})
		return
	}
	if d := s.opts.ScheduleGCAfterTime; d > 0 && s.gc.timer == nil {
		s.gc.timer = time.AfterFunc(d, func() {
			s.μ.Lock()
			s.gc.timer = nil
			s.μ.Unlock()
			s.SyncGC(context.Background())
		})
	}
}

// SyncGC runs one explicit garbage collection round: it reports the queued
// releases and the freshly acknowledged ids to the owner, and applies the
// owner's reply. At most one round is in flight; a call during a running
// round coalesces into the next one and reports no error. SyncGC fails when
// the coordinator is disabled or the store is closed.
func (s *Store) SyncGC(ctx context.Context) error {
	s.μ.Lock()
	if s.closed {
		s.μ.Unlock()
		return ErrStoreClosed
	}
	if s.opts.DoNotSyncGC {
		s.μ.Unlock()
		return errGCDisabled
	}
	if s.gc.running {
		s.gc.again = true
		s.μ.Unlock()
		return nil
	}
	s.gc.running = true

	if t := s.gc.timer; t != nil {
		t.Stop()
		s.gc.timer = nil
	}

	deleted := make([]int64, 0, s.gc.pending.Len())
	for num := range s.gc.pending {
		deleted = append(deleted, num)
	}
	s.gc.pending = mapset.New[int64]()

	cutoff := time.Now().Add(-s.opts.RequestLatency)
	newItems := make([]int64, 0, len(s.gc.recent))
	for num, at := range s.gc.recent {
		if at.Before(cutoff) {
			delete(s.gc.recent, num)
			continue
		}
		newItems = append(newItems, num)
	}
	s.μ.Unlock()

	err := s.syncRound(ctx, deleted, newItems)

	s.μ.Lock()
	s.gc.running = false
	again := s.gc.again
	s.gc.again = false
	if again && !s.closed {
		s.tasks.Go(func() error {
			s.SyncGC(context.Background())
			return nil
		})
	}
	s.μ.Unlock()
	return err
}

// syncRound performs the wire exchange of one round and applies the reply.
// If the round fails the snapshot is requeued: releases are only ever
// applied on a completed round-trip.
func (s *Store) syncRound(ctx context.Context, deleted, newItems []int64) error {
	req := syncGCRequest{
		DeletedItems: remoteIDs(deleted),
		NewItems:     remoteIDs(newItems),
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	s.metrics.gcRounds.Add(1)

	reply, err := s.request(ctx, payload)
	if err != nil {
		s.requeue(deleted)
		return err
	}
	var rsp syncGCResponse
	if err := json.Unmarshal(reply, &rsp); err != nil {
		s.requeue(deleted)
		return &ProtocolError{Message: "invalid syncGc reply", Err: err}
	}

	acked := mapset.New[int64]()
	for _, id := range rsp.DeletedItems {
		acked.Add(id.Num)
	}

	s.μ.Lock()
	defer s.μ.Unlock()
	for _, num := range deleted {
		if acked.Has(num) {
			s.metrics.cleanupsPending.Add(-1)
			s.metrics.idsReleased.Add(1)
			continue
		}
		// Not released this round: the owner protected it. Keep it queued
		// unless the id has been reacquired in the meantime.
		if !s.remote.alive(num) {
			s.gc.pending.Add(num)
		} else {
			s.metrics.cleanupsPending.Add(-1)
		}
	}
	for _, id := range rsp.UnknownNewItems {
		// The owner no longer knows the id; drop the binding so the next
		// use re-introduces it instead of trusting a dead reference.
		s.remote.drop(id.Num)
		delete(s.gc.recent, id.Num)
	}
	if s.gc.pending.Len() > 0 {
		s.scheduleSyncLocked()
	}
	return nil
}

// requeue puts an unconfirmed deletion snapshot back on the queue.
func (s *Store) requeue(deleted []int64) {
	s.μ.Lock()
	defer s.μ.Unlock()
	if s.closed {
		return
	}
	for _, num := range deleted {
		if !s.remote.alive(num) {
			s.gc.pending.Add(num)
		}
	}
}

// handleSyncGC is the owner side of a round: release what the holder
// reports dead, unless the id was re-sent within the protection window,
// and report which of the holder's new acknowledgments are unknown here.
func (s *Store) handleSyncGC(req syncGCRequest) syncGCResponse {
	s.μ.Lock()
	defer s.μ.Unlock()

	now := time.Now()
	var rsp syncGCResponse
	for _, id := range req.DeletedItems {
		if id.Side != SideLocal || id.IsName() {
			continue
		}
		if !s.local.contains(id.Num) {
			// Already gone; acknowledge so the holder stops asking.
			rsp.DeletedItems = append(rsp.DeletedItems, localID(id.Num))
			continue
		}
		if s.local.release(id.Num, now, s.opts.RequestLatency) {
			rsp.DeletedItems = append(rsp.DeletedItems, localID(id.Num))
			s.metrics.valuesHeld.Add(-1)
		}
	}
	for _, id := range req.NewItems {
		if id.Side != SideLocal || id.IsName() {
			continue
		}
		if !s.local.contains(id.Num) {
			rsp.UnknownNewItems = append(rsp.UnknownNewItems, localID(id.Num))
		}
	}
	return rsp
}

func remoteIDs(nums []int64) []ID {
	ids := make([]ID, len(nums))
	for i, n := range nums {
		ids[i] = remoteID(n)
	}
	return ids
}
