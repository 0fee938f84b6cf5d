// Copyright (C) 2026 IIIMADDINIII. All Rights Reserved.

package remoteobjects

import "expvar"

// storeMetrics record object store activity counters.
type storeMetrics struct {
	requestsOut     expvar.Int // outbound path requests sent
	requestsOutErr  expvar.Int // outbound path requests that failed
	requestsIn      expvar.Int // inbound path requests received
	requestsInErr   expvar.Int // inbound path requests answered with an error
	valuesHeld      expvar.Int // gauge: values retained for the remote peer
	proxiesLive     expvar.Int // gauge: live stand-ins for remote values
	cleanupsPending expvar.Int // gauge: finalized ids awaiting a sync round
	gcRounds        expvar.Int // sync rounds initiated
	idsReleased     expvar.Int // ids confirmed released by the owner

	emap *expvar.Map
}

var rootMetrics = newStoreMetrics()

func newStoreMetrics() *storeMetrics {
	sm := &storeMetrics{emap: new(expvar.Map)}
	sm.emap.Set("requests_out", &sm.requestsOut)
	sm.emap.Set("requests_out_failed", &sm.requestsOutErr)
	sm.emap.Set("requests_in", &sm.requestsIn)
	sm.emap.Set("requests_in_failed", &sm.requestsInErr)
	sm.emap.Set("values_held", &sm.valuesHeld)
	sm.emap.Set("proxies_live", &sm.proxiesLive)
	sm.emap.Set("cleanups_pending", &sm.cleanupsPending)
	sm.emap.Set("gc_rounds", &sm.gcRounds)
	sm.emap.Set("ids_released", &sm.idsReleased)
	return sm
}
