// Copyright (C) 2026 IIIMADDINIII. All Rights Reserved.

package transport

import "expvar"

// muxMetrics record mux activity counters.
type metrics struct {
	packetRecv    expvar.Int
	packetSent    expvar.Int
	packetDropped expvar.Int
	reqIn         expvar.Int // number of inbound requests received
	reqInErr      expvar.Int // number of inbound requests reporting an error
	reqOut        expvar.Int // number of outbound requests initiated
	reqOutErr     expvar.Int // number of outbound requests reporting an error
	reqActive     expvar.Int // inbound
	reqPending    expvar.Int // outbound

	emap *expvar.Map
}

var muxMetrics = newMetrics()

func newMetrics() *metrics {
	mm := &metrics{emap: new(expvar.Map)}
	mm.emap.Set("packets_received", &mm.packetRecv)
	mm.emap.Set("packets_sent", &mm.packetSent)
	mm.emap.Set("packets_dropped", &mm.packetDropped)
	mm.emap.Set("requests_in", &mm.reqIn)
	mm.emap.Set("requests_in_failed", &mm.reqInErr)
	mm.emap.Set("requests_active", &mm.reqActive)
	mm.emap.Set("requests_out", &mm.reqOut)
	mm.emap.Set("requests_out_failed", &mm.reqOutErr)
	mm.emap.Set("requests_pending", &mm.reqPending)
	return mm
}

// Metrics returns the metrics map shared by all muxes. It is safe for the
// caller to add additional metrics to the map.
func (m *Mux) Metrics() *expvar.Map { return muxMetrics.emap }
