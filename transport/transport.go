// Copyright (C) 2026 IIIMADDINIII. All Rights Reserved.

// Package transport multiplexes request/response pairs and one-way
// notifications over a shared packet channel, implementing the
// RequestHandler contract the object store consumes.
//
// The [Mux] correlates responses to requests by id, supports cancellation,
// and dispatches inbound requests and notifications to callbacks. The
// [Channel] interface abstracts the underlying stream; [Direct] provides
// in-memory pairs and [IO] frames packets over a reader and writer.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/creachadair/taskgroup"
)

// A Channel is a reliable ordered stream of packets shared by two muxes.
//
// The methods of an implementation must be safe for concurrent use by one
// sender and one receiver.
type Channel interface {
	// Send the packet in binary format to the receiver.
	Send(*Packet) error

	// Receive the next available packet from the channel.
	Recv() (*Packet, error)

	// Close the channel, causing any pending send or receive operations to
	// terminate and report an error. After a channel is closed, all further
	// operations on it must report an error.
	Close() error
}

// A PacketLogger logs a packet exchanged with the remote mux.
type PacketLogger func(pkt PacketInfo)

// A PacketInfo combines a packet and a flag indicating whether the packet
// was sent or received.
type PacketInfo struct {
	*Packet      // the packet being logged
	Sent    bool // whether the packet was sent (true) or received (false)
}

func (p PacketInfo) dir() string {
	if p.Sent {
		return "send"
	}
	return "recv"
}

func (p PacketInfo) String() string {
	return fmt.Sprintf("%v %v", p.dir(), p.Packet)
}

// A Mux multiplexes request/response pairs and one-way notifications over
// a packet channel. A zero-valued Mux is ready for use, but must not be
// copied after any method has been called.
//
// Call Start with a channel to start the service routine. Once started, a
// mux runs until Stop is called, the channel closes, or a protocol fatal
// error occurs. Use Wait to wait for the mux to exit and report its status.
//
// Use OnRequest, OnMessage, and OnDisconnect to register the inbound
// callbacks, and Request and Notify to reach the remote side. All methods
// are safe for concurrent use by multiple goroutines.
type Mux struct {
	in  interface{ Recv() (*Packet, error) }
	out struct {
		// Must hold the lock to send to or set ch.
		sync.Mutex
		ch Channel
	}
	tasks *taskgroup.Group

	μ sync.Mutex

	err    error              // protocol fatal error
	ocall  map[uint32]pending // outbound requests pending responses
	nexto  uint32             // next unused outbound request ID
	icall  map[uint32]func()  // inbound requestID → cancel func

	onReq  func(ctx context.Context, payload []byte) ([]byte, error)
	onMsg  func(payload []byte)
	onDown func(error)

	plog PacketLogger           // what it says on the tin
	base func() context.Context // return a new base context
}

// NewMux constructs a new unstarted mux.
func NewMux() *Mux { return new(Mux) }

// Start starts the mux running on the given channel. The mux runs until the
// channel closes or a protocol fatal error occurs. Start does not block;
// call Wait to wait for the mux to exit and report its status.
func (m *Mux) Start(ch Channel) *Mux {
	if m.in != nil {
		panic("mux is already started")
	}

	g := taskgroup.New(nil)
	m.in = ch
	m.tasks = g
	m.out.ch = ch
	m.err = nil
	m.ocall = make(map[uint32]pending)
	m.nexto = 0
	m.icall = make(map[uint32]func())
	if m.base == nil {
		m.base = context.Background
	}

	g.Go(func() error {
		for {
			pkt, err := m.in.Recv()
			if err != nil {
				m.fail(err)
				return nil
			}
			muxMetrics.packetRecv.Add(1)
			if err := m.dispatchPacket(pkt); err != nil {
				m.fail(err)
				return nil
			}
		}
	})

	return m
}

// Stop closes the channel and terminates the mux. It blocks until the mux
// has exited and returns its status. After Stop completes it is safe to
// restart the mux with a new channel.
func (m *Mux) Stop() error { m.closeOut(); return m.Wait() }

func treatErrorAsSuccess(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}

// waitTasks blocks until the service routines have finished, and reports
// whether the mux was running.
func (m *Mux) waitTasks() bool {
	m.μ.Lock()
	t := m.tasks
	m.μ.Unlock()
	if t == nil {
		return false
	}
	t.Wait()
	return true
}

// Wait blocks until m terminates and reports the error that caused it to
// stop. If m is not running, or has stopped because of a closed channel,
// Wait returns nil; otherwise it returns the error that triggered protocol
// failure.
func (m *Mux) Wait() error {
	if !m.waitTasks() {
		return nil // the mux is not running
	}

	// Clean up mux state so it can be garbage collected.
	m.μ.Lock()
	defer m.μ.Unlock()
	m.in = nil
	m.tasks = nil
	m.out.Lock()
	m.out.ch = nil
	m.out.Unlock()
	m.ocall = nil
	m.icall = nil

	if treatErrorAsSuccess(m.err) {
		return nil
	}
	return m.err
}

// OnRequest registers the callback invoked for each inbound request.
// Passing nil removes the callback; inbound requests then fail. Each
// inbound request runs in its own goroutine; an error or panic out of the
// callback travels back to the requester as a failed round-trip.
func (m *Mux) OnRequest(fn func(ctx context.Context, payload []byte) ([]byte, error)) {
	m.μ.Lock()
	defer m.μ.Unlock()
	m.onReq = fn
}

// OnMessage registers the callback invoked for each inbound notification.
// Notifications are dispatched synchronously with packet processing; there
// is at most one callback active at a time. Passing nil removes the
// callback; inbound notifications are then discarded.
func (m *Mux) OnMessage(fn func(payload []byte)) {
	m.μ.Lock()
	defer m.μ.Unlock()
	m.onMsg = fn
}

// OnDisconnect registers a callback invoked when the mux terminates, with
// the same error value that would be reported by Wait. Only one callback
// can be registered at a time; passing nil removes it.
func (m *Mux) OnDisconnect(fn func(error)) {
	m.μ.Lock()
	defer m.μ.Unlock()
	m.onDown = fn
}

// LogPackets registers a callback that will be invoked for each packet
// exchanged with the remote mux, regardless of type. Passing a nil callback
// disables packet logging. The packet logger is invoked synchronously with
// dispatch, prior to sending or servicing a packet.
func (m *Mux) LogPackets(log PacketLogger) *Mux {
	m.μ.Lock()
	defer m.μ.Unlock()
	m.plog = log
	return m
}

// NewContext registers a function that will be called to create a new base
// context for inbound request callbacks. If it is not set a background
// context is used.
func (m *Mux) NewContext(base func() context.Context) *Mux {
	m.μ.Lock()
	defer m.μ.Unlock()
	if base == nil {
		m.base = context.Background
	} else {
		m.base = base
	}
	return m
}

// Notify sends a one-way notification to the remote mux.
func (m *Mux) Notify(payload []byte) error {
	m.μ.Lock()
	err := m.err
	m.μ.Unlock()
	if err != nil {
		return err
	}
	return m.sendOut(&Packet{Type: PacketMessage, Payload: payload})
}

// Request sends payload to the remote mux and blocks until ctx ends or the
// response is received. If ctx ends before the remote replies, the request
// is automatically cancelled.
func (m *Mux) Request(ctx context.Context, payload []byte) (_ []byte, err error) {
	muxMetrics.reqOut.Add(1)
	defer func() {
		if err != nil {
			muxMetrics.reqOutErr.Add(1)
		}
	}()

	id, pc, err := m.sendReq(payload)
	if err != nil {
		return nil, err
	}
	muxMetrics.reqPending.Add(1)
	defer muxMetrics.reqPending.Add(-1)

	done := ctx.Done()
	for {
		select {
		case <-done:
			// The local context ended, push a cancellation to the remote,
			// then resume waiting for the response. Set done to nil so that
			// we will not recur on this case.
			m.sendCancel(id)
			done = nil

			// Set a watchdog timer to ensure the request eventually gives up
			// and reports an error, even if the remote never replies.
			ct := time.AfterFunc(50*time.Millisecond, func() {
				m.μ.Lock()
				defer m.μ.Unlock()

				// The request may have completed while we were waiting.
				// If not, however, we do not release the request ID,
				// otherwise a subsequent request may attempt to reuse it and
				// collide because the remote hasn't yet yielded it.
				if pc, ok := m.ocall[id]; ok {
					m.ocall[id] = nil // pin the ID
					pc.deliver(&Response{RequestID: id, Code: CodeCanceled})
				}
			})
			// If the request succeeds before the watchdog expires, cancel it.
			defer ct.Stop()
			continue

		case rsp, ok := <-pc:
			if ok {
				switch rsp.Code {
				case CodeSuccess:
					return rsp.Data, nil
				case CodeCanceled:
					return nil, context.Canceled
				default:
					return nil, fmt.Errorf("request %d failed: %s", id, rsp.Data)
				}
			}

			// Closed without a response means there was a protocol fatal error.
			m.tasks.Wait()
			return nil, fmt.Errorf("request terminated: %w", m.err)
		}
	}
}

// fail terminates all pending requests and updates the failure status.
func (m *Mux) fail(err error) {
	m.closeOut()

	m.μ.Lock()
	defer m.μ.Unlock()

	// Terminate all incomplete pending (outbound) requests.
	for _, pc := range m.ocall {
		pc.close()
	}
	m.ocall = nil

	// Terminate all incomplete active (inbound) requests.
	for _, stop := range m.icall {
		stop()
	}
	m.icall = nil

	m.err = err
	if m.onDown != nil {
		if treatErrorAsSuccess(err) {
			err = nil
		}
		m.onDown(err)
	}
}

func (m *Mux) sendRsp(rsp *Response) {
	m.μ.Lock()
	delete(m.icall, rsp.RequestID)
	err := m.err
	m.μ.Unlock()

	if err != nil {
		return
	}

	if err := m.sendOut(&Packet{
		Type:    PacketResponse,
		Payload: rsp.Encode(),
	}); err != nil {
		m.closeOut()
	}
}

// sendReq sends a request packet for the given payload. It blocks until the
// send completes, but does not wait for the reply. The response will be
// delivered on the returned pending channel.
func (m *Mux) sendReq(payload []byte) (uint32, pending, error) {
	// Phase 1: Check for fatal errors and acquire state.
	m.μ.Lock()
	if err := m.err; err != nil {
		m.μ.Unlock()
		return 0, nil, err
	}
	if m.ocall == nil {
		m.μ.Unlock()
		return 0, nil, errors.New("mux is not started")
	}
	m.nexto++
	id := m.nexto
	pc := make(pending, 1)
	m.ocall[id] = pc
	m.μ.Unlock()

	// Send the request to the remote mux. Note we MUST NOT hold the state
	// lock while doing this, as that would block the receiver from
	// dispatching packets.
	err := m.sendOut(&Packet{
		Type: PacketRequest,
		Payload: Request{
			RequestID: id,
			Data:      payload,
		}.Encode(),
	})

	// Phase 2: Check for an error in the send, and update state if it failed.
	m.μ.Lock()
	defer m.μ.Unlock()
	if err != nil {
		m.releaseIDLocked(id)
		return 0, nil, err
	}
	return id, pc, nil
}

// sendCancel sends a cancellation for id to the remote mux.
func (m *Mux) sendCancel(id uint32) {
	if err := m.sendOut(&Packet{
		Type:    PacketCancel,
		Payload: Cancel{RequestID: id}.Encode(),
	}); err != nil {
		m.closeOut() // protocol fatal
	}
}

// dispatchRequestLocked dispatches an inbound request to the registered
// callback in its own goroutine.
func (m *Mux) dispatchRequestLocked(req *Request) error {
	muxMetrics.reqIn.Add(1)

	// Report a duplicate request ID without failing the existing request.
	if _, ok := m.icall[req.RequestID]; ok {
		return m.sendOut(&Packet{
			Type: PacketResponse,
			Payload: Response{
				RequestID: req.RequestID,
				Code:      CodeTransportError,
				Data:      []byte("duplicate request id"),
			}.Encode(),
		})
	}

	handler := m.onReq
	if handler == nil {
		return m.sendOut(&Packet{
			Type: PacketResponse,
			Payload: Response{
				RequestID: req.RequestID,
				Code:      CodeTransportError,
				Data:      []byte("no request handler"),
			}.Encode(),
		})
	}

	ctx, cancel := context.WithCancel(m.base())
	m.icall[req.RequestID] = cancel
	muxMetrics.reqActive.Add(1)

	m.tasks.Go(func() error {
		defer cancel()
		defer muxMetrics.reqActive.Add(-1)

		data, err := func() (_ []byte, err error) {
			// Ensure a panic out of the callback turns into a graceful response.
			defer func() {
				if x := recover(); x != nil && err == nil {
					err = fmt.Errorf("request handler panicked (recovered): %v", x)
				}
			}()
			return handler(ctx, req.Data)
		}()

		rsp := &Response{RequestID: req.RequestID}
		if ctx.Err() != nil || err == context.Canceled || err == context.DeadlineExceeded {
			// N.B. Only do this for the unwrapped sentinel errors.
			rsp.Code = CodeCanceled
		} else if err == nil {
			rsp.Code = CodeSuccess
			rsp.Data = data
		} else {
			muxMetrics.reqInErr.Add(1)
			rsp.Code = CodeTransportError
			rsp.Data = []byte(err.Error())
		}
		m.sendRsp(rsp)
		return nil
	})
	return nil
}

// dispatchPacket routes an inbound packet from the remote mux.
// Any error it reports is protocol fatal.
func (m *Mux) dispatchPacket(pkt *Packet) error {
	if m.plog != nil {
		m.plog(PacketInfo{Packet: pkt, Sent: false})
	}
	switch pkt.Type {
	case PacketRequest:
		var req Request
		if err := req.Decode(pkt.Payload); err != nil {
			return fmt.Errorf("invalid request packet: %w", err)
		}
		m.μ.Lock()
		defer m.μ.Unlock()
		return m.dispatchRequestLocked(&req)

	case PacketCancel:
		var req Cancel
		if err := req.Decode(pkt.Payload); err != nil {
			return fmt.Errorf("invalid cancel packet: %w", err)
		}
		m.μ.Lock()
		defer m.μ.Unlock()

		// If there is a dispatch in flight for this request, signal it to
		// stop. The dispatch wrapper will figure out how to reply and clean up.
		if stop, ok := m.icall[req.RequestID]; ok {
			stop()
		}
		return nil

	case PacketResponse:
		var rsp Response
		if err := rsp.Decode(pkt.Payload); err != nil {
			return fmt.Errorf("invalid response packet: %w", err)
		}
		m.μ.Lock()
		defer m.μ.Unlock()

		pc, ok := m.ocall[rsp.RequestID]
		if !ok {
			// Silently discard a response for an unknown request ID.
			return nil
		}

		m.releaseIDLocked(rsp.RequestID)
		pc.deliver(&rsp) // does not block
		return nil

	case PacketMessage:
		m.μ.Lock()
		handler := m.onMsg
		m.μ.Unlock()
		if handler == nil {
			muxMetrics.packetDropped.Add(1)
			return nil
		}
		return func() (err error) {
			// Ensure a panic out of the callback is protocol fatal.
			defer func() {
				if x := recover(); x != nil && err == nil {
					err = fmt.Errorf("message handler panicked (recovered): %v", x)
				}
			}()
			handler(pkt.Payload)
			return nil
		}()

	default:
		muxMetrics.packetDropped.Add(1)
		return nil // ignore the packet
	}
}

// releaseIDLocked releases the state for the specified outbound request id.
func (m *Mux) releaseIDLocked(id uint32) {
	delete(m.ocall, id)
	if len(m.ocall) == 0 {
		m.nexto = 0
	}
}

func (m *Mux) sendOut(pkt *Packet) error {
	m.out.Lock()
	defer m.out.Unlock()
	muxMetrics.packetSent.Add(1)
	if m.plog != nil {
		m.plog(PacketInfo{Packet: pkt, Sent: true})
	}
	if m.out.ch == nil {
		return net.ErrClosed
	}
	return m.out.ch.Send(pkt)
}

func (m *Mux) closeOut() {
	m.out.Lock()
	defer m.out.Unlock()
	if m.out.ch != nil {
		m.out.ch.Close()
	}
}

type pending chan *Response

func (p pending) close() {
	if p != nil {
		close(p)
	}
}

func (p pending) deliver(r *Response) {
	if p != nil {
		p <- r
		close(p)
	}
}
