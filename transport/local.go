// Copyright (C) 2026 IIIMADDINIII. All Rights Reserved.

package transport

import (
	"context"
	"errors"
	"net"

	"github.com/creachadair/taskgroup"
)

// Local is a pair of in-memory connected muxes, suitable for testing.
type Local struct {
	A *Mux
	B *Mux
}

// Stop shuts down both muxes and blocks until both have exited.
func (p *Local) Stop() error {
	aerr := p.A.Stop()
	berr := p.B.Stop()
	if aerr != nil {
		return aerr
	}
	return berr
}

// NewLocal creates a pair of in-memory connected muxes that communicate via
// a direct channel without encoding.
func NewLocal() *Local {
	a2b, b2a := Direct()
	return &Local{
		A: NewMux().Start(a2b),
		B: NewMux().Start(b2a),
	}
}

// An Accepter produces channels for inbound connections.
type Accepter interface {
	Accept(context.Context) (Channel, error)
}

// Loop accepts connections from acc and starts a mux for each one in a
// goroutine, configured by newMux. Loop continues until acc closes or ctx
// ends.
//
// When ctx terminates, all running muxes are stopped. When acc closes, the
// loop waits for running muxes to exit before returning.
func Loop(ctx context.Context, acc Accepter, newMux func() *Mux) error {
	g := taskgroup.New(nil)
	for {
		ch, err := acc.Accept(ctx)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				err = nil
			}
			g.Wait()
			return err
		}

		g.Go(func() error {
			sctx, cancel := context.WithCancel(ctx)
			defer cancel()

			mux := newMux().Start(ch)
			go func() { <-sctx.Done(); mux.Stop() }()
			return mux.Wait()
		})
	}
}

// NetAccepter adapts a net.Listener to the Accepter interface.
func NetAccepter(lst net.Listener) Accepter {
	return netAccepter{Listener: lst}
}

type netAccepter struct {
	net.Listener
}

func (n netAccepter) Accept(ctx context.Context) (Channel, error) {
	// A net.Listener does not obey a context, so simulate it by closing the
	// listener if ctx ends. The ok channel allows the context watcher to
	// clean up when we return before ctx ends.
	ok := make(chan struct{})
	defer close(ok)
	taskgroup.Go(func() error {
		select {
		case <-ctx.Done():
			n.Listener.Close()
		case <-ok:
			// release the waiter
		}
		return nil
	})

	conn, err := n.Listener.Accept()
	if err != nil {
		return nil, err
	}
	return IO(conn, conn), nil
}
