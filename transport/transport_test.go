// Copyright (C) 2026 IIIMADDINIII. All Rights Reserved.

package transport_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/IIIMADDINIII/remote-objects/transport"
	"github.com/creachadair/mds/mtest"
	"github.com/fortytw2/leaktest"
)

func TestRoundTrip(t *testing.T) {
	defer leaktest.Check(t)()

	loc := transport.NewLocal()
	defer loc.Stop()

	loc.A.OnRequest(func(ctx context.Context, payload []byte) ([]byte, error) {
		return append([]byte("echo:"), payload...), nil
	})

	ctx := context.Background()
	rsp, err := loc.B.Request(ctx, []byte("hello"))
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if got := string(rsp); got != "echo:hello" {
		t.Errorf("Request: got %q, want echo:hello", got)
	}

	// Requests flow in both directions.
	loc.B.OnRequest(func(ctx context.Context, payload []byte) ([]byte, error) {
		return []byte("pong"), nil
	})
	rsp, err = loc.A.Request(ctx, []byte("ping"))
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if got := string(rsp); got != "pong" {
		t.Errorf("Request: got %q, want pong", got)
	}
}

func TestRequestError(t *testing.T) {
	defer leaktest.Check(t)()

	loc := transport.NewLocal()
	defer loc.Stop()

	loc.A.OnRequest(func(ctx context.Context, payload []byte) ([]byte, error) {
		return nil, errors.New("no such thing")
	})

	_, err := loc.B.Request(context.Background(), nil)
	if err == nil || !strings.Contains(err.Error(), "no such thing") {
		t.Errorf("Request: got %v, want the handler's message", err)
	}
}

func TestNoHandler(t *testing.T) {
	defer leaktest.Check(t)()

	loc := transport.NewLocal()
	defer loc.Stop()

	_, err := loc.B.Request(context.Background(), []byte("x"))
	if err == nil || !strings.Contains(err.Error(), "no request handler") {
		t.Errorf("Request: got %v, want no-handler failure", err)
	}
}

func TestHandlerPanic(t *testing.T) {
	defer leaktest.Check(t)()

	loc := transport.NewLocal()
	defer loc.Stop()

	loc.A.OnRequest(func(ctx context.Context, payload []byte) ([]byte, error) {
		panic("kaboom")
	})

	_, err := loc.B.Request(context.Background(), nil)
	if err == nil || !strings.Contains(err.Error(), "kaboom") {
		t.Errorf("Request: got %v, want recovered panic", err)
	}
}

func TestNotify(t *testing.T) {
	defer leaktest.Check(t)()

	loc := transport.NewLocal()
	defer loc.Stop()

	got := make(chan string, 1)
	loc.A.OnMessage(func(payload []byte) { got <- string(payload) })

	if err := loc.B.Notify([]byte("one-way")); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	select {
	case msg := <-got:
		if msg != "one-way" {
			t.Errorf("Notify: got %q, want one-way", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Notify: message never arrived")
	}
}

func TestCancellation(t *testing.T) {
	defer leaktest.Check(t)()

	loc := transport.NewLocal()
	defer loc.Stop()

	started := make(chan struct{})
	loc.A.OnRequest(func(ctx context.Context, payload []byte) ([]byte, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := loc.B.Request(ctx, nil)
		errc <- err
	}()

	<-started
	cancel()

	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Request: got %v, want %v", err, context.Canceled)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Request never returned after cancellation")
	}
}

func TestDisconnect(t *testing.T) {
	defer leaktest.Check(t)()

	loc := transport.NewLocal()

	var once sync.Once
	down := make(chan struct{})
	loc.B.OnDisconnect(func(err error) {
		if err != nil {
			t.Errorf("OnDisconnect: unexpected error: %v", err)
		}
		once.Do(func() { close(down) })
	})

	loc.A.Stop()
	select {
	case <-down:
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect callback never fired")
	}
	loc.B.Stop()
}

func TestStartTwice(t *testing.T) {
	loc := transport.NewLocal()
	defer loc.Stop()

	a2b, _ := transport.Direct()
	got := mtest.MustPanic(t, func() { loc.A.Start(a2b) }).(string)
	if !strings.Contains(got, "already started") {
		t.Errorf("Start: got %q, want already-started panic", got)
	}
}

func TestConcurrentRequests(t *testing.T) {
	defer leaktest.Check(t)()

	loc := transport.NewLocal()
	defer loc.Stop()

	loc.A.OnRequest(func(ctx context.Context, payload []byte) ([]byte, error) {
		time.Sleep(time.Millisecond)
		return payload, nil
	})

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(tag byte) {
			defer wg.Done()
			rsp, err := loc.B.Request(ctx, []byte{tag})
			if err != nil {
				t.Errorf("Request %d: %v", tag, err)
				return
			}
			if len(rsp) != 1 || rsp[0] != tag {
				t.Errorf("Request %d: got %v", tag, rsp)
			}
		}(byte(i))
	}
	wg.Wait()
}
