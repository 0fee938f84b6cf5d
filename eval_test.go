// Copyright (C) 2026 IIIMADDINIII. All Rights Reserved.

package remoteobjects

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// nopHandler is a transport stub for tests that never touch the wire.
type nopHandler struct{}

func (nopHandler) Request(context.Context, []byte) ([]byte, error) {
	return nil, errors.New("no transport")
}
func (nopHandler) Notify([]byte) error { return nil }

func newTestStore(t *testing.T, opts *Options) *Store {
	t.Helper()
	s := New(nopHandler{}, opts)
	t.Cleanup(func() { s.Close() })
	return s
}

type evalThing struct {
	A     int64
	Label string
	next  string // unexported, invisible to the protocol
}

func (e *evalThing) Double() int64         { return e.A * 2 }
func (e *evalThing) Rename(label string)   { e.Label = label }
func (e *evalThing) Fail() (int64, error)  { return 0, errors.New("nope") }
func (e *evalThing) Pair() (int64, string) { return e.A, e.Label }

func TestGetProp(t *testing.T) {
	s := newTestStore(t, nil)
	sym := NewSymbol("k")

	tests := []struct {
		name string
		v    any
		key  any
		want any
	}{
		{"map hit", map[string]any{"x": int64(3)}, "x", int64(3)},
		{"map miss", map[string]any{"x": int64(3)}, "y", Undefined},
		{"map symbol key", map[any]any{sym: "s"}, sym, "s"},
		{"map length", map[string]any{"x": 1, "y": 2}, "length", int64(2)},
		{"struct field", &evalThing{A: 7}, "A", int64(7)},
		{"struct miss", &evalThing{}, "Nope", Undefined},
		{"struct unexported", &evalThing{next: "x"}, "next", Undefined},
		{"slice index", []any{"a", "b"}, int64(1), "b"},
		{"slice string index", []any{"a", "b"}, "1", "b"},
		{"slice out of range", []any{"a"}, int64(4), Undefined},
		{"slice length", []any{"a", "b", "c"}, "length", int64(3)},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := s.getProp(test.v, test.key)
			if err != nil {
				t.Fatalf("getProp: unexpected error: %v", err)
			}
			if diff := cmp.Diff(test.want, got); diff != "" {
				t.Errorf("getProp (-want, +got):\n%s", diff)
			}
		})
	}

	t.Run("method", func(t *testing.T) {
		got, err := s.getProp(&evalThing{A: 4}, "Double")
		if err != nil {
			t.Fatalf("getProp: %v", err)
		}
		fn, ok := got.(func() int64)
		if !ok {
			t.Fatalf("getProp: got %T, want bound method", got)
		}
		if n := fn(); n != 8 {
			t.Errorf("Double: got %d, want 8", n)
		}
	})

	t.Run("null root", func(t *testing.T) {
		if _, err := s.getProp(nil, "x"); err == nil {
			t.Error("getProp(nil): want error")
		}
	})
	t.Run("undefined root", func(t *testing.T) {
		if _, err := s.getProp(Undefined, "x"); err == nil {
			t.Error("getProp(undefined): want error")
		}
	})
	t.Run("symbol root", func(t *testing.T) {
		if _, err := s.getProp(sym, "x"); err == nil {
			t.Error("getProp(symbol): want error")
		}
	})
}

func TestSetProp(t *testing.T) {
	s := newTestStore(t, nil)

	t.Run("map", func(t *testing.T) {
		m := map[string]any{}
		if err := s.setProp(m, "n", int64(11)); err != nil {
			t.Fatalf("setProp: %v", err)
		}
		if m["n"] != int64(11) {
			t.Errorf("m[n] = %v, want 11", m["n"])
		}
	})

	t.Run("struct pointer", func(t *testing.T) {
		e := &evalThing{}
		if err := s.setProp(e, "A", int64(5)); err != nil {
			t.Fatalf("setProp: %v", err)
		}
		if e.A != 5 {
			t.Errorf("e.A = %d, want 5", e.A)
		}
	})

	t.Run("struct numeric conversion", func(t *testing.T) {
		e := &evalThing{}
		if err := s.setProp(e, "A", 5); err != nil {
			t.Fatalf("setProp: %v", err)
		}
		if e.A != 5 {
			t.Errorf("e.A = %d, want 5", e.A)
		}
	})

	t.Run("slice", func(t *testing.T) {
		v := []any{"a", "b"}
		if err := s.setProp(v, int64(0), "z"); err != nil {
			t.Fatalf("setProp: %v", err)
		}
		if v[0] != "z" {
			t.Errorf("v[0] = %v, want z", v[0])
		}
	})

	t.Run("unassignable", func(t *testing.T) {
		if err := s.setProp(evalThing{}, "A", int64(1)); err == nil {
			t.Error("setProp on value struct: want error")
		}
		if err := s.setProp("string", "x", 1); err == nil {
			t.Error("setProp on string: want error")
		}
	})
}

func TestCallValue(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	t.Run("plain", func(t *testing.T) {
		got, err := s.callValue(ctx, func(x int64) int64 { return x * 2 }, []any{int64(21)})
		if err != nil {
			t.Fatalf("callValue: %v", err)
		}
		if got != int64(42) {
			t.Errorf("got %v, want 42", got)
		}
	})

	t.Run("context injection", func(t *testing.T) {
		got, err := s.callValue(ctx, func(c context.Context, x string) string {
			if c == nil {
				t.Error("callValue: nil context")
			}
			return x + "!"
		}, []any{"hey"})
		if err != nil {
			t.Fatalf("callValue: %v", err)
		}
		if got != "hey!" {
			t.Errorf("got %v, want hey!", got)
		}
	})

	t.Run("variadic", func(t *testing.T) {
		got, err := s.callValue(ctx, func(vs ...int64) int64 {
			var sum int64
			for _, v := range vs {
				sum += v
			}
			return sum
		}, []any{int64(1), int64(2), int64(3)})
		if err != nil {
			t.Fatalf("callValue: %v", err)
		}
		if got != int64(6) {
			t.Errorf("got %v, want 6", got)
		}
	})

	t.Run("missing args become zero", func(t *testing.T) {
		got, err := s.callValue(ctx, func(a, b int64) int64 { return a + b }, []any{int64(4)})
		if err != nil {
			t.Fatalf("callValue: %v", err)
		}
		if got != int64(4) {
			t.Errorf("got %v, want 4", got)
		}
	})

	t.Run("error return", func(t *testing.T) {
		_, err := s.callValue(ctx, func() error { return errors.New("boom") }, nil)
		if err == nil || err.Error() != "boom" {
			t.Errorf("got %v, want boom", err)
		}
	})

	t.Run("no results", func(t *testing.T) {
		got, err := s.callValue(ctx, func() {}, nil)
		if err != nil {
			t.Fatalf("callValue: %v", err)
		}
		if got != any(Undefined) {
			t.Errorf("got %v, want undefined", got)
		}
	})

	t.Run("several results", func(t *testing.T) {
		got, err := s.callValue(ctx, func() (int64, string) { return 1, "x" }, nil)
		if err != nil {
			t.Fatalf("callValue: %v", err)
		}
		if diff := cmp.Diff([]any{int64(1), "x"}, got); diff != "" {
			t.Errorf("results (-want, +got):\n%s", diff)
		}
	})

	t.Run("not callable", func(t *testing.T) {
		if _, err := s.callValue(ctx, 42, nil); err == nil {
			t.Error("callValue(42): want error")
		}
	})
}

// futureValue resolves to a fixed value, exercising promise threading.
type futureValue struct{ v any }

func (f futureValue) Await(context.Context) (any, error) { return f.v, nil }

func getSeg(key string) Segment { return Segment{Op: "get", Key: primDesc{key}} }

func TestEvaluate(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	root := map[string]any{
		"thing":  &evalThing{A: 10, Label: "ten"},
		"future": futureValue{v: map[string]any{"inner": int64(99)}},
	}

	t.Run("chain", func(t *testing.T) {
		got, err := s.evaluate(ctx, root, []Segment{getSeg("thing"), getSeg("A")})
		if err != nil {
			t.Fatalf("evaluate: %v", err)
		}
		if got != int64(10) {
			t.Errorf("got %v, want 10", got)
		}
	})

	t.Run("method call", func(t *testing.T) {
		got, err := s.evaluate(ctx, root, []Segment{
			getSeg("thing"), getSeg("Double"), {Op: "call"},
		})
		if err != nil {
			t.Fatalf("evaluate: %v", err)
		}
		if got != int64(20) {
			t.Errorf("got %v, want 20", got)
		}
	})

	t.Run("future threading", func(t *testing.T) {
		got, err := s.evaluate(ctx, root, []Segment{getSeg("future"), getSeg("inner")})
		if err != nil {
			t.Fatalf("evaluate: %v", err)
		}
		if got != int64(99) {
			t.Errorf("got %v, want 99", got)
		}
	})

	t.Run("terminal set", func(t *testing.T) {
		got, err := s.evaluate(ctx, root, []Segment{
			getSeg("thing"),
			{Op: "set", Key: primDesc{"Label"}, Value: primDesc{"eleven"}},
		})
		if err != nil {
			t.Fatalf("evaluate: %v", err)
		}
		if got != any(Undefined) {
			t.Errorf("set result: got %v, want undefined", got)
		}
		if want := "eleven"; root["thing"].(*evalThing).Label != want {
			t.Errorf("Label = %q, want %q", root["thing"].(*evalThing).Label, want)
		}
	})

	t.Run("nonterminal set", func(t *testing.T) {
		_, err := s.evaluate(ctx, root, []Segment{
			{Op: "set", Key: primDesc{"x"}, Value: primDesc{int64(1)}},
			getSeg("x"),
		})
		var perr *ProtocolError
		if !errors.As(err, &perr) {
			t.Errorf("got %v, want protocol error", err)
		}
	})

	t.Run("thrown error", func(t *testing.T) {
		_, err := s.evaluate(ctx, root, []Segment{
			getSeg("thing"), getSeg("Fail"), {Op: "call"},
		})
		if err == nil || err.Error() != "nope" {
			t.Errorf("got %v, want nope", err)
		}
	})

	t.Run("panic recovered", func(t *testing.T) {
		_, err := s.evaluate(ctx, map[string]any{
			"bad": func() { panic("ouch") },
		}, []Segment{getSeg("bad"), {Op: "call"}})
		var pe *panicError
		if !errors.As(err, &pe) {
			t.Fatalf("got %v, want panicError", err)
		}
		if !strings.Contains(pe.Error(), "ouch") {
			t.Errorf("message %q does not mention the panic", pe.Error())
		}
		if len(pe.stack) == 0 {
			t.Error("panicError carries no stack")
		}
	})
}

func TestTypeObject(t *testing.T) {
	s := newTestStore(t, nil)

	to := s.typeObjectFor(reflect.TypeOf(&evalThing{}))
	if got := s.typeObjectFor(reflect.TypeOf(evalThing{})); got != to {
		t.Errorf("typeObjectFor: pointer and value types diverge: %p vs %p", got, to)
	}

	name, err := to.prop("name")
	if err != nil || name != "evalThing" {
		t.Errorf("prop(name): got %v, %v; want evalThing", name, err)
	}
	m, err := to.prop("Double")
	if err != nil {
		t.Fatalf("prop(Double): %v", err)
	}
	fn, ok := m.(func(*evalThing) int64)
	if !ok {
		t.Fatalf("prop(Double): got %T, want unbound method", m)
	}
	if n := fn(&evalThing{A: 3}); n != 6 {
		t.Errorf("Double: got %d, want 6", n)
	}
	if v, err := to.prop("Missing"); err != nil || v != any(Undefined) {
		t.Errorf("prop(Missing): got %v, %v; want undefined", v, err)
	}
}
