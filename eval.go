// Copyright (C) 2026 IIIMADDINIII. All Rights Reserved.

package remoteobjects

import (
	"context"
	"fmt"
	"reflect"
	"runtime/debug"
	"strconv"
)

var (
	ctxType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errType = reflect.TypeOf((*error)(nil)).Elem()
	anyType = reflect.TypeOf((*any)(nil)).Elem()
)

// A typeObject stands for a Go type in the object graph. It plays the role
// of a prototype: an object's prototype is the type object of its dynamic
// type, a type object's own keys are "name" and the method names of the
// type, and its prototype is the type object of the first embedded struct
// field. Type
// objects are registered in the local table like any other value, so the
// remote peer sees a stable id per type.
type typeObject struct {
	t reflect.Type // base (pointer-free) type
}

func (to *typeObject) String() string { return "type " + to.t.String() }

// prop resolves property reads against the type object: method values
// (taking the receiver as their first argument) and the type name.
func (to *typeObject) prop(key any) (any, error) {
	name, ok := key.(string)
	if !ok {
		return Undefined, nil
	}
	if name == "name" {
		return to.t.Name(), nil
	}
	if m, ok := methodTarget(to.t).MethodByName(name); ok {
		return m.Func.Interface(), nil
	}
	return Undefined, nil
}

// methodTarget returns the type whose method set covers both value and
// pointer receivers of t.
func methodTarget(t reflect.Type) reflect.Type {
	if t.Kind() == reflect.Interface || t.Kind() == reflect.Pointer {
		return t
	}
	return reflect.PointerTo(t)
}

// baseType strips pointers.
func baseType(rt reflect.Type) reflect.Type {
	for rt.Kind() == reflect.Pointer {
		rt = rt.Elem()
	}
	return rt
}

// typeObjectFor returns the registered type object for rt, normalizing away
// pointers so that a *T instance and a constructor returning *T meet at the
// same prototype. The caller holds the store lock.
func (s *Store) typeObjectFor(rt reflect.Type) *typeObject {
	base := baseType(rt)
	if to, ok := s.types[base]; ok {
		return to
	}
	to := &typeObject{t: base}
	s.types[base] = to
	return to
}

// hasPrototype reports whether values of rt get a type-object prototype:
// structs always, other types only when they carry methods.
func hasPrototype(rt reflect.Type) bool {
	base := baseType(rt)
	return base.Kind() == reflect.Struct || methodTarget(base).NumMethod() > 0
}

// embeddedProto returns the base type of the first exported embedded struct
// field of base, which acts as the parent prototype.
func embeddedProto(base reflect.Type) (reflect.Type, bool) {
	if base.Kind() != reflect.Struct {
		return nil, false
	}
	for i := 0; i < base.NumField(); i++ {
		f := base.Field(i)
		if f.Anonymous && f.IsExported() && baseType(f.Type).Kind() == reflect.Struct {
			return baseType(f.Type), true
		}
	}
	return nil, false
}

// instanceType returns the instance type a constructor function produces:
// its first non-error result, when that is a struct. This is what a
// function ships as its functionPrototype.
func instanceType(fn reflect.Type) (reflect.Type, bool) {
	for i := 0; i < fn.NumOut(); i++ {
		out := fn.Out(i)
		if out == errType {
			continue
		}
		if baseType(out).Kind() == reflect.Struct {
			return baseType(out), true
		}
		return nil, false
	}
	return nil, false
}

// A panicError carries a panic recovered during path evaluation, with the
// stack captured at the recovery point.
type panicError struct {
	val   any
	stack []byte
}

func (p *panicError) Error() string {
	return fmt.Sprintf("path evaluation panicked: %v", p.val)
}

// evaluate applies a received path against a root value and produces the
// final value. Intermediate futures are awaited before walking on; proxies
// are extended rather than evaluated, so a path that crosses back over the
// wire stays a single description. Panics out of reflection or user code
// are recovered into ordinary errors.
func (s *Store) evaluate(ctx context.Context, root any, path []Segment) (result any, err error) {
	defer func() {
		if x := recover(); x != nil {
			err = &panicError{val: x, stack: debug.Stack()}
		}
	}()

	cur := root
	for i, seg := range path {
		if seg.Op == "set" && i != len(path)-1 {
			return nil, protocolErrorf("set segment is not terminal")
		}

		if pp, ok := cur.(*Proxy); ok {
			cur, err = s.stepProxy(ctx, pp, seg)
			if err != nil {
				return nil, err
			}
			continue
		}

		cur, err = awaitValue(ctx, cur)
		if err != nil {
			return nil, err
		}

		switch seg.Op {
		case "get":
			key, kerr := s.decodeKey(ctx, seg.Key)
			if kerr != nil {
				return nil, kerr
			}
			cur, err = s.getProp(cur, key)

		case "set":
			key, kerr := s.decodeKey(ctx, seg.Key)
			if kerr != nil {
				return nil, kerr
			}
			val, verr := s.decodeValue(ctx, seg.Value)
			if verr != nil {
				return nil, verr
			}
			if err := s.setProp(cur, key, val); err != nil {
				return nil, err
			}
			return Undefined, nil

		case "call", "new":
			args, aerr := s.decodeArgs(ctx, seg.Args)
			if aerr != nil {
				return nil, aerr
			}
			cur, err = s.callValue(ctx, cur, args)

		default:
			return nil, protocolErrorf("unknown segment op %q", seg.Op)
		}
		if err != nil {
			return nil, err
		}
	}

	if _, ok := cur.(*Proxy); !ok {
		return awaitValue(ctx, cur)
	}
	return cur, nil
}

// stepProxy applies one segment to a proxy by extending its path. A
// terminal set round-trips immediately; everything else stays deferred.
func (s *Store) stepProxy(ctx context.Context, p *Proxy, seg Segment) (any, error) {
	switch seg.Op {
	case "get":
		key, err := s.decodeKey(ctx, seg.Key)
		if err != nil {
			return nil, err
		}
		return p.Get(key), nil
	case "set":
		key, err := s.decodeKey(ctx, seg.Key)
		if err != nil {
			return nil, err
		}
		val, err := s.decodeValue(ctx, seg.Value)
		if err != nil {
			return nil, err
		}
		if err := p.Get(key).Set(ctx, val); err != nil {
			return nil, err
		}
		return Undefined, nil
	case "call", "new":
		args, err := s.decodeArgs(ctx, seg.Args)
		if err != nil {
			return nil, err
		}
		if seg.Op == "new" {
			return p.New(args...), nil
		}
		return p.Call(args...), nil
	}
	return nil, protocolErrorf("unknown segment op %q", seg.Op)
}

// awaitValue resolves futures, but leaves proxies lazy: a proxy result is
// returned by reference, not materialized.
func awaitValue(ctx context.Context, v any) (any, error) {
	for {
		if _, ok := v.(*Proxy); ok {
			return v, nil
		}
		f, ok := v.(Future)
		if !ok {
			return v, nil
		}
		nv, err := f.Await(ctx)
		if err != nil {
			return nil, err
		}
		v = nv
	}
}

// getProp reads a property of v. Missing properties read as Undefined, in
// keeping with the dynamic object model; only reads on null, undefined,
// symbols, or through a nil pointer are errors.
func (s *Store) getProp(v, key any) (any, error) {
	if v == nil {
		return nil, fmt.Errorf("cannot read property %v of null", key)
	}
	if v == any(Undefined) {
		return nil, fmt.Errorf("cannot read property %v of undefined", key)
	}
	if to, ok := v.(*typeObject); ok {
		return to.prop(key)
	}
	if _, ok := v.(*Symbol); ok {
		return nil, fmt.Errorf("symbols support identity only, not property access")
	}

	rv := reflect.ValueOf(v)

	if rv.Kind() == reflect.Map {
		if kv, ok := convertMapKey(key, rv.Type().Key()); ok {
			if ev := rv.MapIndex(kv); ev.IsValid() {
				return ev.Interface(), nil
			}
		}
	}

	switch name := key.(type) {
	case string:
		sv := rv
		for sv.Kind() == reflect.Pointer {
			if sv.IsNil() {
				return nil, fmt.Errorf("cannot read property %q of nil pointer", name)
			}
			sv = sv.Elem()
		}
		if sv.Kind() == reflect.Struct {
			if f := sv.FieldByName(name); f.IsValid() && f.CanInterface() {
				return f.Interface(), nil
			}
		}
		if m := rv.MethodByName(name); m.IsValid() {
			return m.Interface(), nil
		}
		if name == "length" {
			switch sv.Kind() {
			case reflect.Slice, reflect.Array, reflect.String, reflect.Map:
				return int64(sv.Len()), nil
			}
		}
		// Slice own keys are published as decimal strings.
		switch sv.Kind() {
		case reflect.Slice, reflect.Array:
			if idx, err := strconv.ParseInt(name, 10, 64); err == nil {
				if idx >= 0 && idx < int64(sv.Len()) {
					return sv.Index(int(idx)).Interface(), nil
				}
			}
		}
		return Undefined, nil

	case *Symbol:
		return Undefined, nil // symbol keys live only in maps, handled above

	default:
		if idx, ok := asIndex(key); ok {
			switch rv.Kind() {
			case reflect.Slice, reflect.Array:
				if idx >= 0 && idx < int64(rv.Len()) {
					return rv.Index(int(idx)).Interface(), nil
				}
			}
			return Undefined, nil
		}
	}
	return Undefined, nil
}

// setProp assigns a property of v. Assignment targets are map entries,
// exported fields behind a pointer, and slice elements; anything else
// cannot be written through.
func (s *Store) setProp(v, key, val any) error {
	if v == nil || v == any(Undefined) {
		return fmt.Errorf("cannot assign property %v of %v", key, v)
	}
	rv := reflect.ValueOf(v)

	switch rv.Kind() {
	case reflect.Map:
		kv, ok := convertMapKey(key, rv.Type().Key())
		if !ok {
			return fmt.Errorf("cannot use %T as key of %s", key, rv.Type())
		}
		ev, err := convertArg(val, rv.Type().Elem())
		if err != nil {
			return fmt.Errorf("assign %v: %w", key, err)
		}
		rv.SetMapIndex(kv, ev)
		return nil

	case reflect.Pointer:
		sv := rv.Elem()
		if sv.Kind() != reflect.Struct {
			break
		}
		name, ok := key.(string)
		if !ok {
			return fmt.Errorf("cannot use %T as field name of %s", key, sv.Type())
		}
		f := sv.FieldByName(name)
		if !f.IsValid() || !f.CanSet() {
			return fmt.Errorf("no assignable field %q on %s", name, sv.Type())
		}
		ev, err := convertArg(val, f.Type())
		if err != nil {
			return fmt.Errorf("assign %q: %w", name, err)
		}
		f.Set(ev)
		return nil

	case reflect.Slice:
		idx, ok := asIndex(key)
		if !ok || idx < 0 || idx >= int64(rv.Len()) {
			return fmt.Errorf("invalid slice index %v", key)
		}
		ev, err := convertArg(val, rv.Type().Elem())
		if err != nil {
			return fmt.Errorf("assign [%d]: %w", idx, err)
		}
		rv.Index(int(idx)).Set(ev)
		return nil
	}
	return fmt.Errorf("cannot assign property %v of %T", key, v)
}

// callValue invokes fn with args. A leading context.Context parameter is
// supplied from the evaluation context. Results map back into the value
// model: none becomes Undefined, a trailing error return becomes a thrown
// error, a single value passes through, several become a slice.
func (s *Store) callValue(ctx context.Context, fn any, args []any) (any, error) {
	rv := reflect.ValueOf(fn)
	if !rv.IsValid() || rv.Kind() != reflect.Func {
		return nil, fmt.Errorf("value of type %T is not callable", fn)
	}
	rt := rv.Type()

	var in []reflect.Value
	params := rt.NumIn()
	pos := 0
	if params > 0 && rt.In(0) == ctxType {
		in = append(in, reflect.ValueOf(ctx))
		pos = 1
	}
	for i := pos; i < params; i++ {
		pt := rt.In(i)
		if rt.IsVariadic() && i == params-1 {
			for ; len(args) > 0; args = args[1:] {
				av, err := convertArg(args[0], pt.Elem())
				if err != nil {
					return nil, fmt.Errorf("argument %d: %w", len(in), err)
				}
				in = append(in, av)
			}
			break
		}
		var a any = Undefined
		if len(args) > 0 {
			a, args = args[0], args[1:]
		}
		av, err := convertArg(a, pt)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", len(in), err)
		}
		in = append(in, av)
	}

	out := rv.Call(in)

	var vals []any
	for i, o := range out {
		if i == len(out)-1 && o.Type() == errType {
			if !o.IsNil() {
				return nil, o.Interface().(error)
			}
			continue
		}
		vals = append(vals, o.Interface())
	}
	switch len(vals) {
	case 0:
		return Undefined, nil
	case 1:
		return vals[0], nil
	}
	return vals, nil
}

// convertMapKey adapts a decoded key to a map's key type.
func convertMapKey(key any, kt reflect.Type) (reflect.Value, bool) {
	if kt == anyType {
		return reflect.ValueOf(key), true
	}
	kv := reflect.ValueOf(key)
	if !kv.IsValid() {
		return reflect.Value{}, false
	}
	if kv.Type().AssignableTo(kt) {
		return kv, true
	}
	if isNumericKind(kv.Kind()) && isNumericKind(kt.Kind()) {
		return kv.Convert(kt), true
	}
	return reflect.Value{}, false
}

// convertArg adapts a decoded value to a parameter or destination type.
func convertArg(a any, t reflect.Type) (reflect.Value, error) {
	if a == nil {
		return reflect.Zero(t), nil
	}
	if a == any(Undefined) && t != anyType {
		return reflect.Zero(t), nil
	}
	av := reflect.ValueOf(a)
	if av.Type().AssignableTo(t) {
		return av, nil
	}
	if isNumericKind(av.Kind()) && isNumericKind(t.Kind()) {
		return av.Convert(t), nil
	}
	return reflect.Value{}, fmt.Errorf("cannot use %T as %s", a, t)
}

func isNumericKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// asIndex extracts an integer index from a decoded key.
func asIndex(key any) (int64, bool) {
	switch k := key.(type) {
	case int64:
		return k, true
	case int:
		return int64(k), true
	case float64:
		i := int64(k)
		if float64(i) == k {
			return i, true
		}
	}
	return 0, false
}
