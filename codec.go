// Copyright (C) 2026 IIIMADDINIII. All Rights Reserved.

package remoteobjects

import (
	"context"
	"fmt"
	"math/big"
	"reflect"
	"sort"
	"strconv"
	"time"
)

// encodeValue maps a local value to its wire description. Primitives are
// inlined; proxies are replaced by their underlying path description, so a
// remote value passed back resolves to the original; everything else is
// registered in the local table and introduced by reference.
func (s *Store) encodeValue(v any) (Description, error) {
	s.μ.Lock()
	defer s.μ.Unlock()
	return s.encodeLocked(v)
}

func (s *Store) encodeLocked(v any) (Description, error) {
	switch t := v.(type) {
	case nil:
		return markerNull, nil
	case undefined:
		return markerUndefined, nil
	case bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return primDesc{t}, nil
	case *big.Int:
		return bigintDesc{t.Text(10)}, nil

	case *Proxy:
		segs, err := s.encodeStepsLocked(t.path)
		if err != nil {
			return nil, err
		}
		return refDesc{ID: t.root, Path: segs}, nil

	case *Symbol:
		if t.origin != nil {
			return refDesc{ID: *t.origin}, nil
		}
	}

	now := time.Now()
	id, isNew := s.local.register(v, now)
	if !isNew {
		if d, ok := s.local.desc(id); ok {
			return d, nil
		}
	}

	var desc Description
	var err error
	switch gcKindOf(v) {
	case kindSymbol:
		desc = symbolDesc{ID: localID(id)}
	case kindFunction:
		desc, err = s.buildFunctionShape(v, localID(id))
	default:
		desc, err = s.buildObjectShape(v, localID(id))
	}
	if err != nil {
		return nil, err
	}
	s.local.setDesc(id, desc)
	s.metrics.valuesHeld.Add(1)
	return desc, nil
}

// buildObjectShape constructs the introduction description for an object:
// its own keys, and prototype data per the configured policy. The snapshot
// is cached and resent unchanged for the lifetime of the id.
func (s *Store) buildObjectShape(v any, id ID) (Description, error) {
	sd := shapeDesc{Kind: kindObject, ID: id}

	if to, ok := v.(*typeObject); ok {
		return s.buildTypeShape(to, id)
	}

	rv := reflect.ValueOf(v)
	base := baseType(rv.Type())

	own, err := s.ownKeysLocked(rv)
	if err != nil {
		return nil, err
	}
	sd.OwnKeys = own

	switch s.opts.RemoteObjectPrototype {
	case PrototypeFull:
		if hasPrototype(rv.Type()) {
			pd, err := s.encodeLocked(s.typeObjectFor(rv.Type()))
			if err != nil {
				return nil, err
			}
			sd.Prototype = pd
		} else {
			sd.Prototype = markerNull
		}
	case PrototypeKeysOnly:
		for _, name := range methodNames(base) {
			sd.HasKeys = append(sd.HasKeys, primDesc{name})
		}
	}
	return sd, nil
}

// buildFunctionShape constructs the introduction description for a
// function. Functions have no own keys of interest; what they carry is the
// functionPrototype reference, which enables InstanceOf on the holder. It
// is shipped under every prototype policy.
func (s *Store) buildFunctionShape(v any, id ID) (Description, error) {
	sd := shapeDesc{Kind: kindFunction, ID: id}
	if inst, ok := instanceType(reflect.TypeOf(v)); ok {
		fp, err := s.encodeLocked(s.typeObjectFor(inst))
		if err != nil {
			return nil, err
		}
		sd.FunctionPrototype = fp
	}
	return sd, nil
}

// buildTypeShape constructs the description of a type object: "name" and
// its method names as non-enumerable own keys, and the embedded parent as
// prototype.
func (s *Store) buildTypeShape(to *typeObject, id ID) (Description, error) {
	sd := shapeDesc{Kind: kindObject, ID: id}
	sd.OwnKeys = append(sd.OwnKeys, keyDesc{Key: primDesc{"name"}, Enumerable: false})
	for _, name := range methodNames(to.t) {
		sd.OwnKeys = append(sd.OwnKeys, keyDesc{Key: primDesc{name}, Enumerable: false})
	}
	if parent, ok := embeddedProto(to.t); ok {
		pd, err := s.encodeLocked(s.typeObjectFor(parent))
		if err != nil {
			return nil, err
		}
		sd.Prototype = pd
	} else {
		sd.Prototype = markerNull
	}
	return sd, nil
}

// ownKeysLocked snapshots the own keys of a value: struct fields (direct
// and promoted), map keys, or slice indices plus length. String map keys
// come out sorted; symbol map keys follow in map iteration order.
func (s *Store) ownKeysLocked(rv reflect.Value) ([]keyDesc, error) {
	sv := rv
	for sv.Kind() == reflect.Pointer {
		if sv.IsNil() {
			return nil, nil
		}
		sv = sv.Elem()
	}
	var keys []keyDesc

	switch sv.Kind() {
	case reflect.Struct:
		for _, f := range reflect.VisibleFields(sv.Type()) {
			if !f.IsExported() || f.Anonymous {
				continue
			}
			keys = append(keys, keyDesc{Key: primDesc{f.Name}, Enumerable: true})
		}

	case reflect.Map:
		var names []string
		var syms []*Symbol
		for _, kv := range sv.MapKeys() {
			switch k := kv.Interface().(type) {
			case string:
				names = append(names, k)
			case *Symbol:
				syms = append(syms, k)
			}
		}
		sort.Strings(names)
		for _, n := range names {
			keys = append(keys, keyDesc{Key: primDesc{n}, Enumerable: true})
		}
		for _, sym := range syms {
			kd, err := s.encodeLocked(sym)
			if err != nil {
				return nil, err
			}
			keys = append(keys, keyDesc{Key: kd, Enumerable: true})
		}

	case reflect.Slice, reflect.Array:
		for i := 0; i < sv.Len(); i++ {
			keys = append(keys, keyDesc{Key: primDesc{strconv.Itoa(i)}, Enumerable: true})
		}
		keys = append(keys, keyDesc{Key: primDesc{"length"}, Enumerable: false})
	}
	return keys, nil
}

// methodNames returns the sorted exported method names of t, covering both
// value and pointer receivers.
func methodNames(t reflect.Type) []string {
	mt := methodTarget(t)
	names := make([]string, 0, mt.NumMethod())
	for i := 0; i < mt.NumMethod(); i++ {
		names = append(names, mt.Method(i).Name)
	}
	sort.Strings(names)
	return names
}

// encodeStepsLocked maps recorded proxy steps to wire segments, encoding
// the captured keys and arguments.
func (s *Store) encodeStepsLocked(steps []step) ([]Segment, error) {
	segs := make([]Segment, 0, len(steps))
	for _, st := range steps {
		switch st.op {
		case "get":
			kd, err := s.encodeKeyLocked(st.key)
			if err != nil {
				return nil, err
			}
			segs = append(segs, Segment{Op: "get", Key: kd})
		case "set":
			kd, err := s.encodeKeyLocked(st.key)
			if err != nil {
				return nil, err
			}
			vd, err := s.encodeLocked(st.value)
			if err != nil {
				return nil, err
			}
			segs = append(segs, Segment{Op: "set", Key: kd, Value: vd})
		case "call", "new":
			var args []Description
			for _, a := range st.args {
				ad, err := s.encodeLocked(a)
				if err != nil {
					return nil, err
				}
				args = append(args, ad)
			}
			segs = append(segs, Segment{Op: st.op, Args: args})
		default:
			return nil, protocolErrorf("invalid step op %q", st.op)
		}
	}
	return segs, nil
}

func (s *Store) encodeKeyLocked(key any) (Description, error) {
	switch k := key.(type) {
	case string:
		return primDesc{k}, nil
	case int:
		return primDesc{int64(k)}, nil
	case int64:
		return primDesc{k}, nil
	case *Symbol:
		return s.encodeLocked(k)
	}
	return nil, protocolErrorf("invalid property key type %T", key)
}

// decodeValue maps a wire description back to a value. Gc-tracked ids
// resolve through the remote table, preserving proxy identity; local ids
// resolve through the local table, restoring the original value.
func (s *Store) decodeValue(ctx context.Context, d Description) (any, error) {
	switch t := d.(type) {
	case primDesc:
		return t.v, nil
	case markerDesc:
		if t == markerNull {
			return nil, nil
		}
		return Undefined, nil
	case bigintDesc:
		n, ok := new(big.Int).SetString(t.text, 10)
		if !ok {
			return nil, protocolErrorf("invalid bigint text %q", t.text)
		}
		return n, nil

	case refDesc:
		return s.decodeRef(ctx, t)

	case symbolDesc:
		return s.decodeSymbol(t.ID)

	case shapeDesc:
		return s.decodeShape(t)

	case errorDesc:
		return nil, protocolErrorf("error description outside response position")
	}
	return nil, protocolErrorf("unhandled description %T", d)
}

// decodeRef resolves a tagged id. A local id names a value this peer owns:
// the root is restored by identity and any path is evaluated in place. A
// remote id yields the cached stand-in, or a lazy re-request of the path.
func (s *Store) decodeRef(ctx context.Context, ref refDesc) (any, error) {
	if ref.ID.Side == SideLocal {
		s.μ.Lock()
		root, err := s.local.resolve(ref.ID)
		s.μ.Unlock()
		if err != nil {
			return nil, err
		}
		if len(ref.Path) == 0 {
			return root, nil
		}
		return s.evaluate(ctx, root, ref.Path)
	}

	if len(ref.Path) > 0 {
		// The value is computed on the owner; follow up with a sub-request.
		return s.requestSegments(ctx, ref.ID, ref.Path)
	}

	s.μ.Lock()
	defer s.μ.Unlock()
	if !ref.ID.IsName() {
		if p := s.remote.proxy(ref.ID.Num); p != nil {
			s.noteIntroducedLocked(ref.ID.Num)
			return p, nil
		}
		if sym := s.remote.symbol(ref.ID.Num); sym != nil {
			s.noteIntroducedLocked(ref.ID.Num)
			return sym, nil
		}
	}
	// No stand-in: hand out an unbound proxy; first use will validate it.
	return &Proxy{store: s, root: ref.ID}, nil
}

// decodeSymbol resolves a symbol description, preserving identity.
func (s *Store) decodeSymbol(id ID) (any, error) {
	if id.Side == SideLocal {
		s.μ.Lock()
		defer s.μ.Unlock()
		v, err := s.local.resolve(id)
		if err != nil {
			return nil, err
		}
		sym, ok := v.(*Symbol)
		if !ok {
			return nil, protocolErrorf("id %v does not name a symbol", id)
		}
		return sym, nil
	}

	s.μ.Lock()
	defer s.μ.Unlock()
	if sym := s.remote.symbol(id.Num); sym != nil {
		s.noteIntroducedLocked(id.Num)
		return sym, nil
	}
	origin := id
	sym := &Symbol{name: fmt.Sprintf("remote-%d", id.Num), origin: &origin}
	s.remote.installSymbol(id.Num, sym)
	s.noteIntroducedLocked(id.Num)
	s.metrics.proxiesLive.Add(1)
	return sym, nil
}

// decodeShape resolves an object or function introduction to a bound
// proxy, reusing the live stand-in when one exists.
func (s *Store) decodeShape(sd shapeDesc) (any, error) {
	if sd.ID.Side == SideLocal {
		// Introductions always describe sender-owned values.
		return nil, protocolErrorf("shape description for local id %v", sd.ID)
	}

	s.μ.Lock()
	defer s.μ.Unlock()
	return s.decodeShapeLocked(sd)
}

func (s *Store) decodeShapeLocked(sd shapeDesc) (any, error) {
	if !sd.ID.IsName() {
		if p := s.remote.proxy(sd.ID.Num); p != nil {
			s.noteIntroducedLocked(sd.ID.Num)
			return p, nil
		}
	}

	shape := &proxyShape{kind: sd.Kind}
	for _, kd := range sd.OwnKeys {
		key, err := s.decodeShapeKeyLocked(kd.Key)
		if err != nil {
			return nil, err
		}
		shape.ownKeys = append(shape.ownKeys, ownKey{key: key, enumerable: kd.Enumerable})
	}
	for _, hd := range sd.HasKeys {
		key, err := s.decodeShapeKeyLocked(hd)
		if err != nil {
			return nil, err
		}
		shape.hasKeys = append(shape.hasKeys, key)
	}
	if sd.Prototype != nil {
		shape.hasProto = true
		if sd.Prototype != Description(markerNull) {
			pv, err := s.decodeProtoLocked(sd.Prototype)
			if err != nil {
				return nil, err
			}
			shape.proto = pv
		}
	}
	if sd.FunctionPrototype != nil {
		fv, err := s.decodeProtoLocked(sd.FunctionPrototype)
		if err != nil {
			return nil, err
		}
		if fp, ok := fv.(*Proxy); ok {
			shape.funcProto = fp
		}
	}

	p := &Proxy{store: s, root: sd.ID, shape: shape}
	if !sd.ID.IsName() {
		s.remote.installProxy(sd.ID.Num, p)
		s.noteIntroducedLocked(sd.ID.Num)
		s.metrics.proxiesLive.Add(1)
	}
	return p, nil
}

// decodeProtoLocked decodes a prototype or functionPrototype reference.
// Prototype chains are made of further introductions or bare ids; they
// never require a round-trip.
func (s *Store) decodeProtoLocked(d Description) (any, error) {
	switch t := d.(type) {
	case markerDesc:
		if t == markerNull {
			return nil, nil
		}
		return nil, protocolErrorf("undefined prototype")
	case shapeDesc:
		if t.ID.Side == SideLocal {
			v, err := s.local.resolve(t.ID)
			return v, err
		}
		return s.decodeShapeLocked(t)
	case refDesc:
		if len(t.Path) > 0 {
			return nil, protocolErrorf("prototype reference carries a path")
		}
		if t.ID.Side == SideLocal {
			return s.local.resolve(t.ID)
		}
		if p := s.remote.proxy(t.ID.Num); p != nil {
			return p, nil
		}
		return &Proxy{store: s, root: t.ID}, nil
	}
	return nil, protocolErrorf("invalid prototype description %T", d)
}

// decodeShapeKeyLocked decodes one shape key: an inline string or a symbol
// reference.
func (s *Store) decodeShapeKeyLocked(d Description) (any, error) {
	switch t := d.(type) {
	case primDesc:
		if name, ok := t.v.(string); ok {
			return name, nil
		}
	case symbolDesc:
		v, err := s.decodeSymbolLocked(t.ID)
		if err != nil {
			return nil, err
		}
		return v, nil
	case refDesc:
		if t.ID.Side == SideLocal && len(t.Path) == 0 {
			return s.local.resolve(t.ID)
		}
	}
	return nil, protocolErrorf("invalid shape key %T", d)
}

func (s *Store) decodeSymbolLocked(id ID) (any, error) {
	if id.Side == SideLocal {
		v, err := s.local.resolve(id)
		if err != nil {
			return nil, err
		}
		return v, nil
	}
	if sym := s.remote.symbol(id.Num); sym != nil {
		s.noteIntroducedLocked(id.Num)
		return sym, nil
	}
	origin := id
	sym := &Symbol{name: fmt.Sprintf("remote-%d", id.Num), origin: &origin}
	s.remote.installSymbol(id.Num, sym)
	s.noteIntroducedLocked(id.Num)
	s.metrics.proxiesLive.Add(1)
	return sym, nil
}

// decodeKey decodes a path segment key for evaluation.
func (s *Store) decodeKey(ctx context.Context, d Description) (any, error) {
	v, err := s.decodeValue(ctx, d)
	if err != nil {
		return nil, err
	}
	switch k := v.(type) {
	case string, int64, *Symbol:
		return k, nil
	case float64:
		if i, ok := asIndex(k); ok {
			return i, nil
		}
	}
	return nil, protocolErrorf("invalid property key type %T", v)
}

// decodeArgs decodes call and construction arguments.
func (s *Store) decodeArgs(ctx context.Context, ds []Description) ([]any, error) {
	args := make([]any, 0, len(ds))
	for _, d := range ds {
		v, err := s.decodeValue(ctx, d)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}
	return args, nil
}

// decodeResponse interprets a response payload: an error description is
// rethrown per the RemoteError policy, anything else decodes as a value.
func (s *Store) decodeResponse(ctx context.Context, payload []byte) (any, error) {
	d, err := unmarshalDescription(payload)
	if err != nil {
		return nil, err
	}
	if e, ok := d.(errorDesc); ok {
		return nil, s.decodeError(ctx, e)
	}
	return s.decodeValue(ctx, d)
}

// decodeError reconstructs a remote throw per the RemoteError policy.
func (s *Store) decodeError(ctx context.Context, e errorDesc) error {
	cause, err := s.decodeValue(ctx, e.Value)
	if err != nil {
		cause = nil
	}
	if s.opts.RemoteError == RemoteErrorRemoteObject {
		return &RemoteThrow{Value: cause}
	}
	stack := e.Stack
	if stack != "" {
		stack = "Remote Stacktrace:\n" + stack
	}
	return &RemoteError{Message: e.Message, Name: e.Name, Stack: stack, Cause: cause}
}

// encodeError describes a value thrown during path evaluation: the thrown
// value by reference, plus its message, type name, and the owner-side
// stack when one was captured.
func (s *Store) encodeError(err error, stack string) Description {
	s.μ.Lock()
	defer s.μ.Unlock()

	val, eerr := s.encodeLocked(err)
	if eerr != nil {
		val = markerUndefined
	}
	name := ""
	if t := reflect.TypeOf(err); t != nil {
		name = baseType(t).Name()
		if name == "" {
			name = t.String()
		}
	}
	return errorDesc{Value: val, Message: err.Error(), Stack: stack, Name: name}
}

// noteIntroducedLocked records that a remote id was just acknowledged: it
// cancels any pending release for it and stamps the introduction window
// used by the next GC sync round.
func (s *Store) noteIntroducedLocked(num int64) {
	s.gc.noteIntroduced(num)
}
