// Copyright (C) 2026 IIIMADDINIII. All Rights Reserved.

package remoteobjects

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// A Description is the wire form of a value: a primitive carried inline, a
// reference to a gc-tracked value, a full shape description introducing one,
// or an error. Descriptions marshal to JSON; use unmarshalDescription to
// decode one, since the union cannot be recovered through the interface.
type Description interface {
	json.Marshaler
	isDescription()
}

// primDesc carries a string, bool, or number inline. On encode it may hold
// any Go integer or float kind; decoded numbers are int64 or float64.
type primDesc struct{ v any }

func (primDesc) isDescription() {}

func (p primDesc) MarshalJSON() ([]byte, error) { return json.Marshal(p.v) }

// markerDesc carries the null and undefined singletons.
type markerDesc byte

const (
	markerNull markerDesc = iota
	markerUndefined
)

func (markerDesc) isDescription() {}

func (m markerDesc) MarshalJSON() ([]byte, error) {
	if m == markerNull {
		return []byte(`{"type":"null"}`), nil
	}
	return []byte(`{"type":"undefined"}`), nil
}

// bigintDesc carries a big integer as decimal text.
type bigintDesc struct{ text string }

func (bigintDesc) isDescription() {}

func (b bigintDesc) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type  string `json:"type"`
		Value string `json:"value"`
	}{"bigint", b.text})
}

// refDesc is a tagged id, optionally carrying a path: the value is found in
// the table named by the id's side, or computed lazily by evaluating the
// path against it.
type refDesc struct {
	ID   ID
	Path []Segment
}

func (refDesc) isDescription() {}

func (r refDesc) MarshalJSON() ([]byte, error) {
	idj, err := json.Marshal(r.ID)
	if err != nil {
		return nil, err
	}
	if len(r.Path) == 0 {
		return idj, nil
	}
	pj, err := json.Marshal(r.Path)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.Write(idj[:len(idj)-1]) // strip closing brace
	buf.WriteString(`,"path":`)
	buf.Write(pj)
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// keyDesc is one entry of a shape's own-key list. Key is a string carried
// inline or a referenced symbol.
type keyDesc struct {
	Key        Description `json:"key"`
	Enumerable bool        `json:"enumerable"`
}

// shapeDesc introduces an object or function: its id plus the shape used to
// build a bound proxy. Prototype is nil when the policy ships none,
// markerNull for a null prototype, and a description otherwise. HasKeys is
// populated only under the keysOnly policy. FunctionPrototype is set only
// for functions whose instance type is known.
type shapeDesc struct {
	Kind              gcKind
	ID                ID
	OwnKeys           []keyDesc
	HasKeys           []Description
	Prototype         Description
	FunctionPrototype Description
}

func (shapeDesc) isDescription() {}

func (s shapeDesc) MarshalJSON() ([]byte, error) {
	w := struct {
		Type              string        `json:"type"`
		ID                ID            `json:"id"`
		OwnKeys           []keyDesc     `json:"ownKeys"`
		HasKeys           []Description `json:"hasKeys,omitempty"`
		Prototype         Description   `json:"prototype,omitempty"`
		FunctionPrototype Description   `json:"functionPrototype,omitempty"`
	}{s.Kind.String(), s.ID, s.OwnKeys, s.HasKeys, s.Prototype, s.FunctionPrototype}
	if w.OwnKeys == nil {
		w.OwnKeys = []keyDesc{}
	}
	return json.Marshal(w)
}

// symbolDesc introduces a symbol. Symbols have no shape; identity is all
// they carry.
type symbolDesc struct{ ID ID }

func (symbolDesc) isDescription() {}

func (s symbolDesc) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
		ID   ID     `json:"id"`
	}{"symbol", s.ID})
}

// errorDesc reports a value thrown during path evaluation. Value references
// the thrown value itself; message, stack, and name are copied out of it
// when the throw was error-like.
type errorDesc struct {
	Value   Description
	Message string
	Stack   string
	Name    string
}

func (errorDesc) isDescription() {}

func (e errorDesc) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type    string      `json:"type"`
		Value   Description `json:"value"`
		Message string      `json:"message,omitempty"`
		Stack   string      `json:"stack,omitempty"`
		Name    string      `json:"name,omitempty"`
	}{"error", e.Value, e.Message, e.Stack, e.Name})
}

// unmarshalDescription decodes one wire description. Ids inside it arrive
// flipped into the receiver's perspective.
func unmarshalDescription(data []byte) (Description, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, protocolErrorf("empty description")
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, &ProtocolError{Message: "invalid string description", Err: err}
		}
		return primDesc{s}, nil

	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, &ProtocolError{Message: "invalid bool description", Err: err}
		}
		return primDesc{b}, nil

	case '{':
		return unmarshalTagged(data)
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, &ProtocolError{Message: "invalid description", Err: err}
	}
	if !strings.ContainsAny(n.String(), ".eE") {
		i, err := n.Int64()
		if err == nil {
			return primDesc{i}, nil
		}
	}
	f, err := n.Float64()
	if err != nil {
		return nil, &ProtocolError{Message: "invalid number description", Err: err}
	}
	return primDesc{f}, nil
}

// wireTag is the probe for tagged descriptions: either a "type" marks the
// variant, or a bare "side" marks a tagged id.
type wireTag struct {
	Type string          `json:"type"`
	Side json.RawMessage `json:"side"`
}

func unmarshalTagged(data []byte) (Description, error) {
	var tag wireTag
	if err := json.Unmarshal(data, &tag); err != nil {
		return nil, &ProtocolError{Message: "invalid description object", Err: err}
	}
	switch tag.Type {
	case "":
		if tag.Side == nil {
			return nil, protocolErrorf("description carries neither type nor side")
		}
		var id ID // side flip happens here
		if err := json.Unmarshal(data, &id); err != nil {
			return nil, &ProtocolError{Message: "invalid id description", Err: err}
		}
		var aux struct {
			Path []Segment `json:"path"`
		}
		if err := json.Unmarshal(data, &aux); err != nil {
			return nil, &ProtocolError{Message: "invalid path description", Err: err}
		}
		return refDesc{ID: id, Path: aux.Path}, nil

	case "null":
		return markerNull, nil

	case "undefined":
		return markerUndefined, nil

	case "bigint":
		var w struct {
			Value string `json:"value"`
		}
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, &ProtocolError{Message: "invalid bigint description", Err: err}
		}
		return bigintDesc{w.Value}, nil

	case "symbol":
		var w struct {
			ID ID `json:"id"`
		}
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, &ProtocolError{Message: "invalid symbol description", Err: err}
		}
		return symbolDesc{w.ID}, nil

	case "object", "function":
		return unmarshalShape(tag.Type, data)

	case "error":
		var w struct {
			Value   json.RawMessage `json:"value"`
			Message string          `json:"message"`
			Stack   string          `json:"stack"`
			Name    string          `json:"name"`
		}
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, &ProtocolError{Message: "invalid error description", Err: err}
		}
		var val Description = markerUndefined
		if w.Value != nil {
			v, err := unmarshalDescription(w.Value)
			if err != nil {
				return nil, err
			}
			val = v
		}
		return errorDesc{Value: val, Message: w.Message, Stack: w.Stack, Name: w.Name}, nil
	}
	return nil, protocolErrorf("unknown description type %q", tag.Type)
}

func unmarshalShape(kind string, data []byte) (Description, error) {
	var w struct {
		ID      ID `json:"id"`
		OwnKeys []struct {
			Key        json.RawMessage `json:"key"`
			Enumerable bool            `json:"enumerable"`
		} `json:"ownKeys"`
		HasKeys           []json.RawMessage `json:"hasKeys"`
		Prototype         json.RawMessage   `json:"prototype"`
		FunctionPrototype json.RawMessage   `json:"functionPrototype"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, &ProtocolError{Message: "invalid shape description", Err: err}
	}
	s := shapeDesc{Kind: kindObject, ID: w.ID}
	if kind == "function" {
		s.Kind = kindFunction
	}
	for _, k := range w.OwnKeys {
		kd, err := unmarshalDescription(k.Key)
		if err != nil {
			return nil, err
		}
		s.OwnKeys = append(s.OwnKeys, keyDesc{Key: kd, Enumerable: k.Enumerable})
	}
	for _, k := range w.HasKeys {
		kd, err := unmarshalDescription(k)
		if err != nil {
			return nil, err
		}
		s.HasKeys = append(s.HasKeys, kd)
	}
	if w.Prototype != nil {
		pd, err := unmarshalDescription(w.Prototype)
		if err != nil {
			return nil, err
		}
		s.Prototype = pd
	}
	if w.FunctionPrototype != nil {
		fd, err := unmarshalDescription(w.FunctionPrototype)
		if err != nil {
			return nil, err
		}
		s.FunctionPrototype = fd
	}
	return s, nil
}

// A Segment is one step of a wire path. Op is one of "get", "set", "call",
// or "new". Get and set carry a key; set additionally carries the assigned
// value and must be the terminal segment; call and new carry arguments.
type Segment struct {
	Op    string
	Key   Description
	Value Description
	Args  []Description
}

// MarshalJSON encodes the segment in wire format.
func (s Segment) MarshalJSON() ([]byte, error) {
	switch s.Op {
	case "get":
		return json.Marshal(struct {
			Op  string      `json:"op"`
			Key Description `json:"key"`
		}{s.Op, s.Key})
	case "set":
		return json.Marshal(struct {
			Op    string      `json:"op"`
			Key   Description `json:"key"`
			Value Description `json:"value"`
		}{s.Op, s.Key, s.Value})
	case "call", "new":
		args := s.Args
		if args == nil {
			args = []Description{}
		}
		return json.Marshal(struct {
			Op   string        `json:"op"`
			Args []Description `json:"args"`
		}{s.Op, args})
	}
	return nil, fmt.Errorf("invalid segment op %q", s.Op)
}

// UnmarshalJSON decodes the segment from wire format.
func (s *Segment) UnmarshalJSON(data []byte) error {
	var w struct {
		Op    string            `json:"op"`
		Key   json.RawMessage   `json:"key"`
		Value json.RawMessage   `json:"value"`
		Args  []json.RawMessage `json:"args"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return &ProtocolError{Message: "invalid path segment", Err: err}
	}
	*s = Segment{Op: w.Op}
	switch w.Op {
	case "get", "set":
		if w.Key == nil {
			return protocolErrorf("%s segment has no key", w.Op)
		}
		k, err := unmarshalDescription(w.Key)
		if err != nil {
			return err
		}
		s.Key = k
		if w.Op == "set" {
			if w.Value == nil {
				return protocolErrorf("set segment has no value")
			}
			v, err := unmarshalDescription(w.Value)
			if err != nil {
				return err
			}
			s.Value = v
		}
	case "call", "new":
		for _, a := range w.Args {
			d, err := unmarshalDescription(a)
			if err != nil {
				return err
			}
			s.Args = append(s.Args, d)
		}
	default:
		return protocolErrorf("unknown segment op %q", w.Op)
	}
	return nil
}

func (s Segment) String() string {
	switch s.Op {
	case "get", "set":
		if kd, ok := s.Key.(primDesc); ok {
			return fmt.Sprintf("%s(%v)", s.Op, kd.v)
		}
		return s.Op + "(<symbol>)"
	default:
		return fmt.Sprintf("%s/%d", s.Op, len(s.Args))
	}
}

// Message kinds exchanged between stores. Remote and syncGc round-trip
// through the request handler; close is a one-way notification.
const (
	msgClose  = "close"
	msgRemote = "remote"
	msgSyncGC = "syncGc"
)

// messageKind extracts the type tag of an inbound message payload.
func messageKind(payload []byte) (string, error) {
	var w struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &w); err != nil {
		return "", &ProtocolError{Message: "invalid message payload", Err: err}
	}
	if w.Type == "" {
		return "", protocolErrorf("message carries no type")
	}
	return w.Type, nil
}

// remoteRequest asks the owner of root to evaluate a path against it. The
// response payload is a single description of the result, or an error
// description.
type remoteRequest struct {
	Root ID
	Path []Segment
}

// MarshalJSON encodes the request in wire format.
func (r remoteRequest) MarshalJSON() ([]byte, error) {
	path := r.Path
	if path == nil {
		path = []Segment{}
	}
	return json.Marshal(struct {
		Type string    `json:"type"`
		Root ID        `json:"root"`
		Path []Segment `json:"path"`
	}{msgRemote, r.Root, path})
}

// UnmarshalJSON decodes the request from wire format.
func (r *remoteRequest) UnmarshalJSON(data []byte) error {
	var w struct {
		Root ID        `json:"root"`
		Path []Segment `json:"path"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return &ProtocolError{Message: "invalid remote request", Err: err}
	}
	r.Root = w.Root
	r.Path = w.Path
	return nil
}

// syncGCRequest reconciles the holder's bookkeeping with the owner:
// DeletedItems are ids whose proxies became unreachable on the holder,
// NewItems are ids the holder newly acknowledged within the latency window.
type syncGCRequest struct {
	DeletedItems []ID
	NewItems     []ID
}

// MarshalJSON encodes the request in wire format.
func (r syncGCRequest) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type         string `json:"type"`
		DeletedItems []ID   `json:"deletedItems"`
		NewItems     []ID   `json:"newItems"`
	}{msgSyncGC, emptyIfNil(r.DeletedItems), emptyIfNil(r.NewItems)})
}

// UnmarshalJSON decodes the request from wire format.
func (r *syncGCRequest) UnmarshalJSON(data []byte) error {
	var w struct {
		DeletedItems []ID `json:"deletedItems"`
		NewItems     []ID `json:"newItems"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return &ProtocolError{Message: "invalid syncGc request", Err: err}
	}
	r.DeletedItems = w.DeletedItems
	r.NewItems = w.NewItems
	return nil
}

// syncGCResponse reports the subset of deletions the owner actually released
// and the subset of new items it does not know (already released; the
// holder must treat those as needing re-introduction).
type syncGCResponse struct {
	DeletedItems    []ID
	UnknownNewItems []ID
}

// MarshalJSON encodes the response in wire format.
func (r syncGCResponse) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		DeletedItems    []ID `json:"deletedItems"`
		UnknownNewItems []ID `json:"unknownNewItems"`
	}{emptyIfNil(r.DeletedItems), emptyIfNil(r.UnknownNewItems)})
}

// UnmarshalJSON decodes the response from wire format.
func (r *syncGCResponse) UnmarshalJSON(data []byte) error {
	var w struct {
		DeletedItems    []ID `json:"deletedItems"`
		UnknownNewItems []ID `json:"unknownNewItems"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return &ProtocolError{Message: "invalid syncGc response", Err: err}
	}
	r.DeletedItems = w.DeletedItems
	r.UnknownNewItems = w.UnknownNewItems
	return nil
}

var closeMessage = []byte(`{"type":"close"}`)

func emptyIfNil(ids []ID) []ID {
	if ids == nil {
		return []ID{}
	}
	return ids
}
