// Copyright (C) 2026 IIIMADDINIII. All Rights Reserved.

package remoteobjects

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// rt marshals a description and decodes it back, as if it had crossed the
// wire once.
func rt(t *testing.T, d Description) Description {
	t.Helper()
	data, err := d.MarshalJSON()
	if err != nil {
		t.Fatalf("Marshal %v: %v", d, err)
	}
	out, err := unmarshalDescription(data)
	if err != nil {
		t.Fatalf("Unmarshal %s: %v", data, err)
	}
	return out
}

func TestDescriptionRoundTrip(t *testing.T) {
	tests := []struct {
		input Description
		want  Description
	}{
		{primDesc{"hello"}, primDesc{"hello"}},
		{primDesc{""}, primDesc{""}},
		{primDesc{true}, primDesc{true}},
		{primDesc{false}, primDesc{false}},
		{primDesc{int64(42)}, primDesc{int64(42)}},
		{primDesc{int64(-7)}, primDesc{int64(-7)}},
		{primDesc{3.25}, primDesc{3.25}},
		{markerNull, markerNull},
		{markerUndefined, markerUndefined},
		{bigintDesc{"123456789012345678901234567890"}, bigintDesc{"123456789012345678901234567890"}},

		// Ids flip side in transit.
		{refDesc{ID: localID(7)}, refDesc{ID: remoteID(7)}},
		{refDesc{ID: remoteID(9)}, refDesc{ID: localID(9)}},
		{refDesc{ID: ID{Side: SideRemote, Name: "api"}}, refDesc{ID: ID{Side: SideLocal, Name: "api"}}},

		{symbolDesc{ID: localID(3)}, symbolDesc{ID: remoteID(3)}},
	}
	for _, test := range tests {
		got := rt(t, test.input)
		if diff := cmp.Diff(test.want, got, cmp.AllowUnexported(primDesc{}, bigintDesc{})); diff != "" {
			t.Errorf("Round trip %+v (-want, +got):\n%s", test.input, diff)
		}
	}
}

func TestIntegerWidth(t *testing.T) {
	// Integral numbers decode as int64 even beyond float64's exact range.
	got := rt(t, primDesc{int64(1<<62 + 3)})
	if diff := cmp.Diff(primDesc{int64(1<<62 + 3)}, got, cmp.AllowUnexported(primDesc{})); diff != "" {
		t.Errorf("Wide integer (-want, +got):\n%s", diff)
	}

	// Fractional numbers decode as float64.
	got = rt(t, primDesc{0.5})
	if diff := cmp.Diff(primDesc{0.5}, got, cmp.AllowUnexported(primDesc{})); diff != "" {
		t.Errorf("Float (-want, +got):\n%s", diff)
	}
}

func TestShapeRoundTrip(t *testing.T) {
	in := shapeDesc{
		Kind: kindObject,
		ID:   localID(4),
		OwnKeys: []keyDesc{
			{Key: primDesc{"test"}, Enumerable: true},
			{Key: primDesc{"length"}, Enumerable: false},
		},
		Prototype: markerNull,
	}
	got := rt(t, in)
	want := shapeDesc{
		Kind: kindObject,
		ID:   remoteID(4),
		OwnKeys: []keyDesc{
			{Key: primDesc{"test"}, Enumerable: true},
			{Key: primDesc{"length"}, Enumerable: false},
		},
		Prototype: markerNull,
	}
	if diff := cmp.Diff(want, got, cmp.AllowUnexported(primDesc{}, shapeDesc{})); diff != "" {
		t.Errorf("Shape (-want, +got):\n%s", diff)
	}
}

func TestFunctionShapeRoundTrip(t *testing.T) {
	in := shapeDesc{
		Kind: kindFunction,
		ID:   localID(11),
		FunctionPrototype: shapeDesc{
			Kind:      kindObject,
			ID:        localID(12),
			OwnKeys:   []keyDesc{{Key: primDesc{"name"}, Enumerable: false}},
			Prototype: markerNull,
		},
	}
	got, ok := rt(t, in).(shapeDesc)
	if !ok {
		t.Fatalf("Round trip: got %T, want shapeDesc", got)
	}
	if got.Kind != kindFunction {
		t.Errorf("Kind: got %v, want function", got.Kind)
	}
	fp, ok := got.FunctionPrototype.(shapeDesc)
	if !ok {
		t.Fatalf("FunctionPrototype: got %T, want shapeDesc", got.FunctionPrototype)
	}
	if fp.ID != remoteID(12) {
		t.Errorf("FunctionPrototype id: got %v, want %v", fp.ID, remoteID(12))
	}
}

func TestErrorDescriptionRoundTrip(t *testing.T) {
	in := errorDesc{
		Value:   refDesc{ID: localID(5)},
		Message: "boom",
		Stack:   "line 1\nline 2",
		Name:    "errorString",
	}
	got, ok := rt(t, in).(errorDesc)
	if !ok {
		t.Fatalf("Round trip: got %T, want errorDesc", got)
	}
	if got.Message != "boom" || got.Name != "errorString" || got.Stack != "line 1\nline 2" {
		t.Errorf("Fields: got %+v", got)
	}
	ref, ok := got.Value.(refDesc)
	if !ok || ref.ID != remoteID(5) {
		t.Errorf("Value: got %+v, want ref to remote:5", got.Value)
	}
}

func TestSegmentRoundTrip(t *testing.T) {
	segs := []Segment{
		{Op: "get", Key: primDesc{"field"}},
		{Op: "call", Args: []Description{primDesc{int64(5)}, primDesc{"x"}}},
		{Op: "new", Args: nil},
		{Op: "set", Key: primDesc{"n"}, Value: primDesc{int64(11)}},
	}
	data, err := json.Marshal(segs)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got []Segment
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if diff := cmp.Diff(segs, got, cmp.AllowUnexported(primDesc{}), equateEmptyArgs()); diff != "" {
		t.Errorf("Segments (-want, +got):\n%s", diff)
	}
}

// equateEmptyArgs treats nil and empty argument lists as equal; the wire
// form always carries an array.
func equateEmptyArgs() cmp.Option {
	return cmp.FilterValues(func(a, b []Description) bool {
		return len(a) == 0 && len(b) == 0
	}, cmp.Ignore())
}

func TestSegmentWellFormed(t *testing.T) {
	bad := []string{
		`{"op":"set","key":"a"}`,               // missing value
		`{"op":"get"}`,                         // missing key
		`{"op":"frobnicate"}`,                  // unknown op
		`{"op":"set","value":{"type":"null"}}`, // missing key
	}
	for _, raw := range bad {
		var seg Segment
		if err := seg.UnmarshalJSON([]byte(raw)); err == nil {
			t.Errorf("Unmarshal %s: got %+v, want error", raw, seg)
		}
	}
}

func TestMessageKind(t *testing.T) {
	tests := []struct {
		payload string
		want    string
		bad     bool
	}{
		{`{"type":"close"}`, "close", false},
		{`{"type":"remote","root":{"side":"remote","name":"api"},"path":[]}`, "remote", false},
		{`{"type":"syncGc","deletedItems":[],"newItems":[]}`, "syncGc", false},
		{`{}`, "", true},
		{`nonsense`, "", true},
	}
	for _, test := range tests {
		got, err := messageKind([]byte(test.payload))
		if test.bad {
			if err == nil {
				t.Errorf("messageKind(%s): got %q, want error", test.payload, got)
			}
			continue
		}
		if err != nil || got != test.want {
			t.Errorf("messageKind(%s): got %q, %v; want %q", test.payload, got, err, test.want)
		}
	}
}

func TestSyncGCRoundTrip(t *testing.T) {
	req := syncGCRequest{
		DeletedItems: []ID{remoteID(1), remoteID(2)},
		NewItems:     []ID{remoteID(9)},
	}
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got syncGCRequest
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	want := syncGCRequest{
		DeletedItems: []ID{localID(1), localID(2)},
		NewItems:     []ID{localID(9)},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Request (-want, +got):\n%s", diff)
	}

	rsp := syncGCResponse{DeletedItems: []ID{localID(1)}}
	data, err = json.Marshal(rsp)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var gotRsp syncGCResponse
	if err := json.Unmarshal(data, &gotRsp); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(gotRsp.DeletedItems) != 1 || gotRsp.DeletedItems[0] != remoteID(1) {
		t.Errorf("Response: got %+v, want one remote:1", gotRsp)
	}
}
