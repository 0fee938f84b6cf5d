// Copyright (C) 2026 IIIMADDINIII. All Rights Reserved.

package remoteobjects

import (
	"encoding/json"
	"fmt"
)

// A Side names the peer that owns a gc-tracked value. Every id is tagged
// with its owning side, so the same number on each peer refers to different
// values.
type Side byte

const (
	SideLocal  Side = iota // owned by this peer
	SideRemote             // owned by the other peer
)

// Flip returns the side as seen from the other peer.
func (s Side) Flip() Side {
	if s == SideLocal {
		return SideRemote
	}
	return SideLocal
}

func (s Side) String() string {
	switch s {
	case SideLocal:
		return "local"
	case SideRemote:
		return "remote"
	default:
		return fmt.Sprintf("side %d", byte(s))
	}
}

// MarshalJSON encodes the side in wire format.
func (s Side) MarshalJSON() ([]byte, error) {
	switch s {
	case SideLocal:
		return []byte(`"local"`), nil
	case SideRemote:
		return []byte(`"remote"`), nil
	}
	return nil, fmt.Errorf("invalid side %d", byte(s))
}

// UnmarshalJSON decodes the side from wire format.
func (s *Side) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case `"local"`:
		*s = SideLocal
	case `"remote"`:
		*s = SideRemote
	default:
		return fmt.Errorf("invalid side %s", data)
	}
	return nil
}

// An ID names a gc-tracked value in the table of the peer given by Side.
// Numeric ids name transient values and may be released by the garbage
// collector; string ids name user-exposed values and live until the owning
// store closes.
//
// Ids are always held in the perspective of the peer holding them: an id a
// store assigned is SideLocal there and SideRemote on the other peer.
// Unmarshaling flips the side, so that an id crossing the wire arrives in
// the receiver's perspective.
type ID struct {
	Side Side
	Num  int64
	Name string
}

// IsName reports whether id is a reserved string id.
func (id ID) IsName() bool { return id.Name != "" }

func (id ID) String() string {
	if id.IsName() {
		return fmt.Sprintf("%v:%q", id.Side, id.Name)
	}
	return fmt.Sprintf("%v:%d", id.Side, id.Num)
}

type wireID struct {
	Side Side    `json:"side"`
	Num  *int64  `json:"id,omitempty"`
	Name *string `json:"name,omitempty"`
}

// MarshalJSON encodes the id in wire format, in the sender's perspective.
func (id ID) MarshalJSON() ([]byte, error) {
	w := wireID{Side: id.Side}
	if id.IsName() {
		w.Name = &id.Name
	} else {
		w.Num = &id.Num
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the id from wire format and flips its side into the
// receiver's perspective.
func (id *ID) UnmarshalJSON(data []byte) error {
	var w wireID
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.Num == nil && w.Name == nil {
		return fmt.Errorf("id carries neither number nor name")
	}
	id.Side = w.Side.Flip()
	if w.Num != nil {
		id.Num = *w.Num
	}
	if w.Name != nil {
		id.Name = *w.Name
	}
	return nil
}

// localID returns a numeric id owned by this peer.
func localID(num int64) ID { return ID{Side: SideLocal, Num: num} }

// remoteID returns a numeric id owned by the other peer.
func remoteID(num int64) ID { return ID{Side: SideRemote, Num: num} }

// remoteName returns a string id owned by the other peer.
func remoteName(name string) ID { return ID{Side: SideRemote, Name: name} }
