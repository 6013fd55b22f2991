// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package models

// ChangeType is the kind of a single change reported to or received from a device.
type ChangeType string

const (
	ChangeTypeChange     ChangeType = "change"
	ChangeTypeDelete     ChangeType = "delete"
	ChangeTypeFlags      ChangeType = "flags"
	ChangeTypeFolderSync ChangeType = "foldersync"
)

// ChangeOrigin tells UpdateState where a change came from.
type ChangeOrigin int

const (
	// OriginServer is a change that was detected on the server and sent to the device.
	OriginServer ChangeOrigin = iota
	// OriginClient is a change the device sent to the server.
	OriginClient
)

func (o ChangeOrigin) String() string {
	if o == OriginClient {
		return "client"
	}
	return "server"
}

// Flags holds the mail flags tracked per message. A nil field means the
// flag is not known for the item.
type Flags struct {
	Read    *bool `json:"read,omitempty"`
	Flagged *bool `json:"flagged,omitempty"`
}

// IsSet reports whether at least one flag value is known.
func (f *Flags) IsSet() bool {
	return f != nil && (f.Read != nil || f.Flagged != nil)
}

// Equal compares two flag sets field by field.
func (f *Flags) Equal(other *Flags) bool {
	if f == nil || other == nil {
		return f == other
	}
	return boolPtrEqual(f.Read, other.Read) && boolPtrEqual(f.Flagged, other.Flagged)
}

func boolPtrEqual(a, b *bool) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Bool returns a pointer to v. Handy for building Flags literals.
func Bool(v bool) *bool {
	return &v
}

// Stat is the state of one item (message, contact, folder...) as last
// seen by the server.
type Stat struct {
	ID       string `json:"id"`
	Mod      int64  `json:"mod"`
	Parent   string `json:"parent,omitempty"`
	ServerID string `json:"serverid,omitempty"`
	Flags    *Flags `json:"flags,omitempty"`
}

// Change is a single delta entry produced by the differ or by a backend driver.
type Change struct {
	ID         string     `json:"id"`
	Type       ChangeType `json:"type"`
	Mod        int64      `json:"mod,omitempty"`
	Parent     string     `json:"parent,omitempty"`
	ServerID   string     `json:"serverid,omitempty"`
	Flags      *Flags     `json:"flags,omitempty"`
	NewMessage bool       `json:"new,omitempty"`
	Ignore     bool       `json:"ignore,omitempty"`
}

// Stat converts a change into the stat entry that represents it in a snapshot.
func (c Change) Stat() Stat {
	return Stat{
		ID:       c.ID,
		Mod:      c.Mod,
		Parent:   c.Parent,
		ServerID: c.ServerID,
		Flags:    c.Flags,
	}
}
