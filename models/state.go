// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package models

import (
	"sort"
	"time"
)

// Class is the backend class of a collection.
type Class string

const (
	ClassEmail    Class = "Email"
	ClassContacts Class = "Contacts"
	ClassCalendar Class = "Calendar"
	ClassTasks    Class = "Tasks"
	ClassNotes    Class = "Notes"
)

// RequestType is the kind of request a session was loaded for.
type RequestType string

const (
	RequestSync       RequestType = "sync"
	RequestFolderSync RequestType = "foldersync"
)

// Snapshot is the last-known-to-both-sides item list of one collection, or
// the folder list of the whole account for folder sync state.
type Snapshot struct {
	Class        Class  `json:"class,omitempty"`
	CollectionID string `json:"collection_id,omitempty"`
	ServerID     string `json:"serverid,omitempty"`
	Items        []Stat `json:"items"`
}

// Find returns the index of the stat with the given id, or -1.
func (s *Snapshot) Find(id string) int {
	for i := range s.Items {
		if s.Items[i].ID == id {
			return i
		}
	}
	return -1
}

// Upsert replaces the stat with the same id or appends it.
func (s *Snapshot) Upsert(stat Stat) {
	if i := s.Find(stat.ID); i >= 0 {
		s.Items[i] = stat
		return
	}
	s.Items = append(s.Items, stat)
}

// Remove deletes the stat with the given id. It reports whether it was present.
func (s *Snapshot) Remove(id string) bool {
	i := s.Find(id)
	if i < 0 {
		return false
	}
	s.Items = append(s.Items[:i], s.Items[i+1:]...)
	return true
}

// SortedIDs returns the ids of all items in ascending order.
func (s *Snapshot) SortedIDs() []string {
	ids := make([]string, 0, len(s.Items))
	for _, it := range s.Items {
		ids = append(ids, it.ID)
	}
	sort.Strings(ids)
	return ids
}

// StateRecord is one stored state generation.
type StateRecord struct {
	SyncKey   string
	DeviceID  string
	User      string
	FolderID  string
	Snapshot  Snapshot
	Pending   []Change
	ModStamp  int64
	Timestamp time.Time
}

// CollectionContext describes the collection a session operates on.
type CollectionContext struct {
	Class          Class
	ID             string
	ServerID       string
	FilterType     int
	Truncation     int
	ConflictPolicy int
	WindowSize     int
}

// filter type codes as sent by devices
const (
	FilterAll = iota
	FilterOneDay
	FilterThreeDays
	FilterOneWeek
	FilterTwoWeeks
	FilterOneMonth
	FilterThreeMonths
	FilterSixMonths
	FilterIncomplete
)

// CutoffDate returns the oldest timestamp covered by the collection's filter
// type, or the zero time when nothing is filtered out.
func (c CollectionContext) CutoffDate(now time.Time) time.Time {
	day := 24 * time.Hour
	switch c.FilterType {
	case FilterOneDay:
		return now.Add(-day)
	case FilterThreeDays:
		return now.Add(-3 * day)
	case FilterOneWeek:
		return now.Add(-7 * day)
	case FilterTwoWeeks:
		return now.Add(-14 * day)
	case FilterOneMonth:
		return now.AddDate(0, -1, 0)
	case FilterThreeMonths:
		return now.AddDate(0, -3, 0)
	case FilterSixMonths:
		return now.AddDate(0, -6, 0)
	}
	return time.Time{}
}

// ClientChange is one row of the PIM change map: a change that came from
// the device and must not be echoed back.
type ClientChange struct {
	MessageUID string
	ModTime    int64
	SyncKey    string
	DeviceID   string
	FolderID   string
	User       string
	ClientID   string
	Deleted    bool
}

// MailChange is one row of the mail change map. Mail servers have no
// reliable per-operation timestamps, so only the kind of change is kept.
type MailChange struct {
	MessageUID string
	SyncKey    string
	DeviceID   string
	FolderID   string
	User       string
	Read       *bool
	Flagged    *bool
	Deleted    bool
}

// Type returns the change type a mail map row stands for. A row that is
// neither a delete nor carries a flag value records a plain change.
func (m MailChange) Type() ChangeType {
	switch {
	case m.Deleted:
		return ChangeTypeDelete
	case m.Read != nil || m.Flagged != nil:
		return ChangeTypeFlags
	}
	return ChangeTypeChange
}

// Covers reports whether the row recorded every flag value f carries.
func (m MailChange) Covers(f *Flags) bool {
	if !f.IsSet() || m.Type() != ChangeTypeFlags {
		return false
	}
	if f.Read != nil && !boolPtrEqual(m.Read, f.Read) {
		return false
	}
	if f.Flagged != nil && !boolPtrEqual(m.Flagged, f.Flagged) {
		return false
	}
	return true
}

// MailChangeSet groups mail map rows by message uid.
type MailChangeSet map[string][]MailChange

func NewMailChangeSet(rows []MailChange) MailChangeSet {
	set := make(MailChangeSet, len(rows))
	for _, r := range rows {
		set[r.MessageUID] = append(set[r.MessageUID], r)
	}
	return set
}

// Mirrors reports whether the server change c only repeats a change the
// device sent itself. Flag changes match on the flag values, so a server
// side value the device never set is still delivered.
func (s MailChangeSet) Mirrors(c Change) bool {
	for _, r := range s[c.ID] {
		switch {
		case c.Type == ChangeTypeDelete:
			if r.Deleted {
				return true
			}
		case c.Flags.IsSet():
			if r.Covers(c.Flags) {
				return true
			}
		case c.Type == ChangeTypeChange:
			if !r.Deleted {
				return true
			}
		}
	}
	return false
}

// RemoveStateOptions selects what RemoveState deletes. Exactly one of the
// combinations is used: SyncKey, DeviceID (+User, +CollectionID) or User.
type RemoveStateOptions struct {
	SyncKey      string
	DeviceID     string
	User         string
	CollectionID string
}

// FolderSyncCollection is the collection id under which folder hierarchy
// state is stored.
const FolderSyncCollection = "foldersync"

// ClientStamp holds the latest client change timestamps recorded for one
// item, split by kind. Zero means no such change.
type ClientStamp struct {
	Changed int64
	Deleted int64
}

// ServerChangesRequest is one change poll sent to the backend driver.
type ServerChangesRequest struct {
	Collection   CollectionContext
	FromStamp    int64
	ToStamp      int64
	Cutoff       time.Time
	PingOnly     bool
	InitialSync  bool
	MaxItems     int
	ForceRefresh bool
}
