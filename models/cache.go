// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package models

import "time"

// CacheCollection is the per-collection part of the sync cache.
type CacheCollection struct {
	Class          Class  `json:"class,omitempty"`
	SyncKey        string `json:"synckey,omitempty"`
	WindowSize     *int   `json:"windowsize,omitempty"`
	DeletesAsMoves *bool  `json:"deletesasmoves,omitempty"`
	FilterType     *int   `json:"filtertype,omitempty"`
	Truncation     *int   `json:"truncation,omitempty"`
	MimeSupport    *int   `json:"mimesupport,omitempty"`
	MimeTruncation *int   `json:"mimetruncation,omitempty"`
	Conflict       *int   `json:"conflict,omitempty"`
	Pingable       bool   `json:"pingable,omitempty"`
}

// CacheFolder is a folder known to the device, keyed by server id in the cache.
type CacheFolder struct {
	ParentID    string `json:"parentid"`
	DisplayName string `json:"displayname"`
	Class       Class  `json:"class"`
	Type        int    `json:"type"`
	FilterType  int    `json:"filtertype"`
}

// CacheField names a top-level sync cache field for partial loads and saves.
type CacheField string

const (
	CacheFieldConfirmedSyncKeys CacheField = "confirmed_synckeys"
	CacheFieldLastHBSyncStarted CacheField = "lasthbsyncstarted"
	CacheFieldLastSyncEndNormal CacheField = "lastsyncendnormal"
	CacheFieldLastUntil         CacheField = "lastuntil"
	CacheFieldTimestamp         CacheField = "timestamp"
	CacheFieldWait              CacheField = "wait"
	CacheFieldHBInterval        CacheField = "hbinterval"
	CacheFieldHierarchy         CacheField = "hierarchy"
	CacheFieldPingHeartbeat     CacheField = "pingheartbeat"
	CacheFieldFolders           CacheField = "folders"
	CacheFieldCollections       CacheField = "collections"
)

// SyncCache is the account wide state shared by PING and looping SYNC requests.
// Timestamps are unix seconds, zero means unset.
type SyncCache struct {
	ConfirmedSyncKeys map[string]bool            `json:"confirmed_synckeys"`
	LastHBSyncStarted int64                      `json:"lasthbsyncstarted"`
	LastSyncEndNormal int64                      `json:"lastsyncendnormal"`
	LastUntil         int64                      `json:"lastuntil"`
	Timestamp         int64                      `json:"timestamp"`
	Wait              int                        `json:"wait"`
	HBInterval        int                        `json:"hbinterval"`
	Hierarchy         string                     `json:"hierarchy"`
	PingHeartbeat     int                        `json:"pingheartbeat"`
	Folders           map[string]CacheFolder     `json:"folders"`
	Collections       map[string]CacheCollection `json:"collections"`
}

// NewSyncCache returns the empty cache handed out when nothing is stored.
func NewSyncCache() SyncCache {
	return SyncCache{
		ConfirmedSyncKeys: map[string]bool{},
		Folders:           map[string]CacheFolder{},
		Collections:       map[string]CacheCollection{},
	}
}

// Normalize replaces nil maps with empty ones.
func (c *SyncCache) Normalize() {
	if c.ConfirmedSyncKeys == nil {
		c.ConfirmedSyncKeys = map[string]bool{}
	}
	if c.Folders == nil {
		c.Folders = map[string]CacheFolder{}
	}
	if c.Collections == nil {
		c.Collections = map[string]CacheCollection{}
	}
}

// Project returns a cache that only carries the requested fields, the rest
// keep their default value. No fields means the full cache.
func (c SyncCache) Project(fields ...CacheField) SyncCache {
	if len(fields) == 0 {
		return c
	}
	out := NewSyncCache()
	out.Merge(c, fields...)
	return out
}

// Merge copies the given fields of src into c. No fields copies everything.
func (c *SyncCache) Merge(src SyncCache, fields ...CacheField) {
	if len(fields) == 0 {
		*c = src
		c.Normalize()
		return
	}
	for _, f := range fields {
		switch f {
		case CacheFieldConfirmedSyncKeys:
			c.ConfirmedSyncKeys = src.ConfirmedSyncKeys
		case CacheFieldLastHBSyncStarted:
			c.LastHBSyncStarted = src.LastHBSyncStarted
		case CacheFieldLastSyncEndNormal:
			c.LastSyncEndNormal = src.LastSyncEndNormal
		case CacheFieldLastUntil:
			c.LastUntil = src.LastUntil
		case CacheFieldTimestamp:
			c.Timestamp = src.Timestamp
		case CacheFieldWait:
			c.Wait = src.Wait
		case CacheFieldHBInterval:
			c.HBInterval = src.HBInterval
		case CacheFieldHierarchy:
			c.Hierarchy = src.Hierarchy
		case CacheFieldPingHeartbeat:
			c.PingHeartbeat = src.PingHeartbeat
		case CacheFieldFolders:
			c.Folders = src.Folders
		case CacheFieldCollections:
			c.Collections = src.Collections
		}
	}
	c.Normalize()
}

// ValidateTimestamps reports whether the looping sync timestamps are
// consistent: a heartbeat sync that started must have ended normally and the
// last planned end time must be in the past.
func (c *SyncCache) ValidateTimestamps(now time.Time) bool {
	if c.LastHBSyncStarted != 0 &&
		(c.LastSyncEndNormal == 0 || c.LastHBSyncStarted > c.LastSyncEndNormal) {
		return false
	}
	if c.LastUntil != 0 && now.Unix() < c.LastUntil {
		return false
	}
	return true
}

// Touch sets the cache timestamp.
func (c *SyncCache) Touch(now time.Time) {
	c.Timestamp = now.Unix()
}

// IsStale reports whether stored, read back from the store, was written
// after c was loaded, meaning some other request changed the cache.
func (c *SyncCache) IsStale(stored SyncCache) bool {
	return stored.Timestamp > c.Timestamp
}

// CollectionsWithKey returns the collections that carry a sync key, or all
// of them when requireKey is false.
func (c *SyncCache) CollectionsWithKey(requireKey bool) map[string]CacheCollection {
	out := make(map[string]CacheCollection, len(c.Collections))
	for id, col := range c.Collections {
		if requireKey && col.SyncKey == "" {
			continue
		}
		out[id] = col
	}
	return out
}

// AddCollection registers a collection with its request options. An
// existing entry is replaced and loses its sync key.
func (c *SyncCache) AddCollection(id string, col CacheCollection) {
	c.Normalize()
	col.SyncKey = ""
	col.Pingable = false
	c.Collections[id] = col
}

// UpdateCollection merges the non-empty options of col into the stored
// entry, creating it when needed. newKey, if set, replaces the sync key.
func (c *SyncCache) UpdateCollection(id string, col CacheCollection, newKey string) {
	c.Normalize()
	cur := c.Collections[id]
	switch {
	case newKey != "":
		cur.SyncKey = newKey
	case col.SyncKey != "":
		cur.SyncKey = col.SyncKey
	}
	if col.Class != "" {
		cur.Class = col.Class
	}
	if col.WindowSize != nil {
		cur.WindowSize = col.WindowSize
	}
	if col.DeletesAsMoves != nil {
		cur.DeletesAsMoves = col.DeletesAsMoves
	}
	if col.FilterType != nil {
		cur.FilterType = col.FilterType
	}
	if col.Truncation != nil {
		cur.Truncation = col.Truncation
	}
	if col.MimeSupport != nil {
		cur.MimeSupport = col.MimeSupport
	}
	if col.MimeTruncation != nil {
		cur.MimeTruncation = col.MimeTruncation
	}
	if col.Conflict != nil {
		cur.Conflict = col.Conflict
	}
	if col.Pingable {
		cur.Pingable = true
	}
	c.Collections[id] = cur
}

// RemoveCollection forgets a collection.
func (c *SyncCache) RemoveCollection(id string) {
	delete(c.Collections, id)
}

// ClearCollectionKeys drops the sync key of every known collection.
func (c *SyncCache) ClearCollectionKeys() {
	for id, col := range c.Collections {
		col.SyncKey = ""
		c.Collections[id] = col
	}
}

// SetPingable marks a known collection as pingable. It reports false when
// the collection is unknown.
func (c *SyncCache) SetPingable(id string, pingable bool) bool {
	col, ok := c.Collections[id]
	if !ok {
		return false
	}
	col.Pingable = pingable
	c.Collections[id] = col
	return true
}

// CollectionIsPingable reports whether the collection is known and pingable.
func (c *SyncCache) CollectionIsPingable(id string) bool {
	col, ok := c.Collections[id]
	return ok && col.Pingable
}

// ConfirmKey records a sync key confirmed during a looping sync.
func (c *SyncCache) ConfirmKey(key string) {
	c.Normalize()
	c.ConfirmedSyncKeys[key] = true
}

// UnconfirmKey removes a confirmed key.
func (c *SyncCache) UnconfirmKey(key string) {
	delete(c.ConfirmedSyncKeys, key)
}

// ClearConfirmedKeys drops every confirmed key.
func (c *SyncCache) ClearConfirmedKeys() {
	c.ConfirmedSyncKeys = map[string]bool{}
}

// UpdateFolder records a folder the device knows about.
func (c *SyncCache) UpdateFolder(serverID string, f CacheFolder) {
	c.Normalize()
	c.Folders[serverID] = f
}

// DeleteFolder forgets a folder together with its collection entry.
func (c *SyncCache) DeleteFolder(serverID string) {
	delete(c.Folders, serverID)
	delete(c.Collections, serverID)
}

// ClearFolders drops the known folder list.
func (c *SyncCache) ClearFolders() {
	c.Folders = map[string]CacheFolder{}
}
