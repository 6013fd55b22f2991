// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package store

import (
	"context"
	"time"

	"github.com/MKhiriev/go-activesync-state/internal/synckey"
	"github.com/MKhiriev/go-activesync-state/models"
)

// StateRepository persists collection snapshots, one row per sync key.
type StateRepository interface {
	// LoadState returns the state stored under syncKey for the device, or
	// ErrStateGone.
	LoadState(ctx context.Context, deviceID, syncKey string) (models.StateRecord, error)
	// SaveState stores rec under rec.SyncKey. Saving the same key twice
	// replaces the first row.
	SaveState(ctx context.Context, rec models.StateRecord) error
	// LatestSyncKey returns the newest sync key stored for a collection, or
	// ErrStateGone.
	LatestSyncKey(ctx context.Context, deviceID, user, folderID string) (string, error)
	// GetLastSyncTimestamp returns the time of the newest state row of the
	// device and user, restricted to folderID when not empty. Zero time
	// when nothing is stored.
	GetLastSyncTimestamp(ctx context.Context, deviceID, user, folderID string) (time.Time, error)
	// ResetCollection drops every state and client change row of a collection.
	ResetCollection(ctx context.Context, deviceID, user, folderID string) error
	// SeriesInUse reports whether any state row belongs to the series uid ({uuid}).
	SeriesInUse(ctx context.Context, uid string) (bool, error)
	// UpdateServerID rewrites the backend server id stored in every
	// snapshot of a collection.
	UpdateServerID(ctx context.Context, deviceID, user, folderID, serverID string) error
	// GarbageCollect prunes superseded generations, see GCRequest.
	GarbageCollect(ctx context.Context, req GCRequest) error
	// PurgeStale removes state rows older than before and client change rows
	// of series that no longer have state. It returns the number of state
	// rows removed.
	PurgeStale(ctx context.Context, before time.Time) (int64, error)
}

// ClientChangeRepository keeps the record of changes that came from the
// device, so they are not sent back to it.
type ClientChangeRepository interface {
	InsertClientChange(ctx context.Context, change models.ClientChange) error
	InsertMailChange(ctx context.Context, change models.MailChange) error
	// FindClientIDUID returns the server uid assigned to an earlier addition
	// with the same client id.
	FindClientIDUID(ctx context.Context, deviceID, user, clientID string) (string, bool, error)
	// HasClientChanges reports whether any client change row exists for the
	// collection. mail selects the mail change table.
	HasClientChanges(ctx context.Context, deviceID, user, folderID string, mail bool) (bool, error)
	// ClientChangeTimestamps returns the latest client change timestamps of
	// ids, looking only at rows recorded under the given sync keys.
	ClientChangeTimestamps(ctx context.Context, deviceID, user string, ids, syncKeys []string) (map[string]models.ClientStamp, error)
	// MailChanges returns the mail change rows of ids recorded under syncKeys.
	MailChanges(ctx context.Context, deviceID, user string, ids, syncKeys []string) ([]models.MailChange, error)
}

// DeviceRepository persists device records and per-user policy keys.
type DeviceRepository interface {
	// LoadDevice returns the device, with the policy key of user when user
	// is set. It fails with ErrDeviceNotFound when the device is unknown.
	LoadDevice(ctx context.Context, deviceID, user string) (models.Device, error)
	// SaveDevice creates or updates a device. With fields only those parts
	// of an existing record are written. A non-empty d.User links the user.
	SaveDevice(ctx context.Context, d models.Device, fields ...models.DeviceField) error
	DeviceExists(ctx context.Context, deviceID, user string) (bool, error)
	// ListDevices returns one entry per device and user, restricted to user
	// when set.
	ListDevices(ctx context.Context, user string, filter models.DeviceFilter) ([]models.Device, error)
	SetDeviceProperties(ctx context.Context, deviceID string, props map[string]string) error
	SetPolicyKey(ctx context.Context, deviceID, user string, key int64) error
	ResetAllPolicyKeys(ctx context.Context) error
	// SetDeviceRWStatus stores the remote wipe status. Setting it to pending
	// clears every policy key of the device so it provisions again.
	SetDeviceRWStatus(ctx context.Context, deviceID string, status models.RWStatus) error
}

// SyncCacheRepository persists the per device and user sync cache.
type SyncCacheRepository interface {
	// GetSyncCache returns the stored cache, or the empty default one. With
	// fields only those are filled.
	GetSyncCache(ctx context.Context, deviceID, user string, fields ...models.CacheField) (models.SyncCache, error)
	// SaveSyncCache stores cache. With fields only those (and the
	// timestamp) are written over the stored cache.
	SaveSyncCache(ctx context.Context, deviceID, user string, cache models.SyncCache, fields ...models.CacheField) error
	// DeleteSyncCache removes the caches of a device, a user, or one pair.
	DeleteSyncCache(ctx context.Context, deviceID, user string) error
}

// StateStore is the full capability set a backend provides.
type StateStore interface {
	StateRepository
	ClientChangeRepository
	DeviceRepository
	SyncCacheRepository

	// RemoveState deletes state, client change rows and device records
	// selected by opts. A device flagged for remote wipe keeps its record
	// when state is removed for one of its users.
	RemoveState(ctx context.Context, opts models.RemoveStateOptions) error
	Close() error
}

// GCRequest selects what GarbageCollect prunes. State rows of the device and
// folder outside the retention window of Current are deleted (the current
// and the prior generation survive, other series are swept). Client change
// rows of the device and user in older generations of the same series are
// deleted.
type GCRequest struct {
	DeviceID string
	User     string
	FolderID string
	Current  synckey.Key
}
