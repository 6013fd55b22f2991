// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/MKhiriev/go-activesync-state/internal/differ"
	"github.com/MKhiriev/go-activesync-state/internal/logger"
	"github.com/MKhiriev/go-activesync-state/internal/synckey"
	"github.com/MKhiriev/go-activesync-state/internal/utils"
	"github.com/MKhiriev/go-activesync-state/models"
)

type sessionStatus int

const (
	statusUnloaded sessionStatus = iota
	statusLoaded
	statusChangesComputed
	statusSaved
)

func (s sessionStatus) String() string {
	switch s {
	case statusLoaded:
		return "loaded"
	case statusChangesComputed:
		return "changes_computed"
	case statusSaved:
		return "saved"
	}
	return "unloaded"
}

// GetChangesOptions tunes one GetChanges call.
type GetChangesOptions struct {
	// Ping only checks for changes, client changes are not reconciled.
	Ping     bool
	MaxItems int
	// FullDiff diffs the full message list against the snapshot instead
	// of asking the backend for changes between stamps.
	FullDiff     bool
	ForceRefresh bool
}

// Session is the state of one sync request for a device and user:
// LoadState, GetChanges, UpdateState for every applied change, then Save.
// A Session is not safe for concurrent use. The collection lock is held
// from LoadState until Save or Close.
type Session struct {
	m        *SessionManager
	deviceID string
	user     string
	log      *logger.Logger
	device   *models.Device

	status     sessionStatus
	reqType    models.RequestType
	collection models.CollectionContext
	syncKey    string
	current    synckey.Key
	newKey     string
	snapshot   models.Snapshot
	changes    []models.Change
	lastStamp  int64
	thisStamp  int64
	lastSync   time.Time
	unlock     func()

	ping *models.SyncCache
}

// context attaches the request logger and device identity to ctx.
func (s *Session) context(ctx context.Context) context.Context {
	ctx = utils.WithDevice(ctx, s.deviceID, s.user)
	return s.log.WithContext(ctx)
}

func (s *Session) lockKey(folderID string) string {
	return s.deviceID + "/" + s.user + "/" + folderID
}

// LoadState loads the state stored under syncKey for col. An empty syncKey
// resets the collection: stored state and client change rows are dropped
// and the session starts from an empty snapshot. For a folder sync col.ID
// may be empty.
func (s *Session) LoadState(ctx context.Context, col models.CollectionContext, syncKey string, reqType models.RequestType) (err error) {
	ctx = s.context(ctx)
	log := logger.FromContext(ctx)

	if reqType == models.RequestFolderSync && col.ID == "" {
		col.ID = models.FolderSyncCollection
	}

	s.Close()
	unlock, err := s.m.locks.Lock(ctx, s.lockKey(col.ID))
	if err != nil {
		return fmt.Errorf("locking collection %s: %w", col.ID, err)
	}
	s.unlock = unlock
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	s.status = statusUnloaded
	s.reqType = reqType
	s.collection = col
	s.syncKey, s.newKey = "", ""
	s.current = synckey.Key{}
	s.changes = nil
	s.lastStamp, s.thisStamp = 0, 0
	s.lastSync = time.Time{}
	s.snapshot = models.Snapshot{Class: col.Class, CollectionID: col.ID, ServerID: col.ServerID}

	if syncKey == "" {
		if err := s.m.store.ResetCollection(ctx, s.deviceID, s.user, col.ID); err != nil {
			return err
		}
		log.Info().
			Str("func", "Session.LoadState").
			Str("folder_id", col.ID).
			Str("type", string(reqType)).
			Msg("empty sync key, collection state reset")
		s.status = statusLoaded
		return nil
	}

	k, err := synckey.Parse(syncKey)
	if err != nil {
		log.Warn().
			Str("func", "Session.LoadState").
			Str("sync_key", syncKey).
			Msg("invalid sync key")
		return err
	}

	if err := s.m.gc.Collect(ctx, s.deviceID, s.user, col.ID, k); err != nil {
		log.Err(err).
			Str("func", "Session.LoadState").
			Str("sync_key", syncKey).
			Msg("garbage collection failed")
		return err
	}

	rec, err := s.m.store.LoadState(ctx, s.deviceID, syncKey)
	if err != nil {
		return err
	}
	if rec.FolderID != col.ID || rec.User != s.user {
		log.Warn().
			Str("func", "Session.LoadState").
			Str("sync_key", syncKey).
			Str("stored_folder_id", rec.FolderID).
			Str("folder_id", col.ID).
			Msg("sync key belongs to another collection")
		return fmt.Errorf("%w: %s is not a key of %s", ErrStateGone, syncKey, col.ID)
	}

	s.syncKey, s.current = syncKey, k
	s.snapshot = rec.Snapshot
	s.snapshot.CollectionID = col.ID
	if s.snapshot.ServerID == "" {
		s.snapshot.ServerID = col.ServerID
	}
	if reqType == models.RequestSync {
		s.changes = rec.Pending
	}
	s.lastStamp, s.thisStamp = rec.ModStamp, rec.ModStamp
	s.lastSync = rec.Timestamp
	s.status = statusLoaded

	log.Debug().
		Str("func", "Session.LoadState").
		Str("sync_key", syncKey).
		Int("items", len(s.snapshot.Items)).
		Int("pending", len(s.changes)).
		Msg("state loaded")
	return nil
}

// GetChanges returns the changes to send for the loaded state. The backend
// is polled at most once per loaded state, a second call returns the same
// list.
func (s *Session) GetChanges(ctx context.Context, opts GetChangesOptions) ([]models.Change, error) {
	ctx = s.context(ctx)
	log := logger.FromContext(ctx)

	switch s.status {
	case statusChangesComputed:
		return s.changes, nil
	case statusLoaded:
	default:
		return nil, fmt.Errorf("%w: get changes in state %s", ErrNotLoaded, s.status)
	}

	if s.reqType == models.RequestFolderSync {
		folders, err := s.m.backend.GetFolderList(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing folders: %w", err)
		}
		s.changes = differ.Diff(s.snapshot.Items, folders)
		s.status = statusChangesComputed
		log.Debug().
			Str("func", "Session.GetChanges").
			Int("changes", len(s.changes)).
			Msg("folder changes computed")
		return s.changes, nil
	}

	if len(s.changes) > 0 && !opts.Ping {
		log.Debug().
			Str("func", "Session.GetChanges").
			Int("changes", len(s.changes)).
			Msg("returning changes left from previous request")
		s.status = statusChangesComputed
		return s.changes, nil
	}

	folderID := s.backendFolderID()
	stamp, ok, err := s.m.backend.GetSyncStamp(ctx, folderID, s.lastStamp)
	if err != nil {
		return nil, fmt.Errorf("getting sync stamp: %w", err)
	}
	if !ok || stamp < s.lastStamp {
		log.Warn().
			Str("func", "Session.GetChanges").
			Str("folder_id", s.collection.ID).
			Int64("last_stamp", s.lastStamp).
			Int64("stamp", stamp).
			Msg("backend stamp moved under us")
		return nil, fmt.Errorf("%w: folder %s", ErrStaleState, s.collection.ID)
	}
	s.thisStamp = stamp

	cutoff := s.collection.CutoffDate(s.m.now())
	var changes []models.Change
	if opts.FullDiff {
		items, err := s.m.backend.GetMessageList(ctx, folderID, cutoff)
		if err != nil {
			return nil, fmt.Errorf("listing messages: %w", err)
		}
		changes = differ.Diff(s.snapshot.Items, items)
	} else {
		changes, err = s.m.backend.GetServerChanges(ctx, models.ServerChangesRequest{
			Collection:   s.collection,
			FromStamp:    s.lastStamp,
			ToStamp:      stamp,
			Cutoff:       cutoff,
			PingOnly:     opts.Ping,
			InitialSync:  s.lastStamp == 0,
			MaxItems:     opts.MaxItems,
			ForceRefresh: opts.ForceRefresh,
		})
		if err != nil {
			return nil, fmt.Errorf("getting server changes: %w", err)
		}
	}

	if !opts.Ping && s.syncKey != "" {
		changes, err = s.m.tracker.Reconcile(ctx, s.deviceID, s.user, s.collection, s.current, changes)
		if err != nil {
			return nil, err
		}
	}

	s.changes = changes
	s.status = statusChangesComputed
	log.Debug().
		Str("func", "Session.GetChanges").
		Str("folder_id", s.collection.ID).
		Int64("stamp", stamp).
		Int("changes", len(changes)).
		Msg("server changes computed")
	return s.changes, nil
}

func (s *Session) backendFolderID() string {
	if s.collection.ServerID != "" {
		return s.collection.ServerID
	}
	return s.collection.ID
}

// UpdateState folds one applied change into the session. A server change
// is taken off the pending list and applied to the snapshot. A client
// change is recorded so it is not mirrored back, or applied to the folder
// snapshot during a folder sync.
func (s *Session) UpdateState(ctx context.Context, change models.Change, origin models.ChangeOrigin, clientID string) error {
	ctx = s.context(ctx)

	switch s.status {
	case statusLoaded, statusChangesComputed:
	case statusUnloaded:
		return ErrNotLoaded
	default:
		return fmt.Errorf("%w: update state in state %s", ErrInvalidState, s.status)
	}

	if origin == models.OriginClient {
		return s.updateFromClient(ctx, change, clientID)
	}

	if s.status != statusChangesComputed {
		return fmt.Errorf("%w: server change before changes were computed", ErrInvalidState)
	}

	i := slices.IndexFunc(s.changes, func(c models.Change) bool { return c.ID == change.ID })
	if i < 0 {
		logger.FromContext(ctx).Debug().
			Str("func", "Session.UpdateState").
			Str("id", change.ID).
			Msg("change is not pending")
		return nil
	}
	s.changes = slices.Delete(s.changes, i, i+1)

	if s.reqType == models.RequestFolderSync && change.Type != models.ChangeTypeDelete {
		stat, err := s.m.backend.StatFolder(ctx, change.ID)
		if err != nil {
			return fmt.Errorf("stat folder %s: %w", change.ID, err)
		}
		s.snapshot.Upsert(stat)
		return nil
	}
	s.applyToSnapshot(change)
	return nil
}

func (s *Session) updateFromClient(ctx context.Context, change models.Change, clientID string) error {
	if s.reqType == models.RequestFolderSync {
		s.applyToSnapshot(change)
		return nil
	}

	key := s.syncKey
	if key == "" {
		var err error
		if key, err = s.NewSyncKey(ctx); err != nil {
			return err
		}
	}
	return s.m.tracker.RecordClientChange(ctx, ClientChangeRecord{
		DeviceID: s.deviceID,
		User:     s.user,
		FolderID: s.collection.ID,
		Class:    s.collection.Class,
		SyncKey:  key,
		Change:   change,
		ClientID: clientID,
	})
}

func (s *Session) applyToSnapshot(c models.Change) {
	switch c.Type {
	case models.ChangeTypeDelete:
		s.snapshot.Remove(c.ID)
	case models.ChangeTypeFlags:
		if i := s.snapshot.Find(c.ID); i >= 0 {
			s.snapshot.Items[i].Flags = c.Flags
			return
		}
		s.snapshot.Upsert(c.Stat())
	default:
		s.snapshot.Upsert(c.Stat())
	}
}

// Save persists the snapshot and the changes left unsent under the new sync
// key and releases the collection lock.
func (s *Session) Save(ctx context.Context) error {
	ctx = s.context(ctx)
	log := logger.FromContext(ctx)

	if s.status != statusLoaded && s.status != statusChangesComputed {
		return fmt.Errorf("%w: save in state %s", ErrInvalidState, s.status)
	}

	key, err := s.NewSyncKey(ctx)
	if err != nil {
		return err
	}
	k, err := synckey.Parse(key)
	if err != nil {
		return err
	}

	modStamp := s.thisStamp
	if k.IsFirstInSeries() {
		// the next request fetches everything
		modStamp = 0
	}

	var pending []models.Change
	if s.reqType == models.RequestSync && len(s.changes) > 0 {
		pending = slices.Clone(s.changes)
	}

	rec := models.StateRecord{
		SyncKey:   key,
		DeviceID:  s.deviceID,
		User:      s.user,
		FolderID:  s.collection.ID,
		Snapshot:  s.snapshot,
		Pending:   pending,
		ModStamp:  modStamp,
		Timestamp: s.m.now(),
	}
	if err := s.m.store.SaveState(ctx, rec); err != nil {
		log.Err(err).
			Str("func", "Session.Save").
			Str("sync_key", key).
			Msg("error saving state")
		return err
	}

	log.Info().
		Str("func", "Session.Save").
		Str("folder_id", s.collection.ID).
		Str("sync_key", key).
		Int("items", len(s.snapshot.Items)).
		Int("pending", len(pending)).
		Msg("state saved")

	s.syncKey, s.current, s.newKey = key, k, ""
	s.status = statusSaved
	s.Close()
	return nil
}

// Close releases the collection lock. It is safe to call at any time.
func (s *Session) Close() {
	if s.unlock != nil {
		s.unlock()
		s.unlock = nil
	}
}

// CurrentSyncKey returns the key the state was loaded with, or the key it
// was saved under after Save.
func (s *Session) CurrentSyncKey() string {
	return s.syncKey
}

// NewSyncKey returns the key the next Save stores under, minting it on
// first use: the following key of the loaded series, or the first key of a
// fresh series.
func (s *Session) NewSyncKey(ctx context.Context) (string, error) {
	if s.newKey != "" {
		return s.newKey, nil
	}
	k, err := s.m.keys.Mint(ctx, s.syncKey, s.m.store.SeriesInUse)
	if err != nil {
		logger.FromContext(ctx).Err(err).
			Str("func", "Session.NewSyncKey").
			Str("sync_key", s.syncKey).
			Msg("error minting sync key")
		return "", err
	}
	s.newKey = k.String()
	return s.newKey, nil
}

// SetNewSyncKey overrides the key the next Save stores under.
func (s *Session) SetNewSyncKey(key string) error {
	if _, err := synckey.Parse(key); err != nil {
		return err
	}
	s.newKey = key
	return nil
}

// CheckCollision reports whether key starts a series some stored state
// already uses. Keys that continue a series never collide.
func (s *Session) CheckCollision(ctx context.Context, key string) (bool, error) {
	k, err := synckey.Parse(key)
	if err != nil {
		return false, err
	}
	if !k.IsFirstInSeries() {
		return false, nil
	}
	return s.m.store.SeriesInUse(s.context(ctx), k.UID())
}

// IsConflict reports whether a client change or delete of an item hits a
// server version newer than the last successful sync. Other change types
// never conflict.
func (s *Session) IsConflict(stat models.Stat, changeType models.ChangeType) bool {
	if stat.Mod <= s.lastStamp {
		return false
	}
	return changeType == models.ChangeTypeChange || changeType == models.ChangeTypeDelete
}

// GetKnownFolders returns the folder ids of a loaded folder sync state.
func (s *Session) GetKnownFolders() ([]string, error) {
	if s.status == statusUnloaded || s.reqType != models.RequestFolderSync {
		return nil, fmt.Errorf("%w: no folder sync state", ErrNotLoaded)
	}
	ids := make([]string, 0, len(s.snapshot.Items))
	for _, it := range s.snapshot.Items {
		ids = append(ids, it.ID)
	}
	return ids, nil
}

// UpdateServerIDInState rewrites the backend folder id kept in the stored
// snapshots of a collection after the backend renamed the folder.
func (s *Session) UpdateServerIDInState(ctx context.Context, folderUID, serverID string) error {
	if err := s.m.store.UpdateServerID(s.context(ctx), s.deviceID, s.user, folderUID, serverID); err != nil {
		return err
	}
	if s.collection.ID == folderUID {
		s.collection.ServerID = serverID
		s.snapshot.ServerID = serverID
	}
	return nil
}

// LatestSyncKeyForCollection returns the newest key stored for a
// collection. Used when a client change arrives with no key loaded.
func (s *Session) LatestSyncKeyForCollection(ctx context.Context, collectionID string) (string, error) {
	return s.m.store.LatestSyncKey(s.context(ctx), s.deviceID, s.user, collectionID)
}

// IsDuplicateAddition returns the server uid of an earlier addition the
// device made with clientID.
func (s *Session) IsDuplicateAddition(ctx context.Context, clientID string) (string, bool, error) {
	return s.m.tracker.IsDuplicateAddition(s.context(ctx), s.deviceID, s.user, clientID)
}

// ── device ──

// LoadDeviceInfo loads the device record with the policy key of the user.
func (s *Session) LoadDeviceInfo(ctx context.Context) (models.Device, error) {
	d, err := s.m.store.LoadDevice(s.context(ctx), s.deviceID, s.user)
	if err != nil {
		return models.Device{}, err
	}
	s.device = &d
	return d, nil
}

// SetDeviceInfo creates or updates the device record. With fields only
// those parts are written.
func (s *Session) SetDeviceInfo(ctx context.Context, d models.Device, fields ...models.DeviceField) error {
	ctx = s.context(ctx)
	d.ID, d.User = s.deviceID, s.user
	if err := s.m.store.SaveDevice(ctx, d, fields...); err != nil {
		return err
	}
	_, err := s.LoadDeviceInfo(ctx)
	return err
}

func (s *Session) DeviceExists(ctx context.Context) (bool, error) {
	return s.m.store.DeviceExists(s.context(ctx), s.deviceID, s.user)
}

func (s *Session) SetPolicyKey(ctx context.Context, key int64) error {
	if s.device == nil {
		return ErrDeviceNotLoaded
	}
	if err := s.m.store.SetPolicyKey(s.context(ctx), s.deviceID, s.user, key); err != nil {
		return err
	}
	s.device.PolicyKey = key
	return nil
}

func (s *Session) SetDeviceRWStatus(ctx context.Context, status models.RWStatus) error {
	if s.device == nil {
		return ErrDeviceNotLoaded
	}
	if err := s.m.store.SetDeviceRWStatus(s.context(ctx), s.deviceID, status); err != nil {
		return err
	}
	s.device.RWStatus = status
	if status == models.RWStatusPending {
		s.device.PolicyKey = 0
	}
	return nil
}

// GetLastSyncTimestamp returns the time of the last sync of the device and
// user in any collection.
func (s *Session) GetLastSyncTimestamp(ctx context.Context) (time.Time, error) {
	if s.device == nil {
		return time.Time{}, ErrDeviceNotLoaded
	}
	return s.m.store.GetLastSyncTimestamp(s.context(ctx), s.deviceID, s.user, "")
}

// ── sync cache ──

func (s *Session) GetSyncCache(ctx context.Context, fields ...models.CacheField) (models.SyncCache, error) {
	return s.m.store.GetSyncCache(s.context(ctx), s.deviceID, s.user, fields...)
}

// SaveSyncCache stamps cache with the current time and stores it.
func (s *Session) SaveSyncCache(ctx context.Context, cache *models.SyncCache, fields ...models.CacheField) error {
	cache.Touch(s.m.now())
	return s.m.store.SaveSyncCache(s.context(ctx), s.deviceID, s.user, *cache, fields...)
}

// ValidateCache reports whether cache is still the newest stored one. A
// cache written by another request since cache was loaded invalidates it.
func (s *Session) ValidateCache(ctx context.Context, cache models.SyncCache) (bool, error) {
	stored, err := s.GetSyncCache(ctx, models.CacheFieldTimestamp)
	if err != nil {
		return false, err
	}
	return !cache.IsStale(stored), nil
}

func (s *Session) DeleteSyncCache(ctx context.Context) error {
	return s.m.store.DeleteSyncCache(s.context(ctx), s.deviceID, s.user)
}

// ── ping ──

// InitPingState loads the ping bookkeeping of the device and returns the
// collections it knows about.
func (s *Session) InitPingState(ctx context.Context) (map[string]models.CacheCollection, error) {
	if s.device == nil {
		return nil, ErrDeviceNotLoaded
	}
	cache, err := s.GetSyncCache(ctx)
	if err != nil {
		return nil, err
	}
	s.ping = &cache
	return cache.Collections, nil
}

// AddPingCollections replaces the pingable collection set.
func (s *Session) AddPingCollections(cols []models.CollectionContext) error {
	if s.ping == nil {
		return ErrPingStateNotInitialized
	}
	for id, col := range s.ping.Collections {
		col.Pingable = false
		s.ping.Collections[id] = col
	}
	for _, c := range cols {
		s.ping.UpdateCollection(c.ID, models.CacheCollection{Class: c.Class, Pingable: true}, "")
	}
	return nil
}

// LoadPingCollectionState loads the newest state of col for a ping loop
// iteration. A collection never synced fails with ErrStateGone.
func (s *Session) LoadPingCollectionState(ctx context.Context, col models.CollectionContext) error {
	if s.ping == nil {
		return ErrPingStateNotInitialized
	}
	ctx = s.context(ctx)

	if _, ok := s.ping.Collections[col.ID]; !ok {
		logger.FromContext(ctx).Info().
			Str("func", "Session.LoadPingCollectionState").
			Str("folder_id", col.ID).
			Msg("found empty ping state for collection, priming it")
		s.ping.UpdateCollection(col.ID, models.CacheCollection{Class: col.Class, Pingable: true}, "")
		if err := s.SavePingState(ctx); err != nil {
			return err
		}
	}

	key, err := s.LatestSyncKeyForCollection(ctx, col.ID)
	if err != nil {
		if errors.Is(err, ErrStateGone) {
			return fmt.Errorf("%w: no previous sync for collection %s", ErrStateGone, col.ID)
		}
		return err
	}
	return s.LoadState(ctx, col, key, models.RequestSync)
}

// HeartbeatInterval returns the ping heartbeat in seconds, the configured
// ping lifetime when none was stored.
func (s *Session) HeartbeatInterval() (int, error) {
	if s.ping == nil {
		return 0, ErrPingStateNotInitialized
	}
	if s.ping.HBInterval == 0 {
		return int(s.m.cfg.PingLifetime / time.Second), nil
	}
	return s.ping.HBInterval, nil
}

func (s *Session) SetHeartbeatInterval(seconds int) error {
	if s.ping == nil {
		return ErrPingStateNotInitialized
	}
	s.ping.HBInterval = seconds
	return nil
}

// SavePingState stores the heartbeat and the collection set of the ping.
func (s *Session) SavePingState(ctx context.Context) error {
	if s.ping == nil {
		return ErrPingStateNotInitialized
	}
	return s.SaveSyncCache(ctx, s.ping, models.CacheFieldHBInterval, models.CacheFieldCollections)
}
