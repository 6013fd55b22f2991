package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"
	"sort"

	"github.com/MKhiriev/go-activesync-state/internal/logger"
	"github.com/MKhiriev/go-activesync-state/models"
)

// ── client change maps ──

func (s *FileStore) readClientChanges(deviceID, user string) ([]models.ClientChange, error) {
	var rows []models.ClientChange
	err := s.readBlob(s.mapPath("map", deviceID, user), &rows)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return rows, err
}

func (s *FileStore) readMailChanges(deviceID, user string) ([]models.MailChange, error) {
	var rows []models.MailChange
	err := s.readBlob(s.mapPath("mailmap", deviceID, user), &rows)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return rows, err
}

// filterClientChanges keeps the rows of the map file for which keep is true.
// The file is removed once it is empty.
func (s *FileStore) filterClientChanges(deviceID, user string, keep func(models.ClientChange) bool) error {
	rows, err := s.readClientChanges(deviceID, user)
	if err != nil || len(rows) == 0 {
		return err
	}
	kept := slices.DeleteFunc(rows, func(c models.ClientChange) bool { return !keep(c) })
	if len(kept) == 0 {
		return removeFile(s.mapPath("map", deviceID, user))
	}
	return s.writeBlob(s.mapPath("map", deviceID, user), kept)
}

func (s *FileStore) filterMailChanges(deviceID, user string, keep func(models.MailChange) bool) error {
	rows, err := s.readMailChanges(deviceID, user)
	if err != nil || len(rows) == 0 {
		return err
	}
	kept := slices.DeleteFunc(rows, func(c models.MailChange) bool { return !keep(c) })
	if len(kept) == 0 {
		return removeFile(s.mapPath("mailmap", deviceID, user))
	}
	return s.writeBlob(s.mapPath("mailmap", deviceID, user), kept)
}

// eachMapFile calls fn for every device and user with a file under kind.
func (s *FileStore) eachMapFile(kind string, fn func(deviceID, user string) error) error {
	devices, err := subdirs(filepath.Join(s.dir, kind))
	if err != nil {
		return err
	}
	for _, dev := range devices {
		users, err := filesWithExt(filepath.Join(s.dir, kind, esc(dev)), ".map")
		if err != nil {
			return err
		}
		for _, user := range users {
			if err := fn(dev, user); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *FileStore) InsertClientChange(ctx context.Context, c models.ClientChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.readClientChanges(c.DeviceID, c.User)
	if err != nil {
		return err
	}
	if err := s.writeBlob(s.mapPath("map", c.DeviceID, c.User), append(rows, c)); err != nil {
		logger.FromContext(ctx).Err(err).
			Str("func", "FileStore.InsertClientChange").
			Str("message_uid", c.MessageUID).
			Msg("error recording client change")
		return err
	}
	return nil
}

func (s *FileStore) InsertMailChange(ctx context.Context, c models.MailChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.readMailChanges(c.DeviceID, c.User)
	if err != nil {
		return err
	}
	if err := s.writeBlob(s.mapPath("mailmap", c.DeviceID, c.User), append(rows, c)); err != nil {
		logger.FromContext(ctx).Err(err).
			Str("func", "FileStore.InsertMailChange").
			Str("message_uid", c.MessageUID).
			Msg("error recording mail change")
		return err
	}
	return nil
}

func (s *FileStore) FindClientIDUID(ctx context.Context, deviceID, user, clientID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.readClientChanges(deviceID, user)
	if err != nil {
		return "", false, err
	}
	for _, c := range rows {
		if c.ClientID != "" && c.ClientID == clientID {
			return c.MessageUID, true, nil
		}
	}
	return "", false, nil
}

func (s *FileStore) HasClientChanges(ctx context.Context, deviceID, user, folderID string, mail bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if mail {
		rows, err := s.readMailChanges(deviceID, user)
		if err != nil {
			return false, err
		}
		return slices.ContainsFunc(rows, func(c models.MailChange) bool { return c.FolderID == folderID }), nil
	}
	rows, err := s.readClientChanges(deviceID, user)
	if err != nil {
		return false, err
	}
	return slices.ContainsFunc(rows, func(c models.ClientChange) bool { return c.FolderID == folderID }), nil
}

func (s *FileStore) ClientChangeTimestamps(ctx context.Context, deviceID, user string, ids, syncKeys []string) (map[string]models.ClientStamp, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]models.ClientStamp)
	rows, err := s.readClientChanges(deviceID, user)
	if err != nil {
		return nil, err
	}
	for _, c := range rows {
		if !slices.Contains(ids, c.MessageUID) || !slices.Contains(syncKeys, c.SyncKey) {
			continue
		}
		st := out[c.MessageUID]
		if c.Deleted {
			st.Deleted = max(st.Deleted, c.ModTime)
		} else {
			st.Changed = max(st.Changed, c.ModTime)
		}
		out[c.MessageUID] = st
	}
	return out, nil
}

func (s *FileStore) MailChanges(ctx context.Context, deviceID, user string, ids, syncKeys []string) ([]models.MailChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.readMailChanges(deviceID, user)
	if err != nil {
		return nil, err
	}
	var out []models.MailChange
	for _, c := range rows {
		if slices.Contains(ids, c.MessageUID) && slices.Contains(syncKeys, c.SyncKey) {
			out = append(out, c)
		}
	}
	return out, nil
}

// ── devices ──

func (s *FileStore) readDevice(deviceID string) (deviceDoc, error) {
	var fd deviceDoc
	err := s.readBlob(s.devicePath(deviceID), &fd)
	if errors.Is(err, fs.ErrNotExist) {
		return deviceDoc{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
	}
	if err != nil {
		return deviceDoc{}, err
	}
	if fd.Users == nil {
		fd.Users = make(map[string]int64)
	}
	return fd, nil
}

func (fd deviceDoc) view(user string) models.Device {
	d := fd.Device
	d.User, d.PolicyKey = user, fd.Users[user]
	return d
}

func (s *FileStore) LoadDevice(ctx context.Context, deviceID, user string) (models.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fd, err := s.readDevice(deviceID)
	if err != nil {
		return models.Device{}, err
	}
	return fd.view(user), nil
}

func (s *FileStore) SaveDevice(ctx context.Context, d models.Device, fields ...models.DeviceField) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fd, err := s.readDevice(d.ID)
	found := err == nil
	if err != nil && !errors.Is(err, ErrDeviceNotFound) {
		return err
	}

	if found {
		fd.Device.ApplyFields(d, fields...)
	} else {
		fd = deviceDoc{Device: d, Users: make(map[string]int64)}
	}
	fd.Device.User, fd.Device.PolicyKey = "", 0

	if d.User != "" {
		_, linked := fd.Users[d.User]
		if !linked || len(fields) == 0 || hasField(fields, models.DeviceFieldPolicyKey) {
			fd.Users[d.User] = d.PolicyKey
		}
	}

	if err := s.writeBlob(s.devicePath(d.ID), fd); err != nil {
		logger.FromContext(ctx).Err(err).
			Str("func", "FileStore.SaveDevice").
			Str("device_id", d.ID).
			Msg("error saving device")
		return err
	}
	return nil
}

func (s *FileStore) DeviceExists(ctx context.Context, deviceID, user string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fd, err := s.readDevice(deviceID)
	if errors.Is(err, ErrDeviceNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if user == "" {
		return true, nil
	}
	_, ok := fd.Users[user]
	return ok, nil
}

func (s *FileStore) allDevices() ([]deviceDoc, error) {
	ids, err := filesWithExt(filepath.Join(s.dir, "device"), ".device")
	if err != nil {
		return nil, err
	}
	out := make([]deviceDoc, 0, len(ids))
	for _, id := range ids {
		fd, err := s.readDevice(id)
		if err != nil {
			return nil, err
		}
		out = append(out, fd)
	}
	return out, nil
}

// listDevices flattens device documents into one entry per user, like a
// left join of devices and their links.
func listDevices(docs []deviceDoc, user string, filter models.DeviceFilter) []models.Device {
	var out []models.Device
	for _, fd := range docs {
		if !filter.Match(fd.Device) {
			continue
		}
		if user != "" {
			if _, ok := fd.Users[user]; ok {
				out = append(out, fd.view(user))
			}
			continue
		}
		if len(fd.Users) == 0 {
			out = append(out, fd.view(""))
			continue
		}
		users := make([]string, 0, len(fd.Users))
		for u := range fd.Users {
			users = append(users, u)
		}
		sort.Strings(users)
		for _, u := range users {
			out = append(out, fd.view(u))
		}
	}
	return out
}

func (s *FileStore) ListDevices(ctx context.Context, user string, filter models.DeviceFilter) ([]models.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	docs, err := s.allDevices()
	if err != nil {
		return nil, err
	}
	return listDevices(docs, user, filter), nil
}

// updateDevice applies fn to the stored document of deviceID.
func (s *FileStore) updateDevice(deviceID string, fn func(*deviceDoc) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fd, err := s.readDevice(deviceID)
	if err != nil {
		return err
	}
	if err := fn(&fd); err != nil {
		return err
	}
	return s.writeBlob(s.devicePath(deviceID), fd)
}

func (s *FileStore) SetDeviceProperties(ctx context.Context, deviceID string, props map[string]string) error {
	return s.updateDevice(deviceID, func(fd *deviceDoc) error {
		fd.Device.Properties = props
		return nil
	})
}

func (s *FileStore) SetPolicyKey(ctx context.Context, deviceID, user string, key int64) error {
	return s.updateDevice(deviceID, func(fd *deviceDoc) error {
		if _, ok := fd.Users[user]; !ok {
			return fmt.Errorf("%w: %s/%s", ErrDeviceNotFound, deviceID, user)
		}
		fd.Users[user] = key
		return nil
	})
}

func (s *FileStore) ResetAllPolicyKeys(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	docs, err := s.allDevices()
	if err != nil {
		return err
	}
	for _, fd := range docs {
		for u := range fd.Users {
			fd.Users[u] = 0
		}
		if err := s.writeBlob(s.devicePath(fd.Device.ID), fd); err != nil {
			return err
		}
	}
	logger.FromContext(ctx).Info().
		Str("func", "FileStore.ResetAllPolicyKeys").
		Int("devices", len(docs)).
		Msg("all policy keys reset")
	return nil
}

func (s *FileStore) SetDeviceRWStatus(ctx context.Context, deviceID string, status models.RWStatus) error {
	return s.updateDevice(deviceID, func(fd *deviceDoc) error {
		fd.Device.RWStatus = status
		if status == models.RWStatusPending {
			for u := range fd.Users {
				fd.Users[u] = 0
			}
		}
		return nil
	})
}

// ── sync cache ──

func (s *FileStore) readCache(deviceID, user string) (models.SyncCache, error) {
	cache := models.NewSyncCache()
	err := s.readBlob(s.cachePath(deviceID, user), &cache)
	if errors.Is(err, fs.ErrNotExist) {
		return models.NewSyncCache(), nil
	}
	if err != nil {
		return models.SyncCache{}, err
	}
	cache.Normalize()
	return cache, nil
}

func (s *FileStore) GetSyncCache(ctx context.Context, deviceID, user string, fields ...models.CacheField) (models.SyncCache, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cache, err := s.readCache(deviceID, user)
	if err != nil {
		return models.SyncCache{}, err
	}
	return cache.Project(fields...), nil
}

func (s *FileStore) SaveSyncCache(ctx context.Context, deviceID, user string, cache models.SyncCache, fields ...models.CacheField) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	toSave := cache
	if len(fields) > 0 {
		var err error
		if toSave, err = s.readCache(deviceID, user); err != nil {
			return err
		}
		toSave.Merge(cache, append(fields, models.CacheFieldTimestamp)...)
	}
	return s.writeBlob(s.cachePath(deviceID, user), toSave)
}

func (s *FileStore) DeleteSyncCache(ctx context.Context, deviceID, user string) error {
	if deviceID == "" && user == "" {
		return ErrInvalidRemoveOptions
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.dropCaches(removalPlan{dropCache: true, cacheDevice: deviceID, cacheUser: user})
}

func (s *FileStore) dropCaches(p removalPlan) error {
	devices, err := subdirs(filepath.Join(s.dir, "cache"))
	if err != nil {
		return err
	}
	for _, dev := range devices {
		users, err := filesWithExt(filepath.Join(s.dir, "cache", esc(dev)), ".cache")
		if err != nil {
			return err
		}
		for _, user := range users {
			if p.matchCache(dev, user) {
				if err := removeFile(s.cachePath(dev, user)); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// ── removal ──

func (s *FileStore) RemoveState(ctx context.Context, opts models.RemoveStateOptions) error {
	log := logger.FromContext(ctx)

	plan, err := planRemoval(opts)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := s.stateRecords(plan.deviceID, plan.folderID)
	if err != nil {
		return err
	}
	for _, r := range recs {
		if plan.matchRow(r.SyncKey, r.DeviceID, r.User, r.FolderID) {
			if err := removeFile(s.statePath(r.DeviceID, r.FolderID, r.SyncKey)); err != nil {
				return err
			}
		}
	}

	for _, kind := range []string{"map", "mailmap"} {
		err := s.eachMapFile(kind, func(deviceID, user string) error {
			if kind == "map" {
				return s.filterClientChanges(deviceID, user, func(c models.ClientChange) bool {
					return !plan.matchRow(c.SyncKey, c.DeviceID, c.User, c.FolderID)
				})
			}
			return s.filterMailChanges(deviceID, user, func(c models.MailChange) bool {
				return !plan.matchRow(c.SyncKey, c.DeviceID, c.User, c.FolderID)
			})
		})
		if err != nil {
			return err
		}
	}

	if plan.dropCache {
		if err := s.dropCaches(plan); err != nil {
			return err
		}
	}

	if err := s.removeDevices(plan); err != nil {
		log.Err(err).
			Str("func", "FileStore.RemoveState").
			Str("device_id", opts.DeviceID).
			Msg("error removing device records")
		return err
	}

	log.Info().
		Str("func", "FileStore.RemoveState").
		Str("device_id", opts.DeviceID).
		Str("user", opts.User).
		Str("sync_key", opts.SyncKey).
		Str("collection_id", opts.CollectionID).
		Msg("state removed")
	return nil
}

func (s *FileStore) removeDevices(plan removalPlan) error {
	if !plan.touchesDevices() {
		return nil
	}
	docs, err := s.allDevices()
	if err != nil {
		return err
	}
	for _, doc := range docs {
		drop, changed := plan.applyDevice(&doc)
		switch {
		case drop:
			err = removeFile(s.devicePath(doc.Device.ID))
		case changed:
			err = s.writeBlob(s.devicePath(doc.Device.ID), doc)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

var _ StateStore = (*FileStore)(nil)
