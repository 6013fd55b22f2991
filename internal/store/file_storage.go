// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/MKhiriev/go-activesync-state/internal/codec"
	"github.com/MKhiriev/go-activesync-state/internal/logger"
	"github.com/MKhiriev/go-activesync-state/internal/synckey"
	"github.com/MKhiriev/go-activesync-state/models"
)

// FileStore is the local file [StateStore]. Every record is a codec blob:
//
//	<dir>/state/<device>/<folder>/<synckey>.state
//	<dir>/map/<device>/<user>.map
//	<dir>/mailmap/<device>/<user>.map
//	<dir>/device/<device>.device
//	<dir>/cache/<device>/<user>.cache
//
// Path segments are escaped with url.PathEscape. One mutex serializes all
// access, so a FileStore must not be shared between processes.
type FileStore struct {
	dir    string
	codec  *codec.Codec
	logger *logger.Logger

	mu sync.Mutex
}

// deviceDoc is the device document with its user links.
type deviceDoc struct {
	Device models.Device
	Users  map[string]int64
}

// NewFileStore creates the directory layout under dir.
func NewFileStore(dir string, c *codec.Codec, log *logger.Logger) (*FileStore, error) {
	for _, sub := range []string{"state", "map", "mailmap", "device", "cache"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o750); err != nil {
			log.Err(err).Str("func", "NewFileStore").Str("dir", dir).Msg("error creating state directory")
			return nil, fmt.Errorf("%w: %w", ErrFileStorage, err)
		}
	}
	log.Debug().Str("func", "NewFileStore").Str("dir", dir).Msg("file state store ready")
	return &FileStore{
		dir:    dir,
		codec:  c,
		logger: log,
	}, nil
}

func (s *FileStore) Close() error { return nil }

// ── paths and blobs ──

func esc(seg string) string { return url.PathEscape(seg) }

func unesc(seg string) string {
	v, err := url.PathUnescape(seg)
	if err != nil {
		return seg
	}
	return v
}

func (s *FileStore) statePath(deviceID, folderID, key string) string {
	return filepath.Join(s.dir, "state", esc(deviceID), esc(folderID), esc(key)+".state")
}

func (s *FileStore) mapPath(kind, deviceID, user string) string {
	return filepath.Join(s.dir, kind, esc(deviceID), esc(user)+".map")
}

func (s *FileStore) devicePath(deviceID string) string {
	return filepath.Join(s.dir, "device", esc(deviceID)+".device")
}

func (s *FileStore) cachePath(deviceID, user string) string {
	return filepath.Join(s.dir, "cache", esc(deviceID), esc(user)+".cache")
}

func (s *FileStore) readBlob(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := s.codec.Decode(data, v); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrDecodingBlob, path, err)
	}
	return nil
}

// writeBlob writes v through a temporary file renamed into place.
func (s *FileStore) writeBlob(path string, v any) error {
	data, err := s.codec.Encode(v)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEncodingBlob, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("%w: %w", ErrFileStorage, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFileStorage, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: %w", ErrFileStorage, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: %w", ErrFileStorage, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: %w", ErrFileStorage, err)
	}
	return nil
}

func removeFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %w", ErrFileStorage, err)
	}
	return nil
}

// subdirs lists the (unescaped) names of the directories in dir.
func subdirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFileStorage, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, unesc(e.Name()))
		}
	}
	return out, nil
}

// filesWithExt lists the (unescaped, extension stripped) names of files in dir.
func filesWithExt(dir, ext string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFileStorage, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ext) {
			continue
		}
		out = append(out, unesc(strings.TrimSuffix(e.Name(), ext)))
	}
	sort.Strings(out)
	return out, nil
}

// stateRecords loads every state record of deviceID (all devices when
// empty), optionally restricted to folderID.
func (s *FileStore) stateRecords(deviceID, folderID string) ([]models.StateRecord, error) {
	devices := []string{deviceID}
	if deviceID == "" {
		var err error
		if devices, err = subdirs(filepath.Join(s.dir, "state")); err != nil {
			return nil, err
		}
	}

	var out []models.StateRecord
	for _, dev := range devices {
		folders := []string{folderID}
		if folderID == "" {
			var err error
			if folders, err = subdirs(filepath.Join(s.dir, "state", esc(dev))); err != nil {
				return nil, err
			}
		}
		for _, folder := range folders {
			keys, err := filesWithExt(filepath.Join(s.dir, "state", esc(dev), esc(folder)), ".state")
			if err != nil {
				return nil, err
			}
			for _, key := range keys {
				var rec models.StateRecord
				if err := s.readBlob(s.statePath(dev, folder, key), &rec); err != nil {
					return nil, err
				}
				out = append(out, rec)
			}
		}
	}
	return out, nil
}

// ── StateRepository ──

func (s *FileStore) LoadState(ctx context.Context, deviceID, syncKey string) (models.StateRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	folders, err := subdirs(filepath.Join(s.dir, "state", esc(deviceID)))
	if err != nil {
		return models.StateRecord{}, err
	}
	for _, folder := range folders {
		var rec models.StateRecord
		err := s.readBlob(s.statePath(deviceID, folder, syncKey), &rec)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			logger.FromContext(ctx).Err(err).
				Str("func", "FileStore.LoadState").
				Str("sync_key", syncKey).
				Msg("error reading state file")
			return models.StateRecord{}, err
		}
		return rec, nil
	}
	return models.StateRecord{}, fmt.Errorf("%w: %s", ErrStateGone, syncKey)
}

// SaveState overwrites any earlier file of the same key.
func (s *FileStore) SaveState(ctx context.Context, rec models.StateRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	rec.Timestamp = rec.Timestamp.Truncate(time.Second)
	if err := s.writeBlob(s.statePath(rec.DeviceID, rec.FolderID, rec.SyncKey), rec); err != nil {
		logger.FromContext(ctx).Err(err).
			Str("func", "FileStore.SaveState").
			Str("sync_key", rec.SyncKey).
			Msg("error writing state file")
		return err
	}
	return nil
}

func (s *FileStore) LatestSyncKey(ctx context.Context, deviceID, user, folderID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := s.stateRecords(deviceID, folderID)
	if err != nil {
		return "", err
	}
	var keys []keyStamp
	for _, r := range recs {
		if r.User == user {
			keys = append(keys, keyStamp{key: r.SyncKey, ts: r.Timestamp.Unix()})
		}
	}
	key := latestKey(keys)
	if key == "" {
		return "", fmt.Errorf("%w: no state for collection %s", ErrStateGone, folderID)
	}
	return key, nil
}

func (s *FileStore) GetLastSyncTimestamp(ctx context.Context, deviceID, user, folderID string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := s.stateRecords(deviceID, folderID)
	if err != nil {
		return time.Time{}, err
	}
	var last time.Time
	for _, r := range recs {
		if r.User == user && r.Timestamp.After(last) {
			last = r.Timestamp
		}
	}
	return last, nil
}

func (s *FileStore) ResetCollection(ctx context.Context, deviceID, user, folderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := s.stateRecords(deviceID, folderID)
	if err != nil {
		return err
	}
	for _, r := range recs {
		if r.User != user {
			continue
		}
		if err := removeFile(s.statePath(r.DeviceID, r.FolderID, r.SyncKey)); err != nil {
			return err
		}
	}

	if err := s.filterClientChanges(deviceID, user, func(c models.ClientChange) bool {
		return c.FolderID != folderID
	}); err != nil {
		return err
	}
	if err := s.filterMailChanges(deviceID, user, func(c models.MailChange) bool {
		return c.FolderID != folderID
	}); err != nil {
		return err
	}

	logger.FromContext(ctx).Info().
		Str("func", "FileStore.ResetCollection").
		Str("device_id", deviceID).
		Str("folder_id", folderID).
		Msg("collection state reset")
	return nil
}

func (s *FileStore) SeriesInUse(ctx context.Context, uid string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := s.stateRecords("", "")
	if err != nil {
		return false, err
	}
	for _, r := range recs {
		if inSeries(r.SyncKey, uid) {
			return true, nil
		}
	}
	return false, nil
}

func (s *FileStore) UpdateServerID(ctx context.Context, deviceID, user, folderID, serverID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := s.stateRecords(deviceID, folderID)
	if err != nil {
		return err
	}
	for _, r := range recs {
		if r.User != user {
			continue
		}
		r.Snapshot.ServerID = serverID
		if err := s.writeBlob(s.statePath(r.DeviceID, r.FolderID, r.SyncKey), r); err != nil {
			return err
		}
	}
	return nil
}

func (s *FileStore) GarbageCollect(ctx context.Context, req GCRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := filesWithExt(filepath.Join(s.dir, "state", esc(req.DeviceID), esc(req.FolderID)), ".state")
	if err != nil {
		return err
	}
	for _, key := range synckey.SelectGarbage(keys, req.Current) {
		if err := removeFile(s.statePath(req.DeviceID, req.FolderID, key)); err != nil {
			return err
		}
	}

	drop := func(key string) bool {
		return len(synckey.SelectMapGarbage([]string{key}, req.Current)) > 0
	}
	if err := s.filterClientChanges(req.DeviceID, req.User, func(c models.ClientChange) bool {
		return !drop(c.SyncKey)
	}); err != nil {
		return err
	}
	return s.filterMailChanges(req.DeviceID, req.User, func(c models.MailChange) bool {
		return !drop(c.SyncKey)
	})
}

func (s *FileStore) PurgeStale(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := s.stateRecords("", "")
	if err != nil {
		return 0, err
	}

	var (
		removed int64
		live    []string
	)
	for _, r := range recs {
		if r.Timestamp.Before(before) {
			if err := removeFile(s.statePath(r.DeviceID, r.FolderID, r.SyncKey)); err != nil {
				return removed, err
			}
			removed++
			continue
		}
		live = append(live, r.SyncKey)
	}
	series := liveSeries(live)

	err = s.eachMapFile("map", func(deviceID, user string) error {
		return s.filterClientChanges(deviceID, user, func(c models.ClientChange) bool {
			return len(orphanKeys([]string{c.SyncKey}, series)) == 0
		})
	})
	if err != nil {
		return removed, err
	}
	err = s.eachMapFile("mailmap", func(deviceID, user string) error {
		return s.filterMailChanges(deviceID, user, func(c models.MailChange) bool {
			return len(orphanKeys([]string{c.SyncKey}, series)) == 0
		})
	})
	if err != nil {
		return removed, err
	}

	logger.FromContext(ctx).Info().
		Str("func", "FileStore.PurgeStale").
		Int64("state_rows", removed).
		Msg("stale state purged")
	return removed, nil
}
