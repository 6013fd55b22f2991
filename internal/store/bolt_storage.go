// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"github.com/MKhiriev/go-activesync-state/internal/codec"
	"github.com/MKhiriev/go-activesync-state/internal/logger"
	"github.com/MKhiriev/go-activesync-state/internal/synckey"
	"github.com/MKhiriev/go-activesync-state/models"
)

var (
	bucketState   = []byte("state")
	bucketMap     = []byte("map")
	bucketMailMap = []byte("mailmap")
	bucketDevice  = []byte("device")
	bucketCache   = []byte("cache")
)

// keySep separates the parts of composite bucket keys. Device ids, users and
// sync keys never contain it.
const keySep = "\x00"

// BoltStore is the embedded document [StateStore] on a single bbolt file.
//
// Keys:
//
//	state    device \0 folder \0 synckey      -> StateRecord
//	map      device \0 user \0 sequence       -> ClientChange
//	mailmap  device \0 user \0 sequence       -> MailChange
//	device   device                           -> device document with links
//	cache    device \0 user                   -> SyncCache
type BoltStore struct {
	db     *bbolt.DB
	codec  *codec.Codec
	logger *logger.Logger
}

// NewBoltStore opens (or creates) the database at path. timeout bounds the
// wait for the file lock held by another process.
func NewBoltStore(path string, timeout time.Duration, c *codec.Codec, log *logger.Logger) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: timeout})
	if err != nil {
		log.Err(err).Str("func", "NewBoltStore").Str("path", path).Msg("error opening bolt database")
		return nil, fmt.Errorf("%w: %w", ErrBoltStorage, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketState, bucketMap, bucketMailMap, bucketDevice, bucketCache} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %w", ErrBoltStorage, err)
	}

	log.Debug().Str("func", "NewBoltStore").Str("path", path).Msg("bolt state store ready")
	return &BoltStore{db: db, codec: c, logger: log}, nil
}

func (s *BoltStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ── keys and documents ──

func joinKey(parts ...string) []byte {
	return []byte(strings.Join(parts, keySep))
}

// prefixKey is joinKey with a trailing separator, for prefix scans.
func prefixKey(parts ...string) []byte {
	return append(joinKey(parts...), keySep...)
}

func splitKey(k []byte) []string {
	return strings.Split(string(k), keySep)
}

func seqKey(deviceID, user string, seq uint64) []byte {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], seq)
	return append(prefixKey(deviceID, user), n[:]...)
}

// scan calls fn for every key under prefix. An empty prefix walks the
// whole bucket.
func scan(b *bbolt.Bucket, prefix []byte, fn func(k, v []byte) error) error {
	c := b.Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		if err := fn(k, v); err != nil {
			return err
		}
	}
	return nil
}

// deleteKeys removes keys collected during a scan. Deleting while a cursor
// walks the bucket skips entries.
func deleteKeys(b *bbolt.Bucket, keys [][]byte) error {
	for _, k := range keys {
		if err := b.Delete(k); err != nil {
			return fmt.Errorf("%w: %w", ErrBoltStorage, err)
		}
	}
	return nil
}

func (s *BoltStore) put(b *bbolt.Bucket, key []byte, v any) error {
	data, err := s.codec.Encode(v)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEncodingBlob, err)
	}
	if err := b.Put(key, data); err != nil {
		return fmt.Errorf("%w: %w", ErrBoltStorage, err)
	}
	return nil
}

func (s *BoltStore) decode(data []byte, v any) error {
	if err := s.codec.Decode(data, v); err != nil {
		return fmt.Errorf("%w: %w", ErrDecodingBlob, err)
	}
	return nil
}

// stateRecords collects the state records under prefix.
func (s *BoltStore) stateRecords(tx *bbolt.Tx, prefix []byte) ([]models.StateRecord, error) {
	var out []models.StateRecord
	err := scan(tx.Bucket(bucketState), prefix, func(_, v []byte) error {
		var rec models.StateRecord
		if err := s.decode(v, &rec); err != nil {
			return err
		}
		out = append(out, rec)
		return nil
	})
	return out, err
}

func statePrefix(deviceID, folderID string) []byte {
	switch {
	case deviceID == "":
		return nil
	case folderID == "":
		return prefixKey(deviceID)
	}
	return prefixKey(deviceID, folderID)
}

// ── StateRepository ──

func (s *BoltStore) LoadState(ctx context.Context, deviceID, syncKey string) (models.StateRecord, error) {
	var (
		rec   models.StateRecord
		found bool
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		return scan(tx.Bucket(bucketState), prefixKey(deviceID), func(k, v []byte) error {
			parts := splitKey(k)
			if found || parts[len(parts)-1] != syncKey {
				return nil
			}
			found = true
			return s.decode(v, &rec)
		})
	})
	if err != nil {
		logger.FromContext(ctx).Err(err).
			Str("func", "BoltStore.LoadState").
			Str("sync_key", syncKey).
			Msg("error loading state")
		return models.StateRecord{}, err
	}
	if !found {
		return models.StateRecord{}, fmt.Errorf("%w: %s", ErrStateGone, syncKey)
	}
	return rec, nil
}

func (s *BoltStore) SaveState(ctx context.Context, rec models.StateRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	rec.Timestamp = rec.Timestamp.Truncate(time.Second)

	err := s.db.Update(func(tx *bbolt.Tx) error {
		return s.put(tx.Bucket(bucketState), joinKey(rec.DeviceID, rec.FolderID, rec.SyncKey), rec)
	})
	if err != nil {
		logger.FromContext(ctx).Err(err).
			Str("func", "BoltStore.SaveState").
			Str("sync_key", rec.SyncKey).
			Msg("error saving state")
	}
	return err
}

func (s *BoltStore) LatestSyncKey(ctx context.Context, deviceID, user, folderID string) (string, error) {
	var keys []keyStamp
	err := s.db.View(func(tx *bbolt.Tx) error {
		recs, err := s.stateRecords(tx, statePrefix(deviceID, folderID))
		for _, r := range recs {
			if r.User == user {
				keys = append(keys, keyStamp{key: r.SyncKey, ts: r.Timestamp.Unix()})
			}
		}
		return err
	})
	if err != nil {
		return "", err
	}
	key := latestKey(keys)
	if key == "" {
		return "", fmt.Errorf("%w: no state for collection %s", ErrStateGone, folderID)
	}
	return key, nil
}

func (s *BoltStore) GetLastSyncTimestamp(ctx context.Context, deviceID, user, folderID string) (time.Time, error) {
	var last time.Time
	err := s.db.View(func(tx *bbolt.Tx) error {
		recs, err := s.stateRecords(tx, statePrefix(deviceID, folderID))
		for _, r := range recs {
			if r.User == user && r.Timestamp.After(last) {
				last = r.Timestamp
			}
		}
		return err
	})
	return last, err
}

func (s *BoltStore) ResetCollection(ctx context.Context, deviceID, user, folderID string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		recs, err := s.stateRecords(tx, statePrefix(deviceID, folderID))
		if err != nil {
			return err
		}
		var drop [][]byte
		for _, r := range recs {
			if r.User == user {
				drop = append(drop, joinKey(r.DeviceID, r.FolderID, r.SyncKey))
			}
		}
		if err := deleteKeys(tx.Bucket(bucketState), drop); err != nil {
			return err
		}

		if err := s.filterClientChanges(tx, prefixKey(deviceID, user), func(c models.ClientChange) bool {
			return c.FolderID != folderID
		}); err != nil {
			return err
		}
		return s.filterMailChanges(tx, prefixKey(deviceID, user), func(c models.MailChange) bool {
			return c.FolderID != folderID
		})
	})
	if err != nil {
		return err
	}

	logger.FromContext(ctx).Info().
		Str("func", "BoltStore.ResetCollection").
		Str("device_id", deviceID).
		Str("folder_id", folderID).
		Msg("collection state reset")
	return nil
}

func (s *BoltStore) SeriesInUse(ctx context.Context, uid string) (bool, error) {
	var used bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketState).ForEach(func(k, _ []byte) error {
			parts := splitKey(k)
			if inSeries(parts[len(parts)-1], uid) {
				used = true
			}
			return nil
		})
	})
	return used, err
}

func (s *BoltStore) UpdateServerID(ctx context.Context, deviceID, user, folderID, serverID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		recs, err := s.stateRecords(tx, statePrefix(deviceID, folderID))
		if err != nil {
			return err
		}
		b := tx.Bucket(bucketState)
		for _, r := range recs {
			if r.User != user {
				continue
			}
			r.Snapshot.ServerID = serverID
			if err := s.put(b, joinKey(r.DeviceID, r.FolderID, r.SyncKey), r); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) GarbageCollect(ctx context.Context, req GCRequest) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketState)
		var keys []string
		if err := scan(b, prefixKey(req.DeviceID, req.FolderID), func(k, _ []byte) error {
			parts := splitKey(k)
			keys = append(keys, parts[len(parts)-1])
			return nil
		}); err != nil {
			return err
		}
		var drop [][]byte
		for _, key := range synckey.SelectGarbage(keys, req.Current) {
			drop = append(drop, joinKey(req.DeviceID, req.FolderID, key))
		}
		if err := deleteKeys(b, drop); err != nil {
			return err
		}

		garbage := func(key string) bool {
			return len(synckey.SelectMapGarbage([]string{key}, req.Current)) > 0
		}
		prefix := prefixKey(req.DeviceID, req.User)
		if err := s.filterClientChanges(tx, prefix, func(c models.ClientChange) bool {
			return !garbage(c.SyncKey)
		}); err != nil {
			return err
		}
		return s.filterMailChanges(tx, prefix, func(c models.MailChange) bool {
			return !garbage(c.SyncKey)
		})
	})
	if err != nil {
		logger.FromContext(ctx).Err(err).
			Str("func", "BoltStore.GarbageCollect").
			Str("device_id", req.DeviceID).
			Str("folder_id", req.FolderID).
			Msg("error collecting garbage")
	}
	return err
}

func (s *BoltStore) PurgeStale(ctx context.Context, before time.Time) (int64, error) {
	var removed int64
	err := s.db.Update(func(tx *bbolt.Tx) error {
		recs, err := s.stateRecords(tx, nil)
		if err != nil {
			return err
		}
		var (
			drop [][]byte
			live []string
		)
		for _, r := range recs {
			if r.Timestamp.Before(before) {
				drop = append(drop, joinKey(r.DeviceID, r.FolderID, r.SyncKey))
				continue
			}
			live = append(live, r.SyncKey)
		}
		if err := deleteKeys(tx.Bucket(bucketState), drop); err != nil {
			return err
		}
		removed = int64(len(drop))

		series := liveSeries(live)
		if err := s.filterClientChanges(tx, nil, func(c models.ClientChange) bool {
			return len(orphanKeys([]string{c.SyncKey}, series)) == 0
		}); err != nil {
			return err
		}
		return s.filterMailChanges(tx, nil, func(c models.MailChange) bool {
			return len(orphanKeys([]string{c.SyncKey}, series)) == 0
		})
	})
	if err != nil {
		return 0, err
	}

	logger.FromContext(ctx).Info().
		Str("func", "BoltStore.PurgeStale").
		Int64("state_rows", removed).
		Msg("stale state purged")
	return removed, nil
}

// ── client change maps ──

func (s *BoltStore) clientChanges(tx *bbolt.Tx, prefix []byte, fn func(k []byte, c models.ClientChange) error) error {
	return scan(tx.Bucket(bucketMap), prefix, func(k, v []byte) error {
		var c models.ClientChange
		if err := s.decode(v, &c); err != nil {
			return err
		}
		return fn(k, c)
	})
}

func (s *BoltStore) mailChanges(tx *bbolt.Tx, prefix []byte, fn func(k []byte, c models.MailChange) error) error {
	return scan(tx.Bucket(bucketMailMap), prefix, func(k, v []byte) error {
		var c models.MailChange
		if err := s.decode(v, &c); err != nil {
			return err
		}
		return fn(k, c)
	})
}

func (s *BoltStore) filterClientChanges(tx *bbolt.Tx, prefix []byte, keep func(models.ClientChange) bool) error {
	var drop [][]byte
	err := s.clientChanges(tx, prefix, func(k []byte, c models.ClientChange) error {
		if !keep(c) {
			drop = append(drop, bytes.Clone(k))
		}
		return nil
	})
	if err != nil {
		return err
	}
	return deleteKeys(tx.Bucket(bucketMap), drop)
}

func (s *BoltStore) filterMailChanges(tx *bbolt.Tx, prefix []byte, keep func(models.MailChange) bool) error {
	var drop [][]byte
	err := s.mailChanges(tx, prefix, func(k []byte, c models.MailChange) error {
		if !keep(c) {
			drop = append(drop, bytes.Clone(k))
		}
		return nil
	})
	if err != nil {
		return err
	}
	return deleteKeys(tx.Bucket(bucketMailMap), drop)
}

func (s *BoltStore) InsertClientChange(ctx context.Context, c models.ClientChange) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketMap)
		seq, err := b.NextSequence()
		if err != nil {
			return fmt.Errorf("%w: %w", ErrBoltStorage, err)
		}
		return s.put(b, seqKey(c.DeviceID, c.User, seq), c)
	})
	if err != nil {
		logger.FromContext(ctx).Err(err).
			Str("func", "BoltStore.InsertClientChange").
			Str("message_uid", c.MessageUID).
			Msg("error recording client change")
	}
	return err
}

func (s *BoltStore) InsertMailChange(ctx context.Context, c models.MailChange) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketMailMap)
		seq, err := b.NextSequence()
		if err != nil {
			return fmt.Errorf("%w: %w", ErrBoltStorage, err)
		}
		return s.put(b, seqKey(c.DeviceID, c.User, seq), c)
	})
	if err != nil {
		logger.FromContext(ctx).Err(err).
			Str("func", "BoltStore.InsertMailChange").
			Str("message_uid", c.MessageUID).
			Msg("error recording mail change")
	}
	return err
}

// errStopScan ends a scan early without failing the transaction.
var errStopScan = errors.New("stop scan")

func (s *BoltStore) FindClientIDUID(ctx context.Context, deviceID, user, clientID string) (string, bool, error) {
	var uid string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return s.clientChanges(tx, prefixKey(deviceID, user), func(_ []byte, c models.ClientChange) error {
			if c.ClientID != "" && c.ClientID == clientID {
				uid = c.MessageUID
				return errStopScan
			}
			return nil
		})
	})
	if err != nil && !errors.Is(err, errStopScan) {
		return "", false, err
	}
	return uid, uid != "", nil
}

func (s *BoltStore) HasClientChanges(ctx context.Context, deviceID, user, folderID string, mail bool) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		prefix := prefixKey(deviceID, user)
		if mail {
			return s.mailChanges(tx, prefix, func(_ []byte, c models.MailChange) error {
				if c.FolderID == folderID {
					found = true
					return errStopScan
				}
				return nil
			})
		}
		return s.clientChanges(tx, prefix, func(_ []byte, c models.ClientChange) error {
			if c.FolderID == folderID {
				found = true
				return errStopScan
			}
			return nil
		})
	})
	if err != nil && !errors.Is(err, errStopScan) {
		return false, err
	}
	return found, nil
}

func (s *BoltStore) ClientChangeTimestamps(ctx context.Context, deviceID, user string, ids, syncKeys []string) (map[string]models.ClientStamp, error) {
	out := make(map[string]models.ClientStamp)
	want, keys := stringSet(ids), stringSet(syncKeys)
	err := s.db.View(func(tx *bbolt.Tx) error {
		return s.clientChanges(tx, prefixKey(deviceID, user), func(_ []byte, c models.ClientChange) error {
			if !want[c.MessageUID] || !keys[c.SyncKey] {
				return nil
			}
			st := out[c.MessageUID]
			if c.Deleted {
				st.Deleted = max(st.Deleted, c.ModTime)
			} else {
				st.Changed = max(st.Changed, c.ModTime)
			}
			out[c.MessageUID] = st
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BoltStore) MailChanges(ctx context.Context, deviceID, user string, ids, syncKeys []string) ([]models.MailChange, error) {
	var out []models.MailChange
	want, keys := stringSet(ids), stringSet(syncKeys)
	err := s.db.View(func(tx *bbolt.Tx) error {
		return s.mailChanges(tx, prefixKey(deviceID, user), func(_ []byte, c models.MailChange) error {
			if want[c.MessageUID] && keys[c.SyncKey] {
				out = append(out, c)
			}
			return nil
		})
	})
	return out, err
}

func stringSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, it := range items {
		out[it] = true
	}
	return out
}

var _ StateStore = (*BoltStore)(nil)
