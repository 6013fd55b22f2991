package store

import (
	"context"
	"errors"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/MKhiriev/go-activesync-state/internal/logger"
	"github.com/MKhiriev/go-activesync-state/models"
)

// ── devices ──

func (s *BoltStore) getDevice(tx *bbolt.Tx, deviceID string) (deviceDoc, error) {
	data := tx.Bucket(bucketDevice).Get([]byte(deviceID))
	if data == nil {
		return deviceDoc{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
	}
	var doc deviceDoc
	if err := s.decode(data, &doc); err != nil {
		return deviceDoc{}, err
	}
	if doc.Users == nil {
		doc.Users = make(map[string]int64)
	}
	return doc, nil
}

func (s *BoltStore) allDevices(tx *bbolt.Tx) ([]deviceDoc, error) {
	var out []deviceDoc
	err := tx.Bucket(bucketDevice).ForEach(func(k, _ []byte) error {
		doc, err := s.getDevice(tx, string(k))
		if err != nil {
			return err
		}
		out = append(out, doc)
		return nil
	})
	return out, err
}

func (s *BoltStore) LoadDevice(ctx context.Context, deviceID, user string) (models.Device, error) {
	var d models.Device
	err := s.db.View(func(tx *bbolt.Tx) error {
		doc, err := s.getDevice(tx, deviceID)
		d = doc.view(user)
		return err
	})
	if err != nil {
		return models.Device{}, err
	}
	return d, nil
}

func (s *BoltStore) SaveDevice(ctx context.Context, d models.Device, fields ...models.DeviceField) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		doc, err := s.getDevice(tx, d.ID)
		found := err == nil
		if err != nil && !errors.Is(err, ErrDeviceNotFound) {
			return err
		}
		if found {
			doc.Device.ApplyFields(d, fields...)
		} else {
			doc = deviceDoc{Device: d, Users: make(map[string]int64)}
		}
		doc.Device.User, doc.Device.PolicyKey = "", 0

		if d.User != "" {
			_, linked := doc.Users[d.User]
			if !linked || len(fields) == 0 || hasField(fields, models.DeviceFieldPolicyKey) {
				doc.Users[d.User] = d.PolicyKey
			}
		}
		return s.put(tx.Bucket(bucketDevice), []byte(d.ID), doc)
	})
	if err != nil {
		logger.FromContext(ctx).Err(err).
			Str("func", "BoltStore.SaveDevice").
			Str("device_id", d.ID).
			Msg("error saving device")
	}
	return err
}

func (s *BoltStore) DeviceExists(ctx context.Context, deviceID, user string) (bool, error) {
	var ok bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		doc, err := s.getDevice(tx, deviceID)
		if errors.Is(err, ErrDeviceNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		_, linked := doc.Users[user]
		ok = user == "" || linked
		return nil
	})
	return ok, err
}

func (s *BoltStore) ListDevices(ctx context.Context, user string, filter models.DeviceFilter) ([]models.Device, error) {
	var out []models.Device
	err := s.db.View(func(tx *bbolt.Tx) error {
		docs, err := s.allDevices(tx)
		out = listDevices(docs, user, filter)
		return err
	})
	return out, err
}

func (s *BoltStore) updateDevice(deviceID string, fn func(*deviceDoc) error) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		doc, err := s.getDevice(tx, deviceID)
		if err != nil {
			return err
		}
		if err := fn(&doc); err != nil {
			return err
		}
		return s.put(tx.Bucket(bucketDevice), []byte(deviceID), doc)
	})
}

func (s *BoltStore) SetDeviceProperties(ctx context.Context, deviceID string, props map[string]string) error {
	return s.updateDevice(deviceID, func(doc *deviceDoc) error {
		doc.Device.Properties = props
		return nil
	})
}

func (s *BoltStore) SetPolicyKey(ctx context.Context, deviceID, user string, key int64) error {
	return s.updateDevice(deviceID, func(doc *deviceDoc) error {
		if _, ok := doc.Users[user]; !ok {
			return fmt.Errorf("%w: %s/%s", ErrDeviceNotFound, deviceID, user)
		}
		doc.Users[user] = key
		return nil
	})
}

func (s *BoltStore) ResetAllPolicyKeys(ctx context.Context) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		docs, err := s.allDevices(tx)
		if err != nil {
			return err
		}
		b := tx.Bucket(bucketDevice)
		for _, doc := range docs {
			for u := range doc.Users {
				doc.Users[u] = 0
			}
			if err := s.put(b, []byte(doc.Device.ID), doc); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) SetDeviceRWStatus(ctx context.Context, deviceID string, status models.RWStatus) error {
	err := s.updateDevice(deviceID, func(doc *deviceDoc) error {
		doc.Device.RWStatus = status
		if status == models.RWStatusPending {
			for u := range doc.Users {
				doc.Users[u] = 0
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	logger.FromContext(ctx).Info().
		Str("func", "BoltStore.SetDeviceRWStatus").
		Str("device_id", deviceID).
		Str("rw_status", status.String()).
		Msg("remote wipe status changed")
	return nil
}

// ── sync cache ──

func (s *BoltStore) getCache(tx *bbolt.Tx, deviceID, user string) (models.SyncCache, error) {
	cache := models.NewSyncCache()
	data := tx.Bucket(bucketCache).Get(joinKey(deviceID, user))
	if data == nil {
		return cache, nil
	}
	if err := s.decode(data, &cache); err != nil {
		return models.SyncCache{}, err
	}
	cache.Normalize()
	return cache, nil
}

func (s *BoltStore) GetSyncCache(ctx context.Context, deviceID, user string, fields ...models.CacheField) (models.SyncCache, error) {
	var cache models.SyncCache
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		cache, err = s.getCache(tx, deviceID, user)
		return err
	})
	if err != nil {
		return models.SyncCache{}, err
	}
	return cache.Project(fields...), nil
}

func (s *BoltStore) SaveSyncCache(ctx context.Context, deviceID, user string, cache models.SyncCache, fields ...models.CacheField) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		toSave := cache
		if len(fields) > 0 {
			var err error
			if toSave, err = s.getCache(tx, deviceID, user); err != nil {
				return err
			}
			toSave.Merge(cache, append(fields, models.CacheFieldTimestamp)...)
		}
		return s.put(tx.Bucket(bucketCache), joinKey(deviceID, user), toSave)
	})
}

func (s *BoltStore) DeleteSyncCache(ctx context.Context, deviceID, user string) error {
	if deviceID == "" && user == "" {
		return ErrInvalidRemoveOptions
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return s.dropCaches(tx, removalPlan{dropCache: true, cacheDevice: deviceID, cacheUser: user})
	})
}

func (s *BoltStore) dropCaches(tx *bbolt.Tx, p removalPlan) error {
	b := tx.Bucket(bucketCache)
	var drop [][]byte
	err := b.ForEach(func(k, _ []byte) error {
		parts := splitKey(k)
		if len(parts) == 2 && p.matchCache(parts[0], parts[1]) {
			drop = append(drop, append([]byte(nil), k...))
		}
		return nil
	})
	if err != nil {
		return err
	}
	return deleteKeys(b, drop)
}

// ── removal ──

func (s *BoltStore) RemoveState(ctx context.Context, opts models.RemoveStateOptions) error {
	log := logger.FromContext(ctx)

	plan, err := planRemoval(opts)
	if err != nil {
		return err
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		recs, err := s.stateRecords(tx, statePrefix(plan.deviceID, plan.folderID))
		if err != nil {
			return err
		}
		var drop [][]byte
		for _, r := range recs {
			if plan.matchRow(r.SyncKey, r.DeviceID, r.User, r.FolderID) {
				drop = append(drop, joinKey(r.DeviceID, r.FolderID, r.SyncKey))
			}
		}
		if err := deleteKeys(tx.Bucket(bucketState), drop); err != nil {
			return err
		}

		if err := s.filterClientChanges(tx, nil, func(c models.ClientChange) bool {
			return !plan.matchRow(c.SyncKey, c.DeviceID, c.User, c.FolderID)
		}); err != nil {
			return err
		}
		if err := s.filterMailChanges(tx, nil, func(c models.MailChange) bool {
			return !plan.matchRow(c.SyncKey, c.DeviceID, c.User, c.FolderID)
		}); err != nil {
			return err
		}

		if plan.dropCache {
			if err := s.dropCaches(tx, plan); err != nil {
				return err
			}
		}
		if !plan.touchesDevices() {
			return nil
		}

		docs, err := s.allDevices(tx)
		if err != nil {
			return err
		}
		b := tx.Bucket(bucketDevice)
		for _, doc := range docs {
			drop, changed := plan.applyDevice(&doc)
			switch {
			case drop:
				err = b.Delete([]byte(doc.Device.ID))
			case changed:
				err = s.put(b, []byte(doc.Device.ID), doc)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Err(err).
			Str("func", "BoltStore.RemoveState").
			Str("device_id", opts.DeviceID).
			Msg("error removing state")
		return err
	}

	log.Info().
		Str("func", "BoltStore.RemoveState").
		Str("device_id", opts.DeviceID).
		Str("user", opts.User).
		Str("sync_key", opts.SyncKey).
		Str("collection_id", opts.CollectionID).
		Msg("state removed")
	return nil
}
