// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package store

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/MKhiriev/go-activesync-state/internal/codec"
	"github.com/MKhiriev/go-activesync-state/internal/logger"
	"github.com/MKhiriev/go-activesync-state/models"
)

// SQLStore is the relational [StateStore]. It composes the SQL repositories
// over one connection.
type SQLStore struct {
	StateRepository
	ClientChangeRepository
	DeviceRepository
	SyncCacheRepository

	db *DB
}

// NewSQLStore wires the SQL repositories on db.
func NewSQLStore(db *DB, c *codec.Codec, log *logger.Logger) *SQLStore {
	return &SQLStore{
		StateRepository:        NewStateRepository(db, c, log),
		ClientChangeRepository: NewClientChangeRepository(db, log),
		DeviceRepository:       NewDeviceRepository(db, c, log),
		SyncCacheRepository:    NewSyncCacheRepository(db, c, log),
		db:                     db,
	}
}

func (s *SQLStore) RemoveState(ctx context.Context, opts models.RemoveStateOptions) error {
	log := logger.FromContext(ctx)

	plan, err := planRemoval(opts)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBeginningTransaction, err)
	}
	defer tx.Rollback()

	b := s.db.builder
	rows := plan.rowFilter()
	for _, table := range []string{tableState, tableMap, tableMailMap} {
		if _, err := exec(ctx, tx, b.Delete(table).Where(rows)); err != nil {
			log.Err(err).
				Str("func", "SQLStore.RemoveState").
				Str("table", table).
				Msg("error removing state rows")
			return err
		}
	}

	var stmts []sq.Sqlizer
	if plan.dropCache {
		cache := sq.Eq{}
		if plan.cacheDevice != "" {
			cache["cache_devid"] = plan.cacheDevice
		}
		if plan.cacheUser != "" {
			cache["cache_user"] = plan.cacheUser
		}
		stmts = append(stmts, b.Delete(tableCache).Where(cache))
	}
	switch {
	case plan.dropDevice:
		stmts = append(stmts,
			b.Delete(tableDeviceUsers).Where(sq.Eq{"device_id": plan.deviceID}),
			b.Delete(tableDevice).Where(sq.Eq{"device_id": plan.deviceID}),
		)
	case plan.dropUserLink:
		stmts = append(stmts, b.Delete(tableDeviceUsers).Where(sq.Eq{"device_id": plan.deviceID, "device_user": plan.user}))
	case plan.dropAllLinks:
		stmts = append(stmts, b.Delete(tableDeviceUsers).Where(sq.Eq{"device_user": plan.user}))
	}
	if plan.pruneOrphans {
		stmts = append(stmts, b.Delete(tableDevice).
			Where(sq.NotEq{"device_rwstatus": []int{int(models.RWStatusPending), int(models.RWStatusWiped)}}).
			Where("device_id NOT IN (SELECT device_id FROM " + tableDeviceUsers + ")"))
	}
	for _, stmt := range stmts {
		if _, err := exec(ctx, tx, stmt); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %w", ErrCommitingTransaction, err)
	}

	log.Info().
		Str("func", "SQLStore.RemoveState").
		Str("device_id", opts.DeviceID).
		Str("user", opts.User).
		Str("sync_key", opts.SyncKey).
		Str("collection_id", opts.CollectionID).
		Msg("state removed")
	return nil
}

// rowFilter returns the WHERE clause of the state and client change rows.
func (p removalPlan) rowFilter() sq.Eq {
	where := sq.Eq{}
	if p.syncKey != "" {
		where["sync_key"] = p.syncKey
	}
	if p.deviceID != "" {
		where["sync_devid"] = p.deviceID
	}
	if p.user != "" {
		where["sync_user"] = p.user
	}
	if p.folderID != "" {
		where["sync_folderid"] = p.folderID
	}
	return where
}

// Migrate applies the schema migrations.
func (s *SQLStore) Migrate() error {
	return s.db.Migrate()
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
