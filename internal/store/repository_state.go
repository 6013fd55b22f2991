// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/MKhiriev/go-activesync-state/internal/codec"
	"github.com/MKhiriev/go-activesync-state/internal/logger"
	"github.com/MKhiriev/go-activesync-state/internal/synckey"
	"github.com/MKhiriev/go-activesync-state/models"
)

// stateRepository is the SQL implementation of [StateRepository]. Snapshots
// and pending changes are stored as codec blobs in activesync_state.
type stateRepository struct {
	db     *DB
	codec  *codec.Codec
	logger *logger.Logger
}

// NewStateRepository constructs a [StateRepository] on db.
func NewStateRepository(db *DB, c *codec.Codec, logger *logger.Logger) StateRepository {
	logger.Debug().Msg("creating state repository")
	return &stateRepository{
		db:     db,
		codec:  c,
		logger: logger,
	}
}

func (r *stateRepository) LoadState(ctx context.Context, deviceID, syncKey string) (models.StateRecord, error) {
	log := logger.FromContext(ctx)

	query, args, err := r.db.builder.
		Select(stateColumns...).
		From(tableState).
		Where(sq.Eq{"sync_key": syncKey, "sync_devid": deviceID}).
		ToSql()
	if err != nil {
		return models.StateRecord{}, fmt.Errorf("%w: %w", ErrBuildingSQLQuery, err)
	}

	rec, err := r.scanState(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		log.Info().
			Str("func", "stateRepository.LoadState").
			Str("device_id", deviceID).
			Str("sync_key", syncKey).
			Msg("no state stored for sync key")
		return models.StateRecord{}, fmt.Errorf("%w: %s", ErrStateGone, syncKey)
	}
	if err != nil {
		log.Err(err).
			Str("func", "stateRepository.LoadState").
			Str("device_id", deviceID).
			Str("sync_key", syncKey).
			Msg("error loading state")
		return models.StateRecord{}, err
	}

	return rec, nil
}

func (r *stateRepository) scanState(row *sql.Row) (models.StateRecord, error) {
	var (
		rec           models.StateRecord
		data, pending []byte
		ts            int64
	)
	err := row.Scan(&rec.SyncKey, &data, &rec.DeviceID, &rec.ModStamp, &rec.FolderID, &rec.User, &pending, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, err
	}
	if err != nil {
		return rec, fmt.Errorf("%w: %w", ErrScanningRow, err)
	}
	rec.Timestamp = time.Unix(ts, 0)

	if len(data) > 0 {
		if err := r.codec.Decode(data, &rec.Snapshot); err != nil {
			return rec, fmt.Errorf("%w: %w", ErrDecodingBlob, err)
		}
	}
	if len(pending) > 0 {
		if err := r.codec.Decode(pending, &rec.Pending); err != nil {
			return rec, fmt.Errorf("%w: %w", ErrDecodingBlob, err)
		}
	}
	return rec, nil
}

// SaveState inserts the row and, when the key is already stored (a retried
// request), deletes and reinserts it in one transaction.
func (r *stateRepository) SaveState(ctx context.Context, rec models.StateRecord) error {
	log := logger.FromContext(ctx)

	insert, err := r.insertState(rec)
	if err != nil {
		return err
	}

	_, err = exec(ctx, r.db, insert)
	if err == nil {
		return nil
	}
	if !r.db.isDuplicate(err) {
		log.Err(err).
			Str("func", "stateRepository.SaveState").
			Str("sync_key", rec.SyncKey).
			Str("pg_code", postgresError(err)).
			Msg("error saving state")
		return err
	}

	log.Warn().
		Str("func", "stateRepository.SaveState").
		Str("device_id", rec.DeviceID).
		Str("sync_key", rec.SyncKey).
		Msg("state for sync key already stored, replacing it")

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBeginningTransaction, err)
	}
	defer tx.Rollback()

	if _, err := exec(ctx, tx, r.db.builder.Delete(tableState).Where(sq.Eq{"sync_key": rec.SyncKey})); err != nil {
		return err
	}
	if _, err := exec(ctx, tx, insert); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		log.Err(err).
			Str("func", "stateRepository.SaveState").
			Str("sync_key", rec.SyncKey).
			Msg("failed to commit transaction")
		return fmt.Errorf("%w: %w", ErrCommitingTransaction, err)
	}
	return nil
}

func (r *stateRepository) insertState(rec models.StateRecord) (sq.InsertBuilder, error) {
	data, err := r.codec.Encode(rec.Snapshot)
	if err != nil {
		return sq.InsertBuilder{}, fmt.Errorf("%w: %w", ErrEncodingBlob, err)
	}
	pending, err := r.codec.Encode(rec.Pending)
	if err != nil {
		return sq.InsertBuilder{}, fmt.Errorf("%w: %w", ErrEncodingBlob, err)
	}
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	return r.db.builder.
		Insert(tableState).
		Columns(stateColumns...).
		Values(rec.SyncKey, data, rec.DeviceID, rec.ModStamp, rec.FolderID, rec.User, pending, ts.Unix()), nil
}

func (r *stateRepository) LatestSyncKey(ctx context.Context, deviceID, user, folderID string) (string, error) {
	query, args, err := r.db.builder.
		Select("sync_key", "sync_timestamp").
		From(tableState).
		Where(sq.Eq{"sync_devid": deviceID, "sync_user": user, "sync_folderid": folderID}).
		ToSql()
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrBuildingSQLQuery, err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}
	defer rows.Close()

	var keys []keyStamp
	for rows.Next() {
		var k keyStamp
		if err := rows.Scan(&k.key, &k.ts); err != nil {
			return "", fmt.Errorf("%w: %w", ErrScanningRows, err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrScanningRows, err)
	}

	key := latestKey(keys)
	if key == "" {
		return "", fmt.Errorf("%w: no state for collection %s", ErrStateGone, folderID)
	}
	return key, nil
}

func (r *stateRepository) GetLastSyncTimestamp(ctx context.Context, deviceID, user, folderID string) (time.Time, error) {
	where := sq.Eq{"sync_devid": deviceID, "sync_user": user}
	if folderID != "" {
		where["sync_folderid"] = folderID
	}
	query, args, err := r.db.builder.
		Select("MAX(sync_timestamp)").
		From(tableState).
		Where(where).
		ToSql()
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %w", ErrBuildingSQLQuery, err)
	}

	var ts sql.NullInt64
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&ts); err != nil {
		return time.Time{}, fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}
	if !ts.Valid {
		return time.Time{}, nil
	}
	return time.Unix(ts.Int64, 0), nil
}

func (r *stateRepository) ResetCollection(ctx context.Context, deviceID, user, folderID string) error {
	log := logger.FromContext(ctx)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBeginningTransaction, err)
	}
	defer tx.Rollback()

	where := sq.Eq{"sync_devid": deviceID, "sync_user": user, "sync_folderid": folderID}
	for _, table := range []string{tableState, tableMap, tableMailMap} {
		if _, err := exec(ctx, tx, r.db.builder.Delete(table).Where(where)); err != nil {
			log.Err(err).
				Str("func", "stateRepository.ResetCollection").
				Str("table", table).
				Msg("error resetting collection")
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %w", ErrCommitingTransaction, err)
	}

	log.Info().
		Str("func", "stateRepository.ResetCollection").
		Str("device_id", deviceID).
		Str("user", user).
		Str("folder_id", folderID).
		Msg("collection state reset")
	return nil
}

func (r *stateRepository) SeriesInUse(ctx context.Context, uid string) (bool, error) {
	return exists(ctx, r.db, r.db.builder.
		Select("1").
		From(tableState).
		Where(sq.Like{"sync_key": uid + "%"}).
		Limit(1))
}

func (r *stateRepository) UpdateServerID(ctx context.Context, deviceID, user, folderID, serverID string) error {
	log := logger.FromContext(ctx)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBeginningTransaction, err)
	}
	defer tx.Rollback()

	query, args, err := r.db.builder.
		Select("sync_key", "sync_data").
		From(tableState).
		Where(sq.Eq{"sync_devid": deviceID, "sync_user": user, "sync_folderid": folderID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBuildingSQLQuery, err)
	}

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}

	updated := make(map[string][]byte)
	for rows.Next() {
		var (
			key  string
			data []byte
		)
		if err := rows.Scan(&key, &data); err != nil {
			rows.Close()
			return fmt.Errorf("%w: %w", ErrScanningRows, err)
		}
		var snap models.Snapshot
		if len(data) > 0 {
			if err := r.codec.Decode(data, &snap); err != nil {
				rows.Close()
				return fmt.Errorf("%w: %w", ErrDecodingBlob, err)
			}
		}
		snap.ServerID = serverID
		blob, err := r.codec.Encode(snap)
		if err != nil {
			rows.Close()
			return fmt.Errorf("%w: %w", ErrEncodingBlob, err)
		}
		updated[key] = blob
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("%w: %w", ErrScanningRows, err)
	}
	rows.Close()

	for key, blob := range updated {
		upd := r.db.builder.Update(tableState).Set("sync_data", blob).Where(sq.Eq{"sync_key": key})
		if _, err := exec(ctx, tx, upd); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %w", ErrCommitingTransaction, err)
	}

	log.Info().
		Str("func", "stateRepository.UpdateServerID").
		Str("folder_id", folderID).
		Str("server_id", serverID).
		Int("rows", len(updated)).
		Msg("server id updated in stored state")
	return nil
}

func (r *stateRepository) GarbageCollect(ctx context.Context, req GCRequest) error {
	log := logger.FromContext(ctx)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBeginningTransaction, err)
	}
	defer tx.Rollback()

	stored, err := selectStrings(ctx, tx, r.db.builder.
		Select("sync_key").
		From(tableState).
		Where(sq.Eq{"sync_devid": req.DeviceID, "sync_folderid": req.FolderID}))
	if err != nil {
		return err
	}

	var removed int64
	if garbage := synckey.SelectGarbage(stored, req.Current); len(garbage) > 0 {
		removed, err = exec(ctx, tx, r.db.builder.
			Delete(tableState).
			Where(sq.Eq{"sync_devid": req.DeviceID, "sync_key": garbage}))
		if err != nil {
			return err
		}
	}

	for _, table := range []string{tableMap, tableMailMap} {
		keys, err := selectStrings(ctx, tx, r.db.builder.
			Select("DISTINCT sync_key").
			From(table).
			Where(sq.Eq{"sync_devid": req.DeviceID, "sync_user": req.User}).
			Where(sq.Like{"sync_key": req.Current.UID() + "%"}))
		if err != nil {
			return err
		}
		garbage := synckey.SelectMapGarbage(keys, req.Current)
		if len(garbage) == 0 {
			continue
		}
		if _, err := exec(ctx, tx, r.db.builder.
			Delete(table).
			Where(sq.Eq{"sync_devid": req.DeviceID, "sync_user": req.User, "sync_key": garbage})); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %w", ErrCommitingTransaction, err)
	}

	log.Debug().
		Str("func", "stateRepository.GarbageCollect").
		Str("device_id", req.DeviceID).
		Str("folder_id", req.FolderID).
		Str("sync_key", req.Current.String()).
		Int64("state_rows", removed).
		Msg("garbage collected")
	return nil
}

func (r *stateRepository) PurgeStale(ctx context.Context, before time.Time) (int64, error) {
	log := logger.FromContext(ctx)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrBeginningTransaction, err)
	}
	defer tx.Rollback()

	removed, err := exec(ctx, tx, r.db.builder.
		Delete(tableState).
		Where(sq.Lt{"sync_timestamp": before.Unix()}))
	if err != nil {
		return 0, err
	}

	live, err := selectStrings(ctx, tx, r.db.builder.Select("sync_key").From(tableState))
	if err != nil {
		return 0, err
	}
	series := liveSeries(live)

	for _, table := range []string{tableMap, tableMailMap} {
		keys, err := selectStrings(ctx, tx, r.db.builder.Select("DISTINCT sync_key").From(table))
		if err != nil {
			return 0, err
		}
		if orphans := orphanKeys(keys, series); len(orphans) > 0 {
			if _, err := exec(ctx, tx, r.db.builder.Delete(table).Where(sq.Eq{"sync_key": orphans})); err != nil {
				return 0, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrCommitingTransaction, err)
	}

	log.Info().
		Str("func", "stateRepository.PurgeStale").
		Time("before", before).
		Int64("state_rows", removed).
		Msg("stale state purged")
	return removed, nil
}
