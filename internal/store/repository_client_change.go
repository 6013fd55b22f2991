// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/MKhiriev/go-activesync-state/internal/logger"
	"github.com/MKhiriev/go-activesync-state/models"
)

// clientChangeRepository is the SQL implementation of
// [ClientChangeRepository] over activesync_map and activesync_mailmap.
type clientChangeRepository struct {
	db     *DB
	logger *logger.Logger
}

// NewClientChangeRepository constructs a [ClientChangeRepository] on db.
func NewClientChangeRepository(db *DB, logger *logger.Logger) ClientChangeRepository {
	logger.Debug().Msg("creating client change repository")
	return &clientChangeRepository{
		db:     db,
		logger: logger,
	}
}

func (r *clientChangeRepository) InsertClientChange(ctx context.Context, c models.ClientChange) error {
	log := logger.FromContext(ctx)

	_, err := exec(ctx, r.db, r.db.builder.
		Insert(tableMap).
		Columns(mapColumns...).
		Values(c.MessageUID, c.ModTime, c.SyncKey, c.DeviceID, c.FolderID, c.User, nullString(c.ClientID), c.Deleted))
	if err != nil {
		log.Err(err).
			Str("func", "clientChangeRepository.InsertClientChange").
			Str("message_uid", c.MessageUID).
			Str("sync_key", c.SyncKey).
			Msg("error recording client change")
		return err
	}
	return nil
}

func (r *clientChangeRepository) InsertMailChange(ctx context.Context, c models.MailChange) error {
	log := logger.FromContext(ctx)

	_, err := exec(ctx, r.db, r.db.builder.
		Insert(tableMailMap).
		Columns(mailMapColumns...).
		Values(c.MessageUID, c.SyncKey, c.DeviceID, c.FolderID, c.User, nullBool(c.Read), nullBool(c.Flagged), c.Deleted))
	if err != nil {
		log.Err(err).
			Str("func", "clientChangeRepository.InsertMailChange").
			Str("message_uid", c.MessageUID).
			Str("sync_key", c.SyncKey).
			Msg("error recording mail change")
		return err
	}
	return nil
}

func (r *clientChangeRepository) FindClientIDUID(ctx context.Context, deviceID, user, clientID string) (string, bool, error) {
	query, args, err := r.db.builder.
		Select("message_uid").
		From(tableMap).
		Where(sq.Eq{"sync_clientid": clientID, "sync_devid": deviceID, "sync_user": user}).
		Limit(1).
		ToSql()
	if err != nil {
		return "", false, fmt.Errorf("%w: %w", ErrBuildingSQLQuery, err)
	}

	var uid string
	err = r.db.QueryRowContext(ctx, query, args...).Scan(&uid)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", false, nil
	case err != nil:
		return "", false, fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}
	return uid, true, nil
}

func (r *clientChangeRepository) HasClientChanges(ctx context.Context, deviceID, user, folderID string, mail bool) (bool, error) {
	table := tableMap
	if mail {
		table = tableMailMap
	}
	return exists(ctx, r.db, r.db.builder.
		Select("1").
		From(table).
		Where(sq.Eq{"sync_devid": deviceID, "sync_user": user, "sync_folderid": folderID}).
		Limit(1))
}

func (r *clientChangeRepository) ClientChangeTimestamps(ctx context.Context, deviceID, user string, ids, syncKeys []string) (map[string]models.ClientStamp, error) {
	out := make(map[string]models.ClientStamp)
	if len(ids) == 0 || len(syncKeys) == 0 {
		return out, nil
	}

	query, args, err := r.db.builder.
		Select("message_uid", "sync_deleted", "MAX(sync_modtime)").
		From(tableMap).
		Where(sq.Eq{
			"sync_devid":  deviceID,
			"sync_user":   user,
			"message_uid": ids,
			"sync_key":    syncKeys,
		}).
		GroupBy("message_uid", "sync_deleted").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBuildingSQLQuery, err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			uid     string
			deleted bool
			ts      int64
		)
		if err := rows.Scan(&uid, &deleted, &ts); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrScanningRows, err)
		}
		s := out[uid]
		if deleted {
			s.Deleted = ts
		} else {
			s.Changed = ts
		}
		out[uid] = s
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrScanningRows, err)
	}
	return out, nil
}

func (r *clientChangeRepository) MailChanges(ctx context.Context, deviceID, user string, ids, syncKeys []string) ([]models.MailChange, error) {
	if len(ids) == 0 || len(syncKeys) == 0 {
		return nil, nil
	}

	query, args, err := r.db.builder.
		Select(mailMapColumns...).
		From(tableMailMap).
		Where(sq.Eq{
			"sync_devid":  deviceID,
			"sync_user":   user,
			"message_uid": ids,
			"sync_key":    syncKeys,
		}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBuildingSQLQuery, err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}
	defer rows.Close()

	var out []models.MailChange
	for rows.Next() {
		var (
			c             models.MailChange
			read, flagged sql.NullBool
		)
		if err := rows.Scan(&c.MessageUID, &c.SyncKey, &c.DeviceID, &c.FolderID, &c.User, &read, &flagged, &c.Deleted); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrScanningRows, err)
		}
		c.Read, c.Flagged = boolPtr(read), boolPtr(flagged)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrScanningRows, err)
	}
	return out, nil
}
