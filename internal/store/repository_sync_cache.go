package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/MKhiriev/go-activesync-state/internal/codec"
	"github.com/MKhiriev/go-activesync-state/internal/logger"
	"github.com/MKhiriev/go-activesync-state/models"
)

// syncCacheRepository is the SQL implementation of [SyncCacheRepository].
type syncCacheRepository struct {
	db     *DB
	codec  *codec.Codec
	logger *logger.Logger
}

// NewSyncCacheRepository constructs a [SyncCacheRepository] on db.
func NewSyncCacheRepository(db *DB, c *codec.Codec, logger *logger.Logger) SyncCacheRepository {
	logger.Debug().Msg("creating sync cache repository")
	return &syncCacheRepository{
		db:     db,
		codec:  c,
		logger: logger,
	}
}

func (r *syncCacheRepository) GetSyncCache(ctx context.Context, deviceID, user string, fields ...models.CacheField) (models.SyncCache, error) {
	cache, err := r.load(ctx, r.db, deviceID, user)
	if err != nil {
		return models.SyncCache{}, err
	}
	return cache.Project(fields...), nil
}

func (r *syncCacheRepository) load(ctx context.Context, q queryer, deviceID, user string) (models.SyncCache, error) {
	query, args, err := r.db.builder.
		Select("cache_data").
		From(tableCache).
		Where(sq.Eq{"cache_devid": deviceID, "cache_user": user}).
		ToSql()
	if err != nil {
		return models.SyncCache{}, fmt.Errorf("%w: %w", ErrBuildingSQLQuery, err)
	}

	var data []byte
	err = q.QueryRowContext(ctx, query, args...).Scan(&data)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return models.NewSyncCache(), nil
	case err != nil:
		return models.SyncCache{}, fmt.Errorf("%w: %w", ErrScanningRow, err)
	}

	cache := models.NewSyncCache()
	if len(data) > 0 {
		if err := r.codec.Decode(data, &cache); err != nil {
			return models.SyncCache{}, fmt.Errorf("%w: %w", ErrDecodingBlob, err)
		}
	}
	cache.Normalize()
	return cache, nil
}

func (r *syncCacheRepository) SaveSyncCache(ctx context.Context, deviceID, user string, cache models.SyncCache, fields ...models.CacheField) error {
	log := logger.FromContext(ctx)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBeginningTransaction, err)
	}
	defer tx.Rollback()

	toSave := cache
	if len(fields) > 0 {
		toSave, err = r.load(ctx, tx, deviceID, user)
		if err != nil {
			return err
		}
		toSave.Merge(cache, append(fields, models.CacheFieldTimestamp)...)
	}

	data, err := r.codec.Encode(toSave)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEncodingBlob, err)
	}

	_, err = exec(ctx, tx, r.db.builder.
		Insert(tableCache).
		Columns("cache_devid", "cache_user", "cache_data").
		Values(deviceID, user, data).
		Suffix("ON CONFLICT (cache_devid, cache_user) DO UPDATE SET cache_data = excluded.cache_data"))
	if err != nil {
		log.Err(err).
			Str("func", "syncCacheRepository.SaveSyncCache").
			Str("device_id", deviceID).
			Str("user", user).
			Msg("error saving sync cache")
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %w", ErrCommitingTransaction, err)
	}
	return nil
}

func (r *syncCacheRepository) DeleteSyncCache(ctx context.Context, deviceID, user string) error {
	where := sq.Eq{}
	if deviceID != "" {
		where["cache_devid"] = deviceID
	}
	if user != "" {
		where["cache_user"] = user
	}
	if len(where) == 0 {
		return ErrInvalidRemoveOptions
	}

	n, err := exec(ctx, r.db, r.db.builder.Delete(tableCache).Where(where))
	if err != nil {
		return err
	}
	logger.FromContext(ctx).Debug().
		Str("func", "syncCacheRepository.DeleteSyncCache").
		Str("device_id", deviceID).
		Str("user", user).
		Int64("rows", n).
		Msg("sync cache deleted")
	return nil
}
