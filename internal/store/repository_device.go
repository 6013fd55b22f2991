// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

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

// deviceRepository is the SQL implementation of [DeviceRepository].
// Device rows live in activesync_device, user links with their policy key
// in activesync_device_users.
type deviceRepository struct {
	db     *DB
	codec  *codec.Codec
	logger *logger.Logger
}

// NewDeviceRepository constructs a [DeviceRepository] on db.
func NewDeviceRepository(db *DB, c *codec.Codec, logger *logger.Logger) DeviceRepository {
	logger.Debug().Msg("creating device repository")
	return &deviceRepository{
		db:     db,
		codec:  c,
		logger: logger,
	}
}

func (r *deviceRepository) LoadDevice(ctx context.Context, deviceID, user string) (models.Device, error) {
	return r.loadDevice(ctx, r.db, deviceID, user)
}

func (r *deviceRepository) loadDevice(ctx context.Context, q queryer, deviceID, user string) (models.Device, error) {
	log := logger.FromContext(ctx)

	query, args, err := r.db.builder.
		Select(deviceColumns...).
		From(tableDevice).
		Where(sq.Eq{"device_id": deviceID}).
		ToSql()
	if err != nil {
		return models.Device{}, fmt.Errorf("%w: %w", ErrBuildingSQLQuery, err)
	}

	var (
		d                     models.Device
		supported, properties []byte
	)
	err = q.QueryRowContext(ctx, query, args...).
		Scan(&d.ID, &d.DeviceType, &d.UserAgent, &d.RWStatus, &supported, &properties)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Device{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
	}
	if err != nil {
		log.Err(err).
			Str("func", "deviceRepository.LoadDevice").
			Str("device_id", deviceID).
			Msg("error loading device")
		return models.Device{}, fmt.Errorf("%w: %w", ErrScanningRow, err)
	}
	if err := r.decodeMaps(&d, supported, properties); err != nil {
		return models.Device{}, err
	}

	if user == "" {
		return d, nil
	}
	d.User = user

	query, args, err = r.db.builder.
		Select("device_policykey").
		From(tableDeviceUsers).
		Where(sq.Eq{"device_id": deviceID, "device_user": user}).
		ToSql()
	if err != nil {
		return models.Device{}, fmt.Errorf("%w: %w", ErrBuildingSQLQuery, err)
	}
	err = q.QueryRowContext(ctx, query, args...).Scan(&d.PolicyKey)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return models.Device{}, fmt.Errorf("%w: %w", ErrScanningRow, err)
	}

	return d, nil
}

func (r *deviceRepository) decodeMaps(d *models.Device, supported, properties []byte) error {
	if len(supported) > 0 {
		if err := r.codec.Decode(supported, &d.Supported); err != nil {
			return fmt.Errorf("%w: %w", ErrDecodingBlob, err)
		}
	}
	if len(properties) > 0 {
		if err := r.codec.Decode(properties, &d.Properties); err != nil {
			return fmt.Errorf("%w: %w", ErrDecodingBlob, err)
		}
	}
	return nil
}

func (r *deviceRepository) SaveDevice(ctx context.Context, d models.Device, fields ...models.DeviceField) error {
	log := logger.FromContext(ctx)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBeginningTransaction, err)
	}
	defer tx.Rollback()

	existing, err := r.loadDevice(ctx, tx, d.ID, d.User)
	found := err == nil
	if err != nil && !errors.Is(err, ErrDeviceNotFound) {
		return err
	}

	merged := d
	if found {
		merged = existing
		merged.ApplyFields(d, fields...)
	}

	supported, err := r.codec.Encode(merged.Supported)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEncodingBlob, err)
	}
	properties, err := r.codec.Encode(merged.Properties)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEncodingBlob, err)
	}

	var stmt sq.Sqlizer
	if found {
		stmt = r.db.builder.
			Update(tableDevice).
			Set("device_type", merged.DeviceType).
			Set("device_agent", merged.UserAgent).
			Set("device_rwstatus", int(merged.RWStatus)).
			Set("device_supported", supported).
			Set("device_properties", properties).
			Where(sq.Eq{"device_id": d.ID})
	} else {
		stmt = r.db.builder.
			Insert(tableDevice).
			Columns(deviceColumns...).
			Values(d.ID, merged.DeviceType, merged.UserAgent, int(merged.RWStatus), supported, properties)
	}
	if _, err := exec(ctx, tx, stmt); err != nil {
		log.Err(err).
			Str("func", "deviceRepository.SaveDevice").
			Str("device_id", d.ID).
			Msg("error saving device")
		return err
	}

	if d.User != "" {
		linked, err := exists(ctx, tx, r.db.builder.
			Select("1").
			From(tableDeviceUsers).
			Where(sq.Eq{"device_id": d.ID, "device_user": d.User}).
			Limit(1))
		if err != nil {
			return err
		}
		switch {
		case !linked:
			_, err = exec(ctx, tx, r.db.builder.
				Insert(tableDeviceUsers).
				Columns("device_id", "device_user", "device_policykey").
				Values(d.ID, d.User, d.PolicyKey))
		case len(fields) == 0 || hasField(fields, models.DeviceFieldPolicyKey):
			_, err = exec(ctx, tx, r.db.builder.
				Update(tableDeviceUsers).
				Set("device_policykey", d.PolicyKey).
				Where(sq.Eq{"device_id": d.ID, "device_user": d.User}))
		}
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %w", ErrCommitingTransaction, err)
	}

	log.Debug().
		Str("func", "deviceRepository.SaveDevice").
		Str("device_id", d.ID).
		Str("user", d.User).
		Bool("created", !found).
		Msg("device saved")
	return nil
}

func hasField(fields []models.DeviceField, f models.DeviceField) bool {
	for _, x := range fields {
		if x == f {
			return true
		}
	}
	return false
}

func (r *deviceRepository) DeviceExists(ctx context.Context, deviceID, user string) (bool, error) {
	if user == "" {
		return exists(ctx, r.db, r.db.builder.
			Select("1").
			From(tableDevice).
			Where(sq.Eq{"device_id": deviceID}).
			Limit(1))
	}
	return exists(ctx, r.db, r.db.builder.
		Select("1").
		From(tableDeviceUsers).
		Where(sq.Eq{"device_id": deviceID, "device_user": user}).
		Limit(1))
}

func (r *deviceRepository) ListDevices(ctx context.Context, user string, filter models.DeviceFilter) ([]models.Device, error) {
	b := r.db.builder.
		Select(
			"d.device_id", "d.device_type", "d.device_agent", "d.device_rwstatus",
			"d.device_supported", "d.device_properties", "u.device_user", "u.device_policykey",
		).
		From(tableDevice + " d").
		LeftJoin(tableDeviceUsers + " u ON u.device_id = d.device_id").
		OrderBy("d.device_id", "u.device_user")
	if user != "" {
		b = b.Where(sq.Eq{"u.device_user": user})
	}
	if filter.DeviceType != "" {
		b = b.Where(sq.Eq{"d.device_type": filter.DeviceType})
	}
	if filter.UserAgent != "" {
		b = b.Where(sq.Eq{"d.device_agent": filter.UserAgent})
	}
	if filter.RWStatus != nil {
		b = b.Where(sq.Eq{"d.device_rwstatus": int(*filter.RWStatus)})
	}

	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBuildingSQLQuery, err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}
	defer rows.Close()

	var out []models.Device
	for rows.Next() {
		var (
			d                     models.Device
			supported, properties []byte
			devUser               sql.NullString
			policyKey             sql.NullInt64
		)
		if err := rows.Scan(&d.ID, &d.DeviceType, &d.UserAgent, &d.RWStatus, &supported, &properties, &devUser, &policyKey); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrScanningRows, err)
		}
		if err := r.decodeMaps(&d, supported, properties); err != nil {
			return nil, err
		}
		d.User, d.PolicyKey = devUser.String, policyKey.Int64
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrScanningRows, err)
	}
	return out, nil
}

func (r *deviceRepository) SetDeviceProperties(ctx context.Context, deviceID string, props map[string]string) error {
	blob, err := r.codec.Encode(props)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEncodingBlob, err)
	}
	n, err := exec(ctx, r.db, r.db.builder.
		Update(tableDevice).
		Set("device_properties", blob).
		Where(sq.Eq{"device_id": deviceID}))
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
	}
	return nil
}

func (r *deviceRepository) SetPolicyKey(ctx context.Context, deviceID, user string, key int64) error {
	log := logger.FromContext(ctx)

	n, err := exec(ctx, r.db, r.db.builder.
		Update(tableDeviceUsers).
		Set("device_policykey", key).
		Where(sq.Eq{"device_id": deviceID, "device_user": user}))
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s/%s", ErrDeviceNotFound, deviceID, user)
	}

	log.Info().
		Str("func", "deviceRepository.SetPolicyKey").
		Str("device_id", deviceID).
		Str("user", user).
		Int64("policy_key", key).
		Msg("policy key stored")
	return nil
}

func (r *deviceRepository) ResetAllPolicyKeys(ctx context.Context) error {
	n, err := exec(ctx, r.db, r.db.builder.Update(tableDeviceUsers).Set("device_policykey", 0))
	if err != nil {
		return err
	}
	logger.FromContext(ctx).Info().
		Str("func", "deviceRepository.ResetAllPolicyKeys").
		Int64("rows", n).
		Msg("all policy keys reset")
	return nil
}

func (r *deviceRepository) SetDeviceRWStatus(ctx context.Context, deviceID string, status models.RWStatus) error {
	log := logger.FromContext(ctx)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBeginningTransaction, err)
	}
	defer tx.Rollback()

	n, err := exec(ctx, tx, r.db.builder.
		Update(tableDevice).
		Set("device_rwstatus", int(status)).
		Where(sq.Eq{"device_id": deviceID}))
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
	}

	if status == models.RWStatusPending {
		// force the device through provisioning again
		if _, err := exec(ctx, tx, r.db.builder.
			Update(tableDeviceUsers).
			Set("device_policykey", 0).
			Where(sq.Eq{"device_id": deviceID})); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %w", ErrCommitingTransaction, err)
	}

	log.Info().
		Str("func", "deviceRepository.SetDeviceRWStatus").
		Str("device_id", deviceID).
		Str("rw_status", status.String()).
		Msg("remote wipe status changed")
	return nil
}
