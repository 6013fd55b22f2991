package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

const (
	tableState       = "activesync_state"
	tableMap         = "activesync_map"
	tableMailMap     = "activesync_mailmap"
	tableDevice      = "activesync_device"
	tableDeviceUsers = "activesync_device_users"
	tableCache       = "activesync_cache"
)

var (
	stateColumns = []string{
		"sync_key", "sync_data", "sync_devid", "sync_mod",
		"sync_folderid", "sync_user", "sync_pending", "sync_timestamp",
	}
	mapColumns = []string{
		"message_uid", "sync_modtime", "sync_key", "sync_devid",
		"sync_folderid", "sync_user", "sync_clientid", "sync_deleted",
	}
	mailMapColumns = []string{
		"message_uid", "sync_key", "sync_devid", "sync_folderid",
		"sync_user", "sync_read", "sync_flagged", "sync_deleted",
	}
	deviceColumns = []string{
		"device_id", "device_type", "device_agent", "device_rwstatus",
		"device_supported", "device_properties",
	}
)

// queryer is the part of *sql.DB and *sql.Tx used by the repositories.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// exec builds b and executes it on q, returning the affected row count.
func exec(ctx context.Context, q queryer, b sq.Sqlizer) (int64, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrBuildingSQLQuery, err)
	}
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrExecutingStatement, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrExecutingStatement, err)
	}
	return n, nil
}

// selectStrings runs a single column query and collects the values.
func selectStrings(ctx context.Context, q queryer, b sq.Sqlizer) ([]string, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBuildingSQLQuery, err)
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrScanningRows, err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrScanningRows, err)
	}
	return out, nil
}

// exists runs b (a SELECT 1 ... LIMIT 1) and reports whether it found a row.
func exists(ctx context.Context, q queryer, b sq.Sqlizer) (bool, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrBuildingSQLQuery, err)
	}
	var one int
	err = q.QueryRowContext(ctx, query, args...).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}
	return true, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullBool(b *bool) sql.NullBool {
	if b == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *b, Valid: true}
}

func boolPtr(b sql.NullBool) *bool {
	if !b.Valid {
		return nil
	}
	v := b.Bool
	return &v
}
