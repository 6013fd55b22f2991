// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package store

import (
	"context"
	"fmt"

	"github.com/MKhiriev/go-activesync-state/internal/codec"
	"github.com/MKhiriev/go-activesync-state/internal/config"
	"github.com/MKhiriev/go-activesync-state/internal/logger"
)

// NewStateStore opens the backend selected by cfg.Driver. It performs the
// following steps:
//  1. Builds the blob codec with the configured compression.
//  2. Opens the backend: a postgres or sqlite connection, the file tree or
//     the bolt database.
//  3. Runs pending schema migrations for the relational backends.
//
// Returns an error wrapping ErrUnknownDriver for an unsupported driver.
func NewStateStore(ctx context.Context, cfg config.Storage, log *logger.Logger) (StateStore, error) {
	log.Info().Str("driver", cfg.Driver).Msg("creating state store...")

	compression, err := codec.ParseCompression(cfg.Codec.Compression)
	if err != nil {
		return nil, err
	}
	c := codec.New(compression)

	switch cfg.Driver {
	case config.DriverPostgres, config.DriverSQLite:
		var db *DB
		if cfg.Driver == config.DriverPostgres {
			db, err = NewConnectPostgres(ctx, cfg.DB, log)
		} else {
			db, err = NewConnectSQLite(ctx, cfg.DB, log)
		}
		if err != nil {
			return nil, fmt.Errorf("%s connection error: %w", cfg.Driver, err)
		}

		s := NewSQLStore(db, c, log)
		if err := s.Migrate(); err != nil {
			db.Close()
			return nil, fmt.Errorf("migration failed: %w", err)
		}
		return s, nil

	case config.DriverFile:
		return NewFileStore(cfg.Files.StateDir, c, log)

	case config.DriverBolt:
		return NewBoltStore(cfg.Bolt.Path, cfg.Bolt.Timeout, c, log)
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
}
