// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package config

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/MKhiriev/go-activesync-state/internal/codec"
)

// validate checks that the final merged [StructuredConfig] has everything
// the selected storage driver needs and sane session and worker limits.
func (cfg *StructuredConfig) validate() error {
	s := cfg.Storage
	switch s.Driver {
	case DriverPostgres, DriverSQLite:
		if s.DB.DSN == "" {
			return fmt.Errorf("%w: %s driver needs a DSN", ErrInvalidStorageConfigs, s.Driver)
		}
	case DriverFile:
		if s.Files.StateDir == "" {
			return fmt.Errorf("%w: file driver needs a state directory", ErrInvalidStorageConfigs)
		}
	case DriverBolt:
		if s.Bolt.Path == "" {
			return fmt.Errorf("%w: bolt driver needs a database path", ErrInvalidStorageConfigs)
		}
	default:
		return fmt.Errorf("%w: unknown driver %q", ErrInvalidStorageConfigs, s.Driver)
	}

	if _, err := codec.ParseCompression(s.Codec.Compression); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidStorageConfigs, err)
	}

	if cfg.Session.MaxCollisionRetries < 1 {
		return fmt.Errorf("%w: max collision retries must be positive", ErrInvalidSessionConfigs)
	}

	if cfg.Workers.SweepInterval <= 0 || cfg.Workers.StaleAfter <= 0 {
		return ErrInvalidWorkerConfigs
	}

	if _, err := zerolog.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidLogConfigs, err)
	}

	return nil
}
