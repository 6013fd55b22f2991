package config

import (
	"flag"
	"fmt"
	"time"
)

// ParseFlags parses the configuration flags in args on its own FlagSet.
//
// Flags:
//
//	-driver storage driver (postgres, sqlite, file, bolt)
//	-d database DSN
//	-state-dir file backend state directory
//	-bolt-path bolt database path
//	-compression state blob compression (none, lz4, zstd)
//	-max-collision-retries sync key series collision retries
//	-sweep-interval stale state sweep period (e.g. "1h")
//	-stale-after age of removed state (e.g. "720h")
//	-log-level log level
//	-log-file log file path
//	-c/-config json file path with configs
func ParseFlags(args []string) (*StructuredConfig, error) {
	var (
		driver         string
		databaseDSN    string
		stateDir       string
		boltPath       string
		compression    string
		collisions     int
		sweepInterval  time.Duration
		staleAfter     time.Duration
		logLevel       string
		logFile        string
		jsonConfigPath string
	)

	fs := flag.NewFlagSet("activesync", flag.ContinueOnError)
	fs.StringVar(&driver, "driver", "", "Storage driver: postgres, sqlite, file or bolt")
	fs.StringVar(&databaseDSN, "d", "", "Database DSN")
	fs.StringVar(&stateDir, "state-dir", "", "File backend state directory")
	fs.StringVar(&boltPath, "bolt-path", "", "Bolt database path")
	fs.StringVar(&compression, "compression", "", "State blob compression: none, lz4 or zstd")
	fs.IntVar(&collisions, "max-collision-retries", 0, "Sync key series collision retries")
	fs.DurationVar(&sweepInterval, "sweep-interval", 0, "Stale state sweep period (e.g., 1h)")
	fs.DurationVar(&staleAfter, "stale-after", 0, "Age after which untouched state is removed (e.g., 720h)")
	fs.StringVar(&logLevel, "log-level", "", "Log level")
	fs.StringVar(&logFile, "log-file", "", "Log file path")
	fs.StringVar(&jsonConfigPath, "c", "", "JSON config file path")
	fs.StringVar(&jsonConfigPath, "config", "", "JSON config file path (alias)")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("error parsing flags: %w", err)
	}

	return &StructuredConfig{
		Storage: Storage{
			Driver: driver,
			DB:     DBConfig{DSN: databaseDSN},
			Files:  Files{StateDir: stateDir},
			Bolt:   Bolt{Path: boltPath},
			Codec:  Codec{Compression: compression},
		},
		Session: Session{
			MaxCollisionRetries: collisions,
		},
		Workers: Workers{
			SweepInterval: sweepInterval,
			StaleAfter:    staleAfter,
		},
		Log: Log{
			Level: logLevel,
			File:  logFile,
		},
		JSONFilePath: jsonConfigPath,
	}, nil
}
