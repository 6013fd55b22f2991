package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

type StructuredJSONConfig struct {
	Storage struct {
		Driver string `json:"driver"`

		DB struct {
			DSN          string `json:"dsn"`
			MaxOpenConns int    `json:"max_open_conns"`
			MaxIdleConns int    `json:"max_idle_conns"`
		} `json:"db,omitempty"`

		Files struct {
			StateDir string `json:"state_dir"`
		} `json:"files,omitempty"`

		Bolt struct {
			Path    string   `json:"path"`
			Timeout Duration `json:"timeout"`
		} `json:"bolt,omitempty"`

		Codec struct {
			Compression string `json:"compression"`
		} `json:"codec,omitempty"`
	} `json:"storage,omitempty"`

	Session struct {
		MaxCollisionRetries int      `json:"max_collision_retries"`
		PingLifetime        Duration `json:"ping_lifetime"`
	} `json:"session,omitempty"`

	Workers struct {
		SweepInterval Duration `json:"sweep_interval"`
		StaleAfter    Duration `json:"stale_after"`
	} `json:"workers,omitempty"`

	Log struct {
		Level string `json:"level"`
		File  string `json:"file"`
	} `json:"log,omitempty"`
}

func parseJSON(jsonFilePath string) (*StructuredConfig, error) {
	jsonFile, err := os.Open(jsonFilePath)
	if err != nil {
		return nil, fmt.Errorf("error reading a json file: %w", err)
	}
	defer jsonFile.Close()

	var jsonCfg StructuredJSONConfig
	if err := json.NewDecoder(jsonFile).Decode(&jsonCfg); err != nil {
		return nil, fmt.Errorf("error decoding json configs: %w", err)
	}

	s := jsonCfg.Storage
	cfg := &StructuredConfig{
		Storage: Storage{
			Driver: s.Driver,
			DB: DBConfig{
				DSN:          s.DB.DSN,
				MaxOpenConns: s.DB.MaxOpenConns,
				MaxIdleConns: s.DB.MaxIdleConns,
			},
			Files: Files{StateDir: s.Files.StateDir},
			Bolt: Bolt{
				Path:    s.Bolt.Path,
				Timeout: time.Duration(s.Bolt.Timeout),
			},
			Codec: Codec{Compression: s.Codec.Compression},
		},
		Session: Session{
			MaxCollisionRetries: jsonCfg.Session.MaxCollisionRetries,
			PingLifetime:        time.Duration(jsonCfg.Session.PingLifetime),
		},
		Workers: Workers{
			SweepInterval: time.Duration(jsonCfg.Workers.SweepInterval),
			StaleAfter:    time.Duration(jsonCfg.Workers.StaleAfter),
		},
		Log: Log{
			Level: jsonCfg.Log.Level,
			File:  jsonCfg.Log.File,
		},
	}

	return cfg, nil
}

// Duration is a wrapper around time.Duration that supports JSON unmarshaling from strings like "1h", "30s"
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value))
		return nil
	case string:
		tmp, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		*d = Duration(tmp)
		return nil
	default:
		return json.Unmarshal(b, (*time.Duration)(d))
	}
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}
