// Package cli implements asctl, the administrative command line of the
// state store.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/MKhiriev/go-activesync-state/internal/config"
	"github.com/MKhiriev/go-activesync-state/internal/logger"
	"github.com/MKhiriev/go-activesync-state/internal/service"
	"github.com/MKhiriev/go-activesync-state/internal/store"
)

// version is set via ldflags at build time.
var version = "dev"

// rootOptions are the persistent flags shared by every subcommand.
type rootOptions struct {
	cfgFile  string
	driver   string
	dsn      string
	stateDir string
	boltPath string
	jsonOut  bool
	verbose  bool
}

func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "asctl",
		Short:         "Administer ActiveSync device state",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate(fmt.Sprintf("asctl %s\n", version))
	root.CompletionOptions.DisableDefaultCmd = true

	pf := root.PersistentFlags()
	pf.StringVarP(&opts.cfgFile, "config", "c", "", "JSON config file path")
	pf.StringVar(&opts.driver, "driver", "", "storage driver: postgres, sqlite, file or bolt")
	pf.StringVarP(&opts.dsn, "dsn", "d", "", "database DSN")
	pf.StringVar(&opts.stateDir, "state-dir", "", "file backend state directory")
	pf.StringVar(&opts.boltPath, "bolt-path", "", "bolt database path")
	pf.BoolVar(&opts.jsonOut, "json", false, "output in JSON format")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "log at the configured level instead of errors only")

	root.AddCommand(newDevicesCmd(opts))
	root.AddCommand(newStateCmd(opts))
	root.AddCommand(newWipeCmd(opts))
	root.AddCommand(newPolicyCmd(opts))
	root.AddCommand(newSweepCmd(opts))
	return root
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "asctl:", err)
		os.Exit(1)
	}
}

// loadConfig merges the persistent flags with the environment and the JSON
// file the same way asyncd does.
func (o *rootOptions) loadConfig() (*config.StructuredConfig, error) {
	var args []string
	add := func(name, value string) {
		if value != "" {
			args = append(args, "-"+name, value)
		}
	}
	add("config", o.cfgFile)
	add("driver", o.driver)
	add("d", o.dsn)
	add("state-dir", o.stateDir)
	add("bolt-path", o.boltPath)

	cfg, err := config.GetStructuredConfig(args)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// openServices opens the configured store. The returned func closes it.
func (o *rootOptions) openServices(ctx context.Context) (*service.Services, *config.StructuredConfig, func(), error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}

	log := logger.NewLogger("asctl")
	if cfg.Log.File != "" {
		log = logger.NewFileLogger("asctl", cfg.Log.File)
	}
	level := cfg.Log.Level
	if !o.verbose {
		level = "error"
	}
	if err := log.SetLevel(level); err != nil {
		return nil, nil, nil, err
	}

	st, err := store.NewStateStore(ctx, cfg.Storage, log)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open state store: %w", err)
	}
	closeFn := func() {
		if err := st.Close(); err != nil {
			log.Err(err).Msg("error closing state store")
		}
	}
	return service.NewServices(st, nil, *cfg, log), cfg, closeFn, nil
}
