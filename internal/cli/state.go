package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/MKhiriev/go-activesync-state/models"
)

func newStateCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Manage stored sync state",
	}
	cmd.AddCommand(newStateRemoveCmd(opts))
	return cmd
}

func newStateRemoveCmd(opts *rootOptions) *cobra.Command {
	var o models.RemoveStateOptions

	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove stored state",
		Long: `Remove stored state. Selectors:
  --key                       one state generation
  --device [--user] [--collection]
                              a collection, a device user link or a whole device
  --user                      every device link of the user`,
		RunE: func(cmd *cobra.Command, args []string) error {
			svcs, _, closeFn, err := opts.openServices(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			if err := svcs.Admin.RemoveState(cmd.Context(), o); err != nil {
				return fmt.Errorf("failed to remove state: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "State removed.")
			return nil
		},
	}
	cmd.Flags().StringVar(&o.DeviceID, "device", "", "device id")
	cmd.Flags().StringVar(&o.User, "user", "", "user name")
	cmd.Flags().StringVar(&o.CollectionID, "collection", "", "collection id")
	cmd.Flags().StringVar(&o.SyncKey, "key", "", "sync key")
	return cmd
}

func newWipeCmd(opts *rootOptions) *cobra.Command {
	var cancel bool

	cmd := &cobra.Command{
		Use:   "wipe <device-id>",
		Short: "Request a remote wipe of a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svcs, _, closeFn, err := opts.openServices(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			if cancel {
				if err := svcs.Admin.CancelWipe(cmd.Context(), args[0]); err != nil {
					return fmt.Errorf("failed to cancel wipe: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wipe of %s cancelled.\n", args[0])
				return nil
			}
			if err := svcs.Admin.Wipe(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("failed to request wipe: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wipe of %s requested.\n", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&cancel, "cancel", false, "return the device to normal operation")
	return cmd
}

func newPolicyCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Manage provisioning policy keys",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Force every device to provision again",
		RunE: func(cmd *cobra.Command, args []string) error {
			svcs, _, closeFn, err := opts.openServices(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			if err := svcs.Admin.ResetPolicyKeys(cmd.Context()); err != nil {
				return fmt.Errorf("failed to reset policy keys: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Policy keys reset.")
			return nil
		},
	})
	return cmd
}

func newSweepCmd(opts *rootOptions) *cobra.Command {
	var staleAfter time.Duration

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Remove state not written for a while",
		RunE: func(cmd *cobra.Command, args []string) error {
			svcs, cfg, closeFn, err := opts.openServices(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			if staleAfter == 0 {
				staleAfter = cfg.Workers.StaleAfter
			}
			if staleAfter < 0 {
				return errors.New("--stale-after must be positive")
			}
			n, err := svcs.Admin.Sweep(cmd.Context(), staleAfter)
			if err != nil {
				return fmt.Errorf("failed to sweep: %w", err)
			}
			if opts.jsonOut {
				return printJSON(cmd.OutOrStdout(), jsonSweep{Removed: n, StaleAfter: staleAfter.String()})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d state rows older than %s.\n", n, staleAfter)
			return nil
		},
	}
	cmd.Flags().DurationVar(&staleAfter, "stale-after", 0, "age of removed state (defaults to the configured value)")
	return cmd
}
