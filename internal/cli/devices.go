package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/MKhiriev/go-activesync-state/models"
)

func newDevicesCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "Inspect known devices",
	}
	cmd.AddCommand(newDevicesListCmd(opts))
	return cmd
}

func newDevicesListCmd(opts *rootOptions) *cobra.Command {
	var (
		user       string
		deviceType string
		userAgent  string
		wipeStatus int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List devices, optionally filtered",
		RunE: func(cmd *cobra.Command, args []string) error {
			svcs, _, closeFn, err := opts.openServices(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			filter := models.DeviceFilter{DeviceType: deviceType, UserAgent: userAgent}
			if cmd.Flags().Changed("wipe-status") {
				st := models.RWStatus(wipeStatus)
				filter.RWStatus = &st
			}

			devices, err := svcs.Admin.ListDevices(cmd.Context(), user, filter)
			if err != nil {
				return fmt.Errorf("failed to list devices: %w", err)
			}

			if opts.jsonOut {
				return printJSON(cmd.OutOrStdout(), toJSONDevices(devices))
			}
			if len(devices) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No devices.")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "DEVICE\tUSER\tTYPE\tUSER AGENT\tPOLICY KEY\tWIPE")
			for _, d := range devices {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n", d.ID, d.User, d.DeviceType, d.UserAgent, d.PolicyKey, d.RWStatus)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "only devices linked to this user")
	cmd.Flags().StringVar(&deviceType, "type", "", "only devices of this type")
	cmd.Flags().StringVar(&userAgent, "user-agent", "", "only devices with this user agent")
	cmd.Flags().IntVar(&wipeStatus, "wipe-status", 0, "only devices with this remote wipe status (0-3)")
	return cmd
}
