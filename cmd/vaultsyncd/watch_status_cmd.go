package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// watchStatusCmd polls the local status endpoint at a fixed interval,
// adapted from OpenMined-syftbox/cmd/client/watch_status.go.
var watchStatusCmd = &cobra.Command{
	Use:   "watch-status",
	Short: "Continuously poll the local status endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		interval, _ := cmd.Flags().GetDuration("interval")
		raw, _ := cmd.Flags().GetBool("raw")

		cfg, err := loadClientConfig(cmd)
		if err != nil {
			return err
		}
		if cfg.ClientURL == "" || cfg.ClientToken == "" {
			return fmt.Errorf("client status endpoint not configured; set client_url/client_token in the config file or VAULTSYNC_CLIENT_URL/VAULTSYNC_CLIENT_TOKEN")
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-cmd.Context().Done():
				return nil
			case <-ticker.C:
				body, err := fetchStatus(cmd, cfg.ClientURL, cfg.ClientToken)
				if err != nil {
					fmt.Fprintf(os.Stderr, "%s %s %v\n", time.Now().UTC().Format(time.RFC3339), red("ERROR"), err)
					continue
				}
				printStatusBody(cmd.OutOrStdout(), body, raw)
			}
		}
	},
}

func init() {
	watchStatusCmd.Flags().Duration("interval", 1*time.Second, "poll interval")
	watchStatusCmd.Flags().Bool("raw", false, "print raw json without pretty formatting")
	rootCmd.AddCommand(watchStatusCmd)
}
