package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vaultsync/vaultsync/internal/metadata"
	"github.com/vaultsync/vaultsync/internal/vault"
)

func init() {
	rootCmd.AddCommand(newResetSyncStateCmd())
}

// newResetSyncStateCmd clears document metadata and the change-log cursor
// without starting the watcher or the network stack, for recovering a vault
// stuck on a corrupted cursor or an irreconcilable metadata entry.
func newResetSyncStateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-sync-state",
		Short: "Clear local sync metadata and force a full resync",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadClientConfig(cmd)
			if err != nil {
				return err
			}

			v, err := vault.Open(cfg.VaultDir)
			if err != nil {
				return err
			}
			if err := v.Setup(); err != nil {
				return err
			}
			defer v.Unlock()

			persistence := metadata.FilePersistence{Path: v.StatePath}
			store, err := metadata.New(persistence.Load, persistence.Save)
			if err != nil {
				return err
			}

			if err := store.ResetSyncState(); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s sync state reset for %s\n", green("✓"), cyan(v.Root))
			return nil
		},
	}
}
