package main

import (
	"fmt"

	"github.com/spf13/cobra"

	vsconfig "github.com/vaultsync/vaultsync/internal/config"
)

func init() {
	rootCmd.AddCommand(newInitCmd())
}

// newInitCmd writes a bootstrap config without any login flow: VaultSync
// carries a bearer token supplied directly by the operator, not an
// OTP/email handshake (see OpenMined-syftbox/cmd/client/init.go for the
// flow this intentionally drops).
func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a bootstrap VaultSync config",
		RunE: func(cmd *cobra.Command, args []string) error {
			remote, _ := cmd.Flags().GetString("remote")
			vaultDir, _ := cmd.Flags().GetString("vault")
			token, _ := cmd.Flags().GetString("token")
			force, _ := cmd.Flags().GetBool("force")

			path := resolveConfigPath(cmd)

			if !force {
				if existing, err := vsconfig.LoadFromFile(path); err == nil && existing.RemoteURI != "" {
					return fmt.Errorf("config already exists at %s (use --force to overwrite)", path)
				}
			}

			cfg := &vsconfig.Config{
				Path:      path,
				RemoteURI: remote,
				VaultDir:  vaultDir,
				Token:     token,
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := cfg.Save(); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s wrote config to %s\n", green("✓"), cyan(cfg.Path))
			return nil
		},
	}

	cmd.Flags().StringP("remote", "r", vsconfig.DefaultRemoteURI, "VaultSync remote URI")
	cmd.Flags().StringP("vault", "d", vsconfig.DefaultVaultDir, "Vault directory")
	cmd.Flags().StringP("token", "t", "", "Bearer token for the remote")
	cmd.Flags().Bool("force", false, "overwrite an existing config")
	return cmd
}
