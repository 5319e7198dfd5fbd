package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	vsconfig "github.com/vaultsync/vaultsync/internal/config"
	"github.com/vaultsync/vaultsync/internal/utils"
)

// resolveConfigPath determines which config file path to use, honoring (in
// order): an explicit --config flag, the VAULTSYNC_CONFIG_PATH environment
// variable, existing config files in common locations, then the default
// path. Grounded on OpenMined-syftbox/cmd/client/config_path.go.
func resolveConfigPath(cmd *cobra.Command) string {
	if cfgFlag := cmd.Flag("config"); cfgFlag != nil && cfgFlag.Changed {
		return cfgFlag.Value.String()
	}

	if envPath := os.Getenv("VAULTSYNC_CONFIG_PATH"); envPath != "" {
		return envPath
	}

	candidates := []string{
		vsconfig.DefaultConfigPath,
		filepath.Join(home, ".config", "vaultsync", "config.json"),
	}

	for _, candidate := range candidates {
		if utils.FileExists(candidate) {
			return candidate
		}
	}

	return vsconfig.DefaultConfigPath
}

// loadClientConfig reads the bootstrap config for subcommands that talk to
// a running daemon or need the vault location without starting the full
// sync engine (init excluded: it writes a fresh config instead).
func loadClientConfig(cmd *cobra.Command) (*vsconfig.Config, error) {
	path := resolveConfigPath(cmd)
	cfg, err := vsconfig.LoadFromFile(path)
	if err != nil {
		return nil, err
	}

	if envURL := os.Getenv("VAULTSYNC_CLIENT_URL"); envURL != "" {
		cfg.ClientURL = envURL
	}
	if envToken := os.Getenv("VAULTSYNC_CLIENT_TOKEN"); envToken != "" {
		cfg.ClientToken = envToken
	}

	return cfg, nil
}
