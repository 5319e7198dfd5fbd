package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	vsconfig "github.com/vaultsync/vaultsync/internal/config"
)

func TestConfigPathCommandPrintsResolvedPath(t *testing.T) {
	cmd := &cobra.Command{Use: "vaultsyncd"}
	cmd.PersistentFlags().StringP("config", "c", vsconfig.DefaultConfigPath, "path to config file")
	cmd.AddCommand(newConfigPathCmd())

	t.Setenv("VAULTSYNC_CONFIG_PATH", "")

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"config-path"})

	require.NoError(t, cmd.Execute())
	require.Equal(t, vsconfig.DefaultConfigPath, strings.TrimSpace(out.String()))
}
