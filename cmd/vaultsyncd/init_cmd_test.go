package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	vsconfig "github.com/vaultsync/vaultsync/internal/config"
)

func newRootForTest() *cobra.Command {
	cmd := &cobra.Command{Use: "vaultsyncd"}
	cmd.PersistentFlags().StringP("config", "c", vsconfig.DefaultConfigPath, "path to config file")
	return cmd
}

func TestInitCommandWritesConfig(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.json")
	vaultDir := filepath.Join(dir, "vault")

	cmd := newRootForTest()
	cmd.AddCommand(newInitCmd())

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{
		"init",
		"--config", configPath,
		"--remote", "https://remote.example.org",
		"--vault", vaultDir,
		"--token", "tok-123",
	})

	require.NoError(t, cmd.Execute())

	loaded, err := vsconfig.LoadFromFile(configPath)
	require.NoError(t, err)
	require.Equal(t, "https://remote.example.org", loaded.RemoteURI)
	require.Equal(t, "tok-123", loaded.Token)
}

func TestInitCommandRefusesToOverwriteWithoutForce(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.json")
	vaultDir := filepath.Join(dir, "vault")

	cmd := newRootForTest()
	cmd.AddCommand(newInitCmd())
	cmd.SetArgs([]string{
		"init",
		"--config", configPath,
		"--remote", "https://remote.example.org",
		"--vault", vaultDir,
	})
	require.NoError(t, cmd.Execute())

	cmd2 := newRootForTest()
	cmd2.AddCommand(newInitCmd())
	cmd2.SilenceErrors = true
	cmd2.SetArgs([]string{
		"init",
		"--config", configPath,
		"--remote", "https://other.example.org",
		"--vault", vaultDir,
	})
	require.Error(t, cmd2.Execute())
}
