// Package config implements the bootstrap config record: the thin on-disk
// JSON file holding the remote URI, vault directory, bearer token, and
// tokenizer choice. This is distinct from the SyncSettings record inside
// PersistedState (internal/metadata) — the bootstrap config only seeds
// SyncSettings on first run. Grounded on
// OpenMined-syftbox/internal/client/config/config.go and
// OpenMined-syftbox/cmd/client/main.go's loadConfig.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/vaultsync/vaultsync/internal/utils"
)

var (
	home, _            = os.UserHomeDir()
	DefaultConfigPath  = filepath.Join(home, ".vaultsync", "config.json")
	DefaultVaultDir    = filepath.Join(home, "Vault")
	DefaultRemoteURI   = "https://vaultsync.example.org"
	DefaultClientURL   = "http://localhost:7938"
	DefaultLogFilePath = filepath.Join(home, ".vaultsync", "logs", "vaultsyncd.log")
	DefaultTokenizer   = "words"
)

var ErrInvalidURL = errors.New("invalid url")

// Config is the bootstrap record read from disk and/or environment/flags at
// startup. It is intentionally small: everything that can change at
// runtime (fetch interval, upload concurrency) lives in SyncSettings
// instead.
type Config struct {
	RemoteURI   string `json:"remote_uri" mapstructure:"remote_uri"`
	VaultDir    string `json:"vault_dir" mapstructure:"vault_dir"`
	Token       string `json:"token,omitempty" mapstructure:"token,omitempty"`
	Tokenizer   string `json:"tokenizer,omitempty" mapstructure:"tokenizer,omitempty"`
	ClientURL   string `json:"client_url,omitempty" mapstructure:"client_url,omitempty"`
	ClientToken string `json:"client_token,omitempty" mapstructure:"client_token,omitempty"`
	HistoryDB   bool   `json:"history_db" mapstructure:"history_db"`
	Path        string `json:"-" mapstructure:"config_path"`
}

func (c *Config) Save() error {
	if err := utils.EnsureParent(c.Path); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(c.Path, data, 0o600)
}

func (c *Config) Validate() error {
	if c.Path == "" {
		c.Path = DefaultConfigPath
	}

	var err error
	c.VaultDir, err = utils.ResolvePath(c.VaultDir)
	if err != nil {
		return err
	}

	if err := utils.ValidateURL(c.RemoteURI); err != nil {
		return fmt.Errorf("remote uri: %w", err)
	}

	if c.ClientURL == "" {
		c.ClientURL = DefaultClientURL
	}
	if err := utils.ValidateURL(c.ClientURL); err != nil {
		return fmt.Errorf("client url: %w", err)
	}

	if c.Tokenizer == "" {
		c.Tokenizer = DefaultTokenizer
	}

	return nil
}

func (c Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("vault_dir", c.VaultDir),
		slog.String("remote_uri", c.RemoteURI),
		slog.String("client_url", c.ClientURL),
		slog.String("tokenizer", c.Tokenizer),
		slog.Bool("token", c.Token != ""),
		slog.Bool("client_token", c.ClientToken != ""),
		slog.Bool("history_db", c.HistoryDB),
		slog.String("path", c.Path),
	)
}

func LoadFromFile(path string) (*Config, error) {
	path, err := utils.ResolvePath(path)
	if err != nil {
		return nil, err
	}

	data, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer data.Close()

	return LoadFromReader(path, data)
}

func LoadFromReader(path string, reader io.ReadCloser) (*Config, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.Path = path
	return &cfg, nil
}
