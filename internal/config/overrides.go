package config

import (
	"errors"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const overridesFileName = ".vaultsync.yaml"

// VaultOverrides is the supplemented per-vault override file
// (SPEC_FULL.md "SUPPLEMENTED FEATURES"): a tokenizer choice and extra
// ignore globs layered on top of the CLI/env bootstrap config, read once
// at startup. Grounded on the teacher's internal/client/sync/sync_ignore.go
// pattern, widened to full YAML.
type VaultOverrides struct {
	Tokenizer    string   `yaml:"tokenizer,omitempty"`
	ExtraIgnores []string `yaml:"extraIgnores,omitempty"`
}

// LoadVaultOverrides reads <vaultDir>/.vaultsync.yaml. A missing file is
// not an error: it yields the zero-value VaultOverrides.
func LoadVaultOverrides(vaultDir string) (VaultOverrides, error) {
	path := filepath.Join(vaultDir, overridesFileName)

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return VaultOverrides{}, nil
	}
	if err != nil {
		return VaultOverrides{}, err
	}

	var overrides VaultOverrides
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return VaultOverrides{}, err
	}
	return overrides, nil
}
