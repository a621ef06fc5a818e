// Package config loads the on-disk YAML configuration that selects the
// encryption mode, server identity, and keyring backend for this instance,
// following the load-into-typed-struct shape of getsops-sops/config/config.go.
package config

import (
	"fmt"
	"os"

	"github.com/mitchellh/mapstructure"
	yaml "go.yaml.in/yaml/v3"
)

// Mode mirrors the three-state encryption_mode setting spec.md §6 defines.
type Mode string

const (
	ModeOff     Mode = "N"
	ModeMaster  Mode = "Y"
	ModeKeyring Mode = "KEYRING"
)

func (m Mode) valid() bool {
	switch m {
	case ModeOff, ModeMaster, ModeKeyring:
		return true
	default:
		return false
	}
}

// Backend names the keyring.Gateway implementation to construct.
type Backend string

const (
	BackendFile   Backend = "file"
	BackendVault  Backend = "vault"
	BackendAWSKMS Backend = "awskms"
	BackendGCPKMS Backend = "gcpkms"
)

// FileBackendSettings configures keyring/file.
type FileBackendSettings struct {
	Dir           string `mapstructure:"dir"`
	SealKeyBase64 string `mapstructure:"seal_key_base64"`
}

// VaultBackendSettings configures keyring/vault.
type VaultBackendSettings struct {
	Address   string `mapstructure:"address"`
	MountPath string `mapstructure:"mount_path"`
	Token     string `mapstructure:"token"`
}

// AWSKMSBackendSettings configures keyring/awskms.
type AWSKMSBackendSettings struct {
	KeyARN     string `mapstructure:"key_arn"`
	Role       string `mapstructure:"role"`
	AWSProfile string `mapstructure:"aws_profile"`
	BlobDir    string `mapstructure:"blob_dir"`
}

// GCPKMSBackendSettings configures keyring/gcpkms.
type GCPKMSBackendSettings struct {
	ResourceID     string `mapstructure:"resource_id"`
	BlobDir        string `mapstructure:"blob_dir"`
	CredentialFile string `mapstructure:"credential_file"`
}

// Config is the full decoded on-disk configuration (spec.md §6).
type Config struct {
	EncryptionMode   Mode    `yaml:"encryption_mode"`
	ServerUUID       string  `yaml:"server_uuid"`
	ServerID         uint32  `yaml:"server_id"`
	ProductVersion   string  `yaml:"product_version"`
	RefuseLegacyRead bool    `yaml:"refuse_legacy_read"`
	KeyringBackend   Backend `yaml:"keyring_backend"`

	// Backends holds the raw per-backend settings map; only the section
	// named by KeyringBackend is decoded, via mapstructure, into the
	// matching typed struct above.
	Backends map[string]map[string]interface{} `yaml:"backends"`
}

// Load reads and parses the YAML configuration file at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %q: %w", path, err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %q: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if !c.EncryptionMode.valid() {
		return fmt.Errorf("config: encryption_mode must be one of N, Y, KEYRING, got %q", c.EncryptionMode)
	}
	if c.EncryptionMode == ModeKeyring {
		switch c.KeyringBackend {
		case BackendFile, BackendVault, BackendAWSKMS, BackendGCPKMS:
		default:
			return fmt.Errorf("config: keyring_backend must be one of file, vault, awskms, gcpkms, got %q", c.KeyringBackend)
		}
	}
	return nil
}

// decodeBackend mapstructure-decodes the settings map for name into out.
func (c *Config) decodeBackend(name Backend, out interface{}) error {
	section, ok := c.Backends[string(name)]
	if !ok {
		return fmt.Errorf("config: backends.%s section missing", name)
	}
	if err := mapstructure.Decode(section, out); err != nil {
		return fmt.Errorf("config: decoding backends.%s: %w", name, err)
	}
	return nil
}
