package config

import (
	"encoding/base64"
	"fmt"
	"os"

	"github.com/tde-core/tdecore/keyring"
	"github.com/tde-core/tdecore/keyring/awskms"
	"github.com/tde-core/tdecore/keyring/file"
	"github.com/tde-core/tdecore/keyring/gcpkms"
	"github.com/tde-core/tdecore/keyring/vault"
)

// NewGateway constructs the keyring.Gateway named by c.KeyringBackend,
// decoding that backend's settings section via mapstructure. Dispatch
// mirrors getsops-sops/config/config.go's extractMasterKeys switch over
// per-backend key-group sections, one constructor call per backend.
func NewGateway(c *Config) (keyring.Gateway, error) {
	switch c.KeyringBackend {
	case BackendFile:
		var s FileBackendSettings
		if err := c.decodeBackend(BackendFile, &s); err != nil {
			return nil, err
		}
		var sealKey []byte
		if s.SealKeyBase64 != "" {
			decoded, err := base64.StdEncoding.DecodeString(s.SealKeyBase64)
			if err != nil {
				return nil, fmt.Errorf("config: decoding backends.file.seal_key_base64: %w", err)
			}
			sealKey = decoded
		}
		return file.New(s.Dir, sealKey)

	case BackendVault:
		var s VaultBackendSettings
		if err := c.decodeBackend(BackendVault, &s); err != nil {
			return nil, err
		}
		return vault.New(s.Address, s.MountPath, s.Token)

	case BackendAWSKMS:
		var s AWSKMSBackendSettings
		if err := c.decodeBackend(BackendAWSKMS, &s); err != nil {
			return nil, err
		}
		return awskms.New(s.KeyARN, s.Role, s.AWSProfile, s.BlobDir)

	case BackendGCPKMS:
		var s GCPKMSBackendSettings
		if err := c.decodeBackend(BackendGCPKMS, &s); err != nil {
			return nil, err
		}
		var credJSON []byte
		if s.CredentialFile != "" {
			raw, err := os.ReadFile(s.CredentialFile)
			if err != nil {
				return nil, fmt.Errorf("config: reading backends.gcpkms.credential_file: %w", err)
			}
			credJSON = raw
		}
		return gcpkms.New(s.ResourceID, s.BlobDir, credJSON)

	default:
		return nil, fmt.Errorf("config: unknown keyring_backend %q", c.KeyringBackend)
	}
}
