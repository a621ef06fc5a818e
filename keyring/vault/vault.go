// Package vault implements keyring.Gateway over a HashiCorp Vault KV v2
// secrets engine. It is adapted from getsops-sops's hcvault MasterKey, which
// wraps a single SOPS data key via Vault's Transit engine; here the same
// client-construction idiom (address + token, falling back to
// ~/.vault-token) is generalized to store/fetch/remove an arbitrary named
// raw key under a KV v2 mount, matching the "keyring_vault" style plugin
// this core's EXTERNAL INTERFACES section assumes.
package vault

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"
	"github.com/mitchellh/go-homedir"
	"github.com/sirupsen/logrus"

	"github.com/tde-core/tdecore/keyring"
	"github.com/tde-core/tdecore/logging"
)

var log *logrus.Logger

func init() {
	log = logging.NewLogger("KEYRING_VAULT")
}

// defaultTokenFile mirrors hcvault's default local token file name.
const defaultTokenFile = ".vault-token"

// Gateway stores each named key as a KV v2 secret under MountPath/name,
// with the raw bytes base64-encoded in the "key" field.
type Gateway struct {
	Address   string
	MountPath string
	token     string

	client *api.Client
}

// New constructs a Vault-backed Gateway. If token is empty, the gateway
// falls back to the VAULT_TOKEN environment variable and then to
// ~/.vault-token, exactly as hcvault.vaultClient does.
func New(address, mountPath, token string) (*Gateway, error) {
	cfg := api.DefaultConfig()
	cfg.Address = address
	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("keyring/vault: cannot create client: %w", err)
	}
	if token != "" {
		client.SetToken(token)
	}
	if client.Token() == "" {
		tok, err := userVaultToken()
		if err != nil {
			return nil, fmt.Errorf("keyring/vault: cannot get local token: %w", err)
		}
		if tok != "" {
			client.SetToken(tok)
		}
	}
	return &Gateway{Address: address, MountPath: mountPath, token: client.Token(), client: client}, nil
}

func userVaultToken() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", err
	}
	b, err := os.ReadFile(filepath.Join(home, defaultTokenFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

func (g *Gateway) dataPath(name string) string {
	return fmt.Sprintf("%s/data/%s", g.MountPath, name)
}

func (g *Gateway) metadataPath(name string) string {
	return fmt.Sprintf("%s/metadata/%s", g.MountPath, name)
}

// Generate writes length random bytes under name, unless an entry already
// exists there.
func (g *Gateway) Generate(ctx context.Context, name string, algo keyring.KeyType, length int) error {
	if _, _, err := g.Fetch(ctx, name); err == nil {
		log.WithField("name", name).Warn("refusing to overwrite existing keyring entry")
		return nil
	} else if !errors.Is(err, keyring.ErrNotFound) {
		return err
	}
	raw := make([]byte, length)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return fmt.Errorf("keyring/vault: generating random key: %w", err)
	}
	_, err := g.client.Logical().WriteWithContext(ctx, g.dataPath(name), map[string]interface{}{
		"data": map[string]interface{}{
			"key":  base64.StdEncoding.EncodeToString(raw),
			"algo": string(algo),
		},
	})
	if err != nil {
		return fmt.Errorf("keyring/vault: writing %s: %w", name, err)
	}
	log.WithField("name", name).Info("generated keyring entry")
	return nil
}

// Fetch reads the named secret back out of Vault.
func (g *Gateway) Fetch(ctx context.Context, name string) ([]byte, keyring.KeyType, error) {
	secret, err := g.client.Logical().ReadWithContext(ctx, g.dataPath(name))
	if err != nil {
		return nil, "", fmt.Errorf("keyring/vault: reading %s: %w", name, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, "", keyring.ErrNotFound
	}
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, "", keyring.ErrNotFound
	}
	encoded, ok := data["key"].(string)
	if !ok {
		return nil, "", fmt.Errorf("keyring/vault: entry %s missing key field", name)
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, "", fmt.Errorf("keyring/vault: decoding %s: %w", name, err)
	}
	algo, _ := data["algo"].(string)
	if algo == "" {
		algo = string(keyring.AES)
	}
	return raw, keyring.KeyType(algo), nil
}

// Remove permanently destroys all versions of name's metadata and data, or
// returns keyring.ErrNotFound if name holds no entry.
func (g *Gateway) Remove(ctx context.Context, name string) error {
	if _, _, err := g.Fetch(ctx, name); err != nil {
		return err
	}
	_, err := g.client.Logical().DeleteWithContext(ctx, g.metadataPath(name))
	if err != nil {
		return fmt.Errorf("keyring/vault: removing %s: %w", name, err)
	}
	return nil
}

// IsAlive checks that Vault is unsealed and reachable, then runs the
// generic fetch-or-generate probe.
func (g *Gateway) IsAlive(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	health, err := g.client.Sys().HealthWithContext(ctx)
	if err != nil || health.Sealed {
		return false
	}
	return keyring.IsAliveByProbe(ctx, g)
}
