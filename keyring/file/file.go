// Package file implements keyring.Gateway over a directory of
// AES-256-GCM-sealed blobs on local disk. It is the bootstrap/default
// backend: the one used before any remote keyring plugin is configured, and
// in tests.
package file

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/mitchellh/go-homedir"
	"github.com/sirupsen/logrus"

	"github.com/tde-core/tdecore/keyring"
	"github.com/tde-core/tdecore/logging"
)

var log *logrus.Logger

func init() {
	log = logging.NewLogger("KEYRING_FILE")
}

// sealKeyEnv is the environment variable holding the 32-byte base64 key
// this backend's own storage is sealed with. It is analogous to Vault's
// unseal key: it protects the on-disk blobs, it is not a tablespace key.
const sealKeyEnv = "TDE_KEYRING_FILE_SEAL_KEY"

// defaultDirName is the directory created under the user's home directory
// when no explicit Dir is configured, matching hcvault's use of
// go-homedir for locating ambient local credential state.
const defaultDirName = ".tde-keyring"

// Gateway stores each named key as its own file under Dir, holding a random
// nonce followed by the AES-256-GCM sealing of the raw key bytes under
// sealKey with that nonce.
type Gateway struct {
	Dir     string
	sealKey []byte
	mu      sync.Mutex
}

// New constructs a file-backed Gateway rooted at dir. If dir is empty, it
// defaults to ~/.tde-keyring. sealKey must be exactly 32 bytes; if nil, it
// is read from TDE_KEYRING_FILE_SEAL_KEY (base64).
func New(dir string, sealKey []byte) (*Gateway, error) {
	if dir == "" {
		home, err := homedir.Dir()
		if err != nil {
			return nil, fmt.Errorf("keyring/file: cannot resolve home directory: %w", err)
		}
		dir = filepath.Join(home, defaultDirName)
	}
	if sealKey == nil {
		encoded := os.Getenv(sealKeyEnv)
		if encoded == "" {
			return nil, fmt.Errorf("keyring/file: no seal key provided and %s is unset", sealKeyEnv)
		}
		decoded, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("keyring/file: cannot decode %s: %w", sealKeyEnv, err)
		}
		sealKey = decoded
	}
	if len(sealKey) != 32 {
		return nil, fmt.Errorf("keyring/file: seal key must be 32 bytes, got %d", len(sealKey))
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("keyring/file: cannot create %s: %w", dir, err)
	}
	return &Gateway{Dir: dir, sealKey: sealKey}, nil
}

func (g *Gateway) path(name string) string {
	return filepath.Join(g.Dir, base64.RawURLEncoding.EncodeToString([]byte(name))+".key")
}

func (g *Gateway) seal(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(g.sealKey)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func (g *Gateway) unseal(sealed []byte) ([]byte, error) {
	block, err := aes.NewCipher(g.sealKey)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, fmt.Errorf("keyring/file: sealed blob too short")
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, nil)
}

// Generate creates length random bytes under name, refusing to overwrite an
// existing entry.
func (g *Gateway) Generate(_ context.Context, name string, _ keyring.KeyType, length int) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	path := g.path(name)
	if _, err := os.Stat(path); err == nil {
		log.WithField("name", name).Warn("refusing to overwrite existing keyring entry")
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("keyring/file: stat %s: %w", path, err)
	}

	raw := make([]byte, length)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return fmt.Errorf("keyring/file: generating random key: %w", err)
	}
	sealed, err := g.seal(raw)
	if err != nil {
		return fmt.Errorf("keyring/file: sealing generated key: %w", err)
	}
	if err := os.WriteFile(path, sealed, 0o600); err != nil {
		return fmt.Errorf("keyring/file: writing %s: %w", path, err)
	}
	log.WithField("name", name).Info("generated keyring entry")
	return nil
}

// Fetch reads and unseals the named entry.
func (g *Gateway) Fetch(_ context.Context, name string) ([]byte, keyring.KeyType, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	sealed, err := os.ReadFile(g.path(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, "", keyring.ErrNotFound
		}
		return nil, "", fmt.Errorf("keyring/file: reading %s: %w", name, err)
	}
	raw, err := g.unseal(sealed)
	if err != nil {
		return nil, "", fmt.Errorf("keyring/file: unsealing %s: %w", name, err)
	}
	return raw, keyring.AES, nil
}

// Remove deletes the named entry.
func (g *Gateway) Remove(_ context.Context, name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := os.Remove(g.path(name)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return keyring.ErrNotFound
		}
		return fmt.Errorf("keyring/file: removing %s: %w", name, err)
	}
	return nil
}

// IsAlive reports whether this backend's directory is writable, via the
// generic fetch-or-generate probe.
func (g *Gateway) IsAlive(ctx context.Context) bool {
	return keyring.IsAliveByProbe(ctx, g)
}
