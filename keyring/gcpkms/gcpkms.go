// Package gcpkms implements keyring.Gateway over GCP Cloud KMS, adapted from
// getsops-sops's gcpkms.MasterKey the same way keyring/awskms adapts
// kms.MasterKey: a single cryptoKey resource wraps a freshly generated
// random blob per name, and the ciphertext is persisted as one file per name
// under BlobDir on local disk rather than in a single struct field.
package gcpkms

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"

	kms "cloud.google.com/go/kms/apiv1"
	"cloud.google.com/go/kms/apiv1/kmspb"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"

	"github.com/tde-core/tdecore/keyring"
	"github.com/tde-core/tdecore/logging"
)

var log *logrus.Logger

func init() {
	log = logging.NewLogger("KEYRING_GCPKMS")
}

var resourceIDRegex = regexp.MustCompile(`^projects/[^/]+/locations/[^/]+/keyRings/[^/]+/cryptoKeys/[^/]+$`)

// Gateway wraps a single GCP KMS cryptoKey (ResourceID) and persists the
// resulting ciphertext blobs under BlobDir, one file per name.
type Gateway struct {
	ResourceID     string
	BlobDir        string
	credentialJSON []byte
}

// New constructs a GCP-KMS-backed Gateway for resourceID, storing ciphertext
// blobs under blobDir. credentialJSON may be nil to use ambient
// application-default credentials.
func New(resourceID, blobDir string, credentialJSON []byte) (*Gateway, error) {
	if !resourceIDRegex.MatchString(resourceID) {
		return nil, fmt.Errorf("keyring/gcpkms: %q is not a valid KMS resource id", resourceID)
	}
	if err := os.MkdirAll(blobDir, 0o700); err != nil {
		return nil, fmt.Errorf("keyring/gcpkms: cannot create %s: %w", blobDir, err)
	}
	return &Gateway{ResourceID: resourceID, BlobDir: blobDir, credentialJSON: credentialJSON}, nil
}

func (g *Gateway) blobPath(name string) string {
	return filepath.Join(g.BlobDir, base64.RawURLEncoding.EncodeToString([]byte(name))+".kms")
}

func (g *Gateway) newClient(ctx context.Context) (*kms.KeyManagementClient, error) {
	var opts []option.ClientOption
	if g.credentialJSON != nil {
		opts = append(opts, option.WithCredentialsJSON(g.credentialJSON))
	}
	return kms.NewKeyManagementClient(ctx, opts...)
}

// Generate produces length random bytes, wraps them with KMS Encrypt, and
// persists the ciphertext blob under name, unless one already exists.
func (g *Gateway) Generate(ctx context.Context, name string, _ keyring.KeyType, length int) error {
	if _, err := os.Stat(g.blobPath(name)); err == nil {
		log.WithField("name", name).Warn("refusing to overwrite existing keyring entry")
		return nil
	}

	raw := make([]byte, length)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return fmt.Errorf("keyring/gcpkms: generating random key: %w", err)
	}

	client, err := g.newClient(ctx)
	if err != nil {
		return fmt.Errorf("keyring/gcpkms: creating client: %w", err)
	}
	defer client.Close()

	resp, err := client.Encrypt(ctx, &kmspb.EncryptRequest{Name: g.ResourceID, Plaintext: raw})
	if err != nil {
		return fmt.Errorf("keyring/gcpkms: encrypting %q: %w", name, err)
	}
	if err := os.WriteFile(g.blobPath(name), resp.Ciphertext, 0o600); err != nil {
		return fmt.Errorf("keyring/gcpkms: writing blob for %q: %w", name, err)
	}
	log.WithField("name", name).Info("generated keyring entry")
	return nil
}

// Fetch decrypts the ciphertext blob stored under name via KMS.
func (g *Gateway) Fetch(ctx context.Context, name string) ([]byte, keyring.KeyType, error) {
	blob, err := os.ReadFile(g.blobPath(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, "", keyring.ErrNotFound
		}
		return nil, "", fmt.Errorf("keyring/gcpkms: reading blob for %q: %w", name, err)
	}

	client, err := g.newClient(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("keyring/gcpkms: creating client: %w", err)
	}
	defer client.Close()

	resp, err := client.Decrypt(ctx, &kmspb.DecryptRequest{Name: g.ResourceID, Ciphertext: blob})
	if err != nil {
		return nil, "", fmt.Errorf("keyring/gcpkms: decrypting %q: %w", name, err)
	}
	return resp.Plaintext, keyring.AES, nil
}

// Remove deletes the ciphertext blob for name.
func (g *Gateway) Remove(_ context.Context, name string) error {
	if err := os.Remove(g.blobPath(name)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return keyring.ErrNotFound
		}
		return fmt.Errorf("keyring/gcpkms: removing %q: %w", name, err)
	}
	return nil
}

// IsAlive verifies KMS is reachable for our cryptoKey via the generic
// fetch-or-generate probe.
func (g *Gateway) IsAlive(ctx context.Context) bool {
	return keyring.IsAliveByProbe(ctx, g)
}
