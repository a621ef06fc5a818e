// Package awskms implements keyring.Gateway over AWS KMS. It is adapted
// from getsops-sops's kms.MasterKey, which uses a KMS customer master key to
// wrap one SOPS data key; here the same key-id/region/role plumbing stores
// an arbitrary named, KMS-wrapped blob instead of one fixed data key,
// matching the shape of a "keyring_aws"-style plugin.
//
// Because KMS itself has no notion of named storage (it only encrypts and
// decrypts against a CMK), Generate produces len random bytes, asks KMS to
// Encrypt them under KeyARN, and persists the ciphertext blob as one file per
// name under BlobDir on local disk; Fetch reverses that with Decrypt. No
// other ciphertext store is supported.
package awskms

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

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/sirupsen/logrus"

	"github.com/tde-core/tdecore/keyring"
	"github.com/tde-core/tdecore/logging"
)

var log *logrus.Logger

func init() {
	log = logging.NewLogger("KEYRING_AWSKMS")
}

// arnRegex matches an AWS KMS key/alias ARN, unchanged from kms.keysource.
const arnRegex = `^arn:aws[\w-]*:kms:(.+):[0-9]+:(key|alias)/.+$`

// Gateway wraps a single AWS KMS key (identified by ARN) and persists the
// resulting ciphertext blobs under BlobDir, one file per name.
type Gateway struct {
	KeyARN     string
	Role       string
	AWSProfile string
	BlobDir    string

	credentialsProvider aws.CredentialsProvider
}

// New constructs an AWS-KMS-backed Gateway for keyARN, storing ciphertext
// blobs under blobDir.
func New(keyARN, role, awsProfile, blobDir string) (*Gateway, error) {
	if matched, _ := regexp.MatchString(arnRegex, keyARN); !matched {
		return nil, fmt.Errorf("keyring/awskms: %q is not a valid KMS ARN", keyARN)
	}
	if err := os.MkdirAll(blobDir, 0o700); err != nil {
		return nil, fmt.Errorf("keyring/awskms: cannot create %s: %w", blobDir, err)
	}
	return &Gateway{KeyARN: keyARN, Role: role, AWSProfile: awsProfile, BlobDir: blobDir}, nil
}

// WithCredentialsProvider injects a custom aws.CredentialsProvider, mirroring
// kms.CredentialsProvider.ApplyToMasterKey.
func (g *Gateway) WithCredentialsProvider(cp aws.CredentialsProvider) *Gateway {
	g.credentialsProvider = cp
	return g
}

func (g *Gateway) blobPath(name string) string {
	return filepath.Join(g.BlobDir, base64.RawURLEncoding.EncodeToString([]byte(name))+".kms")
}

func (g *Gateway) awsConfig(ctx context.Context) (*aws.Config, error) {
	re := regexp.MustCompile(arnRegex)
	matches := re.FindStringSubmatch(g.KeyARN)
	if matches == nil {
		return nil, fmt.Errorf("keyring/awskms: no valid ARN found in %q", g.KeyARN)
	}
	region := matches[1]

	cfg, err := config.LoadDefaultConfig(ctx, func(lo *config.LoadOptions) error {
		if g.credentialsProvider != nil {
			lo.Credentials = g.credentialsProvider
		}
		if g.AWSProfile != "" {
			lo.SharedConfigProfile = g.AWSProfile
		}
		lo.Region = region
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("keyring/awskms: loading AWS config: %w", err)
	}
	if g.Role != "" {
		return g.assumeRole(ctx, &cfg)
	}
	return &cfg, nil
}

func (g *Gateway) assumeRole(ctx context.Context, cfg *aws.Config) (*aws.Config, error) {
	client := sts.NewFromConfig(*cfg)
	out, err := client.AssumeRole(ctx, &sts.AssumeRoleInput{
		RoleArn:         &g.Role,
		RoleSessionName: aws.String("tdecore-keyring"),
	})
	if err != nil {
		return nil, fmt.Errorf("keyring/awskms: assuming role %q: %w", g.Role, err)
	}
	cfg.Credentials = credentials.NewStaticCredentialsProvider(
		*out.Credentials.AccessKeyId, *out.Credentials.SecretAccessKey, *out.Credentials.SessionToken)
	return cfg, nil
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
		return fmt.Errorf("keyring/awskms: generating random key: %w", err)
	}

	cfg, err := g.awsConfig(ctx)
	if err != nil {
		return err
	}
	client := kms.NewFromConfig(*cfg)
	out, err := client.Encrypt(ctx, &kms.EncryptInput{KeyId: &g.KeyARN, Plaintext: raw})
	if err != nil {
		return fmt.Errorf("keyring/awskms: encrypting %q with KMS: %w", name, err)
	}
	if err := os.WriteFile(g.blobPath(name), out.CiphertextBlob, 0o600); err != nil {
		return fmt.Errorf("keyring/awskms: writing blob for %q: %w", name, err)
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
		return nil, "", fmt.Errorf("keyring/awskms: reading blob for %q: %w", name, err)
	}
	cfg, err := g.awsConfig(ctx)
	if err != nil {
		return nil, "", err
	}
	client := kms.NewFromConfig(*cfg)
	out, err := client.Decrypt(ctx, &kms.DecryptInput{KeyId: &g.KeyARN, CiphertextBlob: blob})
	if err != nil {
		return nil, "", fmt.Errorf("keyring/awskms: decrypting %q with KMS: %w", name, err)
	}
	return out.Plaintext, keyring.AES, nil
}

// Remove deletes the ciphertext blob for name.
func (g *Gateway) Remove(_ context.Context, name string) error {
	if err := os.Remove(g.blobPath(name)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return keyring.ErrNotFound
		}
		return fmt.Errorf("keyring/awskms: removing %q: %w", name, err)
	}
	return nil
}

// IsAlive verifies KMS is reachable for our CMK via the generic
// fetch-or-generate probe.
func (g *Gateway) IsAlive(ctx context.Context) bool {
	return keyring.IsAliveByProbe(ctx, g)
}
