package awskms

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tde-core/tdecore/keyring"
)

func TestNewRejectsInvalidARN(t *testing.T) {
	_, err := New("not-an-arn", "", "", t.TempDir())
	require.Error(t, err)
}

func TestNewAcceptsKeyAndAliasARNs(t *testing.T) {
	dir := t.TempDir()
	gw, err := New("arn:aws:kms:us-east-1:927034868273:key/e9fc75db-05e9-44c1-9c35-633922bac347", "", "", dir)
	require.NoError(t, err)
	require.Equal(t, dir, gw.BlobDir)

	gw, err = New("arn:aws:kms:eu-west-1:927034868273:alias/my-key", "", "", dir)
	require.NoError(t, err)
	require.NotNil(t, gw)
}

func TestNewCreatesBlobDir(t *testing.T) {
	dir := t.TempDir() + "/nested/blobs"
	_, err := New("arn:aws:kms:us-east-1:927034868273:key/e9fc75db-05e9-44c1-9c35-633922bac347", "", "", dir)
	require.NoError(t, err)

	fi, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, fi.IsDir())
}

func TestBlobPathIsStableAndNameEncoded(t *testing.T) {
	gw := &Gateway{BlobDir: "/tmp/keyring"}
	p1 := gw.blobPath("master_key/uuid-1/1")
	p2 := gw.blobPath("master_key/uuid-1/1")
	require.Equal(t, p1, p2)
	require.Contains(t, p1, "/tmp/keyring/")
	require.Contains(t, p1, ".kms")
}

func TestFetchMissingBlobReturnsErrNotFound(t *testing.T) {
	gw, err := New("arn:aws:kms:us-east-1:927034868273:key/e9fc75db-05e9-44c1-9c35-633922bac347", "", "", t.TempDir())
	require.NoError(t, err)

	_, _, err = gw.Fetch(context.Background(), "does-not-exist")
	require.True(t, errors.Is(err, keyring.ErrNotFound))
}

func TestRemoveMissingBlobReturnsErrNotFound(t *testing.T) {
	gw, err := New("arn:aws:kms:us-east-1:927034868273:key/e9fc75db-05e9-44c1-9c35-633922bac347", "", "", t.TempDir())
	require.NoError(t, err)

	err = gw.Remove(context.Background(), "does-not-exist")
	require.True(t, errors.Is(err, keyring.ErrNotFound))
}

func TestAwsConfigRejectsMalformedARN(t *testing.T) {
	gw := &Gateway{KeyARN: "garbage"}
	_, err := gw.awsConfig(context.Background())
	require.Error(t, err)
}
