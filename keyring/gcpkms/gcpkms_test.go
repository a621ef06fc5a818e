package gcpkms

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tde-core/tdecore/keyring"
)

func TestNewRejectsInvalidResourceID(t *testing.T) {
	_, err := New("not-a-resource-id", t.TempDir(), nil)
	require.Error(t, err)
}

func TestNewAcceptsWellFormedResourceID(t *testing.T) {
	gw, err := New("projects/p/locations/global/keyRings/r/cryptoKeys/k", t.TempDir(), nil)
	require.NoError(t, err)
	require.NotNil(t, gw)
}

func TestNewCreatesBlobDir(t *testing.T) {
	dir := t.TempDir() + "/nested/blobs"
	_, err := New("projects/p/locations/global/keyRings/r/cryptoKeys/k", dir, nil)
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
	require.Contains(t, p1, ".kms")
}

func TestFetchMissingBlobReturnsErrNotFound(t *testing.T) {
	gw, err := New("projects/p/locations/global/keyRings/r/cryptoKeys/k", t.TempDir(), nil)
	require.NoError(t, err)

	_, _, err = gw.Fetch(context.Background(), "does-not-exist")
	require.True(t, errors.Is(err, keyring.ErrNotFound))
}

func TestRemoveMissingBlobReturnsErrNotFound(t *testing.T) {
	gw, err := New("projects/p/locations/global/keyRings/r/cryptoKeys/k", t.TempDir(), nil)
	require.NoError(t, err)

	err = gw.Remove(context.Background(), "does-not-exist")
	require.True(t, errors.Is(err, keyring.ErrNotFound))
}
