package vault

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewFallsBackToLocalTokenFile(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(home, defaultTokenFile), []byte("s.local-token\n"), 0o600))
	t.Setenv("HOME", home)
	t.Setenv("VAULT_TOKEN", "")

	gw, err := New("http://127.0.0.1:8200", "secret", "")
	require.NoError(t, err)
	require.Equal(t, "s.local-token", gw.token)
}

func TestNewPrefersExplicitToken(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(home, defaultTokenFile), []byte("s.local-token"), 0o600))
	t.Setenv("HOME", home)

	gw, err := New("http://127.0.0.1:8200", "secret", "s.explicit-token")
	require.NoError(t, err)
	require.Equal(t, "s.explicit-token", gw.token)
}

func TestUserVaultTokenMissingFileIsNotAnError(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	tok, err := userVaultToken()
	require.NoError(t, err)
	require.Empty(t, tok)
}

func TestDataAndMetadataPaths(t *testing.T) {
	gw := &Gateway{MountPath: "secret"}
	require.Equal(t, "secret/data/master_key/uuid-1/1", gw.dataPath("master_key/uuid-1/1"))
	require.Equal(t, "secret/metadata/master_key/uuid-1/1", gw.metadataPath("master_key/uuid-1/1"))
}

func TestFetchWithoutReachableVaultErrors(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	gw, err := New("http://127.0.0.1:0", "secret", "s.token")
	require.NoError(t, err)

	_, _, err = gw.Fetch(context.Background(), "anything")
	require.Error(t, err)
}
