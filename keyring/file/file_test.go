package file

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tde-core/tdecore/keyring"
)

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	sealKey := make([]byte, 32)
	for i := range sealKey {
		sealKey[i] = byte(i)
	}
	g, err := New(t.TempDir(), sealKey)
	require.NoError(t, err)
	return g
}

func TestGenerateFetchRoundTrip(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()

	require.NoError(t, g.Generate(ctx, "INNODBKey-uuid-1", keyring.AES, 32))
	raw, typ, err := g.Fetch(ctx, "INNODBKey-uuid-1")
	require.NoError(t, err)
	require.Equal(t, keyring.AES, typ)
	require.Len(t, raw, 32)
}

func TestGenerateDoesNotOverwrite(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()

	require.NoError(t, g.Generate(ctx, "k", keyring.AES, 32))
	first, _, err := g.Fetch(ctx, "k")
	require.NoError(t, err)

	require.NoError(t, g.Generate(ctx, "k", keyring.AES, 32))
	second, _, err := g.Fetch(ctx, "k")
	require.NoError(t, err)

	require.Equal(t, first, second)
}

func TestFetchMissingReturnsNotFound(t *testing.T) {
	g := newTestGateway(t)
	_, _, err := g.Fetch(context.Background(), "missing")
	require.ErrorIs(t, err, keyring.ErrNotFound)
}

func TestRemove(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()
	require.NoError(t, g.Generate(ctx, "k", keyring.AES, 32))
	require.NoError(t, g.Remove(ctx, "k"))
	_, _, err := g.Fetch(ctx, "k")
	require.ErrorIs(t, err, keyring.ErrNotFound)
}

func TestRemoveMissingReturnsNotFound(t *testing.T) {
	g := newTestGateway(t)
	err := g.Remove(context.Background(), "missing")
	require.ErrorIs(t, err, keyring.ErrNotFound)
}

func TestIsAlive(t *testing.T) {
	g := newTestGateway(t)
	require.True(t, g.IsAlive(context.Background()))
}
