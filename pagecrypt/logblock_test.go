package pagecrypt

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func fillLogBlock(fill byte) []byte {
	b := make([]byte, LogBlockSize)
	for i := range b {
		b[i] = fill
	}
	return b
}

// withCanonicalChecksum stores in b's trailer the checksum a plaintext
// keyring-mode block carries: the CRC32 of its payload, which is the value
// DecryptLogBlock writes back after decrypting.
func withCanonicalChecksum(b []byte) []byte {
	bodyEnd := LogBlockSize - LogBlockTrlSize
	binary.BigEndian.PutUint32(b[bodyEnd:], crc32Of(b[LogBlockHdrSize:bodyEnd]))
	return b
}

func TestLogBlockAESRoundTrip(t *testing.T) {
	ctx := NewContext(ModeAES, fillKey(), fillIV())
	b := fillLogBlock(0x5A)

	dst := make([]byte, LogBlockSize)
	require.NoError(t, EncryptLogBlock(ctx, b, dst))
	require.NotZero(t, dst[LogBlockEncryptedBitOffset]&LogBlockEncryptedBitMask)

	restored := make([]byte, LogBlockSize)
	require.NoError(t, DecryptLogBlock(context.Background(), nil, ctx, dst, restored))
	require.Equal(t, b, restored)
}

func TestLogBlockPassThroughWhenNotEncrypted(t *testing.T) {
	ctx := NewContext(ModeAES, fillKey(), fillIV())
	b := fillLogBlock(0x11)

	dst := make([]byte, LogBlockSize)
	require.NoError(t, DecryptLogBlock(context.Background(), nil, ctx, b, dst))
	require.Equal(t, b, dst)
}

func TestLogBlockKeyringRoundTrip(t *testing.T) {
	ctx := NewContext(ModeKeyring, fillKey(), fillIV())
	ctx.KeyVersion = 3
	b := withCanonicalChecksum(fillLogBlock(0x7C))

	dst := make([]byte, LogBlockSize)
	require.NoError(t, EncryptLogBlock(ctx, b, dst))

	restored := make([]byte, LogBlockSize)
	require.NoError(t, DecryptLogBlock(context.Background(), nil, ctx, dst, restored))
	require.Equal(t, b, restored)
}

// fakeRedoKeySource resolves one extra key version distinct from the
// context's loaded key, for TestLogBlockKeyVersionRecovery below.
type fakeRedoKeySource struct {
	version uint32
	key     [32]byte
}

func (s *fakeRedoKeySource) KeyForVersion(_ context.Context, version uint32) ([32]byte, error) {
	if version == s.version {
		return s.key, nil
	}
	return [32]byte{}, errNoSuchVersion
}

var errNoSuchVersion = &versionError{}

type versionError struct{}

func (e *versionError) Error() string { return "no such redo key version" }

// TestLogBlockKeyVersionRecovery matches spec.md §8 scenario S6: a block is
// encrypted under key_version=5, then decrypted against a context loaded
// with version=3; the cryptor must recover version 5 from the stored
// checksum and fetch the matching key via RedoKeySource.
func TestLogBlockKeyVersionRecovery(t *testing.T) {
	encKey := fillKey()
	iv := fillIV()

	encryptCtx := NewContext(ModeKeyring, encKey, iv)
	encryptCtx.KeyVersion = 5
	b := withCanonicalChecksum(fillLogBlock(0x2E))

	dst := make([]byte, LogBlockSize)
	require.NoError(t, EncryptLogBlock(encryptCtx, b, dst))

	// The decrypting context is stale: it still has version 3 loaded.
	staleCtx := NewContext(ModeKeyring, [32]byte{}, iv)
	staleCtx.KeyVersion = 3

	redoKeys := &fakeRedoKeySource{version: 5, key: encKey}

	restored := make([]byte, LogBlockSize)
	require.NoError(t, DecryptLogBlock(context.Background(), redoKeys, staleCtx, dst, restored))
	require.Equal(t, b, restored)
}

func TestLogBlockKeyVersionRecoveryFailsWithoutSource(t *testing.T) {
	encryptCtx := NewContext(ModeKeyring, fillKey(), fillIV())
	encryptCtx.KeyVersion = 5
	b := fillLogBlock(0x2E)

	dst := make([]byte, LogBlockSize)
	require.NoError(t, EncryptLogBlock(encryptCtx, b, dst))

	staleCtx := NewContext(ModeKeyring, [32]byte{}, fillIV())
	staleCtx.KeyVersion = 3

	restored := make([]byte, LogBlockSize)
	err := DecryptLogBlock(context.Background(), nil, staleCtx, dst, restored)
	require.Error(t, err)
}

func TestLogBlockEncryptRejectsZeroVersion(t *testing.T) {
	ctx := NewContext(ModeKeyring, fillKey(), fillIV())
	b := fillLogBlock(0x01)

	dst := make([]byte, LogBlockSize)
	err := EncryptLogBlock(ctx, b, dst)
	require.Error(t, err)
}
