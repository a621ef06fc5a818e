package infocodec

import (
	"context"
	"crypto/rand"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tde-core/tdecore/keyname"
	"github.com/tde-core/tdecore/keyring"
	"github.com/tde-core/tdecore/masterkey"
	"github.com/tde-core/tdecore/tdeerrors"
)

// fakeGateway mirrors masterkey.fakeGateway: an in-memory keyring.Gateway
// for tests, grounded on the "named blob store" contract every real backend
// implements (spec.md §4.2).
type fakeGateway struct {
	mu   sync.Mutex
	data map[string][]byte
	down bool
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{data: make(map[string][]byte)}
}

func (g *fakeGateway) Generate(_ context.Context, name string, _ keyring.KeyType, length int) error {
	if g.down {
		return errors.New("gateway down")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.data[name]; ok {
		return nil
	}
	raw := make([]byte, length)
	_, _ = io.ReadFull(rand.Reader, raw)
	g.data[name] = raw
	return nil
}

func (g *fakeGateway) Fetch(_ context.Context, name string) ([]byte, keyring.KeyType, error) {
	if g.down {
		return nil, "", errors.New("gateway down")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	raw, ok := g.data[name]
	if !ok {
		return nil, "", keyring.ErrNotFound
	}
	return raw, keyring.AES, nil
}

func (g *fakeGateway) Remove(_ context.Context, name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.data[name]; !ok {
		return keyring.ErrNotFound
	}
	delete(g.data, name)
	return nil
}

func (g *fakeGateway) IsAlive(ctx context.Context) bool {
	if g.down {
		return false
	}
	return keyring.IsAliveByProbe(ctx, g)
}

func randKeyIV(t *testing.T) ([KeySize]byte, [IVSize]byte) {
	t.Helper()
	var key [KeySize]byte
	var iv [IVSize]byte
	_, err := io.ReadFull(rand.Reader, key[:])
	require.NoError(t, err)
	_, err = io.ReadFull(rand.Reader, iv[:])
	require.NoError(t, err)
	return key, iv
}

func TestEncodeDecodeV3RoundTrip(t *testing.T) {
	mgr := masterkey.NewManager(newFakeGateway(), 7)
	ctx := context.Background()
	key, iv := randKeyIV(t)

	blob, err := Encode(ctx, mgr, key, iv, "11111111-1111-1111-1111-111111111111", false, true)
	require.NoError(t, err)
	require.Len(t, blob, InfoV3Size)
	require.Equal(t, MagicV3[:], blob[:MagicSize])

	res, err := Decode(ctx, mgr, blob, true, false)
	require.NoError(t, err)
	require.Equal(t, key, res.Key)
	require.Equal(t, iv, res.IV)
	require.Equal(t, 3, res.FormatVersion)
	require.False(t, res.Legacy)
	require.False(t, res.NoOp)
}

func TestEncodeBootstrapUsesDefaultMasterKey(t *testing.T) {
	mgr := masterkey.NewManager(newFakeGateway(), 7)
	ctx := context.Background()
	key, iv := randKeyIV(t)

	blob, err := Encode(ctx, mgr, key, iv, "", true, true)
	require.NoError(t, err)

	res, err := Decode(ctx, mgr, blob, true, false)
	require.NoError(t, err)
	require.Equal(t, key, res.Key)
	require.Equal(t, iv, res.IV)
}

func TestEncodeUnencryptedKeyRegionForClone(t *testing.T) {
	mgr := masterkey.NewManager(newFakeGateway(), 7)
	ctx := context.Background()
	key, iv := randKeyIV(t)

	blob, err := Encode(ctx, mgr, key, iv, "22222222-2222-2222-2222-222222222222", false, false)
	require.NoError(t, err)

	res, err := Decode(ctx, mgr, blob, false, false)
	require.NoError(t, err)
	require.Equal(t, key, res.Key)
	require.Equal(t, iv, res.IV)
}

func TestDecodeTamperedCRCFails(t *testing.T) {
	mgr := masterkey.NewManager(newFakeGateway(), 7)
	ctx := context.Background()
	key, iv := randKeyIV(t)

	blob, err := Encode(ctx, mgr, key, iv, "33333333-3333-3333-3333-333333333333", false, true)
	require.NoError(t, err)

	blob[len(blob)-1] ^= 0xFF

	_, err = Decode(ctx, mgr, blob, true, false)
	require.ErrorIs(t, err, tdeerrors.InfoCorrupt)
}

func TestDecodeUnrecognizedMagicErrorsOutsideRecovery(t *testing.T) {
	mgr := masterkey.NewManager(newFakeGateway(), 7)
	ctx := context.Background()

	blob := make([]byte, InfoV3Size)
	copy(blob, []byte{'x', 'y', 'z'})

	_, err := Decode(ctx, mgr, blob, true, false)
	require.ErrorIs(t, err, tdeerrors.InfoCorrupt)
}

func TestDecodeUnrecognizedMagicIsNoOpDuringRecovery(t *testing.T) {
	mgr := masterkey.NewManager(newFakeGateway(), 7)
	ctx := context.Background()

	blob := make([]byte, InfoV3Size)
	copy(blob, []byte{'x', 'y', 'z'})

	res, err := Decode(ctx, mgr, blob, true, true)
	require.NoError(t, err)
	require.True(t, res.NoOp)
}

// buildV1Blob hand-assembles a legacy V1 blob (no server_uuid field) the way
// an older writer would have, wrapping under the legacy-named master key
// (spec.md §4.4).
func buildV1Blob(t *testing.T, masterKeyID uint32, masterKey []byte, key [KeySize]byte, iv [IVSize]byte) []byte {
	t.Helper()
	plain := make([]byte, WrappedSize)
	copy(plain[:KeySize], key[:])
	copy(plain[KeySize:], iv[:])
	wrapped, err := wrapECB(masterKey, plain)
	require.NoError(t, err)
	crc := crc32Of(plain)

	blob := make([]byte, InfoV1SizeShort)
	off := 0
	copy(blob[off:], MagicV1[:])
	off += MagicSize
	blob[off] = byte(masterKeyID >> 24)
	blob[off+1] = byte(masterKeyID >> 16)
	blob[off+2] = byte(masterKeyID >> 8)
	blob[off+3] = byte(masterKeyID)
	off += MasterKeyIDSize
	copy(blob[off:], wrapped)
	off += WrappedSize
	blob[off] = byte(crc >> 24)
	blob[off+1] = byte(crc >> 16)
	blob[off+2] = byte(crc >> 8)
	blob[off+3] = byte(crc)
	return blob
}

// seedLegacyMasterKey writes a master key directly under the pre-uuid
// legacy name, the way a 5.7.11-era instance would have, without ever going
// through a server uuid.
func seedLegacyMasterKey(t *testing.T, gw *fakeGateway, serverID, masterKeyID uint32) []byte {
	t.Helper()
	ctx := context.Background()
	name := keyname.LegacyMasterKeyName(serverID, masterKeyID)
	require.NoError(t, gw.Generate(ctx, name, keyring.AES, masterkey.MasterKeyLength))
	key, _, err := gw.Fetch(ctx, name)
	require.NoError(t, err)
	return key
}

func TestDecodeV1LegacyBlobIsMarkedLegacyAndDoesNotAdvanceUUID(t *testing.T) {
	gw := newFakeGateway()
	mgr := masterkey.NewManager(gw, 9)
	ctx := context.Background()
	key, iv := randKeyIV(t)

	const masterKeyID = 1
	masterKey := seedLegacyMasterKey(t, gw, 9, masterKeyID)

	blob := buildV1Blob(t, masterKeyID, masterKey, key, iv)

	res, err := Decode(ctx, mgr, blob, true, false)
	require.NoError(t, err)
	require.True(t, res.Legacy)
	require.Equal(t, 1, res.FormatVersion)
	require.Equal(t, key, res.Key)
	require.Equal(t, iv, res.IV)
	require.Empty(t, mgr.CurrentUUID())
}

func TestRedoLogInfoRoundTrip(t *testing.T) {
	var iv [IVSize]byte
	_, err := io.ReadFull(rand.Reader, iv[:])
	require.NoError(t, err)

	info := RedoLogInfo{
		KeyVersion: 4,
		ServerUUID: "44444444-4444-4444-4444-444444444444",
		IV:         iv,
	}

	blob := EncodeRedoLogInfo(info)
	require.Len(t, blob, RedoLogInfoSize)

	decoded, err := DecodeRedoLogInfo(blob)
	require.NoError(t, err)
	require.Equal(t, info, decoded)
}

func TestRedoLogInfoTamperedCRCFails(t *testing.T) {
	info := RedoLogInfo{KeyVersion: 1, ServerUUID: "55555555-5555-5555-5555-555555555555"}
	blob := EncodeRedoLogInfo(info)
	blob[len(blob)-1] ^= 0xFF

	_, err := DecodeRedoLogInfo(blob)
	require.ErrorIs(t, err, tdeerrors.InfoCorrupt)
}

func TestCodecRefusesLegacyReadPastFloor(t *testing.T) {
	gw := newFakeGateway()
	mgr := masterkey.NewManager(gw, 11)
	ctx := context.Background()
	key, iv := randKeyIV(t)

	const masterKeyID = 1
	masterKey := seedLegacyMasterKey(t, gw, 11, masterKeyID)
	blob := buildV1Blob(t, masterKeyID, masterKey, key, iv)

	codec, err := NewCodec("8.0.1", true)
	require.NoError(t, err)

	_, err = codec.Decode(ctx, mgr, blob, true, false)
	require.ErrorIs(t, err, tdeerrors.UnsupportedMode)
}

func TestCodecAllowsLegacyReadBelowFloor(t *testing.T) {
	gw := newFakeGateway()
	mgr := masterkey.NewManager(gw, 12)
	ctx := context.Background()
	key, iv := randKeyIV(t)

	const masterKeyID = 1
	masterKey := seedLegacyMasterKey(t, gw, 12, masterKeyID)
	blob := buildV1Blob(t, masterKeyID, masterKey, key, iv)

	codec, err := NewCodec("5.7.30", true)
	require.NoError(t, err)

	res, err := codec.Decode(ctx, mgr, blob, true, false)
	require.NoError(t, err)
	require.True(t, res.Legacy)
}

func TestCodecRecoveryNoOpNeverRefused(t *testing.T) {
	mgr := masterkey.NewManager(newFakeGateway(), 13)
	ctx := context.Background()

	blob := make([]byte, InfoV3Size)
	copy(blob, []byte{'q', 'q', 'q'})

	codec, err := NewCodec("8.0.1", true)
	require.NoError(t, err)

	res, err := codec.Decode(ctx, mgr, blob, true, true)
	require.NoError(t, err)
	require.True(t, res.NoOp)
}
