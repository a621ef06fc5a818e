package infocodec

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/tde-core/tdecore/logging"
	"github.com/tde-core/tdecore/masterkey"
	"github.com/tde-core/tdecore/tdeerrors"
)

var log *logrus.Logger

func init() {
	log = logging.NewLogger("INFOCODEC")
}

// MasterKeySource is the slice of masterkey.Manager's behavior the codec
// needs. Defined locally (rather than importing masterkey.Manager as a
// concrete type in every signature) so the codec only depends on the
// operations it actually calls.
type MasterKeySource interface {
	GetOrCreateMasterKey(ctx context.Context) (uint32, []byte, error)
	GetMasterKey(ctx context.Context, id uint32, uuid string) ([]byte, error)
	AdvanceIfNewer(id uint32, uuid string)
	CurrentUUID() string
}

// DecodeResult is the outcome of a successful Decode.
type DecodeResult struct {
	Key [KeySize]byte
	IV  [IVSize]byte
	// FormatVersion records which magic the blob decoded under: 1, 2 or 3.
	FormatVersion int
	// Legacy is true when the blob decoded was a V1 format with no uuid
	// field. Per SPEC_FULL.md's Open Question resolution, callers must
	// treat a tablespace whose info is still Legacy as rotation-ineligible.
	Legacy bool
	// NoOp is true when the magic was unrecognized while inRecovery was
	// set: the info was never flushed and there is nothing to decode, but
	// this is not an error (spec.md §4.4).
	NoOp bool
}

// Encode always writes the V3 format (spec.md §4.4).
//
// If isBootstrap is true, or serverUUID is empty, the bootstrap
// masterkey.DefaultMasterKey is used directly with master_key_id 0 and no
// keyring round trip. Otherwise mks.GetOrCreateMasterKey is used to resolve
// (and, if necessary, lazily create) the current master key.
//
// If encryptKey is false, the {key‖iv} region is copied in plaintext
// instead of ECB-wrapped; spec.md §4.4 reserves this for the clone path
// only.
func Encode(ctx context.Context, mks MasterKeySource, key [KeySize]byte, iv [IVSize]byte, serverUUID string, isBootstrap, encryptKey bool) ([]byte, error) {
	var masterKeyID uint32
	var masterKey []byte
	var uuid string

	if isBootstrap || serverUUID == "" {
		masterKeyID = masterkey.DefaultMasterKeyID
		masterKey = []byte(masterkey.DefaultMasterKey)
		uuid = serverUUID
	} else {
		id, mk, err := mks.GetOrCreateMasterKey(ctx)
		if err != nil {
			return nil, fmt.Errorf("infocodec: resolving master key: %w", err)
		}
		masterKeyID, masterKey, uuid = id, mk, mks.CurrentUUID()
	}

	plain := make([]byte, WrappedSize)
	copy(plain[:KeySize], key[:])
	copy(plain[KeySize:], iv[:])

	var wrapped []byte
	var err error
	if encryptKey {
		wrapped, err = wrapECB(masterKey, plain)
		if err != nil {
			return nil, fmt.Errorf("%w: wrapping tablespace key: %s", tdeerrors.EncryptFail, err)
		}
	} else {
		wrapped = plain
	}

	crc := crc32Of(plain)

	out := make([]byte, InfoV3Size)
	off := 0
	copy(out[off:], MagicV3[:])
	off += MagicSize
	binary.BigEndian.PutUint32(out[off:], masterKeyID)
	off += MasterKeyIDSize
	copy(out[off:], paddedUUID(uuid))
	off += ServerUUIDLen
	copy(out[off:], wrapped)
	off += WrappedSize
	binary.BigEndian.PutUint32(out[off:], crc)

	log.WithFields(logrus.Fields{"master_key_id": masterKeyID, "bootstrap": isBootstrap}).Info("encoded encryption info")
	return out, nil
}

func paddedUUID(uuid string) []byte {
	buf := make([]byte, ServerUUIDLen)
	copy(buf, uuid)
	return buf
}

func unpaddedUUID(buf []byte) string {
	return string(bytes.TrimRight(buf, "\x00"))
}

// Decode parses blob, dispatching on its magic, and returns the
// {key, iv} it protects. decryptKey controls whether the wrapped region is
// ECB-decrypted (it should be, for everything except blobs written with
// encryptKey=false by the clone path). inRecovery relaxes an unrecognized
// magic from an error to a NoOp result, matching spec.md §4.4's recovery
// tolerance for an info page that was never flushed.
func Decode(ctx context.Context, mks MasterKeySource, blob []byte, decryptKey, inRecovery bool) (DecodeResult, error) {
	switch {
	case len(blob) >= MagicSize && bytes.Equal(blob[:MagicSize], MagicV3[:]):
		return decodeV3(ctx, mks, blob, decryptKey)
	case len(blob) >= MagicSize && bytes.Equal(blob[:MagicSize], MagicV2[:]):
		return decodeV2(ctx, mks, blob, decryptKey)
	case len(blob) >= MagicSize && bytes.Equal(blob[:MagicSize], MagicV1[:]):
		return decodeV1(ctx, mks, blob, decryptKey)
	default:
		if inRecovery {
			log.Warn("unrecognized encryption info magic during recovery, treating as not-yet-flushed")
			return DecodeResult{NoOp: true}, nil
		}
		return DecodeResult{}, fmt.Errorf("%w: unrecognized encryption info magic", tdeerrors.InfoCorrupt)
	}
}

func decodeV3(ctx context.Context, mks MasterKeySource, blob []byte, decryptKey bool) (DecodeResult, error) {
	if len(blob) != InfoV3Size {
		return DecodeResult{}, fmt.Errorf("%w: V3 info blob has length %d, want %d", tdeerrors.InfoCorrupt, len(blob), InfoV3Size)
	}
	off := MagicSize
	masterKeyID := binary.BigEndian.Uint32(blob[off:])
	off += MasterKeyIDSize
	uuid := unpaddedUUID(blob[off : off+ServerUUIDLen])
	off += ServerUUIDLen
	wrapped := blob[off : off+WrappedSize]
	off += WrappedSize
	storedCRC := binary.BigEndian.Uint32(blob[off:])

	var masterKey []byte
	if masterKeyID == masterkey.DefaultMasterKeyID {
		masterKey = []byte(masterkey.DefaultMasterKey)
	} else {
		mk, err := mks.GetMasterKey(ctx, masterKeyID, uuid)
		if err != nil {
			return DecodeResult{}, fmt.Errorf("%w: fetching master key %d: %s", tdeerrors.KeyringUnavailable, masterKeyID, err)
		}
		masterKey = mk
	}

	res, err := finishDecode(masterKey, wrapped, storedCRC, decryptKey)
	if err != nil {
		return DecodeResult{}, err
	}
	res.FormatVersion = 3
	mks.AdvanceIfNewer(masterKeyID, uuid)
	return res, nil
}

func decodeV2(ctx context.Context, mks MasterKeySource, blob []byte, decryptKey bool) (DecodeResult, error) {
	if len(blob) != InfoV3Size {
		return DecodeResult{}, fmt.Errorf("%w: V2 info blob has length %d, want %d", tdeerrors.InfoCorrupt, len(blob), InfoV3Size)
	}
	off := MagicSize
	masterKeyID := binary.BigEndian.Uint32(blob[off:])
	off += MasterKeyIDSize
	uuid := unpaddedUUID(blob[off : off+ServerUUIDLen])
	off += ServerUUIDLen
	wrapped := blob[off : off+WrappedSize]
	off += WrappedSize
	storedCRC := binary.BigEndian.Uint32(blob[off:])

	masterKey, err := mks.GetMasterKey(ctx, masterKeyID, uuid)
	if err != nil {
		return DecodeResult{}, fmt.Errorf("%w: fetching master key %d: %s", tdeerrors.KeyringUnavailable, masterKeyID, err)
	}

	res, err := finishDecode(masterKey, wrapped, storedCRC, decryptKey)
	if err != nil {
		return DecodeResult{}, err
	}
	res.FormatVersion = 2
	mks.AdvanceIfNewer(masterKeyID, uuid)
	return res, nil
}

func decodeV1(ctx context.Context, mks MasterKeySource, blob []byte, decryptKey bool) (DecodeResult, error) {
	var masterKeyID uint32
	var wrapped []byte
	var storedCRC uint32

	switch len(blob) {
	case InfoV1SizeLegacyPad:
		off := MagicSize
		masterKeyID = binary.BigEndian.Uint32(blob[off:])
		off += MasterKeyIDSize
		off += 4 // legacy zero pad, skipped
		wrapped = blob[off : off+WrappedSize]
		off += WrappedSize
		storedCRC = binary.BigEndian.Uint32(blob[off:])
	case InfoV1SizeShort:
		off := MagicSize
		masterKeyID = binary.BigEndian.Uint32(blob[off:])
		off += MasterKeyIDSize
		wrapped = blob[off : off+WrappedSize]
		off += WrappedSize
		storedCRC = binary.BigEndian.Uint32(blob[off:])
	default:
		return DecodeResult{}, fmt.Errorf("%w: V1 info blob has unexpected length %d", tdeerrors.InfoCorrupt, len(blob))
	}

	// V1 carries no uuid: lookup is by the legacy server-id-scoped name
	// (spec.md §4.4).
	masterKey, err := mks.GetMasterKey(ctx, masterKeyID, "")
	if err != nil {
		return DecodeResult{}, fmt.Errorf("%w: fetching legacy master key %d: %s", tdeerrors.KeyringUnavailable, masterKeyID, err)
	}

	res, err := finishDecode(masterKey, wrapped, storedCRC, decryptKey)
	if err != nil {
		return DecodeResult{}, err
	}
	res.Legacy = true
	res.FormatVersion = 1
	// Per SPEC_FULL.md's Open Question resolution, current_uuid is
	// deliberately NOT advanced here: a V1 blob has no uuid to advance it
	// to, and guessing would risk orphaning the key on a later rotation.
	return res, nil
}

func finishDecode(masterKey, wrapped []byte, storedCRC uint32, decryptKey bool) (DecodeResult, error) {
	var plain []byte
	if decryptKey {
		p, err := unwrapECB(masterKey, wrapped)
		if err != nil {
			return DecodeResult{}, fmt.Errorf("%w: unwrapping tablespace key: %s", tdeerrors.DecryptFail, err)
		}
		plain = p
	} else {
		plain = wrapped
	}

	if crc32Of(plain) != storedCRC {
		return DecodeResult{}, fmt.Errorf("%w: CRC mismatch on decoded key material", tdeerrors.InfoCorrupt)
	}

	var res DecodeResult
	copy(res.Key[:], plain[:KeySize])
	copy(res.IV[:], plain[KeySize:])
	return res, nil
}
