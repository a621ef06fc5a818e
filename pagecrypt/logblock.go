package pagecrypt

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/tde-core/tdecore/tdeerrors"
)

// RedoKeySource resolves a specific, possibly non-current, redo-log key
// version. DecryptLogBlock calls it only when the version recovered from a
// block's checksum does not match the context's loaded version (spec.md
// §4.5 "Log block decrypt").
type RedoKeySource interface {
	KeyForVersion(ctx context.Context, version uint32) ([32]byte, error)
}

func logBlockEncryptedBit(hdr []byte) bool {
	return hdr[LogBlockEncryptedBitOffset]&LogBlockEncryptedBitMask != 0
}

func setLogBlockEncryptedBit(hdr []byte, set bool) {
	if set {
		hdr[LogBlockEncryptedBitOffset] |= LogBlockEncryptedBitMask
	} else {
		hdr[LogBlockEncryptedBitOffset] &^= LogBlockEncryptedBitMask
	}
}

// EncryptLogBlock transforms the plaintext 512-byte block src into the
// ciphertext block dst (spec.md §4.5 "Log block encrypt"). ModeNone copies
// through unchanged.
func EncryptLogBlock(encCtx *Context, src, dst []byte) error {
	if len(src) != LogBlockSize || len(dst) != LogBlockSize {
		return fmt.Errorf("%w: log block must be %d bytes", tdeerrors.InvariantViolation, LogBlockSize)
	}
	if encCtx.Mode == ModeNone {
		copy(dst, src)
		return nil
	}

	keyring := encCtx.Mode == ModeKeyring || encCtx.Mode == ModeKeyringRotatingFromMaster
	if keyring && encCtx.KeyVersion == 0 {
		return fmt.Errorf("%w: keyring mode with zero key_version", tdeerrors.InvariantViolation)
	}

	copy(dst, src)

	bodyEnd := LogBlockSize
	if keyring {
		bodyEnd -= LogBlockTrlSize
	}
	region := dst[LogBlockHdrSize:bodyEnd]
	if err := cbcEncryptTail(encCtx.Key[:], encCtx.IV[:], region); err != nil {
		return err
	}

	setLogBlockEncryptedBit(dst, true)

	if keyring {
		crc := crc32Of(region)
		binary.BigEndian.PutUint32(dst[bodyEnd:], crc+encCtx.KeyVersion)
	}

	return nil
}

// DecryptLogBlock reverses EncryptLogBlock. If the block's encrypted bit is
// clear it is passed through unchanged. For keyring mode, the key version
// stamped in the trailer is recovered and, if it differs from ctx's loaded
// version, the correct key is fetched via redoKeys before decrypting
// (spec.md §4.5 "Log block decrypt", §8 scenario S6).
func DecryptLogBlock(goCtx context.Context, redoKeys RedoKeySource, encCtx *Context, src, dst []byte) error {
	if len(src) != LogBlockSize || len(dst) != LogBlockSize {
		return fmt.Errorf("%w: log block must be %d bytes", tdeerrors.InvariantViolation, LogBlockSize)
	}

	copy(dst, src)

	if !logBlockEncryptedBit(dst) {
		return nil
	}
	if encCtx.Mode == ModeNone {
		return fmt.Errorf("%w: encountered encrypted log block with no encryption context", tdeerrors.DecryptFail)
	}

	keyring := encCtx.Mode == ModeKeyring || encCtx.Mode == ModeKeyringRotatingFromMaster
	bodyEnd := LogBlockSize
	if keyring {
		bodyEnd -= LogBlockTrlSize
	}
	region := dst[LogBlockHdrSize:bodyEnd]

	key := encCtx.Key
	if keyring {
		storedChecksum := binary.BigEndian.Uint32(dst[bodyEnd:])
		encKeyVersion := storedChecksum - crc32Of(region)
		if encKeyVersion != encCtx.KeyVersion {
			if redoKeys == nil {
				return fmt.Errorf("%w: log block needs key_version %d but no redo key source is configured", tdeerrors.KeyringUnavailable, encKeyVersion)
			}
			k, err := redoKeys.KeyForVersion(goCtx, encKeyVersion)
			if err != nil {
				return fmt.Errorf("%w: fetching redo log key version %d: %s", tdeerrors.KeyringUnavailable, encKeyVersion, err)
			}
			key = k
		}
	}

	if err := cbcDecryptTail(key[:], encCtx.IV[:], region); err != nil {
		return err
	}

	setLogBlockEncryptedBit(dst, false)

	if keyring {
		binary.BigEndian.PutUint32(dst[bodyEnd:], crc32Of(region))
	}

	return nil
}
