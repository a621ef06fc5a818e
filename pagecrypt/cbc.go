package pagecrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"github.com/tde-core/tdecore/tdeerrors"
)

// cbcEncryptTail applies spec.md §9's two-pass tail trick to region, a
// length-preserving AES-256-CBC transform for data whose length is not a
// multiple of AESBlockSize:
//
//  1. encrypt the block-aligned prefix chunkLen = (len/AESBlockSize)*AESBlockSize
//  2. the residual tail bytes are already in place verbatim (region is
//     dst, sliced from a header-copied buffer)
//  3. re-encrypt the last 2*AESBlockSize bytes of region in place
//
// region must be at least 2*AESBlockSize long; this is MinEncryptionLen's
// data-region counterpart and is the caller's responsibility to enforce.
//
// iv may be longer than one AES block (the context IV is 32 bytes); both CBC
// passes use its first AESBlockSize bytes.
func cbcEncryptTail(key, iv []byte, region []byte) error {
	if len(region) < 2*AESBlockSize {
		return fmt.Errorf("%w: region too short for the tail trick: %d bytes", tdeerrors.EncryptFail, len(region))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("%w: constructing AES cipher: %s", tdeerrors.EncryptFail, err)
	}
	iv = iv[:AESBlockSize]

	chunkLen := (len(region) / AESBlockSize) * AESBlockSize
	if chunkLen > 0 {
		mode := cipher.NewCBCEncrypter(block, iv)
		mode.CryptBlocks(region[:chunkLen], region[:chunkLen])
	}

	if chunkLen != len(region) {
		// Re-encrypt the final two blocks as an independent CBC pass
		// chained from the context IV, not from wherever the main pass
		// left off: this is what makes the trick invertible in two
		// distinct decrypt passes below.
		tailStart := len(region) - 2*AESBlockSize
		mode := cipher.NewCBCEncrypter(block, iv)
		mode.CryptBlocks(region[tailStart:], region[tailStart:])
	}

	return nil
}

// cbcDecryptTail mirrors cbcEncryptTail: decrypt the last two blocks first
// (from a scratch copy of their ciphertext, with the context IV as the
// encrypt side's tail pass uses), then decrypt the block-aligned prefix.
func cbcDecryptTail(key, iv []byte, region []byte) error {
	if len(region) < 2*AESBlockSize {
		return fmt.Errorf("%w: region too short for the tail trick: %d bytes", tdeerrors.DecryptFail, len(region))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("%w: constructing AES cipher: %s", tdeerrors.DecryptFail, err)
	}
	iv = iv[:AESBlockSize]

	chunkLen := (len(region) / AESBlockSize) * AESBlockSize
	if chunkLen != len(region) {
		// Undo the tail re-encryption pass first, using a scratch copy: the
		// window may overlap the block-aligned prefix, and CryptBlocks
		// would otherwise clobber bytes the second pass below still needs
		// to read as ciphertext.
		tailStart := len(region) - 2*AESBlockSize
		scratch := make([]byte, 2*AESBlockSize)
		copy(scratch, region[tailStart:])
		mode := cipher.NewCBCDecrypter(block, iv)
		mode.CryptBlocks(region[tailStart:], scratch)
	}

	if chunkLen > 0 {
		mode := cipher.NewCBCDecrypter(block, iv)
		mode.CryptBlocks(region[:chunkLen], region[:chunkLen])
	}

	return nil
}
