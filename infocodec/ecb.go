package infocodec

import (
	"crypto/aes"
	"fmt"
)

// wrapECB AES-256-ECB-encrypts a 64-byte {key‖iv} region under masterKey, a
// single block at a time. This wraps exactly one random, never-reused
// 64-byte value (spec.md §9: "Safe because the wrapped content is random
// and never repeats. Do not replace with a KDF without a version bump.");
// no example repo in the teacher pack implements ECB (AEAD/box ciphers do
// not need it), so this is hand-rolled directly over crypto/aes's
// single-block primitive rather than introduced as a dependency. See
// DESIGN.md.
func wrapECB(masterKey, plaintext []byte) ([]byte, error) {
	return ecbTransform(masterKey, plaintext, true)
}

// unwrapECB reverses wrapECB.
func unwrapECB(masterKey, ciphertext []byte) ([]byte, error) {
	return ecbTransform(masterKey, ciphertext, false)
}

func ecbTransform(masterKey, in []byte, encrypt bool) ([]byte, error) {
	if len(in)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("infocodec: ECB input length %d is not a multiple of the AES block size", len(in))
	}
	block, err := aes.NewCipher(masterKey)
	if err != nil {
		return nil, fmt.Errorf("infocodec: constructing AES cipher: %w", err)
	}
	out := make([]byte, len(in))
	for off := 0; off < len(in); off += aes.BlockSize {
		chunk := in[off : off+aes.BlockSize]
		dst := out[off : off+aes.BlockSize]
		if encrypt {
			block.Encrypt(dst, chunk)
		} else {
			block.Decrypt(dst, chunk)
		}
	}
	return out, nil
}
