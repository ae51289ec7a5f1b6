package cipher

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Direction labels for HKDF info, selecting one of the two independent
// per-direction ciphers the -dual-key deployment mode derives from one
// shared secret.
const (
	DirClientToRelay = "c2r"
	DirRelayToClient = "r2c"
)

// NewFromHKDF derives a 32-byte key from secret via HKDF-SHA256 with info
// as the context label, and builds a Cipher from it. Used by the
// -dual-key mode to give each direction of the tunnel an independent
// keystream instead of sharing one Cipher instance both ways.
func NewFromHKDF(secret []byte, info string) *Cipher {
	r := hkdf.New(sha256.New, secret, nil, []byte(info))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		panic("cipher: hkdf expand: " + err.Error())
	}
	return New(key)
}
