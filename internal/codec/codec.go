// Package codec pairs the tunnel's stream cipher with Snappy compression
// into a single encode/decode transform, matching the Coding struct's
// Encode/Decode pairing from the reference implementation.
package codec

import (
	"fmt"

	"github.com/golang/snappy"

	"kale-tun-proxy/internal/cipher"
)

// Codec transforms plaintext tunnel payloads to and from wire form.
// Encode compresses after encrypting; Decode decompresses and then
// decrypts, undoing Encode's two steps in reverse order. This is the
// order the reference applies them in.
type Codec struct {
	c *cipher.Cipher
}

// New builds a Codec keyed with key.
func New(key []byte) *Codec {
	return &Codec{c: cipher.New(key)}
}

// NewDirectional derives two independent Codecs from one shared secret via
// HKDF, one for the client-to-relay direction and one for relay-to-client,
// for the -dual-key deployment mode (spec.md §9 Open Question, resolved in
// SPEC_FULL.md §4.1). The legacy default (New) shares a single Cipher
// instance both ways instead.
func NewDirectional(secret []byte) (c2r, r2c *Codec) {
	return &Codec{c: cipher.NewFromHKDF(secret, cipher.DirClientToRelay)},
		&Codec{c: cipher.NewFromHKDF(secret, cipher.DirRelayToClient)}
}

// Encode returns the wire-form bytes for plain.
func (cd *Codec) Encode(plain []byte) []byte {
	return snappy.Encode(nil, cd.c.Encrypt(plain))
}

// Decode recovers the plaintext from wire-form bytes. The only failure
// mode is malformed Snappy framing.
func (cd *Codec) Decode(wire []byte) ([]byte, error) {
	decompressed, err := snappy.Decode(nil, wire)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecompress, err)
	}
	return cd.c.Decrypt(decompressed), nil
}
