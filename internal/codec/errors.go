package codec

import "errors"

// ErrDecompress is returned by Decode when the wire bytes are not valid
// Snappy framing. It is never returned for cipher-related reasons — the
// cipher has no failure mode of its own.
var ErrDecompress = errors.New("codec: malformed compressed payload")
