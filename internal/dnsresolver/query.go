// Package dnsresolver implements a minimal single-question A-record DNS
// resolver: building the wire query, and parsing responses including
// name-compression pointers, keyed by transaction id.
package dnsresolver

import (
	"encoding/binary"
	"fmt"
)

// BuildQuery constructs a 12-byte header plus a single type-A, class-IN
// question for name, tagged with transaction id id.
func BuildQuery(name string, id uint16) []byte {
	header := make([]byte, 12)
	binary.BigEndian.PutUint16(header[0:2], id)
	header[2] = 0x01 // flags byte 1: recursion desired
	header[3] = 0x00 // flags byte 2
	binary.BigEndian.PutUint16(header[4:6], 1)
	// ancount, nscount, arcount all zero

	question := encodeName(name)
	question = append(question, 0x00, 0x01, 0x00, 0x01) // type A, class IN

	out := make([]byte, 0, len(header)+len(question))
	out = append(out, header...)
	out = append(out, question...)
	return out
}

// encodeName converts a dotted domain name into DNS length-prefixed label
// form, including the terminating zero-length label.
func encodeName(name string) []byte {
	out := make([]byte, 0, len(name)+2)
	start := 0
	for i := 0; i <= len(name); i++ {
		if i == len(name) || name[i] == '.' {
			label := name[start:i]
			out = append(out, byte(len(label)))
			out = append(out, label...)
			start = i + 1
		}
	}
	out = append(out, 0x00)
	return out
}

// skipName returns the number of bytes a (possibly compressed) name
// occupies at base, per RFC 1035 §4.1.4.
func skipName(packet []byte, base int) (int, error) {
	ptr := base
	for {
		if ptr >= len(packet) {
			return 0, fmt.Errorf("dnsresolver: name runs past end of packet")
		}
		count := packet[ptr]
		if count&0xc0 == 0xc0 {
			return ptr - base + 2, nil
		}
		if count == 0 {
			return ptr - base + 1, nil
		}
		ptr += int(count) + 1
	}
}
