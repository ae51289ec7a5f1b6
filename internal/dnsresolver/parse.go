package dnsresolver

import (
	"encoding/binary"
	"fmt"
)

const (
	typeA  = 0x0001
	classIN = 0x0001
)

// ParseResponse extracts the transaction id and the set of A-record
// addresses (dotted-quad strings) from a raw DNS response packet. Only
// type-A, class-IN records are collected; anything else is skipped using
// its RDLENGTH so parsing can continue past it.
func ParseResponse(packet []byte) (transactionID uint16, addrs []string, err error) {
	if len(packet) < 12 {
		return 0, nil, fmt.Errorf("dnsresolver: response shorter than a header")
	}
	if packet[3]&0x0f != 0 {
		return 0, nil, fmt.Errorf("dnsresolver: response code %d", packet[3]&0x0f)
	}
	transactionID = binary.BigEndian.Uint16(packet[0:2])
	questionCount := binary.BigEndian.Uint16(packet[4:6])
	answerCount := binary.BigEndian.Uint16(packet[6:8])
	nsCount := binary.BigEndian.Uint16(packet[8:10])
	arCount := binary.BigEndian.Uint16(packet[10:12])

	ptr := 12
	for i := uint16(0); i < questionCount; i++ {
		n, serr := skipName(packet, ptr)
		if serr != nil {
			return 0, nil, serr
		}
		ptr += n + 4 // + type(2) + class(2)
	}

	total := int(answerCount) + int(nsCount) + int(arCount)
	for i := 0; i < total; i++ {
		addr, n, ok := retrieveRecord(packet, ptr)
		if !ok {
			// retrieveRecord already advances past type-A/class-IN
			// mismatches via RDLENGTH; !ok only happens when the record
			// (or its name) runs past the end of packet, or when a
			// type-A/class-IN record's RDLENGTH is not 4. Parsing cannot
			// continue reliably past this point, so stop here as the
			// reference does.
			break
		}
		ptr += n
		if addr != "" {
			addrs = append(addrs, addr)
		}
	}
	return transactionID, addrs, nil
}

// retrieveRecord parses one resource record at base, returning its decoded
// address (empty if the record is not a type-A/class-IN record), the
// number of bytes consumed, and whether parsing succeeded.
func retrieveRecord(packet []byte, base int) (addr string, consumed int, ok bool) {
	ptr := base
	if ptr >= len(packet) {
		return "", 0, false
	}
	if packet[ptr]&0xc0 == 0xc0 {
		ptr += 2
	} else {
		n, err := skipName(packet, ptr)
		if err != nil {
			return "", 0, false
		}
		ptr += n
	}
	if ptr+10 > len(packet) {
		return "", 0, false
	}
	rtype := binary.BigEndian.Uint16(packet[ptr : ptr+2])
	ptr += 2
	rclass := binary.BigEndian.Uint16(packet[ptr : ptr+2])
	ptr += 2
	ptr += 4 // TTL
	rdlength := binary.BigEndian.Uint16(packet[ptr : ptr+2])
	ptr += 2

	if rtype != typeA || rclass != classIN {
		ptr += int(rdlength)
		return "", ptr - base, true
	}
	if ptr+4 > len(packet) || rdlength != 4 {
		return "", 0, false
	}
	addr = fmt.Sprintf("%d.%d.%d.%d", packet[ptr], packet[ptr+1], packet[ptr+2], packet[ptr+3])
	ptr += 4
	return addr, ptr - base, true
}
