package ipv4

import (
	"encoding/hex"
	"strings"
	"testing"
)

// buildUDPPacket returns a minimal IPv4+UDP packet: 20-byte header, 8-byte
// UDP header, payload. Checksums are left zero; callers fill them.
func buildUDPPacket(payload []byte) []byte {
	udpLen := 8 + len(payload)
	total := 20 + udpLen
	p := make([]byte, total)
	p[0] = 0x45 // version 4, IHL 5
	p[2], p[3] = byte(total>>8), byte(total)
	p[8] = 64        // TTL
	p[9] = protoUDP  // protocol
	copy(p[12:16], []byte{10, 0, 0, 1})
	copy(p[16:20], []byte{10, 0, 0, 2})
	seg := p[20:]
	seg[0], seg[1] = 0x1f, 0x90 // src port 8080
	seg[2], seg[3] = 0x00, 0x35 // dst port 53
	seg[4], seg[5] = byte(udpLen>>8), byte(udpLen)
	copy(seg[8:], payload)
	return p
}

// verifySum folds the accumulated sum over b WITHOUT skipping any field
// (including an already-filled checksum). A correctly filled one's
// complement checksum makes this verification sum equal 0xffff.
func verifySum(b []byte) uint16 {
	var sum uint32
	sum = sumBytes(sum, b)
	sum = (sum >> 16) + (sum & 0xffff)
	sum = (sum >> 16) + (sum & 0xffff)
	return uint16(sum)
}

func TestIPFillChecksumVerifies(t *testing.T) {
	p := buildUDPPacket([]byte("hello"))
	IPFillChecksum(p)
	if got := verifySum(p[:HeaderLength(p)]); got != 0xffff {
		t.Fatalf("verification sum over filled IP header = %#x, want 0xffff", got)
	}
}

func TestUDPFillChecksumVerifies(t *testing.T) {
	p := buildUDPPacket([]byte("hello"))
	UDPFillChecksum(p)
	segment := SegmentBase(p)
	// pseudo header + segment, per the algorithm UDPChecksum itself uses.
	var sum uint32
	sum = sumBytes(sum, p[12:20])
	sum += uint32(protoUDP)
	udpLen := uint16(segment[4])<<8 | uint16(segment[5])
	sum += uint32(udpLen)
	sum = sumBytes(sum, segment)
	sum = (sum >> 16) + (sum & 0xffff)
	sum = (sum >> 16) + (sum & 0xffff)
	if got := uint16(sum); got != 0xffff {
		t.Fatalf("verification sum over filled UDP segment = %#x, want 0xffff", got)
	}
}

func TestUDPFillChecksumVerifiesAcrossPayloadShapes(t *testing.T) {
	for _, payload := range [][]byte{
		{}, {0x00}, {0x00, 0x00, 0x00, 0x00}, []byte("x"),
	} {
		p := buildUDPPacket(payload)
		UDPFillChecksum(p)
		segment := SegmentBase(p)
		var sum uint32
		sum = sumBytes(sum, p[12:20])
		sum += uint32(protoUDP)
		udpLen := uint16(segment[4])<<8 | uint16(segment[5])
		sum += uint32(udpLen)
		sum = sumBytes(sum, segment)
		sum = (sum >> 16) + (sum & 0xffff)
		sum = (sum >> 16) + (sum & 0xffff)
		if got := uint16(sum); got != 0xffff {
			t.Fatalf("payload %v: verification sum = %#x, want 0xffff", payload, got)
		}
	}
}

func TestUDPChecksumZeroIsNotRemappedToFFFF(t *testing.T) {
	// This payload is crafted so the true one's-complement UDP checksum
	// computes to exactly 0x0000. RFC 768 requires transmitting 0xffff in
	// that case; this port deliberately does not perform that remap, to
	// stay byte-compatible with the reference implementation it is
	// ported from.
	p := buildUDPPacket([]byte{204, 18})
	if got := UDPChecksum(p); got != 0x0000 {
		t.Fatalf("UDPChecksum = %#x, want 0x0000 (no zero->0xffff remap)", got)
	}
}

func TestAccessorsAndMutators(t *testing.T) {
	p := buildUDPPacket([]byte("payload"))
	if !IsUDP(p) || IsTCP(p) {
		t.Fatal("protocol detection wrong")
	}
	if got := UDPSrcPort(p); got != 8080 {
		t.Fatalf("UDPSrcPort = %d, want 8080", got)
	}
	if got := UDPDstPort(p); got != 53 {
		t.Fatalf("UDPDstPort = %d, want 53", got)
	}
	ChangeUDPDstPort(p, 9999)
	if got := UDPDstPort(p); got != 9999 {
		t.Fatalf("ChangeUDPDstPort did not stick: got %d", got)
	}
	newAddr := [4]byte{192, 168, 1, 1}
	ChangeDstAddr(p, newAddr)
	if got := DstAddr(p); got != newAddr {
		t.Fatalf("ChangeDstAddr did not stick: got %v", got)
	}
}

func TestUDPEchoRoundTrip(t *testing.T) {
	p := buildUDPPacket([]byte("payload"))
	original := append([]byte(nil), p...)

	UDPEcho(p)
	UDPEcho(p)

	for i := range p {
		if p[i] != original[i] {
			t.Fatalf("udp_echo(udp_echo(p)) != p at byte %d: got %#x want %#x", i, p[i], original[i])
		}
	}
}

func TestUDPEchoSwapsAddrsAndPorts(t *testing.T) {
	p := buildUDPPacket([]byte("payload"))
	srcAddr, dstAddr := SrcAddr(p), DstAddr(p)
	srcPort, dstPort := UDPSrcPort(p), UDPDstPort(p)

	UDPEcho(p)

	if got := SrcAddr(p); got != dstAddr {
		t.Fatalf("SrcAddr after echo = %v, want %v", got, dstAddr)
	}
	if got := DstAddr(p); got != srcAddr {
		t.Fatalf("DstAddr after echo = %v, want %v", got, srcAddr)
	}
	if got := UDPSrcPort(p); got != dstPort {
		t.Fatalf("UDPSrcPort after echo = %d, want %d", got, dstPort)
	}
	if got := UDPDstPort(p); got != srcPort {
		t.Fatalf("UDPDstPort after echo = %d, want %d", got, srcPort)
	}
}

// scenario3Packet is spec's TCP checksum compatibility scenario: a real
// 52-byte TCP-in-IPv4 packet (IP header + TCP header + an 8-byte
// timestamp option) whose stored checksum is already correct.
func scenario3Packet(t *testing.T) []byte {
	t.Helper()
	const hexPacket = "45 00 00 34 9d 8a 40 00 40 06 e1 74 0a 00 00 01 4a 7d 67 47 90 10 01 bb " +
		"44 c6 c0 30 61 4e 74 cd 80 10 58 64 ff ff 00 00 01 01 08 0a 00 3e 27 db 96 a5 36 f7"
	p, err := hex.DecodeString(strings.ReplaceAll(hexPacket, " ", ""))
	if err != nil {
		t.Fatalf("decode scenario 3 packet: %v", err)
	}
	if len(p) != 52 {
		t.Fatalf("scenario 3 packet length = %d, want 52", len(p))
	}
	return p
}

func TestTCPChecksumValidatesScenario3Packet(t *testing.T) {
	p := scenario3Packet(t)
	if !IsTCP(p) {
		t.Fatal("scenario 3 packet should be TCP")
	}
	// pseudo header + full segment, including the already-correct stored
	// checksum field (not skipped, unlike TCPChecksum itself).
	segment := SegmentBase(p)
	var sum uint32
	sum = sumBytes(sum, p[12:20])
	sum += uint32(protoTCP)
	sum += uint32(len(segment))
	sum = sumBytes(sum, segment)
	sum = (sum >> 16) + (sum & 0xffff)
	sum = (sum >> 16) + (sum & 0xffff)
	if got := uint16(sum); got != 0xffff {
		t.Fatalf("verification sum over scenario 3 segment = %#x, want 0xffff", got)
	}
}

func TestTCPFillChecksumScenario3(t *testing.T) {
	p := scenario3Packet(t)
	TCPFillChecksum(p)
	segment := SegmentBase(p)
	got := uint16(segment[16])<<8 | uint16(segment[17])
	if got != 0xffff && got != 0x0000 {
		t.Fatalf("refilled TCP checksum = %#x, want 0xffff or 0x0000", got)
	}
}

func TestTCPAccessorsAndMutators(t *testing.T) {
	p := scenario3Packet(t)
	if !IsTCP(p) || IsUDP(p) {
		t.Fatal("protocol detection wrong")
	}
	if got := TCPSrcPort(p); got != 0x9010 {
		t.Fatalf("TCPSrcPort = %#x, want 0x9010", got)
	}
	if got := TCPDstPort(p); got != 0x01bb {
		t.Fatalf("TCPDstPort = %#x, want 0x01bb", got)
	}

	ChangeTCPSrcPort(p, 12345)
	if got := TCPSrcPort(p); got != 12345 {
		t.Fatalf("ChangeTCPSrcPort did not stick: got %d", got)
	}
	ChangeTCPDstPort(p, 54321)
	if got := TCPDstPort(p); got != 54321 {
		t.Fatalf("ChangeTCPDstPort did not stick: got %d", got)
	}
}

func TestRewriteOrderAddrThenTransportThenIPChecksum(t *testing.T) {
	p := buildUDPPacket([]byte("z"))
	UDPFillChecksum(p)
	IPFillChecksum(p)

	// Simulate a NAT rewrite: change dst addr/port, then recompute
	// transport checksum (which depends on the new addr via the pseudo
	// header), then recompute the IP checksum last.
	ChangeDstAddr(p, [4]byte{203, 0, 113, 7})
	ChangeUDPDstPort(p, 51820)
	UDPFillChecksum(p)
	IPFillChecksum(p)

	if got := verifySum(p[:HeaderLength(p)]); got != 0xffff {
		t.Fatalf("IP header checksum invalid after rewrite: verify sum = %#x", got)
	}
	segment := SegmentBase(p)
	var sum uint32
	sum = sumBytes(sum, p[12:20])
	sum += uint32(protoUDP)
	udpLen := uint16(segment[4])<<8 | uint16(segment[5])
	sum += uint32(udpLen)
	sum = sumBytes(sum, segment)
	sum = (sum >> 16) + (sum & 0xffff)
	sum = (sum >> 16) + (sum & 0xffff)
	if got := uint16(sum); got != 0xffff {
		t.Fatalf("UDP checksum invalid after rewrite: verify sum = %#x", got)
	}
}
