//go:build linux

// Package rawsock provides the relay's raw IPv4 send socket, used to
// inject NAT-rewritten packets toward the internal network with the
// kernel performing routing but not re-framing.
package rawsock

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Socket is a raw IPv4 socket with IP_HDRINCL set, so every Send call
// supplies a complete IPv4 header the kernel will not rewrite.
type Socket struct {
	fd int
}

// Open creates the raw socket.
func Open() (*Socket, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_RAW, unix.IPPROTO_RAW)
	if err != nil {
		return nil, fmt.Errorf("rawsock: socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_HDRINCL, 1); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("rawsock: IP_HDRINCL: %w", err)
	}
	return &Socket{fd: fd}, nil
}

// Send transmits packet (a complete IPv4 datagram, header included) toward
// dst. The kernel routes by dst; the packet's own destination address
// field should already agree with dst.
func (s *Socket) Send(packet []byte, dst [4]byte) error {
	addr := &unix.SockaddrInet4{Addr: dst}
	return unix.Sendto(s.fd, packet, 0, addr)
}

// Close closes the socket.
func (s *Socket) Close() error {
	return unix.Close(s.fd)
}
