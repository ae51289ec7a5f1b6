package netdev

import (
	"fmt"
	"net"
)

// ReservedRange holds one TCP and one UDP listener bound to every port in
// [portMin, portMax] on host for the lifetime of the process, so the
// kernel never sends an unsolicited RST/ICMP-unreachable for a port the
// relay is about to reuse. The sockets are never read from; only their
// bound state matters. Packet capture observes inbound frames in this
// range regardless of the firewall DROP rule installed alongside it.
type ReservedRange struct {
	listeners []net.Listener
	conns     []net.PacketConn
}

// BindPortRange binds host:port for every port in [portMin, portMax], both
// TCP and UDP. On any failure it closes everything bound so far and
// returns the error.
func BindPortRange(host string, portMin, portMax uint16) (*ReservedRange, error) {
	r := &ReservedRange{}
	for port := portMin; ; port++ {
		addr := fmt.Sprintf("%s:%d", host, port)

		tl, err := net.Listen("tcp", addr)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("netdev: bind tcp %s: %w", addr, err)
		}
		r.listeners = append(r.listeners, tl)

		uc, err := net.ListenPacket("udp", addr)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("netdev: bind udp %s: %w", addr, err)
		}
		r.conns = append(r.conns, uc)

		if port == portMax {
			break
		}
	}
	return r, nil
}

// Close releases every socket held by the range.
func (r *ReservedRange) Close() {
	for _, l := range r.listeners {
		_ = l.Close()
	}
	for _, c := range r.conns {
		_ = c.Close()
	}
	r.listeners = nil
	r.conns = nil
}
