// Package relayproxy implements the relay side of the tunnel: one worker
// reads encoded datagrams from peers over UDP and forwards the recovered,
// source-NATed IPv4 packets onto the internal network via a raw socket;
// a second worker captures return traffic addressed to the reserved port
// range, reverses the NAT, and sends the encoded packet back to the
// owning peer. The two workers share one nat.Table per transport
// protocol and run concurrently under an errgroup so either one's fatal
// error cancels the other.
package relayproxy

import (
	"context"
	"log/slog"
	"net"

	"golang.org/x/sync/errgroup"

	"kale-tun-proxy/internal/codec"
	"kale-tun-proxy/internal/ipv4"
	"kale-tun-proxy/internal/metrics"
	"kale-tun-proxy/internal/nat"
)

// RawSender abstracts internal/rawsock.Socket so tests can substitute a
// fake without opening a real raw socket.
type RawSender interface {
	Send(packet []byte, dst [4]byte) error
}

// Capturer abstracts internal/capture.Handle.
type Capturer interface {
	ReadIPv4() (packet []byte, ok bool, err error)
}

// Proxy is the relay's packet-forwarding core.
type Proxy struct {
	conn *net.UDPConn
	raw  RawSender
	cap  Capturer

	udpNAT *nat.Table
	tcpNAT *nat.Table

	localAddr [4]byte
	localPort uint16

	// decode recovers packets peers encoded client-to-relay; encode
	// prepares packets for a peer to decode relay-to-client. With the
	// legacy (non-dual-key) codec these are the same *codec.Codec.
	decode *codec.Codec
	encode *codec.Codec
	log    *slog.Logger

	writeRawDropped uint64
	writeUDPDropped uint64
}

// New builds a Proxy using one shared Cipher instance both directions
// (the legacy, byte-compatible default). localAddr is the relay's own
// address, substituted as the rewritten source address of every packet
// forwarded onto the internal network; the rewritten source port is the
// port the NAT table allocates. localPort (the tunnel listen port) is
// stored on the Proxy but not used in the rewrite.
func New(conn *net.UDPConn, raw RawSender, cap Capturer, portMin, portMax uint16, localAddr [4]byte, localPort uint16, key []byte, log *slog.Logger) *Proxy {
	c := codec.New(key)
	return newProxy(conn, raw, cap, portMin, portMax, localAddr, localPort, c, c, log)
}

// NewDualKey is like New but derives independent per-direction ciphers
// from secret via HKDF (the -dual-key deployment mode): decode uses the
// client-to-relay key, encode uses the relay-to-client key.
func NewDualKey(conn *net.UDPConn, raw RawSender, cap Capturer, portMin, portMax uint16, localAddr [4]byte, localPort uint16, secret []byte, log *slog.Logger) *Proxy {
	c2r, r2c := codec.NewDirectional(secret)
	return newProxy(conn, raw, cap, portMin, portMax, localAddr, localPort, c2r, r2c, log)
}

func newProxy(conn *net.UDPConn, raw RawSender, cap Capturer, portMin, portMax uint16, localAddr [4]byte, localPort uint16, decode, encode *codec.Codec, log *slog.Logger) *Proxy {
	return &Proxy{
		conn:      conn,
		raw:       raw,
		cap:       cap,
		udpNAT:    nat.New(portMin, portMax),
		tcpNAT:    nat.New(portMin, portMax),
		localAddr: localAddr,
		localPort: localPort,
		decode:    decode,
		encode:    encode,
		log:       log,
	}
}

// Run drives both workers until ctx is canceled or either returns a
// fatal error.
func (p *Proxy) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.runPeerWorker(ctx) })
	g.Go(func() error { return p.runCaptureWorker(ctx) })
	return g.Wait()
}

// runPeerWorker reads encoded datagrams arriving from tunnel clients,
// decodes them, and forwards the recovered IPv4 packet onto the internal
// network with its source rewritten to the relay's own address and a
// NAT-allocated port.
func (p *Proxy) runPeerWorker(ctx context.Context) error {
	buf := make([]byte, 65536)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, peerAddr, err := p.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return err
		}
		packet, decErr := p.decode.Decode(buf[:n])
		if decErr != nil {
			p.log.Error("dropped datagram from peer: decode failed", "peer", peerAddr, "err", decErr)
			metrics.Drops.WithLabelValues("peer_decode").Inc()
			continue
		}
		peer := nat.Endpoint{Port: uint16(peerAddr.Port)}
		copy(peer.Addr[:], peerAddr.IP.To4())

		switch {
		case ipv4.IsTCP(packet):
			p.forwardToInet(p.tcpNAT, peer, packet, true)
		case ipv4.IsUDP(packet):
			p.forwardToInet(p.udpNAT, peer, packet, false)
		}
	}
}

func protocolLabel(isTCP bool) string {
	if isTCP {
		return "tcp"
	}
	return "udp"
}

// forwardToInet rewrites packet's source to the relay's local
// addr:allocated-port, refills both checksums, and sends it via the raw
// socket to the packet's (unmodified) destination.
func (p *Proxy) forwardToInet(table *nat.Table, peer nat.Endpoint, packet []byte, isTCP bool) {
	inner := nat.Endpoint{Addr: ipv4.SrcAddr(packet)}
	if isTCP {
		inner.Port = ipv4.TCPSrcPort(packet)
	} else {
		inner.Port = ipv4.UDPSrcPort(packet)
	}

	port, ok := table.QueryPort(peer, inner)
	if !ok {
		port = table.AddEntry(peer, inner)
		metrics.NATEntriesInUse.WithLabelValues(protocolLabel(isTCP)).Set(float64(table.Len()))
	}

	ipv4.ChangeSrcAddr(packet, p.localAddr)
	if isTCP {
		ipv4.ChangeTCPSrcPort(packet, port)
		ipv4.TCPFillChecksum(packet)
	} else {
		ipv4.ChangeUDPSrcPort(packet, port)
		ipv4.UDPFillChecksum(packet)
	}
	ipv4.IPFillChecksum(packet)

	dst := ipv4.DstAddr(packet)
	if err := p.raw.Send(packet, dst); err != nil {
		p.writeRawDropped++
		p.log.Warn("dropped packet: raw send failed", "err", err, "total_dropped", p.writeRawDropped)
		metrics.Drops.WithLabelValues("raw").Inc()
	}
}

// runCaptureWorker reads IPv4 packets captured on the relay's
// internal-facing interface within the reserved port range, reverses the
// NAT rewrite, encodes, and sends the result back to the owning peer.
func (p *Proxy) runCaptureWorker(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		packet, ok, err := p.cap.ReadIPv4()
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		switch {
		case ipv4.IsTCP(packet):
			p.forwardToPeer(p.tcpNAT, packet, true)
		case ipv4.IsUDP(packet):
			p.forwardToPeer(p.udpNAT, packet, false)
		}
	}
}

// forwardToPeer reverses a prior forwardToInet rewrite: looks up the
// owning peer and inner endpoint by the packet's destination port,
// restores the inner destination address:port, refills both checksums,
// encodes, and sends to the peer.
func (p *Proxy) forwardToPeer(table *nat.Table, packet []byte, isTCP bool) {
	var port uint16
	if isTCP {
		port = ipv4.TCPDstPort(packet)
	} else {
		port = ipv4.UDPDstPort(packet)
	}

	peer, inner, ok := table.QueryHost(port)
	if !ok {
		return
	}

	ipv4.ChangeDstAddr(packet, inner.Addr)
	if isTCP {
		ipv4.ChangeTCPDstPort(packet, inner.Port)
		ipv4.TCPFillChecksum(packet)
	} else {
		ipv4.ChangeUDPDstPort(packet, inner.Port)
		ipv4.UDPFillChecksum(packet)
	}
	ipv4.IPFillChecksum(packet)

	wire := p.encode.Encode(packet)
	dst := &net.UDPAddr{IP: net.IP(peer.Addr[:]), Port: int(peer.Port)}
	if _, err := p.conn.WriteToUDP(wire, dst); err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			p.writeUDPDropped++
			p.log.Warn("dropped packet: peer write timed out", "total_dropped", p.writeUDPDropped)
			metrics.Drops.WithLabelValues("udp").Inc()
			return
		}
		p.log.Error("failed to send to peer", "peer", dst, "err", err)
	}
}
