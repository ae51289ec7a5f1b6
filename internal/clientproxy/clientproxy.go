//go:build linux

// Package clientproxy implements the client side of the tunnel: a single,
// single-threaded, edge-triggered epoll loop bridging a TUN device and one
// UDP socket talking to the relay. It deliberately does not hide the event
// loop behind a blocking io.Reader/io.Writer: drop counting and fatal/
// non-fatal error classification happen at the loop's own read/write call
// sites, not inside a wrapper.
package clientproxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sys/unix"

	"kale-tun-proxy/internal/codec"
	"kale-tun-proxy/internal/metrics"
)

// Proxy bridges one TUN fd and one connected UDP fd.
type Proxy struct {
	tunFd  int
	udpFd  int
	epfd   int
	encode *codec.Codec
	decode *codec.Codec
	log    *slog.Logger

	writeTUNDropped uint64
	writeUDPDropped uint64
}

// New builds a Proxy over the given already-configured, non-blocking file
// descriptors, using one shared Cipher instance both directions (the
// legacy, byte-compatible default). udpFd must already be connected to
// the relay's tunnel address (so a plain write(2) suffices).
func New(tunFd, udpFd int, key []byte, log *slog.Logger) (*Proxy, error) {
	c := codec.New(key)
	return newProxy(tunFd, udpFd, c, c, log)
}

// NewDualKey is like New but derives independent per-direction ciphers
// from secret via HKDF (the -dual-key deployment mode), instead of
// sharing one Cipher instance both ways.
func NewDualKey(tunFd, udpFd int, secret []byte, log *slog.Logger) (*Proxy, error) {
	c2r, r2c := codec.NewDirectional(secret)
	return newProxy(tunFd, udpFd, c2r, r2c, log)
}

func newProxy(tunFd, udpFd int, encode, decode *codec.Codec, log *slog.Logger) (*Proxy, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("clientproxy: epoll_create1: %w", err)
	}
	p := &Proxy{tunFd: tunFd, udpFd: udpFd, epfd: epfd, encode: encode, decode: decode, log: log}

	for _, fd := range []int{tunFd, udpFd} {
		ev := unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLET, Fd: int32(fd)}
		if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
			_ = unix.Close(epfd)
			return nil, fmt.Errorf("clientproxy: epoll_ctl add fd %d: %w", fd, err)
		}
	}
	return p, nil
}

// Close releases the epoll instance. The caller owns and closes tunFd/
// udpFd themselves.
func (p *Proxy) Close() error {
	return unix.Close(p.epfd)
}

// Run drives the epoll loop until ctx is canceled or a fatal I/O error
// occurs on either fd.
func (p *Proxy) Run(ctx context.Context) error {
	events := make([]unix.EpollEvent, 8)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, err := unix.EpollWait(p.epfd, events, 1000)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("clientproxy: epoll_wait: %w", err)
		}
		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			switch fd {
			case p.tunFd:
				if err := p.handleTUN(); err != nil {
					return err
				}
			case p.udpFd:
				if err := p.handleUDP(); err != nil {
					return err
				}
			}
		}
	}
}

// handleTUN drains the TUN device until EAGAIN, encoding and forwarding
// every packet read to the relay over UDP.
func (p *Proxy) handleTUN() error {
	buf := make([]byte, 65536)
	for {
		n, err := unix.Read(p.tunFd, buf)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
				return nil
			}
			return fmt.Errorf("clientproxy: read tun: %w", err)
		}
		wire := p.encode.Encode(buf[:n])
		_, err = unix.Write(p.udpFd, wire)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
				p.writeUDPDropped++
				metrics.Drops.WithLabelValues("udp").Inc()
				p.log.Warn("dropped packet: udp write would block", "total_dropped", p.writeUDPDropped)
				continue
			}
			return fmt.Errorf("clientproxy: write udp: %w", err)
		}
	}
}

// handleUDP drains the tunnel socket until EAGAIN, decoding each datagram
// and writing the recovered IPv4 packet to the TUN device. A decode
// failure is logged and the datagram dropped; it is not fatal.
func (p *Proxy) handleUDP() error {
	buf := make([]byte, 65536)
	for {
		n, err := unix.Read(p.udpFd, buf)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
				return nil
			}
			return fmt.Errorf("clientproxy: read udp: %w", err)
		}
		packet, decErr := p.decode.Decode(buf[:n])
		if decErr != nil {
			p.log.Error("dropped datagram: decode failed", "err", decErr)
			continue
		}
		_, err = unix.Write(p.tunFd, packet)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
				p.writeTUNDropped++
				metrics.Drops.WithLabelValues("tun").Inc()
				p.log.Warn("dropped packet: tun write would block", "total_dropped", p.writeTUNDropped)
				continue
			}
			return fmt.Errorf("clientproxy: write tun: %w", err)
		}
	}
}
