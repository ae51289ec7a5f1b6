// Package capture wraps promiscuous packet capture on the relay's
// internal-facing interface: a BPF filter restricts frames to the
// reserved port range, and each frame's link-layer header is stripped
// according to its datalink type before the IPv4 payload is handed to the
// caller.
package capture

import (
	"fmt"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
)

// Handle captures on one network device.
type Handle struct {
	h        *pcap.Handle
	datalink layers.LinkType
}

// Open starts promiscuous capture on dev with a 1ms read timeout and a BPF
// filter restricting traffic to host relayAddr with a destination port in
// [portMin, portMax].
func Open(dev string, relayAddr string, portMin, portMax uint16) (*Handle, error) {
	h, err := pcap.OpenLive(dev, 65536, true, time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("capture: open %s: %w", dev, err)
	}
	filter := fmt.Sprintf("(udp or tcp) and host %s and dst portrange %d-%d", relayAddr, portMin, portMax)
	if err := h.SetBPFFilter(filter); err != nil {
		h.Close()
		return nil, fmt.Errorf("capture: set filter %q: %w", filter, err)
	}
	return &Handle{h: h, datalink: h.LinkType()}, nil
}

// ReadIPv4 returns the next captured frame's IPv4 payload with its
// link-layer header stripped. A frame captured on a datalink type this
// package does not recognize is dropped (ok=false, err=nil) rather than
// treated as fatal, so the caller's loop should simply continue.
func (h *Handle) ReadIPv4() (packet []byte, ok bool, err error) {
	data, _, err := h.h.ReadPacketData()
	if err != nil {
		if err == pcap.NextErrorTimeoutExpired {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("capture: read: %w", err)
	}
	offset, known := linkHeaderLen(h.datalink)
	if !known {
		return nil, false, nil
	}
	if len(data) < offset {
		return nil, false, nil
	}
	return data[offset:], true, nil
}

// Close releases the capture handle.
func (h *Handle) Close() {
	h.h.Close()
}

// linkHeaderLen returns the number of leading bytes to strip for a given
// datalink type, matching the reference capture loop's dispatch table.
func linkHeaderLen(dl layers.LinkType) (int, bool) {
	switch dl {
	case layers.LinkTypeLinuxSLL:
		return 16, true
	case layers.LinkTypeEthernet:
		return 14, true
	case layers.LinkTypeSLIP, layers.LinkTypePPP:
		return 24, true
	case layers.LinkTypeNull:
		return 4, true
	default:
		return 0, false
	}
}
