// Package netdev manages the relay's reserved port range: holding sockets
// open for the range's lifetime so the kernel never resets unsolicited
// traffic on those ports, and installing a firewall rule that drops
// traffic destined to the range outright (packet capture still observes
// it regardless of the drop).
package netdev

// Firewall installs and removes the reserved-port-range DROP rule for one
// relay-facing network device.
type Firewall interface {
	// DropPortRange installs a rule dropping inbound traffic whose
	// destination port falls in [portMin, portMax]. Whether the rule is
	// limited to dev depends on the implementation.
	DropPortRange(dev string, portMin, portMax uint16) error
	// RemovePortRange removes the rule installed by DropPortRange.
	RemovePortRange(dev string, portMin, portMax uint16) error
	Close() error
}
