// Driver installs the reserved-port-range DROP rule via nftables directly
// (no shell-outs), the same netlink-based approach used elsewhere in the
// pack's nftables wrapper: a custom table/chain hooked at input, one rule
// per transport protocol matching a destination-port range.
package netdev

import (
	"fmt"
	"sync"

	nft "github.com/google/nftables"
	"github.com/google/nftables/binaryutil"
	"github.com/google/nftables/expr"
)

const (
	filterTableName = "kale_relay"
	dropChainName   = "reserved_ports_drop"
)

// NFTablesDriver implements Firewall using github.com/google/nftables.
// Its rules match the destination port range on every interface; the dev
// argument of DropPortRange and RemovePortRange only appears in error
// messages.
type NFTablesDriver struct {
	mu   sync.Mutex
	conn *nft.Conn
}

// NewNFTablesDriver opens a lasting netlink connection for rule
// management.
func NewNFTablesDriver() (*NFTablesDriver, error) {
	c, err := nft.New(nft.AsLasting())
	if err != nil {
		return nil, fmt.Errorf("netdev: nftables conn: %w", err)
	}
	return &NFTablesDriver{conn: c}, nil
}

func (d *NFTablesDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conn.CloseLasting()
}

func (d *NFTablesDriver) DropPortRange(dev string, portMin, portMax uint16) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	table := &nft.Table{Family: nft.TableFamilyIPv4, Name: filterTableName}
	d.conn.AddTable(table)

	hook := *nft.ChainHookInput
	prio := nft.ChainPriority(0)
	policy := nft.ChainPolicyAccept
	chain := &nft.Chain{
		Table:    table,
		Name:     dropChainName,
		Type:     nft.ChainTypeFilter,
		Hooknum:  &hook,
		Priority: &prio,
		Policy:   &policy,
	}
	d.conn.AddChain(chain)

	for _, proto := range []byte{6, 17} { // TCP, UDP
		d.conn.AddRule(&nft.Rule{
			Table: table,
			Chain: chain,
			Exprs: dropPortRangeExprs(proto, portMin, portMax),
		})
	}
	if err := d.conn.Flush(); err != nil {
		return fmt.Errorf("netdev: install drop rules on %s: %w", dev, err)
	}
	return nil
}

func (d *NFTablesDriver) RemovePortRange(dev string, portMin, portMax uint16) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	table := &nft.Table{Family: nft.TableFamilyIPv4, Name: filterTableName}
	chain := &nft.Chain{Table: table, Name: dropChainName}
	if err := d.conn.DelChain(chain); err != nil {
		return fmt.Errorf("netdev: remove drop chain: %w", err)
	}
	if err := d.conn.Flush(); err != nil {
		return fmt.Errorf("netdev: flush chain removal: %w", err)
	}
	return nil
}

// dropPortRangeExprs matches packets of the given L4 protocol whose
// transport-header destination port (bytes 2:4 of the segment, true for
// both TCP and UDP) falls in [portMin, portMax], and drops them.
func dropPortRangeExprs(proto byte, portMin, portMax uint16) []expr.Any {
	return []expr.Any{
		&expr.Meta{Key: expr.MetaKeyL4PROTO, Register: 1},
		&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: []byte{proto}},
		&expr.Payload{
			OperationType: expr.PayloadLoad,
			Base:          expr.PayloadBaseTransportHeader,
			Offset:        2,
			Len:           2,
			DestRegister:  1,
		},
		&expr.Cmp{Op: expr.CmpOpGte, Register: 1, Data: binaryutil.BigEndian.PutUint16(portMin)},
		&expr.Cmp{Op: expr.CmpOpLte, Register: 1, Data: binaryutil.BigEndian.PutUint16(portMax)},
		&expr.Verdict{Kind: expr.VerdictDrop},
	}
}
