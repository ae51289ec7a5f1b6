package nat

import "testing"

func ep(a, b, c, d byte, port uint16) Endpoint {
	return Endpoint{Addr: [4]byte{a, b, c, d}, Port: port}
}

func TestAddEntryThenQueryPort(t *testing.T) {
	table := New(60000, 60002) // 3 ports
	peer := ep(198, 51, 100, 1, 5000)
	inner := ep(10, 0, 0, 5, 12345)

	port := table.AddEntry(peer, inner)
	if port < 60000 || port > 60002 {
		t.Fatalf("AddEntry returned out-of-range port %d", port)
	}
	got, ok := table.QueryPort(peer, inner)
	if !ok {
		t.Fatal("QueryPort: not found after AddEntry")
	}
	if got != port {
		t.Fatalf("QueryPort = %d, want %d", got, port)
	}
}

func TestQueryHostReturnsOriginalTuple(t *testing.T) {
	table := New(60000, 60001)
	peer := ep(198, 51, 100, 1, 5000)
	inner := ep(10, 0, 0, 5, 12345)
	port := table.AddEntry(peer, inner)

	gotPeer, gotInner, ok := table.QueryHost(port)
	if !ok {
		t.Fatal("QueryHost: not found")
	}
	if gotPeer != peer || gotInner != inner {
		t.Fatalf("QueryHost = (%v, %v), want (%v, %v)", gotPeer, gotInner, peer, inner)
	}
}

func TestAddEntryAlwaysEvictsNeverReportsFull(t *testing.T) {
	table := New(60000, 60001) // capacity 2
	var ports []uint16
	for i := 0; i < 5; i++ {
		p := table.AddEntry(ep(10, 0, 0, byte(i), uint16(1000+i)), ep(10, 1, 1, byte(i), uint16(2000+i)))
		ports = append(ports, p)
	}
	// every allocation must succeed and land in range, regardless of how
	// many more entries than capacity were requested.
	for _, p := range ports {
		if p < 60000 || p > 60001 {
			t.Fatalf("port %d out of configured range", p)
		}
	}
}

func TestAddEntryEvictionDropsOldestMapping(t *testing.T) {
	table := New(60000, 60000) // capacity 1: every AddEntry evicts the only slot
	peerA, innerA := ep(1, 1, 1, 1, 1), ep(2, 2, 2, 2, 2)
	peerB, innerB := ep(3, 3, 3, 3, 3), ep(4, 4, 4, 4, 4)

	table.AddEntry(peerA, innerA)
	table.AddEntry(peerB, innerB)

	if _, ok := table.QueryPort(peerA, innerA); ok {
		t.Fatal("original mapping should have been evicted")
	}
	port, ok := table.QueryPort(peerB, innerB)
	if !ok {
		t.Fatal("new mapping should be present")
	}
	gotPeer, gotInner, ok := table.QueryHost(port)
	if !ok || gotPeer != peerB || gotInner != innerB {
		t.Fatalf("QueryHost after eviction = (%v, %v, %v), want (%v, %v, true)", gotPeer, gotInner, ok, peerB, innerB)
	}
}

func TestQueryPortDoesNotAffectLRUButQueryHostDoes(t *testing.T) {
	table := New(60000, 60001) // capacity 2
	peerA, innerA := ep(1, 1, 1, 1, 1), ep(2, 2, 2, 2, 2)
	peerB, innerB := ep(3, 3, 3, 3, 3), ep(4, 4, 4, 4, 4)

	portA := table.AddEntry(peerA, innerA) // A is now LRU tail (least recent)
	_ = table.AddEntry(peerB, innerB)      // B is most recent; A still tail

	// QueryPort on A must NOT promote it: a subsequent AddEntry should
	// still evict A.
	if _, ok := table.QueryPort(peerA, innerA); !ok {
		t.Fatal("QueryPort should find A")
	}
	peerC, innerC := ep(5, 5, 5, 5, 5), ep(6, 6, 6, 6, 6)
	if portC := table.AddEntry(peerC, innerC); portC != portA {
		t.Fatalf("AddEntry(C) = %d, want A's reclaimed port %d", portC, portA)
	}
	if _, ok := table.QueryPort(peerA, innerA); ok {
		t.Fatal("A should have been evicted: QueryPort must not promote LRU order")
	}

	// Rebuild with a fresh table to test that QueryHost DOES keep an
	// entry alive.
	table2 := New(60000, 60001)
	pA := table2.AddEntry(peerA, innerA)
	table2.AddEntry(peerB, innerB)
	// Touch A via QueryHost so it becomes most-recently-used.
	if _, _, ok := table2.QueryHost(pA); !ok {
		t.Fatal("QueryHost should find A")
	}
	table2.AddEntry(peerC, innerC) // should evict B, not A
	if _, ok := table2.QueryPort(peerA, innerA); !ok {
		t.Fatal("A should have survived eviction after being kept alive by QueryHost")
	}
	if _, ok := table2.QueryPort(peerB, innerB); ok {
		t.Fatal("B should have been evicted")
	}
}

func TestLenTracksOccupancyUpToCapacity(t *testing.T) {
	table := New(60000, 60001) // capacity 2
	if got := table.Len(); got != 0 {
		t.Fatalf("Len on empty table = %d, want 0", got)
	}
	table.AddEntry(ep(1, 1, 1, 1, 1), ep(2, 2, 2, 2, 2))
	if got := table.Len(); got != 1 {
		t.Fatalf("Len after one AddEntry = %d, want 1", got)
	}
	table.AddEntry(ep(3, 3, 3, 3, 3), ep(4, 4, 4, 4, 4))
	if got := table.Len(); got != 2 {
		t.Fatalf("Len after filling capacity = %d, want 2", got)
	}
	// Further allocations evict-and-replace; occupancy stays at capacity.
	table.AddEntry(ep(5, 5, 5, 5, 5), ep(6, 6, 6, 6, 6))
	if got := table.Len(); got != 2 {
		t.Fatalf("Len after eviction = %d, want 2 (capacity, not growing)", got)
	}
}

func TestQueryMissReportsFalse(t *testing.T) {
	table := New(60000, 60001)
	if _, ok := table.QueryPort(ep(1, 1, 1, 1, 1), ep(2, 2, 2, 2, 2)); ok {
		t.Fatal("QueryPort on empty table should miss")
	}
	if _, _, ok := table.QueryHost(60000); ok {
		t.Fatal("QueryHost on empty table should miss")
	}
}
