// Package metrics exposes the proxies' drop counters and NAT occupancy as
// Prometheus collectors, served on an optional HTTP listener.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Drops counts packets dropped per direction, labeled the way the
// reference's write_tun_dropped_/write_udp_dropped_/write_raw_fd_dropped_
// counters are reported in log lines.
var Drops = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "kale_tun_proxy_drops_total",
	Help: "Packets dropped because the destination fd was not writable (EAGAIN).",
}, []string{"direction"})

// NATEntriesInUse reports, per protocol, how many of the reserved port
// range's slots currently hold a live mapping. Updated from
// nat.Table.Len() whenever relayproxy allocates a new entry; once the
// range fills it never reports less than its full size again, since
// AddEntry always evicts and reassigns rather than refusing.
var NATEntriesInUse = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Name: "kale_tun_proxy_nat_entries",
	Help: "NAT table entries currently allocated, per transport protocol.",
}, []string{"protocol"})

func init() {
	prometheus.MustRegister(Drops, NATEntriesInUse)
}

// Serve starts an HTTP server exposing /metrics on addr and blocks until
// ctx is canceled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return srv.Close()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics: serve %s: %w", addr, err)
	}
}
