// Command relay runs the relay proxy: a UDP listener facing tunnel
// clients, a raw IPv4 sender and packet-capture handle facing the
// internal network, and the two-level NAT table bridging them.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"

	"kale-tun-proxy/internal/capture"
	"kale-tun-proxy/internal/metrics"
	"kale-tun-proxy/internal/netdev"
	"kale-tun-proxy/internal/proxylog"
	"kale-tun-proxy/internal/rawsock"
	"kale-tun-proxy/internal/relayproxy"
)

const pidFile = "/tmp/raw_tun_proxy.pid"

// defaultKey is the relay's fixed codec key. The relay's CLI surface has
// no passphrase flag (spec's external-interfaces listing omits one for
// relay while the client's -p defaults to this same value), so by
// default a client run with no -p interoperates with any relay.
const defaultKey = "\xc0\xde\xba\xbe"

func main() {
	app := &cli.App{
		Name:  "relay",
		Usage: "kale relay proxy",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "l", Usage: "local_host:local_port tunnel listen address", Value: "0.0.0.0:4000"},
			&cli.StringFlag{Name: "i", Usage: "interface connected to the internal network", Value: "eth0"},
			&cli.StringFlag{Name: "r", Usage: "port_min:port_max reserved port range", Value: "60000:60255"},
			&cli.StringFlag{Name: "o", Usage: "logfile (default stderr)"},
			&cli.BoolFlag{Name: "d", Usage: "daemonize (not supported: setting it exits with an error)"},
			&cli.StringFlag{Name: "metrics", Usage: "host:port to serve /metrics on"},
			&cli.StringFlag{Name: "firewall-backend", Usage: "nftables or iptables-shell", Value: "nftables"},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn, or error", Value: "info"},
			&cli.BoolFlag{Name: "dual-key", Usage: "derive independent per-direction ciphers via HKDF; must match the client"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	if c.Bool("d") {
		return fmt.Errorf("relay: -d daemonize is not supported; run under your service manager")
	}
	if err := writePIDFile(); err != nil {
		return err
	}

	level, err := proxylog.ParseLevel(c.String("log-level"))
	if err != nil {
		return err
	}
	log, err := proxylog.New(c.String("o"), level)
	if err != nil {
		return err
	}

	host, portStr, err := net.SplitHostPort(c.String("l"))
	if err != nil {
		return fmt.Errorf("relay: invalid -l %q: %w", c.String("l"), err)
	}
	localPort, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return fmt.Errorf("relay: invalid -l port %q: %w", portStr, err)
	}

	portMin, portMax, err := parsePortRange(c.String("r"))
	if err != nil {
		return err
	}

	dev := c.String("i")
	udpAddr := &net.UDPAddr{IP: net.ParseIP(host), Port: int(localPort)}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("relay: listen %s: %w", c.String("l"), err)
	}
	defer conn.Close()

	raw, err := rawsock.Open()
	if err != nil {
		return fmt.Errorf("relay: open raw socket: %w", err)
	}
	defer raw.Close()

	reserved, err := netdev.BindPortRange(host, uint16(portMin), uint16(portMax))
	if err != nil {
		return fmt.Errorf("relay: reserve port range: %w", err)
	}
	defer reserved.Close()

	fw, err := openFirewall(c.String("firewall-backend"))
	if err != nil {
		return err
	}
	defer fw.Close()
	if err := fw.DropPortRange(dev, uint16(portMin), uint16(portMax)); err != nil {
		return fmt.Errorf("relay: install drop rules: %w", err)
	}
	defer func() { _ = fw.RemovePortRange(dev, uint16(portMin), uint16(portMax)) }()

	cap, err := capture.Open(dev, host, uint16(portMin), uint16(portMax))
	if err != nil {
		return fmt.Errorf("relay: open capture on %s: %w", dev, err)
	}
	defer cap.Close()

	var localAddr [4]byte
	copy(localAddr[:], net.ParseIP(host).To4())
	var proxy *relayproxy.Proxy
	if c.Bool("dual-key") {
		proxy = relayproxy.NewDualKey(conn, raw, cap, uint16(portMin), uint16(portMax), localAddr, uint16(localPort), []byte(defaultKey), log)
	} else {
		proxy = relayproxy.New(conn, raw, cap, uint16(portMin), uint16(portMax), localAddr, uint16(localPort), []byte(defaultKey), log)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutting down")
		cancel()
	}()

	if addr := c.String("metrics"); addr != "" {
		go func() {
			if err := metrics.Serve(ctx, addr); err != nil {
				log.Error("metrics server stopped", "err", err)
			}
		}()
	}

	log.Info("relay starting", "listen", c.String("l"), "iface", dev, "port_range", c.String("r"))
	return proxy.Run(ctx)
}

func openFirewall(backend string) (netdev.Firewall, error) {
	switch backend {
	case "nftables":
		return netdev.NewNFTablesDriver()
	case "iptables-shell":
		return netdev.NewIptablesDriver(), nil
	default:
		return nil, fmt.Errorf("relay: unknown -firewall-backend %q", backend)
	}
}

func parsePortRange(s string) (min, max uint64, err error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("relay: invalid -r %q, want port_min:port_max", s)
	}
	min, err = strconv.ParseUint(parts[0], 10, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("relay: invalid -r port_min %q: %w", parts[0], err)
	}
	max, err = strconv.ParseUint(parts[1], 10, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("relay: invalid -r port_max %q: %w", parts[1], err)
	}
	if max < min {
		return 0, 0, fmt.Errorf("relay: -r port_max %d must be >= port_min %d", max, min)
	}
	return min, max, nil
}

func writePIDFile() error {
	return os.WriteFile(pidFile, []byte(strconv.Itoa(os.Getpid())), 0644)
}
