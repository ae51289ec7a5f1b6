// Command client runs the client proxy: allocates and configures a TUN
// device, connects a UDP socket to the relay, and bridges the two with a
// single-threaded epoll loop.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/urfave/cli/v2"

	"kale-tun-proxy/internal/clientproxy"
	"kale-tun-proxy/internal/netdev"
	"kale-tun-proxy/internal/proxylog"
	"kale-tun-proxy/internal/tundev"
)

const pidFile = "/tmp/raw_tun_proxy.pid"

func main() {
	app := &cli.App{
		Name:  "client",
		Usage: "kale client proxy",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "r", Usage: "remote_host:remote_port", Required: true},
			&cli.StringFlag{Name: "n", Usage: "interface connected to the internet", Required: true},
			&cli.StringFlag{Name: "g", Usage: "internet gateway address", Required: true},
			&cli.StringFlag{Name: "i", Usage: "tun interface name", Value: "tun0"},
			&cli.StringFlag{Name: "a", Usage: "tun address", Value: "10.0.0.1"},
			&cli.StringFlag{Name: "m", Usage: "tun netmask", Value: "255.255.255.0"},
			&cli.UintFlag{Name: "u", Usage: "tun mtu", Value: 1380},
			&cli.StringFlag{Name: "p", Usage: "passphrase", Value: "\xc0\xde\xba\xbe"},
			&cli.StringFlag{Name: "o", Usage: "logfile (default stderr)"},
			&cli.BoolFlag{Name: "d", Usage: "daemonize (not supported: setting it exits with an error)"},
			&cli.BoolFlag{Name: "dual-key", Usage: "derive independent per-direction ciphers via HKDF"},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn, or error", Value: "info"},
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
		return fmt.Errorf("client: -d daemonize is not supported; run under your service manager")
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

	remoteHost, remotePortStr, err := net.SplitHostPort(c.String("r"))
	if err != nil {
		return fmt.Errorf("client: invalid -r %q: %w", c.String("r"), err)
	}
	if _, err := strconv.ParseUint(remotePortStr, 10, 16); err != nil {
		return fmt.Errorf("client: invalid -r port %q: %w", remotePortStr, err)
	}

	dev, err := tundev.Open(tundev.NewCommander(), c.String("i"))
	if err != nil {
		return fmt.Errorf("client: allocate tun: %w", err)
	}
	defer dev.Close()

	if err := netdev.ConfigureTUN(dev.Name, c.String("a"), c.String("m"), uint16(c.Uint("u"))); err != nil {
		return fmt.Errorf("client: configure tun: %w", err)
	}
	if err := netdev.AddRoute(remoteHost, c.String("g"), c.String("n")); err != nil {
		return fmt.Errorf("client: add route to relay: %w", err)
	}

	remoteAddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(remoteHost, remotePortStr))
	if err != nil {
		return fmt.Errorf("client: resolve -r %q: %w", c.String("r"), err)
	}
	udpConn, err := net.DialUDP("udp", nil, remoteAddr)
	if err != nil {
		return fmt.Errorf("client: dial relay %s: %w", remoteAddr, err)
	}
	defer udpConn.Close()
	udpFile, err := udpConn.File()
	if err != nil {
		return fmt.Errorf("client: extract udp fd: %w", err)
	}
	defer udpFile.Close()
	udpFd := int(udpFile.Fd())
	if err := syscall.SetNonblock(udpFd, true); err != nil {
		return fmt.Errorf("client: set udp fd non-blocking: %w", err)
	}

	var proxy *clientproxy.Proxy
	if c.Bool("dual-key") {
		proxy, err = clientproxy.NewDualKey(dev.Fd, udpFd, []byte(c.String("p")), log)
	} else {
		proxy, err = clientproxy.New(dev.Fd, udpFd, []byte(c.String("p")), log)
	}
	if err != nil {
		return fmt.Errorf("client: init proxy: %w", err)
	}
	defer proxy.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutting down")
		cancel()
	}()

	log.Info("client starting", "tun", dev.Name, "remote", c.String("r"))
	return proxy.Run(ctx)
}

func writePIDFile() error {
	return os.WriteFile(pidFile, []byte(strconv.Itoa(os.Getpid())), 0644)
}
