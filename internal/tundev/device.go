//go:build linux

package tundev

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

// Device is an open, non-blocking TUN file descriptor plus the interface
// name the kernel assigned it.
type Device struct {
	Name string
	Fd   int
}

// Open creates (or attaches to) a TUN interface named name (a name
// containing "%d", e.g. "tun%d", lets the kernel pick a free index) and
// returns a duplicated, non-blocking file descriptor ready for
// registration with epoll. commander is normally NewCommander(); tests
// supply a fake.
func Open(commander Commander, name string) (*Device, error) {
	tun, err := os.OpenFile(tunPath, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("tundev: open %s: %w", tunPath, err)
	}
	defer tun.Close()

	var req ifReq
	copy(req.Name[:], name)
	req.Flags = uint16(iffTun | iffNoPI)

	_, _, errno := commander.Ioctl(tun.Fd(), uintptr(unix.TUNSETIFF), &req)
	if errno != 0 {
		return nil, fmt.Errorf("tundev: TUNSETIFF %s: %w", name, errno)
	}

	assignedName := strings.TrimRight(string(req.Name[:]), "\x00")

	dup, err := unix.Dup(int(tun.Fd()))
	if err != nil {
		return nil, fmt.Errorf("tundev: dup: %w", err)
	}
	if err := unix.SetNonblock(dup, true); err != nil {
		_ = unix.Close(dup)
		return nil, fmt.Errorf("tundev: set non-blocking: %w", err)
	}
	if _, err := unix.FcntlInt(uintptr(dup), unix.F_SETFD, unix.FD_CLOEXEC); err != nil {
		_ = unix.Close(dup)
		return nil, fmt.Errorf("tundev: set cloexec: %w", err)
	}

	return &Device{Name: assignedName, Fd: dup}, nil
}

// Close closes the device's file descriptor.
func (d *Device) Close() error {
	return unix.Close(d.Fd)
}
