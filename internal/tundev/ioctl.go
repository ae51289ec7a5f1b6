//go:build linux

// Package tundev allocates and configures a Linux TUN device via the
// TUNSETIFF ioctl, handing back a non-blocking, duplicated file
// descriptor the caller can register with epoll.
package tundev

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	tunPath  = "/dev/net/tun"
	iffTun   = unix.IFF_TUN
	iffNoPI  = unix.IFF_NO_PI
	ifNameSz = unix.IFNAMSIZ
)

// ifReq mirrors struct ifreq's layout for the fields TUNSETIFF/TUNGETIFF
// use: a 16-byte interface name union'd with a flags field.
type ifReq struct {
	Name  [ifNameSz]byte
	Flags uint16
	_     [22]byte // pad to sizeof(struct ifreq)
}

// Commander abstracts the raw ioctl syscall so device configuration can be
// tested without a real /dev/net/tun.
type Commander interface {
	Ioctl(fd uintptr, request uintptr, ifr *ifReq) (uintptr, uintptr, unix.Errno)
}

type syscallCommander struct{}

// NewCommander returns the real ioctl(2)-backed Commander.
func NewCommander() Commander { return syscallCommander{} }

func (syscallCommander) Ioctl(fd uintptr, request uintptr, ifr *ifReq) (uintptr, uintptr, unix.Errno) {
	return unix.Syscall(unix.SYS_IOCTL, fd, request, uintptr(unsafe.Pointer(ifr)))
}
