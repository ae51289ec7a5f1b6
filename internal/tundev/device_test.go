//go:build linux

package tundev

import (
	"os"
	"strings"
	"testing"

	"golang.org/x/sys/unix"
)

type fakeCommander struct {
	ioctlFn func(fd uintptr, request uintptr, ifr *ifReq) (uintptr, uintptr, unix.Errno)
}

func (f fakeCommander) Ioctl(fd uintptr, request uintptr, ifr *ifReq) (uintptr, uintptr, unix.Errno) {
	return f.ioctlFn(fd, request, ifr)
}

func TestOpenReportsTUNSETIFFFailure(t *testing.T) {
	// /dev/net/tun is not guaranteed to exist, so the test is skipped
	// without it. The fake commander fails TUNSETIFF, so no interface is
	// created; the test asserts that Open reports that failure.
	if _, err := os.Stat(tunPath); err != nil {
		t.Skipf("tunPath %s not present in this environment: %v", tunPath, err)
	}
	fc := fakeCommander{
		ioctlFn: func(fd uintptr, request uintptr, ifr *ifReq) (uintptr, uintptr, unix.Errno) {
			return 0, 0, unix.EPERM
		},
	}
	_, err := Open(fc, "tuntest%d")
	if err == nil {
		t.Fatal("expected error from TUNSETIFF failure")
	}
	if !strings.Contains(err.Error(), "TUNSETIFF") {
		t.Fatalf("unexpected error: %v", err)
	}
}
