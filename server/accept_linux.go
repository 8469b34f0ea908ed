//go:build linux

package server

import (
	"net"

	"golang.org/x/sys/unix"

	"github.com/legamerdc/reactor/internal/netutil"
)

func acceptStream(lfd int) (Stream, net.Addr, error) {
	fd, sa, err := unix.Accept4(lfd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return nil, nil, err
	}
	_ = netutil.SetNoDelay(fd, true)
	return newFDStream(fd), netutil.SockaddrToAddr(sa), nil
}
