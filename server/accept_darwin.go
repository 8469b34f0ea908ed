//go:build darwin

package server

import (
	"net"

	"golang.org/x/sys/unix"

	"github.com/legamerdc/reactor/internal/netutil"
)

// darwin 无 accept4，accept 后再设置非阻塞与 CLOEXEC
func acceptStream(lfd int) (Stream, net.Addr, error) {
	fd, sa, err := unix.Accept(lfd)
	if err != nil {
		return nil, nil, err
	}
	unix.CloseOnExec(fd)
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, nil, err
	}
	_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_NOSIGPIPE, 1)
	_ = netutil.SetNoDelay(fd, true)
	return newFDStream(fd), netutil.SockaddrToAddr(sa), nil
}
