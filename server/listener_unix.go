//go:build linux || darwin

package server

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/legamerdc/reactor/internal/netutil"
)

// openListener 创建非阻塞 IPv4 监听 socket，返回 fd 与实际绑定端口（port 为 0 时由内核分配）
func openListener(port int, localOnly bool, backlog int) (int, int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, 0, os.NewSyscallError("socket", err)
	}
	unix.CloseOnExec(fd)
	_ = netutil.SetReuseAddr(fd, true)
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, 0, os.NewSyscallError("setnonblock", err)
	}
	sa := &unix.SockaddrInet4{Port: port}
	if localOnly {
		sa.Addr = [4]byte{127, 0, 0, 1}
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, 0, os.NewSyscallError("bind", err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return -1, 0, os.NewSyscallError("listen", err)
	}
	bound, err := netutil.LocalPort(fd)
	if err != nil {
		unix.Close(fd)
		return -1, 0, err
	}
	return fd, bound, nil
}

func closeFD(fd int) error { return os.NewSyscallError("close", unix.Close(fd)) }

func isWouldBlock(err error) bool {
	return err == unix.EAGAIN || err == unix.EWOULDBLOCK
}

// isTransientAccept 为可忽略并继续 accept 的错误
func isTransientAccept(err error) bool {
	return err == unix.EINTR || err == unix.ECONNABORTED
}

// isResourceExhausted 为 fd 或内核缓冲耗尽，需要暂停 accept
func isResourceExhausted(err error) bool {
	return err == unix.EMFILE || err == unix.ENFILE || err == unix.ENOBUFS || err == unix.ENOMEM
}
