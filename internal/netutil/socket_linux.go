package netutil

import (
	"os"

	"golang.org/x/sys/unix"
)

// Readable 返回 fd 接收缓冲区中可读字节数（SIOCINQ）
func Readable(fd int) (int, error) {
	n, err := unix.IoctlGetInt(fd, unix.SIOCINQ)
	if err != nil {
		return 0, os.NewSyscallError("ioctl", err)
	}
	return n, nil
}
