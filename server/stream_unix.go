//go:build linux || darwin

package server

import (
	"io"
	"os"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/legamerdc/reactor/internal/netutil"
)

// fdStream 为基于非阻塞 socket fd 的 Stream
type fdStream struct {
	fd     int
	closed atomic.Bool
}

func newFDStream(fd int) *fdStream { return &fdStream{fd: fd} }

func (s *fdStream) Fd() int { return s.fd }

func (s *fdStream) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		n, err := unix.Read(s.fd, p)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return 0, ErrWouldBlock
		case err != nil:
			return 0, os.NewSyscallError("read", err)
		case n == 0:
			return 0, io.EOF
		}
		return n, nil
	}
}

func (s *fdStream) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		n, err := unix.Write(s.fd, p[written:])
		if n > 0 {
			written += n
		}
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return written, ErrWouldBlock
		case err != nil:
			return written, os.NewSyscallError("write", err)
		}
	}
	return written, nil
}

func (s *fdStream) Readable() (int, error) { return netutil.Readable(s.fd) }

func (s *fdStream) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return os.NewSyscallError("close", unix.Close(s.fd))
}
