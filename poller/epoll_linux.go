//go:build linux

package poller

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"
)

type epollBackend struct {
	efd    int
	wfd    int // eventfd for wakeup
	added  map[FD]bool
	events []unix.EpollEvent
}

func newBackend() (backend, error) {
	efd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	wfd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(efd)
		return nil, err
	}
	// 注册 wakeup fd
	ev := &unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLET, Fd: int32(wfd)}
	if err := unix.EpollCtl(efd, unix.EPOLL_CTL_ADD, wfd, ev); err != nil {
		unix.Close(wfd)
		unix.Close(efd)
		return nil, err
	}
	return &epollBackend{
		efd:    efd,
		wfd:    wfd,
		added:  make(map[FD]bool),
		events: make([]unix.EpollEvent, 1024),
	}, nil
}

func (b *epollBackend) arm(fd FD, in Interest, tag uint32) error {
	var flag uint32 = unix.EPOLLONESHOT | unix.EPOLLRDHUP
	if in&Input != 0 {
		flag |= unix.EPOLLIN
	}
	if in&Output != 0 {
		flag |= unix.EPOLLOUT
	}
	ev := &unix.EpollEvent{Events: flag, Fd: int32(fd), Pad: int32(tag)}

	// fd 号可能在关闭后被复用，内核已自动移出旧项；ADD/MOD 互为兜底
	op, alt := unix.EPOLL_CTL_ADD, unix.EPOLL_CTL_MOD
	if b.added[fd] {
		op, alt = alt, op
	}
	err := unix.EpollCtl(b.efd, op, fd, ev)
	if errors.Is(err, unix.EEXIST) || errors.Is(err, unix.ENOENT) {
		err = unix.EpollCtl(b.efd, alt, fd, ev)
	}
	if err != nil {
		return err
	}
	b.added[fd] = true
	return nil
}

func (b *epollBackend) disarm(fd FD) error {
	if !b.added[fd] {
		return nil
	}
	delete(b.added, fd)
	err := unix.EpollCtl(b.efd, unix.EPOLL_CTL_DEL, fd, nil)
	if errors.Is(err, unix.ENOENT) || errors.Is(err, unix.EBADF) {
		return nil
	}
	return err
}

// release 无需操作：ONESHOT 触发后内核已停用该项，下次 arm 走 MOD
func (b *epollBackend) release(FD) {}

func (b *epollBackend) wait(timeout time.Duration, fn func(fd FD, tag uint32, r Reason)) error {
	msec := -1
	if timeout >= 0 {
		msec = int((timeout + time.Millisecond - 1) / time.Millisecond)
	}
	n, err := unix.EpollWait(b.efd, b.events, msec)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return err
	}
	var buf [8]byte
	for i := 0; i < n; i++ {
		ev := b.events[i]
		fd := int(ev.Fd)
		if fd == b.wfd {
			// 清空 eventfd
			for {
				_, rerr := unix.Read(b.wfd, buf[:])
				if rerr == unix.EAGAIN {
					break
				}
				if rerr != nil {
					return rerr
				}
			}
			continue
		}
		var r Reason
		if ev.Events&(unix.EPOLLIN|unix.EPOLLRDHUP|unix.EPOLLHUP) != 0 {
			r |= ReasonInput
		}
		if ev.Events&unix.EPOLLOUT != 0 {
			r |= ReasonOutput
		}
		if ev.Events&unix.EPOLLERR != 0 {
			r |= ReasonError
		}
		if r != 0 {
			fn(fd, uint32(ev.Pad), r)
		}
	}
	return nil
}

func (b *epollBackend) wake() error {
	var buf [8]byte
	buf[0] = 1
	_, err := unix.Write(b.wfd, buf[:])
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

func (b *epollBackend) close() error {
	unix.Close(b.wfd)
	return unix.Close(b.efd)
}
