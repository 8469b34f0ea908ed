//go:build darwin

package poller

import (
	"time"

	"golang.org/x/sys/unix"
)

type kqueueBackend struct {
	kq     int
	wfd    int // 写端，用于唤醒
	rfd    int // 读端，注册到 kqueue
	armed  map[FD]Interest
	events []unix.Kevent_t
}

func newBackend() (backend, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	// 使用管道作为唤醒
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		unix.Close(kq)
		return nil, err
	}
	rfd, wfd := p[0], p[1]
	_ = unix.SetNonblock(rfd, true)
	_ = unix.SetNonblock(wfd, true)
	unix.CloseOnExec(rfd)
	unix.CloseOnExec(wfd)
	kev := unix.Kevent_t{
		Ident:  uint64(rfd),
		Filter: unix.EVFILT_READ,
		Flags:  unix.EV_ADD | unix.EV_CLEAR,
	}
	if _, err = unix.Kevent(kq, []unix.Kevent_t{kev}, nil, nil); err != nil {
		unix.Close(rfd)
		unix.Close(wfd)
		unix.Close(kq)
		return nil, err
	}
	return &kqueueBackend{
		kq:     kq,
		wfd:    wfd,
		rfd:    rfd,
		armed:  make(map[FD]Interest),
		events: make([]unix.Kevent_t, 1024),
	}, nil
}

// arm 不使用 tag：两个过滤器在投递时一并删除，不会残留过期事件
func (b *kqueueBackend) arm(fd FD, in Interest, _ uint32) error {
	var changes []unix.Kevent_t
	if in&Input != 0 {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_ADD | unix.EV_ONESHOT})
	}
	if in&Output != 0 {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_ADD | unix.EV_ONESHOT})
	}
	if _, err := unix.Kevent(b.kq, changes, nil, nil); err != nil {
		return err
	}
	b.armed[fd] = in
	return nil
}

func (b *kqueueBackend) disarm(fd FD) error {
	b.release(fd)
	return nil
}

// release 逐个删除过滤器：一次提交多个 EV_DELETE 时首个 ENOENT 会中断后续变更
func (b *kqueueBackend) release(fd FD) {
	in, ok := b.armed[fd]
	if !ok {
		return
	}
	delete(b.armed, fd)
	if in&Input != 0 {
		_, _ = unix.Kevent(b.kq, []unix.Kevent_t{{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE}}, nil, nil)
	}
	if in&Output != 0 {
		_, _ = unix.Kevent(b.kq, []unix.Kevent_t{{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE}}, nil, nil)
	}
}

func (b *kqueueBackend) wait(timeout time.Duration, fn func(fd FD, tag uint32, r Reason)) error {
	var ts *unix.Timespec
	if timeout >= 0 {
		t := unix.NsecToTimespec(int64(timeout))
		ts = &t
	}
	n, err := unix.Kevent(b.kq, nil, b.events, ts)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return err
	}
	// 同一 fd 的读写事件可能分两条返回，先合并再投递
	var order []FD
	merged := make(map[FD]Reason, n)
	buf := make([]byte, 16)
	for i := 0; i < n; i++ {
		ev := b.events[i]
		fd := int(ev.Ident)
		if fd == b.rfd {
			for {
				_, rerr := unix.Read(b.rfd, buf)
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
		switch ev.Filter {
		case unix.EVFILT_READ:
			// EOF 仍按可读投递，由上层通过可读字节数判断断开
			r |= ReasonInput
		case unix.EVFILT_WRITE:
			r |= ReasonOutput
		}
		if ev.Flags&unix.EV_ERROR != 0 {
			r |= ReasonError
		}
		if r == 0 {
			continue
		}
		if _, ok := merged[fd]; !ok {
			order = append(order, fd)
		}
		merged[fd] |= r
	}
	for _, fd := range order {
		fn(fd, 0, merged[fd])
	}
	return nil
}

func (b *kqueueBackend) wake() error {
	_, err := unix.Write(b.wfd, []byte{1})
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

func (b *kqueueBackend) close() error {
	unix.Close(b.rfd)
	unix.Close(b.wfd)
	return unix.Close(b.kq)
}
