package server

import (
	"net"
	"runtime/debug"
	"time"

	"github.com/legamerdc/reactor/poller"
)

// listener 为一个监听端口，自身作为观察者注册可读事件
type listener[C any] struct {
	srv    *Server[C]
	fd     int
	port   int
	source int
	accept func(int) (Stream, net.Addr, error)
}

// acceptBackoff 为 fd 耗尽时暂停 accept 的时长；积压的连接保持可读，立即重新注册会空转
const acceptBackoff = 100 * time.Millisecond

// Notify 在 poller goroutine 中 accept 直到 EAGAIN，每个新流投递一个准入任务。
// 进程或系统 fd 耗尽时改为仅超时注册，acceptBackoff 后再试。
func (l *listener[C]) Notify(r poller.Reason) {
	s := l.srv
	if s.shutdown.Load() || r&poller.ReasonRemoved != 0 {
		return
	}
	in, timeout := poller.Input, time.Duration(0)
	for {
		st, addr, err := l.accept(l.fd)
		if err != nil {
			if isTransientAccept(err) {
				continue
			}
			if isResourceExhausted(err) {
				s.logger.Warn("accept paused", "port", l.port, "error", err, "backoff", acceptBackoff)
				in, timeout = 0, acceptBackoff
			} else if !isWouldBlock(err) {
				s.logger.Warn("accept failed", "port", l.port, "error", err)
			}
			break
		}
		s.mu.Lock()
		s.pending[st] = struct{}{}
		s.mu.Unlock()
		if !s.exec.Execute(func() { s.admit(st, addr, l.source) }) {
			s.dropPending(st)
		}
	}
	if s.shutdown.Load() {
		return
	}
	if err := s.mux.Register(l.fd, l, in, timeout); err != nil {
		s.logger.Error("re-arm listener failed", "port", l.port, "error", err)
	}
}

func (s *Server[C]) dropPending(st Stream) {
	s.mu.Lock()
	_, ok := s.pending[st]
	delete(s.pending, st)
	s.mu.Unlock()
	if ok {
		_ = st.Close()
	}
}

// admit 在 worker 上询问 OnIncome，接受后建立连接并应用 OnAccept 的命令
func (s *Server[C]) admit(st Stream, addr net.Addr, source int) {
	s.mu.Lock()
	_, ok := s.pending[st]
	delete(s.pending, st)
	s.mu.Unlock()
	if !ok {
		return
	}

	ctx, accepted := s.income(addr)
	if !accepted {
		_ = st.Close()
		return
	}
	c := newConn(s, st, ctx, addr, source)
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()

	s.rearm(c, s.invoke(c, "OnAccept", func() Command { return s.h.OnAccept(c, ctx) }))
}

func (s *Server[C]) income(addr net.Addr) (ctx C, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("handler panicked", "callback", "OnIncome", "addr", addr, "panic", r, "stack", string(debug.Stack()))
			ok = false
		}
	}()
	return s.h.OnIncome(addr)
}
