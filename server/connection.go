package server

import (
	"io"
	"runtime/debug"
	"time"

	"github.com/legamerdc/reactor/poller"
)

// dispatch 在 Multiplexer 回调中运行，只做判定与投递，不调用 handler
func (s *Server[C]) dispatch(c *Conn[C], r poller.Reason) {
	if s.shutdown.Load() {
		return
	}
	var (
		name string
		call func() Command
	)
	switch {
	case r&poller.ReasonRemoved != 0:
		s.submitDisconnect(c)
		return
	case r&poller.ReasonInput != 0:
		// 可读但无数据：对端已关闭
		if n, err := c.stream.Readable(); err != nil || n == 0 {
			s.submitDisconnect(c)
			return
		}
		name, call = "OnDataReady", func() Command { return s.h.OnDataReady(c.stream, c.ctx) }
	case r&poller.ReasonOutput != 0:
		name, call = "OnWriteReady", func() Command { return s.h.OnWriteReady(c.stream, c.ctx) }
	case r&poller.ReasonTimeout != 0:
		name, call = "OnTimeout", func() Command { return s.h.OnTimeout(c.stream, c.ctx) }
	default:
		s.submitDisconnect(c)
		return
	}
	s.submit(c, func() { s.rearm(c, s.invoke(c, name, call)) })
}

func (s *Server[C]) submitDisconnect(c *Conn[C]) {
	s.submit(c, func() {
		s.invoke(c, "OnDisconnectByPeer", func() Command {
			s.h.OnDisconnectByPeer(c.ctx)
			return CmdRemove
		})
		s.remove(c)
	})
}

// submit 投递到执行器；执行器已结束时直接移除连接
func (s *Server[C]) submit(c *Conn[C], fn func()) {
	if !s.exec.Execute(fn) {
		s.remove(c)
	}
}

// invoke 调用 handler，panic 视为 CmdRemove
func (s *Server[C]) invoke(c *Conn[C], name string, fn func() Command) (cmd Command) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("handler panicked", "callback", name, "conn", c.id, "panic", r, "stack", string(debug.Stack()))
			cmd = CmdRemove
		}
	}()
	return fn()
}

// rearm 按命令重新注册或移除连接
func (s *Server[C]) rearm(c *Conn[C], cmd Command) {
	for {
		if cmd != CmdRemove && s.shutdown.Load() {
			// 留给 Stop 统一清理
			return
		}
		switch cmd {
		case CmdWaitRead:
			s.register(c, poller.Input, c.ReadTimeout())
		case CmdWaitWrite:
			s.register(c, poller.Output, c.WriteTimeout())
		case CmdWaitReadOrWrite:
			s.register(c, poller.Input|poller.Output, minTimeout(c.ReadTimeout(), c.WriteTimeout()))
		case CmdWaitUserWakeup:
			next, ok := c.sleep()
			if !ok {
				return
			}
			cmd = next
			continue
		default:
			s.remove(c)
		}
		return
	}
}

func (s *Server[C]) register(c *Conn[C], in poller.Interest, timeout time.Duration) {
	if err := s.mux.Register(c.stream.Fd(), c.observer(), in, timeout); err != nil {
		s.logger.Warn("register failed, removing connection", "conn", c.id, "error", err)
		s.remove(c)
	}
}

// minTimeout 取两者非零最小值，0 表示不超时
func minTimeout(a, b time.Duration) time.Duration {
	switch {
	case a <= 0:
		return max(b, 0)
	case b <= 0:
		return a
	default:
		return min(a, b)
	}
}

// remove 将连接移出注册表并释放资源，重复调用无副作用
func (s *Server[C]) remove(c *Conn[C]) {
	if !c.markClosed() {
		return
	}
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	s.release(c)
}

func (s *Server[C]) release(c *Conn[C]) {
	if err := c.stream.Close(); err != nil {
		s.logger.Debug("close stream", "conn", c.id, "error", err)
	}
	if cl, ok := any(c.ctx).(io.Closer); ok {
		if err := cl.Close(); err != nil {
			s.logger.Debug("close context", "conn", c.id, "error", err)
		}
	}
}
