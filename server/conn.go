package server

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/legamerdc/reactor/executor"
	"github.com/legamerdc/reactor/poller"
)

// 连接状态字：低 32 位为标志，高 32 位为待处理 WakeUp 的 reason，
// 二者由同一次 CAS 更新。
const (
	stateEvent    uint64 = 1 << iota // 有未处理的 WakeUp
	stateSleeping                    // handler 在等待 WakeUp
	stateClosed                      // 已移除，终态
)

func withReason(flags uint64, reason uint32) uint64 { return flags | uint64(reason)<<32 }

func reasonOf(st uint64) uint32 { return uint32(st >> 32) }

// testHookWakeUp 在 WakeUp 读取状态字之后、CAS 之前调用
var testHookWakeUp func()

// Conn 为连接的控制句柄，在 OnAccept 中交给 handler，可跨 goroutine 使用。
type Conn[C any] struct {
	id     uuid.UUID
	srv    *Server[C]
	stream Stream
	ctx    C
	source int
	remote net.Addr

	readTimeout  atomic.Int64
	writeTimeout atomic.Int64

	state atomic.Uint64
}

func newConn[C any](s *Server[C], st Stream, ctx C, remote net.Addr, source int) *Conn[C] {
	c := &Conn[C]{
		id:     uuid.New(),
		srv:    s,
		stream: st,
		ctx:    ctx,
		source: source,
		remote: remote,
	}
	c.readTimeout.Store(int64(s.connectTimeout))
	c.writeTimeout.Store(int64(s.connectTimeout))
	return c
}

func (c *Conn[C]) ID() uuid.UUID        { return c.id }
func (c *Conn[C]) RemoteAddr() net.Addr { return c.remote }

// Source 返回连接所属监听端口的编号，主端口为 0
func (c *Conn[C]) Source() int { return c.source }

func (c *Conn[C]) ReadTimeout() time.Duration  { return time.Duration(c.readTimeout.Load()) }
func (c *Conn[C]) WriteTimeout() time.Duration { return time.Duration(c.writeTimeout.Load()) }

// SetReadTimeout 设置 WaitRead 的超时，0 表示不超时；在下一次重新注册时生效
func (c *Conn[C]) SetReadTimeout(d time.Duration) { c.readTimeout.Store(int64(d)) }

// SetWriteTimeout 设置 WaitWrite 的超时，0 表示不超时
func (c *Conn[C]) SetWriteTimeout(d time.Duration) { c.writeTimeout.Store(int64(d)) }

// Executor 返回服务器使用的执行器，可用于提交与该连接相关的后台工作
func (c *Conn[C]) Executor() *executor.Executor { return c.srv.exec }

// Closed 连接是否已被移除
func (c *Conn[C]) Closed() bool { return c.state.Load()&stateClosed != 0 }

// WakeUp 唤醒处于 CmdWaitUserWakeup 的连接，reason 原样传给 OnUserWakeup。
// 尚未进入等待时记录事件，handler 返回 CmdWaitUserWakeup 时立即处理；
// 多次未处理的 WakeUp 合并为一次，reason 取最后一次。
func (c *Conn[C]) WakeUp(reason uint32) {
	for {
		st := c.state.Load()
		if testHookWakeUp != nil {
			testHookWakeUp()
		}
		switch {
		case st&stateClosed != 0:
			return
		case st&stateSleeping != 0:
			if c.state.CompareAndSwap(st, 0) {
				c.srv.submit(c, func() {
					c.srv.rearm(c, c.srv.invoke(c, "OnUserWakeup", func() Command {
						return c.srv.h.OnUserWakeup(c.stream, c.ctx, reason)
					}))
				})
				return
			}
		default:
			// 空闲或已有未处理事件：记录事件，替换 reason
			if c.state.CompareAndSwap(st, withReason(stateEvent, reason)) {
				return
			}
		}
	}
}

// sleep 进入等待唤醒状态；若已有事件则消费之并同步调用 OnUserWakeup，
// 返回其命令。ok 为 false 表示已进入睡眠或连接已关闭。
func (c *Conn[C]) sleep() (cmd Command, ok bool) {
	for {
		if c.state.CompareAndSwap(0, stateSleeping) {
			return 0, false
		}
		st := c.state.Load()
		if st&(stateClosed|stateSleeping) != 0 {
			return 0, false
		}
		if st&stateEvent != 0 && c.state.CompareAndSwap(st, 0) {
			reason := reasonOf(st)
			return c.srv.invoke(c, "OnUserWakeup", func() Command {
				return c.srv.h.OnUserWakeup(c.stream, c.ctx, reason)
			}), true
		}
	}
}

// markClosed 置位 closed，只有一个调用方返回 true
func (c *Conn[C]) markClosed() bool {
	for {
		st := c.state.Load()
		if st&stateClosed != 0 {
			return false
		}
		if c.state.CompareAndSwap(st, stateClosed) {
			return true
		}
	}
}

// 以观察者身份注册到 Multiplexer
type connObserver[C any] Conn[C]

func (o *connObserver[C]) Notify(r poller.Reason) {
	c := (*Conn[C])(o)
	c.srv.dispatch(c, r)
}

func (c *Conn[C]) observer() *connObserver[C] { return (*connObserver[C])(c) }
