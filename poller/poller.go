// Package poller 提供一次性（one-shot）就绪通知：每次 Register 之后，
// 观察者恰好收到一次 Notify，随后停止监听直到再次 Register。
package poller

import (
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
)

// FD 表示文件描述符。
type FD = int

// Interest 为注册关心的事件集合
type Interest uint8

const (
	Input Interest = 1 << iota
	Output
)

// Reason 为回调原因位掩码
type Reason uint32

const (
	ReasonInput Reason = 1 << iota
	ReasonOutput
	ReasonError
	ReasonTimeout

	// ReasonRemoved 表示注册在 poller 关闭时被丢弃
	ReasonRemoved Reason = 1 << 31
)

func (r Reason) String() string {
	if r == 0 {
		return "none"
	}
	var parts []string
	for _, v := range []struct {
		bit  Reason
		name string
	}{
		{ReasonInput, "input"},
		{ReasonOutput, "output"},
		{ReasonError, "error"},
		{ReasonTimeout, "timeout"},
		{ReasonRemoved, "removed"},
	} {
		if r&v.bit != 0 {
			parts = append(parts, v.name)
		}
	}
	return strings.Join(parts, "|")
}

var (
	ErrPlatformNotSupported = errors.New("poller: platform not supported")
	ErrClosed               = errors.New("poller: closed")
	ErrRunning              = errors.New("poller: already running")
	ErrAlreadyRegistered    = errors.New("poller: fd already registered")
	ErrNotRegistered        = errors.New("poller: fd not registered")
	ErrInvalidInterest      = errors.New("poller: empty interest without timeout")
)

// Observer 为注册的回调方，在 poller goroutine 中调用，要求无阻塞返回。
type Observer interface {
	Notify(r Reason)
}

// backend 为平台相关的一次性事件源；所有 arm/disarm/release 调用都在 Poller.mu 下进行。
type backend interface {
	arm(fd FD, in Interest, tag uint32) error
	// disarm 取消尚未触发的注册
	disarm(fd FD) error
	// release 在事件已投递后清理残留状态
	release(fd FD)
	wait(timeout time.Duration, fn func(fd FD, tag uint32, r Reason)) error
	wake() error
	close() error
}

type registration struct {
	observer Observer
	interest Interest
	tag      uint32
	deadline time.Time
}

type removal struct {
	fd   FD
	obs  Observer
	done chan struct{}
}

// Poller 为一次性就绪多路复用器
type Poller struct {
	b      backend
	logger *log.Logger

	mu       sync.Mutex
	regs     map[FD]*registration
	removals []removal
	tag      uint32
	looping  bool
	closed   bool

	closing   atomic.Bool
	started   atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

// Option 配置 Poller
type Option func(*Poller)

// WithLogger 设置日志
func WithLogger(l *log.Logger) Option {
	return func(p *Poller) { p.logger = l }
}

// New 创建 poller；非 Linux/Darwin 平台返回 ErrPlatformNotSupported
func New(opts ...Option) (*Poller, error) {
	b, err := newBackend()
	if err != nil {
		return nil, err
	}
	p := &Poller{
		b:      b,
		regs:   make(map[FD]*registration),
		done:   make(chan struct{}),
		logger: log.NewWithOptions(os.Stderr, log.Options{Prefix: "poller"}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = log.New(io.Discard)
	}
	return p, nil
}

// Register 为 fd 注册一次性监听；timeout > 0 时到期投递 ReasonTimeout
func (p *Poller) Register(fd FD, o Observer, in Interest, timeout time.Duration) error {
	if in == 0 && timeout <= 0 {
		return ErrInvalidInterest
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if _, ok := p.regs[fd]; ok {
		p.mu.Unlock()
		return ErrAlreadyRegistered
	}
	p.tag++
	if p.tag == 0 {
		p.tag = 1
	}
	reg := &registration{observer: o, interest: in, tag: p.tag}
	if timeout > 0 {
		reg.deadline = time.Now().Add(timeout)
	}
	if in != 0 {
		if err := p.b.arm(fd, in, reg.tag); err != nil {
			p.mu.Unlock()
			return err
		}
	}
	p.regs[fd] = reg
	p.mu.Unlock()

	if timeout > 0 {
		// 可能早于当前等待的截止时间
		_ = p.b.wake()
	}
	return nil
}

// Remove 同步取消注册；注册不存在或观察者不匹配时返回 ErrNotRegistered
func (p *Poller) Remove(fd FD, o Observer) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.removeLocked(fd, o)
}

func (p *Poller) removeLocked(fd FD, o Observer) error {
	reg, ok := p.regs[fd]
	if !ok || reg.observer != o {
		return ErrNotRegistered
	}
	delete(p.regs, fd)
	if reg.interest != 0 {
		return p.b.disarm(fd)
	}
	return nil
}

// RemoveNotify 在事件循环中取消注册；返回的 channel 关闭时，
// 该 fd 上不会再有正在进行或将要发生的回调。
func (p *Poller) RemoveNotify(fd FD, o Observer) <-chan struct{} {
	done := make(chan struct{})
	p.mu.Lock()
	if !p.looping {
		_ = p.removeLocked(fd, o)
		p.mu.Unlock()
		close(done)
		return done
	}
	p.removals = append(p.removals, removal{fd: fd, obs: o, done: done})
	p.mu.Unlock()
	_ = p.b.wake()
	return done
}

// Run 运行事件循环直到 Close
func (p *Poller) Run() error {
	if !p.started.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer close(p.done)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.looping = true
	p.mu.Unlock()

	var err error
	for !p.closing.Load() {
		p.processRemovals()
		if err = p.b.wait(p.nextTimeout(), p.deliver); err != nil {
			p.logger.Error("poll failed", "error", err)
			break
		}
		p.expire(time.Now())
	}

	p.mu.Lock()
	p.looping = false
	p.mu.Unlock()
	p.processRemovals()
	return err
}

// Close 停止事件循环；仍在注册中的观察者各收到一次 ReasonRemoved
func (p *Poller) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.closing.Store(true)
		if p.started.Load() {
			_ = p.b.wake()
			<-p.done
		}

		p.mu.Lock()
		p.closed = true
		regs := p.regs
		p.regs = make(map[FD]*registration)
		for fd, reg := range regs {
			if reg.interest != 0 {
				_ = p.b.disarm(fd)
			}
		}
		err = p.b.close()
		p.mu.Unlock()

		for _, reg := range regs {
			reg.observer.Notify(ReasonRemoved)
		}
	})
	return err
}

// Len 返回当前注册数
func (p *Poller) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.regs)
}

func (p *Poller) processRemovals() {
	p.mu.Lock()
	pending := p.removals
	p.removals = nil
	for _, rm := range pending {
		_ = p.removeLocked(rm.fd, rm.obs)
	}
	p.mu.Unlock()
	for _, rm := range pending {
		close(rm.done)
	}
}

func (p *Poller) deliver(fd FD, tag uint32, r Reason) {
	p.mu.Lock()
	reg, ok := p.regs[fd]
	if !ok || (tag != 0 && reg.tag != tag) {
		p.mu.Unlock()
		return
	}
	delete(p.regs, fd)
	p.b.release(fd)
	p.mu.Unlock()
	reg.observer.Notify(r)
}

func (p *Poller) nextTimeout() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	var next time.Time
	for _, reg := range p.regs {
		if reg.deadline.IsZero() {
			continue
		}
		if next.IsZero() || reg.deadline.Before(next) {
			next = reg.deadline
		}
	}
	if next.IsZero() {
		return -1
	}
	d := time.Until(next)
	if d < 0 {
		return 0
	}
	return d
}

func (p *Poller) expire(now time.Time) {
	var fired []Observer
	p.mu.Lock()
	for fd, reg := range p.regs {
		if reg.deadline.IsZero() || reg.deadline.After(now) {
			continue
		}
		delete(p.regs, fd)
		if reg.interest != 0 {
			_ = p.b.disarm(fd)
		}
		fired = append(fired, reg.observer)
	}
	p.mu.Unlock()
	for _, o := range fired {
		o.Notify(ReasonTimeout)
	}
}
