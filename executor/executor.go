// Package executor 提供有界 FIFO 工作队列与由调用方提供的 worker goroutine 组成的执行器。
//
// 执行器本身不启动 goroutine：每个 worker 由调用方以 go e.Serve(ctx) 的方式进入。
package executor

import (
	"context"
	"io"
	"os"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
)

// Action 为一个工作单元
type Action func()

// PanicPolicy 决定 action 内 panic 时 worker 的行为
type PanicPolicy int

const (
	// PanicExitWorker 恢复 panic，worker 退出 Serve 并返回 *PanicError（不自动补充）
	PanicExitWorker PanicPolicy = iota
	// PanicContinue 恢复 panic，记录日志后继续服务
	PanicContinue
	// PanicPropagate 计数归位后重新 panic，由调用方 goroutine 承担
	PanicPropagate
)

const defaultIdleTimeout = time.Second

// Executor 为 FIFO 工作队列执行器
type Executor struct {
	mu       sync.Mutex
	queue    []Action
	finished bool
	serving  int
	// noServing 在没有 worker 时处于关闭（可通过）状态
	noServing chan struct{}

	// wake 容量为 1：最多积累一次待处理唤醒
	wake    chan struct{}
	running atomic.Int32

	idle   func(n int) time.Duration
	policy PanicPolicy
	logger *log.Logger
}

// Option 配置 Executor
type Option func(*Executor)

// WithIdleFunc 设置空闲钩子：参数为连续空闲轮数，返回本轮最长等待时间
func WithIdleFunc(fn func(n int) time.Duration) Option {
	return func(e *Executor) { e.idle = fn }
}

// WithPanicPolicy 设置 action panic 策略
func WithPanicPolicy(p PanicPolicy) Option {
	return func(e *Executor) { e.policy = p }
}

// WithLogger 设置日志
func WithLogger(l *log.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// New 构造执行器
func New(opts ...Option) *Executor {
	gate := make(chan struct{})
	close(gate)
	e := &Executor{
		noServing: gate,
		wake:      make(chan struct{}, 1),
		idle:      func(int) time.Duration { return defaultIdleTimeout },
		logger:    log.NewWithOptions(os.Stderr, log.Options{Prefix: "executor"}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = log.New(io.Discard)
	}
	return e
}

// Execute 将 action 追加到队列尾部；finish 之后静默丢弃并返回 false
func (e *Executor) Execute(a Action) bool {
	if a == nil {
		return false
	}
	e.mu.Lock()
	if e.finished {
		e.mu.Unlock()
		return false
	}
	e.queue = append(e.queue, a)
	e.mu.Unlock()
	e.wakeOne()
	return true
}

// wakeOne 唤醒一个空闲 worker；已有待处理唤醒时不再累加
func (e *Executor) wakeOne() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Serve 为 worker 的循环体，阻塞直到 finish、ctx 结束或 action panic（按策略）
func (e *Executor) Serve(ctx context.Context) (err error) {
	e.enter()
	defer e.leave()

	idle := 0
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for ctx.Err() == nil {
		a, finished := e.pop()
		if finished {
			return nil
		}
		if a != nil {
			idle = 0
			if err := e.run(a); err != nil {
				return err
			}
			continue
		}

		wait := e.idle(idle)
		idle++
		if wait <= 0 {
			wait = defaultIdleTimeout
		}
		if timer == nil {
			timer = time.NewTimer(wait)
		} else {
			timer.Reset(wait)
		}
		select {
		case <-e.wake:
			timer.Stop()
		case <-timer.C:
		case <-ctx.Done():
		}
	}
	return nil
}

func (e *Executor) enter() {
	e.mu.Lock()
	if e.serving == 0 {
		e.noServing = make(chan struct{})
	}
	e.serving++
	e.mu.Unlock()
}

func (e *Executor) leave() {
	e.mu.Lock()
	e.serving--
	last := e.serving == 0
	if last {
		close(e.noServing)
	}
	e.mu.Unlock()
	if !last {
		// 让下一个 worker 重新检查 finish 标志
		e.wakeOne()
	}
}

// pop 取出队首 action；队列仍非空时接力唤醒另一个 worker
func (e *Executor) pop() (a Action, finished bool) {
	e.mu.Lock()
	if e.finished {
		e.mu.Unlock()
		return nil, true
	}
	if len(e.queue) == 0 {
		e.mu.Unlock()
		return nil, false
	}
	a = e.queue[0]
	e.queue[0] = nil
	e.queue = e.queue[1:]
	more := len(e.queue) > 0
	e.mu.Unlock()
	if more {
		e.wakeOne()
	}
	return a, false
}

func (e *Executor) run(a Action) (err error) {
	e.running.Add(1)
	defer func() {
		e.running.Add(-1)
		r := recover()
		if r == nil {
			return
		}
		perr := &PanicError{Value: r, Stack: debug.Stack()}
		switch e.policy {
		case PanicContinue:
			e.logger.Error("action panicked, worker continues", "panic", r, "stack", string(perr.Stack))
		case PanicPropagate:
			panic(r)
		default:
			e.logger.Error("action panicked, worker exits", "panic", r, "stack", string(perr.Stack))
			err = perr
		}
	}()
	a()
	return nil
}

// Finish 清空队列并拒绝后续 action，唤醒一个 worker 以便其观察到结束
func (e *Executor) Finish() {
	e.mu.Lock()
	clear(e.queue)
	e.queue = e.queue[:0]
	e.finished = true
	e.mu.Unlock()
	e.wakeOne()
}

// StopAll 调用 Finish 并等待所有 worker 退出；timeout < 0 表示无限等待。
// 超时仍有 worker 在服务时返回 false。
func (e *Executor) StopAll(timeout time.Duration) bool {
	e.Finish()
	e.mu.Lock()
	gate := e.noServing
	e.mu.Unlock()

	if timeout < 0 {
		<-gate
		return true
	}
	select {
	case <-gate:
		return true
	default:
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-gate:
		return true
	case <-t.C:
		// 与 gate 同时就绪时 select 随机选择，再确认一次
		select {
		case <-gate:
			return true
		default:
			return false
		}
	}
}

// Join 等价于无限期 StopAll
func (e *Executor) Join() {
	e.StopAll(-1)
}

// Reset 清除 finish 标志，使执行器可再次接收 action
func (e *Executor) Reset() {
	e.mu.Lock()
	e.finished = false
	e.mu.Unlock()
}

// IsRunning 当前是否有 action 正在执行
func (e *Executor) IsRunning() bool {
	return e.running.Load() != 0
}

// Serving 返回正在服务的 worker 数
func (e *Executor) Serving() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.serving
}

// Len 返回排队中的 action 数
func (e *Executor) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}
