package server

import (
	"io"
	"os"
	"runtime"
	"time"

	"github.com/charmbracelet/log"

	"github.com/legamerdc/reactor/executor"
	"github.com/legamerdc/reactor/poller"
)

// Multiplexer 为一次性就绪通知源，poller.Poller 为其默认实现。
// 每次 Register 恰好产生一次 observer.Notify；RemoveNotify 返回的 channel
// 关闭后该注册不会再有回调。
type Multiplexer interface {
	Register(fd int, o poller.Observer, in poller.Interest, timeout time.Duration) error
	Remove(fd int, o poller.Observer) error
	RemoveNotify(fd int, o poller.Observer) <-chan struct{}
}

type options struct {
	mux     Multiplexer
	exec    *executor.Executor
	logger  *log.Logger
	workers int
	policy  executor.PanicPolicy
	backlog int
}

func defaultOptions() options {
	return options{
		logger:  log.NewWithOptions(os.Stderr, log.Options{Prefix: "server"}),
		workers: runtime.NumCPU(),
		backlog: 1024,
	}
}

// Option 配置 Server
type Option func(*options)

// WithMultiplexer 使用外部 Multiplexer；其生命周期由调用方管理
func WithMultiplexer(m Multiplexer) Option {
	return func(o *options) { o.mux = m }
}

// WithExecutor 使用外部执行器；worker 由调用方提供，Stop 仍会对其 StopAll
func WithExecutor(e *executor.Executor) Option {
	return func(o *options) { o.exec = e }
}

// WithLogger 设置日志
func WithLogger(l *log.Logger) Option {
	return func(o *options) {
		if l == nil {
			l = log.New(io.Discard)
		}
		o.logger = l
	}
}

// WithWorkers 设置自建执行器的 worker 数
func WithWorkers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithPanicPolicy 设置自建执行器的 panic 策略
func WithPanicPolicy(p executor.PanicPolicy) Option {
	return func(o *options) { o.policy = p }
}

// WithBacklog 设置 listen backlog
func WithBacklog(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.backlog = n
		}
	}
}
