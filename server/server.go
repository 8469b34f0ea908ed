package server

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/legamerdc/reactor/executor"
	"github.com/legamerdc/reactor/poller"
)

// Server 接受连接并把就绪事件分派给 Handler，handler 在执行器上运行。
type Server[C any] struct {
	h       Handler[C]
	mux     Multiplexer
	exec    *executor.Executor
	logger  *log.Logger
	backlog int

	connectTimeout time.Duration

	// 未注入时自建
	poller     *poller.Poller
	pollerDone chan struct{}
	ownedExec  bool
	nworkers   int
	policy     executor.PanicPolicy
	workers    sync.WaitGroup

	state    atomic.Int32
	shutdown atomic.Bool

	mu         sync.Mutex
	conns      map[*Conn[C]]struct{}
	pending    map[Stream]struct{} // 已 accept、尚未 OnIncome
	listeners  map[int]*listener[C]
	nextSource int
}

func New[C any](h Handler[C], opts ...Option) *Server[C] {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Server[C]{
		h:         h,
		mux:       o.mux,
		exec:      o.exec,
		logger:    o.logger,
		backlog:   o.backlog,
		nworkers:  o.workers,
		policy:    o.policy,
		conns:     make(map[*Conn[C]]struct{}),
		pending:   make(map[Stream]struct{}),
		listeners: make(map[int]*listener[C]),
	}
}

// Start 监听主端口（source 0）并开始服务，返回实际绑定端口。
// connectTimeout 为新连接读写超时的初始值，0 表示不超时。
func (s *Server[C]) Start(port int, localOnly bool, connectTimeout time.Duration) (int, error) {
	if !s.state.CompareAndSwap(int32(StateCreated), int32(StateStarting)) {
		return 0, &InvalidStateError{Op: "start", State: s.State()}
	}
	s.connectTimeout = connectTimeout

	if s.mux == nil {
		p, err := poller.New(poller.WithLogger(s.logger.WithPrefix("poller")))
		if err != nil {
			s.state.Store(int32(StateFailed))
			return 0, err
		}
		s.poller, s.mux = p, p
		s.pollerDone = make(chan struct{})
		go func() {
			defer close(s.pollerDone)
			if err := p.Run(); err != nil {
				s.logger.Error("poller exited", "error", err)
			}
		}()
	}
	if s.exec == nil {
		s.exec = executor.New(
			executor.WithLogger(s.logger.WithPrefix("executor")),
			executor.WithPanicPolicy(s.policy),
		)
		s.ownedExec = true
		for range s.nworkers {
			s.workers.Add(1)
			go s.serve()
		}
	}

	l, err := s.listen(port, localOnly)
	if err != nil {
		s.shutdown.Store(true)
		s.teardown()
		s.state.Store(int32(StateFailed))
		return 0, err
	}
	s.state.Store(int32(StateRunning))
	s.logger.Info("server started", "port", l.port, "local_only", localOnly, "connect_timeout", connectTimeout)
	return l.port, nil
}

func (s *Server[C]) serve() {
	defer s.workers.Done()
	if err := s.exec.Serve(context.Background()); err != nil {
		s.logger.Error("worker exited", "error", err)
	}
}

// AddPort 增加一个监听端口，返回其 source 编号
func (s *Server[C]) AddPort(port int, localOnly bool) (int, error) {
	if st := s.State(); st != StateRunning {
		return 0, &InvalidStateError{Op: "add port", State: st}
	}
	l, err := s.listen(port, localOnly)
	if err != nil {
		return 0, err
	}
	s.logger.Info("port added", "port", l.port, "source", l.source)
	return l.source, nil
}

func (s *Server[C]) listen(port int, localOnly bool) (*listener[C], error) {
	fd, bound, err := openListener(port, localOnly, s.backlog)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	l := &listener[C]{srv: s, fd: fd, port: bound, source: s.nextSource, accept: acceptStream}
	s.nextSource++
	s.listeners[l.source] = l
	s.mu.Unlock()

	if err := s.mux.Register(fd, l, poller.Input, 0); err != nil {
		s.mu.Lock()
		delete(s.listeners, l.source)
		s.mu.Unlock()
		// 注册可能已部分生效
		_ = s.mux.Remove(fd, l)
		_ = closeFD(fd)
		return nil, err
	}
	return l, nil
}

// Port 返回 source 对应的绑定端口
func (s *Server[C]) Port(source int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listeners[source]
	if !ok {
		return 0, ErrUnknownSource
	}
	return l.port, nil
}

// Stop 关闭服务：先停止执行器并等待在途回调结束，再撤销全部监听与连接的注册，
// 最后关闭 fd、释放上下文。可重复调用。
//
// 不能在 handler 回调或 Multiplexer 回调中调用。
func (s *Server[C]) Stop() {
	if !s.shutdown.CompareAndSwap(false, true) {
		return
	}
	if State(s.state.Swap(int32(StateStopping))) == StateCreated {
		s.state.Store(int32(StateStopped))
		return
	}
	s.logger.Info("server stopping", "connections", s.ConnectionCount())
	s.teardown()
	s.state.Store(int32(StateStopped))
	s.logger.Info("server stopped")
}

func (s *Server[C]) teardown() {
	if s.exec != nil {
		s.exec.StopAll(-1)
	}
	if s.ownedExec {
		s.workers.Wait()
	}

	s.mu.Lock()
	ls := make([]*listener[C], 0, len(s.listeners))
	for _, l := range s.listeners {
		ls = append(ls, l)
	}
	conns := make([]*Conn[C], 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	pending := s.pending
	s.pending = make(map[Stream]struct{})
	s.mu.Unlock()

	var errs []error
	for _, l := range ls {
		<-s.mux.RemoveNotify(l.fd, l)
		errs = append(errs, closeFD(l.fd))
	}
	for _, c := range conns {
		<-s.mux.RemoveNotify(c.stream.Fd(), c.observer())
		s.remove(c)
	}
	for st := range pending {
		errs = append(errs, st.Close())
	}

	s.mu.Lock()
	clear(s.conns)
	clear(s.listeners)
	s.mu.Unlock()

	if s.poller != nil {
		errs = append(errs, s.poller.Close())
		<-s.pollerDone
	}
	if err := errors.Join(errs...); err != nil {
		s.logger.Warn("teardown finished with errors", "error", err)
	}
}

// IsRunning 是否处于运行状态
func (s *Server[C]) IsRunning() bool { return s.State() == StateRunning }

func (s *Server[C]) State() State { return State(s.state.Load()) }

// ConnectionCount 返回注册表中的连接数
func (s *Server[C]) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Executor 返回服务器使用的执行器，Start 之前可能为 nil
func (s *Server[C]) Executor() *executor.Executor { return s.exec }
