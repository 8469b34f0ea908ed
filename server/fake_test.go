package server

import (
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/require"

	"github.com/legamerdc/reactor/executor"
	"github.com/legamerdc/reactor/poller"
)

type fakeReg struct {
	fd      int
	o       poller.Observer
	in      poller.Interest
	timeout time.Duration
}

// fakeMux 记录注册，由测试触发回调
type fakeMux struct {
	mu      sync.Mutex
	regs    map[int]fakeReg
	history []fakeReg
	removed int
}

func newFakeMux() *fakeMux { return &fakeMux{regs: make(map[int]fakeReg)} }

func (m *fakeMux) Register(fd int, o poller.Observer, in poller.Interest, timeout time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.regs[fd]; ok {
		return poller.ErrAlreadyRegistered
	}
	r := fakeReg{fd: fd, o: o, in: in, timeout: timeout}
	m.regs[fd] = r
	m.history = append(m.history, r)
	return nil
}

func (m *fakeMux) Remove(fd int, o poller.Observer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.regs[fd]; !ok || r.o != o {
		return poller.ErrNotRegistered
	}
	delete(m.regs, fd)
	return nil
}

func (m *fakeMux) RemoveNotify(fd int, o poller.Observer) <-chan struct{} {
	m.mu.Lock()
	if r, ok := m.regs[fd]; ok && r.o == o {
		delete(m.regs, fd)
	}
	m.removed++
	m.mu.Unlock()
	done := make(chan struct{})
	close(done)
	return done
}

func (m *fakeMux) lookup(fd int) (fakeReg, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.regs[fd]
	return r, ok
}

func (m *fakeMux) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.regs)
}

// waitReg 等待 fd 上出现注册
func (m *fakeMux) waitReg(t *testing.T, fd int) fakeReg {
	t.Helper()
	var r fakeReg
	require.Eventually(t, func() bool {
		var ok bool
		r, ok = m.lookup(fd)
		return ok
	}, 2*time.Second, time.Millisecond, "fd %d never registered", fd)
	return r
}

// fire 消费一次性注册并回调
func (m *fakeMux) fire(t *testing.T, fd int, reason poller.Reason) {
	t.Helper()
	r := m.waitReg(t, fd)
	m.mu.Lock()
	delete(m.regs, fd)
	m.mu.Unlock()
	r.o.Notify(reason)
}

type fakeStream struct {
	fd       int
	readable atomic.Int64
	closed   atomic.Int32
}

var nextFakeFD atomic.Int64

func newFakeStream() *fakeStream {
	return &fakeStream{fd: int(10000 + nextFakeFD.Add(1))}
}

func (s *fakeStream) Fd() int                     { return s.fd }
func (s *fakeStream) Read(p []byte) (int, error)  { return 0, ErrWouldBlock }
func (s *fakeStream) Write(p []byte) (int, error) { return len(p), nil }
func (s *fakeStream) Readable() (int, error)      { return int(s.readable.Load()), nil }
func (s *fakeStream) Close() error {
	s.closed.Add(1)
	return nil
}

type testSession struct {
	closed atomic.Int32
}

func (s *testSession) Close() error {
	s.closed.Add(1)
	return nil
}

// funcHandler 的回调为 nil 时使用默认行为
type funcHandler struct {
	income     func(net.Addr) (*testSession, bool)
	accept     func(*Conn[*testSession], *testSession) Command
	data       func(Stream, *testSession) Command
	write      func(Stream, *testSession) Command
	timeout    func(Stream, *testSession) Command
	disconnect func(*testSession)
	wakeup     func(Stream, *testSession, uint32) Command
}

func (h *funcHandler) OnIncome(addr net.Addr) (*testSession, bool) {
	if h.income != nil {
		return h.income(addr)
	}
	return &testSession{}, true
}

func (h *funcHandler) OnAccept(c *Conn[*testSession], s *testSession) Command {
	if h.accept != nil {
		return h.accept(c, s)
	}
	return CmdWaitRead
}

func (h *funcHandler) OnDataReady(st Stream, s *testSession) Command {
	if h.data != nil {
		return h.data(st, s)
	}
	return CmdRemove
}

func (h *funcHandler) OnWriteReady(st Stream, s *testSession) Command {
	if h.write != nil {
		return h.write(st, s)
	}
	return CmdRemove
}

func (h *funcHandler) OnTimeout(st Stream, s *testSession) Command {
	if h.timeout != nil {
		return h.timeout(st, s)
	}
	return CmdRemove
}

func (h *funcHandler) OnDisconnectByPeer(s *testSession) {
	if h.disconnect != nil {
		h.disconnect(s)
	}
}

func (h *funcHandler) OnUserWakeup(st Stream, s *testSession, reason uint32) Command {
	if h.wakeup != nil {
		return h.wakeup(st, s, reason)
	}
	return CmdRemove
}

type fakeEnv struct {
	srv  *Server[*testSession]
	mux  *fakeMux
	exec *executor.Executor
}

// newFakeEnv 构造使用 fakeMux 与外部执行器的服务器，不打开监听端口
func newFakeEnv(t *testing.T, h *funcHandler, workers int) *fakeEnv {
	t.Helper()
	mux := newFakeMux()
	exec := executor.New(
		executor.WithLogger(log.New(io.Discard)),
		executor.WithIdleFunc(func(int) time.Duration { return 5 * time.Millisecond }),
	)
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = exec.Serve(context.Background())
		}()
	}
	srv := New[*testSession](h,
		WithMultiplexer(mux),
		WithExecutor(exec),
		WithLogger(log.New(io.Discard)),
	)
	srv.state.Store(int32(StateRunning))
	t.Cleanup(func() {
		srv.Stop()
		exec.Join()
		wg.Wait()
	})
	return &fakeEnv{srv: srv, mux: mux, exec: exec}
}

// connect 模拟一次 accept
func (e *fakeEnv) connect(st *fakeStream) {
	e.srv.mu.Lock()
	e.srv.pending[st] = struct{}{}
	e.srv.mu.Unlock()
	addr := &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40000}
	e.exec.Execute(func() { e.srv.admit(st, addr, 0) })
}
