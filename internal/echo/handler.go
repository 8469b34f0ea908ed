// Package echo 为演示用的帧协议处理器：回显、统计与经执行器延迟的回显。
package echo

import (
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	jsoniter "github.com/json-iterator/go"

	"github.com/legamerdc/reactor/internal/ring"
	"github.com/legamerdc/reactor/protocol"
	"github.com/legamerdc/reactor/server"
)

const (
	APIEcho    uint16 = 1
	APIStats   uint16 = 2
	APIDelayed uint16 = 3
)

// 延迟回显完成时的唤醒原因
const reasonDelayed uint32 = 1

const readChunk = 16 << 10

// Options 配置演示处理器
type Options struct {
	Compress   bool
	MaxConns   int           // 0 表示不限
	MaxPending int           // 每连接待发送缓冲容量
	Delay      time.Duration // APIDelayed 的延迟
	Logger     *log.Logger
}

// Handler 实现 server.Handler[*Session]
type Handler struct {
	opts    Options
	enc     *protocol.Encoder
	logger  *log.Logger
	started time.Time
	stats   counters
}

type counters struct {
	accepted    atomic.Int64
	rejected    atomic.Int64
	active      atomic.Int64
	messages    atomic.Int64
	bytesIn     atomic.Int64
	bytesOut    atomic.Int64
	timeouts    atomic.Int64
	disconnects atomic.Int64
	wakeups     atomic.Int64
}

// Snapshot 为 APIStats 的应答体
type Snapshot struct {
	Conn        string `json:"conn,omitempty"`
	Accepted    int64  `json:"accepted"`
	Rejected    int64  `json:"rejected"`
	Active      int64  `json:"active"`
	Messages    int64  `json:"messages"`
	BytesIn     int64  `json:"bytes_in"`
	BytesOut    int64  `json:"bytes_out"`
	Timeouts    int64  `json:"timeouts"`
	Disconnects int64  `json:"disconnects"`
	Wakeups     int64  `json:"wakeups"`
	UptimeMS    int64  `json:"uptime_ms"`
}

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var errSlowConsumer = errors.New("echo: pending output full")

func New(opts Options) *Handler {
	if opts.MaxPending <= 0 {
		opts.MaxPending = 256 << 10
	}
	if opts.Logger == nil {
		opts.Logger = log.NewWithOptions(os.Stderr, log.Options{Prefix: "echo"})
	}
	return &Handler{
		opts:    opts,
		enc:     protocol.NewEncoder(opts.Compress),
		logger:  opts.Logger,
		started: time.Now(),
	}
}

// Snapshot 返回当前统计
func (h *Handler) Snapshot() Snapshot {
	return Snapshot{
		Accepted:    h.stats.accepted.Load(),
		Rejected:    h.stats.rejected.Load(),
		Active:      h.stats.active.Load(),
		Messages:    h.stats.messages.Load(),
		BytesIn:     h.stats.bytesIn.Load(),
		BytesOut:    h.stats.bytesOut.Load(),
		Timeouts:    h.stats.timeouts.Load(),
		Disconnects: h.stats.disconnects.Load(),
		Wakeups:     h.stats.wakeups.Load(),
		UptimeMS:    time.Since(h.started).Milliseconds(),
	}
}

// Session 为连接上下文，移除连接时由服务器调用 Close
type Session struct {
	h      *Handler
	conn   *server.Conn[*Session]
	remote net.Addr
	prs    *protocol.Parser
	in     []byte
	rbuf   []byte
	out    *ring.Buffer

	// 已提交、尚未取回的延迟回显数
	outstanding int

	mu     sync.Mutex
	ready  [][]byte
	closed bool
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.ready = nil
	s.in, s.rbuf, s.out = nil, nil, nil
	s.h.stats.active.Add(-1)
	return nil
}

func (h *Handler) OnIncome(addr net.Addr) (*Session, bool) {
	if h.opts.MaxConns > 0 && h.stats.active.Load() >= int64(h.opts.MaxConns) {
		h.stats.rejected.Add(1)
		h.logger.Warn("connection rejected", "remote", addr, "active", h.stats.active.Load())
		return nil, false
	}
	h.stats.accepted.Add(1)
	h.stats.active.Add(1)
	return &Session{
		h:      h,
		remote: addr,
		prs:    protocol.NewParser(),
		rbuf:   make([]byte, readChunk),
		out:    ring.New(h.opts.MaxPending),
	}, true
}

func (h *Handler) OnAccept(conn *server.Conn[*Session], s *Session) server.Command {
	s.conn = conn
	h.logger.Debug("connection accepted", "conn", conn.ID(), "remote", s.remote, "source", conn.Source())
	return server.CmdWaitRead
}

func (h *Handler) OnDataReady(st server.Stream, s *Session) server.Command {
	eof := false
	for {
		n, err := st.Read(s.rbuf)
		if n > 0 {
			s.in = append(s.in, s.rbuf[:n]...)
			h.stats.bytesIn.Add(int64(n))
		}
		if errors.Is(err, server.ErrWouldBlock) {
			break
		}
		if errors.Is(err, io.EOF) {
			eof = true
			break
		}
		if err != nil {
			h.logger.Debug("read failed", "conn", s.conn.ID(), "error", err)
			return server.CmdRemove
		}
	}

	consumed, err := s.prs.Parse(s.in, func(m protocol.Message) error {
		h.stats.messages.Add(1)
		return h.handle(st, s, m)
	})
	s.in = append(s.in[:0], s.in[consumed:]...)
	if err != nil {
		h.logger.Warn("dropping connection", "conn", s.conn.ID(), "error", err)
		return server.CmdRemove
	}
	if err := h.flush(st, s); err != nil || eof {
		return server.CmdRemove
	}
	return s.next()
}

func (h *Handler) handle(st server.Stream, s *Session, m protocol.Message) error {
	switch m.API {
	case APIEcho:
		return h.reply(st, s, APIEcho, m.Payload)
	case APIStats:
		snap := h.Snapshot()
		snap.Conn = s.conn.ID().String()
		body, err := json.Marshal(snap)
		if err != nil {
			return err
		}
		return h.reply(st, s, APIStats, body)
	case APIDelayed:
		h.schedule(s, append([]byte(nil), m.Payload...))
		return nil
	default:
		h.logger.Debug("unknown api", "conn", s.conn.ID(), "api", m.API)
		return nil
	}
}

// schedule 在执行器上完成延迟工作，完成后唤醒连接
func (h *Handler) schedule(s *Session, payload []byte) {
	s.outstanding++
	conn := s.conn
	work := func() {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		s.ready = append(s.ready, payload)
		s.mu.Unlock()
		conn.WakeUp(reasonDelayed)
	}
	if h.opts.Delay <= 0 {
		conn.Executor().Execute(work)
		return
	}
	time.AfterFunc(h.opts.Delay, func() { conn.Executor().Execute(work) })
}

func (h *Handler) OnUserWakeup(st server.Stream, s *Session, reason uint32) server.Command {
	h.stats.wakeups.Add(1)
	if reason != reasonDelayed {
		return s.next()
	}
	s.mu.Lock()
	ready := s.ready
	s.ready = nil
	s.mu.Unlock()

	s.outstanding -= len(ready)
	for _, p := range ready {
		if err := h.reply(st, s, APIDelayed, p); err != nil {
			return server.CmdRemove
		}
	}
	if err := h.flush(st, s); err != nil {
		return server.CmdRemove
	}
	return s.next()
}

func (h *Handler) OnWriteReady(st server.Stream, s *Session) server.Command {
	if err := h.flush(st, s); err != nil {
		return server.CmdRemove
	}
	return s.next()
}

func (h *Handler) OnTimeout(_ server.Stream, s *Session) server.Command {
	h.stats.timeouts.Add(1)
	h.logger.Debug("idle timeout", "conn", s.conn.ID())
	return server.CmdRemove
}

func (h *Handler) OnDisconnectByPeer(s *Session) {
	h.stats.disconnects.Add(1)
	h.logger.Debug("peer closed", "remote", s.remote)
}

// reply 编码并放入待发送缓冲，缓冲满时先尝试发送
func (h *Handler) reply(st server.Stream, s *Session, api uint16, payload []byte) error {
	frame, err := h.enc.Encode(api, payload)
	if err != nil {
		return err
	}
	if len(frame) > s.out.Free() {
		if err := h.flush(st, s); err != nil {
			return err
		}
	}
	if _, err := s.out.Write(frame); err != nil {
		return errSlowConsumer
	}
	return nil
}

func (h *Handler) flush(st server.Stream, s *Session) error {
	n, err := s.out.WriteTo(st)
	h.stats.bytesOut.Add(n)
	if err != nil && !errors.Is(err, server.ErrWouldBlock) {
		return err
	}
	return nil
}

// next 根据待发送数据与未完成的延迟工作决定下一步等待什么
func (s *Session) next() server.Command {
	switch {
	case s.out.Len() > 0 && s.outstanding > 0:
		return server.CmdWaitWrite
	case s.out.Len() > 0:
		return server.CmdWaitReadOrWrite
	case s.outstanding > 0:
		return server.CmdWaitUserWakeup
	default:
		return server.CmdWaitRead
	}
}
