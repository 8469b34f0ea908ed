package server

import (
	"io"
	"net"
)

// Stream 为连接上的非阻塞字节流。
// Read/Write 在无数据或缓冲区满时返回 ErrWouldBlock，对端关闭时 Read 返回 io.EOF。
type Stream interface {
	io.Reader
	io.Writer
	// Fd 返回底层文件描述符，用于注册到 Multiplexer
	Fd() int
	// Readable 返回当前可读字节数
	Readable() (int, error)
	Close() error
}

// Handler 为业务回调。除 OnIncome 外，同一连接上的回调不会并发执行；
// 所有回调都运行在执行器 worker 上，可以做阻塞较短的业务处理。
//
// 回调内的 panic 会被恢复并视为 CmdRemove。
type Handler[C any] interface {
	// OnIncome 决定是否接受来自 addr 的连接并创建连接上下文
	OnIncome(addr net.Addr) (C, bool)
	// OnAccept 在连接加入注册表后调用，conn 可保存以便之后调用 WakeUp
	OnAccept(conn *Conn[C], ctx C) Command
	OnDataReady(s Stream, ctx C) Command
	OnWriteReady(s Stream, ctx C) Command
	OnTimeout(s Stream, ctx C) Command
	// OnDisconnectByPeer 在对端关闭后调用，之后连接被移除
	OnDisconnectByPeer(ctx C)
	OnUserWakeup(s Stream, ctx C, reason uint32) Command
}
