package server

// Command 为 handler 回调返回的下一步动作
type Command uint8

const (
	// CmdRemove 移除连接并释放上下文
	CmdRemove Command = iota
	// CmdWaitRead 等待可读，超时取 ReadTimeout
	CmdWaitRead
	// CmdWaitWrite 等待可写，超时取 WriteTimeout
	CmdWaitWrite
	// CmdWaitReadOrWrite 同时等待可读与可写，超时取两者非零最小值
	CmdWaitReadOrWrite
	// CmdWaitUserWakeup 不注册 I/O，等待 Conn.WakeUp
	CmdWaitUserWakeup
)

func (c Command) String() string {
	switch c {
	case CmdRemove:
		return "remove"
	case CmdWaitRead:
		return "wait-read"
	case CmdWaitWrite:
		return "wait-write"
	case CmdWaitReadOrWrite:
		return "wait-read-or-write"
	case CmdWaitUserWakeup:
		return "wait-user-wakeup"
	default:
		return "unknown"
	}
}
