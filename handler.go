package reactor

import (
	"time"

	"github.com/legamerdc/reactor/server"
)

// timeoutHandler 在 OnAccept 之前按配置设置连接读写超时
type timeoutHandler[C any] struct {
	server.Handler[C]
	read, write time.Duration
}

func (h timeoutHandler[C]) OnAccept(c *server.Conn[C], ctx C) server.Command {
	if h.read > 0 {
		c.SetReadTimeout(h.read)
	}
	if h.write > 0 {
		c.SetWriteTimeout(h.write)
	}
	return h.Handler.OnAccept(c, ctx)
}

func withTimeouts[C any](h server.Handler[C], read, write time.Duration) server.Handler[C] {
	if read <= 0 && write <= 0 {
		return h
	}
	return timeoutHandler[C]{Handler: h, read: read, write: write}
}
