package client

import (
	"context"
	"io"
	"net"
	"os"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/legamerdc/reactor/protocol"
)

// Handler 接收客户端事件；OnMessage 在读 goroutine 中调用，m.Payload 仅在回调期间有效
type Handler interface {
	OnOpen(c *Client)
	OnMessage(c *Client, m protocol.Message)
	OnClose(c *Client, err error)
}

type Client struct {
	conn   net.Conn
	enc    *protocol.Encoder
	prs    *protocol.Parser
	logger *log.Logger
	mu     sync.Mutex
	// 接收缓冲，跨多次 Read 累积，避免半包丢失
	rb []byte
}

// Option 配置 Client
type Option func(*Client)

// WithCompress 对足够大的 payload 启用 zstd 压缩
func WithCompress(on bool) Option {
	return func(c *Client) { c.enc.Compress = on }
}

func WithLogger(l *log.Logger) Option {
	return func(c *Client) {
		if l == nil {
			l = log.New(io.Discard)
		}
		c.logger = l
	}
}

// Dial 建立连接，同步调用 OnOpen 后启动读循环
func Dial(ctx context.Context, address string, h Handler, opts ...Option) (*Client, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	c := &Client{
		conn:   nc,
		enc:    protocol.NewEncoder(false),
		prs:    protocol.NewParser(),
		logger: log.NewWithOptions(os.Stderr, log.Options{Prefix: "client"}),
	}
	for _, opt := range opts {
		opt(c)
	}
	h.OnOpen(c)
	go c.readLoop(h)
	return c, nil
}

func (c *Client) readLoop(h Handler) {
	buf := make([]byte, 64<<10)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			c.rb = append(c.rb, buf[:n]...)
			consumed, perr := c.prs.Parse(c.rb, func(m protocol.Message) error {
				h.OnMessage(c, m)
				return nil
			})
			// 滑动缓冲：保留未消费部分
			c.rb = append(c.rb[:0], c.rb[consumed:]...)
			if perr != nil {
				c.logger.Error("parse failed", "remote", c.conn.RemoteAddr(), "error", perr)
				_ = c.conn.Close()
				err = perr
			}
		}
		if err != nil {
			h.OnClose(c, err)
			return
		}
	}
}

// Write 发送一帧，可并发调用
func (c *Client) Write(api uint16, payload []byte) error {
	frame, err := c.enc.Encode(api, payload)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err = c.conn.Write(frame)
	return err
}

func (c *Client) LocalAddr() net.Addr { return c.conn.LocalAddr() }

func (c *Client) Close() error { return c.conn.Close() }
