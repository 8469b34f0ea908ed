package reactor

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"

	"github.com/legamerdc/reactor/executor"
	"github.com/legamerdc/reactor/server"
)

// NewLogger 按级别创建带前缀的日志；level 为空时取 info
func NewLogger(w io.Writer, level, prefix string) (*log.Logger, error) {
	lvl := log.InfoLevel
	if level != "" {
		var err error
		if lvl, err = log.ParseLevel(level); err != nil {
			return nil, err
		}
	}
	if w == nil {
		w = os.Stderr
	}
	return log.NewWithOptions(w, log.Options{
		Prefix:          prefix,
		Level:           lvl,
		ReportTimestamp: true,
	}), nil
}

// Start 校验配置，启动服务并监听 ExtraPorts；任一端口失败时停止已启动部分。
// opts 追加在由配置生成的选项之后，可覆盖日志、执行器或多路复用器。
func Start[C any](cfg Config, h server.Handler[C], opts ...server.Option) (*server.Server[C], error) {
	if h == nil {
		return nil, ErrInvalidArgument
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	policy, _ := executor.ParsePanicPolicy(cfg.PanicPolicy)
	logger, _ := NewLogger(os.Stderr, cfg.LogLevel, "server")

	base := []server.Option{
		server.WithLogger(logger),
		server.WithWorkers(cfg.Workers),
		server.WithPanicPolicy(policy),
	}
	srv := server.New(withTimeouts(h, cfg.ReadTimeout, cfg.WriteTimeout), append(base, opts...)...)
	if _, err := srv.Start(cfg.Port, cfg.HostLocalOnly, cfg.ConnectTimeout); err != nil {
		return nil, fmt.Errorf("reactor: start port %d: %w", cfg.Port, err)
	}
	for _, p := range cfg.ExtraPorts {
		if _, err := srv.AddPort(p, cfg.HostLocalOnly); err != nil {
			srv.Stop()
			return nil, fmt.Errorf("reactor: add port %d: %w", p, err)
		}
	}
	return srv, nil
}
