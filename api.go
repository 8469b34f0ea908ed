// Package reactor 将 poller、executor 与 server 组装为可配置的服务入口。
package reactor

import (
	"fmt"
	"runtime"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/legamerdc/reactor/executor"
)

// Config 为服务端配置
type Config struct {
	HostLocalOnly  bool          `mapstructure:"host_local_only" yaml:"host_local_only"`
	Port           int           `mapstructure:"port" yaml:"port"`             // 主端口，0 由内核分配
	ExtraPorts     []int         `mapstructure:"extra_ports" yaml:"extra_ports"` // 依次对应 source 1..n
	Workers        int           `mapstructure:"workers" yaml:"workers"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"` // 新连接读写超时初值，0 不超时
	ReadTimeout    time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`       // 非 0 时在 OnAccept 前覆盖
	WriteTimeout   time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	PanicPolicy    string        `mapstructure:"panic_policy" yaml:"panic_policy"`
	LogLevel       string        `mapstructure:"log_level" yaml:"log_level"`
	Compress       bool          `mapstructure:"compress" yaml:"compress"` // 演示应用的应答压缩
}

// DefaultConfig 提供一组可工作的默认值
func DefaultConfig() Config {
	return Config{
		HostLocalOnly:  true,
		Port:           18888,
		Workers:        runtime.NumCPU(),
		ConnectTimeout: 30 * time.Second,
		PanicPolicy:    executor.PanicExitWorker.String(),
		LogLevel:       "info",
	}
}

// FieldError 为单个字段的校验错误
type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) String() string { return e.Field + ": " + e.Message }

// InvalidConfigError 汇总所有字段错误，可用 errors.Is(err, ErrInvalidConfig) 判断
type InvalidConfigError struct {
	FieldErrors []FieldError
}

func (e *InvalidConfigError) Error() string {
	parts := make([]string, len(e.FieldErrors))
	for i, fe := range e.FieldErrors {
		parts[i] = fe.String()
	}
	return "reactor: invalid config: " + strings.Join(parts, "; ")
}

func (e *InvalidConfigError) Unwrap() error { return ErrInvalidConfig }

// Validate 校验配置，返回 *InvalidConfigError 或 nil
func (c Config) Validate() error {
	var errs []FieldError
	add := func(field, format string, args ...any) {
		errs = append(errs, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if c.Port < 0 || c.Port > 65535 {
		add("port", "%d out of range 0..65535", c.Port)
	}
	seen := map[int]bool{c.Port: c.Port != 0}
	for i, p := range c.ExtraPorts {
		field := fmt.Sprintf("extra_ports[%d]", i)
		switch {
		case p < 0 || p > 65535:
			add(field, "%d out of range 0..65535", p)
		case p != 0 && seen[p]:
			add(field, "duplicate port %d", p)
		}
		seen[p] = p != 0
	}
	if c.Workers < 1 {
		add("workers", "must be at least 1, got %d", c.Workers)
	}
	for field, d := range map[string]time.Duration{
		"connect_timeout": c.ConnectTimeout,
		"read_timeout":    c.ReadTimeout,
		"write_timeout":   c.WriteTimeout,
	} {
		if d < 0 {
			add(field, "must not be negative, got %s", d)
		}
	}
	if _, err := executor.ParsePanicPolicy(c.PanicPolicy); err != nil {
		add("panic_policy", "%q is not one of exit-worker, continue, propagate", c.PanicPolicy)
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil && c.LogLevel != "" {
		add("log_level", "%q is not a valid level", c.LogLevel)
	}

	if len(errs) == 0 {
		return nil
	}
	// map 遍历无序，按字段名稳定输出
	slices.SortStableFunc(errs, func(a, b FieldError) int { return strings.Compare(a.Field, b.Field) })
	return &InvalidConfigError{FieldErrors: errs}
}
