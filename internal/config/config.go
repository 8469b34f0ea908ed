// Package config 从 YAML 文件、环境变量与命令行参数加载 reactor.Config。
//
// 优先级由高到低：显式设置的命令行参数、REACTOR_ 前缀环境变量、配置文件、默认值。
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"

	"github.com/legamerdc/reactor"
)

// EnvPrefix 为环境变量前缀，如 REACTOR_PORT
const EnvPrefix = "REACTOR"

// ErrConfigNotFound 指定的配置文件不存在
var ErrConfigNotFound = errors.New("config: file not found")

// flagKeys 命令行参数名到配置键的映射
var flagKeys = map[string]string{
	"port":            "port",
	"extra-ports":     "extra_ports",
	"workers":         "workers",
	"local-only":      "host_local_only",
	"connect-timeout": "connect_timeout",
	"read-timeout":    "read_timeout",
	"write-timeout":   "write_timeout",
	"panic-policy":    "panic_policy",
	"log-level":       "log_level",
	"compress":        "compress",
}

// Load 读取配置并校验。path 为空时只使用默认值、环境变量与参数；flags 可为 nil。
func Load(path string, flags *pflag.FlagSet) (reactor.Config, error) {
	v := viper.New()

	d := reactor.DefaultConfig()
	v.SetDefault("host_local_only", d.HostLocalOnly)
	v.SetDefault("port", d.Port)
	v.SetDefault("extra_ports", d.ExtraPorts)
	v.SetDefault("workers", d.Workers)
	v.SetDefault("connect_timeout", d.ConnectTimeout)
	v.SetDefault("read_timeout", d.ReadTimeout)
	v.SetDefault("write_timeout", d.WriteTimeout)
	v.SetDefault("panic_policy", d.PanicPolicy)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("compress", d.Compress)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				return reactor.Config{}, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
			}
			return reactor.Config{}, fmt.Errorf("config: stat %s: %w", path, err)
		}
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return reactor.Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return reactor.Config{}, fmt.Errorf("config: bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg reactor.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return reactor.Config{}, fmt.Errorf("config: decode: %w", err)
	}
	if len(cfg.ExtraPorts) == 0 {
		cfg.ExtraPorts = nil
	}
	if err := cfg.Validate(); err != nil {
		return reactor.Config{}, err
	}
	return cfg, nil
}

// dumpView 与 reactor.Config 字段一一对应，时长以 "30s" 形式输出
type dumpView struct {
	HostLocalOnly  bool   `yaml:"host_local_only"`
	Port           int    `yaml:"port"`
	ExtraPorts     []int  `yaml:"extra_ports,omitempty"`
	Workers        int    `yaml:"workers"`
	ConnectTimeout string `yaml:"connect_timeout"`
	ReadTimeout    string `yaml:"read_timeout"`
	WriteTimeout   string `yaml:"write_timeout"`
	PanicPolicy    string `yaml:"panic_policy"`
	LogLevel       string `yaml:"log_level"`
	Compress       bool   `yaml:"compress"`
}

// Dump 将配置渲染为可被 Load 读回的 YAML
func Dump(cfg reactor.Config) ([]byte, error) {
	return yaml.Marshal(dumpView{
		HostLocalOnly:  cfg.HostLocalOnly,
		Port:           cfg.Port,
		ExtraPorts:     cfg.ExtraPorts,
		Workers:        cfg.Workers,
		ConnectTimeout: duration(cfg.ConnectTimeout),
		ReadTimeout:    duration(cfg.ReadTimeout),
		WriteTimeout:   duration(cfg.WriteTimeout),
		PanicPolicy:    cfg.PanicPolicy,
		LogLevel:       cfg.LogLevel,
		Compress:       cfg.Compress,
	})
}

func duration(d time.Duration) string { return d.String() }

// RegisterFlags 在 fs 上注册 Load 识别的全部参数，默认值取 reactor.DefaultConfig
func RegisterFlags(fs *pflag.FlagSet) {
	d := reactor.DefaultConfig()
	fs.Int("port", d.Port, "main listen port, 0 picks an ephemeral port")
	fs.IntSlice("extra-ports", d.ExtraPorts, "additional listen ports, source ids 1..n")
	fs.Int("workers", d.Workers, "executor worker goroutines")
	fs.Bool("local-only", d.HostLocalOnly, "bind to 127.0.0.1 only")
	fs.Duration("connect-timeout", d.ConnectTimeout, "initial read/write timeout of new connections")
	fs.Duration("read-timeout", d.ReadTimeout, "read timeout override, 0 keeps connect-timeout")
	fs.Duration("write-timeout", d.WriteTimeout, "write timeout override, 0 keeps connect-timeout")
	fs.String("panic-policy", d.PanicPolicy, "handler panic policy: exit-worker, continue or propagate")
	fs.String("log-level", d.LogLevel, "log level: debug, info, warn, error")
	fs.Bool("compress", d.Compress, "compress echo replies with zstd")
}
