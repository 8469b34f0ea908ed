package reactor

import "errors"

var (
	// ErrInvalidConfig 配置校验失败，具体字段见 *InvalidConfigError
	ErrInvalidConfig = errors.New("reactor: invalid config")

	// ErrInvalidArgument 参数非法
	ErrInvalidArgument = errors.New("reactor: invalid argument")
)
