package executor

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidPolicy 未知的 panic 策略名
var ErrInvalidPolicy = errors.New("executor: invalid panic policy")

// PanicError 为 action panic 后 Serve 的返回值
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("executor: action panicked: %v", e.Value)
}

// Unwrap 在 panic 值本身是 error 时返回它
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

func (p PanicPolicy) String() string {
	switch p {
	case PanicExitWorker:
		return "exit-worker"
	case PanicContinue:
		return "continue"
	case PanicPropagate:
		return "propagate"
	default:
		return "unknown"
	}
}

// ParsePanicPolicy 解析配置中的策略名，空串视为默认策略
func ParsePanicPolicy(s string) (PanicPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "exit-worker":
		return PanicExitWorker, nil
	case "continue":
		return PanicContinue, nil
	case "propagate":
		return PanicPropagate, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidPolicy, s)
	}
}
