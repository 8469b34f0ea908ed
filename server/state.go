package server

import (
	"errors"
	"fmt"
)

// State 为服务器生命周期状态
type State int32

const (
	StateCreated State = iota
	StateStarting
	StateRunning
	StateStopping
	StateStopped
	StateFailed
)

var ErrInvalidState = errors.New("server: invalid state")

// InvalidStateError 在操作与当前生命周期状态不符时返回
type InvalidStateError struct {
	Op    string
	State State
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("server: %s in state %s", e.Op, e.State)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsTerminal 是否为终止状态
func (s State) IsTerminal() bool {
	return s == StateStopped || s == StateFailed
}
