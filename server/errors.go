package server

import "errors"

var (
	// ErrWouldBlock 非阻塞读写暂时无法继续
	ErrWouldBlock = errors.New("server: operation would block")

	ErrPlatformNotSupported = errors.New("server: platform not supported")

	ErrUnknownSource = errors.New("server: unknown source")
)
