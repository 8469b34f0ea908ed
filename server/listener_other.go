//go:build !linux && !darwin

package server

import "net"

func openListener(int, bool, int) (int, int, error) { return -1, 0, ErrPlatformNotSupported }

func acceptStream(int) (Stream, net.Addr, error) { return nil, nil, ErrPlatformNotSupported }

func closeFD(int) error { return nil }

func isWouldBlock(error) bool { return false }

func isTransientAccept(error) bool { return false }

func isResourceExhausted(error) bool { return false }
