package protocol

import (
	"encoding/binary"
	"errors"
)

// LenFlags 头部编码：
// 短头（2B，BE）：
//   bit15: Compressed
//   bit14: 保留，必须为 0
//   bit13: Ext=0 (短头)
//   bit12..0: Len13 (0..8191)
// 长头（4B，BE）：
//   bit31: Compressed
//   bit30: 保留，必须为 0
//   bit29: Ext=1 (长头)
//   bit28..0: Len29 (0..(1<<29)-1)
// Len 为消息体长度（压缩后），不含 2 字节 api。

const (
	shortHeadMaxLen = (1 << 13) - 1 // 8191
	longHeadMaxLen  = (1 << 29) - 1

	// MaxHeaderLen 为头部加 api 的最大字节数
	MaxHeaderLen = 4 + 2
)

var (
	ErrIncomplete        = errors.New("protocol: incomplete frame")
	ErrLengthOutOfRange  = errors.New("protocol: length out of range")
	ErrReservedFlag      = errors.New("protocol: reserved flag set")
	ErrPayloadTooLarge   = errors.New("protocol: payload exceeds limit")
	errHeaderTooShortAPI = errors.New("protocol: api too short")
)

// AppendLenFlags 追加 2 或 4 字节头部。
func AppendLenFlags(dst []byte, length int, compressed bool) ([]byte, error) {
	if length < 0 || length > longHeadMaxLen {
		return dst, ErrLengthOutOfRange
	}
	if length <= shortHeadMaxLen {
		var v uint16
		if compressed {
			v |= 1 << 15
		}
		v |= uint16(length) & 0x1FFF
		return binary.BigEndian.AppendUint16(dst, v), nil
	}
	var v uint32 = 1 << 29 // Ext=1
	if compressed {
		v |= 1 << 31
	}
	v |= uint32(length) & 0x1FFFFFFF
	return binary.BigEndian.AppendUint32(dst, v), nil
}

// DecodeLenFlags 解码头部，返回已消费字节数、长度与 compressed。
// 字节不足时返回 ErrIncomplete。
func DecodeLenFlags(b []byte) (consumed int, length int, compressed bool, _ error) {
	if len(b) < 2 {
		return 0, 0, false, ErrIncomplete
	}
	v16 := binary.BigEndian.Uint16(b[:2])
	if (v16>>14)&0x1 == 1 {
		return 0, 0, false, ErrReservedFlag
	}
	ext := (v16>>13)&0x1 == 1
	if !ext {
		return 2, int(v16 & 0x1FFF), (v16>>15)&0x1 == 1, nil
	}
	// 长头
	if len(b) < 4 {
		return 0, 0, false, ErrIncomplete
	}
	v32 := binary.BigEndian.Uint32(b[:4])
	return 4, int(v32 & 0x1FFFFFFF), (v32>>31)&0x1 == 1, nil
}

// AppendAPI 将 api(uint16, BE) 追加到切片末尾。
func AppendAPI(dst []byte, api uint16) []byte {
	return binary.BigEndian.AppendUint16(dst, api)
}

// ReadAPI 从 b 前两个字节解析 api。
func ReadAPI(b []byte) (api uint16, consumed int, _ error) {
	if len(b) < 2 {
		return 0, 0, errHeaderTooShortAPI
	}
	return binary.BigEndian.Uint16(b[:2]), 2, nil
}
