package ring

import (
	"errors"
	"io"
)

var ErrTooLarge = errors.New("ring: write too large")

// Buffer 为定长环形字节缓冲，不做并发保护。
// 连接上同一时刻至多一个回调在执行，因此可以由连接上下文独占持有。
type Buffer struct {
	buf      []byte
	mask     int
	readPos  int
	writePos int
}

// New 返回容量为 2 的幂次的环形缓冲。若 cap 非 2 的幂则向上取整。
func New(capacity int) *Buffer {
	capPow2 := 1
	for capPow2 < capacity {
		capPow2 <<= 1
	}
	return &Buffer{buf: make([]byte, capPow2), mask: capPow2 - 1}
}

func (b *Buffer) Cap() int { return len(b.buf) }

func (b *Buffer) Len() int { return b.writePos - b.readPos }

func (b *Buffer) Free() int { return b.Cap() - b.Len() }

// Write 将数据整体写入；剩余空间不足时不写入并返回 ErrTooLarge。
func (b *Buffer) Write(p []byte) (int, error) {
	if len(p) > b.Free() {
		return 0, ErrTooLarge
	}
	n := len(p)
	start := b.writePos & b.mask
	end := start + n
	if end <= len(b.buf) {
		copy(b.buf[start:end], p)
	} else {
		l := len(b.buf) - start
		copy(b.buf[start:], p[:l])
		copy(b.buf[:n-l], p[l:])
	}
	b.writePos += n
	return n, nil
}

// Peek 返回从读指针开始的连续一段，最多 n 字节，不前进读指针。
// 数据跨越尾部时只返回到尾部为止的部分。
func (b *Buffer) Peek(n int) []byte {
	if n <= 0 {
		return nil
	}
	n = min(n, b.Len())
	start := b.readPos & b.mask
	end := min(start+n, len(b.buf))
	return b.buf[start:end]
}

// Discard 前进读指针。
func (b *Buffer) Discard(n int) int {
	n = min(n, b.Len())
	b.readPos += n
	if b.readPos == b.writePos {
		b.Reset()
	}
	return n
}

// WriteTo 将缓冲内容写入 w，直到写完或 w 返回错误（如暂不可写）。
func (b *Buffer) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for b.Len() > 0 {
		seg := b.Peek(b.Len())
		n, err := w.Write(seg)
		if n > 0 {
			b.Discard(n)
			total += int64(n)
		}
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, io.ErrShortWrite
		}
	}
	return total, nil
}

func (b *Buffer) Reset() {
	b.readPos, b.writePos = 0, 0
}
