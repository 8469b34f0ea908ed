package ring

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapacityRoundsUp(t *testing.T) {
	t.Parallel()

	for in, want := range map[int]int{0: 1, 1: 1, 3: 4, 8: 8, 1000: 1024} {
		assert.Equal(t, want, New(in).Cap(), "New(%d)", in)
	}
}

func TestWriteWrapsAround(t *testing.T) {
	t.Parallel()

	b := New(8)
	_, err := b.Write([]byte("abcdef"))
	require.NoError(t, err)
	assert.Equal(t, 4, b.Discard(4))

	_, err = b.Write([]byte("ghijk"))
	require.NoError(t, err)
	assert.Equal(t, 7, b.Len())
	assert.Equal(t, 1, b.Free())

	// 第一段到尾部为止
	assert.Equal(t, "efgh", string(b.Peek(100)))

	var out bytes.Buffer
	n, err := b.WriteTo(&out)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	assert.Equal(t, "efghijk", out.String())
	assert.Zero(t, b.Len())
}

func TestWriteWrapsRepeatedly(t *testing.T) {
	t.Parallel()

	b := New(8)
	var want, got bytes.Buffer
	next := byte('a')
	for round := range 40 {
		chunk := make([]byte, 1+round%b.Free())
		for i := range chunk {
			chunk[i] = next
			next = 'a' + (next-'a'+1)%26
		}
		_, err := b.Write(chunk)
		require.NoError(t, err, "round %d", round)
		want.Write(chunk)

		// 每轮只读走一部分，使写指针不断跨越尾部
		p := b.Peek(1 + round%3)
		got.Write(p)
		b.Discard(len(p))
	}
	_, err := b.WriteTo(&got)
	require.NoError(t, err)
	assert.Equal(t, want.String(), got.String())
}

func TestWriteTooLarge(t *testing.T) {
	t.Parallel()

	b := New(4)
	_, err := b.Write([]byte("abc"))
	require.NoError(t, err)
	n, err := b.Write([]byte("de"))
	assert.ErrorIs(t, err, ErrTooLarge)
	assert.Zero(t, n)
	assert.Equal(t, 3, b.Len())
}

// limitedWriter 接收 limit 字节后返回 errFull
type limitedWriter struct {
	bytes.Buffer
	limit int
}

var errFull = errors.New("full")

func (w *limitedWriter) Write(p []byte) (int, error) {
	room := w.limit - w.Len()
	if room <= 0 {
		return 0, errFull
	}
	if len(p) > room {
		w.Buffer.Write(p[:room])
		return room, errFull
	}
	return w.Buffer.Write(p)
}

func TestWriteToPartial(t *testing.T) {
	t.Parallel()

	b := New(16)
	_, err := b.Write([]byte("0123456789"))
	require.NoError(t, err)

	w := &limitedWriter{limit: 4}
	n, err := b.WriteTo(w)
	assert.ErrorIs(t, err, errFull)
	assert.Equal(t, int64(4), n)
	assert.Equal(t, "456789", string(b.Peek(b.Len())))

	w.limit = 100
	_, err = b.WriteTo(w)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", w.String())
}
