package protocol

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLenFlagsBoundaries(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		length     int
		compressed bool
		wantSize   int
	}{
		{"empty", 0, false, 2},
		{"short max", shortHeadMaxLen, true, 2},
		{"long min", shortHeadMaxLen + 1, false, 4},
		{"long max", longHeadMaxLen, true, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			hdr, err := AppendLenFlags(nil, tt.length, tt.compressed)
			require.NoError(t, err)
			assert.Len(t, hdr, tt.wantSize)

			c, length, compressed, err := DecodeLenFlags(hdr)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSize, c)
			assert.Equal(t, tt.length, length)
			assert.Equal(t, tt.compressed, compressed)
		})
	}

	_, err := AppendLenFlags(nil, longHeadMaxLen+1, false)
	assert.ErrorIs(t, err, ErrLengthOutOfRange)
	_, err = AppendLenFlags(nil, -1, false)
	assert.ErrorIs(t, err, ErrLengthOutOfRange)
}

func TestDecodeLenFlagsErrors(t *testing.T) {
	t.Parallel()

	_, _, _, err := DecodeLenFlags([]byte{0x00})
	assert.ErrorIs(t, err, ErrIncomplete)

	// 长头只有 2 字节
	_, _, _, err = DecodeLenFlags([]byte{0x20, 0x00})
	assert.ErrorIs(t, err, ErrIncomplete)

	_, _, _, err = DecodeLenFlags([]byte{0x40, 0x01})
	assert.ErrorIs(t, err, ErrReservedFlag)
}

func TestParseStream(t *testing.T) {
	t.Parallel()

	enc := NewEncoder(true)
	big := bytes.Repeat([]byte("reactor "), 2048)
	msgs := []Message{
		{API: 1, Payload: []byte("hello")},
		{API: 2, Payload: nil},
		{API: 3, Payload: big},
		{API: 4, Payload: bytes.Repeat([]byte{0x7f}, shortHeadMaxLen+10)},
	}
	var stream []byte
	for _, m := range msgs {
		var err error
		stream, err = enc.Append(stream, m.API, m.Payload)
		require.NoError(t, err)
	}
	assert.Less(t, len(stream), len(big), "repetitive payload should be compressed")

	// 逐字节喂入，验证半帧处理
	p := NewParser()
	var (
		got     []Message
		pending []byte
	)
	for _, b := range stream {
		pending = append(pending, b)
		n, err := p.Parse(pending, func(m Message) error {
			got = append(got, Message{API: m.API, Payload: append([]byte(nil), m.Payload...)})
			return nil
		})
		require.NoError(t, err)
		pending = pending[n:]
	}
	assert.Empty(t, pending)
	require.Len(t, got, len(msgs))
	for i, m := range msgs {
		assert.Equal(t, m.API, got[i].API)
		assert.Equal(t, len(m.Payload), len(got[i].Payload))
		assert.True(t, bytes.Equal(m.Payload, got[i].Payload), "payload %d mismatch", i)
	}
}

func TestParseLimitsAndCallbackError(t *testing.T) {
	t.Parallel()

	frame, err := NewEncoder(false).Encode(9, make([]byte, 100))
	require.NoError(t, err)

	p := &Parser{MaxPayload: 10}
	n, err := p.Parse(frame, func(Message) error { return nil })
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
	assert.Zero(t, n)

	stop := errors.New("stop")
	n, err = NewParser().Parse(append(frame, frame...), func(Message) error { return stop })
	assert.ErrorIs(t, err, stop)
	assert.Zero(t, n)
}

func TestEncoderSkipsIncompressible(t *testing.T) {
	t.Parallel()

	enc := NewEncoder(true)
	small, err := enc.Encode(1, []byte("tiny"))
	require.NoError(t, err)
	_, _, compressed, err := DecodeLenFlags(small)
	require.NoError(t, err)
	assert.False(t, compressed, "payload below threshold must not be compressed")
}
