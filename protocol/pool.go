package protocol

import (
	"sync"

	"github.com/klauspost/compress/zstd"
)

var (
	encoderPool = sync.Pool{New: func() any {
		enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest), zstd.WithEncoderConcurrency(1))
		return enc
	}}
	decoderPool = sync.Pool{New: func() any {
		dec, _ := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1), zstd.WithDecoderMaxMemory(longHeadMaxLen))
		return dec
	}}
)

func getEncoder() *zstd.Encoder  { return encoderPool.Get().(*zstd.Encoder) }
func putEncoder(e *zstd.Encoder) { encoderPool.Put(e) }
func getDecoder() *zstd.Decoder  { return decoderPool.Get().(*zstd.Decoder) }
func putDecoder(d *zstd.Decoder) { decoderPool.Put(d) }

func compress(dst, src []byte) []byte {
	zw := getEncoder()
	defer putEncoder(zw)
	return zw.EncodeAll(src, dst)
}

func decompress(dst, src []byte) ([]byte, error) {
	dz := getDecoder()
	defer putDecoder(dz)
	return dz.DecodeAll(src, dst)
}
