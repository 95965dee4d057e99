package codec

import (
	"errors"
	"fmt"

	"github.com/pierrec/lz4/v4"
)

// tag bytes prefixing a compressed block's payload, distinguishing a real
// LZ4 block from one LZ4 declined to shrink (pierrec/lz4 signals this by
// returning a zero length rather than an error).
const (
	lz4TagCompressed byte = 0
	lz4TagStored     byte = 1
)

// LZ4 wraps pierrec/lz4/v4's block API, generalized to single-chunk
// compress/decompress with explicit destination capacity, as the codec
// contract requires.
type LZ4 struct{}

func init() {
	Register(LZ4{})
}

func (LZ4) ID() uint8 { return 1 }

func (LZ4) CompressBound(n int) int {
	return lz4.CompressBlockBound(n) + 1
}

func (l LZ4) Compress(src, dst []byte) (int, error) {
	if len(dst) < 1 {
		return 0, errors.New("codec/lz4: destination too small")
	}

	var c lz4.Compressor
	n, err := c.CompressBlock(src, dst[1:])
	if err != nil {
		return 0, fmt.Errorf("codec/lz4: compress: %w", err)
	}

	if n == 0 || n >= len(src) {
		if len(dst) < len(src)+1 {
			return 0, errors.New("codec/lz4: destination too small for stored block")
		}
		dst[0] = lz4TagStored
		copy(dst[1:], src)
		return len(src) + 1, nil
	}

	dst[0] = lz4TagCompressed
	return n + 1, nil
}

func (LZ4) Decompress(src, dst []byte) (int, error) {
	if len(src) < 1 {
		return 0, errors.New("codec/lz4: empty input")
	}

	switch src[0] {
	case lz4TagStored:
		n := copy(dst, src[1:])
		if n != len(src)-1 {
			return 0, errors.New("codec/lz4: destination too small")
		}
		return n, nil
	case lz4TagCompressed:
		n, err := lz4.UncompressBlock(src[1:], dst)
		if err != nil {
			return 0, fmt.Errorf("codec/lz4: decompress: %w", err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("codec/lz4: unknown block tag %d", src[0])
	}
}

func (LZ4) NBatch() int { return 16 }

func (l LZ4) CompressBatch(srcs, dsts [][]byte) ([]int, error) {
	return compressBatchLoop(l, srcs, dsts)
}
