package codec

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/s2"
)

// S2 wraps klauspost/compress/s2's block API, giving the batch compressor
// driver and multi-worker builder a second real codec to exercise —
// grounded in the same klauspost/compress dependency containerd and
// dragonflyoss/nydus already carry.
type S2 struct{}

func init() {
	Register(S2{})
}

func (S2) ID() uint8 { return 2 }

func (S2) CompressBound(n int) int {
	return s2.MaxEncodedLen(n)
}

func (S2) Compress(src, dst []byte) (int, error) {
	bound := s2.MaxEncodedLen(len(src))
	if bound < 0 || len(dst) < bound {
		return 0, errors.New("codec/s2: destination too small")
	}
	out := s2.Encode(dst, src)
	return len(out), nil
}

func (S2) Decompress(src, dst []byte) (int, error) {
	n, err := s2.DecodedLen(src)
	if err != nil {
		return 0, fmt.Errorf("codec/s2: decoded length: %w", err)
	}
	if n > len(dst) {
		return 0, errors.New("codec/s2: destination too small")
	}
	out, err := s2.Decode(dst[:n], src)
	if err != nil {
		return 0, fmt.Errorf("codec/s2: decompress: %w", err)
	}
	return len(out), nil
}

func (S2) NBatch() int { return 16 }

func (s S2) CompressBatch(srcs, dsts [][]byte) ([]int, error) {
	return compressBatchLoop(s, srcs, dsts)
}
