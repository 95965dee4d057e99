// Package codec is the pluggable compression registry the ZFile builders
// and reader compress/decompress through. The core never hardcodes a
// compression library; it only ever asks a Codec, looked up by the id
// stashed in the container's header, to compress or decompress a block.
package codec

import "fmt"

// Codec is the single-chunk plus batched compression contract every
// registered compressor implements. Implementations must be safe for
// concurrent use by distinct goroutines as long as each call supplies its
// own buffers: the multi-worker builder's workers all call the one Codec
// from BuildOptions, each with its own slot buffers, and do not get a
// Codec instance of their own.
type Codec interface {
	ID() uint8

	// CompressBound returns an upper bound on the compressed size of an
	// n-byte input, so callers can size destination buffers up front.
	CompressBound(n int) int

	Compress(src, dst []byte) (int, error)
	Decompress(src, dst []byte) (int, error)

	// NBatch is the codec's preferred number of chunks per CompressBatch
	// call; the batch driver reads this many blocks per iteration.
	NBatch() int

	// CompressBatch compresses each srcs[i] into dsts[i] and returns the
	// number of bytes written to each destination.
	CompressBatch(srcs, dsts [][]byte) ([]int, error)
}

var registry = map[uint8]Codec{}

// Register adds a codec to the registry, keyed by its ID. Call from an
// init() in the codec's own file, the way database/sql drivers register.
func Register(c Codec) {
	registry[c.ID()] = c
}

// ByID looks up a previously registered codec.
func ByID(id uint8) (Codec, bool) {
	c, ok := registry[id]
	return c, ok
}

// MustByID panics if the codec isn't registered; used where the caller has
// already validated the id came from a header that referenced it.
func MustByID(id uint8) Codec {
	c, ok := ByID(id)
	if !ok {
		panic(fmt.Sprintf("codec: no codec registered for id %d", id))
	}
	return c
}

// compressBatchLoop is the shared CompressBatch implementation for codecs
// whose underlying library has no native multi-buffer entry point: both
// LZ4 and S2 batch by looping Compress. NBatch still reports a preferred
// width so callers size their read-ahead consistently.
func compressBatchLoop(c Codec, srcs, dsts [][]byte) ([]int, error) {
	sizes := make([]int, len(srcs))
	for i := range srcs {
		n, err := c.Compress(srcs[i], dsts[i])
		if err != nil {
			return nil, fmt.Errorf("codec: batch item %d: %w", i, err)
		}
		sizes[i] = n
	}
	return sizes, nil
}
