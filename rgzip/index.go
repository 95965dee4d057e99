package rgzip

import (
	"fmt"
	"io"

	"github.com/blocklayer/zfile/rgzip/deflate"
)

// BuildIndex scans the entire gzip stream in src, inflating it once, and
// returns a sidecar index recording a deflate restart point at the stream
// origin plus one at the first deflate block boundary at least span
// uncompressed bytes past the previous restart point. gzipSize is
// the on-disk size of the gzip file src reads from, recorded verbatim in
// the header for the reader's sanity check.
func BuildIndex(src io.Reader, gzipSize int64, span uint64) (*Index, error) {
	if span < minSpan {
		return nil, fmt.Errorf("rgzip: span %d below minimum %d", span, minSpan)
	}

	d, err := deflate.NewGzipDecoder(src)
	if err != nil {
		return nil, fmt.Errorf("rgzip: opening gzip stream: %w", err)
	}

	idx := &Index{Span: span, GzipSize: uint64(gzipSize)}
	idx.Entries = append(idx.Entries, Entry{
		UncompressedOffset: 0,
		CompressedOffset:   uint64(d.BytePos()),
		Bits:               uint8(d.BitsConsumed()),
	})
	lastOut := int64(0)

	d.OnBoundary(func(bytePos int64, bits int, totalOut int64, final bool) {
		if uint64(totalOut-lastOut) < span {
			return
		}
		win := d.Window()
		idx.Entries = append(idx.Entries, Entry{
			UncompressedOffset: uint64(totalOut),
			CompressedOffset:   uint64(bytePos),
			Bits:               uint8(bits),
			Window:             win,
		})
		lastOut = totalOut
	})

	if err := d.Run(); err != nil {
		return nil, fmt.Errorf("rgzip: inflating: %w", err)
	}
	return idx, nil
}
