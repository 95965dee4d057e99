package rgzip

import (
	"fmt"
	"io"
	"sort"

	"github.com/blocklayer/zfile/backing"
	"github.com/blocklayer/zfile/rgzip/deflate"
)

const readChunk = 16 << 10

// Reader provides pread-style random access into a plain gzip stream,
// backed by a sidecar Index built ahead of time by BuildIndex.
type Reader struct {
	gz     backing.RandomReader
	gzSize int64
	idx    *Index
}

// NewReader opens gz for random access using idx, the index previously
// built over it. It rejects an index whose recorded gzip size disagrees
// with gz's current size — the two are meant to be an immutable pair.
func NewReader(gz backing.RandomReader, idx *Index) (*Reader, error) {
	st, err := gz.Fstat()
	if err != nil {
		return nil, fmt.Errorf("rgzip: stat: %w", err)
	}
	if uint64(st.Size) != idx.GzipSize {
		return nil, fmt.Errorf("rgzip: index gzip_size %d does not match file size %d", idx.GzipSize, st.Size)
	}
	if len(idx.Entries) == 0 {
		return nil, fmt.Errorf("rgzip: index has no entries")
	}
	return &Reader{gz: gz, gzSize: st.Size, idx: idx}, nil
}

// findEntry locates the access point at or before offset: an upper-bound
// search on UncompressedOffset, stepped back one.
func (r *Reader) findEntry(offset int64) Entry {
	entries := r.idx.Entries
	i := sort.Search(len(entries), func(i int) bool {
		return entries[i].UncompressedOffset > uint64(offset)
	})
	if i == 0 {
		return entries[0]
	}
	return entries[i-1]
}

// backingReader adapts a backing.RandomReader into an io.Reader, feeding
// the deflate decoder in 16 KiB chunks as it consumes them.
type backingReader struct {
	f   backing.RandomReader
	pos int64
	end int64
}

func (b *backingReader) Read(p []byte) (int, error) {
	if b.pos >= b.end {
		return 0, io.EOF
	}
	n := len(p)
	if n > readChunk {
		n = readChunk
	}
	if remain := b.end - b.pos; int64(n) > remain {
		n = int(remain)
	}
	got, err := b.f.Pread(p[:n], b.pos)
	if got > 0 {
		b.pos += int64(got)
	}
	if err != nil {
		return got, err
	}
	return got, nil
}

// ReadAt decompresses count = len(buf) bytes of the uncompressed stream
// starting at offset, resuming from the nearest access point rather than
// the stream origin. Because the uncompressed stream length generally
// isn't known up front, a read that runs off the end of the gzip stream
// returns (n, io.EOF) with n < len(buf); a malformed deflate stream
// returns (n, err) with a non-io.EOF err.
func (r *Reader) ReadAt(buf []byte, offset int64) (int, error) {
	if offset < 0 {
		return 0, fmt.Errorf("rgzip: negative offset")
	}
	if len(buf) == 0 {
		return 0, nil
	}

	entry := r.findEntry(offset)

	startByte := int64(entry.CompressedOffset)
	var primeByte byte
	if entry.Bits > 0 {
		startByte--
		var b [1]byte
		if _, err := r.gz.Pread(b[:], startByte); err != nil {
			return 0, fmt.Errorf("rgzip: reading prime byte: %w", err)
		}
		primeByte = b[0]
		startByte++
	}

	src := &backingReader{f: r.gz, pos: startByte, end: r.gzSize}
	d := deflate.NewRawDecoder(src)
	if entry.Bits > 0 {
		d.Prime(primeByte, int(entry.Bits))
	}
	d.SetDictionary(entry.Window[:])

	skip := offset - int64(entry.UncompressedOffset)
	if skip < 0 {
		return 0, fmt.Errorf("rgzip: access point past requested offset")
	}

	var skipped, collected int64
	want := int64(len(buf))
	d.OnEmit(func(b byte) bool {
		if skipped < skip {
			skipped++
			return false
		}
		buf[collected] = b
		collected++
		return collected >= want
	})

	err := d.Run()
	if collected >= want {
		return int(collected), nil
	}
	if err != nil {
		return int(collected), fmt.Errorf("rgzip: inflate failed after %d bytes: %w", collected, err)
	}
	return int(collected), io.EOF
}
