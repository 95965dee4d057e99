// Package rgzip implements the "ddgzidx" sidecar index format: a set of
// deflate restart points recorded alongside an unmodified gzip file so a
// pread-style reader can decompress an arbitrary byte range without
// starting from the stream origin.
package rgzip

import (
	"encoding/binary"
	"fmt"

	"github.com/blocklayer/zfile/crc32c"
	"github.com/blocklayer/zfile/rgzip/deflate"
)

const (
	magic         = "ddgzidx\x00"
	formatVersion = 1

	windowSize = deflate.WindowSize

	headerSize = 8 + 4 + 8 + 4 + 4 + 8 + 8 + 4 // magic,version,span,winsize,entrysize,count,gzipsize,crc
	entrySize  = 8 + 8 + 1 + windowSize        // uncompressed_offset, compressed_offset, bits, window

	minSpan = 100
)

// Entry is one deflate restart point.
type Entry struct {
	UncompressedOffset uint64
	CompressedOffset   uint64
	Bits               uint8
	Window             [windowSize]byte
}

// Index is a fully loaded "ddgzidx" sidecar: an access point at the stream
// origin, then one at a deflate block boundary whenever at least Span
// uncompressed bytes have passed since the previous one. No synthetic
// entry is added at the stream's end.
type Index struct {
	Span     uint64
	GzipSize uint64
	Entries  []Entry
}

func (idx *Index) header(entryCount int) []byte {
	h := make([]byte, headerSize)
	copy(h, magic)
	off := 8
	binary.LittleEndian.PutUint32(h[off:], formatVersion)
	off += 4
	binary.LittleEndian.PutUint64(h[off:], idx.Span)
	off += 8
	binary.LittleEndian.PutUint32(h[off:], windowSize)
	off += 4
	binary.LittleEndian.PutUint32(h[off:], entrySize)
	off += 4
	binary.LittleEndian.PutUint64(h[off:], uint64(entryCount))
	off += 8
	binary.LittleEndian.PutUint64(h[off:], idx.GzipSize)
	off += 8
	// crc field (last 4 bytes) left zero; filled in by caller after CRC.
	return h
}

// MarshalBinary serializes the index to the "ddgzidx" wire format:
// header, then entries in ascending uncompressed_offset order.
func (idx *Index) MarshalBinary() ([]byte, error) {
	h := idx.header(len(idx.Entries))
	crc := crc32c.Checksum(h)
	binary.LittleEndian.PutUint32(h[headerSize-4:], crc)

	out := make([]byte, 0, headerSize+len(idx.Entries)*entrySize)
	out = append(out, h...)
	for _, e := range idx.Entries {
		var eb [entrySize]byte
		binary.LittleEndian.PutUint64(eb[0:], e.UncompressedOffset)
		binary.LittleEndian.PutUint64(eb[8:], e.CompressedOffset)
		eb[16] = e.Bits
		copy(eb[17:], e.Window[:])
		out = append(out, eb[:]...)
	}
	return out, nil
}

// UnmarshalBinary parses a "ddgzidx" blob produced by MarshalBinary.
func (idx *Index) UnmarshalBinary(b []byte) error {
	if len(b) < headerSize {
		return fmt.Errorf("rgzip: index too small to hold a header")
	}
	if string(b[0:8]) != magic {
		return fmt.Errorf("rgzip: bad index magic")
	}
	off := 8
	version := binary.LittleEndian.Uint32(b[off:])
	off += 4
	if version != formatVersion {
		return fmt.Errorf("rgzip: unsupported index version %d", version)
	}
	span := binary.LittleEndian.Uint64(b[off:])
	off += 8
	winSize := binary.LittleEndian.Uint32(b[off:])
	off += 4
	if winSize != windowSize {
		return fmt.Errorf("rgzip: unsupported window size %d", winSize)
	}
	entrySz := binary.LittleEndian.Uint32(b[off:])
	off += 4
	count := binary.LittleEndian.Uint64(b[off:])
	off += 8
	gzipSize := binary.LittleEndian.Uint64(b[off:])
	off += 8
	wantCRC := binary.LittleEndian.Uint32(b[off:])

	hdr := make([]byte, headerSize)
	copy(hdr, b[:headerSize])
	binary.LittleEndian.PutUint32(hdr[headerSize-4:], 0)
	if crc32c.Checksum(hdr) != wantCRC {
		return fmt.Errorf("rgzip: index header checksum mismatch")
	}
	if entrySz != entrySize {
		return fmt.Errorf("rgzip: unsupported entry size %d", entrySz)
	}

	need := headerSize + int(count)*entrySize
	if len(b) < need {
		return fmt.Errorf("rgzip: index truncated: have %d bytes, want %d", len(b), need)
	}

	entries := make([]Entry, count)
	p := headerSize
	for i := range entries {
		entries[i].UncompressedOffset = binary.LittleEndian.Uint64(b[p:])
		entries[i].CompressedOffset = binary.LittleEndian.Uint64(b[p+8:])
		entries[i].Bits = b[p+16]
		copy(entries[i].Window[:], b[p+17:p+entrySize])
		p += entrySize
	}

	idx.Span = span
	idx.GzipSize = gzipSize
	idx.Entries = entries
	return nil
}
