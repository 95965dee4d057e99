package zfile

import (
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"

	"github.com/blocklayer/zfile/backing"
	"github.com/blocklayer/zfile/codec"
	"github.com/blocklayer/zfile/crc32c"
)

// crcSalt is NOI_WELL_KNOWN_PRIME, the seed every per-block CRC32C is
// extended from rather than computed cold.
const crcSalt uint32 = 100007

// checksumRetries is how many times a failed block checksum triggers a
// punch-hole-and-reread before the reader gives up.
const checksumRetries = 3

// Reader is a random-access, read-only view over a sealed ZFile container.
type Reader struct {
	file   backing.RandomReader
	closer io.Closer

	header HeaderTrailer
	jt     *JumpTable
	codec  codec.Codec
	verify bool

	brPool sync.Pool
}

// OpenRO opens a sealed container for reading. verify enables per-block
// checksum validation and the punch-hole-and-retry recovery path; closer,
// if non-nil, is invoked by Close (the "ownership" parameter of
// open_ro).
func OpenRO(f backing.RandomReader, verify bool, closer io.Closer) (*Reader, error) {
	r := &Reader{file: f, verify: verify, closer: closer}

	if err := r.load(); err != nil {
		if !verify {
			return nil, err
		}
		st, statErr := f.Fstat()
		if statErr != nil {
			return nil, err
		}
		if fErr := f.Fallocate(0, st.Size); fErr != nil {
			return nil, err
		}
		if err := r.load(); err != nil {
			return nil, err
		}
	}

	return r, nil
}

func (r *Reader) load() error {
	headerBuf := make([]byte, RecordSize)
	if _, err := r.file.Pread(headerBuf, 0); err != nil {
		return newErr(ErrKindIO, "open-ro", ErrIO, fmt.Errorf("reading header: %w", err))
	}

	var header HeaderTrailer
	if err := header.UnmarshalBinary(headerBuf); err != nil {
		return err
	}
	if err := header.validateDataFile(true); err != nil {
		return err
	}

	trailer := header
	if !header.Flags.Has(FlagHeaderOverwrite) {
		st, err := r.file.Fstat()
		if err != nil {
			return newErr(ErrKindIO, "open-ro", ErrIO, fmt.Errorf("stat: %w", err))
		}
		if st.Size < RecordSize {
			return newErr(ErrKindBadFormat, "open-ro", ErrBadFormat, fmt.Errorf("file too small to hold a trailer"))
		}

		trailerBuf := make([]byte, RecordSize)
		if _, err := r.file.Pread(trailerBuf, st.Size-RecordSize); err != nil {
			return newErr(ErrKindIO, "open-ro", ErrIO, fmt.Errorf("reading trailer: %w", err))
		}
		trailer = HeaderTrailer{}
		if err := trailer.UnmarshalBinary(trailerBuf); err != nil {
			return err
		}
		if err := trailer.validateDataFile(false); err != nil {
			return err
		}
	}

	if trailer.Flags.Has(FlagIdxCompressed) {
		return newErr(ErrKindBadFormat, "open-ro", ErrBadFormat, fmt.Errorf("compressed index is not supported"))
	}

	c, ok := codec.ByID(header.Options.CodecID)
	if !ok {
		return newErr(ErrKindBadFormat, "open-ro", ErrBadFormat, fmt.Errorf("unregistered codec id %d", header.Options.CodecID))
	}

	raw := make([]byte, trailer.IndexCount*4)
	if len(raw) > 0 {
		if _, err := r.file.Pread(raw, int64(trailer.IndexOffset)); err != nil {
			return newErr(ErrKindIO, "open-ro", ErrIO, fmt.Errorf("reading index: %w", err))
		}
	}

	if crc32c.Checksum(raw) != trailer.IndexCRC {
		return newErr(ErrKindBadIndex, "open-ro", ErrBadIndex, fmt.Errorf("index_crc mismatch"))
	}

	lengths := make([]uint32, trailer.IndexCount)
	for i := range lengths {
		lengths[i] = leUint32(raw[i*4:])
	}

	overhead := uint32(0)
	if header.Options.Verify {
		overhead = 4
	}

	block0Offset := uint64(RecordSize)
	if header.Options.UseDict {
		block0Offset += uint64(header.Options.DictSize)
	}

	jt, err := BuildJumpTable(lengths, block0Offset, header.Options.BlockSize, overhead)
	if err != nil {
		return err
	}

	r.header = trailer
	r.header.Options = header.Options
	r.jt = jt
	r.codec = c
	r.brPool = sync.Pool{
		New: func() any {
			return NewBlockReader(r.file, r.jt, r.header.Options.BlockSize, overhead, DefaultScratchSize)
		},
	}
	return nil
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// OriginalSize is the total decompressed byte length of the container.
func (r *Reader) OriginalSize() int64 { return int64(r.header.OriginalSize) }

// Fstat reports the logical (decompressed) size, matching the semantics a
// caller of a regular file would expect.
func (r *Reader) Fstat() (backing.Stat, error) {
	return backing.Stat{Size: r.OriginalSize()}, nil
}

// ReadAt implements io.ReaderAt over the decompressed content.
func (r *Reader) ReadAt(buf []byte, offset int64) (int, error) {
	size := r.OriginalSize()
	if offset < 0 {
		return 0, newErr(ErrKindRangeExceeded, "pread", ErrRangeExceeded, fmt.Errorf("negative offset"))
	}
	if offset >= size {
		return 0, io.EOF
	}

	count := int64(len(buf))
	truncated := false
	if offset+count > size {
		color.Yellow(" pread [%d, %d) exceeds original size %d, clamped to %d bytes",
			offset, offset+count, size, size-offset)
		count = size - offset
		truncated = true
	}
	if count == 0 {
		return 0, io.EOF
	}

	brAny := r.brPool.Get()
	br := brAny.(*BlockReader)
	defer r.brPool.Put(br)

	br.Reset(offset, count)

	blockSize := int64(r.header.Options.BlockSize)
	var decScratch []byte
	var total int

	for {
		blk, ok, err := br.Next()
		if err != nil {
			return total, err
		}
		if !ok {
			break
		}

		if err := r.verifyBlock(br, &blk); err != nil {
			return total, err
		}

		destPos := int64(blk.Index)*blockSize + int64(blk.CopyBegin) - offset
		copyLen := blk.CopyEnd - blk.CopyBegin

		direct := blk.CopyBegin == 0 && int64(blk.CopyEnd) == blockSize && destPos+blockSize <= int64(len(buf))

		var n int
		if direct {
			n, err = r.codec.Decompress(blk.Payload, buf[destPos:destPos+blockSize])
			if err != nil {
				return total, newErr(ErrKindDecompress, "pread", ErrDecompressFail, err)
			}
		} else {
			if decScratch == nil {
				decScratch = make([]byte, blockSize)
			}
			n, err = r.codec.Decompress(blk.Payload, decScratch)
			if err != nil {
				return total, newErr(ErrKindDecompress, "pread", ErrDecompressFail, err)
			}
			end := copyLen
			if end > n-blk.CopyBegin {
				end = n - blk.CopyBegin
			}
			if end < 0 {
				end = 0
			}
			copy(buf[destPos:], decScratch[blk.CopyBegin:blk.CopyBegin+end])
			n = end
		}

		total += n
	}

	if truncated {
		return total, io.EOF
	}
	return total, nil
}

// verifyBlock checks a block's CRC (when verify is enabled), retrying with
// a punch-hole recovery attempt, the same policy pread retries use.
func (r *Reader) verifyBlock(br *BlockReader, blk *Block) error {
	if !r.verify || !blk.HasCRC {
		return nil
	}

	for attempt := 0; ; attempt++ {
		if crc32c.Salted(crcSalt, blk.Payload) == blk.CRC {
			return nil
		}
		if attempt >= checksumRetries {
			color.Red(" block %d failed checksum after %d retries", blk.Index, checksumRetries)
			return newErr(ErrKindChecksum, "pread", ErrChecksumFailed,
				fmt.Errorf("block %d failed checksum after %d retries", blk.Index, checksumRetries))
		}

		color.Yellow(" block %d checksum mismatch, punching hole and retrying (attempt %d/%d)",
			blk.Index, attempt+1, checksumRetries)
		off, length := blk.AbsRange()
		_ = r.file.Fallocate(off, int64(length))

		if err := br.Reload(blk); err != nil {
			return err
		}
	}
}

// VerifyAll walks the entire container, decompressing and (when enabled)
// checksumming every block, without producing output the caller keeps.
func (r *Reader) VerifyAll() error {
	size := r.OriginalSize()
	bufSize := int64(r.header.Options.BlockSize) * 16
	if bufSize <= 0 {
		bufSize = DefaultScratchSize
	}
	buf := make([]byte, bufSize)

	var offset int64
	for offset < size {
		n, err := r.ReadAt(buf, offset)
		offset += int64(n)
		if err != nil {
			if err == io.EOF {
				break
			}
			return err
		}
	}
	return nil
}

// Close releases the owned backing file handle, if any.
func (r *Reader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}
