package zfile

import (
	"encoding/binary"
	"fmt"

	"github.com/blocklayer/zfile/backing"
)

// DefaultScratchSize is the reference scratch buffer size BlockReader uses
// to amortize backing-store syscalls by coalescing consecutive blocks into
// one pread.
const DefaultScratchSize = 4 << 20

// Block is one compressed block intersecting a pread range.
type Block struct {
	Index int

	// Payload is the compressed bytes (excluding any trailing CRC),
	// pointing directly into the reader's scratch buffer.
	Payload []byte

	HasCRC bool
	CRC    uint32

	// CopyBegin/CopyEnd is the byte range of this block's *decompressed*
	// output that falls inside the caller's originally requested range.
	CopyBegin, CopyEnd int

	absOffset int64
	absLength int
}

// BlockReader iterates the compressed blocks covering a pread range,
// coalescing contiguous blocks into scratch-buffer-sized backing reads.
type BlockReader struct {
	backing   backing.RandomReader
	jt        *JumpTable
	blockSize uint32
	overhead  uint32

	scratch     []byte
	scratchBase uint64
	scratchLen  int

	readOffset, readEnd int64
	begin, end, cur      int
}

// NewBlockReader builds a BlockReader backed by r, indexed by jt. overhead
// is 4 when per-block CRC verification is enabled, else 0. scratchSize must
// be at least one block plus overhead; DefaultScratchSize is a reasonable
// default.
func NewBlockReader(r backing.RandomReader, jt *JumpTable, blockSize, overhead uint32, scratchSize int) *BlockReader {
	if scratchSize < int(blockSize+overhead) {
		scratchSize = int(blockSize + overhead)
	}
	return &BlockReader{
		backing:   r,
		jt:        jt,
		blockSize: blockSize,
		overhead:  overhead,
		scratch:   make([]byte, scratchSize),
	}
}

// Reset points the reader at the blocks covering [offset, offset+count).
func (br *BlockReader) Reset(offset, count int64) {
	br.readOffset = offset
	br.readEnd = offset + count
	br.begin = int(offset / int64(br.blockSize))
	br.end = int((offset+count-1)/int64(br.blockSize)) + 1
	br.cur = br.begin
	br.scratchLen = 0
}

// Next returns the next block in the range, or ok=false once exhausted.
func (br *BlockReader) Next() (blk Block, ok bool, err error) {
	if br.cur >= br.end {
		return Block{}, false, nil
	}

	i := br.cur
	off := br.jt.Offset(i)
	total := br.jt.Length(i)

	if !br.inWindow(off, total) {
		if err := br.load(i); err != nil {
			return Block{}, false, err
		}
	}

	pos := int(off - br.scratchBase)
	if pos < 0 || pos+int(total) > len(br.scratch) {
		return Block{}, false, newErr(ErrKindBadIndex, "block-reader-next", ErrBadIndex,
			fmt.Errorf("block %d offset would overflow scratch buffer", i))
	}

	compLen := int(total) - int(br.overhead)
	payload := br.scratch[pos : pos+compLen]

	var crc uint32
	hasCRC := br.overhead > 0
	if hasCRC {
		crc = binary.LittleEndian.Uint32(br.scratch[pos+compLen : pos+int(total)])
	}

	blockStart := int64(i) * int64(br.blockSize)
	cpBegin := int64(0)
	if br.readOffset > blockStart {
		cpBegin = br.readOffset - blockStart
	}
	cpEnd := int64(br.blockSize)
	if br.readEnd < blockStart+int64(br.blockSize) {
		cpEnd = br.readEnd - blockStart
	}

	blk = Block{
		Index:      i,
		Payload:    payload,
		HasCRC:     hasCRC,
		CRC:        crc,
		CopyBegin:  int(cpBegin),
		CopyEnd:    int(cpEnd),
		absOffset:  int64(off),
		absLength:  int(total),
	}

	br.cur++
	return blk, true, nil
}

// Reload re-preads a single block's backing bytes in place, used by the
// reader's checksum-failure retry path after punching a hole over the
// block's byte range.
func (br *BlockReader) Reload(b *Block) error {
	pos := int(uint64(b.absOffset) - br.scratchBase)
	if pos < 0 || pos+b.absLength > len(br.scratch) {
		return newErr(ErrKindBadIndex, "block-reader-reload", ErrBadIndex, fmt.Errorf("block no longer in scratch window"))
	}

	n, err := br.backing.Pread(br.scratch[pos:pos+b.absLength], b.absOffset)
	if err != nil || n != b.absLength {
		return newErr(ErrKindIO, "block-reader-reload", ErrIO, fmt.Errorf("short read: got %d want %d (cause: %v)", n, b.absLength, err))
	}

	compLen := b.absLength - int(br.overhead)
	b.Payload = br.scratch[pos : pos+compLen]
	if b.HasCRC {
		b.CRC = binary.LittleEndian.Uint32(br.scratch[pos+compLen : pos+b.absLength])
	}
	return nil
}

// AbsRange returns the backing-file byte range a block occupies, for
// callers that need to punch a hole over it.
func (b *Block) AbsRange() (offset int64, length int) { return b.absOffset, b.absLength }

func (br *BlockReader) inWindow(off, length uint64) bool {
	return br.scratchLen > 0 && off >= br.scratchBase && off+length <= br.scratchBase+uint64(br.scratchLen)
}

// load fills the scratch buffer starting at block i, coalescing as many
// subsequent blocks as fit within len(scratch) and the reader's range.
func (br *BlockReader) load(i int) error {
	off := br.jt.Offset(i)

	j := i
	for j+1 <= br.end && br.jt.Offset(j+1)-off <= uint64(len(br.scratch)) {
		j++
	}
	if j == i {
		return newErr(ErrKindBadIndex, "block-reader-load", ErrBadIndex,
			fmt.Errorf("block %d does not fit scratch buffer of size %d", i, len(br.scratch)))
	}

	readLen := br.jt.Offset(j) - off
	n, err := br.backing.Pread(br.scratch[:readLen], int64(off))
	if err != nil || uint64(n) != readLen {
		return newErr(ErrKindIO, "block-reader-load", ErrIO,
			fmt.Errorf("short read loading blocks [%d,%d): got %d want %d (cause: %v)", i, j, n, readLen, err))
	}

	br.scratchBase = off
	br.scratchLen = int(readLen)
	return nil
}
