package zfile

import (
	"encoding/binary"
	"fmt"

	"github.com/fatih/color"

	"github.com/blocklayer/zfile/backing"
	"github.com/blocklayer/zfile/codec"
	"github.com/blocklayer/zfile/crc32c"
)

// BuildOptions configures a Builder or MultiBuilder — a plain struct of
// knobs passed by value, the way a plain config struct is
// built, rather than functional options.
type BuildOptions struct {
	BlockSize       uint32
	Codec           codec.Codec
	Verify          bool
	OverwriteHeader bool

	// Workers is read only by NewMultiBuilder; a single-worker Builder
	// ignores it.
	Workers int
}

func (o BuildOptions) validate() error {
	if o.Codec == nil {
		return fmt.Errorf("zfile: BuildOptions.Codec is required")
	}
	if o.BlockSize == 0 {
		return fmt.Errorf("zfile: BuildOptions.BlockSize must be positive")
	}
	return nil
}

func (o BuildOptions) overhead() uint32 {
	if o.Verify {
		return 4
	}
	return 0
}

// Builder is the single-worker streaming writer: buffer, compress, append,
// record length.
type Builder struct {
	file backing.SequentialWriter
	opts BuildOptions

	moffset uint64

	reservoir    []byte
	reservoirLen int

	outBuf []byte
	lengths []uint32

	totalWritten uint64
	closed       bool
}

// NewBuilder writes the placeholder header and returns a Builder ready to
// accept sequential writes.
func NewBuilder(f backing.SequentialWriter, opts BuildOptions) (*Builder, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	header := HeaderTrailer{
		Flags: FlagIsHeader | FlagIsDataFile | FlagIsSealed,
		Options: CompressOptions{
			CodecID:   opts.Codec.ID(),
			BlockSize: opts.BlockSize,
			Verify:    opts.Verify,
		},
	}
	hb, err := header.MarshalBinary()
	if err != nil {
		return nil, err
	}
	if _, err := f.Write(hb); err != nil {
		return nil, newErr(ErrKindIO, "new-builder", ErrIO, err)
	}

	return &Builder{
		file:      f,
		opts:      opts,
		moffset:   RecordSize,
		reservoir: make([]byte, opts.BlockSize),
		outBuf:    make([]byte, opts.Codec.CompressBound(int(opts.BlockSize))+4),
	}, nil
}

// Write implements io.Writer over the logical (decompressed) content.
func (b *Builder) Write(p []byte) (int, error) {
	total := len(p)
	b.totalWritten += uint64(total)

	blockSize := int(b.opts.BlockSize)

	if b.reservoirLen > 0 {
		space := blockSize - b.reservoirLen
		if len(p) < space {
			copy(b.reservoir[b.reservoirLen:], p)
			b.reservoirLen += len(p)
			return total, nil
		}
		copy(b.reservoir[b.reservoirLen:], p[:space])
		p = p[space:]
		if err := b.emit(b.reservoir[:blockSize]); err != nil {
			return 0, err
		}
		b.reservoirLen = 0
	}

	for len(p) >= blockSize {
		if err := b.emit(p[:blockSize]); err != nil {
			return 0, err
		}
		p = p[blockSize:]
	}

	if len(p) > 0 {
		copy(b.reservoir, p)
		b.reservoirLen = len(p)
	}

	return total, nil
}

// emit compresses one block, appends the optional salted CRC, writes it to
// the backing file, and records its length.
func (b *Builder) emit(block []byte) error {
	n, err := b.opts.Codec.Compress(block, b.outBuf)
	if err != nil {
		return newErr(ErrKindDecompress, "builder-emit", ErrDecompressFail, fmt.Errorf("compress: %w", err))
	}

	payload := b.outBuf[:n]
	if b.opts.Verify {
		crc := crc32c.Salted(crcSalt, payload)
		binary.LittleEndian.PutUint32(b.outBuf[n:n+4], crc)
		payload = b.outBuf[:n+4]
	}

	if _, err := b.file.Write(payload); err != nil {
		return newErr(ErrKindIO, "builder-emit", ErrIO, err)
	}

	b.lengths = append(b.lengths, uint32(len(payload)))
	b.moffset += uint64(len(payload))
	return nil
}

// Close flushes any partial reservoir block, appends the lengths array and
// trailer, and (when OverwriteHeader is set) clones the trailer into the
// header slot so a reader needs only the head of the file.
func (b *Builder) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true

	if b.reservoirLen > 0 {
		if err := b.emit(b.reservoir[:b.reservoirLen]); err != nil {
			return err
		}
		b.reservoirLen = 0
	}

	indexOffset := b.moffset
	raw := make([]byte, len(b.lengths)*4)
	for i, l := range b.lengths {
		binary.LittleEndian.PutUint32(raw[i*4:], l)
	}
	if len(raw) > 0 {
		if _, err := b.file.Write(raw); err != nil {
			return newErr(ErrKindIO, "builder-close", ErrIO, err)
		}
	}
	b.moffset += uint64(len(raw))

	trailer := HeaderTrailer{
		Flags:        FlagIsDataFile | FlagIsSealed | FlagDigestEnabled,
		IndexOffset:  indexOffset,
		IndexCount:   uint64(len(b.lengths)),
		OriginalSize: b.totalWritten,
		IndexCRC:     crc32c.Checksum(raw),
		Options: CompressOptions{
			CodecID:   b.opts.Codec.ID(),
			BlockSize: b.opts.BlockSize,
			Verify:    b.opts.Verify,
		},
	}

	tb, err := trailer.MarshalBinary()
	if err != nil {
		return err
	}
	if _, err := b.file.Write(tb); err != nil {
		return newErr(ErrKindIO, "builder-close", ErrIO, err)
	}
	b.moffset += RecordSize

	if b.opts.OverwriteHeader {
		header := trailer
		header.Flags |= FlagIsHeader | FlagHeaderOverwrite
		hb, err := header.MarshalBinary()
		if err != nil {
			return err
		}
		if _, err := b.file.Pwrite(hb, 0); err != nil {
			return newErr(ErrKindIO, "builder-close", ErrIO, err)
		}
	}

	compressedSize := indexOffset - RecordSize
	var ratio float64
	if b.totalWritten > 0 {
		ratio = float64(compressedSize) / float64(b.totalWritten)
	}
	color.Green(" sealed container [blocks=%d] %d -> %d [%.2f%%]",
		len(b.lengths), b.totalWritten, compressedSize, ratio*100.0)

	return b.file.Close()
}
