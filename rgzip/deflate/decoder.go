package deflate

import (
	"fmt"
	"io"
)

const (
	gzipMagic0  = 0x1f
	gzipMagic1  = 0x8b
	gzipDeflate = 8

	flagFTEXT    = 1 << 0
	flagFHCRC    = 1 << 1
	flagFEXTRA   = 1 << 2
	flagFNAME    = 1 << 3
	flagFCOMMENT = 1 << 4
)

// BoundaryFunc is invoked once per fully decoded deflate block, giving the
// caller the gzip-stream-relative byte position (bytePos, bitsConsumed)
// immediately at the boundary, the uncompressed byte count produced so
// far, and whether this was the final block of the stream.
type BoundaryFunc func(bytePos int64, bitsConsumed int, totalOut int64, final bool)

// EmitFunc receives one decompressed byte and returns true to stop
// decoding early (used to bound output to a caller-requested byte range
// without buffering the whole stream).
type EmitFunc func(b byte) (stop bool)

// Decoder is a single-use RFC 1951 inflator instrumented with block
// boundary and bit-priming hooks. Construct one with NewGzipDecoder (full
// gzip stream, header included) or NewRawDecoder (bare deflate stream,
// used to resume mid-file from a GZ index entry).
type Decoder struct {
	br  bitReader
	win window

	onBoundary BoundaryFunc
	emit       EmitFunc

	totalOut int64
	stopped  bool
}

// NewRawDecoder wraps r as a raw deflate stream (no gzip/zlib framing),
// ready for Prime and SetDictionary to seed a mid-stream resume.
func NewRawDecoder(r io.Reader) *Decoder {
	d := &Decoder{}
	d.br.src = newCountingReader(r)
	return d
}

// NewGzipDecoder parses and discards a gzip member header from r, leaving
// the decoder positioned at the start of the raw deflate stream. BytePos
// after this call reflects the whole-file byte offset where deflate data
// begins.
func NewGzipDecoder(r io.Reader) (*Decoder, error) {
	d := &Decoder{}
	d.br.src = newCountingReader(r)
	if err := d.skipGzipHeader(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Decoder) skipGzipHeader() error {
	hdr, err := d.br.readByteAligned(10)
	if err != nil {
		return fmt.Errorf("deflate: reading gzip header: %w", err)
	}
	if hdr[0] != gzipMagic0 || hdr[1] != gzipMagic1 {
		return fmt.Errorf("deflate: not a gzip stream")
	}
	if hdr[2] != gzipDeflate {
		return fmt.Errorf("deflate: unsupported gzip compression method %d", hdr[2])
	}
	flg := hdr[3]

	if flg&flagFEXTRA != 0 {
		xlenBuf, err := d.br.readByteAligned(2)
		if err != nil {
			return err
		}
		xlen := int(xlenBuf[0]) | int(xlenBuf[1])<<8
		if _, err := d.br.readByteAligned(xlen); err != nil {
			return err
		}
	}
	if flg&flagFNAME != 0 {
		if err := d.skipCString(); err != nil {
			return err
		}
	}
	if flg&flagFCOMMENT != 0 {
		if err := d.skipCString(); err != nil {
			return err
		}
	}
	if flg&flagFHCRC != 0 {
		if _, err := d.br.readByteAligned(2); err != nil {
			return err
		}
	}
	return nil
}

func (d *Decoder) skipCString() error {
	for {
		b, err := d.br.readByteAligned(1)
		if err != nil {
			return err
		}
		if b[0] == 0 {
			return nil
		}
	}
}

// OnBoundary installs a hook called after every fully decoded block.
func (d *Decoder) OnBoundary(f BoundaryFunc) { d.onBoundary = f }

// OnEmit installs the per-byte output sink/stop predicate.
func (d *Decoder) OnEmit(f EmitFunc) { d.emit = f }

// Prime seeds the bit reader with the unconsumed high bits of a byte the
// caller already holds (normally read via pread at compressed_offset-1),
// letting decode resume at a sub-byte boundary.
func (d *Decoder) Prime(b byte, bitsAlreadyUsed int) { d.br.prime(b, bitsAlreadyUsed) }

// SetDictionary installs dict (up to WindowSize bytes) as the decoder's
// back-reference history, as a GZ index entry's window would be used.
func (d *Decoder) SetDictionary(dict []byte) { d.win.setPreset(dict) }

// BytePos is the gzip-stream-relative byte offset the reader currently
// sits at (see bitReader.bytePos).
func (d *Decoder) BytePos() int64 { return d.br.bytePos() }

// BitsConsumed reports how many bits of the byte at BytePos-1 have
// already been consumed.
func (d *Decoder) BitsConsumed() int { return d.br.bitsConsumed() }

// TotalOut is the number of decompressed bytes produced so far.
func (d *Decoder) TotalOut() int64 { return d.totalOut }

// Window returns a snapshot of the last WindowSize bytes produced.
func (d *Decoder) Window() [WindowSize]byte { return d.win.snapshot() }

func (d *Decoder) output(b byte) {
	d.win.put(b)
	d.totalOut++
	if d.emit != nil && d.emit(b) {
		d.stopped = true
	}
}

// Run decodes blocks until the stream's final block completes, the emit
// callback requests a stop, or an error occurs.
func (d *Decoder) Run() error {
	for {
		final, err := d.decodeOneBlock()
		if err != nil {
			return err
		}
		if d.onBoundary != nil && !d.stopped {
			d.onBoundary(d.br.bytePos(), d.br.bitsConsumed(), d.totalOut, final)
		}
		if d.stopped || final {
			return nil
		}
	}
}

func (d *Decoder) decodeOneBlock() (final bool, err error) {
	finalBit, err := d.br.readBits(1)
	if err != nil {
		return false, err
	}
	btype, err := d.br.readBits(2)
	if err != nil {
		return false, err
	}

	switch btype {
	case 0:
		if err := d.decodeStored(); err != nil {
			return false, err
		}
	case 1:
		if err := d.decodeHuffmanBlock(fixedLit, fixedDist); err != nil {
			return false, err
		}
	case 2:
		lit, dist, err := readDynamicTables(&d.br)
		if err != nil {
			return false, err
		}
		if err := d.decodeHuffmanBlock(lit, dist); err != nil {
			return false, err
		}
	default:
		return false, fmt.Errorf("deflate: invalid block type 3")
	}
	return finalBit == 1, nil
}

func (d *Decoder) decodeStored() error {
	lenBuf, err := d.br.readByteAligned(4)
	if err != nil {
		return err
	}
	length := int(lenBuf[0]) | int(lenBuf[1])<<8
	nlen := int(lenBuf[2]) | int(lenBuf[3])<<8
	if length^nlen != 0xffff {
		return fmt.Errorf("deflate: stored block length check failed")
	}
	data, err := d.br.readByteAligned(length)
	if err != nil {
		return err
	}
	for _, b := range data {
		d.output(b)
		if d.stopped {
			return nil
		}
	}
	return nil
}

func (d *Decoder) decodeHuffmanBlock(lit, dist *huffman) error {
	for {
		sym, err := lit.decode(&d.br)
		if err != nil {
			return err
		}
		if sym < 256 {
			d.output(byte(sym))
			if d.stopped {
				return nil
			}
			continue
		}
		if sym == 256 {
			return nil
		}

		li := sym - 257
		if li < 0 || li >= len(lengthBase) {
			return fmt.Errorf("deflate: invalid length symbol %d", sym)
		}
		extra, err := d.br.readBits(lengthExtra[li])
		if err != nil {
			return err
		}
		length := lengthBase[li] + int(extra)

		distSym, err := dist.decode(&d.br)
		if err != nil {
			return err
		}
		if distSym < 0 || distSym >= len(distBase) {
			return fmt.Errorf("deflate: invalid distance symbol %d", distSym)
		}
		distExtraBits, err := d.br.readBits(distExtra[distSym])
		if err != nil {
			return err
		}
		distance := distBase[distSym] + int(distExtraBits)

		for i := 0; i < length; i++ {
			b := d.win.at(distance)
			d.output(b)
			if d.stopped {
				return nil
			}
		}
	}
}
