package zfile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/blocklayer/zfile/backing"
	"github.com/blocklayer/zfile/crc32c"
)

// Compress is the one-shot batch driver: it never constructs a Builder, but
// reads src in codec-batch-sized chunks and writes dest a container
// byte-identical to what Builder/MultiBuilder would produce for the same
// content and options.
func Compress(src io.Reader, dest backing.SequentialWriter, opts BuildOptions) error {
	if err := opts.validate(); err != nil {
		return err
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
		return err
	}
	if _, err := dest.Write(hb); err != nil {
		return newErr(ErrKindIO, "batch-compress", ErrIO, err)
	}

	nbatch := opts.Codec.NBatch()
	if nbatch < 1 {
		nbatch = 1
	}
	blockSize := int(opts.BlockSize)
	readBuf := make([]byte, nbatch*blockSize)

	var lengths []uint32
	var moffset = uint64(RecordSize)
	var totalWritten uint64

	dsts := make([][]byte, nbatch)
	for i := range dsts {
		dsts[i] = make([]byte, opts.Codec.CompressBound(blockSize)+4)
	}

	for {
		n, rerr := io.ReadFull(src, readBuf)
		done := false
		switch {
		case rerr == nil:
		case errors.Is(rerr, io.ErrUnexpectedEOF) || errors.Is(rerr, io.EOF):
			done = true
		default:
			return newErr(ErrKindIO, "batch-compress", ErrIO, fmt.Errorf("reading source: %w", rerr))
		}

		if n > 0 {
			totalWritten += uint64(n)

			srcs := make([][]byte, 0, nbatch)
			for off := 0; off < n; off += blockSize {
				end := off + blockSize
				if end > n {
					end = n
				}
				srcs = append(srcs, readBuf[off:end])
			}
			for len(dsts) < len(srcs) {
				dsts = append(dsts, make([]byte, opts.Codec.CompressBound(blockSize)+4))
			}

			sizes, err := opts.Codec.CompressBatch(srcs, dsts[:len(srcs)])
			if err != nil {
				return newErr(ErrKindDecompress, "batch-compress", ErrDecompressFail, fmt.Errorf("compress_batch: %w", err))
			}

			for i, size := range sizes {
				payload := dsts[i][:size]
				if opts.Verify {
					crc := crc32c.Salted(crcSalt, payload)
					var crcBytes [4]byte
					binary.LittleEndian.PutUint32(crcBytes[:], crc)
					payload = append(dsts[i][:size:size], crcBytes[:]...)
				}
				if _, err := dest.Write(payload); err != nil {
					return newErr(ErrKindIO, "batch-compress", ErrIO, err)
				}
				lengths = append(lengths, uint32(len(payload)))
				moffset += uint64(len(payload))
			}
		}

		if done {
			break
		}
	}

	indexOffset := moffset
	raw := make([]byte, len(lengths)*4)
	for i, l := range lengths {
		binary.LittleEndian.PutUint32(raw[i*4:], l)
	}
	if len(raw) > 0 {
		if _, err := dest.Write(raw); err != nil {
			return newErr(ErrKindIO, "batch-compress", ErrIO, err)
		}
	}
	moffset += uint64(len(raw))

	trailer := HeaderTrailer{
		Flags:        FlagIsDataFile | FlagIsSealed | FlagDigestEnabled,
		IndexOffset:  indexOffset,
		IndexCount:   uint64(len(lengths)),
		OriginalSize: totalWritten,
		IndexCRC:     crc32c.Checksum(raw),
		Options: CompressOptions{
			CodecID:   opts.Codec.ID(),
			BlockSize: opts.BlockSize,
			Verify:    opts.Verify,
		},
	}
	tb, err := trailer.MarshalBinary()
	if err != nil {
		return err
	}
	if _, err := dest.Write(tb); err != nil {
		return newErr(ErrKindIO, "batch-compress", ErrIO, err)
	}
	moffset += RecordSize

	if opts.OverwriteHeader {
		header := trailer
		header.Flags |= FlagIsHeader | FlagHeaderOverwrite
		headerOut, err := header.MarshalBinary()
		if err != nil {
			return err
		}
		if _, err := dest.Pwrite(headerOut, 0); err != nil {
			return newErr(ErrKindIO, "batch-compress", ErrIO, err)
		}
	}

	return dest.Close()
}
