package zfile

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/blocklayer/zfile/bits"
	"github.com/blocklayer/zfile/crc32c"
)

const (
	// RecordSize is the fixed on-disk size of a HeaderTrailer record.
	RecordSize = 512

	// headerSizeUsed is the number of leading bytes of the record that are
	// actually populated; the rest is reserved for future use.
	headerSizeUsed = 96
)

// magic0 is the fixed "ZFile\0\1" literal, padded to 8 bytes.
var magic0 = [8]byte{'Z', 'F', 'i', 'l', 'e', 0, 1, 0}

// magic1 is a fixed, constant UUID shared by every ZFile ever written by
// this package — not a per-file identifier, a format fingerprint.
var magic1 = uuid.MustParse("7b9f0a2e-9c1d-4e3a-8b6f-2a1d5c7e9f10")

// Flags is the HeaderTrailer flag bitfield.
type Flags uint64

const (
	FlagIsHeader Flags = 1 << iota
	FlagIsDataFile
	FlagIsSealed
	FlagHeaderOverwrite
	FlagDigestEnabled
	FlagIdxCompressed
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// CompressOptions records how the container's blocks were produced, so a
// reader opened cold (with no builder around) knows which codec and block
// size to use.
type CompressOptions struct {
	CodecID   uint8
	BlockSize uint32
	Verify    bool
	UseDict   bool
	DictSize  uint32
}

// HeaderTrailer is the 512-byte framing record written at both ends of a
// ZFile (offset 0 as the header, EOF-512 as the trailer; when
// HEADER_OVERWRITE is set they are byte-identical except for the IS_HEADER
// and HEADER_OVERWRITE bits, which only the header carries, and the digest).
type HeaderTrailer struct {
	Flags Flags

	IndexOffset  uint64
	IndexCount   uint64
	OriginalSize uint64
	IndexCRC     uint32

	Options CompressOptions
}

// MarshalBinary renders the record to its fixed 512-byte wire form. The
// digest field is computed over the full record with itself zeroed, then
// patched in — only when FlagDigestEnabled is set; otherwise it is left
// zero, a "verification bypassed" backward-compat mode.
func (h *HeaderTrailer) MarshalBinary() ([]byte, error) {
	buf := make([]byte, RecordSize)
	bw := bits.NewEncodeBuffer(buf, binary.LittleEndian)

	bw.Write(magic0[:])
	bw.PutUUID(magic1)
	bw.PutUint32(headerSizeUsed)

	digestPos := bw.Position()
	bw.PutUint32(0) // digest placeholder, patched below

	bw.PutUint64(uint64(h.Flags))
	bw.PutUint64(h.IndexOffset)
	bw.PutUint64(h.IndexCount)
	bw.PutUint64(h.OriginalSize)
	bw.PutUint32(h.IndexCRC)
	bw.PutUint32(0) // reserved

	bw.WriteByte(h.Options.CodecID)
	bw.PutUint32(h.Options.BlockSize)
	bw.PutBool(h.Options.Verify)
	bw.PutBool(h.Options.UseDict)
	bw.PutUint32(h.Options.DictSize)

	if bw.Position() > headerSizeUsed {
		return nil, fmt.Errorf("zfile: header encoding overflowed the %d populated bytes", headerSizeUsed)
	}
	bw.EmptyBytes(headerSizeUsed - bw.Position())
	bw.EmptyBytes(RecordSize - bw.Position())

	data := bw.Bytes()

	if h.Flags.Has(FlagDigestEnabled) {
		digest := crc32c.Checksum(data)
		binary.LittleEndian.PutUint32(data[digestPos:], digest)
	}

	return data, nil
}

// UnmarshalBinary parses and validates a 512-byte record: magic, flags, and
// (when FlagDigestEnabled is set) the digest. Digest verification is
// bypassed with a warning when the flag is clear.
func (h *HeaderTrailer) UnmarshalBinary(buf []byte) error {
	if len(buf) != RecordSize {
		return newErr(ErrKindBadFormat, "unmarshal-header", ErrBadFormat,
			fmt.Errorf("record is %d bytes, want %d", len(buf), RecordSize))
	}

	r := bits.NewReader(bytes.NewReader(buf), binary.LittleEndian)

	var gotMagic0 [8]byte
	if err := r.ReadBytes(8, gotMagic0[:]); err != nil || gotMagic0 != magic0 {
		return newErr(ErrKindBadFormat, "unmarshal-header", ErrBadFormat, fmt.Errorf("magic0 mismatch"))
	}

	gotMagic1, err := r.ReadUUID()
	if err != nil || gotMagic1 != magic1 {
		return newErr(ErrKindBadFormat, "unmarshal-header", ErrBadFormat, fmt.Errorf("magic1 mismatch"))
	}

	recordSize := r.MustReadU32()
	if recordSize != headerSizeUsed {
		return newErr(ErrKindBadFormat, "unmarshal-header", ErrBadFormat,
			fmt.Errorf("record_size = %d, want %d", recordSize, headerSizeUsed))
	}

	digestField := r.MustReadU32()

	h.Flags = Flags(r.MustReadU64())
	h.IndexOffset = r.MustReadU64()
	h.IndexCount = r.MustReadU64()
	h.OriginalSize = r.MustReadU64()
	h.IndexCRC = r.MustReadU32()
	r.MustReadU32() // reserved

	h.Options.CodecID = r.MustReadU8()
	h.Options.BlockSize = r.MustReadU32()
	h.Options.Verify = r.MustReadBool()
	h.Options.UseDict = r.MustReadBool()
	h.Options.DictSize = r.MustReadU32()

	const digestFieldOffset = 8 + 16 + 4 // magic0 + magic1 + record_size

	if h.Flags.Has(FlagDigestEnabled) {
		zeroed := append([]byte(nil), buf...)
		binary.LittleEndian.PutUint32(zeroed[digestFieldOffset:], 0)
		want := crc32c.Checksum(zeroed)
		if want != digestField {
			return newErr(ErrKindBadFormat, "unmarshal-header", ErrBadFormat,
				fmt.Errorf("digest mismatch: record=%x computed=%x", digestField, want))
		}
	} else {
		color.Yellow(" record digest not enabled, skipping digest verification")
	}

	return nil
}

// validateDataFile returns an error unless the record's flags are consistent
// with an open-for-read ZFile: data file, sealed, and IS_HEADER set exactly
// when wantHeader is true.
func (h *HeaderTrailer) validateDataFile(wantHeader bool) error {
	if !h.Flags.Has(FlagIsDataFile) {
		return newErr(ErrKindBadFormat, "validate-header", ErrBadFormat, fmt.Errorf("index-only record used as data file"))
	}
	if !h.Flags.Has(FlagIsSealed) {
		return newErr(ErrKindBadFormat, "validate-header", ErrBadFormat, fmt.Errorf("container is not sealed"))
	}
	if h.Flags.Has(FlagIsHeader) != wantHeader {
		return newErr(ErrKindBadFormat, "validate-header", ErrBadFormat, fmt.Errorf("IS_HEADER bit mismatch"))
	}
	return nil
}
