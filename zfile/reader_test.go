package zfile

import (
	"bytes"
	"encoding/binary"
	"io"
	"math/rand"
	"testing"

	"github.com/blocklayer/zfile/backing"
	"github.com/blocklayer/zfile/codec"
	"github.com/blocklayer/zfile/crc32c"
)

// buildContainer hand-assembles a sealed ZFile over content independently
// of Builder, so reader tests don't depend on the writer being correct.
func buildContainer(t *testing.T, blockSize uint32, verify bool, overwriteHeader bool, content []byte) *backing.MemFile {
	t.Helper()

	c := codec.MustByID(1) // LZ4

	var body bytes.Buffer
	body.Write(make([]byte, RecordSize)) // header placeholder

	var lengths []uint32
	for off := 0; off < len(content); off += int(blockSize) {
		end := off + int(blockSize)
		if end > len(content) {
			end = len(content)
		}
		chunk := content[off:end]

		dst := make([]byte, c.CompressBound(len(chunk)))
		n, err := c.Compress(chunk, dst)
		if err != nil {
			t.Fatal(err)
		}
		payload := dst[:n]
		body.Write(payload)

		total := uint32(n)
		if verify {
			crc := crc32c.Salted(crcSalt, payload)
			var crcBytes [4]byte
			binary.LittleEndian.PutUint32(crcBytes[:], crc)
			body.Write(crcBytes[:])
			total += 4
		}
		lengths = append(lengths, total)
	}

	indexOffset := uint64(body.Len())
	rawIndex := make([]byte, len(lengths)*4)
	for i, l := range lengths {
		binary.LittleEndian.PutUint32(rawIndex[i*4:], l)
	}
	body.Write(rawIndex)

	trailer := HeaderTrailer{
		Flags:        FlagIsDataFile | FlagIsSealed | FlagDigestEnabled,
		IndexOffset:  indexOffset,
		IndexCount:   uint64(len(lengths)),
		OriginalSize: uint64(len(content)),
		IndexCRC:     crc32c.Checksum(rawIndex),
		Options: CompressOptions{
			CodecID:   c.ID(),
			BlockSize: blockSize,
			Verify:    verify,
		},
	}
	trailerBytes, err := trailer.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	body.Write(trailerBytes)

	mf := backing.NewMemFile()
	if _, err := mf.Write(body.Bytes()); err != nil {
		t.Fatal(err)
	}

	if overwriteHeader {
		header := trailer
		header.Flags |= FlagIsHeader | FlagHeaderOverwrite
		headerBytes, err := header.MarshalBinary()
		if err != nil {
			t.Fatal(err)
		}
		if _, err := mf.Pwrite(headerBytes, 0); err != nil {
			t.Fatal(err)
		}
	} else {
		header := HeaderTrailer{
			Flags: FlagIsHeader | FlagIsDataFile | FlagIsSealed,
			Options: CompressOptions{
				CodecID:   c.ID(),
				BlockSize: blockSize,
				Verify:    verify,
			},
		}
		headerBytes, err := header.MarshalBinary()
		if err != nil {
			t.Fatal(err)
		}
		if _, err := mf.Pwrite(headerBytes, 0); err != nil {
			t.Fatal(err)
		}
	}

	return mf
}

func randomContent(n int, seed int64) []byte {
	rng := rand.New(rand.NewSource(seed))
	buf := make([]byte, n)
	rng.Read(buf)
	return buf
}

func TestReaderRoundTripSeparateTrailer(t *testing.T) {
	content := randomContent(1000, 1)
	mf := buildContainer(t, 64, true, false, content)

	r, err := OpenRO(mf, true, nil)
	if err != nil {
		t.Fatal(err)
	}
	if r.OriginalSize() != int64(len(content)) {
		t.Fatalf("OriginalSize = %d, want %d", r.OriginalSize(), len(content))
	}

	got := make([]byte, len(content))
	n, err := r.ReadAt(got, 0)
	if err != nil && err != io.EOF {
		t.Fatal(err)
	}
	if n != len(content) {
		t.Fatalf("read %d bytes, want %d", n, len(content))
	}
	if !bytes.Equal(got, content) {
		t.Fatal("round trip mismatch")
	}
}

func TestReaderRoundTripHeaderOverwrite(t *testing.T) {
	content := randomContent(600, 2)
	mf := buildContainer(t, 128, true, true, content)

	r, err := OpenRO(mf, true, nil)
	if err != nil {
		t.Fatal(err)
	}

	got := make([]byte, len(content))
	if _, err := r.ReadAt(got, 0); err != nil && err != io.EOF {
		t.Fatal(err)
	}
	if !bytes.Equal(got, content) {
		t.Fatal("round trip mismatch")
	}
}

func TestReaderPartialUnalignedRead(t *testing.T) {
	content := randomContent(2000, 3)
	mf := buildContainer(t, 100, true, false, content)

	r, err := OpenRO(mf, true, nil)
	if err != nil {
		t.Fatal(err)
	}

	got := make([]byte, 333)
	n, err := r.ReadAt(got, 257)
	if err != nil && err != io.EOF {
		t.Fatal(err)
	}
	if n != 333 {
		t.Fatalf("read %d bytes, want 333", n)
	}
	if !bytes.Equal(got, content[257:257+333]) {
		t.Fatal("partial unaligned read mismatch")
	}
}

func TestReaderReadPastEOFTruncates(t *testing.T) {
	content := randomContent(500, 4)
	mf := buildContainer(t, 100, false, false, content)

	r, err := OpenRO(mf, true, nil)
	if err != nil {
		t.Fatal(err)
	}

	got := make([]byte, 200)
	n, err := r.ReadAt(got, 400)
	if err != io.EOF {
		t.Fatalf("err = %v, want io.EOF", err)
	}
	if n != 100 {
		t.Fatalf("n = %d, want 100", n)
	}
	if !bytes.Equal(got[:100], content[400:500]) {
		t.Fatal("tail read mismatch")
	}
}

func TestReaderOffsetAtOrPastSizeIsEOF(t *testing.T) {
	content := randomContent(128, 5)
	mf := buildContainer(t, 64, false, false, content)

	r, err := OpenRO(mf, true, nil)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := r.ReadAt(make([]byte, 10), int64(len(content))); err != io.EOF {
		t.Fatalf("err = %v, want io.EOF", err)
	}
}

func TestReaderChecksumRetryPunchesHoleThenFails(t *testing.T) {
	content := randomContent(300, 6)
	mf := buildContainer(t, 64, true, false, content)

	r, err := OpenRO(mf, true, nil)
	if err != nil {
		t.Fatal(err)
	}

	// Corrupt the first compressed block's bytes directly (simulating an
	// evicted/corrupted cache page) without updating its CRC.
	if _, err := mf.Pwrite([]byte{0xff, 0xff, 0xff, 0xff}, RecordSize); err != nil {
		t.Fatal(err)
	}

	_, err = r.ReadAt(make([]byte, 64), 0)
	if err == nil {
		t.Fatal("expected a checksum failure since corruption is never repaired by fallocate in MemFile")
	}

	holes := mf.Holes()
	if len(holes) == 0 {
		t.Fatal("expected at least one fallocate hole to be recorded during the retry")
	}
}

func TestReaderRejectsBadMagic(t *testing.T) {
	mf := backing.NewMemFile()
	if _, err := mf.Write(make([]byte, RecordSize*2)); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenRO(mf, false, nil); err == nil {
		t.Fatal("expected an error opening a file with no valid header")
	}
}

func TestReaderCloseInvokesCloser(t *testing.T) {
	content := randomContent(64, 7)
	mf := buildContainer(t, 64, false, false, content)

	r, err := OpenRO(mf, true, &fakeCloser{})
	if err != nil {
		t.Fatal(err)
	}
	fc := r.closer.(*fakeCloser)
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if !fc.closed {
		t.Fatal("expected Close to invoke the owned closer")
	}
}

type fakeCloser struct{ closed bool }

func (f *fakeCloser) Close() error { f.closed = true; return nil }
