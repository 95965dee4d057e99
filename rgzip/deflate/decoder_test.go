package deflate

import (
	"bytes"
	"compress/gzip"
	"math/rand"
	"testing"
)

func gzipCompress(t *testing.T, content []byte, level int) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write(content); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func randomText(n int, seed int64) []byte {
	r := rand.New(rand.NewSource(seed))
	words := []string{"the", "quick", "brown", "fox", "jumps", "over", "lazy", "dog", "a", "of", "and", "to"}
	var buf bytes.Buffer
	for buf.Len() < n {
		buf.WriteString(words[r.Intn(len(words))])
		buf.WriteByte(' ')
	}
	return buf.Bytes()[:n]
}

func TestDecoderFullRoundTrip(t *testing.T) {
	content := randomText(200000, 1)
	gz := gzipCompress(t, content, gzip.BestCompression)

	var got bytes.Buffer
	d, err := NewGzipDecoder(bytes.NewReader(gz))
	if err != nil {
		t.Fatal(err)
	}
	d.OnEmit(func(b byte) bool {
		got.WriteByte(b)
		return false
	})
	if err := d.Run(); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got.Bytes(), content) {
		t.Fatalf("round trip mismatch: got %d bytes, want %d", got.Len(), len(content))
	}
	if d.TotalOut() != int64(len(content)) {
		t.Fatalf("TotalOut = %d, want %d", d.TotalOut(), len(content))
	}
}

func TestDecoderBoundariesAreMonotonic(t *testing.T) {
	content := randomText(500000, 2)
	gz := gzipCompress(t, content, gzip.BestSpeed)

	d, err := NewGzipDecoder(bytes.NewReader(gz))
	if err != nil {
		t.Fatal(err)
	}
	var lastOut int64
	var lastByte int64
	count := 0
	d.OnBoundary(func(bytePos int64, bits int, totalOut int64, final bool) {
		count++
		if totalOut < lastOut {
			t.Fatalf("totalOut went backwards: %d then %d", lastOut, totalOut)
		}
		if bytePos < lastByte {
			t.Fatalf("bytePos went backwards: %d then %d", lastByte, bytePos)
		}
		if bits < 0 || bits > 7 {
			t.Fatalf("bits out of range: %d", bits)
		}
		lastOut = totalOut
		lastByte = bytePos
	})
	if err := d.Run(); err != nil {
		t.Fatal(err)
	}
	if count == 0 {
		t.Fatal("expected at least one block boundary")
	}
	if lastOut != int64(len(content)) {
		t.Fatalf("final totalOut = %d, want %d", lastOut, len(content))
	}
}

func TestDecoderEmitStopsEarly(t *testing.T) {
	content := randomText(300000, 3)
	gz := gzipCompress(t, content, gzip.BestCompression)

	d, err := NewGzipDecoder(bytes.NewReader(gz))
	if err != nil {
		t.Fatal(err)
	}
	var got bytes.Buffer
	const want = 1000
	d.OnEmit(func(b byte) bool {
		got.WriteByte(b)
		return got.Len() >= want
	})
	if err := d.Run(); err != nil {
		t.Fatal(err)
	}
	if got.Len() != want {
		t.Fatalf("got %d bytes, want %d", got.Len(), want)
	}
	if !bytes.Equal(got.Bytes(), content[:want]) {
		t.Fatal("early-stop content mismatch")
	}
}

// TestDecoderMidStreamResume exercises the Prime/SetDictionary path the GZ
// random-access reader depends on: decode once to find a block boundary,
// then start a fresh raw decoder from that exact point and confirm it
// reproduces the remainder of the stream.
func TestDecoderMidStreamResume(t *testing.T) {
	content := randomText(400000, 4)
	gz := gzipCompress(t, content, gzip.BestSpeed)

	d, err := NewGzipDecoder(bytes.NewReader(gz))
	if err != nil {
		t.Fatal(err)
	}
	var boundaryBytePos int64
	var boundaryBits int
	var boundaryOut int64
	var dict [WindowSize]byte
	found := false
	d.OnBoundary(func(bytePos int64, bits int, totalOut int64, final bool) {
		if !found && totalOut > 50000 && totalOut < int64(len(content))-50000 {
			boundaryBytePos = bytePos
			boundaryBits = bits
			boundaryOut = totalOut
			dict = d.Window()
			found = true
		}
	})
	if err := d.Run(); err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("never found a usable mid-stream boundary")
	}

	// Resume a fresh raw decoder at the recorded boundary: the byte at
	// boundaryBytePos-1 carries the unconsumed high bits when boundaryBits
	// is nonzero, everything from boundaryBytePos on is unread.
	rest := gz[boundaryBytePos:]
	d2 := NewRawDecoder(bytes.NewReader(rest))
	if boundaryBits > 0 {
		d2.Prime(gz[boundaryBytePos-1], boundaryBits)
	}
	d2.SetDictionary(dict[:])

	var got bytes.Buffer
	remaining := int64(len(content)) - boundaryOut
	d2.OnEmit(func(b byte) bool {
		got.WriteByte(b)
		return int64(got.Len()) >= remaining
	})
	if err := d2.Run(); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got.Bytes(), content[boundaryOut:]) {
		t.Fatal("mid-stream resume mismatch")
	}
}

func TestDecoderRejectsNonGzip(t *testing.T) {
	_, err := NewGzipDecoder(bytes.NewReader([]byte("not a gzip stream at all")))
	if err == nil {
		t.Fatal("expected an error for a non-gzip source")
	}
}

func TestDecoderStoredBlocks(t *testing.T) {
	// gzip.NoCompression forces stored (uncompressed) deflate blocks.
	content := randomText(70000, 5)
	gz := gzipCompress(t, content, gzip.NoCompression)

	var got bytes.Buffer
	d, err := NewGzipDecoder(bytes.NewReader(gz))
	if err != nil {
		t.Fatal(err)
	}
	d.OnEmit(func(b byte) bool {
		got.WriteByte(b)
		return false
	})
	if err := d.Run(); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got.Bytes(), content) {
		t.Fatal("stored-block round trip mismatch")
	}
}
