package codec

import (
	"bytes"
	"math/rand"
	"testing"
)

func roundTrip(t *testing.T, c Codec, src []byte) {
	t.Helper()

	dst := make([]byte, c.CompressBound(len(src)))
	n, err := c.Compress(src, dst)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}

	out := make([]byte, len(src))
	m, err := c.Decompress(dst[:n], out)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if m != len(src) {
		t.Fatalf("decompressed length = %d, want %d", m, len(src))
	}
	if !bytes.Equal(out, src) {
		t.Fatalf("round trip mismatch")
	}
}

func TestLZ4RoundTripRepetitive(t *testing.T) {
	src := bytes.Repeat([]byte{0x00}, 1<<16)
	roundTrip(t, LZ4{}, src)
}

func TestLZ4RoundTripRandom(t *testing.T) {
	src := make([]byte, 4096)
	rand.New(rand.NewSource(1)).Read(src)
	roundTrip(t, LZ4{}, src)
}

func TestLZ4RoundTripEmpty(t *testing.T) {
	roundTrip(t, LZ4{}, []byte{})
}

func TestS2RoundTripRepetitive(t *testing.T) {
	src := bytes.Repeat([]byte("overlaid block store "), 4096)
	roundTrip(t, S2{}, src)
}

func TestS2RoundTripRandom(t *testing.T) {
	src := make([]byte, 4096)
	rand.New(rand.NewSource(2)).Read(src)
	roundTrip(t, S2{}, src)
}

func TestRegistryByID(t *testing.T) {
	if c, ok := ByID(1); !ok || c.ID() != 1 {
		t.Errorf("expected LZ4 registered under id 1")
	}
	if c, ok := ByID(2); !ok || c.ID() != 2 {
		t.Errorf("expected S2 registered under id 2")
	}
	if _, ok := ByID(99); ok {
		t.Errorf("expected no codec registered under id 99")
	}
}

func TestCompressBatch(t *testing.T) {
	srcs := [][]byte{
		bytes.Repeat([]byte{'a'}, 100),
		bytes.Repeat([]byte{'b'}, 200),
	}
	dsts := make([][]byte, len(srcs))
	for i, s := range srcs {
		dsts[i] = make([]byte, LZ4{}.CompressBound(len(s)))
	}

	sizes, err := LZ4{}.CompressBatch(srcs, dsts)
	if err != nil {
		t.Fatal(err)
	}
	if len(sizes) != len(srcs) {
		t.Fatalf("expected %d sizes, got %d", len(srcs), len(sizes))
	}

	for i, s := range srcs {
		out := make([]byte, len(s))
		n, err := LZ4{}.Decompress(dsts[i][:sizes[i]], out)
		if err != nil {
			t.Fatal(err)
		}
		if n != len(s) || !bytes.Equal(out, s) {
			t.Fatalf("batch item %d round trip failed", i)
		}
	}
}
