package rgzip

import "testing"

func TestIndexMarshalRoundTrip(t *testing.T) {
	idx := &Index{
		Span:     1 << 20,
		GzipSize: 12345,
		Entries: []Entry{
			{UncompressedOffset: 0, CompressedOffset: 10, Bits: 0},
			{UncompressedOffset: 1 << 20, CompressedOffset: 500, Bits: 3},
		},
	}
	idx.Entries[1].Window[0] = 0xAB
	idx.Entries[1].Window[windowSize-1] = 0xCD

	raw, err := idx.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}

	var got Index
	if err := got.UnmarshalBinary(raw); err != nil {
		t.Fatal(err)
	}

	if got.Span != idx.Span || got.GzipSize != idx.GzipSize {
		t.Fatalf("header mismatch: %+v vs %+v", got, idx)
	}
	if len(got.Entries) != len(idx.Entries) {
		t.Fatalf("entry count = %d, want %d", len(got.Entries), len(idx.Entries))
	}
	for i := range idx.Entries {
		if got.Entries[i].UncompressedOffset != idx.Entries[i].UncompressedOffset ||
			got.Entries[i].CompressedOffset != idx.Entries[i].CompressedOffset ||
			got.Entries[i].Bits != idx.Entries[i].Bits ||
			got.Entries[i].Window != idx.Entries[i].Window {
			t.Fatalf("entry %d mismatch", i)
		}
	}
}

func TestIndexUnmarshalRejectsBadMagic(t *testing.T) {
	raw := make([]byte, headerSize)
	copy(raw, "notright")
	var idx Index
	if err := idx.UnmarshalBinary(raw); err == nil {
		t.Fatal("expected an error for bad magic")
	}
}

func TestIndexUnmarshalRejectsCorruptHeader(t *testing.T) {
	idx := &Index{Span: 1 << 20, GzipSize: 100}
	raw, err := idx.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	raw[12] ^= 0xff // corrupt a span byte, which only the checksum covers

	var got Index
	if err := got.UnmarshalBinary(raw); err == nil {
		t.Fatal("expected a checksum mismatch error")
	}
}

func TestIndexUnmarshalRejectsTruncatedEntries(t *testing.T) {
	idx := &Index{
		Span:     1 << 20,
		GzipSize: 100,
		Entries:  []Entry{{UncompressedOffset: 0, CompressedOffset: 10}},
	}
	raw, err := idx.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	raw = raw[:len(raw)-10]

	var got Index
	if err := got.UnmarshalBinary(raw); err == nil {
		t.Fatal("expected a truncation error")
	}
}
