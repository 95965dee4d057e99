package crc32c

import "testing"

func TestChecksumMatchesDigest(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")

	want := Checksum(data)
	got := New(0).Update(data).Value()

	if want != got {
		t.Errorf("Checksum() = %x, New(0).Update().Value() = %x", want, got)
	}
}

func TestUpdateChains(t *testing.T) {
	data := []byte("abcdefgh")

	whole := New(0).Update(data).Value()
	split := New(0).Update(data[:3]).Update(data[3:]).Value()

	if whole != split {
		t.Errorf("chained update mismatch: %x != %x", whole, split)
	}
}

func TestSaltedChangesResult(t *testing.T) {
	data := []byte("block payload")

	plain := Salted(0, data)
	salted := Salted(100007, data)

	if plain == salted {
		t.Errorf("salted checksum should differ from unsalted for a nonzero salt")
	}
}

func TestSaltedDeterministic(t *testing.T) {
	data := []byte("block payload")

	a := Salted(100007, data)
	b := Salted(100007, data)

	if a != b {
		t.Errorf("Salted() not deterministic: %x != %x", a, b)
	}
}
