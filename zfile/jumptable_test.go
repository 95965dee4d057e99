package zfile

import (
	"math/rand"
	"testing"
)

func TestJumpTableIdentity(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	lengths := make([]uint32, 5000)
	for i := range lengths {
		lengths[i] = uint32(5 + rng.Intn(50))
	}

	jt, err := BuildJumpTable(lengths, 512, 4096, 0)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < len(lengths); i++ {
		if jt.Offset(i)+jt.Length(i) != jt.Offset(i+1) {
			t.Fatalf("block %d: offset(i)+length(i) != offset(i+1)", i)
		}
		if jt.Length(i) != uint64(lengths[i]) {
			t.Fatalf("block %d: length = %d, want %d", i, jt.Length(i), lengths[i])
		}
	}
}

func TestJumpTableFirstBlockOffset(t *testing.T) {
	lengths := []uint32{10, 20, 30}
	jt, err := BuildJumpTable(lengths, 600, 4096, 0)
	if err != nil {
		t.Fatal(err)
	}
	if jt.Offset(0) != 600 {
		t.Errorf("Offset(0) = %d, want 600", jt.Offset(0))
	}
	if jt.Offset(3) != 660 {
		t.Errorf("Offset(3) = %d, want 660", jt.Offset(3))
	}
}

func TestJumpTableSpan(t *testing.T) {
	lengths := []uint32{10, 20, 30, 40}
	jt, err := BuildJumpTable(lengths, 0, 4096, 0)
	if err != nil {
		t.Fatal(err)
	}
	if got := jt.Span(1, 3); got != 50 {
		t.Errorf("Span(1,3) = %d, want 50", got)
	}
}

func TestJumpTableRejectsLengthBelowOverhead(t *testing.T) {
	lengths := []uint32{4, 10}
	_, err := BuildJumpTable(lengths, 0, 4096, 4)
	if err == nil {
		t.Fatal("expected an error for a length not exceeding overhead")
	}
}

func TestJumpTableRejectsGroupDeltaOverflow(t *testing.T) {
	// block_size=1 gives group_size=65536, so ~2 blocks of ~40000 bytes
	// each overflow the uint16 delta within a single group.
	lengths := []uint32{40000, 40000}
	_, err := BuildJumpTable(lengths, 0, 1, 0)
	if err == nil {
		t.Fatal("expected a group-delta overflow error")
	}
}

func TestJumpTableGroupBoundary(t *testing.T) {
	// block_size=4096 -> group width = 16
	lengths := make([]uint32, 40)
	for i := range lengths {
		lengths[i] = 100
	}
	jt, err := BuildJumpTable(lengths, 1000, 4096, 0)
	if err != nil {
		t.Fatal(err)
	}
	if jt.Offset(16) != 1000+16*100 {
		t.Errorf("Offset(16) = %d, want %d", jt.Offset(16), 1000+16*100)
	}
	if jt.Offset(32) != 1000+32*100 {
		t.Errorf("Offset(32) = %d, want %d", jt.Offset(32), 1000+32*100)
	}
}
