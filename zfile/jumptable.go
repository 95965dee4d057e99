package zfile

import "fmt"

// groupWidth returns the number of blocks that share one jump-table anchor
// ("group_size = floor(65536/block_size)"). In-group deltas fit a uint16 as
// long as blocks compress to no more than block_size; blocks that grow
// (incompressible data plus CRC) can still overflow, which BuildJumpTable
// rejects.
func groupWidth(blockSize uint32) int {
	if blockSize == 0 {
		return 1
	}
	w := 65536 / int(blockSize)
	if w < 1 {
		w = 1
	}
	return w
}

// JumpTable maps block index to (absolute offset, compressed length) in
// O(1), using one anchor per group of blocks and a uint16 delta per block
// within the group — a bank-partitioned partial-sum structure.
type JumpTable struct {
	groupSize int
	anchors   []uint64
	deltas    []uint16

	blockCount int
}

// BuildJumpTable consumes the on-disk lengths array and the absolute offset
// of block 0, and produces the in-memory index. overhead is the per-block
// trailing cost (4 bytes for the CRC when verify is enabled, else 0); every
// length must exceed it or the index is corrupt.
func BuildJumpTable(lengths []uint32, offsetBegin uint64, blockSize uint32, overhead uint32) (*JumpTable, error) {
	group := groupWidth(blockSize)
	n := len(lengths)

	anchors := make([]uint64, 1, n/group+2)
	anchors[0] = offsetBegin
	deltas := make([]uint16, n+1)

	running := offsetBegin
	curDelta := uint32(0)

	for i, length := range lengths {
		if length <= overhead {
			return nil, newErr(ErrKindBadIndex, "build-jump-table", ErrBadIndex,
				fmt.Errorf("block %d length %d does not exceed per-block overhead %d", i, length, overhead))
		}

		deltas[i] = uint16(curDelta)
		running += uint64(length)

		if (i+1)%group == 0 {
			anchors = append(anchors, running)
			curDelta = 0
			continue
		}

		curDelta += length
		if curDelta >= 65536 {
			return nil, newErr(ErrKindBuilderOverflow, "build-jump-table", ErrBuilderOverflow,
				fmt.Errorf("group delta overflow at block %d (%d >= 65536)", i, curDelta))
		}
	}
	deltas[n] = uint16(curDelta)

	return &JumpTable{
		groupSize:  group,
		anchors:    anchors,
		deltas:     deltas,
		blockCount: n,
	}, nil
}

// BlockCount is the number of compressed blocks the table was built over.
func (jt *JumpTable) BlockCount() int { return jt.blockCount }

// Offset returns the absolute file offset of block i. i may equal
// BlockCount() to get the offset immediately past the last block.
func (jt *JumpTable) Offset(i int) uint64 {
	return jt.anchors[i/jt.groupSize] + uint64(jt.deltas[i])
}

// Length returns the compressed length (including any trailing CRC) of
// block i.
func (jt *JumpTable) Length(i int) uint64 {
	return jt.Offset(i+1) - jt.Offset(i)
}

// Span returns the total compressed byte span covered by blocks
// [begin, end).
func (jt *JumpTable) Span(begin, end int) uint64 {
	return jt.Offset(end) - jt.Offset(begin)
}
