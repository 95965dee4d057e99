package deflate

import "fmt"

const maxBits = 15

// huffman is a canonical Huffman decode table built from RFC 1951 code
// lengths: count[l] is how many codes have length l, and symbol holds the
// symbols ordered by (length, code) the way the canonical assignment
// produces them.
type huffman struct {
	count  [maxBits + 1]int
	symbol []int
}

// buildHuffman constructs a canonical decode table from per-symbol code
// lengths (0 meaning "symbol unused").
func buildHuffman(lengths []int) (*huffman, error) {
	h := &huffman{symbol: make([]int, len(lengths))}
	for _, l := range lengths {
		h.count[l]++
	}
	h.count[0] = 0

	var offs [maxBits + 2]int
	for l := 1; l <= maxBits; l++ {
		offs[l+1] = offs[l] + h.count[l]
	}
	for sym, l := range lengths {
		if l != 0 {
			h.symbol[offs[l]] = sym
			offs[l]++
		}
	}
	return h, nil
}

// decode reads one symbol, one bit at a time, matching the canonical
// incremental-code decode: build up the code MSB-first and compare it
// against the first code of each length until it falls within that
// length's assigned range.
func (h *huffman) decode(br *bitReader) (int, error) {
	var code, first, index int
	for length := 1; length <= maxBits; length++ {
		bit, err := br.readBit()
		if err != nil {
			return 0, err
		}
		code |= int(bit)
		count := h.count[length]
		if code-first < count {
			return h.symbol[index+(code-first)], nil
		}
		index += count
		first += count
		first <<= 1
		code <<= 1
	}
	return 0, fmt.Errorf("deflate: invalid huffman code")
}

var (
	fixedLit  *huffman
	fixedDist *huffman
)

func init() {
	lit := make([]int, 288)
	for i := 0; i < 144; i++ {
		lit[i] = 8
	}
	for i := 144; i < 256; i++ {
		lit[i] = 9
	}
	for i := 256; i < 280; i++ {
		lit[i] = 7
	}
	for i := 280; i < 288; i++ {
		lit[i] = 8
	}
	var err error
	fixedLit, err = buildHuffman(lit)
	if err != nil {
		panic(err)
	}

	dist := make([]int, 30)
	for i := range dist {
		dist[i] = 5
	}
	fixedDist, err = buildHuffman(dist)
	if err != nil {
		panic(err)
	}
}

var lengthBase = [29]int{3, 4, 5, 6, 7, 8, 9, 10, 11, 13, 15, 17, 19, 23, 27, 31, 35, 43, 51, 59, 67, 83, 99, 115, 131, 163, 195, 227, 258}
var lengthExtra = [29]int{0, 0, 0, 0, 0, 0, 0, 0, 1, 1, 1, 1, 2, 2, 2, 2, 3, 3, 3, 3, 4, 4, 4, 4, 5, 5, 5, 5, 0}
var distBase = [30]int{1, 2, 3, 4, 5, 7, 9, 13, 17, 25, 33, 49, 65, 97, 129, 193, 257, 385, 513, 769, 1025, 1537, 2049, 3073, 4097, 6145, 8193, 12289, 16385, 24577}
var distExtra = [30]int{0, 0, 0, 0, 1, 1, 2, 2, 3, 3, 4, 4, 5, 5, 6, 6, 7, 7, 8, 8, 9, 9, 10, 10, 11, 11, 12, 12, 13, 13}

var codeLengthOrder = [19]int{16, 17, 18, 0, 8, 7, 9, 6, 10, 5, 11, 4, 12, 3, 13, 2, 14, 1, 15}

// readDynamicTables parses the HLIT/HDIST/HCLEN header and the two
// code-length-coded symbol tables of a dynamic Huffman block.
func readDynamicTables(br *bitReader) (lit, dist *huffman, err error) {
	hlit, err := br.readBits(5)
	if err != nil {
		return nil, nil, err
	}
	hdist, err := br.readBits(5)
	if err != nil {
		return nil, nil, err
	}
	hclen, err := br.readBits(4)
	if err != nil {
		return nil, nil, err
	}
	nlit := int(hlit) + 257
	ndist := int(hdist) + 1
	nclen := int(hclen) + 4

	clLengths := make([]int, 19)
	for i := 0; i < nclen; i++ {
		v, err := br.readBits(3)
		if err != nil {
			return nil, nil, err
		}
		clLengths[codeLengthOrder[i]] = int(v)
	}
	clTree, err := buildHuffman(clLengths)
	if err != nil {
		return nil, nil, err
	}

	lengths := make([]int, nlit+ndist)
	for i := 0; i < len(lengths); {
		sym, err := clTree.decode(br)
		if err != nil {
			return nil, nil, err
		}
		switch {
		case sym < 16:
			lengths[i] = sym
			i++
		case sym == 16:
			if i == 0 {
				return nil, nil, fmt.Errorf("deflate: repeat code with no previous length")
			}
			n, err := br.readBits(2)
			if err != nil {
				return nil, nil, err
			}
			prev := lengths[i-1]
			for c := 0; c < int(n)+3; c++ {
				lengths[i] = prev
				i++
			}
		case sym == 17:
			n, err := br.readBits(3)
			if err != nil {
				return nil, nil, err
			}
			i += int(n) + 3
		default: // 18
			n, err := br.readBits(7)
			if err != nil {
				return nil, nil, err
			}
			i += int(n) + 11
		}
	}

	litTree, err := buildHuffman(lengths[:nlit])
	if err != nil {
		return nil, nil, err
	}
	distTree, err := buildHuffman(lengths[nlit:])
	if err != nil {
		return nil, nil, err
	}
	return litTree, distTree, nil
}
