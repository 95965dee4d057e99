package zfile

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/fatih/color"
	"golang.org/x/sync/semaphore"

	"github.com/blocklayer/zfile/backing"
	"github.com/blocklayer/zfile/crc32c"
)

// defaultWorkers is used when BuildOptions.Workers is not positive.
const defaultWorkers = 4

// mbSlot is one ring position: its own input/output buffers and the three
// hand-off tokens each slot uses (writable, compress, write).
type mbSlot struct {
	input    []byte
	inputLen int
	output   []byte

	writable *semaphore.Weighted
	compress *semaphore.Weighted
	write    *semaphore.Weighted
}

// newToken returns a weight-1 semaphore, pre-acquired (locked) when held is
// true — used to model a single hand-off token rather than a counting lock.
func newToken(held bool) *semaphore.Weighted {
	s := semaphore.NewWeighted(1)
	if held {
		_ = s.Acquire(context.Background(), 1)
	}
	return s
}

// MultiBuilder is the pipelined variant of Builder: a ring of worker slots
// overlapping compression with writeback while preserving strict block
// order.
type MultiBuilder struct {
	file backing.SequentialWriter
	opts BuildOptions

	slots []*mbSlot
	next  int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	moffset uint64
	lengths []uint32

	errMu    sync.Mutex
	firstErr error

	reservoir    []byte
	reservoirLen int
	totalWritten uint64

	closed bool
}

// NewMultiBuilder writes the placeholder header and starts opts.Workers
// (defaultWorkers if unset) persistent compressor goroutines.
func NewMultiBuilder(f backing.SequentialWriter, opts BuildOptions) (*MultiBuilder, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if opts.Workers < 1 {
		opts.Workers = defaultWorkers
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
		return nil, err
	}
	if _, err := f.Write(hb); err != nil {
		return nil, newErr(ErrKindIO, "new-multi-builder", ErrIO, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	mb := &MultiBuilder{
		file:      f,
		opts:      opts,
		ctx:       ctx,
		cancel:    cancel,
		moffset:   RecordSize,
		reservoir: make([]byte, opts.BlockSize),
	}

	mb.slots = make([]*mbSlot, opts.Workers)
	outBound := opts.Codec.CompressBound(int(opts.BlockSize)) + 4
	for i := range mb.slots {
		mb.slots[i] = &mbSlot{
			input:    make([]byte, opts.BlockSize),
			output:   make([]byte, outBound),
			writable: newToken(false),
			compress: newToken(true),
			write:    newToken(i != 0), // slot 0 starts holding the write token
		}
	}

	for i := range mb.slots {
		mb.wg.Add(1)
		go mb.runWorker(i)
	}

	return mb, nil
}

func (mb *MultiBuilder) runWorker(i int) {
	defer mb.wg.Done()

	slot := mb.slots[i]
	next := (i + 1) % len(mb.slots)

	for {
		if err := slot.compress.Acquire(mb.ctx, 1); err != nil {
			return
		}

		n, cerr := mb.opts.Codec.Compress(slot.input[:slot.inputLen], slot.output)
		var payload []byte
		if cerr != nil {
			mb.setErr(fmt.Errorf("worker %d: compress: %w", i, cerr))
		} else {
			payload = slot.output[:n]
			if mb.opts.Verify {
				crc := crc32c.Salted(crcSalt, payload)
				binary.LittleEndian.PutUint32(slot.output[n:n+4], crc)
				payload = slot.output[:n+4]
			}
		}

		if err := slot.write.Acquire(mb.ctx, 1); err != nil {
			return
		}

		if cerr == nil {
			mb.mu.Lock()
			if _, werr := mb.file.Write(payload); werr != nil {
				mb.mu.Unlock()
				mb.setErr(fmt.Errorf("worker %d: write: %w", i, werr))
			} else {
				mb.lengths = append(mb.lengths, uint32(len(payload)))
				mb.moffset += uint64(len(payload))
				mb.mu.Unlock()
			}
		}

		slot.writable.Release(1)
		mb.slots[next].write.Release(1)
	}
}

func (mb *MultiBuilder) setErr(err error) {
	mb.errMu.Lock()
	defer mb.errMu.Unlock()
	if mb.firstErr == nil {
		mb.firstErr = err
	}
}

func (mb *MultiBuilder) err() error {
	mb.errMu.Lock()
	defer mb.errMu.Unlock()
	return mb.firstErr
}

// dispatch hands one full (or final partial) block to the next slot in the
// ring, round-robin, blocking until that slot's input buffer is free.
func (mb *MultiBuilder) dispatch(block []byte) error {
	k := mb.next
	slot := mb.slots[k]

	if err := slot.writable.Acquire(mb.ctx, 1); err != nil {
		return err
	}
	copy(slot.input[:len(block)], block)
	slot.inputLen = len(block)
	slot.compress.Release(1)

	mb.next = (k + 1) % len(mb.slots)
	return nil
}

// Write implements io.Writer, splitting the logical stream into
// block_size-sized chunks dispatched to the worker ring.
func (mb *MultiBuilder) Write(p []byte) (int, error) {
	total := len(p)
	mb.totalWritten += uint64(total)

	blockSize := int(mb.opts.BlockSize)

	if mb.reservoirLen > 0 {
		space := blockSize - mb.reservoirLen
		if len(p) < space {
			copy(mb.reservoir[mb.reservoirLen:], p)
			mb.reservoirLen += len(p)
			return total, nil
		}
		copy(mb.reservoir[mb.reservoirLen:], p[:space])
		p = p[space:]
		if err := mb.dispatch(mb.reservoir[:blockSize]); err != nil {
			return 0, err
		}
		mb.reservoirLen = 0
	}

	for len(p) >= blockSize {
		if err := mb.dispatch(p[:blockSize]); err != nil {
			return 0, err
		}
		p = p[blockSize:]
	}

	if len(p) > 0 {
		copy(mb.reservoir, p)
		mb.reservoirLen = len(p)
	}

	return total, nil
}

// Close flushes the reservoir, drains the worker ring, and — absent any
// latched worker error — finalizes the container exactly as Builder does.
func (mb *MultiBuilder) Close() error {
	if mb.closed {
		return nil
	}
	mb.closed = true

	if mb.reservoirLen > 0 {
		if err := mb.dispatch(mb.reservoir[:mb.reservoirLen]); err != nil {
			mb.cancel()
			mb.wg.Wait()
			return err
		}
		mb.reservoirLen = 0
	}

	// Wait for every slot to finish its last job: acquiring then releasing
	// each slot's writable token blocks until that slot's worker has
	// released it, which only happens after the write step completes.
	for _, slot := range mb.slots {
		if err := slot.writable.Acquire(mb.ctx, 1); err == nil {
			slot.writable.Release(1)
		}
	}

	mb.cancel()
	mb.wg.Wait()

	if err := mb.err(); err != nil {
		return err
	}

	indexOffset := mb.moffset
	raw := make([]byte, len(mb.lengths)*4)
	for i, l := range mb.lengths {
		binary.LittleEndian.PutUint32(raw[i*4:], l)
	}
	if len(raw) > 0 {
		if _, err := mb.file.Write(raw); err != nil {
			return newErr(ErrKindIO, "multi-builder-close", ErrIO, err)
		}
	}
	mb.moffset += uint64(len(raw))

	trailer := HeaderTrailer{
		Flags:        FlagIsDataFile | FlagIsSealed | FlagDigestEnabled,
		IndexOffset:  indexOffset,
		IndexCount:   uint64(len(mb.lengths)),
		OriginalSize: mb.totalWritten,
		IndexCRC:     crc32c.Checksum(raw),
		Options: CompressOptions{
			CodecID:   mb.opts.Codec.ID(),
			BlockSize: mb.opts.BlockSize,
			Verify:    mb.opts.Verify,
		},
	}

	tb, err := trailer.MarshalBinary()
	if err != nil {
		return err
	}
	if _, err := mb.file.Write(tb); err != nil {
		return newErr(ErrKindIO, "multi-builder-close", ErrIO, err)
	}
	mb.moffset += RecordSize

	if mb.opts.OverwriteHeader {
		header := trailer
		header.Flags |= FlagIsHeader | FlagHeaderOverwrite
		hb, err := header.MarshalBinary()
		if err != nil {
			return err
		}
		if _, err := mb.file.Pwrite(hb, 0); err != nil {
			return newErr(ErrKindIO, "multi-builder-close", ErrIO, err)
		}
	}

	compressedSize := indexOffset - RecordSize
	var ratio float64
	if mb.totalWritten > 0 {
		ratio = float64(compressedSize) / float64(mb.totalWritten)
	}
	color.Green(" sealed container [workers=%d][blocks=%d] %d -> %d [%.2f%%]",
		len(mb.slots), len(mb.lengths), mb.totalWritten, compressedSize, ratio*100.0)

	return mb.file.Close()
}
