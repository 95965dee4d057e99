package backing

import (
	"errors"
	"sync"
)

// MemFile is an in-memory File, used by the test suites that exercise
// builders and readers without touching disk. Fallocate punch-holes are
// tracked rather than applied, so checksum-retry tests can assert a hole
// was requested without losing the bytes they need to re-serve.
type MemFile struct {
	mu   sync.Mutex
	data []byte

	holes [][2]int64
}

func NewMemFile() *MemFile {
	return &MemFile{}
}

func (f *MemFile) Pread(buf []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if off < 0 || off+int64(len(buf)) > int64(len(f.data)) {
		return 0, errors.New("backing: read out of range")
	}
	n := copy(buf, f.data[off:off+int64(len(buf))])
	return n, nil
}

func (f *MemFile) Fstat() (Stat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Stat{Size: int64(len(f.data))}, nil
}

func (f *MemFile) Fallocate(off, length int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.holes = append(f.holes, [2]int64{off, length})
	return nil
}

// Holes reports the ranges Fallocate was asked to punch, for tests that
// want to assert the retry-under-checksum-failure path fired.
func (f *MemFile) Holes() [][2]int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][2]int64(nil), f.holes...)
}

func (f *MemFile) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data = append(f.data, p...)
	return len(p), nil
}

func (f *MemFile) Pwrite(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	end := off + int64(len(p))
	if end > int64(len(f.data)) {
		grown := make([]byte, end)
		copy(grown, f.data)
		f.data = grown
	}
	copy(f.data[off:end], p)
	return len(p), nil
}

func (f *MemFile) Close() error { return nil }

// Bytes returns the current contents. Callers must not mutate it.
func (f *MemFile) Bytes() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.data
}
