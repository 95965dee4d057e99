//go:build linux

package backing

import "golang.org/x/sys/unix"

// Fallocate punches a hole over [off, off+length), leaving the file size
// unchanged, so that a cache-backed filesystem underneath re-fetches that
// range from origin on the reader's retry pass.
func (f *LocalFile) Fallocate(off, length int64) error {
	if length <= 0 {
		return nil
	}
	mode := uint32(unix.FALLOC_FL_PUNCH_HOLE | unix.FALLOC_FL_KEEP_SIZE)
	return unix.Fallocate(int(f.file.Fd()), mode, off, length)
}
