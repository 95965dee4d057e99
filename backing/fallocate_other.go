//go:build !linux

package backing

// Fallocate is a no-op outside Linux: punch-hole only matters to a
// cache-backed store, and on a plain local file the retry simply re-reads
// the same bytes it already has.
func (f *LocalFile) Fallocate(off, length int64) error {
	return nil
}
