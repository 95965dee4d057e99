// Package crc32c computes the Castagnoli variant of CRC-32 used throughout
// zfile for block and header integrity checks.
package crc32c

import "hash/crc32"

var table = crc32.MakeTable(crc32.Castagnoli)

// Digest is a chainable CRC32C accumulator, in the spirit of
// cockroachdb/pebble's sstable/block Checksummer: New(seed).Update(a).Update(b).Value().
type Digest struct {
	crc uint32
}

// New starts a digest seeded with v. Pass 0 for a plain CRC32C.
func New(seed uint32) *Digest {
	return &Digest{crc: seed}
}

// Checksum is a convenience wrapper around New(0).Update(p).Value().
func Checksum(p []byte) uint32 {
	return crc32.Checksum(p, table)
}

// Update folds p into the running digest and returns the digest for chaining.
func (d *Digest) Update(p []byte) *Digest {
	d.crc = crc32.Update(d.crc, table, p)
	return d
}

// Value returns the accumulated CRC32C.
func (d *Digest) Value() uint32 {
	return d.crc
}

// Salted computes CRC32C over payload using salt as the digest's initial
// register value, rather than zero. This is the seeded-CRC realization of
// the well-known-prime salt used for per-block checksums: New(salt).Update(p).
func Salted(salt uint32, payload []byte) uint32 {
	return New(salt).Update(payload).Value()
}
