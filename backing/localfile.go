package backing

import (
	"errors"
	"os"
)

// LocalFile adapts *os.File to the File contract, the way
// io.FileReader wraps open/read-at/write-at/close around *os.File.
type LocalFile struct {
	path string
	file *os.File

	writeOffset int64
}

// OpenLocalFile opens path for random-access reads.
func OpenLocalFile(path string) (*LocalFile, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &LocalFile{path: path, file: f}, nil
}

// CreateLocalFile creates (or truncates) path for sequential writes.
func CreateLocalFile(path string) (*LocalFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	return &LocalFile{path: path, file: f}, nil
}

func (f *LocalFile) Pread(buf []byte, off int64) (int, error) {
	n, err := f.file.ReadAt(buf, off)
	if n != len(buf) && err == nil {
		err = errors.New("backing: short read")
	}
	return n, err
}

func (f *LocalFile) Fstat() (Stat, error) {
	info, err := f.file.Stat()
	if err != nil {
		return Stat{}, err
	}
	return Stat{Size: info.Size()}, nil
}

func (f *LocalFile) Write(p []byte) (int, error) {
	n, err := f.file.WriteAt(p, f.writeOffset)
	f.writeOffset += int64(n)
	return n, err
}

func (f *LocalFile) Pwrite(p []byte, off int64) (int, error) {
	return f.file.WriteAt(p, off)
}

func (f *LocalFile) Close() error {
	return f.file.Close()
}
